// app runs one shop-floor command and exits. Notifications it queues are
// delivered by the server's outbox dispatcher.
//
// Usage: go run ./cmd/app [-user name] <command> [args...]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"smartmarket/internal/adapters/cli"
	"smartmarket/internal/app"
	"smartmarket/internal/config"
	"smartmarket/internal/core"
	"smartmarket/internal/db"
	"smartmarket/internal/gateway"
	"smartmarket/internal/lock"

	"github.com/sirupsen/logrus"
)

func main() {
	user := flag.String("user", os.Getenv("USER"), "acting user recorded on writes")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.LockTimeout)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()

	var locker core.Locker = lock.Noop{}
	if cfg.Redis.Address != "" {
		rdb, err := lock.Connect(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable")
		} else {
			defer rdb.Close()
			locker = lock.NewRedis(rdb, "smartmarket:", logger)
		}
	}

	notifyOpts := core.NotifyOptions{AdminEmail: cfg.Business.AdminEmail, OpsWebhook: cfg.Webhooks.Enabled()}
	ledger := core.NewStockLedger(pool)
	billing := core.NewBillingService(pool,
		gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout),
		nil, locker, logger,
		core.BillingOptions{
			Currency:       cfg.Business.Currency,
			PhoneRegion:    cfg.Business.DefaultPhoneRegion,
			GatewayName:    cfg.Gateway.Name,
			GatewayTimeout: cfg.Gateway.Timeout,
			Notify:         notifyOpts,
		})
	svc := app.NewAppService(
		core.NewCustomerService(pool, cfg.Business.DefaultPhoneRegion),
		ledger,
		core.NewQuoteService(pool, ledger, notifyOpts),
		core.NewOrderService(pool, ledger, notifyOpts),
		billing,
		nil,
		logger,
	)

	if err := cli.Run(ctx, svc, flag.Args(), *user, os.Stdout); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		logger.WithField("kind", string(core.KindOf(err))).Error(err)
		os.Exit(1)
	}
}
