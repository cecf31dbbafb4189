package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "smartmarket/internal/adapters/web"
	"smartmarket/internal/app"
	"smartmarket/internal/config"
	"smartmarket/internal/core"
	"smartmarket/internal/db"
	"smartmarket/internal/gateway"
	"smartmarket/internal/lock"
	"smartmarket/internal/notify"
	"smartmarket/internal/outbox"
	"smartmarket/internal/realtime"
	"smartmarket/internal/storage"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.LockTimeout)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()

	// ── Collaborators ─────────────────────────────────────────────────────────

	hub := realtime.NewHub(logger, cfg.Server.Origins())
	go hub.Run(ctx)
	events := realtime.Fanout{hub}
	if cfg.PubSub.ProjectID != "" {
		ps, err := realtime.NewPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.CredentialsJSON, cfg.PubSub.Topic)
		if err != nil {
			logger.WithError(err).Warn("pubsub disabled")
		} else {
			defer ps.Close()
			events = append(events, ps)
		}
	}

	var locker core.Locker = lock.Noop{}
	if cfg.Redis.Address != "" {
		rdb, err := lock.Connect(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, payment status checks use in-process locking only")
		} else {
			defer rdb.Close()
			locker = lock.NewRedis(rdb, "smartmarket:", logger)
		}
	}

	var objects app.ObjectStore
	if cfg.Storage.Bucket != "" {
		gcs, err := storage.NewGCS(storage.Options{
			Bucket:          cfg.Storage.Bucket,
			CredentialsJSON: cfg.Storage.CredentialsJSON,
			SignerEmail:     cfg.Storage.SignerEmail,
			SignerKey:       cfg.Storage.SignerKey,
			UploadExpiry:    cfg.Storage.UploadExpiry,
		})
		if err != nil {
			logger.WithError(err).Warn("artwork uploads disabled")
		} else {
			objects = gcs
		}
	}

	if cfg.Gateway.BaseURL == "" {
		logger.Warn("GATEWAY_BASE_URL not set, mobile-money payments will fail")
	}
	payments := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)

	// ── Outbox ────────────────────────────────────────────────────────────────

	router := notify.NewRouter()
	if cfg.SMTP.Enabled() {
		router.Handle(core.ChannelEmail, notify.NewEmail(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From))
	}
	if cfg.SMS.Enabled() {
		router.Handle(core.ChannelSMS, notify.NewSMS(cfg.SMS.APIURL, cfg.SMS.APIKey, cfg.SMS.SenderID))
	}
	if cfg.Webhooks.Enabled() {
		var targets []notify.WebhookTarget
		if cfg.Webhooks.SlackURL != "" {
			targets = append(targets, notify.WebhookTarget{Name: "slack", URL: cfg.Webhooks.SlackURL, Format: notify.FormatSlack})
		}
		if cfg.Webhooks.DiscordURL != "" {
			targets = append(targets, notify.WebhookTarget{Name: "discord", URL: cfg.Webhooks.DiscordURL, Format: notify.FormatDiscord})
		}
		router.Handle(core.ChannelWebhook, notify.NewWebhook(targets...))
	}

	dispatcher := outbox.NewDispatcher(pool, router, logger)
	dispatcher.PollInterval = cfg.Outbox.PollInterval
	dispatcher.BatchSize = cfg.Outbox.BatchSize
	dispatcher.MaxAttempts = cfg.Outbox.MaxAttempts
	go dispatcher.Run(ctx)

	// ── Services ──────────────────────────────────────────────────────────────

	notifyOpts := core.NotifyOptions{
		AdminEmail: cfg.Business.AdminEmail,
		OpsWebhook: cfg.Webhooks.Enabled(),
	}
	ledger := core.NewStockLedger(pool)
	customers := core.NewCustomerService(pool, cfg.Business.DefaultPhoneRegion)
	quotes := core.NewQuoteService(pool, ledger, notifyOpts)
	orders := core.NewOrderService(pool, ledger, notifyOpts)
	billing := core.NewBillingService(pool, payments, events, locker, logger, core.BillingOptions{
		Currency:       cfg.Business.Currency,
		PhoneRegion:    cfg.Business.DefaultPhoneRegion,
		GatewayName:    cfg.Gateway.Name,
		GatewayTimeout: cfg.Gateway.Timeout,
		Notify:         notifyOpts,
	})

	svc := app.NewAppService(customers, ledger, quotes, orders, billing, objects, logger)
	handler := webAdapter.NewHandler(svc, hub, logger, cfg.Server.Origins())

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("server shutdown")
		}
	}()

	logger.WithField("port", cfg.Server.Port).Info("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server: %v", err)
	}
	logger.Info("server stopped")
}
