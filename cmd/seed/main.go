// seed loads a small set of demo customers and materials through the core
// services so the ledger starts with OPENING adjustments. Existing rows with
// the same name are skipped, so it is safe to run more than once.
//
// Usage: go run ./cmd/seed
package main

import (
	"context"

	"smartmarket/internal/config"
	"smartmarket/internal/core"
	"smartmarket/internal/db"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var materials = []core.MaterialInput{
	{Name: "Vinyl Banner 440gsm", Unit: "sqm", Category: "large-format", ReorderLevel: decimal.NewFromInt(20), OpeningStock: decimal.NewFromInt(100)},
	{Name: "Art Paper A3 170gsm", Unit: "sheet", Category: "paper", ReorderLevel: decimal.NewFromInt(200), OpeningStock: decimal.NewFromInt(1000)},
	{Name: "Eco-Solvent Ink Cyan", Unit: "litre", Category: "ink", ReorderLevel: decimal.NewFromInt(2), OpeningStock: decimal.NewFromInt(10)},
	{Name: "Sticker Vinyl Gloss", Unit: "sqm", Category: "large-format", ReorderLevel: decimal.NewFromInt(15), OpeningStock: decimal.NewFromInt(50)},
	{Name: "T-Shirt White L", Unit: "piece", Category: "apparel", ReorderLevel: decimal.NewFromInt(10), OpeningStock: decimal.NewFromInt(40)},
}

var customers = []core.CustomerInput{
	{Name: "Amina Juma", Email: "amina@example.com", Phone: "0712345678", Company: "Juma Events"},
	{Name: "Baraka Mushi", Email: "baraka@example.com", Phone: "+255754000111"},
}

func main() {
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

	ledger := core.NewStockLedger(pool)
	existing, err := ledger.ListMaterials(ctx)
	if err != nil {
		logger.Fatalf("list materials: %v", err)
	}
	have := make(map[string]bool, len(existing))
	for _, m := range existing {
		have[m.Name] = true
	}
	for _, in := range materials {
		if have[in.Name] {
			continue
		}
		in.UserID = "seed"
		m, err := ledger.CreateMaterial(ctx, in)
		if err != nil {
			logger.Fatalf("create material %q: %v", in.Name, err)
		}
		logger.WithFields(logrus.Fields{"id": m.ID, "name": m.Name, "stock": m.CurrentStock.String()}).Info("material created")
	}

	custSvc := core.NewCustomerService(pool, cfg.Business.DefaultPhoneRegion)
	known, err := custSvc.ListCustomers(ctx)
	if err != nil {
		logger.Fatalf("list customers: %v", err)
	}
	have = make(map[string]bool, len(known))
	for _, c := range known {
		have[c.Name] = true
	}
	for _, in := range customers {
		if have[in.Name] {
			continue
		}
		c, err := custSvc.CreateCustomer(ctx, in)
		if err != nil {
			logger.Fatalf("create customer %q: %v", in.Name, err)
		}
		logger.WithFields(logrus.Fields{"id": c.ID, "name": c.Name, "phone": c.Phone}).Info("customer created")
	}
	logger.Info("seed complete")
}
