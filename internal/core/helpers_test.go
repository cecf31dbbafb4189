package core_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"smartmarket/internal/core"
	"smartmarket/internal/testdb"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type services struct {
	pool      *pgxpool.Pool
	customers core.CustomerService
	ledger    core.StockLedger
	quotes    core.QuoteService
	orders    core.OrderService
}

var notifyOpts = core.NotifyOptions{AdminEmail: "admin@topdesign.example"}

func setupServices(t *testing.T) (*services, context.Context) {
	t.Helper()
	pool, ctx := testdb.Open(t)
	ledger := core.NewStockLedger(pool)
	return &services{
		pool:      pool,
		customers: core.NewCustomerService(pool, "TZ"),
		ledger:    ledger,
		quotes:    core.NewQuoteService(pool, ledger, notifyOpts),
		orders:    core.NewOrderService(pool, ledger, notifyOpts),
	}, ctx
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustCustomer(t *testing.T, ctx context.Context, s *services) *core.Customer {
	t.Helper()
	c, err := s.customers.CreateCustomer(ctx, core.CustomerInput{
		Name:  "Amina Juma",
		Email: "amina@example.com",
		Phone: "0712345678",
	})
	if err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	return c
}

func mustMaterial(t *testing.T, ctx context.Context, s *services, name, opening string) *core.Material {
	t.Helper()
	m, err := s.ledger.CreateMaterial(ctx, core.MaterialInput{
		Name:         name,
		Unit:         "sqm",
		ReorderLevel: dec("20"),
		OpeningStock: dec(opening),
		UserID:       "setup",
	})
	if err != nil {
		t.Fatalf("CreateMaterial %s failed: %v", name, err)
	}
	return m
}

func stockOf(t *testing.T, ctx context.Context, s *services, id int) decimal.Decimal {
	t.Helper()
	m, err := s.ledger.GetMaterial(ctx, id)
	if err != nil {
		t.Fatalf("GetMaterial failed: %v", err)
	}
	return m.CurrentStock
}

func countRows(t *testing.T, ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}

// approvedOrder creates a customer, a draft quote with a single service line
// of the given total, and approves it.
func approvedOrder(t *testing.T, ctx context.Context, s *services, total string) *core.Approval {
	t.Helper()
	c := mustCustomer(t, ctx, s)
	q, err := s.quotes.CreateQuote(ctx, core.QuoteInput{
		CustomerID: c.ID,
		CreatedBy:  "clerk",
		Items: []core.QuoteItemInput{
			{Description: "Event branding package", UnitPrice: dec(total), Quantity: dec("1")},
		},
	})
	if err != nil {
		t.Fatalf("CreateQuote failed: %v", err)
	}
	a, err := s.quotes.ApproveQuote(ctx, q.ID, "manager", nil)
	if err != nil {
		t.Fatalf("ApproveQuote failed: %v", err)
	}
	return a
}

// fakeGateway lets each test script the gateway's answers.
type fakeGateway struct {
	charge func(ctx context.Context, req core.ChargeRequest) (*core.ChargeResult, error)
	status func(ctx context.Context, ref string) (*core.StatusResult, error)

	mu   sync.Mutex
	refs []string
}

func (g *fakeGateway) Charge(ctx context.Context, req core.ChargeRequest) (*core.ChargeResult, error) {
	g.mu.Lock()
	g.refs = append(g.refs, req.Reference)
	g.mu.Unlock()
	return g.charge(ctx, req)
}

func (g *fakeGateway) CheckStatus(ctx context.Context, ref string) (*core.StatusResult, error) {
	g.mu.Lock()
	g.refs = append(g.refs, ref)
	g.mu.Unlock()
	return g.status(ctx, ref)
}

func chargeOK(txID string) func(context.Context, core.ChargeRequest) (*core.ChargeResult, error) {
	return func(context.Context, core.ChargeRequest) (*core.ChargeResult, error) {
		raw, _ := json.Marshal(map[string]any{"success": true, "transaction_id": txID})
		return &core.ChargeResult{Success: true, TransactionID: txID, Raw: raw}, nil
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []core.PaymentEvent
}

func (r *recordingSink) Publish(_ context.Context, ev core.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) types() []core.PaymentEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.PaymentEventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
