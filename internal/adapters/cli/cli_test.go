package cli

import (
	"bytes"
	"context"
	"testing"

	"smartmarket/internal/app"
	"smartmarket/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	app.ApplicationService
	gotPay    app.RecordPaymentRequest
	gotStatus app.UpdateOrderStatusRequest
}

func (s *stubService) ListLowStock(context.Context) (*app.MaterialListResult, error) {
	return &app.MaterialListResult{Materials: []core.Material{
		{ID: 1, Name: "Vinyl", Unit: "sqm", CurrentStock: decimal.NewFromInt(5), ReorderLevel: decimal.NewFromInt(20)},
	}}, nil
}

func (s *stubService) RecordPayment(_ context.Context, req app.RecordPaymentRequest) (*core.PaymentResult, error) {
	s.gotPay = req
	return &core.PaymentResult{
		Payment: &core.Payment{ID: 3, Method: core.PaymentMethod(req.Method), Amount: req.Amount, Status: core.PaymentCompleted},
		Invoice: &core.Invoice{ID: req.InvoiceID, Amount: decimal.NewFromInt(1000), Paid: req.Amount, Status: core.InvoicePartial},
	}, nil
}

func (s *stubService) UpdateOrderStatus(_ context.Context, req app.UpdateOrderStatusRequest) (*app.OrderResult, error) {
	s.gotStatus = req
	return &app.OrderResult{
		Order:   &core.Order{ID: req.OrderID, Status: core.OrderStatus(req.Status)},
		Invoice: &core.Invoice{ID: 8, Amount: decimal.NewFromInt(1000), Status: core.InvoiceUnpaid},
	}, nil
}

func TestRun_LowStock(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), &stubService{}, []string{"low"}, "clerk", &out))
	assert.Contains(t, out.String(), "LOW STOCK")
	assert.Contains(t, out.String(), "Vinyl")
	assert.Contains(t, out.String(), " !")
}

func TestRun_Pay(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), svc, []string{"pay", "4", "400", "cash", "RCPT-1"}, "clerk", &out))
	assert.Equal(t, 4, svc.gotPay.InvoiceID)
	assert.True(t, decimal.NewFromInt(400).Equal(svc.gotPay.Amount))
	assert.Equal(t, "RCPT-1", svc.gotPay.Reference)
	assert.Equal(t, "clerk", svc.gotPay.UserID)
	assert.Contains(t, out.String(), "paid 400.00 of 1000.00 (partial)")
}

func TestRun_StatusPrintsInvoice(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), svc, []string{"status", "7", "ready"}, "manager", &out))
	assert.Equal(t, "manager", svc.gotStatus.UserID)
	assert.Contains(t, out.String(), "Order #7 is now ready")
	assert.Contains(t, out.String(), "Invoice #8")
}

func TestRun_Usage(t *testing.T) {
	tests := [][]string{
		nil,
		{"frobnicate"},
		{"quote"},
		{"quote", "abc"},
		{"pay", "1", "ten", "cash"},
		{"approve", "3", "next-week"},
	}
	for _, args := range tests {
		err := Run(context.Background(), &stubService{}, args, "", &bytes.Buffer{})
		assert.ErrorIs(t, err, ErrUsage, "args %v", args)
	}
}
