package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"smartmarket/internal/core"

	"github.com/sirupsen/logrus/hooks/test"
)

func newBilling(s *services, gw core.PaymentGateway, sink core.EventSink, timeout time.Duration) core.BillingService {
	logger, _ := test.NewNullLogger()
	return core.NewBillingService(s.pool, gw, sink, nil, logger, core.BillingOptions{
		Currency:       "TZS",
		PhoneRegion:    "TZ",
		GatewayName:    "mobile_money",
		GatewayTimeout: timeout,
		Notify:         notifyOpts,
	})
}

func TestBilling_PartialThenFullPayment(t *testing.T) {
	s, ctx := setupServices(t)
	billing := newBilling(s, &fakeGateway{}, nil, time.Second)
	a := approvedOrder(t, ctx, s, "1000")

	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if !inv.Amount.Equal(dec("1000")) || inv.Status != core.InvoiceUnpaid {
		t.Fatalf("expected unpaid invoice for the 1000 balance, got %+v", inv)
	}

	if _, err := billing.CreateInvoice(ctx, a.Order.ID, dec("1000")); !errors.Is(err, core.ErrDuplicateInvoice) {
		t.Errorf("expected ErrDuplicateInvoice, got %v", err)
	}

	res, err := billing.RecordPayment(ctx, core.RecordPaymentInput{
		InvoiceID: inv.ID, Method: core.MethodCash, Amount: dec("400"), Reference: "RCPT-1", UserID: "clerk",
	})
	if err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	if res.Invoice.Status != core.InvoicePartial || !res.Invoice.Paid.Equal(dec("400")) {
		t.Errorf("expected partial with 400 paid, got %+v", res.Invoice)
	}
	if res.Payment.Status != core.PaymentCompleted {
		t.Errorf("manual payments are completed on entry, got %s", res.Payment.Status)
	}

	res, err = billing.RecordPayment(ctx, core.RecordPaymentInput{
		InvoiceID: inv.ID, Method: core.MethodBankTransfer, Amount: dec("600"), UserID: "clerk",
	})
	if err != nil {
		t.Fatalf("second payment failed: %v", err)
	}
	if res.Invoice.Status != core.InvoicePaid {
		t.Errorf("expected paid, got %s", res.Invoice.Status)
	}

	payments, err := billing.ListPayments(ctx, inv.ID)
	if err != nil || len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %d (%v)", len(payments), err)
	}

	unpaid := core.InvoiceUnpaid
	list, err := billing.ListInvoices(ctx, &unpaid)
	if err != nil || len(list) != 0 {
		t.Errorf("expected no unpaid invoices, got %d (%v)", len(list), err)
	}

	_, err = billing.RecordPayment(ctx, core.RecordPaymentInput{InvoiceID: inv.ID, Method: core.MethodCash, Amount: dec("0")})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	_, err = billing.RecordPayment(ctx, core.RecordPaymentInput{InvoiceID: inv.ID, Method: "barter", Amount: dec("1")})
	if !errors.Is(err, core.ErrUnknownValue) {
		t.Errorf("expected ErrUnknownValue, got %v", err)
	}
	_, err = billing.RecordPayment(ctx, core.RecordPaymentInput{InvoiceID: 9999, Method: core.MethodCash, Amount: dec("1")})
	if !errors.Is(err, core.ErrInvoiceNotFound) {
		t.Errorf("expected ErrInvoiceNotFound, got %v", err)
	}
}

func TestBilling_RefundKeepsInvoiceStatus(t *testing.T) {
	s, ctx := setupServices(t)
	sink := &recordingSink{}
	billing := newBilling(s, &fakeGateway{}, sink, time.Second)
	a := approvedOrder(t, ctx, s, "1000")
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	paid, err := billing.RecordPayment(ctx, core.RecordPaymentInput{InvoiceID: inv.ID, Method: core.MethodCash, Amount: dec("1000")})
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	if _, err := billing.RefundPayment(ctx, paid.Payment.ID, "  "); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("expected a reason to be required, got %v", err)
	}

	res, err := billing.RefundPayment(ctx, paid.Payment.ID, "duplicate charge")
	if err != nil {
		t.Fatalf("RefundPayment failed: %v", err)
	}
	if res.Payment.Status != core.PaymentRefunded || res.Payment.RefundedAt == nil || *res.Payment.RefundReason != "duplicate charge" {
		t.Errorf("unexpected refunded payment: %+v", res.Payment)
	}
	if res.Invoice.Status != core.InvoicePaid {
		t.Errorf("refunds leave the invoice status alone, got %s", res.Invoice.Status)
	}

	if _, err := billing.RefundPayment(ctx, paid.Payment.ID, "again"); !errors.Is(err, core.ErrPaymentNotRefundable) {
		t.Errorf("expected ErrPaymentNotRefundable, got %v", err)
	}
	if got := sink.types(); len(got) != 1 || got[0] != core.EventPaymentRefunded {
		t.Errorf("expected one refund event, got %v", got)
	}
}

func TestBilling_GatewayPaymentCompletes(t *testing.T) {
	s, ctx := setupServices(t)
	sink := &recordingSink{}
	gw := &fakeGateway{charge: chargeOK("MP240301.1234.A56789")}
	billing := newBilling(s, gw, sink, time.Second)
	a := approvedOrder(t, ctx, s, "1000")
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	res, err := billing.ProcessGatewayPayment(ctx, core.GatewayPaymentInput{
		InvoiceID: inv.ID, Phone: "0712 345 678", Amount: dec("1000"), UserID: "clerk",
	})
	if err != nil {
		t.Fatalf("ProcessGatewayPayment failed: %v", err)
	}
	p := res.Payment
	if p.Status != core.PaymentCompleted || p.GatewayTransactionID == nil || *p.GatewayTransactionID != "MP240301.1234.A56789" {
		t.Errorf("unexpected payment: %+v", p)
	}
	if p.CustomerPhone == nil || *p.CustomerPhone != "+255712345678" {
		t.Errorf("expected normalized phone, got %v", p.CustomerPhone)
	}
	if p.Reference != core.PaymentReference(p.ID) || gw.refs[0] != p.Reference {
		t.Errorf("expected merchant reference %s sent to the gateway, got %q / %v", core.PaymentReference(p.ID), p.Reference, gw.refs)
	}
	var raw map[string]any
	if err := json.Unmarshal(p.GatewayResponse, &raw); err != nil || raw["transaction_id"] != "MP240301.1234.A56789" {
		t.Errorf("expected raw gateway response stored, got %s", p.GatewayResponse)
	}
	if res.Invoice.Status != core.InvoicePaid {
		t.Errorf("expected invoice paid, got %s", res.Invoice.Status)
	}

	want := []core.PaymentEventType{core.EventPaymentCreated, core.EventPaymentUpdated, core.EventPaymentCompleted}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBilling_GatewaySuccessWithoutTransactionIDFails(t *testing.T) {
	s, ctx := setupServices(t)
	gw := &fakeGateway{charge: chargeOK("undefined")}
	billing := newBilling(s, gw, nil, time.Second)
	a := approvedOrder(t, ctx, s, "1000")
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	res, err := billing.ProcessGatewayPayment(ctx, core.GatewayPaymentInput{InvoiceID: inv.ID, Phone: "+255712345678", Amount: dec("500")})
	if err != nil {
		t.Fatalf("ProcessGatewayPayment failed: %v", err)
	}
	if res.Payment.Status != core.PaymentFailed {
		t.Errorf("expected failed without a transaction id, got %s", res.Payment.Status)
	}
	if res.Invoice.Status != core.InvoiceUnpaid {
		t.Errorf("expected invoice unpaid, got %s", res.Invoice.Status)
	}

	_, err = billing.ProcessGatewayPayment(ctx, core.GatewayPaymentInput{InvoiceID: inv.ID, Phone: "12", Amount: dec("500")})
	if !errors.Is(err, core.ErrInvalidPhone) {
		t.Errorf("expected ErrInvalidPhone, got %v", err)
	}
}

func TestBilling_GatewayTimeoutLeavesPendingForStatusCheck(t *testing.T) {
	s, ctx := setupServices(t)
	status := &core.StatusResult{Status: core.PaymentPending}
	gw := &fakeGateway{
		charge: func(ctx context.Context, _ core.ChargeRequest) (*core.ChargeResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		status: func(context.Context, string) (*core.StatusResult, error) { return status, nil },
	}
	billing := newBilling(s, gw, nil, 50*time.Millisecond)
	a := approvedOrder(t, ctx, s, "1000")
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	_, err = billing.ProcessGatewayPayment(ctx, core.GatewayPaymentInput{InvoiceID: inv.ID, Phone: "+255712345678", Amount: dec("1000")})
	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) || gwErr.PaymentID == 0 {
		t.Fatalf("expected GatewayError with a payment id, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the timeout to be wrapped, got %v", err)
	}

	p, err := billing.GetPayment(ctx, gwErr.PaymentID)
	if err != nil || p.Status != core.PaymentPending {
		t.Fatalf("expected pending payment, got %+v (%v)", p, err)
	}

	// Still pending at the gateway.
	res, err := billing.CheckGatewayStatus(ctx, p.ID)
	if err != nil || res.Payment.Status != core.PaymentPending {
		t.Fatalf("expected still pending, got %+v (%v)", res, err)
	}
	if last := gw.refs[len(gw.refs)-1]; last != core.PaymentReference(p.ID) {
		t.Errorf("expected lookup by merchant reference, got %q", last)
	}

	// Completed but without proof of payment.
	status = &core.StatusResult{Status: core.PaymentCompleted, TransactionID: "null"}
	res, err = billing.CheckGatewayStatus(ctx, p.ID)
	if err != nil || res.Payment.Status != core.PaymentPending {
		t.Fatalf("completion without a transaction id must stay pending, got %+v (%v)", res, err)
	}

	status = &core.StatusResult{Status: core.PaymentCompleted, TransactionID: "TX-77", Raw: json.RawMessage(`{"status":"SUCCESSFUL"}`)}
	res, err = billing.CheckGatewayStatus(ctx, p.ID)
	if err != nil {
		t.Fatalf("CheckGatewayStatus failed: %v", err)
	}
	if res.Payment.Status != core.PaymentCompleted || *res.Payment.GatewayTransactionID != "TX-77" {
		t.Errorf("unexpected payment: %+v", res.Payment)
	}
	if res.Invoice.Status != core.InvoicePaid {
		t.Errorf("expected invoice paid, got %s", res.Invoice.Status)
	}

	// Settled payments are returned without another gateway call.
	calls := len(gw.refs)
	if _, err := billing.CheckGatewayStatus(ctx, p.ID); err != nil {
		t.Fatalf("CheckGatewayStatus failed: %v", err)
	}
	if len(gw.refs) != calls {
		t.Errorf("expected no gateway call for a completed payment")
	}
}

func TestBilling_StatusCheckFailure(t *testing.T) {
	s, ctx := setupServices(t)
	gw := &fakeGateway{
		charge: func(context.Context, core.ChargeRequest) (*core.ChargeResult, error) {
			return nil, errors.New("API returned status 503: maintenance")
		},
		status: func(context.Context, string) (*core.StatusResult, error) {
			return &core.StatusResult{Status: core.PaymentFailed}, nil
		},
	}
	billing := newBilling(s, gw, nil, time.Second)
	a := approvedOrder(t, ctx, s, "1000")
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	_, err = billing.ProcessGatewayPayment(ctx, core.GatewayPaymentInput{InvoiceID: inv.ID, Phone: "+255712345678", Amount: dec("1000")})
	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if core.KindOf(err) != core.KindGateway {
		t.Errorf("expected gateway kind, got %s", core.KindOf(err))
	}

	res, err := billing.CheckGatewayStatus(ctx, gwErr.PaymentID)
	if err != nil {
		t.Fatalf("CheckGatewayStatus failed: %v", err)
	}
	if res.Payment.Status != core.PaymentFailed || res.Invoice.Status != core.InvoiceUnpaid {
		t.Errorf("expected failed payment on unpaid invoice, got %s / %s", res.Payment.Status, res.Invoice.Status)
	}
	if _, err := billing.RefundPayment(ctx, res.Payment.ID, "n/a"); !errors.Is(err, core.ErrPaymentNotRefundable) {
		t.Errorf("failed payments cannot be refunded, got %v", err)
	}
}

func TestBilling_ThirdPaymentKeepsInvoicePaid(t *testing.T) {
	s, ctx := setupServices(t)
	billing := newBilling(s, &fakeGateway{}, nil, time.Second)
	a := approvedOrder(t, ctx, s, "1000")
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	for i, amt := range []string{"400", "600", "50"} {
		res, err := billing.RecordPayment(ctx, core.RecordPaymentInput{InvoiceID: inv.ID, Method: core.MethodCash, Amount: dec(amt)})
		if err != nil {
			t.Fatalf("payment %d failed: %v", i+1, err)
		}
		if i == 2 {
			if res.Invoice.Status != core.InvoicePaid || !res.Invoice.Paid.Equal(dec("1050")) {
				t.Errorf("expected overpaid invoice to stay paid with 1050, got %+v", res.Invoice)
			}
		}
	}
	if n := countRows(t, ctx, s.pool, "SELECT COUNT(*) FROM payments WHERE invoice_id = $1 AND status = 'completed'", inv.ID); n != 3 {
		t.Errorf("expected 3 completed payments, got %d", n)
	}
}

func TestBilling_RejectsAmountsTheColumnWouldRound(t *testing.T) {
	s, ctx := setupServices(t)
	gw := &fakeGateway{charge: chargeOK("TX-1")}
	billing := newBilling(s, gw, nil, time.Second)
	a := approvedOrder(t, ctx, s, "1000")

	if _, err := billing.CreateInvoice(ctx, a.Order.ID, dec("1000000000000")); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected oversized invoice to be rejected, got %v", err)
	}
	if _, err := billing.CreateInvoice(ctx, a.Order.ID, dec("99.999")); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected sub-cent invoice to be rejected, got %v", err)
	}
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	_, err = billing.RecordPayment(ctx, core.RecordPaymentInput{InvoiceID: inv.ID, Method: core.MethodCash, Amount: dec("0.001")})
	if !errors.Is(err, core.ErrInvalidAmount) || core.KindOf(err) != core.KindValidation {
		t.Errorf("expected validation ErrInvalidAmount, got %v", err)
	}
	_, err = billing.ProcessGatewayPayment(ctx, core.GatewayPaymentInput{InvoiceID: inv.ID, Phone: "+255712345678", Amount: dec("10.005")})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected validation ErrInvalidAmount, got %v", err)
	}
	if len(gw.refs) != 0 {
		t.Errorf("rejected amounts must not reach the gateway, got %v", gw.refs)
	}
	if n := countRows(t, ctx, s.pool, "SELECT COUNT(*) FROM payments WHERE invoice_id = $1", inv.ID); n != 0 {
		t.Errorf("expected no payment rows, got %d", n)
	}
}

func TestBilling_ConcurrentPaymentsBothCount(t *testing.T) {
	s, ctx := setupServices(t)
	billing := newBilling(s, &fakeGateway{}, nil, time.Second)
	a := approvedOrder(t, ctx, s, "1000")
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, amt := range []string{"400", "600"} {
		wg.Add(1)
		go func(amt string) {
			defer wg.Done()
			_, err := billing.RecordPayment(ctx, core.RecordPaymentInput{InvoiceID: inv.ID, Method: core.MethodCash, Amount: dec(amt)})
			errs <- err
		}(amt)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent payment failed: %v", err)
		}
	}

	got, err := billing.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if got.Status != core.InvoicePaid || !got.Paid.Equal(dec("1000")) {
		t.Errorf("expected paid with 1000 after both payments, got %s with %s", got.Status, got.Paid)
	}
}

func TestBilling_ConcurrentInvoicesCreateOne(t *testing.T) {
	s, ctx := setupServices(t)
	billing := newBilling(s, &fakeGateway{}, nil, time.Second)
	a := approvedOrder(t, ctx, s, "1000")

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrDuplicateInvoice):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one invoice to be created, got %d", ok)
	}
	if n := countRows(t, ctx, s.pool, "SELECT COUNT(*) FROM invoices WHERE order_id = $1", a.Order.ID); n != 1 {
		t.Errorf("expected 1 invoice row, got %d", n)
	}
}

func TestBilling_TransactionIDOutranksSuccessFlag(t *testing.T) {
	s, ctx := setupServices(t)
	gw := &fakeGateway{charge: func(context.Context, core.ChargeRequest) (*core.ChargeResult, error) {
		return &core.ChargeResult{Success: false, TransactionID: "MP240301.9999.B1", Status: "queued"}, nil
	}}
	billing := newBilling(s, gw, nil, time.Second)
	a := approvedOrder(t, ctx, s, "1000")
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	res, err := billing.ProcessGatewayPayment(ctx, core.GatewayPaymentInput{InvoiceID: inv.ID, Phone: "+255712345678", Amount: dec("1000")})
	if err != nil {
		t.Fatalf("ProcessGatewayPayment failed: %v", err)
	}
	if res.Payment.Status != core.PaymentCompleted || res.Invoice.Status != core.InvoicePaid {
		t.Errorf("expected completed payment on a paid invoice, got %s / %s", res.Payment.Status, res.Invoice.Status)
	}
}

func TestBilling_AdminHearsAboutSettlementAndRefund(t *testing.T) {
	s, ctx := setupServices(t)
	billing := newBilling(s, &fakeGateway{charge: chargeOK("TX-500")}, nil, time.Second)
	a := approvedOrder(t, ctx, s, "1000")
	inv, err := billing.CreateInvoice(ctx, a.Order.ID, dec("0"))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	res, err := billing.ProcessGatewayPayment(ctx, core.GatewayPaymentInput{InvoiceID: inv.ID, Phone: "+255712345678", Amount: dec("1000")})
	if err != nil {
		t.Fatalf("ProcessGatewayPayment failed: %v", err)
	}
	const adminRows = "SELECT COUNT(*) FROM notification_outbox WHERE recipient = $1 AND subject = $2"
	settled := fmt.Sprintf("Mobile-money payment on invoice #%d", inv.ID)
	if n := countRows(t, ctx, s.pool, adminRows, notifyOpts.AdminEmail, settled); n != 1 {
		t.Errorf("expected one admin settlement notice, got %d", n)
	}

	if _, err := billing.RefundPayment(ctx, res.Payment.ID, "wrong invoice"); err != nil {
		t.Fatalf("RefundPayment failed: %v", err)
	}
	refunded := fmt.Sprintf("Payment #%d refunded", res.Payment.ID)
	if n := countRows(t, ctx, s.pool, adminRows, notifyOpts.AdminEmail, refunded); n != 1 {
		t.Errorf("expected one admin refund notice, got %d", n)
	}
}
