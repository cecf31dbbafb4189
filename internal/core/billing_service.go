package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BillingService enforces one invoice per order and keeps every invoice's
// status a pure function of its completed payments.
type BillingService interface {
	// Invoices
	CreateInvoice(ctx context.Context, orderID int, amount decimal.Decimal) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID int) (*Invoice, error)
	ListInvoices(ctx context.Context, status *InvoiceStatus) ([]Invoice, error)

	// Payments
	RecordPayment(ctx context.Context, in RecordPaymentInput) (*PaymentResult, error)
	ProcessGatewayPayment(ctx context.Context, in GatewayPaymentInput) (*PaymentResult, error)
	CheckGatewayStatus(ctx context.Context, paymentID int) (*PaymentResult, error)
	// RefundPayment marks a completed payment refunded. The invoice status is
	// intentionally left as it was.
	RefundPayment(ctx context.Context, paymentID int, reason string) (*PaymentResult, error)
	GetPayment(ctx context.Context, paymentID int) (*Payment, error)
	ListPayments(ctx context.Context, invoiceID int) ([]Payment, error)
}

// BillingOptions configures gateway payments. Notify adds admin notices for
// settled gateway payments and refunds.
type BillingOptions struct {
	Currency       string
	PhoneRegion    string
	GatewayName    string
	GatewayTimeout time.Duration
	StatusLockTTL  time.Duration
	Notify         NotifyOptions
}

type billingService struct {
	db      DB
	gateway PaymentGateway
	events  EventSink
	locker  Locker
	log     *logrus.Logger
	opts    BillingOptions
}

// NewBillingService wires the billing core. events and locker may be nil.
func NewBillingService(db DB, gateway PaymentGateway, events EventSink, locker Locker, logger *logrus.Logger, opts BillingOptions) BillingService {
	if events == nil {
		events = noopSink{}
	}
	if locker == nil {
		locker = noopLocker{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 45 * time.Second
	}
	if opts.StatusLockTTL <= 0 {
		opts.StatusLockTTL = opts.GatewayTimeout + 15*time.Second
	}
	if opts.GatewayName == "" {
		opts.GatewayName = "mobile_money"
	}
	return &billingService{db: db, gateway: gateway, events: events, locker: locker, log: logger, opts: opts}
}

// ── Invoices ─────────────────────────────────────────────────────────────────

const invoiceSelect = `
	SELECT i.id, i.order_id, i.amount, i.status, i.created_at,
	       COALESCE((SELECT SUM(p.amount) FROM payments p
	                 WHERE p.invoice_id = i.id AND p.status = 'completed'), 0)
	FROM invoices i`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var status string
	if err := row.Scan(&inv.ID, &inv.OrderID, &inv.Amount, &status, &inv.CreatedAt, &inv.Paid); err != nil {
		return nil, err
	}
	inv.Status = InvoiceStatus(status)
	return &inv, nil
}

func fetchInvoice(ctx context.Context, q pgxQuerier, invoiceID int) (*Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, invoiceSelect+" WHERE i.id = $1", invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrInvoiceNotFound, "invoice %d", invoiceID)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", invoiceID, err)
	}
	return inv, nil
}

// CreateInvoice bills an order. A zero amount bills the order's balance.
func (s *billingService) CreateInvoice(ctx context.Context, orderID int, amount decimal.Decimal) (*Invoice, error) {
	if amount.IsNegative() {
		return nil, invalid(ErrInvalidAmount, "invoice amount cannot be negative")
	}
	if err := checkMoney(amount, "invoice amount"); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var customerID int
	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "SELECT customer_id, balance FROM orders WHERE id = $1 FOR UPDATE", orderID).Scan(&customerID, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrOrderNotFound, "order %d", orderID)
		}
		return nil, fmt.Errorf("failed to lock order %d: %w", orderID, err)
	}

	var existing int
	err = tx.QueryRow(ctx, "SELECT id FROM invoices WHERE order_id = $1", orderID).Scan(&existing)
	if err == nil {
		return nil, conflict(ErrDuplicateInvoice, "order %d already has invoice %d", orderID, existing)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing invoice: %w", err)
	}

	if amount.IsZero() {
		amount = balance
	}
	var invoiceID int
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (order_id, amount, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`, orderID, amount, string(DeriveInvoiceStatus(decimal.Zero, amount))).Scan(&invoiceID)
	if err != nil {
		return nil, uniqueAs(err, ErrDuplicateInvoice, fmt.Sprintf("create invoice for order %d", orderID))
	}

	c, err := customerContact(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	notes := c.toCustomer(
		fmt.Sprintf("Invoice #%d for order #%d", invoiceID, orderID),
		fmt.Sprintf("Hello %s, invoice #%d for %s %s has been issued for order #%d.",
			c.Name, invoiceID, s.opts.Currency, money(amount), orderID),
	)
	if err := enqueueNotifications(ctx, tx, notes); err != nil {
		return nil, err
	}

	inv, err := fetchInvoice(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invoice: %w", err)
	}
	return inv, nil
}

func (s *billingService) GetInvoice(ctx context.Context, invoiceID int) (*Invoice, error) {
	return fetchInvoice(ctx, s.db, invoiceID)
}

func (s *billingService) GetInvoiceByOrder(ctx context.Context, orderID int) (*Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRow(ctx, invoiceSelect+" WHERE i.order_id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrInvoiceNotFound, "invoice for order %d", orderID)
		}
		return nil, fmt.Errorf("failed to fetch invoice for order %d: %w", orderID, err)
	}
	return inv, nil
}

func (s *billingService) ListInvoices(ctx context.Context, status *InvoiceStatus) ([]Invoice, error) {
	sql := invoiceSelect
	var args []any
	if status != nil {
		sql += " WHERE i.status = $1"
		args = append(args, string(*status))
	}
	rows, err := s.db.Query(ctx, sql+" ORDER BY i.created_at DESC, i.id DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// reconcileTx recomputes the invoice status from completed payments. The
// caller must hold the invoice row lock.
func reconcileTx(ctx context.Context, tx pgx.Tx, invoiceID int, amount decimal.Decimal) (InvoiceStatus, error) {
	var paid decimal.Decimal
	err := tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1 AND status = 'completed'",
		invoiceID,
	).Scan(&paid)
	if err != nil {
		return "", fmt.Errorf("failed to sum payments for invoice %d: %w", invoiceID, err)
	}
	status := DeriveInvoiceStatus(paid, amount)
	if _, err := tx.Exec(ctx, "UPDATE invoices SET status = $1 WHERE id = $2", string(status), invoiceID); err != nil {
		return "", fmt.Errorf("failed to update invoice %d status: %w", invoiceID, err)
	}
	return status, nil
}

func lockInvoice(ctx context.Context, tx pgx.Tx, invoiceID int) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := tx.QueryRow(ctx, "SELECT amount FROM invoices WHERE id = $1 FOR UPDATE", invoiceID).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return amount, notFound(ErrInvoiceNotFound, "invoice %d", invoiceID)
		}
		return amount, fmt.Errorf("failed to lock invoice %d: %w", invoiceID, err)
	}
	return amount, nil
}

// ── Payments ─────────────────────────────────────────────────────────────────

const paymentColumns = `id, invoice_id, method, amount, user_id, reference, status, gateway,
	gateway_transaction_id, gateway_response::text, customer_phone, refund_reason, refunded_at,
	created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var method, status string
	var raw *string
	if err := row.Scan(&p.ID, &p.InvoiceID, &method, &p.Amount, &p.UserID, &p.Reference, &status, &p.Gateway,
		&p.GatewayTransactionID, &raw, &p.CustomerPhone, &p.RefundReason, &p.RefundedAt,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Method = PaymentMethod(method)
	p.Status = PaymentStatus(status)
	if raw != nil {
		p.GatewayResponse = json.RawMessage(*raw)
	}
	return &p, nil
}

func fetchPayment(ctx context.Context, q pgxQuerier, paymentID int, forUpdate bool) (*Payment, error) {
	sql := "SELECT " + paymentColumns + " FROM payments WHERE id = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	p, err := scanPayment(q.QueryRow(ctx, sql, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrPaymentNotFound, "payment %d", paymentID)
		}
		return nil, fmt.Errorf("failed to fetch payment %d: %w", paymentID, err)
	}
	return p, nil
}

func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return string(raw)
}

func (s *billingService) GetPayment(ctx context.Context, paymentID int) (*Payment, error) {
	return fetchPayment(ctx, s.db, paymentID, false)
}

func (s *billingService) ListPayments(ctx context.Context, invoiceID int) ([]Payment, error) {
	if _, err := fetchInvoice(ctx, s.db, invoiceID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, "SELECT "+paymentColumns+" FROM payments WHERE invoice_id = $1 ORDER BY id", invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// RecordPayment records an already collected payment as completed and
// reconciles the invoice under its row lock.
func (s *billingService) RecordPayment(ctx context.Context, in RecordPaymentInput) (*PaymentResult, error) {
	if !in.Amount.IsPositive() {
		return nil, invalid(ErrInvalidAmount, "payment amount must be greater than zero")
	}
	if err := checkMoney(in.Amount, "payment amount"); err != nil {
		return nil, err
	}
	if _, err := ParsePaymentMethod(string(in.Method)); err != nil {
		return nil, err
	}
	if len(in.Reference) > 100 {
		return nil, invalid(ErrInvalidInput, "reference exceeds 100 characters")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	amount, err := lockInvoice(ctx, tx, in.InvoiceID)
	if err != nil {
		return nil, err
	}

	var paymentID int
	err = tx.QueryRow(ctx, `
		INSERT INTO payments (invoice_id, method, amount, user_id, reference, status)
		VALUES ($1, $2, $3, $4, $5, 'completed')
		RETURNING id
	`, in.InvoiceID, string(in.Method), in.Amount, in.UserID, strings.TrimSpace(in.Reference)).Scan(&paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	if _, err := reconcileTx(ctx, tx, in.InvoiceID, amount); err != nil {
		return nil, err
	}

	res, err := s.resultTx(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return res, nil
}

// ProcessGatewayPayment charges a customer's mobile-money wallet.
//
// The pending payment is committed before the gateway is called, and no row
// lock is held while waiting. A gateway timeout or transport failure returns
// a *GatewayError and leaves the payment pending for CheckGatewayStatus.
func (s *billingService) ProcessGatewayPayment(ctx context.Context, in GatewayPaymentInput) (*PaymentResult, error) {
	if !in.Amount.IsPositive() {
		return nil, invalid(ErrInvalidAmount, "payment amount must be greater than zero")
	}
	if err := checkMoney(in.Amount, "payment amount"); err != nil {
		return nil, err
	}
	phone, err := NormalizePhone(in.Phone, s.opts.PhoneRegion)
	if err != nil {
		return nil, err
	}

	p, err := s.createPendingPayment(ctx, in, phone)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventPaymentCreated, p)

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	charge, err := s.gateway.Charge(gctx, ChargeRequest{
		Amount:      p.Amount,
		Phone:       phone,
		Currency:    s.opts.Currency,
		Description: fmt.Sprintf("Invoice #%d", p.InvoiceID),
		Reference:   p.Reference,
	})
	cancel()
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"module":     "billing",
			"funcName":   "ProcessGatewayPayment",
			"payment_id": p.ID,
		}).WithError(err).Warn("gateway charge failed, payment left pending")
		s.emit(ctx, EventPaymentUpdated, p)
		return nil, &GatewayError{Op: "charge", PaymentID: p.ID, Err: err}
	}

	// The charge happened; record the outcome even if the caller has gone away.
	// A usable transaction id is the only proof of payment, whatever the
	// success flag says.
	finishCtx := context.WithoutCancel(ctx)
	if ValidTransactionID(charge.TransactionID) {
		return s.completeGatewayPayment(finishCtx, p.ID, charge.TransactionID, charge.Raw)
	}
	return s.failGatewayPayment(finishCtx, p.ID, charge.Raw)
}

func (s *billingService) createPendingPayment(ctx context.Context, in GatewayPaymentInput, phone string) (*Payment, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT true FROM invoices WHERE id = $1", in.InvoiceID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrInvoiceNotFound, "invoice %d", in.InvoiceID)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", in.InvoiceID, err)
	}

	var paymentID int
	err = tx.QueryRow(ctx, `
		INSERT INTO payments (invoice_id, method, amount, user_id, status, gateway, customer_phone)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		RETURNING id
	`, in.InvoiceID, string(MethodMobileMoney), in.Amount, in.UserID, s.opts.GatewayName, phone).Scan(&paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pending payment: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE payments SET reference = $1 WHERE id = $2", PaymentReference(paymentID), paymentID); err != nil {
		return nil, fmt.Errorf("failed to set payment reference: %w", err)
	}

	p, err := fetchPayment(ctx, tx, paymentID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit pending payment: %w", err)
	}
	return p, nil
}

// completeGatewayPayment marks a pending payment completed and reconciles its
// invoice. Locks are taken invoice first, then payment. A payment that is no
// longer pending is returned unchanged.
func (s *billingService) completeGatewayPayment(ctx context.Context, paymentID int, transactionID string, raw json.RawMessage) (*PaymentResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var invoiceID int
	if err := tx.QueryRow(ctx, "SELECT invoice_id FROM payments WHERE id = $1", paymentID).Scan(&invoiceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrPaymentNotFound, "payment %d", paymentID)
		}
		return nil, fmt.Errorf("failed to fetch payment %d: %w", paymentID, err)
	}
	amount, err := lockInvoice(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	p, err := fetchPayment(ctx, tx, paymentID, true)
	if err != nil {
		return nil, err
	}
	if p.Status != PaymentPending {
		res, err := s.resultTx(ctx, tx, paymentID)
		if err != nil {
			return nil, err
		}
		return res, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE payments
		SET status = 'completed', gateway_transaction_id = $1, gateway_response = COALESCE($2::jsonb, gateway_response), updated_at = NOW()
		WHERE id = $3
	`, transactionID, jsonArg(raw), paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete payment %d: %w", paymentID, err)
	}
	if _, err := reconcileTx(ctx, tx, invoiceID, amount); err != nil {
		return nil, err
	}

	var customerID int
	if err := tx.QueryRow(ctx, `
		SELECT o.customer_id FROM invoices i JOIN orders o ON o.id = i.order_id WHERE i.id = $1
	`, invoiceID).Scan(&customerID); err != nil {
		return nil, fmt.Errorf("failed to resolve customer for invoice %d: %w", invoiceID, err)
	}
	c, err := customerContact(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	notes := c.toCustomer(
		fmt.Sprintf("Payment received for invoice #%d", invoiceID),
		fmt.Sprintf("Hello %s, we received %s %s (transaction %s). Thank you.",
			c.Name, s.opts.Currency, money(p.Amount), transactionID),
	)
	notes = append(notes, s.opts.Notify.toAdmin(
		fmt.Sprintf("Mobile-money payment on invoice #%d", invoiceID),
		fmt.Sprintf("Payment #%d of %s %s from %s settled (transaction %s).",
			paymentID, s.opts.Currency, money(p.Amount), c.Name, transactionID),
	)...)
	if err := enqueueNotifications(ctx, tx, notes); err != nil {
		return nil, err
	}

	res, err := s.resultTx(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment completion: %w", err)
	}
	s.emit(ctx, EventPaymentUpdated, res.Payment)
	s.emit(ctx, EventPaymentCompleted, res.Payment)
	return res, nil
}

func (s *billingService) failGatewayPayment(ctx context.Context, paymentID int, raw json.RawMessage) (*PaymentResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := fetchPayment(ctx, tx, paymentID, true)
	if err != nil {
		return nil, err
	}
	changed := p.Status == PaymentPending
	if changed {
		_, err = tx.Exec(ctx, `
			UPDATE payments
			SET status = 'failed', gateway_response = COALESCE($1::jsonb, gateway_response), updated_at = NOW()
			WHERE id = $2
		`, jsonArg(raw), paymentID)
		if err != nil {
			return nil, fmt.Errorf("failed to mark payment %d failed: %w", paymentID, err)
		}
	}

	res, err := s.resultTx(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment failure: %w", err)
	}
	if changed {
		s.emit(ctx, EventPaymentUpdated, res.Payment)
		s.emit(ctx, EventPaymentFailed, res.Payment)
	}
	return res, nil
}

// CheckGatewayStatus polls the gateway for a pending payment. Checks for the
// same payment are serialized with a named lock; payments that are no longer
// pending are returned as they are.
func (s *billingService) CheckGatewayStatus(ctx context.Context, paymentID int) (*PaymentResult, error) {
	release, err := s.locker.Obtain(ctx, fmt.Sprintf("payment-status:%d", paymentID), s.opts.StatusLockTTL)
	if err != nil {
		if errors.Is(err, ErrLockNotObtained) {
			return nil, conflict(ErrLockNotObtained, "status check for payment %d already running", paymentID)
		}
		return nil, fmt.Errorf("failed to lock payment %d: %w", paymentID, err)
	}
	defer release()

	p, err := fetchPayment(ctx, s.db, paymentID, false)
	if err != nil {
		return nil, err
	}
	if p.Status != PaymentPending {
		return s.result(ctx, p)
	}

	ref := p.Reference
	if p.GatewayTransactionID != nil && ValidTransactionID(*p.GatewayTransactionID) {
		ref = *p.GatewayTransactionID
	}
	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	st, err := s.gateway.CheckStatus(gctx, ref)
	cancel()
	if err != nil {
		return nil, &GatewayError{Op: "status", PaymentID: paymentID, Err: err}
	}

	switch st.Status {
	case PaymentCompleted:
		txID := st.TransactionID
		if !ValidTransactionID(txID) && p.GatewayTransactionID != nil {
			txID = *p.GatewayTransactionID
		}
		if !ValidTransactionID(txID) {
			// Completion without a transaction id is not proof of payment.
			return s.result(ctx, p)
		}
		return s.completeGatewayPayment(ctx, paymentID, txID, st.Raw)
	case PaymentFailed:
		return s.failGatewayPayment(ctx, paymentID, st.Raw)
	default:
		return s.result(ctx, p)
	}
}

func (s *billingService) RefundPayment(ctx context.Context, paymentID int, reason string) (*PaymentResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid(ErrInvalidInput, "refund reason is required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := fetchPayment(ctx, tx, paymentID, true)
	if err != nil {
		return nil, err
	}
	if p.Status != PaymentCompleted {
		return nil, conflict(ErrPaymentNotRefundable, "payment %d is %s", paymentID, p.Status)
	}

	_, err = tx.Exec(ctx, `
		UPDATE payments
		SET status = 'refunded', refund_reason = $1, refunded_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`, reason, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment %d: %w", paymentID, err)
	}

	var customerID int
	if err := tx.QueryRow(ctx, `
		SELECT o.customer_id FROM invoices i JOIN orders o ON o.id = i.order_id WHERE i.id = $1
	`, p.InvoiceID).Scan(&customerID); err != nil {
		return nil, fmt.Errorf("failed to resolve customer for invoice %d: %w", p.InvoiceID, err)
	}
	c, err := customerContact(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	notes := c.toCustomer(
		fmt.Sprintf("Refund for invoice #%d", p.InvoiceID),
		fmt.Sprintf("Hello %s, your payment of %s %s has been refunded. Reason: %s",
			c.Name, s.opts.Currency, money(p.Amount), reason),
	)
	notes = append(notes, s.opts.Notify.toAdmin(
		fmt.Sprintf("Payment #%d refunded", paymentID),
		fmt.Sprintf("Refunded %s %s on invoice #%d for %s. Reason: %s",
			s.opts.Currency, money(p.Amount), p.InvoiceID, c.Name, reason),
	)...)
	if err := enqueueNotifications(ctx, tx, notes); err != nil {
		return nil, err
	}

	res, err := s.resultTx(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit refund: %w", err)
	}
	s.emit(ctx, EventPaymentRefunded, res.Payment)
	return res, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *billingService) resultTx(ctx context.Context, tx pgx.Tx, paymentID int) (*PaymentResult, error) {
	p, err := fetchPayment(ctx, tx, paymentID, false)
	if err != nil {
		return nil, err
	}
	inv, err := fetchInvoice(ctx, tx, p.InvoiceID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Payment: p, Invoice: inv}, nil
}

func (s *billingService) result(ctx context.Context, p *Payment) (*PaymentResult, error) {
	inv, err := fetchInvoice(ctx, s.db, p.InvoiceID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Payment: p, Invoice: inv}, nil
}

// emit publishes a lifecycle event. Sink failures are logged and dropped.
func (s *billingService) emit(ctx context.Context, typ PaymentEventType, p *Payment) {
	ev := PaymentEvent{
		Type:       typ,
		PaymentID:  p.ID,
		InvoiceID:  p.InvoiceID,
		Status:     p.Status,
		Amount:     p.Amount,
		OccurredAt: time.Now().UTC(),
	}
	if p.GatewayTransactionID != nil {
		ev.TransactionID = *p.GatewayTransactionID
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WithFields(logrus.Fields{
			"module":     "billing",
			"funcName":   "emit",
			"event":      string(typ),
			"payment_id": p.ID,
		}).WithError(err).Warn("payment event publish failed")
	}
}
