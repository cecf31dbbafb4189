package core

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is derived from completed payments; it is never set directly.
type InvoiceStatus string

const (
	InvoiceUnpaid  InvoiceStatus = "unpaid"
	InvoicePartial InvoiceStatus = "partial"
	InvoicePaid    InvoiceStatus = "paid"
)

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch st := InvoiceStatus(s); st {
	case InvoiceUnpaid, InvoicePartial, InvoicePaid:
		return st, nil
	}
	return "", invalid(ErrUnknownValue, "invoice status %q", s)
}

// DeriveInvoiceStatus maps the sum of completed payments to an invoice status:
// paid iff paid >= amount, partial iff 0 < paid < amount, otherwise unpaid.
func DeriveInvoiceStatus(paid, amount decimal.Decimal) InvoiceStatus {
	switch {
	case paid.GreaterThanOrEqual(amount):
		return InvoicePaid
	case paid.IsPositive():
		return InvoicePartial
	default:
		return InvoiceUnpaid
	}
}

// Invoice bills one order. Paid is the sum of completed payments.
type Invoice struct {
	ID        int             `json:"id"`
	OrderID   int             `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Paid      decimal.Decimal `json:"paid"`
	Status    InvoiceStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// PaymentStatus is the lifecycle of a single payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentMethod is how money was collected.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCard         PaymentMethod = "card"
	MethodCheque       PaymentMethod = "cheque"
	MethodMobileMoney  PaymentMethod = "mobile_money"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case MethodCash, MethodBankTransfer, MethodCard, MethodCheque, MethodMobileMoney:
		return m, nil
	}
	return "", invalid(ErrUnknownValue, "payment method %q", s)
}

// Payment is money recorded against an invoice, manually or through the gateway.
type Payment struct {
	ID                   int             `json:"id"`
	InvoiceID            int             `json:"invoice_id"`
	Method               PaymentMethod   `json:"method"`
	Amount               decimal.Decimal `json:"amount"`
	UserID               string          `json:"user_id"`
	Reference            string          `json:"reference"`
	Status               PaymentStatus   `json:"status"`
	Gateway              *string         `json:"gateway,omitempty"`
	GatewayTransactionID *string         `json:"gateway_transaction_id,omitempty"`
	GatewayResponse      json.RawMessage `json:"gateway_response,omitempty"`
	CustomerPhone        *string         `json:"customer_phone,omitempty"`
	RefundReason         *string         `json:"refund_reason,omitempty"`
	RefundedAt           *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// RecordPaymentInput records a manual (already collected) payment.
type RecordPaymentInput struct {
	InvoiceID int
	Method    PaymentMethod
	Amount    decimal.Decimal
	Reference string
	UserID    string
}

// GatewayPaymentInput requests a mobile-money charge against an invoice.
type GatewayPaymentInput struct {
	InvoiceID int
	Phone     string
	Amount    decimal.Decimal
	UserID    string
}

// PaymentResult is a payment together with the invoice state after reconciliation.
type PaymentResult struct {
	Payment *Payment `json:"payment"`
	Invoice *Invoice `json:"invoice"`
}

// PaymentReference is the merchant reference sent to the gateway for a payment.
func PaymentReference(paymentID int) string {
	return "PAY-" + strconv.Itoa(paymentID)
}
