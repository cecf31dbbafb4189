package core

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ── Notifier ─────────────────────────────────────────────────────────────────

// Channel selects the Notifier transport.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebhook Channel = "webhook"
)

// Notification is one outbound message. Services never send these inline;
// they are queued in notification_outbox and delivered after commit.
type Notification struct {
	ID        int64   `json:"id"`
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
}

// Notifier delivers a notification. Errors are retried by the outbox
// dispatcher and never reach the business operation that queued it.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// ── Payment gateway ──────────────────────────────────────────────────────────

// ChargeRequest asks the mobile-money gateway to collect Amount from Phone.
type ChargeRequest struct {
	Amount      decimal.Decimal
	Phone       string
	Currency    string
	Description string
	Reference   string
}

// ChargeResult is the gateway's answer to a charge. Success alone is not
// enough: only a valid TransactionID proves the charge went through.
type ChargeResult struct {
	Success       bool
	TransactionID string
	Status        string
	Raw           json.RawMessage
}

// StatusResult is the gateway's answer to a status poll.
type StatusResult struct {
	Status        PaymentStatus
	TransactionID string
	Raw           json.RawMessage
}

// PaymentGateway is the mobile-money collaborator.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	// CheckStatus looks a charge up by gateway transaction id, or by our
	// merchant reference when no transaction id was ever returned.
	CheckStatus(ctx context.Context, ref string) (*StatusResult, error)
}

var placeholderTransactionIDs = map[string]bool{
	"":          true,
	"0":         true,
	"null":      true,
	"nil":       true,
	"none":      true,
	"undefined": true,
	"pending":   true,
	"n/a":       true,
	"na":        true,
	"-":         true,
}

// ValidTransactionID reports whether id is a real gateway transaction id
// rather than an empty or placeholder value.
func ValidTransactionID(id string) bool {
	return !placeholderTransactionIDs[strings.ToLower(strings.TrimSpace(id))]
}

// ── Event sink ───────────────────────────────────────────────────────────────

// PaymentEventType names a payment lifecycle event.
type PaymentEventType string

const (
	EventPaymentCreated   PaymentEventType = "payment.created"
	EventPaymentUpdated   PaymentEventType = "payment.updated"
	EventPaymentCompleted PaymentEventType = "payment.completed"
	EventPaymentFailed    PaymentEventType = "payment.failed"
	EventPaymentRefunded  PaymentEventType = "payment.refunded"
)

// PaymentEvent is published to real-time subscribers.
type PaymentEvent struct {
	Type          PaymentEventType `json:"type"`
	PaymentID     int              `json:"payment_id"`
	InvoiceID     int              `json:"invoice_id"`
	Status        PaymentStatus    `json:"status"`
	Amount        decimal.Decimal  `json:"amount"`
	TransactionID string           `json:"transaction_id,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// EventSink receives payment lifecycle events. Publishing is best-effort.
type EventSink interface {
	Publish(ctx context.Context, ev PaymentEvent) error
}

// ── Locker ───────────────────────────────────────────────────────────────────

// Locker provides short-lived named locks across server instances.
// Obtain returns ErrLockNotObtained (wrapped) when the key is held elsewhere.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type noopLocker struct{}

func (noopLocker) Obtain(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type noopSink struct{}

func (noopSink) Publish(context.Context, PaymentEvent) error { return nil }
