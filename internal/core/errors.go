package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Kind is the machine-checkable class of an error returned by a core operation.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindInsufficientStock Kind = "insufficient_stock"
	KindGateway           Kind = "gateway"
	KindPersistence       Kind = "persistence"
)

// Not found.
var (
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrMaterialNotFound  = errors.New("material not found")
	ErrQuoteNotFound     = errors.New("quote not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrWorkOrderNotFound = errors.New("work order not found")
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrPaymentNotFound   = errors.New("payment not found")
)

// Validation.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrUnknownValue    = errors.New("unknown value")
)

// Conflict.
var (
	ErrAlreadyApproved      = errors.New("quote already approved")
	ErrQuoteLocked          = errors.New("approved quotes cannot be edited")
	ErrDuplicateInvoice     = errors.New("order already has an invoice")
	ErrDuplicateMaterial    = errors.New("material name already exists")
	ErrMaterialInUse        = errors.New("material is referenced by stock movements")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrPaymentNotRefundable = errors.New("only completed payments can be refunded")
	ErrLockNotObtained      = errors.New("resource is locked by another request")
)

// Error carries a Kind, the sentinel it wraps, and a human-readable detail.
type Error struct {
	Kind   Kind
	Err    error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, sentinel error, format string, args ...any) error {
	return &Error{Kind: kind, Err: sentinel, Detail: fmt.Sprintf(format, args...)}
}

func notFound(sentinel error, format string, args ...any) error {
	return newError(KindNotFound, sentinel, format, args...)
}

func invalid(sentinel error, format string, args ...any) error {
	return newError(KindValidation, sentinel, format, args...)
}

func conflict(sentinel error, format string, args ...any) error {
	return newError(KindConflict, sentinel, format, args...)
}

// InsufficientStockError is returned when an issue or damage movement would
// take a material below zero. Stock is left unchanged.
type InsufficientStockError struct {
	MaterialID int
	Material   string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	name := e.Material
	if name == "" {
		name = fmt.Sprintf("material %d", e.MaterialID)
	}
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s",
		name, e.Available.String(), e.Requested.String())
}

// GatewayError wraps a payment gateway failure (timeout, transport, non-2xx,
// malformed response). PaymentID is set when a pending payment was left
// behind for later reconciliation.
type GatewayError struct {
	Op        string
	PaymentID int
	Err       error
}

func (e *GatewayError) Error() string {
	if e.PaymentID != 0 {
		return fmt.Sprintf("payment gateway %s failed for payment %d: %v", e.Op, e.PaymentID, e.Err)
	}
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// KindOf classifies err. Anything not produced by the domain taxonomy is a
// persistence failure; unique violations are reported as conflicts.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return KindInsufficientStock
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return KindGateway
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	if isUniqueViolation(err) {
		return KindConflict
	}
	return KindPersistence
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// uniqueAs converts a unique violation into a conflict on sentinel and wraps
// every other error as a persistence failure of op.
func uniqueAs(err error, sentinel error, op string) error {
	if isUniqueViolation(err) {
		return conflict(sentinel, "%s", op)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
