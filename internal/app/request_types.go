package app

import (
	"time"

	"github.com/shopspring/decimal"
)

// Path parameters are tagged json:"-" and filled in by the HTTP adapter.

type CreateCustomerRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"omitempty,email,max=200"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	Company string `json:"company" validate:"max=200"`
}

type CreateMaterialRequest struct {
	Name         string          `json:"name" validate:"required,max=200"`
	Unit         string          `json:"unit" validate:"required,max=32"`
	Category     string          `json:"category" validate:"max=100"`
	ReorderLevel decimal.Decimal `json:"reorder_level" validate:"gte=0"`
	OpeningStock decimal.Decimal `json:"opening_stock" validate:"gte=0"`
	UserID       string          `json:"-"`
}

type RecordMovementRequest struct {
	MaterialID int             `json:"material_id" validate:"required,gt=0"`
	Type       string          `json:"type" validate:"required,oneof=grn issue return adjustment damage"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	Reference  string          `json:"reference" validate:"max=100"`
	UserID     string          `json:"-"`
}

type ListMovementsRequest struct {
	MaterialID *int       `validate:"omitempty,gt=0"`
	Type       string     `validate:"omitempty,oneof=grn issue return adjustment damage"`
	From       *time.Time
	To         *time.Time
	Page       int `validate:"gte=0"`
	PageSize   int `validate:"gte=0,lte=200"`
}

// QuoteItemRequest is one quote line. Lines without a material are
// service lines and never touch stock.
type QuoteItemRequest struct {
	MaterialID  *int            `json:"material_id" validate:"omitempty,gt=0"`
	Description string          `json:"description" validate:"required,max=500"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type CreateQuoteRequest struct {
	CustomerID int                `json:"customer_id" validate:"required,gt=0"`
	Items      []QuoteItemRequest `json:"items" validate:"required,min=1,dive"`
	CreatedBy  string             `json:"-"`
}

type UpdateQuoteRequest struct {
	QuoteID int                `json:"-" validate:"gt=0"`
	Items   []QuoteItemRequest `json:"items" validate:"required,min=1,dive"`
}

type ListQuotesRequest struct {
	CustomerID *int   `validate:"omitempty,gt=0"`
	Status     string `validate:"omitempty,oneof=draft approved"`
}

type ApproveQuoteRequest struct {
	QuoteID int        `json:"-" validate:"gt=0"`
	DueDate *time.Time `json:"due_date"`
	UserID  string     `json:"-"`
}

type ListOrdersRequest struct {
	CustomerID *int   `validate:"omitempty,gt=0"`
	Status     string `validate:"omitempty,oneof=design pending ready delivered cancelled"`
}

type UpdateOrderStatusRequest struct {
	OrderID int    `json:"-" validate:"gt=0"`
	Status  string `json:"status" validate:"required,oneof=design pending ready delivered cancelled"`
	UserID  string `json:"-"`
}

type UpdateWorkOrderRequest struct {
	WorkOrderID int     `json:"-" validate:"gt=0"`
	Stage       *string `json:"stage" validate:"omitempty,oneof=design printing finishing quality_check completed"`
	AssignedTo  *string `json:"assigned_to" validate:"omitempty,max=100"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

type RequestUploadRequest struct {
	WorkOrderID int    `json:"-" validate:"gt=0"`
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"required,max=100"`
}

type AttachFileRequest struct {
	WorkOrderID int    `json:"-" validate:"gt=0"`
	FileURL     string `json:"file_url" validate:"required,url,max=2048"`
}

// CreateInvoiceRequest raises an invoice. A zero amount bills the order balance.
type CreateInvoiceRequest struct {
	OrderID int             `json:"-" validate:"gt=0"`
	Amount  decimal.Decimal `json:"amount" validate:"gte=0"`
}

type RecordPaymentRequest struct {
	InvoiceID int             `json:"-" validate:"gt=0"`
	Method    string          `json:"method" validate:"required,oneof=cash bank_transfer card cheque mobile_money"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Reference string          `json:"reference" validate:"max=100"`
	UserID    string          `json:"-"`
}

type GatewayPaymentRequest struct {
	InvoiceID int             `json:"-" validate:"gt=0"`
	Phone     string          `json:"phone" validate:"required,max=32"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	UserID    string          `json:"-"`
}

type RefundPaymentRequest struct {
	PaymentID int    `json:"-" validate:"gt=0"`
	Reason    string `json:"reason" validate:"required,max=500"`
}
