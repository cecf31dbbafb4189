package app

import (
	"context"

	"smartmarket/internal/core"
	"smartmarket/internal/storage"
)

// ObjectStore issues signed upload URLs for work-order artwork. Only the
// resulting opaque access URL is ever stored.
type ObjectStore interface {
	SignUpload(ctx context.Context, objectKey, contentType string) (*storage.SignedUpload, error)
}

// ApplicationService is the single interface the HTTP adapter calls.
// It validates requests, maps them onto the core services and composes
// results. It holds no presentation logic.
type ApplicationService interface {
	// ── Customers ──

	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*core.Customer, error)
	GetCustomer(ctx context.Context, id int) (*core.Customer, error)
	ListCustomers(ctx context.Context) (*CustomerListResult, error)

	// ── Stock ledger ──

	// CreateMaterial registers a material and books its opening stock.
	CreateMaterial(ctx context.Context, req CreateMaterialRequest) (*core.Material, error)
	GetMaterial(ctx context.Context, id int) (*core.Material, error)
	ListMaterials(ctx context.Context) (*MaterialListResult, error)
	// ListLowStock returns materials at or below their reorder level.
	ListLowStock(ctx context.Context) (*MaterialListResult, error)
	DeleteMaterial(ctx context.Context, id int) error
	// RecordMovement appends one stock movement and updates the cached stock.
	RecordMovement(ctx context.Context, req RecordMovementRequest) (*core.StockMovement, error)
	ListMovements(ctx context.Context, req ListMovementsRequest) (*core.MovementPage, error)
	// VerifyStock replays the ledger for one material, or every material when id is nil.
	VerifyStock(ctx context.Context, id *int) (*StockVerificationResult, error)

	// ── Quotes ──

	CreateQuote(ctx context.Context, req CreateQuoteRequest) (*core.Quote, error)
	// UpdateQuote replaces a draft quote's items.
	UpdateQuote(ctx context.Context, req UpdateQuoteRequest) (*core.Quote, error)
	GetQuote(ctx context.Context, id int) (*core.Quote, error)
	ListQuotes(ctx context.Context, req ListQuotesRequest) (*QuoteListResult, error)
	// ApproveQuote converts a draft quote into an order and work order and
	// issues its materials from stock, all or nothing.
	ApproveQuote(ctx context.Context, req ApproveQuoteRequest) (*core.Approval, error)

	// ── Orders and work orders ──

	GetOrder(ctx context.Context, id int) (*OrderResult, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) (*OrderListResult, error)
	// UpdateOrderStatus moves an order along its lifecycle. Reaching ready
	// raises the invoice for the outstanding balance when none exists yet.
	UpdateOrderStatus(ctx context.Context, req UpdateOrderStatusRequest) (*OrderResult, error)
	GetWorkOrder(ctx context.Context, id int) (*core.WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, req UpdateWorkOrderRequest) (*core.WorkOrder, error)
	// RequestUpload signs a direct-to-bucket upload for a work order's artwork.
	RequestUpload(ctx context.Context, req RequestUploadRequest) (*storage.SignedUpload, error)
	AttachWorkOrderFile(ctx context.Context, req AttachFileRequest) (*core.WorkOrder, error)

	// ── Billing ──

	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*core.Invoice, error)
	GetInvoice(ctx context.Context, id int) (*InvoiceResult, error)
	GetOrderInvoice(ctx context.Context, orderID int) (*InvoiceResult, error)
	ListInvoices(ctx context.Context, status string) (*InvoiceListResult, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*core.PaymentResult, error)
	// ProcessGatewayPayment charges a customer's mobile-money wallet against an invoice.
	ProcessGatewayPayment(ctx context.Context, req GatewayPaymentRequest) (*core.PaymentResult, error)
	// CheckPaymentStatus polls the gateway for a pending payment.
	CheckPaymentStatus(ctx context.Context, paymentID int) (*core.PaymentResult, error)
	RefundPayment(ctx context.Context, req RefundPaymentRequest) (*core.PaymentResult, error)
	GetPayment(ctx context.Context, id int) (*core.Payment, error)
}
