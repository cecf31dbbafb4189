package app

import (
	"context"
	"errors"
	"fmt"

	"smartmarket/internal/config"
	"smartmarket/internal/core"
	"smartmarket/internal/storage"

	"github.com/sirupsen/logrus"
)

const moduleName = "app"

// ErrUploadsDisabled is returned by RequestUpload when no object store is configured.
var ErrUploadsDisabled = errors.New("object storage is not configured")

type appService struct {
	customers core.CustomerService
	ledger    core.StockLedger
	quotes    core.QuoteService
	orders    core.OrderService
	billing   core.BillingService
	objects   ObjectStore
	logger    *logrus.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
// objects may be nil, which disables signed uploads.
func NewAppService(
	customers core.CustomerService,
	ledger core.StockLedger,
	quotes core.QuoteService,
	orders core.OrderService,
	billing core.BillingService,
	objects ObjectStore,
	logger *logrus.Logger,
) ApplicationService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &appService{
		customers: customers,
		ledger:    ledger,
		quotes:    quotes,
		orders:    orders,
		billing:   billing,
		objects:   objects,
		logger:    logger,
	}
}

// ── Customers ────────────────────────────────────────────────────────────────

func (s *appService) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*core.Customer, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.customers.CreateCustomer(ctx, core.CustomerInput{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
	})
}

func (s *appService) GetCustomer(ctx context.Context, id int) (*core.Customer, error) {
	return s.customers.GetCustomer(ctx, id)
}

func (s *appService) ListCustomers(ctx context.Context) (*CustomerListResult, error) {
	customers, err := s.customers.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	return &CustomerListResult{Customers: customers}, nil
}

// ── Stock ledger ─────────────────────────────────────────────────────────────

func (s *appService) CreateMaterial(ctx context.Context, req CreateMaterialRequest) (*core.Material, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.ledger.CreateMaterial(ctx, core.MaterialInput{
		Name:         req.Name,
		Unit:         req.Unit,
		Category:     req.Category,
		ReorderLevel: req.ReorderLevel,
		OpeningStock: req.OpeningStock,
		UserID:       req.UserID,
	})
}

func (s *appService) GetMaterial(ctx context.Context, id int) (*core.Material, error) {
	return s.ledger.GetMaterial(ctx, id)
}

func (s *appService) ListMaterials(ctx context.Context) (*MaterialListResult, error) {
	materials, err := s.ledger.ListMaterials(ctx)
	if err != nil {
		return nil, err
	}
	return &MaterialListResult{Materials: materials}, nil
}

func (s *appService) ListLowStock(ctx context.Context) (*MaterialListResult, error) {
	materials, err := s.ledger.ListLowStock(ctx)
	if err != nil {
		return nil, err
	}
	return &MaterialListResult{Materials: materials}, nil
}

func (s *appService) DeleteMaterial(ctx context.Context, id int) error {
	return s.ledger.DeleteMaterial(ctx, id)
}

func (s *appService) RecordMovement(ctx context.Context, req RecordMovementRequest) (*core.StockMovement, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	t, err := core.ParseMovementType(req.Type)
	if err != nil {
		return nil, err
	}
	return s.ledger.RecordMovement(ctx, core.MovementInput{
		MaterialID: req.MaterialID,
		Type:       t,
		Quantity:   req.Quantity,
		Reference:  req.Reference,
		UserID:     req.UserID,
	})
}

func (s *appService) ListMovements(ctx context.Context, req ListMovementsRequest) (*core.MovementPage, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	f := core.MovementFilter{MaterialID: req.MaterialID, From: req.From, To: req.To}
	if req.Type != "" {
		t, err := core.ParseMovementType(req.Type)
		if err != nil {
			return nil, err
		}
		f.Type = &t
	}
	return s.ledger.ListMovements(ctx, f, core.Page{Page: req.Page, PageSize: req.PageSize})
}

func (s *appService) VerifyStock(ctx context.Context, id *int) (*StockVerificationResult, error) {
	var drifts []core.StockDrift
	if id != nil {
		d, err := s.ledger.VerifyMaterial(ctx, *id)
		if err != nil {
			return nil, err
		}
		drifts = []core.StockDrift{*d}
	} else {
		all, err := s.ledger.VerifyAll(ctx)
		if err != nil {
			return nil, err
		}
		drifts = all
	}

	res := &StockVerificationResult{Checked: len(drifts), Drifted: []core.StockDrift{}}
	for _, d := range drifts {
		if !d.Consistent() {
			res.Drifted = append(res.Drifted, d)
		}
	}
	if len(res.Drifted) > 0 {
		s.logger.WithFields(logrus.Fields{"module": moduleName, "drifted": len(res.Drifted)}).
			Warn("stock cache disagrees with ledger")
	}
	return res, nil
}

// ── Quotes ───────────────────────────────────────────────────────────────────

func toQuoteItems(items []QuoteItemRequest) []core.QuoteItemInput {
	out := make([]core.QuoteItemInput, len(items))
	for i, it := range items {
		out[i] = core.QuoteItemInput{
			MaterialID:  it.MaterialID,
			Description: it.Description,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		}
	}
	return out
}

func (s *appService) CreateQuote(ctx context.Context, req CreateQuoteRequest) (*core.Quote, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.quotes.CreateQuote(ctx, core.QuoteInput{
		CustomerID: req.CustomerID,
		CreatedBy:  req.CreatedBy,
		Items:      toQuoteItems(req.Items),
	})
}

func (s *appService) UpdateQuote(ctx context.Context, req UpdateQuoteRequest) (*core.Quote, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.quotes.UpdateQuote(ctx, req.QuoteID, toQuoteItems(req.Items))
}

func (s *appService) GetQuote(ctx context.Context, id int) (*core.Quote, error) {
	return s.quotes.GetQuote(ctx, id)
}

func (s *appService) ListQuotes(ctx context.Context, req ListQuotesRequest) (*QuoteListResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	f := core.QuoteFilter{CustomerID: req.CustomerID}
	if req.Status != "" {
		st, err := core.ParseQuoteStatus(req.Status)
		if err != nil {
			return nil, err
		}
		f.Status = &st
	}
	quotes, err := s.quotes.ListQuotes(ctx, f)
	if err != nil {
		return nil, err
	}
	return &QuoteListResult{Quotes: quotes}, nil
}

func (s *appService) ApproveQuote(ctx context.Context, req ApproveQuoteRequest) (*core.Approval, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.quotes.ApproveQuote(ctx, req.QuoteID, req.UserID, req.DueDate)
}

// ── Orders and work orders ───────────────────────────────────────────────────

func (s *appService) orderResult(ctx context.Context, order *core.Order) (*OrderResult, error) {
	wos, err := s.orders.ListWorkOrders(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	res := &OrderResult{Order: order, WorkOrders: wos}
	inv, err := s.billing.GetInvoiceByOrder(ctx, order.ID)
	switch {
	case err == nil:
		res.Invoice = inv
	case !errors.Is(err, core.ErrInvoiceNotFound):
		return nil, err
	}
	return res, nil
}

func (s *appService) GetOrder(ctx context.Context, id int) (*OrderResult, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.orderResult(ctx, order)
}

func (s *appService) ListOrders(ctx context.Context, req ListOrdersRequest) (*OrderListResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	f := core.OrderFilter{CustomerID: req.CustomerID}
	if req.Status != "" {
		st, err := core.ParseOrderStatus(req.Status)
		if err != nil {
			return nil, err
		}
		f.Status = &st
	}
	orders, err := s.orders.ListOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	return &OrderListResult{Orders: orders}, nil
}

func (s *appService) UpdateOrderStatus(ctx context.Context, req UpdateOrderStatusRequest) (*OrderResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	next, err := core.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.UpdateOrderStatus(ctx, req.OrderID, next, req.UserID)
	if err != nil {
		return nil, err
	}

	if next == core.OrderReady {
		// The status change is already committed; a failed invoice is logged
		// and can be raised by hand.
		_, err := s.billing.CreateInvoice(ctx, order.ID, order.Balance)
		if err != nil && !errors.Is(err, core.ErrDuplicateInvoice) {
			config.LogError(s.logger, moduleName, "UpdateOrderStatus", "auto invoice on ready", order.ID, err)
		}
	}
	return s.orderResult(ctx, order)
}

func (s *appService) GetWorkOrder(ctx context.Context, id int) (*core.WorkOrder, error) {
	return s.orders.GetWorkOrder(ctx, id)
}

func (s *appService) UpdateWorkOrder(ctx context.Context, req UpdateWorkOrderRequest) (*core.WorkOrder, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	upd := core.WorkOrderUpdate{AssignedTo: req.AssignedTo, Notes: req.Notes}
	if req.Stage != nil {
		st, err := core.ParseWorkOrderStage(*req.Stage)
		if err != nil {
			return nil, err
		}
		upd.Stage = &st
	}
	return s.orders.UpdateWorkOrder(ctx, req.WorkOrderID, upd)
}

func (s *appService) RequestUpload(ctx context.Context, req RequestUploadRequest) (*storage.SignedUpload, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if s.objects == nil {
		return nil, ErrUploadsDisabled
	}
	if _, err := s.orders.GetWorkOrder(ctx, req.WorkOrderID); err != nil {
		return nil, err
	}
	up, err := s.objects.SignUpload(ctx, storage.WorkOrderObjectKey(req.WorkOrderID, req.Filename), req.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload for work order %d: %w", req.WorkOrderID, err)
	}
	return up, nil
}

func (s *appService) AttachWorkOrderFile(ctx context.Context, req AttachFileRequest) (*core.WorkOrder, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.orders.AttachWorkOrderFile(ctx, req.WorkOrderID, req.FileURL)
}

// ── Billing ──────────────────────────────────────────────────────────────────

func (s *appService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*core.Invoice, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.billing.CreateInvoice(ctx, req.OrderID, req.Amount)
}

func (s *appService) invoiceResult(ctx context.Context, inv *core.Invoice) (*InvoiceResult, error) {
	payments, err := s.billing.ListPayments(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv, Payments: payments}, nil
}

func (s *appService) GetInvoice(ctx context.Context, id int) (*InvoiceResult, error) {
	inv, err := s.billing.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.invoiceResult(ctx, inv)
}

func (s *appService) GetOrderInvoice(ctx context.Context, orderID int) (*InvoiceResult, error) {
	inv, err := s.billing.GetInvoiceByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.invoiceResult(ctx, inv)
}

func (s *appService) ListInvoices(ctx context.Context, status string) (*InvoiceListResult, error) {
	var filter *core.InvoiceStatus
	if status != "" {
		st, err := core.ParseInvoiceStatus(status)
		if err != nil {
			return nil, err
		}
		filter = &st
	}
	invoices, err := s.billing.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &InvoiceListResult{Invoices: invoices}, nil
}

func (s *appService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*core.PaymentResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	method, err := core.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, err
	}
	return s.billing.RecordPayment(ctx, core.RecordPaymentInput{
		InvoiceID: req.InvoiceID,
		Method:    method,
		Amount:    req.Amount,
		Reference: req.Reference,
		UserID:    req.UserID,
	})
}

func (s *appService) ProcessGatewayPayment(ctx context.Context, req GatewayPaymentRequest) (*core.PaymentResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.billing.ProcessGatewayPayment(ctx, core.GatewayPaymentInput{
		InvoiceID: req.InvoiceID,
		Phone:     req.Phone,
		Amount:    req.Amount,
		UserID:    req.UserID,
	})
}

func (s *appService) CheckPaymentStatus(ctx context.Context, paymentID int) (*core.PaymentResult, error) {
	return s.billing.CheckGatewayStatus(ctx, paymentID)
}

func (s *appService) RefundPayment(ctx context.Context, req RefundPaymentRequest) (*core.PaymentResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.billing.RefundPayment(ctx, req.PaymentID, req.Reason)
}

func (s *appService) GetPayment(ctx context.Context, id int) (*core.Payment, error) {
	return s.billing.GetPayment(ctx, id)
}
