package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Customer is the party quotes, orders and invoices belong to.
// Phone is stored in E.164 form.
type Customer struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Company   string    `json:"company"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomerInput holds the fields accepted when registering a customer.
type CustomerInput struct {
	Name    string
	Email   string
	Phone   string
	Company string
}

// QuoteStatus moves one way: draft → approved.
type QuoteStatus string

const (
	QuoteDraft    QuoteStatus = "draft"
	QuoteApproved QuoteStatus = "approved"
)

func ParseQuoteStatus(s string) (QuoteStatus, error) {
	switch st := QuoteStatus(s); st {
	case QuoteDraft, QuoteApproved:
		return st, nil
	}
	return "", invalid(ErrUnknownValue, "quote status %q", s)
}

// Quote is a priced offer to a customer. TotalAmount is always the sum of
// item totals.
type Quote struct {
	ID          int             `json:"id"`
	CustomerID  int             `json:"customer_id"`
	CreatedBy   string          `json:"created_by"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      QuoteStatus     `json:"status"`
	Items       []QuoteItem     `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
}

// QuoteItem is one priced line. Items without a MaterialID are service lines
// and never touch stock.
type QuoteItem struct {
	ID          int             `json:"id"`
	QuoteID     int             `json:"quote_id"`
	MaterialID  *int            `json:"material_id,omitempty"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
}

// QuoteItemInput is one requested quote line.
type QuoteItemInput struct {
	MaterialID  *int
	Description string
	UnitPrice   decimal.Decimal
	Quantity    decimal.Decimal
}

// QuoteInput is the request to create a draft quote.
type QuoteInput struct {
	CustomerID int
	CreatedBy  string
	Items      []QuoteItemInput
}

// QuoteFilter narrows ListQuotes.
type QuoteFilter struct {
	CustomerID *int
	Status     *QuoteStatus
}

// LineTotal is unit price times quantity, rounded to cents.
func LineTotal(unitPrice, quantity decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(quantity).Round(2)
}

// QuoteTotal sums the line totals of items.
func QuoteTotal(items []QuoteItemInput) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(LineTotal(it.UnitPrice, it.Quantity))
	}
	return total
}

func validateQuoteItems(items []QuoteItemInput) error {
	if len(items) == 0 {
		return invalid(ErrInvalidInput, "quote must have at least one item")
	}
	for i, it := range items {
		if !it.Quantity.IsPositive() {
			return invalid(ErrInvalidQuantity, "item %d: got %s", i+1, it.Quantity.String())
		}
		if it.UnitPrice.IsNegative() {
			return invalid(ErrInvalidAmount, "item %d: unit price cannot be negative", i+1)
		}
		if err := checkQuantity(it.Quantity, fmt.Sprintf("item %d: quantity", i+1)); err != nil {
			return err
		}
		if err := checkMoney(it.UnitPrice, fmt.Sprintf("item %d: unit price", i+1)); err != nil {
			return err
		}
		if it.MaterialID != nil && *it.MaterialID <= 0 {
			return invalid(ErrInvalidInput, "item %d: invalid material id", i+1)
		}
	}
	if total := QuoteTotal(items); !total.LessThan(maxMoney) {
		return invalid(ErrInvalidAmount, "quote total %s is too large", total.String())
	}
	return nil
}

// OrderStatus is the closed set of production order states.
type OrderStatus string

const (
	OrderDesign    OrderStatus = "design"
	OrderPending   OrderStatus = "pending"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// orderTransitions lists the statuses reachable from each status.
// delivered and cancelled are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDesign:    {OrderPending, OrderReady, OrderCancelled},
	OrderPending:   {OrderDesign, OrderReady, OrderCancelled},
	OrderReady:     {OrderPending, OrderDelivered},
	OrderDelivered: nil,
	OrderCancelled: nil,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := orderTransitions[st]; !ok {
		return "", invalid(ErrUnknownValue, "order status %q", s)
	}
	return st, nil
}

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is a production job, created exactly once per approved quote.
type Order struct {
	ID          int             `json:"id"`
	QuoteID     *int            `json:"quote_id,omitempty"`
	CustomerID  int             `json:"customer_id"`
	Status      OrderStatus     `json:"status"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	DepositPaid decimal.Decimal `json:"deposit_paid"`
	Balance     decimal.Decimal `json:"balance"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	CustomerID *int
	Status     *OrderStatus
}

// WorkOrderStage tracks a work order through the print shop.
type WorkOrderStage string

const (
	StageDesign       WorkOrderStage = "design"
	StagePrinting     WorkOrderStage = "printing"
	StageFinishing    WorkOrderStage = "finishing"
	StageQualityCheck WorkOrderStage = "quality_check"
	StageCompleted    WorkOrderStage = "completed"
)

func ParseWorkOrderStage(s string) (WorkOrderStage, error) {
	switch st := WorkOrderStage(s); st {
	case StageDesign, StagePrinting, StageFinishing, StageQualityCheck, StageCompleted:
		return st, nil
	}
	return "", invalid(ErrUnknownValue, "work order stage %q", s)
}

// WorkOrder is the production task created alongside an order.
type WorkOrder struct {
	ID         int            `json:"id"`
	OrderID    int            `json:"order_id"`
	Stage      WorkOrderStage `json:"stage"`
	AssignedTo *string        `json:"assigned_to,omitempty"`
	FileURL    *string        `json:"file_url,omitempty"`
	Notes      string         `json:"notes"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
}

// WorkOrderUpdate carries the optional fields of a work order change.
type WorkOrderUpdate struct {
	Stage      *WorkOrderStage
	AssignedTo *string
	Notes      *string
}

// Approval is the result of approving a quote.
type Approval struct {
	Quote     *Quote          `json:"quote"`
	Order     *Order          `json:"order"`
	WorkOrder *WorkOrder      `json:"work_order"`
	Movements []StockMovement `json:"movements"`
}
