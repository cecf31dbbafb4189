package core

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Material is a stocked raw material. CurrentStock is a cache of the ledger:
// it only changes together with a StockMovement row.
type Material struct {
	ID           int             `json:"id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Category     string          `json:"category"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LowStock reports whether the material is at or below its reorder level.
func (m Material) LowStock() bool {
	return m.CurrentStock.LessThanOrEqual(m.ReorderLevel)
}

// MaterialInput holds the fields needed to register a new material.
// OpeningStock is booked as an adjustment movement referenced OPENING.
type MaterialInput struct {
	Name         string
	Unit         string
	Category     string
	ReorderLevel decimal.Decimal
	OpeningStock decimal.Decimal
	UserID       string
}

// MovementType is the closed set of stock ledger entry kinds.
type MovementType string

const (
	MovementGRN        MovementType = "grn"
	MovementIssue      MovementType = "issue"
	MovementReturn     MovementType = "return"
	MovementAdjustment MovementType = "adjustment"
	MovementDamage     MovementType = "damage"
)

// ParseMovementType rejects anything outside the closed set.
func ParseMovementType(s string) (MovementType, error) {
	t := MovementType(s)
	if !t.Valid() {
		return "", invalid(ErrUnknownValue, "movement type %q", s)
	}
	return t, nil
}

func (t MovementType) Valid() bool {
	switch t {
	case MovementGRN, MovementIssue, MovementReturn, MovementAdjustment, MovementDamage:
		return true
	}
	return false
}

// Apply returns the stock level after a movement of qty.
// grn and return add, issue and damage subtract, adjustment sets the absolute level.
func (t MovementType) Apply(current, qty decimal.Decimal) (decimal.Decimal, error) {
	switch t {
	case MovementGRN, MovementReturn:
		return current.Add(qty), nil
	case MovementIssue, MovementDamage:
		if current.LessThan(qty) {
			return current, &InsufficientStockError{Available: current, Requested: qty}
		}
		return current.Sub(qty), nil
	case MovementAdjustment:
		return qty, nil
	}
	return current, invalid(ErrUnknownValue, "movement type %q", string(t))
}

// StockMovement is one immutable ledger row.
type StockMovement struct {
	ID         int             `json:"id"`
	MaterialID int             `json:"material_id"`
	Type       MovementType    `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	StockAfter decimal.Decimal `json:"stock_after"`
	Reference  string          `json:"reference"`
	UserID     string          `json:"user_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MovementInput is the request to append one ledger entry.
type MovementInput struct {
	MaterialID int
	Type       MovementType
	Quantity   decimal.Decimal
	Reference  string
	UserID     string
}

func (in MovementInput) validate() error {
	if in.MaterialID <= 0 {
		return invalid(ErrInvalidInput, "material id is required")
	}
	if !in.Type.Valid() {
		return invalid(ErrUnknownValue, "movement type %q", string(in.Type))
	}
	if !in.Quantity.IsPositive() {
		return invalid(ErrInvalidQuantity, "got %s", in.Quantity.String())
	}
	if err := checkQuantity(in.Quantity, "quantity"); err != nil {
		return err
	}
	if len(in.Reference) > 100 {
		return invalid(ErrInvalidInput, "reference exceeds 100 characters")
	}
	return nil
}

// MovementFilter narrows ListMovements. Zero values mean "any".
type MovementFilter struct {
	MaterialID *int
	Type       *MovementType
	From       *time.Time
	To         *time.Time
}

// Page is a 1-based page request.
type Page struct {
	Page     int
	PageSize int
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxPage         = 1_000_000
)

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > maxPage {
		p.Page = maxPage
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

func (p Page) offset() int { return (p.Page - 1) * p.PageSize }

// MovementPage is one page of ledger rows, newest first.
type MovementPage struct {
	Movements []StockMovement `json:"movements"`
	Page      int             `json:"page"`
	PageSize  int             `json:"page_size"`
	Total     int             `json:"total"`
}

// StockDrift is the result of replaying a material's ledger against its cache.
type StockDrift struct {
	MaterialID int             `json:"material_id"`
	Material   string          `json:"material"`
	Cached     decimal.Decimal `json:"cached"`
	Replayed   decimal.Decimal `json:"replayed"`
	Movements  int             `json:"movements"`
}

// Consistent reports whether the cached stock matches the ledger replay.
func (d StockDrift) Consistent() bool { return d.Cached.Equal(d.Replayed) }

// OrderReference is the ledger reference used for stock moved on behalf of an order.
func OrderReference(orderID int) string {
	return "ORDER-" + strconv.Itoa(orderID)
}

// OpeningReference marks the adjustment that books a material's initial stock.
const OpeningReference = "OPENING"
