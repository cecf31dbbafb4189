package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// OrderService manages the production order lifecycle and its work orders.
// Orders are only created by quote approval.
type OrderService interface {
	GetOrder(ctx context.Context, orderID int) (*Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	// UpdateOrderStatus applies a validated transition. Cancelling returns every
	// material issued for the order to stock in the same transaction.
	UpdateOrderStatus(ctx context.Context, orderID int, next OrderStatus, userID string) (*Order, error)

	// Work orders
	GetWorkOrder(ctx context.Context, workOrderID int) (*WorkOrder, error)
	ListWorkOrders(ctx context.Context, orderID int) ([]WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, workOrderID int, upd WorkOrderUpdate) (*WorkOrder, error)
	// AttachWorkOrderFile stores an opaque object-store URL on the work order.
	AttachWorkOrderFile(ctx context.Context, workOrderID int, fileURL string) (*WorkOrder, error)
}

type orderService struct {
	db     DB
	ledger StockLedger
	notify NotifyOptions
}

func NewOrderService(db DB, ledger StockLedger, notify NotifyOptions) OrderService {
	return &orderService{db: db, ledger: ledger, notify: notify}
}

const orderColumns = "id, quote_id, customer_id, status, due_date, deposit_paid, balance, created_at, updated_at"

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	if err := row.Scan(&o.ID, &o.QuoteID, &o.CustomerID, &status, &o.DueDate, &o.DepositPaid, &o.Balance, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	return &o, nil
}

func fetchOrder(ctx context.Context, q pgxQuerier, orderID int) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrOrderNotFound, "order %d", orderID)
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	return o, nil
}

// ── Order lifecycle ──────────────────────────────────────────────────────────

func (s *orderService) GetOrder(ctx context.Context, orderID int) (*Order, error) {
	return fetchOrder(ctx, s.db, orderID)
}

func (s *orderService) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	var conds []string
	var args []any
	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.Query(ctx, "SELECT "+orderColumns+" FROM orders "+where+" ORDER BY created_at DESC, id DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, orderID int, next OrderStatus, userID string) (*Order, error) {
	if _, ok := orderTransitions[next]; !ok {
		return nil, invalid(ErrUnknownValue, "order status %q", string(next))
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var customerID int
	var current string
	err = tx.QueryRow(ctx,
		"SELECT customer_id, status FROM orders WHERE id = $1 FOR UPDATE",
		orderID,
	).Scan(&customerID, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrOrderNotFound, "order %d", orderID)
		}
		return nil, fmt.Errorf("failed to lock order %d: %w", orderID, err)
	}
	if !OrderStatus(current).CanTransition(next) {
		return nil, conflict(ErrInvalidTransition, "order %d: %s -> %s", orderID, current, next)
	}

	if next == OrderCancelled {
		if err := s.returnIssuedStockTx(ctx, tx, orderID, userID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, "UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2", string(next), orderID); err != nil {
		return nil, fmt.Errorf("failed to update order %d: %w", orderID, err)
	}

	c, err := customerContact(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	var notes []Notification
	switch next {
	case OrderReady:
		notes = c.toCustomer(
			fmt.Sprintf("Order #%d is ready", orderID),
			fmt.Sprintf("Hello %s, your order #%d is ready for pickup.", c.Name, orderID),
		)
	case OrderDelivered:
		notes = c.toCustomer(
			fmt.Sprintf("Order #%d delivered", orderID),
			fmt.Sprintf("Hello %s, order #%d has been delivered. Thank you for your business.", c.Name, orderID),
		)
	case OrderCancelled:
		notes = s.notify.toAdmin(
			fmt.Sprintf("Order #%d cancelled", orderID),
			fmt.Sprintf("Order #%d for %s was cancelled; issued materials were returned to stock.", orderID, c.Name),
		)
	}
	if err := enqueueNotifications(ctx, tx, notes); err != nil {
		return nil, err
	}

	o, err := fetchOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order status: %w", err)
	}
	return o, nil
}

// returnIssuedStockTx books a return movement for the net quantity of every
// material issued under the order's reference, in material id order.
func (s *orderService) returnIssuedStockTx(ctx context.Context, tx pgx.Tx, orderID int, userID string) error {
	ref := OrderReference(orderID)
	rows, err := tx.Query(ctx, `
		SELECT material_id,
		       SUM(CASE WHEN type = 'issue'  THEN quantity ELSE 0 END)
		     - SUM(CASE WHEN type = 'return' THEN quantity ELSE 0 END) AS outstanding
		FROM stock_movements
		WHERE reference = $1
		GROUP BY material_id
		ORDER BY material_id
	`, ref)
	if err != nil {
		return fmt.Errorf("failed to query issued stock for order %d: %w", orderID, err)
	}

	type outstanding struct {
		materialID int
		qty        decimal.Decimal
	}
	var pending []outstanding
	for rows.Next() {
		var o outstanding
		if err := rows.Scan(&o.materialID, &o.qty); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan issued stock: %w", err)
		}
		if o.qty.IsPositive() {
			pending = append(pending, o)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, o := range pending {
		if _, err := s.ledger.RecordMovementTx(ctx, tx, MovementInput{
			MaterialID: o.materialID,
			Type:       MovementReturn,
			Quantity:   o.qty,
			Reference:  ref,
			UserID:     userID,
		}); err != nil {
			return fmt.Errorf("failed to return stock for order %d: %w", orderID, err)
		}
	}
	return nil
}

// ── Work orders ──────────────────────────────────────────────────────────────

const workOrderColumns = "id, order_id, stage, assigned_to, file_url, notes, started_at, ended_at"

func scanWorkOrder(row pgx.Row) (*WorkOrder, error) {
	var w WorkOrder
	var stage string
	if err := row.Scan(&w.ID, &w.OrderID, &stage, &w.AssignedTo, &w.FileURL, &w.Notes, &w.StartedAt, &w.EndedAt); err != nil {
		return nil, err
	}
	w.Stage = WorkOrderStage(stage)
	return &w, nil
}

func fetchWorkOrder(ctx context.Context, q pgxQuerier, workOrderID int) (*WorkOrder, error) {
	w, err := scanWorkOrder(q.QueryRow(ctx, "SELECT "+workOrderColumns+" FROM work_orders WHERE id = $1", workOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrWorkOrderNotFound, "work order %d", workOrderID)
		}
		return nil, fmt.Errorf("failed to fetch work order %d: %w", workOrderID, err)
	}
	return w, nil
}

func (s *orderService) GetWorkOrder(ctx context.Context, workOrderID int) (*WorkOrder, error) {
	return fetchWorkOrder(ctx, s.db, workOrderID)
}

func (s *orderService) ListWorkOrders(ctx context.Context, orderID int) ([]WorkOrder, error) {
	if _, err := fetchOrder(ctx, s.db, orderID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, "SELECT "+workOrderColumns+" FROM work_orders WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", err)
	}
	defer rows.Close()

	var out []WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *orderService) UpdateWorkOrder(ctx context.Context, workOrderID int, upd WorkOrderUpdate) (*WorkOrder, error) {
	if upd.Stage != nil {
		if _, err := ParseWorkOrderStage(string(*upd.Stage)); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := scanWorkOrder(tx.QueryRow(ctx, "SELECT "+workOrderColumns+" FROM work_orders WHERE id = $1 FOR UPDATE", workOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrWorkOrderNotFound, "work order %d", workOrderID)
		}
		return nil, fmt.Errorf("failed to lock work order %d: %w", workOrderID, err)
	}

	if upd.Stage != nil {
		w.Stage = *upd.Stage
	}
	if upd.AssignedTo != nil {
		assignee := strings.TrimSpace(*upd.AssignedTo)
		if assignee == "" {
			w.AssignedTo = nil
		} else {
			w.AssignedTo = &assignee
		}
	}
	if upd.Notes != nil {
		w.Notes = *upd.Notes
	}

	_, err = tx.Exec(ctx, `
		UPDATE work_orders
		SET stage = $1, assigned_to = $2, notes = $3,
		    ended_at = CASE WHEN $1 = 'completed' THEN COALESCE(ended_at, NOW()) ELSE NULL END
		WHERE id = $4
	`, string(w.Stage), w.AssignedTo, w.Notes, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to update work order %d: %w", workOrderID, err)
	}

	w, err = fetchWorkOrder(ctx, tx, workOrderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit work order: %w", err)
	}
	return w, nil
}

func (s *orderService) AttachWorkOrderFile(ctx context.Context, workOrderID int, fileURL string) (*WorkOrder, error) {
	fileURL = strings.TrimSpace(fileURL)
	if fileURL == "" {
		return nil, invalid(ErrInvalidInput, "file url is required")
	}
	tag, err := s.db.Exec(ctx, "UPDATE work_orders SET file_url = $1 WHERE id = $2", fileURL, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach file to work order %d: %w", workOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, notFound(ErrWorkOrderNotFound, "work order %d", workOrderID)
	}
	return fetchWorkOrder(ctx, s.db, workOrderID)
}
