package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// QuoteService owns quote CRUD and the one-way draft → approved transition.
//
// Approval is the only operation that touches stock: in one transaction it
// creates the order and its work order and issues every material-backed item
// from the stock ledger. Any failure rolls the whole approval back.
type QuoteService interface {
	CreateQuote(ctx context.Context, in QuoteInput) (*Quote, error)
	// UpdateQuote replaces the full item set of a draft quote and recomputes its total.
	UpdateQuote(ctx context.Context, quoteID int, items []QuoteItemInput) (*Quote, error)
	GetQuote(ctx context.Context, quoteID int) (*Quote, error)
	ListQuotes(ctx context.Context, f QuoteFilter) ([]Quote, error)
	ApproveQuote(ctx context.Context, quoteID int, userID string, dueDate *time.Time) (*Approval, error)
}

type quoteService struct {
	db     DB
	ledger StockLedger
	notify NotifyOptions
}

func NewQuoteService(db DB, ledger StockLedger, notify NotifyOptions) QuoteService {
	return &quoteService{db: db, ledger: ledger, notify: notify}
}

func (s *quoteService) CreateQuote(ctx context.Context, in QuoteInput) (*Quote, error) {
	if err := validateQuoteItems(in.Items); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := customerContact(ctx, tx, in.CustomerID); err != nil {
		return nil, err
	}
	if err := checkMaterials(ctx, tx, in.Items); err != nil {
		return nil, err
	}

	var quoteID int
	err = tx.QueryRow(ctx, `
		INSERT INTO quotes (customer_id, created_by, total_amount, status)
		VALUES ($1, $2, $3, 'draft')
		RETURNING id
	`, in.CustomerID, in.CreatedBy, QuoteTotal(in.Items)).Scan(&quoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert quote: %w", err)
	}
	if err := insertQuoteItems(ctx, tx, quoteID, in.Items); err != nil {
		return nil, err
	}

	q, err := fetchQuote(ctx, tx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit quote: %w", err)
	}
	return q, nil
}

func (s *quoteService) UpdateQuote(ctx context.Context, quoteID int, items []QuoteItemInput) (*Quote, error) {
	if err := validateQuoteItems(items); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, "SELECT status FROM quotes WHERE id = $1 FOR UPDATE", quoteID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrQuoteNotFound, "quote %d", quoteID)
		}
		return nil, fmt.Errorf("failed to lock quote %d: %w", quoteID, err)
	}
	if QuoteStatus(status) != QuoteDraft {
		return nil, conflict(ErrQuoteLocked, "quote %d is %s", quoteID, status)
	}
	if err := checkMaterials(ctx, tx, items); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM quote_items WHERE quote_id = $1", quoteID); err != nil {
		return nil, fmt.Errorf("failed to clear quote items: %w", err)
	}
	if err := insertQuoteItems(ctx, tx, quoteID, items); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "UPDATE quotes SET total_amount = $1 WHERE id = $2", QuoteTotal(items), quoteID); err != nil {
		return nil, fmt.Errorf("failed to update quote total: %w", err)
	}

	q, err := fetchQuote(ctx, tx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit quote update: %w", err)
	}
	return q, nil
}

func (s *quoteService) GetQuote(ctx context.Context, quoteID int) (*Quote, error) {
	return fetchQuote(ctx, s.db, quoteID)
}

func (s *quoteService) ListQuotes(ctx context.Context, f QuoteFilter) ([]Quote, error) {
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

	rows, err := s.db.Query(ctx, `
		SELECT id, customer_id, created_by, total_amount, status, created_at, approved_at
		FROM quotes `+where+`
		ORDER BY created_at DESC, id DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, *q)
	}
	return quotes, rows.Err()
}

// ApproveQuote transitions a draft quote to approved and materializes it:
//
//	quote → approved
//	order (status design, balance = quote total)
//	work order (stage design)
//	one issue movement per material-backed item, referenced ORDER-{id}
//
// The quote row is locked first, so of two concurrent approvals exactly one
// succeeds and the other sees ErrAlreadyApproved.
func (s *quoteService) ApproveQuote(ctx context.Context, quoteID int, userID string, dueDate *time.Time) (*Approval, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var customerID int
	var status string
	err = tx.QueryRow(ctx,
		"SELECT customer_id, status FROM quotes WHERE id = $1 FOR UPDATE",
		quoteID,
	).Scan(&customerID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrQuoteNotFound, "quote %d", quoteID)
		}
		return nil, fmt.Errorf("failed to lock quote %d: %w", quoteID, err)
	}
	if QuoteStatus(status) == QuoteApproved {
		return nil, conflict(ErrAlreadyApproved, "quote %d", quoteID)
	}

	if _, err := tx.Exec(ctx, "UPDATE quotes SET status = 'approved', approved_at = NOW() WHERE id = $1", quoteID); err != nil {
		return nil, fmt.Errorf("failed to approve quote %d: %w", quoteID, err)
	}
	quote, err := fetchQuote(ctx, tx, quoteID)
	if err != nil {
		return nil, err
	}

	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (quote_id, customer_id, status, due_date, balance)
		VALUES ($1, $2, 'design', $3, $4)
		RETURNING id
	`, quoteID, customerID, dueDate, quote.TotalAmount).Scan(&orderID)
	if err != nil {
		return nil, uniqueAs(err, ErrAlreadyApproved, fmt.Sprintf("create order for quote %d", quoteID))
	}
	order, err := fetchOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	var workOrderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO work_orders (order_id, stage, started_at)
		VALUES ($1, 'design', NOW())
		RETURNING id
	`, orderID).Scan(&workOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to create work order for order %d: %w", orderID, err)
	}
	workOrder, err := fetchWorkOrder(ctx, tx, workOrderID)
	if err != nil {
		return nil, err
	}

	movements := []StockMovement{}
	for _, it := range stockIssues(quote.Items) {
		mv, err := s.ledger.RecordMovementTx(ctx, tx, MovementInput{
			MaterialID: *it.MaterialID,
			Type:       MovementIssue,
			Quantity:   it.Quantity,
			Reference:  OrderReference(orderID),
			UserID:     userID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to issue stock for quote %d: %w", quoteID, err)
		}
		movements = append(movements, *mv)
	}

	c, err := customerContact(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	notes := c.toCustomer(
		fmt.Sprintf("Order #%d confirmed", orderID),
		fmt.Sprintf("Hello %s, your quote #%d has been approved and order #%d is now in design. Total: %s.",
			c.Name, quoteID, orderID, money(quote.TotalAmount)),
	)
	notes = append(notes, s.notify.toAdmin(
		fmt.Sprintf("Quote #%d approved", quoteID),
		fmt.Sprintf("Order #%d created for %s, total %s, %d stock issue(s).",
			orderID, c.Name, money(quote.TotalAmount), len(movements)),
	)...)
	if err := enqueueNotifications(ctx, tx, notes); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit quote approval: %w", err)
	}
	return &Approval{Quote: quote, Order: order, WorkOrder: workOrder, Movements: movements}, nil
}

// stockIssues returns the items that consume stock, ordered by material id so
// concurrent approvals acquire material row locks in the same order.
// Items without a material are service lines and are exempt from stock tracking.
func stockIssues(items []QuoteItem) []QuoteItem {
	var out []QuoteItem
	for _, it := range items {
		if it.MaterialID == nil {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].MaterialID < *out[j].MaterialID })
	return out
}

// ── helpers ──────────────────────────────────────────────────────────────────

func checkMaterials(ctx context.Context, q pgxQuerier, items []QuoteItemInput) error {
	for i, it := range items {
		if it.MaterialID == nil {
			continue
		}
		var ok bool
		if err := q.QueryRow(ctx, "SELECT true FROM materials WHERE id = $1", *it.MaterialID).Scan(&ok); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return notFound(ErrMaterialNotFound, "item %d: material %d", i+1, *it.MaterialID)
			}
			return fmt.Errorf("failed to check material %d: %w", *it.MaterialID, err)
		}
	}
	return nil
}

func insertQuoteItems(ctx context.Context, tx pgx.Tx, quoteID int, items []QuoteItemInput) error {
	for i, it := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO quote_items (quote_id, material_id, description, unit_price, quantity, total)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, quoteID, it.MaterialID, strings.TrimSpace(it.Description), it.UnitPrice, it.Quantity, LineTotal(it.UnitPrice, it.Quantity))
		if err != nil {
			return fmt.Errorf("failed to insert quote item %d: %w", i+1, err)
		}
	}
	return nil
}

func scanQuote(row pgx.Row) (*Quote, error) {
	var q Quote
	var status string
	if err := row.Scan(&q.ID, &q.CustomerID, &q.CreatedBy, &q.TotalAmount, &status, &q.CreatedAt, &q.ApprovedAt); err != nil {
		return nil, err
	}
	q.Status = QuoteStatus(status)
	return &q, nil
}

func fetchQuote(ctx context.Context, q pgxQuerier, quoteID int) (*Quote, error) {
	quote, err := scanQuote(q.QueryRow(ctx, `
		SELECT id, customer_id, created_by, total_amount, status, created_at, approved_at
		FROM quotes WHERE id = $1
	`, quoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrQuoteNotFound, "quote %d", quoteID)
		}
		return nil, fmt.Errorf("failed to fetch quote %d: %w", quoteID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, quote_id, material_id, description, unit_price, quantity, total
		FROM quote_items WHERE quote_id = $1 ORDER BY id
	`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote items: %w", err)
	}
	defer rows.Close()

	quote.Items = []QuoteItem{}
	for rows.Next() {
		var it QuoteItem
		if err := rows.Scan(&it.ID, &it.QuoteID, &it.MaterialID, &it.Description, &it.UnitPrice, &it.Quantity, &it.Total); err != nil {
			return nil, fmt.Errorf("failed to scan quote item: %w", err)
		}
		quote.Items = append(quote.Items, it)
	}
	return quote, rows.Err()
}
