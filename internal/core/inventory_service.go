package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// StockLedger keeps materials.current_stock as a projection of the append-only
// stock_movements log. Every write locks the material row, appends one ledger
// row and updates the cache in the same transaction.
type StockLedger interface {
	// Master data
	CreateMaterial(ctx context.Context, in MaterialInput) (*Material, error)
	GetMaterial(ctx context.Context, id int) (*Material, error)
	ListMaterials(ctx context.Context) ([]Material, error)
	ListLowStock(ctx context.Context) ([]Material, error)
	// DeleteMaterial refuses materials that have any ledger history.
	DeleteMaterial(ctx context.Context, id int) error

	// Ledger
	RecordMovement(ctx context.Context, in MovementInput) (*StockMovement, error)
	// RecordMovementTx appends a movement inside a caller-provided transaction.
	// Used by quote approval and order cancellation so stock stays atomic with
	// the order state change.
	RecordMovementTx(ctx context.Context, tx pgx.Tx, in MovementInput) (*StockMovement, error)
	ListMovements(ctx context.Context, f MovementFilter, p Page) (*MovementPage, error)

	// Consistency checks
	VerifyMaterial(ctx context.Context, id int) (*StockDrift, error)
	VerifyAll(ctx context.Context) ([]StockDrift, error)
}

type stockLedger struct {
	db DB
}

func NewStockLedger(db DB) StockLedger {
	return &stockLedger{db: db}
}

const materialColumns = "id, name, unit, category, reorder_level, current_stock, created_at"

func scanMaterial(row pgx.Row) (*Material, error) {
	var m Material
	if err := row.Scan(&m.ID, &m.Name, &m.Unit, &m.Category, &m.ReorderLevel, &m.CurrentStock, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// ── Master data ──────────────────────────────────────────────────────────────

func (l *stockLedger) CreateMaterial(ctx context.Context, in MaterialInput) (*Material, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid(ErrInvalidInput, "material name is required")
	}
	if in.ReorderLevel.IsNegative() {
		return nil, invalid(ErrInvalidQuantity, "reorder level cannot be negative")
	}
	if in.OpeningStock.IsNegative() {
		return nil, invalid(ErrInvalidQuantity, "opening stock cannot be negative")
	}
	if err := checkQuantity(in.ReorderLevel, "reorder level"); err != nil {
		return nil, err
	}
	if err := checkQuantity(in.OpeningStock, "opening stock"); err != nil {
		return nil, err
	}
	unit := strings.TrimSpace(in.Unit)
	if unit == "" {
		unit = "pcs"
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO materials (name, unit, category, reorder_level, current_stock)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING id
	`, name, unit, strings.TrimSpace(in.Category), in.ReorderLevel).Scan(&id)
	if err != nil {
		return nil, uniqueAs(err, ErrDuplicateMaterial, "create material "+name)
	}

	if in.OpeningStock.IsPositive() {
		if _, err := l.RecordMovementTx(ctx, tx, MovementInput{
			MaterialID: id,
			Type:       MovementAdjustment,
			Quantity:   in.OpeningStock,
			Reference:  OpeningReference,
			UserID:     in.UserID,
		}); err != nil {
			return nil, err
		}
	}

	m, err := scanMaterial(tx.QueryRow(ctx, "SELECT "+materialColumns+" FROM materials WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to reload material %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit material: %w", err)
	}
	return m, nil
}

func (l *stockLedger) GetMaterial(ctx context.Context, id int) (*Material, error) {
	m, err := scanMaterial(l.db.QueryRow(ctx, "SELECT "+materialColumns+" FROM materials WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrMaterialNotFound, "material %d", id)
		}
		return nil, fmt.Errorf("failed to fetch material %d: %w", id, err)
	}
	return m, nil
}

func (l *stockLedger) ListMaterials(ctx context.Context) ([]Material, error) {
	return l.queryMaterials(ctx, "SELECT "+materialColumns+" FROM materials ORDER BY name")
}

func (l *stockLedger) ListLowStock(ctx context.Context) ([]Material, error) {
	return l.queryMaterials(ctx, "SELECT "+materialColumns+" FROM materials WHERE current_stock <= reorder_level ORDER BY name")
}

func (l *stockLedger) queryMaterials(ctx context.Context, sql string) ([]Material, error) {
	rows, err := l.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to query materials: %w", err)
	}
	defer rows.Close()

	var materials []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan material: %w", err)
		}
		materials = append(materials, *m)
	}
	return materials, rows.Err()
}

func (l *stockLedger) DeleteMaterial(ctx context.Context, id int) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT true FROM materials WHERE id = $1 FOR UPDATE", id).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(ErrMaterialNotFound, "material %d", id)
		}
		return fmt.Errorf("failed to lock material %d: %w", id, err)
	}

	var referenced bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM stock_movements WHERE material_id = $1)
		    OR EXISTS (SELECT 1 FROM quote_items WHERE material_id = $1)
	`, id).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("failed to check material references: %w", err)
	}
	if referenced {
		return conflict(ErrMaterialInUse, "material %d", id)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM materials WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete material %d: %w", id, err)
	}
	return tx.Commit(ctx)
}

// ── Ledger ───────────────────────────────────────────────────────────────────

func (l *stockLedger) RecordMovement(ctx context.Context, in MovementInput) (*StockMovement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	mv, err := l.RecordMovementTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stock movement: %w", err)
	}
	return mv, nil
}

func (l *stockLedger) RecordMovementTx(ctx context.Context, tx pgx.Tx, in MovementInput) (*StockMovement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	// Concurrent movements on the same material serialize here.
	var name string
	var current decimal.Decimal
	err := tx.QueryRow(ctx,
		"SELECT name, current_stock FROM materials WHERE id = $1 FOR UPDATE",
		in.MaterialID,
	).Scan(&name, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrMaterialNotFound, "material %d", in.MaterialID)
		}
		return nil, fmt.Errorf("failed to lock material %d: %w", in.MaterialID, err)
	}

	next, err := in.Type.Apply(current, in.Quantity)
	if err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			stockErr.MaterialID = in.MaterialID
			stockErr.Material = name
		}
		return nil, err
	}
	if !next.LessThan(maxQuantity) {
		return nil, invalid(ErrInvalidQuantity, "stock of %s would reach %s", name, next.String())
	}

	mv := StockMovement{
		MaterialID: in.MaterialID,
		Type:       in.Type,
		Quantity:   in.Quantity,
		StockAfter: next,
		Reference:  in.Reference,
		UserID:     in.UserID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO stock_movements (material_id, type, quantity, stock_after, reference, user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, mv.MaterialID, string(mv.Type), mv.Quantity, mv.StockAfter, mv.Reference, mv.UserID).Scan(&mv.ID, &mv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert stock movement: %w", err)
	}

	if _, err := tx.Exec(ctx, "UPDATE materials SET current_stock = $1 WHERE id = $2", next, in.MaterialID); err != nil {
		return nil, fmt.Errorf("failed to update stock for material %d: %w", in.MaterialID, err)
	}
	return &mv, nil
}

func (l *stockLedger) ListMovements(ctx context.Context, f MovementFilter, p Page) (*MovementPage, error) {
	p = p.normalize()

	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.MaterialID != nil {
		add("material_id = $%d", *f.MaterialID)
	}
	if f.Type != nil {
		add("type = $%d", string(*f.Type))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	page := &MovementPage{Page: p.Page, PageSize: p.PageSize, Movements: []StockMovement{}}
	if err := l.db.QueryRow(ctx, "SELECT COUNT(*) FROM stock_movements "+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count stock movements: %w", err)
	}

	args = append(args, p.PageSize, p.offset())
	rows, err := l.db.Query(ctx, fmt.Sprintf(`
		SELECT id, material_id, type, quantity, stock_after, reference, user_id, created_at
		FROM stock_movements
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mv StockMovement
		var typ string
		if err := rows.Scan(&mv.ID, &mv.MaterialID, &typ, &mv.Quantity, &mv.StockAfter, &mv.Reference, &mv.UserID, &mv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		mv.Type = MovementType(typ)
		page.Movements = append(page.Movements, mv)
	}
	return page, rows.Err()
}

// ── Consistency checks ───────────────────────────────────────────────────────

func (l *stockLedger) VerifyMaterial(ctx context.Context, id int) (*StockDrift, error) {
	m, err := l.GetMaterial(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.replay(ctx, m)
}

func (l *stockLedger) VerifyAll(ctx context.Context) ([]StockDrift, error) {
	materials, err := l.ListMaterials(ctx)
	if err != nil {
		return nil, err
	}
	drifts := make([]StockDrift, 0, len(materials))
	for i := range materials {
		d, err := l.replay(ctx, &materials[i])
		if err != nil {
			return nil, err
		}
		drifts = append(drifts, *d)
	}
	return drifts, nil
}

func (l *stockLedger) replay(ctx context.Context, m *Material) (*StockDrift, error) {
	rows, err := l.db.Query(ctx,
		"SELECT type, quantity FROM stock_movements WHERE material_id = $1 ORDER BY id",
		m.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger for material %d: %w", m.ID, err)
	}
	defer rows.Close()

	var moves []StockMovement
	for rows.Next() {
		var typ string
		var qty decimal.Decimal
		if err := rows.Scan(&typ, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		moves = append(moves, StockMovement{Type: MovementType(typ), Quantity: qty})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &StockDrift{
		MaterialID: m.ID,
		Material:   m.Name,
		Cached:     m.CurrentStock,
		Replayed:   ReplayLedger(moves),
		Movements:  len(moves),
	}, nil
}

// ReplayLedger folds movements from zero stock. Movements that would drive
// stock negative are applied anyway so the drift shows up in the result.
func ReplayLedger(moves []StockMovement) decimal.Decimal {
	stock := decimal.Zero
	for _, mv := range moves {
		next, err := mv.Type.Apply(stock, mv.Quantity)
		if err != nil {
			var stockErr *InsufficientStockError
			if !errors.As(err, &stockErr) {
				continue
			}
			next = stock.Sub(mv.Quantity)
		}
		stock = next
	}
	return stock
}
