// Package postgres implements the product repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shopforge/inventory/internal/domain"
	"github.com/shopforge/inventory/internal/repository"
	"github.com/shopforge/inventory/pkg/database"
)

// ProductRepository persists product aggregates across the products and
// reservations tables. The product row carries the version for optimistic
// concurrency; the reservation set is rewritten on every save, which is
// cheap because a product rarely holds more than a handful of active
// reservations.
type ProductRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewProductRepository(db database.DBTX, logger *slog.Logger) *ProductRepository {
	return &ProductRepository{db: db, logger: logger}
}

const productColumns = `id, name, available, reserved, low_stock_threshold, active, version, created_at, updated_at`

type productRow struct {
	id        string
	name      string
	available int32
	reserved  int32
	threshold int32
	active    bool
	version   int64
	createdAt time.Time
	updatedAt time.Time
}

func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateProduct", "INSERT INTO products")
	defer func() { end(err) }()

	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		p.ID().String(),
		p.Name(),
		p.Stock().Available().Int(),
		p.Stock().Reserved().Int(),
		p.LowStockThreshold().Int(),
		p.Active(),
		int64(p.Version()),
		p.CreatedAt(),
		p.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("insert product %s: %w", p.ID(), err)
	}
	p.MarkPersisted()
	return nil
}

func (r *ProductRepository) Load(ctx context.Context, id domain.ProductID) (_ *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "LoadProduct", "SELECT FROM products, reservations")
	defer func() { end(err) }()

	var row productRow
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	err = r.db.QueryRow(ctx, query, id.String()).Scan(
		&row.id, &row.name, &row.available, &row.reserved, &row.threshold,
		&row.active, &row.version, &row.createdAt, &row.updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load product %s: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("load product %s: %w", id, err)
	}

	reservations, err := r.loadReservations(ctx, id)
	if err != nil {
		return nil, err
	}
	return restore(row, reservations)
}

func (r *ProductRepository) LoadBatch(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]*domain.Product, error) {
	out := make(map[domain.ProductID]*domain.Product, len(ids))
	for _, id := range ids {
		p, err := r.Load(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// Save writes the product row with the optimistic version check, then
// rewrites the reservation set, all in one transaction.
func (r *ProductRepository) Save(ctx context.Context, p *domain.Product) (err error) {
	ctx, end := database.TraceQuery(ctx, "SaveProduct", "UPDATE products; rewrite reservations")
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save product %s: begin: %w", p.ID(), err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE products
		SET name = $1, available = $2, reserved = $3, low_stock_threshold = $4,
		    active = $5, version = $6, updated_at = $7
		WHERE id = $8 AND version = $9`,
		p.Name(),
		p.Stock().Available().Int(),
		p.Stock().Reserved().Int(),
		p.LowStockThreshold().Int(),
		p.Active(),
		int64(p.Version()),
		p.UpdatedAt(),
		p.ID().String(),
		int64(p.BaseVersion()),
	)
	if err != nil {
		return fmt.Errorf("save product %s: %w", p.ID(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save product %s at version %d: %w", p.ID(), p.BaseVersion(), repository.ErrVersionConflict)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM reservations WHERE product_id = $1`, p.ID().String()); err != nil {
		return fmt.Errorf("save product %s: clear reservations: %w", p.ID(), err)
	}
	for _, res := range p.Stock().Reservations() {
		_, err := tx.Exec(ctx, `
			INSERT INTO reservations (id, product_id, order_id, quantity, reserved_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			res.ID.String(), p.ID().String(), res.OrderID, res.Quantity.Int(), res.ReservedAt, res.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("save product %s: insert reservation %s: %w", p.ID(), res.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save product %s: commit: %w", p.ID(), err)
	}
	p.MarkPersisted()
	return nil
}

func (r *ProductRepository) FindProductByReservation(ctx context.Context, id domain.ReservationID) (_ domain.ProductID, err error) {
	ctx, end := database.TraceQuery(ctx, "FindProductByReservation", "SELECT product_id FROM reservations")
	defer func() { end(err) }()

	var productID string
	err = r.db.QueryRow(ctx,
		`SELECT product_id FROM reservations WHERE id = $1`, id.String(),
	).Scan(&productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("find product by reservation %s: %w", id, repository.ErrNotFound)
		}
		return "", fmt.Errorf("find product by reservation %s: %w", id, err)
	}
	return domain.ProductID(productID), nil
}

func (r *ProductRepository) FindReservationsByOrder(ctx context.Context, orderID string) (_ []repository.ReservationRef, err error) {
	ctx, end := database.TraceQuery(ctx, "FindReservationsByOrder", "SELECT FROM reservations")
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, `
		SELECT product_id, id FROM reservations
		WHERE order_id = $1
		ORDER BY product_id, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("find reservations for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var refs []repository.ReservationRef
	for rows.Next() {
		var productID, reservationID string
		if err := rows.Scan(&productID, &reservationID); err != nil {
			return nil, fmt.Errorf("find reservations for order %s: scan: %w", orderID, err)
		}
		refs = append(refs, repository.ReservationRef{
			ProductID:     domain.ProductID(productID),
			ReservationID: domain.ReservationID(reservationID),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find reservations for order %s: %w", orderID, err)
	}
	return refs, nil
}

func (r *ProductRepository) ActiveProductsWithReservations(ctx context.Context, afterID domain.ProductID, limit int) (_ []domain.ProductID, err error) {
	ctx, end := database.TraceQuery(ctx, "ActiveProductsWithReservations", "SELECT FROM products JOIN reservations")
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT p.id
		FROM products p
		JOIN reservations res ON res.product_id = p.id
		WHERE p.active AND p.id > $1
		ORDER BY p.id
		LIMIT $2`, afterID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("page active products with reservations: %w", err)
	}
	defer rows.Close()

	var ids []domain.ProductID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("page active products with reservations: scan: %w", err)
		}
		ids = append(ids, domain.ProductID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("page active products with reservations: %w", err)
	}
	return ids, nil
}

func (r *ProductRepository) ListLowStock(ctx context.Context, limit, offset int) (_ []repository.ProductSummary, _ int, err error) {
	ctx, end := database.TraceQuery(ctx, "ListLowStock", "SELECT FROM products WHERE low stock")
	defer func() { end(err) }()

	var total int
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM products
		WHERE active AND low_stock_threshold > 0 AND available <= low_stock_threshold`,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count low stock products: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE active AND low_stock_threshold > 0 AND available <= low_stock_threshold
		ORDER BY available ASC, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock products: %w", err)
	}
	defer rows.Close()

	var summaries []repository.ProductSummary
	for rows.Next() {
		var row productRow
		if err := rows.Scan(
			&row.id, &row.name, &row.available, &row.reserved, &row.threshold,
			&row.active, &row.version, &row.createdAt, &row.updatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("list low stock products: scan: %w", err)
		}
		summaries = append(summaries, repository.ProductSummary{
			ID:                domain.ProductID(row.id),
			Name:              row.name,
			Available:         int(row.available),
			Reserved:          int(row.reserved),
			Total:             int(row.available + row.reserved),
			LowStockThreshold: int(row.threshold),
			Active:            row.active,
			Version:           uint64(row.version),
			UpdatedAt:         row.updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list low stock products: %w", err)
	}
	return summaries, total, nil
}

func (r *ProductRepository) loadReservations(ctx context.Context, id domain.ProductID) ([]domain.Reservation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, quantity, reserved_at, expires_at
		FROM reservations
		WHERE product_id = $1
		ORDER BY id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load reservations for product %s: %w", id, err)
	}
	defer rows.Close()

	var reservations []domain.Reservation
	for rows.Next() {
		var (
			resID, orderID        string
			quantity              int32
			reservedAt, expiresAt time.Time
		)
		if err := rows.Scan(&resID, &orderID, &quantity, &reservedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("load reservations for product %s: scan: %w", id, err)
		}
		q, err := domain.NewQuantity(int(quantity))
		if err != nil {
			return nil, fmt.Errorf("load reservations for product %s: %w", id, err)
		}
		reservations = append(reservations, domain.Reservation{
			ID:         domain.ReservationID(resID),
			ProductID:  id,
			OrderID:    orderID,
			Quantity:   q,
			ReservedAt: reservedAt,
			ExpiresAt:  expiresAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load reservations for product %s: %w", id, err)
	}
	return reservations, nil
}

func restore(row productRow, reservations []domain.Reservation) (*domain.Product, error) {
	available, err := domain.NewQuantity(int(row.available))
	if err != nil {
		return nil, fmt.Errorf("restore product %s: %w", row.id, err)
	}
	reserved, err := domain.NewQuantity(int(row.reserved))
	if err != nil {
		return nil, fmt.Errorf("restore product %s: %w", row.id, err)
	}
	threshold, err := domain.NewQuantity(int(row.threshold))
	if err != nil {
		return nil, fmt.Errorf("restore product %s: %w", row.id, err)
	}

	return domain.RestoreProduct(
		domain.ProductID(row.id),
		row.name,
		available, reserved, threshold,
		row.active,
		uint64(row.version),
		row.createdAt, row.updatedAt,
		reservations,
	)
}
