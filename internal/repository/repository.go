// Package repository defines the persistence port for the product aggregate.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopforge/inventory/internal/domain"
)

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = errors.New("product not found")

	// ErrVersionConflict is returned when a save loses the optimistic
	// concurrency check. Callers reload and retry under the lock.
	ErrVersionConflict = errors.New("product version conflict")
)

// ReservationRef locates a reservation within its owning product.
type ReservationRef struct {
	ProductID     domain.ProductID
	ReservationID domain.ReservationID
}

// ProductRepository persists product aggregates. Save enforces optimistic
// concurrency against the version the product was loaded at.
type ProductRepository interface {
	// Create inserts a product that has never been saved.
	Create(ctx context.Context, p *domain.Product) error

	// Load fetches a product with its active reservations.
	Load(ctx context.Context, id domain.ProductID) (*domain.Product, error)

	// LoadBatch fetches multiple products keyed by ID. Missing IDs are
	// simply absent from the result.
	LoadBatch(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]*domain.Product, error)

	// Save writes the aggregate atomically: the product row guarded by the
	// version check, then the reservation set. Returns ErrVersionConflict
	// if another writer got there first.
	Save(ctx context.Context, p *domain.Product) error

	// FindProductByReservation resolves the product owning an active
	// reservation.
	FindProductByReservation(ctx context.Context, id domain.ReservationID) (domain.ProductID, error)

	// FindReservationsByOrder lists active reservations created for an
	// order, across products.
	FindReservationsByOrder(ctx context.Context, orderID string) ([]ReservationRef, error)

	// ActiveProductsWithReservations pages over active products holding at
	// least one reservation, ordered by ID, starting strictly after
	// afterID. Used by the expiry sweeper.
	ActiveProductsWithReservations(ctx context.Context, afterID domain.ProductID, limit int) ([]domain.ProductID, error)

	// ListLowStock lists active products whose available stock is at or
	// below their threshold, with total count for pagination.
	ListLowStock(ctx context.Context, limit, offset int) ([]ProductSummary, int, error)
}

// ProductSummary is a read-only projection for listings; it carries the
// quantity buckets without the reservation set.
type ProductSummary struct {
	ID                domain.ProductID
	Name              string
	Available         int
	Reserved          int
	Total             int
	LowStockThreshold int
	Active            bool
	Version           uint64
	UpdatedAt         time.Time
}
