package domain

import (
	"fmt"
	"strings"
	"time"
)

// Product is the inventory aggregate root. It owns its Stock, enforces the
// active flag, and records domain events for publication after a successful
// save. It is not safe for concurrent use; callers serialize access through
// the per-product distributed lock.
type Product struct {
	id                ProductID
	name              string
	stock             *Stock
	lowStockThreshold Quantity
	active            bool
	createdAt         time.Time
	updatedAt         time.Time

	// baseVersion is the stock version observed at load time, used for the
	// optimistic concurrency check on save. Zero means the product has never
	// been persisted.
	baseVersion uint64

	// lastEventVersion tracks the version assigned to the most recently
	// recorded event so that two events recorded after a single mutation
	// still get distinct, strictly increasing versions.
	lastEventVersion uint64

	pending []Event
}

// NewProduct creates an active product with an initial available quantity.
func NewProduct(name string, initial, lowStockThreshold Quantity, now time.Time) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrProductNameEmpty
	}
	return &Product{
		id:                NewProductID(),
		name:              name,
		stock:             NewStock(initial),
		lowStockThreshold: lowStockThreshold,
		active:            true,
		createdAt:         now,
		updatedAt:         now,
	}, nil
}

// RestoreProduct rebuilds a product from persisted state.
func RestoreProduct(
	id ProductID,
	name string,
	available, reserved, lowStockThreshold Quantity,
	active bool,
	version uint64,
	createdAt, updatedAt time.Time,
	reservations []Reservation,
) (*Product, error) {
	stock, err := RestoreStock(available, reserved, version, reservations)
	if err != nil {
		return nil, fmt.Errorf("restore product %s: %w", id, err)
	}
	return &Product{
		id:                id,
		name:              name,
		stock:             stock,
		lowStockThreshold: lowStockThreshold,
		active:            active,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
		baseVersion:       version,
	}, nil
}

func (p *Product) ID() ProductID { return p.id }
func (p *Product) Name() string { return p.name }
func (p *Product) Stock() *Stock { return p.stock }
func (p *Product) LowStockThreshold() Quantity { return p.lowStockThreshold }
func (p *Product) Active() bool { return p.active }
func (p *Product) CreatedAt() time.Time { return p.createdAt }
func (p *Product) UpdatedAt() time.Time { return p.updatedAt }

// Version returns the current aggregate version.
func (p *Product) Version() uint64 { return p.stock.Version() }

// BaseVersion returns the version the product was loaded at. The repository
// uses it for the optimistic WHERE clause on save.
func (p *Product) BaseVersion() uint64 { return p.baseVersion }

// IsNew reports whether the product has never been saved.
func (p *Product) IsNew() bool { return p.baseVersion == 0 }

// MarkPersisted advances the base version after a successful save.
func (p *Product) MarkPersisted() { p.baseVersion = p.stock.Version() }

// LowStock reports whether available stock is at or below the threshold. A
// zero threshold means alerting is disabled, so running out of stock alone
// never counts as low.
func (p *Product) LowStock() bool {
	if p.lowStockThreshold.IsZero() {
		return false
	}
	return p.stock.Available().AtMost(p.lowStockThreshold)
}

// Reserve places a hold on stock for an order. The reservation expires at
// now+ttl; an expired reservation is reclaimed by the sweeper, not here.
func (p *Product) Reserve(orderID string, qty Quantity, ttl time.Duration, now time.Time) (Reservation, error) {
	if !p.active {
		return Reservation{}, fmt.Errorf("product %s: %w", p.id, ErrProductInactive)
	}
	if qty.IsZero() {
		return Reservation{}, fmt.Errorf("%w: reservation quantity must be positive", ErrIllegalQuantity)
	}
	wasLow := p.LowStock()
	r := Reservation{
		ID:         NewReservationID(),
		ProductID:  p.id,
		OrderID:    orderID,
		Quantity:   qty,
		ReservedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := p.stock.reserve(r); err != nil {
		return Reservation{}, fmt.Errorf("product %s: %w", p.id, err)
	}
	p.record(StockReserved{
		ProductID:      p.id,
		ReservationID:  r.ID,
		OrderID:        orderID,
		Quantity:       qty.Int(),
		AvailableAfter: p.stock.Available().Int(),
		ExpiresAt:      r.ExpiresAt,
		Version:        p.nextEventVersion(),
	})
	p.alertIfCrossedLow(wasLow)
	return r, p.touch(now)
}

// Release returns a reservation to available stock. Reason is one of the
// ReleaseReason constants.
func (p *Product) Release(id ReservationID, reason string, now time.Time) (Reservation, error) {
	r, err := p.stock.release(id)
	if err != nil {
		return Reservation{}, fmt.Errorf("product %s: %w", p.id, err)
	}
	p.record(StockReleased{
		ProductID:      p.id,
		ReservationID:  r.ID,
		OrderID:        r.OrderID,
		Quantity:       r.Quantity.Int(),
		AvailableAfter: p.stock.Available().Int(),
		Reason:         reason,
		Version:        p.nextEventVersion(),
	})
	return r, p.touch(now)
}

// Deduct confirms a reservation, permanently removing its quantity from the
// total.
func (p *Product) Deduct(id ReservationID, now time.Time) (Reservation, error) {
	r, err := p.stock.deduct(id)
	if err != nil {
		return Reservation{}, fmt.Errorf("product %s: %w", p.id, err)
	}
	p.record(StockDeducted{
		ProductID:     p.id,
		ReservationID: r.ID,
		OrderID:       r.OrderID,
		Quantity:      r.Quantity.Int(),
		TotalAfter:    p.stock.Total().Int(),
		Version:       p.nextEventVersion(),
	})
	return r, p.touch(now)
}

// DeductDirect removes quantity from available stock without a prior
// reservation, for sales channels that skip the reservation protocol.
func (p *Product) DeductDirect(qty Quantity, now time.Time) error {
	if !p.active {
		return fmt.Errorf("product %s: %w", p.id, ErrProductInactive)
	}
	if qty.IsZero() {
		return fmt.Errorf("%w: deduction quantity must be positive", ErrIllegalQuantity)
	}
	wasLow := p.LowStock()
	if err := p.stock.deductDirect(qty); err != nil {
		return fmt.Errorf("product %s: %w", p.id, err)
	}
	p.record(StockDeducted{
		ProductID:  p.id,
		Quantity:   qty.Int(),
		TotalAfter: p.stock.Total().Int(),
		Version:    p.nextEventVersion(),
	})
	p.alertIfCrossedLow(wasLow)
	return p.touch(now)
}

// AddStock increases available stock.
func (p *Product) AddStock(qty Quantity, now time.Time) error {
	if qty.IsZero() {
		return fmt.Errorf("%w: added quantity must be positive", ErrIllegalQuantity)
	}
	if err := p.stock.add(qty); err != nil {
		return fmt.Errorf("product %s: %w", p.id, err)
	}
	p.record(StockAdjusted{
		ProductID: p.id,
		Delta:     qty.Int(),
		NewTotal:  p.stock.Total().Int(),
		Reason:    "STOCK_ADDED",
		Version:   p.nextEventVersion(),
	})
	return p.touch(now)
}

// AdjustTotal sets the total stock to newTotal, e.g. after a physical count.
// Reserved quantity is untouched; the adjustment fails if newTotal is below
// it.
func (p *Product) AdjustTotal(newTotal Quantity, reason string, now time.Time) error {
	wasLow := p.LowStock()
	delta, err := p.stock.adjust(newTotal)
	if err != nil {
		return fmt.Errorf("product %s: %w", p.id, err)
	}
	p.record(StockAdjusted{
		ProductID: p.id,
		Delta:     delta,
		NewTotal:  p.stock.Total().Int(),
		Reason:    reason,
		Version:   p.nextEventVersion(),
	})
	p.alertIfCrossedLow(wasLow)
	return p.touch(now)
}

// CleanupExpired releases every reservation expired at now and records a
// StockReleased event per reservation with the EXPIRED reason. Returns the
// released reservations; empty means nothing to do and no version bump.
func (p *Product) CleanupExpired(now time.Time) ([]Reservation, error) {
	swept := p.stock.sweepExpired(now)
	if len(swept) == 0 {
		return nil, nil
	}
	for _, r := range swept {
		p.record(StockReleased{
			ProductID:      p.id,
			ReservationID:  r.ID,
			OrderID:        r.OrderID,
			Quantity:       r.Quantity.Int(),
			AvailableAfter: p.stock.Available().Int(),
			Reason:         ReleaseReasonExpired,
			Version:        p.nextEventVersion(),
		})
	}
	return swept, p.touch(now)
}

// Activate makes the product eligible for reservations again.
func (p *Product) Activate(now time.Time) error {
	if p.active {
		return nil
	}
	p.active = true
	p.stock.bump()
	p.recordStatusChanged()
	return p.touch(now)
}

// Deactivate blocks new reservations. Existing reservations stay live and
// can still be released or deducted.
func (p *Product) Deactivate(now time.Time) error {
	if !p.active {
		return nil
	}
	p.active = false
	p.stock.bump()
	p.recordStatusChanged()
	return p.touch(now)
}

// DrainEvents returns and clears the pending events. Called after a
// successful save; events from a failed save must be discarded with the
// aggregate itself.
func (p *Product) DrainEvents() []Event {
	out := p.pending
	p.pending = nil
	return out
}

func (p *Product) record(ev Event) {
	p.pending = append(p.pending, ev)
}

// nextEventVersion returns a version for the event about to be recorded.
// Mutations bump the stock version first, so the usual case returns the
// current version; when a second event follows the same mutation (e.g. a
// low-stock alert after a reservation) the version bumps again so published
// versions stay strictly increasing per product.
func (p *Product) nextEventVersion() uint64 {
	v := p.stock.Version()
	if v == p.lastEventVersion {
		p.stock.bump()
		v = p.stock.Version()
	}
	p.lastEventVersion = v
	return v
}

func (p *Product) recordStatusChanged() {
	p.record(ProductStatusChanged{
		ProductID: p.id,
		Active:    p.active,
		Version:   p.nextEventVersion(),
	})
}

func (p *Product) alertIfCrossedLow(wasLow bool) {
	if wasLow || !p.LowStock() {
		return
	}
	p.record(LowStockAlert{
		ProductID: p.id,
		Available: p.stock.Available().Int(),
		Threshold: p.lowStockThreshold.Int(),
		Version:   p.nextEventVersion(),
	})
}

func (p *Product) touch(now time.Time) error {
	p.updatedAt = now
	if err := p.stock.invariant(); err != nil {
		return fmt.Errorf("product %s: %w", p.id, err)
	}
	return nil
}
