package domain

import (
	"fmt"
	"sort"
	"time"
)

// Stock tracks the three quantity buckets of a product: available, reserved,
// and the derived total (available + reserved). All mutations go through the
// owning Product; Stock itself only enforces quantity bookkeeping.
type Stock struct {
	available    Quantity
	reserved     Quantity
	reservations map[ReservationID]Reservation
	version      uint64
}

// NewStock creates stock with an initial available quantity and no
// reservations. Version starts at 1.
func NewStock(initial Quantity) *Stock {
	return &Stock{
		available:    initial,
		reservations: make(map[ReservationID]Reservation),
		version:      1,
	}
}

// RestoreStock rebuilds stock from persisted state. It fails with
// ErrInvariantViolation if the reserved bucket does not match the sum of the
// reservations.
func RestoreStock(available, reserved Quantity, version uint64, reservations []Reservation) (*Stock, error) {
	s := &Stock{
		available:    available,
		reserved:     reserved,
		reservations: make(map[ReservationID]Reservation, len(reservations)),
		version:      version,
	}
	for _, r := range reservations {
		if _, ok := s.reservations[r.ID]; ok {
			return nil, fmt.Errorf("restore stock: %w: %s", ErrDuplicateReservation, r.ID)
		}
		s.reservations[r.ID] = r
	}
	if err := s.invariant(); err != nil {
		return nil, fmt.Errorf("restore stock: %w", err)
	}
	return s, nil
}

// Available returns the quantity open for new reservations.
func (s *Stock) Available() Quantity { return s.available }

// Reserved returns the quantity held by active reservations.
func (s *Stock) Reserved() Quantity { return s.reserved }

// Total returns available + reserved.
func (s *Stock) Total() Quantity { return mustAdd(s.available, s.reserved) }

// Version returns the optimistic concurrency version. It increases on every
// mutation.
func (s *Stock) Version() uint64 { return s.version }

// Reservation looks up an active reservation by ID.
func (s *Stock) Reservation(id ReservationID) (Reservation, bool) {
	r, ok := s.reservations[id]
	return r, ok
}

// Reservations returns a snapshot of active reservations ordered by ID, for
// persistence and inspection.
func (s *Stock) Reservations() []Reservation {
	out := make([]Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Stock) bump() { s.version++ }

// reserve moves quantity from available to reserved and records the
// reservation.
func (s *Stock) reserve(r Reservation) error {
	if _, ok := s.reservations[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateReservation, r.ID)
	}
	remaining, err := s.available.Sub(r.Quantity)
	if err != nil {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientStock, r.Quantity, s.available)
	}
	s.available = remaining
	s.reserved = mustAdd(s.reserved, r.Quantity)
	s.reservations[r.ID] = r
	s.bump()
	return nil
}

// release returns a reservation's quantity to available.
func (s *Stock) release(id ReservationID) (Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return Reservation{}, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	delete(s.reservations, id)
	s.reserved = mustSub(s.reserved, r.Quantity)
	s.available = mustAdd(s.available, r.Quantity)
	s.bump()
	return r, nil
}

// deduct confirms a reservation, removing its quantity from reserved without
// returning it to available. Total shrinks by the reserved quantity.
func (s *Stock) deduct(id ReservationID) (Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return Reservation{}, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	delete(s.reservations, id)
	s.reserved = mustSub(s.reserved, r.Quantity)
	s.bump()
	return r, nil
}

// deductDirect removes quantity straight from available, bypassing the
// reservation protocol.
func (s *Stock) deductDirect(q Quantity) error {
	remaining, err := s.available.Sub(q)
	if err != nil {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientStock, q, s.available)
	}
	s.available = remaining
	s.bump()
	return nil
}

// add increases available stock. It fails with ErrQuantityOverflow when the
// total would leave the 32-bit range; nothing changes on failure.
func (s *Stock) add(q Quantity) error {
	grown, err := s.available.Add(q)
	if err != nil {
		return err
	}
	if _, err := grown.Add(s.reserved); err != nil {
		return err
	}
	s.available = grown
	s.bump()
	return nil
}

// adjust sets the total to newTotal, keeping reserved untouched. It fails
// with ErrAdjustmentTooLow if newTotal is below the reserved quantity.
// Returns the signed delta relative to the previous total.
func (s *Stock) adjust(newTotal Quantity) (int, error) {
	newAvailable, err := newTotal.Sub(s.reserved)
	if err != nil {
		return 0, fmt.Errorf("%w: total %s, reserved %s", ErrAdjustmentTooLow, newTotal, s.reserved)
	}
	delta := newTotal.Int() - s.Total().Int()
	s.available = newAvailable
	s.bump()
	return delta, nil
}

// sweepExpired removes every reservation expired at now (inclusive boundary)
// and returns their quantities to available. The version bumps once if
// anything was swept. Swept reservations are returned ordered by expiry then
// ID so event order is deterministic.
func (s *Stock) sweepExpired(now time.Time) []Reservation {
	var swept []Reservation
	for _, r := range s.reservations {
		if r.Expired(now) {
			swept = append(swept, r)
		}
	}
	if len(swept) == 0 {
		return nil
	}
	sort.Slice(swept, func(i, j int) bool {
		if !swept[i].ExpiresAt.Equal(swept[j].ExpiresAt) {
			return swept[i].ExpiresAt.Before(swept[j].ExpiresAt)
		}
		return swept[i].ID < swept[j].ID
	})
	for _, r := range swept {
		delete(s.reservations, r.ID)
		s.reserved = mustSub(s.reserved, r.Quantity)
		s.available = mustAdd(s.available, r.Quantity)
	}
	s.bump()
	return swept
}

// invariant verifies that the reserved bucket equals the sum of active
// reservations. The available+reserved==total identity holds by construction
// since total is derived.
func (s *Stock) invariant() error {
	sum := Quantity{}
	for _, r := range s.reservations {
		sum = mustAdd(sum, r.Quantity)
	}
	if sum != s.reserved {
		return fmt.Errorf("%w: reserved %s, reservation sum %s", ErrInvariantViolation, s.reserved, sum)
	}
	return nil
}

// mustSub is used where the bookkeeping guarantees no underflow; a failure
// here means the invariant is already broken.
func mustSub(a, b Quantity) Quantity {
	q, err := a.Sub(b)
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrInvariantViolation, err))
	}
	return q
}

// mustAdd is used where the buckets only exchange quantity, so their sum was
// already range-checked when the stock grew.
func mustAdd(a, b Quantity) Quantity {
	q, err := a.Add(b)
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrInvariantViolation, err))
	}
	return q
}
