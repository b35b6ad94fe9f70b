package domain

import "time"

// Reservation is a hold on stock created for an order and released or
// deducted later. A reservation past its expiry is reclaimed by the sweeper.
type Reservation struct {
	ID         ReservationID
	ProductID  ProductID
	OrderID    string
	Quantity   Quantity
	ReservedAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the reservation has expired at the given instant.
// The boundary is inclusive: a reservation expiring exactly at now is
// expired.
func (r Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
