package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ProductID identifies a product aggregate. Equality is by value; there is
// no meaningful ordering beyond the lexicographic one used for lock
// acquisition.
type ProductID string

// NewProductID generates a fresh product identifier.
func NewProductID() ProductID {
	return ProductID(uuid.New().String())
}

// ParseProductID validates s as a product identifier.
func ParseProductID(s string) (ProductID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("parse product id %q: %w", s, err)
	}
	return ProductID(s), nil
}

func (id ProductID) String() string {
	return string(id)
}

// ReservationID identifies a reservation. Generated by the inventory domain
// when a reservation is created.
type ReservationID string

// NewReservationID generates a fresh reservation identifier.
func NewReservationID() ReservationID {
	return ReservationID(uuid.New().String())
}

// ParseReservationID validates s as a reservation identifier.
func ParseReservationID(s string) (ReservationID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("parse reservation id %q: %w", s, err)
	}
	return ReservationID(s), nil
}

func (id ReservationID) String() string {
	return string(id)
}
