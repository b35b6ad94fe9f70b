package domain

import "errors"

// Domain errors. These never cross the service boundary directly; use cases
// translate them into outbound events or transport errors.
var (
	// ErrIllegalQuantity is returned when a quantity is constructed from a
	// negative or out-of-range value. Caller bug, never retried.
	ErrIllegalQuantity = errors.New("quantity must be a non-negative 32-bit integer")

	// ErrQuantityUnderflow is returned by checked subtraction that would go
	// negative.
	ErrQuantityUnderflow = errors.New("quantity subtraction underflows")

	// ErrQuantityOverflow is returned by checked addition that would leave
	// the 32-bit range.
	ErrQuantityOverflow = errors.New("quantity addition overflows")

	// ErrInsufficientStock is returned when a reservation or direct deduction
	// requests more than the available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicateReservation is returned when a reservation ID is already
	// present in the stock. Caller bug, never retried.
	ErrDuplicateReservation = errors.New("duplicate reservation id")

	// ErrReservationNotFound is returned by release/deduct for an unknown
	// reservation ID. Release treats it as a no-op; deduct surfaces it.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrAdjustmentTooLow is returned when adjusting total below the
	// currently reserved quantity.
	ErrAdjustmentTooLow = errors.New("adjusted total is below reserved quantity")

	// ErrProductInactive is returned when a mutation requires an active
	// product.
	ErrProductInactive = errors.New("product is inactive")

	// ErrProductNameEmpty is returned when a product is created without a
	// name.
	ErrProductNameEmpty = errors.New("product name must not be empty")

	// ErrInvariantViolation signals corrupted stock bookkeeping. It is an
	// internal error and must never be observable across a save boundary.
	ErrInvariantViolation = errors.New("stock invariant violated")
)
