package domain

import (
	"fmt"
	"math"
)

// Quantity is a non-negative stock quantity. The zero value is a valid
// quantity of zero.
type Quantity struct {
	value int32
}

// NewQuantity creates a quantity from n. It fails with ErrIllegalQuantity
// for negative values or values beyond the 32-bit range.
func NewQuantity(n int) (Quantity, error) {
	if n < 0 || n > math.MaxInt32 {
		return Quantity{}, fmt.Errorf("%w: %d", ErrIllegalQuantity, n)
	}
	return Quantity{value: int32(n)}, nil
}

// MustQuantity is like NewQuantity but panics on invalid input. Intended for
// constants and tests.
func MustQuantity(n int) Quantity {
	q, err := NewQuantity(n)
	if err != nil {
		panic(err)
	}
	return q
}

// Int returns the quantity as an int.
func (q Quantity) Int() int {
	return int(q.value)
}

// IsZero reports whether the quantity is zero.
func (q Quantity) IsZero() bool {
	return q.value == 0
}

// Add returns q + other, failing with ErrQuantityOverflow if the sum leaves
// the 32-bit range.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	if q.value > math.MaxInt32-other.value {
		return Quantity{}, fmt.Errorf("%w: %d + %d", ErrQuantityOverflow, q.value, other.value)
	}
	return Quantity{value: q.value + other.value}, nil
}

// Sub returns q - other, failing with ErrQuantityUnderflow if the result
// would be negative.
func (q Quantity) Sub(other Quantity) (Quantity, error) {
	if other.value > q.value {
		return Quantity{}, fmt.Errorf("%w: %d - %d", ErrQuantityUnderflow, q.value, other.value)
	}
	return Quantity{value: q.value - other.value}, nil
}

// LessThan reports whether q < other.
func (q Quantity) LessThan(other Quantity) bool {
	return q.value < other.value
}

// AtMost reports whether q <= other.
func (q Quantity) AtMost(other Quantity) bool {
	return q.value <= other.value
}

func (q Quantity) String() string {
	return fmt.Sprintf("%d", q.value)
}
