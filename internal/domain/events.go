package domain

import "time"

// Release reasons carried on StockReleased events.
const (
	ReleaseReasonOrderCancelled = "ORDER_CANCELLED"
	ReleaseReasonExpired        = "EXPIRED"
	ReleaseReasonManual         = "MANUAL"
)

// Insufficiency reasons carried on InsufficientStock events.
const (
	InsufficientReasonNoStock  = "INSUFFICIENT"
	InsufficientReasonInactive = "PRODUCT_INACTIVE"
	InsufficientReasonNotFound = "PRODUCT_NOT_FOUND"
)

// Event is a fact recorded by the product aggregate. Events are collected on
// the aggregate and drained for publication after a successful save.
type Event interface {
	// EventType is the stable wire name of the event.
	EventType() string
	// Aggregate is the product the event belongs to.
	Aggregate() ProductID
	// EventVersion is the aggregate version assigned to this event. Versions
	// are strictly increasing per product across all recorded events.
	EventVersion() uint64
	// CorrelationID ties the event back to the order that triggered it, if
	// any.
	CorrelationID() string
}

// StockReserved records a successful reservation.
type StockReserved struct {
	ProductID      ProductID     `json:"productId"`
	ReservationID  ReservationID `json:"reservationId"`
	OrderID        string        `json:"orderId"`
	Quantity       int           `json:"quantity"`
	AvailableAfter int           `json:"availableAfter"`
	ExpiresAt      time.Time     `json:"expiresAt"`
	Version        uint64        `json:"version"`
}

func (e StockReserved) EventType() string { return "inventory.stock-reserved" }
func (e StockReserved) Aggregate() ProductID { return e.ProductID }
func (e StockReserved) EventVersion() uint64 { return e.Version }
func (e StockReserved) CorrelationID() string { return e.OrderID }

// StockDeducted records a confirmed deduction of a previously reserved
// quantity.
type StockDeducted struct {
	ProductID     ProductID     `json:"productId"`
	ReservationID ReservationID `json:"reservationId"`
	OrderID       string        `json:"orderId"`
	Quantity      int           `json:"quantity"`
	TotalAfter    int           `json:"totalAfter"`
	Version       uint64        `json:"version"`
}

func (e StockDeducted) EventType() string { return "inventory.stock-deducted" }
func (e StockDeducted) Aggregate() ProductID { return e.ProductID }
func (e StockDeducted) EventVersion() uint64 { return e.Version }
func (e StockDeducted) CorrelationID() string { return e.OrderID }

// StockReleased records a reservation returned to available stock, whether
// by cancellation, expiry, or manual release.
type StockReleased struct {
	ProductID      ProductID     `json:"productId"`
	ReservationID  ReservationID `json:"reservationId"`
	OrderID        string        `json:"orderId"`
	Quantity       int           `json:"quantity"`
	AvailableAfter int           `json:"availableAfter"`
	Reason         string        `json:"reason"`
	Version        uint64        `json:"version"`
}

func (e StockReleased) EventType() string { return "inventory.stock-released" }
func (e StockReleased) Aggregate() ProductID { return e.ProductID }
func (e StockReleased) EventVersion() uint64 { return e.Version }
func (e StockReleased) CorrelationID() string { return e.OrderID }

// StockAdjusted records an operator change to stock levels, either a
// relative add or an absolute set of the total.
type StockAdjusted struct {
	ProductID ProductID `json:"productId"`
	Delta     int       `json:"delta"`
	NewTotal  int       `json:"newTotal"`
	Reason    string    `json:"reason"`
	Version   uint64    `json:"version"`
}

func (e StockAdjusted) EventType() string { return "inventory.stock-adjusted" }
func (e StockAdjusted) Aggregate() ProductID { return e.ProductID }
func (e StockAdjusted) EventVersion() uint64 { return e.Version }
func (e StockAdjusted) CorrelationID() string { return "" }

// InsufficientStock records a reservation attempt that could not be
// fulfilled. It is correlated to the order, not to the product's version
// sequence; Version is zero when the product does not exist.
type InsufficientStock struct {
	ProductID ProductID `json:"productId"`
	OrderID   string    `json:"orderId"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	Reason    string    `json:"reason"`
	Version   uint64    `json:"version"`
}

func (e InsufficientStock) EventType() string { return "inventory.insufficient-stock" }
func (e InsufficientStock) Aggregate() ProductID { return e.ProductID }
func (e InsufficientStock) EventVersion() uint64 { return e.Version }
func (e InsufficientStock) CorrelationID() string { return e.OrderID }

// LowStockAlert records that available stock dropped to or below the
// product's low-stock threshold.
type LowStockAlert struct {
	ProductID ProductID `json:"productId"`
	Available int       `json:"available"`
	Threshold int       `json:"threshold"`
	Version   uint64    `json:"version"`
}

func (e LowStockAlert) EventType() string { return "inventory.low-stock-alert" }
func (e LowStockAlert) Aggregate() ProductID { return e.ProductID }
func (e LowStockAlert) EventVersion() uint64 { return e.Version }
func (e LowStockAlert) CorrelationID() string { return "" }

// ProductStatusChanged records an activation or deactivation.
type ProductStatusChanged struct {
	ProductID ProductID `json:"productId"`
	Active    bool      `json:"active"`
	Version   uint64    `json:"version"`
}

func (e ProductStatusChanged) EventType() string { return "inventory.product-status-changed" }
func (e ProductStatusChanged) Aggregate() ProductID { return e.ProductID }
func (e ProductStatusChanged) EventVersion() uint64 { return e.Version }
func (e ProductStatusChanged) CorrelationID() string { return "" }
