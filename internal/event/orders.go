package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shopforge/inventory/internal/domain"
	"github.com/shopforge/inventory/internal/service"
	apperrors "github.com/shopforge/inventory/pkg/errors"
	pkgkafka "github.com/shopforge/inventory/pkg/kafka"
)

// Inbound topics owned by the order service.
const (
	TopicOrderCreated   = "order-created"
	TopicOrderCancelled = "order-cancelled"
)

// OrderCreated is the inbound payload announcing a new order whose items
// need stock reserved.
type OrderCreated struct {
	EventID    string      `json:"eventId"`
	EventType  string      `json:"eventType"`
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId"`
	Items      []OrderItem `json:"items"`
	Timestamp  time.Time   `json:"timestamp"`
}

// OrderItem is one line of an inbound order.
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderCancelled is the inbound payload announcing a cancelled order whose
// reservations must be released.
type OrderCancelled struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	OrderID   string    `json:"orderId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEventID extracts the inbound event ID for idempotent processing.
// Returns empty for undecodable messages, which disables dedup and lets the
// handler reject them as non-retriable instead.
func OrderEventID(msg kafka.Message) string {
	var head struct {
		EventID string `json:"eventId"`
	}
	_ = json.Unmarshal(msg.Value, &head)
	return head.EventID
}

// InventoryCommands is the slice of the inventory service the order
// handlers drive.
type InventoryCommands interface {
	ReserveBatch(ctx context.Context, orderID string, items []service.BatchItem, atomic bool) ([]service.BatchItemResult, error)
	ReleaseByOrder(ctx context.Context, orderID, reason string) error
}

// OrderHandlers consumes order lifecycle events. Business rejections are
// acknowledged (their outcome is already published as an InsufficientStock
// event); infrastructure failures are returned so the consumer retries and
// eventually diverts to the DLQ.
type OrderHandlers struct {
	inventory InventoryCommands
	logger    *slog.Logger
}

func NewOrderHandlers(inventory InventoryCommands, logger *slog.Logger) *OrderHandlers {
	return &OrderHandlers{inventory: inventory, logger: logger}
}

// HandleOrderCreated reserves stock for every item of the order, atomically
// with compensation.
func (h *OrderHandlers) HandleOrderCreated(ctx context.Context, msg kafka.Message) error {
	var ev OrderCreated
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("%w: decode order-created: %v", pkgkafka.ErrNonRetriable, err)
	}
	if ev.OrderID == "" || len(ev.Items) == 0 {
		return fmt.Errorf("%w: order-created event %s missing order id or items", pkgkafka.ErrNonRetriable, ev.EventID)
	}

	items := make([]service.BatchItem, 0, len(ev.Items))
	for _, item := range ev.Items {
		items = append(items, service.BatchItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	_, err := h.inventory.ReserveBatch(ctx, ev.OrderID, items, true)
	if err != nil {
		if isBusinessRejection(err) {
			h.logger.WarnContext(ctx, "order could not be reserved",
				slog.String("order_id", ev.OrderID),
				slog.String("event_id", ev.EventID),
				slog.String("reason", err.Error()))
			return nil
		}
		return fmt.Errorf("reserve stock for order %s: %w", ev.OrderID, err)
	}

	h.logger.InfoContext(ctx, "order stock reserved",
		slog.String("order_id", ev.OrderID),
		slog.Int("items", len(items)))
	return nil
}

// HandleOrderCancelled releases every reservation of the order. Replays and
// cancellations for unknown orders are no-ops.
func (h *OrderHandlers) HandleOrderCancelled(ctx context.Context, msg kafka.Message) error {
	var ev OrderCancelled
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("%w: decode order-cancelled: %v", pkgkafka.ErrNonRetriable, err)
	}
	if ev.OrderID == "" {
		return fmt.Errorf("%w: order-cancelled event %s missing order id", pkgkafka.ErrNonRetriable, ev.EventID)
	}

	if err := h.inventory.ReleaseByOrder(ctx, ev.OrderID, domain.ReleaseReasonOrderCancelled); err != nil {
		return fmt.Errorf("release stock for order %s: %w", ev.OrderID, err)
	}

	h.logger.InfoContext(ctx, "order reservations released",
		slog.String("order_id", ev.OrderID))
	return nil
}

// isBusinessRejection reports whether the reservation failed for a reason
// that retrying the same message cannot fix.
func isBusinessRejection(err error) bool {
	return errors.Is(err, apperrors.ErrUnprocessable) ||
		errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrInvalidInput)
}
