package event

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopforge/inventory/internal/domain"
	"github.com/shopforge/inventory/internal/service"
	apperrors "github.com/shopforge/inventory/pkg/errors"
	pkgkafka "github.com/shopforge/inventory/pkg/kafka"
)

type fakeInventory struct {
	reserveCalls []struct {
		orderID string
		items   []service.BatchItem
		atomic  bool
	}
	releaseCalls []struct {
		orderID string
		reason  string
	}
	reserveErr error
	releaseErr error
}

func (f *fakeInventory) ReserveBatch(_ context.Context, orderID string, items []service.BatchItem, atomic bool) ([]service.BatchItemResult, error) {
	f.reserveCalls = append(f.reserveCalls, struct {
		orderID string
		items   []service.BatchItem
		atomic  bool
	}{orderID, items, atomic})
	return nil, f.reserveErr
}

func (f *fakeInventory) ReleaseByOrder(_ context.Context, orderID, reason string) error {
	f.releaseCalls = append(f.releaseCalls, struct {
		orderID string
		reason  string
	}{orderID, reason})
	return f.releaseErr
}

func orderCreatedMessage(eventID, orderID string) kafka.Message {
	return kafka.Message{
		Topic: TopicOrderCreated,
		Value: []byte(`{
			"eventId": "` + eventID + `",
			"eventType": "OrderCreated",
			"orderId": "` + orderID + `",
			"customerId": "customer-7",
			"items": [
				{"productId": "p1", "quantity": 2},
				{"productId": "p2", "quantity": 1}
			],
			"timestamp": "2026-08-24T10:00:00Z"
		}`),
	}
}

func TestHandleOrderCreated(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("reserves all order items as a batch", func(t *testing.T) {
		inv := &fakeInventory{}
		h := NewOrderHandlers(inv, logger)

		err := h.HandleOrderCreated(ctx, orderCreatedMessage("evt-1", "order-42"))
		require.NoError(t, err)

		require.Len(t, inv.reserveCalls, 1)
		assert.Equal(t, "order-42", inv.reserveCalls[0].orderID)
		assert.Equal(t, []service.BatchItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		}, inv.reserveCalls[0].items)
		assert.True(t, inv.reserveCalls[0].atomic, "order reservations are all-or-nothing")
	})

	t.Run("malformed payload is non-retriable", func(t *testing.T) {
		inv := &fakeInventory{}
		h := NewOrderHandlers(inv, logger)

		err := h.HandleOrderCreated(ctx, kafka.Message{Topic: TopicOrderCreated, Value: []byte("{not json")})
		assert.ErrorIs(t, err, pkgkafka.ErrNonRetriable)
		assert.Empty(t, inv.reserveCalls)
	})

	t.Run("missing order id is non-retriable", func(t *testing.T) {
		inv := &fakeInventory{}
		h := NewOrderHandlers(inv, logger)

		err := h.HandleOrderCreated(ctx, kafka.Message{
			Topic: TopicOrderCreated,
			Value: []byte(`{"eventId":"evt-1","items":[{"productId":"p1","quantity":1}]}`),
		})
		assert.ErrorIs(t, err, pkgkafka.ErrNonRetriable)
	})

	t.Run("business rejection is acknowledged", func(t *testing.T) {
		inv := &fakeInventory{reserveErr: apperrors.Unprocessable("insufficient stock")}
		h := NewOrderHandlers(inv, logger)

		err := h.HandleOrderCreated(ctx, orderCreatedMessage("evt-1", "order-42"))
		assert.NoError(t, err, "insufficient stock must not trigger a redelivery")
	})

	t.Run("infrastructure failure propagates for retry", func(t *testing.T) {
		infraErr := errors.New("connection reset")
		inv := &fakeInventory{reserveErr: infraErr}
		h := NewOrderHandlers(inv, logger)

		err := h.HandleOrderCreated(ctx, orderCreatedMessage("evt-1", "order-42"))
		assert.ErrorIs(t, err, infraErr)
	})

	t.Run("duplicate delivery reserves only once", func(t *testing.T) {
		inv := &fakeInventory{}
		h := NewOrderHandlers(inv, logger)
		store := pkgkafka.NewMemoryProcessedStore(time.Hour)
		handler := pkgkafka.IdempotentHandler(store, OrderEventID, h.HandleOrderCreated, logger)

		msg := orderCreatedMessage("evt-dup", "order-42")
		require.NoError(t, handler(ctx, msg))
		require.NoError(t, handler(ctx, msg))

		assert.Len(t, inv.reserveCalls, 1, "second delivery skipped by dedup")
	})
}

func TestHandleOrderCancelled(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("releases all reservations of the order", func(t *testing.T) {
		inv := &fakeInventory{}
		h := NewOrderHandlers(inv, logger)

		err := h.HandleOrderCancelled(ctx, kafka.Message{
			Topic: TopicOrderCancelled,
			Value: []byte(`{"eventId":"evt-2","eventType":"OrderCancelled","orderId":"order-42","reason":"customer request"}`),
		})
		require.NoError(t, err)

		require.Len(t, inv.releaseCalls, 1)
		assert.Equal(t, "order-42", inv.releaseCalls[0].orderID)
		assert.Equal(t, domain.ReleaseReasonOrderCancelled, inv.releaseCalls[0].reason)
	})

	t.Run("malformed payload is non-retriable", func(t *testing.T) {
		inv := &fakeInventory{}
		h := NewOrderHandlers(inv, logger)

		err := h.HandleOrderCancelled(ctx, kafka.Message{Topic: TopicOrderCancelled, Value: []byte("][")})
		assert.ErrorIs(t, err, pkgkafka.ErrNonRetriable)
	})

	t.Run("release failure propagates for retry", func(t *testing.T) {
		infraErr := errors.New("pool exhausted")
		inv := &fakeInventory{releaseErr: infraErr}
		h := NewOrderHandlers(inv, logger)

		err := h.HandleOrderCancelled(ctx, kafka.Message{
			Topic: TopicOrderCancelled,
			Value: []byte(`{"eventId":"evt-2","orderId":"order-42"}`),
		})
		assert.ErrorIs(t, err, infraErr)
	})
}

func TestOrderEventID(t *testing.T) {
	assert.Equal(t, "evt-9", OrderEventID(kafka.Message{Value: []byte(`{"eventId":"evt-9"}`)}))
	assert.Empty(t, OrderEventID(kafka.Message{Value: []byte("garbage")}))
}
