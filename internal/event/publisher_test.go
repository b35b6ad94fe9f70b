package event

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopforge/inventory/internal/domain"
	pkgkafka "github.com/shopforge/inventory/pkg/kafka"
)

type fakeProducer struct {
	published []struct {
		topic string
		event *pkgkafka.Event
	}
	err error
}

func (f *fakeProducer) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, struct {
		topic string
		event *pkgkafka.Event
	}{topic, event})
	return nil
}

func TestPublisherPublish(t *testing.T) {
	ctx := context.Background()
	producer := &fakeProducer{}
	pub := NewPublisher(producer, "inventory-service", slog.New(slog.DiscardHandler))

	ev := domain.StockReserved{
		ProductID:      "p1",
		ReservationID:  "r1",
		OrderID:        "order-42",
		Quantity:       3,
		AvailableAfter: 7,
		ExpiresAt:      time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
		Version:        12,
	}
	require.NoError(t, pub.Publish(ctx, ev))

	require.Len(t, producer.published, 1)
	assert.Equal(t, "inventory.stock-reserved", producer.published[0].topic,
		"topic is named after the event type")

	env := producer.published[0].event
	assert.Equal(t, "inventory.stock-reserved", env.EventType)
	assert.Equal(t, "p1", env.AggregateID)
	assert.Equal(t, AggregateTypeProduct, env.AggregateType)
	assert.Equal(t, uint64(12), env.Version)
	assert.Equal(t, "order-42", env.CorrelationID)
	assert.Equal(t, "inventory-service", env.Source)

	var payload domain.StockReserved
	require.NoError(t, env.UnmarshalPayload(&payload))
	assert.Equal(t, ev, payload)
}

func TestPublisherCircuitBreakerOpens(t *testing.T) {
	ctx := context.Background()
	producer := &fakeProducer{err: errors.New("broker down")}
	pub := NewPublisher(producer, "inventory-service", slog.New(slog.DiscardHandler))

	ev := domain.LowStockAlert{ProductID: "p1", Available: 1, Threshold: 5, Version: 3}
	for i := 0; i < 5; i++ {
		assert.Error(t, pub.Publish(ctx, ev))
	}

	// Breaker is open now; the producer is no longer invoked.
	producer.err = nil
	err := pub.Publish(ctx, ev)
	assert.Error(t, err)
	assert.Empty(t, producer.published)
}
