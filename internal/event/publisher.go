// Package event connects the domain to Kafka: it publishes domain events on
// their topics and handles inbound order events.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/shopforge/inventory/internal/domain"
	pkgkafka "github.com/shopforge/inventory/pkg/kafka"
)

// AggregateTypeProduct is the aggregate type stamped on outbound envelopes.
const AggregateTypeProduct = "product"

// wireProducer is the slice of pkg/kafka.Producer the publisher needs.
type wireProducer interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Publisher wraps domain events in the standard envelope and publishes them
// on the topic named after the event type. A circuit breaker sheds load from
// a broker outage quickly instead of stacking up write timeouts; events
// rejected while the breaker is open are logged and lost, consistent with
// publication being best-effort after the state is committed.
type Publisher struct {
	producer wireProducer
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   *slog.Logger
	source   string
}

func NewPublisher(producer wireProducer, source string, logger *slog.Logger) *Publisher {
	p := &Publisher{
		producer: producer,
		logger:   logger,
		source:   source,
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "kafka-publisher",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publisher circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return p
}

// Publish sends one domain event. The envelope carries the aggregate version
// so consumers see a strictly increasing sequence per product.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	envelope, err := pkgkafka.NewEvent(
		ev.EventType(),
		ev.Aggregate().String(),
		AggregateTypeProduct,
		p.source,
		ev.EventVersion(),
		ev,
	)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.EventType(), err)
	}
	if cid := ev.CorrelationID(); cid != "" {
		envelope.WithCorrelationID(cid)
	}

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.producer.Publish(ctx, ev.EventType(), envelope)
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", ev.EventType(), err)
	}
	return nil
}
