package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrNonRetriable marks a handler failure that must not be retried. Wrap it
// with fmt.Errorf("...: %w", ErrNonRetriable) to divert the message straight
// to the dead-letter queue.
var ErrNonRetriable = errors.New("non-retriable")

// Handler processes a single fetched Kafka message. Handlers receive the raw
// message because inbound topics from other services do not share one
// envelope format.
type Handler func(ctx context.Context, msg kafka.Message) error

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int

	// MaxDeliveries is the number of processing attempts before a message is
	// diverted to the DLQ (or skipped when no DLQ producer is configured).
	MaxDeliveries int

	// RetryBackoff is the base wait between attempts; attempt n waits n*base.
	RetryBackoff time.Duration
}

// Consumer wraps the kafka-go reader for consuming events with bounded
// retries and dead-letter diversion.
type Consumer struct {
	reader        *kafka.Reader
	logger        *slog.Logger
	handler       Handler
	dlq           *DLQProducer
	maxDeliveries int
	retryBackoff  time.Duration
	closeOnce     sync.Once
}

// NewConsumer creates a new Kafka consumer for a specific topic and group.
// The dlq producer may be nil, in which case poison messages are logged and
// committed without diversion.
func NewConsumer(cfg ConsumerConfig, handler Handler, dlq *DLQProducer, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	maxDeliveries := cfg.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = 3
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 100 * time.Millisecond
	}

	return &Consumer{
		reader:        r,
		logger:        logger,
		handler:       handler,
		dlq:           dlq,
		maxDeliveries: maxDeliveries,
		retryBackoff:  retryBackoff,
	}
}

// Start begins consuming messages. It blocks until the context is canceled.
// Messages are acknowledged (committed) only after the handler succeeds or
// the message has been diverted to the DLQ.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.String("topic", c.reader.Config().Topic),
		slog.String("group", c.reader.Config().GroupID),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", slog.String("topic", c.reader.Config().Topic))
			return c.Close()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
				continue
			}

			if err := c.process(ctx, msg); err != nil {
				c.divert(ctx, msg, err)
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("failed to commit message", slog.String("error", err.Error()))
			}
		}
	}
}

// process runs the handler with bounded retries. Non-retriable errors abort
// the retry loop immediately.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxDeliveries; attempt++ {
		err := c.handler(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrNonRetriable) {
			c.logger.Warn("handler failed with non-retriable error",
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
			return err
		}

		c.logger.Warn("handler failed, will retry",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Int("max_deliveries", c.maxDeliveries),
			slog.String("error", err.Error()),
		)

		if attempt < c.maxDeliveries {
			backoff := time.Duration(attempt) * c.retryBackoff
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

// divert publishes the failed message to the DLQ, or logs and drops when no
// DLQ producer is configured.
func (c *Consumer) divert(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		c.logger.Error("handler failed after all deliveries, skipping poison message",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", cause.Error()),
		)
		return
	}

	if err := c.dlq.Publish(ctx, msg, cause, c.reader.Config().GroupID); err != nil {
		c.logger.Error("failed to divert poison message to DLQ",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
