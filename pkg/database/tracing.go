package database

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/shopforge/inventory/pkg/database"

var slowQuery struct {
	mu        sync.RWMutex
	threshold time.Duration
	logger    *slog.Logger
}

// SetSlowQueryLogging turns on warning logs for queries that run longer than
// threshold. A zero threshold switches the logging off again.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	slowQuery.mu.Lock()
	defer slowQuery.mu.Unlock()
	slowQuery.threshold = threshold
	slowQuery.logger = logger
}

func slowQuerySettings() (time.Duration, *slog.Logger) {
	slowQuery.mu.RLock()
	defer slowQuery.mu.RUnlock()
	return slowQuery.threshold, slowQuery.logger
}

// TraceQuery opens a client span around a database operation and returns the
// traced context plus a completion callback:
//
//	ctx, end := database.TraceQuery(ctx, "LoadProduct", loadQuery)
//	defer func() { end(err) }()
//
// The callback records the error on the span, ends it, and emits a slow-query
// warning when SetSlowQueryLogging armed one.
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		threshold, logger := slowQuerySettings()
		if threshold <= 0 || logger == nil {
			return
		}
		if elapsed := time.Since(start); elapsed >= threshold {
			attrs := []any{
				slog.String("operation", operation),
				slog.Duration("duration", elapsed),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			logger.WarnContext(ctx, "slow query", attrs...)
		}
	}
}
