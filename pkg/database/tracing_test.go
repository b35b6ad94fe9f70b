package database

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	return exporter
}

func TestTraceQuery(t *testing.T) {
	t.Run("records the operation as a client span", func(t *testing.T) {
		exporter := installTestTracer(t)

		_, end := TraceQuery(context.Background(), "LoadProduct", "SELECT FROM products")
		end(nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "db.LoadProduct", spans[0].Name)
		assert.Equal(t, codes.Unset, spans[0].Status.Code)
	})

	t.Run("marks the span on failure", func(t *testing.T) {
		exporter := installTestTracer(t)

		_, end := TraceQuery(context.Background(), "SaveProduct", "UPDATE products")
		end(errors.New("version conflict"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		require.Len(t, spans[0].Events, 1, "error recorded as span event")
	})

	t.Run("slow query logging can be disarmed", func(t *testing.T) {
		installTestTracer(t)
		SetSlowQueryLogging(time.Nanosecond, slog.New(slog.DiscardHandler))
		t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

		_, end := TraceQuery(context.Background(), "LoadProduct", "SELECT FROM products")
		end(nil)

		SetSlowQueryLogging(0, nil)
		_, end = TraceQuery(context.Background(), "LoadProduct", "SELECT FROM products")
		end(nil)
	})
}
