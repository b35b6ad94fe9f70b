package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_EmitsServiceField(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("inventory", "info", &buf)
	l.Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "inventory", record["service"])
	assert.Equal(t, "hello", record["msg"])
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("inventory", "warn", &buf)

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-1")
	assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	var buf bytes.Buffer
	l := NewWithWriter("inventory", "info", &buf)
	ctx := NewContext(context.Background(), l)
	assert.Equal(t, l, FromContext(ctx))
}

func TestWithContext_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter("inventory", "info", &buf)

	ctx := WithCorrelationID(context.Background(), "corr-42")
	WithContext(ctx, base).Info("tagged")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "corr-42", record["correlation_id"])
}
