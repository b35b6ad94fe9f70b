package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doReadiness(t *testing.T, h *Handler) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	h.ReadinessHandler()(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestLiveness_AlwaysUp(t *testing.T) {
	h := NewHandler()
	rec := httptest.NewRecorder()
	h.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness_AllUp(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", func(ctx context.Context) error { return nil })
	h.RegisterNonCritical("kafka", func(ctx context.Context) error { return nil })

	rec, resp := doReadiness(t, h)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusUp, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestReadiness_CriticalDown(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", func(ctx context.Context) error { return errors.New("refused") })

	rec, resp := doReadiness(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusDown, resp.Status)
	assert.Equal(t, "refused", resp.Checks["postgres"].Error)
}

func TestReadiness_NonCriticalDownIsDegraded(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", func(ctx context.Context) error { return nil })
	h.RegisterNonCritical("kafka", func(ctx context.Context) error { return errors.New("unreachable") })

	rec, resp := doReadiness(t, h)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusDegraded, resp.Status)
}
