package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("row missing")
	appErr := &AppError{Code: "NOT_FOUND", Message: "product missing", Status: http.StatusNotFound, Err: inner}

	assert.Contains(t, appErr.Error(), "NOT_FOUND")
	assert.Contains(t, appErr.Error(), "product missing")
	assert.Equal(t, inner, appErr.Unwrap())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		status int
		target error
	}{
		{"not found", NotFound("product", "p-1"), http.StatusNotFound, ErrNotFound},
		{"already exists", AlreadyExists("product", "sku", "ABC"), http.StatusConflict, ErrAlreadyExists},
		{"invalid input", InvalidInput("bad"), http.StatusBadRequest, ErrInvalidInput},
		{"conflict", Conflict("version mismatch"), http.StatusConflict, ErrConflict},
		{"unprocessable", Unprocessable("insufficient stock"), http.StatusUnprocessableEntity, ErrUnprocessable},
		{"unavailable", Unavailable("lock busy"), http.StatusServiceUnavailable, ErrServiceUnavail},
		{"internal", Internal(errors.New("boom")), http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			if tt.target != nil {
				assert.ErrorIs(t, tt.err, tt.target)
			}
		})
	}
}

func TestHTTPStatus_Sentinels(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrConflict))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(fmt.Errorf("wrapped: %w", ErrInvalidInput)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("unknown")))
}
