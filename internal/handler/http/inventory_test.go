package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shopforge/inventory/internal/domain"
	"github.com/shopforge/inventory/internal/repository"
	"github.com/shopforge/inventory/internal/service"
	apperrors "github.com/shopforge/inventory/pkg/errors"
	"github.com/shopforge/inventory/pkg/health"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) CreateProduct(ctx context.Context, name string, initialStock, lowStockThreshold int) (*domain.Product, error) {
	args := m.Called(ctx, name, initialStock, lowStockThreshold)
	if p := args.Get(0); p != nil {
		return p.(*domain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	args := m.Called(ctx, productID)
	if p := args.Get(0); p != nil {
		return p.(*domain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) ListLowStock(ctx context.Context, limit, offset int) ([]repository.ProductSummary, int, error) {
	args := m.Called(ctx, limit, offset)
	var summaries []repository.ProductSummary
	if s := args.Get(0); s != nil {
		summaries = s.([]repository.ProductSummary)
	}
	return summaries, args.Int(1), args.Error(2)
}

func (m *mockService) Reserve(ctx context.Context, productID, orderID string, quantity int) (domain.Reservation, error) {
	args := m.Called(ctx, productID, orderID, quantity)
	return args.Get(0).(domain.Reservation), args.Error(1)
}

func (m *mockService) ReserveBatch(ctx context.Context, orderID string, items []service.BatchItem, atomic bool) ([]service.BatchItemResult, error) {
	args := m.Called(ctx, orderID, items, atomic)
	var results []service.BatchItemResult
	if r := args.Get(0); r != nil {
		results = r.([]service.BatchItemResult)
	}
	return results, args.Error(1)
}

func (m *mockService) Deduct(ctx context.Context, reservationID string) error {
	return m.Called(ctx, reservationID).Error(0)
}

func (m *mockService) Release(ctx context.Context, reservationID, reason string) error {
	return m.Called(ctx, reservationID, reason).Error(0)
}

func (m *mockService) ReleaseByOrder(ctx context.Context, orderID, reason string) error {
	return m.Called(ctx, orderID, reason).Error(0)
}

func (m *mockService) AddStock(ctx context.Context, productID string, quantity int) error {
	return m.Called(ctx, productID, quantity).Error(0)
}

func (m *mockService) AdjustStock(ctx context.Context, productID string, newTotal int, reason string) error {
	return m.Called(ctx, productID, newTotal, reason).Error(0)
}

func (m *mockService) DeductDirect(ctx context.Context, productID string, quantity int) error {
	return m.Called(ctx, productID, quantity).Error(0)
}

func (m *mockService) ActivateProduct(ctx context.Context, productID string) error {
	return m.Called(ctx, productID).Error(0)
}

func (m *mockService) DeactivateProduct(ctx context.Context, productID string) error {
	return m.Called(ctx, productID).Error(0)
}

func testRouter(t *testing.T) (*mockService, http.Handler) {
	t.Helper()
	svc := &mockService{}
	logger := slog.New(slog.DiscardHandler)
	router := NewRouter(NewInventoryHandler(svc, logger), health.NewHandler(), logger, "inventory-service")
	return svc, router
}

func testProduct(t *testing.T) *domain.Product {
	t.Helper()
	p, err := domain.NewProduct("gaming mouse", domain.MustQuantity(40), domain.MustQuantity(5),
		time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return p
}

func TestCreateProductEndpoint(t *testing.T) {
	t.Run("valid request returns 201", func(t *testing.T) {
		svc, router := testRouter(t)
		p := testProduct(t)
		svc.On("CreateProduct", mock.Anything, "gaming mouse", 40, 5).Return(p, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/products",
			strings.NewReader(`{"name":"gaming mouse","initialStock":40,"lowStockThreshold":5}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var body struct {
			Data productResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, p.ID().String(), body.Data.ID)
		assert.Equal(t, 40, body.Data.Available)
		svc.AssertExpectations(t)
	})

	t.Run("missing name fails validation with 400", func(t *testing.T) {
		svc, router := testRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/products",
			strings.NewReader(`{"initialStock":40}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "CreateProduct")
	})
}

func TestGetProductEndpoint(t *testing.T) {
	svc, router := testRouter(t)
	svc.On("GetProduct", mock.Anything, "missing-id").
		Return(nil, apperrors.NotFound("product", "missing-id"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/missing-id/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestReserveEndpoint(t *testing.T) {
	productID := domain.NewProductID()

	t.Run("returns the reservation with expiry", func(t *testing.T) {
		svc, router := testRouter(t)
		reservation := domain.Reservation{
			ID:        domain.NewReservationID(),
			ProductID: productID,
			OrderID:   "order-42",
			Quantity:  domain.MustQuantity(3),
			ExpiresAt: time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
		}
		svc.On("Reserve", mock.Anything, productID.String(), "order-42", 3).Return(reservation, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/products/"+productID.String()+"/reservations",
			strings.NewReader(`{"orderId":"order-42","quantity":3}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), reservation.ID.String())
		svc.AssertExpectations(t)
	})

	t.Run("insufficient stock maps to 422", func(t *testing.T) {
		svc, router := testRouter(t)
		svc.On("Reserve", mock.Anything, productID.String(), "order-42", 99).
			Return(domain.Reservation{}, apperrors.Unprocessable("insufficient stock"))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/products/"+productID.String()+"/reservations",
			strings.NewReader(`{"orderId":"order-42","quantity":99}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("non-positive quantity fails validation", func(t *testing.T) {
		svc, router := testRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/products/"+productID.String()+"/reservations",
			strings.NewReader(`{"orderId":"order-42","quantity":0}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "Reserve")
	})
}

func TestReleaseEndpoint(t *testing.T) {
	t.Run("defaults to manual reason", func(t *testing.T) {
		svc, router := testRouter(t)
		svc.On("Release", mock.Anything, "res-1", domain.ReleaseReasonManual).Return(nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/reservations/res-1/", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("rejects unknown reason", func(t *testing.T) {
		svc, router := testRouter(t)

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/reservations/res-1/?reason=WHATEVER", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "Release")
	})
}

func TestReserveBatchEndpoint(t *testing.T) {
	p1 := domain.NewProductID()
	p2 := domain.NewProductID()

	t.Run("reserves all items atomically by default", func(t *testing.T) {
		svc, router := testRouter(t)
		svc.On("ReserveBatch", mock.Anything, "order-9", []service.BatchItem{
			{ProductID: p1.String(), Quantity: 2},
			{ProductID: p2.String(), Quantity: 1},
		}, true).Return([]service.BatchItemResult{
			{ProductID: p1.String(), Reservation: domain.Reservation{ID: domain.NewReservationID(), ProductID: p1, OrderID: "order-9", Quantity: domain.MustQuantity(2)}},
			{ProductID: p2.String(), Reservation: domain.Reservation{ID: domain.NewReservationID(), ProductID: p2, OrderID: "order-9", Quantity: domain.MustQuantity(1)}},
		}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations/batch",
			strings.NewReader(`{"orderId":"order-9","items":[`+
				`{"productId":"`+p1.String()+`","quantity":2},`+
				`{"productId":"`+p2.String()+`","quantity":1}]}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("non-atomic batch reports outcomes per item", func(t *testing.T) {
		svc, router := testRouter(t)
		svc.On("ReserveBatch", mock.Anything, "order-9", []service.BatchItem{
			{ProductID: p1.String(), Quantity: 2},
			{ProductID: p2.String(), Quantity: 9},
		}, false).Return([]service.BatchItemResult{
			{ProductID: p1.String(), Reservation: domain.Reservation{ID: domain.NewReservationID(), ProductID: p1, OrderID: "order-9", Quantity: domain.MustQuantity(2)}},
			{ProductID: p2.String(), Err: apperrors.Unprocessable("insufficient stock")},
		}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations/batch",
			strings.NewReader(`{"orderId":"order-9","atomic":false,"items":[`+
				`{"productId":"`+p1.String()+`","quantity":2},`+
				`{"productId":"`+p2.String()+`","quantity":9}]}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, "partial outcome is not a 201")

		var body struct {
			Data []struct {
				ProductID string `json:"productId"`
				Reserved  bool   `json:"reserved"`
				Error     string `json:"error"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 2)
		assert.True(t, body.Data[0].Reserved)
		assert.False(t, body.Data[1].Reserved)
		assert.Contains(t, body.Data[1].Error, "insufficient stock")
		svc.AssertExpectations(t)
	})

	t.Run("empty items fail validation", func(t *testing.T) {
		svc, router := testRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations/batch",
			strings.NewReader(`{"orderId":"order-9","items":[]}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "ReserveBatch")
	})
}

func TestDeductEndpoint(t *testing.T) {
	svc, router := testRouter(t)
	svc.On("Deduct", mock.Anything, "res-1").
		Return(apperrors.Unprocessable("reservation res-1 is not active"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations/res-1/deduct", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLowStockEndpoint(t *testing.T) {
	svc, router := testRouter(t)
	svc.On("ListLowStock", mock.Anything, 20, 0).Return([]repository.ProductSummary{
		{ID: "p1", Name: "gaming mouse", Available: 2, Reserved: 1, Total: 3, LowStockThreshold: 5, Active: true},
	}, 1, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/low-stock", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gaming mouse")
	svc.AssertExpectations(t)
}
