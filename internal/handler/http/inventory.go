// Package http exposes the inventory service over REST. Reservations are
// normally driven by order events; these endpoints serve admin tooling and
// synchronous callers.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/inventory/internal/domain"
	"github.com/shopforge/inventory/internal/repository"
	"github.com/shopforge/inventory/internal/service"
	apperrors "github.com/shopforge/inventory/pkg/errors"
	"github.com/shopforge/inventory/pkg/httputil"
)

// InventoryService is the slice of the service layer the handlers use.
type InventoryService interface {
	CreateProduct(ctx context.Context, name string, initialStock, lowStockThreshold int) (*domain.Product, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListLowStock(ctx context.Context, limit, offset int) ([]repository.ProductSummary, int, error)
	Reserve(ctx context.Context, productID, orderID string, quantity int) (domain.Reservation, error)
	ReserveBatch(ctx context.Context, orderID string, items []service.BatchItem, atomic bool) ([]service.BatchItemResult, error)
	Deduct(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID, reason string) error
	ReleaseByOrder(ctx context.Context, orderID, reason string) error
	AddStock(ctx context.Context, productID string, quantity int) error
	AdjustStock(ctx context.Context, productID string, newTotal int, reason string) error
	DeductDirect(ctx context.Context, productID string, quantity int) error
	ActivateProduct(ctx context.Context, productID string) error
	DeactivateProduct(ctx context.Context, productID string) error
}

// InventoryHandler serves the inventory REST API.
type InventoryHandler struct {
	svc    InventoryService
	logger *slog.Logger
}

func NewInventoryHandler(svc InventoryService, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{svc: svc, logger: logger}
}

type createProductRequest struct {
	Name              string `json:"name" validate:"required"`
	InitialStock      int    `json:"initialStock" validate:"gte=0"`
	LowStockThreshold int    `json:"lowStockThreshold" validate:"gte=0"`
}

type reserveRequest struct {
	OrderID  string `json:"orderId" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

type batchReserveRequest struct {
	OrderID string             `json:"orderId" validate:"required"`
	Atomic  *bool              `json:"atomic"`
	Items   []batchReserveItem `json:"items" validate:"required,min=1,dive"`
}

type batchReserveItem struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type adjustStockRequest struct {
	NewTotal int    `json:"newTotal" validate:"gte=0"`
	Reason   string `json:"reason" validate:"required"`
}

type reservationResponse struct {
	ReservationID string    `json:"reservationId"`
	ProductID     string    `json:"productId"`
	OrderID       string    `json:"orderId"`
	Quantity      int       `json:"quantity"`
	ReservedAt    time.Time `json:"reservedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type productResponse struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	Available         int                   `json:"available"`
	Reserved          int                   `json:"reserved"`
	Total             int                   `json:"total"`
	LowStockThreshold int                   `json:"lowStockThreshold"`
	Active            bool                  `json:"active"`
	Version           uint64                `json:"version"`
	UpdatedAt         time.Time             `json:"updatedAt"`
	Reservations      []reservationResponse `json:"reservations,omitempty"`
}

func toReservationResponse(r domain.Reservation) reservationResponse {
	return reservationResponse{
		ReservationID: r.ID.String(),
		ProductID:     r.ProductID.String(),
		OrderID:       r.OrderID,
		Quantity:      r.Quantity.Int(),
		ReservedAt:    r.ReservedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}

func toProductResponse(p *domain.Product) productResponse {
	resp := productResponse{
		ID:                p.ID().String(),
		Name:              p.Name(),
		Available:         p.Stock().Available().Int(),
		Reserved:          p.Stock().Reserved().Int(),
		Total:             p.Stock().Total().Int(),
		LowStockThreshold: p.LowStockThreshold().Int(),
		Active:            p.Active(),
		Version:           p.Version(),
		UpdatedAt:         p.UpdatedAt(),
	}
	for _, r := range p.Stock().Reservations() {
		resp.Reservations = append(resp.Reservations, toReservationResponse(r))
	}
	return resp
}

func (h *InventoryHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	p, err := h.svc.CreateProduct(r.Context(), req.Name, req.InitialStock, req.LowStockThreshold)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: toProductResponse(p)})
}

func (h *InventoryHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toProductResponse(p)})
}

func (h *InventoryHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	summaries, total, err := h.svc.ListLowStock(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	items := make([]productResponse, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, productResponse{
			ID:                s.ID.String(),
			Name:              s.Name,
			Available:         s.Available,
			Reserved:          s.Reserved,
			Total:             s.Total,
			LowStockThreshold: s.LowStockThreshold,
			Active:            s.Active,
			Version:           s.Version,
			UpdatedAt:         s.UpdatedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"items":   items,
		"total":   total,
		"page":    page,
		"perPage": perPage,
	}})
}

func (h *InventoryHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	reservation, err := h.svc.Reserve(r.Context(), chi.URLParam(r, "productID"), req.OrderID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: toReservationResponse(reservation)})
}

type batchItemResponse struct {
	ProductID   string               `json:"productId"`
	Reserved    bool                 `json:"reserved"`
	Reservation *reservationResponse `json:"reservation,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// ReserveBatch reserves stock for several products at once. By default the
// batch is atomic: partial failures are compensated by the service before the
// error surfaces here. With "atomic": false each item is attempted
// independently and its outcome reported per item.
func (h *InventoryHandler) ReserveBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReserveRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	items := make([]service.BatchItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, service.BatchItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	atomic := req.Atomic == nil || *req.Atomic

	results, err := h.svc.ReserveBatch(r.Context(), req.OrderID, items, atomic)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	out := make([]batchItemResponse, 0, len(results))
	allReserved := true
	for _, res := range results {
		item := batchItemResponse{ProductID: res.ProductID, Reserved: res.Err == nil}
		if res.Err != nil {
			allReserved = false
			item.Error = res.Err.Error()
		} else {
			rr := toReservationResponse(res.Reservation)
			item.Reservation = &rr
		}
		out = append(out, item)
	}

	status := http.StatusCreated
	if !allReserved {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: out})
}

func (h *InventoryHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Deduct(r.Context(), chi.URLParam(r, "reservationID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) Release(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = domain.ReleaseReasonManual
	}
	if !validReleaseReason(reason) {
		httputil.WriteError(w, r, apperrors.InvalidInput("unknown release reason: "+reason), h.logger)
		return
	}

	if err := h.svc.Release(r.Context(), chi.URLParam(r, "reservationID"), reason); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) ReleaseByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if err := h.svc.ReleaseByOrder(r.Context(), orderID, domain.ReleaseReasonOrderCancelled); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if err := h.svc.AddStock(r.Context(), chi.URLParam(r, "productID"), req.Quantity); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if err := h.svc.AdjustStock(r.Context(), chi.URLParam(r, "productID"), req.NewTotal, req.Reason); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) DeductDirect(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if err := h.svc.DeductDirect(r.Context(), chi.URLParam(r, "productID"), req.Quantity); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ActivateProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivateProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validReleaseReason(reason string) bool {
	switch reason {
	case domain.ReleaseReasonOrderCancelled, domain.ReleaseReasonExpired, domain.ReleaseReasonManual:
		return true
	}
	return false
}

func pagination(r *http.Request) (page, perPage int) {
	page, perPage = 1, 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("perPage")); err == nil && v > 0 && v <= 100 {
		perPage = v
	}
	return page, perPage
}
