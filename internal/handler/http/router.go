package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopforge/inventory/pkg/health"
	"github.com/shopforge/inventory/pkg/middleware"
)

// NewRouter assembles the HTTP surface: the inventory API under /api/v1,
// health probes, and Prometheus metrics.
func NewRouter(h *InventoryHandler, healthHandler *health.Handler, logger *slog.Logger, serviceName string) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(chimiddleware.RealIP)

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.CreateProduct)
			r.Get("/low-stock", h.ListLowStock)

			r.Route("/{productID}", func(r chi.Router) {
				r.Get("/", h.GetProduct)
				r.Post("/reservations", h.Reserve)
				r.Post("/stock/add", h.AddStock)
				r.Post("/stock/adjust", h.AdjustStock)
				r.Post("/stock/deduct", h.DeductDirect)
				r.Post("/activate", h.Activate)
				r.Post("/deactivate", h.Deactivate)
			})
		})

		r.Route("/reservations/{reservationID}", func(r chi.Router) {
			r.Post("/deduct", h.Deduct)
			r.Delete("/", h.Release)
		})

		r.Post("/reservations/batch", h.ReserveBatch)
		r.Delete("/orders/{orderID}/reservations", h.ReleaseByOrder)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":"NOT_FOUND","message":"route not found"}}`, http.StatusNotFound)
	})

	return r
}
