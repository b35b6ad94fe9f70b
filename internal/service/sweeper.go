package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shopforge/inventory/internal/domain"
	"github.com/shopforge/inventory/internal/lock"
	"github.com/shopforge/inventory/internal/repository"
)

var (
	sweeperReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_sweeper_released_reservations_total",
		Help: "Expired reservations released by the sweeper",
	})
	sweeperRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_sweeper_run_duration_seconds",
		Help:    "Duration of a full sweep pass",
		Buckets: prometheus.DefBuckets,
	})
	sweeperLockSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_sweeper_lock_skips_total",
		Help: "Products skipped by the sweeper because the lock was busy",
	})
)

// SweeperConfig tunes the expired-reservation sweeper.
type SweeperConfig struct {
	Interval time.Duration
	PageSize int
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	return c
}

// Sweeper periodically pages over active products with reservations and
// releases the expired ones. A product whose lock is busy is skipped; a
// live mutation on that product sweeps its expired reservations anyway, and
// the next pass retries.
type Sweeper struct {
	svc    *InventoryService
	repo   repository.ProductRepository
	logger *slog.Logger
	cfg    SweeperConfig
}

func NewSweeper(svc *InventoryService, repo repository.ProductRepository, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		svc:    svc,
		repo:   repo,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// Run sweeps immediately, then on every tick until the context is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "reservation sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("page_size", s.cfg.PageSize))

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reservation sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	released, scanned := 0, 0

	afterID := domain.ProductID("")
	for {
		ids, err := s.repo.ActiveProductsWithReservations(ctx, afterID, s.cfg.PageSize)
		if err != nil {
			s.logger.ErrorContext(ctx, "sweeper failed to page products",
				slog.String("error", err.Error()))
			break
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			scanned++
			n, err := s.svc.CleanupExpired(ctx, id)
			switch {
			case errors.Is(err, lock.ErrNotAcquired):
				sweeperLockSkipsTotal.Inc()
				s.logger.DebugContext(ctx, "sweeper skipped busy product",
					slog.String("product_id", id.String()))
			case errors.Is(err, repository.ErrNotFound):
				// Deleted between paging and cleanup; nothing to do.
			case err != nil:
				s.logger.ErrorContext(ctx, "sweeper failed to clean product",
					slog.String("product_id", id.String()),
					slog.String("error", err.Error()))
			case n > 0:
				released += n
				sweeperReleasedTotal.Add(float64(n))
			}
		}

		if len(ids) < s.cfg.PageSize {
			break
		}
		afterID = ids[len(ids)-1]
	}

	sweeperRunDuration.Observe(time.Since(start).Seconds())
	if released > 0 {
		s.logger.InfoContext(ctx, "sweep pass released expired reservations",
			slog.Int("released", released),
			slog.Int("products_scanned", scanned),
			slog.Duration("took", time.Since(start)))
	}
}
