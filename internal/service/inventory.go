// Package service implements the inventory use cases: the reservation
// protocol, stock administration, and expired-reservation cleanup. Every
// stock mutation runs under the per-product distributed lock and an
// optimistic save, then publishes the aggregate's drained events.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopforge/inventory/internal/domain"
	"github.com/shopforge/inventory/internal/lock"
	"github.com/shopforge/inventory/internal/repository"
	apperrors "github.com/shopforge/inventory/pkg/errors"
)

// Config tunes the reservation protocol. Zero values are replaced by the
// defaults below.
type Config struct {
	ReservationTTL time.Duration
	LockWait       time.Duration
	LockTTL        time.Duration
	SweepLockWait  time.Duration
	SaveAttempts   int
	SaveRetryBase  time.Duration
	PublishTimeout time.Duration
	// DefaultLowStockThreshold applies when a product is created without an
	// explicit threshold. Zero keeps alerting off for such products.
	DefaultLowStockThreshold int
}

func (c Config) withDefaults() Config {
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = 30 * time.Minute
	}
	if c.LockWait <= 0 {
		c.LockWait = 3 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Second
	}
	if c.SweepLockWait <= 0 {
		c.SweepLockWait = time.Second
	}
	if c.SaveAttempts <= 0 {
		c.SaveAttempts = 3
	}
	if c.SaveRetryBase <= 0 {
		c.SaveRetryBase = 50 * time.Millisecond
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	return c
}

// EventPublisher publishes domain events after a successful save.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// InventoryService coordinates product aggregates, the distributed lock, and
// event publication.
type InventoryService struct {
	repo   repository.ProductRepository
	locker lock.Locker
	events EventPublisher
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewInventoryService(
	repo repository.ProductRepository,
	locker lock.Locker,
	events EventPublisher,
	logger *slog.Logger,
	cfg Config,
) *InventoryService {
	return &InventoryService{
		repo:   repo,
		locker: locker,
		events: events,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateProduct registers a new product with initial stock. A zero threshold
// falls back to the configured default; if that is zero too, low-stock
// alerting stays off for the product.
func (s *InventoryService) CreateProduct(ctx context.Context, name string, initialStock, lowStockThreshold int) (*domain.Product, error) {
	initial, err := domain.NewQuantity(initialStock)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("initial stock: %v", err))
	}
	if lowStockThreshold == 0 {
		lowStockThreshold = s.cfg.DefaultLowStockThreshold
	}
	threshold, err := domain.NewQuantity(lowStockThreshold)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("low stock threshold: %v", err))
	}

	p, err := domain.NewProduct(name, initial, threshold, s.now())
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logger.InfoContext(ctx, "product created",
		slog.String("product_id", p.ID().String()),
		slog.Int("initial_stock", initialStock))
	return p, nil
}

// GetProduct loads a product with its active reservations.
func (s *InventoryService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	id, err := domain.ParseProductID(productID)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	p, err := s.repo.Load(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("product", productID)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListLowStock lists active products at or below their low-stock threshold.
func (s *InventoryService) ListLowStock(ctx context.Context, limit, offset int) ([]repository.ProductSummary, int, error) {
	return s.repo.ListLowStock(ctx, limit, offset)
}

// Reserve places a hold on stock for an order. On business failure
// (unknown or inactive product, insufficient stock) an InsufficientStock
// event is published and a client error returned.
func (s *InventoryService) Reserve(ctx context.Context, productID, orderID string, quantity int) (domain.Reservation, error) {
	id, err := domain.ParseProductID(productID)
	if err != nil {
		return domain.Reservation{}, apperrors.InvalidInput(err.Error())
	}
	qty, err := domain.NewQuantity(quantity)
	if err != nil || qty.IsZero() {
		return domain.Reservation{}, apperrors.InvalidInput(fmt.Sprintf("quantity must be positive, got %d", quantity))
	}

	var (
		reservation       domain.Reservation
		observedAvailable int
		observedVersion   uint64
	)
	err = s.withProduct(ctx, id, s.cfg.LockWait, func(p *domain.Product) error {
		r, rerr := p.Reserve(orderID, qty, s.cfg.ReservationTTL, s.now())
		if rerr != nil {
			observedAvailable = p.Stock().Available().Int()
			observedVersion = p.Version()
			return rerr
		}
		reservation = r
		return nil
	})
	if err != nil {
		return domain.Reservation{}, s.mapReserveError(ctx, err, id, orderID, quantity, observedAvailable, observedVersion)
	}

	s.logger.InfoContext(ctx, "stock reserved",
		slog.String("product_id", productID),
		slog.String("order_id", orderID),
		slog.String("reservation_id", reservation.ID.String()),
		slog.Int("quantity", quantity))
	return reservation, nil
}

// BatchItem is one line of a multi-product reservation request.
type BatchItem struct {
	ProductID string
	Quantity  int
}

// BatchItemResult reports the outcome of one batch line. Err is nil when the
// item was reserved.
type BatchItemResult struct {
	ProductID   string
	Reservation domain.Reservation
	Err         error
}

// ReserveBatch reserves stock for every item of an order. Items are
// processed in product-ID order to avoid lock-ordering deadlocks between
// concurrent batches. In atomic mode the first failure releases the
// reservations already taken and fails the batch as a whole; otherwise every
// item is attempted and its outcome reported per result.
func (s *InventoryService) ReserveBatch(ctx context.Context, orderID string, items []BatchItem, atomic bool) ([]BatchItemResult, error) {
	if len(items) == 0 {
		return nil, apperrors.InvalidInput("batch must contain at least one item")
	}

	sorted := make([]BatchItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	results := make([]BatchItemResult, 0, len(sorted))
	for _, item := range sorted {
		r, err := s.Reserve(ctx, item.ProductID, orderID, item.Quantity)
		if err != nil {
			if atomic {
				s.compensate(ctx, reservedOf(results))
				return nil, fmt.Errorf("reserve %s for order %s: %w", item.ProductID, orderID, err)
			}
			results = append(results, BatchItemResult{ProductID: item.ProductID, Err: err})
			continue
		}
		results = append(results, BatchItemResult{ProductID: item.ProductID, Reservation: r})
	}
	return results, nil
}

func reservedOf(results []BatchItemResult) []domain.Reservation {
	out := make([]domain.Reservation, 0, len(results))
	for _, res := range results {
		if res.Err == nil {
			out = append(out, res.Reservation)
		}
	}
	return out
}

func (s *InventoryService) compensate(ctx context.Context, reservations []domain.Reservation) {
	// Compensation must run even when the triggering context is gone.
	ctx = context.WithoutCancel(ctx)
	for _, r := range reservations {
		if err := s.Release(ctx, r.ID.String(), domain.ReleaseReasonManual); err != nil {
			s.logger.ErrorContext(ctx, "failed to release reservation during batch compensation",
				slog.String("reservation_id", r.ID.String()),
				slog.String("product_id", r.ProductID.String()),
				slog.String("error", err.Error()))
		}
	}
}

// Deduct confirms a reservation, permanently removing its stock. Deducting
// an unknown, already-deducted, or expired-and-swept reservation fails;
// retrying a deduction therefore cannot double-apply.
func (s *InventoryService) Deduct(ctx context.Context, reservationID string) error {
	rid, err := domain.ParseReservationID(reservationID)
	if err != nil {
		return apperrors.InvalidInput(err.Error())
	}

	productID, err := s.repo.FindProductByReservation(ctx, rid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.Unprocessable(fmt.Sprintf("reservation %s is not active", reservationID))
		}
		return fmt.Errorf("deduct: %w", err)
	}

	err = s.withProduct(ctx, productID, s.cfg.LockWait, func(p *domain.Product) error {
		_, derr := p.Deduct(rid, s.now())
		return derr
	})
	if err != nil {
		// The reservation can be swept between the index lookup and the
		// locked load.
		if errors.Is(err, domain.ErrReservationNotFound) {
			return apperrors.Unprocessable(fmt.Sprintf("reservation %s is not active", reservationID))
		}
		return s.mapInfraError(err)
	}

	s.logger.InfoContext(ctx, "stock deducted",
		slog.String("product_id", productID.String()),
		slog.String("reservation_id", reservationID))
	return nil
}

// Release returns a reservation to available stock. Releasing a reservation
// that no longer exists is a no-op, so cancellations arriving after expiry
// or deduction are safe to replay.
func (s *InventoryService) Release(ctx context.Context, reservationID, reason string) error {
	rid, err := domain.ParseReservationID(reservationID)
	if err != nil {
		return apperrors.InvalidInput(err.Error())
	}

	productID, err := s.repo.FindProductByReservation(ctx, rid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.InfoContext(ctx, "release skipped, reservation not active",
				slog.String("reservation_id", reservationID))
			return nil
		}
		return fmt.Errorf("release: %w", err)
	}

	err = s.withProduct(ctx, productID, s.cfg.LockWait, func(p *domain.Product) error {
		_, rerr := p.Release(rid, reason, s.now())
		return rerr
	})
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil
		}
		return s.mapInfraError(err)
	}

	s.logger.InfoContext(ctx, "reservation released",
		slog.String("product_id", productID.String()),
		slog.String("reservation_id", reservationID),
		slog.String("reason", reason))
	return nil
}

// ReleaseByOrder releases every active reservation created for an order,
// locking each owning product once. Products with no remaining reservations
// are skipped silently.
func (s *InventoryService) ReleaseByOrder(ctx context.Context, orderID, reason string) error {
	refs, err := s.repo.FindReservationsByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("release by order %s: %w", orderID, err)
	}
	if len(refs) == 0 {
		s.logger.InfoContext(ctx, "no active reservations for order",
			slog.String("order_id", orderID))
		return nil
	}

	byProduct := make(map[domain.ProductID][]domain.ReservationID)
	productIDs := make([]domain.ProductID, 0, len(byProduct))
	for _, ref := range refs {
		if _, seen := byProduct[ref.ProductID]; !seen {
			productIDs = append(productIDs, ref.ProductID)
		}
		byProduct[ref.ProductID] = append(byProduct[ref.ProductID], ref.ReservationID)
	}

	var errs []error
	for _, productID := range productIDs {
		rids := byProduct[productID]
		err := s.withProduct(ctx, productID, s.cfg.LockWait, func(p *domain.Product) error {
			for _, rid := range rids {
				if _, rerr := p.Release(rid, reason, s.now()); rerr != nil && !errors.Is(rerr, domain.ErrReservationNotFound) {
					return rerr
				}
			}
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("release reservations of product %s: %w", productID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("release by order %s: %w", orderID, errors.Join(errs...))
	}
	return nil
}

// AddStock increases available stock.
func (s *InventoryService) AddStock(ctx context.Context, productID string, quantity int) error {
	return s.adminMutation(ctx, productID, func(p *domain.Product) error {
		qty, err := domain.NewQuantity(quantity)
		if err != nil || qty.IsZero() {
			return fmt.Errorf("%w: added quantity must be positive, got %d", domain.ErrIllegalQuantity, quantity)
		}
		return p.AddStock(qty, s.now())
	})
}

// AdjustStock sets the total stock to an absolute value, e.g. after a
// physical count.
func (s *InventoryService) AdjustStock(ctx context.Context, productID string, newTotal int, reason string) error {
	return s.adminMutation(ctx, productID, func(p *domain.Product) error {
		total, err := domain.NewQuantity(newTotal)
		if err != nil {
			return err
		}
		return p.AdjustTotal(total, reason, s.now())
	})
}

// DeductDirect removes stock without a reservation, for channels that sell
// outside the reservation protocol.
func (s *InventoryService) DeductDirect(ctx context.Context, productID string, quantity int) error {
	return s.adminMutation(ctx, productID, func(p *domain.Product) error {
		qty, err := domain.NewQuantity(quantity)
		if err != nil || qty.IsZero() {
			return fmt.Errorf("%w: deducted quantity must be positive, got %d", domain.ErrIllegalQuantity, quantity)
		}
		return p.DeductDirect(qty, s.now())
	})
}

// ActivateProduct re-enables reservations for a product.
func (s *InventoryService) ActivateProduct(ctx context.Context, productID string) error {
	return s.adminMutation(ctx, productID, func(p *domain.Product) error {
		return p.Activate(s.now())
	})
}

// DeactivateProduct blocks new reservations; existing reservations stay
// live.
func (s *InventoryService) DeactivateProduct(ctx context.Context, productID string) error {
	return s.adminMutation(ctx, productID, func(p *domain.Product) error {
		return p.Deactivate(s.now())
	})
}

// CleanupExpired releases every expired reservation of one product. Returns
// the number released; zero means nothing was saved or published.
func (s *InventoryService) CleanupExpired(ctx context.Context, productID domain.ProductID) (int, error) {
	var released int
	key := lock.ProductKey(productID.String())
	err := s.locker.WithLock(ctx, key, s.cfg.SweepLockWait, s.cfg.LockTTL, func(ctx context.Context) error {
		p, err := s.repo.Load(ctx, productID)
		if err != nil {
			return err
		}
		swept, err := p.CleanupExpired(s.now())
		if err != nil {
			return err
		}
		if len(swept) == 0 {
			return nil
		}
		if err := s.repo.Save(ctx, p); err != nil {
			return err
		}
		released = len(swept)
		s.publish(ctx, p.DrainEvents())
		return nil
	})
	return released, err
}

func (s *InventoryService) adminMutation(ctx context.Context, productID string, mutate func(p *domain.Product) error) error {
	id, err := domain.ParseProductID(productID)
	if err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	if err := s.withProduct(ctx, id, s.cfg.LockWait, mutate); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return apperrors.NotFound("product", productID)
		case errors.Is(err, domain.ErrIllegalQuantity),
			errors.Is(err, domain.ErrAdjustmentTooLow):
			return apperrors.InvalidInput(err.Error())
		case errors.Is(err, domain.ErrInsufficientStock),
			errors.Is(err, domain.ErrProductInactive):
			return apperrors.Unprocessable(err.Error())
		default:
			return s.mapInfraError(err)
		}
	}
	return nil
}

// withProduct runs mutate on the product under its distributed lock, saving
// and publishing afterwards. A save losing the optimistic check is retried
// with backoff, reloading the aggregate each time.
func (s *InventoryService) withProduct(ctx context.Context, id domain.ProductID, lockWait time.Duration, mutate func(p *domain.Product) error) error {
	key := lock.ProductKey(id.String())

	var lastErr error
	for attempt := 1; attempt <= s.cfg.SaveAttempts; attempt++ {
		err := s.locker.WithLock(ctx, key, lockWait, s.cfg.LockTTL, func(ctx context.Context) error {
			p, err := s.repo.Load(ctx, id)
			if err != nil {
				return err
			}
			if err := mutate(p); err != nil {
				return err
			}
			if err := s.repo.Save(ctx, p); err != nil {
				return err
			}
			s.publish(ctx, p.DrainEvents())
			return nil
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		lastErr = err

		if attempt < s.cfg.SaveAttempts {
			wait := s.cfg.SaveRetryBase << (attempt - 1)
			s.logger.WarnContext(ctx, "optimistic save conflict, retrying",
				slog.String("product_id", id.String()),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("save product %s: gave up after %d attempts: %w", id, s.cfg.SaveAttempts, lastErr)
}

// publish sends drained events in order. Publication happens after the save
// committed, so failures are logged and never roll the mutation back; the
// context is detached so a cancelled request cannot drop committed events.
func (s *InventoryService) publish(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()

	for _, ev := range events {
		if err := s.events.Publish(pubCtx, ev); err != nil {
			s.logger.ErrorContext(pubCtx, "failed to publish domain event",
				slog.String("event_type", ev.EventType()),
				slog.String("product_id", ev.Aggregate().String()),
				slog.Uint64("version", ev.EventVersion()),
				slog.String("error", err.Error()))
		}
	}
}

func (s *InventoryService) mapReserveError(ctx context.Context, err error, id domain.ProductID, orderID string, requested, available int, version uint64) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.publishInsufficient(ctx, id, orderID, requested, 0, domain.InsufficientReasonNotFound, 0)
		return apperrors.NotFound("product", id.String())
	case errors.Is(err, domain.ErrProductInactive):
		s.publishInsufficient(ctx, id, orderID, requested, available, domain.InsufficientReasonInactive, version)
		return apperrors.Unprocessable(fmt.Sprintf("product %s is inactive", id))
	case errors.Is(err, domain.ErrInsufficientStock):
		s.publishInsufficient(ctx, id, orderID, requested, available, domain.InsufficientReasonNoStock, version)
		return apperrors.Unprocessable(fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", id, requested, available))
	case errors.Is(err, domain.ErrIllegalQuantity):
		return apperrors.InvalidInput(err.Error())
	default:
		return s.mapInfraError(err)
	}
}

func (s *InventoryService) mapInfraError(err error) error {
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		return apperrors.Unavailable(fmt.Sprintf("product is busy: %v", err))
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.Conflict(err.Error())
	default:
		return err
	}
}

func (s *InventoryService) publishInsufficient(ctx context.Context, id domain.ProductID, orderID string, requested, available int, reason string, version uint64) {
	s.publish(ctx, []domain.Event{domain.InsufficientStock{
		ProductID: id,
		OrderID:   orderID,
		Requested: requested,
		Available: available,
		Reason:    reason,
		Version:   version,
	}})
	s.logger.WarnContext(ctx, "reservation rejected",
		slog.String("product_id", id.String()),
		slog.String("order_id", orderID),
		slog.String("reason", reason),
		slog.Int("requested", requested),
		slog.Int("available", available))
}
