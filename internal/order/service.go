package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vasilkosturski/orderflow/internal/platform/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/vasilkosturski/orderflow/internal/order"

type serviceMetrics struct {
	admitted      metric.Int64Counter
	replayed      metric.Int64Counter
	cacheDegraded metric.Int64Counter
	publishFailed metric.Int64Counter
}

func newServiceMetrics(meter metric.Meter) serviceMetrics {
	return serviceMetrics{
		admitted:      observability.Counter(meter, "orders.admitted", "Orders persisted by admission"),
		replayed:      observability.Counter(meter, "orders.idempotent_replays", "Admissions answered from an existing order"),
		cacheDegraded: observability.Counter(meter, "orders.idempotency_cache_unavailable", "Admissions that ran without the idempotency cache"),
		publishFailed: observability.Counter(meter, "orders.publish_failures", "Lifecycle events that could not be published"),
	}
}

// Service owns order admission and the order lifecycle.
type Service struct {
	repo       Repository
	cache      IdempotencyCache
	publisher  Publisher
	logger     observability.Logger
	tracer     observability.Tracer
	meter      metric.Meter
	metrics    serviceMetrics
	newID      IDGenerator
	now        func() time.Time
	failClosed bool
}

type Option func(*Service)

func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.newID = g }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFailClosed makes admission fail when the idempotency cache cannot be
// reached instead of continuing without deduplication.
func WithFailClosed(failClosed bool) Option {
	return func(s *Service) { s.failClosed = failClosed }
}

func WithTracer(t observability.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithMeter(m metric.Meter) Option {
	return func(s *Service) { s.meter = m }
}

func NewService(repo Repository, cache IdempotencyCache, publisher Publisher, logger observability.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		newID:     NewOrderID,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newServiceMetrics(s.meter)
	return s
}

// Admit validates the request, answers retries that carry a known dedup key
// with the existing order and otherwise persists a PENDING order and
// publishes its lifecycle event.
//
// Two concurrent admissions with the same key may both miss the cache and
// create two orders; the key is only recorded after the store write.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.admit")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order.product_id", req.ProductID),
		attribute.Int("order.quantity", req.Quantity),
		attribute.Bool("order.has_dedup_key", req.DedupKey != ""),
	)

	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if req.DedupKey != "" {
		existing, err := s.findExisting(ctx, req.DedupKey)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "idempotency lookup failed")
			return nil, err
		}
		if existing != nil {
			s.metrics.replayed.Add(ctx, 1)
			s.logger.Info("🔁 Duplicate request, returning existing order",
				zap.String("order_id", existing.OrderID),
				zap.String("dedup_key", req.DedupKey),
			)
			span.SetAttributes(attribute.String("order.id", existing.OrderID), attribute.Bool("order.replayed", true))
			span.SetStatus(codes.Ok, "existing order returned")
			return existing, nil
		}
	}

	now := s.now().Truncate(time.Microsecond)
	o := &Order{
		OrderID:   s.newID(now),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.DedupKey != "" {
		key := req.DedupKey
		o.IdempotencyKey = &key
	}
	span.SetAttributes(attribute.String("order.id", o.OrderID))

	if err := s.repo.Create(ctx, o); err != nil {
		s.logger.Error("❌ Failed to persist order", zap.Error(err), zap.String("order_id", o.OrderID))
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist order")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if req.DedupKey != "" {
		if err := s.cache.Remember(ctx, req.DedupKey, o.OrderID); err != nil {
			s.metrics.cacheDegraded.Add(ctx, 1)
			s.logger.Warn("⚠️ Failed to record idempotency key",
				zap.Error(err),
				zap.String("order_id", o.OrderID),
				zap.String("dedup_key", req.DedupKey),
			)
		}
	}

	// the order is committed; a failed publish is left to the reconciler
	if err := s.publish(ctx, o); err == nil {
		markPublished(ctx, s.repo, s.logger, o, s.now())
	}

	s.metrics.admitted.Add(ctx, 1)
	s.logger.Info("✅ Order admitted",
		zap.String("order_id", o.OrderID),
		zap.Int64("product_id", o.ProductID),
		zap.Int("quantity", o.Quantity),
	)
	span.SetStatus(codes.Ok, "order admitted")
	return o, nil
}

func (s *Service) findExisting(ctx context.Context, key string) (*Order, error) {
	orderID, found, err := s.cache.Lookup(ctx, key)
	if err != nil {
		s.metrics.cacheDegraded.Add(ctx, 1)
		if s.failClosed {
			s.logger.Error("❌ Idempotency cache unavailable, rejecting admission", zap.Error(err), zap.String("dedup_key", key))
			if !errors.Is(err, ErrCacheUnavailable) {
				err = fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
			}
			return nil, err
		}
		s.logger.Warn("⚠️ Idempotency cache unavailable, checking order store instead", zap.Error(err), zap.String("dedup_key", key))
		return s.findInStore(ctx, key), nil
	}
	if !found {
		return nil, nil
	}

	existing, err := s.repo.FindByOrderID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("⚠️ Idempotency key points at a missing order, discarding it",
			zap.String("dedup_key", key),
			zap.String("order_id", orderID),
		)
		if err := s.cache.Forget(ctx, key); err != nil {
			s.logger.Warn("Failed to discard idempotency key", zap.Error(err), zap.String("dedup_key", key))
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return existing, nil
}

// findInStore is a best-effort lookup; any failure degrades to a miss.
func (s *Service) findInStore(ctx context.Context, key string) *Order {
	existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("⚠️ Order store lookup by idempotency key failed, admitting without dedup", zap.Error(err), zap.String("dedup_key", key))
		}
		return nil
	}
	return existing
}

func (s *Service) publish(ctx context.Context, o *Order) error {
	if err := s.publisher.Publish(ctx, o); err != nil {
		s.metrics.publishFailed.Add(ctx, 1)
		s.logger.Error("❌ Failed to publish order event",
			zap.Error(err),
			zap.String("order_id", o.OrderID),
			zap.String("status", string(o.Status)),
		)
		return err
	}
	s.logger.Info("📤 Published order event", zap.String("order_id", o.OrderID), zap.String("status", string(o.Status)))
	return nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return o, nil
}

func (s *Service) List(ctx context.Context) ([]Order, error) {
	orders, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return orders, nil
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	orders, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return orders, nil
}

// Delayed returns PENDING orders older than age.
func (s *Service) Delayed(ctx context.Context, age time.Duration) ([]Order, error) {
	orders, err := s.repo.ListPending(ctx, time.Time{}, s.now().Add(-age))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return orders, nil
}

func (s *Service) Statistics(ctx context.Context) (map[Status]int64, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return counts, nil
}

// UpdateStatus applies an explicit status transition and publishes it.
// Requesting the current status is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next Status) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.update_status")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.next_status", string(next)))

	o, err := s.Get(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if o.Status == next {
		return o, nil
	}
	if err := s.transition(ctx, o, next); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "status updated")
	return o, nil
}

// MarkFailed fails a PENDING order whose reservation was rejected downstream.
func (s *Service) MarkFailed(ctx context.Context, orderID, reason string) (*Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusFailed)
	}
	if err := s.transition(ctx, o, StatusFailed); err != nil {
		return nil, err
	}
	s.logger.Warn("Order failed after inventory rejection", zap.String("order_id", orderID), zap.String("reason", reason))
	return o, nil
}

func (s *Service) transition(ctx context.Context, o *Order, next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}

	now := s.now().Truncate(time.Microsecond)
	if err := s.repo.UpdateStatus(ctx, o.OrderID, o.Status, next, now); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Info("🔄 Order status updated",
		zap.String("order_id", o.OrderID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(next)),
	)
	o.Status = next
	o.UpdatedAt = now

	_ = s.publish(ctx, o)
	return nil
}
