package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vasilkosturski/orderflow/internal/events"
	"github.com/vasilkosturski/orderflow/internal/platform/observability"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/vasilkosturski/orderflow/internal/inventory"

const DefaultMaxAttempts = 5

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// RejectionError reports a transition the current ledger state cannot
// satisfy. Retrying the same message will not change the result.
type RejectionError struct {
	Transition Transition
	Err        error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected for order %s: %v", e.Transition.Kind(), e.Transition.Target().OrderID, e.Err)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

type serviceMetrics struct {
	applied    metric.Int64Counter
	rejected   metric.Int64Counter
	duplicates metric.Int64Counter
	conflicts  metric.Int64Counter
}

func newServiceMetrics(meter metric.Meter) serviceMetrics {
	return serviceMetrics{
		applied:    observability.Counter(meter, "inventory.transitions_applied", "Transitions written to the ledger"),
		rejected:   observability.Counter(meter, "inventory.transitions_rejected", "Transitions rejected by stock preconditions"),
		duplicates: observability.Counter(meter, "inventory.duplicates_suppressed", "Redelivered transitions skipped by the dedup guard"),
		conflicts:  observability.Counter(meter, "inventory.version_conflicts", "Ledger writes lost to a concurrent writer"),
	}
}

// Service applies order lifecycle transitions to the ledger.
type Service struct {
	ledger      Ledger
	guard       Guard
	logger      observability.Logger
	tracer      observability.Tracer
	meter       metric.Meter
	metrics     serviceMetrics
	maxAttempts uint64
	newBackOff  func() backoff.BackOff
}

type Option func(*Service)

// WithMaxAttempts bounds how many times a conflicting write is attempted.
func WithMaxAttempts(n uint64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackOff = newBackOff }
}

func WithTracer(t observability.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithMeter(m metric.Meter) Option {
	return func(s *Service) { s.meter = m }
}

func NewService(ledger Ledger, guard Guard, logger observability.Logger, opts ...Option) *Service {
	s := &Service{
		ledger:      ledger,
		guard:       guard,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
		maxAttempts: DefaultMaxAttempts,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(50*time.Millisecond),
				backoff.WithMaxInterval(2*time.Second),
			)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newServiceMetrics(s.meter)
	return s
}

// Apply runs one transition attempt for evt. Version conflicts and transient
// store errors are retried with backoff up to maxAttempts. Stock
// precondition failures are returned as *RejectionError without retrying.
func (s *Service) Apply(ctx context.Context, evt events.OrderEvent) (Outcome, error) {
	t := FromEvent(evt)
	target := t.Target()

	ctx, span := s.tracer.Start(ctx, "inventory.apply")
	defer span.End()

	kindAttr := attribute.String("inventory.transition", string(t.Kind()))
	span.SetAttributes(
		attribute.String("order.id", target.OrderID),
		attribute.Int64("inventory.product_id", target.ProductID),
		attribute.Int("inventory.quantity", target.Quantity),
		attribute.String("order.status", evt.Status),
		kindAttr,
	)

	if _, ok := t.(Unknown); ok {
		s.logger.Info("Order status has no inventory effect, skipping",
			zap.String("order_id", target.OrderID),
			zap.String("status", evt.Status),
		)
		span.SetStatus(codes.Ok, "ignored")
		return OutcomeIgnored, nil
	}

	key := DedupKey(t)
	var (
		outcome Outcome
		result  *Inventory
	)

	attempt := func() error {
		seen, err := s.guard.Seen(ctx, key)
		if err != nil {
			return err
		}
		if seen {
			outcome = OutcomeDuplicate
			return nil
		}

		inv, err := s.ledger.Get(ctx, target.ProductID)
		if errors.Is(err, ErrProductNotFound) {
			return backoff.Permanent(&RejectionError{Transition: t, Err: err})
		}
		if err != nil {
			return err
		}

		loadedVersion := inv.Version
		if err := Mutate(t, inv); err != nil {
			return backoff.Permanent(&RejectionError{Transition: t, Err: err})
		}
		if err := s.ledger.Save(ctx, inv, loadedVersion); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				s.metrics.conflicts.Add(ctx, 1)
			}
			return err
		}

		outcome = OutcomeApplied
		result = inv
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxAttempts-1), ctx)
	err := backoff.RetryNotify(attempt, policy, func(err error, wait time.Duration) {
		s.logger.Warn("⚠️ Retrying inventory transition",
			zap.Error(err),
			zap.String("order_id", target.OrderID),
			zap.String("transition", string(t.Kind())),
			zap.Duration("backoff", wait),
		)
	})
	if err != nil {
		var rejection *RejectionError
		if errors.As(err, &rejection) {
			s.metrics.rejected.Add(ctx, 1, metric.WithAttributes(kindAttr))
			s.logger.Warn("🚫 Inventory transition rejected",
				zap.Error(err),
				zap.String("order_id", target.OrderID),
				zap.Int64("product_id", target.ProductID),
				zap.Int("quantity", target.Quantity),
			)
			span.SetStatus(codes.Error, "rejected")
			return "", err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return "", fmt.Errorf("apply %s for order %s: %w", t.Kind(), target.OrderID, err)
	}

	if outcome == OutcomeDuplicate {
		s.metrics.duplicates.Add(ctx, 1, metric.WithAttributes(kindAttr))
		s.logger.Info("🔁 Transition already applied, skipping",
			zap.String("order_id", target.OrderID),
			zap.String("transition", string(t.Kind())),
		)
		span.SetStatus(codes.Ok, "duplicate")
		return outcome, nil
	}

	// the ledger write is committed; an unrecorded key lets a redelivery apply it again
	if err := s.mark(ctx, key); err != nil {
		span.RecordError(err)
		s.logger.Error("❌ Failed to record applied transition", zap.Error(err), zap.String("dedup_key", key))
	}

	s.metrics.applied.Add(ctx, 1, metric.WithAttributes(kindAttr))
	s.logger.Info("✅ Inventory transition applied",
		zap.String("order_id", target.OrderID),
		zap.String("transition", string(t.Kind())),
		zap.Int64("product_id", result.ProductID),
		zap.Int("quantity", result.Quantity),
		zap.Int("reserved_quantity", result.ReservedQuantity),
		zap.Int("available", result.Available()),
		zap.Int64("version", result.Version),
	)
	span.SetAttributes(
		attribute.Int("inventory.available", result.Available()),
		attribute.Int64("inventory.version", result.Version),
	)
	span.SetStatus(codes.Ok, "applied")
	return outcome, nil
}

// mark records key with the same retry policy as the ledger write.
func (s *Service) mark(ctx context.Context, key string) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxAttempts-1), ctx)
	return backoff.RetryNotify(func() error {
		return s.guard.Mark(ctx, key)
	}, policy, func(err error, wait time.Duration) {
		s.logger.Warn("⚠️ Retrying dedup mark", zap.Error(err), zap.String("dedup_key", key), zap.Duration("backoff", wait))
	})
}

func (s *Service) Get(ctx context.Context, productID int64) (*Inventory, error) {
	return s.ledger.Get(ctx, productID)
}

func (s *Service) List(ctx context.Context) ([]Inventory, error) {
	return s.ledger.List(ctx)
}

// LowStock lists products whose available quantity is below threshold.
func (s *Service) LowStock(ctx context.Context, threshold int) ([]Inventory, error) {
	return s.ledger.ListBelowAvailable(ctx, threshold)
}

// Adjust overrides a product's total quantity. It bypasses the transition
// state machine and the dedup guard but still honours the version check.
func (s *Service) Adjust(ctx context.Context, productID int64, quantity int) (*Inventory, error) {
	var adjusted *Inventory
	attempt := func() error {
		inv, err := s.ledger.Get(ctx, productID)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		previous := inv.Quantity
		loadedVersion := inv.Version
		if err := inv.SetQuantity(quantity); err != nil {
			return backoff.Permanent(err)
		}
		if err := s.ledger.Save(ctx, inv, loadedVersion); err != nil {
			return err
		}
		s.logger.Info("🛠️ Inventory adjusted",
			zap.Int64("product_id", productID),
			zap.Int("previous_quantity", previous),
			zap.Int("quantity", quantity),
		)
		adjusted = inv
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxAttempts-1), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	return adjusted, nil
}

// Provision seeds a new product record.
func (s *Service) Provision(ctx context.Context, productID int64, quantity int) (*Inventory, error) {
	if productID <= 0 {
		return nil, fmt.Errorf("%w: productId must be positive", ErrInvalidAdjustment)
	}
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity %d is negative", ErrInvalidAdjustment, quantity)
	}

	inv := &Inventory{ProductID: productID, Quantity: quantity}
	if err := s.ledger.Create(ctx, inv); err != nil {
		return nil, err
	}
	s.logger.Info("📦 Inventory provisioned", zap.Int64("product_id", productID), zap.Int("quantity", quantity))
	return inv, nil
}
