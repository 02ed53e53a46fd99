package order

import (
	"context"
	"time"

	"github.com/vasilkosturski/orderflow/internal/platform/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Reconciler resends the PENDING event of orders whose admission publish
// never reached the broker and that are older than minAge. Orders that were
// published are left alone even while they stay PENDING. Orders older than
// maxAge are only reported, since the inventory dedup history may no longer
// cover them.
type Reconciler struct {
	repo        Repository
	publisher   Publisher
	logger      observability.Logger
	interval    time.Duration
	minAge      time.Duration
	maxAge      time.Duration
	now         func() time.Time
	republished metric.Int64Counter
}

func NewReconciler(repo Repository, publisher Publisher, logger observability.Logger, interval, minAge, maxAge time.Duration) *Reconciler {
	return &Reconciler{
		repo:        repo,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		minAge:      minAge,
		maxAge:      maxAge,
		now:         time.Now,
		republished: observability.Counter(otel.Meter(instrumentationName), "orders.reconciled", "Unpublished order events resent by the reconciler"),
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Order reconciler started",
		zap.Duration("interval", r.interval),
		zap.Duration("min_age", r.minAge),
		zap.Duration("max_age", r.maxAge),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Order reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("❌ Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one reconciliation pass and returns the number of republished events.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.now()

	orders, err := r.repo.ListUnpublished(ctx, now.Add(-r.maxAge), now.Add(-r.minAge))
	if err != nil {
		return 0, err
	}

	republished := 0
	for i := range orders {
		o := &orders[i]
		if err := r.publisher.Publish(ctx, o); err != nil {
			r.logger.Error("❌ Failed to republish order event", zap.Error(err), zap.String("order_id", o.OrderID))
			continue
		}
		markPublished(ctx, r.repo, r.logger, o, r.now())
		republished++
	}
	if republished > 0 {
		r.republished.Add(ctx, int64(republished))
		r.logger.Info("🔁 Republished delayed orders", zap.Int("count", republished))
	}

	stuck, err := r.repo.ListPending(ctx, time.Time{}, now.Add(-r.maxAge))
	if err != nil {
		return republished, err
	}
	for _, o := range stuck {
		r.logger.Warn("⚠️ Order stuck in PENDING beyond reconciliation window",
			zap.String("order_id", o.OrderID),
			zap.Time("created_at", o.CreatedAt),
		)
	}

	return republished, nil
}
