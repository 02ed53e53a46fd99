package order

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	FindByOrderID(ctx context.Context, orderID string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, from, to Status, at time.Time) error
	List(ctx context.Context) ([]Order, error)
	ListByStatus(ctx context.Context, status Status) ([]Order, error)
	// ListPending returns PENDING orders created in [from, to). A zero from means no lower bound.
	ListPending(ctx context.Context, from, to time.Time) ([]Order, error)
	// ListUnpublished is ListPending restricted to orders whose event never reached the broker.
	ListUnpublished(ctx context.Context, from, to time.Time) ([]Order, error)
	MarkPublished(ctx context.Context, orderID string, at time.Time) error
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, o *Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *GormRepository) FindByOrderID(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *GormRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	var o Order
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateStatus moves an order from one status to another. The write is
// conditioned on the current status and reports ErrStatusChanged when it no
// longer matches.
func (r *GormRepository) UpdateStatus(ctx context.Context, orderID string, from, to Status, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(map[string]any{"status": to, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *GormRepository) List(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&orders).Error
	return orders, err
}

func (r *GormRepository) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	var orders []Order
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at DESC").Find(&orders).Error
	return orders, err
}

func (r *GormRepository) ListPending(ctx context.Context, from, to time.Time) ([]Order, error) {
	q := r.db.WithContext(ctx).Where("status = ? AND created_at < ?", StatusPending, to)
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	var orders []Order
	err := q.Order("created_at ASC").Find(&orders).Error
	return orders, err
}

func (r *GormRepository) ListUnpublished(ctx context.Context, from, to time.Time) ([]Order, error) {
	q := r.db.WithContext(ctx).Where("status = ? AND published_at IS NULL AND created_at < ?", StatusPending, to)
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	var orders []Order
	err := q.Order("created_at ASC").Find(&orders).Error
	return orders, err
}

// MarkPublished keeps the first publish time.
func (r *GormRepository) MarkPublished(ctx context.Context, orderID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Order{}).
		Where("order_id = ? AND published_at IS NULL", orderID).
		UpdateColumn("published_at", at).Error
}

func (r *GormRepository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&Order{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
