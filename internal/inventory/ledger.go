package inventory

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Ledger persists inventory records. Save is conditioned on the version the
// caller loaded and fails with ErrVersionConflict when another writer won.
type Ledger interface {
	Get(ctx context.Context, productID int64) (*Inventory, error)
	Save(ctx context.Context, inv *Inventory, expectedVersion int64) error
	Create(ctx context.Context, inv *Inventory) error
	List(ctx context.Context) ([]Inventory, error)
	ListBelowAvailable(ctx context.Context, threshold int) ([]Inventory, error)
}

type GormLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, now: time.Now}
}

func (l *GormLedger) Get(ctx context.Context, productID int64) (*Inventory, error) {
	var inv Inventory
	err := l.db.WithContext(ctx).Where("product_id = ?", productID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (l *GormLedger) Save(ctx context.Context, inv *Inventory, expectedVersion int64) error {
	now := l.now().Truncate(time.Microsecond)
	res := l.db.WithContext(ctx).Model(&Inventory{}).
		Where("product_id = ? AND version = ?", inv.ProductID, expectedVersion).
		Updates(map[string]any{
			"quantity":          inv.Quantity,
			"reserved_quantity": inv.ReservedQuantity,
			"version":           expectedVersion + 1,
			"updated_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}

	inv.Version = expectedVersion + 1
	inv.UpdatedAt = now
	return nil
}

func (l *GormLedger) Create(ctx context.Context, inv *Inventory) error {
	inv.UpdatedAt = l.now().Truncate(time.Microsecond)
	err := l.db.WithContext(ctx).Create(inv).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrProductExists
	}
	return err
}

func (l *GormLedger) List(ctx context.Context) ([]Inventory, error) {
	var items []Inventory
	err := l.db.WithContext(ctx).Order("product_id").Find(&items).Error
	return items, err
}

func (l *GormLedger) ListBelowAvailable(ctx context.Context, threshold int) ([]Inventory, error) {
	var items []Inventory
	err := l.db.WithContext(ctx).
		Where("quantity - reserved_quantity < ?", threshold).
		Order("product_id").
		Find(&items).Error
	return items, err
}
