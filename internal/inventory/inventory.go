package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrProductExists     = errors.New("product already provisioned")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOverConfirm       = errors.New("confirm quantity exceeds reserved quantity")
	ErrOverRelease       = errors.New("release quantity exceeds reserved quantity")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidAdjustment = errors.New("invalid inventory adjustment")
	ErrVersionConflict   = errors.New("inventory version conflict")
)

// Inventory is the per-product stock record. Version increases by one on
// every successful write.
type Inventory struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	ProductID        int64     `gorm:"uniqueIndex;not null" json:"productId"`
	Quantity         int       `gorm:"not null" json:"quantity"`
	ReservedQuantity int       `gorm:"not null;default:0" json:"reservedQuantity"`
	Version          int64     `gorm:"not null;default:0" json:"version"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (Inventory) TableName() string {
	return "inventory"
}

func (i *Inventory) Available() int {
	return i.Quantity - i.ReservedQuantity
}

// Validate checks the stock invariants.
func (i *Inventory) Validate() error {
	switch {
	case i.ReservedQuantity < 0:
		return fmt.Errorf("%w: reserved quantity %d is negative", ErrInvalidAdjustment, i.ReservedQuantity)
	case i.ReservedQuantity > i.Quantity:
		return fmt.Errorf("%w: reserved quantity %d exceeds quantity %d", ErrInvalidAdjustment, i.ReservedQuantity, i.Quantity)
	}
	return nil
}

// Reserve holds qty units without removing them from the total.
func (i *Inventory) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > i.Available() {
		return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, qty, i.Available())
	}
	i.ReservedQuantity += qty
	return nil
}

// Confirm turns a reservation into a permanent reduction.
func (i *Inventory) Confirm(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > i.ReservedQuantity {
		return fmt.Errorf("%w: requested %d, reserved %d", ErrOverConfirm, qty, i.ReservedQuantity)
	}
	i.Quantity -= qty
	i.ReservedQuantity -= qty
	return nil
}

// Release drops a reservation; the total is unchanged.
func (i *Inventory) Release(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > i.ReservedQuantity {
		return fmt.Errorf("%w: requested %d, reserved %d", ErrOverRelease, qty, i.ReservedQuantity)
	}
	i.ReservedQuantity -= qty
	return nil
}

// SetQuantity overrides the total. Outstanding reservations must still fit.
func (i *Inventory) SetQuantity(quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity %d is negative", ErrInvalidAdjustment, quantity)
	}
	if quantity < i.ReservedQuantity {
		return fmt.Errorf("%w: quantity %d is below reserved quantity %d", ErrInvalidAdjustment, quantity, i.ReservedQuantity)
	}
	i.Quantity = quantity
	return nil
}
