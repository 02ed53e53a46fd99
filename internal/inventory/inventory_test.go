package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventory_Reserve(t *testing.T) {
	inv := Inventory{Quantity: 10, ReservedQuantity: 4}

	require.NoError(t, inv.Reserve(6))
	assert.Equal(t, 10, inv.ReservedQuantity)
	assert.Equal(t, 0, inv.Available())

	assert.ErrorIs(t, inv.Reserve(1), ErrInsufficientStock)
	assert.Equal(t, 10, inv.ReservedQuantity)
}

func TestInventory_NonPositiveQuantities(t *testing.T) {
	inv := Inventory{Quantity: 10, ReservedQuantity: 4}

	assert.ErrorIs(t, inv.Reserve(0), ErrInvalidQuantity)
	assert.ErrorIs(t, inv.Confirm(-1), ErrInvalidQuantity)
	assert.ErrorIs(t, inv.Release(0), ErrInvalidQuantity)
	assert.Equal(t, Inventory{Quantity: 10, ReservedQuantity: 4}, inv)
}

func TestInventory_Confirm(t *testing.T) {
	inv := Inventory{Quantity: 10, ReservedQuantity: 4}

	require.NoError(t, inv.Confirm(3))
	assert.Equal(t, 7, inv.Quantity)
	assert.Equal(t, 1, inv.ReservedQuantity)

	assert.ErrorIs(t, inv.Confirm(2), ErrOverConfirm)
	assert.Equal(t, 7, inv.Quantity)
}

func TestInventory_Release(t *testing.T) {
	inv := Inventory{Quantity: 10, ReservedQuantity: 4}

	require.NoError(t, inv.Release(4))
	assert.Equal(t, 10, inv.Quantity)
	assert.Equal(t, 0, inv.ReservedQuantity)

	assert.ErrorIs(t, inv.Release(1), ErrOverRelease)
}

func TestInventory_SetQuantity(t *testing.T) {
	inv := Inventory{Quantity: 10, ReservedQuantity: 4}

	require.NoError(t, inv.SetQuantity(4))
	assert.Equal(t, 0, inv.Available())

	assert.ErrorIs(t, inv.SetQuantity(3), ErrInvalidAdjustment)
	assert.ErrorIs(t, inv.SetQuantity(-1), ErrInvalidAdjustment)
	assert.Equal(t, 4, inv.Quantity)
}

func TestInventory_Validate(t *testing.T) {
	assert.NoError(t, (&Inventory{Quantity: 5, ReservedQuantity: 5}).Validate())
	assert.ErrorIs(t, (&Inventory{Quantity: 5, ReservedQuantity: 6}).Validate(), ErrInvalidAdjustment)
	assert.ErrorIs(t, (&Inventory{Quantity: 5, ReservedQuantity: -1}).Validate(), ErrInvalidAdjustment)
}
