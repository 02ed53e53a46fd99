package order

import (
	"time"

	"github.com/google/uuid"
)

// IDGenerator returns a new order identifier for the given instant.
type IDGenerator func(now time.Time) string

// NewOrderID composes a second-resolution timestamp with 32 random bits so
// independent instances need no coordination.
func NewOrderID(now time.Time) string {
	return "ORDER_" + now.Format("20060102150405") + "_" + uuid.NewString()[:8]
}
