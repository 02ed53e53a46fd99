package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/vasilkosturski/orderflow/internal/events"
)

type Status string

const (
	StatusPending    Status = events.StatusPending
	StatusConfirmed  Status = events.StatusConfirmed
	StatusProcessing Status = events.StatusProcessing
	StatusCompleted  Status = events.StatusCompleted
	StatusCancelled  Status = events.StatusCancelled
	StatusFailed     Status = events.StatusFailed
)

// MaxQuantity caps a single order line.
const MaxQuantity = 1000

var (
	ErrNotFound          = errors.New("order not found")
	ErrPersistence       = errors.New("order persistence failed")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrStatusChanged     = errors.New("order status changed concurrently")
	ErrCacheUnavailable  = errors.New("idempotency cache unavailable")
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusFailed},
	StatusConfirmed:  {StatusProcessing, StatusCompleted},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusCompleted, StatusCancelled, StatusFailed:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is created once by admission and never deleted.
type Order struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	OrderID        string    `gorm:"uniqueIndex;size:64;not null" json:"orderId"`
	ProductID      int64     `gorm:"not null;index" json:"productId"`
	Quantity       int       `gorm:"not null" json:"quantity"`
	Status         Status    `gorm:"type:varchar(20);not null;index" json:"status"`
	IdempotencyKey *string   `gorm:"size:255;index" json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	// PublishedAt is set once the PENDING event reached the broker.
	PublishedAt *time.Time `gorm:"index" json:"publishedAt,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// Event projects the order onto the lifecycle wire message.
func (o *Order) Event() events.OrderEvent {
	return events.OrderEvent{
		OrderID:   o.OrderID,
		ProductID: o.ProductID,
		Quantity:  o.Quantity,
		Status:    string(o.Status),
		CreatedAt: events.NewWireTime(o.CreatedAt),
	}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type AdmitRequest struct {
	ProductID int64
	Quantity  int
	DedupKey  string
}

func (r AdmitRequest) Validate() error {
	if r.ProductID <= 0 {
		return &ValidationError{Field: "productId", Message: "must be greater than 0"}
	}
	if r.Quantity <= 0 || r.Quantity > MaxQuantity {
		return &ValidationError{Field: "quantity", Message: fmt.Sprintf("must be between 1 and %d", MaxQuantity)}
	}
	return nil
}
