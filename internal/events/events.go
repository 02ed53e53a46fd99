// Package events defines the messages exchanged between the order and
// inventory services over Kafka.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	StatusPending    = "PENDING"
	StatusConfirmed  = "CONFIRMED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
	StatusFailed     = "FAILED"
)

// Headers attached to dead-lettered messages.
const (
	HeaderDeadLetterReason  = "x-dead-letter-reason"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
)

// WireTimeLayout is the createdAt format on the bus: local date-time, second precision, no zone.
const WireTimeLayout = "2006-01-02T15:04:05"

var ErrInvalidEvent = errors.New("invalid order event")

// WireTime marshals as WireTimeLayout.
type WireTime struct {
	time.Time
}

func NewWireTime(t time.Time) WireTime {
	return WireTime{Time: t.Truncate(time.Second)}
}

func (t WireTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.Format(WireTimeLayout))), nil
}

func (t *WireTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("createdAt: %w", err)
	}
	// producers that keep sub-second precision are tolerated
	for _, layout := range []string{WireTimeLayout, "2006-01-02T15:04:05.999999999", time.RFC3339Nano} {
		if parsed, perr := time.Parse(layout, s); perr == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("createdAt: cannot parse %q", s)
}

// OrderEvent is the lifecycle event published once per order transition attempt.
type OrderEvent struct {
	OrderID   string   `json:"orderId"`
	ProductID int64    `json:"productId"`
	Quantity  int      `json:"quantity"`
	Status    string   `json:"status"`
	CreatedAt WireTime `json:"createdAt"`
}

func (e OrderEvent) Validate() error {
	switch {
	case e.OrderID == "":
		return fmt.Errorf("%w: orderId is empty", ErrInvalidEvent)
	case e.ProductID <= 0:
		return fmt.Errorf("%w: productId must be positive", ErrInvalidEvent)
	case e.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidEvent)
	case e.Status == "":
		return fmt.Errorf("%w: status is empty", ErrInvalidEvent)
	}
	return nil
}

// DecodeOrderEvent parses and validates a lifecycle event payload.
func DecodeOrderEvent(payload []byte) (OrderEvent, error) {
	var evt OrderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return OrderEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := evt.Validate(); err != nil {
		return OrderEvent{}, err
	}
	return evt, nil
}

// InventoryRejectedEvent is the compensation signal sent back to the order
// service when a transition cannot be applied to the ledger.
type InventoryRejectedEvent struct {
	OrderID    string   `json:"orderId"`
	ProductID  int64    `json:"productId"`
	Quantity   int      `json:"quantity"`
	Status     string   `json:"status"`
	Reason     string   `json:"reason"`
	RejectedAt WireTime `json:"rejectedAt"`
}

func DecodeRejection(payload []byte) (InventoryRejectedEvent, error) {
	var evt InventoryRejectedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return InventoryRejectedEvent{}, err
	}
	if evt.OrderID == "" {
		return InventoryRejectedEvent{}, errors.New("rejection without orderId")
	}
	return evt, nil
}
