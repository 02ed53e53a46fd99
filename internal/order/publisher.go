package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vasilkosturski/orderflow/internal/platform/kafka"
	"github.com/vasilkosturski/orderflow/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher appends an order's lifecycle event to the bus.
type Publisher interface {
	Publish(ctx context.Context, o *Order) error
}

// KafkaPublisher keys every message by orderId so all events of one order
// share a partition and are consumed in publish order.
type KafkaPublisher struct {
	producer kafka.Producer
}

func NewKafkaPublisher(producer kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, o *Order) error {
	payload, err := json.Marshal(o.Event())
	if err != nil {
		return fmt.Errorf("serialize order event: %w", err)
	}

	return p.producer.WriteMessage(ctx, kafkago.Message{
		Key:   []byte(o.OrderID),
		Value: payload,
	})
}

// markPublished records that the PENDING event of o reached the broker so the
// reconciler stops resending it. A failed write only costs one extra resend.
func markPublished(ctx context.Context, repo Repository, logger observability.Logger, o *Order, at time.Time) {
	at = at.Truncate(time.Microsecond)
	if err := repo.MarkPublished(ctx, o.OrderID, at); err != nil {
		logger.Warn("⚠️ Failed to record order publish", zap.Error(err), zap.String("order_id", o.OrderID))
		return
	}
	o.PublishedAt = &at
}
