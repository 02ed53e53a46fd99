package order

import (
	"context"
	"errors"

	"github.com/vasilkosturski/orderflow/internal/events"
	"github.com/vasilkosturski/orderflow/internal/platform/kafka"
	"github.com/vasilkosturski/orderflow/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// FailureMarker fails orders whose reservation was rejected.
type FailureMarker interface {
	MarkFailed(ctx context.Context, orderID, reason string) (*Order, error)
}

// RejectionConsumer closes the compensation loop: inventory rejections of a
// reservation move the PENDING order to FAILED.
type RejectionConsumer struct {
	consumer kafka.Consumer
	orders   FailureMarker
	logger   observability.Logger
}

func NewRejectionConsumer(consumer kafka.Consumer, orders FailureMarker, logger observability.Logger) *RejectionConsumer {
	return &RejectionConsumer{consumer: consumer, orders: orders, logger: logger}
}

func (c *RejectionConsumer) Start(ctx context.Context) error {
	c.logger.Info("Rejection consumer started. Waiting for messages...")

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context done, exiting rejection read loop.", zap.Error(err))
				break
			}
			c.logger.Error("❌ Error reading from Kafka", zap.Error(err))
			continue
		}

		c.Handle(ctx, *msg)
	}

	c.logger.Info("Rejection consumer finished.")
	return nil
}

// Handle never fails the loop; problems are logged for operators.
func (c *RejectionConsumer) Handle(ctx context.Context, msg kafkago.Message) {
	msgCtx := kafka.ExtractTraceContext(ctx, msg.Headers)

	evt, err := events.DecodeRejection(msg.Value)
	if err != nil {
		c.logger.Error("❌ Invalid inventory rejection", zap.Error(err), zap.ByteString("raw_value", msg.Value))
		return
	}

	fields := []zap.Field{
		zap.String("order_id", evt.OrderID),
		zap.Int64("product_id", evt.ProductID),
		zap.Int("quantity", evt.Quantity),
		zap.String("status", evt.Status),
		zap.String("reason", evt.Reason),
	}

	if evt.Status != events.StatusPending {
		c.logger.Error("❌ Inventory rejected a non-reservation transition, manual reconciliation required", fields...)
		return
	}

	if _, err := c.orders.MarkFailed(msgCtx, evt.OrderID, evt.Reason); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStatusChanged) {
			c.logger.Warn("Rejection ignored, order is not pending", append(fields, zap.Error(err))...)
			return
		}
		c.logger.Error("❌ Failed to mark order as failed", append(fields, zap.Error(err))...)
	}
}
