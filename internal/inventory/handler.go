package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vasilkosturski/orderflow/internal/events"
	"github.com/vasilkosturski/orderflow/internal/platform/kafka"
	"github.com/vasilkosturski/orderflow/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MessageHandler processes one lifecycle message. A nil return means the
// message may be acknowledged.
type MessageHandler interface {
	HandleOrderEvent(ctx context.Context, msg kafkago.Message) error
}

// Applier is the part of Service the handler depends on.
type Applier interface {
	Apply(ctx context.Context, evt events.OrderEvent) (Outcome, error)
}

// KafkaMessageHandler routes each lifecycle event through the ledger state
// machine. Rejections go to the compensation topic. Undecodable messages and
// messages that kept losing the version race go to the dead-letter topic.
// Any other failure is returned so the message stays uncommitted.
type KafkaMessageHandler struct {
	service    Applier
	rejections kafka.Producer
	deadLetter kafka.Producer
	logger     observability.Logger
	now        func() time.Time
	compensate metric.Int64Counter
	dead       metric.Int64Counter
}

func NewMessageHandler(service Applier, rejections, deadLetter kafka.Producer, logger observability.Logger) *KafkaMessageHandler {
	return &KafkaMessageHandler{
		service:    service,
		rejections: rejections,
		deadLetter: deadLetter,
		logger:     logger,
		now:        time.Now,
		compensate: observability.Counter(otel.Meter(instrumentationName), "inventory.rejections_published", "Compensation events sent to the order service"),
		dead:       observability.Counter(otel.Meter(instrumentationName), "inventory.dead_lettered", "Messages routed to the dead-letter topic"),
	}
}

func (h *KafkaMessageHandler) HandleOrderEvent(ctx context.Context, msg kafkago.Message) error {
	// Extract trace context to connect spans across services
	msgCtx := kafka.ExtractTraceContext(ctx, msg.Headers)

	h.logger.Info("📨 Raw Kafka message received",
		zap.ByteString("key", msg.Key),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	evt, err := events.DecodeOrderEvent(msg.Value)
	if err != nil {
		h.logger.Error("❌ Invalid order event",
			zap.Error(err),
			zap.ByteString("raw_value", msg.Value),
		)
		return h.publishDeadLetter(msgCtx, msg, err)
	}

	_, err = h.service.Apply(msgCtx, evt)
	if err == nil {
		return nil
	}

	var rejection *RejectionError
	switch {
	case errors.As(err, &rejection):
		return h.publishRejection(msgCtx, evt, rejection)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrVersionConflict):
		h.logger.Error("❌ Write conflicts exhausted for order event",
			zap.Error(err),
			zap.String("order_id", evt.OrderID),
			zap.String("status", evt.Status),
		)
		return h.publishDeadLetter(msgCtx, msg, err)
	default:
		// store or guard outage: leave the message uncommitted so it is retried
		h.logger.Error("❌ Failed to process order event",
			zap.Error(err),
			zap.String("order_id", evt.OrderID),
			zap.String("status", evt.Status),
		)
		return err
	}
}

func (h *KafkaMessageHandler) publishRejection(ctx context.Context, evt events.OrderEvent, rejection *RejectionError) error {
	payload, err := json.Marshal(events.InventoryRejectedEvent{
		OrderID:    evt.OrderID,
		ProductID:  evt.ProductID,
		Quantity:   evt.Quantity,
		Status:     evt.Status,
		Reason:     rejection.Err.Error(),
		RejectedAt: events.NewWireTime(h.now()),
	})
	if err != nil {
		return fmt.Errorf("serialize rejection: %w", err)
	}

	if err := h.rejections.WriteMessage(ctx, kafkago.Message{Key: []byte(evt.OrderID), Value: payload}); err != nil {
		h.logger.Error("❌ Failed to publish inventory rejection",
			zap.Error(err),
			zap.String("order_id", evt.OrderID),
		)
		return err
	}

	h.compensate.Add(ctx, 1)
	h.logger.Info("📤 Sent inventory rejection",
		zap.String("order_id", evt.OrderID),
		zap.String("reason", rejection.Err.Error()),
	)
	return nil
}

func (h *KafkaMessageHandler) publishDeadLetter(ctx context.Context, msg kafkago.Message, cause error) error {
	dead := kafkago.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafkago.Header(nil), msg.Headers...),
			kafkago.Header{Key: events.HeaderDeadLetterReason, Value: []byte(cause.Error())},
			kafkago.Header{Key: events.HeaderOriginalTopic, Value: []byte(msg.Topic)},
			kafkago.Header{Key: events.HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
			kafkago.Header{Key: events.HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		),
	}

	if err := h.deadLetter.WriteMessage(ctx, dead); err != nil {
		h.logger.Error("❌ Failed to dead-letter message",
			zap.Error(err),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)
		return err
	}

	h.dead.Add(ctx, 1)
	h.logger.Warn("☠️ Message dead-lettered",
		zap.String("reason", cause.Error()),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)
	return nil
}
