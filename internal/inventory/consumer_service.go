package inventory

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/vasilkosturski/orderflow/internal/platform/kafka"
	"github.com/vasilkosturski/orderflow/internal/platform/observability"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ConsumerService fetches lifecycle events and commits each offset only
// after its message was handled. A handler error is retried in place, so a
// message is never skipped while its partition keeps flowing.
type ConsumerService struct {
	consumer   kafka.CommittingConsumer
	handler    MessageHandler
	logger     observability.Logger
	newBackOff func() backoff.BackOff
}

func NewConsumerService(consumer kafka.CommittingConsumer, handler MessageHandler, logger observability.Logger) *ConsumerService {
	return &ConsumerService{
		consumer: consumer,
		handler:  handler,
		logger:   logger,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithMaxElapsedTime(0),
				backoff.WithMaxInterval(30*time.Second),
			)
		},
	}
}

func (c *ConsumerService) Start(ctx context.Context) error {
	c.logger.Info("Kafka consumer started. Waiting for messages...")

	fetchBackOff := c.newBackOff()
	for {
		msg, err := c.consumer.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context done, exiting Kafka read loop.", zap.Error(err))
				break
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("Kafka reader closed, exiting read loop.")
				break
			}
			wait := fetchBackOff.NextBackOff()
			c.logger.Error("❌ Error reading from Kafka", zap.Error(err), zap.Duration("backoff", wait))
			if !sleep(ctx, wait) {
				c.logger.Info("Context done, exiting Kafka read loop.")
				break
			}
			continue
		}
		fetchBackOff.Reset()

		if err := c.process(ctx, msg); err != nil {
			c.logger.Info("Context done before message was handled", zap.Int64("offset", msg.Offset), zap.Error(err))
			break
		}
	}

	c.logger.Info("Consumer service finished. Shutting down...")
	return nil
}

// process returns only when msg is committed or ctx is done.
func (c *ConsumerService) process(ctx context.Context, msg kafkago.Message) error {
	handle := func() error {
		return c.handler.HandleOrderEvent(ctx, msg)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("⚠️ Message handling failed, retrying",
			zap.Error(err),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("backoff", wait),
		)
	}
	if err := backoff.RetryNotify(handle, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		return err
	}

	commit := func() error {
		return c.consumer.CommitMessages(ctx, msg)
	}
	return backoff.RetryNotify(commit, backoff.WithContext(c.newBackOff(), ctx), func(err error, wait time.Duration) {
		c.logger.Error("❌ Failed to commit offset", zap.Error(err), zap.Int64("offset", msg.Offset), zap.Duration("backoff", wait))
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
