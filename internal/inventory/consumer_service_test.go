package inventory

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedConsumer hands out messages in order, then blocks until ctx is done.
type scriptedConsumer struct {
	mu        sync.Mutex
	messages  []kafkago.Message
	fetchErrs []error
	committed []int64
	commitErr error
	commitN   int
}

func (c *scriptedConsumer) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	c.mu.Lock()
	if len(c.fetchErrs) > 0 {
		err := c.fetchErrs[0]
		c.fetchErrs = c.fetchErrs[1:]
		c.mu.Unlock()
		return kafkago.Message{}, err
	}
	if len(c.messages) > 0 {
		msg := c.messages[0]
		c.messages = c.messages[1:]
		c.mu.Unlock()
		return msg, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (c *scriptedConsumer) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitN++
	if c.commitErr != nil && c.commitN == 1 {
		return c.commitErr
	}
	for _, m := range msgs {
		c.committed = append(c.committed, m.Offset)
	}
	return nil
}

func (c *scriptedConsumer) Close() error { return nil }

func (c *scriptedConsumer) offsets() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.committed...)
}

// flakyHandler fails the first failures calls.
type flakyHandler struct {
	mu       sync.Mutex
	failures int
	handled  []int64
	calls    int
}

func (h *flakyHandler) HandleOrderEvent(_ context.Context, msg kafkago.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.failures > 0 {
		h.failures--
		return errBoom
	}
	h.handled = append(h.handled, msg.Offset)
	return nil
}

func newTestConsumerService(consumer *scriptedConsumer, handler MessageHandler) *ConsumerService {
	svc := NewConsumerService(consumer, handler, zap.NewNop())
	svc.newBackOff = zeroBackOff
	return svc
}

func TestConsumerService_CommitsAfterHandling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer := &scriptedConsumer{messages: []kafkago.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	handler := &flakyHandler{}

	svc := newTestConsumerService(consumer, handler)
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	require.Eventually(t, func() bool { return len(consumer.offsets()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, []int64{1, 2, 3}, consumer.offsets())
}

func TestConsumerService_RetriesHandlerInPlace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer := &scriptedConsumer{messages: []kafkago.Message{{Offset: 1}, {Offset: 2}}}
	handler := &flakyHandler{failures: 3}

	svc := newTestConsumerService(consumer, handler)
	go func() { _ = svc.Start(ctx) }()

	require.Eventually(t, func() bool { return len(consumer.offsets()) == 2 }, time.Second, 5*time.Millisecond)
	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []int64{1, 2}, handler.handled)
	assert.Equal(t, 5, handler.calls)
}

func TestConsumerService_RetriesCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer := &scriptedConsumer{messages: []kafkago.Message{{Offset: 7}}, commitErr: errBoom}

	svc := newTestConsumerService(consumer, &flakyHandler{})
	go func() { _ = svc.Start(ctx) }()

	require.Eventually(t, func() bool { return len(consumer.offsets()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestConsumerService_SurvivesFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer := &scriptedConsumer{
		fetchErrs: []error{errors.New("broker unavailable")},
		messages:  []kafkago.Message{{Offset: 1}},
	}

	svc := newTestConsumerService(consumer, &flakyHandler{})
	go func() { _ = svc.Start(ctx) }()

	require.Eventually(t, func() bool { return len(consumer.offsets()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestConsumerService_StopsWithoutCommittingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &scriptedConsumer{messages: []kafkago.Message{{Offset: 1}}}
	handler := &flakyHandler{failures: 1 << 30}

	svc := NewConsumerService(consumer, handler, zap.NewNop())
	svc.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.calls > 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, consumer.offsets())
}

func TestConsumerService_ExitsWhenReaderIsClosed(t *testing.T) {
	consumer := &scriptedConsumer{fetchErrs: []error{io.EOF}}
	handler := &flakyHandler{}

	errCh := make(chan error, 1)
	go func() { errCh <- newTestConsumerService(consumer, handler).Start(context.Background()) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer kept reading from a closed reader")
	}
	assert.Zero(t, handler.calls)
}

func TestConsumerService_BacksOffBetweenFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer := &scriptedConsumer{fetchErrs: []error{errBoom, errBoom, errBoom}}

	var waits atomic.Int32
	svc := NewConsumerService(consumer, &flakyHandler{}, zap.NewNop())
	svc.newBackOff = func() backoff.BackOff {
		return &countingBackOff{calls: &waits}
	}

	go func() { _ = svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		consumer.mu.Lock()
		defer consumer.mu.Unlock()
		return len(consumer.fetchErrs) == 0
	}, time.Second, time.Millisecond)
	cancel()
	assert.GreaterOrEqual(t, waits.Load(), int32(2))
}

// countingBackOff never waits but records how often a delay was requested.
type countingBackOff struct {
	backoff.ZeroBackOff
	calls *atomic.Int32
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.calls.Add(1)
	return 0
}
