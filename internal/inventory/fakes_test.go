package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/vasilkosturski/orderflow/internal/events"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

// memoryLedger enforces the version check like the real stores.
type memoryLedger struct {
	mu    sync.Mutex
	items map[int64]Inventory
	// conflicts makes the next n saves fail as if another writer won.
	conflicts int
	getErr    error
	saves     int
}

func newMemoryLedger(seed ...Inventory) *memoryLedger {
	l := &memoryLedger{items: make(map[int64]Inventory)}
	for _, inv := range seed {
		l.items[inv.ProductID] = inv
	}
	return l
}

func (l *memoryLedger) Get(_ context.Context, productID int64) (*Inventory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return nil, l.getErr
	}
	inv, ok := l.items[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &inv, nil
}

func (l *memoryLedger) Save(_ context.Context, inv *Inventory, expectedVersion int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, ok := l.items[inv.ProductID]
	if !ok {
		return ErrVersionConflict
	}
	if l.conflicts > 0 {
		l.conflicts--
		stored.Version++
		l.items[inv.ProductID] = stored
		return ErrVersionConflict
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	l.saves++
	inv.Version = expectedVersion + 1
	l.items[inv.ProductID] = *inv
	return nil
}

func (l *memoryLedger) Create(_ context.Context, inv *Inventory) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[inv.ProductID]; ok {
		return ErrProductExists
	}
	l.items[inv.ProductID] = *inv
	return nil
}

func (l *memoryLedger) List(context.Context) ([]Inventory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Inventory, 0, len(l.items))
	for _, inv := range l.items {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (l *memoryLedger) ListBelowAvailable(ctx context.Context, threshold int) ([]Inventory, error) {
	all, _ := l.List(ctx)
	var low []Inventory
	for _, inv := range all {
		if inv.Available() < threshold {
			low = append(low, inv)
		}
	}
	return low, nil
}

func (l *memoryLedger) snapshot(t *testing.T, productID int64) Inventory {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.items[productID]
	require.True(t, ok, "product %d not in ledger", productID)
	return inv
}

type failingGuard struct {
	seenErr error
	markErr error
	// markFailures is how many marks fail with markErr before one succeeds.
	markFailures int
	marked       []string
}

func (g *failingGuard) Seen(context.Context, string) (bool, error) {
	return false, g.seenErr
}

func (g *failingGuard) Mark(_ context.Context, key string) error {
	g.marked = append(g.marked, key)
	if g.markFailures > 0 {
		g.markFailures--
		return g.markErr
	}
	return nil
}

type recordingProducer struct {
	mu       sync.Mutex
	messages []kafkago.Message
	err      error
}

func (p *recordingProducer) WriteMessage(_ context.Context, msg kafkago.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) sent() []kafkago.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafkago.Message(nil), p.messages...)
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newTestService(ledger Ledger, guard Guard, opts ...Option) *Service {
	opts = append([]Option{WithBackOff(zeroBackOff)}, opts...)
	return NewService(ledger, guard, zap.NewNop(), opts...)
}

func orderEvent(orderID string, productID int64, qty int, status string) events.OrderEvent {
	return events.OrderEvent{OrderID: orderID, ProductID: productID, Quantity: qty, Status: status}
}

func assertInvariant(t *testing.T, inv Inventory) {
	t.Helper()
	require.GreaterOrEqual(t, inv.Quantity, 0)
	require.GreaterOrEqual(t, inv.ReservedQuantity, 0)
	require.LessOrEqual(t, inv.ReservedQuantity, inv.Quantity)
}
