package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type memoryRepo struct {
	mu        sync.Mutex
	orders    map[string]*Order
	createErr error
	findErr   error
	keyErr    error
	markErr   error
	creates   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[string]*Order)}
}

func (r *memoryRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.creates++
	o.ID = uint(r.creates)
	cp := *o
	r.orders[o.OrderID] = &cp
	return nil
}

func (r *memoryRepo) FindByOrderID(_ context.Context, orderID string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memoryRepo) FindByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keyErr != nil {
		return nil, r.keyErr
	}
	for _, o := range r.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) UpdateStatus(_ context.Context, orderID string, from, to Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.Status != from {
		return ErrStatusChanged
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

func (r *memoryRepo) all(match func(*Order) bool) []Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if match(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memoryRepo) List(context.Context) ([]Order, error) {
	return r.all(func(*Order) bool { return true }), nil
}

func (r *memoryRepo) ListByStatus(_ context.Context, status Status) ([]Order, error) {
	return r.all(func(o *Order) bool { return o.Status == status }), nil
}

func (r *memoryRepo) ListPending(_ context.Context, from, to time.Time) ([]Order, error) {
	return r.all(func(o *Order) bool {
		return o.Status == StatusPending && o.CreatedAt.Before(to) && (from.IsZero() || !o.CreatedAt.Before(from))
	}), nil
}

func (r *memoryRepo) ListUnpublished(_ context.Context, from, to time.Time) ([]Order, error) {
	return r.all(func(o *Order) bool {
		return o.Status == StatusPending && o.PublishedAt == nil && o.CreatedAt.Before(to) && (from.IsZero() || !o.CreatedAt.Before(from))
	}), nil
}

func (r *memoryRepo) MarkPublished(_ context.Context, orderID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return r.markErr
	}
	if o, ok := r.orders[orderID]; ok && o.PublishedAt == nil {
		o.PublishedAt = &at
	}
	return nil
}

func (r *memoryRepo) CountByStatus(context.Context) (map[Status]int64, error) {
	counts := map[Status]int64{}
	for _, o := range r.all(func(*Order) bool { return true }) {
		counts[o.Status]++
	}
	return counts, nil
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type memoryCache struct {
	mu          sync.Mutex
	entries     map[string]string
	lookupErr   error
	rememberErr error
	// beforeLookupReturn runs after the miss is decided, letting tests line up concurrent callers.
	beforeLookupReturn func()
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]string)}
}

func (c *memoryCache) Lookup(_ context.Context, key string) (string, bool, error) {
	if c.lookupErr != nil {
		return "", false, c.lookupErr
	}
	c.mu.Lock()
	id, ok := c.entries[key]
	c.mu.Unlock()
	if c.beforeLookupReturn != nil {
		c.beforeLookupReturn()
	}
	return id, ok, nil
}

func (c *memoryCache) Remember(_ context.Context, key, orderID string) error {
	if c.rememberErr != nil {
		return c.rememberErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = orderID
	return nil
}

func (c *memoryCache) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[key]
	return id, ok
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []Order
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, o *Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, *o)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type recordingProducer struct {
	messages []kafkago.Message
	err      error
}

func (p *recordingProducer) WriteMessage(_ context.Context, msg kafkago.Message) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type scriptedConsumer struct {
	messages []kafkago.Message
	errs     []error
}

// ReadMessage replays errs first, then messages, then blocks until ctx is done.
func (c *scriptedConsumer) ReadMessage(ctx context.Context) (*kafkago.Message, error) {
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return nil, err
	}
	if len(c.messages) > 0 {
		msg := c.messages[0]
		c.messages = c.messages[1:]
		return &msg, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *scriptedConsumer) Close() error { return nil }

var errBoom = errors.New("boom")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs() IDGenerator {
	var mu sync.Mutex
	n := 0
	return func(now time.Time) string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "ORDER_" + now.Format("20060102150405") + "_" + string(rune('a'+n-1)) + "0000000"
	}
}
