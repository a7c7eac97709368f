// Package dedupe remembers idempotency keys that are known to be committed.
//
// It sits in front of the durable store as a shortcut only: keys are
// recorded after their batch commits, and a miss always falls through to the
// store's atomic insert-if-absent. Forgetting a key (eviction, restart) is
// therefore always safe.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/mindlab/internal/domain/model"
)

// Default deduper configuration constants.
const (
	defaultMaxSize = 100_000
)

// Deduper records committed event keys.
type Deduper interface {
	// Contains reports whether key is known to be committed.
	Contains(ctx context.Context, key model.Key) bool

	// Record marks keys as committed. Call only after the commit succeeded.
	Record(ctx context.Context, keys ...model.Key)

	// Forget drops key.
	Forget(ctx context.Context, key model.Key)

	Size() int64
}

// inMemoryDeduper is an LRU set. With maxSize <= 0 it remembers nothing.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[model.Key]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[model.Key]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) Contains(_ context.Context, key model.Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.seen[key]
	if ok {
		d.order.MoveToFront(el)
	}
	return ok
}

func (d *inMemoryDeduper) Record(_ context.Context, keys ...model.Key) {
	if d.maxSize <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range keys {
		if el, ok := d.seen[key]; ok {
			d.order.MoveToFront(el)
			continue
		}
		if d.order.Len() >= d.maxSize {
			d.evictOldest()
		}
		d.seen[key] = d.order.PushFront(key)
		d.size.Add(1)
	}
}

func (d *inMemoryDeduper) Forget(_ context.Context, key model.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		d.order.Remove(el)
		delete(d.seen, key)
		d.size.Add(-1)
	}
}

// evictOldest drops the least recently used key. Caller holds d.mu.
func (d *inMemoryDeduper) evictOldest() {
	el := d.order.Back()
	if el == nil {
		return
	}
	d.order.Remove(el)
	delete(d.seen, el.Value.(model.Key))
	d.size.Add(-1)
}

// Size returns the current number of remembered keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
