package engine

import (
	"context"
	"sync"
	"time"
)

// DefaultIdempotencyTTL is how long a cached result stays valid.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStore caches results of successful executions by idempotency key.
// Implementations must be safe for concurrent use. Get must treat expired
// records as misses but must not delete them; eviction is done by Sweep.
type IdempotencyStore interface {
	// Get returns the live record for key, if any.
	Get(ctx context.Context, key string) (*IdempotencyRecord, bool, error)

	// Put stores or replaces the record for record.Key.
	Put(ctx context.Context, record *IdempotencyRecord) error

	// Sweep deletes records that expired at or before now and returns the count.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Len returns the number of live records.
	Len(ctx context.Context) (int, error)
}

// MemoryIdempotencyCache is the in-process IdempotencyStore.
type MemoryIdempotencyCache struct {
	entries sync.Map // key -> *IdempotencyRecord
	now     func() time.Time
}

// NewMemoryIdempotencyCache creates an empty in-memory cache.
func NewMemoryIdempotencyCache() *MemoryIdempotencyCache {
	return &MemoryIdempotencyCache{now: time.Now}
}

// Get implements IdempotencyStore.
func (c *MemoryIdempotencyCache) Get(_ context.Context, key string) (*IdempotencyRecord, bool, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	rec := v.(*IdempotencyRecord)
	if rec.Expired(c.now()) {
		return nil, false, nil
	}
	out := *rec
	return &out, true, nil
}

// Put implements IdempotencyStore.
func (c *MemoryIdempotencyCache) Put(_ context.Context, record *IdempotencyRecord) error {
	if record == nil || record.Key == "" {
		return NewValidationError("idempotency record requires a key")
	}
	rec := *record
	c.entries.Store(rec.Key, &rec)
	return nil
}

// Sweep implements IdempotencyStore.
func (c *MemoryIdempotencyCache) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	c.entries.Range(func(k, v any) bool {
		if v.(*IdempotencyRecord).Expired(now) {
			// CompareAndDelete keeps a concurrent Put of a fresh record.
			if c.entries.CompareAndDelete(k, v) {
				removed++
			}
		}
		return true
	})
	return removed, nil
}

// Len implements IdempotencyStore.
func (c *MemoryIdempotencyCache) Len(_ context.Context) (int, error) {
	now := c.now()
	n := 0
	c.entries.Range(func(_, v any) bool {
		if !v.(*IdempotencyRecord).Expired(now) {
			n++
		}
		return true
	})
	return n, nil
}
