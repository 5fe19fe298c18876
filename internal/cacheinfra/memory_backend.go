package cacheinfra

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// MemoryBackend keeps counters in process memory. Every mutation of a key runs
// inside xsync's per-key Compute, which makes increments atomic.
type MemoryBackend struct {
	entries *xsync.MapOf[string, memoryEntry]
	clock   clockwork.Clock
}

// NewMemoryBackend creates an empty backend. A nil clock uses the real clock.
func NewMemoryBackend(clock clockwork.Clock) *MemoryBackend {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryBackend{
		entries: xsync.NewMapOf[string, memoryEntry](),
		clock:   clock,
	}
}

func (b *MemoryBackend) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return b.clock.Now().Add(ttl)
}

// Get returns the live value of key.
func (b *MemoryBackend) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	e, ok := b.entries.Load(key)
	if !ok {
		return 0, false, nil
	}
	if !e.live(b.clock.Now()) {
		b.evict(key)
		return 0, false, nil
	}
	return e.value, true, nil
}

// Set stores value for ttl; a non-positive ttl never expires.
func (b *MemoryBackend) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.entries.Store(key, memoryEntry{value: value, expiresAt: b.expiry(ttl)})
	return nil
}

// Add stores value only when no live entry exists for key.
func (b *MemoryBackend) Add(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := b.clock.Now()
	added := false
	b.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		if loaded && old.live(now) {
			return old, false
		}
		added = true
		return memoryEntry{value: value, expiresAt: b.expiry(ttl)}, false
	})
	return added, nil
}

// IncrementIfExists adds delta to a live entry, keeping its expiry.
func (b *MemoryBackend) IncrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	now := b.clock.Now()
	var (
		result int64
		found  bool
	)
	b.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		if !loaded || !old.live(now) {
			return old, true
		}
		old.value += delta
		result, found = old.value, true
		return old, false
	})
	return result, found, nil
}

// DecrementIfExists subtracts delta from a live entry. Values may go negative.
func (b *MemoryBackend) DecrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return b.IncrementIfExists(ctx, key, -delta)
}

// Delete removes key.
func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.entries.Delete(key)
	return nil
}

// GetMulti returns the live values among keys.
func (b *MemoryBackend) GetMulti(ctx context.Context, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		v, ok, err := b.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

// Flush removes every entry.
func (b *MemoryBackend) Flush() {
	b.entries.Clear()
}

// Len returns the number of stored entries, expired ones included.
func (b *MemoryBackend) Len() int {
	return b.entries.Size()
}

// evict removes key only if it is still expired, so a concurrent write is kept.
func (b *MemoryBackend) evict(key string) {
	now := b.clock.Now()
	b.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		if !loaded || !old.live(now) {
			return old, true
		}
		return old, false
	})
}
