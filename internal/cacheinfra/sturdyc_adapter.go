package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// Backend mirrors the counter backend contract so this package stays free of
// a dependency on its consumers.
type Backend interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Add(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)
	IncrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error)
	DecrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error)
	Delete(ctx context.Context, key string) error
	GetMulti(ctx context.Context, keys []string) (map[string]int64, error)
}

// Config holds the configuration for the sturdyc local read layer.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL is how long a value read from the shared backend is served locally.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                time.Second,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// LocalReads serves counter reads from a sturdyc cache in front of a shared
// backend. Writes always go to the shared backend and drop the local entry.
type LocalReads struct {
	next   Backend
	client *sturdyc.Client[int64]
}

// NewLocalReads wraps next with a local read layer configured by cfg.
func NewLocalReads(next Backend, cfg Config) (*LocalReads, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[int64](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &LocalReads{next: next, client: client}, nil
}

// Get serves key locally when possible, falling back to the shared backend.
func (l *LocalReads) Get(ctx context.Context, key string) (int64, bool, error) {
	if v, ok := l.client.Get(key); ok {
		return v, true, nil
	}

	v, ok, err := l.next.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}

	l.client.Set(key, v)
	return v, true, nil
}

// Set writes through and drops the local entry.
func (l *LocalReads) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	defer l.client.Delete(key)
	return l.next.Set(ctx, key, value, ttl)
}

// Add writes through and drops the local entry.
func (l *LocalReads) Add(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	defer l.client.Delete(key)
	return l.next.Add(ctx, key, value, ttl)
}

// IncrementIfExists writes through and drops the local entry.
func (l *LocalReads) IncrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error) {
	defer l.client.Delete(key)
	return l.next.IncrementIfExists(ctx, key, delta)
}

// DecrementIfExists writes through and drops the local entry.
func (l *LocalReads) DecrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error) {
	defer l.client.Delete(key)
	return l.next.DecrementIfExists(ctx, key, delta)
}

// Delete removes key from both layers.
func (l *LocalReads) Delete(ctx context.Context, key string) error {
	l.client.Delete(key)
	return l.next.Delete(ctx, key)
}

// GetMulti serves what it can locally and fetches the rest in one call.
func (l *LocalReads) GetMulti(ctx context.Context, keys []string) (map[string]int64, error) {
	out := l.client.GetMany(keys)
	if out == nil {
		out = make(map[string]int64, len(keys))
	}

	missing := make([]string, 0, len(keys)-len(out))
	for _, key := range keys {
		if _, ok := out[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := l.next.GetMulti(ctx, missing)
	if err != nil {
		return nil, err
	}
	for key, v := range fetched {
		l.client.Set(key, v)
		out[key] = v
	}

	return out, nil
}

// Size returns the number of locally cached entries.
func (l *LocalReads) Size() int {
	return l.client.Size()
}
