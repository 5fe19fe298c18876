package counter

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-cached-counts/internal/cacheinfra"
)

// Backend is the cache capability counters are stored in. Values are raw
// integers so the backend can change them atomically without decoding.
// Every call is a round-trip to the backend.
type Backend interface {
	// Get returns false when the key is absent or expired.
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	// Add stores value only when key is absent and reports whether it did.
	Add(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)
	// IncrementIfExists adds delta atomically, only when key is present.
	IncrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error)
	// DecrementIfExists subtracts delta atomically, only when key is present.
	// The result may go negative.
	DecrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error)
	Delete(ctx context.Context, key string) error
	// GetMulti returns the present keys only.
	GetMulti(ctx context.Context, keys []string) (map[string]int64, error)
}

// BackendMiddleware is a chainable behaviour modifier for Backend.
type BackendMiddleware func(Backend) Backend

// Chain applies middlewares so that the first one is the outermost.
func Chain(b Backend, mws ...BackendMiddleware) Backend {
	for i := len(mws) - 1; i >= 0; i-- {
		b = mws[i](b)
	}
	return b
}

// NewMemoryBackend returns an in-process backend. A nil clock uses the real one.
func NewMemoryBackend(clock clockwork.Clock) Backend {
	return cacheinfra.NewMemoryBackend(clock)
}

// NewRedisBackend returns a backend storing counters in redis.
func NewRedisBackend(client redis.UniversalClient) Backend {
	return cacheinfra.NewRedisBackend(client)
}

// LocalReadsConfig configures the in-process read layer.
type LocalReadsConfig struct {
	Capacity           int           `yaml:"capacity"`
	NumShards          int           `yaml:"num_shards"`
	TTL                time.Duration `yaml:"ttl"`
	EvictionPercentage int           `yaml:"eviction_percentage"`
	EvictionInterval   time.Duration `yaml:"eviction_interval"`
}

// DefaultLocalReadsConfig returns the local read layer defaults.
func DefaultLocalReadsConfig() LocalReadsConfig {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// fillDefaults replaces zero values with the defaults, so a config file only
// needs to name what it changes.
func (c *LocalReadsConfig) fillDefaults() {
	def := DefaultLocalReadsConfig()
	if c.Capacity == 0 {
		c.Capacity = def.Capacity
	}
	if c.NumShards == 0 {
		c.NumShards = def.NumShards
	}
	if c.TTL == 0 {
		c.TTL = def.TTL
	}
	if c.EvictionPercentage == 0 {
		c.EvictionPercentage = def.EvictionPercentage
	}
}

// Validate checks whether the configuration values are valid.
func (c LocalReadsConfig) Validate() error {
	return c.toInternal().Validate()
}

// WithLocalReads returns a middleware that serves reads from an in-process
// cache for cfg.TTL. Increments made by other processes are not visible until
// the local entry expires, so keep the TTL short.
func WithLocalReads(cfg LocalReadsConfig) (BackendMiddleware, error) {
	internal := cfg.toInternal()
	if err := internal.Validate(); err != nil {
		return nil, err
	}
	return func(next Backend) Backend {
		layer, err := cacheinfra.NewLocalReads(next, internal)
		if err != nil {
			// config was validated above
			panic(err)
		}
		return layer
	}, nil
}

func (c LocalReadsConfig) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) LocalReadsConfig {
	return LocalReadsConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
