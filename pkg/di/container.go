package di

import (
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/goliatone/go-cached-counts/counter"
	"github.com/goliatone/go-cached-counts/countercache"
)

// Container wires the counter components from a Config: the cache backend
// with its optional local read layer and instrumentation, the store and the
// key deriver. Registries built from the same container share them.
type Container struct {
	config  counter.Config
	backend counter.Backend
	store   *counter.Store
	keys    counter.KeyDeriver
	logger  *zap.Logger
	metrics *counter.BackendMetrics

	queryContext counter.QueryContext
	redis        redis.UniversalClient
	ownsRedis    bool
}

// Option customizes a Container.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	registerer   prometheus.Registerer
	redis        redis.UniversalClient
	clock        clockwork.Clock
	queryContext counter.QueryContext
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer sets where backend metrics are registered. Defaults to
// prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// WithRedisClient uses client instead of dialing Config.Redis. The container
// does not close a client it did not create.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithClock sets the clock of the memory backend.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithQueryContext sets the query wrapper of every registry built by the
// container.
func WithQueryContext(qc counter.QueryContext) Option {
	return func(o *options) {
		o.queryContext = qc
	}
}

// NewContainer validates config and builds the components it describes.
func NewContainer(config counter.Config, opts ...Option) (*Container, error) {
	o := options{logger: zap.NewNop(), registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		config:       config,
		keys:         config.KeyDeriver(),
		logger:       o.logger,
		queryContext: o.queryContext,
	}

	var base counter.Backend
	switch config.Backend {
	case counter.BackendRedis:
		c.redis = o.redis
		if c.redis == nil {
			c.redis = redis.NewClient(&redis.Options{
				Addr:     config.Redis.Addr,
				Password: config.Redis.Password,
				DB:       config.Redis.DB,
			})
			c.ownsRedis = true
		}
		base = counter.NewRedisBackend(c.redis)
	default:
		base = counter.NewMemoryBackend(o.clock)
	}

	var middlewares []counter.BackendMiddleware
	if config.LocalReads != nil {
		local, err := counter.WithLocalReads(*config.LocalReads)
		if err != nil {
			c.Close()
			return nil, err
		}
		middlewares = append(middlewares, local)
	}
	if config.MetricsNamespace != "" {
		c.metrics = counter.NewBackendMetrics(config.MetricsNamespace)
		if err := c.metrics.Register(o.registerer); err != nil {
			c.Close()
			return nil, errors.Wrap(err, "register counter metrics")
		}
		middlewares = append(middlewares, counter.InstrumentBackendMiddleware(config.Backend, c.metrics))
	}

	c.backend = counter.Chain(base, middlewares...)
	c.store = counter.NewStore(c.backend, counter.WithStoreLogger(o.logger.Named("store")))

	o.logger.Debug("counter container ready",
		zap.String("backend", config.Backend),
		zap.Bool("local_reads", config.LocalReads != nil),
		zap.Bool("metrics", c.metrics != nil),
	)
	return c, nil
}

// NewContainerWithDefaults creates a container using DefaultConfig: an
// in-process backend without metrics.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(counter.DefaultConfig(), opts...)
}

// NewContainerFromFile loads a yaml config file and creates a container.
func NewContainerFromFile(path string, opts ...Option) (*Container, error) {
	config, err := counter.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewContainer(config, opts...)
}

// NewRegistry creates a counter registry over the container's store. The
// container's defaults come first so opts can override them.
func (c *Container) NewRegistry(schema *counter.Schema, events counter.EventSource, opts ...countercache.RegistryOption) (*countercache.Registry, error) {
	defaults := []countercache.RegistryOption{
		countercache.WithKeyDeriver(c.keys),
		countercache.WithLogger(c.logger.Named("counters")),
		countercache.WithDefaultTTL(c.config.TTL),
		countercache.WithDefaultRaceTTL(c.config.RaceTTL),
		countercache.WithQueryContext(c.queryContext),
	}
	return countercache.New(schema, c.store, events, append(defaults, opts...)...)
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() counter.Config {
	return c.config
}

// Backend returns the fully wrapped backend.
func (c *Container) Backend() counter.Backend {
	return c.backend
}

// Store returns the shared store.
func (c *Container) Store() *counter.Store {
	return c.store
}

// KeyDeriver returns the shared key deriver.
func (c *Container) KeyDeriver() counter.KeyDeriver {
	return c.keys
}

// Metrics returns the backend metrics, or nil when instrumentation is off.
func (c *Container) Metrics() *counter.BackendMetrics {
	return c.metrics
}

// Close releases the redis client the container created.
func (c *Container) Close() error {
	if c.ownsRedis && c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
