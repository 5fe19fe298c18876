package countercache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/goliatone/go-cached-counts/counter"
)

// Default lifetimes used when neither the registry nor the counter sets one.
const (
	DefaultTTL     = 7 * 24 * time.Hour
	DefaultRaceTTL = 10 * time.Second
)

// Registry holds every declared counter of a process, keyed by entity type and
// counter name. Declarations happen at setup; lookups are safe for concurrent
// use.
type Registry struct {
	schema *counter.Schema
	store  *counter.Store
	events counter.EventSource

	keys         counter.KeyDeriver
	logger       *zap.Logger
	queryContext counter.QueryContext
	ttl          time.Duration
	raceTTL      time.Duration

	reader   *reader
	counters *xsync.MapOf[string, *Counter]
	declare  sync.Mutex
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithKeyDeriver replaces the default key deriver.
func WithKeyDeriver(k counter.KeyDeriver) RegistryOption {
	return func(r *Registry) {
		if k != nil {
			r.keys = k
		}
	}
}

// WithLogger sets the logger used by the registry and its counters.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithQueryContext wraps every count query, e.g. to route it to a replica.
func WithQueryContext(qc counter.QueryContext) RegistryOption {
	return func(r *Registry) {
		if qc != nil {
			r.queryContext = qc
		}
	}
}

// WithDefaultTTL sets the TTL of counters that do not set their own.
func WithDefaultTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithDefaultRaceTTL sets the race TTL of counters that do not set their own.
func WithDefaultRaceTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.raceTTL = ttl
		}
	}
}

// New creates a registry declaring counters on schema, storing values in store
// and subscribing to row lifecycle events on events.
func New(schema *counter.Schema, store *counter.Store, events counter.EventSource, opts ...RegistryOption) (*Registry, error) {
	switch {
	case schema == nil:
		return nil, &counter.ConfigError{Message: "schema is required"}
	case store == nil:
		return nil, &counter.ConfigError{Message: "store is required"}
	case events == nil:
		return nil, &counter.ConfigError{Message: "event source is required"}
	}

	r := &Registry{
		schema:       schema,
		store:        store,
		events:       events,
		keys:         counter.NewDefaultKeyDeriver(),
		logger:       zap.NewNop(),
		queryContext: counter.DirectQueryContext,
		ttl:          DefaultTTL,
		raceTTL:      DefaultRaceTTL,
		counters:     xsync.NewMapOf[string, *Counter](),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.reader = &reader{store: store, queryContext: r.queryContext, logger: r.logger}
	return r, nil
}

// CachesCountWhere declares a counter of the rows of entity matching the scope
// named attribute (or WithScopeName).
func (r *Registry) CachesCountWhere(entity, attribute string, opts ...Option) (*Counter, error) {
	e, ok := r.schema.Entity(entity)
	if !ok {
		return nil, &counter.ConfigError{Entity: entity, Name: attribute, Message: "unknown entity"}
	}

	spec := newSpec(ScopeCount, entity, attribute, r.ttl, r.raceTTL, opts)
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	scope, ok := e.Scopes[spec.Scope]
	if !ok || scope == nil {
		return nil, &counter.ConfigError{
			Entity:  entity,
			Name:    attribute,
			Message: fmt.Sprintf("%s does not have a scope named %s", entity, spec.Scope),
		}
	}

	c := r.newCounter(spec)
	c.scope = scope
	c.counted = entity
	c.hookName = attribute

	if err := r.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// CachesCountOf declares a per-owner counter of the has-many relation named
// attribute (or WithAssociation) of entity. The relation may reach the counted
// rows through other relations.
func (r *Registry) CachesCountOf(entity, attribute string, opts ...Option) (*Counter, error) {
	e, ok := r.schema.Entity(entity)
	if !ok {
		return nil, &counter.ConfigError{Entity: entity, Name: attribute, Message: "unknown entity"}
	}

	spec := newSpec(AssociationCount, entity, attribute, r.ttl, r.raceTTL, opts)
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	chain, err := buildOwnerChain(r.schema, e, spec.Association)
	if err != nil {
		return nil, err
	}

	query := spec.OwnerQuery
	if query == nil {
		query = e.Relations[spec.Association].Count
	}
	if query == nil {
		return nil, &counter.ConfigError{Entity: entity, Name: attribute, Message: "no count query for association " + spec.Association}
	}

	c := r.newCounter(spec)
	c.ownerQuery = query
	c.chain = chain
	c.counted = chain.counted
	c.hookName = associationHookName(entity, attribute)

	if err := r.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Counter looks up a counter by its name or one of its aliases.
func (r *Registry) Counter(entity, name string) (*Counter, bool) {
	return r.counters.Load(registryKey(entity, name))
}

// Count reads a scope counter by name.
func (r *Registry) Count(ctx context.Context, entity, name string) (int64, error) {
	c, ok := r.Counter(entity, name)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownCounter, "%s.%s", entity, name)
	}
	return c.Count(ctx)
}

// CountFor reads an association counter by name for one owner.
func (r *Registry) CountFor(ctx context.Context, entity, name string, ownerID any) (int64, error) {
	c, ok := r.Counter(entity, name)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownCounter, "%s.%s", entity, name)
	}
	return c.CountFor(ctx, ownerID)
}

// Counters returns the number of registered names, aliases included.
func (r *Registry) Counters() int {
	return r.counters.Size()
}

func (r *Registry) newCounter(spec Spec) *Counter {
	return &Counter{
		spec:   spec,
		keys:   r.keys,
		store:  r.store,
		reader: r.reader,
		logger: r.logger.With(zap.String("counter", spec.Entity+"."+spec.Attribute)),
	}
}

// register stores c under every name and binds its hooks. Nothing is stored
// when any name is taken.
func (r *Registry) register(c *Counter) error {
	r.declare.Lock()
	defer r.declare.Unlock()

	names := c.spec.Names()
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			return &counter.ConfigError{Entity: c.spec.Entity, Name: name, Message: "name given twice"}
		}
		seen[name] = struct{}{}
		if _, taken := r.counters.Load(registryKey(c.spec.Entity, name)); taken {
			return &counter.ConfigError{Entity: c.spec.Entity, Name: name, Message: "counter already declared"}
		}
	}

	for _, name := range names {
		r.counters.Store(registryKey(c.spec.Entity, name), c)
	}
	c.bindHooks(r.events)

	r.logger.Debug("counter declared",
		zap.String("entity", c.spec.Entity),
		zap.String("attribute", c.spec.Attribute),
		zap.Stringer("kind", c.spec.Kind),
		zap.String("counted", c.counted),
		zap.Strings("aliases", c.spec.Aliases),
	)
	return nil
}

func validateSpec(s Spec) error {
	switch {
	case s.Attribute == "":
		return &counter.ConfigError{Entity: s.Entity, Message: "counter name is required"}
	case s.Version < 0:
		return &counter.ConfigError{Entity: s.Entity, Name: s.Attribute, Message: "version must be non-negative"}
	case s.TTL <= 0:
		return &counter.ConfigError{Entity: s.Entity, Name: s.Attribute, Message: "ttl must be positive"}
	case s.RaceTTL <= 0:
		return &counter.ConfigError{Entity: s.Entity, Name: s.Attribute, Message: "race ttl must be positive"}
	}
	return nil
}

func registryKey(entity, name string) string {
	return entity + "." + name
}
