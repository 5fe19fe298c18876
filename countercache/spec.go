package countercache

import (
	"context"
	"time"

	"github.com/goliatone/go-cached-counts/counter"
)

// Kind distinguishes scope counters from association counters.
type Kind int

const (
	// ScopeCount counts the rows of one entity type matching a scope.
	ScopeCount Kind = iota
	// AssociationCount counts, per owner, the rows of a has-many relation.
	AssociationCount
)

func (k Kind) String() string {
	switch k {
	case ScopeCount:
		return "scope"
	case AssociationCount:
		return "association"
	default:
		return "unknown"
	}
}

// RaceFallback produces the interim value stored while a counter is computed.
// Returning false skips the interim write.
type RaceFallback func(ctx context.Context) (int64, bool, error)

// FixedFallback always serves v.
func FixedFallback(v int64) RaceFallback {
	return func(context.Context) (int64, bool, error) {
		return v, true, nil
	}
}

// Refresh is handed to a ValueUpdater on a cache miss.
type Refresh struct {
	Entity string
	Key    string
	TTL    time.Duration

	// Query runs the count query through the configured QueryContext.
	Query counter.Query

	Store *counter.Store
}

// ValueUpdater replaces the default "run the query, then write the result"
// step of a cache miss, e.g. to compute the value in the background. It is
// responsible for writing the value. Returning false serves the race fallback
// value, or zero when there is none.
type ValueUpdater func(ctx context.Context, r Refresh) (int64, bool, error)

// Spec is the configuration of one counter, fixed at declaration time.
type Spec struct {
	Kind Kind

	// Entity owns the counter and namespaces its key.
	Entity    string
	Attribute string
	Aliases   []string

	// Version is part of the key. Bump it together with any change to the
	// predicate or query, otherwise stale values keep being served.
	Version int

	TTL     time.Duration
	RaceTTL time.Duration

	// Predicate decides whether a counted row counts. Nil counts every row.
	Predicate counter.Predicate

	RaceFallback RaceFallback
	ValueUpdater ValueUpdater

	// IncrementInitial, when set, is stored by increments and decrements that
	// find the key absent instead of skipping them.
	IncrementInitial *int64

	// Scope names the entity scope a scope counter counts. Defaults to
	// Attribute.
	Scope string

	// Association names the has-many relation an association counter counts.
	// Defaults to Attribute.
	Association string

	// OwnerQuery overrides the relation's count query.
	OwnerQuery counter.AssociationQuery
}

// Names returns the primary name followed by the aliases.
func (s Spec) Names() []string {
	return append([]string{s.Attribute}, s.Aliases...)
}

// Option customizes a Spec.
type Option func(*Spec)

// WithAlias adds alternate names resolving to the same counter.
func WithAlias(names ...string) Option {
	return func(s *Spec) {
		s.Aliases = append(s.Aliases, names...)
	}
}

// WithVersion sets the key version.
func WithVersion(v int) Option {
	return func(s *Spec) {
		s.Version = v
	}
}

// WithTTL sets how long a computed value is kept.
func WithTTL(ttl time.Duration) Option {
	return func(s *Spec) {
		s.TTL = ttl
	}
}

// WithRaceTTL sets how long the interim value is kept.
func WithRaceTTL(ttl time.Duration) Option {
	return func(s *Spec) {
		s.RaceTTL = ttl
	}
}

// WithIf sets the predicate deciding whether a row counts.
func WithIf(p counter.Predicate) Option {
	return func(s *Spec) {
		s.Predicate = p
	}
}

// WithScopeName counts the named scope instead of the attribute name.
func WithScopeName(name string) Option {
	return func(s *Spec) {
		s.Scope = name
	}
}

// WithAssociation counts the named relation instead of the attribute name.
func WithAssociation(name string) Option {
	return func(s *Spec) {
		s.Association = name
	}
}

// WithRaceFallback sets the interim value producer.
func WithRaceFallback(f RaceFallback) Option {
	return func(s *Spec) {
		s.RaceFallback = f
	}
}

// WithoutRaceFallback disables the interim write.
func WithoutRaceFallback() Option {
	return func(s *Spec) {
		s.RaceFallback = nil
	}
}

// WithValueUpdater overrides how a missed value is computed and stored.
func WithValueUpdater(u ValueUpdater) Option {
	return func(s *Spec) {
		s.ValueUpdater = u
	}
}

// WithIncrementInitial stores v when a lifecycle hook finds the key absent.
func WithIncrementInitial(v int64) Option {
	return func(s *Spec) {
		s.IncrementInitial = &v
	}
}

// WithAssociationQuery sets the query counting the related rows of one owner.
func WithAssociationQuery(q counter.AssociationQuery) Option {
	return func(s *Spec) {
		s.OwnerQuery = q
	}
}

func newSpec(kind Kind, entity, attribute string, ttl, raceTTL time.Duration, opts []Option) Spec {
	spec := Spec{
		Kind:         kind,
		Entity:       entity,
		Attribute:    attribute,
		Version:      1,
		TTL:          ttl,
		RaceTTL:      raceTTL,
		RaceFallback: FixedFallback(0),
	}
	for _, opt := range opts {
		opt(&spec)
	}
	if spec.Scope == "" {
		spec.Scope = attribute
	}
	if spec.Association == "" {
		spec.Association = attribute
	}
	return spec
}
