package countercache

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/goliatone/go-cached-counts/counter"
)

var (
	// ErrUnknownCounter is returned when no counter is declared under a name.
	ErrUnknownCounter = errors.New("countercache: unknown counter")
	// ErrKindMismatch is returned when a scope operation is used on an
	// association counter, or the other way around.
	ErrKindMismatch = errors.New("countercache: counter kind mismatch")
	// ErrNoOwner is returned when an association operation needs a key and
	// the owner id is absent.
	ErrNoOwner = errors.New("countercache: owner id is absent")
	// ErrUnhashableOwner is returned by TryCountsFor for an owner id that
	// cannot key the result map.
	ErrUnhashableOwner = errors.New("countercache: owner id is not comparable")
)

// Counter is the handle of one declared counter. The primary name and every
// alias resolve to the same handle.
type Counter struct {
	spec   Spec
	keys   counter.KeyDeriver
	store  *counter.Store
	reader *reader
	logger *zap.Logger

	// scope is set for scope counters.
	scope counter.Query

	// ownerQuery and chain are set for association counters.
	ownerQuery counter.AssociationQuery
	chain      *ownerChain

	counted  string
	hookName string
}

// Spec returns the counter configuration.
func (c *Counter) Spec() Spec {
	return c.spec
}

// Kind returns whether this is a scope or an association counter.
func (c *Counter) Kind() Kind {
	return c.spec.Kind
}

// Count returns the value of a scope counter, computing it on a miss.
func (c *Counter) Count(ctx context.Context) (int64, error) {
	key, err := c.Key()
	if err != nil {
		return 0, err
	}
	return c.reader.count(ctx, c.spec, key, c.scope)
}

// Key returns the cache key of a scope counter.
func (c *Counter) Key() (string, error) {
	if c.spec.Kind != ScopeCount {
		return "", c.mismatch()
	}
	return c.keys.ScopeKey(c.spec.Entity, c.spec.Attribute, c.spec.Version), nil
}

// Set overwrites the cached value of a scope counter.
func (c *Counter) Set(ctx context.Context, value int64) error {
	key, err := c.Key()
	if err != nil {
		return err
	}
	return c.store.Write(ctx, key, value, c.spec.TTL)
}

// Expire deletes the cached value so that the next read recomputes it.
func (c *Counter) Expire(ctx context.Context) error {
	key, err := c.Key()
	if err != nil {
		return err
	}
	return c.store.Delete(ctx, key)
}

// Increment adds one to a cached scope counter. It does nothing when the
// value is not cached.
func (c *Counter) Increment(ctx context.Context) error {
	key, err := c.Key()
	if err != nil {
		return err
	}
	return c.increment(ctx, key)
}

// Decrement subtracts one from a cached scope counter. It does nothing when
// the value is not cached.
func (c *Counter) Decrement(ctx context.Context) error {
	key, err := c.Key()
	if err != nil {
		return err
	}
	return c.decrement(ctx, key)
}

// CountFor returns the value of an association counter for one owner,
// computing it on a miss.
func (c *Counter) CountFor(ctx context.Context, ownerID any) (int64, error) {
	key, err := c.KeyFor(ownerID)
	if err != nil {
		return 0, err
	}
	return c.reader.count(ctx, c.spec, key, func(ctx context.Context) (int64, error) {
		return c.ownerQuery(ctx, ownerID)
	})
}

// KeyFor returns the cache key of an association counter for one owner.
func (c *Counter) KeyFor(ownerID any) (string, error) {
	if c.spec.Kind != AssociationCount {
		return "", c.mismatch()
	}
	key, ok := c.keys.AssociationKey(c.spec.Entity, ownerID, c.spec.Attribute, c.spec.Version)
	if !ok {
		return "", ErrNoOwner
	}
	return key, nil
}

// SetFor overwrites the cached value for one owner.
func (c *Counter) SetFor(ctx context.Context, ownerID any, value int64) error {
	key, err := c.KeyFor(ownerID)
	if err != nil {
		return err
	}
	return c.store.Write(ctx, key, value, c.spec.TTL)
}

// ExpireFor deletes the cached value for one owner.
func (c *Counter) ExpireFor(ctx context.Context, ownerID any) error {
	key, err := c.KeyFor(ownerID)
	if err != nil {
		return err
	}
	return c.store.Delete(ctx, key)
}

// IncrementFor adds one to the cached value for one owner. It does nothing
// when the owner id is absent or the value is not cached.
func (c *Counter) IncrementFor(ctx context.Context, ownerID any) error {
	key, err := c.KeyFor(ownerID)
	if errors.Is(err, ErrNoOwner) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.increment(ctx, key)
}

// DecrementFor subtracts one from the cached value for one owner. It does
// nothing when the owner id is absent or the value is not cached.
func (c *Counter) DecrementFor(ctx context.Context, ownerID any) error {
	key, err := c.KeyFor(ownerID)
	if errors.Is(err, ErrNoOwner) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.decrement(ctx, key)
}

// TryCountsFor reads the cached values of several owners in one round-trip.
// Owners without a cached value, or with an absent id, map to def. Nothing is
// computed. Byte slice ids are keyed by their string form in the result; other
// ids must be comparable.
func (c *Counter) TryCountsFor(ctx context.Context, ownerIDs []any, def int64) (map[any]int64, error) {
	if c.spec.Kind != AssociationCount {
		return nil, c.mismatch()
	}

	ids := make([]any, len(ownerIDs))
	keys := make([]string, 0, len(ownerIDs))
	keyOf := make(map[any]string, len(ownerIDs))
	for i, id := range ownerIDs {
		mk, err := ownerMapKey(id)
		if err != nil {
			return nil, err
		}
		ids[i] = mk
		if key, ok := c.keys.AssociationKey(c.spec.Entity, id, c.spec.Attribute, c.spec.Version); ok {
			keys = append(keys, key)
			keyOf[mk] = key
		}
	}

	values, err := c.store.ReadMulti(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make(map[any]int64, len(ids))
	for _, id := range ids {
		v, ok := values[keyOf[id]]
		if !ok {
			v = def
		}
		out[id] = v
	}
	return out, nil
}

// ownerMapKey returns the form of id usable as a map key.
func ownerMapKey(id any) (any, error) {
	if id == nil {
		return nil, nil
	}
	if b, ok := id.([]byte); ok {
		return string(b), nil
	}
	if !reflect.TypeOf(id).Comparable() {
		return nil, errors.Wrapf(ErrUnhashableOwner, "%T", id)
	}
	return id, nil
}

func (c *Counter) increment(ctx context.Context, key string) error {
	if c.spec.IncrementInitial != nil {
		return c.store.IncrementOrInit(ctx, key, 1, *c.spec.IncrementInitial, c.spec.TTL)
	}
	_, err := c.store.IncrementIfExists(ctx, key)
	return err
}

func (c *Counter) decrement(ctx context.Context, key string) error {
	if c.spec.IncrementInitial != nil {
		return c.store.IncrementOrInit(ctx, key, -1, *c.spec.IncrementInitial, c.spec.TTL)
	}
	_, err := c.store.DecrementIfExists(ctx, key)
	return err
}

func (c *Counter) mismatch() error {
	return errors.Wrapf(ErrKindMismatch, "%s.%s is a %s counter", c.spec.Entity, c.spec.Attribute, c.spec.Kind)
}
