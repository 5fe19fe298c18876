package countercache

import (
	"context"

	"go.uber.org/zap"

	"github.com/goliatone/go-cached-counts/counter"
)

// destroyCapture is what BeforeDestroy records for AfterDestroy.
type destroyCapture struct {
	in  bool
	key string
	ok  bool
}

// bindHooks subscribes the counter to the lifecycle of the counted entity.
// Update hooks are only installed when an update can change the counter, and
// the before-destroy capture only when the row or its owners are needed after
// they are gone.
func (c *Counter) bindHooks(events counter.EventSource) {
	events.OnCommit(c.counted, counter.AfterCreate, c.afterCreate)

	if c.spec.Predicate != nil || c.chain != nil {
		events.OnCommit(c.counted, counter.AfterUpdate, c.afterUpdate)
	}

	if c.spec.Predicate != nil || (c.chain != nil && len(c.chain.hops) > 1) {
		events.OnCommit(c.counted, counter.BeforeDestroy, c.beforeDestroy)
	}

	events.OnCommit(c.counted, counter.AfterDestroy, c.afterDestroy)
}

// memoKey names the capture of this counter in a destroy memo. Hook names can
// collide across counters, registry keys cannot.
func (c *Counter) memoKey() string {
	return c.spec.Kind.String() + ":" + registryKey(c.spec.Entity, c.spec.Attribute)
}

func (c *Counter) afterCreate(ctx context.Context, ev counter.Event) error {
	return c.apply(ctx, ev, Transition(counter.AfterCreate, false, matches(c.spec.Predicate, ev.Row)), ev.Row)
}

func (c *Counter) afterUpdate(ctx context.Context, ev counter.Event) error {
	wasIn, isIn := membership(c.spec.Predicate, ev.Row, ev.Changes)
	if !wasIn && !isIn {
		return nil
	}

	if c.chain != nil && c.chain.touches(ev.Changes) {
		before := counter.Overlay(ev.Row, ev.Changes)
		oldKey, oldOK, err := c.rowKey(ctx, before)
		if err != nil {
			return err
		}
		newKey, newOK, err := c.rowKey(ctx, ev.Row)
		if err != nil {
			return err
		}
		if oldOK != newOK || oldKey != newKey {
			c.logger.Debug("owner changed",
				zap.String("hook", c.hookName),
				zap.String("from", oldKey),
				zap.String("to", newKey),
			)
			if wasIn && oldOK {
				if err := c.decrement(ctx, oldKey); err != nil {
					return err
				}
			}
			if isIn && newOK {
				return c.increment(ctx, newKey)
			}
			return nil
		}
	}

	return c.apply(ctx, ev, Transition(counter.AfterUpdate, wasIn, isIn), ev.Row)
}

func (c *Counter) beforeDestroy(ctx context.Context, ev counter.Event) error {
	capture := destroyCapture{in: matches(c.spec.Predicate, ev.Row)}
	if capture.in {
		key, ok, err := c.rowKey(ctx, ev.Row)
		if err != nil {
			return err
		}
		capture.key, capture.ok = key, ok
	}
	ev.Memo.Put(c.memoKey(), capture)
	return nil
}

func (c *Counter) afterDestroy(ctx context.Context, ev counter.Event) error {
	if v, ok := ev.Memo.Get(c.memoKey()); ok {
		capture := v.(destroyCapture)
		if Transition(counter.AfterDestroy, capture.in, false) != Decrement {
			return nil
		}
		if !capture.ok {
			c.skip(ev)
			return nil
		}
		return c.decrement(ctx, capture.key)
	}

	return c.apply(ctx, ev, Transition(counter.AfterDestroy, matches(c.spec.Predicate, ev.Row), false), ev.Row)
}

// apply resolves the key of row and performs action on it.
func (c *Counter) apply(ctx context.Context, ev counter.Event, action Action, row counter.Row) error {
	if action == NoOp {
		return nil
	}

	key, ok, err := c.rowKey(ctx, row)
	if err != nil {
		return err
	}
	if !ok {
		c.skip(ev)
		return nil
	}

	c.logger.Debug("applying lifecycle change",
		zap.String("hook", c.hookName),
		zap.Stringer("event", ev.Kind),
		zap.Stringer("action", action),
		zap.String("key", key),
	)

	if action == Increment {
		return c.increment(ctx, key)
	}
	return c.decrement(ctx, key)
}

// rowKey derives the key a counted row contributes to.
func (c *Counter) rowKey(ctx context.Context, row counter.Row) (string, bool, error) {
	if c.spec.Kind == ScopeCount {
		return c.keys.ScopeKey(c.spec.Entity, c.spec.Attribute, c.spec.Version), true, nil
	}
	ownerID, err := c.chain.resolve(ctx, row)
	if err != nil {
		return "", false, err
	}
	key, ok := c.keys.AssociationKey(c.spec.Entity, ownerID, c.spec.Attribute, c.spec.Version)
	return key, ok, nil
}

func (c *Counter) skip(ev counter.Event) {
	c.logger.Debug("owner not resolved, skipping",
		zap.String("hook", c.hookName),
		zap.Stringer("event", ev.Kind),
	)
}
