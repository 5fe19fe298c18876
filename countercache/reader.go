package countercache

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-cached-counts/counter"
)

// reader implements the read-through protocol shared by every counter.
type reader struct {
	store        *counter.Store
	queryContext counter.QueryContext
	logger       *zap.Logger
	group        singleflight.Group
}

// count returns the cached value of key, computing it with run on a miss.
//
// Callers in this process that miss the same key together share one
// computation. A caller whose context ends stops waiting without failing the
// others. The race fallback is stored with set-if-absent before the query
// runs, so later readers hit the interim value. A count query must therefore
// not read its own counter: doing so before the interim value exists would
// wait on itself.
func (r *reader) count(ctx context.Context, spec Spec, key string, run counter.Query) (int64, error) {
	v, ok, err := r.store.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	if ok {
		r.logger.Debug("counter hit", zap.String("key", key), zap.Int64("value", v))
		return v, nil
	}

	r.logger.Debug("counter miss", zap.String("key", key))

	// the computation outlives a cancelled caller so joined callers still
	// get its result
	flight := r.group.DoChan(key, func() (any, error) {
		return r.populate(context.WithoutCancel(ctx), spec, key, run)
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			return 0, res.Err
		}
		if res.Shared {
			r.logger.Debug("counter computation shared", zap.String("key", key))
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *reader) populate(ctx context.Context, spec Spec, key string, run counter.Query) (int64, error) {
	interim, hasInterim := r.fallback(ctx, spec, key)

	if hasInterim {
		added, err := r.store.Add(ctx, key, interim, spec.RaceTTL)
		if err != nil {
			return 0, err
		}
		if !added {
			// another populator got there first
			v, ok, err := r.store.Read(ctx, key)
			if err != nil {
				return 0, err
			}
			if ok {
				return v, nil
			}
		}
	}

	query := func(ctx context.Context) (int64, error) {
		return r.queryContext(ctx, spec.Entity, run)
	}

	if spec.ValueUpdater != nil {
		v, ok, err := spec.ValueUpdater(ctx, Refresh{
			Entity: spec.Entity,
			Key:    key,
			TTL:    spec.TTL,
			Query:  query,
			Store:  r.store,
		})
		if err != nil {
			return 0, err
		}
		if !ok {
			return interim, nil
		}
		return v, nil
	}

	v, err := query(ctx)
	if err != nil {
		return 0, err
	}

	if err := r.store.Write(ctx, key, v, spec.TTL); err != nil {
		return 0, err
	}

	r.logger.Debug("counter populated", zap.String("key", key), zap.Int64("value", v))
	return v, nil
}

// fallback evaluates the race fallback. Failures are logged and skip the
// interim write.
func (r *reader) fallback(ctx context.Context, spec Spec, key string) (int64, bool) {
	if spec.RaceFallback == nil {
		return 0, false
	}
	v, ok, err := spec.RaceFallback(ctx)
	if err != nil {
		r.logger.Warn("race fallback failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return v, ok
}
