package counter

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const maxInitAttempts = 3

// Store is the typed counter view over a Backend. It adds no buffering: every
// call reaches the backend, and backend failures are returned wrapped with the
// key involved.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for store diagnostics.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore wraps backend.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Read returns the cached value of key, or false on a miss.
func (s *Store) Read(ctx context.Context, key string) (int64, bool, error) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return 0, false, errors.Wrapf(err, "counter store: read %s", key)
	}
	return v, ok, nil
}

// Write stores value under key for ttl.
func (s *Store) Write(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := s.backend.Set(ctx, key, value, ttl); err != nil {
		return errors.Wrapf(err, "counter store: write %s", key)
	}
	return nil
}

// Add stores value under key only when the key is absent.
func (s *Store) Add(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	added, err := s.backend.Add(ctx, key, value, ttl)
	if err != nil {
		return false, errors.Wrapf(err, "counter store: add %s", key)
	}
	return added, nil
}

// IncrementIfExists adds one to key. Absent keys are left absent so that a
// partial update never resurrects an expired counter.
func (s *Store) IncrementIfExists(ctx context.Context, key string) (bool, error) {
	v, ok, err := s.backend.IncrementIfExists(ctx, key, 1)
	if err != nil {
		return false, errors.Wrapf(err, "counter store: increment %s", key)
	}
	if !ok {
		s.logger.Debug("increment skipped, key absent", zap.String("key", key))
		return false, nil
	}
	s.logger.Debug("incremented", zap.String("key", key), zap.Int64("value", v))
	return true, nil
}

// DecrementIfExists subtracts one from key. Absent keys are left absent. No
// floor is applied.
func (s *Store) DecrementIfExists(ctx context.Context, key string) (bool, error) {
	v, ok, err := s.backend.DecrementIfExists(ctx, key, 1)
	if err != nil {
		return false, errors.Wrapf(err, "counter store: decrement %s", key)
	}
	if !ok {
		s.logger.Debug("decrement skipped, key absent", zap.String("key", key))
		return false, nil
	}
	s.logger.Debug("decremented", zap.String("key", key), zap.Int64("value", v))
	return true, nil
}

// IncrementOrInit increments key by delta, or stores initial when the key is
// absent. It backs the optional "write default, then increment" policy.
func (s *Store) IncrementOrInit(ctx context.Context, key string, delta, initial int64, ttl time.Duration) error {
	for attempt := 0; ; attempt++ {
		_, ok, err := s.backend.IncrementIfExists(ctx, key, delta)
		if err != nil {
			return errors.Wrapf(err, "counter store: increment %s", key)
		}
		if ok {
			return nil
		}
		added, err := s.Add(ctx, key, initial, ttl)
		if err != nil {
			return err
		}
		if added {
			return nil
		}
		if attempt >= maxInitAttempts {
			return errors.Errorf("counter store: increment %s: key kept disappearing", key)
		}
		// lost the race with another writer; the key exists now
	}
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "counter store: delete %s", key)
	}
	return nil
}

// ReadMulti returns the cached values of the present keys.
func (s *Store) ReadMulti(ctx context.Context, keys []string) (map[string]int64, error) {
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	values, err := s.backend.GetMulti(ctx, keys)
	if err != nil {
		return nil, errors.Wrapf(err, "counter store: read %d keys", len(keys))
	}
	return values, nil
}
