package cacheinfra

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// incrementIfExistsScript adds ARGV[1] to KEYS[1] only if the key exists.
// INCRBY keeps the key's TTL.
var incrementIfExistsScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("INCRBY", KEYS[1], ARGV[1])
end
return false
`)

// RedisBackend stores counters as plain redis integers.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get returns the value of key.
func (b *RedisBackend) Get(ctx context.Context, key string) (int64, bool, error) {
	v, err := b.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Set stores value for ttl; a non-positive ttl never expires.
func (b *RedisBackend) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, positive(ttl)).Err()
}

// Add stores value only when key is absent.
func (b *RedisBackend) Add(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	return b.client.SetNX(ctx, key, value, positive(ttl)).Result()
}

// IncrementIfExists adds delta to key when it exists.
func (b *RedisBackend) IncrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error) {
	v, err := incrementIfExistsScript.Run(ctx, b.client, []string{key}, delta).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// DecrementIfExists subtracts delta from key when it exists.
func (b *RedisBackend) DecrementIfExists(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return b.IncrementIfExists(ctx, key, -delta)
}

// Delete removes key.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// GetMulti fetches keys with a single MGET.
func (b *RedisBackend) GetMulti(ctx context.Context, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, raw := range values {
		if raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return nil, errors.Errorf("unexpected redis value %T for %s", raw, keys[i])
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse redis value for %s", keys[i])
		}
		out[keys[i]] = v
	}

	return out, nil
}

func positive(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
