// Package kv wraps the shared Redis-backed key-value store used for the
// LoopFilter, RateLimiter, and edit-update tracker. All keys live under
// the "janus:" namespace.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const namespace = "janus:"

// Store is the minimal atomic key-value contract the bridge core needs.
// It is satisfied by a real Redis client and by an in-memory fake used in
// tests, so LoopFilter/RateLimiter/edit-update logic never touches
// *redis.Client directly.
type Store interface {
	// SetNX sets key=value with the given TTL only if key does not already
	// exist. Returns whether the set happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr atomically increments key (creating it at 1 if absent) and
	// returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on an existing key. A no-op if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live for key, or 0 if the key is
	// absent or has no TTL.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Get returns the value and whether the key existed.
	Get(ctx context.Context, key string) (string, bool, error)
	// GetSet atomically sets key=value and returns key's previous value
	// (and whether it existed) in one round trip.
	GetSet(ctx context.Context, key, value string) (string, bool, error)
	// Del removes key. A no-op if the key is absent.
	Del(ctx context.Context, key string) error
}

// RedisStore adapts a *redis.Client to Store, namespacing every key.
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore dials Redis using the given URL (as accepted by
// redis.ParseURL, e.g. "redis://localhost:6379/0").
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{Client: redis.NewClient(opt)}, nil
}

func (s *RedisStore) key(k string) string { return namespace + k }

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.Client.SetNX(ctx, s.key(key), value, ttl).Result()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.Client.Incr(ctx, s.key(key)).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.Client.Expire(ctx, s.key(key), ttl).Err()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.Client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.Client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) GetSet(ctx context.Context, key, value string) (string, bool, error) {
	v, err := s.Client.GetSet(ctx, s.key(key), value).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.Client.Del(ctx, s.key(key)).Err()
}

func (s *RedisStore) Close() error { return s.Client.Close() }
