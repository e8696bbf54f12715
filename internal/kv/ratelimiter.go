package kv

import (
	"context"
	"time"
)

// RateLimiter is a per-channel leaky bucket backed by the shared KV store —
// callers pass whatever string uniquely identifies the (platform, channel)
// pair.
type RateLimiter struct {
	store  Store
	limit  int64
	window time.Duration
}

// NewRateLimiter builds a RateLimiter allowing at most limit jobs per
// window per channel.
func NewRateLimiter(store Store, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = 2 * time.Second
	}
	return &RateLimiter{store: store, limit: int64(limit), window: window}
}

func rateKey(platform, channelID string) string {
	return "ratelimit:" + platform + ":" + channelID
}

// Allow atomically increments the channel's counter, arming the window TTL
// on the first increment, and reports whether the count is still within
// the configured limit.
func (r *RateLimiter) Allow(ctx context.Context, platform, channelID string) (bool, error) {
	key := rateKey(platform, channelID)
	count, err := r.store.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.store.Expire(ctx, key, r.window); err != nil {
			return false, err
		}
	}
	return count <= r.limit, nil
}

// Delay returns how long a caller should wait before retrying: the
// remaining window TTL, or the full window if the channel has no active
// window (never limited, or the window already elapsed).
func (r *RateLimiter) Delay(ctx context.Context, platform, channelID string) (time.Duration, error) {
	ttl, err := r.store.TTL(ctx, rateKey(platform, channelID))
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return r.window, nil
	}
	return ttl, nil
}
