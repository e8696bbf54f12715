package kv

import (
	"context"
	"time"
)

// EditUpdateTracker maintains "edit-update:<pairId>:<sourcePlatform>:
// <sourceMsgId> -> latestUpdateMsgId" mappings, used by the
// edit-workaround path for platforms without webhook-edit support.
type EditUpdateTracker struct {
	store Store
	ttl   time.Duration
}

// NewEditUpdateTracker builds a tracker with the given TTL (default 7 days).
func NewEditUpdateTracker(store Store, ttl time.Duration) *EditUpdateTracker {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EditUpdateTracker{store: store, ttl: ttl}
}

func editUpdateKey(pairID, sourcePlatform, sourceMsgID string) string {
	return "edit-update:" + pairID + ":" + sourcePlatform + ":" + sourceMsgID
}

// Swap atomically records newUpdateMsgID as the latest workaround message
// for this source message, returning the previous one (if any) so the
// caller can best-effort delete it.
func (t *EditUpdateTracker) Swap(ctx context.Context, pairID, sourcePlatform, sourceMsgID, newUpdateMsgID string) (previous string, existed bool, err error) {
	key := editUpdateKey(pairID, sourcePlatform, sourceMsgID)
	previous, existed, err = t.store.GetSet(ctx, key, newUpdateMsgID)
	if err != nil {
		return "", false, err
	}
	if err := t.store.Expire(ctx, key, t.ttl); err != nil {
		return previous, existed, err
	}
	return previous, existed, nil
}

// Get returns the currently tracked update message id, if any.
func (t *EditUpdateTracker) Get(ctx context.Context, pairID, sourcePlatform, sourceMsgID string) (string, bool, error) {
	return t.store.Get(ctx, editUpdateKey(pairID, sourcePlatform, sourceMsgID))
}

// Clear removes the tracker entry, e.g. after the source message is deleted.
func (t *EditUpdateTracker) Clear(ctx context.Context, pairID, sourcePlatform, sourceMsgID string) error {
	return t.store.Del(ctx, editUpdateKey(pairID, sourcePlatform, sourceMsgID))
}
