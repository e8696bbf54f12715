// Package dbstoretest provides in-memory BridgeRepository and
// MessageMapRepository fakes shared by router, delivery, bridge, and
// supervisor package tests, so none of them need a live Postgres instance.
package dbstoretest

import (
	"context"
	"sync"
	"time"

	"github.com/janus-bridge/janus/internal/bridgeerr"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/dbstore"
)

// BridgeRepository is an in-memory dbstore.BridgeRepository.
type BridgeRepository struct {
	mu    sync.Mutex
	byID  map[string]dbstore.BridgePair
	Clock func() time.Time
}

func NewBridgeRepository() *BridgeRepository {
	return &BridgeRepository{byID: map[string]dbstore.BridgePair{}, Clock: time.Now}
}

func (r *BridgeRepository) Create(ctx context.Context, bp dbstore.BridgePair) (dbstore.BridgePair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.AChannelID == bp.AChannelID && existing.BChannelID == bp.BChannelID {
			return dbstore.BridgePair{}, bridgeerr.ErrDuplicateBridge
		}
	}
	now := r.Clock()
	bp.CreatedAt, bp.UpdatedAt = now, now
	r.byID[bp.ID] = bp
	return bp, nil
}

func (r *BridgeRepository) Get(ctx context.Context, id string) (dbstore.BridgePair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.byID[id]
	if !ok {
		return dbstore.BridgePair{}, bridgeerr.ErrBridgeMissing
	}
	return bp, nil
}

func (r *BridgeRepository) FindByChannels(ctx context.Context, aChannelID, bChannelID string) (dbstore.BridgePair, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bp := range r.byID {
		if bp.AChannelID == aChannelID && bp.BChannelID == bChannelID {
			return bp, true, nil
		}
	}
	return dbstore.BridgePair{}, false, nil
}

func (r *BridgeRepository) FindActiveBySourceChannel(ctx context.Context, channelID string) ([]dbstore.BridgePair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dbstore.BridgePair
	for _, bp := range r.byID {
		if !bp.IsActive {
			continue
		}
		if bp.AChannelID == channelID || bp.BChannelID == channelID {
			out = append(out, bp)
		}
	}
	return out, nil
}

func (r *BridgeRepository) ListAll(ctx context.Context) ([]dbstore.BridgePair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dbstore.BridgePair, 0, len(r.byID))
	for _, bp := range r.byID {
		out = append(out, bp)
	}
	return out, nil
}

func (r *BridgeRepository) ListMissingCredentials(ctx context.Context) ([]dbstore.BridgePair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dbstore.BridgePair
	for _, bp := range r.byID {
		if !bp.HasAWebhook() || !bp.HasBWebhook() {
			out = append(out, bp)
		}
	}
	return out, nil
}

func (r *BridgeRepository) UpdateAWebhook(ctx context.Context, id, webhookID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.byID[id]
	if !ok {
		return bridgeerr.ErrBridgeMissing
	}
	bp.AWebhookID, bp.AWebhookToken = webhookID, token
	bp.UpdatedAt = r.Clock()
	r.byID[id] = bp
	return nil
}

func (r *BridgeRepository) UpdateBWebhook(ctx context.Context, id, webhookID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.byID[id]
	if !ok {
		return bridgeerr.ErrBridgeMissing
	}
	bp.BWebhookID, bp.BWebhookToken = webhookID, token
	bp.UpdatedAt = r.Clock()
	r.byID[id] = bp
	return nil
}

func (r *BridgeRepository) SetActive(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.byID[id]
	if !ok {
		return bridgeerr.ErrBridgeMissing
	}
	bp.IsActive = active
	bp.UpdatedAt = r.Clock()
	r.byID[id] = bp
	return nil
}

func (r *BridgeRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return bridgeerr.ErrBridgeMissing
	}
	delete(r.byID, id)
	return nil
}

// Seed inserts bp directly, bypassing uniqueness checks; useful for test setup.
func (r *BridgeRepository) Seed(bp dbstore.BridgePair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[bp.ID] = bp
}

type messageMapKey struct {
	pairID, sourcePlatform, sourceMsgID string
}

// MessageMapRepository is an in-memory dbstore.MessageMapRepository.
type MessageMapRepository struct {
	mu   sync.Mutex
	rows map[messageMapKey]dbstore.MessageMap
}

func NewMessageMapRepository() *MessageMapRepository {
	return &MessageMapRepository{rows: map[messageMapKey]dbstore.MessageMap{}}
}

func (r *MessageMapRepository) Create(ctx context.Context, m dbstore.MessageMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[messageMapKey{m.PairID, string(m.SourcePlatform), m.SourceMsgID}] = m
	return nil
}

func (r *MessageMapRepository) Find(ctx context.Context, pairID string, sourcePlatform canonical.Platform, sourceMsgID string) (dbstore.MessageMap, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[messageMapKey{pairID, string(sourcePlatform), sourceMsgID}]
	return m, ok, nil
}

func (r *MessageMapRepository) Delete(ctx context.Context, pairID string, sourcePlatform canonical.Platform, sourceMsgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, messageMapKey{pairID, string(sourcePlatform), sourceMsgID})
	return nil
}

var (
	_ dbstore.BridgeRepository     = (*BridgeRepository)(nil)
	_ dbstore.MessageMapRepository = (*MessageMapRepository)(nil)
)
