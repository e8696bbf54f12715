// Package bridge implements BridgeStore, the operator-facing lifecycle
// manager for bridge pairs: creating a bridge provisions an impersonating
// webhook on each side (best effort, one side may fail independently), and
// every mutation is broadcast to subscribed Observers instead of a global
// event bus.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/janus-bridge/janus/internal/dbstore"
	"github.com/janus-bridge/janus/internal/platform"
)

const webhookName = "janus-bridge"

// Store is the operator-facing bridge pair lifecycle manager.
type Store struct {
	repo     dbstore.BridgeRepository
	adapters platform.Registry
	log      zerolog.Logger

	mu        sync.Mutex
	observers []Observer
}

func NewStore(repo dbstore.BridgeRepository, adapters platform.Registry, log zerolog.Logger) *Store {
	return &Store{repo: repo, adapters: adapters, log: log.With().Str("component", "bridge").Logger()}
}

// Subscribe registers o to receive future lifecycle notifications.
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Store) notify(fn func(o Observer)) {
	s.mu.Lock()
	obs := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}

// CreateInput describes a new bridge pair to provision.
type CreateInput struct {
	AChannelID, AGuildID string
	BChannelID, BGuildID string
	SyncUploads          bool
}

// Create provisions a new bridge, attempting webhook creation on both
// sides independently; a failure on one side does not fail the other, and
// the resulting BridgePair simply lacks that credential until Repair
// fixes it.
func (s *Store) Create(ctx context.Context, in CreateInput) (dbstore.BridgePair, error) {
	bp := dbstore.BridgePair{
		ID:          uuid.New().String(),
		AChannelID:  in.AChannelID,
		AGuildID:    in.AGuildID,
		BChannelID:  in.BChannelID,
		BGuildID:    in.BGuildID,
		SyncUploads: in.SyncUploads,
		IsActive:    true,
	}

	if wh, err := s.adapters.A.CreateWebhook(ctx, in.AChannelID, webhookName); err != nil {
		s.log.Warn().Err(err).Str("channel", in.AChannelID).Msg("failed to create Platform A webhook")
	} else if wh != nil {
		bp.AWebhookID, bp.AWebhookToken = wh.ID, wh.Token
	}

	if wh, err := s.adapters.B.CreateWebhook(ctx, in.BChannelID, webhookName); err != nil {
		s.log.Warn().Err(err).Str("channel", in.BChannelID).Msg("failed to create Platform B webhook")
	} else if wh != nil {
		bp.BWebhookID, bp.BWebhookToken = wh.ID, wh.Token
	}

	created, err := s.repo.Create(ctx, bp)
	if err != nil {
		return dbstore.BridgePair{}, fmt.Errorf("bridge: create: %w", err)
	}
	s.notify(func(o Observer) { o.OnBridgeCreated(created) })
	return created, nil
}

// Delete removes a bridge pair. Existing webhooks are left in place on the
// platforms themselves; only the bridge's record of them is dropped.
func (s *Store) Delete(ctx context.Context, id string) error {
	bp, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("bridge: delete: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("bridge: delete: %w", err)
	}
	s.notify(func(o Observer) { o.OnBridgeDeleted(bp) })
	return nil
}

// Toggle flips a bridge's active flag. Jobs already queued for this
// bridge are not drained on toggle: while the bridge is inactive the
// router forwards no new events for it, and a delivery worker that still
// processes one of its queued jobs drops that job.
func (s *Store) Toggle(ctx context.Context, id string, active bool) (dbstore.BridgePair, error) {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return dbstore.BridgePair{}, fmt.Errorf("bridge: toggle: %w", err)
	}
	bp, err := s.repo.Get(ctx, id)
	if err != nil {
		return dbstore.BridgePair{}, fmt.Errorf("bridge: toggle: %w", err)
	}
	s.notify(func(o Observer) { o.OnBridgeToggled(bp) })
	return bp, nil
}

// Repair re-attempts webhook creation for any bridge missing a credential
// on either side. It runs once at startup and on demand through the admin
// API's repair route.
func (s *Store) Repair(ctx context.Context) error {
	missing, err := s.repo.ListMissingCredentials(ctx)
	if err != nil {
		return fmt.Errorf("bridge: repair: list: %w", err)
	}
	for _, bp := range missing {
		changed := false
		if !bp.HasAWebhook() {
			if wh, err := s.adapters.A.CreateWebhook(ctx, bp.AChannelID, webhookName); err != nil {
				s.log.Warn().Err(err).Str("bridge", bp.ID).Msg("repair: Platform A webhook still failing")
			} else if wh != nil {
				if err := s.repo.UpdateAWebhook(ctx, bp.ID, wh.ID, wh.Token); err != nil {
					s.log.Error().Err(err).Str("bridge", bp.ID).Msg("repair: persist Platform A webhook failed")
				} else {
					changed = true
				}
			}
		}
		if !bp.HasBWebhook() {
			if wh, err := s.adapters.B.CreateWebhook(ctx, bp.BChannelID, webhookName); err != nil {
				s.log.Warn().Err(err).Str("bridge", bp.ID).Msg("repair: Platform B webhook still failing")
			} else if wh != nil {
				if err := s.repo.UpdateBWebhook(ctx, bp.ID, wh.ID, wh.Token); err != nil {
					s.log.Error().Err(err).Str("bridge", bp.ID).Msg("repair: persist Platform B webhook failed")
				} else {
					changed = true
				}
			}
		}
		if changed {
			if fresh, err := s.repo.Get(ctx, bp.ID); err == nil {
				s.notify(func(o Observer) { o.OnBridgeRepaired(fresh) })
			}
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (dbstore.BridgePair, error) { return s.repo.Get(ctx, id) }

func (s *Store) ListAll(ctx context.Context) ([]dbstore.BridgePair, error) { return s.repo.ListAll(ctx) }
