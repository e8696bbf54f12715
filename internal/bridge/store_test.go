package bridge_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janus-bridge/janus/internal/bridge"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/dbstore"
	"github.com/janus-bridge/janus/internal/dbstore/dbstoretest"
	"github.com/janus-bridge/janus/internal/platform"
	"github.com/janus-bridge/janus/internal/platform/fakeplatform"
)

type recordingObserver struct {
	created, deleted, toggled, repaired int
}

func (r *recordingObserver) OnBridgeCreated(dbstore.BridgePair)  { r.created++ }
func (r *recordingObserver) OnBridgeDeleted(dbstore.BridgePair)  { r.deleted++ }
func (r *recordingObserver) OnBridgeToggled(dbstore.BridgePair)  { r.toggled++ }
func (r *recordingObserver) OnBridgeRepaired(dbstore.BridgePair) { r.repaired++ }

func newStore(t *testing.T) (*bridge.Store, *dbstoretest.BridgeRepository, *fakeplatform.Adapter, *fakeplatform.Adapter) {
	t.Helper()
	repo := dbstoretest.NewBridgeRepository()
	a := fakeplatform.New(canonical.PlatformA, true)
	b := fakeplatform.New(canonical.PlatformB, false)
	s := bridge.NewStore(repo, platform.Registry{A: a, B: b}, zerolog.Nop())
	return s, repo, a, b
}

func TestCreateProvisionsWebhooksOnBothSides(t *testing.T) {
	s, _, a, b := newStore(t)
	ctx := context.Background()

	bp, err := s.Create(ctx, bridge.CreateInput{AChannelID: "a-chan", BChannelID: "b-chan"})
	require.NoError(t, err)

	assert.NotEmpty(t, bp.AWebhookID)
	assert.NotEmpty(t, bp.BWebhookID)
	assert.True(t, bp.IsActive)
	assert.Contains(t, a.WebhooksCreated, "a-chan")
	assert.Contains(t, b.WebhooksCreated, "b-chan")
}

func TestCreateSurvivesOneSideFailing(t *testing.T) {
	s, _, _, b := newStore(t)
	ctx := context.Background()
	b.FailWebhookCreate = true

	bp, err := s.Create(ctx, bridge.CreateInput{AChannelID: "a-chan", BChannelID: "b-chan"})
	require.NoError(t, err)

	assert.NotEmpty(t, bp.AWebhookID)
	assert.Empty(t, bp.BWebhookID, "failed side has no credential yet")
}

func TestRepairFillsInMissingCredential(t *testing.T) {
	s, _, _, b := newStore(t)
	ctx := context.Background()
	b.FailWebhookCreate = true

	bp, err := s.Create(ctx, bridge.CreateInput{AChannelID: "a-chan", BChannelID: "b-chan"})
	require.NoError(t, err)
	require.Empty(t, bp.BWebhookID)

	b.FailWebhookCreate = false
	require.NoError(t, s.Repair(ctx))

	fixed, err := s.Get(ctx, bp.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, fixed.BWebhookID)
}

func TestToggleFlipsActiveFlag(t *testing.T) {
	s, _, _, _ := newStore(t)
	ctx := context.Background()

	bp, err := s.Create(ctx, bridge.CreateInput{AChannelID: "a-chan", BChannelID: "b-chan"})
	require.NoError(t, err)

	updated, err := s.Toggle(ctx, bp.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	updated, err = s.Toggle(ctx, bp.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.IsActive)
}

func TestObserversAreNotifiedOfLifecycleEvents(t *testing.T) {
	s, _, _, _ := newStore(t)
	ctx := context.Background()
	obs := &recordingObserver{}
	s.Subscribe(obs)

	bp, err := s.Create(ctx, bridge.CreateInput{AChannelID: "a-chan", BChannelID: "b-chan"})
	require.NoError(t, err)
	assert.Equal(t, 1, obs.created)

	_, err = s.Toggle(ctx, bp.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, obs.toggled)

	require.NoError(t, s.Delete(ctx, bp.ID))
	assert.Equal(t, 1, obs.deleted)
}

func TestDeleteRemovesBridge(t *testing.T) {
	s, _, _, _ := newStore(t)
	ctx := context.Background()

	bp, err := s.Create(ctx, bridge.CreateInput{AChannelID: "a-chan", BChannelID: "b-chan"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, bp.ID))

	_, err = s.Get(ctx, bp.ID)
	assert.Error(t, err)
}
