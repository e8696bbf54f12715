package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janus-bridge/janus/internal/breaker"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/dbstore"
	"github.com/janus-bridge/janus/internal/dbstore/dbstoretest"
	"github.com/janus-bridge/janus/internal/kv"
	"github.com/janus-bridge/janus/internal/platform"
	"github.com/janus-bridge/janus/internal/platform/fakeplatform"
	"github.com/janus-bridge/janus/internal/queue"
	"github.com/janus-bridge/janus/internal/supervisor"
)

func newSupervisor(bridges *dbstoretest.BridgeRepository) *supervisor.Supervisor {
	store := queue.NewFakeStore()
	msgMaps := dbstoretest.NewMessageMapRepository()
	adapters := platform.Registry{A: fakeplatform.New(canonical.PlatformA, true), B: fakeplatform.New(canonical.PlatformB, false)}
	limiter := kv.NewRateLimiter(kv.NewFakeStore(nil), 5, 2*time.Second)
	loop := kv.NewLoopFilter(kv.NewFakeStore(nil), 10*time.Second)
	editTrk := kv.NewEditUpdateTracker(kv.NewFakeStore(nil), time.Hour)
	breakers := breaker.NewRegistry(breaker.Config{})
	return supervisor.New(store, bridges, msgMaps, adapters, limiter, loop, editTrk, breakers, "https://platform.app", 2, zerolog.Nop())
}

func TestReconcileStartsWorkersForActiveBridge(t *testing.T) {
	bridges := dbstoretest.NewBridgeRepository()
	bridges.Seed(dbstore.BridgePair{ID: "b1", AChannelID: "a-chan", BChannelID: "b-chan", IsActive: true})
	sup := newSupervisor(bridges)
	defer sup.Shutdown()

	require.NoError(t, sup.Reconcile(context.Background()))

	assert.True(t, sup.Running(canonical.PlatformA, "a-chan"))
	assert.True(t, sup.Running(canonical.PlatformB, "b-chan"))
}

func TestReconcileSkipsInactiveBridge(t *testing.T) {
	bridges := dbstoretest.NewBridgeRepository()
	bridges.Seed(dbstore.BridgePair{ID: "b1", AChannelID: "a-chan", BChannelID: "b-chan", IsActive: false})
	sup := newSupervisor(bridges)
	defer sup.Shutdown()

	require.NoError(t, sup.Reconcile(context.Background()))

	assert.False(t, sup.Running(canonical.PlatformA, "a-chan"))
	assert.False(t, sup.Running(canonical.PlatformB, "b-chan"))
}

func TestReconcileStopsWorkerWhenBridgeDeactivated(t *testing.T) {
	bridges := dbstoretest.NewBridgeRepository()
	bridges.Seed(dbstore.BridgePair{ID: "b1", AChannelID: "a-chan", BChannelID: "b-chan", IsActive: true})
	sup := newSupervisor(bridges)
	defer sup.Shutdown()

	require.NoError(t, sup.Reconcile(context.Background()))
	require.True(t, sup.Running(canonical.PlatformA, "a-chan"))

	require.NoError(t, bridges.SetActive(context.Background(), "b1", false))
	require.NoError(t, sup.Reconcile(context.Background()))

	assert.False(t, sup.Running(canonical.PlatformA, "a-chan"))
}

func TestOnBridgeCreatedTriggersReconcile(t *testing.T) {
	bridges := dbstoretest.NewBridgeRepository()
	sup := newSupervisor(bridges)
	defer sup.Shutdown()

	bp := dbstore.BridgePair{ID: "b1", AChannelID: "a-chan", BChannelID: "b-chan", IsActive: true}
	bridges.Seed(bp)
	sup.OnBridgeCreated(bp)

	assert.True(t, sup.Running(canonical.PlatformA, "a-chan"))
}
