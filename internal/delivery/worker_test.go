package delivery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janus-bridge/janus/internal/breaker"
	"github.com/janus-bridge/janus/internal/bridgeerr"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/dbstore"
	"github.com/janus-bridge/janus/internal/dbstore/dbstoretest"
	"github.com/janus-bridge/janus/internal/delivery"
	"github.com/janus-bridge/janus/internal/kv"
	"github.com/janus-bridge/janus/internal/platform"
	"github.com/janus-bridge/janus/internal/platform/fakeplatform"
	"github.com/janus-bridge/janus/internal/queue"
)

type harness struct {
	store   *queue.FakeStore
	bridges *dbstoretest.BridgeRepository
	msgMaps *dbstoretest.MessageMapRepository
	a, b    *fakeplatform.Adapter
	worker  *delivery.Worker
	editTrk *kv.EditUpdateTracker
}

func newHarness(t *testing.T, target canonical.Platform, channelID string, bp dbstore.BridgePair) *harness {
	t.Helper()
	store := queue.NewFakeStore()
	bridges := dbstoretest.NewBridgeRepository()
	bridges.Seed(bp)
	msgMaps := dbstoretest.NewMessageMapRepository()
	a := fakeplatform.New(canonical.PlatformA, true)
	b := fakeplatform.New(canonical.PlatformB, false)
	limiter := kv.NewRateLimiter(kv.NewFakeStore(nil), 5, 2*time.Second)
	loop := kv.NewLoopFilter(kv.NewFakeStore(nil), 10*time.Second)
	editTrk := kv.NewEditUpdateTracker(kv.NewFakeStore(nil), time.Hour)
	breakers := breaker.NewRegistry(breaker.Config{})

	w := delivery.NewWorker(store, target, channelID, bridges, msgMaps,
		platform.Registry{A: a, B: b}, limiter, loop, editTrk, breakers, "https://platform.app", zerolog.Nop())

	return &harness{store: store, bridges: bridges, msgMaps: msgMaps, a: a, b: b, worker: w, editTrk: editTrk}
}

func testBridge() dbstore.BridgePair {
	return dbstore.BridgePair{
		ID: "bridge-1", AChannelID: "a-chan", BChannelID: "b-chan",
		AWebhookID: "wh-a", AWebhookToken: "tok-a",
		BWebhookID: "wh-b", BWebhookToken: "tok-b",
		IsActive: true,
	}
}

func runOnce(t *testing.T, w *delivery.Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.Run(ctx)
	if err != context.DeadlineExceeded && err != context.Canceled {
		require.NoError(t, err)
	}
}

func TestDeliveryCreateWithWebhookRecordsMessageMap(t *testing.T) {
	h := newHarness(t, canonical.PlatformB, "b-chan", testBridge())
	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformB, "b-chan")

	job := canonical.DeliveryJob{
		Variant:            canonical.VariantCreateWithWebhook,
		Event:              canonical.Event{Type: canonical.MsgCreate, Content: "hi", Author: canonical.Author{Name: "alice"}, Source: canonical.Source{Platform: canonical.PlatformA, MessageID: "m1", ChannelID: "a-chan"}},
		BridgePairID:       "bridge-1",
		TargetPlatform:     canonical.PlatformB,
		TargetChannelID:    "b-chan",
		TargetWebhookID:    "wh-b",
		TargetWebhookToken: "tok-b",
	}
	_, err := dq.Push(context.Background(), job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	require.Len(t, h.b.SentWebhook, 1)
	assert.Equal(t, "hi", h.b.SentWebhook[0].Content)

	mm, ok, err := h.msgMaps.Find(context.Background(), "bridge-1", canonical.PlatformA, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, canonical.PlatformB, mm.DestPlatform)
}

func TestDeliveryCreateFallbackUsesNativeSend(t *testing.T) {
	h := newHarness(t, canonical.PlatformB, "b-chan", testBridge())
	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformB, "b-chan")

	job := canonical.DeliveryJob{
		Variant:         canonical.VariantCreateFallback,
		Event:           canonical.Event{Type: canonical.MsgCreate, Content: "hi", Author: canonical.Author{Name: "alice"}, Source: canonical.Source{Platform: canonical.PlatformA, MessageID: "m1", ChannelID: "a-chan"}},
		BridgePairID:    "bridge-1",
		TargetPlatform:  canonical.PlatformB,
		TargetChannelID: "b-chan",
	}
	_, err := dq.Push(context.Background(), job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	require.Len(t, h.b.SentNative, 1)
	assert.Equal(t, "alice", h.b.SentNative[0].Input.Impersonate.Name)
}

func TestDeliveryCreateDropsEmptyContentWithNoAttachments(t *testing.T) {
	h := newHarness(t, canonical.PlatformB, "b-chan", testBridge())
	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformB, "b-chan")

	job := canonical.DeliveryJob{
		Variant:            canonical.VariantCreateWithWebhook,
		Event:              canonical.Event{Type: canonical.MsgCreate, Content: "   ", Author: canonical.Author{Name: "alice"}, Source: canonical.Source{Platform: canonical.PlatformA, MessageID: "m1", ChannelID: "a-chan"}},
		BridgePairID:       "bridge-1",
		TargetPlatform:     canonical.PlatformB,
		TargetChannelID:    "b-chan",
		TargetWebhookID:    "wh-b",
		TargetWebhookToken: "tok-b",
	}
	_, err := dq.Push(context.Background(), job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	assert.Empty(t, h.b.SentWebhook, "whitespace-only content with no attachments must not reach the adapter")

	_, ok, err := h.msgMaps.Find(context.Background(), "bridge-1", canonical.PlatformA, "m1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeliveryCreateKeepsEmptyContentWithAttachments(t *testing.T) {
	h := newHarness(t, canonical.PlatformB, "b-chan", testBridge())
	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformB, "b-chan")

	job := canonical.DeliveryJob{
		Variant: canonical.VariantCreateFallback,
		Event: canonical.Event{
			Type: canonical.MsgCreate, Content: "", Author: canonical.Author{Name: "alice"},
			Source:      canonical.Source{Platform: canonical.PlatformA, MessageID: "m1", ChannelID: "a-chan"},
			Attachments: []canonical.Attachment{{URL: "https://cdn.example.com/f.png", Filename: "f.png"}},
		},
		BridgePairID:    "bridge-1",
		TargetPlatform:  canonical.PlatformB,
		TargetChannelID: "b-chan",
	}
	_, err := dq.Push(context.Background(), job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	require.Len(t, h.b.SentNative, 1, "an empty-content message with attachments must still be sent")
}

func TestDeliveryUpdateWorkaroundOnPlatformB(t *testing.T) {
	h := newHarness(t, canonical.PlatformB, "b-chan", testBridge())
	ctx := context.Background()

	require.NoError(t, h.msgMaps.Create(ctx, dbstore.MessageMap{
		PairID: "bridge-1", SourcePlatform: canonical.PlatformA, SourceMsgID: "m1",
		DestPlatform: canonical.PlatformB, DestMsgID: "dest-1",
	}))

	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformB, "b-chan")
	job := canonical.DeliveryJob{
		Variant:            canonical.VariantUpdateWorkaround,
		Event:              canonical.Event{Type: canonical.MsgUpdate, Content: "hi edited", Author: canonical.Author{Name: "alice"}, Source: canonical.Source{Platform: canonical.PlatformA, MessageID: "m1", ChannelID: "a-chan"}},
		BridgePairID:       "bridge-1",
		TargetPlatform:     canonical.PlatformB,
		TargetChannelID:    "b-chan",
		TargetGuildID:      "g1",
		TargetWebhookID:    "wh-b",
		TargetWebhookToken: "tok-b",
	}
	_, err := dq.Push(ctx, job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	require.Len(t, h.b.SentNative, 1, "workaround posts a new message")
	body := h.b.SentNative[0].Input.Content
	assert.Contains(t, body, "hi edited")
	assert.Contains(t, body, "-# [Jump to original message](https://platform.app/channels/g1/b-chan/dest-1)")

	prev, existed, err := h.editTrk.Get(ctx, "bridge-1", "A", "m1")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.NotEmpty(t, prev)
}

func TestDeliveryUpdateWorkaroundDeletesPreviousWorkaroundMessage(t *testing.T) {
	h := newHarness(t, canonical.PlatformB, "b-chan", testBridge())
	ctx := context.Background()

	require.NoError(t, h.msgMaps.Create(ctx, dbstore.MessageMap{
		PairID: "bridge-1", SourcePlatform: canonical.PlatformA, SourceMsgID: "m1",
		DestPlatform: canonical.PlatformB, DestMsgID: "dest-1",
	}))
	_, _, err := h.editTrk.Swap(ctx, "bridge-1", "A", "m1", "workaround-old")
	require.NoError(t, err)

	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformB, "b-chan")
	job := canonical.DeliveryJob{
		Variant:         canonical.VariantUpdateWorkaround,
		Event:           canonical.Event{Type: canonical.MsgUpdate, Content: "second edit", Author: canonical.Author{Name: "alice"}, Source: canonical.Source{Platform: canonical.PlatformA, MessageID: "m1", ChannelID: "a-chan"}},
		BridgePairID:    "bridge-1",
		TargetPlatform:  canonical.PlatformB,
		TargetChannelID: "b-chan",
	}
	_, err = dq.Push(ctx, job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	assert.Contains(t, h.b.DeletedNative, "workaround-old")
	require.Len(t, h.b.SentNative, 1)
	assert.Contains(t, h.b.SentNative[0].Input.Content, "-# [Jump to original message](https://platform.app/channels/@me/b-chan/dest-1)", "no guild id on the job falls back to the self path segment")
}

func TestDeliveryUpdateDirectEditsWebhookOnPlatformA(t *testing.T) {
	h := newHarness(t, canonical.PlatformA, "a-chan", testBridge())
	ctx := context.Background()

	require.NoError(t, h.msgMaps.Create(ctx, dbstore.MessageMap{
		PairID: "bridge-1", SourcePlatform: canonical.PlatformB, SourceMsgID: "bm1",
		DestPlatform: canonical.PlatformA, DestMsgID: "dest-a-1",
	}))

	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformA, "a-chan")
	job := canonical.DeliveryJob{
		Variant:            canonical.VariantUpdateDirect,
		Event:              canonical.Event{Type: canonical.MsgUpdate, Content: "edited", Author: canonical.Author{Name: "bob"}, Source: canonical.Source{Platform: canonical.PlatformB, MessageID: "bm1", ChannelID: "b-chan"}},
		BridgePairID:       "bridge-1",
		TargetPlatform:     canonical.PlatformA,
		TargetChannelID:    "a-chan",
		TargetWebhookID:    "wh-a",
		TargetWebhookToken: "tok-a",
	}
	_, err := dq.Push(ctx, job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	require.Len(t, h.a.EditedWebhook, 1)
	assert.Equal(t, "dest-a-1", h.a.EditedWebhook[0].DestMsgID)
	assert.Empty(t, h.a.SentNative, "direct edit must not fall back to a new message")
}

func TestDeliveryDeleteRemovesMessageMap(t *testing.T) {
	h := newHarness(t, canonical.PlatformB, "b-chan", testBridge())
	ctx := context.Background()

	require.NoError(t, h.msgMaps.Create(ctx, dbstore.MessageMap{
		PairID: "bridge-1", SourcePlatform: canonical.PlatformA, SourceMsgID: "m1",
		DestPlatform: canonical.PlatformB, DestMsgID: "dest-1",
	}))

	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformB, "b-chan")
	job := canonical.DeliveryJob{
		Variant:            canonical.VariantDelete,
		Event:              canonical.Event{Type: canonical.MsgDelete, Source: canonical.Source{Platform: canonical.PlatformA, MessageID: "m1", ChannelID: "a-chan"}},
		BridgePairID:       "bridge-1",
		TargetPlatform:     canonical.PlatformB,
		TargetChannelID:    "b-chan",
		TargetWebhookID:    "wh-b",
		TargetWebhookToken: "tok-b",
	}
	_, err := dq.Push(ctx, job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	_, ok, err := h.msgMaps.Find(ctx, "bridge-1", canonical.PlatformA, "m1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeliveryUpdateWithNoMappingDropsJob(t *testing.T) {
	h := newHarness(t, canonical.PlatformB, "b-chan", testBridge())
	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformB, "b-chan")

	job := canonical.DeliveryJob{
		Variant:         canonical.VariantUpdateWorkaround,
		Event:           canonical.Event{Type: canonical.MsgUpdate, Content: "x", Source: canonical.Source{Platform: canonical.PlatformA, MessageID: "unknown", ChannelID: "a-chan"}},
		BridgePairID:    "bridge-1",
		TargetPlatform:  canonical.PlatformB,
		TargetChannelID: "b-chan",
	}
	id, err := dq.Push(context.Background(), job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	// Job with no mapping should be completed (dropped), not retried forever.
	claimed, err := dq.Pop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, claimed)
	_ = id
}

func TestDeliveryPermanentAdapterErrorDropsJobAndRemovesMessageMap(t *testing.T) {
	h := newHarness(t, canonical.PlatformA, "a-chan", testBridge())
	ctx := context.Background()

	require.NoError(t, h.msgMaps.Create(ctx, dbstore.MessageMap{
		PairID: "bridge-1", SourcePlatform: canonical.PlatformB, SourceMsgID: "bm1",
		DestPlatform: canonical.PlatformA, DestMsgID: "dest-a-1",
	}))
	h.a.FailWith = bridgeerr.New(bridgeerr.KindPermanent, errors.New("discordapp: unknown message (404)"))

	dq := queue.NewDeliveryQueue(h.store, canonical.PlatformA, "a-chan")
	job := canonical.DeliveryJob{
		Variant:            canonical.VariantUpdateDirect,
		Event:              canonical.Event{Type: canonical.MsgUpdate, Content: "edited", Author: canonical.Author{Name: "bob"}, Source: canonical.Source{Platform: canonical.PlatformB, MessageID: "bm1", ChannelID: "b-chan"}},
		BridgePairID:       "bridge-1",
		TargetPlatform:     canonical.PlatformA,
		TargetChannelID:    "a-chan",
		TargetWebhookID:    "wh-a",
		TargetWebhookToken: "tok-a",
	}
	_, err := dq.Push(ctx, job)
	require.NoError(t, err)

	runOnce(t, h.worker)

	// A classified permanent error completes the job instead of exhausting
	// retries, and the stale MessageMap row is removed.
	claimed, err := dq.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	_, ok, err := h.msgMaps.Find(ctx, "bridge-1", canonical.PlatformB, "bm1")
	require.NoError(t, err)
	assert.False(t, ok)
}
