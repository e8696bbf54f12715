package ingest_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/ingest"
	"github.com/janus-bridge/janus/internal/queue"
)

func TestHandleRawNormalizesAndEnqueues(t *testing.T) {
	store := queue.NewFakeStore()
	h := ingest.NewHandler(store, canonical.NewDiscordNormalizer(), canonical.NewMattermostNormalizer("https://chat.example.com"), zerolog.Nop())

	h.HandleRaw(context.Background(), canonical.PlatformA, canonical.RawMessage{
		Type: canonical.MsgCreate, MessageID: "m1", ChannelID: "c1",
		AuthorID: "u1", AuthorName: "alice", Content: "hi",
	})

	iq := queue.NewIngestQueue(store)
	claimed, err := iq.Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "hi", claimed.Value.Content)
	assert.Equal(t, canonical.PlatformA, claimed.Value.Source.Platform)
}

func TestHandleRawDropsMalformedEvent(t *testing.T) {
	store := queue.NewFakeStore()
	h := ingest.NewHandler(store, canonical.NewDiscordNormalizer(), canonical.NewMattermostNormalizer("https://chat.example.com"), zerolog.Nop())

	h.HandleRaw(context.Background(), canonical.PlatformA, canonical.RawMessage{Type: canonical.MsgCreate})

	iq := queue.NewIngestQueue(store)
	claimed, err := iq.Pop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}
