// Package ingest bridges platform.Adapter's raw gateway callbacks into the
// canonical ingest queue: it implements platform.EventHandler, normalizes
// each RawMessage with the platform's Normalizer, and pushes the resulting
// canonical.Event.
package ingest

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/platform"
	"github.com/janus-bridge/janus/internal/queue"
)

// Handler adapts raw gateway events from both platforms into the ingest queue.
type Handler struct {
	ingest      *queue.IngestQueue
	normalizers map[canonical.Platform]canonical.Normalizer
	log         zerolog.Logger
}

func NewHandler(store queue.Store, normA, normB canonical.Normalizer, log zerolog.Logger) *Handler {
	return &Handler{
		ingest: queue.NewIngestQueue(store),
		normalizers: map[canonical.Platform]canonical.Normalizer{
			canonical.PlatformA: normA,
			canonical.PlatformB: normB,
		},
		log: log.With().Str("component", "ingest").Logger(),
	}
}

// HandleRaw implements platform.EventHandler.
func (h *Handler) HandleRaw(ctx context.Context, p canonical.Platform, raw canonical.RawMessage) {
	norm, ok := h.normalizers[p]
	if !ok {
		h.log.Error().Str("platform", string(p)).Msg("no normalizer registered")
		return
	}
	evt, err := norm.Normalize(raw)
	if err != nil {
		h.log.Warn().Err(err).Str("platform", string(p)).Msg("dropping malformed raw event")
		return
	}
	if _, err := h.ingest.Push(ctx, evt); err != nil {
		h.log.Error().Err(err).Str("platform", string(p)).Msg("failed to enqueue ingest event")
	}
}

var _ platform.EventHandler = (*Handler)(nil)
