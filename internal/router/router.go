// Package router implements the RouterWorker: it consumes the single
// global ingest queue, drops loop echoes, resolves the active bridges for
// the source channel, and fans each canonical event out as one DeliveryJob
// per bridged counterpart channel.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/janus-bridge/janus/internal/bridgeerr"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/dbstore"
	"github.com/janus-bridge/janus/internal/kv"
	"github.com/janus-bridge/janus/internal/queue"
)

// PollInterval is how often Worker checks the ingest queue when it is empty.
const PollInterval = 250 * time.Millisecond

// Worker drains the ingest queue and produces delivery jobs.
type Worker struct {
	ingest  *queue.IngestQueue
	store   queue.Store
	bridges dbstore.BridgeRepository
	loop    *kv.LoopFilter
	log     zerolog.Logger
}

func NewWorker(store queue.Store, bridges dbstore.BridgeRepository, loop *kv.LoopFilter, log zerolog.Logger) *Worker {
	return &Worker{
		ingest:  queue.NewIngestQueue(store),
		store:   store,
		bridges: bridges,
		loop:    loop,
		log:     log.With().Str("component", "router").Logger(),
	}
}

// Run polls the ingest queue until ctx is cancelled, processing one event
// per iteration. Callers typically run this in its own goroutine.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		processed, err := w.tick(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("router tick failed")
		}
		if !processed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(PollInterval):
			}
		}
	}
}

// tick claims and processes at most one ingest job, reporting whether one
// was available.
func (w *Worker) tick(ctx context.Context) (bool, error) {
	claimed, err := w.ingest.Pop(ctx)
	if err != nil {
		return false, err
	}
	if claimed == nil {
		return false, nil
	}

	if err := w.process(ctx, claimed.Value); err != nil {
		if bridgeerr.Classify(err) == bridgeerr.KindValidation || errors.Is(err, bridgeerr.ErrNoMapping) {
			w.log.Warn().Err(err).Msg("dropping unroutable event")
			_ = w.ingest.Complete(ctx, claimed.JobID)
			return true, nil
		}
		if failErr := w.ingest.Fail(ctx, claimed.JobID, claimed.Attempts+1); failErr != nil {
			return true, failErr
		}
		return true, nil
	}
	return true, w.ingest.Complete(ctx, claimed.JobID)
}

// process is the routing decision for one canonical event: drop loop
// echoes, find every active bridge touching the source channel, and enqueue
// a DeliveryJob onto each counterpart's delivery queue.
func (w *Worker) process(ctx context.Context, evt canonical.Event) error {
	if w.loop != nil && evt.Type != canonical.MsgDelete {
		echo, err := w.loop.IsEcho(ctx, evt.Content, evt.Author.Name, time.UnixMilli(evt.TimestampMS))
		if err != nil {
			return bridgeerr.New(bridgeerr.KindStore, err)
		}
		if echo {
			return nil
		}
	}

	bridges, err := w.bridges.FindActiveBySourceChannel(ctx, evt.Source.ChannelID)
	if err != nil {
		return bridgeerr.New(bridgeerr.KindStore, err)
	}
	if len(bridges) == 0 {
		return nil
	}

	for _, bp := range bridges {
		job, ok := buildJob(bp, evt)
		if !ok {
			continue
		}
		dq := queue.NewDeliveryQueue(w.store, job.TargetPlatform, job.TargetChannelID)
		if _, err := dq.Push(ctx, job); err != nil {
			return bridgeerr.New(bridgeerr.KindStore, err)
		}
	}
	return nil
}

// buildJob determines the counterpart side of bp for evt.Source.Platform
// and picks the JobVariant, returning ok=false if bp does not actually
// bridge evt's source channel (defensive; FindActiveBySourceChannel already
// filters, but a repository fake or future query relaxation should not
// silently misroute).
func buildJob(bp dbstore.BridgePair, evt canonical.Event) (canonical.DeliveryJob, bool) {
	var targetPlatform canonical.Platform
	var targetChannelID, targetGuildID, webhookID, webhookToken string

	switch evt.Source.Platform {
	case canonical.PlatformA:
		if bp.AChannelID != evt.Source.ChannelID {
			return canonical.DeliveryJob{}, false
		}
		targetPlatform = canonical.PlatformB
		targetChannelID, targetGuildID = bp.BChannelID, bp.BGuildID
		webhookID, webhookToken = bp.BWebhookID, bp.BWebhookToken
	case canonical.PlatformB:
		if bp.BChannelID != evt.Source.ChannelID {
			return canonical.DeliveryJob{}, false
		}
		targetPlatform = canonical.PlatformA
		targetChannelID, targetGuildID = bp.AChannelID, bp.AGuildID
		webhookID, webhookToken = bp.AWebhookID, bp.AWebhookToken
	default:
		return canonical.DeliveryJob{}, false
	}

	variant := selectVariant(evt.Type, webhookID != "", targetPlatform)

	return canonical.DeliveryJob{
		Variant:            variant,
		Event:              evt,
		BridgePairID:       bp.ID,
		TargetPlatform:     targetPlatform,
		TargetChannelID:    targetChannelID,
		TargetGuildID:      targetGuildID,
		TargetWebhookID:    webhookID,
		TargetWebhookToken: webhookToken,
		SyncUploads:        bp.SyncUploads,
	}, true
}

// selectVariant is the routing decision table: webhook delivery when a
// credential exists, native fallback otherwise; edits go direct when the
// target platform supports webhook-message editing and via workaround
// (new message + jump link) when it does not.
func selectVariant(evtType canonical.EventType, hasWebhook bool, targetPlatform canonical.Platform) canonical.JobVariant {
	switch evtType {
	case canonical.MsgCreate:
		if hasWebhook {
			return canonical.VariantCreateWithWebhook
		}
		return canonical.VariantCreateFallback
	case canonical.MsgUpdate:
		if hasWebhook && supportsWebhookEdit(targetPlatform) {
			return canonical.VariantUpdateDirect
		}
		return canonical.VariantUpdateWorkaround
	case canonical.MsgDelete:
		return canonical.VariantDelete
	default:
		return canonical.VariantCreateFallback
	}
}

// supportsWebhookEdit hardcodes the platform capability table: Platform
// A's webhooks support message edit/delete, Platform B's do not.
// DeliveryWorker re-checks this via the live Adapter before acting; this
// is only used to pick the queued job shape.
func supportsWebhookEdit(p canonical.Platform) bool {
	return p == canonical.PlatformA
}
