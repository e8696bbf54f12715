// Package delivery implements the DeliveryWorker: each Worker drains one
// (targetPlatform, targetChannelId) delivery queue, and several Workers may
// claim from the same queue concurrently. A Worker applies the rate
// limiter, circuit breaker, message-map bookkeeping, and edit-workaround
// logic needed to actually place a message on the destination platform.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/janus-bridge/janus/internal/breaker"
	"github.com/janus-bridge/janus/internal/bridgeerr"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/dbstore"
	"github.com/janus-bridge/janus/internal/kv"
	"github.com/janus-bridge/janus/internal/platform"
	"github.com/janus-bridge/janus/internal/queue"
)

// PollInterval mirrors router.PollInterval: how often a worker checks its
// delivery queue when it is empty.
const PollInterval = 250 * time.Millisecond

// Worker drains one delivery queue and executes its jobs against the
// destination platform.
type Worker struct {
	dq       *queue.DeliveryQueue
	bridges  dbstore.BridgeRepository
	msgMaps  dbstore.MessageMapRepository
	adapters platform.Registry
	limiter  *kv.RateLimiter
	loop     *kv.LoopFilter
	editTrk  *kv.EditUpdateTracker
	breakers *breaker.Registry
	log      zerolog.Logger

	platformName canonical.Platform
	channelID    string
	webBaseURL   string
}

func NewWorker(
	store queue.Store,
	targetPlatform canonical.Platform,
	targetChannelID string,
	bridges dbstore.BridgeRepository,
	msgMaps dbstore.MessageMapRepository,
	adapters platform.Registry,
	limiter *kv.RateLimiter,
	loop *kv.LoopFilter,
	editTrk *kv.EditUpdateTracker,
	breakers *breaker.Registry,
	webBaseURL string,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		dq:           queue.NewDeliveryQueue(store, targetPlatform, targetChannelID),
		bridges:      bridges,
		msgMaps:      msgMaps,
		adapters:     adapters,
		limiter:      limiter,
		loop:         loop,
		editTrk:      editTrk,
		breakers:     breakers,
		log:          log.With().Str("component", "delivery").Str("platform", string(targetPlatform)).Str("channel", targetChannelID).Logger(),
		platformName: targetPlatform,
		channelID:    targetChannelID,
		webBaseURL:   strings.TrimRight(webBaseURL, "/"),
	}
}

// Run polls the delivery queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		processed, err := w.tick(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("delivery tick failed")
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

func (w *Worker) tick(ctx context.Context) (bool, error) {
	claimed, err := w.dq.Pop(ctx)
	if err != nil {
		return false, err
	}
	if claimed == nil {
		return false, nil
	}

	allowed, err := w.limiter.Allow(ctx, string(w.platformName), w.channelID)
	if err != nil {
		return true, w.dq.Fail(ctx, claimed.JobID, claimed.Attempts+1)
	}
	if !allowed {
		delay, err := w.limiter.Delay(ctx, string(w.platformName), w.channelID)
		if err != nil {
			delay = 2 * time.Second
		}
		// Rate-limit backpressure reschedules without counting a failed
		// attempt
		return true, w.dq.Reschedule(ctx, claimed.JobID, delay)
	}

	if err := w.deliver(ctx, claimed.Value); err != nil {
		kind := bridgeerr.Classify(err)
		if kind == bridgeerr.KindPermanent || errors.Is(err, bridgeerr.ErrNoMapping) || errors.Is(err, bridgeerr.ErrBridgeMissing) {
			w.log.Warn().Err(err).Msg("dropping undeliverable job")
			return true, w.dq.Complete(ctx, claimed.JobID)
		}
		w.log.Error().Err(err).Str("variant", string(claimed.Value.Variant)).Msg("delivery failed")
		return true, w.dq.Fail(ctx, claimed.JobID, claimed.Attempts+1)
	}
	return true, w.dq.Complete(ctx, claimed.JobID)
}

func (w *Worker) deliver(ctx context.Context, job canonical.DeliveryJob) error {
	bp, err := w.bridges.Get(ctx, job.BridgePairID)
	if err != nil {
		return err
	}
	if !bp.IsActive {
		return bridgeerr.New(bridgeerr.KindPermanent, fmt.Errorf("bridge %s is inactive", bp.ID))
	}

	adapter := w.adapters.For(job.TargetPlatform)

	switch job.Variant {
	case canonical.VariantCreateWithWebhook, canonical.VariantCreateFallback:
		return w.deliverCreate(ctx, adapter, job)
	case canonical.VariantUpdateDirect, canonical.VariantUpdateWorkaround:
		return w.deliverUpdate(ctx, adapter, job)
	case canonical.VariantDelete:
		return w.deliverDelete(ctx, adapter, job)
	default:
		return bridgeerr.New(bridgeerr.KindBug, fmt.Errorf("unknown job variant %q", job.Variant))
	}
}

func (w *Worker) call(ctx context.Context, opName string, fn func(ctx context.Context) error) error {
	b := w.breakers.Get(string(w.platformName) + ":" + opName)
	err := b.Call(ctx, fn)
	if errors.Is(err, breaker.ErrOpen) {
		return bridgeerr.New(bridgeerr.KindTransient, err)
	}
	return err
}

// finalizeCallErr classifies a platform-call error and, if the adapter
// flagged it as a permanent refusal (unknown message/channel, missing
// permission), removes the stale MessageMap row so the job completes
// cleanly instead of exhausting retries against a target that will never
// accept it. Anything else is treated as transient and retried.
func (w *Worker) finalizeCallErr(ctx context.Context, job canonical.DeliveryJob, err error) error {
	if err == nil {
		return nil
	}
	if bridgeerr.Classify(err) == bridgeerr.KindPermanent {
		if delErr := w.msgMaps.Delete(ctx, job.BridgePairID, job.Event.Source.Platform, job.Event.Source.MessageID); delErr != nil {
			w.log.Warn().Err(delErr).Msg("failed to remove message map after permanent platform error")
		}
		return err
	}
	return bridgeerr.New(bridgeerr.KindTransient, err)
}

func (w *Worker) deliverCreate(ctx context.Context, adapter platform.Adapter, job canonical.DeliveryJob) error {
	if strings.TrimSpace(job.Event.Content) == "" && len(job.Event.Attachments) == 0 {
		return nil
	}

	var destMsgID string
	sent := job.Event.Content

	if job.Variant == canonical.VariantCreateWithWebhook {
		wh := platform.Webhook{ID: job.TargetWebhookID, Token: job.TargetWebhookToken}
		err := w.call(ctx, "sendWebhook", func(ctx context.Context) error {
			id, err := adapter.SendWebhook(ctx, wh, job.Event.Content, job.Event.Author.Name, job.Event.Author.Avatar, job.TargetChannelID)
			destMsgID = id
			return err
		})
		if err != nil {
			return w.finalizeCallErr(ctx, job, err)
		}
	} else {
		content := fallbackContent(job.Event)
		sent = content
		err := w.call(ctx, "sendMessage", func(ctx context.Context) error {
			id, err := adapter.SendMessage(ctx, job.TargetChannelID, platform.SendMessageInput{
				Content:     content,
				Attachments: job.Event.Attachments,
				Impersonate: &platform.Impersonate{Name: job.Event.Author.Name, AvatarURL: job.Event.Author.Avatar},
			})
			destMsgID = id
			return err
		})
		if err != nil {
			return w.finalizeCallErr(ctx, job, err)
		}
	}

	if err := w.registerLoop(ctx, job, sent); err != nil {
		w.log.Warn().Err(err).Msg("failed to register outgoing loop fingerprint")
	}

	if destMsgID == "" {
		// No id captured for the send; the job still completes but no
		// MessageMap is stored, so a later update/delete is a no-op.
		return nil
	}

	m := dbstore.MessageMap{
		PairID:         job.BridgePairID,
		SourcePlatform: job.Event.Source.Platform,
		SourceMsgID:    job.Event.Source.MessageID,
		DestPlatform:   job.TargetPlatform,
		DestMsgID:      destMsgID,
	}
	if err := w.msgMaps.Create(ctx, m); err != nil {
		return bridgeerr.New(bridgeerr.KindStore, err)
	}
	return nil
}

func (w *Worker) deliverUpdate(ctx context.Context, adapter platform.Adapter, job canonical.DeliveryJob) error {
	mm, ok, err := w.msgMaps.Find(ctx, job.BridgePairID, job.Event.Source.Platform, job.Event.Source.MessageID)
	if err != nil {
		return bridgeerr.New(bridgeerr.KindStore, err)
	}
	if !ok {
		return bridgeerr.New(bridgeerr.KindPermanent, bridgeerr.ErrNoMapping)
	}

	if job.Variant == canonical.VariantUpdateDirect && adapter.SupportsWebhookEdit() {
		wh := platform.Webhook{ID: job.TargetWebhookID, Token: job.TargetWebhookToken}
		var supported bool
		err := w.call(ctx, "editWebhookMessage", func(ctx context.Context) error {
			ok, err := adapter.EditWebhookMessage(ctx, wh, mm.DestMsgID, job.Event.Content)
			supported = ok
			return err
		})
		if err != nil {
			return w.finalizeCallErr(ctx, job, err)
		}
		if supported {
			return w.registerLoop(ctx, job, job.Event.Content)
		}
		// Fall through to the workaround path if the live adapter turns out
		// not to support editing after all.
	}

	return w.deliverUpdateWorkaround(ctx, adapter, job, mm)
}

// deliverUpdateWorkaround posts a new message carrying the updated content
// plus a jump-link back to the original, tracks it via editTrk so a later
// edit of the same source message replaces this one instead of piling up,
// and best-effort deletes the previous workaround message.
func (w *Worker) deliverUpdateWorkaround(ctx context.Context, adapter platform.Adapter, job canonical.DeliveryJob, mm dbstore.MessageMap) error {
	content := w.workaroundContent(job, mm.DestMsgID)

	var newMsgID string
	err := w.call(ctx, "sendMessage", func(ctx context.Context) error {
		id, err := adapter.SendMessage(ctx, job.TargetChannelID, platform.SendMessageInput{
			Content:     content,
			Impersonate: &platform.Impersonate{Name: job.Event.Author.Name, AvatarURL: job.Event.Author.Avatar},
		})
		newMsgID = id
		return err
	})
	if err != nil {
		return w.finalizeCallErr(ctx, job, err)
	}
	if err := w.registerLoop(ctx, job, content); err != nil {
		w.log.Warn().Err(err).Msg("failed to register outgoing loop fingerprint")
	}

	prev, existed, err := w.editTrk.Swap(ctx, job.BridgePairID, string(job.Event.Source.Platform), job.Event.Source.MessageID, newMsgID)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to swap edit-update tracker")
		return nil
	}
	if existed && prev != "" {
		_ = w.call(ctx, "deleteMessage", func(ctx context.Context) error {
			return adapter.DeleteMessage(ctx, job.TargetChannelID, prev)
		})
	}
	return nil
}

func (w *Worker) deliverDelete(ctx context.Context, adapter platform.Adapter, job canonical.DeliveryJob) error {
	mm, ok, err := w.msgMaps.Find(ctx, job.BridgePairID, job.Event.Source.Platform, job.Event.Source.MessageID)
	if err != nil {
		return bridgeerr.New(bridgeerr.KindStore, err)
	}
	if !ok {
		return bridgeerr.New(bridgeerr.KindPermanent, bridgeerr.ErrNoMapping)
	}

	if job.TargetWebhookID != "" {
		wh := platform.Webhook{ID: job.TargetWebhookID, Token: job.TargetWebhookToken}
		var supported bool
		err := w.call(ctx, "deleteWebhookMessage", func(ctx context.Context) error {
			ok, err := adapter.DeleteWebhookMessage(ctx, wh, mm.DestMsgID)
			supported = ok
			return err
		})
		if err != nil {
			return w.finalizeCallErr(ctx, job, err)
		}
		if !supported {
			if err := w.call(ctx, "deleteMessage", func(ctx context.Context) error {
				return adapter.DeleteMessage(ctx, job.TargetChannelID, mm.DestMsgID)
			}); err != nil {
				return w.finalizeCallErr(ctx, job, err)
			}
		}
	} else {
		if err := w.call(ctx, "deleteMessage", func(ctx context.Context) error {
			return adapter.DeleteMessage(ctx, job.TargetChannelID, mm.DestMsgID)
		}); err != nil {
			return w.finalizeCallErr(ctx, job, err)
		}
	}

	if prev, existed, err := w.editTrk.Get(ctx, job.BridgePairID, string(job.Event.Source.Platform), job.Event.Source.MessageID); err == nil && existed && prev != "" {
		_ = w.call(ctx, "deleteMessage", func(ctx context.Context) error {
			return adapter.DeleteMessage(ctx, job.TargetChannelID, prev)
		})
		_ = w.editTrk.Clear(ctx, job.BridgePairID, string(job.Event.Source.Platform), job.Event.Source.MessageID)
	}

	return w.msgMaps.Delete(ctx, job.BridgePairID, job.Event.Source.Platform, job.Event.Source.MessageID)
}

// registerLoop fingerprints the body the worker handed to the adapter (the
// event content, or the fallback/workaround body built from it) with the
// author name, so a gateway echo carrying that same content and author is
// dropped by LoopFilter before it re-enters the ingest queue.
func (w *Worker) registerLoop(ctx context.Context, job canonical.DeliveryJob, content string) error {
	if w.loop == nil {
		return nil
	}
	return w.loop.RegisterOutgoing(ctx, content, job.Event.Author.Name, time.Now())
}

func fallbackContent(evt canonical.Event) string {
	return fmt.Sprintf("**%s**: %s", evt.Author.Name, evt.Content)
}

// workaroundContent builds a jump-link back to the original destination
// message since the target platform cannot edit an impersonated post
// in place; the workaround posts the edited content as a new message
// instead.
func (w *Worker) workaroundContent(job canonical.DeliveryJob, destMsgID string) string {
	guildOrSelf := job.TargetGuildID
	if guildOrSelf == "" {
		guildOrSelf = "@me"
	}
	url := fmt.Sprintf("%s/channels/%s/%s/%s", w.webBaseURL, guildOrSelf, job.TargetChannelID, destMsgID)
	return fmt.Sprintf("%s\n-# [Jump to original message](%s)", job.Event.Content, url)
}
