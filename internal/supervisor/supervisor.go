// Package supervisor implements WorkerSupervisor, the process that owns
// the lifecycle of every per-channel DeliveryWorker goroutine. It starts
// workers for a bridge's two channels when the bridge becomes active,
// stops them when it doesn't, and idempotently reconciles state at
// startup from whatever bridges are already persisted.
package supervisor

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/janus-bridge/janus/internal/breaker"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/dbstore"
	"github.com/janus-bridge/janus/internal/delivery"
	"github.com/janus-bridge/janus/internal/kv"
	"github.com/janus-bridge/janus/internal/platform"
	"github.com/janus-bridge/janus/internal/queue"
)

// runningWorker tracks one delivery worker's cancel function and completion signal.
type runningWorker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// workerGroup is every concurrent DeliveryWorker consumer claiming from one
// (platform, channelId) delivery queue.
type workerGroup []*runningWorker

// Supervisor maintains a group of DeliveryWorkers per (platform, channelId)
// that currently participates in at least one active bridge. Workers within
// a group all claim from the same delivery queue name, so Postgres's
// FOR UPDATE SKIP LOCKED keeps them from double-processing a job.
type Supervisor struct {
	store       queue.Store
	bridges     dbstore.BridgeRepository
	msgMaps     dbstore.MessageMapRepository
	adapters    platform.Registry
	limiter     *kv.RateLimiter
	loop        *kv.LoopFilter
	editTrk     *kv.EditUpdateTracker
	breakers    *breaker.Registry
	webBaseURL  string
	concurrency int
	log         zerolog.Logger

	mu      sync.Mutex
	workers map[string]workerGroup // key: "<platform>:<channelId>"
}

func New(
	store queue.Store,
	bridges dbstore.BridgeRepository,
	msgMaps dbstore.MessageMapRepository,
	adapters platform.Registry,
	limiter *kv.RateLimiter,
	loop *kv.LoopFilter,
	editTrk *kv.EditUpdateTracker,
	breakers *breaker.Registry,
	webBaseURL string,
	concurrency int,
	log zerolog.Logger,
) *Supervisor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Supervisor{
		store: store, bridges: bridges, msgMaps: msgMaps, adapters: adapters,
		limiter: limiter, loop: loop, editTrk: editTrk, breakers: breakers,
		webBaseURL:  webBaseURL,
		concurrency: concurrency,
		log:         log.With().Str("component", "supervisor").Logger(),
		workers:     make(map[string]workerGroup),
	}
}

func workerKey(p canonical.Platform, channelID string) string { return string(p) + ":" + channelID }

// Reconcile loads every persisted bridge and ensures a delivery worker is
// running for each channel referenced by at least one active bridge, and
// that no worker is running for a channel with no active bridge. Call this
// at startup and after any bridge lifecycle change.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	bridges, err := s.bridges.ListAll(ctx)
	if err != nil {
		return err
	}

	want := make(map[string]struct{})
	for _, bp := range bridges {
		if !bp.IsActive {
			continue
		}
		want[workerKey(canonical.PlatformA, bp.AChannelID)] = struct{}{}
		want[workerKey(canonical.PlatformB, bp.BChannelID)] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range want {
		if _, ok := s.workers[key]; ok {
			continue
		}
		platformName, channelID := splitKey(key)
		s.startLocked(ctx, platformName, channelID)
	}

	for key, group := range s.workers {
		if _, ok := want[key]; ok {
			continue
		}
		for _, rw := range group {
			rw.cancel()
		}
		delete(s.workers, key)
	}
	return nil
}

// startLocked spawns s.concurrency DeliveryWorker goroutines for
// (p, channelID), all consuming the same delivery queue name.
func (s *Supervisor) startLocked(ctx context.Context, p canonical.Platform, channelID string) {
	group := make(workerGroup, 0, s.concurrency)
	for i := 0; i < s.concurrency; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		w := delivery.NewWorker(s.store, p, channelID, s.bridges, s.msgMaps, s.adapters, s.limiter, s.loop, s.editTrk, s.breakers, s.webBaseURL, s.log)
		go func() {
			defer close(done)
			if err := w.Run(workerCtx); err != nil && workerCtx.Err() == nil {
				s.log.Error().Err(err).Str("platform", string(p)).Str("channel", channelID).Msg("delivery worker exited unexpectedly")
			}
		}()
		group = append(group, &runningWorker{cancel: cancel, done: done})
	}
	s.workers[workerKey(p, channelID)] = group
}

func splitKey(key string) (canonical.Platform, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return canonical.Platform(key[:i]), key[i+1:]
		}
	}
	return canonical.Platform(key), ""
}

// Running reports whether a worker is currently running for (platform, channelId).
func (s *Supervisor) Running(p canonical.Platform, channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[workerKey(p, channelID)]
	return ok
}

// Shutdown stops every running delivery worker and waits for them to exit.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	workers := s.workers
	s.workers = make(map[string]workerGroup)
	s.mu.Unlock()

	for _, group := range workers {
		for _, rw := range group {
			rw.cancel()
		}
	}
	for _, group := range workers {
		for _, rw := range group {
			<-rw.done
		}
	}
}

// OnBridgeCreated implements bridge.Observer.
func (s *Supervisor) OnBridgeCreated(bp dbstore.BridgePair) { s.reconcileAsync() }

// OnBridgeDeleted implements bridge.Observer.
func (s *Supervisor) OnBridgeDeleted(bp dbstore.BridgePair) { s.reconcileAsync() }

// OnBridgeToggled implements bridge.Observer.
func (s *Supervisor) OnBridgeToggled(bp dbstore.BridgePair) { s.reconcileAsync() }

// OnBridgeRepaired implements bridge.Observer.
func (s *Supervisor) OnBridgeRepaired(bp dbstore.BridgePair) {}

// reconcileAsync runs Reconcile against a background context, logging on
// failure since observer callbacks have no error return path.
func (s *Supervisor) reconcileAsync() {
	if err := s.Reconcile(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("reconcile after bridge lifecycle event failed")
	}
}
