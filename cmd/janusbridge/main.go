// Command janusbridge runs the full bidirectional chat bridge: the
// platform adapters' gateway connections, the router and delivery
// workers, and the operator admin API.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/janus-bridge/janus/internal/breaker"
	"github.com/janus-bridge/janus/internal/bridge"
	"github.com/janus-bridge/janus/internal/canonical"
	"github.com/janus-bridge/janus/internal/config"
	"github.com/janus-bridge/janus/internal/dbstore"
	"github.com/janus-bridge/janus/internal/httpapi"
	"github.com/janus-bridge/janus/internal/ingest"
	"github.com/janus-bridge/janus/internal/kv"
	"github.com/janus-bridge/janus/internal/logging"
	"github.com/janus-bridge/janus/internal/platform"
	"github.com/janus-bridge/janus/internal/platform/discordapp"
	"github.com/janus-bridge/janus/internal/platform/mattermostapp"
	"github.com/janus-bridge/janus/internal/queue"
	"github.com/janus-bridge/janus/internal/router"
	"github.com/janus-bridge/janus/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	log := logging.New("info")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := dbstore.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.AutoMigrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database schema")
	}

	kvStore, err := kv.NewRedisStore(cfg.KVURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to key-value store")
	}
	defer kvStore.Close()

	queueStore := queue.NewPostgresStore(db.Conn)
	bridges := dbstore.NewBridgeRepository(db)
	msgMaps := dbstore.NewMessageMapRepository(db)

	loop := kv.NewLoopFilter(kvStore, time.Duration(cfg.LoopHashTTLSeconds)*time.Second)
	limiter := kv.NewRateLimiter(kvStore, cfg.RateLimitPerChannel, time.Duration(cfg.RateLimitWindowSeconds)*time.Second)
	editTrk := kv.NewEditUpdateTracker(kvStore, time.Duration(cfg.EditUpdateTTLSeconds)*time.Second)
	breakers := breaker.NewRegistry(breaker.Config{ResetTimeout: time.Duration(cfg.CBResetTimeoutMS) * time.Millisecond, MinCalls: cfg.CBFailureThreshold})

	discordAdapter := discordapp.New(log)
	mattermostAdapter := mattermostapp.New(cfg.WebBaseURL, log)
	adapters := platform.Registry{A: discordAdapter, B: mattermostAdapter}

	ingestHandler := ingest.NewHandler(queueStore, canonical.NewDiscordNormalizer(), canonical.NewMattermostNormalizer(cfg.WebBaseURL), log)
	discordAdapter.SetEventHandler(ingestHandler)
	mattermostAdapter.SetEventHandler(ingestHandler)

	if err := discordAdapter.Connect(ctx, cfg.AToken); err != nil {
		log.Fatal().Err(err).Msg("failed to connect Platform A adapter")
	}
	defer discordAdapter.Disconnect(context.Background())
	if err := mattermostAdapter.Connect(ctx, cfg.BToken); err != nil {
		log.Fatal().Err(err).Msg("failed to connect Platform B adapter")
	}
	defer mattermostAdapter.Disconnect(context.Background())

	bridgeStore := bridge.NewStore(bridges, adapters, log)
	sup := supervisor.New(queueStore, bridges, msgMaps, adapters, limiter, loop, editTrk, breakers, cfg.WebBaseURL, cfg.DeliveryConcurrency, log)
	bridgeStore.Subscribe(sup)

	if err := bridgeStore.Repair(ctx); err != nil {
		log.Error().Err(err).Msg("startup webhook repair failed")
	}
	if err := sup.Reconcile(ctx); err != nil {
		log.Fatal().Err(err).Msg("initial worker reconciliation failed")
	}
	defer sup.Shutdown()

	adminHash, err := httpapi.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to derive admin credential")
	}
	auth := httpapi.NewAuth(httpapi.AdminCredential{Username: cfg.AdminUsername, PasswordHash: adminHash}, cfg.JWTSecret, 24*time.Hour)
	feed := httpapi.NewLiveFeed()
	bridgeStore.Subscribe(feed)
	adminServer := httpapi.NewServer(bridgeStore, auth, feed, log)

	routerWorker := router.NewWorker(queueStore, bridges, loop, log)

	g, gctx := errgroup.WithContext(ctx)
	// The ingest queue is a single shared FOR UPDATE SKIP LOCKED table, so
	// any number of consumers can safely run the same Worker concurrently.
	for i := 0; i < cfg.IngestConcurrency; i++ {
		g.Go(func() error { return routerWorker.Run(gctx) })
	}
	g.Go(func() error { return runHTTPServer(gctx, cfg.HTTPAddr, adminServer, log) })
	g.Go(func() error { return runPruneLoop(gctx, queueStore, bridges, log) })

	log.Info().Str("http_addr", cfg.HTTPAddr).Msg("janusbridge started")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("janusbridge exited with error")
	}
}

// pruneInterval sets how often stale terminal jobs are trimmed from every
// queue down to the retention policy's keep-counts.
const pruneInterval = 10 * time.Minute

// runPruneLoop periodically prunes the ingest queue and every active
// delivery queue down to their retention policies, until ctx is cancelled.
func runPruneLoop(ctx context.Context, queueStore queue.Store, bridges dbstore.BridgeRepository, log zerolog.Logger) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			prune(ctx, queueStore, bridges, log)
		}
	}
}

func prune(ctx context.Context, queueStore queue.Store, bridges dbstore.BridgeRepository, log zerolog.Logger) {
	if err := queueStore.Prune(ctx, canonical.IngestQueueName, queue.IngestRetention); err != nil {
		log.Error().Err(err).Str("queue", canonical.IngestQueueName).Msg("failed to prune queue")
	}

	pairs, err := bridges.ListAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list bridges for queue pruning")
		return
	}
	for _, bp := range pairs {
		if !bp.IsActive {
			continue
		}
		for _, name := range []string{
			canonical.DeliveryQueueName(canonical.PlatformA, bp.AChannelID),
			canonical.DeliveryQueueName(canonical.PlatformB, bp.BChannelID),
		} {
			if err := queueStore.Prune(ctx, name, queue.DeliveryRetention); err != nil {
				log.Error().Err(err).Str("queue", name).Msg("failed to prune queue")
			}
		}
	}
}

// runHTTPServer runs the admin HTTP server until ctx is cancelled, then
// gives in-flight requests a grace period before returning.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("admin server shutdown error")
		}
		return nil
	}
}
