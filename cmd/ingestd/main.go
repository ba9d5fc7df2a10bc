package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/weblog-relay/internal/cache"
	"github.com/weblog-relay/internal/config"
	"github.com/weblog-relay/internal/forward"
	"github.com/weblog-relay/internal/observability"
	"github.com/weblog-relay/internal/pipeline"
	"github.com/weblog-relay/internal/postgres"
	"github.com/weblog-relay/internal/server"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", version).
		Str("node", cfg.NodeLabel).
		Msg("Starting weblog-relay ingest worker")

	// Initialize tracer (no-op unless enabled)
	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "weblog-relay",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared database
	db, err := postgres.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Lookup caches over the authoritative store
	hostCache := cache.NewHostCache(postgres.NewHostRepo(db), cfg.HostCacheTTL)
	if err := hostCache.Prewarm(ctx, cfg.HostPrewarm); err != nil {
		log.Warn().Err(err).Msg("Host cache prewarm failed, starting cold")
	}

	statusSeed, err := cache.LoadStatusSeed(cfg.StatusMapPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load status code seed")
	}
	statusCache := cache.NewStatusCache(postgres.NewStatusRepo(db))
	if err := statusCache.Preload(ctx, statusSeed); err != nil {
		log.Fatal().Err(err).Msg("Failed to preload status codes")
	}

	siteResolver := cache.NewSiteResolver(postgres.NewSiteRepo(db))
	recordRepo := postgres.NewRecordRepo(db)

	// Ingestion pipeline and dedup gate
	pipe := pipeline.New(recordRepo, hostCache, statusCache, siteResolver)
	gate := pipeline.NewGate(postgres.NewDedupRepo(db))

	// Upstream forwarding
	if cfg.ForwardingEnabled() {
		state, err := forward.NewBoltState(cfg.StatePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open forwarder state")
		}
		defer state.Close()

		sizer := forward.NewAdditiveController(cfg.BatchTarget, cfg.BatchFloor, cfg.BatchStep)
		if m, ok, err := state.Multiplier(); err != nil {
			log.Warn().Err(err).Msg("Failed to restore batch multiplier")
		} else if ok {
			sizer.SetMultiplier(m)
		}

		syncer := forward.NewSyncer(forward.Config{
			URL:        cfg.UpstreamURL,
			Token:      cfg.UpstreamToken,
			Origin:     cfg.NodeLabel,
			Timeout:    cfg.UpstreamTimeout,
			Compress:   cfg.Compress,
			StaleAfter: cfg.UpstreamStale,
		}, recordRepo, postgres.NewBatchRepo(db), sizer, state)

		scheduler := forward.NewScheduler(
			syncer,
			forward.StaticLeader(cfg.DesignatedWorker),
			state,
			cfg.UpstreamTick,
			cfg.UpstreamInterval,
		)
		go scheduler.Start(ctx)
	} else {
		log.Info().Msg("Upstream forwarding not configured")
	}

	// HTTP ingestion front
	srv := server.New(pipe, gate, db, cfg.IngestToken)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.ListenAddr); err != nil {
			errChan <- err
		}
	}()

	log.Info().Msg("Ingest worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("Received shutdown signal")
	case err := <-errChan:
		log.Error().Err(err).Msg("HTTP server error")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	log.Info().Msg("Ingest worker stopped")
}
