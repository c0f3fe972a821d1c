package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaycore/relaycore/internal/backend"
	"github.com/relaycore/relaycore/internal/background"
	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/messagestore"
	"github.com/relaycore/relaycore/internal/observability"
	"github.com/relaycore/relaycore/internal/pruning"
	"github.com/relaycore/relaycore/internal/recovery"
)

// runtime bundles every component relayd wires together from one loaded
// config: the message log, scheduler, recovery controller, and pruning
// engine all share the same Store and observability stack.
type runtime struct {
	cfg            *config.Config
	logger         *observability.Logger
	metrics        *observability.Metrics
	tracerShutdown func(context.Context) error
	store          *messagestore.Store
	scheduler      *background.Scheduler
	recovery       *recovery.Controller
	pruning        *pruning.Engine
}

// buildRuntime loads configPath and constructs every component it
// describes. client is the host runtime's backend.Client implementation;
// relayd ships only backend.NullClient for standalone operation, since
// concrete provider/session transport is explicitly out of this binary's
// scope.
func buildRuntime(configPath string, client backend.Client) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.Redact,
	})
	metrics := observability.NewMetrics()

	var tracer *observability.Tracer
	var tracerShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		tracer, tracerShutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName: "relayd",
			Endpoint:    cfg.Tracing.OTLPEndpoint,
		})
	}

	store, err := messagestore.NewStore(cfg.Storage.MessageRoot, cfg.Storage.PartRoot)
	if err != nil {
		return nil, fmt.Errorf("init message store: %w", err)
	}

	if client == nil {
		client = backend.NullClient{}
	}

	concurrency := background.NewConcurrencyManager(cfg.Concurrency.DefaultLimitPerKey)
	state := background.NewTaskStateManager()

	// Phase 3 of recovery needs a session to run its own summarization
	// prompts against; it is never shown to a user and never torn down
	// (it is reused for the life of the process).
	scratchSession, err := client.SessionCreate(context.Background(), "", "relayd-recovery-summarizer", "")
	if err != nil || scratchSession == nil {
		return nil, fmt.Errorf("create recovery summarizer scratch session: %w", err)
	}
	summarizer := recovery.NewBackendSummarizer(client, scratchSession.ID, "", "")
	recoveryController := recovery.NewController(store, client, summarizer, &cfg.Recovery, logger, metrics)
	if tracer != nil {
		recoveryController.SetTracer(tracer)
	}

	schedulerOpts := []background.SchedulerOption{background.WithRecoveryController(recoveryController)}
	if tracer != nil {
		schedulerOpts = append(schedulerOpts, background.WithTracer(tracer))
	}
	scheduler := background.NewScheduler(client, concurrency, state, logger, metrics, schedulerOpts...)

	protectedTools := make(map[string]struct{}, len(cfg.Pruning.ProtectedTools))
	for _, t := range cfg.Pruning.ProtectedTools {
		protectedTools[t] = struct{}{}
	}
	pruningEngine := pruning.NewEngine(store, metrics, pruning.Config{
		DeduplicationEnabled: true,
		SupersedeEnabled:     true,
		PurgeErrorsEnabled:   true,
		ProtectedTools:       protectedTools,
		PurgeErrorAgeTurns:   3,
	})
	if tracer != nil {
		pruningEngine.SetTracer(tracer)
	}

	return &runtime{
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		tracerShutdown: tracerShutdown,
		store:          store,
		scheduler:      scheduler,
		recovery:       recoveryController,
		pruning:        pruningEngine,
	}, nil
}

// shutdown flushes and tears down any exporters the runtime opened.
func (r *runtime) shutdown(ctx context.Context) error {
	if r.tracerShutdown == nil {
		return nil
	}
	return r.tracerShutdown(ctx)
}

// serveMetrics starts the Prometheus exporter if enabled in config and
// returns the *http.Server so the caller can shut it down, or nil if
// metrics are disabled.
func (r *runtime) serveMetrics() *http.Server {
	if !r.cfg.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: r.cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error(context.Background(), "metrics server stopped", "error", err)
		}
	}()
	return srv
}
