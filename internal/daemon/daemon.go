// Package daemon wires the pipeline together and runs it as a long
// lived service: registry, embedding provider, watcher, processor,
// organizer and the optional metrics endpoint and rescan schedule.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/config"
	"github.com/semfs/semfs/internal/observability"
	"github.com/semfs/semfs/internal/tracing"
	"github.com/semfs/semfs/pkg/cluster"
	"github.com/semfs/semfs/pkg/content"
	"github.com/semfs/semfs/pkg/naming"
	"github.com/semfs/semfs/pkg/organizer"
	"github.com/semfs/semfs/pkg/orchestrator"
	"github.com/semfs/semfs/pkg/pipeline"
	"github.com/semfs/semfs/pkg/registry"
	"github.com/semfs/semfs/pkg/search"
	"github.com/semfs/semfs/pkg/semantic"
)

// Daemon owns the full pipeline for one managed root.
type Daemon struct {
	config   *config.Config
	logger   zerolog.Logger
	registry *registry.Registry
	provider semantic.EmbeddingProvider

	queue        *pipeline.Queue
	watcher      *pipeline.Watcher
	processor    *pipeline.Processor
	orchestrator *orchestrator.Orchestrator
	searcher     *search.Searcher
	extractors   *content.Registry

	cron       *cron.Cron
	metricsSrv *http.Server
	tracer     *tracing.Provider
	startedAt  time.Time
}

// Status is a point-in-time snapshot of the daemon's state.
type Status struct {
	PID            int            `json:"pid"`
	Uptime         time.Duration  `json:"uptime"`
	ManagedRoot    string         `json:"managed_root"`
	Registry       registry.Stats `json:"registry"`
	QueueDepth     int            `json:"queue_depth"`
	BreakerTripped bool           `json:"breaker_tripped"`
}

// New builds a Daemon from configuration. Components are constructed
// but nothing runs until Run is called.
func New(cfg *config.Config, logger zerolog.Logger) (*Daemon, error) {
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(registry.Config{
		DBPath:    cfg.DatabasePath,
		Logger:    logger,
		Dimension: provider.Dimension(),
	})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	extractors := content.NewRegistry(cfg.Extensions, logger)
	suppressor := organizer.NewSuppressor(time.Duration(cfg.Pipeline.SuppressionTTLMs) * time.Millisecond)
	namer := naming.NewNamer(reg, extractors, logger)

	org := organizer.New(organizer.Config{
		ManagedRoot: cfg.ManagedRoot,
		Labeler:     namer,
		Recorder:    reg,
		Suppressor:  suppressor,
		Logger:      logger,
	})

	engine := cluster.NewEngine(reg, cfg.Semantic.AssignThreshold, logger)
	grapher := semantic.NewGraphBuilder(reg, logger)

	orch := orchestrator.New(orchestrator.Config{
		Grapher:           grapher,
		Engine:            engine,
		Store:             reg,
		Layout:            org,
		EdgeThreshold:     cfg.Semantic.EdgeThreshold,
		DistanceThreshold: cfg.Semantic.DistanceThreshold,
		BreakerLimit:      cfg.Pipeline.BreakerLimit,
		Logger:            logger,
	})

	queue := pipeline.NewQueue(cfg.Pipeline.QueueCapacity)

	watcher := pipeline.NewWatcher(pipeline.WatcherConfig{
		ManagedRoot: cfg.ManagedRoot,
		Filter:      extractors,
		Suppressor:  suppressor,
		Queue:       queue,
		Logger:      logger,
	})

	processor := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Queue:        queue,
		Store:        reg,
		Extractor:    extractors,
		Provider:     provider,
		Rebuilder:    orch,
		Assigner:     engine,
		ReadyRetries: cfg.Pipeline.ReadyRetries,
		ReadyDelay:   time.Duration(cfg.Pipeline.ReadyDelayMs) * time.Millisecond,
		Logger:       logger,
	})

	return &Daemon{
		config:       cfg,
		logger:       logger,
		registry:     reg,
		provider:     provider,
		queue:        queue,
		watcher:      watcher,
		processor:    processor,
		orchestrator: orch,
		searcher:     search.New(provider, reg, logger),
		extractors:   extractors,
	}, nil
}

func newProvider(cfg *config.Config) (semantic.EmbeddingProvider, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.APIKey == "" {
			return nil, errors.New("embedding api key not configured")
		}
		return semantic.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// Run starts every component and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	observability.EnsureRegistered()
	if err := observability.InitAuditLogger(filepath.Join(d.config.DataDir, "audit.log")); err != nil {
		d.logger.Warn().Err(err).Msg("Audit log unavailable")
	}
	tracer, err := tracing.Setup(ctx, "semfs")
	if err != nil {
		d.logger.Warn().Err(err).Msg("Tracing unavailable")
	}
	d.tracer = tracer

	lifecycle := NewLifecycleManager(d.config.DataDir)
	if err := lifecycle.Start(d.logger); err != nil {
		return err
	}
	defer func() {
		if err := lifecycle.Stop(); err != nil {
			d.logger.Warn().Err(err).Msg("Lifecycle cleanup failed")
		}
	}()

	d.startedAt = time.Now()
	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())

	if err := pipeline.Bootstrap(d.config.ManagedRoot, d.extractors, d.queue, d.logger); err != nil {
		return fmt.Errorf("bootstrap scan: %w", err)
	}

	d.startMetrics()
	if err := d.startRescan(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- d.watcher.Run(ctx) }()
	go func() { errCh <- d.processor.Run(ctx) }()

	d.logger.Info().
		Str("root", d.config.ManagedRoot).
		Str("db", d.config.DatabasePath).
		Msg("Daemon running")

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	}

	d.shutdown()
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (d *Daemon) startMetrics() {
	if d.config.Metrics.Port <= 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	d.metricsSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.config.Metrics.Host, d.config.Metrics.Port),
		Handler: mux,
	}

	go func() {
		d.logger.Info().Str("addr", d.metricsSrv.Addr).Msg("Metrics endpoint listening")
		if err := d.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

func (d *Daemon) startRescan(ctx context.Context) error {
	if d.config.RescanSchedule == "" {
		return nil
	}

	d.cron = cron.New()
	_, err := d.cron.AddFunc(d.config.RescanSchedule, func() {
		d.logger.Info().Msg("Scheduled rescan starting")
		if err := pipeline.Bootstrap(d.config.ManagedRoot, d.extractors, d.queue, d.logger); err != nil {
			d.logger.Error().Err(err).Msg("Scheduled rescan failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid rescan schedule %q: %w", d.config.RescanSchedule, err)
	}
	d.cron.Start()
	return nil
}

func (d *Daemon) shutdown() {
	if d.cron != nil {
		d.cron.Stop()
	}
	if d.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsSrv.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	if err := d.registry.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Closing registry failed")
	}

	traceCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.tracer.Shutdown(traceCtx); err != nil {
		d.logger.Warn().Err(err).Msg("Tracing shutdown failed")
	}

	d.logger.Info().Msg("Daemon stopped")
}

// Status reports the daemon's current state.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	stats, err := d.registry.Counts(ctx)
	if err != nil {
		return Status{}, err
	}

	return Status{
		PID:            os.Getpid(),
		Uptime:         time.Since(d.startedAt),
		ManagedRoot:    d.config.ManagedRoot,
		Registry:       stats,
		QueueDepth:     d.queue.Len(),
		BreakerTripped: d.orchestrator.Tripped(),
	}, nil
}

// Search answers a free-text query against the registry.
func (d *Daemon) Search(ctx context.Context, query string, limit int) ([]registry.SearchResult, error) {
	return d.searcher.Search(ctx, query, limit)
}
