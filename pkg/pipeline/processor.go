package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/observability"
	"github.com/semfs/semfs/internal/tracing"
	"github.com/semfs/semfs/pkg/naming"
	"github.com/semfs/semfs/pkg/semantic"
)

// recordKeywords is how many keywords are stored per file.
const recordKeywords = 10

// Store is the registry surface the processor writes through.
type Store interface {
	UpsertFile(ctx context.Context, path string) (string, error)
	RemoveFile(ctx context.Context, path string) error
	StoreEmbedding(ctx context.Context, fileID string, vector []float32, keywords []string) error
}

// Extractor turns a file on disk into embeddable text.
type Extractor interface {
	Extract(path string) (string, error)
}

// Rebuilder runs the batch recluster-and-sync pass.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Assigner is the incremental fast-path cluster assignment. Its result
// is advisory; the batch pass that follows every event supersedes it.
type Assigner interface {
	AssignCluster(ctx context.Context, embedding []float32) (string, error)
}

// Processor drains the event queue one event at a time. Each event runs
// through readiness, extraction, embedding, registration and a full
// rebuild before the next event is popped.
type Processor struct {
	queue     *Queue
	store     Store
	extractor Extractor
	provider  semantic.EmbeddingProvider
	rebuilder Rebuilder
	assigner  Assigner
	logger    zerolog.Logger

	readyRetries int
	readyDelay   time.Duration
}

// ProcessorConfig carries the Processor's dependencies.
type ProcessorConfig struct {
	Queue        *Queue
	Store        Store
	Extractor    Extractor
	Provider     semantic.EmbeddingProvider
	Rebuilder    Rebuilder
	Assigner     Assigner
	ReadyRetries int
	ReadyDelay   time.Duration
	Logger       zerolog.Logger
}

// NewProcessor builds a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	retries := cfg.ReadyRetries
	if retries <= 0 {
		retries = 5
	}
	delay := cfg.ReadyDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Processor{
		queue:        cfg.Queue,
		store:        cfg.Store,
		extractor:    cfg.Extractor,
		provider:     cfg.Provider,
		rebuilder:    cfg.Rebuilder,
		assigner:     cfg.Assigner,
		logger:       cfg.Logger,
		readyRetries: retries,
		readyDelay:   delay,
	}
}

// Run processes events until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		event, err := p.queue.Pop(ctx)
		if err != nil {
			return err
		}
		p.Handle(ctx, event)
	}
}

// Handle runs one event end to end. Failures are logged and absorbed so
// one bad file never stalls the pipeline.
func (p *Processor) Handle(ctx context.Context, event Event) {
	ctx = tracing.PropagateToCycle(ctx)
	ctx = tracing.WithEventOp(ctx, string(event.Op))
	ctx = tracing.WithFilePath(ctx, event.Path)

	ctx, span := tracing.StartSpan(ctx, "semfs.pipeline", "pipeline.process")
	defer span.End()

	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, p.logger)

	var err error
	switch event.Op {
	case OpCreated, OpModified:
		err = p.ingest(ctx, event.Path, logger)
	case OpRemoved:
		err = p.remove(ctx, event.Path, logger)
	default:
		return
	}

	if err != nil {
		logger.Warn().Err(err).Str("path", event.Path).Str("op", string(event.Op)).Msg("Event processing failed")
		observability.RecordEvent(string(event.Op), "error")
		return
	}

	if err := p.rebuilder.Rebuild(ctx); err != nil {
		logger.Error().Err(err).Msg("Rebuild after event failed")
	}
	observability.RecordEventProcessed(string(event.Op), time.Since(start))
}

// ingest registers the file and stores its embedding. A file that never
// becomes readable is dropped without error; the next event on it will
// try again. Content with no embeddable signal is registered but left
// out of the semantic layer.
func (p *Processor) ingest(ctx context.Context, path string, logger zerolog.Logger) error {
	if !p.waitReady(ctx, path) {
		logger.Debug().Str("path", path).Msg("File never became readable, dropping event")
		observability.RecordEvent(string(OpCreated), "dropped")
		return nil
	}

	text, err := p.extractor.Extract(path)
	if err != nil {
		return err
	}

	fileID, err := p.store.UpsertFile(ctx, path)
	if err != nil {
		return err
	}
	observability.RecordRegistryAudit(ctx, "upsert", path, "success")

	vector, err := p.provider.GenerateEmbedding(ctx, text)
	if err != nil {
		if errors.Is(err, semantic.ErrNoSignal) {
			logger.Debug().Str("path", path).Msg("No embeddable content, registered without embedding")
			return nil
		}
		return err
	}

	keywords := naming.Keywords(text, recordKeywords)
	if err := p.store.StoreEmbedding(ctx, fileID, vector, keywords); err != nil {
		return err
	}

	// Optimistic placeholder assignment; the rebuild that follows this
	// event is the source of truth and overwrites it.
	if p.assigner != nil {
		clusterID, err := p.assigner.AssignCluster(ctx, vector)
		if err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("Advisory assignment failed")
		} else {
			logger.Debug().Str("path", path).Str("cluster_id", clusterID).Msg("Advisory cluster assignment")
		}
	}

	logger.Info().Str("path", path).Str("file_id", fileID).Msg("File embedded")
	return nil
}

func (p *Processor) remove(ctx context.Context, path string, logger zerolog.Logger) error {
	if err := p.store.RemoveFile(ctx, path); err != nil {
		return err
	}
	observability.RecordRegistryAudit(ctx, "remove", path, "success")
	logger.Info().Str("path", path).Msg("File removed from registry")
	return nil
}

// waitReady polls until the file can be opened for reading. Editors and
// downloads often raise the create event before the bytes are in place.
func (p *Processor) waitReady(ctx context.Context, path string) bool {
	for attempt := 0; attempt < p.readyRetries; attempt++ {
		f, err := os.Open(path)
		if err == nil {
			f.Close()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.readyDelay):
		}
	}
	return false
}
