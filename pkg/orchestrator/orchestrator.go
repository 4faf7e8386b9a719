// Package orchestrator runs the batch pass that keeps the cluster state
// and the on-disk layout in sync with the registry: rebuild the
// similarity graph, recluster, persist the partition, then move files.
// A circuit breaker halts layout syncing when consecutive passes keep
// producing moves, which is the signature of a feedback loop between
// the organizer and the watcher.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/observability"
	"github.com/semfs/semfs/internal/tracing"
	"github.com/semfs/semfs/pkg/cluster"
	"github.com/semfs/semfs/pkg/registry"
	"github.com/semfs/semfs/pkg/semantic"
)

// Grapher builds the similarity graph over all embedded files.
type Grapher interface {
	Build(ctx context.Context, threshold float64) (semantic.Adjacency, error)
}

// Clusterer partitions the embedded files using the similarity graph.
type Clusterer interface {
	ClusterFiles(ctx context.Context, adjacency semantic.Adjacency, files []semantic.EmbeddedFile, distanceThreshold float64) (*cluster.Partition, error)
}

// Store is the registry surface the orchestrator needs.
type Store interface {
	AllEmbeddings(ctx context.Context) ([]semantic.EmbeddedFile, error)
	ReplaceClustering(ctx context.Context, clusters []registry.Cluster, memberships map[string]registry.Membership) error
	PathForID(ctx context.Context, fileID string) (string, bool, error)
}

// LayoutSyncer projects the partition onto the filesystem.
type LayoutSyncer interface {
	SyncLayout(ctx context.Context, layout map[string][]string) (int, error)
}

// Orchestrator coordinates a full rebuild pass.
type Orchestrator struct {
	grapher Grapher
	engine  Clusterer
	store   Store
	layout  LayoutSyncer
	logger  zerolog.Logger

	edgeThreshold     float64
	distanceThreshold float64
	breakerLimit      int

	mu               sync.Mutex
	consecutiveMoves int
	tripped          bool
}

// Config carries the Orchestrator's dependencies and thresholds.
type Config struct {
	Grapher           Grapher
	Engine            Clusterer
	Store             Store
	Layout            LayoutSyncer
	EdgeThreshold     float64
	DistanceThreshold float64
	BreakerLimit      int
	Logger            zerolog.Logger
}

// New builds an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		grapher:           cfg.Grapher,
		engine:            cfg.Engine,
		store:             cfg.Store,
		layout:            cfg.Layout,
		logger:            cfg.Logger,
		edgeThreshold:     cfg.EdgeThreshold,
		distanceThreshold: cfg.DistanceThreshold,
		breakerLimit:      cfg.BreakerLimit,
	}
}

// Tripped reports whether the feedback breaker has halted layout syncing.
func (o *Orchestrator) Tripped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tripped
}

// Reset re-arms a tripped breaker. Intended for operator intervention
// after the underlying oscillation has been resolved.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tripped = false
	o.consecutiveMoves = 0
}

// Rebuild recomputes the graph and the partition, persists the result,
// and syncs the layout unless the breaker is open. Cluster state is
// always written even when syncing is skipped, so the registry reflects
// the latest partition regardless of breaker state.
func (o *Orchestrator) Rebuild(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "semfs.orchestrator", "orchestrator.rebuild")
	defer span.End()

	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	files, err := o.store.AllEmbeddings(ctx)
	if err != nil {
		observability.RecordRebuild(time.Since(start), false)
		return err
	}

	adjacency, err := o.grapher.Build(ctx, o.edgeThreshold)
	if err != nil {
		observability.RecordRebuild(time.Since(start), false)
		return err
	}

	partition, err := o.engine.ClusterFiles(ctx, adjacency, files, o.distanceThreshold)
	if err != nil {
		observability.RecordRebuild(time.Since(start), false)
		return err
	}

	vectors := make(map[string][]float32, len(files))
	for _, f := range files {
		vectors[f.FileID] = f.Vector
	}

	clusters := make([]registry.Cluster, 0, len(partition.Groups))
	memberships := make(map[string]registry.Membership, len(partition.Assignments))
	for _, group := range partition.Groups {
		clusters = append(clusters, registry.Cluster{
			ID:       group.ID,
			Label:    group.Label,
			Centroid: group.Centroid,
		})
		for _, fileID := range group.Members {
			confidence := semantic.CosineSimilarity(vectors[fileID], group.Centroid)
			if confidence < 0 {
				confidence = 0
			}
			memberships[fileID] = registry.Membership{
				ClusterID:  group.ID,
				Confidence: confidence,
			}
		}
	}

	if err := o.store.ReplaceClustering(ctx, clusters, memberships); err != nil {
		observability.RecordRebuild(time.Since(start), false)
		return err
	}

	if o.Tripped() {
		logger.Warn().Msg("Feedback breaker open, skipping layout sync")
		observability.RecordRebuild(time.Since(start), true)
		return nil
	}

	layout := make(map[string][]string, len(partition.Groups))
	for _, group := range partition.Groups {
		for _, fileID := range group.Members {
			path, ok, err := o.store.PathForID(ctx, fileID)
			if err != nil {
				observability.RecordRebuild(time.Since(start), false)
				return err
			}
			if !ok {
				continue
			}
			layout[group.ID] = append(layout[group.ID], path)
		}
	}

	moved, err := o.layout.SyncLayout(ctx, layout)
	if err != nil {
		observability.RecordRebuild(time.Since(start), false)
		return err
	}

	o.recordMoves(moved, logger)

	logger.Info().
		Int("files", len(files)).
		Int("clusters", len(clusters)).
		Int("moved", moved).
		Dur("elapsed", time.Since(start)).
		Msg("Rebuild complete")
	observability.RecordRebuild(time.Since(start), true)
	return nil
}

// recordMoves updates the breaker counter. A pass with no moves means
// the layout has settled and the counter resets; breakerLimit
// consecutive move-producing passes trip the breaker.
func (o *Orchestrator) recordMoves(moved int, logger zerolog.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if moved == 0 {
		o.consecutiveMoves = 0
		return
	}

	o.consecutiveMoves++
	if o.breakerLimit > 0 && o.consecutiveMoves >= o.breakerLimit {
		o.tripped = true
		observability.RecordBreakerTrip()
		logger.Error().
			Int("consecutive_passes", o.consecutiveMoves).
			Msg("Layout never settles, tripping feedback breaker")
	}
}
