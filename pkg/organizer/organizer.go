// Package organizer projects the cluster partition onto the filesystem:
// each cluster becomes a folder under the managed root and member files
// are moved into it. Moves are best effort per file, and every planned
// destination is registered with the suppressor first so the watcher can
// tell self-moves apart from user activity.
package organizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/observability"
	"github.com/semfs/semfs/internal/tracing"
	"github.com/semfs/semfs/pkg/registry"
)

// Labeler names a cluster for use as a folder name.
type Labeler interface {
	NameCluster(ctx context.Context, clusterID string) string
}

// Recorder reconciles the registry after a file has moved on disk.
type Recorder interface {
	UpsertFile(ctx context.Context, path string) (string, error)
}

// Organizer moves files into cluster-named folders.
type Organizer struct {
	root       string
	labeler    Labeler
	recorder   Recorder
	suppressor *Suppressor
	logger     zerolog.Logger
}

// Config carries the Organizer's dependencies.
type Config struct {
	ManagedRoot string
	Labeler     Labeler
	Recorder    Recorder
	Suppressor  *Suppressor
	Logger      zerolog.Logger
}

// New builds an Organizer rooted at cfg.ManagedRoot.
func New(cfg Config) *Organizer {
	return &Organizer{
		root:       registry.CanonicalPath(cfg.ManagedRoot),
		labeler:    cfg.Labeler,
		recorder:   cfg.Recorder,
		suppressor: cfg.Suppressor,
		logger:     cfg.Logger,
	}
}

// SyncLayout moves every file in layout into its cluster's folder and
// returns how many files actually moved. Files already in place are
// skipped, and a failed move never aborts the rest of the pass. The
// context is checked between files, never mid-move.
func (o *Organizer) SyncLayout(ctx context.Context, layout map[string][]string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "semfs.organizer", "organizer.sync")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, o.logger)

	clusterIDs := make([]string, 0, len(layout))
	for id := range layout {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Strings(clusterIDs)

	moved := 0
	for _, clusterID := range clusterIDs {
		label := o.labeler.NameCluster(ctx, clusterID)
		dir := filepath.Join(o.root, label)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error().Err(err).Str("dir", dir).Msg("Creating cluster folder failed")
			continue
		}

		for _, source := range layout[clusterID] {
			if err := ctx.Err(); err != nil {
				return moved, err
			}

			source = registry.CanonicalPath(source)
			dest := registry.CanonicalPath(filepath.Join(dir, filepath.Base(source)))
			if source == dest {
				continue
			}

			if err := o.moveFile(ctx, source, dest); err != nil {
				logger.Warn().Err(err).
					Str("source", source).
					Str("dest", dest).
					Msg("Move failed, leaving file in place")
				observability.RecordMove(false)
				observability.RecordMoveAudit(ctx, source, dest, "error")
				continue
			}

			moved++
			observability.RecordMove(true)
			observability.RecordMoveAudit(ctx, source, dest, "success")
			logger.Info().
				Str("source", source).
				Str("dest", dest).
				Str("cluster_id", clusterID).
				Msg("Moved file into cluster folder")
		}
	}

	return moved, nil
}

// moveFile renames source to dest and reconciles the registry. Both
// endpoints are marked for suppression up front because the rename
// raises watcher events on each of them.
func (o *Organizer) moveFile(ctx context.Context, source, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("destination %s already exists", dest)
	}

	o.suppressor.Mark(source)
	o.suppressor.Mark(dest)

	if err := os.Rename(source, dest); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	if _, err := o.recorder.UpsertFile(ctx, dest); err != nil {
		return fmt.Errorf("reconcile registry: %w", err)
	}
	return nil
}
