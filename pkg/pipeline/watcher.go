// Package pipeline turns filesystem activity into registry and cluster
// updates. The watcher translates raw notify events into a bounded
// queue; a single processor drains the queue so every event runs its
// full extract, embed, register, recluster sequence before the next one
// starts.
package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/observability"
	"github.com/semfs/semfs/pkg/registry"
)

// Filter decides which files the pipeline cares about.
type Filter interface {
	Supported(path string) bool
}

// SuppressionChecker identifies events caused by the organizer's own moves.
type SuppressionChecker interface {
	ShouldSuppress(path string) bool
}

// Watcher observes the managed root recursively and feeds the queue.
type Watcher struct {
	root       string
	filter     Filter
	suppressor SuppressionChecker
	queue      *Queue
	logger     zerolog.Logger
}

// WatcherConfig carries the Watcher's dependencies.
type WatcherConfig struct {
	ManagedRoot string
	Filter      Filter
	Suppressor  SuppressionChecker
	Queue       *Queue
	Logger      zerolog.Logger
}

// NewWatcher builds a Watcher over cfg.ManagedRoot.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		root:       registry.CanonicalPath(cfg.ManagedRoot),
		filter:     cfg.Filter,
		suppressor: cfg.Suppressor,
		queue:      cfg.Queue,
		logger:     cfg.Logger,
	}
}

// Run watches until the context is cancelled. Directories created under
// the root are added to the watch set as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer notifier.Close()

	if err := w.addTree(notifier, w.root); err != nil {
		return err
	}

	w.logger.Info().Str("root", w.root).Msg("Watching managed root")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			w.handle(notifier, event)
		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(notifier *fsnotify.Watcher, event fsnotify.Event) {
	path := registry.CanonicalPath(event.Name)

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(notifier, path); err != nil {
				w.logger.Warn().Err(err).Str("dir", path).Msg("Watching new directory failed")
			}
			// Files already inside the new directory never raised
			// their own create events.
			w.enqueueExisting(path)
			return
		}
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreated
	case event.Has(fsnotify.Write):
		op = OpModified
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpRemoved
	default:
		return
	}

	if !w.filter.Supported(path) {
		observability.RecordEvent(string(op), "ignored")
		return
	}

	if w.suppressor.ShouldSuppress(path) {
		observability.RecordEvent(string(op), "suppressed")
		w.logger.Debug().Str("path", path).Str("op", string(op)).Msg("Suppressed self-move event")
		return
	}

	w.queue.Push(Event{Op: op, Path: path})
	observability.RecordEvent(string(op), "enqueued")
}

// addTree registers dir and every directory below it.
func (w *Watcher) addTree(notifier *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return notifier.Add(path)
		}
		return nil
	})
}

// enqueueExisting pushes create events for supported files already
// present under dir.
func (w *Watcher) enqueueExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		path = registry.CanonicalPath(path)
		if !w.filter.Supported(path) {
			return nil
		}
		if w.suppressor.ShouldSuppress(path) {
			observability.RecordEvent(string(OpCreated), "suppressed")
			return nil
		}
		w.queue.Push(Event{Op: OpCreated, Path: path})
		observability.RecordEvent(string(OpCreated), "enqueued")
		return nil
	})
}

// Bootstrap enqueues a create event for every supported file already
// under root. Used at startup so files that predate the daemon are
// registered and clustered like any other.
func Bootstrap(root string, filter Filter, queue *Queue, logger zerolog.Logger) error {
	root = registry.CanonicalPath(root)
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		path = registry.CanonicalPath(path)
		if !filter.Supported(path) {
			return nil
		}
		queue.Push(Event{Op: OpCreated, Path: path})
		count++
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info().Int("files", count).Str("root", root).Msg("Bootstrap scan complete")
	return nil
}
