package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semfs/semfs/pkg/semantic"
)

type fakeStore struct {
	upserts    []string
	removes    []string
	embeddings map[string][]float32
	keywords   map[string][]string
	upsertErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		embeddings: make(map[string][]float32),
		keywords:   make(map[string][]string),
	}
}

func (s *fakeStore) UpsertFile(ctx context.Context, path string) (string, error) {
	if s.upsertErr != nil {
		return "", s.upsertErr
	}
	s.upserts = append(s.upserts, path)
	return "id-" + filepath.Base(path), nil
}

func (s *fakeStore) RemoveFile(ctx context.Context, path string) error {
	s.removes = append(s.removes, path)
	return nil
}

func (s *fakeStore) StoreEmbedding(ctx context.Context, fileID string, vector []float32, keywords []string) error {
	s.embeddings[fileID] = vector
	s.keywords[fileID] = keywords
	return nil
}

type fakeExtractor struct {
	texts map[string]string
}

func (f *fakeExtractor) Extract(path string) (string, error) {
	text, ok := f.texts[path]
	if !ok {
		return "", errors.New("no extractor for file")
	}
	return text, nil
}

type fakeRebuilder struct {
	calls atomic.Int32
}

func (f *fakeRebuilder) Rebuild(ctx context.Context) error {
	f.calls.Add(1)
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func newTestProcessor(store *fakeStore, extractor *fakeExtractor, rebuilder *fakeRebuilder) *Processor {
	provider := semantic.NewStaticProvider(3)
	return NewProcessor(ProcessorConfig{
		Queue:        NewQueue(8),
		Store:        store,
		Extractor:    extractor,
		Provider:     provider,
		Rebuilder:    rebuilder,
		ReadyRetries: 2,
		ReadyDelay:   10 * time.Millisecond,
		Logger:       testLogger(),
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHandle_CreatedRegistersAndEmbeds(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "meeting notes about budget planning")

	store := newFakeStore()
	extractor := &fakeExtractor{texts: map[string]string{path: "meeting notes about budget planning"}}
	rebuilder := &fakeRebuilder{}
	p := newTestProcessor(store, extractor, rebuilder)

	p.Handle(context.Background(), Event{Op: OpCreated, Path: path})

	assert.Equal(t, []string{path}, store.upserts)
	assert.Contains(t, store.embeddings, "id-notes.txt")
	assert.NotEmpty(t, store.keywords["id-notes.txt"])
	assert.Equal(t, int32(1), rebuilder.calls.Load())
}

type fakeAssigner struct {
	calls int
}

func (f *fakeAssigner) AssignCluster(ctx context.Context, embedding []float32) (string, error) {
	f.calls++
	return "advisory-cluster", nil
}

func TestHandle_AdvisoryAssignmentRunsBeforeRebuild(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", "content")

	store := newFakeStore()
	rebuilder := &fakeRebuilder{}
	assigner := &fakeAssigner{}
	p := newTestProcessor(store, &fakeExtractor{texts: map[string]string{path: "content"}}, rebuilder)
	p.assigner = assigner

	p.Handle(context.Background(), Event{Op: OpCreated, Path: path})

	assert.Equal(t, 1, assigner.calls)
	assert.Equal(t, int32(1), rebuilder.calls.Load())
}

func TestHandle_RemovedDeletesAndRebuilds(t *testing.T) {
	store := newFakeStore()
	rebuilder := &fakeRebuilder{}
	p := newTestProcessor(store, &fakeExtractor{}, rebuilder)

	p.Handle(context.Background(), Event{Op: OpRemoved, Path: "/gone/notes.txt"})

	assert.Equal(t, []string{"/gone/notes.txt"}, store.removes)
	assert.Equal(t, int32(1), rebuilder.calls.Load())
}

func TestHandle_UnreadableFileDroppedSilently(t *testing.T) {
	store := newFakeStore()
	rebuilder := &fakeRebuilder{}
	p := newTestProcessor(store, &fakeExtractor{}, rebuilder)

	p.Handle(context.Background(), Event{Op: OpCreated, Path: filepath.Join(t.TempDir(), "never-written.txt")})

	assert.Empty(t, store.upserts)
	// A dropped event still settles the pass with a rebuild.
	assert.Equal(t, int32(1), rebuilder.calls.Load())
}

func TestHandle_ExtractionErrorSkipsRebuild(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.txt", "content")

	store := newFakeStore()
	rebuilder := &fakeRebuilder{}
	// Extractor has no entry for path, so extraction fails.
	p := newTestProcessor(store, &fakeExtractor{texts: map[string]string{}}, rebuilder)

	p.Handle(context.Background(), Event{Op: OpCreated, Path: path})

	assert.Empty(t, store.embeddings)
	assert.Equal(t, int32(0), rebuilder.calls.Load())
}

func TestHandle_EmptyContentRegisteredWithoutEmbedding(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.txt", "")

	store := newFakeStore()
	rebuilder := &fakeRebuilder{}
	p := newTestProcessor(store, &fakeExtractor{texts: map[string]string{path: ""}}, rebuilder)

	p.Handle(context.Background(), Event{Op: OpCreated, Path: path})

	assert.Equal(t, []string{path}, store.upserts)
	assert.Empty(t, store.embeddings)
	assert.Equal(t, int32(1), rebuilder.calls.Load())
}

func TestRun_DrainsQueueUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "alpha")

	store := newFakeStore()
	extractor := &fakeExtractor{texts: map[string]string{path: "alpha"}}
	rebuilder := &fakeRebuilder{}
	p := newTestProcessor(store, extractor, rebuilder)

	p.queue.Push(Event{Op: OpCreated, Path: path})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return rebuilder.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run never returned after cancel")
	}
	assert.Equal(t, []string{path}, store.upserts)
}
