package orchestrator

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semfs/semfs/pkg/cluster"
	"github.com/semfs/semfs/pkg/registry"
	"github.com/semfs/semfs/pkg/semantic"
)

type fakeStore struct {
	files       []semantic.EmbeddedFile
	paths       map[string]string
	replaced    [][]registry.Cluster
	memberships []map[string]registry.Membership
	replaceErr  error
}

func (s *fakeStore) AllEmbeddings(ctx context.Context) ([]semantic.EmbeddedFile, error) {
	return s.files, nil
}

func (s *fakeStore) ReplaceClustering(ctx context.Context, clusters []registry.Cluster, memberships map[string]registry.Membership) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.replaced = append(s.replaced, clusters)
	s.memberships = append(s.memberships, memberships)
	return nil
}

func (s *fakeStore) PathForID(ctx context.Context, fileID string) (string, bool, error) {
	path, ok := s.paths[fileID]
	return path, ok, nil
}

type fakeGrapher struct {
	adjacency semantic.Adjacency
	err       error
}

func (g *fakeGrapher) Build(ctx context.Context, threshold float64) (semantic.Adjacency, error) {
	return g.adjacency, g.err
}

type fakeClusterer struct {
	partition *cluster.Partition
}

func (c *fakeClusterer) ClusterFiles(ctx context.Context, adjacency semantic.Adjacency, files []semantic.EmbeddedFile, distanceThreshold float64) (*cluster.Partition, error) {
	return c.partition, nil
}

type fakeSyncer struct {
	moves []int // moved counts returned per call, in order
	calls int
	seen  []map[string][]string
}

func (f *fakeSyncer) SyncLayout(ctx context.Context, layout map[string][]string) (int, error) {
	f.seen = append(f.seen, layout)
	moved := 0
	if f.calls < len(f.moves) {
		moved = f.moves[f.calls]
	}
	f.calls++
	return moved, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func newOrchestrator(store *fakeStore, syncer *fakeSyncer, partition *cluster.Partition, breakerLimit int) *Orchestrator {
	return New(Config{
		Grapher:           &fakeGrapher{adjacency: semantic.Adjacency{}},
		Engine:            &fakeClusterer{partition: partition},
		Store:             store,
		Layout:            syncer,
		EdgeThreshold:     0.6,
		DistanceThreshold: 0.5,
		BreakerLimit:      breakerLimit,
		Logger:            testLogger(),
	})
}

func singleGroupPartition() *cluster.Partition {
	return &cluster.Partition{
		Assignments: map[string]string{"f1": "c1", "f2": "c1"},
		Groups: []cluster.Group{
			{ID: "c1", Label: "Cluster 1", Members: []string{"f1", "f2"}, Centroid: []float32{1, 0}},
		},
	}
}

func TestRebuild_ConfidenceClampedToZero(t *testing.T) {
	store := &fakeStore{
		files: []semantic.EmbeddedFile{
			{FileID: "f1", Vector: []float32{1, 0}},
			{FileID: "f2", Vector: []float32{-1, 0}},
		},
		paths: map[string]string{"f1": "/root/a.txt", "f2": "/root/b.txt"},
	}
	syncer := &fakeSyncer{}
	orch := newOrchestrator(store, syncer, singleGroupPartition(), 5)

	require.NoError(t, orch.Rebuild(context.Background()))
	require.Len(t, store.memberships, 1)

	assert.InDelta(t, 1.0, store.memberships[0]["f1"].Confidence, 1e-6)
	assert.Equal(t, 0.0, store.memberships[0]["f2"].Confidence)
}

func TestRebuild_PersistsAndSyncs(t *testing.T) {
	store := &fakeStore{
		files: []semantic.EmbeddedFile{
			{FileID: "f1", Vector: []float32{1, 0}},
			{FileID: "f2", Vector: []float32{0.9, 0.1}},
		},
		paths: map[string]string{"f1": "/root/a.txt", "f2": "/root/b.txt"},
	}
	syncer := &fakeSyncer{}
	orch := newOrchestrator(store, syncer, singleGroupPartition(), 5)

	require.NoError(t, orch.Rebuild(context.Background()))

	require.Len(t, store.replaced, 1)
	assert.Equal(t, "c1", store.replaced[0][0].ID)

	require.Len(t, syncer.seen, 1)
	assert.ElementsMatch(t, []string{"/root/a.txt", "/root/b.txt"}, syncer.seen[0]["c1"])
}

func TestRebuild_SkipsFilesWithoutPaths(t *testing.T) {
	store := &fakeStore{
		files: []semantic.EmbeddedFile{{FileID: "f1", Vector: []float32{1, 0}}},
		paths: map[string]string{}, // f1 has no live path
	}
	syncer := &fakeSyncer{}
	partition := &cluster.Partition{
		Assignments: map[string]string{"f1": "c1"},
		Groups:      []cluster.Group{{ID: "c1", Label: "Cluster 1", Members: []string{"f1"}, Centroid: []float32{1, 0}}},
	}
	orch := newOrchestrator(store, syncer, partition, 5)

	require.NoError(t, orch.Rebuild(context.Background()))
	require.Len(t, syncer.seen, 1)
	assert.Empty(t, syncer.seen[0]["c1"])
}

func TestRebuild_BreakerTripsAfterConsecutiveMoves(t *testing.T) {
	store := &fakeStore{
		files: []semantic.EmbeddedFile{{FileID: "f1", Vector: []float32{1, 0}}},
		paths: map[string]string{"f1": "/root/a.txt"},
	}
	syncer := &fakeSyncer{moves: []int{1, 1, 1}}
	orch := newOrchestrator(store, syncer, singleGroupPartition(), 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, orch.Rebuild(context.Background()))
	}
	assert.True(t, orch.Tripped())

	// Further passes still persist clusters but never touch the layout.
	require.NoError(t, orch.Rebuild(context.Background()))
	assert.Equal(t, 3, syncer.calls)
	assert.Len(t, store.replaced, 4)
}

func TestRebuild_QuietPassResetsBreakerCounter(t *testing.T) {
	store := &fakeStore{
		files: []semantic.EmbeddedFile{{FileID: "f1", Vector: []float32{1, 0}}},
		paths: map[string]string{"f1": "/root/a.txt"},
	}
	// Two noisy passes, one quiet, then two more noisy: never trips at limit 3.
	syncer := &fakeSyncer{moves: []int{1, 1, 0, 1, 1}}
	orch := newOrchestrator(store, syncer, singleGroupPartition(), 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, orch.Rebuild(context.Background()))
	}
	assert.False(t, orch.Tripped())
}

func TestReset_ReArmsBreaker(t *testing.T) {
	store := &fakeStore{
		files: []semantic.EmbeddedFile{{FileID: "f1", Vector: []float32{1, 0}}},
		paths: map[string]string{"f1": "/root/a.txt"},
	}
	syncer := &fakeSyncer{moves: []int{1, 0}}
	orch := newOrchestrator(store, syncer, singleGroupPartition(), 1)

	require.NoError(t, orch.Rebuild(context.Background()))
	require.True(t, orch.Tripped())

	orch.Reset()
	assert.False(t, orch.Tripped())

	require.NoError(t, orch.Rebuild(context.Background()))
	assert.Equal(t, 2, syncer.calls)
}

func TestRebuild_GraphErrorPropagates(t *testing.T) {
	store := &fakeStore{}
	orch := New(Config{
		Grapher:      &fakeGrapher{err: errors.New("graph failed")},
		Engine:       &fakeClusterer{},
		Store:        store,
		Layout:       &fakeSyncer{},
		BreakerLimit: 5,
		Logger:       testLogger(),
	})

	err := orch.Rebuild(context.Background())
	require.Error(t, err)
	assert.Empty(t, store.replaced)
}

func TestRebuild_ReplaceErrorSkipsSync(t *testing.T) {
	store := &fakeStore{
		files:      []semantic.EmbeddedFile{{FileID: "f1", Vector: []float32{1, 0}}},
		replaceErr: errors.New("db locked"),
	}
	syncer := &fakeSyncer{}
	orch := newOrchestrator(store, syncer, singleGroupPartition(), 5)

	require.Error(t, orch.Rebuild(context.Background()))
	assert.Equal(t, 0, syncer.calls)
}
