package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()

	dir := t.TempDir()
	r, err := New(Config{
		DBPath:    filepath.Join(dir, "test.db"),
		Logger:    zerolog.New(os.Stdout).Level(zerolog.Disabled),
		Dimension: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	return r, dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestUpsertFile_Idempotent(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	path := writeFile(t, dir, "notes.txt", "hello world")

	id1, err := r.UpsertFile(ctx, path)
	require.NoError(t, err)
	id2, err := r.UpsertFile(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	rec, err := r.FileByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, ".txt", rec.Ext)
	assert.Equal(t, "notes.txt", rec.Name)
	assert.NotEmpty(t, rec.Digest)
}

func TestUpsertFile_ContentChangeRetiresOldIdentity(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	path := writeFile(t, dir, "notes.txt", "version one")
	id1, err := r.UpsertFile(ctx, path)
	require.NoError(t, err)
	require.NoError(t, r.StoreEmbedding(ctx, id1, []float32{1, 0, 0}, nil))

	require.NoError(t, os.WriteFile(path, []byte("version two"), 0644))
	id2, err := r.UpsertFile(ctx, path)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)

	// The retired identity's semantic data is gone.
	_, err = r.SemanticFor(ctx, id1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, found, err := r.PathForID(ctx, id1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpsertFile_RenameKeepsIdentity(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	oldPath := writeFile(t, dir, "draft.txt", "stable content")
	id, err := r.UpsertFile(ctx, oldPath)
	require.NoError(t, err)

	newPath := filepath.Join(dir, "final.txt")
	require.NoError(t, os.Rename(oldPath, newPath))

	id2, err := r.UpsertFile(ctx, newPath)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	got, found, err := r.PathForID(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, CanonicalPath(newPath), got)
}

func TestUpsertFile_DuplicateContentGetsOwnIdentity(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	a := writeFile(t, dir, "a.txt", "same bytes")
	b := writeFile(t, dir, "b.txt", "same bytes")

	idA, err := r.UpsertFile(ctx, a)
	require.NoError(t, err)
	idB, err := r.UpsertFile(ctx, b)
	require.NoError(t, err)

	assert.NotEqual(t, idA, idB)

	stats, err := r.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
}

func TestUpsertFile_UnreadableGetsPathIdentity(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	missing := filepath.Join(dir, "ghost.txt")
	id, err := r.UpsertFile(ctx, missing)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, err := r.FileByPath(ctx, missing)
	require.NoError(t, err)
	assert.Empty(t, rec.Digest)
}

func TestRemoveFile_Cascades(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	path := writeFile(t, dir, "doomed.txt", "short lived")
	id, err := r.UpsertFile(ctx, path)
	require.NoError(t, err)
	require.NoError(t, r.StoreEmbedding(ctx, id, []float32{1, 0, 0}, []string{"short"}))
	require.NoError(t, r.StoreCluster(ctx, "c1", "Cluster 1", nil))
	require.NoError(t, r.SetMembership(ctx, id, "c1", 1.0))

	require.NoError(t, r.RemoveFile(ctx, path))

	_, err = r.FileByPath(ctx, path)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.SemanticFor(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, found, err := r.ClusterForFile(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	embedded, err := r.AllEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, embedded)
}

func TestRemoveFile_UnknownPathIsNoop(t *testing.T) {
	r, dir := createTestRegistry(t)
	assert.NoError(t, r.RemoveFile(context.Background(), filepath.Join(dir, "never-existed.txt")))
}

func TestStoreEmbedding_RequiresFile(t *testing.T) {
	r, _ := createTestRegistry(t)
	err := r.StoreEmbedding(context.Background(), "no-such-id", []float32{1, 0, 0}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAllEmbeddings_ExcludesUnembedded(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	embeddedPath := writeFile(t, dir, "embedded.txt", "has a vector")
	plainPath := writeFile(t, dir, "plain.txt", "no vector yet")

	id, err := r.UpsertFile(ctx, embeddedPath)
	require.NoError(t, err)
	_, err = r.UpsertFile(ctx, plainPath)
	require.NoError(t, err)

	require.NoError(t, r.StoreEmbedding(ctx, id, []float32{0.1, 0.2, 0.3}, nil))

	files, err := r.AllEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, id, files[0].FileID)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, files[0].Vector)
}

func TestReplaceClustering_AtomicSwapAndReap(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a.txt", "b.txt"} {
		path := writeFile(t, dir, name, "content "+name)
		id, err := r.UpsertFile(ctx, path)
		require.NoError(t, err)
		require.NoError(t, r.StoreEmbedding(ctx, id, []float32{1, 0, 0}, nil))
		ids = append(ids, id)
	}

	// First pass: both files in one cluster.
	first := []Cluster{{ID: "cluster-old", Label: "Old"}}
	require.NoError(t, r.ReplaceClustering(ctx, first, map[string]Membership{
		ids[0]: {ClusterID: "cluster-old", Confidence: 1},
		ids[1]: {ClusterID: "cluster-old", Confidence: 1},
	}))

	// Second pass: a fresh partition; the old cluster must be reaped.
	second := []Cluster{{ID: "cluster-a", Label: "A"}, {ID: "cluster-b", Label: "B"}}
	require.NoError(t, r.ReplaceClustering(ctx, second, map[string]Membership{
		ids[0]: {ClusterID: "cluster-a", Confidence: 1},
		ids[1]: {ClusterID: "cluster-b", Confidence: 1},
	}))

	stats, err := r.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Clusters)

	paths, err := r.PathsInCluster(ctx, "cluster-old")
	require.NoError(t, err)
	assert.Empty(t, paths)

	cluster, found, err := r.ClusterForFile(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "cluster-a", cluster)
}

func TestNearestFiles_RanksBySimilarity(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	close := writeFile(t, dir, "close.txt", "near the query")
	far := writeFile(t, dir, "far.txt", "unrelated")

	closeID, err := r.UpsertFile(ctx, close)
	require.NoError(t, err)
	farID, err := r.UpsertFile(ctx, far)
	require.NoError(t, err)

	require.NoError(t, r.StoreEmbedding(ctx, closeID, []float32{1, 0, 0}, nil))
	require.NoError(t, r.StoreEmbedding(ctx, farID, []float32{0, 1, 0}, nil))

	results, err := r.NearestFiles(ctx, []float32{0.9, 0.1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, closeID, results[0].FileID)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestSemanticFor_Keywords(t *testing.T) {
	r, dir := createTestRegistry(t)
	ctx := context.Background()

	path := writeFile(t, dir, "kw.txt", "keyword bearing text")
	id, err := r.UpsertFile(ctx, path)
	require.NoError(t, err)
	require.NoError(t, r.StoreEmbedding(ctx, id, []float32{1, 1, 0}, []string{"keyword", "bearing"}))

	rec, err := r.SemanticFor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"keyword", "bearing"}, rec.Keywords)
	assert.Equal(t, []float32{1, 1, 0}, rec.Embedding)
}
