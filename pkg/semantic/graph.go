package semantic

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/tracing"
)

// EmbeddedFile is a registered file together with its stored embedding
type EmbeddedFile struct {
	FileID string
	Path   string
	Vector []float32
}

// Neighbor is one edge endpoint in the similarity graph
type Neighbor struct {
	FileID     string
	Similarity float64
}

// Adjacency maps every embedded file to its neighbors at or above the edge
// threshold. Edges appear in both directions with the same similarity.
type Adjacency map[string][]Neighbor

// EmbeddingSource provides the embedded file set, typically the registry.
type EmbeddingSource interface {
	AllEmbeddings(ctx context.Context) ([]EmbeddedFile, error)
}

// GraphBuilder computes the pairwise similarity graph over all embedded files
type GraphBuilder struct {
	source EmbeddingSource
	logger zerolog.Logger
}

// NewGraphBuilder creates a graph builder backed by the given source
func NewGraphBuilder(source EmbeddingSource, logger zerolog.Logger) *GraphBuilder {
	return &GraphBuilder{
		source: source,
		logger: logger.With().Str("component", "graph").Logger(),
	}
}

// Build pulls every embedded file and computes cosine similarity for each
// unordered pair once. Files without an embedding never reach this point;
// the source only returns embedded files. Quadratic in file count.
func (b *GraphBuilder) Build(ctx context.Context, threshold float64) (Adjacency, error) {
	ctx, span := tracing.StartSpan(ctx, "semfs.semantic", "graph.build")
	defer span.End()

	files, err := b.source.AllEmbeddings(ctx)
	if err != nil {
		return nil, err
	}

	adjacency := make(Adjacency, len(files))
	edges := 0

	for i := range files {
		fi := files[i]
		if _, ok := adjacency[fi.FileID]; !ok {
			adjacency[fi.FileID] = nil
		}

		for j := i + 1; j < len(files); j++ {
			fj := files[j]

			sim := CosineSimilarity(fi.Vector, fj.Vector)
			if sim >= threshold {
				adjacency[fi.FileID] = append(adjacency[fi.FileID], Neighbor{FileID: fj.FileID, Similarity: sim})
				adjacency[fj.FileID] = append(adjacency[fj.FileID], Neighbor{FileID: fi.FileID, Similarity: sim})
				edges++
			}
		}
	}

	log := tracing.LoggerFromContext(ctx, b.logger)
	log.Debug().
		Int("files", len(files)).
		Int("edges", edges).
		Float64("threshold", threshold).
		Msg("Similarity graph built")

	return adjacency, nil
}

// ToMatrix converts the adjacency into a square similarity matrix over a
// deterministic (sorted) file id ordering. Missing pairs default to 0.
func (a Adjacency) ToMatrix() ([][]float64, []string) {
	ids := make([]string, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	matrix := make([][]float64, len(ids))
	for i := range matrix {
		matrix[i] = make([]float64, len(ids))
		matrix[i][i] = 1.0
	}

	for id, neighbors := range a {
		i := index[id]
		for _, n := range neighbors {
			j, ok := index[n.FileID]
			if !ok {
				continue
			}
			matrix[i][j] = n.Similarity
		}
	}

	return matrix, ids
}
