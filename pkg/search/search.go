// Package search answers free-text queries against the registry's
// vector index: embed the query, then rank registered files by cosine
// similarity.
package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/tracing"
	"github.com/semfs/semfs/pkg/registry"
	"github.com/semfs/semfs/pkg/semantic"
)

// DefaultLimit is used when the caller asks for zero or fewer results.
const DefaultLimit = 10

// Index is the vector-query surface of the registry.
type Index interface {
	NearestFiles(ctx context.Context, vector []float32, limit int) ([]registry.SearchResult, error)
}

// Searcher embeds queries and ranks files against them.
type Searcher struct {
	provider semantic.EmbeddingProvider
	index    Index
	logger   zerolog.Logger
}

// New builds a Searcher.
func New(provider semantic.EmbeddingProvider, index Index, logger zerolog.Logger) *Searcher {
	return &Searcher{provider: provider, index: index, logger: logger}
}

// Search returns up to limit files ranked by similarity to query.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]registry.SearchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "semfs.search", "search.query")
	defer span.End()

	if limit <= 0 {
		limit = DefaultLimit
	}

	vector, err := s.provider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.index.NearestFiles(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	log := tracing.LoggerFromContext(ctx, s.logger)
	log.Debug().
		Str("query", query).
		Int("hits", len(results)).
		Msg("Search complete")
	return results, nil
}
