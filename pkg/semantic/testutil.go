package semantic

import (
	"context"
	"strings"
)

// StaticProvider is an EmbeddingProvider for tests: it returns fixed vectors
// keyed by substring match on the input text, or a deterministic hash-derived
// vector when no key matches.
type StaticProvider struct {
	Dim     int
	Vectors map[string][]float32
}

// NewStaticProvider creates a provider with the given dimension
func NewStaticProvider(dim int) *StaticProvider {
	return &StaticProvider{
		Dim:     dim,
		Vectors: make(map[string][]float32),
	}
}

// Set registers a fixed vector for texts containing key
func (p *StaticProvider) Set(key string, vector []float32) {
	p.Vectors[key] = vector
}

// Dimension returns the configured embedding length
func (p *StaticProvider) Dimension() int {
	return p.Dim
}

// GenerateEmbedding returns the registered vector whose key the text contains,
// or a deterministic vector derived from the text bytes.
func (p *StaticProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoSignal
	}

	for key, v := range p.Vectors {
		if strings.Contains(text, key) {
			return v, nil
		}
	}

	hash := 0
	for _, c := range text {
		hash = hash*31 + int(c)
	}

	v := make([]float32, p.Dim)
	for i := range v {
		v[i] = float32((hash+i)%100) / 100.0
	}
	return v, nil
}
