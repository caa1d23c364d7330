// Package mock provides a deterministic embedder for tests: fixed
// vectors for registered texts, hash-derived unit vectors otherwise.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

type Embedder struct {
	dimensions int
	fixed      map[string][]float32
}

func New(dimensions int) *Embedder {
	return &Embedder{
		dimensions: dimensions,
		fixed:      make(map[string][]float32),
	}
}

// Register pins a text to a specific vector so tests can control
// similarity outcomes precisely. Short vectors are zero-padded.
func (m *Embedder) Register(text string, vector []float32) {
	padded := make([]float32, m.dimensions)
	copy(padded, vector)
	m.fixed[text] = normalize(padded)
}

func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := m.fixed[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
