package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/kioku/pkg/utils"
)

// MockEmbedder is a deterministic backend for tests and for running without
// an embedding service. The same text always gets the same unit-length
// vector, derived from the text hash.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a deterministic embedder of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEmbedder{dimensions: dimensions}
}

// EmbedDirect returns a deterministic embedding based on the text hash.
func (e *MockEmbedder) EmbedDirect(ctx context.Context, text string) ([]float32, error) {
	h := hashString(text)
	vec := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		vec[i] = float32(math.Sin(float64(h*uint64(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the mock model identifier.
func (e *MockEmbedder) Model() string {
	return "mock"
}

// hashString is FNV-1a over the text bytes.
func hashString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
