// Package embedding provides text embedding via an external HTTP backend,
// with retries, caching, and a serialized request queue.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
	Close() error
}

// DirectEmbedder performs a single embedding call against a backend with no
// queueing. The queue is the only consumer; EmbedDirect must never be
// entered concurrently.
type DirectEmbedder interface {
	EmbedDirect(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
}
