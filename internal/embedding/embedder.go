// Package embedding maps text to fixed-dimension vectors for similarity
// search. Any consistent embedding provider satisfies the contract.
package embedding

import "context"

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch generates embeddings for multiple texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
