// Package embed converts text to fixed-length dense vectors for
// semantic comparison.
//
// The core is agnostic to the backend: anything that maps UTF-8 text
// to equal-length vectors comparable by cosine similarity works.
// Backends:
//   - openai: API-based (text-embedding-3-small and friends)
//   - onnx:   local all-MiniLM-L6-v2, behind the "onnx" build tag
//   - mock:   deterministic hash-based vectors for tests
//
// Decorators Cached and WithBreaker wrap any Embedder with an
// in-process cache and a circuit breaker respectively.
package embed

import "context"

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
