// Package openai implements the embed.Embedder interface on top of
// the OpenAI embeddings API.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/tesumi/memolette/fact"
)

// Embedder wraps the OpenAI client for embedding generation.
type Embedder struct {
	client openai.Client
	model  string
}

// New creates an OpenAI embedder. model defaults to
// text-embedding-3-small when empty; baseURL is optional and exists
// for API-compatible proxies.
func New(apiKey, baseURL, model string) *Embedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &Embedder{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Embed returns the embedding vector for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fact.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", fact.ErrEmbeddingUnavailable)
	}

	// The API returns float64; store float32 for more compact blobs.
	embedding := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Dimensions returns the embedding dimension for the configured model,
// based on the known OpenAI embedding models.
func (e *Embedder) Dimensions() int {
	switch e.model {
	case string(openai.EmbeddingModelTextEmbedding3Large):
		return 3072
	case string(openai.EmbeddingModelTextEmbeddingAda002):
		return 1536
	default:
		// text-embedding-3-small
		return 1536
	}
}
