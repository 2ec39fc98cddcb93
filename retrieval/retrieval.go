// Package retrieval ranks stored facts against a natural-language
// query. Relevance comes from embedding similarity; recency from an
// exponential decay over fact age. The two are blended with
// configurable weights.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tesumi/memolette/embed"
	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/store"
)

// Config tunes the hybrid ranking.
type Config struct {
	// RelevanceWeight and RecencyWeight blend similarity against
	// age decay. They should sum to 1.
	RelevanceWeight float64 `json:"relevance_weight" yaml:"relevance_weight"`
	RecencyWeight   float64 `json:"recency_weight" yaml:"recency_weight"`

	// RecencyHalfLife is the age at which the recency component
	// drops to 0.5.
	RecencyHalfLife time.Duration `json:"recency_half_life" yaml:"recency_half_life"`

	// OverfetchFactor widens the vector search so that threshold
	// and subject filtering still leave MaxResults candidates.
	OverfetchFactor int `json:"overfetch_factor" yaml:"overfetch_factor"`
}

// DefaultConfig returns the standard 70/30 relevance/recency blend
// with a one-week half-life.
func DefaultConfig() Config {
	return Config{
		RelevanceWeight: 0.7,
		RecencyWeight:   0.3,
		RecencyHalfLife: 7 * 24 * time.Hour,
		OverfetchFactor: 4,
	}
}

// Options narrow a single search.
type Options struct {
	// SubjectFilter, when non-empty, keeps only facts about that
	// subject.
	SubjectFilter string

	// MaxResults caps the result count. Zero means 10.
	MaxResults int

	// SimilarityThreshold drops candidates whose raw similarity
	// falls below it. Results are never padded back up with
	// below-threshold facts.
	SimilarityThreshold float64
}

// Result is one ranked fact with its score breakdown.
type Result struct {
	Fact       fact.Fact `json:"fact"`
	Similarity float64   `json:"similarity"`
	Recency    float64   `json:"recency"`
	Score      float64   `json:"score"`
}

// Engine runs hybrid searches. It holds no per-query state and is
// safe for concurrent use.
type Engine struct {
	store    store.Store
	embedder embed.Embedder
	cfg      Config
	now      func() time.Time
}

// New builds an engine over a store and embedder. Zero-valued config
// fields are replaced with defaults.
func New(s store.Store, e embed.Embedder, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.RelevanceWeight == 0 && cfg.RecencyWeight == 0 {
		cfg.RelevanceWeight = def.RelevanceWeight
		cfg.RecencyWeight = def.RecencyWeight
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = def.RecencyHalfLife
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = def.OverfetchFactor
	}
	return &Engine{store: s, embedder: e, cfg: cfg, now: time.Now}
}

// Search embeds the query and returns up to opts.MaxResults facts
// ranked by blended score. Ties break by created_at (newer first),
// then insertion order.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	topK := opts.MaxResults * e.cfg.OverfetchFactor
	matches, err := e.store.VectorSearch(ctx, queryVec, topK, false)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	now := e.now()
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < opts.SimilarityThreshold {
			continue
		}
		if opts.SubjectFilter != "" && m.Fact.Subject != opts.SubjectFilter {
			continue
		}
		recency := e.recencyScore(now, m.Fact.CreatedAt)
		results = append(results, Result{
			Fact:       m.Fact,
			Similarity: m.Similarity,
			Recency:    recency,
			Score:      e.cfg.RelevanceWeight*m.Similarity + e.cfg.RecencyWeight*recency,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Fact.CreatedAt.Equal(b.Fact.CreatedAt) {
			return a.Fact.CreatedAt.After(b.Fact.CreatedAt)
		}
		return a.Fact.Seq < b.Fact.Seq
	})

	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results, nil
}

// recencyScore maps fact age to (0, 1]: 1 at age zero, 0.5 at the
// configured half-life.
func (e *Engine) recencyScore(now, createdAt time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Seconds() / e.cfg.RecencyHalfLife.Seconds())
}
