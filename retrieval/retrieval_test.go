package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/retrieval"
	"github.com/tesumi/memolette/store/memstore"
)

// routedEmbedder maps known texts to fixed vectors so similarity is
// fully controlled by the test.
type routedEmbedder struct {
	vectors map[string][]float32
}

func (r *routedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := r.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (r *routedEmbedder) Dimensions() int { return 3 }

func newFixture(t *testing.T) (*memstore.MemStore, *routedEmbedder) {
	t.Helper()
	attrs := fact.NewAttributes(fact.AttributesConfig{AllowUndeclared: true})
	return memstore.New(attrs), &routedEmbedder{vectors: map[string][]float32{}}
}

func addFact(t *testing.T, s *memstore.MemStore, subject, attribute, value string, emb []float32) fact.Fact {
	t.Helper()
	f := fact.New(subject, attribute, value)
	f.Embedding = emb
	_, err := s.Store(context.Background(), f)
	require.NoError(t, err)
	return *f
}

func TestSearchRanksByHybridScore(t *testing.T) {
	s, emb := newFixture(t)
	defer s.Close()
	emb.vectors["query"] = []float32{1, 0, 0}

	addFact(t, s, "alice", "hobby", "close", []float32{1, 0, 0})
	addFact(t, s, "alice", "hobby", "near", []float32{0.8, 0.6, 0})
	addFact(t, s, "alice", "hobby", "far", []float32{0, 1, 0})

	e := retrieval.New(s, emb, retrieval.DefaultConfig())
	results, err := e.Search(context.Background(), "query", retrieval.Options{MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "close", results[0].Fact.Value)
	assert.Equal(t, "near", results[1].Fact.Value)
	assert.Equal(t, "far", results[2].Fact.Value)
	for _, r := range results {
		assert.InDelta(t, 0.7*r.Similarity+0.3*r.Recency, r.Score, 1e-9)
	}
}

// Raising the threshold only ever removes results; it never changes
// the relative order of what survives.
func TestThresholdMonotonicity(t *testing.T) {
	s, emb := newFixture(t)
	defer s.Close()
	emb.vectors["query"] = []float32{1, 0, 0}

	addFact(t, s, "alice", "hobby", "close", []float32{1, 0, 0})
	addFact(t, s, "alice", "hobby", "near", []float32{0.8, 0.6, 0})
	addFact(t, s, "alice", "hobby", "far", []float32{0, 1, 0})

	e := retrieval.New(s, emb, retrieval.DefaultConfig())
	ctx := context.Background()

	var prev []retrieval.Result
	for _, threshold := range []float64{0, 0.5, 0.9, 0.99} {
		results, err := e.Search(ctx, "query", retrieval.Options{
			MaxResults:          10,
			SimilarityThreshold: threshold,
		})
		require.NoError(t, err)
		if prev != nil {
			assert.LessOrEqual(t, len(results), len(prev))
			// Survivors keep their relative order.
			for i, r := range results {
				assert.Equal(t, prev[i].Fact.ID, r.Fact.ID)
			}
		}
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Similarity, threshold)
		}
		prev = results
	}
}

// MaxResults never pulls below-threshold facts back in.
func TestNoPaddingBelowThreshold(t *testing.T) {
	s, emb := newFixture(t)
	defer s.Close()
	emb.vectors["query"] = []float32{1, 0, 0}

	addFact(t, s, "alice", "hobby", "close", []float32{1, 0, 0})
	addFact(t, s, "alice", "hobby", "far", []float32{0, 1, 0})

	e := retrieval.New(s, emb, retrieval.DefaultConfig())
	results, err := e.Search(context.Background(), "query", retrieval.Options{
		MaxResults:          10,
		SimilarityThreshold: 0.9,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].Fact.Value)
}

func TestSubjectFilter(t *testing.T) {
	s, emb := newFixture(t)
	defer s.Close()
	emb.vectors["query"] = []float32{1, 0, 0}

	addFact(t, s, "alice", "hobby", "chess", []float32{1, 0, 0})
	addFact(t, s, "bob", "hobby", "chess", []float32{1, 0, 0})

	e := retrieval.New(s, emb, retrieval.DefaultConfig())
	results, err := e.Search(context.Background(), "query", retrieval.Options{
		MaxResults:    10,
		SubjectFilter: "bob",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bob", results[0].Fact.Subject)
}

// With equal similarity, the newer fact wins through the recency
// component; exact ties fall back to insertion order.
func TestRecencyBreaksTies(t *testing.T) {
	s, emb := newFixture(t)
	defer s.Close()
	emb.vectors["query"] = []float32{1, 0, 0}

	older := addFact(t, s, "alice", "hobby", "chess", []float32{1, 0, 0})
	time.Sleep(2 * time.Millisecond)
	newer := addFact(t, s, "bob", "hobby", "chess", []float32{1, 0, 0})

	e := retrieval.New(s, emb, retrieval.DefaultConfig())
	results, err := e.Search(context.Background(), "query", retrieval.Options{MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer.ID, results[0].Fact.ID)
	assert.Equal(t, older.ID, results[1].Fact.ID)
}

func TestMaxResultsCap(t *testing.T) {
	s, emb := newFixture(t)
	defer s.Close()
	emb.vectors["query"] = []float32{1, 0, 0}

	for i := 0; i < 5; i++ {
		addFact(t, s, "alice", "hobby", "chess", []float32{1, 0, 0})
	}

	e := retrieval.New(s, emb, retrieval.DefaultConfig())
	results, err := e.Search(context.Background(), "query", retrieval.Options{MaxResults: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEmbedFailureSurfaces(t *testing.T) {
	s, _ := newFixture(t)
	defer s.Close()

	e := retrieval.New(s, failingEmbedder{}, retrieval.DefaultConfig())
	_, err := e.Search(context.Background(), "query", retrieval.Options{})
	assert.ErrorIs(t, err, fact.ErrEmbeddingUnavailable)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fact.ErrEmbeddingUnavailable
}

func (failingEmbedder) Dimensions() int { return 3 }
