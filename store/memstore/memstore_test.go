package memstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/store"
	"github.com/tesumi/memolette/store/memstore"
)

func testAttrs() *fact.Attributes {
	return fact.NewAttributes(fact.AttributesConfig{
		Exclusive:       []string{"location", "employer"},
		AllowUndeclared: true,
	})
}

func storedFact(t *testing.T, s store.Store, subject, attribute, value string, emb []float32) fact.Fact {
	t.Helper()
	f := fact.New(subject, attribute, value)
	f.Embedding = emb
	_, err := s.Store(context.Background(), f)
	require.NoError(t, err)
	return *f
}

func TestStoreAssignsIdentity(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()

	f := fact.New("alice", "location", "Lisbon")
	f.Embedding = []float32{1, 0, 0}
	id, err := s.Store(context.Background(), f)

	require.NoError(t, err)
	assert.Equal(t, id, f.ID)
	assert.NotZero(t, f.Seq)
	assert.False(t, f.CreatedAt.IsZero())
	assert.True(t, f.Current)
}

func TestExclusiveAttributeSupersedes(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()
	ctx := context.Background()

	old := storedFact(t, s, "alice", "location", "Lisbon", []float32{1, 0, 0})
	newer := storedFact(t, s, "alice", "location", "Porto", []float32{0, 1, 0})

	profile, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, profile, 1)
	assert.Equal(t, "Porto", profile[0].Value)

	// The superseded fact is retained, not deleted.
	got, err := s.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, got.Current)

	got, err = s.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.True(t, got.Current)
}

func TestExclusivityScopedToSubjectAndAttribute(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()
	ctx := context.Background()

	storedFact(t, s, "alice", "location", "Lisbon", []float32{1, 0, 0})
	storedFact(t, s, "bob", "location", "Lisbon", []float32{1, 0, 0})
	storedFact(t, s, "alice", "employer", "Acme", []float32{0, 1, 0})

	profile, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, profile, 2)

	profile, err = s.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, profile, 1)
}

func TestNonExclusiveAttributeAccumulates(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()

	storedFact(t, s, "alice", "hobby", "chess", []float32{1, 0, 0})
	storedFact(t, s, "alice", "hobby", "climbing", []float32{0, 1, 0})

	profile, err := s.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, profile, 2)
	for _, f := range profile {
		assert.True(t, f.Current)
	}
}

// With many writers racing on the same exclusive pair, exactly one
// fact must come out current.
func TestExclusiveConcurrentWriters(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := fact.New("alice", "location", fmt.Sprintf("city-%d", i))
			f.Embedding = []float32{1, 0, 0}
			_, err := s.Store(ctx, f)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	profile, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, profile, 1)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers, stats.TotalFacts)
	assert.Equal(t, 1, stats.CurrentFacts)
}

func TestGetByIDNotFound(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()

	_, err := s.GetByID(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, fact.ErrNotFound)
}

func TestGetProfileEmpty(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()

	profile, err := s.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, profile)
}

func TestProfileNewestFirst(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()

	storedFact(t, s, "alice", "hobby", "chess", []float32{1, 0, 0})
	storedFact(t, s, "alice", "hobby", "climbing", []float32{0, 1, 0})
	storedFact(t, s, "alice", "hobby", "painting", []float32{0, 0, 1})

	profile, err := s.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, profile, 3)
	assert.Equal(t, "painting", profile[0].Value)
	assert.Equal(t, "chess", profile[2].Value)
	for i := 1; i < len(profile); i++ {
		assert.False(t, profile[i].CreatedAt.After(profile[i-1].CreatedAt))
	}
}

func TestVectorSearchRanksBySimilarity(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()

	storedFact(t, s, "alice", "hobby", "chess", []float32{1, 0, 0})
	storedFact(t, s, "alice", "hobby", "climbing", []float32{0.9, 0.1, 0})
	storedFact(t, s, "alice", "hobby", "painting", []float32{0, 0, 1})

	matches, err := s.VectorSearch(context.Background(), []float32{1, 0, 0}, 10, false)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "chess", matches[0].Fact.Value)
	assert.Equal(t, "climbing", matches[1].Fact.Value)
	assert.Equal(t, "painting", matches[2].Fact.Value)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
}

func TestVectorSearchExcludesSuperseded(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()
	ctx := context.Background()

	storedFact(t, s, "alice", "location", "Lisbon", []float32{1, 0, 0})
	storedFact(t, s, "alice", "location", "Porto", []float32{1, 0, 0})

	matches, err := s.VectorSearch(ctx, []float32{1, 0, 0}, 10, false)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Porto", matches[0].Fact.Value)

	all, err := s.VectorSearch(ctx, []float32{1, 0, 0}, 10, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// Equal similarity and equal timestamps fall back to insertion order.
func TestVectorSearchDeterministicTieBreak(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()

	first := storedFact(t, s, "alice", "hobby", "chess", []float32{1, 0, 0})
	second := storedFact(t, s, "bob", "hobby", "chess", []float32{1, 0, 0})

	for i := 0; i < 5; i++ {
		matches, err := s.VectorSearch(context.Background(), []float32{1, 0, 0}, 10, false)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		if matches[0].Fact.CreatedAt.Equal(matches[1].Fact.CreatedAt) {
			assert.Equal(t, first.ID, matches[0].Fact.ID)
			assert.Equal(t, second.ID, matches[1].Fact.ID)
		} else {
			assert.True(t, matches[0].Fact.CreatedAt.After(matches[1].Fact.CreatedAt))
		}
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()

	f := fact.New("", "location", "Lisbon")
	_, err := s.Store(context.Background(), f)
	assert.ErrorIs(t, err, fact.ErrInvalidFact)
}

func TestStoreRejectsUndeclaredAttribute(t *testing.T) {
	attrs := fact.NewAttributes(fact.AttributesConfig{
		Exclusive: []string{"location"},
	})
	s := memstore.New(attrs)
	defer s.Close()

	f := fact.New("alice", "shoe_size", "42")
	_, err := s.Store(context.Background(), f)
	assert.ErrorIs(t, err, fact.ErrInvalidFact)
}

func TestPurgeSuperseded(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()
	ctx := context.Background()

	storedFact(t, s, "alice", "location", "Lisbon", []float32{1, 0, 0})
	kept := storedFact(t, s, "alice", "location", "Porto", []float32{0, 1, 0})

	n, err := s.PurgeSuperseded(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFacts)

	got, err := s.GetByID(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, "Porto", got.Value)
}

func TestStats(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()

	storedFact(t, s, "alice", "location", "Lisbon", []float32{1, 0, 0})
	storedFact(t, s, "alice", "location", "Porto", []float32{0, 1, 0})
	storedFact(t, s, "bob", "hobby", "chess", []float32{0, 0, 1})

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFacts)
	assert.Equal(t, 2, stats.CurrentFacts)
	assert.Equal(t, 2, stats.Subjects)
	assert.Equal(t, 1, stats.ByAttribute["location"])
	assert.Equal(t, 1, stats.ByAttribute["hobby"])
}

func TestTurnLog(t *testing.T) {
	s := memstore.New(testAttrs())
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.RecordTurn(ctx, fact.ConversationTurn{
			Session: "s1",
			Role:    "user",
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.RecordTurn(ctx, fact.ConversationTurn{
		Session: "s2", Role: "user", Content: "other session",
	}))

	turns, err := s.RecentTurns(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "message 2", turns[0].Content)
	assert.Equal(t, "message 1", turns[1].Content)
}
