// Package memstore is the in-memory store backend: an append-only
// arena of facts plus materialized indexes for the current view.
// It serves tests, examples, and deployments that can afford to lose
// memory on restart; the sqlite backend is the durable twin.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/store"
)

type pairKey struct {
	subject   string
	attribute string
}

// MemStore keeps all facts in memory. A single write lock serializes
// invalidate-then-insert, which makes the exclusivity invariant
// trivially atomic; reads share an RLock and brute-force the cosine
// scan, which is fine for the corpus sizes a single character's
// memory reaches.
type MemStore struct {
	mu    sync.RWMutex
	attrs *fact.Attributes

	arena         []fact.Fact
	byID          map[string]int
	bySubject     map[string][]int
	currentByPair map[pairKey][]int

	lastCreated time.Time
	nextSeq     uint64

	turnsMu sync.RWMutex
	turns   map[string][]fact.ConversationTurn
}

var _ store.Store = (*MemStore)(nil)
var _ store.TurnLog = (*MemStore)(nil)

// New creates an empty store with the given attribute configuration.
func New(attrs *fact.Attributes) *MemStore {
	return &MemStore{
		attrs:         attrs,
		byID:          make(map[string]int),
		bySubject:     make(map[string][]int),
		currentByPair: make(map[pairKey][]int),
		turns:         make(map[string][]fact.ConversationTurn),
	}
}

// Store inserts a fact, invalidating prior current facts for the pair
// when the attribute is exclusive. Both steps happen under one write
// lock.
func (s *MemStore) Store(ctx context.Context, f *fact.Fact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := f.Validate(); err != nil {
		return "", err
	}
	if err := s.attrs.Check(f.Attribute); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *f
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Current = true
	stored.CreatedAt = s.nextTimestamp()
	s.nextSeq++
	stored.Seq = s.nextSeq

	key := pairKey{subject: stored.Subject, attribute: stored.Attribute}
	if s.attrs.IsExclusive(stored.Attribute) {
		for _, idx := range s.currentByPair[key] {
			s.arena[idx].Current = false
		}
		s.currentByPair[key] = s.currentByPair[key][:0]
	}

	idx := len(s.arena)
	s.arena = append(s.arena, stored)
	s.byID[stored.ID] = idx
	s.bySubject[stored.Subject] = append(s.bySubject[stored.Subject], idx)
	s.currentByPair[key] = append(s.currentByPair[key], idx)

	f.ID = stored.ID
	f.Seq = stored.Seq
	f.CreatedAt = stored.CreatedAt
	f.Current = true
	return stored.ID, nil
}

// nextTimestamp never goes backwards, so CreatedAt order always
// matches insertion order. Callers hold the write lock.
func (s *MemStore) nextTimestamp() time.Time {
	now := time.Now()
	if now.Before(s.lastCreated) {
		now = s.lastCreated
	}
	s.lastCreated = now
	return now
}

// GetByID fetches one fact by id.
func (s *MemStore) GetByID(ctx context.Context, id string) (fact.Fact, error) {
	if err := ctx.Err(); err != nil {
		return fact.Fact{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return fact.Fact{}, fact.ErrNotFound
	}
	return s.arena[idx], nil
}

// GetProfile returns the current facts for a subject, newest first.
func (s *MemStore) GetProfile(ctx context.Context, subject string) ([]fact.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	profile := make([]fact.Fact, 0)
	for _, idx := range s.bySubject[subject] {
		if s.arena[idx].Current {
			profile = append(profile, s.arena[idx])
		}
	}
	sort.Slice(profile, func(i, j int) bool {
		if !profile[i].CreatedAt.Equal(profile[j].CreatedAt) {
			return profile[i].CreatedAt.After(profile[j].CreatedAt)
		}
		return profile[i].Seq > profile[j].Seq
	})
	return profile, nil
}

// VectorSearch brute-forces cosine similarity over the arena.
func (s *MemStore) VectorSearch(ctx context.Context, query []float32, topK int, includeSuperseded bool) ([]store.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]store.Match, 0, topK)
	for _, f := range s.arena {
		if !f.Current && !includeSuperseded {
			continue
		}
		matches = append(matches, store.Match{
			Fact:       f,
			Similarity: cosineSimilarity(query, f.Embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if !matches[i].Fact.CreatedAt.Equal(matches[j].Fact.CreatedAt) {
			return matches[i].Fact.CreatedAt.After(matches[j].Fact.CreatedAt)
		}
		return matches[i].Fact.Seq < matches[j].Fact.Seq
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Stats reports collection counters.
func (s *MemStore) Stats(ctx context.Context) (store.Stats, error) {
	if err := ctx.Err(); err != nil {
		return store.Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := store.Stats{
		TotalFacts:  len(s.arena),
		ByAttribute: make(map[string]int),
	}
	subjects := make(map[string]bool)
	for _, f := range s.arena {
		if !f.Current {
			continue
		}
		stats.CurrentFacts++
		stats.ByAttribute[f.Attribute]++
		subjects[f.Subject] = true
	}
	stats.Subjects = len(subjects)
	return stats, nil
}

// PurgeSuperseded rebuilds the arena without superseded facts older
// than the cutoff.
func (s *MemStore) PurgeSuperseded(ctx context.Context, olderThan time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.arena[:0:0]
	for _, f := range s.arena {
		if !f.Current && f.CreatedAt.Before(olderThan) {
			continue
		}
		kept = append(kept, f)
	}
	purged := len(s.arena) - len(kept)
	if purged == 0 {
		return 0, nil
	}

	s.arena = kept
	s.byID = make(map[string]int, len(kept))
	s.bySubject = make(map[string][]int)
	s.currentByPair = make(map[pairKey][]int)
	for idx, f := range kept {
		s.byID[f.ID] = idx
		s.bySubject[f.Subject] = append(s.bySubject[f.Subject], idx)
		if f.Current {
			key := pairKey{subject: f.Subject, attribute: f.Attribute}
			s.currentByPair[key] = append(s.currentByPair[key], idx)
		}
	}
	return purged, nil
}

// Close is a no-op; everything lives in memory.
func (s *MemStore) Close() error {
	return nil
}

// RecordTurn appends a conversation turn to the session log.
func (s *MemStore) RecordTurn(ctx context.Context, turn fact.ConversationTurn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	s.turnsMu.Lock()
	defer s.turnsMu.Unlock()
	s.turns[turn.Session] = append(s.turns[turn.Session], turn)
	return nil
}

// RecentTurns returns up to limit turns for a session, newest first.
func (s *MemStore) RecentTurns(ctx context.Context, session string, limit int) ([]fact.ConversationTurn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.turnsMu.RLock()
	defer s.turnsMu.RUnlock()

	all := s.turns[session]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]fact.ConversationTurn, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// cosineSimilarity returns the cosine of the angle between two
// vectors, 0 when lengths differ or either is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
