// Package store defines the fact storage contract shared by the
// in-memory and sqlite backends.
//
// The store exclusively owns the persisted collection of facts.
// Writes are append-only: superseding a fact flips its current flag
// inside the same atomic step that inserts the replacement, and
// nothing is physically removed outside of an explicit purge.
package store

import (
	"context"
	"time"

	"github.com/tesumi/memolette/fact"
)

// Match pairs a fact with its similarity to a query embedding.
type Match struct {
	Fact       fact.Fact
	Similarity float64
}

// Stats summarizes the stored collection.
type Stats struct {
	TotalFacts   int            `json:"total_facts"`
	CurrentFacts int            `json:"current_facts"`
	Subjects     int            `json:"subjects"`
	ByAttribute  map[string]int `json:"by_attribute"`
}

// Store is the fact storage backend.
//
// Implementations must serialize invalidate-then-insert per
// (subject, attribute) pair: two concurrent Store calls for the same
// exclusive pair must not both insert as current. Across different
// pairs no ordering is guaranteed.
type Store interface {
	// Store inserts a new fact, assigning CreatedAt and Seq. For an
	// exclusive attribute it first marks every current fact for the
	// (subject, attribute) pair as superseded; both steps are one
	// atomic unit. Returns fact.ErrStoreConflict once internal
	// retries are exhausted.
	Store(ctx context.Context, f *fact.Fact) (string, error)

	// GetByID fetches one fact. Returns fact.ErrNotFound when the id
	// is unknown.
	GetByID(ctx context.Context, id string) (fact.Fact, error)

	// GetProfile returns all current facts for a subject, newest
	// first. An unknown subject yields an empty slice, not an error.
	GetProfile(ctx context.Context, subject string) ([]fact.Fact, error)

	// VectorSearch returns the topK facts ranked by cosine similarity
	// to the query embedding, ties broken by newer CreatedAt first.
	// Superseded facts are excluded unless includeSuperseded is set.
	VectorSearch(ctx context.Context, query []float32, topK int, includeSuperseded bool) ([]Match, error)

	// Stats reports collection counters.
	Stats(ctx context.Context) (Stats, error)

	// PurgeSuperseded physically removes non-current facts older than
	// the cutoff and returns how many were dropped. Normal operation
	// never needs this; it exists for external retention jobs.
	PurgeSuperseded(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases resources.
	Close() error
}

// TurnLog keeps the recent conversation turns the context assembler
// consumes. Raw transcripts remain the business of whatever owns
// them; this log is a bounded convenience view.
type TurnLog interface {
	// RecordTurn appends a turn. A zero CreatedAt is stamped by the
	// log.
	RecordTurn(ctx context.Context, turn fact.ConversationTurn) error

	// RecentTurns returns up to limit turns for a session, newest
	// first.
	RecentTurns(ctx context.Context, session string, limit int) ([]fact.ConversationTurn, error)
}
