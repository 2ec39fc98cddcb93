// Package sqlite is the durable store backend: facts and turns live
// in SQLite, vector search runs against an embedded chromem-go
// collection rebuilt from the rows on open.
//
// The SQLite rows are the source of truth. The chromem index is a
// read-side accelerator: superseded facts stay in the index until the
// next open and are filtered out against the rows after every query,
// which keeps invalidation a pure row-level transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	subject    TEXT NOT NULL,
	attribute  TEXT NOT NULL,
	value      TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	current    INTEGER NOT NULL DEFAULT 1,
	confidence REAL NOT NULL DEFAULT 1.0
);
CREATE INDEX IF NOT EXISTS idx_facts_subject ON facts(subject, current);
CREATE INDEX IF NOT EXISTS idx_facts_pair ON facts(subject, attribute, current);
CREATE INDEX IF NOT EXISTS idx_facts_created_at ON facts(created_at);

CREATE TABLE IF NOT EXISTS turns (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	session    TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session, seq);
`

// storeRetries bounds the internal busy-retry loop before a write
// surfaces fact.ErrStoreConflict.
const storeRetries = 5

// overfetchFactor widens index queries so that superseded entries
// still sitting in the chromem index don't starve the result set.
const overfetchFactor = 4

// SQLStore implements store.Store and store.TurnLog on SQLite.
type SQLStore struct {
	db     *sql.DB
	attrs  *fact.Attributes
	logger *zap.Logger

	// writeMu serializes writers so the monotonic clock and the
	// index append stay in step with the rows.
	writeMu     sync.Mutex
	lastCreated int64

	index     *chromem.Collection
	indexMu   sync.RWMutex
	indexSize int
}

var _ store.Store = (*SQLStore)(nil)
var _ store.TurnLog = (*SQLStore)(nil)

// Open opens (creating if needed) the database at path and rebuilds
// the vector index from the stored rows.
func Open(path string, attrs *fact.Attributes, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open fact database: %w", err)
	}
	// A single writer connection sidesteps most SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLStore{
		db:     db,
		attrs:  attrs,
		logger: logger,
	}
	if err := s.rebuildIndex(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// rebuildIndex loads every stored embedding into a fresh chromem
// collection. Purged facts drop out of the index here and nowhere
// else.
func (s *SQLStore) rebuildIndex(ctx context.Context) error {
	col, err := chromem.NewDB().CreateCollection("facts", nil, nil)
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, attribute, value, embedding FROM facts`)
	if err != nil {
		return fmt.Errorf("load facts for indexing: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id, subject, attribute, value string
		var blob []byte
		if err := rows.Scan(&id, &subject, &attribute, &value, &blob); err != nil {
			return fmt.Errorf("scan fact for indexing: %w", err)
		}
		doc := chromem.Document{
			ID:        id,
			Content:   fact.CanonicalText(subject, attribute, value),
			Embedding: bytesToVector(blob),
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("index fact %s: %w", id, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.indexMu.Lock()
	s.index = col
	s.indexSize = count
	s.indexMu.Unlock()

	s.logger.Info("vector index rebuilt", zap.Int("facts", count))
	return nil
}

// Store inserts a fact, superseding prior current facts for an
// exclusive (subject, attribute) pair inside the same transaction.
// Busy transactions are retried a bounded number of times before
// fact.ErrStoreConflict is surfaced.
func (s *SQLStore) Store(ctx context.Context, f *fact.Fact) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	if err := s.attrs.Check(f.Attribute); err != nil {
		return "", err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored := *f
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Current = true
	stored.CreatedAt = s.nextTimestamp()

	var lastErr error
	for attempt := 0; attempt < storeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		seq, err := s.storeOnce(ctx, &stored)
		if err == nil {
			stored.Seq = seq
			s.appendToIndex(ctx, &stored)

			f.ID = stored.ID
			f.Seq = stored.Seq
			f.CreatedAt = stored.CreatedAt
			f.Current = true
			return stored.ID, nil
		}
		if !isBusy(err) {
			return "", err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return "", fmt.Errorf("%w: %v", fact.ErrStoreConflict, lastErr)
}

func (s *SQLStore) storeOnce(ctx context.Context, f *fact.Fact) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin store transaction: %w", err)
	}
	defer tx.Rollback()

	if s.attrs.IsExclusive(f.Attribute) {
		_, err := tx.ExecContext(ctx, `
			UPDATE facts SET current = 0
			WHERE subject = ? AND attribute = ? AND current = 1`,
			f.Subject, f.Attribute)
		if err != nil {
			return 0, fmt.Errorf("invalidate superseded facts: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO facts (id, subject, attribute, value, embedding, created_at, current, confidence)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		f.ID, f.Subject, f.Attribute, f.Value,
		vectorToBytes(f.Embedding), f.CreatedAt.UnixNano(), f.Confidence)
	if err != nil {
		return 0, fmt.Errorf("insert fact: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit store transaction: %w", err)
	}
	return uint64(seq), nil
}

// appendToIndex mirrors a committed fact into the vector index. Index
// failures are logged, not surfaced: the rows committed, and the
// index converges on the next open.
func (s *SQLStore) appendToIndex(ctx context.Context, f *fact.Fact) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	doc := chromem.Document{
		ID:        f.ID,
		Content:   f.CanonicalText(),
		Embedding: f.Embedding,
	}
	if err := s.index.AddDocument(ctx, doc); err != nil {
		s.logger.Warn("vector index append failed",
			zap.String("fact_id", f.ID), zap.Error(err))
		return
	}
	s.indexSize++
}

// nextTimestamp never goes backwards relative to the previous insert.
// Callers hold writeMu.
func (s *SQLStore) nextTimestamp() time.Time {
	now := time.Now().UnixNano()
	if now < s.lastCreated {
		now = s.lastCreated
	}
	s.lastCreated = now
	return time.Unix(0, now)
}

const factColumns = `seq, id, subject, attribute, value, embedding, created_at, current, confidence`

func scanFact(scanner interface{ Scan(...any) error }) (fact.Fact, error) {
	var f fact.Fact
	var blob []byte
	var createdAt int64
	var current int
	if err := scanner.Scan(&f.Seq, &f.ID, &f.Subject, &f.Attribute, &f.Value,
		&blob, &createdAt, &current, &f.Confidence); err != nil {
		return fact.Fact{}, err
	}
	f.Embedding = bytesToVector(blob)
	f.CreatedAt = time.Unix(0, createdAt)
	f.Current = current == 1
	return f, nil
}

// GetByID fetches one fact by id.
func (s *SQLStore) GetByID(ctx context.Context, id string) (fact.Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE id = ?`, id)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return fact.Fact{}, fact.ErrNotFound
	}
	if err != nil {
		return fact.Fact{}, fmt.Errorf("fetch fact %s: %w", id, err)
	}
	return f, nil
}

// GetProfile returns all current facts for a subject, newest first.
func (s *SQLStore) GetProfile(ctx context.Context, subject string) ([]fact.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+factColumns+` FROM facts
		WHERE subject = ? AND current = 1
		ORDER BY created_at DESC, seq DESC`, subject)
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	defer rows.Close()

	profile := make([]fact.Fact, 0)
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		profile = append(profile, f)
	}
	return profile, rows.Err()
}

// VectorSearch queries the chromem index for candidates, then filters
// and re-ranks them against the authoritative rows.
func (s *SQLStore) VectorSearch(ctx context.Context, query []float32, topK int, includeSuperseded bool) ([]store.Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.indexMu.RLock()
	col := s.index
	size := s.indexSize
	s.indexMu.RUnlock()

	if size == 0 {
		return nil, nil
	}

	// Over-fetch: the index still holds superseded entries, which
	// are dropped below against the rows.
	nResults := topK * overfetchFactor
	if nResults > size {
		nResults = size
	}

	results, err := col.QueryEmbedding(ctx, query, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector index query: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	matches := make([]store.Match, 0, len(results))
	for _, r := range results {
		f, err := s.GetByID(ctx, r.ID)
		if err == fact.ErrNotFound {
			continue // purged since the index was built
		}
		if err != nil {
			return nil, err
		}
		if !f.Current && !includeSuperseded {
			continue
		}
		matches = append(matches, store.Match{Fact: f, Similarity: float64(r.Similarity)})
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// sortMatches orders by similarity desc, then created_at desc, then
// seq asc.
func sortMatches(matches []store.Match) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Fact.CreatedAt.Equal(b.Fact.CreatedAt) {
			return a.Fact.CreatedAt.After(b.Fact.CreatedAt)
		}
		return a.Fact.Seq < b.Fact.Seq
	})
}

// Stats reports collection counters.
func (s *SQLStore) Stats(ctx context.Context) (store.Stats, error) {
	stats := store.Stats{ByAttribute: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM facts`).Scan(&stats.TotalFacts); err != nil {
		return store.Stats{}, fmt.Errorf("count facts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM facts WHERE current = 1`).Scan(&stats.CurrentFacts); err != nil {
		return store.Stats{}, fmt.Errorf("count current facts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT subject) FROM facts WHERE current = 1`).Scan(&stats.Subjects); err != nil {
		return store.Stats{}, fmt.Errorf("count subjects: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT attribute, COUNT(*) FROM facts WHERE current = 1 GROUP BY attribute`)
	if err != nil {
		return store.Stats{}, fmt.Errorf("count by attribute: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var attribute string
		var n int
		if err := rows.Scan(&attribute, &n); err != nil {
			return store.Stats{}, err
		}
		stats.ByAttribute[attribute] = n
	}
	return stats, rows.Err()
}

// PurgeSuperseded physically removes superseded facts older than the
// cutoff. The vector index keeps stale entries until the next open;
// they are filtered against the rows on every query.
func (s *SQLStore) PurgeSuperseded(ctx context.Context, olderThan time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM facts WHERE current = 0 AND created_at < ?`,
		olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge superseded facts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged superseded facts", zap.Int64("count", n))
	}
	return int(n), nil
}

// RecordTurn appends a conversation turn.
func (s *SQLStore) RecordTurn(ctx context.Context, turn fact.ConversationTurn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		turn.Session, turn.Role, turn.Content, turn.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns for a session, newest first.
func (s *SQLStore) RecentTurns(ctx context.Context, session string, limit int) ([]fact.ConversationTurn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, role, content, created_at FROM turns
		WHERE session = ?
		ORDER BY seq DESC
		LIMIT ?`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]fact.ConversationTurn, 0, limit)
	for rows.Next() {
		var t fact.ConversationTurn
		var createdAt int64
		if err := rows.Scan(&t.Session, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = time.Unix(0, createdAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isBusy recognizes the lock contention errors worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
