package fact

import "errors"

var (
	// ErrExtractionUnavailable means the extraction backend was
	// unreachable or errored. Retryable; callers may degrade to
	// storing the raw utterance as an unstructured note.
	ErrExtractionUnavailable = errors.New("extraction backend unavailable")

	// ErrEmbeddingUnavailable means the embedding backend was
	// unreachable. Retryable. It blocks both the store and search
	// paths since both need a vector.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrStoreConflict is surfaced after the store has exhausted its
	// internal retries for a concurrent invalidate/insert race.
	// Callers must retry the whole store operation.
	ErrStoreConflict = errors.New("concurrent store conflict")

	// ErrInvalidFact marks a malformed assertion: empty subject, or
	// an attribute missing from the configured vocabulary. Not
	// retryable.
	ErrInvalidFact = errors.New("invalid fact")

	// ErrBudgetTooSmall means the assembly budget cannot fit even the
	// single most recent turn. The assembler still returns that turn;
	// the error flags the configuration problem.
	ErrBudgetTooSmall = errors.New("token budget too small")

	// ErrNotFound is returned by fetch-by-id operations only. A
	// subject with zero current facts yields an empty profile, not
	// this error.
	ErrNotFound = errors.New("fact not found")
)
