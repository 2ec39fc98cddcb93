package fact

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnresolvedSubject is the placeholder subject used when an utterance
// refers to someone by pronoun and no unambiguous referent is known.
// A downstream resolution step may rewrite it; the core never guesses.
const UnresolvedSubject = "(unresolved)"

// Fact is a single (subject, attribute, value) assertion extracted
// from conversation, plus the metadata the store and retrieval layers
// need.
type Fact struct {
	// ID is a UUID assigned at creation.
	ID string `json:"id"`

	// Subject is a short identifier, typically a person's name.
	// Not unique on its own.
	Subject string `json:"subject"`

	// Attribute is the category of the assertion ("occupation",
	// "hobby", ...). Whether it is exclusive is decided by the
	// Attributes configuration, not by the fact itself.
	Attribute string `json:"attribute"`

	// Value is free text.
	Value string `json:"value"`

	// Embedding is computed from the canonical sentence, not from
	// the raw utterance.
	Embedding []float32 `json:"-"`

	// CreatedAt is immutable once set. Stores guarantee it is
	// monotonically non-decreasing with insertion order.
	CreatedAt time.Time `json:"created_at"`

	// Seq is the store-assigned insertion id, used as the final
	// deterministic tie-breaker in ranking.
	Seq uint64 `json:"seq"`

	// Current is false once the fact has been superseded.
	Current bool `json:"current"`

	// Confidence is reserved for future uncertainty modeling.
	// Defaults to 1.0.
	Confidence float64 `json:"confidence"`
}

// New builds an unstored fact with a fresh ID and default confidence.
// CreatedAt and Seq are assigned by the store.
func New(subject, attribute, value string) *Fact {
	return &Fact{
		ID:         uuid.New().String(),
		Subject:    subject,
		Attribute:  attribute,
		Value:      value,
		Confidence: 1.0,
	}
}

// CanonicalText renders the sentence the embedding is computed from.
// Keeping this in one place means a fact and a query about the same
// thing land close together in vector space.
func (f *Fact) CanonicalText() string {
	return CanonicalText(f.Subject, f.Attribute, f.Value)
}

// CanonicalText builds the embedding input for an assertion.
func CanonicalText(subject, attribute, value string) string {
	return fmt.Sprintf("%s %s: %s", subject, attribute, value)
}

// Validate checks the structural invariants a fact must satisfy
// before it may be stored. Attribute vocabulary checks live in
// Attributes.Check; this covers only what is wrong regardless of
// configuration.
func (f *Fact) Validate() error {
	if strings.TrimSpace(f.Subject) == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidFact)
	}
	if strings.TrimSpace(f.Attribute) == "" {
		return fmt.Errorf("%w: empty attribute", ErrInvalidFact)
	}
	if strings.TrimSpace(f.Value) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidFact)
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidFact, f.Confidence)
	}
	return nil
}

// ConversationTurn is one utterance of the raw transcript. The core
// does not own transcripts; it only consumes recent turns when
// assembling context and offers a small turn log as a convenience.
type ConversationTurn struct {
	Session   string    `json:"session"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
