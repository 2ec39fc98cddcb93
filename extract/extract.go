// Package extract turns natural-language utterances into structured
// (subject, attribute, value) assertions.
//
// Extraction is a content filter as much as a parser: greetings,
// questions, and pure emotional expressions yield zero assertions,
// which is a normal outcome and never an error. Errors are reserved
// for the backend being unreachable (fact.ErrExtractionUnavailable).
package extract

import "context"

// Assertion is one candidate fact before validation and storage.
type Assertion struct {
	Subject   string `json:"subject"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// Extractor extracts assertions from a single utterance.
//
// speakerHint is the default subject substituted for first-person
// pronouns. Third-person pronouns with no unambiguous referent are
// mapped to fact.UnresolvedSubject rather than guessed.
type Extractor interface {
	Extract(ctx context.Context, utterance, speakerHint string) ([]Assertion, error)
}
