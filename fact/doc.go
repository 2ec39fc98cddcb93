// Package fact defines the Memolette data model: minimal
// (subject, attribute, value) assertions with provenance metadata.
//
// A Fact is never mutated in place. Updates are modeled as
// insert-new + invalidate-old, so the stored collection is an
// append-only log with a materialized "current" view on top.
// For attributes declared exclusive, at most one fact per
// (subject, attribute) pair is current at any time; non-exclusive
// attributes accumulate freely.
//
// The package also carries the error taxonomy shared by the
// extraction, embedding, storage, and assembly layers. All errors
// are sentinel values meant to be matched with errors.Is after
// wrapping.
package fact
