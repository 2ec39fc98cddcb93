// Package claude implements the extract.Extractor interface with the
// Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tesumi/memolette/extract"
	"github.com/tesumi/memolette/fact"
)

const extractionPrompt = `You extract durable personal facts from a single chat utterance.

Output a JSON array of objects with keys "subject", "attribute", "value".
Rules:
- Only extract stable facts about people (occupation, hobby, residence, preference, relationship, and similar).
- Greetings, questions, requests, and pure emotional expressions contain no facts: output [].
- Replace first-person pronouns (I, me, my) with the speaker name given below.
- If a third-person pronoun (he, she, they) has no clear referent inside the utterance, use the literal subject "%s".
- Attribute names are single lowercase words or snake_case.
- Output the JSON array only, no prose, no code fences.

Speaker name: %s`

// Extractor calls Claude to extract assertions.
type Extractor struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// Option configures the extractor.
type Option func(*Extractor)

// WithModel overrides the default extraction model.
func WithModel(model string) Option {
	return func(e *Extractor) {
		e.model = model
	}
}

// New creates a Claude-backed extractor. baseURL is optional.
func New(apiKey, baseURL string, opts ...Option) *Extractor {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	c := anthropic.NewClient(clientOpts...)

	e := &Extractor{
		client:    &c,
		model:     string(anthropic.ModelClaude3_5HaikuLatest),
		maxTokens: 1024,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract sends the utterance to Claude and parses the returned
// assertions. A backend failure surfaces as
// fact.ErrExtractionUnavailable; a response that is not valid JSON is
// treated the same way since the caller can retry either.
func (e *Extractor) Extract(ctx context.Context, utterance, speakerHint string) ([]extract.Assertion, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, nil
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(utterance)),
		},
		System: []anthropic.TextBlockParam{
			{Text: fmt.Sprintf(extractionPrompt, fact.UnresolvedSubject, speakerHint)},
		},
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fact.ErrExtractionUnavailable, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	assertions, err := parseAssertions(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fact.ErrExtractionUnavailable, err)
	}
	return resolveSubjects(assertions, speakerHint), nil
}

// parseAssertions decodes the model output, tolerating stray code
// fences despite the prompt.
func parseAssertions(text string) ([]extract.Assertion, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" || text == "[]" {
		return nil, nil
	}

	var assertions []extract.Assertion
	if err := json.Unmarshal([]byte(text), &assertions); err != nil {
		return nil, fmt.Errorf("malformed extraction response: %v", err)
	}
	return assertions, nil
}

// firstPerson covers the pronouns we substitute with the speaker hint
// when the model leaves one through.
var firstPerson = map[string]bool{
	"i": true, "me": true, "my": true, "myself": true,
}

// thirdPerson covers pronouns that must not be guessed at.
var thirdPerson = map[string]bool{
	"he": true, "she": true, "they": true, "him": true, "her": true, "them": true,
}

// resolveSubjects applies the pronoun policy after the model: first
// person becomes the speaker, ambiguous third person becomes the
// placeholder, and assertions with no usable subject or value are
// dropped.
func resolveSubjects(assertions []extract.Assertion, speakerHint string) []extract.Assertion {
	out := assertions[:0]
	for _, a := range assertions {
		a.Subject = strings.TrimSpace(a.Subject)
		a.Attribute = strings.TrimSpace(a.Attribute)
		a.Value = strings.TrimSpace(a.Value)

		switch {
		case firstPerson[strings.ToLower(a.Subject)]:
			if speakerHint == "" {
				a.Subject = fact.UnresolvedSubject
			} else {
				a.Subject = speakerHint
			}
		case thirdPerson[strings.ToLower(a.Subject)]:
			a.Subject = fact.UnresolvedSubject
		}

		if a.Subject == "" || a.Attribute == "" || a.Value == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}
