// Package pipeline wires extraction, embedding, storage, retrieval
// and assembly into the end-to-end memory flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tesumi/memolette/assemble"
	"github.com/tesumi/memolette/embed"
	"github.com/tesumi/memolette/extract"
	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/retrieval"
	"github.com/tesumi/memolette/store"
)

// Pipeline orchestrates the ingest and query paths.
type Pipeline struct {
	extractor extract.Extractor
	embedder  embed.Embedder
	store     store.Store
	turns     store.TurnLog
	engine    *retrieval.Engine
	assembler *assemble.Assembler
	attrs     *fact.Attributes
	logger    *zap.Logger
}

// Config gathers the pipeline's collaborators.
type Config struct {
	Extractor extract.Extractor
	Embedder  embed.Embedder
	Store     store.Store
	TurnLog   store.TurnLog
	Retrieval retrieval.Config
	Assembler *assemble.Assembler
	Attrs     *fact.Attributes
	Logger    *zap.Logger
}

// New builds a pipeline. Logger defaults to a no-op; assembler to the
// token-estimate packer.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Assembler == nil {
		cfg.Assembler = assemble.New(nil)
	}
	return &Pipeline{
		extractor: cfg.Extractor,
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		turns:     cfg.TurnLog,
		engine:    retrieval.New(cfg.Store, cfg.Embedder, cfg.Retrieval),
		assembler: cfg.Assembler,
		attrs:     cfg.Attrs,
		logger:    cfg.Logger,
	}
}

// IngestResult reports what an ingest call did.
type IngestResult struct {
	Stored  []fact.Fact `json:"stored"`
	Skipped int         `json:"skipped"`
}

// Ingest extracts assertions from an utterance and stores each valid
// one with its embedding. Invalid assertions are skipped and counted.
// An embedding or storage failure stops the run; facts already stored
// stand, the failing fact writes nothing. A non-empty session also
// appends the utterance to that session's transcript.
func (p *Pipeline) Ingest(ctx context.Context, session, speaker, utterance string) (*IngestResult, error) {
	if session != "" && p.turns != nil {
		turn := fact.ConversationTurn{
			Session: session,
			Role:    speaker,
			Content: utterance,
		}
		if err := p.turns.RecordTurn(ctx, turn); err != nil {
			return nil, fmt.Errorf("record turn: %w", err)
		}
	}

	assertions, err := p.extractor.Extract(ctx, utterance, speaker)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	res := &IngestResult{Stored: make([]fact.Fact, 0, len(assertions))}
	for _, a := range assertions {
		f := fact.New(a.Subject, a.Attribute, a.Value)
		if err := f.Validate(); err != nil {
			p.logger.Debug("skipping invalid assertion",
				zap.String("attribute", a.Attribute), zap.Error(err))
			res.Skipped++
			continue
		}
		if err := p.attrs.Check(f.Attribute); err != nil {
			p.logger.Debug("skipping undeclared attribute",
				zap.String("attribute", f.Attribute))
			res.Skipped++
			continue
		}

		embedding, err := p.embedder.Embed(ctx, f.CanonicalText())
		if err != nil {
			return res, fmt.Errorf("embed fact: %w", err)
		}
		f.Embedding = embedding

		if _, err := p.store.Store(ctx, f); err != nil {
			if errors.Is(err, fact.ErrInvalidFact) {
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("store fact: %w", err)
		}
		res.Stored = append(res.Stored, *f)
	}

	p.logger.Info("utterance ingested",
		zap.String("speaker", speaker),
		zap.Int("stored", len(res.Stored)),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// QueryRequest describes one context-assembly call.
type QueryRequest struct {
	Query               string
	Session             string
	SubjectFilter       string
	MaxResults          int
	SimilarityThreshold float64
	Budget              int
	TurnLimit           int
}

// Query retrieves facts for the query, pulls recent session turns and
// assembles them under the budget. A too-small budget surfaces
// fact.ErrBudgetTooSmall together with the minimal package.
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (*assemble.ContextPackage, error) {
	results, err := p.engine.Search(ctx, req.Query, retrieval.Options{
		SubjectFilter:       req.SubjectFilter,
		MaxResults:          req.MaxResults,
		SimilarityThreshold: req.SimilarityThreshold,
	})
	if err != nil {
		return nil, err
	}

	var turns []fact.ConversationTurn
	if req.Session != "" && p.turns != nil {
		turns, err = p.turns.RecentTurns(ctx, req.Session, req.TurnLimit)
		if err != nil {
			return nil, fmt.Errorf("load recent turns: %w", err)
		}
	}

	return p.assembler.Assemble(results, turns, req.Budget)
}

// Search runs retrieval without assembly.
func (p *Pipeline) Search(ctx context.Context, query string, opts retrieval.Options) ([]retrieval.Result, error) {
	return p.engine.Search(ctx, query, opts)
}

// Profile returns all current facts about a subject, newest first.
func (p *Pipeline) Profile(ctx context.Context, subject string) ([]fact.Fact, error) {
	return p.store.GetProfile(ctx, subject)
}

// RecordTurn appends a conversation turn to the session transcript.
func (p *Pipeline) RecordTurn(ctx context.Context, turn fact.ConversationTurn) error {
	if p.turns == nil {
		return nil
	}
	return p.turns.RecordTurn(ctx, turn)
}

// RecentTurns returns the latest turns for a session, newest first.
func (p *Pipeline) RecentTurns(ctx context.Context, session string, limit int) ([]fact.ConversationTurn, error) {
	if p.turns == nil {
		return nil, nil
	}
	return p.turns.RecentTurns(ctx, session, limit)
}

// Stats reports store counters.
func (p *Pipeline) Stats(ctx context.Context) (store.Stats, error) {
	return p.store.Stats(ctx)
}

// PurgeSuperseded removes superseded facts older than the cutoff.
func (p *Pipeline) PurgeSuperseded(ctx context.Context, olderThan time.Time) (int, error) {
	return p.store.PurgeSuperseded(ctx, olderThan)
}
