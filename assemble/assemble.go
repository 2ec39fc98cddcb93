// Package assemble packs ranked facts and conversation turns into a
// budget-bounded context package.
package assemble

import (
	"fmt"
	"unicode/utf8"

	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/retrieval"
)

// CostFunc estimates the budget cost of a piece of text.
type CostFunc func(text string) int

// EstimateTokens approximates token count as one token per four
// runes, rounded up, never below one for non-empty text.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// ContextPackage is the assembled result handed to the caller.
type ContextPackage struct {
	Facts         []retrieval.Result      `json:"facts"`
	Turns         []fact.ConversationTurn `json:"turns"`
	EstimatedCost int                     `json:"estimated_cost"`
}

// Assembler packs context deterministically: the most recent turn is
// always included, then facts in rank order, then older turns newest
// first, each only if it fits the remaining budget.
type Assembler struct {
	cost CostFunc
}

// New builds an assembler. A nil cost function falls back to
// EstimateTokens.
func New(cost CostFunc) *Assembler {
	if cost == nil {
		cost = EstimateTokens
	}
	return &Assembler{cost: cost}
}

// Assemble packs retrieved facts and recent turns (newest first) into
// a package whose estimated cost stays within budget. The most recent
// turn is included even when it alone exceeds the budget; in that
// case the package holds exactly that turn and fact.ErrBudgetTooSmall
// is returned alongside it.
func (a *Assembler) Assemble(retrieved []retrieval.Result, recentTurns []fact.ConversationTurn, budget int) (*ContextPackage, error) {
	pkg := &ContextPackage{
		Facts: make([]retrieval.Result, 0, len(retrieved)),
		Turns: make([]fact.ConversationTurn, 0, len(recentTurns)),
	}

	remaining := budget

	if len(recentTurns) > 0 {
		latest := recentTurns[0]
		cost := a.turnCost(latest)
		pkg.Turns = append(pkg.Turns, latest)
		pkg.EstimatedCost += cost
		remaining -= cost
		if remaining < 0 {
			return pkg, fmt.Errorf("%w: budget %d, most recent turn costs %d",
				fact.ErrBudgetTooSmall, budget, cost)
		}
	}

	for _, r := range retrieved {
		cost := a.cost(r.Fact.CanonicalText())
		if cost > remaining {
			continue
		}
		pkg.Facts = append(pkg.Facts, r)
		pkg.EstimatedCost += cost
		remaining -= cost
	}

	if len(recentTurns) > 1 {
		for _, t := range recentTurns[1:] {
			cost := a.turnCost(t)
			if cost > remaining {
				continue
			}
			pkg.Turns = append(pkg.Turns, t)
			pkg.EstimatedCost += cost
			remaining -= cost
		}
	}

	return pkg, nil
}

func (a *Assembler) turnCost(t fact.ConversationTurn) int {
	return a.cost(t.Role + ": " + t.Content)
}
