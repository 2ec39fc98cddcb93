package assemble_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesumi/memolette/assemble"
	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/retrieval"
)

// unitCost makes every item cost exactly 1, so budgets read as item
// counts.
func unitCost(string) int { return 1 }

func result(subject, attribute, value string, score float64) retrieval.Result {
	f := fact.New(subject, attribute, value)
	return retrieval.Result{Fact: *f, Score: score}
}

func turn(role, content string) fact.ConversationTurn {
	return fact.ConversationTurn{Session: "s1", Role: role, Content: content}
}

func TestAssemblePacksWithinBudget(t *testing.T) {
	a := assemble.New(unitCost)

	retrieved := []retrieval.Result{
		result("alice", "location", "Porto", 0.9),
		result("alice", "hobby", "chess", 0.8),
		result("alice", "hobby", "climbing", 0.7),
	}
	turns := []fact.ConversationTurn{
		turn("user", "latest"),
		turn("assistant", "older"),
		turn("user", "oldest"),
	}

	pkg, err := a.Assemble(retrieved, turns, 4)
	require.NoError(t, err)

	// Budget 4: latest turn + three facts, no room for older turns.
	require.Len(t, pkg.Turns, 1)
	assert.Equal(t, "latest", pkg.Turns[0].Content)
	assert.Len(t, pkg.Facts, 3)
	assert.Equal(t, 4, pkg.EstimatedCost)
}

func TestAssembleFactsBeforeOlderTurns(t *testing.T) {
	a := assemble.New(unitCost)

	retrieved := []retrieval.Result{
		result("alice", "location", "Porto", 0.9),
	}
	turns := []fact.ConversationTurn{
		turn("user", "latest"),
		turn("assistant", "older"),
	}

	pkg, err := a.Assemble(retrieved, turns, 3)
	require.NoError(t, err)
	assert.Len(t, pkg.Facts, 1)
	require.Len(t, pkg.Turns, 2)
	assert.Equal(t, "latest", pkg.Turns[0].Content)
	assert.Equal(t, "older", pkg.Turns[1].Content)
}

func TestAssemblePreservesFactRank(t *testing.T) {
	a := assemble.New(unitCost)

	retrieved := []retrieval.Result{
		result("alice", "location", "Porto", 0.9),
		result("alice", "hobby", "chess", 0.8),
	}

	pkg, err := a.Assemble(retrieved, nil, 10)
	require.NoError(t, err)
	require.Len(t, pkg.Facts, 2)
	assert.Equal(t, "Porto", pkg.Facts[0].Fact.Value)
	assert.Equal(t, "chess", pkg.Facts[1].Fact.Value)
}

// An oversized fact is skipped; cheaper facts after it still pack.
func TestAssembleSkipsOversizedFact(t *testing.T) {
	cost := func(text string) int {
		if text == "alice bio: very long" {
			return 100
		}
		return 1
	}
	a := assemble.New(cost)

	retrieved := []retrieval.Result{
		result("alice", "bio", "very long", 0.9),
		result("alice", "hobby", "chess", 0.8),
	}

	pkg, err := a.Assemble(retrieved, nil, 2)
	require.NoError(t, err)
	require.Len(t, pkg.Facts, 1)
	assert.Equal(t, "chess", pkg.Facts[0].Fact.Value)
}

// The most recent turn is guaranteed even when it alone blows the
// budget; the caller gets the minimal package and the error.
func TestAssembleBudgetTooSmall(t *testing.T) {
	cost := func(string) int { return 50 }
	a := assemble.New(cost)

	turns := []fact.ConversationTurn{
		turn("user", "latest"),
		turn("assistant", "older"),
	}
	retrieved := []retrieval.Result{
		result("alice", "hobby", "chess", 0.9),
	}

	pkg, err := a.Assemble(retrieved, turns, 10)
	require.ErrorIs(t, err, fact.ErrBudgetTooSmall)
	require.NotNil(t, pkg)
	require.Len(t, pkg.Turns, 1)
	assert.Equal(t, "latest", pkg.Turns[0].Content)
	assert.Empty(t, pkg.Facts)
}

func TestAssembleEmptyInputs(t *testing.T) {
	a := assemble.New(unitCost)

	pkg, err := a.Assemble(nil, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, pkg.Facts)
	assert.Empty(t, pkg.Turns)
	assert.Zero(t, pkg.EstimatedCost)
}

func TestAssembleDeterministic(t *testing.T) {
	a := assemble.New(unitCost)

	retrieved := []retrieval.Result{
		result("alice", "location", "Porto", 0.9),
		result("alice", "hobby", "chess", 0.8),
	}
	turns := []fact.ConversationTurn{
		turn("user", "latest"),
		turn("assistant", "older"),
	}

	first, err := a.Assemble(retrieved, turns, 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := a.Assemble(retrieved, turns, 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, assemble.EstimateTokens(""))
	assert.Equal(t, 1, assemble.EstimateTokens("abc"))
	assert.Equal(t, 1, assemble.EstimateTokens("abcd"))
	assert.Equal(t, 2, assemble.EstimateTokens("abcde"))
}
