package convo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSelfCheck_SecondaryPhraseListDiffersFromPrimary(t *testing.T) {
	r := &Record{}
	r.AppendTurn(Turn{Content: "Overall this was useful.", Timestamp: time.Now()})

	assert.True(t, r.HasNaturalEnding(), "primary list should match 'overall'")
	assert.False(t, r.hasSecondaryNaturalEnding(), "secondary list should not match 'overall'")

	r2 := &Record{}
	r2.AppendTurn(Turn{Content: "Let's conclude here, thank you for this discussion.", Timestamp: time.Now()})
	assert.True(t, r2.hasSecondaryNaturalEnding())
}

func TestHasStrictRepetition_ExactDuplicateShortCircuits(t *testing.T) {
	r := &Record{}
	now := time.Now()
	r.AppendTurn(Turn{Content: "alpha beta gamma", Timestamp: now})
	r.AppendTurn(Turn{Content: "identical wording here", Timestamp: now})
	r.AppendTurn(Turn{Content: "identical wording here", Timestamp: now})

	assert.True(t, r.hasStrictRepetition())
}

func TestHasStrictRepetition_FalseBelowThreeTurns(t *testing.T) {
	r := &Record{}
	now := time.Now()
	r.AppendTurn(Turn{Content: "identical wording here", Timestamp: now})
	r.AppendTurn(Turn{Content: "identical wording here", Timestamp: now})

	assert.False(t, r.hasStrictRepetition())
}

func TestHasStrictRepetition_HighOverlapWithoutExactMatch(t *testing.T) {
	r := &Record{}
	now := time.Now()
	r.AppendTurn(Turn{Content: "one two three four five six seven eight nine ten", Timestamp: now})
	r.AppendTurn(Turn{Content: "completely unrelated filler words padding the gap", Timestamp: now})
	r.AppendTurn(Turn{Content: "one two three four five six seven eight nine eleven", Timestamp: now})

	assert.True(t, r.hasStrictRepetition())
}

func TestJaccardIntersectionOverUnion_NoOverlap(t *testing.T) {
	assert.Equal(t, 0.0, jaccardIntersectionOverUnion("alpha beta", "gamma delta"))
}
