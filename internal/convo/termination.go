package convo

import "strings"

// secondaryNaturalEndingPhrases is the longer list SelfCheck recognizes;
// the loop itself uses the shorter primaryNaturalEndingPhrases. Both are
// kept deterministic per spec §9 — the loop path is authoritative for
// termination, SelfCheck is exposed for external callers.
var secondaryNaturalEndingPhrases = []string{
	"thank you for this discussion", "this has been a great conversation",
	"i think we've covered", "let's conclude", "to summarize our discussion",
}

// SelfCheckResult reports the record's termination signals under the
// stricter checks kept separate from the loop's own predicates: a
// longer natural-ending phrase list and an
// intersection-over-union Jaccard variant (threshold 0.8, last three
// turns, with an exact-duplicate short-circuit).
type SelfCheckResult struct {
	NaturalEnding bool
	Repetition    bool
}

func (r *Record) SelfCheck() SelfCheckResult {
	return SelfCheckResult{
		NaturalEnding: r.hasSecondaryNaturalEnding(),
		Repetition:    r.hasStrictRepetition(),
	}
}

func (r *Record) hasSecondaryNaturalEnding() bool {
	if len(r.Turns) == 0 {
		return false
	}
	last := strings.ToLower(r.Turns[len(r.Turns)-1].Content)
	for _, phrase := range secondaryNaturalEndingPhrases {
		if strings.Contains(last, phrase) {
			return true
		}
	}
	return false
}

// hasStrictRepetition checks the last three turns for either an exact
// content duplicate or a pair whose intersection-over-union exceeds 0.8.
func (r *Record) hasStrictRepetition() bool {
	if len(r.Turns) < 3 {
		return false
	}
	last3 := r.Turns[len(r.Turns)-3:]
	for i := 0; i < len(last3); i++ {
		for j := i + 1; j < len(last3); j++ {
			if last3[i].Content == last3[j].Content {
				return true
			}
			if jaccardIntersectionOverUnion(last3[i].Content, last3[j].Content) > 0.8 {
				return true
			}
		}
	}
	return false
}

func jaccardIntersectionOverUnion(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 0
	}
	union := make(map[string]struct{}, len(wa)+len(wb))
	intersection := 0
	for w := range wa {
		union[w] = struct{}{}
	}
	for w := range wb {
		union[w] = struct{}{}
		if _, ok := wa[w]; ok {
			intersection++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}
