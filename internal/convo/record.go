// Package convo is the conversation manager: the per-conversation state
// machine that acquires a lock, drives alternating turns to completion,
// detects termination, and publishes lifecycle events.
package convo

import (
	"strings"
	"time"
)

// Status is a conversation record's lifecycle state. Once terminal it
// never changes.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
	StatusStopped      Status = "stopped"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusStopped:
		return true
	default:
		return false
	}
}

// CompletionReason explains why a conversation reached a terminal state.
type CompletionReason string

const (
	ReasonMaxTurns      CompletionReason = "max_turns"
	ReasonTimeout       CompletionReason = "timeout"
	ReasonNaturalEnding CompletionReason = "natural_ending"
	ReasonRepetition    CompletionReason = "repetition"
	ReasonError         CompletionReason = "error"
)

// Turn is one utterance, attributed to one provider.
type Turn struct {
	TurnNumber int       `json:"turn_number"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Model      string    `json:"model"`
	LatencyMS  *int64    `json:"latency_ms,omitempty"`
	Tokens     *int      `json:"tokens,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Metadata mirrors the spec's metadata block.
type Metadata struct {
	Status           Status            `json:"status"`
	TotalTurns       int               `json:"total_turns"`
	TotalTokens      int               `json:"total_tokens"`
	ModelsUsed       []string          `json:"models_used"`
	DurationSeconds  float64           `json:"duration_seconds"`
	CompletionReason *CompletionReason `json:"completion_reason,omitempty"`
	QualityScore     *float64          `json:"quality_score,omitempty"`
}

// Record is the conversation record, identified by a UUID.
type Record struct {
	ConversationID string    `json:"conversation_id"`
	Topic          string    `json:"topic"`
	Source         string    `json:"source"`
	SourceURL      string    `json:"source_url,omitempty"`
	Turns          []Turn    `json:"turns"`
	Metadata       Metadata  `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// applyInvariants recomputes the fields the spec ties to turns:
// total_turns, total_tokens, models_used, duration_seconds. Called after
// every mutation so the record never observably violates them.
func (r *Record) applyInvariants() {
	r.Metadata.TotalTurns = len(r.Turns)

	total := 0
	seen := map[string]bool{}
	var models []string
	for _, t := range r.Turns {
		if t.Tokens != nil {
			total += *t.Tokens
		}
		if !seen[t.Model] {
			seen[t.Model] = true
			models = append(models, t.Model)
		}
	}
	r.Metadata.TotalTokens = total
	r.Metadata.ModelsUsed = models

	if len(r.Turns) >= 2 {
		r.Metadata.DurationSeconds = r.Turns[len(r.Turns)-1].Timestamp.Sub(r.Turns[0].Timestamp).Seconds()
	} else {
		r.Metadata.DurationSeconds = 0
	}
}

// AppendTurn adds a turn, assigning turn_number = len(turns)+1, and
// recomputes invariants. Returns the assigned turn for convenience.
func (r *Record) AppendTurn(t Turn) Turn {
	t.TurnNumber = len(r.Turns) + 1
	r.Turns = append(r.Turns, t)
	r.applyInvariants()
	r.UpdatedAt = t.Timestamp
	return t
}

// SetTerminal transitions the record to a terminal status exactly once;
// subsequent calls are no-ops per invariant 5 (status monotonicity).
func (r *Record) SetTerminal(status Status, reason CompletionReason, at time.Time) {
	if r.Metadata.Status.Terminal() {
		return
	}
	r.Metadata.Status = status
	r.Metadata.CompletionReason = &reason
	r.applyInvariants()
	r.UpdatedAt = at
}

// primaryNaturalEndingPhrases is the loop's authoritative check (spec
// §4.3.2), deliberately a shorter list than SelfCheck's.
var primaryNaturalEndingPhrases = []string{
	"in conclusion", "to summarize", "overall", "in summary",
	"that concludes", "final thoughts",
}

// HasNaturalEnding is the loop's primary natural-ending predicate: the
// last turn's lowercased content contains any of the short phrase list.
func (r *Record) HasNaturalEnding() bool {
	if len(r.Turns) == 0 {
		return false
	}
	last := strings.ToLower(r.Turns[len(r.Turns)-1].Content)
	for _, phrase := range primaryNaturalEndingPhrases {
		if strings.Contains(last, phrase) {
			return true
		}
	}
	return false
}

// HasRepetition is the loop's primary repetition predicate: over the
// last four turns, any unordered pair whose Jaccard-style overlap
// (intersection / min set size) exceeds 0.7, restricted to pairs where
// both contents exceed 10 words.
func (r *Record) HasRepetition() bool {
	if len(r.Turns) < 4 {
		return false
	}
	last4 := r.Turns[len(r.Turns)-4:]
	for i := 0; i < len(last4); i++ {
		for j := i + 1; j < len(last4); j++ {
			if jaccardOverlapMinSize(last4[i].Content, last4[j].Content) > 0.7 {
				return true
			}
		}
	}
	return false
}

func wordSet(content string) map[string]struct{} {
	fields := strings.Fields(content)
	set := make(map[string]struct{}, len(fields))
	for _, w := range fields {
		set[w] = struct{}{}
	}
	return set
}

func jaccardOverlapMinSize(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) <= 10 || len(wb) <= 10 {
		return 0
	}
	overlap := 0
	smaller, larger := wa, wb
	if len(larger) < len(smaller) {
		smaller, larger = larger, smaller
	}
	for w := range smaller {
		if _, ok := larger[w]; ok {
			overlap++
		}
	}
	minSize := len(wa)
	if len(wb) < minSize {
		minSize = len(wb)
	}
	return float64(overlap) / float64(minSize)
}
