package dialogue

import (
	"context"
	"errors"
)

// ErrAnalysisUnavailable signals that the analyzer could not produce a usable
// result. The state machine absorbs it with a generic acknowledgment and the
// interview keeps moving.
var ErrAnalysisUnavailable = errors.New("dialogue: analysis unavailable")

// Progress is the context an analyzer gets about where the interview stands.
type Progress struct {
	CandidateName string
	Section       string
	Question      string
	Answer        string
	FollowUps     int
	Asked         int
	Total         int
}

// Analysis is the analyzer's verdict on a candidate answer.
type Analysis struct {
	NeedsClarification bool `json:"needs_clarification"`
	NeedsFollowUp      bool `json:"needs_follow_up"`
}

// Analyzer produces interviewer speech and answer verdicts. Implementations
// must be safe for use from a single goroutine at a time.
//
// GenerateOpening receives the first planned question as context for the
// welcome; the greeting itself must not pose it. The question is asked only
// after the candidate responds to the greeting.
type Analyzer interface {
	GenerateOpening(ctx context.Context, candidate, firstQuestion string) (string, error)
	AnalyzeAnswer(ctx context.Context, p Progress) (Analysis, error)
	GenerateFollowUp(ctx context.Context, p Progress) (string, error)
	GenerateClarification(ctx context.Context, p Progress) (string, error)
	GenerateIntervention(ctx context.Context, instruction string, p Progress) (string, error)
	GenerateTransition(ctx context.Context, fromSection, toSection string) (string, error)
}
