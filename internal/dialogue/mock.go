package dialogue

import (
	"context"
	"fmt"
	"strings"
)

// MockAnalyzer is a deterministic analyzer for offline runs and tests. Its
// verdicts come from cheap surface features of the answer text.
type MockAnalyzer struct{}

func (MockAnalyzer) GenerateOpening(_ context.Context, candidate, _ string) (string, error) {
	return fmt.Sprintf("Hi %s, thanks for joining today. Whenever you're ready, we'll get going.", candidate), nil
}

func (MockAnalyzer) AnalyzeAnswer(_ context.Context, p Progress) (Analysis, error) {
	answer := strings.TrimSpace(p.Answer)
	if strings.Contains(answer, "?") {
		return Analysis{NeedsClarification: true}, nil
	}
	if len(strings.Fields(answer)) < 12 {
		return Analysis{NeedsFollowUp: true}, nil
	}
	return Analysis{}, nil
}

func (MockAnalyzer) GenerateFollowUp(_ context.Context, p Progress) (string, error) {
	return "Could you go deeper on that? A concrete example of what you did would help.", nil
}

func (MockAnalyzer) GenerateClarification(_ context.Context, p Progress) (string, error) {
	return "Sure, let me rephrase: " + p.Question, nil
}

func (MockAnalyzer) GenerateIntervention(_ context.Context, _ string, _ Progress) (string, error) {
	return "Thanks, that's useful context.", nil
}

func (MockAnalyzer) GenerateTransition(_ context.Context, fromSection, toSection string) (string, error) {
	return fmt.Sprintf("Great, that wraps up %s. Next, let's talk about %s.", fromSection, toSection), nil
}
