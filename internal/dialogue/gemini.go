package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiAnalyzer backs the interview brain with the Gemini API. Every
// failure mode maps to ErrAnalysisUnavailable so the state machine can fall
// back to scripted behavior.
type GeminiAnalyzer struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

func NewGeminiAnalyzer(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("dialogue: gemini api key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("dialogue: create gemini client: %w", err)
	}
	return &GeminiAnalyzer{client: client, logger: logger, model: model}, nil
}

func (g *GeminiAnalyzer) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(0.6)),
		MaxOutputTokens: 256,
	}
	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty response", ErrAnalysisUnavailable)
	}
	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		text += part.Text
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrAnalysisUnavailable)
	}
	return text, nil
}

func (g *GeminiAnalyzer) GenerateOpening(ctx context.Context, candidate, firstQuestion string) (string, error) {
	prompt := fmt.Sprintf(
		"You are a warm, professional technical interviewer. Greet the candidate named %q in one or two "+
			"sentences and let them know the interview begins once they respond. The first question will "+
			"cover: %q. Do not ask it yet. Respond with spoken text only, no markdown.",
		candidate, firstQuestion)
	return g.generate(ctx, prompt)
}

func (g *GeminiAnalyzer) AnalyzeAnswer(ctx context.Context, p Progress) (Analysis, error) {
	prompt := fmt.Sprintf(
		"You are evaluating one answer in a voice interview.\n"+
			"Section: %s\nQuestion: %s\nAnswer: %s\n\n"+
			"Decide two things. needs_clarification: the candidate misunderstood or asked what was meant. "+
			"needs_follow_up: the answer is thin and one more probing question would reveal more.\n"+
			"Reply with strict JSON only: {\"needs_clarification\":bool,\"needs_follow_up\":bool}",
		p.Section, p.Question, p.Answer)
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return Analysis{}, err
	}

	// Models occasionally wrap JSON in prose or fences; take the outermost braces.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Analysis{}, fmt.Errorf("%w: no JSON in response", ErrAnalysisUnavailable)
	}
	var analysis Analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	return analysis, nil
}

func (g *GeminiAnalyzer) GenerateFollowUp(ctx context.Context, p Progress) (string, error) {
	prompt := fmt.Sprintf(
		"You are a technical interviewer. The question was: %q. The candidate answered: %q. "+
			"Ask one short, specific follow-up question that digs into the weakest part of the answer. "+
			"Spoken text only.",
		p.Question, p.Answer)
	return g.generate(ctx, prompt)
}

func (g *GeminiAnalyzer) GenerateClarification(ctx context.Context, p Progress) (string, error) {
	prompt := fmt.Sprintf(
		"You are a technical interviewer. The candidate seems confused by the question %q. "+
			"Restate it more simply in one or two sentences without changing what is being asked. "+
			"Spoken text only.",
		p.Question)
	return g.generate(ctx, prompt)
}

func (g *GeminiAnalyzer) GenerateIntervention(ctx context.Context, instruction string, p Progress) (string, error) {
	prompt := fmt.Sprintf(
		"You are a technical interviewer mid-conversation on the question %q. A supervisor just told you: %q. "+
			"Produce one natural spoken sentence that smoothly acts on that guidance without mentioning the "+
			"supervisor. Spoken text only.",
		p.Question, instruction)
	return g.generate(ctx, prompt)
}

func (g *GeminiAnalyzer) GenerateTransition(ctx context.Context, fromSection, toSection string) (string, error) {
	prompt := fmt.Sprintf(
		"You are a technical interviewer finishing the %q part of an interview and moving to %q. "+
			"Produce one short spoken transition sentence. Do not ask a question yet.",
		fromSection, toSection)
	return g.generate(ctx, prompt)
}
