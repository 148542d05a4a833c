package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State names the phase of the interview conversation.
type State string

const (
	StateInitializing  State = "initializing"
	StateGreeting      State = "greeting"
	StateListening     State = "listening"
	StateFollowingUp   State = "following_up"
	StateIntervention  State = "supervisor_intervention"
	StateTransitioning State = "transitioning"
	StateClosing       State = "closing"
	StateCompleted     State = "completed"
)

// Speaker attributes a transcript turn.
type Speaker string

const (
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerCandidate   Speaker = "candidate"
	SpeakerSupervisor  Speaker = "supervisor"
)

// Turn is one transcript entry.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	ErrEmptyPlan     = errors.New("dialogue: plan has no questions")
	ErrAlreadyOpened = errors.New("dialogue: conversation already opened")
)

// DefaultMaxFollowUps bounds follow-up questions per planned question.
const DefaultMaxFollowUps = 2

// Machine drives the interview conversation: it walks the plan, decides
// between follow-ups, clarifications and advancement, and folds supervisor
// instructions into the flow. Input handling is total: a candidate utterance
// always yields a (possibly empty) interviewer response, never an error.
type Machine struct {
	mu           sync.Mutex
	plan         Plan
	analyzer     Analyzer
	logger       *zap.Logger
	candidate    string
	maxFollowUps int

	state            State
	section          int
	question         int
	followUps        int
	asked            int
	instructions     []string
	history          []Turn
	analyzerFailures int
	interventions    int
}

func NewMachine(plan Plan, analyzer Analyzer, candidate string, maxFollowUps int, logger *zap.Logger) (*Machine, error) {
	if plan.TotalQuestions() == 0 {
		return nil, ErrEmptyPlan
	}
	for _, s := range plan.Sections {
		if len(s.Questions) == 0 {
			return nil, fmt.Errorf("%w: section %q is empty", ErrEmptyPlan, s.Name)
		}
	}
	if maxFollowUps <= 0 {
		maxFollowUps = DefaultMaxFollowUps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		plan:         plan,
		analyzer:     analyzer,
		logger:       logger,
		candidate:    candidate,
		maxFollowUps: maxFollowUps,
		state:        StateInitializing,
	}, nil
}

// Open produces the greeting and moves to the greeting phase. The first
// question is held back until the candidate responds, so their hello is never
// scored as an answer.
func (m *Machine) Open(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInitializing {
		return "", ErrAlreadyOpened
	}

	first := m.plan.Sections[0].Questions[0].Text
	opening, err := m.analyzer.GenerateOpening(ctx, m.candidate, first)
	if err != nil {
		m.analyzerFailures++
		m.logger.Warn("opening generation failed, using fallback", zap.Error(err))
		opening = fmt.Sprintf("Hello %s, thanks for joining today. We'll get started as soon as you're ready.", m.candidate)
	}
	m.state = StateGreeting
	m.record(SpeakerInterviewer, opening, "greeting")
	return opening, nil
}

// askFirstQuestion leaves the greeting phase once the candidate has responded.
func (m *Machine) askFirstQuestion() string {
	m.asked = 1
	m.state = StateListening
	line := "Great, let's begin. " + m.plan.Sections[0].Questions[0].Text
	m.record(SpeakerInterviewer, line, "question")
	return line
}

// HandleCandidateInput consumes one candidate utterance and returns the
// interviewer's next line. After completion it returns the empty string.
func (m *Machine) HandleCandidateInput(ctx context.Context, text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateCompleted, StateClosing, StateInitializing:
		return ""
	case StateGreeting:
		m.record(SpeakerCandidate, text, "greeting")
		return m.askFirstQuestion()
	}

	m.record(SpeakerCandidate, text, "answer")

	// Supervisor guidance takes priority over the normal flow, oldest first.
	if len(m.instructions) > 0 {
		instruction := m.instructions[0]
		m.instructions = m.instructions[1:]
		return m.handleInstruction(ctx, instruction)
	}

	switch m.state {
	case StateFollowingUp:
		if m.followUps >= m.maxFollowUps {
			return m.advance(ctx)
		}
		return m.assess(ctx, text)
	default:
		return m.assess(ctx, text)
	}
}

// assess runs the analyzer over the latest answer and picks the next move.
func (m *Machine) assess(ctx context.Context, answer string) string {
	analysis, err := m.analyzer.AnalyzeAnswer(ctx, m.progress(answer))
	if err != nil {
		m.analyzerFailures++
		m.logger.Warn("answer analysis failed, acknowledging", zap.Error(err))
		ack := "Understood, thank you. Please continue when you're ready."
		m.record(SpeakerInterviewer, ack, "ack")
		return ack
	}

	if analysis.NeedsClarification {
		line, err := m.analyzer.GenerateClarification(ctx, m.progress(answer))
		if err != nil {
			m.analyzerFailures++
			line = "Let me put that another way: " + m.currentQuestion().Text
		}
		m.record(SpeakerInterviewer, line, "clarification")
		return line
	}

	if analysis.NeedsFollowUp && m.followUps < m.maxFollowUps {
		line, err := m.analyzer.GenerateFollowUp(ctx, m.progress(answer))
		if err != nil {
			m.analyzerFailures++
			line = "Could you go a bit deeper on that? A concrete example would help."
		}
		m.followUps++
		m.state = StateFollowingUp
		m.record(SpeakerInterviewer, line, "follow_up")
		return line
	}

	return m.advance(ctx)
}

func (m *Machine) handleInstruction(ctx context.Context, instruction string) string {
	m.interventions++
	m.state = StateIntervention

	ack, err := m.analyzer.GenerateIntervention(ctx, instruction, m.progress(""))
	if err != nil {
		m.analyzerFailures++
		ack = "Thanks, that's helpful context."
	}
	m.record(SpeakerInterviewer, ack, "intervention")

	switch instructionIntent(instruction) {
	case intentSkip:
		next := m.advance(ctx)
		if next == "" {
			return ack
		}
		return ack + " " + next
	case intentProbe:
		line, err := m.analyzer.GenerateFollowUp(ctx, m.progress(""))
		if err != nil {
			m.analyzerFailures++
			line = "Let's dig into that a little more. Can you expand on the details?"
		}
		m.followUps++
		m.state = StateFollowingUp
		m.record(SpeakerInterviewer, line, "follow_up")
		return ack + " " + line
	default:
		m.state = StateListening
		return ack
	}
}

// advance moves to the next planned question, emitting a transition when the
// section changes and the closing script when the plan is exhausted.
func (m *Machine) advance(ctx context.Context) string {
	m.followUps = 0
	section := m.plan.Sections[m.section]

	if m.question+1 < len(section.Questions) {
		m.question++
		m.asked++
		m.state = StateListening
		line := "Thanks for that. " + section.Questions[m.question].Text
		m.record(SpeakerInterviewer, line, "question")
		return line
	}

	if m.section+1 < len(m.plan.Sections) {
		from := section.Name
		m.section++
		m.question = 0
		m.asked++
		m.state = StateTransitioning
		next := m.plan.Sections[m.section]
		lead, err := m.analyzer.GenerateTransition(ctx, from, next.Name)
		if err != nil {
			m.analyzerFailures++
			lead = fmt.Sprintf("Great, that covers %s. Let's move on to %s.", from, next.Name)
		}
		line := lead + " " + next.Questions[0].Text
		m.state = StateListening
		m.record(SpeakerInterviewer, line, "transition")
		return line
	}

	return m.closeOut()
}

func (m *Machine) closeOut() string {
	if m.state == StateCompleted {
		return ""
	}
	m.state = StateClosing
	script := m.plan.Closing
	if len(script) == 0 {
		script = DefaultClosingScript
	}
	line := strings.Join(script, " ")
	m.record(SpeakerInterviewer, line, "closing")
	m.state = StateCompleted
	return line
}

// DriveToClosing ends the interview early with the closing script, used when
// the connection cannot be recovered.
func (m *Machine) DriveToClosing() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeOut()
}

// AddInstruction queues a supervisor instruction. It is applied after the
// candidate's next utterance; queued instructions drain oldest first.
func (m *Machine) AddInstruction(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateCompleted {
		return
	}
	m.instructions = append(m.instructions, text)
	m.record(SpeakerSupervisor, text, "instruction")
}

// Summary is a point-in-time view of interview progress.
type Summary struct {
	State            State  `json:"state"`
	Section          string `json:"section"`
	QuestionIndex    int    `json:"question_index"`
	Asked            int    `json:"asked"`
	Total            int    `json:"total"`
	FollowUps        int    `json:"follow_ups"`
	Interventions    int    `json:"interventions"`
	AnalyzerFailures int    `json:"analyzer_failures"`
	Turns            int    `json:"turns"`
}

func (m *Machine) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	sectionName := ""
	if m.section < len(m.plan.Sections) {
		sectionName = m.plan.Sections[m.section].Name
	}
	return Summary{
		State:            m.state,
		Section:          sectionName,
		QuestionIndex:    m.question,
		Asked:            m.asked,
		Total:            m.plan.TotalQuestions(),
		FollowUps:        m.followUps,
		Interventions:    m.interventions,
		AnalyzerFailures: m.analyzerFailures,
		Turns:            len(m.history),
	}
}

// State returns the current conversation state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transcript returns a copy of the recorded turns.
func (m *Machine) Transcript() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Machine) record(speaker Speaker, text, kind string) {
	m.history = append(m.history, Turn{
		Speaker:   speaker,
		Text:      text,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Machine) currentQuestion() Question {
	q, _ := m.plan.QuestionAt(m.section, m.question)
	return q
}

func (m *Machine) progress(answer string) Progress {
	return Progress{
		CandidateName: m.candidate,
		Section:       m.plan.Sections[m.section].Name,
		Question:      m.currentQuestion().Text,
		Answer:        answer,
		FollowUps:     m.followUps,
		Asked:         m.asked,
		Total:         m.plan.TotalQuestions(),
	}
}

const (
	intentSkip  = "skip"
	intentProbe = "probe"
	intentRelay = "relay"
)

// instructionIntent is a coarse keyword classification of supervisor intent.
func instructionIntent(s string) string {
	l := strings.ToLower(s)
	for _, kw := range []string{"move on", "skip", "next question", "wrap this up"} {
		if strings.Contains(l, kw) {
			return intentSkip
		}
	}
	for _, kw := range []string{"deeper", "probe", "follow up", "push on", "dig in"} {
		if strings.Contains(l, kw) {
			return intentProbe
		}
	}
	return intentRelay
}
