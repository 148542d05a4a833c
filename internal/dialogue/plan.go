package dialogue

// Question is one planned interview question with the points a good answer
// should touch.
type Question struct {
	Text             string   `json:"question"`
	EvaluationPoints []string `json:"evaluation_points,omitempty"`
}

// Section groups questions under a named topic.
type Section struct {
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// Plan is the full interview outline. Closing overrides the default closing
// script when set.
type Plan struct {
	Sections []Section `json:"sections"`
	Closing  []string  `json:"closing,omitempty"`
}

// TotalQuestions counts planned questions across all sections.
func (p Plan) TotalQuestions() int {
	n := 0
	for _, s := range p.Sections {
		n += len(s.Questions)
	}
	return n
}

// QuestionAt returns the question at (section, index) if it exists.
func (p Plan) QuestionAt(section, index int) (Question, bool) {
	if section < 0 || section >= len(p.Sections) {
		return Question{}, false
	}
	qs := p.Sections[section].Questions
	if index < 0 || index >= len(qs) {
		return Question{}, false
	}
	return qs[index], true
}

// DefaultClosingScript is spoken when a plan carries no closing of its own.
var DefaultClosingScript = []string{
	"That brings us to the end of our questions.",
	"Thank you for walking me through your experience today.",
	"Our team will review the conversation and follow up with next steps soon.",
	"Have a great rest of your day.",
}
