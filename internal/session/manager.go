package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound     = errors.New("interview not found")
	ErrActiveExists = errors.New("an interview is already active")
)

// Interview is the registry record for one interview run.
type Interview struct {
	ID            string    `json:"interview_id"`
	CandidateName string    `json:"candidate_name"`
	Status        Status    `json:"status"`
	Sections      int       `json:"sections"`
	Questions     int       `json:"questions"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
}

// Manager is the in-process interview registry. The audio path owns the
// host's one microphone and speaker, so at most one interview is active.
type Manager struct {
	mu         sync.RWMutex
	interviews map[string]*Interview
	activeID   string
}

func NewManager() *Manager {
	return &Manager{interviews: make(map[string]*Interview)}
}

// Create registers a new active interview. It fails while another one runs.
func (m *Manager) Create(candidateName string, sections, questions int) (*Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID != "" {
		return nil, ErrActiveExists
	}

	iv := &Interview{
		ID:            uuid.NewString(),
		CandidateName: candidateName,
		Status:        StatusActive,
		Sections:      sections,
		Questions:     questions,
		StartedAt:     time.Now().UTC(),
	}
	m.interviews[iv.ID] = iv
	m.activeID = iv.ID
	return clone(iv), nil
}

func (m *Manager) Get(interviewID string) (*Interview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	iv, ok := m.interviews[interviewID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(iv), nil
}

// End marks the interview ended. Ending twice is not an error.
func (m *Manager) End(interviewID string) (*Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interviews[interviewID]
	if !ok {
		return nil, ErrNotFound
	}
	if iv.Status != StatusEnded {
		iv.Status = StatusEnded
		iv.EndedAt = time.Now().UTC()
	}
	if m.activeID == interviewID {
		m.activeID = ""
	}
	return clone(iv), nil
}

// Active returns the currently running interview, if any.
func (m *Manager) Active() (*Interview, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeID == "" {
		return nil, false
	}
	iv, ok := m.interviews[m.activeID]
	if !ok {
		return nil, false
	}
	return clone(iv), true
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeID != "" {
		return 1
	}
	return 0
}

func clone(iv *Interview) *Interview {
	c := *iv
	return &c
}
