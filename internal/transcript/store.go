package transcript

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record is one persisted transcript turn. Text is stored post-redaction.
type Record struct {
	ID          string    `json:"id"`
	InterviewID string    `json:"interview_id"`
	Speaker     string    `json:"speaker"`
	Text        string    `json:"text"`
	Kind        string    `json:"kind"`
	PIIRedacted bool      `json:"pii_redacted"`
	SpokenAt    time.Time `json:"spoken_at"`
}

// Store persists interview transcripts.
type Store interface {
	SaveTranscript(ctx context.Context, interviewID string, records []Record) error
	GetTranscript(ctx context.Context, interviewID string) ([]Record, error)
	Close() error
}

// MemoryStore keeps transcripts in process. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]Record)}
}

func (s *MemoryStore) SaveTranscript(_ context.Context, interviewID string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.InterviewID = interviewID
		s.records[interviewID] = append(s.records[interviewID], r)
	}
	return nil
}

func (s *MemoryStore) GetTranscript(_ context.Context, interviewID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.records[interviewID]
	out := make([]Record, len(stored))
	copy(out, stored)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SpokenAt.Before(out[j].SpokenAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
