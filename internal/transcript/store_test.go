package transcript

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "t2", Speaker: "candidate", Text: "I built it in Go.", Kind: "answer", SpokenAt: base.Add(time.Minute)},
		{ID: "t1", Speaker: "interviewer", Text: "What did you build?", Kind: "question", SpokenAt: base},
	}
	if err := store.SaveTranscript(ctx, "iv-1", records); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	got, err := store.GetTranscript(ctx, "iv-1")
	if err != nil {
		t.Fatalf("GetTranscript() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].ID != "t1" || got[1].ID != "t2" {
		t.Fatalf("order = [%s %s], want chronological [t1 t2]", got[0].ID, got[1].ID)
	}
	for _, r := range got {
		if r.InterviewID != "iv-1" {
			t.Fatalf("interview id = %q, want iv-1", r.InterviewID)
		}
	}
}

func TestMemoryStoreIsolatesInterviews(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SaveTranscript(ctx, "a", []Record{{ID: "1", Text: "hi"}}); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	got, err := store.GetTranscript(ctx, "b")
	if err != nil {
		t.Fatalf("GetTranscript() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("records for other interview = %d, want 0", len(got))
	}
}
