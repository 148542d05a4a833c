package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/candorvoice/candor/internal/dialogue"
	"github.com/candorvoice/candor/internal/session"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/internal/voice"
)

type stubRunner struct {
	startErr     error
	started      []string
	stopped      int
	instructions []string
	records      []transcript.Record
}

func (s *stubRunner) Start(_ context.Context, interviewID, _ string, _ dialogue.Plan) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, interviewID)
	return nil
}

func (s *stubRunner) Stop(context.Context) (dialogue.Summary, error) {
	s.stopped++
	return dialogue.Summary{State: dialogue.StateCompleted, Turns: 7}, nil
}

func (s *stubRunner) AddSupervisorInstruction(text string) error {
	s.instructions = append(s.instructions, text)
	return nil
}

func (s *stubRunner) Status() voice.Status {
	return voice.Status{Running: len(s.started) > s.stopped}
}

func (s *stubRunner) Transcript() []transcript.Record { return s.records }

func newTestServer(runner *stubRunner, store transcript.Store) (*Server, *session.Manager) {
	interviews := session.NewManager()
	return New(interviews, runner, store, nil, nil), interviews
}

func startBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"candidate_name": "Ada",
		"plan": map[string]any{
			"sections": []map[string]any{
				{"name": "systems", "questions": []map[string]any{
					{"question": "Design a URL shortener."},
				}},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewBuffer(body)
}

func doRequest(t *testing.T, srv *Server, method, path string, body *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestStartInterview(t *testing.T) {
	runner := &stubRunner{}
	srv, _ := newTestServer(runner, transcript.NewMemoryStore())

	rec := doRequest(t, srv, http.MethodPost, "/v1/interviews", startBody(t))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}

	var resp startInterviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Interview.CandidateName != "Ada" || resp.Interview.Status != session.StatusActive {
		t.Fatalf("interview = %+v, want active for Ada", resp.Interview)
	}
	if len(runner.started) != 1 || runner.started[0] != resp.Interview.ID {
		t.Fatalf("runner started = %v, want [%s]", runner.started, resp.Interview.ID)
	}
}

func TestStartInterviewRejectsSecondActive(t *testing.T) {
	runner := &stubRunner{}
	srv, _ := newTestServer(runner, transcript.NewMemoryStore())

	if rec := doRequest(t, srv, http.MethodPost, "/v1/interviews", startBody(t)); rec.Code != http.StatusCreated {
		t.Fatalf("first start = %d, want 201", rec.Code)
	}
	rec := doRequest(t, srv, http.MethodPost, "/v1/interviews", startBody(t))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", rec.Code)
	}
}

func TestStartInterviewRejectsEmptyPlan(t *testing.T) {
	srv, _ := newTestServer(&stubRunner{}, transcript.NewMemoryStore())

	body := bytes.NewBufferString(`{"candidate_name":"Ada","plan":{"sections":[]}}`)
	rec := doRequest(t, srv, http.MethodPost, "/v1/interviews", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStartFailureRollsBackRegistry(t *testing.T) {
	runner := &stubRunner{startErr: errors.New("dial refused")}
	srv, interviews := newTestServer(runner, transcript.NewMemoryStore())

	rec := doRequest(t, srv, http.MethodPost, "/v1/interviews", startBody(t))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if _, ok := interviews.Active(); ok {
		t.Fatal("failed start left an active interview in the registry")
	}

	// The slot must be reusable immediately.
	runner.startErr = nil
	if rec := doRequest(t, srv, http.MethodPost, "/v1/interviews", startBody(t)); rec.Code != http.StatusCreated {
		t.Fatalf("retry status = %d, want 201", rec.Code)
	}
}

func TestStopInterview(t *testing.T) {
	runner := &stubRunner{}
	srv, _ := newTestServer(runner, transcript.NewMemoryStore())

	rec := doRequest(t, srv, http.MethodPost, "/v1/interviews", startBody(t))
	var created startInterviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/interviews/"+created.Interview.ID+"/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var stopped stopInterviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stopped); err != nil {
		t.Fatalf("decode stop: %v", err)
	}
	if stopped.Interview.Status != session.StatusEnded {
		t.Fatalf("status = %s, want ended", stopped.Interview.Status)
	}
	if stopped.Summary.Turns != 7 {
		t.Fatalf("summary turns = %d, want 7", stopped.Summary.Turns)
	}
	if runner.stopped != 1 {
		t.Fatalf("runner stops = %d, want 1", runner.stopped)
	}

	if rec := doRequest(t, srv, http.MethodPost, "/v1/interviews/missing/stop", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("stop missing = %d, want 404", rec.Code)
	}
}

func TestAddInstruction(t *testing.T) {
	runner := &stubRunner{}
	srv, _ := newTestServer(runner, transcript.NewMemoryStore())

	rec := doRequest(t, srv, http.MethodPost, "/v1/interviews", startBody(t))
	var created startInterviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}

	body := bytes.NewBufferString(`{"text":"probe deeper on scaling"}`)
	rec = doRequest(t, srv, http.MethodPost, "/v1/interviews/"+created.Interview.ID+"/instructions", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body.String())
	}
	if len(runner.instructions) != 1 || runner.instructions[0] != "probe deeper on scaling" {
		t.Fatalf("instructions = %v", runner.instructions)
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/interviews/"+created.Interview.ID+"/instructions",
		bytes.NewBufferString(`{"text":""}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty instruction = %d, want 400", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/interviews/other/instructions",
		bytes.NewBufferString(`{"text":"hi"}`))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("wrong id = %d, want 404", rec.Code)
	}
}

func TestGetTranscriptLiveAndStored(t *testing.T) {
	runner := &stubRunner{records: []transcript.Record{{Speaker: "interviewer", Text: "live question"}}}
	store := transcript.NewMemoryStore()
	srv, interviews := newTestServer(runner, store)

	rec := doRequest(t, srv, http.MethodPost, "/v1/interviews", startBody(t))
	var created startInterviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	id := created.Interview.ID

	rec = doRequest(t, srv, http.MethodGet, "/v1/interviews/"+id+"/transcript", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("live question")) {
		t.Fatalf("live transcript = %d %s", rec.Code, rec.Body.String())
	}

	if err := store.SaveTranscript(context.Background(), id, []transcript.Record{{ID: "r1", Text: "stored answer"}}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if _, err := interviews.End(id); err != nil {
		t.Fatalf("end interview: %v", err)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/interviews/"+id+"/transcript", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("stored answer")) {
		t.Fatalf("stored transcript = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(&stubRunner{}, transcript.NewMemoryStore())
	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
