package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/candorvoice/candor/internal/dialogue"
	"github.com/candorvoice/candor/internal/observability"
	"github.com/candorvoice/candor/internal/session"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/internal/voice"
)

// InterviewRunner is the control surface the API needs from the voice
// orchestrator.
type InterviewRunner interface {
	Start(ctx context.Context, interviewID, candidate string, plan dialogue.Plan) error
	Stop(ctx context.Context) (dialogue.Summary, error)
	AddSupervisorInstruction(text string) error
	Status() voice.Status
	Transcript() []transcript.Record
}

type Server struct {
	interviews *session.Manager
	runner     InterviewRunner
	store      transcript.Store
	metrics    *observability.Metrics
	logger     *zap.Logger
}

func New(interviews *session.Manager, runner InterviewRunner, store transcript.Store, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		interviews: interviews,
		runner:     runner,
		store:      store,
		metrics:    metrics,
		logger:     logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/interviews", s.handleStartInterview)
	r.Post("/v1/interviews/{id}/stop", s.handleStopInterview)
	r.Post("/v1/interviews/{id}/instructions", s.handleAddInstruction)
	r.Get("/v1/interviews/{id}", s.handleGetInterview)
	r.Get("/v1/interviews/{id}/transcript", s.handleGetTranscript)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"active_interviews": s.interviews.ActiveCount(),
	})
}

type startInterviewRequest struct {
	CandidateName string        `json:"candidate_name"`
	Plan          dialogue.Plan `json:"plan"`
}

type startInterviewResponse struct {
	Interview *session.Interview `json:"interview"`
}

func (s *Server) handleStartInterview(w http.ResponseWriter, r *http.Request) {
	var req startInterviewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.CandidateName) == "" {
		req.CandidateName = "candidate"
	}
	if req.Plan.TotalQuestions() == 0 {
		respondError(w, http.StatusBadRequest, "empty_plan", "plan must contain at least one question")
		return
	}

	iv, err := s.interviews.Create(req.CandidateName, len(req.Plan.Sections), req.Plan.TotalQuestions())
	if err != nil {
		if errors.Is(err, session.ErrActiveExists) {
			respondError(w, http.StatusConflict, "interview_active", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if err := s.runner.Start(r.Context(), iv.ID, req.CandidateName, req.Plan); err != nil {
		// Roll the registry back so a later attempt is not blocked.
		if _, endErr := s.interviews.End(iv.ID); endErr != nil {
			s.logger.Warn("registry rollback failed", zap.Error(endErr))
		}
		s.logger.Error("interview start failed", zap.String("interview_id", iv.ID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "interview_start_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, startInterviewResponse{Interview: iv})
}

type stopInterviewResponse struct {
	Interview *session.Interview `json:"interview"`
	Summary   dialogue.Summary   `json:"summary"`
}

func (s *Server) handleStopInterview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.interviews.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "interview_not_found", err.Error())
		return
	}

	summary, err := s.runner.Stop(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}
	iv, err := s.interviews.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "interview_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stopInterviewResponse{Interview: iv, Summary: summary})
}

type instructionRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAddInstruction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	active, ok := s.interviews.Active()
	if !ok || active.ID != id {
		respondError(w, http.StatusNotFound, "interview_not_active", "no active interview with that id")
		return
	}

	var req instructionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_instruction", "instruction text is required")
		return
	}

	if err := s.runner.AddSupervisorInstruction(req.Text); err != nil {
		respondError(w, http.StatusConflict, "not_running", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	iv, err := s.interviews.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "interview_not_found", err.Error())
		return
	}

	payload := map[string]any{"interview": iv}
	if iv.Status == session.StatusActive {
		payload["status"] = s.runner.Status()
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	iv, err := s.interviews.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "interview_not_found", err.Error())
		return
	}

	// A live interview serves from memory; finished ones come from the store.
	if iv.Status == session.StatusActive {
		respondJSON(w, http.StatusOK, map[string]any{"records": s.runner.Transcript()})
		return
	}
	records, err := s.store.GetTranscript(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
