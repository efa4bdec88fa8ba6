package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/carelinehq/careline/internal/config"
	"github.com/carelinehq/careline/internal/consult"
	"github.com/carelinehq/careline/internal/gateway"
	"github.com/carelinehq/careline/internal/intake"
	"github.com/carelinehq/careline/internal/observability"
	"github.com/carelinehq/careline/internal/speech"
)

// ConsultService is the caller-facing consultation API implemented by the
// orchestrator.
type ConsultService interface {
	Start(ctx context.Context, specialty string) (*consult.Session, error)
	Continue(ctx context.Context, sessionID, patientText string) (*consult.Session, error)
	End(ctx context.Context, sessionID string) (*consult.Session, error)
	Get(sessionID string) (*consult.Session, error)
}

// SummaryService runs the one-shot intake and post-op flows.
type SummaryService interface {
	SubmitIntake(ctx context.Context, fields intake.IntakeFields) (gateway.ClinicalSummary, error)
	SubmitPostOp(ctx context.Context, fields intake.PostOpFields) (gateway.ClinicalSummary, error)
}

type Server struct {
	cfg       config.Config
	consults  ConsultService
	summaries SummaryService
	speech    speech.Synthesizer
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, consults ConsultService, summaries SummaryService, synth speech.Synthesizer, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		consults:  consults,
		summaries: summaries,
		speech:    synth,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/consultations", s.handleStartConsultation)
	r.Get("/v1/consultations/{id}", s.handleGetConsultation)
	r.Post("/v1/consultations/{id}/messages", s.handleContinueConsultation)
	r.Post("/v1/consultations/{id}/end", s.handleEndConsultation)
	r.Get("/v1/consultations/{id}/ws", s.handleConsultationWS)

	r.Post("/v1/intake", s.handleIntake)
	r.Post("/v1/postop", s.handlePostOp)
	r.Post("/v1/speech", s.handleSpeech)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type startRequest struct {
	Specialty string `json:"specialty"`
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleStartConsultation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Specialty) == "" {
		req.Specialty = "general-practice"
	}

	sess, err := s.consults.Start(r.Context(), req.Specialty)
	if err != nil {
		s.respondConsultError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetConsultation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.consults.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondConsultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleContinueConsultation(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.consults.Continue(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		s.respondConsultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndConsultation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.consults.End(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondConsultError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	var fields intake.IntakeFields
	if err := decodeJSON(r, &fields); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	summary, err := s.summaries.SubmitIntake(r.Context(), fields)
	s.observeIntake("intake", err)
	if err != nil {
		s.respondSummaryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePostOp(w http.ResponseWriter, r *http.Request) {
	var fields intake.PostOpFields
	if err := decodeJSON(r, &fields); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	summary, err := s.summaries.SubmitPostOp(r.Context(), fields)
	s.observeIntake("postop", err)
	if err != nil {
		s.respondSummaryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type speechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}

	audio, err := s.speech.Synthesize(r.Context(), req.Text, req.VoiceID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "speech_failed", err.Error())
		return
	}
	if len(audio) == 0 {
		// Degraded (throttled or no provider): a silent no-op, not a failure.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func (s *Server) respondConsultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consult.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, consult.ErrSessionClosed):
		respondError(w, http.StatusConflict, "session_closed", err.Error())
	case errors.Is(err, consult.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "empty_message", err.Error())
	case errors.Is(err, consult.ErrUnknownSpecialty):
		respondError(w, http.StatusBadRequest, "unknown_specialty", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) respondSummaryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrMissingField):
		respondError(w, http.StatusBadRequest, "missing_field", err.Error())
	case errors.Is(err, gateway.ErrMalformed):
		// Retryable: the completion violated its schema, the caller should
		// submit again.
		respondError(w, http.StatusBadGateway, "malformed_completion", err.Error())
	case errors.Is(err, gateway.ErrRateLimited), errors.Is(err, gateway.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "gateway_unavailable", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) observeIntake(flow string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.IntakeRequests.WithLabelValues(flow, result).Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
