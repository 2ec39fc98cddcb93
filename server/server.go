// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/pipeline"
	"github.com/tesumi/memolette/retrieval"
)

// Server wraps the pipeline with the HTTP API.
type Server struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	validate *validator.Validate

	defaultBudget int
	turnLimit     int
}

// Options tune request defaults.
type Options struct {
	DefaultBudget int
	TurnLimit     int
}

// New builds a server around a pipeline.
func New(p *pipeline.Pipeline, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultBudget <= 0 {
		opts.DefaultBudget = 2000
	}
	if opts.TurnLimit <= 0 {
		opts.TurnLimit = 20
	}
	return &Server{
		pipeline:      p,
		logger:        logger,
		validate:      validator.New(),
		defaultBudget: opts.DefaultBudget,
		turnLimit:     opts.TurnLimit,
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/search", s.handleSearch)
		r.Get("/subjects/{subject}/profile", s.handleProfile)
		r.Post("/context", s.handleContext)
		r.Post("/turns", s.handleRecordTurn)
		r.Get("/sessions/{session}/turns", s.handleSessionTurns)
		r.Get("/statistics", s.handleStatistics)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	Session   string `json:"session"`
	Speaker   string `json:"speaker" validate:"required"`
	Utterance string `json:"utterance" validate:"required"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.pipeline.Ingest(r.Context(), req.Session, req.Speaker, req.Utterance)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.badRequest(w, "query parameter q is required")
		return
	}
	opts := retrieval.Options{
		SubjectFilter:       q.Get("subject"),
		MaxResults:          intParam(q.Get("limit"), 10),
		SimilarityThreshold: floatParam(q.Get("threshold"), 0),
	}
	results, err := s.pipeline.Search(r.Context(), query, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	profile, err := s.pipeline.Profile(r.Context(), subject)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject": subject,
		"facts":   profile,
	})
}

type contextRequest struct {
	Query               string  `json:"query" validate:"required"`
	Session             string  `json:"session"`
	Subject             string  `json:"subject"`
	MaxResults          int     `json:"max_results"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	Budget              int     `json:"budget"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Budget <= 0 {
		req.Budget = s.defaultBudget
	}
	pkg, err := s.pipeline.Query(r.Context(), pipeline.QueryRequest{
		Query:               req.Query,
		Session:             req.Session,
		SubjectFilter:       req.Subject,
		MaxResults:          req.MaxResults,
		SimilarityThreshold: req.SimilarityThreshold,
		Budget:              req.Budget,
		TurnLimit:           s.turnLimit,
	})
	if errors.Is(err, fact.ErrBudgetTooSmall) {
		// The package still carries the guaranteed turn.
		writeJSON(w, http.StatusOK, map[string]any{
			"context":          pkg,
			"budget_too_small": true,
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"context": pkg})
}

type turnRequest struct {
	Session string `json:"session" validate:"required"`
	Role    string `json:"role" validate:"required"`
	Content string `json:"content" validate:"required"`
}

func (s *Server) handleRecordTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.pipeline.RecordTurn(r.Context(), fact.ConversationTurn{
		Session: req.Session,
		Role:    req.Role,
		Content: req.Content,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *Server) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	limit := intParam(r.URL.Query().Get("limit"), s.turnLimit)
	turns, err := s.pipeline.RecentTurns(r.Context(), session, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"turns":   turns,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pipeline.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decode parses and validates a JSON body; it writes the error
// response itself and reports whether the caller should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.badRequest(w, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.badRequest(w, err.Error())
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fact.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fact.ErrInvalidFact):
		status = http.StatusBadRequest
	case errors.Is(err, fact.ErrStoreConflict):
		status = http.StatusConflict
	case errors.Is(err, fact.ErrExtractionUnavailable),
		errors.Is(err, fact.ErrEmbeddingUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func floatParam(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}
