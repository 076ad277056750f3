package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Toobanaz/ai-audience-mentor/internal/audio"
	"github.com/Toobanaz/ai-audience-mentor/internal/bodylang"
	"github.com/Toobanaz/ai-audience-mentor/internal/coach"
	"github.com/Toobanaz/ai-audience-mentor/internal/dialogue"
	"github.com/Toobanaz/ai-audience-mentor/internal/llm"
	"github.com/Toobanaz/ai-audience-mentor/internal/metrics"
	"github.com/Toobanaz/ai-audience-mentor/internal/store"
	"github.com/Toobanaz/ai-audience-mentor/internal/stt"
	"github.com/Toobanaz/ai-audience-mentor/internal/transcript"
)

// BufferSizer reports the number of turn events waiting to be written.
type BufferSizer interface {
	BufferLen() int
}

// Pinger checks the store connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	svc       *coach.Service
	store     Pinger
	buffer    BufferSizer
	metrics   *metrics.Metrics
	maxUpload int64
	router    chi.Router
	http      *http.Server
}

// NewServer builds the router. m and b may be nil.
func NewServer(svc *coach.Service, s Pinger, b BufferSizer, m *metrics.Metrics, port int, maxUpload int64) *Server {
	srv := &Server{
		svc:       svc,
		store:     s,
		buffer:    b,
		metrics:   m,
		maxUpload: maxUpload,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if m != nil {
		r.Use(srv.instrument)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Post("/transcribe", srv.handleTranscribe)
		r.Post("/analyze", srv.handleAnalyze)
		r.Get("/sessions", srv.handleListSessions)
		r.Get("/sessions/{sessionID}", srv.handleGetSession)
		r.Delete("/sessions/{sessionID}", srv.handleDeleteSession)
		r.Get("/sessions/{sessionID}/dialogue", srv.handleDialogueState)
		r.Delete("/sessions/{sessionID}/dialogue", srv.handleResetDialogue)
		r.Post("/body/frames", srv.handleBodyFrames)
		r.Get("/body/metrics", srv.handleBodyMetrics)
	})
	r.Handle("/metrics", promhttp.Handler())

	srv.router = r
	srv.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

func (s *Server) Start() error {
	slog.Info("starting HTTP API", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "ai-audience-mentor",
	}
	if s.buffer != nil {
		body["buffer_size"] = s.buffer.BufferLen()
	}
	status := http.StatusOK
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			slog.Warn("health: store unreachable", "error", err)
			body["status"] = "degraded"
			body["store_error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "audio upload too large", "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio upload too large", "")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with an audio file", err.Error())
		return
	}
	f, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file", err.Error())
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio file", err.Error())
		return
	}

	text, err := s.svc.Transcribe(r.Context(), r.FormValue("sessionId"), data)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": text})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req coach.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	resp, err := s.svc.Analyze(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := s.svc.Sessions(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDialogueState(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	st, err := s.svc.DialogueState(r.Context(), sid)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sid, "state": st})
}

func (s *Server) handleResetDialogue(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ResetDialogue(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type framesRequest struct {
	Frames []bodylang.Frame `json:"frames"`
}

func (s *Server) handleBodyFrames(w http.ResponseWriter, r *http.Request) {
	var req framesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	n := s.svc.ObserveFrames(req.Frames)
	writeJSON(w, http.StatusAccepted, map[string]int{"observed": n})
}

func (s *Server) handleBodyMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.BodyMetrics(r.Context()))
}

// writeServiceError maps domain errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ire *llm.InvalidResponseError
	switch {
	case errors.Is(err, transcript.ErrEmptyAudio), errors.Is(err, audio.ErrInvalidWAV), errors.Is(err, audio.ErrUnsupportedAudio):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, transcript.ErrNoSpeech), errors.Is(err, transcript.ErrEmptyTranscript):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "")
	case errors.Is(err, dialogue.ErrNoExplanation):
		writeError(w, http.StatusUnprocessableEntity, dialogue.ErrNoExplanation.Error(), "")
	case errors.As(err, &ire):
		slog.Error("invalid model response", "request_id", middleware.GetReqID(r.Context()), "reason", ire.Reason, "snippet", ire.Snippet)
		writeError(w, http.StatusBadGateway, "the language model returned an unusable response", ire.Reason)
	case errors.Is(err, llm.ErrUpstream), errors.Is(err, stt.ErrUpstream):
		writeError(w, http.StatusBadGateway, "upstream service failed", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found", "")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "session was modified concurrently, please retry", "")
	case errors.Is(err, coach.ErrModeMismatch):
		writeError(w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, coach.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	default:
		slog.Error("request failed", "request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	body := map[string]string{"error": msg}
	if detail != "" {
		body["detail"] = detail
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
