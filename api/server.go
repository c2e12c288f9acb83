// Package api serves a meeting session over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"node.town/parley/session"
	"node.town/parley/transcript"
	"node.town/parley/tts"
	"node.town/parley/usage"
)

// Meeting is the part of a session the API exposes.
type Meeting interface {
	ID() string
	Transcript(mode session.Mode, minutes float64) (transcript.Transcript, error)
	ParticipantTranscript() transcript.Transcript
	Segments() transcript.Transcript
	Speak(ctx context.Context, text string) error
	Interrupt() bool
	Subscribe(resource string, fn func() error) func()
	Usage() usage.Usage
	Drift() time.Duration
	Failed() int64
}

type Server struct {
	meeting Meeting
	logger  *log.Logger
	router  *chi.Mux
}

func New(m Meeting, logger *log.Logger) *Server {
	s := &Server{
		meeting: m,
		logger:  logger,
		router:  chi.NewRouter(),
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(withSentryRecovery)

	r.Get("/health", s.handleHealth)
	r.Get("/transcript", s.handleTranscript)
	r.Get("/transcript/live", s.handleLiveTranscript)
	r.Get("/transcript/segments", s.handleSegments)
	r.Get("/usage", s.handleUsage)
	r.Post("/speak", s.handleSpeak)
	r.Post("/interrupt", s.handleInterrupt)
	r.Get("/subscribe", s.handleSubscribe)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"session":      s.meeting.ID(),
		"drift_ms":     s.meeting.Drift().Milliseconds(),
		"lost_batches": s.meeting.Failed(),
	})
}

type transcriptResponse struct {
	Segments []transcript.Segment `json:"segments"`
	Speakers []string             `json:"speakers"`
	Seconds  float64              `json:"seconds"`
}

func newTranscriptResponse(t transcript.Transcript) transcriptResponse {
	segs := t.Segments
	if segs == nil {
		segs = []transcript.Segment{}
	}
	speakers := t.Speakers()
	if speakers == nil {
		speakers = []string{}
	}
	return transcriptResponse{Segments: segs, Speakers: speakers, Seconds: t.Seconds()}
}

func (s *Server) handleTranscript(w http.ResponseWriter, req *http.Request) {
	mode := session.Mode(req.URL.Query().Get("mode"))

	var minutes float64
	if raw := req.URL.Query().Get("minutes"); raw != "" {
		m, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "minutes must be a number")
			return
		}
		minutes = m
	}

	t, err := s.meeting.Transcript(mode, minutes)
	if errors.Is(err, session.ErrUnknownMode) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newTranscriptResponse(t))
}

func (s *Server) handleLiveTranscript(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newTranscriptResponse(s.meeting.ParticipantTranscript()))
}

func (s *Server) handleSegments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newTranscriptResponse(s.meeting.Segments()))
}

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.meeting.Usage())
}

type speakRequest struct {
	Text string `json:"text"`
}

type speakResponse struct {
	Status     string `json:"status"`
	SpokenText string `json:"spoken_text"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, req *http.Request) {
	var body speakRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	err := s.meeting.Speak(req.Context(), body.Text)

	var ie *tts.InterruptedError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, speakResponse{Status: "completed", SpokenText: body.Text})
	case errors.As(err, &ie):
		writeJSON(w, http.StatusOK, speakResponse{Status: "interrupted", SpokenText: ie.SpokenText})
	case errors.Is(err, tts.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "speech output is not available")
	case errors.Is(err, tts.ErrCancelled):
		writeError(w, http.StatusServiceUnavailable, "speech was cancelled")
	default:
		s.logger.Error("speak", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleInterrupt(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"interrupted": s.meeting.Interrupt()})
}
