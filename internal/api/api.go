// Package api serves the operator websocket endpoint and the read-only
// HTTP routes for call history and runtime state.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/callpop/internal/cache"
	"github.com/sweeney/callpop/internal/history"
	"github.com/sweeney/callpop/internal/hub"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Stats is the runtime snapshot served on /stats.
type Stats struct {
	Operators       hub.Stats     `json:"operators"`
	Caches          []cache.Stats `json:"caches"`
	CallSessions    int           `json:"callSessions"`
	Cursor          int64         `json:"cursor"`
	StreamConnected bool          `json:"streamConnected"`
}

// Deps are what the routes read from.
type Deps struct {
	// Operators serves the websocket upgrade on /ws.
	Operators http.Handler
	History   history.Store
	Stats     func() Stats
}

type server struct {
	Deps
}

// NewRouter builds the HTTP routes.
func NewRouter(deps Deps) http.Handler {
	s := &server{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/ws", deps.Operators)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Route("/api", func(r chi.Router) {
		r.Use(requestLogger)
		r.Get("/operators/{ext}/calls", s.handleOperatorCalls)
		r.Get("/calls/{id}", s.handleCall)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.Stats()
	status := http.StatusOK
	body := map[string]any{"status": "ok", "streamConnected": st.StreamConnected}
	if !st.StreamConnected {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

func (s *server) handleOperatorCalls(w http.ResponseWriter, r *http.Request) {
	ext := chi.URLParam(r, "ext")

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	records, err := s.History.ByOperator(r.Context(), ext, limit)
	if err != nil {
		log.Error().Err(err).Str("operator", ext).Msg("listing call history")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.History.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("loading call")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encoding response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
