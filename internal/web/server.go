package web

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

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

const maxBodySize = 1 << 20

// Server holds the dependencies for the HTTP server.
type Server struct {
	sched    *scheduler.Scheduler
	router   chi.Router
	log      *slog.Logger
	validate *validator.Validate
}

// NewServer creates and configures a new server.
func NewServer(sched *scheduler.Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sched:    sched,
		router:   chi.NewRouter(),
		log:      logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/today", s.handleToday)

	// Decks
	s.router.Get("/decks/tree", s.handleTree)
	s.router.Route("/decks/{id}", func(r chi.Router) {
		r.Get("/counts", s.handleCounts)
		r.Get("/next", s.handleNext)
		r.Get("/cards", s.handleFetch)
		r.Get("/eta", s.handleETA)
		r.Get("/config", s.handleGetDeckConfig)
		r.Put("/config", s.handlePutDeckConfig)
		r.Post("/unbury", s.handleUnbury)
		r.Post("/rebuild", s.handleRebuild)
		r.Post("/empty", s.handleEmpty)
		r.Post("/extend", s.handleExtend)
		r.Post("/randomize", s.handleRandomize)
		r.Post("/order", s.handleOrder)
	})

	// Cards
	s.router.Get("/cards/{id}", s.handleGetCard)
	s.router.Post("/cards/{id}/answer", s.handleAnswer)
	s.router.Post("/cards/bury", s.handleBury)
	s.router.Post("/cards/suspend", s.handleSuspend)
	s.router.Post("/cards/unsuspend", s.handleUnsuspend)
	s.router.Post("/cards/forget", s.handleForget)
	s.router.Post("/cards/set-due", s.handleSetDue)
	s.router.Post("/cards/reschedule", s.handleReschedule)
	s.router.Post("/cards/reposition", s.handleReposition)

	// Notes
	s.router.Post("/notes/bury", s.handleBuryNotes)
	s.router.Post("/notes/suspend", s.handleSuspendNotes)

	s.router.Post("/collection/upgrade", s.handleUpgrade)
}

type ctxKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// requestLogger tags each request with a ULID and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ulid.Make().String()
		w.Header().Set("X-Request-Id", id)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(withRequestID(r.Context(), id)))

		s.log.Debug("Handled request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps scheduler errors onto HTTP status codes.
func statusFor(err error) int {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidRating),
		errors.Is(err, domain.ErrNotFiltered):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConcurrentMutation):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSchemaChangeRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, domain.ErrInvalidArgument), errors.As(err, &verr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError reports err to the client. Only unexpected failures are logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed",
			"request_id", requestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decode reads a JSON body into v and validates it. An empty body leaves v
// at its zero value. It writes the error response itself and reports whether
// the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", raw, domain.ErrInvalidArgument)
	}
	return id, nil
}

func queryBool(r *http.Request, key string, def bool) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
