// Package api exposes the read-only status HTTP interface: the tracked
// task list, health/readiness probes, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mibworks/tasktrack/internal/task"
	"github.com/mibworks/tasktrack/internal/track"
)

// TaskSource is the tracker surface the API reads from. All methods return
// copies; nothing served here can mutate tracking state.
type TaskSource interface {
	Tasks() []task.Record
	Get(taskID string) (task.Record, bool)
	ETA(taskID string) (time.Duration, bool)
	Subscriptions() []string
}

// Config tunes the server.
//   - APIKey: when non-empty, required via X-API-Key or ?api_key.
//   - RequestTimeout: per-request handler budget (default 30s).
//   - Ready: readiness probe hook; nil means always ready.
//   - Metrics: handler mounted at /metrics (typically promhttp); nil
//     disables the route.
//   - Logger: optional structured logger.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
	Ready          func() bool
	Metrics        http.Handler
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the tracker snapshot.
type Server struct {
	router chi.Router
	source TaskSource
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(source TaskSource, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{source: source, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{task_id}", s.getTask)
		r.Get("/subscriptions", s.listSubscriptions)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Ready != nil && !s.cfg.Ready() {
		// Not ready until the backend's poll configuration was obtained.
		writeJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for backend config"})
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

// taskView is the JSON shape served for one record, snake_case like the
// backend's own task rows, plus the resolved ETA.
type taskView struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind,omitempty"`
	Status      string          `json:"status"`
	Phase       string          `json:"phase,omitempty"`
	Progress    float64         `json:"progress"`
	Message     string          `json:"message,omitempty"`
	ETASeconds  *float64        `json:"eta_seconds,omitempty"`
	ETA         string          `json:"eta,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

func (s *Server) view(rec task.Record) taskView {
	v := taskView{
		ID:          rec.ID,
		Kind:        string(rec.Kind),
		Status:      string(rec.Status),
		Phase:       rec.Phase,
		Progress:    rec.Progress,
		Message:     rec.Message,
		ETASeconds:  rec.ETASeconds,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Result:      rec.Result,
	}
	if eta, ok := s.source.ETA(rec.ID); ok {
		v.ETA = track.FormatETA(eta)
	}
	return v
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	recs := s.source.Tasks()
	views := make([]taskView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, s.view(rec))
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"success": true, "tasks": views})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	rec, ok := s.source.Get(taskID)
	if !ok {
		writeError(s.logger, w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"success": true, "task": s.view(rec)})
}

func (s *Server) listSubscriptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"success":       true,
		"subscriptions": s.source.Subscriptions(),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
