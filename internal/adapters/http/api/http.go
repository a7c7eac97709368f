// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/okian/mindlab/internal/domain/ingest"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/pkg/logger"
)

// Defaults for the request boundary.
const (
	DefaultMaxBatchSize = 1000
	DefaultCORSOrigin   = "http://localhost:3000"

	apiName    = "MindLab Play API"
	apiVersion = "1.0.0"

	// retryAfterSeconds is advertised when storage is unavailable.
	retryAfterSeconds = 5
	corsMaxAge        = 12 * 60 * 60
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	SyncDependencies
	LeaderboardDependencies
	StatsProvider

	Ping(ctx context.Context) error
}

// SyncDependencies ingests client batches.
type SyncDependencies interface {
	Sync(ctx context.Context, batch []model.Event) (ingest.Result, error)
}

// LeaderboardDependencies serves ranked reads.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, q model.LeaderboardQuery) ([]model.LeaderboardEntry, error)
	UserRank(ctx context.Context, scope model.Scope, periodKey, userID string) (model.LeaderboardEntry, error)
	ResolvePeriod(aliasOrKey string) (string, error)
	DefaultLimit() int
	MaxLimit() int
}

// Server wires HTTP routes for the business API.
type Server struct {
	router chi.Router

	syncHandler        *SyncHandler
	leaderboardHandler *LeaderboardHandler
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler

	maxBatchSize int
	corsOrigins  []string
	logger       logger.Logger
}

// NewServer creates a new API server with all handlers and routes.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		maxBatchSize: DefaultMaxBatchSize,
		corsOrigins:  []string{DefaultCORSOrigin},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("http")
	}

	s.syncHandler = NewSyncHandler(deps, s.maxBatchSize)
	s.leaderboardHandler = NewLeaderboardHandler(deps)
	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(deps)
	s.router = chi.NewRouter()
	s.routes()
	return s
}

// Router exposes the router so callers can mount extra routes (docs).
func (s *Server) Router() chi.Router { return s.router }

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	}))
	r.Use(MetricsMiddleware)

	r.Get("/", handleRoot)
	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/stats", s.statsHandler.HandleStats)
	r.Post("/sync", s.syncHandler.HandleSync)
	r.Get("/leaderboards/{scope}/{period}", s.leaderboardHandler.HandleGetLeaderboard)
	r.Get("/leaderboards/{scope}/{period}/users/{userId}", s.leaderboardHandler.HandleGetUserRank)
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": apiName, "version": apiVersion})
}

type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err and writes the matching response. Server side
// failures keep their cause out of the body.
func writeError(w http.ResponseWriter, r *http.Request, err error, details ...string) {
	status, code := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		msg = "storage temporarily unavailable, retry later"
	case status >= http.StatusInternalServerError:
		msg = http.StatusText(status)
	}
	if status >= http.StatusInternalServerError {
		logger.Get().Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("code", code),
			logger.String("requestId", middleware.GetReqID(r.Context())),
			logger.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg, Details: details})
}
