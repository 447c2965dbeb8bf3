// Package httpapi is the OpenAI-compatible ingress: chat completions
// (streaming and not), the model catalogue, health, metrics and the
// per-generation log stream.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redworks/red/internal/adapters/tracing"
	"github.com/redworks/red/internal/engine"
	"github.com/redworks/red/internal/generation"
	"github.com/redworks/red/internal/logs"
	"github.com/redworks/red/internal/stream"
)

const (
	serviceName = "Red AI API"
	readTimeout = 30 * time.Second
)

type Server struct {
	engine      *engine.Engine
	pipeline    *stream.Pipeline
	generations *generation.Registry
	logger      *logs.Logger
	slog        *slog.Logger

	model   string
	version string

	router *chi.Mux
	server *http.Server
}

type Options struct {
	// APIKey enables bearer auth when non-empty.
	APIKey      string
	CORSOrigins []string
	Model       string
	Version     string
}

func NewServer(eng *engine.Engine, pipeline *stream.Pipeline, generations *generation.Registry, logger *logs.Logger, slogger *slog.Logger, opts Options) *Server {
	if slogger == nil {
		slogger = slog.Default()
	}
	s := &Server{
		engine:      eng,
		pipeline:    pipeline,
		generations: generations,
		logger:      logger,
		slog:        slogger,
		model:       opts.Model,
		version:     opts.Version,
	}

	router := chi.NewRouter()
	router.Use(tracing.Middleware("red-api"))
	router.Use(Recovery(slogger))
	router.Use(RequestLogger(slogger))
	router.Use(CORS(opts.CORSOrigins))
	router.Use(Auth(opts.APIKey))

	router.Get("/health", s.handleHealth)
	router.Get("/", s.handleInfo)
	router.Get("/v1", s.handleInfo)
	router.Handle("/metrics", promhttp.Handler())

	router.Post("/chat/completions", s.handleChatCompletions)
	router.Post("/v1/chat/completions", s.handleChatCompletions)

	router.Get("/models", s.handleListModels)
	router.Get("/v1/models", s.handleListModels)
	router.Get("/models/{id}", s.handleGetModel)
	router.Get("/v1/models/{id}", s.handleGetModel)

	router.Get("/v1/generations/{id}/logs", s.handleGenerationLogs)

	s.router = router
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	// WriteTimeout stays zero: SSE responses are open-ended.
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: 0,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
