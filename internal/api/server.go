package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowkit/flowkit-editor/internal/backend"
	"github.com/flowkit/flowkit-editor/internal/catalog"
	"github.com/flowkit/flowkit-editor/internal/pipelines"
	"github.com/flowkit/flowkit-editor/internal/playback"
	"github.com/flowkit/flowkit-editor/internal/probe"
	"github.com/flowkit/flowkit-editor/internal/realtime"
	"github.com/flowkit/flowkit-editor/internal/session"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	MediaDir       string
	ResultsDir     string
	ExportDir      string
	BackendMode    string
	CatalogService catalog.CatalogService
	Repository     catalog.Repository
	Backend        backend.Client
	Sessions       *session.Manager
	Hub            *realtime.Hub
	Playback       *playback.Server
	Prober         probe.Prober
	Doctor         *pipelines.CachedDoctor
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:     router,
			ReadTimeout: 15 * time.Minute,
			// video streams and renders are long-lived
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
