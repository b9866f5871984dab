// Package api exposes the render service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/heimdex/heimdex-render/internal/engine"
	"github.com/heimdex/heimdex-render/internal/playback"
	"github.com/heimdex/heimdex-render/internal/render"
)

// RenderService is the job API the handlers drive.
type RenderService interface {
	Submit(ctx context.Context, req render.SubmitRequest) (*render.Job, error)
	Status(ctx context.Context, id string) (*render.Job, error)
	Cancel(ctx context.Context, id string) (*render.Job, error)
	List(ctx context.Context, limit int) ([]*render.Job, error)
	Active() int
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Host           string
	Port           int
	Renders        RenderService
	PlaybackServer playback.Service
	Doctor         *engine.CachedDoctor
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string

	// APIToken enables bearer auth on /api routes when set.
	APIToken       string
	AllowedOrigins []string
	MaxBodyBytes   int64
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
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
