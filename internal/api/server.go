// Package api serves the render service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/jobstore"
	"github.com/keagan/reelcut/internal/renderservice"
)

// JobLister is the read side of the job ledger.
type JobLister interface {
	List(ctx context.Context, limit int) ([]*jobstore.Job, error)
	Get(ctx context.Context, id string) (*jobstore.Job, error)
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

type ServerConfig struct {
	Addr      string
	Service   renderservice.Service
	Jobs      JobLister
	Logger    zerolog.Logger
	StartTime time.Time
	Version   string
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger.With().Str("component", "api").Logger()
	cfg.Logger = logger
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(cfg),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting render service")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down render service")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
