// Package server exposes the AI service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/maximbilan/vaultai/internal/ai"
	"github.com/maximbilan/vaultai/internal/ratelimit"
)

// Authenticator resolves the calling user; *auth.Authenticator satisfies it.
type Authenticator interface {
	UserID(r *http.Request) (string, error)
}

type Options struct {
	Addr           string
	AllowedOrigins []string
	// Limiter is optional. When nil every request is allowed.
	Limiter *ratelimit.Registry
	Logger  *slog.Logger
}

type Server struct {
	ai      *ai.Service
	auth    Authenticator
	limiter *ratelimit.Registry
	log     *slog.Logger
	addr    string
	handler http.Handler
}

func New(svc *ai.Service, authn Authenticator, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		ai:      svc,
		auth:    authn,
		limiter: opts.Limiter,
		log:     opts.Logger,
		addr:    opts.Addr,
	}

	e := echo.New()
	e.Use(s.requestLogger)
	e.Use(middleware.Recover())
	s.registerRoutes(e)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "apikey", "x-client-info"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}).Handler(e)
	return s
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.POST("/ai-proxy", s.handleProxy)
	e.POST("/ai-chat", s.handleChat)
	e.GET("/ai-status", s.handleStatus)
	e.POST("/ai-duplicates", s.handleDuplicates)
	e.GET("/healthz", func(c *echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler returns the full HTTP handler including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.log.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
