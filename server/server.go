// ABOUTME: HTTP API for starting clone/promote/publish runs and polling their status.
// ABOUTME: chi router with recoverer, request logging, and bearer auth on /api.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/publish"
)

// Server serves the viewclone API.
type Server struct {
	svc    *publish.Service
	exec   *engine.Executor
	router chi.Router
	addr   string
	logger *log.Logger
}

// Options configures a Server.
type Options struct {
	Addr      string // listen address (default: "127.0.0.1:7780")
	AuthToken string // bearer token for /api; empty disables auth
	Logger    *log.Logger
}

// New creates a Server over the workflow service and executor.
func New(svc *publish.Service, exec *engine.Executor, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:7780"
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	s := &Server{svc: svc, exec: exec, addr: opts.Addr, logger: opts.Logger}
	s.router = s.buildRouter(opts.AuthToken)
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("component=server action=listen addr=%s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) buildRouter(token string) chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(AuthMiddleware(token))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/versions/{versionID}/clone", s.handleClone)
		r.Post("/versions/{versionID}/promote", s.handlePromote)
		r.Post("/content_views/{contentViewID}/publish", s.handlePublish)

		r.Get("/runs/{runID}", s.handleGetRun)
		r.Post("/runs/{runID}/resume", s.handleResume)

		r.Get("/definition_status", s.handleDefinitionStatus)
	})

	return r
}
