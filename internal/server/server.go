// Package server exposes the operational HTTP surface: manual triggers,
// credit management, status, and rendered reports.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/briefing"
	"github.com/driftline/driftline/internal/credit"
	"github.com/driftline/driftline/internal/ingest"
	"github.com/driftline/driftline/internal/queue"
	"github.com/driftline/driftline/internal/store"
)

// Server is the HTTP control surface of the daemon.
type Server struct {
	store        *store.Store
	fetchSched   *ingest.Scheduler
	gate         *credit.Gate
	executor     *briefing.Executor
	fetchQueue   queue.Queue
	processQueue queue.Queue
	log          zerolog.Logger
	http         *http.Server
}

// New wires the server. It does not start listening until Start.
func New(port int, st *store.Store, fetchSched *ingest.Scheduler, gate *credit.Gate, exec *briefing.Executor, fetchQ, processQ queue.Queue, log zerolog.Logger) *Server {
	s := &Server{
		store:        st,
		fetchSched:   fetchSched,
		gate:         gate,
		executor:     exec,
		fetchQueue:   fetchQ,
		processQueue: processQ,
		log:          log.With().Str("component", "server").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", s.handleStatus)
	r.Post("/sources/{id}/fetch", s.handleTriggerFetch)
	r.Post("/briefings/{id}/run", s.handleRunBriefing)
	r.Get("/reports/{id}", s.handleReport)
	r.Put("/accounts/{id}/credits", s.handleSetCredits)

	s.http = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: r,
	}
	return s
}

// Handler returns the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start listens in the background and reports fatal listen errors on the
// returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
