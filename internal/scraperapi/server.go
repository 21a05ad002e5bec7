// Package scraperapi exposes the scraper service's signed HTTP interface.
package scraperapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/httpx"
	"github.com/JakeFAU/catalog-gateway/internal/metrics"
	"github.com/JakeFAU/catalog-gateway/internal/scrape"
)

// Submitter accepts validated scrape jobs.
type Submitter interface {
	Submit(ctx context.Context, params scrape.JobParameters) (scrape.Job, error)
}

// Authenticator wraps the signed routes.
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
}

// HealthChecker reports dependency health for /readyz.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options tune the server.
type Options struct {
	RequestTimeout time.Duration
	// Ready is pinged by /readyz when set.
	Ready HealthChecker
}

// Server wires HTTP handlers to the dispatcher and job store.
type Server struct {
	router    chi.Router
	submitter Submitter
	jobStore  scrape.JobStore
	ready     HealthChecker
	logger    *zap.Logger
}

// NewServer constructs a Server. Every /internal route requires auth.
func NewServer(
	submitter Submitter,
	jobStore scrape.JobStore,
	auth Authenticator,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		submitter: submitter,
		jobStore:  jobStore,
		ready:     opts.Ready,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(httpx.RequestID)
	r.Use(httpx.Logger(logger))
	r.Use(httpx.Recover(logger))
	r.Use(metrics.Middleware)
	r.Use(httpx.Timeout(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/scrape", s.submitScrape)
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Health(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			httpx.WriteError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var params scrape.JobParameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := params.Validate(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	job, err := s.submitter.Submit(queueCtx, params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, scrape.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("submit scrape failed", zap.Error(err))
		httpx.WriteError(w, status, "failed to queue job")
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if errors.Is(err, scrape.ErrJobNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	pages, err := s.jobStore.ListPages(r.Context(), jobID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "failed to fetch job pages")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, scrape.JobResult{Job: job, Pages: pages})
}
