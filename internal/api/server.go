package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/catalog"
	"github.com/JakeFAU/catalog-gateway/internal/httpx"
	"github.com/JakeFAU/catalog-gateway/internal/metrics"
	"github.com/JakeFAU/catalog-gateway/internal/scrape"
	"github.com/JakeFAU/catalog-gateway/internal/scraperclient"
)

const maxScrapeBodyBytes = 64 << 10

// Scraper is the signed client for the internal scraper service.
type Scraper interface {
	SubmitScrape(ctx context.Context, params scrape.JobParameters) (scraperclient.JobAccepted, error)
	JobStatus(ctx context.Context, jobID string) (scrape.JobResult, error)
}

// Gate guards the /api routes.
type Gate interface {
	Middleware(next http.Handler) http.Handler
}

// Options tune the server.
type Options struct {
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the catalog store and the scraper client.
type Server struct {
	router  chi.Router
	catalog catalog.Store
	scraper Scraper
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil scraper
// answers scrape routes with 503.
func NewServer(store catalog.Store, scraper Scraper, gate Gate, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		catalog: store,
		scraper: scraper,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(httpx.RequestID)
	r.Use(httpx.Logger(logger))
	r.Use(httpx.Recover(logger))
	r.Use(metrics.Middleware)
	r.Use(httpx.Timeout(opts.RequestTimeout))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if gate != nil {
			r.Use(gate.Middleware)
		}
		r.Get("/health", s.health)
		r.Get("/categories", s.listCategories)
		r.Get("/products", s.listProducts)
		r.Get("/products/{product_id}", s.getProduct)
		r.Post("/scrape", s.submitScrape)
		r.Get("/scrape/{job_id}", s.getScrapeJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.catalog.ListCategories(r.Context())
	if err != nil {
		s.logger.Error("list categories failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load categories")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	pageSize, err := intParam(q.Get("page_size"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "page_size must be an integer")
		return
	}
	result, err := s.catalog.ListProducts(r.Context(), catalog.ProductQuery{
		CategorySlug: q.Get("category"),
		Page:         page,
		PageSize:     pageSize,
	})
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "category not found")
	case err != nil:
		s.logger.Error("list products failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load products")
	default:
		httpx.WriteJSON(w, http.StatusOK, result)
	}
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.catalog.GetProduct(r.Context(), chi.URLParam(r, "product_id"))
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "product not found")
	case err != nil:
		s.logger.Error("get product failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load product")
	default:
		httpx.WriteJSON(w, http.StatusOK, product)
	}
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "scraper unavailable")
		return
	}
	var params scrape.JobParameters
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScrapeBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := params.Validate(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	accepted, err := s.scraper.SubmitScrape(r.Context(), params)
	if err != nil {
		s.writeScraperError(w, "submit scrape", err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) getScrapeJob(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "scraper unavailable")
		return
	}
	result, err := s.scraper.JobStatus(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeScraperError(w, "job status", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// writeScraperError passes client errors from the scraper through and hides
// everything else behind a 502.
func (s *Server) writeScraperError(w http.ResponseWriter, op string, err error) {
	var se *scraperclient.StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusUnauthorized && se.Code != http.StatusConflict {
		httpx.WriteError(w, se.Code, se.Message)
		return
	}
	s.logger.Error("scraper call failed", zap.String("op", op), zap.Error(err))
	httpx.WriteError(w, http.StatusBadGateway, "scraper request failed")
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
