// Package handlers exposes the coverage cache over a JSON HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jalad-shrimali/coverage-cache/cache"
	"github.com/jalad-shrimali/coverage-cache/coverage"
	"github.com/jalad-shrimali/coverage-cache/dataset"
	"github.com/jalad-shrimali/coverage-cache/ingest"
	"github.com/jalad-shrimali/coverage-cache/metrics"
)

// Cache is the part of *cache.Store the API needs.
type Cache interface {
	Build(ctx context.Context, t *dataset.Table, rebuild bool) (cache.BuildResult, error)
	DistinctLocations(ctx context.Context) ([]string, error)
	ValuesByTechnology(ctx context.Context, tech string) ([]cache.TechnologyValue, error)
	GeoByTechnology(ctx context.Context, tech string) ([]cache.GeoPoint, error)
	ValuesByLocation(ctx context.Context, location string) ([]cache.LocationValue, error)
	ValuesByLocations(ctx context.Context, locations []string) ([]cache.LocationsValue, error)
	RawPreview(ctx context.Context, limit int) (*dataset.Table, error)
	Config() cache.StoreConfig
}

type Config struct {
	Logger *slog.Logger
	Store  Cache
	// Ingest is used by rebuilds that do not upload a file.
	Ingest ingest.Config
	// UploadDir receives uploaded datasets. Defaults to "uploads".
	UploadDir      string
	MaxUploadBytes int64
	// RebuildLimiter throttles POST /api/rebuild per client. Defaults to
	// 6 per minute with a burst of 2.
	RebuildLimiter *RateLimiter
	AllowedOrigins []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 256 << 20
	}
	if cfg.RebuildLimiter == nil {
		cfg.RebuildLimiter = NewRateLimiter(rate.Every(10*time.Second), 2)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return nil
}

type Handler struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handler{log: cfg.Logger, cfg: cfg}, nil
}

// Routes returns the API router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/locations", h.handleLocations)
		r.Get("/technologies/stats", h.handleStats)
		r.Get("/technologies/{tech}/values", h.handleTechnologyValues)
		r.Get("/technologies/{tech}/map", h.handleMap)
		r.Get("/values", h.handleValues)
		r.Get("/audit", h.handleAudit)
		r.Get("/report.xlsx", h.handleReport)
		r.With(RateLimitMiddleware(h.cfg.RebuildLimiter)).Post("/rebuild", h.handleRebuild)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps the error taxonomy onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		schemaErr  *coverage.SchemaError
		ingestErr  *ingest.IngestionError
		storageErr *cache.StorageError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &schemaErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &ingestErr):
		status = http.StatusBadRequest
	case errors.As(err, &storageErr):
		status = http.StatusInternalServerError
	case errors.Is(err, context.Canceled):
		// client went away
		return
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("handlers: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.log.Warn("handlers: request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
