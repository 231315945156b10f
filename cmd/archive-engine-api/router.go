// Package main provides the API router setup.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/archive-engine/cmd/archive-engine-api/handlers"
	"github.com/spherical-ai/spherical/libs/archive-engine/cmd/archive-engine-api/middleware"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/api/rpc"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
)

// Service is what the API needs from ingest.Service.
type Service interface {
	handlers.Ingestion
	handlers.Catalogues
	rpc.Ingestion
}

// AppConfig holds router configuration.
type AppConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	// StorageRoot is the directory client paths are resolved against.
	StorageRoot     string
	CatalogueMarker string
	// MaxUploadBytes caps source uploads; 0 means 512 MiB.
	MaxUploadBytes int64
	// Pages checks uploaded PDFs; nil uses pdfcpu.
	Pages handlers.PageCounter
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *AppConfig, svc Service, docs handlers.Documents) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 512 << 20
	}
	if cfg.Pages == nil {
		cfg.Pages = pdf.NewPdfcpuSplitter()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"archive-engine"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				logger.Warn().Err(err).Msg("readiness check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	catalogueHandler := handlers.NewCatalogueHandler(logger, svc, cfg.StorageRoot, cfg.CatalogueMarker)
	ingestionHandler := handlers.NewIngestionHandler(logger, svc, cfg.StorageRoot)
	documentHandler := handlers.NewDocumentHandler(logger, docs)
	sourceHandler := handlers.NewSourceHandler(logger, cfg.Pages, cfg.StorageRoot, cfg.MaxUploadBytes)

	rpcPath, rpcHandler := rpc.NewIngestionService(logger, svc, cfg.StorageRoot, cfg.CatalogueMarker).Handler()
	r.With(chimiddleware.Timeout(cfg.RequestTimeout)).Handle(rpcPath+"*", rpcHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Event streams run until the task completes.
		r.Get("/ingestions/{taskId}/events", ingestionHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

			r.Post("/sources", sourceHandler.Upload)
			r.Get("/sources", sourceHandler.List)

			r.Post("/catalogues/extract", catalogueHandler.Extract)
			r.Post("/catalogues", catalogueHandler.Save)
			r.Get("/catalogues", catalogueHandler.Get)

			r.Post("/ingestions", ingestionHandler.Start)
			r.Get("/ingestions/{taskId}", ingestionHandler.Progress)
			r.Delete("/ingestions/{taskId}", ingestionHandler.Cancel)

			r.Get("/documents/count", documentHandler.Count)
			r.Post("/documents/search", documentHandler.Search)
			r.Get("/documents/{uuid}", documentHandler.Get)
			r.Get("/documents/{uuid}/file", documentHandler.File)

			r.Get("/series/latest", documentHandler.LatestSeries)
		})
	})

	return r
}
