// Package app assembles the archive engine from its configuration. Both the
// API server and the CLI build their dependencies here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/catalogue"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/llm"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ocr"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/retry"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/segment"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/storage"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Logger    *observability.Logger
	DB        *sql.DB
	Documents *storage.DocumentRepository
	Artifacts *catalogue.ArtifactStore
	Service   *ingest.Service
	// Progress is nil unless cache.driver is redis.
	Progress *cache.ProgressChannel
}

// Build opens the database, connects the optional progress channel and
// wires the ingestion service.
func Build(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Documents: storage.NewDocumentRepository(db, cfg.Database.Driver),
		Artifacts: catalogue.NewArtifactStore(cfg.Storage.CatalogueMarker),
	}

	var publisher ingest.ProgressPublisher
	if cfg.Cache.Driver == "redis" {
		ch, err := cache.NewProgressChannel(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   cfg.Cache.Redis.ChannelPrefix,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect progress channel: %w", err)
		}
		a.Progress = ch
		publisher = ch
	}

	client := llm.NewClient(cfg.LLM)
	engine, err := ocr.NewEngine(cfg.OCR, client)
	if err != nil {
		a.Close()
		return nil, err
	}

	ocrPolicy, parsePolicy := retryPolicies(cfg)
	splitter := pdf.NewPdfcpuSplitter()
	batch := ocr.NewBatch(pdf.NewFitzRenderer(cfg.OCR.Workers), engine, ocr.BatchConfig{
		Workers:     cfg.OCR.Workers,
		CallTimeout: cfg.OCR.CallTimeout,
		Policy:      ocrPolicy,
	}, logger)

	extractor := catalogue.NewExtractor(
		splitter,
		batch,
		llm.NewCatalogueParser(client, cfg.LLM.Model, cfg.LLM.Temperature),
		catalogue.ExtractorConfig{
			DPI:         cfg.Render.CatalogueDPI,
			Marker:      cfg.Storage.CatalogueMarker,
			Languages:   cfg.OCR.Languages,
			ParsePolicy: parsePolicy,
		},
		logger,
	)

	a.Service = ingest.NewService(ingest.Dependencies{
		Pages:      splitter,
		Segmenter:  segment.NewSegmenter(splitter, batch, cfg.Render.SegmentDPI, logger),
		Store:      a.Documents,
		Catalogues: a.Artifacts,
		Extractor:  extractor,
		Tracker:    ingest.NewTracker(publisher, logger),
		Languages:  cfg.OCR.Languages,
	}, logger)

	logger.Info().
		Str("database", cfg.Database.Driver).
		Str("ocr_engine", engine.Name()).
		Int("ocr_workers", cfg.OCR.Workers).
		Str("cache", cfg.Cache.Driver).
		Msg("archive engine wired")

	return a, nil
}

// retryPolicies returns the OCR policy from config and the catalogue parse
// policy. Parsing always gets two attempts two seconds apart.
func retryPolicies(cfg *config.Config) (ocrPolicy, parsePolicy retry.Policy) {
	return retry.Fixed(cfg.Retry.MaxAttempts, cfg.Retry.Backoff), retry.Default()
}

// Ping checks the database and, when configured, Redis.
func (a *App) Ping(ctx context.Context) error {
	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Progress != nil {
		if _, err := a.Progress.Latest(ctx, "ping"); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Progress != nil {
		errs = append(errs, a.Progress.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
