// Package ingest runs catalogue-driven ingestion tasks in the background and
// tracks their progress.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/catalogue"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/segment"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/storage"
)

// DocumentStore persists one segmented document.
type DocumentStore interface {
	Insert(ctx context.Context, doc *storage.Document) error
}

// CatalogueStore reads and writes catalogue artifacts.
type CatalogueStore interface {
	Load(sourcePath string) (*catalogue.Catalogue, error)
	Save(sourcePath string, cat *catalogue.Catalogue) (string, error)
	PathFor(sourcePath string) string
}

// CatalogueExtractor derives a catalogue from catalogue pages.
type CatalogueExtractor interface {
	Extract(ctx context.Context, req catalogue.ExtractRequest) (*catalogue.Catalogue, error)
}

// RangeSegmenter turns one page range into a document.
type RangeSegmenter interface {
	Segment(ctx context.Context, path string, r segment.PageRange, languages []string) (*segment.Segment, error)
}

// IngestionRequest starts one ingestion task.
type IngestionRequest struct {
	SourcePath  string `json:"filePath"`
	UserName    string `json:"userName"`
	SeriesName  string `json:"seriesName"`
	ContentPage int    `json:"contentPage"`
	Language    string `json:"language"`
	// DocumentDate is stored verbatim on every document.
	DocumentDate string `json:"date,omitempty"`
}

// Dependencies groups what a Service needs.
type Dependencies struct {
	Pages      catalogue.PageCounter
	Segmenter  RangeSegmenter
	Store      DocumentStore
	Catalogues CatalogueStore
	Extractor  CatalogueExtractor
	Tracker    *Tracker
	// Languages maps a language tag to OCR language codes.
	Languages map[string][]string
}

// Service is the ingestion entry point shared by the HTTP, RPC and CLI
// front ends.
type Service struct {
	deps   Dependencies
	logger *observability.Logger
	now    func() time.Time
}

// NewService creates a Service. A nil tracker gets a private one.
func NewService(deps Dependencies, logger *observability.Logger) *Service {
	if deps.Tracker == nil {
		deps.Tracker = NewTracker(nil, logger)
	}
	return &Service{
		deps:   deps,
		logger: logger.WithOperation("ingest"),
		now:    time.Now,
	}
}

// Tracker exposes the progress table.
func (s *Service) Tracker() *Tracker { return s.deps.Tracker }

// ExtractCatalogue runs catalogue extraction without saving anything.
func (s *Service) ExtractCatalogue(ctx context.Context, req catalogue.ExtractRequest) (*catalogue.Catalogue, error) {
	if s.deps.Extractor == nil {
		return nil, domain.ConfigError("catalogue extraction is not configured", nil)
	}
	return s.deps.Extractor.Extract(ctx, req)
}

// SaveCatalogue writes the artifact for sourcePath and returns its path.
func (s *Service) SaveCatalogue(sourcePath string, cat *catalogue.Catalogue) (string, error) {
	if err := pdf.ValidatePath(sourcePath); err != nil {
		return "", err
	}
	return s.deps.Catalogues.Save(sourcePath, cat)
}

// LoadCatalogue reads the artifact for sourcePath.
func (s *Service) LoadCatalogue(sourcePath string) (*catalogue.Catalogue, error) {
	return s.deps.Catalogues.Load(sourcePath)
}

// StartIngestion validates req, registers a task and processes it in the
// background. Validation failures are returned here and leave no task
// behind. The returned id can be polled with GetProgress.
func (s *Service) StartIngestion(ctx context.Context, req IngestionRequest) (uuid.UUID, error) {
	if err := pdf.ValidatePath(req.SourcePath); err != nil {
		return uuid.Nil, err
	}
	if strings.TrimSpace(req.SeriesName) == "" {
		return uuid.Nil, domain.ValidationError("series name is required", nil)
	}
	if req.ContentPage < 1 {
		return uuid.Nil, domain.ValidationError(fmt.Sprintf("content page must be >= 1, got %d", req.ContentPage), nil)
	}
	langs, ok := s.deps.Languages[strings.TrimSpace(req.Language)]
	if !ok {
		return uuid.Nil, domain.ValidationError(fmt.Sprintf("unsupported language %q", req.Language), nil)
	}
	cat, err := s.deps.Catalogues.Load(req.SourcePath)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.deps.Tracker.Register(id, cat.Len(), req.SourcePath, cancel)

	s.logger.WithContext(ctx).Info().
		Str("task_id", id.String()).
		Str("source", req.SourcePath).
		Str("series", req.SeriesName).
		Int("entries", cat.Len()).
		Int("content_page", req.ContentPage).
		Msg("ingestion task created")

	go func() {
		defer cancel()
		s.run(taskCtx, id, req, cat, langs)
	}()

	return id, nil
}

// GetProgress returns a snapshot of a task. A completed snapshot is handed
// out once; afterwards the task is unknown.
func (s *Service) GetProgress(id uuid.UUID) (Progress, error) {
	return s.deps.Tracker.Get(id)
}

// Watch streams snapshots of a task until it completes.
func (s *Service) Watch(ctx context.Context, id uuid.UUID) (<-chan Progress, error) {
	return s.deps.Tracker.Watch(ctx, id)
}

// Cancel asks a task to stop before its next range.
func (s *Service) Cancel(id uuid.UUID) error {
	return s.deps.Tracker.Cancel(id)
}

func (s *Service) run(ctx context.Context, id uuid.UUID, req IngestionRequest, cat *catalogue.Catalogue, langs []string) {
	start := s.now()
	tracker := s.deps.Tracker
	log := s.logger.WithTask(id.String())

	tracker.Start(id)

	pageCount, err := s.deps.Pages.PageCount(ctx, req.SourcePath)
	if err != nil {
		if ctx.Err() != nil {
			tracker.Finish(id, StatusCanceled, nil)
			return
		}
		log.Error().Err(err).Msg("cannot read source document")
		tracker.Finish(id, StatusFailed, err)
		return
	}

	plan, err := segment.Reconcile(cat, req.ContentPage, pageCount)
	if err != nil {
		log.Error().Err(err).Msg("cannot reconcile catalogue with document")
		tracker.Finish(id, StatusFailed, err)
		return
	}

	log.Info().
		Int("offset", plan.Offset).
		Int("page_count", plan.PageCount).
		Int("ranges", len(plan.Ranges)).
		Int("runnable", plan.Runnable()).
		Msg("catalogue reconciled")

	fileName := filepath.Base(req.SourcePath)
	for _, r := range plan.Ranges {
		if ctx.Err() != nil {
			log.Warn().Msg("ingestion canceled")
			tracker.Finish(id, StatusCanceled, nil)
			return
		}

		desc := r.String()
		if r.Skipped() {
			log.Warn().Str("range", desc).Str("reason", r.SkipReason).Msg("range skipped")
			tracker.Advance(id, desc, OutcomeSkipped)
			continue
		}

		seg, err := s.deps.Segmenter.Segment(ctx, req.SourcePath, r, langs)
		if err != nil {
			if ctx.Err() != nil {
				log.Warn().Str("range", desc).Msg("ingestion canceled")
				tracker.Finish(id, StatusCanceled, nil)
				return
			}
			log.Warn().Err(err).Str("range", desc).Msg("range skipped")
			tracker.Advance(id, desc, OutcomeSkipped)
			continue
		}

		doc := &storage.Document{
			UUID:         uuid.New(),
			UserName:     req.UserName,
			SeriesName:   req.SeriesName,
			FileName:     fileName,
			Title:        r.Title,
			StartPage:    r.StartPage - plan.Offset,
			EndPage:      r.EndPage - plan.Offset,
			PDFStartPage: r.StartPage,
			PDFEndPage:   r.EndPage,
			FullText:     seg.FullText,
			FileBlob:     seg.PDF,
			InsertDate:   s.now(),
			Date:         req.DocumentDate,
		}
		if err := s.deps.Store.Insert(ctx, doc); err != nil {
			log.Error().Err(err).Str("range", desc).Msg("document insert failed")
			tracker.Advance(id, desc, OutcomeInsertFailed)
			continue
		}

		log.Info().
			Str("range", desc).
			Str("document", doc.UUID.String()).
			Ints("dropped_pages", seg.DroppedPages).
			Msg("document stored")
		tracker.Advance(id, desc, OutcomePersisted)
	}

	log.Info().Dur("duration", s.now().Sub(start)).Msg("ingestion completed")
	tracker.Finish(id, StatusCompleted, nil)
}

// IsNotFound reports whether err means an unknown task, source file or
// catalogue artifact.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrTaskNotFound) || errors.Is(err, domain.ErrCatalogueNotFound) || errors.Is(err, fs.ErrNotExist)
}
