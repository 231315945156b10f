package catalogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ocr"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/retry"
)

// Parser turns catalogue page text into a raw model answer that should hold
// a label to title mapping. One call is one attempt.
type Parser interface {
	ParseCatalogue(ctx context.Context, text, language string) (string, error)
}

// PageCounter reports the number of pages of a PDF.
type PageCounter interface {
	PageCount(ctx context.Context, path string) (int, error)
}

// PageRecognizer renders and OCRs pages, returning results in input order.
type PageRecognizer interface {
	Recognize(ctx context.Context, path string, pages []int, dpi float64, languages []string) ([]ocr.PageText, error)
}

// ExtractorConfig tunes an Extractor.
type ExtractorConfig struct {
	DPI       float64
	Marker    string
	Languages map[string][]string // language tag -> OCR language codes
	// ParsePolicy bounds parser attempts; two attempts with a fixed 2s pause
	// unless overridden.
	ParsePolicy retry.Policy
}

// ExtractRequest describes the catalogue pages of one source document.
type ExtractRequest struct {
	SourcePath string
	StartPage  int
	EndPage    int
	Language   string
}

// Extractor derives the catalogue of a document from its catalogue pages.
type Extractor struct {
	pages      PageCounter
	recognizer PageRecognizer
	parser     Parser
	cfg        ExtractorConfig
	logger     *observability.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(pages PageCounter, recognizer PageRecognizer, parser Parser, cfg ExtractorConfig, logger *observability.Logger) *Extractor {
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	if cfg.ParsePolicy.MaxAttempts == 0 {
		cfg.ParsePolicy = retry.Default()
	}
	return &Extractor{
		pages:      pages,
		recognizer: recognizer,
		parser:     parser,
		cfg:        cfg,
		logger:     logger.WithOperation("extract_catalogue"),
	}
}

// LanguageCodes resolves a language tag to OCR codes.
func (e *Extractor) LanguageCodes(tag string) ([]string, error) {
	codes, ok := e.cfg.Languages[strings.TrimSpace(tag)]
	if !ok {
		return nil, domain.ValidationError(fmt.Sprintf("unsupported language %q", tag), nil)
	}
	return codes, nil
}

// Extract runs OCR over the requested pages, asks the parser for a mapping
// and returns the normalized catalogue. Structural failures wrap
// domain.ErrNoText, domain.ErrCatalogueExtractionFailed or
// domain.ErrEmptyCatalogue.
func (e *Extractor) Extract(ctx context.Context, req ExtractRequest) (*Catalogue, error) {
	start := time.Now()
	log := e.logger.WithContext(ctx)

	if err := pdf.ValidatePath(req.SourcePath); err != nil {
		return nil, err
	}
	langs, err := e.LanguageCodes(req.Language)
	if err != nil {
		return nil, err
	}

	count, err := e.pages.PageCount(ctx, req.SourcePath)
	if err != nil {
		return nil, err
	}
	if err := pdf.ValidatePageRange(req.StartPage, req.EndPage, count); err != nil {
		return nil, err
	}

	pages := make([]int, 0, req.EndPage-req.StartPage+1)
	for p := req.StartPage; p <= req.EndPage; p++ {
		pages = append(pages, p)
	}

	log.Info().
		Str("source", req.SourcePath).
		Int("start_page", req.StartPage).
		Int("end_page", req.EndPage).
		Str("language", req.Language).
		Msg("Step 1: recognizing catalogue pages")

	results, err := e.recognizer.Recognize(ctx, req.SourcePath, pages, e.cfg.DPI, langs)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(results))
	var dropped []int
	for _, r := range results {
		if r.Err != nil || strings.TrimSpace(r.Text) == "" {
			dropped = append(dropped, r.Page)
			continue
		}
		texts = append(texts, r.Text)
	}
	if len(dropped) > 0 {
		log.Warn().Ints("pages", dropped).Msg("catalogue pages without text")
	}
	if len(texts) == 0 {
		return nil, domain.ExtractionError("no text recognized on catalogue pages", domain.ErrNoText)
	}

	log.Info().Int("pages_with_text", len(texts)).Msg("Step 2: parsing catalogue")

	pairs, err := e.parse(ctx, strings.Join(texts, "\n"), req.Language)
	if err != nil {
		return nil, err
	}

	n := Normalize(e.cfg.Marker, pairs)
	if len(n.BadKeys) > 0 || len(n.Duplicates) > 0 || n.EmptyTitles > 0 {
		log.Warn().
			Strs("bad_keys", n.BadKeys).
			Strs("duplicates", n.Duplicates).
			Int("empty_titles", n.EmptyTitles).
			Msg("catalogue entries dropped during normalization")
	}
	if n.Catalogue.Len() == 0 {
		return nil, domain.ExtractionError("catalogue has no usable entries", domain.ErrEmptyCatalogue)
	}

	log.Info().
		Int("entries", n.Catalogue.Len()).
		Dur("duration", time.Since(start)).
		Msg("catalogue extracted")

	return &n.Catalogue, nil
}

func (e *Extractor) parse(ctx context.Context, text, language string) ([]Pair, error) {
	policy := e.cfg.ParsePolicy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("catalogue parse failed, retrying")
	}

	var pairs []Pair
	err := policy.Do(ctx, func(ctx context.Context) error {
		raw, err := e.parser.ParseCatalogue(ctx, text, language)
		if err != nil {
			return err
		}
		pairs, err = DecodeMapping(raw)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, domain.ExtractionError("catalogue parser gave no usable mapping", errors.Join(domain.ErrCatalogueExtractionFailed, err))
	}
	return pairs, nil
}
