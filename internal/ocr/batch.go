package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/retry"
)

// PageText is the outcome for one page. Err is set when the page was
// dropped; Text is empty in that case.
type PageText struct {
	Page int
	Text string
	Err  error
}

// BatchConfig tunes a Batch.
type BatchConfig struct {
	Workers     int
	CallTimeout time.Duration
	Policy      retry.Policy
}

// Batch renders and recognizes a set of pages over a bounded worker pool.
// A page that keeps failing is reported in its PageText and never aborts
// the rest of the batch.
type Batch struct {
	renderer pdf.PageRenderer
	engine   Engine
	cfg      BatchConfig
	logger   *observability.Logger
}

// NewBatch creates a Batch.
func NewBatch(renderer pdf.PageRenderer, engine Engine, cfg BatchConfig, logger *observability.Logger) *Batch {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Batch{renderer: renderer, engine: engine, cfg: cfg, logger: logger}
}

// Recognize processes pages of the PDF at path. The result has one entry
// per input page, in input order, regardless of completion order. The
// returned error is non-nil only when ctx ends.
func (b *Batch) Recognize(ctx context.Context, path string, pages []int, dpi float64, languages []string) ([]PageText, error) {
	results := make([]PageText, len(pages))

	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)

	for i, page := range pages {
		results[i].Page = page
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			text, err := b.recognizePage(ctx, path, page, dpi, languages)
			results[i].Text = text
			results[i].Err = err
			if err != nil && ctx.Err() == nil {
				b.logger.Warn().
					Err(err).
					Str("engine", b.engine.Name()).
					Int("page", page).
					Msg("page dropped after OCR failure")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Batch) recognizePage(ctx context.Context, path string, page int, dpi float64, languages []string) (string, error) {
	policy := b.cfg.Policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		b.logger.Debug().Err(err).Int("page", page).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying page")
	}

	var text string
	err := policy.Do(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if b.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
			defer cancel()
		}

		img, err := b.renderer.RenderPage(callCtx, path, page, dpi)
		if err != nil {
			// a page that cannot be rasterized will not rasterize on retry
			if domain.IsType(err, domain.ErrorTypeRender) || domain.IsType(err, domain.ErrorTypeValidation) {
				return retry.Permanent(err)
			}
			return err
		}

		t, err := b.engine.Recognize(callCtx, img, languages)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("page %d: %w", page, err)
	}
	return text, nil
}
