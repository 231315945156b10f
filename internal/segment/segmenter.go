package segment

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ocr"
)

// PageSeparatorFormat precedes the text of every page in a segment's full
// text. The argument is the absolute page number.
const PageSeparatorFormat = "\n\n# Page %d\n\n"

// RangeExtractor cuts an inclusive page range out of a PDF.
type RangeExtractor interface {
	ExtractRange(ctx context.Context, path string, start, end int) ([]byte, error)
}

// PageRecognizer renders and OCRs pages, returning results in input order.
type PageRecognizer interface {
	Recognize(ctx context.Context, path string, pages []int, dpi float64, languages []string) ([]ocr.PageText, error)
}

// Segment is one catalogue entry turned into a standalone document.
type Segment struct {
	Range        PageRange
	PDF          []byte
	FullText     string
	Recognized   []int
	DroppedPages []int
}

// Segmenter builds Segments.
type Segmenter struct {
	extractor  RangeExtractor
	recognizer PageRecognizer
	dpi        float64
	logger     *observability.Logger
}

// NewSegmenter creates a Segmenter rendering pages at dpi.
func NewSegmenter(extractor RangeExtractor, recognizer PageRecognizer, dpi float64, logger *observability.Logger) *Segmenter {
	return &Segmenter{
		extractor:  extractor,
		recognizer: recognizer,
		dpi:        dpi,
		logger:     logger.WithOperation("segment"),
	}
}

// Segment extracts r from the PDF at path and re-OCRs its pages. Pages that
// fail are left out of the text; when no page yields text, or the range
// cannot be cut, the error wraps domain.ErrRangeSkipped.
func (s *Segmenter) Segment(ctx context.Context, path string, r PageRange, languages []string) (*Segment, error) {
	if r.Skipped() {
		return nil, fmt.Errorf("%w: %s", domain.ErrRangeSkipped, r.SkipReason)
	}

	blob, err := s.extractor.ExtractRange(ctx, path, r.StartPage, r.EndPage)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: extract pages %d-%d: %v", domain.ErrRangeSkipped, r.StartPage, r.EndPage, err)
	}

	results, err := s.recognizer.Recognize(ctx, path, r.Pages(), s.dpi, languages)
	if err != nil {
		return nil, err
	}

	seg := &Segment{Range: r, PDF: blob}
	var b strings.Builder
	for _, res := range results {
		text := strings.TrimSpace(res.Text)
		if res.Err != nil || text == "" {
			seg.DroppedPages = append(seg.DroppedPages, res.Page)
			continue
		}
		fmt.Fprintf(&b, PageSeparatorFormat, res.Page)
		b.WriteString(text)
		seg.Recognized = append(seg.Recognized, res.Page)
	}

	if len(seg.DroppedPages) > 0 {
		s.logger.Warn().
			Str("title", r.Title).
			Ints("pages", seg.DroppedPages).
			Msg("pages left out of segment text")
	}

	if len(seg.Recognized) == 0 {
		return nil, fmt.Errorf("%w: no text recognized in pages %d-%d", domain.ErrRangeSkipped, r.StartPage, r.EndPage)
	}

	seg.FullText = strings.TrimLeft(b.String(), "\n")
	return seg, nil
}
