package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
)

// Splitter reads page counts and cuts inclusive page ranges out of a PDF.
type Splitter interface {
	PageCount(ctx context.Context, path string) (int, error)
	ExtractRange(ctx context.Context, path string, start, end int) ([]byte, error)
}

// PdfcpuSplitter implements Splitter with pdfcpu.
type PdfcpuSplitter struct {
	conf *model.Configuration
}

// NewPdfcpuSplitter returns a splitter using relaxed validation, which
// scanned archive PDFs usually need.
func NewPdfcpuSplitter() *PdfcpuSplitter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PdfcpuSplitter{conf: conf}
}

// PageCount returns the number of pages in the PDF at path.
func (s *PdfcpuSplitter) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, domain.IOError("open PDF", err)
	}
	defer f.Close()

	n, err := api.PageCount(f, s.conf)
	if err != nil {
		return 0, domain.RenderError("read page count", err)
	}
	return n, nil
}

// ExtractRange returns a standalone PDF holding pages start..end (1-based,
// inclusive) of the source.
func (s *PdfcpuSplitter) ExtractRange(ctx context.Context, path string, start, end int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if start < 1 || end < start {
		return nil, domain.ValidationError(fmt.Sprintf("invalid page range %d-%d", start, end), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, domain.IOError("open PDF", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	selection := []string{fmt.Sprintf("%d-%d", start, end)}
	if start == end {
		selection = []string{fmt.Sprintf("%d", start)}
	}

	if err := api.Trim(f, &buf, selection, s.conf); err != nil {
		return nil, domain.RenderError(fmt.Sprintf("extract pages %d-%d", start, end), err)
	}
	return buf.Bytes(), nil
}
