// Package pdf rasterizes PDF pages and cuts page ranges out of PDF files.
package pdf

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
)

// PageImage is one rasterized page.
type PageImage struct {
	PageNumber int // 1-based, absolute within the source PDF
	DPI        float64
	PNG        []byte
}

// PageRenderer rasterizes a single page of a PDF.
type PageRenderer interface {
	RenderPage(ctx context.Context, path string, page int, dpi float64) (*PageImage, error)
}

// FitzRenderer renders pages with MuPDF through go-fitz.
//
// Every call opens its own document handle, so concurrent calls are safe;
// a fitz.Document itself is not.
type FitzRenderer struct {
	// limits concurrent MuPDF contexts; nil means unlimited
	sem chan struct{}
}

// NewFitzRenderer returns a renderer allowing at most maxOpen concurrently
// open documents (0 for no limit).
func NewFitzRenderer(maxOpen int) *FitzRenderer {
	r := &FitzRenderer{}
	if maxOpen > 0 {
		r.sem = make(chan struct{}, maxOpen)
	}
	return r
}

// RenderPage renders the 1-based page at dpi as PNG.
func (r *FitzRenderer) RenderPage(ctx context.Context, path string, page int, dpi float64) (*PageImage, error) {
	if r.sem != nil {
		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.RenderError("failed to open PDF", err)
	}
	defer doc.Close()

	if page < 1 || page > doc.NumPage() {
		return nil, domain.ValidationError(fmt.Sprintf("page %d out of range 1..%d", page, doc.NumPage()), nil)
	}

	data, err := doc.ImagePNG(page-1, dpi)
	if err != nil {
		return nil, domain.RenderError(fmt.Sprintf("failed to render page %d", page), err)
	}

	return &PageImage{PageNumber: page, DPI: dpi, PNG: data}, nil
}
