package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
)

// TesseractEngine runs a local Tesseract through gosseract. A fresh client
// is created per call because gosseract clients are not safe for
// concurrent use.
type TesseractEngine struct {
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine constructs a Tesseract-backed engine.
func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{clientFactory: gosseract.NewClient}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

// Recognize returns the plain text of img.
func (e *TesseractEngine) Recognize(ctx context.Context, img *pdf.PageImage, languages []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(img.PNG); err != nil {
		return "", domain.OCRError(fmt.Sprintf("set image for page %d", img.PageNumber), err)
	}
	if len(languages) > 0 {
		if err := c.SetLanguage(languages...); err != nil {
			return "", domain.OCRError("set languages", err)
		}
	}
	if img.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(int(img.DPI))); err != nil {
			return "", domain.OCRError("set dpi", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return "", domain.OCRError(fmt.Sprintf("recognize page %d", img.PageNumber), err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}
