// Package ocr turns rendered page images into text.
package ocr

import (
	"context"
	"errors"
	"fmt"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/llm"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
)

// ErrEmptyText is returned by engines that recognized nothing on a page.
var ErrEmptyText = errors.New("ocr returned empty text")

// Engine recognizes the text of one page image. Implementations may fail
// per call; callers wrap calls in a retry.Policy.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img *pdf.PageImage, languages []string) (string, error)
}

// NewEngine builds the engine named by cfg.Engine. client is only used by
// the vision engine.
func NewEngine(cfg config.OCRConfig, client llm.ChatCompleter) (Engine, error) {
	switch cfg.Engine {
	case "tesseract":
		return NewTesseractEngine(), nil
	case "vision":
		if client == nil {
			return nil, domain.ConfigError("vision engine requires a completion client", nil)
		}
		return NewVisionEngine(client, cfg.VisionModel), nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown ocr engine %q", cfg.Engine), nil)
	}
}
