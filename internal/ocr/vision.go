package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/llm"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/pdf"
)

const visionPrompt = "Transcribe all text on this scanned archive page exactly as printed, in reading order. " +
	"Expected languages: %s. Return only the transcription, without commentary or markdown."

// VisionEngine sends the page image to a multimodal chat model.
type VisionEngine struct {
	client llm.ChatCompleter
	model  string
}

// NewVisionEngine creates an engine that transcribes pages with model.
func NewVisionEngine(client llm.ChatCompleter, model string) *VisionEngine {
	return &VisionEngine{client: client, model: model}
}

func (e *VisionEngine) Name() string { return "vision" }

// Recognize transcribes img with one completion call.
func (e *VisionEngine) Recognize(ctx context.Context, img *pdf.PageImage, languages []string) (string, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img.PNG)

	langs := "any"
	if len(languages) > 0 {
		langs = strings.Join(languages, ", ")
	}

	req := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: fmt.Sprintf(visionPrompt, langs)},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailHigh},
					},
				},
			},
		},
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", llm.Classify(domain.OCRError(fmt.Sprintf("vision transcription of page %d", img.PageNumber), err))
	}

	text, err := llm.FirstChoice(resp)
	if err != nil {
		return "", ErrEmptyText
	}
	return text, nil
}
