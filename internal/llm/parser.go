package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
)

const catalogueSystemPrompt = "你是一位历史研究的专家，精通%s，并且熟悉目录整理。请使用双引号而不是单引号来包裹JSON的键和值。"

const catalogueFormatPrompt = `格式要求：
1. 只返回给定文本中的目录，不要增加其他内容。
2. 目录和子目录都作为一条记录返回，键为该条目录的页码。
3. 删除目录前的序号数字，忽略目录中的人名。
4. 若日期位于页码之后，请放在标题之后，不要把汉字数字改为阿拉伯数字。
5. 只返回一个JSON对象，使用双引号，例如 {"页码1":"目录文本","页码5":"目录文本"}。
6. 删除内容中的换行符和空格。`

const catalogueTextPrompt = "请你精确识别目录内容，并按照格式要求返回结果：%s"

// CatalogueParser asks a chat model to turn catalogue page text into a flat
// page label to title mapping. It returns the raw answer; repairing and
// decoding it is the caller's job, as is retrying.
type CatalogueParser struct {
	client      ChatCompleter
	model       string
	temperature float32
}

// NewCatalogueParser creates a parser for model.
func NewCatalogueParser(client ChatCompleter, model string, temperature float32) *CatalogueParser {
	return &CatalogueParser{client: client, model: model, temperature: temperature}
}

// ParseCatalogue makes exactly one completion call.
func (p *CatalogueParser) ParseCatalogue(ctx context.Context, text, language string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(catalogueSystemPrompt, language)},
			{Role: openai.ChatMessageRoleUser, Content: catalogueFormatPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(catalogueTextPrompt, text)},
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", Classify(domain.APIError("catalogue completion", err))
	}

	return FirstChoice(resp)
}
