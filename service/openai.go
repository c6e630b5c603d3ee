package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/engine"
)

// OpenAIGenerator talks to any OpenAI compatible chat completions endpoint,
// including local servers such as LM Studio.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIGenerator creates an OpenAI compatible generator
func NewOpenAIGenerator(cfg *config.LLMConfig) *OpenAIGenerator {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, p engine.Prompt) (string, error) {
	temperature := p.Temperature
	if temperature == 0 {
		temperature = g.temperature
	}

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: temperature,
	}
	if p.System != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.System,
		})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.User,
	})
	wrapped := p.Schema != nil && p.Schema.Type == engine.TypeArray
	if p.Schema != nil {
		schema := p.Schema
		if wrapped {
			schema = wrapArraySchema(p.Schema)
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName(p.Task),
				Schema: schema,
			},
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", p.Task, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai %s: empty response", p.Task)
	}
	content := resp.Choices[0].Message.Content
	if wrapped {
		return unwrapArray(content), nil
	}
	return content, nil
}

// wrappedItemsKey holds an array answer. Structured outputs only accept an
// object at the schema root.
const wrappedItemsKey = "items"

func wrapArraySchema(s *engine.Schema) *engine.Schema {
	return &engine.Schema{
		Type:       engine.TypeObject,
		Properties: map[string]*engine.Schema{wrappedItemsKey: s},
		Required:   []string{wrappedItemsKey},
	}
}

// unwrapArray returns the array held under wrappedItemsKey. Anything else
// is passed through for the caller to validate.
func unwrapArray(content string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &obj); err != nil {
		return content
	}
	items, ok := obj[wrappedItemsKey]
	if !ok {
		return content
	}
	return string(items)
}

func schemaName(task string) string {
	if task == "" {
		return "response"
	}
	return strings.NewReplacer("-", "_", " ", "_").Replace(task)
}
