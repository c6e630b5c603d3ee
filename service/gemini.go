package service

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/engine"
)

// GeminiGenerator answers engine prompts with Google's Gemini models
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiGenerator creates a Gemini backed generator
func NewGeminiGenerator(ctx context.Context, cfg *config.LLMConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiGenerator{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Generate sends one prompt. Schema constrained prompts request JSON output.
func (g *GeminiGenerator) Generate(ctx context.Context, p engine.Prompt) (string, error) {
	temperature := p.Temperature
	if temperature == 0 {
		temperature = g.temperature
	}

	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
		// thinking off
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	}
	if p.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if p.Schema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = toGenaiSchema(p.Schema)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(p.User), gc)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", p.Task, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini %s: empty response", p.Task)
	}
	return text, nil
}

func toGenaiSchema(s *engine.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:     genaiType(s.Type),
		Items:    toGenaiSchema(s.Items),
		Required: s.Required,
		Enum:     s.Enum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case engine.TypeArray:
		return genai.TypeArray
	case engine.TypeObject:
		return genai.TypeObject
	case engine.TypeInteger:
		return genai.TypeInteger
	default:
		return genai.TypeString
	}
}
