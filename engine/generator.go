package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Generator is the generative model oracle every stage delegates judgement to
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// Prompt is one request to the model. When Schema is set the provider is
// asked for JSON conforming to it.
type Prompt struct {
	Task        string
	System      string
	User        string
	Schema      *Schema
	Temperature float32
}

// Schema types
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Schema is a provider neutral subset of JSON Schema
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Enum       []string           `json:"enum,omitempty"`
}

// MarshalJSON emits the schema as standard JSON Schema
func (s Schema) MarshalJSON() ([]byte, error) {
	type plain Schema
	return json.Marshal(plain(s))
}

// callModel runs one generation under its own timeout. A timeout surfaces as
// a context error, the same way a transport failure does.
func callModel(ctx context.Context, gen Generator, timeout time.Duration, p Prompt) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return gen.Generate(ctx, p)
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// cleanJSON strips markdown code fences models like to wrap JSON in
func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
