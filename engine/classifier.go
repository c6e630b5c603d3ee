package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/model"
	"github.com/gdprcheck/contractcheck/pkg/logger"
)

// TypeClassifier decides which agreement type a document is
type TypeClassifier interface {
	Classify(ctx context.Context, text string) (model.AgreementType, error)
}

// Classifier asks the model for the agreement type. Any answer outside the
// known labels becomes UNKNOWN.
type Classifier struct {
	gen Generator
	cfg *config.EngineConfig
}

// NewClassifier creates a classifier
func NewClassifier(gen Generator, cfg *config.EngineConfig) *Classifier {
	return &Classifier{gen: gen, cfg: cfg}
}

func classifierSchema() *Schema {
	labels := make([]string, 0, len(model.KnownAgreementTypes)+1)
	for _, t := range model.KnownAgreementTypes {
		labels = append(labels, string(t))
	}
	labels = append(labels, string(model.AgreementUnknown))
	return &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"document_type": {Type: TypeString, Enum: labels},
		},
		Required: []string{"document_type"},
	}
}

func classifierPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Classify the following document as exactly one of these GDPR agreement types:\n")
	for _, t := range model.KnownAgreementTypes {
		fmt.Fprintf(&b, "- %s (%s)\n", t, t.DisplayName())
	}
	fmt.Fprintf(&b, "- %s if it is none of the above\n\n", model.AgreementUnknown)
	b.WriteString(`Respond with JSON: {"document_type": "<label>"}`)
	b.WriteString("\n\nDocument:\n")
	b.WriteString(text)
	return b.String()
}

// Classify returns the agreement type of text
func (c *Classifier) Classify(ctx context.Context, text string) (model.AgreementType, error) {
	if strings.TrimSpace(text) == "" {
		return model.AgreementUnknown, nil
	}
	input := truncateRunes(text, c.cfg.ClassifierMaxChars)

	resp, err := callModel(ctx, c.gen, c.cfg.CallTimeout, Prompt{
		Task:   "classify",
		System: "You are an expert in GDPR agreements. You answer with a single classification label.",
		User:   classifierPrompt(input),
		Schema: classifierSchema(),
	})
	if err != nil {
		return model.AgreementUnknown, stageErr(StageClassify, ErrClassificationService, err)
	}

	label := parseLabel(resp)
	t := model.ParseAgreementType(label)
	logger.Info(ctx, "document classified", "label", label, "agreement_type", t)
	return t, nil
}

// parseLabel pulls the label out of an object, a list or a bare answer
func parseLabel(resp string) string {
	body := cleanJSON(resp)

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil {
		for _, key := range []string{"document_type", "type", "label", "agreement_type"} {
			if s, ok := obj[key].(string); ok {
				return strings.TrimSpace(s)
			}
		}
		return ""
	}

	var list []map[string]any
	if err := json.Unmarshal([]byte(body), &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		if s, ok := list[0]["document_type"].(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	}

	var s string
	if err := json.Unmarshal([]byte(body), &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.Trim(strings.TrimSpace(body), `"'.`)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
