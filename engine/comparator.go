package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/model"
	"github.com/gdprcheck/contractcheck/pkg/logger"
)

// ClauseComparator judges a contract's clauses against a template
type ClauseComparator interface {
	Compare(ctx context.Context, clauses []model.Clause, tpl model.Template) (model.ComparisonResult, error)
}

// MatchedPair is a template clause and the contract clause with the same name
type MatchedPair struct {
	Template model.Clause
	Contract model.Clause
}

// Alignment is the name-based pairing of template and contract clauses
type Alignment struct {
	Matched           []MatchedPair
	UnmatchedTemplate []model.Clause
	UnmatchedContract []model.Clause
}

// Align pairs template clauses with contract clauses by normalized name.
// Each contract clause is used at most once.
func Align(template, contract []model.Clause) Alignment {
	byName := make(map[string][]int, len(contract))
	for i, c := range contract {
		n := c.NormalizedName()
		byName[n] = append(byName[n], i)
	}

	used := make([]bool, len(contract))
	var a Alignment
	for _, t := range template {
		idxs := byName[t.NormalizedName()]
		matched := false
		for _, i := range idxs {
			if !used[i] {
				used[i] = true
				a.Matched = append(a.Matched, MatchedPair{Template: t, Contract: contract[i]})
				matched = true
				break
			}
		}
		if !matched {
			a.UnmatchedTemplate = append(a.UnmatchedTemplate, t)
		}
	}
	for i, c := range contract {
		if !used[i] {
			a.UnmatchedContract = append(a.UnmatchedContract, c)
		}
	}
	return a
}

// Comparator runs one holistic model comparison per contract and turns the
// narrative into a scored result.
type Comparator struct {
	gen    Generator
	cfg    *config.EngineConfig
	parser *ReportParser
	now    func() time.Time
}

// NewComparator creates a comparator. A nil parser uses the default headers.
func NewComparator(gen Generator, cfg *config.EngineConfig, parser *ReportParser) *Comparator {
	if parser == nil {
		parser = NewReportParser(nil)
	}
	return &Comparator{gen: gen, cfg: cfg, parser: parser, now: time.Now}
}

// Compare evaluates clauses against tpl
func (c *Comparator) Compare(ctx context.Context, clauses []model.Clause, tpl model.Template) (model.ComparisonResult, error) {
	start := time.Now()
	alignment := Align(tpl.Clauses, clauses)

	narrative, err := callModel(ctx, c.gen, c.cfg.CallTimeout, Prompt{
		Task:        "compare",
		System:      "You are an AI legal assistant specialized in contract review and GDPR compliance.",
		User:        comparisonPrompt(tpl, clauses, alignment),
		Temperature: 0.3,
	})
	if err != nil {
		return model.ComparisonResult{}, stageErr(StageCompare, ErrComparisonService, err)
	}

	parsed := c.parser.Parse(narrative)
	result := parsed.Result(tpl.AgreementType, c.now())
	c.applyPolicy(&result, alignment)

	logger.Info(ctx, "comparison finished",
		"agreement_type", tpl.AgreementType,
		"matched", len(alignment.Matched),
		"missing", len(result.MissingClauses),
		"risks", len(result.ComplianceRisks),
		"risk_score", result.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// applyPolicy reconciles the model's verdict with the local alignment and
// the severity rubric.
func (c *Comparator) applyPolicy(r *model.ComparisonResult, a Alignment) {
	present := make(map[string]bool, len(a.Matched))
	for _, m := range a.Matched {
		present[m.Template.NormalizedName()] = true
	}

	// a "missing" clause that exists by heading was flagged as altered
	missing := r.MissingClauses[:0]
	for _, item := range r.MissingClauses {
		if present[model.NormalizeClauseName(parenRe.ReplaceAllString(item, ""))] {
			r.ComplianceRisks = append(r.ComplianceRisks, alteredRisk(item))
			continue
		}
		missing = append(missing, item)
	}
	r.MissingClauses = missing

	r.RiskScore = max(model.ClampScore(r.RiskScore), RubricFloor(c.cfg, r.MissingClauses, r.ComplianceRisks))
	r.Normalize()
}

// alteredRisk restates a flagged clause that is present by heading as a
// risk, keeping the model's qualifier.
func alteredRisk(item string) string {
	name, qualifier := item, ""
	if open := strings.Index(item, "("); open > 0 {
		name = item[:open]
		qualifier = strings.TrimSuffix(strings.TrimSpace(item[open+1:]), ")")
	}
	risk := strings.TrimSpace(name) + ": altered relative to template"
	if qualifier = strings.TrimSpace(qualifier); qualifier != "" {
		risk += " (" + qualifier + ")"
	}
	return risk
}

// RubricFloor is the lowest score the flagged items justify on their own
func RubricFloor(cfg *config.EngineConfig, missing, risks []string) int {
	total := 0
	for _, item := range missing {
		total += itemWeight(cfg.SeverityRules, item, cfg.MissingWeight)
	}
	for _, item := range risks {
		total += itemWeight(cfg.SeverityRules, item, cfg.RiskWeight)
	}
	return min(total, 100)
}

func itemWeight(rules []config.SeverityRule, item string, fallback int) int {
	text := strings.ToLower(item)
	weight := 0
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				weight = max(weight, rule.Weight)
				break
			}
		}
	}
	if weight == 0 {
		return fallback
	}
	return weight
}

func comparisonPrompt(tpl model.Template, clauses []model.Clause, a Alignment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compare the contract below against the %s template (regulatory standard reference).\n\n", tpl.AgreementType.DisplayName())

	b.WriteString("Template clauses:\n")
	writeClauses(&b, tpl.Clauses)
	b.WriteString("\nContract clauses:\n")
	writeClauses(&b, clauses)

	b.WriteString("\nClauses already matched by heading:\n")
	if len(a.Matched) == 0 {
		b.WriteString("None\n")
	}
	for _, m := range a.Matched {
		fmt.Fprintf(&b, "- %s <-> %s\n", m.Template.Name, m.Contract.Name)
	}
	b.WriteString("\nTemplate clauses without a heading match (decide whether the contract covers them under another name):\n")
	if len(a.UnmatchedTemplate) == 0 {
		b.WriteString("None\n")
	}
	for _, t := range a.UnmatchedTemplate {
		fmt.Fprintf(&b, "- %s\n", t.Name)
	}

	b.WriteString(`
### Tasks:
1. Identify missing or altered clauses compared to the template.
2. Flag potential compliance risks under GDPR.
3. Assign a risk score between 0 and 100 (0 = no risk, 100 = max risk).
4. Provide reasoning for the risk score.
5. Suggest one recommendation for every flagged item.

### Response Format:
Missing Clauses:
- <clause>
Potential Compliance Risks:
- <risk>
Risk Score (0-100): <number>
Reasoning: <text>
Recommendations:
- <recommendation>

Write "None" under any section that has nothing to report.
`)
	return b.String()
}

func writeClauses(b *strings.Builder, clauses []model.Clause) {
	for _, c := range clauses {
		fmt.Fprintf(b, "[%s] %s: %s\n", c.ID, c.Name, c.Content)
	}
}
