package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdprcheck/contractcheck/model"
)

func contractClauses() []model.Clause {
	return []model.Clause{
		{ID: "1", Name: "1. Subject Matter", Content: "Processing on behalf of the controller."},
		{ID: "2", Name: "Security Measures:", Content: "Appropriate measures."},
		{ID: "3", Name: "Governing Law", Content: "Irish law."},
	}
}

func TestAlign(t *testing.T) {
	a := Align(dpaTemplate().Clauses, contractClauses())

	require.Len(t, a.Matched, 2)
	assert.Equal(t, "Subject Matter", a.Matched[0].Template.Name)
	assert.Equal(t, "1. Subject Matter", a.Matched[0].Contract.Name)
	assert.Equal(t, "Security Measures", a.Matched[1].Template.Name)

	require.Len(t, a.UnmatchedTemplate, 1)
	assert.Equal(t, "Data Subject Rights", a.UnmatchedTemplate[0].Name)
	require.Len(t, a.UnmatchedContract, 1)
	assert.Equal(t, "Governing Law", a.UnmatchedContract[0].Name)
}

func TestComparator_Compare(t *testing.T) {
	gen := newFakeGen().on("compare", `Missing Clauses:
- Data Subject Rights
Potential Compliance Risks:
- No breach notification timeline
Risk Score (0-100): 60
Reasoning: Rights handling is absent.
Recommendations:
- Add a data subject rights clause.
- Add a 72 hour breach notification timeline.`)
	c := NewComparator(gen, testEngineConfig(), nil)
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	res, err := c.Compare(context.Background(), contractClauses(), dpaTemplate())
	require.NoError(t, err)

	assert.Equal(t, model.AgreementDPA, res.AgreementType)
	assert.Equal(t, []string{"Data Subject Rights"}, res.MissingClauses)
	assert.Equal(t, []string{"No breach notification timeline"}, res.ComplianceRisks)
	assert.Len(t, res.Recommendations, 2)
	assert.Equal(t, 60, res.RiskScore)
	assert.Equal(t, "Rights handling is absent.", res.Reasoning)
	assert.Equal(t, at, res.Timestamp)
	assert.Equal(t, 1, gen.count("compare"), "one holistic call per contract")

	prompt := gen.prompts[0].User
	assert.Contains(t, prompt, "Subject Matter <-> 1. Subject Matter")
	assert.Contains(t, prompt, "- Data Subject Rights")
	assert.Contains(t, prompt, "Risk Score (0-100)")
}

func TestComparator_MissingThatMatchedLocallyBecomesRisk(t *testing.T) {
	gen := newFakeGen().on("compare", `Missing Clauses:
- Security Measures (altered: no reference to Article 32)
- Subject matter
Risk Score (0-100): 55
Recommendations:
- Restore Article 32 measures`)
	c := NewComparator(gen, testEngineConfig(), nil)

	res, err := c.Compare(context.Background(), contractClauses(), dpaTemplate())
	require.NoError(t, err)

	assert.Empty(t, res.MissingClauses)
	assert.Equal(t, []string{
		"Security Measures: altered relative to template (altered: no reference to Article 32)",
		"Subject matter: altered relative to template",
	}, res.ComplianceRisks)
	assert.Equal(t, 55, res.RiskScore)
	assert.Equal(t, []string{"Restore Article 32 measures"}, res.Recommendations)
}

func TestComparator_AlteredRiskKeepsNestedQualifier(t *testing.T) {
	assert.Equal(t, "Subject matter: altered relative to template (Article 28(3))", alteredRisk("Subject matter (Article 28(3))"))
	assert.Equal(t, "Audit: altered relative to template", alteredRisk("Audit"))
}

func TestComparator_RubricFloor(t *testing.T) {
	gen := newFakeGen().on("compare", `Missing Clauses:
- Data breach notification
- Audit clause
Potential Compliance Risks:
- International transfer without SCCs
Risk Score: 5`)
	c := NewComparator(gen, testEngineConfig(), nil)

	res, err := c.Compare(context.Background(), contractClauses(), dpaTemplate())
	require.NoError(t, err)

	// breach 25 + default missing 10 + transfer 20
	assert.Equal(t, 55, res.RiskScore)
}

func TestComparator_ModelScoreAboveFloorKept(t *testing.T) {
	gen := newFakeGen().on("compare", "Potential Compliance Risks:\n- Vague retention period\nRisk Score: 45")
	c := NewComparator(gen, testEngineConfig(), nil)

	res, err := c.Compare(context.Background(), contractClauses(), dpaTemplate())
	require.NoError(t, err)
	assert.Equal(t, 45, res.RiskScore)
}

func TestComparator_ScoreInvariants(t *testing.T) {
	narratives := []string{
		"Risk Score: 90",
		"Missing Clauses: None\nRisks: None\nScore: 250",
		"Risks:\n- a\n- b\nScore: -40",
		"Missing Clauses:\n- Breach\n- Security\n- Transfer\n- Subprocessor\n- Data subject\nScore: 99",
		"garbage",
		"",
	}
	for i, n := range narratives {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			gen := newFakeGen().on("compare", n)
			res, err := NewComparator(gen, testEngineConfig(), nil).Compare(context.Background(), contractClauses(), dpaTemplate())
			require.NoError(t, err)

			assert.GreaterOrEqual(t, res.RiskScore, 0)
			assert.LessOrEqual(t, res.RiskScore, 100)
			if !res.HasFindings() {
				assert.Zero(t, res.RiskScore)
			}
			if res.RiskScore > 0 {
				assert.True(t, res.HasFindings())
			}
		})
	}
}

func TestComparator_ServiceFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	gen := newFakeGen().fail("compare", boom)

	_, err := NewComparator(gen, testEngineConfig(), nil).Compare(context.Background(), contractClauses(), dpaTemplate())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComparisonService)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StageCompare, FailedStage(err))
}

func TestRubricFloorCapped(t *testing.T) {
	cfg := testEngineConfig()
	missing := make([]string, 20)
	for i := range missing {
		missing[i] = "security breach"
	}
	assert.Equal(t, 100, RubricFloor(cfg, missing, nil))
	assert.Equal(t, 0, RubricFloor(cfg, nil, nil))
	assert.Equal(t, 15, RubricFloor(cfg, []string{"x"}, []string{"y"}))
}
