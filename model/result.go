package model

import (
	"time"
)

// Risk levels derived from the risk score
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// ComparisonResult is the structured outcome of comparing a contract
// against its template.
type ComparisonResult struct {
	AgreementType   AgreementType `json:"agreement_type"`
	RiskScore       int           `json:"risk_score"`
	MissingClauses  []string      `json:"missing_clauses"`
	ComplianceRisks []string      `json:"compliance_risks"`
	Recommendations []string      `json:"recommendations"`
	Reasoning       string        `json:"reasoning,omitempty"`
	RawNarrative    string        `json:"raw_narrative"`
	Timestamp       time.Time     `json:"timestamp"`
}

// HasFindings reports whether any clause was flagged as missing or risky
func (r *ComparisonResult) HasFindings() bool {
	return len(r.MissingClauses) > 0 || len(r.ComplianceRisks) > 0
}

// Normalize enforces the result invariants: the score lies in [0,100], it
// is zero when nothing was flagged, and list fields are never nil.
func (r *ComparisonResult) Normalize() {
	if r.MissingClauses == nil {
		r.MissingClauses = []string{}
	}
	if r.ComplianceRisks == nil {
		r.ComplianceRisks = []string{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	r.RiskScore = ClampScore(r.RiskScore)
	if !r.HasFindings() {
		r.RiskScore = 0
	}
}

// RiskLevel buckets the score the way alert recipients read it
func (r *ComparisonResult) RiskLevel() string {
	switch {
	case r.RiskScore <= 25:
		return RiskLow
	case r.RiskScore <= 50:
		return RiskMedium
	case r.RiskScore <= 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// ClampScore limits a score to [0,100]
func ClampScore(score int) int {
	return min(max(score, 0), 100)
}
