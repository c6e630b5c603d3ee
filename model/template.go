package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"time"
)

// Template is the canonical clause structure for one agreement type.
// Templates are immutable once built; updates replace them wholesale.
type Template struct {
	AgreementType AgreementType `json:"agreement_type"`
	Clauses       []Clause      `json:"clauses"`
	ContentHash   string        `json:"content_hash"`
	Version       time.Time     `json:"version"`
}

type canonicalClause struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// NewTemplate builds a template, tagging every clause as template-sourced
// and computing its content hash.
func NewTemplate(t AgreementType, clauses []Clause, version time.Time) Template {
	cs := make([]Clause, len(clauses))
	for i, c := range clauses {
		c.Source = SourceTemplate
		cs[i] = c
	}
	return Template{
		AgreementType: t,
		Clauses:       cs,
		ContentHash:   ComputeContentHash(cs),
		Version:       version,
	}
}

// ComputeContentHash returns the hex SHA-256 of the canonical JSON encoding
// of the clauses' names and contents, in order.
func ComputeContentHash(clauses []Clause) string {
	canonical := make([]canonicalClause, len(clauses))
	for i, c := range clauses {
		canonical[i] = canonicalClause{Name: c.Name, Content: c.Content}
	}
	// Marshalling a slice of plain string structs cannot fail
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy safe to hand to readers
func (t Template) Clone() Template {
	t.Clauses = slices.Clone(t.Clauses)
	return t
}
