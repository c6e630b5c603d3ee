package model

import (
	"regexp"
	"strings"
	"unicode"
)

// ClauseSource tells where a clause came from
type ClauseSource string

const (
	SourceExtracted ClauseSource = "extracted"
	SourceTemplate  ClauseSource = "template"
)

// Clause is a named, summarized unit of contractual text
type Clause struct {
	ID      string       `json:"clause_id,omitempty"`
	Name    string       `json:"heading"`
	Content string       `json:"text"`
	Source  ClauseSource `json:"source,omitempty"`
}

// NormalizedName returns the clause name in its comparison form
func (c Clause) NormalizedName() string {
	return NormalizeClauseName(c.Name)
}

// numberingRe matches one leading numbering prefix: "4.2", "12)", "(b)",
// "iv." Letters and roman numerals count only with a marker.
var numberingRe = regexp.MustCompile(`^\s*(?:\d+(?:\.\d+)*(?:[^\pL\pN(]+|$)|\((?:\d+|[a-z]|[ivx]+)\)\s*|(?:[a-z]|[ivx]+)[.)]\s*)`)

// NormalizeClauseName lowercases a clause heading, drops leading numbering
// such as "4.2" or "(b)" and collapses punctuation and whitespace, so that
// "4.  Data  Subject Rights:" and "data subject rights" compare equal.
func NormalizeClauseName(name string) string {
	s := strings.ToLower(name)
	for {
		loc := numberingRe.FindStringIndex(s)
		if loc == nil || loc[1] == 0 || !hasWord(s[loc[1]:]) {
			break
		}
		s = s[loc[1]:]
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func hasWord(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}
