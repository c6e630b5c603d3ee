package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gdprcheck/contractcheck/model"
)

// Section is one recognised part of a comparison narrative
type Section string

const (
	SectionMissing         Section = "missing_clauses"
	SectionRisks           Section = "compliance_risks"
	SectionScore           Section = "risk_score"
	SectionReasoning       Section = "reasoning"
	SectionRecommendations Section = "recommendations"
)

// SectionRule maps header spellings to a section. Synonyms are compared
// case-insensitively after markup, numbering and parentheticals are removed.
type SectionRule struct {
	Section  Section
	Synonyms []string
}

// DefaultSectionRules are the headers comparison narratives use in practice
var DefaultSectionRules = []SectionRule{
	{Section: SectionMissing, Synonyms: []string{"missing clauses", "missing clause", "missing", "gaps", "missing or altered clauses"}},
	{Section: SectionRisks, Synonyms: []string{"potential compliance risks", "compliance risks", "risks", "flagged risks"}},
	{Section: SectionScore, Synonyms: []string{"risk score", "score", "overall risk score"}},
	{Section: SectionReasoning, Synonyms: []string{"reasoning", "rationale", "justification"}},
	{Section: SectionRecommendations, Synonyms: []string{"recommendations", "recommendation", "suggested amendments", "amendments", "suggestions"}},
}

var placeholders = map[string]bool{
	"none":                           true,
	"none identified":                true,
	"none found":                     true,
	"n/a":                            true,
	"na":                             true,
	"nil":                            true,
	"not applicable":                 true,
	"no missing clauses":             true,
	"no missing clauses identified":  true,
	"no risks identified":            true,
	"no compliance risks identified": true,
	"no recommendations":             true,
	"-":                              true,
}

var (
	headingMarkRe = regexp.MustCompile(`^(#+|[-*•+]|\d+[.)]|[ivxIVX]+[.)])\s*`)
	listMarkRe    = regexp.MustCompile(`^([-*•+]|\d+[.)]|[ivxIVX]+[.)])`)
	itemMarkRe    = regexp.MustCompile(`^([-*•+]|\d+[.)]|[a-zA-Z][.)])\s+`)
	parenRe       = regexp.MustCompile(`\s*\([^)]*\)`)
	spaceRe       = regexp.MustCompile(`\s+`)
	intRe         = regexp.MustCompile(`-?\d+`)
)

// ParsedReport is the structured reading of a narrative. Text that came
// before any recognised header is kept in Unparsed.
type ParsedReport struct {
	MissingClauses  []string
	ComplianceRisks []string
	Recommendations []string
	Reasoning       string
	RiskScore       int
	ScoreFound      bool
	Unparsed        string
	Raw             string
}

// Result converts the parsed report into a normalized comparison result
func (p ParsedReport) Result(t model.AgreementType, at time.Time) model.ComparisonResult {
	r := model.ComparisonResult{
		AgreementType:   t,
		RiskScore:       p.RiskScore,
		MissingClauses:  append([]string(nil), p.MissingClauses...),
		ComplianceRisks: append([]string(nil), p.ComplianceRisks...),
		Recommendations: append([]string(nil), p.Recommendations...),
		Reasoning:       p.Reasoning,
		RawNarrative:    p.Raw,
		Timestamp:       at,
	}
	r.Normalize()
	return r
}

// ReportParser turns free text comparison narratives into ParsedReports.
// It holds no state between calls.
type ReportParser struct {
	headers map[string]Section
}

// NewReportParser builds a parser for rules. Nil rules mean DefaultSectionRules.
func NewReportParser(rules []SectionRule) *ReportParser {
	if rules == nil {
		rules = DefaultSectionRules
	}
	headers := make(map[string]Section)
	for _, rule := range rules {
		for _, syn := range rule.Synonyms {
			headers[normalizeHeading(syn)] = rule.Section
		}
	}
	return &ReportParser{headers: headers}
}

type parseState struct {
	out       ParsedReport
	section   Section
	marked    bool // current header was written as a list entry
	inItem    bool
	reasoning []string
	unparsed  []string
}

// Parse reads narrative into a ParsedReport
func (p *ReportParser) Parse(narrative string) ParsedReport {
	st := &parseState{out: ParsedReport{Raw: narrative}}

	for _, line := range strings.Split(narrative, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			st.inItem = false
			if st.section == SectionReasoning && len(st.reasoning) > 0 {
				st.reasoning = append(st.reasoning, "")
			}
			continue
		}

		if section, inline, marked, ok := p.header(trimmed); ok && !st.listEntry(marked, inline) {
			st.section = section
			st.marked = marked
			st.inItem = false
			if inline != "" {
				st.inline(inline)
			}
			continue
		}
		st.content(trimmed)
	}

	st.out.Reasoning = strings.TrimSpace(strings.Join(st.reasoning, "\n"))
	st.out.Unparsed = strings.TrimSpace(strings.Join(st.unparsed, "\n"))
	return st.out
}

// header reports whether line opens a section, returning any value written
// on the same line after the colon and whether the line carried a list mark.
func (p *ReportParser) header(line string) (Section, string, bool, bool) {
	s := strings.NewReplacer("**", "", "__", "").Replace(line)
	s = strings.TrimSpace(s)
	marked := listMarkRe.MatchString(s)
	for loc := headingMarkRe.FindStringIndex(s); loc != nil && loc[1] > 0; loc = headingMarkRe.FindStringIndex(s) {
		s = s[loc[1]:]
	}

	label, inline, _ := strings.Cut(s, ":")
	section, ok := p.headers[normalizeHeading(label)]
	if !ok {
		return "", "", false, false
	}
	return section, strings.TrimSpace(inline), marked, true
}

// listEntry reports whether a header-looking line is really an item of the
// current list. Under a plain header a bulleted "Label: text" line is an
// entry. Bulleted headers only switch sections among themselves.
func (st *parseState) listEntry(marked bool, inline string) bool {
	if !marked || inline == "" || st.marked {
		return false
	}
	switch st.section {
	case SectionMissing, SectionRisks, SectionRecommendations:
		return true
	}
	return false
}

func normalizeHeading(s string) string {
	s = parenRe.ReplaceAllString(s, "")
	s = strings.Trim(strings.TrimSpace(s), ".:*#")
	return spaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

func (st *parseState) inline(value string) {
	switch st.section {
	case SectionScore:
		st.score(value)
	case SectionReasoning:
		st.reasoning = append(st.reasoning, value)
	default:
		if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
			for _, item := range strings.Split(strings.Trim(value, "[]"), ",") {
				st.addItem(strings.Trim(strings.TrimSpace(item), `"'`))
			}
			return
		}
		st.addItem(itemMarkRe.ReplaceAllString(value, ""))
	}
}

func (st *parseState) content(line string) {
	switch st.section {
	case "":
		st.unparsed = append(st.unparsed, line)
	case SectionScore:
		st.score(line)
	case SectionReasoning:
		st.reasoning = append(st.reasoning, line)
	default:
		if itemMarkRe.MatchString(line) {
			st.addItem(itemMarkRe.ReplaceAllString(line, ""))
			return
		}
		if st.inItem {
			list := st.list()
			(*list)[len(*list)-1] += " " + line
			return
		}
		st.addItem(line)
	}
}

func (st *parseState) score(text string) {
	if st.out.ScoreFound {
		return
	}
	m := intRe.FindString(text)
	if m == "" {
		return
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return
	}
	st.out.RiskScore = model.ClampScore(n)
	st.out.ScoreFound = true
}

func (st *parseState) addItem(item string) {
	item = strings.TrimSpace(strings.NewReplacer("**", "", "__", "").Replace(item))
	if item == "" || isPlaceholder(item) {
		st.inItem = false
		return
	}
	list := st.list()
	*list = append(*list, item)
	st.inItem = true
}

func (st *parseState) list() *[]string {
	switch st.section {
	case SectionMissing:
		return &st.out.MissingClauses
	case SectionRisks:
		return &st.out.ComplianceRisks
	default:
		return &st.out.Recommendations
	}
}

func isPlaceholder(item string) bool {
	return placeholders[strings.Trim(strings.ToLower(strings.TrimSpace(item)), ".!")]
}
