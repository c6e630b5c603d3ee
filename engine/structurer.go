package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/model"
	"github.com/gdprcheck/contractcheck/pkg/logger"
)

// ClauseSet is the normalized clause structure of one document
type ClauseSet struct {
	Clauses    []model.Clause
	Summarized bool
}

// ClauseExtractor turns document segments into clauses
type ClauseExtractor interface {
	Structure(ctx context.Context, segs []model.Segment) (ClauseSet, error)
}

var clauseSchema = &Schema{
	Type: TypeArray,
	Items: &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"clause_id": {Type: TypeString},
			"heading":   {Type: TypeString},
			"text":      {Type: TypeString},
		},
		Required: []string{"clause_id", "heading", "text"},
	},
}

const structurerSystem = "You are an expert in legal contract analysis. You extract clauses from contracts faithfully and never invent content."

// Structurer extracts clauses with the model, summarising first when the
// document is too large for one request.
type Structurer struct {
	gen Generator
	cfg *config.EngineConfig
}

// NewStructurer creates a clause structurer
func NewStructurer(gen Generator, cfg *config.EngineConfig) *Structurer {
	return &Structurer{gen: gen, cfg: cfg}
}

// Structure extracts the clauses discernible in segs
func (s *Structurer) Structure(ctx context.Context, segs []model.Segment) (ClauseSet, error) {
	start := time.Now()
	text := JoinSegments(segs)
	set := ClauseSet{}

	if TotalLength(segs) > s.cfg.SummarizeThreshold {
		logger.Info(ctx, "document exceeds summarization threshold",
			"length", TotalLength(segs),
			"threshold", s.cfg.SummarizeThreshold,
		)
		summary, err := s.summarize(ctx, segs)
		if err != nil {
			return ClauseSet{}, err
		}
		text = summary
		set.Summarized = true
	}

	clauses, err := s.extract(ctx, text)
	if err != nil {
		return ClauseSet{}, err
	}
	set.Clauses = clauses

	logger.Info(ctx, "clauses extracted",
		"clauses", len(clauses),
		"summarized", set.Summarized,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return set, nil
}

// summarize condenses every non-empty segment to at most CompressionRatio of
// its length and joins the summaries.
func (s *Structurer) summarize(ctx context.Context, segs []model.Segment) (string, error) {
	summaries := make([]string, 0, len(segs))
	for _, seg := range segs {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		limit := int(math.Ceil(float64(len(text)) * s.cfg.CompressionRatio))

		resp, err := callModel(ctx, s.gen, s.cfg.CallTimeout, Prompt{
			Task:   "summarize",
			System: structurerSystem,
			User: fmt.Sprintf(`Summarise the following contract page in at most %d characters.
Keep every clause heading and the obligations, parties, deadlines and legal references of each clause.
Do not add commentary.

Page %d:
%s`, limit, seg.Index+1, text),
		})
		if err != nil {
			return "", stageErr(StageStructure, ErrExtractionService, fmt.Errorf("summarize page %d: %w", seg.Index+1, err))
		}
		summaries = append(summaries, truncateAtWord(strings.TrimSpace(resp), limit))
	}
	return strings.Join(summaries, "\n\n"), nil
}

func (s *Structurer) extract(ctx context.Context, text string) ([]model.Clause, error) {
	prompt := Prompt{
		Task:   "extract_clauses",
		System: structurerSystem,
		Schema: clauseSchema,
		User: fmt.Sprintf(`Extract all clauses from the following contract text.

Respond with a JSON array where every element is
{"clause_id": "<id>", "heading": "<clause heading>", "text": "<clause text or faithful summary>"}

Input:
%s`, text),
	}

	resp, err := callModel(ctx, s.gen, s.cfg.CallTimeout, prompt)
	if err != nil {
		return nil, stageErr(StageStructure, ErrExtractionService, err)
	}
	clauses, verr := parseClauses(resp)
	if verr == nil {
		return clauses, nil
	}

	logger.Warn(ctx, "malformed clause extraction, retrying with stricter prompt", "error", verr)

	prompt.Task = "extract_clauses_strict"
	prompt.User = fmt.Sprintf(`Your previous answer could not be used: %v.

Respond with ONLY a JSON array, no prose and no markdown fences.
Every element must be an object with the string fields "clause_id", "heading" and "text", and "heading" and "text" must not be empty.
Return at least one element.

%s`, verr, prompt.User)

	resp, err = callModel(ctx, s.gen, s.cfg.CallTimeout, prompt)
	if err != nil {
		return nil, stageErr(StageStructure, ErrExtractionService, err)
	}
	clauses, verr = parseClauses(resp)
	if verr != nil {
		return nil, stageErr(StageStructure, ErrMalformedExtraction, verr)
	}
	return clauses, nil
}

// rawClause accepts the key spellings models commonly answer with
type rawClause struct {
	ClauseID     any    `json:"clause_id"`
	Heading      string `json:"heading"`
	Title        string `json:"title"`
	HeadingTitle string `json:"heading/title"`
	Text         string `json:"text"`
	FullText     string `json:"full text"`
	Summary      string `json:"summarised_text"`
}

// parseClauses validates a model answer against the clause schema
func parseClauses(resp string) ([]model.Clause, error) {
	body := cleanJSON(resp)
	if body == "" {
		return nil, errors.New("empty response")
	}

	var raw []rawClause
	if strings.HasPrefix(body, "{") {
		var wrapped struct {
			Clauses []rawClause `json:"clauses"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		raw = wrapped.Clauses
	} else if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if len(raw) == 0 {
		return nil, errors.New("no clauses returned")
	}

	clauses := make([]model.Clause, 0, len(raw))
	for i, rc := range raw {
		heading := strings.TrimSpace(firstNonEmpty(rc.Heading, rc.HeadingTitle, rc.Title))
		text := strings.TrimSpace(firstNonEmpty(rc.Text, rc.FullText, rc.Summary))
		if heading == "" || text == "" {
			return nil, fmt.Errorf("clause %d is missing a heading or text", i+1)
		}
		id := clauseID(rc.ClauseID)
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		clauses = append(clauses, model.Clause{
			ID:      id,
			Name:    heading,
			Content: text,
			Source:  model.SourceExtracted,
		})
	}
	return clauses, nil
}

func clauseID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// truncateAtWord cuts s to at most limit bytes, preferring a word boundary
// and never splitting a UTF-8 sequence.
func truncateAtWord(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if i := strings.LastIndexAny(s[:cut], " \n\t"); i > limit/2 {
		cut = i
	}
	return strings.TrimSpace(s[:cut])
}
