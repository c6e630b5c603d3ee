package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdprcheck/contractcheck/model"
)

func TestStructurer_Extract(t *testing.T) {
	gen := newFakeGen().on("extract_clauses", "```json\n"+clausesJSON+"\n```")
	s := NewStructurer(gen, testEngineConfig())

	set, err := s.Structure(context.Background(), []model.Segment{{Index: 0, Text: "Subject Matter ... Security Measures ..."}})
	require.NoError(t, err)

	assert.False(t, set.Summarized)
	require.Len(t, set.Clauses, 2)
	assert.Equal(t, "Subject Matter", set.Clauses[0].Name)
	assert.Equal(t, model.SourceExtracted, set.Clauses[1].Source)
	assert.Equal(t, 0, gen.count("summarize"))
}

func TestStructurer_RetriesOnceOnMalformedOutput(t *testing.T) {
	gen := newFakeGen().
		on("extract_clauses", "Here are the clauses you asked for.").
		on("extract_clauses_strict", clausesJSON)
	s := NewStructurer(gen, testEngineConfig())

	set, err := s.Structure(context.Background(), []model.Segment{{Text: "contract"}})
	require.NoError(t, err)
	assert.Len(t, set.Clauses, 2)
	assert.Equal(t, 1, gen.count("extract_clauses"))
	assert.Equal(t, 1, gen.count("extract_clauses_strict"))
}

func TestStructurer_MalformedTwice(t *testing.T) {
	tests := []struct {
		name   string
		answer string
	}{
		{"prose", "I could not find any clauses."},
		{"empty array", "[]"},
		{"missing text", `[{"clause_id": "1", "heading": "Scope", "text": ""}]`},
		{"missing heading", `[{"clause_id": "1", "heading": " ", "text": "Body"}]`},
		{"wrong shape", `{"foo": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newFakeGen().
				on("extract_clauses", tt.answer).
				on("extract_clauses_strict", tt.answer)
			s := NewStructurer(gen, testEngineConfig())

			_, err := s.Structure(context.Background(), []model.Segment{{Text: "contract"}})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedExtraction)
			assert.Equal(t, StageStructure, FailedStage(err))
			assert.Equal(t, 1, gen.count("extract_clauses_strict"))
		})
	}
}

func TestStructurer_TransportFailureNotRetried(t *testing.T) {
	boom := errors.New("connection reset")
	gen := newFakeGen().fail("extract_clauses", boom)
	s := NewStructurer(gen, testEngineConfig())

	_, err := s.Structure(context.Background(), []model.Segment{{Text: "contract"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionService)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, gen.count("extract_clauses"))
	assert.Equal(t, 0, gen.count("extract_clauses_strict"))
}

func TestStructurer_OversizedDocumentIsSummarized(t *testing.T) {
	cfg := testEngineConfig()
	cfg.SummarizeThreshold = 100

	page := strings.Repeat("The processor shall notify breaches without undue delay. ", 10)
	segs := []model.Segment{
		{Index: 0, Text: "1. Breach Notification " + page},
		{Index: 1, Text: "   "},
		{Index: 2, Text: "2. Sub-processors " + page},
	}

	gen := newFakeGen().
		on("summarize",
			"1. Breach Notification: processor notifies breaches promptly.",
			"2. Sub-processors: prior authorisation required.").
		on("extract_clauses", `[
			{"clause_id": "1", "heading": "Breach Notification", "text": "Processor notifies breaches promptly."},
			{"clause_id": "2", "heading": "Sub-processors", "text": "Prior authorisation required."}
		]`)
	s := NewStructurer(gen, cfg)

	set, err := s.Structure(context.Background(), segs)
	require.NoError(t, err)

	assert.True(t, set.Summarized)
	assert.Equal(t, 2, gen.count("summarize"), "blank pages are not summarized")

	names := make([]string, len(set.Clauses))
	for i, c := range set.Clauses {
		names[i] = c.NormalizedName()
	}
	assert.ElementsMatch(t, []string{"breach notification", "sub processors"}, names)

	var extractPrompt Prompt
	for _, p := range gen.prompts {
		if p.Task == "extract_clauses" {
			extractPrompt = p
		}
	}
	assert.Contains(t, extractPrompt.User, "Breach Notification: processor notifies breaches promptly.")
	assert.NotContains(t, extractPrompt.User, page)
}

func TestStructurer_SummaryIsBounded(t *testing.T) {
	cfg := testEngineConfig()
	cfg.SummarizeThreshold = 10
	cfg.CompressionRatio = 0.25

	text := strings.Repeat("word ", 40) // 200 bytes
	gen := newFakeGen().
		on("summarize", strings.Repeat("verbose ", 40)).
		on("extract_clauses", clausesJSON)
	s := NewStructurer(gen, cfg)

	_, err := s.Structure(context.Background(), []model.Segment{{Text: text}})
	require.NoError(t, err)

	var user string
	for _, p := range gen.prompts {
		if p.Task == "extract_clauses" {
			user = p.User
		}
	}
	_, summary, _ := strings.Cut(user, "Input:\n")
	assert.LessOrEqual(t, len(summary), 50)
	assert.False(t, strings.HasSuffix(summary, "verb"), "summary is cut at a word boundary")
}

func TestStructurer_SummarizeFailure(t *testing.T) {
	cfg := testEngineConfig()
	cfg.SummarizeThreshold = 1
	gen := newFakeGen().fail("summarize", context.DeadlineExceeded)
	s := NewStructurer(gen, cfg)

	_, err := s.Structure(context.Background(), []model.Segment{{Text: "long enough"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionService)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseClauses_AlternateKeys(t *testing.T) {
	clauses, err := parseClauses(`{"clauses": [
		{"clause_id": 7, "heading/title": "Audit Rights", "summarised_text": "Controller may audit."},
		{"title": "Term", "full text": "Runs for two years."}
	]}`)
	require.NoError(t, err)
	require.Len(t, clauses, 2)

	assert.Equal(t, model.Clause{ID: "7", Name: "Audit Rights", Content: "Controller may audit.", Source: model.SourceExtracted}, clauses[0])
	assert.Equal(t, "2", clauses[1].ID)
	assert.Equal(t, "Term", clauses[1].Name)
}

func TestTruncateAtWord(t *testing.T) {
	assert.Equal(t, "short", truncateAtWord("short", 10))
	assert.Equal(t, "alpha beta", truncateAtWord("alpha beta gamma", 12))
	assert.Equal(t, "héllo", truncateAtWord("héllowörld", 6), "never splits a rune")
}
