package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/engine"
	"github.com/gdprcheck/contractcheck/model"
)

// textExtractor treats the document bytes as a single page of text
type textExtractor struct{}

func (textExtractor) Extract(ctx context.Context, data []byte) (engine.SegmentReader, error) {
	return engine.SliceSegments([]model.Segment{{Index: 0, Text: string(data)}}), nil
}

// lineStructurer turns every "Heading: text" line into a clause
type lineStructurer struct{}

func (lineStructurer) Structure(ctx context.Context, segs []model.Segment) (engine.ClauseSet, error) {
	var set engine.ClauseSet
	for _, line := range strings.Split(engine.JoinSegments(segs), "\n") {
		name, text, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		set.Clauses = append(set.Clauses, model.Clause{
			ID:      name,
			Name:    strings.TrimSpace(name),
			Content: strings.TrimSpace(text),
			Source:  model.SourceExtracted,
		})
	}
	if len(set.Clauses) == 0 {
		return set, engine.NewStageError(engine.StageStructure, engine.ErrMalformedExtraction, errors.New("no clauses"))
	}
	return set, nil
}

type sentMessage struct {
	subject string
	body    string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *fakeMessenger) Send(ctx context.Context, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{subject: subject, body: body})
	return m.err
}

func (m *fakeMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// templateServer serves reference documents from a mutable map
type templateServer struct {
	mu   sync.Mutex
	docs map[string]string
}

func (s *templateServer) set(path, doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = doc
}

func (s *templateServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	doc, ok := s.docs[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Write([]byte(doc))
}

func newTestRefresher(t *testing.T, sources []config.TemplateSource, storage ObjectStorage, m *fakeMessenger) (*TemplateRefresher, *engine.TemplateStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := engine.NewTemplateStore()
	eng := engine.New(&config.EngineConfig{}, engine.GeneratorFunc(func(ctx context.Context, p engine.Prompt) (string, error) {
		return "", errors.New("model not available in tests")
	}), store, engine.WithExtractor(textExtractor{}), engine.WithStructurer(lineStructurer{}))

	var messengers []Messenger
	if m != nil {
		messengers = append(messengers, m)
	}
	r := NewTemplateRefresher(eng, store, &config.TemplatesConfig{Dir: dir, Sources: sources}, storage, messengers)
	return r, store, dir
}

func TestTemplateRefresherNewTemplate(t *testing.T) {
	docs := &templateServer{docs: map[string]string{
		"/dpa.pdf": "Subject Matter: processing of customer data\nSecurity Measures: encryption at rest",
	}}
	server := httptest.NewServer(docs)
	defer server.Close()

	storage := newMemStorage()
	m := &fakeMessenger{}
	r, store, dir := newTestRefresher(t, []config.TemplateSource{{Type: "DPA", URL: server.URL + "/dpa.pdf"}}, storage, m)

	res := r.Refresh(context.Background())

	if len(res.Errors) != 0 {
		t.Fatalf("Expected no errors, got %v", res.Errors)
	}
	if len(res.Changes) != 1 || res.Changes[0] != "Data Processing Agreement: New template created" {
		t.Errorf("Unexpected changes: %v", res.Changes)
	}

	tpl, err := store.Get(model.AgreementDPA)
	if err != nil {
		t.Fatalf("Expected DPA template, got %v", err)
	}
	if len(tpl.Clauses) != 2 {
		t.Errorf("Expected 2 clauses, got %d", len(tpl.Clauses))
	}
	if tpl.ContentHash != model.ComputeContentHash(tpl.Clauses) {
		t.Error("Expected content hash to match clauses")
	}

	data, err := os.ReadFile(filepath.Join(dir, "DPA.json"))
	if err != nil {
		t.Fatalf("Expected snapshot file, got %v", err)
	}
	clauses, err := engine.DecodeTemplateClauses(data)
	if err != nil {
		t.Fatalf("Expected decodable snapshot, got %v", err)
	}
	if model.ComputeContentHash(clauses) != tpl.ContentHash {
		t.Error("Expected snapshot file to hold the stored template")
	}

	if _, ok := storage.get("templates/DPA.json"); !ok {
		t.Error("Expected snapshot in object storage")
	}

	sent := m.messages()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(sent))
	}
	if sent[0].subject != UpdateSubject {
		t.Errorf("Unexpected subject: %s", sent[0].subject)
	}
	if !strings.Contains(sent[0].body, "CHANGES DETECTED") || !strings.Contains(sent[0].body, "New template created") {
		t.Errorf("Unexpected body: %s", sent[0].body)
	}
}

func TestTemplateRefresherUnchangedAndUpdated(t *testing.T) {
	docs := &templateServer{docs: map[string]string{
		"/scc.pdf": "Transfers: only to adequate countries",
	}}
	server := httptest.NewServer(docs)
	defer server.Close()

	m := &fakeMessenger{}
	r, store, _ := newTestRefresher(t, []config.TemplateSource{{Type: "SCC", URL: server.URL + "/scc.pdf"}}, nil, m)

	r.Refresh(context.Background())
	first, _ := store.Get(model.AgreementSCC)

	res := r.Refresh(context.Background())
	if len(res.Changes) != 0 || len(res.Errors) != 0 {
		t.Errorf("Expected no changes on identical content, got %+v", res)
	}
	if len(m.messages()) != 1 {
		t.Errorf("Expected no report for an unchanged run, got %d reports", len(m.messages()))
	}
	same, _ := store.Get(model.AgreementSCC)
	if !same.Version.Equal(first.Version) {
		t.Error("Expected version to stay when content is unchanged")
	}

	docs.set("/scc.pdf", "Transfers: only to adequate countries\nAudits: yearly")
	res = r.Refresh(context.Background())
	if len(res.Changes) != 1 || !strings.Contains(res.Changes[0], "Template updated with new clauses") {
		t.Errorf("Unexpected changes: %v", res.Changes)
	}
	updated, _ := store.Get(model.AgreementSCC)
	if updated.ContentHash == first.ContentHash {
		t.Error("Expected content hash to change")
	}
}

func TestTemplateRefresherErrors(t *testing.T) {
	docs := &templateServer{docs: map[string]string{
		"/jca.pdf":   "Roles: each party is a controller",
		"/empty.pdf": "no clause lines here",
	}}
	server := httptest.NewServer(docs)
	defer server.Close()

	m := &fakeMessenger{err: errors.New("smtp down")}
	r, store, _ := newTestRefresher(t, []config.TemplateSource{
		{Type: "DPA", URL: server.URL + "/missing.pdf"},
		{Type: "PSA", URL: server.URL + "/empty.pdf"},
		{Type: "XYZ", URL: server.URL + "/jca.pdf"},
		{Type: "JCA", URL: server.URL + "/jca.pdf"},
	}, nil, m)

	res := r.Refresh(context.Background())

	if len(res.Errors) != 3 {
		t.Errorf("Expected 3 errors, got %v", res.Errors)
	}
	if len(res.Changes) != 1 {
		t.Errorf("Expected the healthy source to still refresh, got %v", res.Changes)
	}
	if _, err := store.Get(model.AgreementJCA); err != nil {
		t.Errorf("Expected JCA template, got %v", err)
	}
	if _, err := store.Get(model.AgreementDPA); !errors.Is(err, engine.ErrTemplateUnavailable) {
		t.Errorf("Expected DPA to stay unavailable, got %v", err)
	}

	sent := m.messages()
	if len(sent) != 1 || !strings.Contains(sent[0].body, "ERRORS ENCOUNTERED") {
		t.Errorf("Expected an error report, got %+v", sent)
	}
}

func TestTemplateRefresherKeepsTemplateOnFailure(t *testing.T) {
	docs := &templateServer{docs: map[string]string{
		"/c2c.pdf": "Purposes: marketing only",
	}}
	server := httptest.NewServer(docs)
	defer server.Close()

	r, store, _ := newTestRefresher(t, []config.TemplateSource{{Type: "C2C", URL: server.URL + "/c2c.pdf"}}, nil, nil)
	r.Refresh(context.Background())
	before, _ := store.Get(model.AgreementC2C)

	docs.set("/c2c.pdf", "garbled")
	res := r.Refresh(context.Background())
	if len(res.Errors) != 1 {
		t.Errorf("Expected 1 error, got %v", res.Errors)
	}
	after, err := store.Get(model.AgreementC2C)
	if err != nil || after.ContentHash != before.ContentHash {
		t.Error("Expected previous template to remain after a failed refresh")
	}
}

func TestRestoreTemplates(t *testing.T) {
	storage := newMemStorage()
	SaveSnapshot(context.Background(), storage, "templates/DPA.json", []byte(`[{"clause_id":1,"heading":"Breach","text":"Notify within 72 hours"}]`))
	SaveSnapshot(context.Background(), storage, "templates/JCA.json", []byte(`[{"clause_id":1,"heading":"Roles","text":"From snapshot"}]`))
	SaveSnapshot(context.Background(), storage, "templates/SCC.json", []byte(`not json`))

	store := engine.NewTemplateStore()
	local := model.NewTemplate(model.AgreementJCA, []model.Clause{{ID: "1", Name: "Roles", Content: "From disk"}}, time.Now())
	if _, err := store.Replace(local); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	restored, err := RestoreTemplates(context.Background(), storage, store)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(restored) != 1 || restored[0] != model.AgreementDPA {
		t.Errorf("Expected only DPA to be restored, got %v", restored)
	}

	dpa, err := store.Get(model.AgreementDPA)
	if err != nil {
		t.Fatalf("Expected DPA template, got %v", err)
	}
	if len(dpa.Clauses) != 1 || dpa.Clauses[0].Name != "Breach" {
		t.Errorf("Unexpected clauses: %+v", dpa.Clauses)
	}
	jca, _ := store.Get(model.AgreementJCA)
	if jca.Clauses[0].Content != "From disk" {
		t.Errorf("Expected loaded template to win over snapshot, got %q", jca.Clauses[0].Content)
	}
	if _, err := store.Get(model.AgreementSCC); err == nil {
		t.Error("Expected unreadable snapshot to be skipped")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"00:00", 0, 0, false},
		{"23:45", 23, 45, false},
		{" 07:30 ", 7, 30, false},
		{"7pm", 0, 0, true},
		{"25:00", 0, 0, true},
	}
	for _, tt := range tests {
		h, m, err := parseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (h != tt.hour || m != tt.minute) {
			t.Errorf("parseClock(%q) = %d:%d, expected %d:%d", tt.in, h, m, tt.hour, tt.minute)
		}
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	if got := nextRun(now, 18, 30); !got.Equal(time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected later today, got %v", got)
	}
	if got := nextRun(now, 0, 0); !got.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected tomorrow midnight, got %v", got)
	}
	if got := nextRun(now, 14, 0); !got.Equal(time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected the same time tomorrow, got %v", got)
	}
}

func TestRunDailyStopsOnCancel(t *testing.T) {
	r, _, _ := newTestRefresher(t, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.RunDaily(ctx, "00:00") }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected RunDaily to return after cancel")
	}

	if err := r.RunDaily(context.Background(), "noon"); err == nil {
		t.Error("Expected invalid time to be rejected")
	}
}
