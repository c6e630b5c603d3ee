package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdprcheck/contractcheck/model"
)

type snapshot map[model.AgreementType]model.Template

// TemplateStore holds the canonical template for every agreement type.
// Readers see one consistent snapshot; writers build a new map and swap it.
type TemplateStore struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes writers
}

// NewTemplateStore creates an empty store
func NewTemplateStore() *TemplateStore {
	s := &TemplateStore{}
	empty := snapshot{}
	s.current.Store(&empty)
	return s
}

// Get returns a copy of the template for t
func (s *TemplateStore) Get(t model.AgreementType) (model.Template, error) {
	tpl, ok := (*s.current.Load())[t]
	if !ok {
		return model.Template{}, stageErr(StageTemplate, ErrTemplateUnavailable, fmt.Errorf("no template for %s", t))
	}
	return tpl.Clone(), nil
}

// Replace installs tpl when its content differs from the current template
// for its type. It reports whether the store changed.
func (s *TemplateStore) Replace(tpl model.Template) (bool, error) {
	if !tpl.AgreementType.IsKnown() {
		return false, fmt.Errorf("cannot store template for agreement type %q", tpl.AgreementType)
	}
	if len(tpl.Clauses) == 0 {
		return false, fmt.Errorf("template for %s has no clauses", tpl.AgreementType)
	}

	tpl = model.NewTemplate(tpl.AgreementType, tpl.Clauses, versionOr(tpl.Version))

	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.current.Load()
	if cur, ok := old[tpl.AgreementType]; ok && cur.ContentHash == tpl.ContentHash {
		return false, nil
	}

	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[tpl.AgreementType] = tpl
	s.current.Store(&next)
	return true, nil
}

// ReplaceAll swaps in a complete set of templates
func (s *TemplateStore) ReplaceAll(templates map[model.AgreementType][]model.Clause) error {
	next := make(snapshot, len(templates))
	now := time.Now()
	for t, clauses := range templates {
		if !t.IsKnown() {
			return fmt.Errorf("cannot store template for agreement type %q", t)
		}
		next[t] = model.NewTemplate(t, slices.Clone(clauses), now)
	}

	s.mu.Lock()
	s.current.Store(&next)
	s.mu.Unlock()
	return nil
}

// List returns every stored template ordered by agreement type
func (s *TemplateStore) List() []model.Template {
	snap := *s.current.Load()
	out := make([]model.Template, 0, len(snap))
	for _, tpl := range snap {
		out = append(out, tpl.Clone())
	}
	slices.SortFunc(out, func(a, b model.Template) int {
		return strings.Compare(string(a.AgreementType), string(b.AgreementType))
	})
	return out
}

// LoadDir reads <CODE>.json clause files from dir into the store. Files
// for unknown codes are skipped. It returns the number of templates loaded.
func (s *TemplateStore) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read template dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		t := model.AgreementType(strings.ToUpper(strings.TrimSuffix(entry.Name(), ".json")))
		if !t.IsKnown() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		clauses, err := DecodeTemplateClauses(data)
		if err != nil {
			return loaded, fmt.Errorf("decode template %s: %w", entry.Name(), err)
		}
		version := time.Now()
		if info, err := entry.Info(); err == nil {
			version = info.ModTime()
		}
		if _, err := s.Replace(model.Template{AgreementType: t, Clauses: clauses, Version: version}); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// SaveDir writes every stored template to dir as <CODE>.json
func (s *TemplateStore) SaveDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create template dir: %w", err)
	}
	for _, tpl := range s.List() {
		data, err := EncodeTemplateClauses(tpl.Clauses)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, string(tpl.AgreementType)+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write template %s: %w", tpl.AgreementType, err)
		}
	}
	return nil
}

// EncodeTemplateClauses renders clauses in the on-disk template format
func EncodeTemplateClauses(clauses []model.Clause) ([]byte, error) {
	out := make([]model.Clause, len(clauses))
	for i, c := range clauses {
		c.Source = ""
		out[i] = c
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecodeTemplateClauses parses the on-disk template format
func DecodeTemplateClauses(data []byte) ([]model.Clause, error) {
	clauses, err := parseClauses(string(data))
	if err != nil {
		return nil, err
	}
	for i := range clauses {
		clauses[i].Source = model.SourceTemplate
	}
	return clauses, nil
}

func versionOr(v time.Time) time.Time {
	if v.IsZero() {
		return time.Now()
	}
	return v
}
