package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/engine"
	"github.com/gdprcheck/contractcheck/model"
	"github.com/gdprcheck/contractcheck/pkg/logger"
)

// maxTemplateSize bounds a downloaded reference document
const maxTemplateSize = 50 << 20

// UpdateSubject is the subject line of template update reports
const UpdateSubject = "GDPR Template Update Notification"

// TemplateBuilder turns a reference document into a template
type TemplateBuilder interface {
	BuildTemplate(ctx context.Context, t model.AgreementType, r io.Reader) (model.Template, error)
}

// RefreshResult summarises one refresh run
type RefreshResult struct {
	Started time.Time `json:"started"`
	Changes []string  `json:"changes"`
	Errors  []string  `json:"errors"`
}

// TemplateRefresher rebuilds templates from their official source documents
type TemplateRefresher struct {
	builder    TemplateBuilder
	store      *engine.TemplateStore
	sources    []config.TemplateSource
	dir        string
	storage    ObjectStorage // optional snapshot copy
	messengers []Messenger
	httpClient *http.Client

	running sync.Mutex
}

// NewTemplateRefresher creates a refresher. storage may be nil.
func NewTemplateRefresher(builder TemplateBuilder, store *engine.TemplateStore, cfg *config.TemplatesConfig, storage ObjectStorage, messengers []Messenger) *TemplateRefresher {
	return &TemplateRefresher{
		builder:    builder,
		store:      store,
		sources:    cfg.Sources,
		dir:        cfg.Dir,
		storage:    storage,
		messengers: messengers,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Refresh processes every source once. A failing source is recorded and
// the others still run. The report is sent when anything changed or failed.
func (r *TemplateRefresher) Refresh(ctx context.Context) RefreshResult {
	r.running.Lock()
	defer r.running.Unlock()

	res := RefreshResult{Started: time.Now(), Changes: []string{}, Errors: []string{}}
	logger.Info(ctx, "template refresh started", "sources", len(r.sources))

	for _, src := range r.sources {
		t := model.ParseAgreementType(src.Type)
		name := t.DisplayName()
		if !t.IsKnown() {
			res.Errors = append(res.Errors, fmt.Sprintf("Unknown agreement type %q for %s", src.Type, src.URL))
			continue
		}

		change, err := r.refreshOne(ctx, t, src.URL)
		if err != nil {
			logger.Error(ctx, "template refresh failed", "agreement_type", t, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("Error processing %s: %v", name, err))
			continue
		}
		if change != "" {
			res.Changes = append(res.Changes, fmt.Sprintf("%s: %s", name, change))
		}
	}

	logger.Info(ctx, "template refresh completed",
		"changes", len(res.Changes),
		"errors", len(res.Errors),
		"duration_ms", time.Since(res.Started).Milliseconds(),
	)

	if len(res.Changes) > 0 || len(res.Errors) > 0 {
		r.report(ctx, res)
	}
	return res
}

// refreshOne returns a description of the change, or "" when the template
// content is unchanged.
func (r *TemplateRefresher) refreshOne(ctx context.Context, t model.AgreementType, url string) (string, error) {
	data, err := r.download(ctx, url)
	if err != nil {
		return "", err
	}

	tpl, err := r.builder.BuildTemplate(ctx, t, bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	_, err = r.store.Get(t)
	existed := err == nil
	changed, err := r.store.Replace(tpl)
	if err != nil {
		return "", err
	}
	if !changed {
		logger.Info(ctx, "template unchanged", "agreement_type", t)
		return "", nil
	}

	if err := r.persist(ctx, t); err != nil {
		return "", err
	}
	logger.Info(ctx, "template updated", "agreement_type", t, "clauses", len(tpl.Clauses), "hash", tpl.ContentHash)

	if !existed {
		return "New template created", nil
	}
	return "Template updated with new clauses", nil
}

func (r *TemplateRefresher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download template: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("template download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTemplateSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	if len(data) > maxTemplateSize {
		return nil, errors.New("template document too large")
	}
	return data, nil
}

// persist writes the stored template for t to the directory and, when
// configured, to object storage.
func (r *TemplateRefresher) persist(ctx context.Context, t model.AgreementType) error {
	tpl, err := r.store.Get(t)
	if err != nil {
		return err
	}
	data, err := engine.EncodeTemplateClauses(tpl.Clauses)
	if err != nil {
		return err
	}
	if r.dir != "" {
		if err := writeFileAtomic(filepath.Join(r.dir, string(t)+".json"), data); err != nil {
			return err
		}
	}
	if r.storage != nil {
		if err := SaveSnapshot(ctx, r.storage, snapshotName(t), data); err != nil {
			// the in-memory and on-disk copies are authoritative
			logger.Warn(ctx, "template snapshot upload failed", "agreement_type", t, "error", err)
		}
	}
	return nil
}

// RestoreTemplates fills agreement types missing from store with the
// snapshots kept in object storage. Types already loaded are left alone.
// It returns the restored types.
func RestoreTemplates(ctx context.Context, src SnapshotReader, store *engine.TemplateStore) ([]model.AgreementType, error) {
	var restored []model.AgreementType
	for _, t := range model.KnownAgreementTypes {
		if _, err := store.Get(t); err == nil {
			continue
		}
		data, err := src.DownloadFile(ctx, snapshotName(t))
		if errors.Is(err, ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return restored, err
		}
		clauses, err := engine.DecodeTemplateClauses(data)
		if err != nil {
			logger.Warn(ctx, "skipping unreadable template snapshot", "agreement_type", t, "error", err)
			continue
		}
		if _, err := store.Replace(model.NewTemplate(t, clauses, time.Now())); err != nil {
			return restored, err
		}
		restored = append(restored, t)
	}
	return restored, nil
}

func (r *TemplateRefresher) report(ctx context.Context, res RefreshResult) {
	body := UpdateBody(res)
	for _, m := range r.messengers {
		if err := m.Send(ctx, UpdateSubject, body); err != nil {
			logger.Warn(ctx, "template update report failed", "messenger", fmt.Sprintf("%T", m), "error", err)
		}
	}
}

// UpdateBody renders a refresh result as a plain text report
func UpdateBody(res RefreshResult) string {
	var b strings.Builder
	b.WriteString("GDPR Compliance Checker - Template Update Report\n\n")
	fmt.Fprintf(&b, "Update Time: %s\n\n", res.Started.Format(time.RFC1123))
	if len(res.Changes) > 0 {
		writeList(&b, "CHANGES DETECTED", res.Changes, "")
	}
	if len(res.Errors) > 0 {
		writeList(&b, "ERRORS ENCOUNTERED", res.Errors, "")
	}
	b.WriteString("This is an automated notification from the GDPR Compliance Checker.\n")
	return b.String()
}

// RunDaily refreshes once a day at the local wall clock time at ("HH:MM")
// until ctx is cancelled.
func (r *TemplateRefresher) RunDaily(ctx context.Context, at string) error {
	hour, minute, err := parseClock(at)
	if err != nil {
		return err
	}
	for {
		wait := time.Until(nextRun(time.Now(), hour, minute))
		logger.Info(ctx, "next template refresh scheduled", "in", wait.Round(time.Second).String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.Refresh(ctx)
		}
	}
}

// writeFileAtomic replaces path so concurrent readers never see a partial file
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create template dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write template: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace template: %w", err)
	}
	return nil
}

func parseClock(at string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(at))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid refresh time %q, expected HH:MM", at)
	}
	return t.Hour(), t.Minute(), nil
}

// nextRun returns the first hour:minute strictly after now
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
