package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gdprcheck/contractcheck/model"
)

// AnalysisStore is an in-memory store for analysis jobs. Callers always get
// copies, so a job can be updated by its worker while handlers read it.
type AnalysisStore struct {
	analyses    map[string]*model.Analysis
	mu          sync.RWMutex
	maxAnalyses int // Maximum analyses to keep, 0 = unlimited
}

// NewAnalysisStore creates a store that keeps at most maxAnalyses jobs
func NewAnalysisStore(maxAnalyses int) *AnalysisStore {
	if maxAnalyses < 0 {
		maxAnalyses = 0
	}
	slog.Info("analysis store initialized", "max_analyses", maxAnalyses)
	return &AnalysisStore{
		analyses:    make(map[string]*model.Analysis),
		maxAnalyses: maxAnalyses,
	}
}

func (s *AnalysisStore) Save(a *model.Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	cp.UpdatedAt = time.Now()
	s.analyses[a.ID] = &cp

	s.cleanupIfNeeded()
}

func (s *AnalysisStore) Get(id string) *model.Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// GetByTenant returns the tenant's analyses, newest first
func (s *AnalysisStore) GetByTenant(tenant string) []*model.Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Analysis
	for _, a := range s.analyses {
		if a.Tenant == tenant {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *AnalysisStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.analyses, id)
}

// SetStage records that the job entered a pipeline stage
func (s *AnalysisStore) SetStage(id, status, stage string) {
	s.update(id, func(a *model.Analysis) {
		a.Status = status
		a.Stage = stage
	})
}

// Finish stores the pipeline's report and derives the job status from it
func (s *AnalysisStore) Finish(id string, report *model.Report, stage, errMsg string) {
	s.update(id, func(a *model.Analysis) {
		a.Report = report
		a.Stage = stage
		a.ErrorMsg = errMsg
		a.Status = statusFor(report)
	})
}

func (s *AnalysisStore) UpdateStatus(id, status string, errMsg string) {
	s.update(id, func(a *model.Analysis) {
		a.Status = status
		a.ErrorMsg = errMsg
	})
}

func (s *AnalysisStore) update(id string, fn func(*model.Analysis)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.analyses[id]; ok {
		fn(a)
		a.UpdatedAt = time.Now()
	}
}

func statusFor(report *model.Report) string {
	if report == nil {
		return model.StatusFailed
	}
	switch report.Status {
	case model.ReportCompleted:
		return model.StatusCompleted
	case model.ReportUnclassified:
		return model.StatusUnclassified
	default:
		return model.StatusFailed
	}
}

// cleanupIfNeeded removes oldest analyses if store exceeds maxAnalyses
// Must be called with lock held
func (s *AnalysisStore) cleanupIfNeeded() {
	if s.maxAnalyses <= 0 || len(s.analyses) <= s.maxAnalyses {
		return
	}

	analyses := make([]*model.Analysis, 0, len(s.analyses))
	for _, a := range s.analyses {
		analyses = append(analyses, a)
	}
	sort.Slice(analyses, func(i, j int) bool {
		return analyses[i].CreatedAt.Before(analyses[j].CreatedAt)
	})

	removeCount := len(analyses) - s.maxAnalyses
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old analysis",
			"analysis_id", analyses[i].ID,
			"created_at", analyses[i].CreatedAt,
		)
		delete(s.analyses, analyses[i].ID)
	}
}

// Count returns the number of analyses in the store
func (s *AnalysisStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.analyses)
}
