package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gdprcheck/contractcheck/engine"
	"github.com/gdprcheck/contractcheck/middleware"
	"github.com/gdprcheck/contractcheck/model"
	"github.com/gdprcheck/contractcheck/pkg/logger"
	"github.com/gdprcheck/contractcheck/service"
)

var pdfMagic = []byte("%PDF-")

// Analyzer runs the compliance pipeline over one document
type Analyzer interface {
	AnalyzeWithID(ctx context.Context, id string, r io.Reader) (*model.Report, error)
}

// AnalysisHandler accepts uploads and runs them through the pipeline in the
// background, at most maxConcurrent at a time.
type AnalysisHandler struct {
	analyzer  Analyzer
	store     *service.AnalysisStore
	maxUpload int64
	baseCtx   context.Context

	slots   chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewAnalysisHandler creates the handler. Cancelling ctx cancels every
// analysis still in flight.
func NewAnalysisHandler(ctx context.Context, analyzer Analyzer, store *service.AnalysisStore, maxUploadBytes int64, maxConcurrent int) *AnalysisHandler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &AnalysisHandler{
		analyzer:  analyzer,
		store:     store,
		maxUpload: maxUploadBytes,
		baseCtx:   ctx,
		slots:     make(chan struct{}, maxConcurrent),
		running:   make(map[string]context.CancelFunc),
	}
}

// Upload handles a contract upload and starts its analysis
func (h *AnalysisHandler) Upload(c *gin.Context) {
	tenant := middleware.GetTenant(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	if strings.ToLower(filepath.Ext(header.Filename)) != ".pdf" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF files are allowed"})
		return
	}
	if header.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}
	if int64(len(data)) > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
		return
	}

	now := time.Now()
	a := &model.Analysis{
		ID:        uuid.NewString(),
		Filename:  filepath.Base(header.Filename),
		Tenant:    tenant,
		Size:      int64(len(data)),
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	h.store.Save(a)

	// the job outlives the request but keeps its log identity
	ctx := logger.WithValue(h.baseCtx, logger.TenantKey, tenant)
	ctx = logger.WithValue(ctx, logger.RequestIDKey, middleware.GetRequestID(c))
	h.start(ctx, a.ID, data)

	logger.Info(c.Request.Context(), "analysis queued", "analysis_id", a.ID, "filename", a.Filename, "size", a.Size)
	c.JSON(http.StatusAccepted, gin.H{
		"id":       a.ID,
		"filename": a.Filename,
		"status":   a.Status,
	})
}

func (h *AnalysisHandler) start(ctx context.Context, id string, data []byte) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.running[id] = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.forget(id)
		h.process(ctx, id, data)
	}()
}

func (h *AnalysisHandler) process(ctx context.Context, id string, data []byte) {
	select {
	case h.slots <- struct{}{}:
		defer func() { <-h.slots }()
	case <-ctx.Done():
	}
	if ctx.Err() != nil {
		h.store.UpdateStatus(id, model.StatusFailed, "analysis cancelled before it started")
		return
	}

	h.store.SetStage(id, model.StatusProcessing, string(engine.StageExtract))
	report, err := h.analyzer.AnalyzeWithID(ctx, id, bytes.NewReader(data))

	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	h.store.Finish(id, report, string(engine.FailedStage(err)), errMsg)
}

func (h *AnalysisHandler) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.running[id]; ok {
		cancel()
		delete(h.running, id)
	}
}

// Wait blocks until every started analysis has finished
func (h *AnalysisHandler) Wait() {
	h.wg.Wait()
}

// List returns the tenant's analyses without their reports
func (h *AnalysisHandler) List(c *gin.Context) {
	analyses := h.store.GetByTenant(middleware.GetTenant(c))

	result := make([]gin.H, len(analyses))
	for i, a := range analyses {
		item := gin.H{
			"id":         a.ID,
			"filename":   a.Filename,
			"status":     a.Status,
			"created_at": a.CreatedAt.Format(time.RFC3339),
			"updated_at": a.UpdatedAt.Format(time.RFC3339),
		}
		if a.Report != nil {
			item["agreement_type"] = a.Report.AgreementType
			if a.Report.Result != nil {
				item["risk_score"] = a.Report.Result.RiskScore
			}
		}
		result[i] = item
	}

	c.JSON(http.StatusOK, gin.H{"analyses": result})
}

// Get returns one analysis with its report
func (h *AnalysisHandler) Get(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a)
}

// GetStatus returns the processing status of an analysis
func (h *AnalysisHandler) GetStatus(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        a.ID,
		"status":    a.Status,
		"stage":     a.Stage,
		"error_msg": a.ErrorMsg,
	})
}

// Delete removes an analysis, cancelling it if it is still running
func (h *AnalysisHandler) Delete(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}
	h.forget(a.ID)
	h.store.Delete(a.ID)

	c.JSON(http.StatusOK, gin.H{"message": "Analysis deleted"})
}

// lookup finds the analysis named by the :id parameter within the caller's
// tenant, answering 404 otherwise.
func (h *AnalysisHandler) lookup(c *gin.Context) (*model.Analysis, bool) {
	a := h.store.Get(c.Param("id"))
	if a == nil || a.Tenant != middleware.GetTenant(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
		return nil, false
	}
	return a, true
}
