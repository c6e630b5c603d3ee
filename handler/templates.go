package handler

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/gdprcheck/contractcheck/engine"
	"github.com/gdprcheck/contractcheck/middleware"
	"github.com/gdprcheck/contractcheck/model"
	"github.com/gdprcheck/contractcheck/pkg/logger"
	"github.com/gdprcheck/contractcheck/service"
)

// Refresher rebuilds templates from their sources
type Refresher interface {
	Refresh(ctx context.Context) service.RefreshResult
}

type TemplateHandler struct {
	store      *engine.TemplateStore
	refresher  Refresher
	baseCtx    context.Context
	refreshing atomic.Bool
}

func NewTemplateHandler(ctx context.Context, store *engine.TemplateStore, refresher Refresher) *TemplateHandler {
	return &TemplateHandler{store: store, refresher: refresher, baseCtx: ctx}
}

// List returns a summary of every loaded template
func (h *TemplateHandler) List(c *gin.Context) {
	templates := h.store.List()

	result := make([]gin.H, len(templates))
	for i, tpl := range templates {
		result[i] = gin.H{
			"agreement_type": tpl.AgreementType,
			"name":           tpl.AgreementType.DisplayName(),
			"clauses":        len(tpl.Clauses),
			"content_hash":   tpl.ContentHash,
			"version":        tpl.Version,
		}
	}
	c.JSON(http.StatusOK, gin.H{"templates": result})
}

// Get returns the full template for one agreement type
func (h *TemplateHandler) Get(c *gin.Context) {
	t := model.ParseAgreementType(c.Param("type"))
	if !t.IsKnown() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown agreement type"})
		return
	}
	tpl, err := h.store.Get(t)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not available"})
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// Refresh starts a background template refresh. Only one runs at a time.
func (h *TemplateHandler) Refresh(c *gin.Context) {
	if h.refresher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Template refresh is not configured"})
		return
	}
	if !h.refreshing.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "Template refresh already running"})
		return
	}

	ctx := logger.WithValue(h.baseCtx, logger.UsernameKey, middleware.GetUsername(c))
	go func() {
		defer h.refreshing.Store(false)
		h.refresher.Refresh(ctx)
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Template refresh started"})
}
