package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gdprcheck/contractcheck/pkg/logger"
	"github.com/gdprcheck/contractcheck/service"
)

// CallbackHandler receives MinerU task notifications and hands them to the
// extraction waiting on them.
type CallbackHandler struct {
	extractor *service.MineruExtractor
	seed      string
	uid       string
}

func NewCallbackHandler(extractor *service.MineruExtractor, seed, uid string) *CallbackHandler {
	return &CallbackHandler{extractor: extractor, seed: seed, uid: uid}
}

// HandleCallback verifies and delivers one callback. Checksums are only
// checked when a seed is configured, as MinerU signs with it.
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	var req service.MineruCallbackPayload
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if h.seed != "" && !h.extractor.Service().VerifyCallback(req.Checksum, req.Content, h.uid) {
		logger.Warn(c.Request.Context(), "mineru callback rejected", "reason", "checksum mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid checksum"})
		return
	}

	var state service.MineruTaskState
	if err := json.Unmarshal([]byte(req.Content), &state); err != nil || state.DataID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content format"})
		return
	}

	if !h.extractor.Deliver(state) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No extraction waiting for this task"})
		return
	}

	logger.Info(c.Request.Context(), "mineru callback delivered", "task_id", state.TaskID, "state", state.State)
	c.JSON(http.StatusOK, gin.H{"message": "Callback received"})
}
