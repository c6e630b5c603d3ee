package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/engine"
	"github.com/gdprcheck/contractcheck/model"
	"github.com/gdprcheck/contractcheck/pkg/logger"
)

// maxZipSize bounds how much of a MinerU result archive is read
const maxZipSize = 200 << 20

type MineruService struct {
	config     *config.MineruConfig
	httpClient *http.Client
}

// MineruTaskRequest represents the request to create an extraction task
type MineruTaskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version"`
	Callback     string `json:"callback,omitempty"`
	Seed         string `json:"seed,omitempty"`
	DataID       string `json:"data_id,omitempty"`
}

// MineruTaskResponse represents the response from task creation
type MineruTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// MineruTaskState is a task's state as reported by polling or by callback
type MineruTaskState struct {
	TaskID          string `json:"task_id"`
	DataID          string `json:"data_id"`
	State           string `json:"state"` // pending, running, done, failed, converting
	FullZipURL      string `json:"full_zip_url,omitempty"`
	ErrorMsg        string `json:"err_msg,omitempty"`
	ExtractProgress struct {
		ExtractedPages int `json:"extracted_pages"`
		TotalPages     int `json:"total_pages"`
	} `json:"extract_progress,omitempty"`
}

// MineruTaskStatusResponse represents the task status query response
type MineruTaskStatusResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	TraceID string          `json:"trace_id"`
	Data    MineruTaskState `json:"data"`
}

// MineruCallbackPayload represents the callback payload from MinerU
type MineruCallbackPayload struct {
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

func NewMineruService(cfg *config.MineruConfig) *MineruService {
	return &MineruService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// CreateTask creates a new extraction task for the document at pdfURL
func (s *MineruService) CreateTask(ctx context.Context, pdfURL, dataID string) (*MineruTaskResponse, error) {
	reqBody := MineruTaskRequest{
		URL:          pdfURL,
		ModelVersion: s.config.ModelVersion,
		DataID:       dataID,
	}
	if s.config.CallbackURL != "" {
		reqBody.Callback = s.config.CallbackURL
		reqBody.Seed = s.config.Seed
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/extract/task", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result MineruTaskResponse
	if err := s.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

// GetTaskStatus queries the status of a task
func (s *MineruService) GetTaskStatus(ctx context.Context, taskID string) (*MineruTaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", s.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result MineruTaskStatusResponse
	if err := s.do(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}
	return &result, nil
}

func (s *MineruService) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Accept", "*/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	logger.Debug(req.Context(), "mineru response", "url", req.URL.Path, "status", resp.StatusCode, "bytes", len(body))

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// VerifyCallback verifies the callback checksum
func (s *MineruService) VerifyCallback(checksum, content string, uid string) bool {
	// Checksum = SHA256(uid + seed + content)
	hash := sha256.Sum256([]byte(uid + s.config.Seed + content))
	return checksum == hex.EncodeToString(hash[:])
}

// contentBlock is one entry of MinerU's content_list.json
type contentBlock struct {
	Type         string   `json:"type"`
	Text         string   `json:"text"`
	PageIdx      int      `json:"page_idx"`
	ListItems    []string `json:"list_items"`
	TableCaption []string `json:"table_caption"`
}

// FetchSegments downloads the result ZIP and turns its content_list.json
// into one segment per page.
func (s *MineruService) FetchSegments(ctx context.Context, zipURL string) ([]model.Segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download ZIP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download ZIP: status %d", resp.StatusCode)
	}

	zipData, err := io.ReadAll(io.LimitReader(resp.Body, maxZipSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read ZIP: %w", err)
	}
	logger.Debug(ctx, "mineru result downloaded", "bytes", len(zipData))

	return parseContentList(zipData)
}

func parseContentList(zipData []byte) ([]model.Segment, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP: %w", err)
	}

	for _, file := range zr.File {
		if !strings.HasSuffix(file.Name, "content_list.json") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", file.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
		}

		var blocks []contentBlock
		if err := json.Unmarshal(content, &blocks); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file.Name, err)
		}
		return groupPages(blocks), nil
	}
	return nil, errors.New("no content_list.json in ZIP")
}

func groupPages(blocks []contentBlock) []model.Segment {
	pages := make(map[int][]string)
	for _, b := range blocks {
		var parts []string
		switch b.Type {
		case "list":
			parts = b.ListItems
		case "table":
			parts = b.TableCaption
		case "image":
		default:
			parts = []string{b.Text}
		}
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				pages[b.PageIdx] = append(pages[b.PageIdx], p)
			}
		}
	}

	idxs := make([]int, 0, len(pages))
	for idx := range pages {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	segs := make([]model.Segment, 0, len(idxs))
	for _, idx := range idxs {
		segs = append(segs, model.Segment{Index: idx, Text: strings.Join(pages[idx], "\n")})
	}
	return segs
}

// MineruExtractor extracts documents through the MinerU parsing API. The
// document is staged in object storage so MinerU can fetch it, and the
// result arrives either by polling or through Deliver, whichever is first.
type MineruExtractor struct {
	svc     *MineruService
	storage ObjectStorage
	cfg     *config.MineruConfig

	mu      sync.Mutex
	waiting map[string]chan MineruTaskState
}

// NewMineruExtractor creates a MinerU backed extractor
func NewMineruExtractor(svc *MineruService, storage ObjectStorage, cfg *config.MineruConfig) *MineruExtractor {
	return &MineruExtractor{
		svc:     svc,
		storage: storage,
		cfg:     cfg,
		waiting: make(map[string]chan MineruTaskState),
	}
}

// Extract implements engine.TextExtractor
func (x *MineruExtractor) Extract(ctx context.Context, data []byte) (engine.SegmentReader, error) {
	if len(data) == 0 {
		return nil, engine.NewStageError(engine.StageExtract, engine.ErrExtraction, errors.New("empty document"))
	}
	dataID := uuid.NewString()
	objectName := "documents/" + dataID + ".pdf"

	if err := x.storage.UploadFile(ctx, objectName, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		return nil, serviceErr(err)
	}
	defer func() {
		if err := x.storage.DeleteFile(context.WithoutCancel(ctx), objectName); err != nil {
			logger.Warn(ctx, "failed to remove staged document", "object", objectName, "error", err)
		}
	}()

	pdfURL, err := x.storage.PresignedURL(ctx, objectName)
	if err != nil {
		return nil, serviceErr(err)
	}

	results := x.register(dataID)
	defer x.unregister(dataID)

	task, err := x.svc.CreateTask(ctx, pdfURL, dataID)
	if err != nil {
		return nil, serviceErr(err)
	}
	logger.Info(ctx, "mineru task created", "task_id", task.Data.TaskID, "data_id", dataID)

	state, err := x.wait(ctx, task.Data.TaskID, results)
	if err != nil {
		return nil, err
	}

	segs, err := x.svc.FetchSegments(ctx, state.FullZipURL)
	if err != nil {
		return nil, serviceErr(err)
	}
	if engine.TotalLength(segs) == 0 {
		return nil, engine.NewStageError(engine.StageExtract, engine.ErrExtraction, errors.New("no extractable text"))
	}
	return engine.SliceSegments(segs), nil
}

// Deliver hands a verified callback to the extraction waiting for it. It
// reports whether anyone was waiting.
func (x *MineruExtractor) Deliver(state MineruTaskState) bool {
	x.mu.Lock()
	ch, ok := x.waiting[state.DataID]
	x.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- state:
	default:
	}
	return true
}

// Service returns the underlying API client
func (x *MineruExtractor) Service() *MineruService {
	return x.svc
}

func (x *MineruExtractor) register(dataID string) chan MineruTaskState {
	ch := make(chan MineruTaskState, 1)
	x.mu.Lock()
	x.waiting[dataID] = ch
	x.mu.Unlock()
	return ch
}

func (x *MineruExtractor) unregister(dataID string) {
	x.mu.Lock()
	delete(x.waiting, dataID)
	x.mu.Unlock()
}

func (x *MineruExtractor) wait(ctx context.Context, taskID string, results <-chan MineruTaskState) (MineruTaskState, error) {
	if x.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.cfg.PollTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(x.cfg.PollInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return MineruTaskState{}, serviceErr(fmt.Errorf("waiting for task %s: %w", taskID, ctx.Err()))
		case state := <-results:
			if done, err := x.settle(ctx, state); done {
				return state, err
			}
		case <-ticker.C:
			attempt++
			status, err := x.svc.GetTaskStatus(ctx, taskID)
			if err != nil {
				logger.Warn(ctx, "mineru poll failed", "task_id", taskID, "attempt", attempt, "error", err)
				continue
			}
			if done, err := x.settle(ctx, status.Data); done {
				return status.Data, err
			}
		}
	}
}

// settle reports whether state is terminal and, if so, whether it failed
func (x *MineruExtractor) settle(ctx context.Context, state MineruTaskState) (bool, error) {
	switch state.State {
	case "done":
		if state.FullZipURL == "" {
			return true, serviceErr(errors.New("task finished without a result archive"))
		}
		return true, nil
	case "failed":
		return true, engine.NewStageError(engine.StageExtract, engine.ErrExtraction, fmt.Errorf("mineru: %s", state.ErrorMsg))
	case "running":
		if state.ExtractProgress.TotalPages > 0 {
			logger.Debug(ctx, "mineru progress",
				"task_id", state.TaskID,
				"extracted_pages", state.ExtractProgress.ExtractedPages,
				"total_pages", state.ExtractProgress.TotalPages,
			)
		}
	}
	return false, nil
}

func serviceErr(err error) error {
	return engine.NewStageError(engine.StageExtract, engine.ErrExtractionService, err)
}
