package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridinspect/bff/dto"
	"gridinspect/bff/middleware"
	"gridinspect/bff/repository"
	"gridinspect/bff/service"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	defaultImagesLimit  = 50
	maxImagesLimit      = 200
)

// Analysis is the gateway-facing surface of the analysis service.
type Analysis interface {
	CreateBatch(ctx context.Context, traceID string, files []service.BatchFile, confidence float64, previewLimit int, routeName *string) (*dto.CreateTaskResponse, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*dto.TaskResponse, error)
	GetTaskStatus(ctx context.Context, taskID uuid.UUID) (*dto.TaskProgress, error)
	ListTasks(ctx context.Context, limit int) ([]dto.TaskListItem, error)
	GetTaskImages(ctx context.Context, taskID uuid.UUID, skip, limit int) (*dto.TaskImagesPage, error)
	DeleteTask(ctx context.Context, taskID uuid.UUID) error
	DeleteImage(ctx context.Context, taskID, imageID uuid.UUID) error
}

type AnalysisHandler struct {
	service             Analysis
	defaultPreviewLimit int
	logger              *zap.Logger
}

func NewAnalysisHandler(service Analysis, defaultPreviewLimit int, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service:             service,
		defaultPreviewLimit: defaultPreviewLimit,
		logger:              logger,
	}
}

// CreateBatch accepts a multipart batch of images and queues it for analysis.
// Responds 202: the heavy lifting happens in the worker.
func (h *AnalysisHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	// Large parts spill to temp files, batches run to gigabytes.
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		respondError(w, h.logger, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	files := make([]service.BatchFile, 0, len(headers))
	for _, header := range headers {
		files = append(files, batchFileFromHeader(header))
	}

	conf, err := parseConfidence(r.URL.Query().Get("conf"))
	if err != nil {
		respondError(w, h.logger, "Invalid confidence threshold", err, traceID, http.StatusBadRequest)
		return
	}

	previewLimit := h.defaultPreviewLimit
	if raw := r.URL.Query().Get("preview_limit"); raw != "" {
		previewLimit, err = strconv.Atoi(raw)
		if err != nil || previewLimit < 0 {
			respondError(w, h.logger, "Invalid preview limit", err, traceID, http.StatusBadRequest)
			return
		}
	}

	var routeName *string
	if name := r.FormValue("route_name"); name != "" {
		routeName = &name
	}

	resp, err := h.service.CreateBatch(r.Context(), traceID, files, conf, previewLimit, routeName)
	if err != nil {
		h.handleBatchError(w, err, traceID)
		return
	}

	respondJSON(w, http.StatusAccepted, resp)
}

func (h *AnalysisHandler) handleBatchError(w http.ResponseWriter, err error, traceID string) {
	switch {
	case errors.Is(err, service.ErrBatchEmpty):
		respondError(w, h.logger, "No files in batch", err, traceID, http.StatusBadRequest)
	case errors.Is(err, service.ErrTooManyFiles):
		respondError(w, h.logger, "Too many files in batch", err, traceID, http.StatusBadRequest)
	case errors.Is(err, service.ErrBatchTooLarge), errors.Is(err, service.ErrFileTooLarge):
		respondError(w, h.logger, "Batch exceeds size limits", err, traceID, http.StatusRequestEntityTooLarge)
	case errors.Is(err, service.ErrUnsupportedFile), errors.Is(err, service.ErrArchiveNotAllowed):
		respondError(w, h.logger, "Unsupported file type", err, traceID, http.StatusUnsupportedMediaType)
	default:
		if relayUpstreamError(w, h.logger, err, traceID) {
			return
		}
		respondError(w, h.logger, "Failed to create analysis task", err, traceID, http.StatusInternalServerError)
	}
}

// History lists recent analysis tasks, newest first.
func (h *AnalysisHandler) History(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		respondError(w, h.logger, "Invalid limit", err, traceID, http.StatusBadRequest)
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), limit)
	if err != nil {
		respondError(w, h.logger, "Failed to list tasks", err, traceID, http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": len(tasks)})
}

// GetTask returns one task with its preview images.
func (h *AnalysisHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, ok := h.taskID(w, r, traceID)
	if !ok {
		return
	}

	resp, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			respondError(w, h.logger, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		respondError(w, h.logger, "Failed to get task", err, traceID, http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Status returns the latest progress frame, cache first.
func (h *AnalysisHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, ok := h.taskID(w, r, traceID)
	if !ok {
		return
	}

	progress, err := h.service.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			respondError(w, h.logger, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		respondError(w, h.logger, "Failed to get task status", err, traceID, http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, progress)
}

// Images returns one page of the task's image rows.
func (h *AnalysisHandler) Images(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, ok := h.taskID(w, r, traceID)
	if !ok {
		return
	}

	skip := 0
	if raw := r.URL.Query().Get("skip"); raw != "" {
		var err error
		skip, err = strconv.Atoi(raw)
		if err != nil || skip < 0 {
			respondError(w, h.logger, "Invalid skip", err, traceID, http.StatusBadRequest)
			return
		}
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultImagesLimit, maxImagesLimit)
	if err != nil {
		respondError(w, h.logger, "Invalid limit", err, traceID, http.StatusBadRequest)
		return
	}

	page, err := h.service.GetTaskImages(r.Context(), taskID, skip, limit)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			respondError(w, h.logger, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		respondError(w, h.logger, "Failed to list task images", err, traceID, http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// DeleteTask removes a task with everything it stored.
func (h *AnalysisHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, ok := h.taskID(w, r, traceID)
	if !ok {
		return
	}

	if err := h.service.DeleteTask(r.Context(), taskID); err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			respondError(w, h.logger, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		respondError(w, h.logger, "Failed to delete task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("task deleted",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID.String()),
	)

	w.WriteHeader(http.StatusNoContent)
}

// DeleteImage removes a single image row from a task.
func (h *AnalysisHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, ok := h.taskID(w, r, traceID)
	if !ok {
		return
	}

	imageID, err := uuid.Parse(r.PathValue("imageID"))
	if err != nil {
		respondError(w, h.logger, "Invalid image ID", err, traceID, http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteImage(r.Context(), taskID, imageID); err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			respondError(w, h.logger, "Image not found", err, traceID, http.StatusNotFound)
			return
		}
		respondError(w, h.logger, "Failed to delete image", err, traceID, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AnalysisHandler) taskID(w http.ResponseWriter, r *http.Request, traceID string) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, "Invalid task ID", err, traceID, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return taskID, true
}

func batchFileFromHeader(header *multipart.FileHeader) service.BatchFile {
	return service.BatchFile{
		Name: header.Filename,
		Size: header.Size,
		Open: func() (io.ReadCloser, error) {
			return header.Open()
		},
	}
}

func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, errors.New("limit must be positive")
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}
