package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"gridinspect/bff/auth"
	"gridinspect/bff/dto"
	"gridinspect/bff/middleware"
)

// FileStorage is the slice of the files-service client the proxy handlers use.
type FileStorage interface {
	Upload(ctx context.Context, fileName, contentType string, content io.Reader, projectID, fileType, uploadedBy string) (*dto.StoredFile, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	Metadata(ctx context.Context, fileID string) (*dto.StoredFile, error)
	ProjectFiles(ctx context.Context, projectID string) ([]dto.StoredFile, error)
	Delete(ctx context.Context, fileID string) error
}

// FilesHandler proxies file-storage operations so the browser never talks to
// the storage service directly.
type FilesHandler struct {
	files       FileStorage
	maxFileSize int64
	logger      *zap.Logger
}

func NewFilesHandler(files FileStorage, maxFileSize int64, logger *zap.Logger) *FilesHandler {
	return &FilesHandler{
		files:       files,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Upload stores one file and returns its metadata.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, h.logger, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, h.logger, "Failed to get file", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		respondError(w, h.logger, "File too large", nil, traceID, http.StatusRequestEntityTooLarge)
		return
	}

	projectID := r.FormValue("project_id")
	fileType := r.FormValue("file_type")
	if fileType == "" {
		fileType = "IMAGE"
	}

	uploadedBy := ""
	if identity, ok := auth.FromContext(r.Context()); ok {
		uploadedBy = identity.UUID
	}

	stored, err := h.files.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file, projectID, fileType, uploadedBy)
	if relayUpstreamError(w, h.logger, err, traceID) {
		return
	}

	respondJSON(w, http.StatusCreated, stored)
}

// Metadata returns the stored file's metadata document.
func (h *FilesHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	stored, err := h.files.Metadata(r.Context(), r.PathValue("id"))
	if relayUpstreamError(w, h.logger, err, traceID) {
		return
	}

	respondJSON(w, http.StatusOK, stored)
}

// Download serves the blob as an attachment.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, "attachment")
}

// View serves the blob inline so <img> tags can point at it.
func (h *FilesHandler) View(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, "inline")
}

func (h *FilesHandler) serveBlob(w http.ResponseWriter, r *http.Request, disposition string) {
	traceID := middleware.GetTraceID(r.Context())
	fileID := r.PathValue("id")

	stored, err := h.files.Metadata(r.Context(), fileID)
	if relayUpstreamError(w, h.logger, err, traceID) {
		return
	}

	data, err := h.files.Download(r.Context(), fileID)
	if relayUpstreamError(w, h.logger, err, traceID) {
		return
	}

	contentType := stored.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, stored.FileName))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ProjectFiles lists every stored file under a project id.
func (h *FilesHandler) ProjectFiles(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	files, err := h.files.ProjectFiles(r.Context(), r.PathValue("id"))
	if relayUpstreamError(w, h.logger, err, traceID) {
		return
	}

	respondJSON(w, http.StatusOK, dto.FileListResponse{Files: files, Total: len(files)})
}

// Delete removes a stored file.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if err := h.files.Delete(r.Context(), r.PathValue("id")); relayUpstreamError(w, h.logger, err, traceID) {
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
