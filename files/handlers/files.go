package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridinspect/files/dto"
	"gridinspect/files/models"
	"gridinspect/files/repository"
	"gridinspect/files/service"
)

const maxBatchDownloadFiles = 100

type FilesHandler struct {
	service *service.FileService
	logger  *zap.Logger
}

func NewFilesHandler(service *service.FileService, logger *zap.Logger) *FilesHandler {
	return &FilesHandler{
		service: service,
		logger:  logger,
	}
}

// Upload stores one multipart file. 201 with the metadata document.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		h.handleError(w, "Failed to parse form", err, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "Failed to get file", err, http.StatusBadRequest)
		return
	}
	defer file.Close()

	stored, err := h.save(r, header, file)
	if err != nil {
		h.handleSaveError(w, err)
		return
	}

	h.logger.Info("file stored",
		zap.String("file_id", stored.ID.String()),
		zap.String("project_id", stored.ProjectID),
		zap.Int64("size", stored.FileSize),
	)

	h.respondJSON(w, http.StatusCreated, dto.FromModel(stored))
}

// BatchUpload stores every file of a multipart batch in one request.
func (h *FilesHandler) BatchUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		h.handleError(w, "Failed to parse form", err, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		h.handleError(w, "No files in batch", nil, http.StatusBadRequest)
		return
	}

	responses := make([]dto.FileResponse, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			h.handleError(w, "Failed to open file", err, http.StatusBadRequest)
			return
		}

		stored, err := h.save(r, header, file)
		file.Close()
		if err != nil {
			h.handleSaveError(w, err)
			return
		}

		responses = append(responses, dto.FromModel(stored))
	}

	h.logger.Info("batch stored", zap.Int("count", len(responses)))

	h.respondJSON(w, http.StatusCreated, dto.FileListResponse{Files: responses, Total: len(responses)})
}

func (h *FilesHandler) save(r *http.Request, header *multipart.FileHeader, file multipart.File) (*models.StoredFile, error) {
	fileType := models.FileType(r.FormValue("file_type"))
	if fileType == "" {
		fileType = models.TypeImage
	}

	var uploadedBy *string
	if by := r.FormValue("uploaded_by"); by != "" {
		uploadedBy = &by
	}

	return h.service.Save(r.Context(), &service.SaveRequest{
		FileName:   header.Filename,
		Size:       header.Size,
		MimeType:   header.Header.Get("Content-Type"),
		ProjectID:  r.FormValue("project_id"),
		FileType:   fileType,
		UploadedBy: uploadedBy,
		Content:    file,
	})
}

// BatchDownload returns the raw contents of several files in one JSON body.
func (h *FilesHandler) BatchDownload(w http.ResponseWriter, r *http.Request) {
	var req dto.BatchDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, http.StatusBadRequest)
		return
	}
	if len(req.FileIDs) == 0 {
		h.handleError(w, "No file ids given", nil, http.StatusBadRequest)
		return
	}
	if len(req.FileIDs) > maxBatchDownloadFiles {
		h.handleError(w, "Too many files requested", nil, http.StatusBadRequest)
		return
	}

	files := make([]dto.BatchFileContent, 0, len(req.FileIDs))
	for _, id := range req.FileIDs {
		file, data, err := h.service.ReadAll(r.Context(), id)
		if err != nil {
			if errors.Is(err, repository.ErrFileNotFound) {
				h.handleError(w, "File not found", err, http.StatusNotFound)
				return
			}
			h.handleError(w, "Failed to read file", err, http.StatusInternalServerError)
			return
		}
		files = append(files, dto.BatchFileContent{
			ID:       file.ID,
			FileName: file.FileName,
			Content:  data,
		})
	}

	h.respondJSON(w, http.StatusOK, dto.BatchDownloadResponse{Files: files})
}

// Metadata returns the metadata document for one file.
func (h *FilesHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}

	file, err := h.service.Metadata(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrFileNotFound) {
			h.handleError(w, "File not found", err, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get file", err, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.FromModel(file))
}

// Download streams the blob with attachment disposition.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}

	file, reader, err := h.service.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrFileNotFound) {
			h.handleError(w, "File not found", err, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to open file", err, http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.FileSize, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("blob stream interrupted",
			zap.String("file_id", id.String()),
			zap.Error(err),
		)
	}
}

// ProjectFiles lists every file under a project id.
func (h *FilesHandler) ProjectFiles(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	if projectID == "" {
		h.handleError(w, "Project ID is required", nil, http.StatusBadRequest)
		return
	}

	files, err := h.service.ListByProject(r.Context(), projectID)
	if err != nil {
		h.handleError(w, "Failed to list files", err, http.StatusInternalServerError)
		return
	}

	responses := make([]dto.FileResponse, 0, len(files))
	for i := range files {
		responses = append(responses, dto.FromModel(&files[i]))
	}

	h.respondJSON(w, http.StatusOK, dto.FileListResponse{Files: responses, Total: len(responses)})
}

// Delete removes the metadata row and the blob. 204.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrFileNotFound) {
			h.handleError(w, "File not found", err, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to delete file", err, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *FilesHandler) fileID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.handleError(w, "Invalid file ID", err, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *FilesHandler) handleSaveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidFileType):
		h.handleError(w, "Invalid file type", err, http.StatusBadRequest)
	case errors.Is(err, service.ErrUnsupportedExtension):
		h.handleError(w, "Unsupported file extension", err, http.StatusUnsupportedMediaType)
	case errors.Is(err, service.ErrFileTooLarge):
		h.handleError(w, "File too large", err, http.StatusRequestEntityTooLarge)
	default:
		h.handleError(w, "Failed to store file", err, http.StatusInternalServerError)
	}
}

func (h *FilesHandler) handleError(w http.ResponseWriter, message string, err error, status int) {
	h.logger.Error(message, zap.Error(err))

	h.respondJSON(w, status, dto.ErrorResponse{Error: message})
}

func (h *FilesHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
