package dto

import (
	"time"

	"github.com/google/uuid"

	"gridinspect/files/models"
)

type FileResponse struct {
	ID        uuid.UUID       `json:"id"`
	ProjectID string          `json:"project_id"`
	FileName  string          `json:"file_name"`
	FileType  models.FileType `json:"file_type"`
	FileSize  int64           `json:"file_size"`
	MimeType  string          `json:"mime_type"`
	Checksum  string          `json:"checksum"`
	CreatedAt time.Time       `json:"created_at"`
}

func FromModel(file *models.StoredFile) FileResponse {
	return FileResponse{
		ID:        file.ID,
		ProjectID: file.ProjectID,
		FileName:  file.FileName,
		FileType:  file.FileType,
		FileSize:  file.FileSize,
		MimeType:  file.MimeType,
		Checksum:  file.Checksum,
		CreatedAt: file.CreatedAt,
	}
}

type FileListResponse struct {
	Files []FileResponse `json:"files"`
	Total int            `json:"total"`
}

type BatchDownloadRequest struct {
	FileIDs []uuid.UUID `json:"file_ids"`
}

// BatchFileContent carries blob bytes inside JSON; encoding/json transports
// []byte as base64.
type BatchFileContent struct {
	ID       uuid.UUID `json:"id"`
	FileName string    `json:"file_name"`
	Content  []byte    `json:"content"`
}

type BatchDownloadResponse struct {
	Files []BatchFileContent `json:"files"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
