package dto

import (
	"time"

	"github.com/google/uuid"
)

// StoredFile mirrors the files-service metadata document.
type StoredFile struct {
	ID        uuid.UUID  `json:"id"`
	ProjectID string     `json:"project_id"`
	FileName  string     `json:"file_name"`
	FileType  string     `json:"file_type"`
	FileSize  int64      `json:"file_size"`
	MimeType  string     `json:"mime_type"`
	Checksum  string     `json:"checksum,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type FileListResponse struct {
	Files []StoredFile `json:"files"`
	Total int          `json:"total"`
}
