package dto

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"gridinspect/bff/models"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrImageNotFound = errors.New("image not found")
)

type CreateTaskResponse struct {
	TaskID uuid.UUID             `json:"task_id"`
	Status models.AnalysisStatus `json:"status"`
}

type TaskImageSummary struct {
	ID           uuid.UUID             `json:"id"`
	FileID       uuid.UUID             `json:"file_id"`
	FileName     string                `json:"file_name"`
	FileSize     int64                 `json:"file_size"`
	Status       models.AnalysisStatus `json:"status"`
	IsPreview    bool                  `json:"is_preview"`
	Summary      map[string]any        `json:"summary,omitempty"`
	ResultFileID *uuid.UUID            `json:"result_file_id,omitempty"`
	ErrorMessage *string               `json:"error_message,omitempty"`
}

type TaskResponse struct {
	ID                     uuid.UUID             `json:"id"`
	Status                 models.AnalysisStatus `json:"status"`
	RouteName              *string               `json:"route_name,omitempty"`
	TotalFiles             int                   `json:"total_files"`
	TotalBytes             int64                 `json:"total_bytes"`
	ProcessedFiles         int                   `json:"processed_files"`
	FailedFiles            int                   `json:"failed_files"`
	DefectsFound           int                   `json:"defects_found"`
	ConfidenceThreshold    float64               `json:"confidence_threshold"`
	PreviewLimit           int                   `json:"preview_limit"`
	Message                *string               `json:"message"`
	OriginalsArchiveFileID *uuid.UUID            `json:"originals_archive_file_id"`
	ResultsArchiveFileID   *uuid.UUID            `json:"results_archive_file_id"`
	CreatedAt              time.Time             `json:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at"`
	CompletedAt            *time.Time            `json:"completed_at"`
	Metadata               map[string]any        `json:"metadata,omitempty"`
	PreviewFiles           []TaskImageSummary    `json:"preview_files"`
}

type TaskListItem struct {
	ID             uuid.UUID             `json:"id"`
	Status         models.AnalysisStatus `json:"status"`
	RouteName      *string               `json:"route_name,omitempty"`
	TotalFiles     int                   `json:"total_files"`
	ProcessedFiles int                   `json:"processed_files"`
	DefectsFound   int                   `json:"defects_found"`
	CreatedAt      time.Time             `json:"created_at"`
	CompletedAt    *time.Time            `json:"completed_at"`
}

// TaskImageItem is one row of the paginated image listing, with view
// links the frontend can point <img> tags at.
type TaskImageItem struct {
	TaskImageSummary
	CreatedAt   time.Time `json:"created_at"`
	OriginalURL string    `json:"original_url"`
	ResultURL   *string   `json:"result_url,omitempty"`
}

type TaskImagesPage struct {
	Total  int             `json:"total"`
	Skip   int             `json:"skip"`
	Limit  int             `json:"limit"`
	Images []TaskImageItem `json:"images"`
}

// TaskProgress is the frame relayed to WebSocket subscribers.
type TaskProgress struct {
	TaskID         uuid.UUID             `json:"task_id"`
	Status         models.AnalysisStatus `json:"status"`
	ProcessedFiles int                   `json:"processed_files"`
	TotalFiles     int                   `json:"total_files"`
	FailedFiles    int                   `json:"failed_files"`
	DefectsFound   int                   `json:"defects_found"`
	Message        string                `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
