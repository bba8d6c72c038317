package models

import (
	"time"

	"github.com/google/uuid"
)

type AnalysisStatus string

const (
	StatusQueued     AnalysisStatus = "queued"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// Task is one batch-analysis request: a set of uploaded images that
// the worker runs through the detector.
type Task struct {
	ID                      uuid.UUID
	Status                  AnalysisStatus
	RouteName               *string
	TotalFiles              int
	TotalBytes              int64
	ProcessedFiles          int
	FailedFiles             int
	DefectsFound            int
	ConfidenceThreshold     float64
	PreviewLimit            int
	Message                 *string
	OriginalsArchiveFileID  *uuid.UUID
	ResultsArchiveFileID    *uuid.UUID
	Metadata                map[string]any
	CreatedAt               time.Time
	UpdatedAt               time.Time
	CompletedAt             *time.Time
}

// TaskImage is a single file inside a task. Summary holds the raw
// detector response for that image.
type TaskImage struct {
	ID           uuid.UUID
	TaskID       uuid.UUID
	FileID       uuid.UUID
	FileName     string
	FileSize     int64
	Status       AnalysisStatus
	ResultFileID *uuid.UUID
	IsPreview    bool
	Summary      map[string]any
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
