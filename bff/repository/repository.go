package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"gridinspect/bff/models"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrImageNotFound = errors.New("image not found")
)

// NewImage describes a stored file to attach to a task.
type NewImage struct {
	FileID   uuid.UUID
	FileName string
	FileSize int64
}

type Repository interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context, limit int) ([]models.Task, error)
	AddImages(ctx context.Context, taskID uuid.UUID, images []NewImage) ([]models.TaskImage, error)
	GetTaskImages(ctx context.Context, taskID uuid.UUID, skip, limit int) ([]models.TaskImage, int, error)
	GetPreviewImages(ctx context.Context, taskID uuid.UUID) ([]models.TaskImage, error)
	SetTaskArchives(ctx context.Context, taskID uuid.UUID, originalsID, resultsID *uuid.UUID, metadata map[string]any) error
	// DeleteImage removes one image row, fixing up the task counters, and
	// returns the stored file ids that should be deleted from the files service.
	DeleteImage(ctx context.Context, taskID, imageID uuid.UUID) ([]uuid.UUID, error)
	// DeleteTask removes a task with all its image rows and returns every
	// stored file id that belonged to it.
	DeleteTask(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error)
}
