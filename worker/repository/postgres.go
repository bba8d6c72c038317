package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrTaskNotFound = errors.New("task not found")

// Task carries the fields the worker needs to run a batch.
type Task struct {
	ID                     uuid.UUID
	Status                 string
	TotalFiles             int
	ConfidenceThreshold    float64
	PreviewLimit           int
	OriginalsArchiveFileID *uuid.UUID
}

// Image is a row created by the gateway for an individually stored original.
type Image struct {
	ID       uuid.UUID
	FileID   uuid.UUID
	FileName string
	FileSize int64
}

type Repository interface {
	GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error)
	ListImages(ctx context.Context, taskID uuid.UUID) ([]Image, error)
	UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status string, message *string) error
	UpdateProgress(ctx context.Context, taskID uuid.UUID, processed, failed, defects int) error
	UpdateImage(ctx context.Context, imageID uuid.UUID, status string, summary []byte, errMsg *string) error
	AddImage(ctx context.Context, taskID, fileID uuid.UUID, fileName string, fileSize int64) (uuid.UUID, error)
	SetImageResult(ctx context.Context, imageID, resultFileID uuid.UUID) error
	MarkPreviews(ctx context.Context, imageIDs []uuid.UUID) error
	SetResultsArchive(ctx context.Context, taskID uuid.UUID, fileID uuid.UUID, metadata []byte) error
	ClearOriginalsArchive(ctx context.Context, taskID uuid.UUID) error
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	query := `
		SELECT id, status, total_files, confidence_threshold, preview_limit, originals_archive_file_id
		FROM analysis_tasks
		WHERE id = $1
	`

	var task Task
	err := r.db.QueryRow(ctx, query, taskID).Scan(
		&task.ID,
		&task.Status,
		&task.TotalFiles,
		&task.ConfidenceThreshold,
		&task.PreviewLimit,
		&task.OriginalsArchiveFileID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	return &task, nil
}

func (r *PostgresRepo) ListImages(ctx context.Context, taskID uuid.UUID) ([]Image, error) {
	query := `
		SELECT id, file_id, file_name, file_size
		FROM analysis_images
		WHERE task_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.FileID, &img.FileName, &img.FileSize); err != nil {
			return nil, err
		}
		images = append(images, img)
	}

	return images, rows.Err()
}

func (r *PostgresRepo) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status string, message *string) error {
	query := `UPDATE analysis_tasks SET status = $1, message = $2, updated_at = NOW()`
	if status == "completed" || status == "failed" {
		query += `, completed_at = NOW()`
	}
	query += ` WHERE id = $3`

	result, err := r.db.Exec(ctx, query, status, message, taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepo) UpdateProgress(ctx context.Context, taskID uuid.UUID, processed, failed, defects int) error {
	query := `
		UPDATE analysis_tasks
		SET processed_files = $1, failed_files = $2, defects_found = $3, updated_at = NOW()
		WHERE id = $4
	`

	_, err := r.db.Exec(ctx, query, processed, failed, defects, taskID)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (r *PostgresRepo) UpdateImage(ctx context.Context, imageID uuid.UUID, status string, summary []byte, errMsg *string) error {
	query := `
		UPDATE analysis_images
		SET status = $1, summary = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`

	_, err := r.db.Exec(ctx, query, status, summary, errMsg, imageID)
	if err != nil {
		return fmt.Errorf("update image: %w", err)
	}
	return nil
}

func (r *PostgresRepo) AddImage(ctx context.Context, taskID, fileID uuid.UUID, fileName string, fileSize int64) (uuid.UUID, error) {
	query := `
		INSERT INTO analysis_images (task_id, file_id, file_name, file_size, status)
		VALUES ($1, $2, $3, $4, 'queued')
		RETURNING id
	`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, taskID, fileID, fileName, fileSize).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("add image: %w", err)
	}
	return id, nil
}

func (r *PostgresRepo) SetImageResult(ctx context.Context, imageID, resultFileID uuid.UUID) error {
	query := `UPDATE analysis_images SET result_file_id = $1, updated_at = NOW() WHERE id = $2`

	_, err := r.db.Exec(ctx, query, resultFileID, imageID)
	if err != nil {
		return fmt.Errorf("set image result: %w", err)
	}
	return nil
}

func (r *PostgresRepo) MarkPreviews(ctx context.Context, imageIDs []uuid.UUID) error {
	if len(imageIDs) == 0 {
		return nil
	}

	query := `UPDATE analysis_images SET is_preview = TRUE, updated_at = NOW() WHERE id = ANY($1)`
	_, err := r.db.Exec(ctx, query, imageIDs)
	if err != nil {
		return fmt.Errorf("mark previews: %w", err)
	}
	return nil
}

func (r *PostgresRepo) SetResultsArchive(ctx context.Context, taskID uuid.UUID, fileID uuid.UUID, metadata []byte) error {
	query := `
		UPDATE analysis_tasks
		SET results_archive_file_id = $1, metadata = $2, updated_at = NOW()
		WHERE id = $3
	`

	_, err := r.db.Exec(ctx, query, fileID, metadata, taskID)
	if err != nil {
		return fmt.Errorf("set results archive: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ClearOriginalsArchive(ctx context.Context, taskID uuid.UUID) error {
	query := `UPDATE analysis_tasks SET originals_archive_file_id = NULL, updated_at = NOW() WHERE id = $1`

	_, err := r.db.Exec(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("clear originals archive: %w", err)
	}
	return nil
}
