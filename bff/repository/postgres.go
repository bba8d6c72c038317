package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"gridinspect/bff/database"
	"gridinspect/bff/models"
)

const taskColumns = `
	id, status, route_name, total_files, total_bytes, processed_files,
	failed_files, defects_found, confidence_threshold, preview_limit, message,
	originals_archive_file_id, results_archive_file_id, metadata,
	created_at, updated_at, completed_at
`

const imageColumns = `
	id, task_id, file_id, file_name, file_size, status, result_file_id,
	is_preview, summary, error_message, created_at, updated_at
`

type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) Repository {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO analysis_tasks
			(status, route_name, total_files, total_bytes, confidence_threshold, preview_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		task.Status,
		task.RouteName,
		task.TotalFiles,
		task.TotalBytes,
		task.ConfidenceThreshold,
		task.PreviewLimit,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

func (r *PostgresRepo) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = $1`

	task, err := scanTask(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	return task, nil
}

func (r *PostgresRepo) ListTasks(ctx context.Context, limit int) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}

	return tasks, rows.Err()
}

func (r *PostgresRepo) AddImages(ctx context.Context, taskID uuid.UUID, images []NewImage) ([]models.TaskImage, error) {
	query := `
		INSERT INTO analysis_images (task_id, file_id, file_name, file_size, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + imageColumns

	result := make([]models.TaskImage, 0, len(images))
	for _, img := range images {
		row := r.db.Pool.QueryRow(ctx, query, taskID, img.FileID, img.FileName, img.FileSize, models.StatusQueued)
		created, err := scanImage(row)
		if err != nil {
			return nil, fmt.Errorf("insert image %s: %w", img.FileName, err)
		}
		result = append(result, *created)
	}

	return result, nil
}

func (r *PostgresRepo) GetTaskImages(ctx context.Context, taskID uuid.UUID, skip, limit int) ([]models.TaskImage, int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM analysis_images WHERE task_id = $1`, taskID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	query := `
		SELECT ` + imageColumns + `
		FROM analysis_images
		WHERE task_id = $1
		ORDER BY created_at ASC
		OFFSET $2 LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, taskID, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []models.TaskImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, err
		}
		images = append(images, *img)
	}

	return images, total, rows.Err()
}

func (r *PostgresRepo) GetPreviewImages(ctx context.Context, taskID uuid.UUID) ([]models.TaskImage, error) {
	query := `
		SELECT ` + imageColumns + `
		FROM analysis_images
		WHERE task_id = $1 AND is_preview = TRUE
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list previews: %w", err)
	}
	defer rows.Close()

	var images []models.TaskImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}

	return images, rows.Err()
}

func (r *PostgresRepo) SetTaskArchives(ctx context.Context, taskID uuid.UUID, originalsID, resultsID *uuid.UUID, metadata map[string]any) error {
	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	query := `
		UPDATE analysis_tasks
		SET originals_archive_file_id = COALESCE($1, originals_archive_file_id),
		    results_archive_file_id = COALESCE($2, results_archive_file_id),
		    metadata = COALESCE($3, metadata),
		    updated_at = NOW()
		WHERE id = $4
	`

	result, err := r.db.Pool.Exec(ctx, query, originalsID, resultsID, metadataJSON, taskID)
	if err != nil {
		return fmt.Errorf("set archives: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}

	return nil
}

func (r *PostgresRepo) DeleteImage(ctx context.Context, taskID, imageID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		fileID       uuid.UUID
		resultFileID *uuid.UUID
		status       models.AnalysisStatus
	)
	err = tx.QueryRow(ctx,
		`SELECT file_id, result_file_id, status FROM analysis_images WHERE id = $1 AND task_id = $2`,
		imageID, taskID,
	).Scan(&fileID, &resultFileID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("load image: %w", err)
	}

	// Counters shrink with the image so history stays consistent.
	query := `
		UPDATE analysis_tasks
		SET total_files = GREATEST(0, total_files - 1),
		    processed_files = CASE WHEN $2 THEN GREATEST(0, processed_files - 1) ELSE processed_files END,
		    updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, taskID, status == models.StatusCompleted); err != nil {
		return nil, fmt.Errorf("update counters: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM analysis_images WHERE id = $1`, imageID); err != nil {
		return nil, fmt.Errorf("delete image: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	fileIDs := []uuid.UUID{fileID}
	if resultFileID != nil {
		fileIDs = append(fileIDs, *resultFileID)
	}
	return fileIDs, nil
}

func (r *PostgresRepo) DeleteTask(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var resultsArchiveID *uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT results_archive_file_id FROM analysis_tasks WHERE id = $1`, taskID,
	).Scan(&resultsArchiveID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("load task: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT file_id, result_file_id FROM analysis_images WHERE task_id = $1`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list image files: %w", err)
	}

	var fileIDs []uuid.UUID
	for rows.Next() {
		var fileID uuid.UUID
		var resultFileID *uuid.UUID
		if err := rows.Scan(&fileID, &resultFileID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan image files: %w", err)
		}
		fileIDs = append(fileIDs, fileID)
		if resultFileID != nil {
			fileIDs = append(fileIDs, *resultFileID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if resultsArchiveID != nil {
		fileIDs = append(fileIDs, *resultsArchiveID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM analysis_images WHERE task_id = $1`, taskID); err != nil {
		return nil, fmt.Errorf("delete images: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM analysis_tasks WHERE id = $1`, taskID); err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return fileIDs, nil
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var task models.Task
	var metadataJSON []byte

	err := row.Scan(
		&task.ID,
		&task.Status,
		&task.RouteName,
		&task.TotalFiles,
		&task.TotalBytes,
		&task.ProcessedFiles,
		&task.FailedFiles,
		&task.DefectsFound,
		&task.ConfidenceThreshold,
		&task.PreviewLimit,
		&task.Message,
		&task.OriginalsArchiveFileID,
		&task.ResultsArchiveFileID,
		&metadataJSON,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &task.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal task metadata: %w", err)
		}
	}

	return &task, nil
}

func scanImage(row pgx.Row) (*models.TaskImage, error) {
	var img models.TaskImage
	var summaryJSON []byte

	err := row.Scan(
		&img.ID,
		&img.TaskID,
		&img.FileID,
		&img.FileName,
		&img.FileSize,
		&img.Status,
		&img.ResultFileID,
		&img.IsPreview,
		&summaryJSON,
		&img.ErrorMessage,
		&img.CreatedAt,
		&img.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &img.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal image summary: %w", err)
		}
	}

	return &img, nil
}
