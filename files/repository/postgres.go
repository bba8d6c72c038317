package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gridinspect/files/models"
)

var ErrFileNotFound = errors.New("file not found")

const fileColumns = `
	id, project_id, file_name, file_type, file_size, mime_type, checksum,
	object_key, uploaded_by, created_at
`

type Repository interface {
	Insert(ctx context.Context, file *models.StoredFile) error
	Get(ctx context.Context, id uuid.UUID) (*models.StoredFile, error)
	ListByProject(ctx context.Context, projectID string) ([]models.StoredFile, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.StoredFile, error)
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) Repository {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Insert(ctx context.Context, file *models.StoredFile) error {
	query := `
		INSERT INTO stored_files
			(id, project_id, file_name, file_type, file_size, mime_type, checksum, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		file.ID,
		file.ProjectID,
		file.FileName,
		file.FileType,
		file.FileSize,
		file.MimeType,
		file.Checksum,
		file.ObjectKey,
		file.UploadedBy,
	).Scan(&file.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}

	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id uuid.UUID) (*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM stored_files WHERE id = $1`

	file, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	return file, nil
}

func (r *PostgresRepo) ListByProject(ctx context.Context, projectID string) ([]models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM stored_files WHERE project_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	defer rows.Close()

	var files []models.StoredFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}

	return files, rows.Err()
}

// Delete removes the row and returns it so the caller can clean the blob.
func (r *PostgresRepo) Delete(ctx context.Context, id uuid.UUID) (*models.StoredFile, error) {
	query := `DELETE FROM stored_files WHERE id = $1 RETURNING ` + fileColumns

	file, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	return file, nil
}

func scanFile(row pgx.Row) (*models.StoredFile, error) {
	var file models.StoredFile
	err := row.Scan(
		&file.ID,
		&file.ProjectID,
		&file.FileName,
		&file.FileType,
		&file.FileSize,
		&file.MimeType,
		&file.Checksum,
		&file.ObjectKey,
		&file.UploadedBy,
		&file.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &file, nil
}
