package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridinspect/files/models"
	"gridinspect/files/repository"
)

var (
	ErrInvalidFileType      = errors.New("invalid file type")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrFileTooLarge         = errors.New("file exceeds the size limit")
)

// BlobStore is the object-storage surface the service needs.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type SaveRequest struct {
	FileName   string
	Size       int64
	MimeType   string
	ProjectID  string
	FileType   models.FileType
	UploadedBy *string
	Content    io.Reader
}

type FileService struct {
	repo        repository.Repository
	blobs       BlobStore
	maxFileSize int64
	logger      *zap.Logger
}

func NewFileService(repo repository.Repository, blobs BlobStore, maxFileSize int64, logger *zap.Logger) *FileService {
	return &FileService{
		repo:        repo,
		blobs:       blobs,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Save validates the upload, streams the blob into storage while hashing it,
// and records the metadata row.
func (s *FileService) Save(ctx context.Context, req *SaveRequest) (*models.StoredFile, error) {
	if !req.FileType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFileType, req.FileType)
	}
	if !req.FileType.AllowedExtension(req.FileName) {
		return nil, fmt.Errorf("%w: %s for type %s", ErrUnsupportedExtension, req.FileName, req.FileType)
	}
	// Archives hold whole batches and bypass the per-file cap.
	if req.FileType != models.TypeAnalysisArchive && req.Size > s.maxFileSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, req.FileName)
	}

	projectID := req.ProjectID
	if projectID == "" {
		projectID = "misc"
	}

	id := uuid.New()
	key := objectKey(projectID, id, req.FileName)

	mimeType := req.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(req.FileName))); byExt != "" {
			mimeType = byExt
		} else {
			mimeType = "application/octet-stream"
		}
	}

	hasher := sha256.New()
	tee := io.TeeReader(req.Content, hasher)

	if err := s.blobs.Put(ctx, key, tee, req.Size, mimeType); err != nil {
		return nil, err
	}

	file := &models.StoredFile{
		ID:         id,
		ProjectID:  projectID,
		FileName:   filepath.Base(req.FileName),
		FileType:   req.FileType,
		FileSize:   req.Size,
		MimeType:   mimeType,
		Checksum:   hex.EncodeToString(hasher.Sum(nil)),
		ObjectKey:  key,
		UploadedBy: req.UploadedBy,
	}

	if err := s.repo.Insert(ctx, file); err != nil {
		// The blob is orphaned otherwise.
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to clean up blob after insert failure",
				zap.String("key", key),
				zap.Error(delErr),
			)
		}
		return nil, err
	}

	return file, nil
}

// Metadata returns the metadata row for a file id.
func (s *FileService) Metadata(ctx context.Context, id uuid.UUID) (*models.StoredFile, error) {
	return s.repo.Get(ctx, id)
}

// Open returns the metadata row and an open reader over the blob.
func (s *FileService) Open(ctx context.Context, id uuid.UUID) (*models.StoredFile, io.ReadCloser, error) {
	file, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	reader, err := s.blobs.Get(ctx, file.ObjectKey)
	if err != nil {
		return nil, nil, err
	}

	return file, reader, nil
}

// ReadAll fetches the whole blob into memory, used by batch download.
func (s *FileService) ReadAll(ctx context.Context, id uuid.UUID) (*models.StoredFile, []byte, error) {
	file, reader, err := s.Open(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("read blob %s: %w", file.ObjectKey, err)
	}
	return file, data, nil
}

// ListByProject returns every file recorded under a project id.
func (s *FileService) ListByProject(ctx context.Context, projectID string) ([]models.StoredFile, error) {
	return s.repo.ListByProject(ctx, projectID)
}

// Delete removes the metadata row and then the blob. A failed blob delete is
// logged, an orphan in the bucket beats a dangling row.
func (s *FileService) Delete(ctx context.Context, id uuid.UUID) error {
	file, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, file.ObjectKey); err != nil {
		s.logger.Warn("failed to delete blob",
			zap.String("key", file.ObjectKey),
			zap.Error(err),
		)
	}

	return nil
}

func objectKey(projectID string, id uuid.UUID, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return projectID + "/" + id.String() + ext
}
