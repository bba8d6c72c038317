package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridinspect/bff/dto"
	"gridinspect/bff/models"
	"gridinspect/bff/queue"
	"gridinspect/bff/repository"
)

var (
	ErrBatchEmpty        = errors.New("batch contains no files")
	ErrTooManyFiles      = errors.New("too many files in batch")
	ErrBatchTooLarge     = errors.New("batch exceeds the size limit")
	ErrFileTooLarge      = errors.New("file exceeds the size limit")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrArchiveNotAllowed = errors.New("archives must be unpacked before upload")
)

// Extensions accepted into a batch. RAW formats pass validation because
// inspection drones commonly shoot them; files the worker cannot decode
// are counted as failed per-image.
var allowedImageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true,
	".dng": true, ".cr2": true, ".nef": true, ".arw": true, ".raw": true,
}

var archiveExts = map[string]bool{
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".rar": true, ".7z": true,
}

const (
	fileTypeOriginal = "ANALYSIS_ORIGINAL"
	fileTypeArchive  = "ANALYSIS_ARCHIVE"
)

// FileStore is the slice of the files service the gateway needs.
type FileStore interface {
	Upload(ctx context.Context, fileName, contentType string, content io.Reader, projectID, fileType, uploadedBy string) (*dto.StoredFile, error)
	Delete(ctx context.Context, fileID string) error
}

// ProgressCache holds the latest progress frame per task.
type ProgressCache interface {
	Get(ctx context.Context, taskID uuid.UUID) (*dto.TaskProgress, error)
	Set(ctx context.Context, progress *dto.TaskProgress) error
	Delete(ctx context.Context, taskID uuid.UUID) error
}

// BatchFile is one incoming file of a batch upload, opened lazily so the
// whole batch never has to sit in memory at once.
type BatchFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

type Limits struct {
	MaxFileSize        int64
	MaxBatchFiles      int
	MaxBatchBytes      int64
	UploadPreviewLimit int
}

type AnalysisService struct {
	repo     repository.Repository
	cache    ProgressCache
	producer queue.Producer
	files    FileStore
	topic    string
	limits   Limits
	logger   *zap.Logger
}

func NewAnalysisService(
	repo repository.Repository,
	statusCache ProgressCache,
	producer queue.Producer,
	files FileStore,
	topic string,
	limits Limits,
	logger *zap.Logger,
) *AnalysisService {
	return &AnalysisService{
		repo:     repo,
		cache:    statusCache,
		producer: producer,
		files:    files,
		topic:    topic,
		limits:   limits,
		logger:   logger,
	}
}

// CreateBatch validates the upload, persists the task, stores the first few
// files individually for instant display, packs the rest into one archive,
// and hands the task to the worker queue.
func (s *AnalysisService) CreateBatch(
	ctx context.Context,
	traceID string,
	files []BatchFile,
	confidence float64,
	previewLimit int,
	routeName *string,
) (*dto.CreateTaskResponse, error) {
	totalBytes, err := s.validateBatch(files)
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		Status:              models.StatusQueued,
		RouteName:           routeName,
		TotalFiles:          len(files),
		TotalBytes:          totalBytes,
		ConfidenceThreshold: confidence,
		PreviewLimit:        previewLimit,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	previewCount := min(len(files), s.limits.UploadPreviewLimit)
	if err := s.storePreviews(ctx, task.ID, files[:previewCount]); err != nil {
		return nil, err
	}

	if len(files) > previewCount {
		archiveID, err := s.storeArchive(ctx, task.ID, files[previewCount:])
		if err != nil {
			return nil, err
		}
		if err := s.repo.SetTaskArchives(ctx, task.ID, &archiveID, nil, nil); err != nil {
			return nil, err
		}
	}

	s.cache.Set(ctx, &dto.TaskProgress{
		TaskID:     task.ID,
		Status:     models.StatusQueued,
		TotalFiles: len(files),
	})

	msg := &queue.TaskMessage{
		TaskID:              task.ID.String(),
		TraceID:             traceID,
		ConfidenceThreshold: confidence,
		PreviewLimit:        previewLimit,
	}
	if err := s.producer.SendTaskMessage(ctx, s.topic, msg); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	s.logger.Info("analysis batch queued",
		zap.String("trace_id", traceID),
		zap.String("task_id", task.ID.String()),
		zap.Int("total_files", len(files)),
		zap.Int64("total_bytes", totalBytes),
	)

	return &dto.CreateTaskResponse{TaskID: task.ID, Status: models.StatusQueued}, nil
}

func (s *AnalysisService) validateBatch(files []BatchFile) (int64, error) {
	if len(files) == 0 {
		return 0, ErrBatchEmpty
	}
	if len(files) > s.limits.MaxBatchFiles {
		return 0, fmt.Errorf("%w: %d files, limit %d", ErrTooManyFiles, len(files), s.limits.MaxBatchFiles)
	}

	var total int64
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if archiveExts[ext] {
			return 0, fmt.Errorf("%w: %s", ErrArchiveNotAllowed, f.Name)
		}
		if !allowedImageExts[ext] {
			return 0, fmt.Errorf("%w: %s", ErrUnsupportedFile, f.Name)
		}
		if f.Size > s.limits.MaxFileSize {
			return 0, fmt.Errorf("%w: %s", ErrFileTooLarge, f.Name)
		}
		total += f.Size
	}
	if total > s.limits.MaxBatchBytes {
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrBatchTooLarge, total, s.limits.MaxBatchBytes)
	}

	return total, nil
}

// storePreviews uploads files one by one and records them as image rows, so
// the task page has something to show while the worker is still queued.
func (s *AnalysisService) storePreviews(ctx context.Context, taskID uuid.UUID, files []BatchFile) error {
	images := make([]repository.NewImage, 0, len(files))

	for _, f := range files {
		reader, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}

		stored, err := s.files.Upload(ctx, f.Name, contentTypeFor(f.Name), reader, taskID.String(), fileTypeOriginal, "")
		reader.Close()
		if err != nil {
			return fmt.Errorf("store %s: %w", f.Name, err)
		}

		images = append(images, repository.NewImage{
			FileID:   stored.ID,
			FileName: f.Name,
			FileSize: f.Size,
		})
	}

	if _, err := s.repo.AddImages(ctx, taskID, images); err != nil {
		return err
	}
	return nil
}

// storeArchive zips the remaining files through a temp file on disk. Batches
// run to gigabytes, so the archive never lives in memory.
func (s *AnalysisService) storeArchive(ctx context.Context, taskID uuid.UUID, files []BatchFile) (uuid.UUID, error) {
	tmp, err := os.CreateTemp("", "originals-*.zip")
	if err != nil {
		return uuid.Nil, fmt.Errorf("create temp archive: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	zw := zip.NewWriter(tmp)
	for _, f := range files {
		entry, err := zw.Create(filepath.Base(f.Name))
		if err != nil {
			return uuid.Nil, fmt.Errorf("archive entry %s: %w", f.Name, err)
		}
		reader, err := f.Open()
		if err != nil {
			return uuid.Nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		_, err = io.Copy(entry, reader)
		reader.Close()
		if err != nil {
			return uuid.Nil, fmt.Errorf("archive %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("close archive: %w", err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return uuid.Nil, err
	}

	name := fmt.Sprintf("originals_%s.zip", taskID)
	stored, err := s.files.Upload(ctx, name, "application/zip", tmp, taskID.String(), fileTypeArchive, "")
	if err != nil {
		return uuid.Nil, fmt.Errorf("store archive: %w", err)
	}

	return stored.ID, nil
}

// GetTask returns the task with its preview images.
func (s *AnalysisService) GetTask(ctx context.Context, taskID uuid.UUID) (*dto.TaskResponse, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	previews, err := s.repo.GetPreviewImages(ctx, taskID)
	if err != nil {
		return nil, err
	}

	resp := toTaskResponse(task)
	resp.PreviewFiles = make([]dto.TaskImageSummary, 0, len(previews))
	for i := range previews {
		resp.PreviewFiles = append(resp.PreviewFiles, toImageSummary(&previews[i]))
	}

	return resp, nil
}

// GetTaskStatus serves progress from the cache while a task runs, falling
// back to Postgres once the cache entry expires.
func (s *AnalysisService) GetTaskStatus(ctx context.Context, taskID uuid.UUID) (*dto.TaskProgress, error) {
	if progress, err := s.cache.Get(ctx, taskID); err == nil {
		return progress, nil
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	progress := &dto.TaskProgress{
		TaskID:         task.ID,
		Status:         task.Status,
		ProcessedFiles: task.ProcessedFiles,
		TotalFiles:     task.TotalFiles,
		FailedFiles:    task.FailedFiles,
		DefectsFound:   task.DefectsFound,
	}
	s.cache.Set(ctx, progress)

	return progress, nil
}

func (s *AnalysisService) ListTasks(ctx context.Context, limit int) ([]dto.TaskListItem, error) {
	tasks, err := s.repo.ListTasks(ctx, limit)
	if err != nil {
		return nil, err
	}

	items := make([]dto.TaskListItem, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		items = append(items, dto.TaskListItem{
			ID:             t.ID,
			Status:         t.Status,
			RouteName:      t.RouteName,
			TotalFiles:     t.TotalFiles,
			ProcessedFiles: t.ProcessedFiles,
			DefectsFound:   t.DefectsFound,
			CreatedAt:      t.CreatedAt,
			CompletedAt:    t.CompletedAt,
		})
	}

	return items, nil
}

// GetTaskImages returns one page of image rows with view links the frontend
// can render directly.
func (s *AnalysisService) GetTaskImages(ctx context.Context, taskID uuid.UUID, skip, limit int) (*dto.TaskImagesPage, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	images, total, err := s.repo.GetTaskImages(ctx, taskID, skip, limit)
	if err != nil {
		return nil, err
	}

	page := &dto.TaskImagesPage{
		Total:  total,
		Skip:   skip,
		Limit:  limit,
		Images: make([]dto.TaskImageItem, 0, len(images)),
	}
	for i := range images {
		img := &images[i]
		item := dto.TaskImageItem{
			TaskImageSummary: toImageSummary(img),
			CreatedAt:        img.CreatedAt,
			OriginalURL:      viewURL(img.FileID),
		}
		if img.ResultFileID != nil {
			url := viewURL(*img.ResultFileID)
			item.ResultURL = &url
		}
		page.Images = append(page.Images, item)
	}

	return page, nil
}

// DeleteTask removes the task and best-effort deletes its stored files.
// Orphaned blobs are preferable to a delete that fails halfway.
func (s *AnalysisService) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	fileIDs, err := s.repo.DeleteTask(ctx, taskID)
	if err != nil {
		return err
	}

	s.cache.Delete(ctx, taskID)
	s.deleteFiles(ctx, fileIDs)

	return nil
}

func (s *AnalysisService) DeleteImage(ctx context.Context, taskID, imageID uuid.UUID) error {
	fileIDs, err := s.repo.DeleteImage(ctx, taskID, imageID)
	if err != nil {
		return err
	}

	s.deleteFiles(ctx, fileIDs)

	return nil
}

func (s *AnalysisService) deleteFiles(ctx context.Context, fileIDs []uuid.UUID) {
	for _, id := range fileIDs {
		if err := s.files.Delete(ctx, id.String()); err != nil {
			s.logger.Warn("failed to delete stored file",
				zap.String("file_id", id.String()),
				zap.Error(err),
			)
		}
	}
}

func toTaskResponse(task *models.Task) *dto.TaskResponse {
	return &dto.TaskResponse{
		ID:                     task.ID,
		Status:                 task.Status,
		RouteName:              task.RouteName,
		TotalFiles:             task.TotalFiles,
		TotalBytes:             task.TotalBytes,
		ProcessedFiles:         task.ProcessedFiles,
		FailedFiles:            task.FailedFiles,
		DefectsFound:           task.DefectsFound,
		ConfidenceThreshold:    task.ConfidenceThreshold,
		PreviewLimit:           task.PreviewLimit,
		Message:                task.Message,
		OriginalsArchiveFileID: task.OriginalsArchiveFileID,
		ResultsArchiveFileID:   task.ResultsArchiveFileID,
		CreatedAt:              task.CreatedAt,
		UpdatedAt:              task.UpdatedAt,
		CompletedAt:            task.CompletedAt,
		Metadata:               task.Metadata,
	}
}

func toImageSummary(img *models.TaskImage) dto.TaskImageSummary {
	return dto.TaskImageSummary{
		ID:           img.ID,
		FileID:       img.FileID,
		FileName:     img.FileName,
		FileSize:     img.FileSize,
		Status:       img.Status,
		IsPreview:    img.IsPreview,
		Summary:      img.Summary,
		ResultFileID: img.ResultFileID,
		ErrorMessage: img.ErrorMessage,
	}
}

func viewURL(fileID uuid.UUID) string {
	return "/api/files/" + fileID.String() + "/view"
}

func contentTypeFor(fileName string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
