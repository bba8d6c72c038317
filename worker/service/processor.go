package service

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridinspect/worker/annotate"
	"gridinspect/worker/clients"
	"gridinspect/worker/kafka"
	"gridinspect/worker/pool"
	"gridinspect/worker/pubsub"
	"gridinspect/worker/repository"
)

const (
	// Counters are persisted and a frame published after this many files, so
	// the UI keeps moving on hour-long batches without hammering Postgres.
	progressEvery = 100

	// Archive entries are uploaded and processed in chunks of this size to
	// bound memory on multi-gigabyte batches.
	archiveChunkSize = 20
)

const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

const (
	fileTypeOriginal = "ANALYSIS_ORIGINAL"
	fileTypePreview  = "ANALYSIS_PREVIEW"
	fileTypeArchive  = "ANALYSIS_ARCHIVE"
)

type Detector interface {
	Predict(ctx context.Context, fileName string, content []byte, conf float64) (*clients.PredictResponse, error)
}

type FileStore interface {
	Upload(ctx context.Context, fileName, contentType string, content io.Reader, projectID, fileType string) (*clients.StoredFile, error)
	UploadBytes(ctx context.Context, data []byte, fileName, contentType, projectID, fileType string) (*clients.StoredFile, error)
	BatchUpload(ctx context.Context, items []clients.BatchItem, projectID, fileType string) ([]clients.StoredFile, error)
	BatchDownload(ctx context.Context, fileIDs []uuid.UUID) ([]clients.DownloadedFile, error)
	DownloadTo(ctx context.Context, fileID string, w io.Writer) error
	Delete(ctx context.Context, fileID string) error
}

type Publisher interface {
	Publish(ctx context.Context, progress *pubsub.TaskProgress) error
}

type Annotator interface {
	Annotate(data []byte, detections []clients.Detection) ([]byte, error)
}

// Processor runs one analysis batch end to end.
type Processor struct {
	repo      repository.Repository
	detector  Detector
	files     FileStore
	publisher Publisher
	annotator Annotator
	workers   int
	logger    *zap.Logger
}

func NewProcessor(
	repo repository.Repository,
	detector Detector,
	files FileStore,
	publisher Publisher,
	annotator Annotator,
	workers int,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		repo:      repo,
		detector:  detector,
		files:     files,
		publisher: publisher,
		annotator: annotator,
		workers:   workers,
		logger:    logger,
	}
}

// previewCandidate holds an annotated image until preview selection decides
// whether it gets stored individually.
type previewCandidate struct {
	imageID   uuid.UUID
	name      string
	annotated []byte
}

// batchRun is the mutable state of one task being processed.
type batchRun struct {
	taskID       uuid.UUID
	traceID      string
	conf         float64
	previewLimit int
	totalFiles   int

	mu          sync.Mutex
	processed   int
	failed      int
	defects     int
	classCounts map[string]int
	defectCands []previewCandidate
	cleanCands  []previewCandidate

	zipMu sync.Mutex
	zw    *zip.Writer
}

// Process handles one task message. Per-image failures are recorded and
// counted; only infrastructure failures abort the batch.
func (p *Processor) Process(ctx context.Context, msg *kafka.TaskMessage) error {
	taskID, err := uuid.Parse(msg.TaskID)
	if err != nil {
		p.logger.Error("invalid task id in message", zap.String("task_id", msg.TaskID))
		return err
	}

	logger := p.logger.With(
		zap.String("task_id", msg.TaskID),
		zap.String("trace_id", msg.TraceID),
	)

	task, err := p.repo.GetTask(ctx, taskID)
	if err != nil {
		logger.Error("task lookup failed", zap.Error(err))
		return err
	}

	conf := msg.ConfidenceThreshold
	if conf <= 0 {
		conf = task.ConfidenceThreshold
	}
	previewLimit := msg.PreviewLimit
	if previewLimit <= 0 {
		previewLimit = task.PreviewLimit
	}

	run := &batchRun{
		taskID:       taskID,
		traceID:      msg.TraceID,
		conf:         conf,
		previewLimit: previewLimit,
		totalFiles:   task.TotalFiles,
		classCounts:  make(map[string]int),
	}

	tmpResults, err := os.CreateTemp("", "results-*.zip")
	if err != nil {
		return p.failTask(ctx, run, fmt.Errorf("create results archive: %w", err))
	}
	defer func() {
		tmpResults.Close()
		os.Remove(tmpResults.Name())
	}()
	run.zw = zip.NewWriter(tmpResults)

	if err := p.repo.UpdateTaskStatus(ctx, taskID, statusProcessing, nil); err != nil {
		return err
	}
	p.publishProgress(ctx, run, statusProcessing, "")

	logger.Info("batch started",
		zap.Int("total_files", task.TotalFiles),
		zap.Float64("conf", conf),
	)

	if err := p.processStoredImages(ctx, run); err != nil {
		return p.failTask(ctx, run, err)
	}

	if task.OriginalsArchiveFileID != nil {
		if err := p.processArchive(ctx, run, *task.OriginalsArchiveFileID); err != nil {
			return p.failTask(ctx, run, err)
		}
	}

	if err := p.finalizePreviews(ctx, run); err != nil {
		logger.Warn("preview finalization failed", zap.Error(err))
	}

	if err := p.storeResults(ctx, run, tmpResults); err != nil {
		return p.failTask(ctx, run, err)
	}

	if task.OriginalsArchiveFileID != nil {
		// The originals now live as individual files, the upload archive is
		// redundant.
		if err := p.files.Delete(ctx, task.OriginalsArchiveFileID.String()); err != nil {
			logger.Warn("failed to delete originals archive", zap.Error(err))
		} else if err := p.repo.ClearOriginalsArchive(ctx, taskID); err != nil {
			logger.Warn("failed to clear originals archive reference", zap.Error(err))
		}
	}

	status := statusCompleted
	var message string
	if run.failed > 0 {
		status = statusFailed
		message = fmt.Sprintf("%d of %d files failed", run.failed, run.totalFiles)
	}

	if err := p.repo.UpdateProgress(ctx, taskID, run.processed, run.failed, run.defects); err != nil {
		return err
	}
	var msgPtr *string
	if message != "" {
		msgPtr = &message
	}
	if err := p.repo.UpdateTaskStatus(ctx, taskID, status, msgPtr); err != nil {
		return err
	}
	p.publishProgress(ctx, run, status, message)

	logger.Info("batch finished",
		zap.String("status", status),
		zap.Int("processed", run.processed),
		zap.Int("failed", run.failed),
		zap.Int("defects", run.defects),
	)

	return nil
}

// processStoredImages runs detection over the rows the gateway stored
// individually at upload time.
func (p *Processor) processStoredImages(ctx context.Context, run *batchRun) error {
	images, err := p.repo.ListImages(ctx, run.taskID)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return nil
	}

	fileIDs := make([]uuid.UUID, 0, len(images))
	byFileID := make(map[uuid.UUID]repository.Image, len(images))
	for _, img := range images {
		fileIDs = append(fileIDs, img.FileID)
		byFileID[img.FileID] = img
	}

	downloaded, err := p.files.BatchDownload(ctx, fileIDs)
	if err != nil {
		return fmt.Errorf("download stored originals: %w", err)
	}

	wp := pool.NewWorkerPool(p.workers)
	for _, file := range downloaded {
		img, ok := byFileID[file.ID]
		if !ok {
			continue
		}
		data := file.Content
		wp.Submit(ctx, func(jobCtx context.Context) {
			p.processImage(jobCtx, run, img.ID, img.FileName, data)
		})
	}
	wp.Wait()

	return nil
}

// processArchive unpacks the originals archive, re-uploads its files in
// chunks so every image gets its own row, and runs detection on each.
func (p *Processor) processArchive(ctx context.Context, run *batchRun, archiveFileID uuid.UUID) error {
	tmp, err := os.CreateTemp("", "originals-*.zip")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := p.files.DownloadTo(ctx, archiveFileID.String(), tmp); err != nil {
		return fmt.Errorf("download originals archive: %w", err)
	}

	reader, err := zip.OpenReader(tmp.Name())
	if err != nil {
		return fmt.Errorf("open originals archive: %w", err)
	}
	defer reader.Close()

	chunk := make([]clients.BatchItem, 0, archiveChunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}

		stored, err := p.files.BatchUpload(ctx, chunk, run.taskID.String(), fileTypeOriginal)
		if err != nil {
			return fmt.Errorf("upload originals chunk: %w", err)
		}

		wp := pool.NewWorkerPool(p.workers)
		for i, item := range chunk {
			imageID, err := p.repo.AddImage(ctx, run.taskID, stored[i].ID, item.Name, int64(len(item.Data)))
			if err != nil {
				return err
			}
			data := item.Data
			name := item.Name
			wp.Submit(ctx, func(jobCtx context.Context) {
				p.processImage(jobCtx, run, imageID, name, data)
			})
		}
		wp.Wait()

		chunk = chunk[:0]
		return nil
	}

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read archive entry %s: %w", entry.Name, err)
		}

		chunk = append(chunk, clients.BatchItem{Name: filepath.Base(entry.Name), Data: data})
		if len(chunk) >= archiveChunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}

// processImage runs one image through detect, annotate, and the results
// archive. Errors mark the row failed and move on.
func (p *Processor) processImage(ctx context.Context, run *batchRun, imageID uuid.UUID, name string, data []byte) {
	result, err := p.detector.Predict(ctx, name, data, run.conf)
	if err != nil {
		p.failImage(ctx, run, imageID, name, err)
		return
	}

	annotated, err := p.annotator.Annotate(data, result.Detections)
	if err != nil {
		p.failImage(ctx, run, imageID, name, err)
		return
	}

	defects := annotate.CountDefects(result.Detections)

	classes := make(map[string]int)
	for _, det := range result.Detections {
		classes[det.ClassName]++
	}
	summary, err := json.Marshal(map[string]any{
		"detections": len(result.Detections),
		"defects":    defects,
		"classes":    classes,
	})
	if err != nil {
		p.failImage(ctx, run, imageID, name, err)
		return
	}

	if err := p.repo.UpdateImage(ctx, imageID, statusCompleted, summary, nil); err != nil {
		p.logger.Warn("failed to update image row",
			zap.String("image_id", imageID.String()),
			zap.Error(err),
		)
	}

	if err := p.addToResults(run, name, annotated, defects > 0); err != nil {
		p.logger.Warn("failed to add image to results archive",
			zap.String("file", name),
			zap.Error(err),
		)
	}

	run.mu.Lock()
	run.processed++
	run.defects += defects
	for class, count := range classes {
		run.classCounts[class] += count
	}
	cand := previewCandidate{imageID: imageID, name: name, annotated: annotated}
	if defects > 0 {
		if len(run.defectCands) < run.previewLimit {
			run.defectCands = append(run.defectCands, cand)
		}
	} else if len(run.cleanCands) < run.previewLimit {
		run.cleanCands = append(run.cleanCands, cand)
	}
	tick := (run.processed+run.failed)%progressEvery == 0
	processed, failed, defects := run.processed, run.failed, run.defects
	run.mu.Unlock()

	if tick {
		p.repo.UpdateProgress(ctx, run.taskID, processed, failed, defects)
		p.publishProgress(ctx, run, statusProcessing, "")
	}
}

func (p *Processor) failImage(ctx context.Context, run *batchRun, imageID uuid.UUID, name string, cause error) {
	p.logger.Warn("image processing failed",
		zap.String("task_id", run.taskID.String()),
		zap.String("file", name),
		zap.Error(cause),
	)

	errMsg := cause.Error()
	if err := p.repo.UpdateImage(ctx, imageID, statusFailed, nil, &errMsg); err != nil {
		p.logger.Warn("failed to mark image failed",
			zap.String("image_id", imageID.String()),
			zap.Error(err),
		)
	}

	run.mu.Lock()
	run.failed++
	tick := (run.processed+run.failed)%progressEvery == 0
	processed, failed, defects := run.processed, run.failed, run.defects
	run.mu.Unlock()

	if tick {
		p.repo.UpdateProgress(ctx, run.taskID, processed, failed, defects)
		p.publishProgress(ctx, run, statusProcessing, "")
	}
}

// addToResults writes the annotated JPEG into the results archive, sorted
// into damaged/ or intact/ by whether any defect was found.
func (p *Processor) addToResults(run *batchRun, name string, annotated []byte, damaged bool) error {
	folder := "results/intact/"
	if damaged {
		folder = "results/damaged/"
	}

	run.zipMu.Lock()
	defer run.zipMu.Unlock()

	entry, err := run.zw.Create(folder + jpegName(name))
	if err != nil {
		return err
	}
	_, err = entry.Write(annotated)
	return err
}

// finalizePreviews picks defect images first, then regular ones, uploads
// their annotated versions, and flags the rows for the task page.
func (p *Processor) finalizePreviews(ctx context.Context, run *batchRun) error {
	candidates := append([]previewCandidate{}, run.defectCands...)
	for _, cand := range run.cleanCands {
		if len(candidates) >= run.previewLimit {
			break
		}
		candidates = append(candidates, cand)
	}
	if len(candidates) > run.previewLimit {
		candidates = candidates[:run.previewLimit]
	}

	previewIDs := make([]uuid.UUID, 0, len(candidates))
	for _, cand := range candidates {
		stored, err := p.files.UploadBytes(ctx, cand.annotated, "annotated_"+jpegName(cand.name), "image/jpeg", run.taskID.String(), fileTypePreview)
		if err != nil {
			return fmt.Errorf("upload preview %s: %w", cand.name, err)
		}
		if err := p.repo.SetImageResult(ctx, cand.imageID, stored.ID); err != nil {
			return err
		}
		previewIDs = append(previewIDs, cand.imageID)
	}

	return p.repo.MarkPreviews(ctx, previewIDs)
}

// storeResults closes the results archive, uploads it, and records class
// statistics on the task.
func (p *Processor) storeResults(ctx context.Context, run *batchRun, tmpResults *os.File) error {
	if err := run.zw.Close(); err != nil {
		return fmt.Errorf("close results archive: %w", err)
	}
	if _, err := tmpResults.Seek(0, io.SeekStart); err != nil {
		return err
	}

	name := fmt.Sprintf("results_%s.zip", run.taskID)
	stored, err := p.files.Upload(ctx, name, "application/zip", tmpResults, run.taskID.String(), fileTypeArchive)
	if err != nil {
		return fmt.Errorf("upload results archive: %w", err)
	}

	metadata, err := json.Marshal(map[string]any{
		"classes":       run.classCounts,
		"defects_found": run.defects,
		"failed_files":  run.failed,
	})
	if err != nil {
		return err
	}

	return p.repo.SetResultsArchive(ctx, run.taskID, stored.ID, metadata)
}

func (p *Processor) failTask(ctx context.Context, run *batchRun, cause error) error {
	p.logger.Error("batch failed",
		zap.String("task_id", run.taskID.String()),
		zap.Error(cause),
	)

	message := cause.Error()
	if err := p.repo.UpdateTaskStatus(ctx, run.taskID, statusFailed, &message); err != nil {
		p.logger.Error("failed to mark task failed", zap.Error(err))
	}
	p.publishProgress(ctx, run, statusFailed, message)

	return cause
}

func (p *Processor) publishProgress(ctx context.Context, run *batchRun, status, message string) {
	run.mu.Lock()
	frame := &pubsub.TaskProgress{
		TaskID:         run.taskID,
		Status:         status,
		ProcessedFiles: run.processed,
		TotalFiles:     run.totalFiles,
		FailedFiles:    run.failed,
		DefectsFound:   run.defects,
		Message:        message,
	}
	run.mu.Unlock()

	if err := p.publisher.Publish(ctx, frame); err != nil {
		p.logger.Warn("failed to publish progress",
			zap.String("task_id", run.taskID.String()),
			zap.Error(err),
		)
	}
}

// jpegName swaps the extension for .jpg, annotated output is always JPEG.
func jpegName(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + ".jpg"
}
