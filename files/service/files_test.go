package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"gridinspect/files/models"
	"gridinspect/files/repository"
)

type memBlobs struct {
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *memBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(ctx context.Context, key string) error {
	b.deleted = append(b.deleted, key)
	delete(b.objects, key)
	return nil
}

type memRepo struct {
	rows      map[uuid.UUID]*models.StoredFile
	insertErr error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[uuid.UUID]*models.StoredFile)}
}

func (r *memRepo) Insert(ctx context.Context, file *models.StoredFile) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.rows[file.ID] = file
	return nil
}

func (r *memRepo) Get(ctx context.Context, id uuid.UUID) (*models.StoredFile, error) {
	file, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrFileNotFound
	}
	return file, nil
}

func (r *memRepo) ListByProject(ctx context.Context, projectID string) ([]models.StoredFile, error) {
	var files []models.StoredFile
	for _, file := range r.rows {
		if file.ProjectID == projectID {
			files = append(files, *file)
		}
	}
	return files, nil
}

func (r *memRepo) Delete(ctx context.Context, id uuid.UUID) (*models.StoredFile, error) {
	file, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrFileNotFound
	}
	delete(r.rows, id)
	return file, nil
}

func newTestService(t *testing.T, repo *memRepo, blobs *memBlobs) *FileService {
	t.Helper()
	return NewFileService(repo, blobs, 1024, zaptest.NewLogger(t))
}

func TestSave_StoresBlobAndRow(t *testing.T) {
	repo := newMemRepo()
	blobs := newMemBlobs()
	svc := newTestService(t, repo, blobs)

	content := []byte("jpeg payload")
	file, err := svc.Save(context.Background(), &SaveRequest{
		FileName:  "tower.jpg",
		Size:      int64(len(content)),
		ProjectID: "task-1",
		FileType:  models.TypeAnalysisOriginal,
		Content:   bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if file.ObjectKey != "task-1/"+file.ID.String()+".jpg" {
		t.Errorf("Unexpected object key: %s", file.ObjectKey)
	}
	if file.MimeType != "image/jpeg" {
		t.Errorf("Expected mime sniffed from extension, got %s", file.MimeType)
	}

	sum := sha256.Sum256(content)
	if file.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum mismatch: %s", file.Checksum)
	}

	if _, ok := blobs.objects[file.ObjectKey]; !ok {
		t.Error("Expected blob written to storage")
	}
	if _, ok := repo.rows[file.ID]; !ok {
		t.Error("Expected metadata row inserted")
	}
}

func TestSave_Validation(t *testing.T) {
	svc := newTestService(t, newMemRepo(), newMemBlobs())
	ctx := context.Background()

	tests := []struct {
		name    string
		req     SaveRequest
		wantErr error
	}{
		{
			"unknown type",
			SaveRequest{FileName: "a.jpg", FileType: "DOCUMENT"},
			ErrInvalidFileType,
		},
		{
			"wrong extension for type",
			SaveRequest{FileName: "a.txt", FileType: models.TypeImage},
			ErrUnsupportedExtension,
		},
		{
			"archive type requires zip",
			SaveRequest{FileName: "a.jpg", FileType: models.TypeAnalysisArchive},
			ErrUnsupportedExtension,
		},
		{
			"oversized image",
			SaveRequest{FileName: "a.jpg", Size: 4096, FileType: models.TypeImage},
			ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Save(ctx, &tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSave_ArchiveBypassesSizeCap(t *testing.T) {
	svc := newTestService(t, newMemRepo(), newMemBlobs())

	content := strings.Repeat("x", 4096)
	_, err := svc.Save(context.Background(), &SaveRequest{
		FileName: "originals.zip",
		Size:     int64(len(content)),
		FileType: models.TypeAnalysisArchive,
		Content:  strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Expected archive to bypass per-file cap, got %v", err)
	}
}

func TestSave_DefaultProject(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, newMemBlobs())

	file, err := svc.Save(context.Background(), &SaveRequest{
		FileName: "a.jpg",
		Size:     1,
		FileType: models.TypeImage,
		Content:  strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if file.ProjectID != "misc" {
		t.Errorf("Expected default project misc, got %s", file.ProjectID)
	}
}

func TestSave_InsertFailureCleansBlob(t *testing.T) {
	repo := newMemRepo()
	repo.insertErr = errors.New("insert failed")
	blobs := newMemBlobs()
	svc := newTestService(t, repo, blobs)

	_, err := svc.Save(context.Background(), &SaveRequest{
		FileName: "a.jpg",
		Size:     1,
		FileType: models.TypeImage,
		Content:  strings.NewReader("x"),
	})
	if err == nil {
		t.Fatal("Expected insert error")
	}
	if len(blobs.deleted) != 1 {
		t.Errorf("Expected orphaned blob deleted, got %d deletes", len(blobs.deleted))
	}
	if len(blobs.objects) != 0 {
		t.Error("Expected no blob left behind")
	}
}

func TestReadAll_ReturnsBlob(t *testing.T) {
	repo := newMemRepo()
	blobs := newMemBlobs()
	svc := newTestService(t, repo, blobs)

	content := []byte("image bytes")
	file, err := svc.Save(context.Background(), &SaveRequest{
		FileName: "a.jpg",
		Size:     int64(len(content)),
		FileType: models.TypeImage,
		Content:  bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, data, err := svc.ReadAll(context.Background(), file.ID)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if got.ID != file.ID {
		t.Errorf("Unexpected file id: %s", got.ID)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("Blob content mismatch: %q", data)
	}
}

func TestReadAll_UnknownFile(t *testing.T) {
	svc := newTestService(t, newMemRepo(), newMemBlobs())

	if _, _, err := svc.ReadAll(context.Background(), uuid.New()); !errors.Is(err, repository.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
}

func TestDelete_RemovesRowAndBlob(t *testing.T) {
	repo := newMemRepo()
	blobs := newMemBlobs()
	svc := newTestService(t, repo, blobs)

	file, err := svc.Save(context.Background(), &SaveRequest{
		FileName: "a.jpg",
		Size:     1,
		FileType: models.TypeImage,
		Content:  strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := svc.Delete(context.Background(), file.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(repo.rows) != 0 {
		t.Error("Expected metadata row removed")
	}
	if len(blobs.objects) != 0 {
		t.Error("Expected blob removed")
	}
}
