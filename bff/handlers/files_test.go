package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"gridinspect/bff/clients"
	"gridinspect/bff/dto"
)

type mockFileStorage struct {
	uploadFunc       func(ctx context.Context, fileName, contentType string, content io.Reader, projectID, fileType, uploadedBy string) (*dto.StoredFile, error)
	downloadFunc     func(ctx context.Context, fileID string) ([]byte, error)
	metadataFunc     func(ctx context.Context, fileID string) (*dto.StoredFile, error)
	projectFilesFunc func(ctx context.Context, projectID string) ([]dto.StoredFile, error)
	deleteFunc       func(ctx context.Context, fileID string) error
}

func (m *mockFileStorage) Upload(ctx context.Context, fileName, contentType string, content io.Reader, projectID, fileType, uploadedBy string) (*dto.StoredFile, error) {
	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, fileName, contentType, content, projectID, fileType, uploadedBy)
	}
	return &dto.StoredFile{ID: uuid.New(), FileName: fileName}, nil
}

func (m *mockFileStorage) Download(ctx context.Context, fileID string) ([]byte, error) {
	if m.downloadFunc != nil {
		return m.downloadFunc(ctx, fileID)
	}
	return []byte("blob"), nil
}

func (m *mockFileStorage) Metadata(ctx context.Context, fileID string) (*dto.StoredFile, error) {
	if m.metadataFunc != nil {
		return m.metadataFunc(ctx, fileID)
	}
	return &dto.StoredFile{FileName: "tower.jpg", MimeType: "image/jpeg"}, nil
}

func (m *mockFileStorage) ProjectFiles(ctx context.Context, projectID string) ([]dto.StoredFile, error) {
	if m.projectFilesFunc != nil {
		return m.projectFilesFunc(ctx, projectID)
	}
	return nil, nil
}

func (m *mockFileStorage) Delete(ctx context.Context, fileID string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, fileID)
	}
	return nil
}

func newFilesMux(handler *FilesHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files/upload", handler.Upload)
	mux.HandleFunc("GET /api/files/{id}", handler.Metadata)
	mux.HandleFunc("GET /api/files/{id}/download", handler.Download)
	mux.HandleFunc("GET /api/files/{id}/view", handler.View)
	mux.HandleFunc("GET /api/files/project/{id}", handler.ProjectFiles)
	mux.HandleFunc("DELETE /api/files/{id}", handler.Delete)
	return mux
}

func uploadRequest(t *testing.T, fileName, projectID string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte("image bytes")); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	if projectID != "" {
		writer.WriteField("project_id", projectID)
	}
	writer.Close()

	req := httptest.NewRequest("POST", "/api/files/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return withTraceID(req)
}

func TestFilesHandler_Upload(t *testing.T) {
	storage := &mockFileStorage{
		uploadFunc: func(ctx context.Context, fileName, contentType string, content io.Reader, projectID, fileType, uploadedBy string) (*dto.StoredFile, error) {
			if fileName != "tower.jpg" {
				t.Errorf("Expected filename tower.jpg, got %s", fileName)
			}
			if projectID != "route-7" {
				t.Errorf("Expected project route-7, got %s", projectID)
			}
			if fileType != "IMAGE" {
				t.Errorf("Expected default file type IMAGE, got %s", fileType)
			}
			return &dto.StoredFile{ID: uuid.New(), FileName: fileName, FileType: fileType}, nil
		},
	}
	handler := NewFilesHandler(storage, 50*1024*1024, zaptest.NewLogger(t))
	mux := newFilesMux(handler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadRequest(t, "tower.jpg", "route-7"))

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var stored dto.StoredFile
	if err := json.NewDecoder(rec.Body).Decode(&stored); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stored.FileName != "tower.jpg" {
		t.Errorf("Expected file name in response, got %s", stored.FileName)
	}
}

func TestFilesHandler_Upload_NoFile(t *testing.T) {
	handler := NewFilesHandler(&mockFileStorage{}, 50*1024*1024, zaptest.NewLogger(t))
	mux := newFilesMux(handler)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("project_id", "route-7")
	writer.Close()

	req := httptest.NewRequest("POST", "/api/files/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, withTraceID(req))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestFilesHandler_View_InlineDisposition(t *testing.T) {
	fileID := uuid.New()
	storage := &mockFileStorage{
		metadataFunc: func(ctx context.Context, id string) (*dto.StoredFile, error) {
			if id != fileID.String() {
				t.Errorf("Expected file id %s, got %s", fileID, id)
			}
			return &dto.StoredFile{FileName: "tower.jpg", MimeType: "image/jpeg"}, nil
		},
		downloadFunc: func(ctx context.Context, id string) ([]byte, error) {
			return []byte("jpeg bytes"), nil
		},
	}
	handler := NewFilesHandler(storage, 50*1024*1024, zaptest.NewLogger(t))
	mux := newFilesMux(handler)

	req := withTraceID(httptest.NewRequest("GET", "/api/files/"+fileID.String()+"/view", nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `inline; filename="tower.jpg"` {
		t.Errorf("Unexpected disposition: %s", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Unexpected content type: %s", got)
	}
	if rec.Body.String() != "jpeg bytes" {
		t.Errorf("Unexpected body: %s", rec.Body.String())
	}
}

func TestFilesHandler_Download_AttachmentDisposition(t *testing.T) {
	fileID := uuid.New()
	handler := NewFilesHandler(&mockFileStorage{}, 50*1024*1024, zaptest.NewLogger(t))
	mux := newFilesMux(handler)

	req := withTraceID(httptest.NewRequest("GET", "/api/files/"+fileID.String()+"/download", nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="tower.jpg"` {
		t.Errorf("Unexpected disposition: %s", got)
	}
}

func TestFilesHandler_Download_NotFoundRelayed(t *testing.T) {
	handler := NewFilesHandler(&mockFileStorage{
		metadataFunc: func(ctx context.Context, id string) (*dto.StoredFile, error) {
			return nil, &clients.UpstreamError{StatusCode: http.StatusNotFound, Body: `{"error":"file not found"}`}
		},
	}, 50*1024*1024, zaptest.NewLogger(t))
	mux := newFilesMux(handler)

	req := withTraceID(httptest.NewRequest("GET", "/api/files/"+uuid.NewString()+"/download", nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestFilesHandler_ProjectFiles(t *testing.T) {
	taskID := uuid.New()
	handler := NewFilesHandler(&mockFileStorage{
		projectFilesFunc: func(ctx context.Context, projectID string) ([]dto.StoredFile, error) {
			if projectID != taskID.String() {
				t.Errorf("Expected project %s, got %s", taskID, projectID)
			}
			return []dto.StoredFile{{FileName: "a.jpg"}, {FileName: "b.jpg"}}, nil
		},
	}, 50*1024*1024, zaptest.NewLogger(t))
	mux := newFilesMux(handler)

	req := withTraceID(httptest.NewRequest("GET", "/api/files/project/"+taskID.String(), nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var list dto.FileListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if list.Total != 2 {
		t.Errorf("Expected 2 files, got %d", list.Total)
	}
}

func TestFilesHandler_Delete(t *testing.T) {
	deleted := ""
	handler := NewFilesHandler(&mockFileStorage{
		deleteFunc: func(ctx context.Context, fileID string) error {
			deleted = fileID
			return nil
		},
	}, 50*1024*1024, zaptest.NewLogger(t))
	mux := newFilesMux(handler)

	fileID := uuid.NewString()
	req := withTraceID(httptest.NewRequest("DELETE", "/api/files/"+fileID, nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rec.Code)
	}
	if deleted != fileID {
		t.Errorf("Expected delete of %s, got %s", fileID, deleted)
	}
}
