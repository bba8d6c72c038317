package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"gridinspect/bff/clients"
)

type mockDetector struct {
	predictFunc   func(ctx context.Context, fileName, contentType string, content []byte, conf float64) (json.RawMessage, error)
	modelInfoFunc func(ctx context.Context) (json.RawMessage, error)
	healthFunc    func(ctx context.Context) map[string]any
}

func (m *mockDetector) Predict(ctx context.Context, fileName, contentType string, content []byte, conf float64) (json.RawMessage, error) {
	if m.predictFunc != nil {
		return m.predictFunc(ctx, fileName, contentType, content, conf)
	}
	return json.RawMessage(`{"detections":[]}`), nil
}

func (m *mockDetector) ModelInfo(ctx context.Context) (json.RawMessage, error) {
	if m.modelInfoFunc != nil {
		return m.modelInfoFunc(ctx)
	}
	return json.RawMessage(`{"model":"yolov8n"}`), nil
}

func (m *mockDetector) Health(ctx context.Context) map[string]any {
	if m.healthFunc != nil {
		return m.healthFunc(ctx)
	}
	return map[string]any{"status": "healthy"}
}

func predictRequest(t *testing.T, target, fileName string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest("POST", target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return withTraceID(req)
}

func TestPredictHandler_Predict_RelaysResult(t *testing.T) {
	handler := NewPredictHandler(&mockDetector{
		predictFunc: func(ctx context.Context, fileName, contentType string, content []byte, conf float64) (json.RawMessage, error) {
			if fileName != "tower.jpg" {
				t.Errorf("Expected filename tower.jpg, got %s", fileName)
			}
			return json.RawMessage(`{"detections":[{"class_name":"insulator"}]}`), nil
		},
	}, 50*1024*1024, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	handler.Predict(rec, predictRequest(t, "/api/predict", "tower.jpg"))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("insulator")) {
		t.Errorf("Expected detector body relayed, got %s", rec.Body.String())
	}
}

func TestPredictHandler_Predict_Timeout(t *testing.T) {
	handler := NewPredictHandler(&mockDetector{
		predictFunc: func(ctx context.Context, fileName, contentType string, content []byte, conf float64) (json.RawMessage, error) {
			return nil, fmt.Errorf("%w: context deadline exceeded", clients.ErrUpstreamTimeout)
		},
	}, 50*1024*1024, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	handler.Predict(rec, predictRequest(t, "/api/predict", "tower.jpg"))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected status 504, got %d", rec.Code)
	}
}

func TestPredictHandler_Predict_Unavailable(t *testing.T) {
	handler := NewPredictHandler(&mockDetector{
		predictFunc: func(ctx context.Context, fileName, contentType string, content []byte, conf float64) (json.RawMessage, error) {
			return nil, fmt.Errorf("%w: connection refused", clients.ErrUpstreamUnavailable)
		},
	}, 50*1024*1024, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	handler.Predict(rec, predictRequest(t, "/api/predict", "tower.jpg"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestPredictHandler_Predict_RelaysUpstreamStatus(t *testing.T) {
	handler := NewPredictHandler(&mockDetector{
		predictFunc: func(ctx context.Context, fileName, contentType string, content []byte, conf float64) (json.RawMessage, error) {
			return nil, &clients.UpstreamError{StatusCode: http.StatusUnprocessableEntity, Body: `{"detail":"bad image"}`}
		},
	}, 50*1024*1024, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	handler.Predict(rec, predictRequest(t, "/api/predict", "tower.jpg"))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("bad image")) {
		t.Errorf("Expected upstream body relayed, got %s", rec.Body.String())
	}
}

func TestPredictHandler_Predict_UnsupportedFileType(t *testing.T) {
	handler := NewPredictHandler(&mockDetector{}, 50*1024*1024, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	handler.Predict(rec, predictRequest(t, "/api/predict", "report.pdf"))

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", rec.Code)
	}
}

func TestPredictHandler_Predict_NoFile(t *testing.T) {
	handler := NewPredictHandler(&mockDetector{}, 50*1024*1024, zaptest.NewLogger(t))

	req := withTraceID(httptest.NewRequest("POST", "/api/predict", bytes.NewReader(nil)))
	req.Header.Set("Content-Type", "multipart/form-data")
	rec := httptest.NewRecorder()

	handler.Predict(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestPredictHandler_Health_Degraded(t *testing.T) {
	handler := NewPredictHandler(&mockDetector{
		healthFunc: func(ctx context.Context) map[string]any {
			return map[string]any{"status": "unhealthy", "error": "connection refused"}
		},
	}, 50*1024*1024, zaptest.NewLogger(t))

	req := withTraceID(httptest.NewRequest("GET", "/health", nil))
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var doc map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if doc["status"] != "degraded" {
		t.Errorf("Expected degraded status, got %v", doc["status"])
	}
}

func TestPredictHandler_ModelInfo(t *testing.T) {
	handler := NewPredictHandler(&mockDetector{}, 50*1024*1024, zaptest.NewLogger(t))

	req := withTraceID(httptest.NewRequest("GET", "/api/model/info", nil))
	rec := httptest.NewRecorder()

	handler.ModelInfo(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("yolov8n")) {
		t.Errorf("Expected model info relayed, got %s", rec.Body.String())
	}
}
