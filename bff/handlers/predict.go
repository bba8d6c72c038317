package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gridinspect/bff/middleware"
)

const defaultConfidence = 0.25

// Detector is the slice of the model-service client the gateway handlers use.
type Detector interface {
	Predict(ctx context.Context, fileName, contentType string, content []byte, conf float64) (json.RawMessage, error)
	ModelInfo(ctx context.Context) (json.RawMessage, error)
	Health(ctx context.Context) map[string]any
}

// PredictHandler proxies single-image detection to the model service.
type PredictHandler struct {
	detector    Detector
	maxFileSize int64
	logger      *zap.Logger
}

func NewPredictHandler(detector Detector, maxFileSize int64, logger *zap.Logger) *PredictHandler {
	return &PredictHandler{
		detector:    detector,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Predict forwards one image to the detector and relays the raw result.
func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, h.logger, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, h.logger, "Failed to get file", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		respondError(w, h.logger, "File too large", nil, traceID, http.StatusRequestEntityTooLarge)
		return
	}
	if !isImageFile(header.Filename) {
		respondError(w, h.logger, "Unsupported file type", errors.New(header.Filename), traceID, http.StatusUnsupportedMediaType)
		return
	}

	conf, err := parseConfidence(r.URL.Query().Get("conf"))
	if err != nil {
		respondError(w, h.logger, "Invalid confidence threshold", err, traceID, http.StatusBadRequest)
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		respondError(w, h.logger, "Failed to read file", err, traceID, http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	result, err := h.detector.Predict(r.Context(), header.Filename, contentType, content, conf)
	if relayUpstreamError(w, h.logger, err, traceID) {
		return
	}

	h.logger.Info("prediction relayed",
		zap.String("trace_id", traceID),
		zap.String("filename", header.Filename),
		zap.Float64("conf", conf),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

// ModelInfo proxies the detector's model metadata document.
func (h *PredictHandler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	result, err := h.detector.ModelInfo(r.Context())
	if relayUpstreamError(w, h.logger, err, traceID) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

// Health aggregates the gateway's own liveness with the detector's.
func (h *PredictHandler) Health(w http.ResponseWriter, r *http.Request) {
	detectorHealth := h.detector.Health(r.Context())

	status := "healthy"
	if detectorHealth["status"] != "healthy" {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"detector": detectorHealth,
	})
}

func parseConfidence(raw string) (float64, error) {
	if raw == "" {
		return defaultConfidence, nil
	}
	conf, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if conf < 0 || conf > 1 {
		return 0, errors.New("confidence must be between 0 and 1")
	}
	return conf, nil
}

func isImageFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed := map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
		".tif": true, ".tiff": true, ".webp": true,
	}
	return allowed[ext]
}
