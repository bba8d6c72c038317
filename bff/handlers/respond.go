package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"gridinspect/bff/clients"
	"gridinspect/bff/dto"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, logger *zap.Logger, message string, err error, traceID string, status int) {
	logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	respondJSON(w, status, dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

// relayUpstreamError translates client errors into gateway responses: 504
// for timeouts, 503 for refused connections, and a pass-through of the
// downstream status for everything else. Returns false if err was nil.
func relayUpstreamError(w http.ResponseWriter, logger *zap.Logger, err error, traceID string) bool {
	if err == nil {
		return false
	}

	var upstreamErr *clients.UpstreamError
	switch {
	case errors.Is(err, clients.ErrUpstreamTimeout):
		respondError(w, logger, "Upstream service timed out", err, traceID, http.StatusGatewayTimeout)
	case errors.Is(err, clients.ErrUpstreamUnavailable):
		respondError(w, logger, "Upstream service unavailable", err, traceID, http.StatusServiceUnavailable)
	case errors.As(err, &upstreamErr):
		logger.Warn("relaying upstream error",
			zap.String("trace_id", traceID),
			zap.Int("status", upstreamErr.StatusCode),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(upstreamErr.StatusCode)
		w.Write([]byte(upstreamErr.Body))
	default:
		respondError(w, logger, "Upstream request failed", err, traceID, http.StatusBadGateway)
	}

	return true
}
