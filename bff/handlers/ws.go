package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gridinspect/bff/middleware"
	"gridinspect/bff/repository"
	"gridinspect/bff/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway already handles CORS; the socket carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler subscribes browsers to live progress of one analysis task.
type WSHandler struct {
	service Analysis
	hub     *ws.Hub
	logger  *zap.Logger
}

func NewWSHandler(service Analysis, hub *ws.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// Watch upgrades the connection, pushes the current status as the first
// frame, then relays progress updates until the client hangs up.
func (h *WSHandler) Watch(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, "Invalid task ID", err, traceID, http.StatusBadRequest)
		return
	}

	progress, err := h.service.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			respondError(w, h.logger, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		respondError(w, h.logger, "Failed to get task status", err, traceID, http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return
	}

	h.hub.Register(taskID, conn)
	h.logger.Info("websocket subscriber attached",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID.String()),
	)

	if err := conn.WriteJSON(progress); err != nil {
		h.hub.Unregister(taskID, conn)
		conn.Close()
		return
	}

	// Drain the read side so pings and close frames are processed. The
	// client never sends application data.
	go func() {
		defer func() {
			h.hub.Unregister(taskID, conn)
			conn.Close()
			h.logger.Info("websocket subscriber detached",
				zap.String("task_id", taskID.String()),
			)
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
