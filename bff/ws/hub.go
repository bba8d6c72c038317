package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gridinspect/bff/dto"
)

const writeWait = 10 * time.Second

// Hub fans progress frames out to every WebSocket watching a task.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]map[*websocket.Conn]struct{}
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]map[*websocket.Conn]struct{}),
		logger:      logger,
	}
}

func (h *Hub) Register(taskID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[taskID] == nil {
		h.connections[taskID] = make(map[*websocket.Conn]struct{})
	}
	h.connections[taskID][conn] = struct{}{}
}

func (h *Hub) Unregister(taskID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.connections[taskID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.connections, taskID)
		}
	}
}

// SendToTask writes the frame to every connection watching the task.
// Connections that fail the write are dropped.
func (h *Hub) SendToTask(progress *dto.TaskProgress) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.connections[progress.TaskID]))
	for conn := range h.connections[progress.TaskID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	var failed []*websocket.Conn
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(progress); err != nil {
			h.logger.Warn("dropping websocket subscriber",
				zap.String("task_id", progress.TaskID.String()),
				zap.Error(err),
			)
			failed = append(failed, conn)
		}
	}

	for _, conn := range failed {
		h.Unregister(progress.TaskID, conn)
		conn.Close()
	}
}

// Watchers reports how many connections follow the task. Used by tests and
// the health endpoint.
func (h *Hub) Watchers(taskID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[taskID])
}
