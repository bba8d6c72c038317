package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"gridinspect/bff/dto"
)

// wsPair dials a real WebSocket against an httptest server and hands the
// server-side connection to the hub, mirroring how the gateway handler
// registers watchers.
func wsPair(t *testing.T, hub *Hub, taskID uuid.UUID) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		hub.Register(taskID, conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func waitForWatchers(t *testing.T, hub *Hub, taskID uuid.UUID, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Watchers(taskID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d watchers, got %d", want, hub.Watchers(taskID))
}

func TestHub_SendToTask(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	taskID := uuid.New()

	client := wsPair(t, hub, taskID)
	waitForWatchers(t, hub, taskID, 1)

	hub.SendToTask(&dto.TaskProgress{
		TaskID:         taskID,
		Status:         "processing",
		ProcessedFiles: 120,
		TotalFiles:     500,
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame dto.TaskProgress
	if err := client.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if frame.TaskID != taskID {
		t.Errorf("Unexpected task id: %s", frame.TaskID)
	}
	if frame.ProcessedFiles != 120 {
		t.Errorf("Expected 120 processed, got %d", frame.ProcessedFiles)
	}
}

func TestHub_SendToTask_OnlyMatchingTask(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	watched := uuid.New()
	other := uuid.New()

	client := wsPair(t, hub, watched)
	waitForWatchers(t, hub, watched, 1)

	hub.SendToTask(&dto.TaskProgress{TaskID: other, Status: "processing"})
	hub.SendToTask(&dto.TaskProgress{TaskID: watched, Status: "completed"})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame dto.TaskProgress
	if err := client.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if frame.TaskID != watched {
		t.Errorf("Received frame for wrong task: %s", frame.TaskID)
	}
	if frame.Status != "completed" {
		t.Errorf("Unexpected status: %s", frame.Status)
	}
}

func TestHub_UnregisterRemovesWatcher(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	taskID := uuid.New()
	conn := &websocket.Conn{}

	hub.Register(taskID, conn)
	if hub.Watchers(taskID) != 1 {
		t.Fatalf("Expected 1 watcher, got %d", hub.Watchers(taskID))
	}

	hub.Unregister(taskID, conn)
	if hub.Watchers(taskID) != 0 {
		t.Errorf("Expected 0 watchers, got %d", hub.Watchers(taskID))
	}
}

func TestHub_DropsDeadConnections(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	taskID := uuid.New()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	registered := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		hub.Register(taskID, conn)
		registered <- conn
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	serverConn := <-registered
	client.Close()
	serverConn.Close()

	// Writing to a closed connection must evict the watcher.
	hub.SendToTask(&dto.TaskProgress{TaskID: taskID, Status: "processing"})
	if hub.Watchers(taskID) != 0 {
		t.Errorf("Expected dead connection evicted, got %d watchers", hub.Watchers(taskID))
	}
}
