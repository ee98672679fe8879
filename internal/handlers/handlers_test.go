package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/services/auth"
	"github.com/ternarybob/xhspub/internal/services/events"
	"github.com/ternarybob/xhspub/internal/services/status"
	"github.com/ternarybob/xhspub/internal/storage/badger"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAPIHandler(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	statusService := status.NewService(nil, logger)
	statusService.SetState(models.WorkerIdle, nil)
	h := NewAPIHandler(statusService, logger)

	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.Equal(t, "idle", decode(t, rec)["worker"])

	rec = httptest.NewRecorder()
	h.VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, common.Version, decode(t, rec)["version"])

	rec = httptest.NewRecorder()
	h.RootHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["endpoints"], "POST /publish")

	rec = httptest.NewRecorder()
	h.RootHandler(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueHandler(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	queue := &fakeQueue{}
	_, err := queue.Enqueue(context.Background(), &models.PublishRequest{ID: "task_1", Content: models.Content{Title: "测试"}})
	require.NoError(t, err)

	statusService := status.NewService(nil, logger)
	statusService.SetState(models.WorkerPublishing, map[string]interface{}{"task_id": "task_0"})

	rec := httptest.NewRecorder()
	NewQueueHandler(queue, statusService, logger).GetQueueHandler(rec, httptest.NewRequest(http.MethodGet, "/api/queue", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["depth"])
	pending := body["pending"].([]interface{})
	require.Len(t, pending, 1)
	assert.Equal(t, "task_1", pending[0].(map[string]interface{})["id"])

	worker := body["worker"].(map[string]interface{})
	assert.Equal(t, "publishing", worker["state"])
}

func TestTaskHandler(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	defer manager.Close()

	storage := manager.TaskStorage()
	require.NoError(t, storage.SaveTask(context.Background(), &models.TaskRecord{
		ID: "task_ok", Status: models.TaskStatusSucceeded, EnqueuedAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, storage.SaveTask(context.Background(), &models.TaskRecord{
		ID: "task_bad", Status: models.TaskStatusFailed, ErrorKind: "submit_timeout", EnqueuedAt: time.Now(),
	}))

	h := NewTaskHandler(storage, logger)

	rec := httptest.NewRecorder()
	h.ListTasksHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["count"])

	rec = httptest.NewRecorder()
	h.ListTasksHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks?status=failed", nil))
	tasks := decode(t, rec)["tasks"].([]interface{})
	require.Len(t, tasks, 1)
	assert.Equal(t, "submit_timeout", tasks[0].(map[string]interface{})["error_kind"])

	rec = httptest.NewRecorder()
	h.ListTasksHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.GetTaskHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/task_ok", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "succeeded", decode(t, rec)["status"])

	rec = httptest.NewRecorder()
	h.GetTaskHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	store, err := auth.NewFileSessionStore(t.TempDir(), logger)
	require.NoError(t, err)
	require.NoError(t, store.Save("brand", []*models.Cookie{{Name: "a1", Value: "v", Domain: ".xiaohongshu.com"}}))

	coordinator := auth.NewLoginCoordinator(nil, logger)
	h := NewSessionHandler(store, coordinator, logger)

	rec := httptest.NewRecorder()
	h.SessionInfoHandler(rec, httptest.NewRequest(http.MethodGet, "/api/session/brand", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, float64(1), body["cookie_count"])
	assert.NotContains(t, rec.Body.String(), `"v"`, "cookie values must not leak")

	rec = httptest.NewRecorder()
	h.LoginCompleteHandler(rec, httptest.NewRequest(http.MethodPost, "/api/session/login-complete", nil))
	assert.Equal(t, http.StatusConflict, rec.Code, "nothing pending yet")

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- coordinator.WaitForLogin(context.Background(), "brand")
	}()
	require.Eventually(t, func() bool { return len(coordinator.Pending()) == 1 }, 2*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	h.PendingLoginsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/session/pending", nil))
	assert.Equal(t, []interface{}{"brand"}, decode(t, rec)["pending"])

	rec = httptest.NewRecorder()
	h.LoginCompleteHandler(rec, httptest.NewRequest(http.MethodPost, "/api/session/login-complete", strings.NewReader(`{"account":"brand"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"brand"}, decode(t, rec)["released"])

	select {
	case err := <-waitErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("login wait was not released")
	}
}

func TestWebSocketHandler_ForwardsEvents(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	eventService := events.NewService(logger)
	h := NewWebSocketHandler(eventService, nil, logger, &common.WebSocketConfig{
		AllowedEvents: []string{string(interfaces.EventTaskCompleted)},
	})
	defer h.Close()

	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello WSMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "status", hello.Type)
	assert.NotEmpty(t, hello.Payload.(map[string]interface{})["server_instance_id"])

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Filtered out by the allow list
	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventTaskStarted,
		Payload: map[string]interface{}{"task_id": "task_1"},
	}))
	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventTaskCompleted,
		Payload: map[string]interface{}{"task_id": "task_1", "state": "Done"},
	}))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "task_completed", msg.Type)
	assert.Equal(t, "Done", msg.Payload.(map[string]interface{})["state"])
}

func TestMCPHandler_Tools(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	queue := &fakeQueue{}
	h := NewMCPHandler(NewPublishIntake(queue, time.UTC, "xiaohongshu", logger), queue, nil, logger)

	request := mcp.CallToolRequest{}
	request.Params.Name = "publish_content"
	request.Params.Arguments = map[string]interface{}{
		"title": "测试",
		"tags":  []interface{}{"#a", "b"},
	}

	result, err := h.handlePublishContent(context.Background(), request)
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := result.Content[0].(mcp.TextContent).Text
	assert.Contains(t, text, `"queue_depth": 1`)
	assert.Equal(t, []string{"a", "b"}, queue.last().Tags)

	missing := mcp.CallToolRequest{}
	missing.Params.Arguments = map[string]interface{}{}
	result, err = h.handlePublishContent(context.Background(), missing)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	badTime := mcp.CallToolRequest{}
	badTime.Params.Arguments = map[string]interface{}{"title": "t", "publish_time": "tomorrow"}
	result, err = h.handlePublishContent(context.Background(), badTime)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.handleQueueStatus(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.Contains(t, result.Content[0].(mcp.TextContent).Text, `"depth": 1`)
}
