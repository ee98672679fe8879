package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
)

// fakeQueue records enqueued requests
type fakeQueue struct {
	mu       sync.Mutex
	requests []*models.PublishRequest
	err      error
}

func (q *fakeQueue) Enqueue(ctx context.Context, req *models.PublishRequest) (*interfaces.EnqueueResult, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = append(q.requests, req)
	depth := len(q.requests)
	return &interfaces.EnqueueResult{TaskID: req.ID, Position: depth, QueueDepth: depth}, nil
}

func (q *fakeQueue) Snapshot() models.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := make([]*models.TaskRecord, 0, len(q.requests))
	for i, req := range q.requests {
		pending = append(pending, &models.TaskRecord{ID: req.ID, Title: req.Content.Title, Status: models.TaskStatusQueued, Position: i + 1})
	}
	return models.QueueSnapshot{Depth: len(pending), Pending: pending, Running: true}
}

func (q *fakeQueue) Start(ctx context.Context) error { return nil }
func (q *fakeQueue) Stop() error                     { return nil }

func (q *fakeQueue) last() *models.PublishRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.requests) == 0 {
		return nil
	}
	return q.requests[len(q.requests)-1]
}

func newPublishHandler(queue interfaces.PublishQueue) *PublishHandler {
	logger := arbor.NewNoOpLogger()
	return NewPublishHandler(NewPublishIntake(queue, time.UTC, "xiaohongshu", logger), logger)
}

func postPublish(t *testing.T, h *PublishHandler, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/publish", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.PublishContentHandler(rec, req)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	return rec, response
}

func TestPublishContentHandler_Accepted(t *testing.T) {
	queue := &fakeQueue{}
	h := newPublishHandler(queue)

	rec, response := postPublish(t, h, `{
		"name": "brand",
		"tags": ["#a", "b", ""],
		"content": {"title": " 测试 ", "script": "body"},
		"content_extra": "extra",
		"publish_time": "2030-01-02 15:04"
	}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, response["success"])
	assert.Equal(t, float64(1), response["queue_depth"])
	assert.Equal(t, float64(1), response["position"])
	assert.Equal(t, "2030-01-02 15:04", response["scheduled_time"])
	assert.NotEmpty(t, response["task_id"])

	req := queue.last()
	require.NotNil(t, req)
	assert.Equal(t, response["task_id"], req.ID)
	assert.Equal(t, "brand", req.Account)
	assert.Equal(t, "测试", req.Content.Title)
	assert.Equal(t, "body", req.Content.Script)
	assert.Equal(t, "extra", req.Extra)
	assert.Equal(t, []string{"a", "b"}, req.Tags)
	assert.Equal(t, time.Date(2030, 1, 2, 15, 4, 0, 0, time.UTC), req.PublishAt)
}

func TestPublishContentHandler_TagForms(t *testing.T) {
	tests := []struct {
		name string
		tags string
		want []string
	}{
		{name: "hash string", tags: `"#a #b"`, want: []string{"a", "b"}},
		{name: "hash string with prose", tags: `"today #cat and #dog"`, want: []string{"cat", "dog"}},
		{name: "plain words", tags: `"a b"`, want: []string{"a", "b"}},
		{name: "array", tags: `["#x", "y"]`, want: []string{"x", "y"}},
		{name: "null", tags: `null`, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			rec, _ := postPublish(t, newPublishHandler(queue), `{"tags": `+tt.tags+`, "content": {"title": "t"}}`)
			require.Equal(t, http.StatusAccepted, rec.Code)
			assert.Equal(t, tt.want, queue.last().Tags)
		})
	}
}

func TestPublishContentHandler_DefaultsWhenOptionalFieldsMissing(t *testing.T) {
	queue := &fakeQueue{}
	rec, response := postPublish(t, newPublishHandler(queue), `{"tags": "#a #b", "content": {"title": "测试"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "", response["scheduled_time"])

	req := queue.last()
	assert.Equal(t, "xiaohongshu", req.Account)
	assert.True(t, req.PublishAt.IsZero(), "the worker picks the default time")
	assert.Empty(t, req.VideoURL)
}

func TestPublishContentHandler_IgnoresLocalPathField(t *testing.T) {
	queue := &fakeQueue{}
	rec, _ := postPublish(t, newPublishHandler(queue), `{"content": {"title": "t"}, "video_path": "/etc/passwd"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	encoded, err := json.Marshal(queue.last())
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "/etc/passwd")
	assert.Empty(t, queue.last().VideoURL)
}

func TestPublishContentHandler_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		contains string
	}{
		{name: "bad json", body: `{`, contains: "invalid JSON"},
		{name: "missing title", body: `{"content": {"script": "x"}}`, contains: "content.title is required"},
		{name: "bad publish time", body: `{"content": {"title": "t"}, "publish_time": "2030/01/02 15:04"}`, contains: "publish_time"},
		{name: "bad video url", body: `{"content": {"title": "t"}, "video_url": "not a url"}`, contains: "video_url"},
		{name: "tags wrong type", body: `{"content": {"title": "t"}, "tags": 5}`, contains: "tags"},
		{name: "account with separator", body: `{"name": "../x", "content": {"title": "t"}}`, contains: "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			rec, response := postPublish(t, newPublishHandler(queue), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, response["success"])
			assert.Contains(t, response["error"], tt.contains)
			assert.Nil(t, queue.last(), "rejected requests must not be queued")
		})
	}
}

func TestPublishContentHandler_QueueStopped(t *testing.T) {
	rec, _ := postPublish(t, newPublishHandler(&fakeQueue{err: models.ErrQueueStopped}), `{"content": {"title": "t"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPublishContentHandler_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newPublishHandler(&fakeQueue{}).PublishContentHandler(rec, httptest.NewRequest(http.MethodGet, "/publish", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
