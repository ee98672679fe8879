package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/interfaces"
)

// QueueHandler exposes the queue and worker state, the only view callers get of failed attempts
type QueueHandler struct {
	queue  interfaces.PublishQueue
	status interfaces.StatusService
	logger arbor.ILogger
}

func NewQueueHandler(queue interfaces.PublishQueue, status interfaces.StatusService, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{queue: queue, status: status, logger: logger}
}

// GetQueueHandler returns the active task, pending tasks and worker status
func (h *QueueHandler) GetQueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	snapshot := h.queue.Snapshot()
	response := map[string]interface{}{
		"depth":   snapshot.Depth,
		"active":  snapshot.Active,
		"pending": snapshot.Pending,
		"running": snapshot.Running,
	}
	if h.status != nil {
		response["worker"] = h.status.GetStatus()
	}
	WriteJSON(w, http.StatusOK, response)
}
