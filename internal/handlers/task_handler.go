package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/storage/badger"
)

type TaskHandler struct {
	storage interfaces.TaskStorage
	logger  arbor.ILogger
}

func NewTaskHandler(storage interfaces.TaskStorage, logger arbor.ILogger) *TaskHandler {
	return &TaskHandler{storage: storage, logger: logger}
}

// ListTasksHandler returns task records, newest first. Query: status, limit (default 50).
func (h *TaskHandler) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := models.TaskStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.TaskStatusQueued, models.TaskStatusRunning, models.TaskStatusSucceeded, models.TaskStatusFailed:
	default:
		WriteError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	tasks, err := h.storage.ListTasks(r.Context(), status, QueryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list tasks")
		WriteError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// GetTaskHandler serves GET /api/tasks/{id}
func (h *TaskHandler) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "task id is required")
		return
	}

	task, err := h.storage.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, badger.ErrTaskNotFound) {
			WriteError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error().Err(err).Str("task_id", id).Msg("Failed to get task")
		WriteError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	WriteJSON(w, http.StatusOK, task)
}
