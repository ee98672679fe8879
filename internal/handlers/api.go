package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
)

type APIHandler struct {
	status interfaces.StatusService
	logger arbor.ILogger
}

func NewAPIHandler(status interfaces.StatusService, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		status: status,
		logger: logger,
	}
}

// RootHandler describes the service; any other unmatched path is a JSON 404
func (h *APIHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.NotFoundHandler(w, r)
		return
	}
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "xhspub publish service",
		"version": common.GetVersion(),
		"endpoints": []string{
			"POST /publish",
			"GET /api/queue",
			"GET /api/tasks",
			"POST /api/session/login-complete",
			"GET /health",
			"GET /ws",
			"/mcp",
		},
	})
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.Version,
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns health check status with the last-known worker state
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	response := map[string]interface{}{
		"status": "ok",
	}
	if h.status != nil {
		response["worker"] = string(h.status.GetState())
	}
	WriteJSON(w, http.StatusOK, response)
}

func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"success": false,
		"error":   "no such endpoint",
		"path":    r.URL.Path,
	})
}
