package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Service info and health
	mux.HandleFunc("/", s.app.APIHandler.RootHandler)
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)

	// Publishing
	mux.HandleFunc("/publish", s.app.PublishHandler.PublishContentHandler)
	mux.HandleFunc("/api/publish", s.app.PublishHandler.PublishContentHandler)

	// Queue and task history
	mux.HandleFunc("/api/queue", s.app.QueueHandler.GetQueueHandler)
	mux.HandleFunc("/api/tasks", s.app.TaskHandler.ListTasksHandler)
	mux.HandleFunc("/api/tasks/", s.app.TaskHandler.GetTaskHandler) // GET /{id}

	// Sessions and manual login
	mux.HandleFunc("/api/session/login-complete", s.app.SessionHandler.LoginCompleteHandler)
	mux.HandleFunc("/api/session/pending", s.app.SessionHandler.PendingLoginsHandler)
	mux.HandleFunc("/api/session/", s.app.SessionHandler.SessionInfoHandler) // GET /{account}

	// Housekeeping
	mux.HandleFunc("/api/scheduler/jobs", s.app.SchedulerHandler.ListJobsHandler)
	mux.HandleFunc("/api/scheduler/trigger", s.app.SchedulerHandler.TriggerJobHandler)

	// Live events and MCP
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)
	mux.Handle("/mcp", s.app.MCPHandler)

	// System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
