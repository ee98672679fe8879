package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
)

// MCPHandler exposes the publish queue as MCP tools over streamable HTTP
type MCPHandler struct {
	intake    *PublishIntake
	queue     interfaces.PublishQueue
	status    interfaces.StatusService
	mcpServer *server.MCPServer
	http      *server.StreamableHTTPServer
	logger    arbor.ILogger
}

// NewMCPHandler creates a new MCP handler
func NewMCPHandler(intake *PublishIntake, queue interfaces.PublishQueue, status interfaces.StatusService, logger arbor.ILogger) *MCPHandler {
	h := &MCPHandler{
		intake: intake,
		queue:  queue,
		status: status,
		logger: logger,
	}

	h.mcpServer = server.NewMCPServer(
		"xhspub",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)
	h.mcpServer.AddTool(createPublishContentTool(), h.handlePublishContent)
	h.mcpServer.AddTool(createQueueStatusTool(), h.handleQueueStatus)

	h.http = server.NewStreamableHTTPServer(h.mcpServer)
	return h
}

// ServeHTTP serves the MCP streamable HTTP transport
func (h *MCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.http.ServeHTTP(w, r)
}

// Server returns the underlying MCP server
func (h *MCPHandler) Server() *server.MCPServer {
	return h.mcpServer
}

func createPublishContentTool() mcp.Tool {
	return mcp.NewTool("publish_content",
		mcp.WithDescription("Queue a video post for scheduled publishing on the creator portal. Returns immediately with the task id and queue position."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Post title"),
		),
		mcp.WithString("script",
			mcp.Description("Post body text"),
		),
		mcp.WithString("content_extra",
			mcp.Description("Supplementary text appended after the body"),
		),
		mcp.WithArray("tags",
			mcp.WithStringItems(),
			mcp.Description("Topic tags, with or without a leading #"),
		),
		mcp.WithString("name",
			mcp.Description("Account identity (default: configured default account)"),
		),
		mcp.WithString("video_url",
			mcp.Description("Remote video to download; the default local video is used when empty"),
		),
		mcp.WithString("publish_time",
			mcp.Description("Scheduled time, format YYYY-MM-DD HH:MM (default: five minutes after the worker starts the task)"),
		),
	)
}

func createQueueStatusTool() mcp.Tool {
	return mcp.NewTool("queue_status",
		mcp.WithDescription("Show the publish queue depth, active task and last-known worker state"),
	)
}

func (h *MCPHandler) handlePublishContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil || title == "" {
		return toolError("Error: title parameter is required"), nil
	}

	payload := &PublishPayload{
		Name: request.GetString("name", ""),
		Tags: TagList(common.NormalizeTags(request.GetStringSlice("tags", nil))),
		Content: PublishContent{
			Title:  title,
			Script: request.GetString("script", ""),
		},
		ContentExtra: request.GetString("content_extra", ""),
		VideoURL:     request.GetString("video_url", ""),
		PublishTime:  request.GetString("publish_time", ""),
	}

	response, err := h.intake.Submit(ctx, payload)
	if err != nil {
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) && !errors.Is(err, models.ErrQueueStopped) {
			h.logger.Error().Err(err).Msg("MCP publish_content failed")
		}
		return toolError(fmt.Sprintf("Error: %v", err)), nil
	}

	return toolJSON(response)
}

func (h *MCPHandler) handleQueueStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snapshot := h.queue.Snapshot()
	result := map[string]interface{}{
		"depth":   snapshot.Depth,
		"active":  snapshot.Active,
		"pending": snapshot.Pending,
		"running": snapshot.Running,
	}
	if h.status != nil {
		result["worker"] = h.status.GetStatus()
	}
	return toolJSON(result)
}

func toolError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}

func toolJSON(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(string(data)),
		},
	}, nil
}
