package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local tooling
	},
}

// WSMessage is the envelope of every websocket frame
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler streams task and worker events to connected clients
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	status           interfaces.StatusService
	allowedEvents    map[string]bool // empty = allow all
	serverInstanceID string          // clients use it to detect a server restart
	unsubscribers    []func()
}

func NewWebSocketHandler(eventService interfaces.EventService, status interfaces.StatusService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		status:           status,
		allowedEvents:    make(map[string]bool),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
	}

	if eventService != nil {
		h.subscribeToEvents()
	}

	logger.Debug().
		Str("server_instance_id", h.serverInstanceID).
		Int("allowed_events", len(h.allowedEvents)).
		Msg("WebSocket handler initialized")

	return h
}

func (h *WebSocketHandler) subscribeToEvents() {
	var eventTypes []interfaces.EventType
	for _, eventType := range interfaces.AllEventTypes {
		if len(h.allowedEvents) == 0 || h.allowedEvents[string(eventType)] {
			eventTypes = append(eventTypes, eventType)
		}
	}
	if len(eventTypes) == 0 {
		return
	}

	// one subscription keeps task_state and task_completed in the order they happened
	unsubscribe, err := h.eventService.SubscribeMany(eventTypes, func(ctx context.Context, event interfaces.Event) error {
		h.broadcast(WSMessage{Type: string(event.Type), Payload: event.Payload})
		return nil
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to subscribe websocket to events")
		return
	}
	h.unsubscribers = append(h.unsubscribers, unsubscribe)
}

// Close unsubscribes from events and disconnects every client
func (h *WebSocketHandler) Close() {
	for _, unsubscribe := range h.unsubscribers {
		unsubscribe()
	}
	h.unsubscribers = nil

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	hello := map[string]interface{}{
		"server_instance_id": h.serverInstanceID,
		"version":            common.GetVersion(),
	}
	if h.status != nil {
		hello["worker"] = h.status.GetStatus()
	}
	h.send(conn, writeMu, WSMessage{Type: "status", Payload: hello})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mu := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, mu)
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		h.send(conn, mutexes[i], msg)
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mu *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug().Err(err).Str("type", msg.Type).Msg("Failed to send websocket message")
	}
}
