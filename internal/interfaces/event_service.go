package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventTaskQueued     EventType = "task_queued"
	EventTaskStarted    EventType = "task_started"
	EventTaskState      EventType = "task_state"
	EventTaskCompleted  EventType = "task_completed"
	EventTaskFailed     EventType = "task_failed"
	EventLoginRequired  EventType = "login_required"
	EventLoginCompleted EventType = "login_completed"
	EventWorkerState    EventType = "worker_state"
)

// AllEventTypes lists every event the service emits, in a stable order
var AllEventTypes = []EventType{
	EventTaskQueued,
	EventTaskStarted,
	EventTaskState,
	EventTaskCompleted,
	EventTaskFailed,
	EventLoginRequired,
	EventLoginCompleted,
	EventWorkerState,
}

// Event represents a system event
type Event struct {
	Type    EventType
	Payload map[string]interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the pub/sub event bus
type EventService interface {
	// Subscribe registers handler and returns a function that removes it
	Subscribe(eventType EventType, handler EventHandler) (func(), error)

	// SubscribeMany registers handler for several types; it sees them in publish order
	SubscribeMany(eventTypes []EventType, handler EventHandler) (func(), error)

	// Publish delivers an event to all subscribers without waiting
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close drops all subscribers
	Close() error
}
