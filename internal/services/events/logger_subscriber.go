package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().Str("event_type", string(event.Type))

		for _, key := range []string{"task_id", "account", "state", "error_kind"} {
			if v, ok := event.Payload[key].(string); ok && v != "" {
				logEvent = logEvent.Str(key, v)
			}
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	if _, err := eventService.SubscribeMany(interfaces.AllEventTypes, NewLoggerSubscriber(logger)); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	logger.Debug().
		Int("event_types", len(interfaces.AllEventTypes)).
		Msg("Logger subscribed to all events")

	return nil
}
