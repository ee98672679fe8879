package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
)

// Service holds the last-known worker state for health and status callers.
// Details such as task_id or last_result are flattened next to state and since;
// they are replaced wholesale on every transition.
type Service struct {
	mu      sync.RWMutex
	state   models.WorkerState
	since   time.Time
	details map[string]interface{}

	events interfaces.EventService
	logger arbor.ILogger
}

// NewService starts in the stopped state; events may be nil
func NewService(events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		state:  models.WorkerStopped,
		since:  time.Now(),
		events: events,
		logger: logger,
	}
}

func (s *Service) GetState() models.WorkerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState records a transition and emits worker_state with the same view GetStatus returns
func (s *Service) SetState(state models.WorkerState, details map[string]interface{}) {
	s.mu.Lock()
	previous := s.state
	s.state = state
	s.since = time.Now()
	s.details = make(map[string]interface{}, len(details))
	for k, v := range details {
		s.details[k] = v
	}
	view := s.viewLocked()
	s.mu.Unlock()

	if previous != state {
		s.logger.Debug().
			Str("from", string(previous)).
			Str("to", string(state)).
			Msg("Worker state changed")
	}

	if s.events != nil {
		_ = s.events.Publish(context.Background(), interfaces.Event{
			Type:    interfaces.EventWorkerState,
			Payload: view,
		})
	}
}

// GetStatus returns {state, since, ...details} as a fresh map
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *Service) viewLocked() map[string]interface{} {
	view := make(map[string]interface{}, len(s.details)+2)
	for k, v := range s.details {
		view[k] = v
	}
	view["state"] = string(s.state)
	view["since"] = s.since
	return view
}
