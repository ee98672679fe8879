package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
)

// subscriberBuffer is how many undelivered events a slow subscriber may fall behind by
// before Publish starts dropping events for it.
const subscriberBuffer = 128

type delivery struct {
	ctx   context.Context
	event interfaces.Event
}

type subscription struct {
	eventTypes []interfaces.EventType
	handler    interfaces.EventHandler
	queue      chan delivery
}

// Service is an in-process pub/sub bus. Each subscription has its own dispatch
// goroutine, so a subscriber sees asynchronously published events in publish order
// and a slow subscriber never delays the publisher or other subscribers.
type Service struct {
	mu          sync.RWMutex
	subscribers map[interfaces.EventType][]*subscription
	closed      bool
	logger      arbor.ILogger
}

func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.EventType][]*subscription),
		logger:      logger,
	}
}

// Subscribe registers handler for eventType. The returned func removes it and is idempotent.
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) (func(), error) {
	return s.SubscribeMany([]interfaces.EventType{eventType}, handler)
}

// SubscribeMany registers one handler for several event types behind a single queue,
// so the handler sees events of all those types in publish order.
func (s *Service) SubscribeMany(eventTypes []interfaces.EventType, handler interfaces.EventHandler) (func(), error) {
	if handler == nil {
		return nil, errors.New("event handler is nil")
	}
	if len(eventTypes) == 0 {
		return nil, errors.New("no event types to subscribe to")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("event service is closed")
	}

	sub := &subscription{
		eventTypes: append([]interfaces.EventType(nil), eventTypes...),
		handler:    handler,
		queue:      make(chan delivery, subscriberBuffer),
	}
	for _, eventType := range sub.eventTypes {
		s.subscribers[eventType] = append(s.subscribers[eventType], sub)
	}
	common.SafeGo(s.logger, "events:"+string(eventTypes[0]), func() { s.dispatch(sub) })

	s.logger.Debug().
		Int("event_types", len(eventTypes)).
		Str("first_type", string(eventTypes[0])).
		Msg("Event handler subscribed")

	return func() { s.unsubscribe(sub) }, nil
}

func (s *Service) unsubscribe(target *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, eventType := range target.eventTypes {
		subs := s.subscribers[eventType]
		for i, sub := range subs {
			if sub == target {
				s.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				found = true
				break
			}
		}
	}
	if found {
		close(target.queue)
	}
}

// dispatch runs until the subscription's queue is closed
func (s *Service) dispatch(sub *subscription) {
	for d := range sub.queue {
		s.invoke(sub.handler, d.ctx, d.event)
	}
}

func (s *Service) invoke(handler interfaces.EventHandler, ctx context.Context, event interfaces.Event) error {
	err := common.CallSafely(func() error { return handler(ctx, event) })
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("event_type", string(event.Type)).
			Msg("Event handler failed")
	}
	return err
}

// Publish queues event for every subscriber and returns immediately.
// Events for a subscriber whose buffer is full are dropped and logged.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	d := delivery{ctx: ctx, event: event}
	for _, sub := range s.subscribers[event.Type] {
		select {
		case sub.queue <- d:
		default:
			s.logger.Warn().
				Str("event_type", string(event.Type)).
				Int("buffer", subscriberBuffer).
				Msg("Event subscriber is lagging, event dropped")
		}
	}
	return nil
}

// PublishSync invokes every subscriber on the calling goroutine and reports how many failed.
// It does not wait for asynchronously published events still queued for those subscribers.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	subs := append([]*subscription(nil), s.subscribers[event.Type]...)
	s.mu.RUnlock()

	failed := 0
	for _, sub := range subs {
		if err := s.invoke(sub.handler, ctx, event); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("event %s: %d of %d handlers failed", event.Type, failed, len(subs))
	}
	return nil
}

// Close removes every subscriber and stops their dispatch goroutines.
// Later Publish calls are ignored and Subscribe fails.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	closed := make(map[*subscription]bool)
	for _, subs := range s.subscribers {
		for _, sub := range subs {
			if !closed[sub] {
				close(sub.queue)
				closed[sub] = true
			}
		}
	}
	s.subscribers = make(map[interfaces.EventType][]*subscription)

	s.logger.Debug().Msg("Event service closed")
	return nil
}
