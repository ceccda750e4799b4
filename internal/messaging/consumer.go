package messaging

import (
	"context"
	"sync"
)

// EventHandler handles lifecycle events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// EventHandlerFunc adapts a function to implement EventHandler.
type EventHandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent implements EventHandler.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventConsumer drains one bus subscription, routing each event to the
// handler registered for its type. Events with no registered handler are
// skipped; a consumer only cares about the types it asked for.
type EventConsumer struct {
	ch     <-chan *Event
	cancel func()

	mu       sync.RWMutex
	handlers map[EventType]EventHandler
}

// NewEventConsumer subscribes to bus with the given channel buffer
// (0 uses the bus default).
func NewEventConsumer(bus *Bus, buffer int) *EventConsumer {
	ch, cancel := bus.Subscribe(buffer)
	return &EventConsumer{
		ch:       ch,
		cancel:   cancel,
		handlers: make(map[EventType]EventHandler),
	}
}

// RegisterHandler registers handler for eventType, replacing any previous
// registration.
func (ec *EventConsumer) RegisterHandler(eventType EventType, handler EventHandler) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.handlers[eventType] = handler
}

// Consume dispatches events until ctx is cancelled or Close ends the
// subscription. A handler error stops the loop and is returned, matching
// how the shard's own background loops surface their first failure.
func (ec *EventConsumer) Consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ec.ch:
			if !ok {
				return nil
			}
			ec.mu.RLock()
			handler, exists := ec.handlers[e.Type]
			ec.mu.RUnlock()
			if !exists {
				continue
			}
			if err := handler.HandleEvent(ctx, e); err != nil {
				return err
			}
		}
	}
}

// Close ends the subscription; a running Consume loop drains what is
// buffered and returns nil.
func (ec *EventConsumer) Close() error {
	ec.cancel()
	return nil
}

// LifecycleEventTypes lists every EventType publisher.go defines — the
// full vocabulary a lifecycle audit consumer subscribes to.
var LifecycleEventTypes = []EventType{
	EventFlushStarted, EventFlushCompleted,
	EventCompactionStarted, EventCompactionCompleted,
	EventSegmentPublished, EventSegmentReclaimed,
	EventSchemaEvolved, EventWALRotated, EventWALArchived,
	EventQueryExecuted, EventErrorOccurred,
}

// NewLifecycleEventConsumer builds an EventConsumer over bus with onEvent
// registered for every type in LifecycleEventTypes, the shape the server's
// audit logger wants. The caller runs Consume and calls Close on shutdown.
func NewLifecycleEventConsumer(bus *Bus, onEvent func(*Event)) *EventConsumer {
	ec := NewEventConsumer(bus, 0)
	handler := EventHandlerFunc(func(ctx context.Context, event *Event) error {
		onEvent(event)
		return nil
	})
	for _, et := range LifecycleEventTypes {
		ec.RegisterHandler(et, handler)
	}
	return ec
}
