// Package messaging is the in-process lifecycle-event bus (§9 "coroutine-
// style control flow"): shard flush and compaction, and schema definition
// in the dispatcher, report their outcome as an Event, and consumers (the
// server's audit logger, tests) drain them without the producers knowing
// who is listening. WAL rotation and archival and segment reclaim publish
// nothing, although event types are declared for them below.
package messaging

import (
	"context"
	"sync"
	"time"

	"sneldb/internal/common"
)

// EventType names one shard lifecycle event. None of these are part of
// the specified core protocol; they are the ambient operability surface
// every background task reports through.
type EventType string

const (
	EventFlushStarted        EventType = "flush.started"
	EventFlushCompleted      EventType = "flush.completed"
	EventCompactionStarted   EventType = "compaction.started"
	EventCompactionCompleted EventType = "compaction.completed"
	EventSegmentPublished    EventType = "segment.published"
	EventSegmentReclaimed    EventType = "segment.reclaimed"
	EventSchemaEvolved       EventType = "schema.evolved"
	EventWALRotated          EventType = "wal.rotated"
	EventWALArchived         EventType = "wal.archived"
	EventQueryExecuted       EventType = "query.executed"
	EventErrorOccurred       EventType = "error.occurred"
)

// Event is one lifecycle announcement.
type Event struct {
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// defaultHistoryLimit bounds how many events the bus retains for
// History() when the caller doesn't size it explicitly.
const defaultHistoryLimit = 1024

// Bus fans published events out to every live subscription and retains a
// bounded history per process. Publishing never blocks a producer: a
// subscriber that falls behind its buffer loses events rather than
// stalling a flush or compaction to wait for an audit logger.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan *Event
	nextSub int
	history []*Event
	limit   int
	closed  bool
}

// NewBus creates a bus retaining at most historyLimit events (0 uses the
// default).
func NewBus(historyLimit int) *Bus {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Bus{
		subs:  make(map[int]chan *Event),
		limit: historyLimit,
	}
}

// Publish records e and delivers it to every subscriber whose buffer has
// room.
func (b *Bus) Publish(e *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.history = append(b.history, e)
	if len(b.history) > b.limit {
		b.history = b.history[len(b.history)-b.limit:]
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber is behind; drop rather than block the producer
		}
	}
}

// Subscribe registers a new subscription with the given channel buffer
// (0 uses a reasonable default) and returns the event channel plus a
// cancel function. Cancelling closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan *Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// History returns the retained events of one type, oldest first, or every
// retained event when eventType is empty.
func (b *Bus) History(eventType EventType) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Event
	for _, e := range b.history {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Close stops delivery and closes every live subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// EventPublisher stamps every announcement from one component with its
// source name and the request's trace id before handing it to the bus.
// A nil receiver or nil bus publishes nothing, so callers don't guard
// every announcement site.
type EventPublisher struct {
	bus    *Bus
	source string
}

// NewEventPublisher creates a publisher for source over bus.
func NewEventPublisher(bus *Bus, source string) *EventPublisher {
	return &EventPublisher{bus: bus, source: source}
}

// Bus exposes the underlying bus so a caller can attach consumers to the
// same stream this publisher writes to.
func (ep *EventPublisher) Bus() *Bus {
	if ep == nil {
		return nil
	}
	return ep.bus
}

// PublishEvent announces one lifecycle event.
func (ep *EventPublisher) PublishEvent(ctx context.Context, eventType EventType, data map[string]interface{}) error {
	if ep == nil || ep.bus == nil {
		return nil
	}
	ep.bus.Publish(&Event{
		Type:      eventType,
		Source:    ep.source,
		Data:      data,
		Timestamp: time.Now(),
		TraceID:   common.GetTraceID(ctx),
	})
	return nil
}
