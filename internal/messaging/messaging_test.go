package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishReachesLifecycleConsumer(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	received := make(chan *Event, 4)
	consumer := NewLifecycleEventConsumer(bus, func(e *Event) { received <- e })
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Consume(ctx)

	pub := NewEventPublisher(bus, "shard-0")
	require.NoError(t, pub.PublishEvent(ctx, EventFlushCompleted, map[string]interface{}{"segment_count": 2}))

	select {
	case e := <-received:
		require.Equal(t, EventFlushCompleted, e.Type)
		require.Equal(t, "shard-0", e.Source)
		require.Equal(t, 2, e.Data["segment_count"])
	case <-time.After(2 * time.Second):
		t.Fatal("published event never reached the consumer")
	}
}

func TestConsumerSkipsUnregisteredTypes(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	received := make(chan *Event, 4)
	consumer := NewEventConsumer(bus, 0)
	defer consumer.Close()
	consumer.RegisterHandler(EventFlushCompleted, EventHandlerFunc(func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Consume(ctx)

	pub := NewEventPublisher(bus, "shard-0")
	require.NoError(t, pub.PublishEvent(ctx, EventCompactionStarted, nil))
	require.NoError(t, pub.PublishEvent(ctx, EventFlushCompleted, nil))

	select {
	case e := <-received:
		require.Equal(t, EventFlushCompleted, e.Type, "the unregistered compaction event must be skipped, not delivered")
	case <-time.After(2 * time.Second):
		t.Fatal("registered event never arrived")
	}
}

func TestBusHistoryIsBoundedAndFilterable(t *testing.T) {
	bus := NewBus(3)
	defer bus.Close()
	ctx := context.Background()

	pub := NewEventPublisher(bus, "test")
	require.NoError(t, pub.PublishEvent(ctx, EventWALRotated, nil))
	for i := 0; i < 4; i++ {
		require.NoError(t, pub.PublishEvent(ctx, EventFlushStarted, nil))
	}

	all := bus.History("")
	require.Len(t, all, 3, "history is capped at the configured limit, oldest dropped first")
	require.Empty(t, bus.History(EventWALRotated), "the rotation event aged out of the bounded history")
	require.Len(t, bus.History(EventFlushStarted), 3)
}

func TestNilPublisherIsSafe(t *testing.T) {
	var pub *EventPublisher
	require.NoError(t, pub.PublishEvent(context.Background(), EventFlushStarted, nil))
	require.Nil(t, pub.Bus())
}

func TestCloseEndsConsumeAndDropsSubscribers(t *testing.T) {
	bus := NewBus(0)
	consumer := NewEventConsumer(bus, 0)

	done := make(chan error, 1)
	go func() { done <- consumer.Consume(context.Background()) }()

	require.NoError(t, consumer.Close())
	select {
	case err := <-done:
		require.NoError(t, err, "a closed subscription ends Consume cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after Close")
	}

	bus.Close()
	bus.Publish(&Event{Type: EventFlushStarted})
	require.Empty(t, bus.History(EventFlushStarted), "a closed bus records nothing")
}
