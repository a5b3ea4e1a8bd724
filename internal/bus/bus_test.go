package bus

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishSyncDeliversToSubscribers(t *testing.T) {
	b := NewEventBus()

	var started, stopped atomic.Int32
	b.Subscribe(EventTypeSpeakingStarted, func(Event) { started.Add(1) })
	b.Subscribe(EventTypeSpeakingStopped, func(Event) { stopped.Add(1) })

	b.PublishSync(Event{Type: EventTypeSpeakingStarted})

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(0), stopped.Load())
}

func TestEventBus_SubscribeAllSeesEveryType(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	var seen []EventType
	b.SubscribeAll(func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	b.PublishSync(Event{Type: EventTypeSessionStarted})
	b.PublishSync(Event{Type: EventTypeVoicesChanged})

	assert.ElementsMatch(t, []EventType{EventTypeSessionStarted, EventTypeVoicesChanged}, seen)
}

func TestEventBus_SubscribeMultipleAndClear(t *testing.T) {
	b := NewEventBus()

	var count atomic.Int32
	b.SubscribeMultiple([]EventType{EventTypeChatReply, EventTypeChatError}, func(Event) { count.Add(1) })
	b.SubscribeAll(func(Event) { count.Add(1) })

	b.PublishSync(Event{Type: EventTypeChatReply})
	b.PublishSync(Event{Type: EventTypeChatError})
	assert.Equal(t, int32(4), count.Load())

	b.Clear()
	b.PublishSync(Event{Type: EventTypeChatReply})
	assert.Equal(t, int32(4), count.Load())
}

func TestEventBus_PublishIsAsync(t *testing.T) {
	b := NewEventBus()

	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(EventTypeSessionCompleted, func(e Event) {
		defer wg.Done()
		assert.Equal(t, "abc", e.Data["session_id"])
	})

	b.Publish(Event{Type: EventTypeSessionCompleted, Data: map[string]any{"session_id": "abc"}})
	wg.Wait()
}
