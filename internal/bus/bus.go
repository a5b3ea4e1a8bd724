// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for the talking avatar
const (
	// Session lifecycle
	EventTypeSessionStarted   EventType = "session.started"
	EventTypeSessionCompleted EventType = "session.completed"
	EventTypeSessionRejected  EventType = "session.rejected"

	// Speech playback
	EventTypeSpeakingStarted EventType = "speech.speaking_started"
	EventTypeSpeakingStopped EventType = "speech.speaking_stopped"
	EventTypeSentenceStarted EventType = "speech.sentence_started"
	EventTypeSentenceEnded   EventType = "speech.sentence_ended"

	// Avatar
	EventTypeAnimationChanged EventType = "avatar.animation_changed"
	EventTypeVoiceSelected    EventType = "avatar.voice_selected"

	// Voice list
	EventTypeVoicesChanged EventType = "voice.list_changed"

	// Chat
	EventTypeChatReply EventType = "chat.reply"
	EventTypeChatError EventType = "chat.error"
)

// Event represents a bus event
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	wildcard []Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll adds a handler that receives every event type
func (b *EventBus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wildcard = append(b.wildcard, handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish sends an event to all subscribed handlers
func (b *EventBus) Publish(event Event) {
	handlers := b.handlersFor(event.Type)

	for _, handler := range handlers {
		// Call handlers in goroutines to avoid blocking
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	handlers := b.handlersFor(event.Type)

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

func (b *EventBus) handlersFor(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := make([]Handler, 0, len(b.handlers[t])+len(b.wildcard))
	handlers = append(handlers, b.handlers[t]...)
	handlers = append(handlers, b.wildcard...)
	return handlers
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
	b.wildcard = nil
}
