package pipeline

import (
	"sync"
)

// EventBus fans rendered live ticks out to handlers and channels.
// It implements TickResultHandler so it can be handed to a live loop.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[int]TickResultHandler
	channels map[int]chan *TickResult
	nextID   int
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[int]TickResultHandler),
		channels: make(map[int]chan *TickResult),
	}
}

// Subscribe registers a handler called synchronously on every result.
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler TickResultHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of results. A full channel
// drops results instead of blocking the render path. Unsubscribing closes
// the channel.
func (b *EventBus) SubscribeChannel(size int) (<-chan *TickResult, func()) {
	if size <= 0 {
		size = 10
	}
	ch := make(chan *TickResult, size)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.channels[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if c, ok := b.channels[id]; ok {
			delete(b.channels, id)
			close(c)
		}
		b.mu.Unlock()
	}
}

// OnTickResult publishes result
func (b *EventBus) OnTickResult(result *TickResult) {
	b.Publish(result)
}

// Publish delivers result to every subscriber
func (b *EventBus) Publish(result *TickResult) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers {
		h.OnTickResult(result)
	}
	for _, ch := range b.channels {
		select {
		case ch <- result:
		default:
		}
	}
}

// Close drops all subscribers and closes their channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.channels {
		close(ch)
		delete(b.channels, id)
	}
	for id := range b.handlers {
		delete(b.handlers, id)
	}
}

var _ TickResultHandler = (*EventBus)(nil)
