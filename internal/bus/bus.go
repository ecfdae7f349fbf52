package bus

import "sync"

// MessageBus fans broadcast Events out to subscribers (the gateway's
// WebSocket clients). It does not carry
// OutboundMessages itself — those flow through the throttle queue, which
// owns per-channel ordering; MessageBus only carries out-of-band events
// such as cron/approval notifications pushed to connected control clients.
type MessageBus struct {
	mu   sync.RWMutex
	subs map[string]EventHandler
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{subs: make(map[string]EventHandler)}
}

// Subscribe registers a handler under id, replacing any existing handler with that id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Broadcast delivers event to every current subscriber, synchronously, in
// registration-independent (map) order. Subscribers must not block.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

var _ EventPublisher = (*MessageBus)(nil)
