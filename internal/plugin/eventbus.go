package plugin

import (
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// EventHandler handles a plugin-defined event.
type EventHandler func(data any) error

// EventBus lets plugins publish and subscribe to custom events among
// themselves, separate from the core's own request/response hooks.
// Grounded on streamspace-dev-streamspace/api/internal/plugins/event_bus.go's
// Emit (async, fire-and-forget) and EmitSync (wait, collect errors) split.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]EventHandler // eventType -> pluginName -> handler
	log         zerolog.Logger

	// nc/natsOrigin back the optional multi-instance bridge set up by
	// EnableNATSBridge; nil nc means this bus is purely in-process.
	nc         *nats.Conn
	natsOrigin string
}

// NewEventBus constructs an empty EventBus.
func NewEventBus(log zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string]map[string]EventHandler), log: log}
}

// Subscribe registers handler for eventType under pluginName. A second
// Subscribe by the same plugin for the same event replaces the handler.
func (b *EventBus) Subscribe(eventType, pluginName string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[string]EventHandler)
	}
	b.subscribers[eventType][pluginName] = handler
}

// Unsubscribe removes pluginName's handler for eventType.
func (b *EventBus) Unsubscribe(eventType, pluginName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[eventType], pluginName)
}

// UnsubscribeAll removes every subscription registered by pluginName,
// called when a plugin is unloaded.
func (b *EventBus) UnsubscribeAll(pluginName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType := range b.subscribers {
		delete(b.subscribers[eventType], pluginName)
	}
}

func (b *EventBus) handlersFor(eventType string) []EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.subscribers[eventType]
	out := make([]EventHandler, 0, len(subs))
	for _, h := range subs {
		out = append(out, h)
	}
	return out
}

// Emit fans the event out to every subscriber concurrently and does not
// wait; handler errors are logged, not returned.
func (b *EventBus) Emit(eventType string, data any) {
	for _, h := range b.handlersFor(eventType) {
		go func(handler EventHandler) {
			if err := handler(data); err != nil {
				b.log.Error().Err(err).Str("event", eventType).Msg("event handler failed")
			}
		}(h)
	}
	b.publishRemote(eventType, data)
}

// EmitSync fans the event out concurrently and waits for every handler,
// collecting their errors.
func (b *EventBus) EmitSync(eventType string, data any) []error {
	handlers := b.handlersFor(eventType)
	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, handler EventHandler) {
			defer wg.Done()
			errs[i] = handler(data)
		}(i, h)
	}
	wg.Wait()
	b.publishRemote(eventType, data)

	out := errs[:0]
	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
