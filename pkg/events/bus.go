package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler reacts to an emitted event
type Handler func(ctx context.Context, e Event)

// Subscription identifies a registered handler
type Subscription struct {
	id   uint64
	name Name
}

type subscriber struct {
	id      uint64
	handler Handler
	once    bool
}

// wildcard subscribers receive every event
const wildcard Name = "*"

// Bus dispatches emitted events to subscribers
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Name][]subscriber
	nextID      uint64
	logger      *zap.Logger
}

// NewBus creates a bus; a nil logger disables logging
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[Name][]subscriber),
		logger:      logger,
	}
}

// On registers a handler for every event with the given name
func (b *Bus) On(name Name, handler Handler) Subscription {
	return b.subscribe(name, handler, false)
}

// Once registers a handler that is removed after its first call
func (b *Bus) Once(name Name, handler Handler) Subscription {
	return b.subscribe(name, handler, true)
}

// OnAny registers a handler for all events
func (b *Bus) OnAny(handler Handler) Subscription {
	return b.subscribe(wildcard, handler, false)
}

func (b *Bus) subscribe(name Name, handler Handler, once bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subscribers[name] = append(b.subscribers[name], subscriber{id: b.nextID, handler: handler, once: once})
	return Subscription{id: b.nextID, name: name}
}

// Off removes a subscription. Removing an unknown subscription is a no-op.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub.name, sub.id)
}

// remove must be called with the lock held
func (b *Bus) remove(name Name, id uint64) {
	subs := b.subscribers[name]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// dispatch delivers one event to the named and wildcard subscribers
func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.Lock()
	var handlers []Handler
	for _, name := range []Name{e.Name, wildcard} {
		for _, s := range b.subscribers[name] {
			handlers = append(handlers, s.handler)
			if s.once {
				b.remove(name, s.id)
			}
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.call(ctx, h, e)
	}
}

// call runs one handler; a panicking handler is logged and does not stop the others
func (b *Bus) call(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", string(e.Name)),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	h(ctx, e)
}

// Count returns the number of handlers subscribed to name
func (b *Bus) Count(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[name])
}
