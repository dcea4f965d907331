// Package events provides a typed observer registry. Components expose a Bus for
// their own event type so subscribers and delivery order are visible in the type system.
package events

import (
	"log/slog"
	"sync"
)

// Listener receives events of type T
type Listener[T any] func(T)

// Bus delivers events to registered listeners synchronously, in registration order
type Bus[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners []registration[T]
}

type registration[T any] struct {
	id uint64
	fn Listener[T]
}

// Subscribe registers fn and returns a function that removes it again
func (b *Bus[T]) Subscribe(fn Listener[T]) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, registration[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, reg := range b.listeners {
		if reg.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every listener. A panicking listener is logged and
// does not prevent delivery to the remaining listeners.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	snapshot := make([]registration[T], len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()

	for _, reg := range snapshot {
		deliver(reg.fn, event)
	}
}

// Len returns the number of registered listeners
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func deliver[T any](fn Listener[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event listener panicked", "panic", r)
		}
	}()
	fn(event)
}
