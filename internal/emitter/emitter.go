// Package emitter is a publish/subscribe registry mapping event names to
// ordered listener lists. It carries data only; lifecycle state changes are
// signalled separately by the components that own them.
package emitter

import "sync"

// Listener receives an event payload.
type Listener[T any] func(T)

// Executor runs a delivery task. Tasks must run in submission order.
type Executor func(task func())

// Sync runs tasks inline on the caller's goroutine.
func Sync(task func()) { task() }

// Emitter maps event names to listeners.
type Emitter[T any] struct {
	mu        sync.RWMutex
	listeners map[string][]Listener[T]
	exec      Executor
}

// New creates an Emitter. A nil executor delivers synchronously.
func New[T any](exec Executor) *Emitter[T] {
	if exec == nil {
		exec = Sync
	}
	return &Emitter[T]{
		listeners: make(map[string][]Listener[T]),
		exec:      exec,
	}
}

// On appends a listener for event.
func (e *Emitter[T]) On(event string, l Listener[T]) {
	if l == nil {
		return
	}
	e.mu.Lock()
	e.listeners[event] = append(e.listeners[event], l)
	e.mu.Unlock()
}

// Has reports whether event has at least one listener.
func (e *Emitter[T]) Has(event string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event]) > 0
}

// Off removes every listener for event.
func (e *Emitter[T]) Off(event string) {
	e.mu.Lock()
	delete(e.listeners, event)
	e.mu.Unlock()
}

// Clear removes all listeners.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	e.listeners = make(map[string][]Listener[T])
	e.mu.Unlock()
}

// Events returns the names that currently have listeners.
func (e *Emitter[T]) Events() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		names = append(names, name)
	}
	return names
}

// Emit schedules delivery of v to the listeners registered for event at the
// time of the call. Returns the number of listeners scheduled.
func (e *Emitter[T]) Emit(event string, v T) int {
	e.mu.RLock()
	snapshot := append([]Listener[T](nil), e.listeners[event]...)
	e.mu.RUnlock()

	if len(snapshot) == 0 {
		return 0
	}

	e.exec(func() {
		for _, l := range snapshot {
			l(v)
		}
	})
	return len(snapshot)
}
