package provider

import (
	"sync"
	"time"
)

// Listeners is an embeddable handler registry for Handle implementations
type Listeners struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// On implements Handle.On
func (l *Listeners) On(evt EventType, fn Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[EventType][]Handler)
	}
	l.handlers[evt] = append(l.handlers[evt], fn)
}

// Emit delivers ev to every handler registered for its type
func (l *Listeners) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	l.mu.RLock()
	fns := append([]Handler(nil), l.handlers[ev.Type]...)
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
