// Package notify carries change hints between writers and watching
// clients. Delivery is at-most-once and unordered; consumers are
// expected to deduplicate and to keep a polling fallback.
package notify

import (
	"context"
	"sync"

	"parlor/internal/session"
)

// Bus is the in-process notifier. Handlers are invoked synchronously on
// the publisher's goroutine and must not block; heavier consumers hand
// the event to their own loop.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(session.Event)
}

func NewBus() *Bus {
	return &Bus{subs: map[string]map[int]func(session.Event){}}
}

func (b *Bus) Publish(_ context.Context, topic string, ev session.Event) error {
	b.mu.Lock()
	handlers := make([]func(session.Event), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
	return nil
}

func (b *Bus) Subscribe(topic string, fn func(session.Event)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = map[int]func(session.Event){}
	}
	b.subs[topic][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}, nil
}
