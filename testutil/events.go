package testutil

import (
	"sync"

	"github.com/yeremiapane/waiter-call/fanout"
)

// Recorder is a fanout.Publisher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (r *Recorder) Publish(evt fanout.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of what was published so far.
func (r *Recorder) Events() []fanout.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fanout.Event(nil), r.events...)
}

// Types returns the published event types in order.
func (r *Recorder) Types() []fanout.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]fanout.EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
