package testutil

import "sync"

// Event is one broadcast captured by Recorder.
type Event struct {
	Channel string
	Event   string
	Data    any
}

// Recorder is a broadcast publisher that keeps every enqueued event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	// Reject makes Enqueue report a full queue.
	Reject bool
}

// Enqueue records the event.
func (r *Recorder) Enqueue(channel, event string, data any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Reject {
		return false
	}
	r.events = append(r.events, Event{Channel: channel, Event: event, Data: data})
	return true
}

// Events returns a copy of the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
