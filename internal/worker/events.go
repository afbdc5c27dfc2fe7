package worker

import (
	"sync"
	"time"
)

// Event is one lifecycle or error event observed by the manager.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id"`
	Kind      string    `json:"kind"` // started | ready | degraded | restarted | unrecoverable | stopped | error
	Detail    string    `json:"detail,omitempty"`
}

// EventBuffer is a thread-safe ring buffer that stores the last N worker
// events and supports real-time streaming to subscribers.
type EventBuffer struct {
	mu          sync.RWMutex
	entries     []Event
	maxEntries  int
	subscribers map[chan Event]struct{}
}

// NewEventBuffer creates a buffer that retains up to maxEntries events.
func NewEventBuffer(maxEntries int) *EventBuffer {
	return &EventBuffer{
		entries:     make([]Event, 0, maxEntries),
		maxEntries:  maxEntries,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Record appends an event and broadcasts it to all subscribers.
func (eb *EventBuffer) Record(tenantID, kind, detail string) {
	entry := Event{
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		Kind:      kind,
		Detail:    detail,
	}

	eb.mu.Lock()
	if len(eb.entries) >= eb.maxEntries {
		eb.entries = eb.entries[1:]
	}
	eb.entries = append(eb.entries, entry)

	for ch := range eb.subscribers {
		select {
		case ch <- entry:
		default:
			// subscriber is too slow, drop this entry for them
		}
	}
	eb.mu.Unlock()
}

// Recent returns the last n events.
func (eb *EventBuffer) Recent(n int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	total := len(eb.entries)
	if n <= 0 || n > total {
		n = total
	}
	start := total - n
	result := make([]Event, n)
	copy(result, eb.entries[start:])
	return result
}

// Subscribe returns a channel that receives new events as they arrive.
// Call Unsubscribe when done to avoid leaks.
func (eb *EventBuffer) Subscribe() chan Event {
	ch := make(chan Event, 64)
	eb.mu.Lock()
	eb.subscribers[ch] = struct{}{}
	eb.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (eb *EventBuffer) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	delete(eb.subscribers, ch)
	eb.mu.Unlock()
	close(ch)
}
