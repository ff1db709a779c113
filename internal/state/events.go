// Package state implements the state service (component C2): atomic
// status transitions over the trace store plus a pub/sub event bus for
// progress and state-change notifications (spec §4.1).
package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qen-labs/execserv/internal/trace"
)

// EventType classifies state-service events.
type EventType string

const (
	EventStateChange    EventType = "STATE_CHANGE"
	EventProgressUpdate EventType = "PROGRESS_UPDATE"
)

// Event is a StateChangeEvent (spec §3).
type Event struct {
	EventID     string         `json:"event_id"`
	EventType   EventType      `json:"event_type"`
	ExecutionID string         `json:"execution_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
}

func newEvent(execID string, evtType EventType, data map[string]any, userID string) Event {
	ts := time.Now().UTC()
	return Event{
		EventID:     uuid.NewString(),
		EventType:   evtType,
		ExecutionID: execID,
		Timestamp:   ts,
		Data:        data,
		UserID:      userID,
	}
}

// JSON marshals the event for transport over a subscriber channel.
func (e Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// bus is a pub/sub fan-out with per-subscriber bounded buffers and a
// non-blocking, drop-on-full-buffer delivery policy (spec §4.1
// "Event fan-out").
type bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
}

func newBus(bufferSize int) *bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &bus{subscribers: make(map[string]chan Event), bufferSize: bufferSize}
}

func (b *bus) publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// Slow consumer: drop rather than block other subscribers.
		}
	}
}

func (b *bus) subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch
	return ch
}

func (b *bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

func (b *bus) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
