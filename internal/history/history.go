package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of dictation event.
type EventType string

const (
	EventStart       EventType = "start"
	EventStartFailed EventType = "start_failed"
	EventStop        EventType = "stop"
	EventShutdown    EventType = "shutdown"
	EventRecover     EventType = "recover"
)

// Event records one completed transition of the dictation session.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Duration   string    `json:"duration,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(t EventType, source string) Event {
	return Event{ID: uuid.NewString(), Type: t, Source: source, OccurredAt: time.Now().UTC()}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultRingSize bounds the in-memory history.
const DefaultRingSize = 100

// Ring keeps the most recent events in memory.
type Ring struct {
	mu     sync.Mutex
	buf    []Event
	next   int
	filled bool
}

// NewRing returns a Ring holding up to size events.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]Event, size)}
}

func (r *Ring) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
	r.mu.Unlock()
	return nil
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (r *Ring) Recent(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.next
	if r.filled {
		count = len(r.buf)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Store is a durable Sink that can also read back and expire events.
type Store interface {
	Sink
	Recent(ctx context.Context, n int) ([]Event, error)
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
