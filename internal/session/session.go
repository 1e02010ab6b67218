package session

import (
	"errors"
	"sync"
	"time"

	"github.com/loykin/voicekey/internal/process"
)

// State of the dictation session.
type State int32

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var ErrInvalidTransition = errors.New("invalid session transition")

// Session is the single source of truth for whether a worker runs. It owns
// the live child handle while Recording. Invariant: handle != nil exactly
// when state == Recording.
type Session struct {
	mu      sync.Mutex
	state   State
	handle  *process.Handle
	since   time.Time
	changes uint64
}

// New returns an Idle session.
func New() *Session { return &Session{state: Idle, since: time.Now()} }

// Guard grants exclusive access to the session for the duration of With.
// It must not be retained after the callback returns.
type Guard struct {
	s *Session
}

// With runs fn while holding the session lock. The lock is released on
// every exit path, including a panic in fn.
func (s *Session) With(fn func(g *Guard) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &Guard{s: s}
	defer func() { g.s = nil }()
	return fn(g)
}

func (g *Guard) State() State { return g.s.state }

// Handle returns the live child, nil while Idle.
func (g *Guard) Handle() *process.Handle { return g.s.handle }

// Begin stores h and moves Idle -> Recording.
func (g *Guard) Begin(h *process.Handle) error {
	if h == nil || g.s.state != Idle || g.s.handle != nil {
		return ErrInvalidTransition
	}
	g.s.handle = h
	g.s.set(Recording)
	return nil
}

// End moves Recording -> Idle and hands the child back to the caller.
func (g *Guard) End() (*process.Handle, error) {
	if g.s.state != Recording || g.s.handle == nil {
		return nil, ErrInvalidTransition
	}
	h := g.s.handle
	g.s.handle = nil
	g.s.set(Idle)
	return h, nil
}

func (s *Session) set(st State) {
	s.state = st
	s.since = time.Now()
	s.changes++
}

// Snapshot is a consistent read of the session.
type Snapshot struct {
	State       State     `json:"state"`
	PID         int       `json:"pid,omitempty"`
	Since       time.Time `json:"since"`
	Transitions uint64    `json:"transitions"`
}

// Snapshot reads the session under its lock. It waits for an in-flight
// transition to complete.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state, Since: s.since, Transitions: s.changes}
	if s.handle != nil {
		snap.PID = s.handle.Pid()
	}
	return snap
}
