// Package debugger provides the high-level, typed debugging API built
// on top of pkg/session: a handshake protocol, breakpoint reconciliation,
// current-thread tracking, and the event chain a "stopped" notification
// triggers before the caller sees a Paused event.
package debugger

import (
	"sync"

	dap "github.com/google/go-dap"
)

// State is the session lifecycle. It only ever moves forward, except
// Running <-> Paused which cycle for the life of the session, until
// Terminated absorbs everything.
type State int

const (
	StateInitialising State = iota
	StateInitialised
	StateRunning
	StatePaused
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitialising:
		return "initialising"
	case StateInitialised:
		return "initialised"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Event is what the facade emits upward to subscribers: a richer,
// typed alternative to the raw dapmsg.Event a caller would otherwise
// have to switch on.
type Event struct {
	Kind   EventKind
	Stack  []dap.StackFrame
	Source *dap.Source
	Output OutputEvent
}

// EventKind discriminates the upward-facing Event union.
type EventKind int

const (
	EventInitialised EventKind = iota
	EventPaused
	EventRunning
	EventEnded
	EventOutput
)

// OutputEvent carries adapter stdout/stderr text.
type OutputEvent struct {
	Category string
	Text     string
}

// sessionState is the facade's mutable view of lifecycle + current
// thread, guarded by its own mutex since it's read from the caller's
// goroutine and written from the event-dispatch goroutine.
type sessionState struct {
	mu            sync.RWMutex
	state         State
	currentThread int
}

func newSessionState() *sessionState {
	return &sessionState{state: StateInitialising}
}

func (s *sessionState) get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *sessionState) set(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	s.state = state
}

func (s *sessionState) currentThreadID() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentThread == 0 {
		return 0, false
	}
	return s.currentThread, true
}

func (s *sessionState) setCurrentThread(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentThread = id
}
