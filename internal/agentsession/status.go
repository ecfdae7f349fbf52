package agentsession

import (
	"sync"
	"time"
)

// SessionState is the lifecycle state of an AgentSession.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateProcessing SessionState = "processing"
	StateClosed     SessionState = "closed"
)

// SessionStatus is the value returned by AgentSession.GetStatus. Callers
// receive a deep copy — mutating it never affects the session.
type SessionStatus struct {
	State        SessionState
	TurnCount    int
	TotalTokens  TokenUsage
	LastActivity *time.Time
}

func (s SessionStatus) clone() SessionStatus {
	out := s
	if s.LastActivity != nil {
		t := *s.LastActivity
		out.LastActivity = &t
	}
	return out
}

// StatusTracker is the shared turnCount/state/token bookkeeping helper
// used by all three provider adapters, so each only has to wrap its own
// send loop with BeginTurn/defer EndTurn rather than reimplement the
// state machine in §4.C.
type StatusTracker struct {
	mu     sync.Mutex
	status SessionStatus
}

// NewStatusTracker creates a tracker in the idle state.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{status: SessionStatus{State: StateIdle}}
}

// BeginTurn transitions idle -> processing at the start of a send call.
func (t *StatusTracker) BeginTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = StateProcessing
}

// EndTurn transitions processing -> idle and increments turnCount
// unconditionally — callers must invoke this via defer around their send
// loop so it runs whether the loop finishes normally or panics/errors.
// A no-op if the tracker is already closed.
func (t *StatusTracker) EndTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.State == StateClosed {
		return
	}
	t.status.State = StateIdle
	t.status.TurnCount++
	now := time.Now()
	t.status.LastActivity = &now
}

// AddTokens accumulates usage reported at turn_complete. Monotonic: never
// called with a usage that would decrease any field.
func (t *StatusTracker) AddTokens(usage TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalTokens = t.status.TotalTokens.Add(usage)
}

// Close marks the session permanently closed. Idempotent.
func (t *StatusTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = StateClosed
}

// Snapshot returns a deep copy of the current status.
func (t *StatusTracker) Snapshot() SessionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.clone()
}
