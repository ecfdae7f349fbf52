package clisubprocess

import "context"

// Semaphore is a FIFO counting semaphore gating how many CLI subprocesses
// may run concurrently. One Semaphore is shared by every Adapter created
// against the same backend so the cap is global, not per-session.
//
// Grounded on internal/mcp's reconnect/backoff gating discipline (a
// bounded number of concurrent operations, acquired/released around one
// unit of work) — generalized here to a plain channel-based semaphore
// since the teacher's version is tangled with MCP-specific reconnect
// state this adapter doesn't need.
type Semaphore struct {
	slots chan struct{}
}

// DefaultConcurrency is the default number of concurrent subprocesses (§4.D).
const DefaultConcurrency = 3

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = DefaultConcurrency
	}
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Call it only after a successful Acquire: a
// Release with no matching Acquire blocks until some slot is taken.
func (s *Semaphore) Release() {
	<-s.slots
}
