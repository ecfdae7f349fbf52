package approval

import (
	"context"
	"errors"
	"sync"
	"time"
)

// HookStatus is the lifecycle state of a Hook Approval Bridge request.
type HookStatus string

const (
	HookPending   HookStatus = "pending"
	HookResolved  HookStatus = "resolved"
	HookCompleted HookStatus = "completed"
)

// maxHookTimeout clamps a caller-supplied timeout to 24h; 0 means
// unlimited (spec.md §4.J).
const maxHookTimeout = 24 * time.Hour

// completedTTL is how long a completed request's outcome stays queryable
// for late long-pollers.
const completedTTL = 120 * time.Second

// ErrHookNotFound is returned by Resolve/Status/Complete for an unknown id.
var ErrHookNotFound = errors.New("hook_approval: request not found")

type hookRequest struct {
	id        string
	prompt    string
	createdAt time.Time
	status    HookStatus
	approved  bool
	resolved  chan struct{}
	timer     *time.Timer
	expiresAt time.Time
}

// HookBridge is the simpler pre-tool-use approval gate of spec.md §4.J: a
// browser-button-driven HTTP flow with a timeout auto-deny and a
// long-pollable status endpoint.
type HookBridge struct {
	mu       sync.Mutex
	requests map[string]*hookRequest
	notify   func(id, prompt string)
	now      func() time.Time
}

// NewHookBridge creates an empty bridge. notify is invoked synchronously
// from Create to post the approve/deny chat prompt; it may be nil in
// tests.
func NewHookBridge(notify func(id, prompt string)) *HookBridge {
	return &HookBridge{
		requests: make(map[string]*hookRequest),
		notify:   notify,
		now:      time.Now,
	}
}

// Create registers a new request under the caller-supplied id, optionally
// arming an auto-deny timer, then posts the chat prompt via notify.
func (h *HookBridge) Create(id, prompt string, timeoutMs int64) {
	if timeoutMs <= 0 {
		timeoutMs = 0
	} else if time.Duration(timeoutMs)*time.Millisecond > maxHookTimeout {
		timeoutMs = maxHookTimeout.Milliseconds()
	}

	req := &hookRequest{
		id:        id,
		prompt:    prompt,
		createdAt: h.now(),
		status:    HookPending,
		resolved:  make(chan struct{}),
	}

	h.mu.Lock()
	h.requests[id] = req
	if timeoutMs > 0 {
		req.timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			_ = h.Resolve(id, false)
		})
	}
	h.mu.Unlock()

	if h.notify != nil {
		h.notify(id, prompt)
	}
}

// Resolve records the approve/deny decision exactly once.
func (h *HookBridge) Resolve(id string, approved bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok := h.requests[id]
	if !ok {
		return ErrHookNotFound
	}
	if req.status != HookPending {
		return nil
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	req.status = HookResolved
	req.approved = approved
	close(req.resolved)
	return nil
}

// Complete marks a resolved request as completed (the gated action itself
// finished) and schedules its removal after completedTTL so late pollers
// can still observe the outcome.
func (h *HookBridge) Complete(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok := h.requests[id]
	if !ok {
		return ErrHookNotFound
	}
	req.status = HookCompleted
	req.expiresAt = h.now().Add(completedTTL)
	time.AfterFunc(completedTTL, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if r, ok := h.requests[id]; ok && r.status == HookCompleted && !h.now().Before(r.expiresAt) {
			delete(h.requests, id)
		}
	})
	return nil
}

// Status returns the current status and, once resolved, the decision.
func (h *HookBridge) Status(id string) (status HookStatus, approved bool, found bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok := h.requests[id]
	if !ok {
		return "", false, false
	}
	return req.status, req.approved, true
}

// WaitStatus long-polls up to maxWait for the request to leave the pending
// state, then returns the current status (spec.md §6's
// GET /api/hook/status/<id>, up to 30s).
func (h *HookBridge) WaitStatus(ctx context.Context, id string, maxWait time.Duration) (HookStatus, bool, bool) {
	h.mu.Lock()
	req, ok := h.requests[id]
	h.mu.Unlock()
	if !ok {
		return "", false, false
	}
	if req.status != HookPending {
		return req.status, req.approved, true
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case <-req.resolved:
	case <-timer.C:
	case <-ctx.Done():
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok = h.requests[id]
	if !ok {
		return "", false, false
	}
	return req.status, req.approved, true
}
