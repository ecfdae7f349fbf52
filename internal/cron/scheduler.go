package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praytools/pray-bot/internal/bus"
	"github.com/praytools/pray-bot/internal/telemetry"
)

var tracer = telemetry.Tracer("pray-bot/cron")

// ErrNotFound is returned by Update/Remove/Run for an unknown job id.
var ErrNotFound = errors.New("cron: job not found")

// ActionExecutor runs one job's action. Implementations are registered by
// Action.Type via RegisterAction; this package knows nothing about the
// concrete action shapes (e.g. "send_chat_message", "health_ping") —
// those belong to the caller's domain.
type ActionExecutor interface {
	Execute(ctx context.Context, job Job) error
}

// JobSpec is the caller-supplied payload for Add.
type JobSpec struct {
	Name           string
	Description    string
	Enabled        bool
	DeleteAfterRun bool
	Source         Source
	TimeoutMs      int64
	Schedule       Schedule
	Action         Action
}

// JobPatch is a field-merge patch for Update; nil fields are left alone.
type JobPatch struct {
	Name           *string
	Description    *string
	Enabled        *bool
	DeleteAfterRun *bool
	TimeoutMs      *int64
	Schedule       *Schedule
	Action         *Action
}

// Engine is the persistent cron job engine of spec.md §4.K.
type Engine struct {
	// writeMu linearizes every mutating operation's full read-modify-
	// write-persist sequence (tick, Add, Update, Remove, Run): each one
	// holds writeMu from its first map mutation through its saveStore
	// call returning, so two mutating operations can never interleave
	// their snapshot-then-write sequences and reorder the on-disk store
	// relative to the in-memory state (spec.md §5's "each operation
	// awaits the previous before acquiring the store"). mu still guards
	// the map itself for concurrent lock-free readers (List/Status/
	// nextDelay) that don't need to participate in that chain.
	writeMu sync.Mutex

	mu        sync.RWMutex
	storeDir  string
	jobs      map[string]Job
	executors map[string]ActionExecutor
	events    bus.EventPublisher

	defaultTimeout time.Duration
	stuckThreshold time.Duration

	wake    chan struct{}
	stopCh  chan struct{}
	started bool
	now     func() time.Time
}

// NewEngine creates an Engine rooted at storeDir (holding jobs.json and a
// runs/ subdirectory). events may be nil (no broadcast).
func NewEngine(storeDir string, events bus.EventPublisher, defaultTimeout, stuckThreshold time.Duration) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if stuckThreshold <= 0 {
		stuckThreshold = 2 * time.Hour
	}
	return &Engine{
		storeDir:       storeDir,
		jobs:           make(map[string]Job),
		executors:      make(map[string]ActionExecutor),
		events:         events,
		defaultTimeout: defaultTimeout,
		stuckThreshold: stuckThreshold,
		wake:           make(chan struct{}, 1),
		now:            time.Now,
	}
}

// RegisterAction binds actionType to its executor.
func (e *Engine) RegisterAction(actionType string, exec ActionExecutor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[actionType] = exec
}

// Start loads the store, recomputes nextRunAtMs for jobs lacking one, and
// arms the timer. An overdue "every" job keeps its overdue nextRunAtMs so
// the timer fires on the very first tick.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	jobs, err := loadStore(e.storeDir)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	now := e.now()
	for _, j := range jobs {
		jj := j
		if jj.State.NextRunAtMs == nil {
			next, err := computeNextRun(&jj, now)
			if err != nil {
				slog.Warn("cron.schedule_error", "job", jj.ID, "error", err)
			} else {
				jj.State.NextRunAtMs = next
			}
		}
		e.jobs[jj.ID] = jj
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	go e.run(ctx)
	e.signal()
	return nil
}

// Stop halts the background timer loop. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		close(e.stopCh)
		e.started = false
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) publish(name string, payload any) {
	if e.events != nil {
		e.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}

// run is the single background timer loop: a single timer targets the
// minimum nextRunAtMs across enabled jobs, clamped to maxTimerDelay.
func (e *Engine) run(ctx context.Context) {
	for {
		delay := e.nextDelay()
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			e.tick(ctx)
		case <-e.wake:
			timer.Stop()
		case <-e.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (e *Engine) nextDelay() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var min *int64
	for _, j := range e.jobs {
		if !j.Enabled || j.State.NextRunAtMs == nil {
			continue
		}
		if min == nil || *j.State.NextRunAtMs < *min {
			v := *j.State.NextRunAtMs
			min = &v
		}
	}
	if min == nil {
		return maxTimerDelay
	}
	d := time.Until(time.UnixMilli(*min))
	if d < 0 {
		d = 0
	}
	if d > maxTimerDelay {
		d = maxTimerDelay
	}
	return d
}

// tick runs one scheduling pass: every job whose nextRunAtMs has elapsed
// (and isn't already running, unless stuck past stuckThreshold) executes,
// then the store is persisted and the timer re-armed.
func (e *Engine) tick(ctx context.Context) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	now := e.now()
	e.mu.Lock()
	var eligible []string
	for id, j := range e.jobs {
		if !j.Enabled {
			continue
		}
		if j.State.NextRunAtMs == nil || *j.State.NextRunAtMs > now.UnixMilli() {
			continue
		}
		if j.State.RunningAtMs != nil {
			if now.UnixMilli()-*j.State.RunningAtMs > e.stuckThreshold.Milliseconds() {
				slog.Warn("cron.stuck_run_cleared", "job", id)
			} else {
				continue
			}
		}
		eligible = append(eligible, id)
	}
	for _, id := range eligible {
		j := e.jobs[id]
		runningAt := now.UnixMilli()
		j.State.RunningAtMs = &runningAt
		e.jobs[id] = j
	}
	e.mu.Unlock()

	for _, id := range eligible {
		e.publish("cron", map[string]any{"event": "started", "jobId": id})
		e.executeOne(ctx, id)
		e.publish("cron", map[string]any{"event": "finished", "jobId": id})
	}

	e.mu.Lock()
	jobs := e.snapshotLocked()
	e.mu.Unlock()
	if err := saveStore(e.storeDir, jobs); err != nil {
		slog.Error("cron.store_save_failed", "error", err)
	}
}

// executeOne runs a single job's action, racing it against its timeout,
// then records the outcome and recomputes (or drops) the job.
func (e *Engine) executeOne(parent context.Context, id string) {
	parent, span := tracer.Start(parent, "cron.executeOne")
	defer span.End()

	e.mu.RLock()
	j, ok := e.jobs[id]
	var exec ActionExecutor
	if ok {
		exec = e.executors[j.Action.Type]
	}
	e.mu.RUnlock()
	if !ok {
		return
	}

	timeout := e.defaultTimeout
	if j.TimeoutMs > 0 {
		timeout = time.Duration(j.TimeoutMs) * time.Millisecond
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var runErr error
	if exec == nil {
		runErr = fmt.Errorf("cron: no executor registered for action %q", j.Action.Type)
	} else {
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("cron: action panicked: %v", r)
				}
			}()
			done <- exec.Execute(ctx, j.clone())
		}()
		select {
		case runErr = <-done:
		case <-ctx.Done():
			runErr = ctx.Err()
		}
	}
	duration := time.Since(start)

	status := RunStatusOK
	errMsg := ""
	if runErr != nil {
		status = RunStatusError
		errMsg = runErr.Error()
		telemetry.RecordError(span, runErr)
	}
	nowMs := time.Now().UnixMilli()

	e.mu.Lock()
	j, ok = e.jobs[id]
	if ok {
		j.State.RunningAtMs = nil
		j.State.LastRunAtMs = &nowMs
		j.State.LastStatus = status
		j.State.LastError = errMsg
		j.State.LastDurationMs = duration.Milliseconds()

		if j.DeleteAfterRun {
			delete(e.jobs, id)
		} else {
			next, err := computeNextRun(&j, time.Now())
			if err != nil {
				slog.Warn("cron.schedule_error", "job", id, "error", err)
				j.State.NextRunAtMs = nil
			} else {
				j.State.NextRunAtMs = next
			}
			e.jobs[id] = j
		}
	}
	e.mu.Unlock()

	if err := appendRunLog(e.storeDir, id, runLogEntry{AtMs: nowMs, Status: status, Error: errMsg, DurationMs: duration.Milliseconds()}); err != nil {
		slog.Warn("cron.runlog_append_failed", "job", id, "error", err)
	}
}

func (e *Engine) snapshotLocked() []Job {
	jobs := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

func (e *Engine) newIDLocked() string {
	for {
		id := strings.ToLower(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
		if _, exists := e.jobs[id]; !exists {
			return id
		}
	}
}

// Add creates a new job, computes its initial nextRunAtMs, persists, and
// wakes the timer loop.
func (e *Engine) Add(spec JobSpec) (Job, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	now := time.Now()
	id := e.newIDLocked()
	j := Job{
		ID:             id,
		Name:           spec.Name,
		Description:    spec.Description,
		Enabled:        spec.Enabled,
		DeleteAfterRun: spec.DeleteAfterRun,
		Source:         spec.Source,
		TimeoutMs:      spec.TimeoutMs,
		CreatedAtMs:    now.UnixMilli(),
		UpdatedAtMs:    now.UnixMilli(),
		Schedule:       spec.Schedule,
		Action:         spec.Action,
	}
	next, err := computeNextRun(&j, now)
	if err != nil {
		e.mu.Unlock()
		return Job{}, err
	}
	j.State.NextRunAtMs = next
	e.jobs[id] = j
	jobs := e.snapshotLocked()
	e.mu.Unlock()

	if err := saveStore(e.storeDir, jobs); err != nil {
		return Job{}, err
	}
	e.signal()
	return j.clone(), nil
}

// Update applies patch to the job identified by id.
func (e *Engine) Update(id string, patch JobPatch) (Job, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return Job{}, ErrNotFound
	}
	scheduleChanged := false
	if patch.Name != nil {
		j.Name = *patch.Name
	}
	if patch.Description != nil {
		j.Description = *patch.Description
	}
	if patch.Enabled != nil {
		j.Enabled = *patch.Enabled
	}
	if patch.DeleteAfterRun != nil {
		j.DeleteAfterRun = *patch.DeleteAfterRun
	}
	if patch.TimeoutMs != nil {
		j.TimeoutMs = *patch.TimeoutMs
	}
	if patch.Action != nil {
		j.Action = *patch.Action
	}
	if patch.Schedule != nil {
		j.Schedule = *patch.Schedule
		scheduleChanged = true
	}
	j.UpdatedAtMs = time.Now().UnixMilli()
	if scheduleChanged {
		next, err := computeNextRun(&j, time.Now())
		if err != nil {
			e.mu.Unlock()
			return Job{}, err
		}
		j.State.NextRunAtMs = next
	}
	e.jobs[id] = j
	jobs := e.snapshotLocked()
	e.mu.Unlock()

	if err := saveStore(e.storeDir, jobs); err != nil {
		return Job{}, err
	}
	e.signal()
	return j.clone(), nil
}

// Remove deletes the job and its run log.
func (e *Engine) Remove(id string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	if _, ok := e.jobs[id]; !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	delete(e.jobs, id)
	jobs := e.snapshotLocked()
	e.mu.Unlock()

	if err := saveStore(e.storeDir, jobs); err != nil {
		return err
	}
	if err := removeRunLog(e.storeDir, id); err != nil {
		slog.Warn("cron.runlog_remove_failed", "job", id, "error", err)
	}
	e.signal()
	return nil
}

// Run executes a job immediately, ignoring its schedule, and updates its
// last-run fields as if the timer had fired it.
func (e *Engine) Run(ctx context.Context, id string) (Job, error) {
	e.mu.RLock()
	_, ok := e.jobs[id]
	e.mu.RUnlock()
	if !ok {
		return Job{}, ErrNotFound
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.executeOne(ctx, id)

	e.mu.Lock()
	j, stillExists := e.jobs[id]
	jobs := e.snapshotLocked()
	e.mu.Unlock()

	if err := saveStore(e.storeDir, jobs); err != nil {
		return Job{}, err
	}
	if !stillExists {
		return Job{ID: id}, nil
	}
	return j.clone(), nil
}

// List returns a snapshot of every job.
func (e *Engine) List() []Job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j.clone())
	}
	return out
}

// Status returns one job by id.
func (e *Engine) Status(id string) (Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// Runs returns up to limit most-recent run-log entries for id.
func (e *Engine) Runs(id string, limit int) ([]runLogEntry, error) {
	return readRunLog(e.storeDir, id, limit)
}
