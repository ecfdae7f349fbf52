// Package cron implements the persistent cron engine of spec.md §4.K: a
// single-threaded-style job scheduler with serialized mutation, per-job
// timeout, stuck-run recovery, atomic store writes, and append-only
// per-job run logs.
//
// Grounded on internal/sessions/manager.go's atomic-temp-file-then-rename
// persistence discipline (kept directly for the store write) and
// pkg/protocol/methods.go's cron.* method names (the CRUD surface this
// engine backs).
package cron

import "encoding/json"

// ScheduleKind discriminates the three schedule variants of spec.md §3.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// Schedule is a tagged union over the three schedule kinds. Only the
// fields relevant to Kind are meaningful.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// ScheduleAt
	AtMs int64 `json:"atMs,omitempty"`

	// ScheduleEvery
	EveryMs  int64 `json:"everyMs,omitempty"`
	AnchorMs int64 `json:"anchorMs,omitempty"`

	// ScheduleCron
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// Action names an action type plus its opaque JSON configuration. The
// registry of executors per type lives outside this package (see
// Engine.RegisterAction) so callers can wire domain-specific actions
// (sending a chat message, running a maintenance task, …) without this
// package knowing their shapes.
type Action struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// RunStatus is the outcome of the most recent run.
type RunStatus string

const (
	RunStatusOK      RunStatus = "ok"
	RunStatusError   RunStatus = "error"
	RunStatusSkipped RunStatus = "skipped"
)

// JobState is the mutable run-state portion of a Job.
type JobState struct {
	NextRunAtMs    *int64    `json:"nextRunAtMs,omitempty"`
	RunningAtMs    *int64    `json:"runningAtMs,omitempty"`
	LastRunAtMs    *int64    `json:"lastRunAtMs,omitempty"`
	LastStatus     RunStatus `json:"lastStatus,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	LastDurationMs int64     `json:"lastDurationMs,omitempty"`
}

// Source identifies who created a job.
type Source string

const (
	SourceCode Source = "code"
	SourceUser Source = "user"
)

// Job is one scheduled entry, per spec.md §3's CronJob.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	Source         Source   `json:"source"`
	TimeoutMs      int64    `json:"timeoutMs,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	Schedule       Schedule `json:"schedule"`
	Action         Action   `json:"action"`
	State          JobState `json:"state"`
}

// clone returns a deep-enough copy for safe external consumption (List/Get
// results must not let callers mutate engine-internal state).
func (j Job) clone() Job {
	cp := j
	if j.State.NextRunAtMs != nil {
		v := *j.State.NextRunAtMs
		cp.State.NextRunAtMs = &v
	}
	if j.State.RunningAtMs != nil {
		v := *j.State.RunningAtMs
		cp.State.RunningAtMs = &v
	}
	if j.State.LastRunAtMs != nil {
		v := *j.State.LastRunAtMs
		cp.State.LastRunAtMs = &v
	}
	if len(j.Action.Config) > 0 {
		cfg := make(json.RawMessage, len(j.Action.Config))
		copy(cfg, j.Action.Config)
		cp.Action.Config = cfg
	}
	return cp
}
