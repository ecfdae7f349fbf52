// Package monitor implements §4.G's Session Monitor: it reconstructs a live
// picture of every running coding-assistant process by correlating OS
// process listings with rolling JSONL transcript files, and feeds
// Auto-Thread Discovery (internal/autothread) via onRefresh callbacks.
//
// Grounded on other_examples' tail-claude __watcher.go (fsnotify debounce
// loop). Transcripts are not read through internal/tailer: a transcript
// whose mtime changed is re-read whole and its metadata re-extracted from
// every line.
package monitor

import "time"

// SessionState is the coarse lifecycle bucket of a snapshot, derived from
// the age of its transcript's last mutation (spec.md §3).
type SessionState string

const (
	StateActive    SessionState = "active"
	StateIdle      SessionState = "idle"
	StateCompleted SessionState = "completed"
	StateStale     SessionState = "stale"
)

// ActivityPhase further refines an active session (spec.md §3, §4.G).
type ActivityPhase string

const (
	PhaseBusy              ActivityPhase = "busy"
	PhaseInteractable      ActivityPhase = "interactable"
	PhaseWaitingPermission ActivityPhase = "waiting_permission"
	PhaseWaitingQuestion   ActivityPhase = "waiting_question"
)

// WaitReason is set alongside waitToolNames when a session is blocked.
type WaitReason string

const (
	WaitNone       WaitReason = ""
	WaitQuestion   WaitReason = "user_question"
	WaitPermission WaitReason = "permission"
)

// TokenTotals accumulates token usage across a transcript's assistant
// messages.
type TokenTotals struct {
	Input  int64
	Output int64
	Cached int64
}

// SessionSnapshot is the Monitor's per-session output (spec.md §3).
// Treated as immutable after publish except for the single hook-driven
// ActivityPhase/State fields, which the hook receiver updates in place
// under the Monitor's lock.
type SessionSnapshot struct {
	Provider     string
	SessionID    string
	ProjectPath  string
	ProjectName  string
	Slug         string
	State        SessionState
	PID          int32
	CPUPercent   float64
	MemMB        float64
	Model        string
	GitBranch    string
	Version      string
	TurnCount    int
	LastUserMsg  string
	CurrentTools []string
	Tokens       TokenTotals

	WaitReason     WaitReason
	WaitToolNames  []string
	StartedAt      *time.Time
	LastActivity   time.Time
	ActivityPhase  ActivityPhase // empty string == null
	JSONLPath      string

	// hookPhaseSetAt records when the Hook Receiver last wrote
	// ActivityPhase/State for this session; a refresh keeps the hook's
	// values when this is later than the start of the previous tick
	// (Monitor.lastTickAt) and applies its own classification otherwise.
	hookPhaseSetAt time.Time
}

func (s SessionSnapshot) clone() SessionSnapshot {
	out := s
	out.CurrentTools = append([]string(nil), s.CurrentTools...)
	out.WaitToolNames = append([]string(nil), s.WaitToolNames...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	return out
}

// classifyState buckets a snapshot by the age of its last transcript
// mutation (spec.md §3): <5min active, <1h idle; from 1h on, a session
// with a live process is idle at any age, otherwise <24h completed and
// >=24h stale.
func classifyState(lastActivity time.Time, now time.Time, hasProcess bool) SessionState {
	age := now.Sub(lastActivity)
	switch {
	case age < 5*time.Minute:
		return StateActive
	case age < time.Hour:
		return StateIdle
	case hasProcess:
		return StateIdle
	case age < 24*time.Hour:
		return StateCompleted
	default:
		return StateStale
	}
}
