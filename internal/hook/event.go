// Package hook implements §4.H's Hook Receiver: the HTTP endpoint that
// lets the coding-assistant CLI push out-of-band lifecycle events
// (SessionStart/Stop/Notification/...) directly into the Session
// Monitor, bypassing the slower process/transcript correlation loop for
// state transitions the assistant already knows about precisely.
//
// Grounded on internal/channels/ratelimit.go's bounded per-key limiter
// (reused as-is, keyed by the hook request's source IP) and
// pkg/protocol's event-name vocabulary.
package hook

import (
	"errors"
	"fmt"
)

// knownProviders mirrors the Discord Thread Route provider enum (spec.md
// §3): an event naming anything else is rejected as a 400.
var knownProviders = map[string]bool{
	"claude":           true,
	"codex":            true,
	"codex-app-server": true,
}

// ErrInvalidEvent is returned by Validate for a malformed/unrecognized event.
var ErrInvalidEvent = errors.New("hook: invalid event")

// NotificationType is the sub-kind carried by a Notification event.
type NotificationType string

const (
	NotificationPermissionPrompt NotificationType = "permission_prompt"
	NotificationIdlePrompt       NotificationType = "idle_prompt"
	NotificationElicitation      NotificationType = "elicitation_dialog"
)

// Event is the `POST /api/hook` payload (spec.md §4.H).
type Event struct {
	HookEventName    string           `json:"hook_event_name"`
	SessionID        string           `json:"session_id"`
	CWD              string           `json:"cwd,omitempty"`
	TranscriptPath   string           `json:"transcript_path,omitempty"`
	Provider         string           `json:"provider,omitempty"`
	NotificationType NotificationType `json:"notification_type,omitempty"`
}

const (
	EventSessionStart      = "SessionStart"
	EventSessionEnd        = "SessionEnd"
	EventStop              = "Stop"
	EventUserPromptSubmit  = "UserPromptSubmit"
	EventNotification      = "Notification"
)

// Validate checks the required-field and known-provider rules spec.md
// §4.H and §6 name: missing hook_event_name/session_id, or an unknown
// provider, are both 400s.
func (e Event) Validate() error {
	if e.HookEventName == "" {
		return fmt.Errorf("%w: missing hook_event_name", ErrInvalidEvent)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEvent)
	}
	if e.Provider != "" && !knownProviders[e.Provider] {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidEvent, e.Provider)
	}
	return nil
}
