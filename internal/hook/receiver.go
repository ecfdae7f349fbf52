package hook

import (
	"context"
	"log/slog"

	"github.com/praytools/pray-bot/internal/monitor"
)

// MonitorAcceptor is the subset of *monitor.Monitor the receiver drives.
// Kept as an interface so tests can substitute a fake without spinning up
// a real process/transcript correlation loop.
type MonitorAcceptor interface {
	RegisterSession(provider, sessionID, cwd string) monitor.SessionSnapshot
	ApplyHookUpdate(sessionID string, phase monitor.ActivityPhase, state monitor.SessionState) bool
}

// OnSessionStart is notified after a SessionStart event registers or
// wakes a session, so Auto-Thread Discovery can react out of band
// (spec.md §4.H: "...then notifies the Auto-Thread Discovery").
type OnSessionStart func(snapshot monitor.SessionSnapshot)

// TailReader reads the last assistant text block of a transcript
// (spec.md §4.H's fire-and-forget tail read). Implemented by
// ReadLastAssistantText; an interface so handler tests can stub it.
type TailReader func(path string) (string, error)

// ChatForwarder delivers the Stop event's tail-read text to the bound
// chat thread once it's available (spec.md §4.H: "...forward as a chat
// message").
type ChatForwarder func(provider, sessionID, text string)

// Receiver maps validated hook events onto the Session Monitor (spec.md
// §4.H's event-name -> action table).
type Receiver struct {
	Monitor       MonitorAcceptor
	OnStart       OnSessionStart
	TailRead      TailReader
	ChatForward   ChatForwarder
}

// NewReceiver wires a Receiver, with TailRead set to
// ReadLastAssistantText.
func NewReceiver(m MonitorAcceptor, onStart OnSessionStart, forward ChatForwarder) *Receiver {
	return &Receiver{Monitor: m, OnStart: onStart, TailRead: ReadLastAssistantText, ChatForward: forward}
}

// Handle dispatches one validated event per spec.md §4.H's table. The
// Stop event's transcript tail-read is fire-and-forget: it runs in its
// own goroutine and never blocks Handle's return, matching the
// "asynchronously read... and forward" wording.
func (r *Receiver) Handle(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	switch ev.HookEventName {
	case EventSessionStart:
		snap := r.Monitor.RegisterSession(ev.Provider, ev.SessionID, ev.CWD)
		if r.OnStart != nil {
			r.OnStart(snap)
		}

	case EventSessionEnd:
		r.Monitor.ApplyHookUpdate(ev.SessionID, "", monitor.StateCompleted)

	case EventStop:
		r.Monitor.ApplyHookUpdate(ev.SessionID, monitor.PhaseInteractable, monitor.StateActive)
		if ev.TranscriptPath != "" && r.TailRead != nil && r.ChatForward != nil {
			provider := ev.Provider
			sessionID := ev.SessionID
			transcriptPath := ev.TranscriptPath
			go func() {
				text, err := r.TailRead(transcriptPath)
				if err != nil {
					slog.Warn("hook.tail_read_failed", "session_id", sessionID, "error", err)
					return
				}
				if text == "" {
					return
				}
				r.ChatForward(provider, sessionID, text)
			}()
		}

	case EventUserPromptSubmit:
		r.Monitor.ApplyHookUpdate(ev.SessionID, monitor.PhaseBusy, monitor.StateActive)

	case EventNotification:
		switch ev.NotificationType {
		case NotificationPermissionPrompt:
			r.Monitor.ApplyHookUpdate(ev.SessionID, monitor.PhaseWaitingPermission, monitor.StateActive)
		case NotificationIdlePrompt, NotificationElicitation:
			r.Monitor.ApplyHookUpdate(ev.SessionID, monitor.PhaseWaitingQuestion, monitor.StateActive)
		}

	default:
		slog.Debug("hook.unhandled_event", "event", ev.HookEventName)
	}

	return nil
}
