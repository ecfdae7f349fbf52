// Package protocol defines the wire-level event vocabulary pushed from the
// gateway to connected control clients over the WebSocket push channel.
// The hook receiver's HTTP payload type lives in internal/hook.
package protocol

// ProtocolVersion is reported in /health and by the version subcommand.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	EventHealth          = "health"
	EventCron            = "cron"
	EventExecApprovalReq = "exec.approval.requested"
	EventExecApprovalRes = "exec.approval.resolved"
	EventSessionSnapshot = "session.snapshot"
	EventSessionGone     = "session.gone"
	EventHeartbeat       = "heartbeat"
)

// EventFrame is the JSON envelope broadcast to WebSocket clients.
type EventFrame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame for the given event name and payload.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Event: name, Payload: payload}
}
