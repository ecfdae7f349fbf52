// Package agentsession defines the provider-agnostic contract every
// backend adapter (internal/providers/sdkagent, clisubprocess, rpcserver)
// satisfies: a streaming AgentEvent sequence, uniform lifecycle, and
// token accounting.
//
// Grounded on pkg/protocol/events.go's string-constant event-kind
// discipline (AgentEventRunStarted/RunCompleted/ToolCall/...), generalized
// here from "payload.type string + map[string]any" into a typed tagged
// union of payload structs, since this hub's adapters need to build and
// consume these events in Go code rather than just forward opaque JSON to
// a browser client.
package agentsession

// EventKind tags which payload field of AgentEvent is populated.
type EventKind string

const (
	KindText         EventKind = "text"
	KindSession      EventKind = "session"
	KindReasoning    EventKind = "reasoning"
	KindToolCall     EventKind = "tool_call"
	KindToolResult   EventKind = "tool_result"
	KindFileChange   EventKind = "file_change"
	KindCommand      EventKind = "command"
	KindTodo         EventKind = "todo"
	KindUX           EventKind = "ux_event"
	KindQuestion     EventKind = "question"
	KindTurnComplete EventKind = "turn_complete"
	KindError        EventKind = "error"
)

type FileChangeKind string

const (
	FileChangeCreate FileChangeKind = "create"
	FileChangeEdit   FileChangeKind = "edit"
	FileChangeDelete FileChangeKind = "delete"
	FileChangeRename FileChangeKind = "rename"
)

type CommandStatus string

const (
	CommandRunning   CommandStatus = "running"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// TextPayload carries streaming or final assistant text.
type TextPayload struct {
	Text    string
	Partial bool
}

// SessionPayload announces the backend-assigned session identity. May
// arrive late, or never, depending on the provider.
type SessionPayload struct {
	SessionID string
}

type ReasoningPayload struct {
	Text string
}

type ToolCallPayload struct {
	ToolName   string
	ToolInput  map[string]any
	ToolCallID string
}

type ToolResultPayload struct {
	ToolCallID string
	Result     any
	IsError    bool
}

type FileChangePayload struct {
	Kind FileChangeKind
	Path string
	Diff string // empty when not available
}

type CommandPayload struct {
	Command  string
	Status   CommandStatus
	ExitCode *int
	Output   string
}

type TodoItem struct {
	Content string
	Status  TodoStatus
}

type TodoPayload struct {
	Items []TodoItem
}

// UXPayload is coalesced by Key by the consumer (UI layer), not by the adapter.
type UXPayload struct {
	Key       string
	Label     string
	Severity  Severity
	Immediate bool
}

type QuestionOption struct {
	Label       string
	Description string
}

type Question struct {
	Question    string
	Header      string
	Options     []QuestionOption
	MultiSelect bool
}

type QuestionPayload struct {
	SessionID string
	Questions []Question
}

// TokenUsage tracks accumulated token counts for one session.
type TokenUsage struct {
	Input  int
	Output int
	Cached int
}

func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Input:  u.Input + o.Input,
		Output: u.Output + o.Output,
		Cached: u.Cached + o.Cached,
	}
}

type TurnCompletePayload struct {
	Usage     TokenUsage
	CostUsd   *float64
	TurnIndex int
}

type ErrorPayload struct {
	Message     string
	Recoverable bool
}

// AgentEvent is a tagged union: exactly one payload field matching Kind is
// non-nil. Constructors below are the only supported way to build one.
type AgentEvent struct {
	Kind EventKind

	Text         *TextPayload
	Session      *SessionPayload
	Reasoning    *ReasoningPayload
	ToolCall     *ToolCallPayload
	ToolResult   *ToolResultPayload
	FileChange   *FileChangePayload
	Command      *CommandPayload
	Todo         *TodoPayload
	UX           *UXPayload
	Question     *QuestionPayload
	TurnComplete *TurnCompletePayload
	Error        *ErrorPayload
}

func TextEvent(text string, partial bool) AgentEvent {
	return AgentEvent{Kind: KindText, Text: &TextPayload{Text: text, Partial: partial}}
}

func SessionEvent(sessionID string) AgentEvent {
	return AgentEvent{Kind: KindSession, Session: &SessionPayload{SessionID: sessionID}}
}

func ReasoningEvent(text string) AgentEvent {
	return AgentEvent{Kind: KindReasoning, Reasoning: &ReasoningPayload{Text: text}}
}

func ToolCallEvent(toolName string, input map[string]any, toolCallID string) AgentEvent {
	return AgentEvent{Kind: KindToolCall, ToolCall: &ToolCallPayload{ToolName: toolName, ToolInput: input, ToolCallID: toolCallID}}
}

func ToolResultEvent(toolCallID string, result any, isError bool) AgentEvent {
	return AgentEvent{Kind: KindToolResult, ToolResult: &ToolResultPayload{ToolCallID: toolCallID, Result: result, IsError: isError}}
}

func FileChangeEvent(kind FileChangeKind, path, diff string) AgentEvent {
	return AgentEvent{Kind: KindFileChange, FileChange: &FileChangePayload{Kind: kind, Path: path, Diff: diff}}
}

func CommandEvent(command string, status CommandStatus, exitCode *int, output string) AgentEvent {
	return AgentEvent{Kind: KindCommand, Command: &CommandPayload{Command: command, Status: status, ExitCode: exitCode, Output: output}}
}

func TodoEvent(items []TodoItem) AgentEvent {
	return AgentEvent{Kind: KindTodo, Todo: &TodoPayload{Items: items}}
}

func UXEvent(key, label string, severity Severity, immediate bool) AgentEvent {
	return AgentEvent{Kind: KindUX, UX: &UXPayload{Key: key, Label: label, Severity: severity, Immediate: immediate}}
}

func QuestionEvent(sessionID string, questions []Question) AgentEvent {
	return AgentEvent{Kind: KindQuestion, Question: &QuestionPayload{SessionID: sessionID, Questions: questions}}
}

func TurnCompleteEvent(usage TokenUsage, costUsd *float64, turnIndex int) AgentEvent {
	return AgentEvent{Kind: KindTurnComplete, TurnComplete: &TurnCompletePayload{Usage: usage, CostUsd: costUsd, TurnIndex: turnIndex}}
}

func ErrorEvent(message string, recoverable bool) AgentEvent {
	return AgentEvent{Kind: KindError, Error: &ErrorPayload{Message: message, Recoverable: recoverable}}
}
