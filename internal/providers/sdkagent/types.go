// Package sdkagent implements §4.D's D1 adapter: it wraps a stateful SDK
// client that exposes runStreamed(message) → a lazy sequence of
// ThreadEvents, translating those into agentsession.AgentEvents.
//
// The concrete SDK client is out of scope (an external collaborator per
// spec §1); ThreadRunner is the seam a real client binds to. Grounded on
// internal/providers's ChatRequest/ChatResponse/StreamChunk adapter shape
// (teacher wraps a remote chat API behind its own request/response types)
// generalized to a thread/turn/item event model instead of token deltas.
package sdkagent

import "context"

type ThreadEventType string

const (
	ThreadEventItemStarted   ThreadEventType = "item.started"
	ThreadEventItemUpdated   ThreadEventType = "item.updated"
	ThreadEventItemCompleted ThreadEventType = "item.completed"
	ThreadEventTurnCompleted ThreadEventType = "turn.completed"
	ThreadEventTurnFailed    ThreadEventType = "turn.failed"
)

type ItemType string

const (
	ItemAgentMessage     ItemType = "agent_message"
	ItemReasoning        ItemType = "reasoning"
	ItemCommandExecution ItemType = "command_execution"
	ItemFileChange       ItemType = "file_change"
	ItemMCPToolCall      ItemType = "mcp_tool_call"
	ItemWebSearch        ItemType = "web_search"
	ItemTodoList         ItemType = "todo_list"
)

type FileChangeEntry struct {
	Kind string // create|edit|delete|rename
	Path string
	Diff string
}

type Item struct {
	Type ItemType

	AgentMessageText string

	ReasoningText string

	CommandExecCommand  string
	CommandExecExitCode int
	CommandExecChanges  []FileChangeEntry

	FileChangeEntries []FileChangeEntry

	MCPToolServer string
	MCPToolName   string
	MCPToolStatus string // "" | "failed"

	WebSearchQuery string

	TodoItems []TodoEntry
}

type TodoEntry struct {
	Content string
	Status  string // pending|in_progress|completed
}

type TurnResult struct {
	Usage     Usage
	CostUsd   *float64
	TurnIndex int

	Failed  bool
	Message string
}

type Usage struct {
	Input  int
	Output int
	Cached int
}

// ThreadEvent is one element of the lazy sequence runStreamed yields.
type ThreadEvent struct {
	Type ThreadEventType
	Item *Item
	Turn *TurnResult
}

// EventSequence is the lazy, single-consumer sequence runStreamed returns.
type EventSequence interface {
	Next(ctx context.Context) (ThreadEvent, bool, error)
}

// ThreadRunner is the capability this adapter wraps: an SDK client able to
// run one streamed turn and, optionally, interrupt it.
type ThreadRunner interface {
	RunStreamed(ctx context.Context, message string) (EventSequence, error)
	Interrupt(ctx context.Context) error
}
