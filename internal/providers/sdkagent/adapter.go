package sdkagent

import (
	"context"
	"strings"

	"github.com/praytools/pray-bot/internal/agentsession"
	"github.com/praytools/pray-bot/internal/telemetry"
)

var tracer = telemetry.Tracer("pray-bot/providers/sdkagent")

// Adapter is a D1 provider adapter: a thin translation layer over a
// ThreadRunner, with no process or transport concerns of its own.
type Adapter struct {
	runner  ThreadRunner
	tracker *agentsession.StatusTracker
}

func New(runner ThreadRunner) *Adapter {
	return &Adapter{runner: runner, tracker: agentsession.NewStatusTracker()}
}

func (a *Adapter) GetStatus() agentsession.SessionStatus { return a.tracker.Snapshot() }

func (a *Adapter) Interrupt(ctx context.Context) error { return a.runner.Interrupt(ctx) }

func (a *Adapter) Close(ctx context.Context) error {
	a.tracker.Close()
	return nil
}

func (a *Adapter) Send(ctx context.Context, message string) (agentsession.EventStream, error) {
	spanCtx, span := tracer.Start(ctx, "sdkagent.Send")

	seq, err := a.runner.RunStreamed(spanCtx, message)
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		return nil, err
	}

	events := make(chan agentsession.AgentEvent, 16)
	errc := make(chan error, 1)

	a.tracker.BeginTurn()

	go func() {
		defer close(events)
		defer a.tracker.EndTurn()
		defer span.End()

		for {
			ev, ok, err := seq.Next(spanCtx)
			if err != nil {
				telemetry.RecordError(span, err)
				events <- agentsession.ErrorEvent(err.Error(), false)
				return
			}
			if !ok {
				return
			}
			a.translate(ev, events)
		}
	}()

	return agentsession.NewChannelStream(events, errc), nil
}

func (a *Adapter) translate(ev ThreadEvent, out chan<- agentsession.AgentEvent) {
	switch ev.Type {
	case ThreadEventTurnCompleted:
		if ev.Turn == nil {
			return
		}
		if ev.Turn.Failed {
			out <- agentsession.ErrorEvent(ev.Turn.Message, false)
			return
		}
		usage := agentsession.TokenUsage{Input: ev.Turn.Usage.Input, Output: ev.Turn.Usage.Output, Cached: ev.Turn.Usage.Cached}
		a.tracker.AddTokens(usage)
		out <- agentsession.TurnCompleteEvent(usage, ev.Turn.CostUsd, ev.Turn.TurnIndex)

	case ThreadEventItemCompleted:
		a.translateItemCompleted(ev.Item, out)

	case ThreadEventItemUpdated, ThreadEventItemStarted:
		if ev.Item != nil && ev.Item.Type == ItemTodoList {
			out <- todoEvent(ev.Item)
		}
	}
}

func (a *Adapter) translateItemCompleted(item *Item, out chan<- agentsession.AgentEvent) {
	if item == nil {
		return
	}

	switch item.Type {
	case ItemAgentMessage:
		if strings.TrimSpace(item.AgentMessageText) == "" {
			return
		}
		out <- agentsession.TextEvent(item.AgentMessageText, false)

	case ItemReasoning:
		out <- agentsession.ReasoningEvent(item.ReasoningText)

	case ItemCommandExecution:
		status := agentsession.CommandCompleted
		if item.CommandExecExitCode != 0 {
			status = agentsession.CommandFailed
		}
		exitCode := item.CommandExecExitCode
		out <- agentsession.CommandEvent(item.CommandExecCommand, status, &exitCode, "")
		for _, c := range item.CommandExecChanges {
			out <- agentsession.FileChangeEvent(agentsession.FileChangeKind(c.Kind), c.Path, c.Diff)
		}

	case ItemFileChange:
		for _, c := range item.FileChangeEntries {
			out <- agentsession.FileChangeEvent(agentsession.FileChangeKind(c.Kind), c.Path, c.Diff)
		}

	case ItemMCPToolCall:
		toolName := "mcp__" + item.MCPToolServer + "__" + item.MCPToolName
		out <- agentsession.ToolCallEvent(toolName, nil, "")
		if item.MCPToolStatus == "failed" {
			out <- agentsession.ErrorEvent("mcp tool call failed: "+toolName, true)
		}

	case ItemWebSearch:
		out <- agentsession.ToolCallEvent("web_search", map[string]any{"query": item.WebSearchQuery}, "")

	case ItemTodoList:
		out <- todoEvent(item)
	}
}

func todoEvent(item *Item) agentsession.AgentEvent {
	items := make([]agentsession.TodoItem, 0, len(item.TodoItems))
	for _, it := range item.TodoItems {
		items = append(items, agentsession.TodoItem{Content: it.Content, Status: agentsession.TodoStatus(it.Status)})
	}
	return agentsession.TodoEvent(items)
}
