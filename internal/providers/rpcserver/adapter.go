package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/praytools/pray-bot/internal/agentsession"
	"github.com/praytools/pray-bot/internal/telemetry"
)

var tracer = telemetry.Tracer("pray-bot/providers/rpcserver")

// ApprovalCallback answers an item/{commandExecution,fileChange,tool}
// requestApproval/requestUserInput server request. kind is one of
// MethodRequestCommandApproval, MethodRequestFileApproval,
// MethodRequestToolUserInput.
type ApprovalCallback func(ctx context.Context, kind string, params json.RawMessage) (ApprovalDecision, error)

// Config configures one persistent D3 session.
type Config struct {
	Command   string
	Args      []string
	WorkDir   string
	ResumeID  string // empty to start a new thread
	Approvals ApprovalCallback
}

// Adapter is a D3 provider adapter: one persistent subprocess for the
// whole session lifetime, with sequential turns over it.
type Adapter struct {
	cfg     Config
	tracker *agentsession.StatusTracker

	mu        sync.Mutex
	transport *Transport
	sessionID string
	turnIndex int
	turn      *turnState
	closed    bool
}

type turnState struct {
	events chan agentsession.AgentEvent
	errc   chan error
	span   trace.Span

	mu           sync.Mutex
	deltaBuffers map[string]*strings.Builder
	completed    []string
	finished     bool
}

// Start spawns the subprocess and runs initialize + thread/start|resume.
func Start(ctx context.Context, cfg Config) (*Adapter, error) {
	a := &Adapter{cfg: cfg, tracker: agentsession.NewStatusTracker(), sessionID: cfg.ResumeID}

	transport, err := Spawn(ctx, cfg.Command, cfg.Args, cfg.WorkDir, a.onNotification, a.onServerRequest)
	if err != nil {
		return nil, err
	}
	a.transport = transport

	if _, err := transport.Call(ctx, MethodInitialize, map[string]any{}); err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("rpcserver: initialize: %w", err)
	}

	method := MethodThreadStart
	params := map[string]any{}
	if cfg.ResumeID != "" {
		method = MethodThreadResume
		params["sessionId"] = cfg.ResumeID
	}
	result, err := transport.Call(ctx, method, params)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("rpcserver: %s: %w", method, err)
	}
	var started struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(result, &started)
	if started.SessionID != "" {
		a.sessionID = started.SessionID
	}

	return a, nil
}

func (a *Adapter) GetStatus() agentsession.SessionStatus { return a.tracker.Snapshot() }

// Interrupt ends the whole session: it delegates to Close, which sends
// SIGTERM, escalates to SIGKILL after 1s, and rejects pending calls. The
// adapter accepts no further Send calls afterwards.
func (a *Adapter) Interrupt(ctx context.Context) error {
	return a.Close(ctx)
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	transport := a.transport
	a.mu.Unlock()

	a.tracker.Close()
	if transport != nil {
		return transport.Close()
	}
	return nil
}

func (a *Adapter) Send(ctx context.Context, message string) (agentsession.EventStream, error) {
	ctx, span := tracer.Start(ctx, "rpcserver.Send")

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		err := fmt.Errorf("rpcserver: session closed")
		telemetry.RecordError(span, err)
		span.End()
		return nil, err
	}
	if a.turn != nil {
		a.mu.Unlock()
		err := fmt.Errorf("rpcserver: a turn is already in progress")
		telemetry.RecordError(span, err)
		span.End()
		return nil, err
	}
	t := &turnState{
		events:       make(chan agentsession.AgentEvent, 16),
		errc:         make(chan error, 1),
		span:         span,
		deltaBuffers: make(map[string]*strings.Builder),
	}
	a.turn = t
	transport := a.transport
	a.mu.Unlock()

	a.tracker.BeginTurn()

	if _, err := transport.Call(ctx, MethodTurnStart, map[string]any{"message": message}); err != nil {
		a.finishTurn(t, err)
		return nil, err
	}

	return agentsession.NewChannelStream(t.events, t.errc), nil
}

// finishTurn closes out the current turn, clearing a.turn so the next
// Send can start, and releases the status tracker's turn bookkeeping.
func (a *Adapter) finishTurn(t *turnState, err error) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.mu.Unlock()

	if err != nil {
		if t.span != nil {
			telemetry.RecordError(t.span, err)
		}
		select {
		case t.errc <- err:
		default:
		}
	}
	if t.span != nil {
		t.span.End()
	}
	close(t.events)
	a.tracker.EndTurn()

	a.mu.Lock()
	a.turn = nil
	a.mu.Unlock()
}

func (a *Adapter) currentTurn() *turnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turn
}

func (a *Adapter) onNotification(method string, raw json.RawMessage) {
	t := a.currentTurn()
	if t == nil {
		return
	}

	switch method {
	case MethodItemAgentMessageDelta:
		p := parseParams[agentMessageDeltaParams](raw)
		t.mu.Lock()
		buf, ok := t.deltaBuffers[p.ItemID]
		if !ok {
			buf = &strings.Builder{}
			t.deltaBuffers[p.ItemID] = buf
		}
		buf.WriteString(p.Delta)
		t.mu.Unlock()
		t.events <- agentsession.TextEvent(p.Delta, true)

	case MethodItemCompleted:
		p := parseParams[itemCompletedParams](raw)
		if p.Item.Type == "agent_message" && strings.TrimSpace(p.Item.AgentMessage.Text) != "" {
			t.mu.Lock()
			t.completed = append(t.completed, p.Item.AgentMessage.Text)
			t.mu.Unlock()
		}

	case MethodTurnCompleted:
		p := parseParams[turnCompletedParams](raw)
		a.handleTurnCompleted(t, p)

	case "error":
		p := parseParams[errorNotificationParams](raw)
		if !p.WillRetry {
			t.events <- agentsession.ErrorEvent(p.Message, false)
			a.finishTurn(t, nil)
		}
	}
}

func (a *Adapter) handleTurnCompleted(t *turnState, p turnCompletedParams) {
	t.mu.Lock()
	var finalText string
	if len(t.completed) > 0 {
		finalText = strings.Join(t.completed, "\n\n")
	} else {
		var parts []string
		for _, buf := range t.deltaBuffers {
			if buf.Len() > 0 {
				parts = append(parts, buf.String())
			}
		}
		finalText = strings.Join(parts, "\n\n")
	}
	t.mu.Unlock()

	if finalText != "" {
		t.events <- agentsession.TextEvent(finalText, false)
	}

	if p.Status == "failed" {
		msg := "turn failed"
		if p.Error != nil {
			msg = p.Error.Message
			if p.Error.AdditionalDetails != "" {
				msg += ": " + p.Error.AdditionalDetails
			}
		}
		t.events <- agentsession.ErrorEvent(msg, false)
		a.finishTurn(t, nil)
		return
	}

	usage := agentsession.TokenUsage{Input: p.Usage.Input, Output: p.Usage.Output, Cached: p.Usage.Cached}
	a.tracker.AddTokens(usage)

	a.mu.Lock()
	a.turnIndex++
	idx := a.turnIndex
	a.mu.Unlock()

	t.events <- agentsession.TurnCompleteEvent(usage, p.CostUsd, idx)
	a.finishTurn(t, nil)
}

func (a *Adapter) onServerRequest(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodRequestCommandApproval, MethodRequestFileApproval, MethodRequestToolUserInput:
		if a.cfg.Approvals == nil {
			return defaultDecision(method, params), nil
		}
		decision, err := a.cfg.Approvals(ctx, method, params)
		if err != nil {
			return nil, err
		}
		return decision, nil
	default:
		return nil, fmt.Errorf("rpcserver: unhandled server request %q", method)
	}
}

// defaultDecision implements §4.D's "absence of a callback yields decline
// (or a default answer set: first option's label, else empty string)".
func defaultDecision(method string, params json.RawMessage) ApprovalDecision {
	if method != MethodRequestToolUserInput {
		return ApprovalDecision{Decision: "decline"}
	}
	var q struct {
		Questions []struct {
			ID      string `json:"id"`
			Options []struct {
				Label string `json:"label"`
			} `json:"options"`
		} `json:"questions"`
	}
	_ = json.Unmarshal(params, &q)
	answers := make(map[string]any, len(q.Questions))
	for _, question := range q.Questions {
		if len(question.Options) > 0 {
			answers[question.ID] = question.Options[0].Label
		} else {
			answers[question.ID] = ""
		}
	}
	return ApprovalDecision{Decision: "accept", Answers: answers}
}
