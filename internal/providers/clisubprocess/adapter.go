// Package clisubprocess implements §4.D's D2 adapter: a CLI spawned with
// --output-format=stream-json, tailed line-buffered, translating its
// stream-json lines into agentsession.AgentEvents.
//
// Grounded on internal/tools/shell.go's exec.CommandContext + buffered
// stdout/stderr discipline (kept: CommandContext, Dir, explicit Wait) and
// internal/providers/anthropic_stream.go's bufio.Scanner-with-large-buffer
// SSE line loop, generalized from "append text deltas" to the
// prefix-delta reconstruction this adapter's wire format requires.
package clisubprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/praytools/pray-bot/internal/agentsession"
	"github.com/praytools/pray-bot/internal/telemetry"
)

var tracer = telemetry.Tracer("pray-bot/providers/clisubprocess")

// maxLineBuffer allows for large embedded diffs/tool outputs in one line.
const maxLineBuffer = 4 * 1024 * 1024

// Config configures one Adapter.
type Config struct {
	Command string   // e.g. "claude"
	Args    []string // base args, before --output-format/--resume/message
	WorkDir string
}

// Adapter is a D2 provider adapter: one Adapter instance corresponds to
// one logical session; each Send spawns a fresh subprocess, resuming by
// session id once one has been observed.
type Adapter struct {
	cfg Config
	sem *Semaphore

	tracker *agentsession.StatusTracker

	mu        sync.Mutex
	sessionID string
	closed    bool
	cmd       *exec.Cmd // the in-flight Send's subprocess, if any
	turnIndex int
}

// New creates an adapter sharing sem with every other D2 session against
// the same backend, enforcing the global subprocess concurrency cap.
func New(cfg Config, sem *Semaphore) *Adapter {
	return &Adapter{cfg: cfg, sem: sem, tracker: agentsession.NewStatusTracker()}
}

func (a *Adapter) GetStatus() agentsession.SessionStatus { return a.tracker.Snapshot() }

// Interrupt sends SIGKILL to the in-flight Send call's subprocess, per
// spec.md §5 ("D2 sends SIGKILL to its subprocess"). A noop if no Send is
// currently running.
func (a *Adapter) Interrupt(ctx context.Context) error {
	a.mu.Lock()
	cmd := a.cmd
	a.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.tracker.Close()
	return nil
}

func (a *Adapter) Send(ctx context.Context, message string) (agentsession.EventStream, error) {
	ctx, span := tracer.Start(ctx, "clisubprocess.Send")

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		err := fmt.Errorf("clisubprocess: session closed")
		telemetry.RecordError(span, err)
		span.End()
		return nil, err
	}
	resumeID := a.sessionID
	a.mu.Unlock()

	if err := a.sem.Acquire(ctx); err != nil {
		telemetry.RecordError(span, err)
		span.End()
		return nil, err
	}

	args := make([]string, 0, len(a.cfg.Args)+4)
	args = append(args, a.cfg.Args...)
	args = append(args, "--output-format=stream-json")
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	args = append(args, message)

	cmd := exec.CommandContext(ctx, a.cfg.Command, args...)
	cmd.Dir = a.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.sem.Release()
		telemetry.RecordError(span, err)
		span.End()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		a.sem.Release()
		telemetry.RecordError(span, err)
		span.End()
		return nil, err
	}

	a.mu.Lock()
	a.cmd = cmd
	turnIdx := a.turnIndex
	a.turnIndex++
	a.mu.Unlock()

	events := make(chan agentsession.AgentEvent, 16)
	errc := make(chan error, 1)

	a.tracker.BeginTurn()

	go func() {
		defer a.sem.Release()
		defer close(events)
		defer a.tracker.EndTurn()
		defer span.End()
		defer func() {
			a.mu.Lock()
			if a.cmd == cmd {
				a.cmd = nil
			}
			a.mu.Unlock()
		}()

		runner := &lineRunner{
			adapter:       a,
			events:        events,
			turnIndex:     turnIdx,
			seenToolCalls: make(map[string]bool),
			seenUX:        make(map[string]bool),
		}
		runner.run(stdout)

		waitErr := cmd.Wait()
		if waitErr != nil {
			telemetry.RecordError(span, waitErr)
		}
		runner.finish(waitErr)
	}()

	return agentsession.NewChannelStream(events, errc), nil
}

// lineRunner holds the per-send parsing state: prefix-delta text tracking
// and dedupe sets for tool calls and ux events.
type lineRunner struct {
	adapter *Adapter

	events chan<- agentsession.AgentEvent

	turnIndex int

	streamedText  string
	seenToolCalls map[string]bool
	seenUX        map[string]bool
	lastEnvelope  *rawResultEnvelope
}

func (r *lineRunner) run(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBuffer)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.handleLine(line)
	}
}

func (r *lineRunner) handleLine(line string) {
	var raw rawLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return
	}

	if raw.Type == "result" {
		var env rawResultEnvelope
		if err := json.Unmarshal([]byte(line), &env); err == nil {
			r.lastEnvelope = &env
		}
		return
	}

	if raw.SessionID != "" {
		r.adapter.mu.Lock()
		isNew := r.adapter.sessionID == ""
		r.adapter.sessionID = raw.SessionID
		r.adapter.mu.Unlock()
		if isNew {
			r.events <- agentsession.SessionEvent(raw.SessionID)
		}
	}

	if raw.Message == nil {
		return
	}

	for _, c := range raw.Message.Content {
		switch c.Type {
		case "tool_use":
			key := toolCallKey(c)
			if r.seenToolCalls[key] {
				continue
			}
			r.seenToolCalls[key] = true
			r.events <- agentsession.ToolCallEvent(c.Name, parseToolInput(c.Input), c.ID)
		case "tool_result":
			key := "tool_result:" + c.ToolUseID
			if r.seenUX[key] {
				continue
			}
			r.seenUX[key] = true
			r.events <- agentsession.UXEvent(key, "tool result received", agentsession.SeverityInfo, false)
		case "thinking":
			key := "thinking:" + c.Thinking
			if len(key) > 200 {
				key = key[:200]
			}
			if r.seenUX[key] {
				continue
			}
			r.seenUX[key] = true
			r.events <- agentsession.UXEvent(key, "thinking", agentsession.SeverityInfo, false)
		}
	}

	if raw.Message.Role != "assistant" {
		return
	}
	text := assistantText(raw.Message)
	if text == "" {
		return
	}
	if delta, changed := prefixDelta(r.streamedText, text); changed {
		r.streamedText = text
		r.events <- agentsession.TextEvent(delta, true)
	}
}

// finish runs once the subprocess stdout has been fully drained and the
// process has exited: handles the exit-code≠0 early-error path, else
// parses the final consolidated result envelope.
func (r *lineRunner) finish(waitErr error) {
	if waitErr != nil {
		r.events <- agentsession.ErrorEvent(waitErr.Error(), true)
		return
	}

	env := r.lastEnvelope
	if env == nil {
		r.events <- agentsession.TurnCompleteEvent(agentsession.TokenUsage{}, nil, r.turnIndex)
		return
	}

	usage := agentsession.TokenUsage{
		Input:  env.Usage.InputTokens,
		Output: env.Usage.OutputTokens,
		Cached: env.Usage.CacheReadInputTokens,
	}
	r.adapter.tracker.AddTokens(usage)

	if remainder, changed := prefixDelta(r.streamedText, env.Result); changed {
		r.events <- agentsession.TextEvent(remainder, false)
	}

	for _, denial := range env.PermissionDenials {
		sessionID := r.adapter.sessionID
		if ev, ok := parseAskUserQuestion(sessionID, denial); ok {
			r.events <- ev
		}
	}

	var costUsd *float64
	if env.TotalCostUsd > 0 {
		c := env.TotalCostUsd
		costUsd = &c
	}
	r.events <- agentsession.TurnCompleteEvent(usage, costUsd, r.turnIndex)

	if env.Subtype != "success" {
		r.events <- agentsession.ErrorEvent(fmt.Sprintf("turn finished with subtype %q", env.Subtype), true)
	}
}
