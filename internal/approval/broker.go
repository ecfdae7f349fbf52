// Package approval implements the Approval / Interaction Broker of
// spec.md §4.J: a pending-request registry that pairs asynchronous
// agent-side JSON-RPC approval requests (from internal/providers/rpcserver)
// with chat button/select interaction events, plus the simpler Hook
// Approval Bridge for pre-tool-use gates.
//
// Grounded on pkg/protocol/events.go's EventExecApprovalReq/Res constants
// (the teacher's own wire protocol already names this exact feature) and
// discordgo's MessageComponent button/select API for the concrete UI.
package approval

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Typed errors surfaced to HTTP/RPC callers per spec.md §7.
var (
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrInvalidDecision = errors.New("invalid_decision")
)

// Kind discriminates the three approval request shapes of spec.md §3.
type Kind string

const (
	KindCommandExecution Kind = "commandExecution"
	KindFileChange       Kind = "fileChange"
	KindToolUserInput    Kind = "toolUserInput"
)

// DecisionToken is the wire-level decision encoded in a button custom id.
type DecisionToken string

const (
	TokenAccept           DecisionToken = "accept"
	TokenAcceptForSession DecisionToken = "acceptForSession"
	TokenDecline          DecisionToken = "decline"
	TokenCancel           DecisionToken = "cancel"
)

// CustomIDPrefix namespaces this hub's interaction custom ids so the chat
// adapter can route them to the broker without guessing.
const CustomIDPrefix = "praybot"

// pendingIDAlphabet avoids visually ambiguous characters (0/O, 1/l).
const pendingIDAlphabet = "23456789abcdefghjkmnpqrstuvwxyz"
const pendingIDLength = 12

// QuestionOption is one selectable answer for a structured question.
type QuestionOption struct {
	Label       string
	Description string
}

// Question is one entry of a toolUserInput request's question manifest.
type Question struct {
	Question    string
	Header      string
	Options     []QuestionOption
	MultiSelect bool
}

// Result is what a resolved pending request yields to its caller.
type Result struct {
	Decision DecisionToken
	Answers  map[string]string // toolUserInput only, keyed by question index
}

// Pending is one outstanding approval/question request.
type Pending struct {
	PendingID   string
	RequestID   string
	Kind        Kind
	ThreadID    string
	TurnID      string
	ItemID      string
	ChannelID   string
	OwnerUserID string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
	ResolvedBy  string
	Decision    DecisionToken

	Command  string // commandExecution
	FilePath string // fileChange

	Questions       []Question // toolUserInput
	Answers         map[string]string
	ResponderUserID string
}

type entry struct {
	p      *Pending
	done   chan struct{}
	result Result
	once   sync.Once
}

// Broker is the pending-request registry. maxSize bounds it (default
// 1,000 per spec.md §4.J); on overflow it logs a warning and keeps
// accepting requests rather than evicting (spec.md §9 open question (b):
// the bound is advisory, not enforced).
type Broker struct {
	mu      sync.Mutex
	pending map[string]*entry
	maxSize int
}

// NewBroker creates an empty broker. maxSize<=0 uses the spec default.
func NewBroker(maxSize int) *Broker {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Broker{pending: make(map[string]*entry), maxSize: maxSize}
}

func newPendingID() string {
	b := make([]byte, pendingIDLength)
	buf := make([]byte, pendingIDLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// time-seeded id rather than panicking mid-request.
		now := time.Now().UnixNano()
		for i := range b {
			b[i] = pendingIDAlphabet[(now>>(uint(i)*3))%int64(len(pendingIDAlphabet))]
		}
		return string(b)
	}
	for i, v := range buf {
		b[i] = pendingIDAlphabet[int(v)%len(pendingIDAlphabet)]
	}
	return string(b)
}

func (b *Broker) register(p *Pending) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.maxSize {
		slog.Warn("approval.pending_overflow", "size", len(b.pending), "max", b.maxSize)
	}
	e := &entry{p: p, done: make(chan struct{})}
	b.pending[p.PendingID] = e
	return e
}

func (b *Broker) wait(ctx context.Context, e *entry) (Result, error) {
	select {
	case <-e.done:
		return e.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (b *Broker) resolveLocked(e *entry, decision DecisionToken, actorUserID string, answers map[string]string) {
	e.once.Do(func() {
		now := time.Now()
		e.p.ResolvedAt = &now
		e.p.ResolvedBy = actorUserID
		e.p.Decision = decision
		e.result = Result{Decision: decision, Answers: answers}
		close(e.done)
	})
}

// CommandApprovalRequest is the input for RequestCommandApproval.
type CommandApprovalRequest struct {
	RequestID, ThreadID, TurnID, ItemID, ChannelID, OwnerUserID, Command string
}

// RequestCommandApproval registers a commandExecution pending request and
// blocks until it is resolved (by a button click or admin resolve) or ctx
// is canceled.
func (b *Broker) RequestCommandApproval(ctx context.Context, req CommandApprovalRequest) (Result, error) {
	p := &Pending{
		PendingID:   newPendingID(),
		RequestID:   req.RequestID,
		Kind:        KindCommandExecution,
		ThreadID:    req.ThreadID,
		TurnID:      req.TurnID,
		ItemID:      req.ItemID,
		ChannelID:   req.ChannelID,
		OwnerUserID: req.OwnerUserID,
		Command:     req.Command,
		CreatedAt:   time.Now(),
	}
	e := b.register(p)
	return b.wait(ctx, e)
}

// FileChangeApprovalRequest is the input for RequestFileChangeApproval.
type FileChangeApprovalRequest struct {
	RequestID, ThreadID, TurnID, ItemID, ChannelID, OwnerUserID, FilePath string
}

// RequestFileChangeApproval registers a fileChange pending request.
func (b *Broker) RequestFileChangeApproval(ctx context.Context, req FileChangeApprovalRequest) (Result, error) {
	p := &Pending{
		PendingID:   newPendingID(),
		RequestID:   req.RequestID,
		Kind:        KindFileChange,
		ThreadID:    req.ThreadID,
		TurnID:      req.TurnID,
		ItemID:      req.ItemID,
		ChannelID:   req.ChannelID,
		OwnerUserID: req.OwnerUserID,
		FilePath:    req.FilePath,
		CreatedAt:   time.Now(),
	}
	e := b.register(p)
	return b.wait(ctx, e)
}

// ToolUserInputRequest is the input for RequestToolUserInput.
type ToolUserInputRequest struct {
	RequestID, ThreadID, TurnID, ItemID, ChannelID, OwnerUserID string
	Questions                                                   []Question
}

// RequestToolUserInput registers a toolUserInput pending request. It
// resolves once every question in the manifest has an answer (or via
// admin cancel/decline, which yields an empty answers map).
func (b *Broker) RequestToolUserInput(ctx context.Context, req ToolUserInputRequest) (Result, error) {
	p := &Pending{
		PendingID:   newPendingID(),
		RequestID:   req.RequestID,
		Kind:        KindToolUserInput,
		ThreadID:    req.ThreadID,
		TurnID:      req.TurnID,
		ItemID:      req.ItemID,
		ChannelID:   req.ChannelID,
		OwnerUserID: req.OwnerUserID,
		Questions:   req.Questions,
		Answers:     make(map[string]string),
		CreatedAt:   time.Now(),
	}
	e := b.register(p)
	return b.wait(ctx, e)
}

// Get returns the pending request by id, if present.
func (b *Broker) Get(pendingID string) (*Pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[pendingID]
	if !ok {
		return nil, false
	}
	return e.p, true
}

// HandleAction processes an `<prefix>:a:<kind>:<pendingId>:<token>` button
// click for a commandExecution/fileChange pending request.
func (b *Broker) HandleAction(pendingID string, kind Kind, token DecisionToken, actorUserID string) error {
	if kind == KindFileChange && token == TokenAcceptForSession {
		return fmt.Errorf("%w: acceptForSession is not valid for file changes", ErrInvalidDecision)
	}
	switch token {
	case TokenAccept, TokenAcceptForSession, TokenDecline, TokenCancel:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDecision, token)
	}

	b.mu.Lock()
	e, ok := b.pending[pendingID]
	b.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case <-e.done:
		return fmt.Errorf("%w: already processed", ErrInvalidRequest)
	default:
	}

	b.mu.Lock()
	b.resolveLocked(e, token, actorUserID, nil)
	b.mu.Unlock()
	return nil
}

// questionKey is the map key used for Answers, matching the 0-based
// question index as a string (the pendingId:questionIndex:optionIndex
// wire encoding uses integer indices).
func questionKey(idx int) string { return strconv.Itoa(idx) }

// HandleQuestionButton processes a `<prefix>:qb:<pendingId>:<qIdx>:<optIdx>`
// click, enforcing the single-responder rule.
func (b *Broker) HandleQuestionButton(pendingID string, questionIndex, optionIndex, actorUserID string) error {
	qIdx, err := strconv.Atoi(questionIndex)
	if err != nil {
		return fmt.Errorf("%w: bad question index", ErrInvalidRequest)
	}
	oIdx, err := strconv.Atoi(optionIndex)
	if err != nil {
		return fmt.Errorf("%w: bad option index", ErrInvalidRequest)
	}

	b.mu.Lock()
	e, ok := b.pending[pendingID]
	b.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if e.p.Kind != KindToolUserInput {
		return fmt.Errorf("%w: not a question request", ErrInvalidRequest)
	}
	if qIdx < 0 || qIdx >= len(e.p.Questions) {
		return fmt.Errorf("%w: question index out of range", ErrInvalidRequest)
	}
	q := e.p.Questions[qIdx]
	if oIdx < 0 || oIdx >= len(q.Options) {
		return fmt.Errorf("%w: option index out of range", ErrInvalidRequest)
	}

	return b.recordAnswer(e, qIdx, q.Options[oIdx].Label, actorUserID)
}

// HandleQuestionSelect processes a `<prefix>:q:sel:<pendingId>:<qIdx>`
// select-menu submission. value=="__other__" signals the fallback slash
// command hint and records nothing.
func (b *Broker) HandleQuestionSelect(pendingID, questionIndex, value, actorUserID string) (hint bool, err error) {
	if value == "__other__" {
		return true, nil
	}
	qIdx, convErr := strconv.Atoi(questionIndex)
	if convErr != nil {
		return false, fmt.Errorf("%w: bad question index", ErrInvalidRequest)
	}

	b.mu.Lock()
	e, ok := b.pending[pendingID]
	b.mu.Unlock()
	if !ok {
		return false, ErrNotFound
	}
	if e.p.Kind != KindToolUserInput {
		return false, fmt.Errorf("%w: not a question request", ErrInvalidRequest)
	}
	return false, b.recordAnswer(e, qIdx, value, actorUserID)
}

// HandleSlashAnswer processes the `/codex-input <pendingId> <1-based
// index> <answer>` fallback command.
func (b *Broker) HandleSlashAnswer(pendingID string, questionIndex1Based int, answer, actorUserID string) error {
	b.mu.Lock()
	e, ok := b.pending[pendingID]
	b.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if e.p.Kind != KindToolUserInput {
		return fmt.Errorf("%w: not a question request", ErrInvalidRequest)
	}
	qIdx := questionIndex1Based - 1
	if qIdx < 0 || qIdx >= len(e.p.Questions) {
		return fmt.Errorf("%w: question index out of range", ErrInvalidRequest)
	}
	return b.recordAnswer(e, qIdx, answer, actorUserID)
}

// recordAnswer enforces the single-responder rule (first responder's user
// id latches) and finalizes once every question has an answer.
func (b *Broker) recordAnswer(e *entry, qIdx int, answer, actorUserID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-e.done:
		return fmt.Errorf("%w: already processed", ErrInvalidRequest)
	default:
	}

	if e.p.ResponderUserID == "" {
		e.p.ResponderUserID = actorUserID
	} else if e.p.ResponderUserID != actorUserID {
		return fmt.Errorf("%w: already answered by another user", ErrInvalidRequest)
	}

	if e.p.Answers == nil {
		e.p.Answers = make(map[string]string)
	}
	e.p.Answers[questionKey(qIdx)] = answer

	if len(e.p.Answers) >= len(e.p.Questions) {
		answers := make(map[string]string, len(e.p.Answers))
		for k, v := range e.p.Answers {
			answers[k] = v
		}
		b.resolveLocked(e, "", actorUserID, answers)
	}
	return nil
}

// ResolvePending is the admin-initiated resolution path. cancel/decline are
// the only valid tokens for toolUserInput, yielding an empty answers map.
func (b *Broker) ResolvePending(pendingID string, token DecisionToken, actorUserID string) error {
	b.mu.Lock()
	e, ok := b.pending[pendingID]
	b.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case <-e.done:
		return fmt.Errorf("%w: already processed", ErrInvalidRequest)
	default:
	}

	if e.p.Kind == KindToolUserInput {
		if token != TokenCancel && token != TokenDecline {
			return fmt.Errorf("%w: toolUserInput only accepts cancel/decline", ErrInvalidDecision)
		}
		b.mu.Lock()
		b.resolveLocked(e, token, actorUserID, map[string]string{})
		b.mu.Unlock()
		return nil
	}

	switch token {
	case TokenAccept, TokenAcceptForSession, TokenDecline, TokenCancel:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDecision, token)
	}
	if e.p.Kind == KindFileChange && token == TokenAcceptForSession {
		return fmt.Errorf("%w: acceptForSession is not valid for file changes", ErrInvalidDecision)
	}
	b.mu.Lock()
	b.resolveLocked(e, token, actorUserID, nil)
	b.mu.Unlock()
	return nil
}

// EncodeActionCustomID builds the `<prefix>:a:<kind>:<pendingId>:<token>`
// custom id for an approve/decline button.
func EncodeActionCustomID(kind Kind, pendingID string, token DecisionToken) string {
	k := "cmd"
	if kind == KindFileChange {
		k = "file"
	}
	return fmt.Sprintf("%s:a:%s:%s:%s", CustomIDPrefix, k, pendingID, token)
}

// EncodeQuestionButtonCustomID builds a question-option button custom id.
func EncodeQuestionButtonCustomID(pendingID string, questionIndex, optionIndex int) string {
	return fmt.Sprintf("%s:qb:%s:%d:%d", CustomIDPrefix, pendingID, questionIndex, optionIndex)
}

// EncodeQuestionSelectCustomID builds a question select-menu custom id.
func EncodeQuestionSelectCustomID(pendingID string, questionIndex int) string {
	return fmt.Sprintf("%s:q:sel:%s:%d", CustomIDPrefix, pendingID, questionIndex)
}

// ParsedCustomID is the decoded form of any interaction custom id this
// package encodes.
type ParsedCustomID struct {
	Kind          string // "action" | "questionButton" | "questionSelect"
	ApprovalKind  Kind
	PendingID     string
	Decision      DecisionToken
	QuestionIndex string
	OptionIndex   string
}

// ParseCustomID decodes a button/select custom id produced by this package.
func ParseCustomID(s string) (*ParsedCustomID, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || parts[0] != CustomIDPrefix {
		return nil, fmt.Errorf("%w: not a praybot custom id", ErrInvalidRequest)
	}
	switch parts[1] {
	case "a":
		if len(parts) != 5 {
			return nil, fmt.Errorf("%w: malformed action custom id", ErrInvalidRequest)
		}
		kind := KindCommandExecution
		if parts[2] == "file" {
			kind = KindFileChange
		}
		return &ParsedCustomID{Kind: "action", ApprovalKind: kind, PendingID: parts[3], Decision: DecisionToken(parts[4])}, nil
	case "qb":
		if len(parts) != 5 {
			return nil, fmt.Errorf("%w: malformed question button custom id", ErrInvalidRequest)
		}
		return &ParsedCustomID{Kind: "questionButton", PendingID: parts[2], QuestionIndex: parts[3], OptionIndex: parts[4]}, nil
	case "q":
		if len(parts) != 5 || parts[2] != "sel" {
			return nil, fmt.Errorf("%w: malformed question select custom id", ErrInvalidRequest)
		}
		return &ParsedCustomID{Kind: "questionSelect", PendingID: parts[3], QuestionIndex: parts[4]}, nil
	default:
		return nil, fmt.Errorf("%w: unknown custom id kind %q", ErrInvalidRequest, parts[1])
	}
}
