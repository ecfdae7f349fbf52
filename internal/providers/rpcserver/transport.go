package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ServerRequestHandler answers a server-initiated request (approval /
// user-input prompts). Returning an error replies with an RPC error.
type ServerRequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// NotificationHandler observes a server notification.
type NotificationHandler func(method string, params json.RawMessage)

// Transport owns one subprocess and the JSON-RPC framing over its stdio.
type Transport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID int64

	mu      sync.Mutex
	pending map[string]chan rpcMessage
	closed  bool

	onNotification NotificationHandler
	onServerReq    ServerRequestHandler

	writeMu sync.Mutex
}

// Spawn starts command/args with the given working directory and begins
// reading its stdout in a background goroutine.
func Spawn(ctx context.Context, command string, args []string, workDir string, onNotif NotificationHandler, onReq ServerRequestHandler) (*Transport, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = workDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	t := &Transport{
		cmd:            cmd,
		stdin:          stdin,
		pending:        make(map[string]chan rpcMessage),
		onNotification: onNotif,
		onServerReq:    onReq,
	}
	go t.readLoop(stdout)
	return t, nil
}

func (t *Transport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		t.dispatch(msg)
	}
	t.rejectAllPending(fmt.Errorf("rpcserver: stdout closed"))
}

func (t *Transport) dispatch(msg rpcMessage) {
	switch {
	case msg.isResponse():
		t.mu.Lock()
		ch, ok := t.pending[string(msg.ID)]
		if ok {
			delete(t.pending, string(msg.ID))
		}
		t.mu.Unlock()
		if ok {
			ch <- msg
		}

	case msg.isServerRequest():
		go t.handleServerRequest(msg)

	case msg.isNotification():
		if t.onNotification != nil {
			t.onNotification(msg.Method, msg.Params)
		}
	}
}

func (t *Transport) handleServerRequest(msg rpcMessage) {
	var result any
	var rpcErr *rpcError

	if t.onServerReq != nil {
		r, err := t.onServerReq(context.Background(), msg.Method, msg.Params)
		if err != nil {
			rpcErr = &rpcError{Code: -32000, Message: err.Error()}
		} else {
			result = r
		}
	} else {
		result = ApprovalDecision{Decision: "decline"}
	}

	reply := rpcMessage{JSONRPC: "2.0", ID: msg.ID, Error: rpcErr}
	if rpcErr == nil {
		raw, _ := json.Marshal(result)
		reply.Result = raw
	}
	_ = t.writeMessage(reply)
}

func (t *Transport) rejectAllPending(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		ch <- rpcMessage{Error: &rpcError{Code: -1, Message: err.Error()}}
		delete(t.pending, id)
	}
}

// Call sends a request and blocks for its response.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := fmt.Sprintf("%d", atomic.AddInt64(&t.nextID, 1))
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	replyCh := make(chan rpcMessage, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("rpcserver: transport closed")
	}
	t.pending[idJSON(id)] = replyCh
	t.mu.Unlock()

	msg := rpcMessage{JSONRPC: "2.0", ID: json.RawMessage(idJSON(id)), Method: method, Params: raw}
	if err := t.writeMessage(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		if reply.Error != nil {
			return nil, reply.Error
		}
		return reply.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func idJSON(id string) string { return `"` + id + `"` }

func (t *Transport) writeMessage(msg rpcMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(append(raw, '\n'))
	return err
}

// Close sends SIGTERM, escalating to SIGKILL after 1s, and rejects all
// pending calls with an exit reason.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	_ = t.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = t.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		_ = t.cmd.Process.Kill()
		<-done
	}

	t.rejectAllPending(fmt.Errorf("rpcserver: session closed"))
	return nil
}
