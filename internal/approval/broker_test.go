package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCommandApprovalButtonFlow covers spec.md §8 scenario S7: a
// commandExecution request is posted, a button click resolves it.
func TestCommandApprovalButtonFlow(t *testing.T) {
	b := NewBroker(0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := b.RequestCommandApproval(ctx, CommandApprovalRequest{
			RequestID: "req1", ThreadID: "t1", ChannelID: "c1", OwnerUserID: "u1", Command: "echo test",
		})
		resultCh <- r
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(listPendingIDs(b)) == 1
	}, time.Second, 10*time.Millisecond)

	pendingID := listPendingIDs(b)[0]
	custom := EncodeActionCustomID(KindCommandExecution, pendingID, TokenAccept)
	parsed, err := ParseCustomID(custom)
	require.NoError(t, err)
	require.Equal(t, "action", parsed.Kind)
	require.Equal(t, KindCommandExecution, parsed.ApprovalKind)

	require.NoError(t, b.HandleAction(parsed.PendingID, parsed.ApprovalKind, parsed.Decision, "u1"))

	require.NoError(t, <-errCh)
	result := <-resultCh
	require.Equal(t, TokenAccept, result.Decision)

	err = b.HandleAction(pendingID, KindCommandExecution, TokenDecline, "u1")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestFileChangeRejectsAcceptForSession(t *testing.T) {
	b := NewBroker(0)
	p := &Pending{PendingID: "x", Kind: KindFileChange}
	e := b.register(p)
	_ = e

	err := b.HandleAction("x", KindFileChange, TokenAcceptForSession, "u1")
	require.ErrorIs(t, err, ErrInvalidDecision)

	err = b.ResolvePending("x", TokenAcceptForSession, "u1")
	require.ErrorIs(t, err, ErrInvalidDecision)
}

func TestToolUserInputSingleResponderLatch(t *testing.T) {
	b := NewBroker(0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() {
		r, _ := b.RequestToolUserInput(ctx, ToolUserInputRequest{
			RequestID: "req2", ThreadID: "t1", ChannelID: "c1", OwnerUserID: "u1",
			Questions: []Question{
				{Question: "proceed?", Options: []QuestionOption{{Label: "yes"}, {Label: "no"}}},
				{Question: "how many?", Options: []QuestionOption{{Label: "1"}, {Label: "2"}}},
			},
		})
		resultCh <- r
	}()

	require.Eventually(t, func() bool { return len(listPendingIDs(b)) == 1 }, time.Second, 10*time.Millisecond)
	pendingID := listPendingIDs(b)[0]

	require.NoError(t, b.HandleQuestionButton(pendingID, "0", "0", "alice"))

	err := b.HandleQuestionButton(pendingID, "1", "1", "bob")
	require.ErrorIs(t, err, ErrInvalidRequest)

	require.NoError(t, b.HandleQuestionButton(pendingID, "1", "1", "alice"))

	result := <-resultCh
	require.Equal(t, "yes", result.Answers["0"])
	require.Equal(t, "2", result.Answers["1"])
}

func TestToolUserInputAdminCancel(t *testing.T) {
	b := NewBroker(0)
	p := &Pending{PendingID: "y", Kind: KindToolUserInput, Questions: []Question{{Question: "q"}}}
	b.register(p)

	err := b.ResolvePending("y", TokenAccept, "admin")
	require.ErrorIs(t, err, ErrInvalidDecision)

	require.NoError(t, b.ResolvePending("y", TokenCancel, "admin"))

	e, ok := b.pending["y"]
	require.True(t, ok)
	select {
	case <-e.done:
	default:
		t.Fatal("expected pending request to be resolved")
	}
}

func TestParseCustomIDRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		id   string
	}{
		{"action", EncodeActionCustomID(KindFileChange, "abc123", TokenDecline)},
		{"questionButton", EncodeQuestionButtonCustomID("abc123", 2, 1)},
		{"questionSelect", EncodeQuestionSelectCustomID("abc123", 3)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := ParseCustomID(tc.id)
			require.NoError(t, err)
			require.Equal(t, "abc123", parsed.PendingID)
		})
	}

	_, err := ParseCustomID("not:ours")
	require.Error(t, err)
}

func listPendingIDs(b *Broker) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	return ids
}
