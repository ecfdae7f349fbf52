package clisubprocess

import (
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/praytools/pray-bot/internal/agentsession"
	"github.com/stretchr/testify/require"
)

func newTestAdapter() *Adapter {
	return &Adapter{tracker: agentsession.NewStatusTracker()}
}

// TestInterruptKillsInFlightSubprocess covers spec.md §5's "D2 sends
// SIGKILL to its subprocess" requirement.
func TestInterruptKillsInFlightSubprocess(t *testing.T) {
	a := newTestAdapter()

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	a.mu.Lock()
	a.cmd = cmd
	a.mu.Unlock()

	require.NoError(t, a.Interrupt(nil))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		require.Error(t, err, "a killed process must report a non-nil wait error")
	case <-time.After(5 * time.Second):
		t.Fatal("subprocess did not exit after Interrupt")
	}
}

func TestInterruptNoopWhenNoActiveSend(t *testing.T) {
	a := newTestAdapter()
	require.NoError(t, a.Interrupt(nil))
}

// TestFinishTracksPerSendTurnIndex covers the D2 turn-index fix: each
// lineRunner carries the turn index its Send call was assigned, instead
// of always reporting 0.
func TestFinishTracksPerSendTurnIndexNoEnvelope(t *testing.T) {
	a := newTestAdapter()
	events := make(chan agentsession.AgentEvent, 4)
	r := &lineRunner{adapter: a, events: events, turnIndex: 3}

	r.finish(nil)

	ev := <-events
	require.Equal(t, agentsession.KindTurnComplete, ev.Kind)
	require.Equal(t, 3, ev.TurnComplete.TurnIndex)
}

func TestFinishTracksPerSendTurnIndexWithEnvelope(t *testing.T) {
	a := newTestAdapter()
	events := make(chan agentsession.AgentEvent, 4)
	r := &lineRunner{
		adapter:   a,
		events:    events,
		turnIndex: 5,
		lastEnvelope: &rawResultEnvelope{
			Result:  "done",
			Subtype: "success",
			Usage:   rawUsage{InputTokens: 1, OutputTokens: 2},
		},
	}

	r.finish(nil)

	// Drain the possible text-remainder event before the turn_complete one.
	var turnEv agentsession.AgentEvent
	for i := 0; i < 2; i++ {
		ev := <-events
		if ev.Kind == agentsession.KindTurnComplete {
			turnEv = ev
			break
		}
	}
	require.Equal(t, agentsession.KindTurnComplete, turnEv.Kind)
	require.Equal(t, 5, turnEv.TurnComplete.TurnIndex)
}

func TestFinishWaitErrorEmitsRecoverableError(t *testing.T) {
	a := newTestAdapter()
	events := make(chan agentsession.AgentEvent, 4)
	r := &lineRunner{adapter: a, events: events, turnIndex: 0}

	r.finish(errors.New("exit status 1"))

	ev := <-events
	require.Equal(t, agentsession.KindError, ev.Kind)
	require.True(t, ev.Error.Recoverable)
}
