package agentsession

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errAssertTurn = errors.New("turn failed")

func TestEndTurnIncrementsUnconditionallyIncludingOnFailure(t *testing.T) {
	tr := NewStatusTracker()

	runTurn := func(fail bool) (err error) {
		tr.BeginTurn()
		defer tr.EndTurn()
		require.Equal(t, StateProcessing, tr.Snapshot().State)
		if fail {
			return errAssertTurn
		}
		return nil
	}

	require.NoError(t, runTurn(false))
	require.Equal(t, 1, tr.Snapshot().TurnCount)
	require.Equal(t, StateIdle, tr.Snapshot().State)

	require.Error(t, runTurn(true))
	require.Equal(t, 2, tr.Snapshot().TurnCount)
	require.Equal(t, StateIdle, tr.Snapshot().State)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	tr := NewStatusTracker()
	tr.BeginTurn()
	tr.EndTurn()

	snap := tr.Snapshot()
	require.NotNil(t, snap.LastActivity)
	originalTime := *snap.LastActivity

	*snap.LastActivity = originalTime.Add(1000)

	fresh := tr.Snapshot()
	require.Equal(t, originalTime, *fresh.LastActivity)
}

func TestAddTokensAccumulates(t *testing.T) {
	tr := NewStatusTracker()
	tr.AddTokens(TokenUsage{Input: 10, Output: 5, Cached: 1})
	tr.AddTokens(TokenUsage{Input: 3, Output: 2, Cached: 0})

	got := tr.Snapshot().TotalTokens
	require.Equal(t, TokenUsage{Input: 13, Output: 7, Cached: 1}, got)
}

func TestCloseIsIdempotentAndStopsTurnCounting(t *testing.T) {
	tr := NewStatusTracker()
	tr.Close()
	tr.Close()
	require.Equal(t, StateClosed, tr.Snapshot().State)

	tr.BeginTurn()
	tr.EndTurn()
	require.Equal(t, 0, tr.Snapshot().TurnCount)
}
