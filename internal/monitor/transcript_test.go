package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractMetadataBusyPhase(t *testing.T) {
	lines := [][]byte{
		[]byte(`{"type":"user","cwd":"/home/x/proj","message":{"role":"user","content":"do the thing"}}`),
		[]byte(`{"type":"assistant","message":{"role":"assistant","model":"m1","content":[{"type":"text","text":"working..."}],"usage":{"input_tokens":10,"output_tokens":5}}}`),
	}
	meta := extractMetadata(lines)
	require.Equal(t, PhaseBusy, meta.ActivityPhase)
	require.Equal(t, "m1", meta.Model)
	require.EqualValues(t, 10, meta.Tokens.Input)
	require.EqualValues(t, 5, meta.Tokens.Output)
}

func TestExtractMetadataWaitingPermission(t *testing.T) {
	lines := [][]byte{
		[]byte(`{"type":"user","message":{"role":"user","content":"run the build"}}`),
		[]byte(`{"type":"assistant","message":{"role":"assistant","stop_reason":"tool_use","content":[{"type":"tool_use","id":"t1","name":"bash"}]}}`),
	}
	meta := extractMetadata(lines)
	require.Equal(t, PhaseWaitingPermission, meta.ActivityPhase)
	require.Equal(t, WaitPermission, meta.WaitReason)
	require.Contains(t, meta.WaitToolNames, "bash")
}

func TestExtractMetadataWaitingQuestion(t *testing.T) {
	lines := [][]byte{
		[]byte(`{"type":"assistant","message":{"role":"assistant","stop_reason":"tool_use","content":[{"type":"tool_use","id":"t1","name":"ask_user_question"}]}}`),
	}
	meta := extractMetadata(lines)
	require.Equal(t, PhaseWaitingQuestion, meta.ActivityPhase)
	require.Equal(t, WaitQuestion, meta.WaitReason)
}

func TestExtractMetadataInteractableAfterResolvedToolUse(t *testing.T) {
	lines := [][]byte{
		[]byte(`{"type":"assistant","message":{"role":"assistant","stop_reason":"tool_use","content":[{"type":"tool_use","id":"t1","name":"bash"}]}}`),
		[]byte(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1"}]}}`),
		[]byte(`{"type":"assistant","message":{"role":"assistant","stop_reason":"end_turn","content":[{"type":"text","text":"done"}]}}`),
	}
	meta := extractMetadata(lines)
	require.Equal(t, PhaseInteractable, meta.ActivityPhase)
	require.Empty(t, meta.WaitToolNames)
}

func TestTruncateUTF8(t *testing.T) {
	require.Equal(t, "hello", truncateUTF8("hello", 100))
	require.Equal(t, "he…", truncateUTF8("hello", 2))
}

func TestClassifyState(t *testing.T) {
	now := time.Now()
	require.Equal(t, StateActive, classifyState(now.Add(-1*time.Minute), now, false))
	require.Equal(t, StateIdle, classifyState(now.Add(-30*time.Minute), now, false))
	require.Equal(t, StateIdle, classifyState(now.Add(-2*time.Hour), now, true))
	require.Equal(t, StateCompleted, classifyState(now.Add(-2*time.Hour), now, false))
	require.Equal(t, StateStale, classifyState(now.Add(-25*time.Hour), now, false))
}
