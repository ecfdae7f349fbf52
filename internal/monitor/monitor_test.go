package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterSessionAndHookOverride(t *testing.T) {
	m := New(Config{HomeDir: t.TempDir()})

	snap := m.RegisterSession("claude", "sess-1", "/home/x/proj")
	require.Equal(t, StateActive, snap.State)

	ok := m.ApplyHookUpdate("sess-1", PhaseWaitingPermission, "")
	require.True(t, ok)

	got, found := m.Snapshot("sess-1")
	require.True(t, found)
	require.Equal(t, PhaseWaitingPermission, got.ActivityPhase)

	require.False(t, m.ApplyHookUpdate("unknown", PhaseBusy, ""))
}

func TestRefreshOnceDiscoversTranscript(t *testing.T) {
	home := t.TempDir()
	projectDir := filepath.Join(home, "projects", "-home-x-proj")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	sessionID := "11111111-1111-1111-1111-111111111111"
	content := `{"type":"user","cwd":"/home/x/proj","gitBranch":"main","message":{"role":"user","content":"hi"}}
{"type":"assistant","message":{"role":"assistant","model":"m1","stop_reason":"end_turn","content":[{"type":"text","text":"hello"}]}}
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, sessionID+".jsonl"), []byte(content), 0o644))

	m := New(Config{HomeDir: home})

	var refreshed map[string]SessionSnapshot
	m.RegisterOnRefresh(func(snaps map[string]SessionSnapshot) { refreshed = snaps })

	require.NoError(t, m.Refresh(context.Background()))

	snap, ok := refreshed[sessionID]
	require.True(t, ok)
	require.Equal(t, "main", snap.GitBranch)
	require.Equal(t, StateActive, snap.State)
	require.Equal(t, PhaseInteractable, snap.ActivityPhase)
}

func TestRefreshCoalescesConcurrentCalls(t *testing.T) {
	m := New(Config{HomeDir: t.TempDir()})
	var calls int
	m.RegisterOnRefresh(func(map[string]SessionSnapshot) { calls++ })

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_ = m.Refresh(context.Background())
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	require.Eventually(t, func() bool { return calls >= 1 }, time.Second, 5*time.Millisecond)
}
