package autothread

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/praytools/pray-bot/internal/monitor"
	"github.com/praytools/pray-bot/internal/routestore"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct{ channel string }

func (f fakeResolver) ResolveParentChannel(projectPath string) (string, bool) {
	if f.channel == "" {
		return "", false
	}
	return f.channel, true
}

type fakeCreator struct {
	mu      sync.Mutex
	created int
	nextID  func() string
}

func (f *fakeCreator) CreateThread(ctx context.Context, parentChannelID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return f.nextID(), nil
}

func (f *fakeCreator) SendEmbed(ctx context.Context, threadID, title, body string) error { return nil }

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendText(ctx context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func openTestStore(t *testing.T) *routestore.Store {
	path := filepath.Join(t.TempDir(), "routes.db")
	s, err := routestore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestCwdClaimPreventsDoubleThread covers spec.md §4.I(3)/§9's known
// hazard: a chat-initiated session pre-creates a route with an empty
// providerSessionId; when the backend's session later surfaces at the
// same cwd, discovery must claim the existing route rather than create a
// second thread.
func TestCwdClaimPreventsDoubleThread(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.Upsert(ctx, routestore.Route{
		ThreadID:        "thread-pre-created",
		ParentChannelID: "parent1",
		MappingKey:      "/home/x/proj",
		Provider:        routestore.ProviderClaude,
		Cwd:             "/home/x/proj",
		CreatedAt:       now,
		UpdatedAt:       now,
	}))

	creator := &fakeCreator{nextID: func() string { return "should-not-be-used" }}
	a := New(Config{}, store, fakeResolver{channel: "fallback"}, creator, &fakeSender{}, "")

	snap := monitor.SessionSnapshot{
		Provider:    "claude",
		SessionID:   "sess-123",
		ProjectPath: "/home/x/proj",
		State:       monitor.StateActive,
	}
	a.OnRefresh(map[string]monitor.SessionSnapshot{snap.SessionID: snap})

	require.Equal(t, 0, creator.created)

	route, found, err := store.GetBySession(ctx, routestore.ProviderClaude, "sess-123")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "thread-pre-created", route.ThreadID)
}

func TestDiscoverCreatesNewThreadWhenNoExistingRoute(t *testing.T) {
	store := openTestStore(t)
	creator := &fakeCreator{nextID: func() string { return "thread-new" }}
	a := New(Config{}, store, fakeResolver{channel: "parent1"}, creator, &fakeSender{}, "")

	snap := monitor.SessionSnapshot{
		Provider:    "claude",
		SessionID:   "sess-999",
		ProjectPath: "/home/y/proj",
		State:       monitor.StateActive,
	}
	a.OnRefresh(map[string]monitor.SessionSnapshot{snap.SessionID: snap})

	require.Equal(t, 1, creator.created)
	route, found, err := store.GetBySession(context.Background(), routestore.ProviderClaude, "sess-999")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "thread-new", route.ThreadID)
}

func TestDiscoverSkipsExcludedProjectPath(t *testing.T) {
	store := openTestStore(t)
	creator := &fakeCreator{nextID: func() string { return "thread-x" }}
	a := New(Config{ExcludedPrefixes: []string{"/home/excluded"}}, store, fakeResolver{channel: "parent1"}, creator, &fakeSender{}, "")

	snap := monitor.SessionSnapshot{
		Provider:    "claude",
		SessionID:   "sess-excl",
		ProjectPath: "/home/excluded/proj",
		State:       monitor.StateActive,
	}
	a.OnRefresh(map[string]monitor.SessionSnapshot{snap.SessionID: snap})

	require.Equal(t, 0, creator.created)
}

func TestEmitTransitionSendsOnStateChange(t *testing.T) {
	store := openTestStore(t)
	sender := &fakeSender{}
	now := time.Now()
	require.NoError(t, store.Upsert(context.Background(), routestore.Route{
		ThreadID: "thread-1", ParentChannelID: "parent1", Provider: routestore.ProviderClaude,
		ProviderSessionID: "sess-1", Cwd: "/home/z", CreatedAt: now, UpdatedAt: now,
	}))

	a := New(Config{}, store, fakeResolver{}, &fakeCreator{nextID: func() string { return "x" }}, sender, "")

	first := monitor.SessionSnapshot{Provider: "claude", SessionID: "sess-1", ProjectPath: "/home/z", State: monitor.StateActive}
	a.OnRefresh(map[string]monitor.SessionSnapshot{"sess-1": first})

	second := first
	second.State = monitor.StateCompleted
	a.OnRefresh(map[string]monitor.SessionSnapshot{"sess-1": second})

	require.Contains(t, sender.sent, "Session sess-1 is now completed.")
}
