package routestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetByThreadID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	r := Route{
		ThreadID:        "thread-1",
		ParentChannelID: "chan-1",
		MappingKey:      "/home/user/proj",
		Provider:        ProviderClaude,
		Cwd:             "/home/user/proj",
		CreatedAt:       now,
		UpdatedAt:       now,
		AutoDiscovered:  true,
	}
	require.NoError(t, s.Upsert(ctx, r))

	got, ok, err := s.GetByThreadID(ctx, "thread-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "chan-1", got.ParentChannelID)
	require.Equal(t, "", got.ProviderSessionID)
	require.True(t, got.AutoDiscovered)
}

func TestCwdClaim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Upsert(ctx, Route{
		ThreadID:        "thread-2",
		ParentChannelID: "chan-1",
		MappingKey:      "/home/user/proj",
		Provider:        ProviderCodex,
		Cwd:             "/home/user/proj",
		CreatedAt:       now,
		UpdatedAt:       now,
	}))

	found, ok, err := s.FindUnclaimedByCwd(ctx, ProviderCodex, "/home/user/proj")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "thread-2", found.ThreadID)

	require.NoError(t, s.ClaimSessionID(ctx, "thread-2", "sess-abc", now.Add(time.Second)))

	byID, ok, err := s.GetBySession(ctx, ProviderCodex, "sess-abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "thread-2", byID.ThreadID)

	_, ok, err = s.FindUnclaimedByCwd(ctx, ProviderCodex, "/home/user/proj")
	require.NoError(t, err)
	require.False(t, ok, "claimed route must no longer be unclaimed")
}
