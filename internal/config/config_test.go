package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.json"))
	require.NoError(t, err)
	require.Equal(t, 4488, cfg.Gateway.Port)
	require.Equal(t, 3, cfg.Monitor.ClaudeMaxConcurrent)
	require.Equal(t, filepath.Join(cfg.StateDir, "cron"), cfg.Cron.StoreDir)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"gateway": {"host": "127.0.0.1", "port": 9999},
		"monitor": {"claude_max_concurrent": 7, "poll_interval_ms": 500, "debounce_ms": 10000, "codex_lookback_days": 2}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Gateway.Host)
	require.Equal(t, 9999, cfg.Gateway.Port)
	require.Equal(t, 7, cfg.Monitor.ClaudeMaxConcurrent)
}

func TestLoadInvalidJSONErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"monitor": {"claude_max_concurrent": 7}}`), 0o644))

	t.Setenv("CLAUDE_MAX_CONCURRENT", "9")
	t.Setenv("PRAY_BOT_DISCORD_TOKEN", "tok-123")
	t.Setenv("PRAY_BOT_OWNER_IDS", "u1,u2,u3")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Monitor.ClaudeMaxConcurrent, "env var must win over file value")
	require.Equal(t, "tok-123", cfg.Channels.Discord.Token)
	require.True(t, cfg.Channels.Discord.Enabled, "a non-empty token auto-enables the channel")
	require.Equal(t, FlexibleStringSlice{"u1", "u2", "u3"}, cfg.Gateway.OwnerIDs)
}

func TestEnvOverrideIgnoresInvalidIntValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAUDE_MAX_CONCURRENT", "not-a-number")

	cfg, err := Load(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Monitor.ClaudeMaxConcurrent, "invalid env value must not override the default")
}

func TestChannelsFileOverlay(t *testing.T) {
	dir := t.TempDir()
	channelsPath := filepath.Join(dir, "channels.json")
	require.NoError(t, os.WriteFile(channelsPath, []byte(`{
		"fallback_channel_id": "fallback-1",
		"routes": {"/home/user/proj": "chan-1"}
	}`), 0o644))

	t.Setenv("PRAY_BOT_CHANNELS_FILE", channelsPath)

	cfg, err := Load(filepath.Join(dir, "missing-config.json"))
	require.NoError(t, err)
	require.Equal(t, "fallback-1", cfg.Channels.Fallback)
	require.Equal(t, "chan-1", cfg.Channels.Routes["/home/user/proj"])
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := Default()
	cfg.Gateway.Port = 5050
	cfg.Channels.Discord.Token = "secret"

	require.NoError(t, Save(path, cfg))

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5050, reloaded.Gateway.Port)
	require.Equal(t, "secret", reloaded.Channels.Discord.Token)

	// The atomic-write temp file must not be left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "config.json", entries[0].Name())
}

func TestFlexibleStringSliceAcceptsStringsOrNumbers(t *testing.T) {
	var f FlexibleStringSlice
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &f))
	require.Equal(t, FlexibleStringSlice{"a", "b"}, f)

	var g FlexibleStringSlice
	require.NoError(t, json.Unmarshal([]byte(`[123, 456]`), &g))
	require.Equal(t, FlexibleStringSlice{"123", "456"}, g)
}

func TestHasAnyChannel(t *testing.T) {
	cfg := Default()
	require.False(t, cfg.HasAnyChannel())

	cfg.Channels.Telegram.Enabled = true
	require.True(t, cfg.HasAnyChannel())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	require.Equal(t, filepath.Join(home, "foo/bar"), ExpandHome("~/foo/bar"))
	require.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	require.Equal(t, home, ExpandHome("~"))
	require.Equal(t, "", ExpandHome(""))
}
