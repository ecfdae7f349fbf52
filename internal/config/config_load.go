package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultStateDirName is the directory name under the user's home used for
// all persisted state per spec.md §6 (cron store, auto-thread routes, …).
const DefaultStateDirName = ".pray-bot"

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		StateDir: filepath.Join(home, DefaultStateDirName),
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 4488,
		},
		Monitor: MonitorConfig{
			ClaudeMaxConcurrent: 3,
			PollIntervalMs:      500,
			DebounceMs:          10000,
			CodexLookbackDays:   2,
		},
		Throttle: ThrottleConfig{
			MergeWindowMs:       300,
			ChannelMaxQueueSize: 100,
			ChannelRateLimit:    5,
			ChannelRateWindowMs: 5000,
			GlobalRateLimit:     50,
			GlobalRateWindowMs:  1000,
		},
		Cron: CronConfig{
			DefaultTimeoutMs: 30000,
			StuckThresholdMs: 2 * 60 * 60 * 1000,
		},
		Hook: HookConfig{
			Addr: "0.0.0.0:4488",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pray-bot",
			Protocol:    "grpc",
		},
	}
}

// Load reads config from a JSON file (if present), then overlays env vars.
// A missing file is not an error: defaults + env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.applyDerivedPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDerivedPaths()
	return cfg, nil
}

// applyEnvOverrides overlays the environment variables named in spec.md §6.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("CLAUDE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Monitor.ClaudeMaxConcurrent = n
		}
	}
	if v := os.Getenv("PRAY_BOT_ENABLE_CODEX_CONFIG_FIX"); v != "" {
		c.Monitor.EnableCodexConfigFix = v == "true" || v == "1"
	}
	envStr("OUTPUT_FORMAT", &c.Monitor.OutputFormat)

	if v := os.Getenv("PRAY_BOT_CHANNELS_FILE"); v != "" {
		c.applyChannelsFile(v)
	}

	envStr("PRAY_BOT_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("PRAY_BOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("PRAY_BOT_TELEGRAM_CHAT_ID", &c.Channels.Telegram.ChatID)
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("PRAY_BOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("PRAY_BOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("PRAY_BOT_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = FlexibleStringSlice(strings.Split(v, ","))
	}

	envStr("PRAY_BOT_STATE_DIR", &c.StateDir)
}

// applyChannelsFile loads a secondary JSON file (named by
// PRAY_BOT_CHANNELS_FILE) that overlays just the channel routing table —
// kept separate from the main config so routing can be redeployed without
// touching provider credentials.
func (c *Config) applyChannelsFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var overlay struct {
		Fallback string            `json:"fallback_channel_id"`
		Routes   map[string]string `json:"routes"`
	}
	if err := json.Unmarshal(data, &overlay); err != nil {
		return
	}
	if overlay.Fallback != "" {
		c.Channels.Fallback = overlay.Fallback
	}
	if len(overlay.Routes) > 0 {
		c.Channels.Routes = overlay.Routes
	}
}

// applyDerivedPaths fills in state-dir-relative defaults once StateDir is
// final.
func (c *Config) applyDerivedPaths() {
	if c.Cron.StoreDir == "" {
		c.Cron.StoreDir = filepath.Join(c.StateDir, "cron")
	}
	if c.Monitor.HomeDir == "" {
		home, _ := os.UserHomeDir()
		c.Monitor.HomeDir = filepath.Join(home, ".claude")
	}
	if c.Hook.Addr == "" {
		c.Hook.Addr = fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
	}
}

// Save persists the config to a JSON file via an atomic temp-file-then-
// rename, matching the persistence discipline used throughout this repo
// (see internal/cron/store.go).
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
