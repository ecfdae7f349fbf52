package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in hand-edited JSON
// config files.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the pray-bot gateway.
type Config struct {
	mu sync.RWMutex

	StateDir string         `json:"state_dir,omitempty"`
	Gateway  GatewayConfig  `json:"gateway"`
	Channels ChannelsConfig `json:"channels"`
	Monitor   MonitorConfig   `json:"monitor"`
	Throttle  ThrottleConfig  `json:"throttle"`
	Cron      CronConfig      `json:"cron"`
	Hook      HookConfig      `json:"hook"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// TelemetryConfig controls the ambient OTLP tracing exporter wrapped
// around provider adapter turns (§4.D) and cron job execution (§4.K). A
// blank Endpoint leaves the global no-op TracerProvider in place — spans
// are created unconditionally, but cost nothing when nobody is
// collecting them.
type TelemetryConfig struct {
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4317" (grpc) or "https://host:4318" (http)
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string            `json:"service_name,omitempty"`
	Insecure    bool              `json:"insecure,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"` // extra headers (e.g. auth tokens for cloud backends)
}

// GatewayConfig controls the HTTP bind address and owner filter.
type GatewayConfig struct {
	Host     string              `json:"host"`
	Port     int                 `json:"port"`
	OwnerIDs FlexibleStringSlice `json:"owner_ids,omitempty"`
}

// ChannelsConfig holds the two concrete chat egress targets and the
// path-prefix → channel routing table Auto-Thread Discovery consults.
type ChannelsConfig struct {
	Discord  DiscordConfig     `json:"discord"`
	Telegram TelegramConfig    `json:"telegram"`
	Fallback string            `json:"fallback_channel_id,omitempty"`
	Routes   map[string]string `json:"routes,omitempty"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// MonitorConfig controls §4.G Session Monitor behavior.
type MonitorConfig struct {
	ClaudeMaxConcurrent int    `json:"claude_max_concurrent"`
	PollIntervalMs      int    `json:"poll_interval_ms"`
	DebounceMs          int    `json:"debounce_ms"`
	CodexLookbackDays   int    `json:"codex_lookback_days"`
	HomeDir             string `json:"home_dir,omitempty"`
	EnableCodexConfigFix bool  `json:"enable_codex_config_fix"`
	OutputFormat        string `json:"output_format,omitempty"`
}

// ThrottleConfig holds §4.A/§4.B tuning values. cmd/serve.go does not
// read them: its throttle queues use throttle.NewQueue's own defaults.
type ThrottleConfig struct {
	MergeWindowMs       int     `json:"merge_window_ms"`
	ChannelMaxQueueSize int     `json:"channel_max_queue_size"`
	ChannelRateLimit    int     `json:"channel_rate_limit"`
	ChannelRateWindowMs int     `json:"channel_rate_window_ms"`
	GlobalRateLimit     int     `json:"global_rate_limit"`
	GlobalRateWindowMs  int     `json:"global_rate_window_ms"`
}

// CronConfig controls §4.K persistence location.
type CronConfig struct {
	StoreDir          string `json:"store_dir,omitempty"`
	DefaultTimeoutMs  int    `json:"default_timeout_ms"`
	StuckThresholdMs  int    `json:"stuck_threshold_ms"`
}

// HookConfig controls the §4.H receiver.
type HookConfig struct {
	Addr string `json:"addr"`
}

// Lock/Unlock expose the config's mutex for hot-reload callers that need
// to read/write multiple fields atomically.
func (c *Config) Lock()    { c.mu.Lock() }
func (c *Config) Unlock()  { c.mu.Unlock() }
func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }

// HasAnyChannel reports whether at least one chat egress channel is enabled.
func (c *Config) HasAnyChannel() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Channels.Discord.Enabled || c.Channels.Telegram.Enabled
}
