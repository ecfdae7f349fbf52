package monitor

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// OnRefresh is invoked sequentially, once per refresh tick, with a
// snapshot of every currently-known session (spec.md §4.G step 7).
// Listener errors are the caller's own concern: a listener that wants its
// failure logged rather than silently dropped must log it itself, since
// Monitor treats a panic-free return as success either way.
type OnRefresh func(snapshots map[string]SessionSnapshot)

// Config parameterizes a Monitor instance.
type Config struct {
	HomeDir      string
	PollInterval time.Duration
	Debounce     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Debounce <= 0 {
		c.Debounce = 10 * time.Second
	}
	return c
}

type cachedTranscript struct {
	modTime time.Time
	meta    transcriptMeta
}

// Monitor implements spec.md §4.G. Snapshot, cache and bound-PID state is
// guarded by mu. Refresh may be called from any goroutine (the loop Start
// launches, or callers directly) and serializes ticks itself through
// refreshMu: one tick in flight at a time, plus at most one queued.
type Monitor struct {
	cfg Config

	mu         sync.Mutex
	snapshots  map[string]SessionSnapshot
	cache      map[string]cachedTranscript // transcript path -> last-seen meta
	boundPIDs  map[int32]bool              // PIDs already matched to a transcript this/a prior tick
	lastTickAt time.Time
	listeners  []OnRefresh

	refreshMu  sync.Mutex
	refreshing bool
	queued     bool

	signal chan struct{}
	done   chan struct{}
}

// New creates a Monitor. Call Start to begin its refresh loop.
func New(cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:       cfg,
		snapshots: make(map[string]SessionSnapshot),
		cache:     make(map[string]cachedTranscript),
		boundPIDs: make(map[int32]bool),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// RegisterOnRefresh adds a listener invoked after each refresh tick.
func (m *Monitor) RegisterOnRefresh(fn OnRefresh) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start arms an fsnotify watch on `<home>/projects` (debounced per
// cfg.Debounce) plus a cfg.PollInterval fallback ticker, both of which
// just call Refresh; Refresh itself does the coalescing.
func (m *Monitor) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	projectsDir := filepath.Join(m.cfg.HomeDir, "projects")
	_ = watcher.Add(projectsDir) // best-effort: directory may not exist yet

	go m.run(ctx, watcher)
	return nil
}

// Stop ends the refresh loop.
func (m *Monitor) Stop() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *Monitor) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var debounceTimer *time.Timer

	fire := func() {
		if err := m.Refresh(ctx); err != nil {
			slog.Warn("monitor.refresh_failed", "error", err)
		}
	}

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(m.cfg.Debounce, fire)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("monitor.watch_error", "error", err)
		}
	}
}

// Refresh runs one refresh tick, or — if one is already running — marks a
// queued flag so exactly one more runs immediately after (spec.md §5:
// "one in-flight refresh at a time... a queued flag re-triggers exactly
// one more refresh").
func (m *Monitor) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	if m.refreshing {
		m.queued = true
		m.refreshMu.Unlock()
		return nil
	}
	m.refreshing = true
	m.refreshMu.Unlock()

	var firstErr error
	for {
		if err := m.refreshOnce(ctx); err != nil {
			firstErr = err
			slog.Warn("monitor.tick_failed", "error", err)
		}

		m.refreshMu.Lock()
		if !m.queued {
			m.refreshing = false
			m.refreshMu.Unlock()
			break
		}
		m.queued = false
		m.refreshMu.Unlock()
	}
	return firstErr
}

// Snapshots returns a deep copy of the current session map.
func (m *Monitor) Snapshots() map[string]SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]SessionSnapshot, len(m.snapshots))
	for k, v := range m.snapshots {
		out[k] = v.clone()
	}
	return out
}

// Snapshot returns one session's snapshot, if known.
func (m *Monitor) Snapshot(sessionID string) (SessionSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[sessionID]
	if !ok {
		return SessionSnapshot{}, false
	}
	return s.clone(), true
}

// RegisterSession creates a minimal snapshot for sessionID if absent, or
// wakes (marks active) an existing one. Used by the Hook Receiver's
// SessionStart handling (spec.md §4.H).
func (m *Monitor) RegisterSession(provider, sessionID, cwd string) SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	s, ok := m.snapshots[sessionID]
	if !ok {
		s = SessionSnapshot{
			Provider:     provider,
			SessionID:    sessionID,
			ProjectPath:  cwd,
			State:        StateActive,
			LastActivity: now,
			StartedAt:    &now,
		}
	} else {
		s.State = StateActive
		s.LastActivity = now
	}
	m.snapshots[sessionID] = s
	return s.clone()
}

// ApplyHookUpdate is the Hook Receiver's authoritative write path (spec.md
// §4.G: "if a Hook Receiver has written a phase for this session since
// the last refresh, the hook's value wins"). It races with refreshOnce's
// own classification only in the sense that whichever writes last wins;
// the hook is expected to fire after its triggering event, which in
// practice postdates the transcript mutation that would otherwise drive
// classification.
func (m *Monitor) ApplyHookUpdate(sessionID string, phase ActivityPhase, state SessionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[sessionID]
	if !ok {
		return false
	}
	if phase != "" {
		s.ActivityPhase = phase
	}
	if state != "" {
		s.State = state
	}
	s.hookPhaseSetAt = time.Now()
	s.LastActivity = time.Now()
	m.snapshots[sessionID] = s
	return true
}
