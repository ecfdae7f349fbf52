// Package autothread implements §4.I's Auto-Thread Discovery: it
// subscribes to the Session Monitor's onRefresh callback, creates and
// binds chat threads for newly-discovered sessions, and emits
// transition messages for sessions it already knows about.
//
// Grounded on internal/routestore (the persisted route table this
// package is the primary writer of) and internal/bus (outbound chat
// delivery, routed through the Throttle Queue one layer up).
package autothread

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/praytools/pray-bot/internal/monitor"
	"github.com/praytools/pray-bot/internal/routestore"
)

// ChannelResolver maps a session's project path to a parent chat
// channel: exact match, then longest-prefix match, then a worktree
// basename `{name}~{suffix}` falling back to `{name}` (spec.md §4.I(2)).
type ChannelResolver interface {
	ResolveParentChannel(projectPath string) (channelID string, ok bool)
}

// ThreadCreator is the minimal chat-platform surface this package needs
// (spec.md §1's "we only assume primitives: send text, create thread,
// attach action row" — thread creation plus an optional initial embed).
type ThreadCreator interface {
	CreateThread(ctx context.Context, parentChannelID, name string) (threadID string, err error)
	SendEmbed(ctx context.Context, threadID, title, body string) error
}

// Sender delivers plain transition/log text to an already-bound thread.
type Sender interface {
	SendText(ctx context.Context, channelID, text string) error
}

// Config parameterizes an AutoThread instance.
type Config struct {
	TargetStates     []monitor.SessionState
	ExcludedPrefixes []string
	FallbackChannel  string
	CreateDelay      time.Duration // sleep between thread creations (default 100ms)
	WatchInterval    time.Duration // monitor-log cadence (default 10min)
}

func (c Config) withDefaults() Config {
	if len(c.TargetStates) == 0 {
		c.TargetStates = []monitor.SessionState{monitor.StateActive}
	}
	if c.CreateDelay <= 0 {
		c.CreateDelay = 100 * time.Millisecond
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 10 * time.Minute
	}
	return c
}

// AutoThread is the discovery engine. OnRefresh is meant to be registered
// directly as a monitor.OnRefresh listener.
type AutoThread struct {
	cfg      Config
	routes   *routestore.Store
	resolver ChannelResolver
	creator  ThreadCreator
	sender   Sender

	mu               sync.Mutex
	pendingCreations map[string]bool                    // "provider:sessionId" held during creation
	discovered       map[string]string                  // "provider:sessionId" -> threadId
	lastKnown        map[string]monitor.SessionSnapshot // sessionId -> last-seen snapshot, for transition diffing
	lastWatch        map[string]time.Time                // sessionId -> last monitor-log watch time
	sideFilePath     string
}

// New creates an AutoThread. sideFilePath, if non-empty, persists
// lastWatch timestamps across restarts (spec.md §4.I(4)).
func New(cfg Config, routes *routestore.Store, resolver ChannelResolver, creator ThreadCreator, sender Sender, sideFilePath string) *AutoThread {
	a := &AutoThread{
		cfg:              cfg.withDefaults(),
		routes:           routes,
		resolver:         resolver,
		creator:          creator,
		sender:           sender,
		pendingCreations: make(map[string]bool),
		discovered:       make(map[string]string),
		lastKnown:        make(map[string]monitor.SessionSnapshot),
		lastWatch:        make(map[string]time.Time),
		sideFilePath:     sideFilePath,
	}
	if sideFilePath != "" {
		if loaded, err := loadLastWatch(sideFilePath); err == nil {
			a.lastWatch = loaded
		}
	}
	return a
}

func discoveryKey(provider, sessionID string) string { return provider + ":" + sessionID }

// OnRefresh processes one Monitor refresh tick: transition diffing for
// known sessions, then discovery of newly-appeared target-state sessions
// (spec.md §4.I steps 1-2). Registered directly as a monitor.OnRefresh.
func (a *AutoThread) OnRefresh(snapshots map[string]monitor.SessionSnapshot) {
	ctx := context.Background()

	a.mu.Lock()
	prevKnown := make(map[string]monitor.SessionSnapshot, len(a.lastKnown))
	for k, v := range a.lastKnown {
		prevKnown[k] = v
	}
	a.mu.Unlock()

	for sessionID, snap := range snapshots {
		prev, known := prevKnown[sessionID]
		if known {
			a.emitTransition(ctx, prev, snap)
		} else if a.isTargetState(snap.State) && !a.isExcluded(snap.ProjectPath) {
			a.discoverAndCreate(ctx, snap)
		}
		a.maybeWatch(ctx, snap)
	}

	a.mu.Lock()
	a.lastKnown = make(map[string]monitor.SessionSnapshot, len(snapshots))
	for k, v := range snapshots {
		a.lastKnown[k] = v
	}
	a.mu.Unlock()
}

func (a *AutoThread) isTargetState(s monitor.SessionState) bool {
	for _, t := range a.cfg.TargetStates {
		if t == s {
			return true
		}
	}
	return false
}

func (a *AutoThread) isExcluded(projectPath string) bool {
	for _, prefix := range a.cfg.ExcludedPrefixes {
		if prefix != "" && strings.HasPrefix(projectPath, prefix) {
			return true
		}
	}
	return false
}

// emitTransition sends a human-readable message when state or
// activityPhase changed since the last tick (spec.md §4.I step 1).
func (a *AutoThread) emitTransition(ctx context.Context, prev, next monitor.SessionSnapshot) {
	if prev.State == next.State && prev.ActivityPhase == next.ActivityPhase {
		return
	}
	route, found, err := a.routes.GetBySession(ctx, routestore.Provider(next.Provider), next.SessionID)
	if err != nil || !found {
		return
	}
	msg := transitionMessage(prev, next)
	if msg == "" || a.sender == nil {
		return
	}
	if err := a.sender.SendText(ctx, route.ThreadID, msg); err != nil {
		slog.Warn("autothread.transition_send_failed", "session_id", next.SessionID, "error", err)
	}
}

func transitionMessage(prev, next monitor.SessionSnapshot) string {
	switch {
	case prev.State != next.State:
		return "Session " + next.SessionID + " is now " + string(next.State) + "."
	case next.ActivityPhase != "":
		return "Session " + next.SessionID + " is now " + string(next.ActivityPhase) + "."
	default:
		return ""
	}
}
