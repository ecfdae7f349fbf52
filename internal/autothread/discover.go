package autothread

import (
	"context"
	"log/slog"
	"time"

	"github.com/praytools/pray-bot/internal/monitor"
	"github.com/praytools/pray-bot/internal/routestore"
)

// discoverAndCreate implements spec.md §4.I steps 2-3: guard against
// double-create (pendingCreations, discoveredMap, and the route-store
// cross-check including the cwd-based claim fix), resolve a parent
// channel, create the thread, register the route, then sleep
// cfg.CreateDelay before returning so bursty discovery bursts don't slam
// the chat API's rate limits.
func (a *AutoThread) discoverAndCreate(ctx context.Context, snap monitor.SessionSnapshot) {
	key := discoveryKey(snap.Provider, snap.SessionID)

	a.mu.Lock()
	if a.pendingCreations[key] || a.discovered[key] != "" {
		a.mu.Unlock()
		return
	}
	a.pendingCreations[key] = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pendingCreations, key)
		a.mu.Unlock()
	}()

	provider := routestore.Provider(snap.Provider)

	if route, found, err := a.routes.GetBySession(ctx, provider, snap.SessionID); err == nil && found {
		a.mu.Lock()
		a.discovered[key] = route.ThreadID
		a.mu.Unlock()
		return
	}

	// cwd-based claim: a chat-initiated session may have pre-created a
	// route with an empty providerSessionId before the backend announced
	// its session id. Claiming it here is what prevents the duplicate
	// thread spec.md §4.I(3)/§9 flags as a known hazard.
	if route, found, err := a.routes.FindUnclaimedByCwd(ctx, provider, snap.ProjectPath); err == nil && found {
		if err := a.routes.ClaimSessionID(ctx, route.ThreadID, snap.SessionID, time.Now()); err != nil {
			slog.Warn("autothread.claim_failed", "thread_id", route.ThreadID, "error", err)
			return
		}
		a.mu.Lock()
		a.discovered[key] = route.ThreadID
		a.mu.Unlock()
		return
	}

	parentChannel, ok := a.resolver.ResolveParentChannel(snap.ProjectPath)
	if !ok {
		if a.cfg.FallbackChannel == "" {
			return
		}
		parentChannel = a.cfg.FallbackChannel
	}

	threadID, err := a.creator.CreateThread(ctx, parentChannel, threadName(snap))
	if err != nil {
		slog.Warn("autothread.create_thread_failed", "session_id", snap.SessionID, "error", err)
		return
	}

	now := time.Now()
	route := routestore.Route{
		ThreadID:          threadID,
		ParentChannelID:   parentChannel,
		MappingKey:        snap.ProjectPath,
		Provider:          provider,
		ProviderSessionID: snap.SessionID,
		Cwd:               snap.ProjectPath,
		CreatedAt:         now,
		UpdatedAt:         now,
		AutoDiscovered:    true,
	}
	if err := a.routes.Upsert(ctx, route); err != nil {
		slog.Warn("autothread.register_route_failed", "thread_id", threadID, "error", err)
		return
	}

	a.mu.Lock()
	a.discovered[key] = threadID
	a.mu.Unlock()

	if err := a.creator.SendEmbed(ctx, threadID, "Session started", snap.LastUserMsg); err != nil {
		slog.Warn("autothread.initial_embed_failed", "thread_id", threadID, "error", err)
	}

	time.Sleep(a.cfg.CreateDelay)
}

func threadName(snap monitor.SessionSnapshot) string {
	if snap.ProjectName != "" {
		return snap.ProjectName
	}
	return snap.SessionID
}

// OnSessionStart is the Hook Receiver's direct notification path (spec.md
// §4.H: "...then notifies the Auto-Thread Discovery"), bypassing the
// refresh-tick diff since the hook already knows the session is new.
func (a *AutoThread) OnSessionStart(snap monitor.SessionSnapshot) {
	if !a.isExcluded(snap.ProjectPath) {
		a.discoverAndCreate(context.Background(), snap)
	}
}

// SendToSessionThread is the out-of-band messaging path other components
// (e.g. the Hook Receiver's Stop-event tail forward) use to reach a
// session's bound thread without going through a refresh tick.
func (a *AutoThread) SendToSessionThread(ctx context.Context, provider, sessionID, msg string) error {
	route, found, err := a.routes.GetBySession(ctx, routestore.Provider(provider), sessionID)
	if err != nil {
		return err
	}
	if !found || a.sender == nil {
		return nil
	}
	return a.sender.SendText(ctx, route.ThreadID, msg)
}
