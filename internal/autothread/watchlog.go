package autothread

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/praytools/pray-bot/internal/monitor"
	"github.com/praytools/pray-bot/internal/routestore"
)

// maybeWatch appends a "monitor log" summary to a session's bound thread
// every cfg.WatchInterval, tracking per-session last-watch times so a
// restart doesn't immediately re-fire every session's log (spec.md
// §4.I(4)).
func (a *AutoThread) maybeWatch(ctx context.Context, snap monitor.SessionSnapshot) {
	a.mu.Lock()
	last, ok := a.lastWatch[snap.SessionID]
	a.mu.Unlock()

	now := time.Now()
	if ok && now.Sub(last) < a.cfg.WatchInterval {
		return
	}

	route, found, err := a.routes.GetBySession(ctx, routestore.Provider(snap.Provider), snap.SessionID)
	if err != nil || !found || a.sender == nil {
		a.recordWatch(snap.SessionID, now)
		return
	}

	summary := fmt.Sprintf("Monitor log: %d turns so far, last message: %q", snap.TurnCount, snap.LastUserMsg)
	if err := a.sender.SendText(ctx, route.ThreadID, summary); err != nil {
		slog.Warn("autothread.monitor_log_failed", "session_id", snap.SessionID, "error", err)
	}
	a.recordWatch(snap.SessionID, now)
}

func (a *AutoThread) recordWatch(sessionID string, at time.Time) {
	a.mu.Lock()
	a.lastWatch[sessionID] = at
	snapshot := make(map[string]time.Time, len(a.lastWatch))
	for k, v := range a.lastWatch {
		snapshot[k] = v
	}
	path := a.sideFilePath
	a.mu.Unlock()

	if path == "" {
		return
	}
	if err := saveLastWatch(path, snapshot); err != nil {
		slog.Warn("autothread.persist_watch_failed", "error", err)
	}
}

func loadLastWatch(path string) (map[string]time.Time, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]time.Time), nil
	}
	if err != nil {
		return nil, err
	}
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(raw))
	for k, v := range raw {
		out[k] = time.UnixMilli(v)
	}
	return out, nil
}

func saveLastWatch(path string, m map[string]time.Time) error {
	raw := make(map[string]int64, len(m))
	for k, v := range m {
		raw[k] = v.UnixMilli()
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "autothread-watch-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
