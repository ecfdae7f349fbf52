package monitor

import (
	"context"
	"path/filepath"
	"time"
)

// refreshOnce runs exactly one correlation pass: enumerate processes and
// transcripts, match them, classify state/activityPhase, prune stale
// entries gone from this tick, and fire listeners (spec.md §4.G steps
// 1-7).
func (m *Monitor) refreshOnce(ctx context.Context) error {
	now := time.Now()

	procs, err := enumerateProcesses(ctx)
	if err != nil {
		return err
	}
	groups, err := discoverTranscripts(m.cfg.HomeDir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	prevTick := m.lastTickAt
	existing := make(map[string]SessionSnapshot, len(m.snapshots))
	for k, v := range m.snapshots {
		existing[k] = v
	}
	m.mu.Unlock()

	byResumeID := make(map[string]procInfo, len(procs))
	cwdGroups := make(map[string][]procInfo)
	for _, p := range procs {
		if p.ResumeID != "" {
			byResumeID[p.ResumeID] = p
			continue
		}
		if p.CWD != "" {
			key := encodeCWDKey(p.CWD)
			cwdGroups[key] = append(cwdGroups[key], p)
		}
	}
	consumedUnresumed := make(map[int32]bool)

	next := make(map[string]SessionSnapshot, len(existing))
	for k, v := range existing {
		next[k] = v
	}

	for projectKey, files := range groups {
		for i, tf := range files {
			sessionID := tf.SessionID

			proc, matched := byResumeID[sessionID]
			if !matched && i == 0 {
				for _, cand := range cwdGroups[projectKey] {
					if consumedUnresumed[cand.PID] || m.boundPIDs[cand.PID] {
						continue
					}
					proc = cand
					matched = true
					consumedUnresumed[cand.PID] = true
					break
				}
			}
			if matched {
				m.boundPIDs[proc.PID] = true
			}

			meta, err := m.metaFor(tf)
			if err != nil {
				continue
			}

			prevSnap, hadPrev := next[sessionID]
			snap := SessionSnapshot{
				Provider:     providerFromProjectKey(projectKey),
				SessionID:    sessionID,
				ProjectPath:  meta.CWD,
				ProjectName:  filepath.Base(meta.CWD),
				Slug:         meta.Slug,
				Model:        meta.Model,
				GitBranch:    meta.GitBranch,
				Version:      meta.Version,
				TurnCount:    meta.TurnCount,
				LastUserMsg:  meta.LastUserMsg,
				CurrentTools: meta.CurrentTools,
				Tokens:       meta.Tokens,
				LastActivity: meta.LastActivity,
				JSONLPath:    tf.Path,
			}
			if snap.LastActivity.IsZero() {
				snap.LastActivity = tf.ModTime
			}
			if matched {
				snap.PID = proc.PID
				snap.CPUPercent = proc.CPUPercent
				snap.MemMB = proc.MemMB
			}
			if hadPrev && prevSnap.StartedAt != nil {
				snap.StartedAt = prevSnap.StartedAt
			} else {
				t := snap.LastActivity
				snap.StartedAt = &t
			}

			snap.State = classifyState(snap.LastActivity, now, matched)

			hookIsAuthoritative := hadPrev && !prevSnap.hookPhaseSetAt.IsZero() && prevSnap.hookPhaseSetAt.After(prevTick)
			if hookIsAuthoritative {
				snap.ActivityPhase = prevSnap.ActivityPhase
				snap.State = prevSnap.State
				snap.hookPhaseSetAt = prevSnap.hookPhaseSetAt
				snap.WaitReason = prevSnap.WaitReason
				snap.WaitToolNames = prevSnap.WaitToolNames
			} else if snap.State == StateActive {
				snap.ActivityPhase = meta.ActivityPhase
				snap.WaitReason = meta.WaitReason
				snap.WaitToolNames = meta.WaitToolNames
			}

			next[sessionID] = snap
		}
	}

	// Prune stale snapshots that were not rediscovered this tick.
	for id, snap := range next {
		if _, seen := touchedThisTick(groups, id); !seen && snap.State == StateStale {
			delete(next, id)
		}
	}

	m.mu.Lock()
	m.snapshots = next
	m.lastTickAt = now
	listeners := append([]OnRefresh(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(m.Snapshots())
	}
	return nil
}

func touchedThisTick(groups map[string][]transcriptFile, sessionID string) (transcriptFile, bool) {
	for _, files := range groups {
		for _, tf := range files {
			if tf.SessionID == sessionID {
				return tf, true
			}
		}
	}
	return transcriptFile{}, false
}

// metaFor returns cached metadata if the transcript's mtime is unchanged
// since the last tick, else re-tails and re-extracts (spec.md §4.G step
// 3).
func (m *Monitor) metaFor(tf transcriptFile) (transcriptMeta, error) {
	m.mu.Lock()
	cached, ok := m.cache[tf.Path]
	m.mu.Unlock()
	if ok && cached.modTime.Equal(tf.ModTime) {
		return cached.meta, nil
	}

	lines, err := readAllLines(tf.Path)
	if err != nil {
		return transcriptMeta{}, err
	}
	meta := extractMetadata(lines)

	m.mu.Lock()
	m.cache[tf.Path] = cachedTranscript{modTime: tf.ModTime, meta: meta}
	m.mu.Unlock()
	return meta, nil
}

// providerFromProjectKey labels every transcript found under
// `<home>/projects/<key>` as "claude"; the key itself is not inspected.
// The label is not used for correctness.
func providerFromProjectKey(projectKey string) string {
	return "claude"
}
