package cron

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// maxTimerDelay clamps the single setTimeout-equivalent timer to roughly
// 24.8 days, matching spec.md §4.K's timer arming rule (avoids overflow in
// runtimes whose timer delay is a 32-bit millisecond count).
const maxTimerDelay = 24*time.Hour*24 + 19*time.Hour + 12*time.Minute

// computeNextRun returns the next fire time for job's schedule, or nil if
// the schedule has no further runs (an elapsed one-shot "at").
func computeNextRun(j *Job, now time.Time) (*int64, error) {
	switch j.Schedule.Kind {
	case ScheduleAt:
		if j.Schedule.AtMs > now.UnixMilli() {
			v := j.Schedule.AtMs
			return &v, nil
		}
		return nil, nil

	case ScheduleEvery:
		everyMs := j.Schedule.EveryMs
		if everyMs <= 0 {
			return nil, fmt.Errorf("cron: every schedule requires everyMs > 0")
		}
		anchor := j.Schedule.AnchorMs
		if anchor == 0 {
			switch {
			case j.State.NextRunAtMs != nil:
				anchor = *j.State.NextRunAtMs
			case j.State.LastRunAtMs != nil:
				anchor = *j.State.LastRunAtMs
			default:
				anchor = j.CreatedAtMs
			}
		}
		nowMs := now.UnixMilli()
		var next int64
		if nowMs < anchor {
			next = anchor
		} else {
			steps := (nowMs-anchor)/everyMs + 1
			next = anchor + steps*everyMs
		}
		return &next, nil

	case ScheduleCron:
		loc := time.UTC
		if j.Schedule.TZ != "" {
			if l, err := time.LoadLocation(j.Schedule.TZ); err == nil {
				loc = l
			}
		}
		ref := now.In(loc)
		next, err := gronx.NextTickAfter(j.Schedule.Expr, ref, false)
		if err != nil {
			return nil, fmt.Errorf("cron: invalid expression %q: %w", j.Schedule.Expr, err)
		}
		v := next.UnixMilli()
		return &v, nil

	default:
		return nil, fmt.Errorf("cron: unknown schedule kind %q", j.Schedule.Kind)
	}
}

// isOverdueEvery reports whether an "every" job's already-computed
// nextRunAtMs is in the past — such jobs keep their overdue value on
// startup so the timer fires immediately (spec.md §4.K).
func isOverdueEvery(j *Job, now time.Time) bool {
	return j.Schedule.Kind == ScheduleEvery && j.State.NextRunAtMs != nil && *j.State.NextRunAtMs <= now.UnixMilli()
}
