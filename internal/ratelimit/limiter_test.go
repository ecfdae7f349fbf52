package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsBurstUpToMax(t *testing.T) {
	l := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		require.Zero(t, l.WaitTime())
		l.Record()
	}
	require.Greater(t, l.WaitTime(), time.Duration(0))
}

func TestLimiterPruneFreesSlot(t *testing.T) {
	l := New(1, 20*time.Millisecond)
	l.Record()
	require.Greater(t, l.WaitTime(), time.Duration(0))
	time.Sleep(30 * time.Millisecond)
	require.Zero(t, l.WaitTime())
}

func TestLimiterPauseDominatesWindow(t *testing.T) {
	l := New(100, time.Minute)
	l.Pause(50 * time.Millisecond)
	wait := l.WaitTime()
	require.Greater(t, wait, time.Duration(0))
	require.LessOrEqual(t, wait, 50*time.Millisecond)
}

func TestLimiterPauseExtendsOnlyForward(t *testing.T) {
	l := New(100, time.Minute)
	l.Pause(100 * time.Millisecond)
	l.Pause(10 * time.Millisecond) // shorter pause must not shrink the deadline
	wait := l.WaitTime()
	require.Greater(t, wait, 50*time.Millisecond)
}

func TestAcquireRecordsAndSleeps(t *testing.T) {
	l := New(1, 30*time.Millisecond)
	l.Acquire()
	start := time.Now()
	l.Acquire()
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
