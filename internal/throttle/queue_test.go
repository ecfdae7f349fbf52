package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func blockingExecutor(release <-chan struct{}, calls *[]string, mu *sync.Mutex) Executor {
	return func(ctx context.Context, channelID, payload string) error {
		<-release
		mu.Lock()
		*calls = append(*calls, payload)
		mu.Unlock()
		return nil
	}
}

func TestSendDispatchesInFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	release := make(chan struct{})
	close(release) // never block

	q := NewQueue(blockingExecutor(release, &calls, &mu))
	defer q.Destroy()

	require.NoError(t, q.Send(context.Background(), "c1", "first", SendOptions{}))
	require.NoError(t, q.Send(context.Background(), "c1", "second", SendOptions{}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, calls)
}

func TestHighPriorityOverridesQueuedNormal(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	release := make(chan struct{})

	q := NewQueue(blockingExecutor(release, &calls, &mu))
	defer q.Destroy()

	// first item dispatches immediately and blocks on release, holding the
	// dispatcher so the next two enqueue before anything drains.
	done1 := make(chan error, 1)
	go func() { done1 <- q.Send(context.Background(), "c1", "blocker", SendOptions{}) }()
	time.Sleep(20 * time.Millisecond)

	done2 := make(chan error, 1)
	done3 := make(chan error, 1)
	go func() { done2 <- q.Send(context.Background(), "c1", "normal", SendOptions{}) }()
	time.Sleep(10 * time.Millisecond)
	go func() {
		done3 <- q.Send(context.Background(), "c1", "urgent", SendOptions{Priority: PriorityHigh})
	}()
	time.Sleep(10 * time.Millisecond)

	close(release)
	require.NoError(t, <-done1)
	require.NoError(t, <-done2)
	require.NoError(t, <-done3)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"blocker", "urgent", "normal"}, calls)
}

func TestMergeFoldsWithinWindow(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	release := make(chan struct{})

	q := NewQueue(blockingExecutor(release, &calls, &mu))
	defer q.Destroy()

	done1 := make(chan error, 1)
	go func() {
		done1 <- q.Send(context.Background(), "c1", "blocker", SendOptions{})
	}()
	time.Sleep(20 * time.Millisecond)

	done2 := make(chan error, 1)
	done3 := make(chan error, 1)
	go func() {
		done2 <- q.Send(context.Background(), "c1", "part1", SendOptions{MergeKey: "typing"})
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		done3 <- q.Send(context.Background(), "c1", "part2", SendOptions{MergeKey: "typing"})
	}()
	time.Sleep(10 * time.Millisecond)

	close(release)
	require.NoError(t, <-done1)
	require.NoError(t, <-done2)
	require.NoError(t, <-done3)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"blocker", "part1\npart2"}, calls)
}

func TestOverflowDropsOldestQueuedItem(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	release := make(chan struct{})

	q := NewQueue(blockingExecutor(release, &calls, &mu))
	defer q.Destroy()
	q.maxQueueSize = 2

	done1 := make(chan error, 1)
	go func() { done1 <- q.Send(context.Background(), "c1", "blocker", SendOptions{}) }()
	time.Sleep(20 * time.Millisecond)

	results := make([]chan error, 4)
	for i := range results {
		results[i] = make(chan error, 1)
	}
	go func() { results[0] <- q.Send(context.Background(), "c1", "first", SendOptions{}) }()
	time.Sleep(5 * time.Millisecond)
	go func() { results[1] <- q.Send(context.Background(), "c1", "second", SendOptions{}) }()
	time.Sleep(5 * time.Millisecond)
	go func() { results[2] <- q.Send(context.Background(), "c1", "third", SendOptions{}) }()
	time.Sleep(5 * time.Millisecond)
	go func() { results[3] <- q.Send(context.Background(), "c1", "fourth", SendOptions{}) }()
	time.Sleep(10 * time.Millisecond)

	close(release)
	require.NoError(t, <-done1)

	require.ErrorIs(t, <-results[0], ErrQueueOverflow)
	require.ErrorIs(t, <-results[1], ErrQueueOverflow)
	require.NoError(t, <-results[2])
	require.NoError(t, <-results[3])

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"blocker", "third", "fourth"}, calls)
}

func TestRateLimitErrorRequeuesAtHeadAndRetries(t *testing.T) {
	var attempts int32

	executor := func(ctx context.Context, channelID, payload string) error {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return &RateLimitError{RetryAfter: 20 * time.Millisecond, Global: false}
		}
		return nil
	}

	q := NewQueue(executor)
	defer q.Destroy()

	err := q.Send(context.Background(), "c1", "payload", SendOptions{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestDestroyRejectsPendingItems(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var calls []string
	q := NewQueue(blockingExecutor(release, &calls, &mu))

	done1 := make(chan error, 1)
	go func() { done1 <- q.Send(context.Background(), "c1", "blocker", SendOptions{}) }()
	time.Sleep(20 * time.Millisecond)

	done2 := make(chan error, 1)
	go func() { done2 <- q.Send(context.Background(), "c1", "stuck", SendOptions{}) }()
	time.Sleep(10 * time.Millisecond)

	q.Destroy()
	require.ErrorIs(t, <-done2, ErrQueueDestroyed)

	close(release)
	<-done1
}
