// Package throttle implements the per-channel chat egress pipeline:
// priority ordering, intra-window text merging, global+per-channel rate
// limiting, 429 back-off/requeue, and round-robin fair dispatch across
// channels.
//
// Grounded on internal/channels/manager.go's dispatchOutbound loop (a
// single goroutine draining a shared queue and routing to the right
// channel) and internal/channels/ratelimit.go's bounded-map discipline,
// generalized into the full priority+merge+overflow+429 contract spec'd
// for the egress pipeline.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/praytools/pray-bot/internal/ratelimit"
)

// Priority controls queue-head placement. High priority items are placed
// ahead of normal items already queued for the channel but never preempt
// an in-flight send.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Defaults per spec.md §4.A.
const (
	DefaultMergeWindow     = 300 * time.Millisecond
	DefaultMaxQueueSize    = 100
	DefaultMaxMergedLength = 2000
)

// ErrQueueOverflow is returned to waiters whose queued item was evicted to
// make room for a newer one.
var ErrQueueOverflow = errors.New("channel queue overflow")

// ErrQueueDestroyed is returned to all pending waiters when the queue is torn down.
var ErrQueueDestroyed = errors.New("throttle queue destroyed")

// RateLimitError signals the executor hit a 429; Global indicates whether
// the pause applies to the global limiter or just the originating channel.
type RateLimitError struct {
	RetryAfter time.Duration
	Global     bool
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s (global=%t)", e.RetryAfter, e.Global)
}

// Executor delivers one payload to a channel. A *RateLimitError causes the
// item to be requeued at the head of its channel; any other error rejects
// the caller(s).
type Executor func(ctx context.Context, channelID, payload string) error

// SendOptions configures one enqueue call.
type SendOptions struct {
	MergeKey string
	Priority Priority
}

type queueItem struct {
	channelID  string
	payload    string
	priority   Priority
	mergeKey   string
	enqueuedAt time.Time
	waiters    []chan error
	dispatched bool
}

func (it *queueItem) resolve(err error) {
	for _, w := range it.waiters {
		w <- err
		close(w)
	}
	it.waiters = nil
}

type channelQueue struct {
	mu      sync.Mutex
	limiter *ratelimit.Limiter
	items   []*queueItem
}

// Queue is a per-channel priority+merge+rate-limited egress queue.
type Queue struct {
	executor     Executor
	global       *ratelimit.Limiter
	mergeWindow  time.Duration
	maxQueueSize int

	mu       sync.Mutex
	channels map[string]*channelQueue
	order    []string // channel ids in first-seen order, for round robin

	dispatchMu sync.Mutex // ensures only one dispatcher loop runs

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewQueue creates a throttle queue and starts its dispatch loop.
func NewQueue(executor Executor) *Queue {
	q := &Queue{
		executor:     executor,
		global:       ratelimit.NewGlobalLimiter(),
		mergeWindow:  DefaultMergeWindow,
		maxQueueSize: DefaultMaxQueueSize,
		channels:     make(map[string]*channelQueue),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go q.dispatchLoop()
	return q
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) getOrCreateChannel(channelID string) *channelQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	cq, ok := q.channels[channelID]
	if !ok {
		cq = &channelQueue{limiter: ratelimit.NewChannelLimiter()}
		q.channels[channelID] = cq
		q.order = append(q.order, channelID)
	}
	return cq
}

// Send enqueues payload for channelID and blocks until it is dispatched
// (or rejected by overflow/destroy/executor error).
func (q *Queue) Send(ctx context.Context, channelID, payload string, opts SendOptions) error {
	cq := q.getOrCreateChannel(channelID)

	wait := make(chan error, 1)

	cq.mu.Lock()
	if opts.MergeKey != "" {
		now := time.Now()
		for _, it := range cq.items {
			if it.dispatched || it.mergeKey != opts.MergeKey {
				continue
			}
			if now.Sub(it.enqueuedAt) > q.mergeWindow {
				continue
			}
			merged := it.payload + "\n" + payload
			if len(merged) > DefaultMaxMergedLength {
				continue
			}
			it.payload = merged
			it.waiters = append(it.waiters, wait)
			if opts.Priority == PriorityHigh && it.priority != PriorityHigh {
				it.priority = PriorityHigh
				q.promoteToHead(cq, it)
			}
			cq.mu.Unlock()
			q.signal()
			return q.awaitResult(ctx, wait)
		}
	}

	it := &queueItem{
		channelID:  channelID,
		payload:    payload,
		priority:   opts.Priority,
		mergeKey:   opts.MergeKey,
		enqueuedAt: time.Now(),
		waiters:    []chan error{wait},
	}
	q.enqueueLocked(cq, it)
	cq.mu.Unlock()

	q.signal()
	return q.awaitResult(ctx, wait)
}

func (q *Queue) awaitResult(ctx context.Context, wait chan error) error {
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueLocked inserts it respecting priority-ahead-of-normal ordering and
// the per-channel overflow cap. Caller must hold cq.mu.
func (q *Queue) enqueueLocked(cq *channelQueue, it *queueItem) {
	if len(cq.items) >= q.maxQueueSize {
		dropped := cq.items[0]
		cq.items = cq.items[1:]
		dropped.resolve(ErrQueueOverflow)
	}

	if it.priority == PriorityHigh {
		pos := 0
		for pos < len(cq.items) && cq.items[pos].priority == PriorityHigh {
			pos++
		}
		cq.items = append(cq.items, nil)
		copy(cq.items[pos+1:], cq.items[pos:])
		cq.items[pos] = it
	} else {
		cq.items = append(cq.items, it)
	}
}

// promoteToHead moves an already-queued item to the front of the queue
// (ahead of all other high-priority items). Caller must hold cq.mu.
func (q *Queue) promoteToHead(cq *channelQueue, it *queueItem) {
	for i, cur := range cq.items {
		if cur == it {
			cq.items = append(cq.items[:i], cq.items[i+1:]...)
			break
		}
	}
	cq.items = append([]*queueItem{it}, cq.items...)
}

// dispatchLoop is the single round-robin dispatcher. Only one instance
// runs per Queue (started once in NewQueue).
func (q *Queue) dispatchLoop() {
	cursor := 0
	for {
		select {
		case <-q.done:
			return
		default:
		}

		channelID, it, sleepFor, ok := q.pickNext(&cursor)
		if !ok {
			if sleepFor <= 0 {
				sleepFor = 50 * time.Millisecond
			}
			select {
			case <-q.done:
				return
			case <-q.wake:
			case <-time.After(sleepFor):
			}
			continue
		}

		q.global.Acquire()
		err := q.executor(context.Background(), channelID, it.payload)

		var rle *RateLimitError
		if errors.As(err, &rle) {
			q.handle429(channelID, it, rle)
			continue
		}

		it.resolve(err)
	}
}

// pickNext scans channels in round-robin order starting at *cursor for one
// whose head item is ready to send (its limiter has no wait). Returns
// ok=false with the minimum observed wait if none are ready.
func (q *Queue) pickNext(cursor *int) (channelID string, it *queueItem, minWait time.Duration, ok bool) {
	q.mu.Lock()
	order := append([]string(nil), q.order...)
	q.mu.Unlock()

	if len(order) == 0 {
		return "", nil, 0, false
	}

	minWait = -1
	for i := 0; i < len(order); i++ {
		idx := (*cursor + i) % len(order)
		cid := order[idx]
		cq := q.getOrCreateChannel(cid)

		cq.mu.Lock()
		if len(cq.items) == 0 {
			cq.mu.Unlock()
			continue
		}
		wait := cq.limiter.WaitTime()
		if wait > 0 {
			cq.mu.Unlock()
			if minWait < 0 || wait < minWait {
				minWait = wait
			}
			continue
		}
		head := cq.items[0]
		cq.items = cq.items[1:]
		head.dispatched = true
		cq.limiter.Record()
		cq.mu.Unlock()

		*cursor = (idx + 1) % len(order)
		return cid, head, 0, true
	}

	if minWait < 0 {
		minWait = 0
	}
	return "", nil, minWait, false
}

// handle429 pauses the offending limiter(s) and requeues the item at the
// head of its channel, preserving its waiters. This is the only case where
// a dequeued item is re-enqueued.
func (q *Queue) handle429(channelID string, it *queueItem, rle *RateLimitError) {
	cq := q.getOrCreateChannel(channelID)
	if rle.Global {
		q.global.Pause(rle.RetryAfter)
	}
	cq.limiter.Pause(rle.RetryAfter)

	it.dispatched = false
	cq.mu.Lock()
	cq.items = append([]*queueItem{it}, cq.items...)
	cq.mu.Unlock()

	slog.Warn("throttle.rate_limited", "channel", channelID, "retry_after", rle.RetryAfter, "global", rle.Global)
	q.signal()
}

// Destroy flushes and rejects all pending items, then stops the dispatcher.
func (q *Queue) Destroy() {
	q.stopOnce.Do(func() {
		close(q.done)
	})

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cq := range q.channels {
		cq.mu.Lock()
		for _, it := range cq.items {
			it.resolve(ErrQueueDestroyed)
		}
		cq.items = nil
		cq.mu.Unlock()
	}
}
