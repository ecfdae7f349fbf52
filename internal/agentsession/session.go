package agentsession

import "context"

// AgentSession is the capability set every backend adapter exposes.
// Send returns a lazy, single-consumer, finite EventStream: events are
// only produced as the caller calls Next, and the stream is exhausted (or
// errors) exactly once per Send call.
type AgentSession interface {
	Send(ctx context.Context, message string) (EventStream, error)
	// Interrupt is best-effort; a no-op for adapters that don't support it.
	Interrupt(ctx context.Context) error
	GetStatus() SessionStatus
	Close(ctx context.Context) error
}

// EventStream is consumed by exactly one goroutine. Next blocks until the
// next event is available, the stream is exhausted (ok=false, err=nil), or
// it fails (ok=false, err!=nil).
type EventStream interface {
	Next(ctx context.Context) (event AgentEvent, ok bool, err error)
}

// ChannelStream adapts a producer goroutine writing to channels into an
// EventStream. Every adapter (D1/D2/D3) builds its per-send stream this
// way: a goroutine parses its substrate and pushes AgentEvents, closing
// events and sending at most one value on errc when done.
type ChannelStream struct {
	events <-chan AgentEvent
	errc   <-chan error
	err    error
	done   bool
}

// NewChannelStream wraps events (closed by the producer when exhausted)
// and errc (sent to at most once, read after events closes).
func NewChannelStream(events <-chan AgentEvent, errc <-chan error) *ChannelStream {
	return &ChannelStream{events: events, errc: errc}
}

func (s *ChannelStream) Next(ctx context.Context) (AgentEvent, bool, error) {
	if s.done {
		return AgentEvent{}, false, s.err
	}
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, true, nil
		}
		s.done = true
		select {
		case err := <-s.errc:
			s.err = err
		default:
		}
		return AgentEvent{}, false, s.err
	case <-ctx.Done():
		s.done = true
		s.err = ctx.Err()
		return AgentEvent{}, false, s.err
	}
}

var _ EventStream = (*ChannelStream)(nil)
