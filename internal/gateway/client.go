package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/praytools/pray-bot/pkg/protocol"
)

// writeWait bounds a single WebSocket write.
const writeWait = 10 * time.Second

// pingInterval keeps idle connections (NAT/LB timeouts) alive.
const pingInterval = 30 * time.Second

// Client is one connected WebSocket control client: a send-only fan-out
// target for protocol.EventFrames pushed from the gateway's event bus
// subscription (spec.md §6's WebSocket push channel).
type Client struct {
	id   string
	conn *websocket.Conn
	send chan protocol.EventFrame
	done chan struct{}
}

// NewClient wraps an upgraded connection with a buffered outbound queue.
func NewClient(conn *websocket.Conn, _ *Server) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan protocol.EventFrame, 64),
		done: make(chan struct{}),
	}
}

// SendEvent enqueues event for delivery; when the client's queue is full
// the event is dropped and a warning logged, so the broadcaster never
// blocks (bus.MessageBus.Broadcast requires subscribers not block).
func (c *Client) SendEvent(event protocol.EventFrame) {
	select {
	case c.send <- event:
	default:
		slog.Warn("gateway.client_queue_full", "client", c.id)
	}
}

// Run pumps queued events to the wire and reads (and discards) inbound
// frames until the connection closes or ctx is canceled. Inbound frames
// are not part of this hub's surface — clients are read-only observers —
// but the read loop must run to process control frames (ping/pong/close).
func (c *Client) Run(ctx context.Context) {
	go c.readLoop()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
