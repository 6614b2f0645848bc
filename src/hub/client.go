package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/orchestra-mcp/canvasbus/src/types"
)

// FrameHandler processes one raw inbound frame from a push client.
type FrameHandler func(c *Client, frame []byte)

// Client is one browser surface, reached either over a WebSocket (push) or
// by polling (poll). Fields other than ID are guarded by the hub's mutex.
type Client struct {
	ID        string
	transport types.Transport
	conn      types.Conn
	hub       *Hub

	// Send carries encoded frames to the write pump of a push client.
	Send chan json.RawMessage

	clientType   types.ClientType
	userID       string
	sessionID    string
	connectedAt  time.Time
	lastActivity time.Time
	channels     map[string]bool

	// cursor is the sequence of the last buffered message a poll client has
	// been handed.
	cursor uint64

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func newClient(id string, conn types.Conn, h *Hub, now time.Time) *Client {
	c := &Client{
		ID:           id,
		transport:    types.TransportPoll,
		conn:         conn,
		hub:          h,
		clientType:   types.ClientCanvas,
		connectedAt:  now,
		lastActivity: now,
		channels:     make(map[string]bool),
		done:         make(chan struct{}),
	}
	if conn != nil {
		c.transport = types.TransportPush
		c.Send = make(chan json.RawMessage, h.cfg.SendBufferSize)
	}
	return c
}

// info snapshots the client. Callers hold the hub mutex.
func (c *Client) info() types.ClientInfo {
	subs := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		subs = append(subs, ch)
	}
	return types.ClientInfo{
		ID:            c.ID,
		ClientType:    c.clientType,
		Transport:     c.transport,
		UserID:        c.userID,
		SessionID:     c.sessionID,
		Subscriptions: subs,
		ConnectedAt:   c.connectedAt,
		LastActivity:  c.lastActivity,
	}
}

// wants reports whether out is addressed to c. Callers hold the hub mutex.
func (c *Client) wants(out types.Outbound) bool {
	switch {
	case out.ClientID != "":
		return out.ClientID == c.ID
	case out.Topic != "":
		return c.channels[out.Topic]
	default:
		return c.clientType == types.ClientCanvas
	}
}

// ReadPump reads frames from the WebSocket and hands them to handle. When
// the connection fails or closes the client is removed from the hub.
func (c *Client) ReadPump(handle FrameHandler) {
	defer func() {
		c.hub.RemoveClient(c.ID)
		c.conn.Close()
	}()

	for {
		frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.Touch(c.ID)
		handle(c, frame)
	}
}

// WritePump writes frames from Send to the WebSocket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.cfg.PingEvery())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.Send:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.logger.Debug().Err(err).Str("client_id", c.ID).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Done is closed once the client has been removed.
func (c *Client) Done() <-chan struct{} { return c.done }
