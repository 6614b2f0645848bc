package hub

import (
	"errors"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/canvasbus/src/protocol"
	"github.com/orchestra-mcp/canvasbus/src/types"
)

// ErrTooManyClients is returned when the hub is at its connection limit.
var ErrTooManyClients = errors.New("connection limit reached")

// Identity is what a client declares about itself.
type Identity struct {
	ClientType types.ClientType
	UserID     string
	SessionID  string
}

// AddClient registers a client with empty subscriptions and returns it. A
// nil conn registers a poll client.
func (h *Hub) AddClient(conn types.Conn) (*Client, error) {
	return h.Connect(conn, Identity{})
}

// Connect registers a client, applies id if it names a client type, and for
// push clients queues the connection_ack ahead of any other frame.
func (h *Hub) Connect(conn types.Conn, id Identity) (*Client, error) {
	h.mu.Lock()
	c, err := h.addLocked(uuid.New().String(), conn)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	if id.ClientType != "" {
		h.identifyLocked(c, id)
	}
	if c.Send != nil {
		ack, err := protocol.Encode(protocol.NewConnectionAck(c.ID, h.now()))
		if err == nil {
			c.Send <- ack
		}
	}
	cbs := h.onConnect
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Str("client_id", c.ID).
		Str("transport", string(c.transport)).
		Str("client_type", string(c.clientType)).
		Int("total_clients", total).
		Msg("client registered")
	notify(cbs, c.ID)
	return c, nil
}

func (h *Hub) addLocked(id string, conn types.Conn) (*Client, error) {
	if h.cfg.MaxConnections > 0 && len(h.clients) >= h.cfg.MaxConnections {
		return nil, ErrTooManyClients
	}
	c := newClient(id, conn, h, h.now())
	if c.transport == types.TransportPoll {
		c.cursor = h.seq
		h.pollers++
	}
	h.clients[id] = c
	return c, nil
}

// IdentifyClient records who is behind a connection. Unknown ids are a
// no-op and report false.
func (h *Hub) IdentifyClient(clientID string, id Identity) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	h.identifyLocked(c, id)
	h.logger.Debug().
		Str("client_id", clientID).
		Str("client_type", string(c.clientType)).
		Str("user_id", c.userID).
		Msg("client identified")
	return true
}

func (h *Hub) identifyLocked(c *Client, id Identity) {
	if id.ClientType != "" {
		c.clientType = id.ClientType
	}
	if id.UserID != "" {
		c.userID = id.UserID
	}
	if id.SessionID != "" {
		c.sessionID = id.SessionID
	}
	c.lastActivity = h.now()
}

// Subscribe adds valid topics to a client's subscriptions. Invalid topics
// are skipped. Unknown clients are a no-op and report false.
func (h *Hub) Subscribe(clientID string, topics []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	for _, topic := range topics {
		if !types.ValidTopic(topic) {
			h.logger.Warn().Str("client_id", clientID).Str("topic", topic).Msg("ignoring invalid topic")
			continue
		}
		if h.channels[topic] == nil {
			h.channels[topic] = make(map[string]bool)
		}
		h.channels[topic][clientID] = true
		c.channels[topic] = true
	}
	c.lastActivity = h.now()
	return true
}

// Unsubscribe removes topics from a client's subscriptions. Unknown clients
// are a no-op and report false.
func (h *Hub) Unsubscribe(clientID string, topics []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	for _, topic := range topics {
		delete(c.channels, topic)
		if subs, ok := h.channels[topic]; ok {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(h.channels, topic)
			}
		}
	}
	c.lastActivity = h.now()
	return true
}

// Touch records activity for a client.
func (h *Hub) Touch(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.lastActivity = h.now()
	}
}

// RemoveClient drops all state for a client and stops its pumps. Removing
// an unknown or already removed client is a no-op.
func (h *Hub) RemoveClient(clientID string) bool {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	h.removeLocked(c)
	h.trim()
	cbs := h.onDisconn
	total := len(h.clients)
	h.mu.Unlock()

	c.Close()
	h.logger.Info().
		Str("client_id", clientID).
		Int("total_clients", total).
		Msg("client unregistered")
	notify(cbs, clientID)
	return true
}

func (h *Hub) removeLocked(c *Client) {
	delete(h.clients, c.ID)
	if c.transport == types.TransportPoll {
		h.pollers--
	}
	for ch := range c.channels {
		if subs, ok := h.channels[ch]; ok {
			delete(subs, c.ID)
			if len(subs) == 0 {
				delete(h.channels, ch)
			}
		}
	}
}
