package hub

import (
	"github.com/orchestra-mcp/canvasbus/src/types"
)

// OnConnection registers a callback for new clients.
func (h *Hub) OnConnection(cb func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, cb)
}

// OnDisconnection registers a callback for removed clients.
func (h *Hub) OnDisconnection(cb func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconn = append(h.onDisconn, cb)
}

// ConnectedClients returns a list of registered client IDs.
func (h *Hub) ConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// ClientInfo returns info for a registered client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok {
		return nil
	}
	info := c.info()
	return &info
}

// Channels returns topic names with their subscriber counts.
func (h *Hub) Channels() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[string]int, len(h.channels))
	for ch, subs := range h.channels {
		result[ch] = len(subs)
	}
	return result
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats aggregates client counts by type and transport. Inbox depth is
// filled in by the service layer.
func (h *Hub) Stats() types.Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := types.Stats{
		Total:       len(h.clients),
		ByType:      map[types.ClientType]int{types.ClientCanvas: 0, types.ClientDebug: 0},
		ByTransport: map[types.Transport]int{types.TransportPush: 0, types.TransportPoll: 0},
		Topics:      make(map[string]int, len(h.channels)),
		Buffered:    len(h.buffer),
	}
	for _, c := range h.clients {
		s.ByType[c.clientType]++
		s.ByTransport[c.transport]++
	}
	for ch, subs := range h.channels {
		s.Topics[ch] = len(subs)
	}
	return s
}
