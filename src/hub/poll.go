package hub

import (
	"encoding/json"
	"sort"

	"github.com/orchestra-mcp/canvasbus/src/types"
)

// PollResult is what one poll hands back.
type PollResult struct {
	Messages []json.RawMessage
	Created  bool
}

// GetPendingMessages returns every buffered message addressed to clientID
// since its last poll, in emission order, and advances its cursor to the
// head. An unknown id is registered as a fresh poll client, which starts at
// the head and so receives nothing on its first poll.
func (h *Hub) GetPendingMessages(clientID string) (PollResult, error) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		var err error
		if c, err = h.addLocked(clientID, nil); err != nil {
			h.mu.Unlock()
			return PollResult{}, err
		}
		cbs := h.onConnect
		h.mu.Unlock()

		h.logger.Info().Str("client_id", clientID).Str("transport", string(types.TransportPoll)).Msg("client registered")
		notify(cbs, clientID)
		return PollResult{Messages: []json.RawMessage{}, Created: true}, nil
	}
	defer h.mu.Unlock()

	c.lastActivity = h.now()
	msgs := []json.RawMessage{}
	if c.transport == types.TransportPush {
		// Push clients already received everything over their socket.
		return PollResult{Messages: msgs}, nil
	}
	start := sort.Search(len(h.buffer), func(i int) bool { return h.buffer[i].seq > c.cursor })
	for _, e := range h.buffer[start:] {
		if c.wants(e.out) {
			msgs = append(msgs, e.out.Payload)
		}
	}
	c.cursor = h.seq
	h.trim()
	return PollResult{Messages: msgs}, nil
}

// HasPendingMessages reports whether any poll client has buffered messages
// it has not fetched yet. It is a hint for client backoff, not a guarantee
// for any particular client.
func (h *Hub) HasPendingMessages() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buffer) > 0
}

// trim drops buffered entries every poll client has already been handed.
// Callers hold the mutex.
func (h *Hub) trim() {
	if h.pollers == 0 {
		h.buffer = nil
		return
	}
	floor := h.seq
	for _, c := range h.clients {
		if c.transport == types.TransportPoll && c.cursor < floor {
			floor = c.cursor
		}
	}
	n := sort.Search(len(h.buffer), func(i int) bool { return h.buffer[i].seq > floor })
	if n > 0 {
		h.buffer = append(h.buffer[:0:0], h.buffer[n:]...)
	}
}
