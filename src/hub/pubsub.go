package hub

import (
	"fmt"

	"github.com/orchestra-mcp/canvasbus/src/protocol"
	"github.com/orchestra-mcp/canvasbus/src/types"
)

// Broadcast encodes msg and delivers it to every client in its scope on
// this instance, then forwards it to the bridge if one is attached.
func (h *Hub) Broadcast(msg protocol.Broadcast) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	out := types.Outbound{Topic: msg.Scope(), Payload: payload}

	h.mu.Lock()
	h.deliver(out)
	b := h.bridge
	h.mu.Unlock()

	if b != nil && b.Available() {
		if err := b.Publish(out); err != nil {
			h.logger.Error().Err(err).Msg("bridge publish failed")
		}
	}
	return nil
}

// SendToClient delivers msg to a single client. It reports false when the
// client is unknown or its send buffer is full.
func (h *Hub) SendToClient(clientID string, msg protocol.ServerMessage) bool {
	payload, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.MessageType()).Msg("encode failed")
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	if c.transport == types.TransportPoll {
		h.append(types.Outbound{ClientID: clientID, Payload: payload})
		return true
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// deliver assigns the next sequence number to out, buffers it for poll
// clients and pushes it to every push client it addresses. A full send
// buffer drops the frame for that client only. Callers hold the mutex.
func (h *Hub) deliver(out types.Outbound) {
	h.append(out)

	for id, c := range h.clients {
		if c.transport != types.TransportPush || !c.wants(out) {
			continue
		}
		select {
		case c.Send <- out.Payload:
		default:
			h.logger.Warn().Str("client_id", id).Msg("send buffer full, dropping")
		}
	}
}

// append adds out to the poll buffer. Nothing is kept when no poll client
// is registered, since new poll clients start at the head. Callers hold the
// mutex.
func (h *Hub) append(out types.Outbound) {
	h.seq++
	if h.pollers == 0 {
		return
	}
	h.buffer = append(h.buffer, entry{seq: h.seq, out: out})

	if over := len(h.buffer) - h.cfg.MaxBufferedMessages; over > 0 {
		h.logger.Warn().
			Int("dropped", over).
			Uint64("oldest_kept", h.buffer[over].seq).
			Msg("outbound buffer full, dropping oldest")
		h.buffer = append(h.buffer[:0:0], h.buffer[over:]...)
	}
}
