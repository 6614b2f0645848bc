// Package router dispatches decoded client messages to the registry and
// the interaction inbox.
package router

import (
	"context"
	"errors"

	"github.com/orchestra-mcp/canvasbus/src/hub"
	"github.com/orchestra-mcp/canvasbus/src/inbox"
	"github.com/orchestra-mcp/canvasbus/src/protocol"
	"github.com/orchestra-mcp/canvasbus/src/types"
	"github.com/rs/zerolog"
)

// Registry is the subset of the hub the router mutates.
type Registry interface {
	IdentifyClient(clientID string, id hub.Identity) bool
	Subscribe(clientID string, topics []string) bool
	Unsubscribe(clientID string, topics []string) bool
}

// Router turns client messages into registry and inbox operations. It holds
// no state of its own.
type Router struct {
	registry Registry
	inbox    inbox.Inbox
	logger   zerolog.Logger
}

var _ protocol.Handler = (*Router)(nil)

// New creates a Router.
func New(registry Registry, in inbox.Inbox, logger zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		inbox:    in,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// HandleFrame decodes and dispatches one raw frame. It returns the frame to
// send back, or nil when there is nothing to say. Malformed JSON yields a
// PARSE_ERROR frame; an unknown type is logged and dropped without reply.
func (r *Router) HandleFrame(ctx context.Context, clientID string, frame []byte) protocol.ServerMessage {
	msg, err := protocol.DecodeClientMessage(frame)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		r.logger.Debug().Err(err).Str("client_id", clientID).Msg("dropping unknown message")
		return nil
	case err != nil:
		r.logger.Debug().Err(err).Str("client_id", clientID).Msg("malformed frame")
		return protocol.NewError(protocol.CodeParseError, "invalid message format")
	}
	return r.Dispatch(ctx, clientID, msg)
}

// Dispatch routes an already decoded message.
func (r *Router) Dispatch(ctx context.Context, clientID string, msg protocol.ClientMessage) protocol.ServerMessage {
	reply, err := msg.Accept(ctx, clientID, r)
	if err != nil {
		r.logger.Warn().Err(err).Str("client_id", clientID).Str("type", msg.MessageType()).Msg("message handling failed")
		if errors.Is(err, inbox.ErrInboxFull) {
			return protocol.NewError(protocol.CodeInboxFull, err.Error())
		}
		return protocol.NewError(protocol.CodeInternal, "message could not be processed")
	}
	return reply
}

func (r *Router) Interaction(ctx context.Context, clientID string, m *protocol.Interaction) (protocol.ServerMessage, error) {
	_, err := r.inbox.Enqueue(ctx, inbox.QueuedInteraction{
		ClientID:        clientID,
		ComponentID:     m.ComponentID,
		InteractionType: m.InteractionType,
		Data:            m.Data,
		Target:          m.Target,
	})
	return nil, err
}

func (r *Router) Identify(_ context.Context, clientID string, m *protocol.Identify) (protocol.ServerMessage, error) {
	id := hub.Identity{UserID: m.UserID, SessionID: m.SessionID}
	if ct, ok := types.ParseClientType(m.ClientType); ok {
		id.ClientType = ct
	} else if m.ClientType != "" {
		r.logger.Debug().Str("client_id", clientID).Str("client_type", m.ClientType).Msg("ignoring unknown client type")
	}
	r.registry.IdentifyClient(clientID, id)
	return nil, nil
}

func (r *Router) Subscribe(_ context.Context, clientID string, m *protocol.Subscribe) (protocol.ServerMessage, error) {
	r.registry.Subscribe(clientID, m.Topics)
	return nil, nil
}

func (r *Router) Unsubscribe(_ context.Context, clientID string, m *protocol.Unsubscribe) (protocol.ServerMessage, error) {
	r.registry.Unsubscribe(clientID, m.Topics)
	return nil, nil
}

func (r *Router) Ping(_ context.Context, _ string, m *protocol.Ping) (protocol.ServerMessage, error) {
	return protocol.Pong{Timestamp: m.Timestamp}, nil
}
