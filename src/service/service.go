package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orchestra-mcp/canvasbus/src/hub"
	"github.com/orchestra-mcp/canvasbus/src/inbox"
	"github.com/orchestra-mcp/canvasbus/src/protocol"
	"github.com/orchestra-mcp/canvasbus/src/router"
	"github.com/orchestra-mcp/canvasbus/src/types"
	"github.com/rs/zerolog"
)

// Service is the canvas bus API used by the agent side and both transports.
type Service struct {
	hub    *hub.Hub
	inbox  inbox.Inbox
	router *router.Router
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a canvas bus service backed by the given hub and inbox.
func New(h *hub.Hub, in inbox.Inbox, logger zerolog.Logger) *Service {
	return &Service{
		hub:    h,
		inbox:  in,
		router: router.New(h, in, logger),
		logger: logger.With().Str("component", "service").Logger(),
		now:    time.Now,
	}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Router returns the message router shared by both transports.
func (s *Service) Router() *router.Router { return s.router }

// PublishCanvas validates env, normalizes its tree and broadcasts the
// resulting canvas_update.
func (s *Service) PublishCanvas(env protocol.CanvasEnvelope) (protocol.CanvasUpdate, error) {
	u, err := env.ToUpdate(s.now())
	if err != nil {
		return protocol.CanvasUpdate{}, err
	}
	if err := s.hub.Broadcast(u); err != nil {
		return protocol.CanvasUpdate{}, err
	}
	s.logger.Debug().
		Str("action", string(u.Action)).
		Str("target", u.Target).
		Str("component_id", u.ComponentID).
		Str("payload", u.Renderable().Kind.String()).
		Str("topic", u.Topic).
		Msg("canvas update published")
	return u, nil
}

// PublishStateChange broadcasts an agent state transition to topic, or to
// every canvas client when topic is empty.
func (s *Service) PublishStateChange(topic, event string, data map[string]any) error {
	if event == "" {
		return fmt.Errorf("event is required")
	}
	return s.hub.Broadcast(protocol.StateChange{
		Event:     event,
		Data:      data,
		Topic:     topic,
		Timestamp: protocol.Millis(s.now()),
	})
}

// Suggest broadcasts follow-up suggestions.
func (s *Service) Suggest(topic string, items []protocol.SuggestionItem) error {
	if len(items) == 0 {
		return fmt.Errorf("at least one suggestion is required")
	}
	return s.hub.Broadcast(protocol.Suggestion{
		Suggestions: items,
		Topic:       topic,
		Timestamp:   protocol.Millis(s.now()),
	})
}

// SendToClient sends a message directly to a specific client.
func (s *Service) SendToClient(clientID string, msg protocol.ServerMessage) error {
	if ok := s.hub.SendToClient(clientID, msg); !ok {
		return fmt.Errorf("client %s not found or buffer full", clientID)
	}
	return nil
}

// PollResponse is what a poll client receives.
type PollResponse struct {
	Messages    []json.RawMessage `json:"messages"`
	ClientCount int               `json:"clientCount"`
	HasMore     bool              `json:"hasMore"`
}

// Poll hands a poll client everything buffered for it since its last poll.
// Topics, when given, are subscribed after the read, once the client is
// registered, so they scope the next poll.
func (s *Service) Poll(clientID string, topics []string) (PollResponse, error) {
	res, err := s.hub.GetPendingMessages(clientID)
	if err != nil {
		return PollResponse{}, err
	}
	if len(topics) > 0 {
		s.hub.Subscribe(clientID, topics)
	}
	return PollResponse{
		Messages:    res.Messages,
		ClientCount: s.hub.ClientCount(),
		HasMore:     s.hub.HasPendingMessages(),
	}, nil
}

// Submit routes a client message that arrived over the poll transport. It
// takes the same path as a WebSocket frame.
func (s *Service) Submit(ctx context.Context, clientID string, msg protocol.ClientMessage) protocol.ServerMessage {
	s.hub.Touch(clientID)
	return s.router.Dispatch(ctx, clientID, msg)
}

// QueueInteraction is the poll transport's equivalent of an interaction
// frame.
func (s *Service) QueueInteraction(ctx context.Context, clientID string, in protocol.Interaction) protocol.ServerMessage {
	return s.Submit(ctx, clientID, &in)
}

// DrainInteractions removes up to max queued interactions in arrival order.
func (s *Service) DrainInteractions(ctx context.Context, max int) ([]inbox.QueuedInteraction, error) {
	items, err := s.inbox.Drain(ctx, max)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []inbox.QueuedInteraction{}, nil
	}
	s.logger.Debug().Int("count", len(items)).Msg("interactions drained")
	return items, nil
}

// Stats aggregates registry counts and inbox depth.
func (s *Service) Stats(ctx context.Context) types.Stats {
	st := s.hub.Stats()
	n, err := s.inbox.Len(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("inbox length unavailable")
		n = -1
	}
	st.Inbox = n
	return st
}

// GetConnectedClients returns IDs of all registered clients.
func (s *Service) GetConnectedClients() []string {
	return s.hub.ConnectedClients()
}

// GetClientInfo returns info for a registered client, or error.
func (s *Service) GetClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("client %s not found", clientID)
	}
	return info, nil
}

// GetChannels returns active topics with subscriber counts.
func (s *Service) GetChannels() map[string]int {
	return s.hub.Channels()
}
