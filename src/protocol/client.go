package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Client to server message types.
const (
	TypeInteraction = "interaction"
	TypeIdentify    = "identify"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

var (
	// ErrParse marks a frame that is not valid JSON or does not fit the
	// shape of its declared type.
	ErrParse = errors.New("parse error")

	// ErrUnknownType marks a well-formed frame whose type is not handled.
	ErrUnknownType = errors.New("unknown message type")
)

// Handler receives decoded client messages. Every client message type has
// a method here, so adding a type without handling it fails to compile.
type Handler interface {
	Interaction(ctx context.Context, clientID string, m *Interaction) (ServerMessage, error)
	Identify(ctx context.Context, clientID string, m *Identify) (ServerMessage, error)
	Subscribe(ctx context.Context, clientID string, m *Subscribe) (ServerMessage, error)
	Unsubscribe(ctx context.Context, clientID string, m *Unsubscribe) (ServerMessage, error)
	Ping(ctx context.Context, clientID string, m *Ping) (ServerMessage, error)
}

// ClientMessage is a frame sent from a browser client to the bus.
type ClientMessage interface {
	MessageType() string
	Accept(ctx context.Context, clientID string, h Handler) (ServerMessage, error)
}

// Interaction is a user action on a rendered component.
type Interaction struct {
	ComponentID     string `json:"componentId"`
	InteractionType string `json:"interactionType"`
	Data            any    `json:"data,omitempty"`
	Target          string `json:"target,omitempty"`
}

// Identify declares who is behind a connection.
type Identify struct {
	ClientType string `json:"clientType"`
	UserID     string `json:"userId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
}

// Subscribe adds topics to the sender's subscription set.
type Subscribe struct {
	Topics []string `json:"topics"`
}

// Unsubscribe removes topics from the sender's subscription set.
type Unsubscribe struct {
	Topics []string `json:"topics"`
}

// Ping asks for a Pong carrying the same timestamp.
type Ping struct {
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

func (*Interaction) MessageType() string { return TypeInteraction }
func (*Identify) MessageType() string    { return TypeIdentify }
func (*Subscribe) MessageType() string   { return TypeSubscribe }
func (*Unsubscribe) MessageType() string { return TypeUnsubscribe }
func (*Ping) MessageType() string        { return TypePing }

func (m *Interaction) Accept(ctx context.Context, id string, h Handler) (ServerMessage, error) {
	return h.Interaction(ctx, id, m)
}

func (m *Identify) Accept(ctx context.Context, id string, h Handler) (ServerMessage, error) {
	return h.Identify(ctx, id, m)
}

func (m *Subscribe) Accept(ctx context.Context, id string, h Handler) (ServerMessage, error) {
	return h.Subscribe(ctx, id, m)
}

func (m *Unsubscribe) Accept(ctx context.Context, id string, h Handler) (ServerMessage, error) {
	return h.Unsubscribe(ctx, id, m)
}

func (m *Ping) Accept(ctx context.Context, id string, h Handler) (ServerMessage, error) {
	return h.Ping(ctx, id, m)
}

var clientMessages = map[string]func() ClientMessage{
	TypeInteraction: func() ClientMessage { return &Interaction{} },
	TypeIdentify:    func() ClientMessage { return &Identify{} },
	TypeSubscribe:   func() ClientMessage { return &Subscribe{} },
	TypeUnsubscribe: func() ClientMessage { return &Unsubscribe{} },
	TypePing:        func() ClientMessage { return &Ping{} },
}

// DecodeClientMessage parses a raw frame. It returns an error wrapping
// ErrParse for malformed input and ErrUnknownType for a type the bus does
// not understand.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	newMsg, ok := clientMessages[head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	msg := newMsg()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, head.Type, err)
	}
	return msg, nil
}
