// Package protocol defines the JSON frames exchanged between the canvas bus
// and browser clients, and the canvas update envelope agents submit.
package protocol

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/orchestra-mcp/canvasbus/src/tree"
)

// Server to client message types.
const (
	TypeCanvasUpdate  = "canvas_update"
	TypeStateChange   = "state_change"
	TypeSuggestion    = "suggestion"
	TypeConnectionAck = "connection_ack"
	TypeError         = "error"
	TypePong          = "pong"
)

// Error codes carried by Error frames.
const (
	CodeParseError = "PARSE_ERROR"
	CodeInboxFull  = "INBOX_FULL"
	CodeInternal   = "INTERNAL_ERROR"
)

// ServerMessage is a frame sent from the bus to a browser client. The set of
// implementations is closed to this package.
type ServerMessage interface {
	MessageType() string
	serverMessage()
}

// Broadcast is a ServerMessage that can be fanned out to subscribers. An
// empty Scope addresses every canvas client.
type Broadcast interface {
	ServerMessage
	Scope() string
}

// CanvasUpdate carries a normalized tree and/or a legacy component spec to
// a mount point.
type CanvasUpdate struct {
	Action      Action         `json:"action"`
	Target      string         `json:"target"`
	ComponentID string         `json:"componentId"`
	Spec        map[string]any `json:"spec,omitempty"`
	Tree        *tree.UITree   `json:"tree,omitempty"`
	Mode        string         `json:"mode,omitempty"`
	Topic       string         `json:"topic,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// StateChange notifies clients of an agent state transition such as
// "agent_thinking".
type StateChange struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// SuggestionItem is one suggested follow-up offered to the user.
type SuggestionItem struct {
	ID   string         `json:"id"`
	Text string         `json:"text"`
	Data map[string]any `json:"data,omitempty"`
}

// Suggestion offers the user a set of follow-ups.
type Suggestion struct {
	Suggestions []SuggestionItem `json:"suggestions"`
	Topic       string           `json:"topic,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// ConnectionAck is the first frame on every push connection.
type ConnectionAck struct {
	ClientID   string `json:"clientId"`
	ServerTime int64  `json:"serverTime"`
}

// Error reports a malformed request back to the sender.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pong echoes the timestamp of a ping verbatim.
type Pong struct {
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

func (CanvasUpdate) MessageType() string  { return TypeCanvasUpdate }
func (StateChange) MessageType() string   { return TypeStateChange }
func (Suggestion) MessageType() string    { return TypeSuggestion }
func (ConnectionAck) MessageType() string { return TypeConnectionAck }
func (Error) MessageType() string         { return TypeError }
func (Pong) MessageType() string          { return TypePong }

func (CanvasUpdate) serverMessage()  {}
func (StateChange) serverMessage()   {}
func (Suggestion) serverMessage()    {}
func (ConnectionAck) serverMessage() {}
func (Error) serverMessage()         {}
func (Pong) serverMessage()          {}

func (m CanvasUpdate) Scope() string { return m.Topic }
func (m StateChange) Scope() string  { return m.Topic }
func (m Suggestion) Scope() string   { return m.Topic }

func (m CanvasUpdate) MarshalJSON() ([]byte, error) {
	type plain CanvasUpdate
	return withType(TypeCanvasUpdate, plain(m))
}

func (m StateChange) MarshalJSON() ([]byte, error) {
	type plain StateChange
	return withType(TypeStateChange, plain(m))
}

func (m Suggestion) MarshalJSON() ([]byte, error) {
	type plain Suggestion
	return withType(TypeSuggestion, plain(m))
}

func (m ConnectionAck) MarshalJSON() ([]byte, error) {
	type plain ConnectionAck
	return withType(TypeConnectionAck, plain(m))
}

func (m Error) MarshalJSON() ([]byte, error) {
	type plain Error
	return withType(TypeError, plain(m))
}

func (m Pong) MarshalJSON() ([]byte, error) {
	type plain Pong
	return withType(TypePong, plain(m))
}

// withType encodes v and prepends the "type" discriminator.
func withType(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head, _ := json.Marshal(typ)

	var buf bytes.Buffer
	buf.Grow(len(body) + len(head) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(head)
	if rest := bytes.TrimSpace(body[1:]); len(rest) > 1 {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Encode renders msg as a JSON frame.
func Encode(msg ServerMessage) (json.RawMessage, error) {
	return json.Marshal(msg)
}

// Millis returns t as milliseconds since the Unix epoch.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// NewConnectionAck builds the handshake frame for clientID.
func NewConnectionAck(clientID string, now time.Time) ConnectionAck {
	return ConnectionAck{ClientID: clientID, ServerTime: Millis(now)}
}

// NewError builds an error frame.
func NewError(code, message string) Error {
	return Error{Code: code, Message: message}
}
