package types

import (
	"encoding/json"
	"strings"
	"time"
)

// ClientType distinguishes canvas surfaces from debug consoles.
type ClientType string

const (
	ClientCanvas ClientType = "canvas"
	ClientDebug  ClientType = "debug"
)

// ParseClientType returns the ClientType for s and whether s named one.
func ParseClientType(s string) (ClientType, bool) {
	switch ClientType(s) {
	case ClientCanvas, ClientDebug:
		return ClientType(s), true
	}
	return "", false
}

// Transport is the delivery channel a client uses.
type Transport string

const (
	TransportPush Transport = "push"
	TransportPoll Transport = "poll"
)

// ClientInfo holds metadata about a connected browser client.
type ClientInfo struct {
	ID            string     `json:"id"`
	ClientType    ClientType `json:"clientType"`
	Transport     Transport  `json:"transport"`
	UserID        string     `json:"userId,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
	Subscriptions []string   `json:"subscriptions"`
	ConnectedAt   time.Time  `json:"connectedAt"`
	LastActivity  time.Time  `json:"lastActivity"`
}

// Stats aggregates registry counts for observability.
type Stats struct {
	Total       int                `json:"total"`
	ByType      map[ClientType]int `json:"byType"`
	ByTransport map[Transport]int  `json:"byTransport"`
	Topics      map[string]int     `json:"topics"`
	Buffered    int                `json:"buffered"`
	Inbox       int                `json:"inbox"`
}

// Outbound is an encoded server frame plus its addressing. A non-empty
// ClientID addresses one client; otherwise Topic scopes the fan-out and an
// empty Topic reaches every canvas client.
type Outbound struct {
	Topic    string          `json:"topic,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Ping() error
	Close() error
}

var topicPrefixes = []string{"world:", "story:", "canvas:"}

// ValidTopic reports whether topic is a canvas, world or story scope with a
// non-empty id.
func ValidTopic(topic string) bool {
	for _, p := range topicPrefixes {
		if strings.HasPrefix(topic, p) && len(topic) > len(p) {
			return true
		}
	}
	return false
}
