// Package inbox queues browser interactions until the agent drains them.
package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInboxFull is returned by Enqueue when a bounded inbox is at capacity.
var ErrInboxFull = errors.New("interaction inbox full")

// QueuedInteraction is a browser event waiting for the agent.
type QueuedInteraction struct {
	ID              string `json:"id"`
	ClientID        string `json:"clientId"`
	ComponentID     string `json:"componentId"`
	InteractionType string `json:"interactionType"`
	Data            any    `json:"data,omitempty"`
	Target          string `json:"target,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// Inbox is a FIFO of interactions. Push and poll transports both feed the
// same Inbox so the consumer cannot tell them apart.
type Inbox interface {
	// Enqueue stamps in with an id and arrival time and appends it.
	Enqueue(ctx context.Context, in QueuedInteraction) (QueuedInteraction, error)

	// Drain removes and returns up to max interactions in arrival order.
	// A max of zero or less drains everything queued.
	Drain(ctx context.Context, max int) ([]QueuedInteraction, error)

	// Len reports how many interactions are waiting.
	Len(ctx context.Context) (int, error)
}

// stamp assigns the server-side id and timestamp.
func stamp(in QueuedInteraction, now time.Time) QueuedInteraction {
	in.ID = uuid.New().String()
	in.Timestamp = now.UnixMilli()
	return in
}

// Memory is an in-process Inbox. It only keeps interactions for the life of
// the process.
type Memory struct {
	mu       sync.Mutex
	items    []QueuedInteraction
	capacity int
	now      func() time.Time
	logger   zerolog.Logger
}

// NewMemory creates an in-memory inbox. A capacity of zero means unbounded.
func NewMemory(capacity int, logger zerolog.Logger) *Memory {
	return &Memory{
		capacity: capacity,
		now:      time.Now,
		logger:   logger.With().Str("component", "inbox").Logger(),
	}
}

func (m *Memory) Enqueue(_ context.Context, in QueuedInteraction) (QueuedInteraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity > 0 && len(m.items) >= m.capacity {
		m.logger.Warn().Int("capacity", m.capacity).Str("client_id", in.ClientID).Msg("inbox full, rejecting interaction")
		return QueuedInteraction{}, ErrInboxFull
	}
	in = stamp(in, m.now())
	m.items = append(m.items, in)

	m.logger.Debug().
		Str("interaction_id", in.ID).
		Str("client_id", in.ClientID).
		Str("component_id", in.ComponentID).
		Str("interaction_type", in.InteractionType).
		Msg("interaction queued")
	return in, nil
}

func (m *Memory) Drain(_ context.Context, max int) ([]QueuedInteraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.items)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]QueuedInteraction, n)
	copy(out, m.items[:n])

	rest := make([]QueuedInteraction, len(m.items)-n)
	copy(rest, m.items[n:])
	m.items = rest
	return out, nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}
