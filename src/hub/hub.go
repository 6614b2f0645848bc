package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/canvasbus/config"
	"github.com/orchestra-mcp/canvasbus/src/types"
	"github.com/rs/zerolog"
)

// MessageBridge publishes broadcasts to other bus instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(out types.Outbound) error
	Available() bool
}

// Hub is the connection registry and the outbound buffer shared by the push
// and poll transports. Every mutation happens in a single critical section.
type Hub struct {
	cfg *config.BusConfig

	clients  map[string]*Client
	channels map[string]map[string]bool // topic -> set of clientIDs

	// buffer holds broadcasts not yet handed to every poll client, in
	// sequence order.
	buffer  []entry
	seq     uint64
	pollers int

	localCast chan types.Outbound // messages from bridge, no re-publish

	onConnect []func(string)
	onDisconn []func(string)

	bridge MessageBridge
	mu     sync.RWMutex
	logger zerolog.Logger
	now    func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	seq uint64
	out types.Outbound
}

// New creates a new Hub instance.
func New(cfg *config.BusConfig, logger zerolog.Logger) *Hub {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Hub{
		cfg:       cfg,
		clients:   make(map[string]*Client),
		channels:  make(map[string]map[string]bool),
		localCast: make(chan types.Outbound, 256),
		logger:    logger.With().Str("component", "hub").Logger(),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, broadcasts are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// BroadcastToLocal delivers a message from the bridge to local clients only.
// It does not re-publish to the bridge, preventing infinite loops.
func (h *Hub) BroadcastToLocal(out types.Outbound) {
	select {
	case h.localCast <- out:
	case <-h.done:
	}
}

// Run starts the hub event loop: relayed broadcasts and the stale poll
// client sweep. Call in a goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.cfg.SweepEvery())
	defer ticker.Stop()

	for {
		select {
		case out := <-h.localCast:
			h.mu.Lock()
			h.deliver(out)
			h.mu.Unlock()
		case <-ticker.C:
			h.Sweep()
		case <-h.done:
			return
		}
	}
}

// Stop halts the hub event loop and closes every push client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.Unlock()

		for _, c := range clients {
			c.Close()
		}
	})
}

// Sweep removes poll clients idle for longer than the configured TTL and
// trims the buffer to what the remaining poll clients still need.
func (h *Hub) Sweep() {
	cutoff := h.now().Add(-h.cfg.PollTTL())

	h.mu.Lock()
	var stale []*Client
	for _, c := range h.clients {
		if c.transport == types.TransportPoll && c.lastActivity.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		h.removeLocked(c)
	}
	h.trim()
	cbs := h.onDisconn
	h.mu.Unlock()

	for _, c := range stale {
		c.Close()
		h.logger.Info().Str("client_id", c.ID).Msg("poll client expired")
		notify(cbs, c.ID)
	}
}

func notify(cbs []func(string), id string) {
	for _, cb := range cbs {
		cb(id)
	}
}
