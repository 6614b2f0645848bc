package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/canvasbus/config"
	"github.com/orchestra-mcp/canvasbus/src/bridge"
	"github.com/orchestra-mcp/canvasbus/src/hub"
	"github.com/orchestra-mcp/canvasbus/src/inbox"
	"github.com/orchestra-mcp/canvasbus/src/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotActive is returned by tools and accessors before Activate.
var ErrNotActive = errors.New("canvas bus not active")

// Context carries what the plugin needs to start.
type Context struct {
	Logger zerolog.Logger
	Config *config.BusConfig
	Redis  *bridge.RedisConfig
}

// BusPlugin owns the canvas bus lifecycle: hub, inbox, bridge, service and
// HTTP surface.
type BusPlugin struct {
	active  bool
	ctx     *Context
	cfg     *config.BusConfig
	hub     *hub.Hub
	inbox   inbox.Inbox
	service *service.Service
	bridge  bridge.Bridge
	redis   *redis.Client // inbox connection, when the inbox is durable
	app     *fiber.App
}

// NewBusPlugin creates a new canvas bus plugin instance.
func NewBusPlugin() *BusPlugin { return &BusPlugin{} }

func (p *BusPlugin) ID() string      { return "orchestra/canvasbus" }
func (p *BusPlugin) Name() string    { return "Canvas Bus" }
func (p *BusPlugin) Version() string { return "0.1.0" }
func (p *BusPlugin) IsActive() bool  { return p.active }

// Activate initializes the hub, inbox and service, starts the event loop
// and builds the HTTP routes.
func (p *BusPlugin) Activate(ctx *Context) error {
	if p.active {
		return nil
	}
	if ctx.Config == nil {
		ctx.Config = config.DefaultConfig()
	}
	if ctx.Redis == nil {
		ctx.Redis = bridge.RedisConfigFromEnv()
	}
	if err := ctx.Config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	p.ctx = ctx
	p.cfg = ctx.Config
	p.hub = hub.New(p.cfg, ctx.Logger)

	in, err := p.initInbox(ctx)
	if err != nil {
		return err
	}
	p.inbox = in
	p.service = service.New(p.hub, p.inbox, ctx.Logger)

	go p.hub.Run()

	if p.cfg.BridgeEnabled {
		// Non-fatal if unavailable.
		p.initBridge(ctx)
	}

	p.app = fiber.New(fiber.Config{AppName: p.Name()})
	p.RegisterRoutes(p.app)

	p.active = true
	ctx.Logger.Info().
		Str("plugin", p.ID()).
		Str("inbox", p.cfg.InboxBackend).
		Bool("bridge", p.bridge != nil).
		Msg("canvas bus activated")
	return nil
}

func (p *BusPlugin) initInbox(ctx *Context) (inbox.Inbox, error) {
	if p.cfg.InboxBackend != config.InboxRedis {
		return inbox.NewMemory(p.cfg.InboxCapacity, ctx.Logger), nil
	}

	client := bridge.NewClient(ctx.Redis)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis inbox unavailable at %s: %w", ctx.Redis.Addr, err)
	}
	p.redis = client
	return inbox.NewRedis(client, inbox.KeyFor(ctx.Redis.Prefix), p.cfg.InboxCapacity, ctx.Logger), nil
}

// initBridge tries to start the Redis pub/sub bridge.
// If Redis is not reachable, the hub runs in standalone mode.
func (p *BusPlugin) initBridge(ctx *Context) {
	rb := bridge.NewRedisBridge(ctx.Redis, p.hub, ctx.Logger)

	if err := rb.Start(); err != nil {
		ctx.Logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		return
	}

	p.bridge = rb
	p.hub.SetBridge(rb)
	ctx.Logger.Info().Str("redis_addr", ctx.Redis.Addr).Msg("redis bridge connected")
}

// Deactivate stops the bridge, hub event loop and inbox connection. Safe to
// call more than once.
func (p *BusPlugin) Deactivate() error {
	if !p.active {
		return nil
	}
	if p.bridge != nil {
		if err := p.bridge.Stop(); err != nil {
			p.ctx.Logger.Error().Err(err).Msg("bridge stop error")
		}
		p.bridge = nil
	}
	if p.hub != nil {
		p.hub.Stop()
	}
	if p.redis != nil {
		if err := p.redis.Close(); err != nil {
			p.ctx.Logger.Error().Err(err).Msg("redis inbox close error")
		}
		p.redis = nil
	}
	p.active = false
	p.ctx.Logger.Info().Str("plugin", p.ID()).Msg("canvas bus deactivated")
	return nil
}

// Service exposes the canvas bus service for the agent side.
func (p *BusPlugin) Service() (*service.Service, error) {
	if !p.active {
		return nil, ErrNotActive
	}
	return p.service, nil
}
