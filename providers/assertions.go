package providers

import (
	"github.com/orchestra-mcp/canvasbus/src/bridge"
	"github.com/orchestra-mcp/canvasbus/src/hub"
	"github.com/orchestra-mcp/canvasbus/src/inbox"
	"github.com/orchestra-mcp/canvasbus/src/router"
	"github.com/orchestra-mcp/canvasbus/src/types"
)

// Compile-time interface assertions.
var (
	_ bridge.Bridge          = (*bridge.RedisBridge)(nil)
	_ bridge.BroadcastTarget = (*hub.Hub)(nil)
	_ hub.MessageBridge      = (*bridge.RedisBridge)(nil)
	_ inbox.Inbox            = (*inbox.Memory)(nil)
	_ inbox.Inbox            = (*inbox.Redis)(nil)
	_ router.Registry        = (*hub.Hub)(nil)
	_ types.Conn             = (*fasthttpConn)(nil)
)
