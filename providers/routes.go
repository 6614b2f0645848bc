package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/canvasbus/src/hub"
	"github.com/orchestra-mcp/canvasbus/src/protocol"
	"github.com/orchestra-mcp/canvasbus/src/types"
	"github.com/valyala/fasthttp"
)

const maxFrameSize = 64 << 10

// RegisterRoutes registers the poll transport, info and agent routes via
// Fiber. The WebSocket upgrade uses FastHTTPHandler, mounted by Handler,
// since Fiber v3 does not expose *fasthttp.RequestCtx.
func (p *BusPlugin) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/info", p.handleInfo)
	group.Get("/stats", p.handleStats)

	group.Get("/poll", p.handlePollGet)
	group.Post("/poll", p.handlePollPost)

	agent := group.Group("/agent")
	agent.Post("/canvas", p.handleAgentCanvas)
	agent.Get("/interactions", p.handleAgentInteractions)
	agent.Post("/tools/:name", p.handleAgentTool)
}

// Handler returns the top-level fasthttp handler: /ws goes to the WebSocket
// upgrader, everything else to the Fiber app.
func (p *BusPlugin) Handler() fasthttp.RequestHandler {
	ws := p.FastHTTPHandler()
	app := p.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ws" {
			ws(ctx)
			return
		}
		app(ctx)
	}
}

// App returns the Fiber app built on Activate.
func (p *BusPlugin) App() *fiber.App { return p.app }

func (p *BusPlugin) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws",
		"poll":      "/poll",
		"clients":   p.hub.ClientCount(),
		"channels":  len(p.hub.Channels()),
	})
}

func (p *BusPlugin) handleStats(c fiber.Ctx) error {
	return c.JSON(p.service.Stats(c.Context()))
}

func (p *BusPlugin) handlePollGet(c fiber.Ctx) error {
	clientID := c.Query("clientId")
	if clientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "clientId is required"})
	}
	res, err := p.service.Poll(clientID, splitTopics(c.Query("topics")))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(res)
}

// pollSubmission is the body of POST /poll. Interaction is the common case;
// Message carries any other client frame, e.g. identify or subscribe.
type pollSubmission struct {
	ClientID    string                `json:"clientId"`
	Interaction *protocol.Interaction `json:"interaction"`
	Message     json.RawMessage       `json:"message"`
}

func (p *BusPlugin) handlePollPost(c fiber.Ctx) error {
	var body pollSubmission
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	if body.ClientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "clientId is required"})
	}

	var msg protocol.ClientMessage
	switch {
	case body.Interaction != nil:
		msg = body.Interaction
	case len(body.Message) > 0:
		m, err := protocol.DecodeClientMessage(body.Message)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		msg = m
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "interaction is required"})
	}

	reply := p.service.Submit(c.Context(), body.ClientID, msg)
	if e, ok := reply.(protocol.Error); ok {
		status := fiber.StatusInternalServerError
		switch e.Code {
		case protocol.CodeInboxFull:
			status = fiber.StatusServiceUnavailable
		case protocol.CodeParseError:
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{"error": e.Message, "code": e.Code})
	}
	if reply != nil {
		return c.JSON(fiber.Map{"success": true, "reply": reply})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (p *BusPlugin) handleAgentCanvas(c fiber.Ctx) error {
	var env protocol.CanvasEnvelope
	if err := json.Unmarshal(c.Body(), &env); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	u, err := p.service.PublishCanvas(env)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidEnvelope) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(canvasResult(u))
}

func (p *BusPlugin) handleAgentInteractions(c fiber.Ctx) error {
	limit := 0
	if raw := c.Query("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "max must be a non-negative integer"})
		}
		limit = n
	}
	items, err := p.service.DrainInteractions(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"interactions": items, "count": len(items)})
}

func (p *BusPlugin) handleAgentTool(c fiber.Ctx) error {
	name := c.Params("name")
	tool, ok := p.tool(name)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown tool " + name})
	}

	input := map[string]any{}
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
		}
	}
	out, err := tool.Handler(c.Context(), input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(out)
}

func splitTopics(raw string) []string {
	if raw == "" {
		return nil
	}
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Query parameters type, userId and sessionId identify the client up front.
func (p *BusPlugin) FastHTTPHandler() fasthttp.RequestHandler {
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  p.cfg.ReadBufferSize,
		WriteBufferSize: p.cfg.WriteBufferSize,
		CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
	}
	pongWait := p.cfg.PingEvery() * 10 / 9
	writeWait := p.cfg.WriteDeadline()

	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		args := ctx.QueryArgs()
		id := hub.Identity{
			ClientType: types.ClientCanvas,
			UserID:     string(args.Peek("userId")),
			SessionID:  string(args.Peek("sessionId")),
		}
		typ := args.Peek("type")
		if len(typ) == 0 {
			typ = args.Peek("clientType")
		}
		if ct, ok := types.ParseClientType(string(typ)); ok {
			id.ClientType = ct
		}

		h := p.hub
		logger := p.ctx.Logger

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			conn.SetReadLimit(maxFrameSize)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})

			client, err := h.Connect(&fasthttpConn{conn: conn, writeWait: writeWait}, id)
			if err != nil {
				_ = conn.WriteJSON(protocol.NewError(protocol.CodeInternal, err.Error()))
				conn.Close()
				logger.Warn().Err(err).Msg("websocket client rejected")
				return
			}
			go client.WritePump()
			client.ReadPump(p.handleFrame)
		})
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// handleFrame routes one inbound WebSocket frame and queues any reply on
// the sender's own connection.
func (p *BusPlugin) handleFrame(c *hub.Client, frame []byte) {
	reply := p.service.Router().HandleFrame(context.Background(), c.ID, frame)
	if reply != nil {
		p.hub.SendToClient(c.ID, reply)
	}
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func (f *fasthttpConn) WriteJSON(v any) error {
	if err := f.conn.SetWriteDeadline(time.Now().Add(f.writeWait)); err != nil {
		return err
	}
	return f.conn.WriteJSON(v)
}

func (f *fasthttpConn) ReadMessage() ([]byte, error) {
	_, data, err := f.conn.ReadMessage()
	return data, err
}

func (f *fasthttpConn) Ping() error {
	return f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.writeWait))
}

func (f *fasthttpConn) Close() error { return f.conn.Close() }
