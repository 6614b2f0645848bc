package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orchestra-mcp/canvasbus/src/protocol"
)

// ToolDefinition describes an agent-facing tool exposed at
// POST /agent/tools/:name.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, input map[string]any) (any, error)
}

// Tools returns the tool definitions contributed by the canvas bus.
func (p *BusPlugin) Tools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        protocol.EnvelopeType,
			Description: "Create, update or remove a canvas component from a spec or a component tree",
			InputSchema: map[string]any{
				"action":      map[string]any{"type": "string", "enum": []string{"create", "update", "remove"}},
				"target":      map[string]any{"type": "string", "description": "Mount point"},
				"componentId": map[string]any{"type": "string"},
				"spec":        map[string]any{"type": "object", "description": "Legacy component spec"},
				"tree":        map[string]any{"type": "object", "description": "Nested component tree"},
				"mode":        map[string]any{"type": "string"},
				"topic":       map[string]any{"type": "string", "description": "world:, story: or canvas: topic"},
			},
			Handler: p.toolCanvasUI,
		},
		{
			Name:        "state_change",
			Description: "Broadcast an agent state transition such as agent_thinking",
			InputSchema: map[string]any{
				"event": map[string]any{"type": "string"},
				"data":  map[string]any{"type": "object"},
				"topic": map[string]any{"type": "string"},
			},
			Handler: p.toolStateChange,
		},
		{
			Name:        "suggest",
			Description: "Offer follow-up suggestions to the user",
			InputSchema: map[string]any{
				"suggestions": map[string]any{"type": "array"},
				"topic":       map[string]any{"type": "string"},
			},
			Handler: p.toolSuggest,
		},
		{
			Name:        "list_canvas_clients",
			Description: "List connected canvas and debug clients",
			InputSchema: map[string]any{},
			Handler:     p.toolListClients,
		},
		{
			Name:        "list_canvas_topics",
			Description: "List active topics with subscriber counts",
			InputSchema: map[string]any{},
			Handler:     p.toolListTopics,
		},
		{
			Name:        "drain_interactions",
			Description: "Remove and return queued user interactions in arrival order",
			InputSchema: map[string]any{
				"max": map[string]any{"type": "integer", "description": "0 drains everything"},
			},
			Handler: p.toolDrainInteractions,
		},
	}
}

func (p *BusPlugin) tool(name string) (ToolDefinition, bool) {
	for _, t := range p.Tools() {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}

// decodeInput re-reads a loosely typed tool input into v.
func decodeInput(input map[string]any, v any) error {
	data, err := json.Marshal(input)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func canvasResult(u protocol.CanvasUpdate) map[string]any {
	return map[string]any{
		"published":   true,
		"action":      u.Action,
		"componentId": u.ComponentID,
		"payload":     u.Renderable().Kind.String(),
	}
}

func (p *BusPlugin) toolCanvasUI(_ context.Context, input map[string]any) (any, error) {
	if !p.active {
		return nil, ErrNotActive
	}
	var env protocol.CanvasEnvelope
	if err := decodeInput(input, &env); err != nil {
		return nil, err
	}
	u, err := p.service.PublishCanvas(env)
	if err != nil {
		return nil, err
	}
	return canvasResult(u), nil
}

func (p *BusPlugin) toolStateChange(_ context.Context, input map[string]any) (any, error) {
	if !p.active {
		return nil, ErrNotActive
	}
	event, _ := input["event"].(string)
	topic, _ := input["topic"].(string)
	data, _ := input["data"].(map[string]any)
	if err := p.service.PublishStateChange(topic, event, data); err != nil {
		return nil, err
	}
	return map[string]any{"published": true, "event": event}, nil
}

func (p *BusPlugin) toolSuggest(_ context.Context, input map[string]any) (any, error) {
	if !p.active {
		return nil, ErrNotActive
	}
	var req struct {
		Suggestions []protocol.SuggestionItem `json:"suggestions"`
		Topic       string                    `json:"topic"`
	}
	if err := decodeInput(input, &req); err != nil {
		return nil, err
	}
	if err := p.service.Suggest(req.Topic, req.Suggestions); err != nil {
		return nil, err
	}
	return map[string]any{"published": true, "count": len(req.Suggestions)}, nil
}

func (p *BusPlugin) toolListClients(_ context.Context, _ map[string]any) (any, error) {
	if !p.active {
		return nil, ErrNotActive
	}
	clients := p.service.GetConnectedClients()
	infos := make([]any, 0, len(clients))
	for _, id := range clients {
		info, err := p.service.GetClientInfo(id)
		if err == nil {
			infos = append(infos, info)
		}
	}
	return map[string]any{
		"clients": infos,
		"count":   len(infos),
	}, nil
}

func (p *BusPlugin) toolListTopics(_ context.Context, _ map[string]any) (any, error) {
	if !p.active {
		return nil, ErrNotActive
	}
	channels := p.service.GetChannels()
	result := make([]map[string]any, 0, len(channels))
	for name, count := range channels {
		result = append(result, map[string]any{
			"topic":       name,
			"subscribers": count,
		})
	}
	return map[string]any{"topics": result, "count": len(result)}, nil
}

func (p *BusPlugin) toolDrainInteractions(ctx context.Context, input map[string]any) (any, error) {
	if !p.active {
		return nil, ErrNotActive
	}
	limit := 0
	if n, ok := input["max"].(float64); ok && n > 0 {
		limit = int(n)
	}
	items, err := p.service.DrainInteractions(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"interactions": items, "count": len(items)}, nil
}
