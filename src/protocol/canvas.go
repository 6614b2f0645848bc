package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/canvasbus/src/tree"
)

// EnvelopeType is the discriminator agents put on canvas update envelopes.
const EnvelopeType = "canvas_ui"

// Action is what a canvas update does to its mount point.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// ErrInvalidEnvelope marks an envelope that breaks the payload rules.
var ErrInvalidEnvelope = errors.New("invalid canvas envelope")

// CanvasEnvelope is what an agent submits to place, change or remove a
// component. Spec is the legacy imperative description; Tree is the
// declarative one. When both are present Tree wins.
type CanvasEnvelope struct {
	Type        string         `json:"type,omitempty"`
	Action      Action         `json:"action"`
	Target      string         `json:"target"`
	ComponentID string         `json:"componentId"`
	Spec        map[string]any `json:"spec,omitempty"`
	Tree        *tree.Node     `json:"tree,omitempty"`
	Mode        string         `json:"mode,omitempty"`
	Topic       string         `json:"topic,omitempty"`
}

// Validate checks the action and payload presence rules.
func (e CanvasEnvelope) Validate() error {
	if e.Type != "" && e.Type != EnvelopeType {
		return fmt.Errorf("%w: type %q", ErrInvalidEnvelope, e.Type)
	}
	if e.ComponentID == "" {
		return fmt.Errorf("%w: componentId is required", ErrInvalidEnvelope)
	}
	switch e.Action {
	case ActionCreate, ActionUpdate:
		if e.Target == "" {
			return fmt.Errorf("%w: target is required for %s", ErrInvalidEnvelope, e.Action)
		}
		if e.Spec == nil && e.Tree == nil {
			return fmt.Errorf("%w: %s needs a spec or a tree", ErrInvalidEnvelope, e.Action)
		}
	case ActionRemove:
		if e.Spec != nil || e.Tree != nil {
			return fmt.Errorf("%w: remove carries no payload", ErrInvalidEnvelope)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEnvelope, e.Action)
	}
	return nil
}

// ToUpdate validates the envelope and normalizes its tree into the frame
// sent to clients. This is the only place trees get normalized.
func (e CanvasEnvelope) ToUpdate(now time.Time) (CanvasUpdate, error) {
	if err := e.Validate(); err != nil {
		return CanvasUpdate{}, err
	}
	u := CanvasUpdate{
		Action:      e.Action,
		Target:      e.Target,
		ComponentID: e.ComponentID,
		Spec:        e.Spec,
		Mode:        e.Mode,
		Topic:       e.Topic,
		Timestamp:   Millis(now),
	}
	if e.Tree != nil {
		ut := tree.Normalize(*e.Tree)
		if err := ut.Validate(); err != nil {
			return CanvasUpdate{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		u.Tree = &ut
	}
	return u, nil
}

// PayloadKind names which description a renderer should use.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadTree
	PayloadSpec
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadTree:
		return "tree"
	case PayloadSpec:
		return "spec"
	}
	return "none"
}

// Renderable is the single description a renderer draws from.
type Renderable struct {
	Kind PayloadKind
	Tree *tree.UITree
	Spec map[string]any
}

// Renderable selects the payload to render: the tree when present, the
// legacy spec otherwise. The two are never merged.
func (u CanvasUpdate) Renderable() Renderable {
	switch {
	case u.Tree != nil:
		return Renderable{Kind: PayloadTree, Tree: u.Tree}
	case u.Spec != nil:
		return Renderable{Kind: PayloadSpec, Spec: u.Spec}
	}
	return Renderable{Kind: PayloadNone}
}
