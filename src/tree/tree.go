// Package tree flattens nested declarative UI descriptions into keyed
// element maps that the canvas renderer consumes.
package tree

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Node is one element of a nested UI description as produced by an agent.
// A nil Children slice means the node declared no children field; an empty
// non-nil slice means it declared an empty one.
type Node struct {
	Type     string         `json:"type"`
	Key      string         `json:"key,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	Children []Node         `json:"children"`
}

// MarshalJSON omits props and children only when the field was never
// declared; an empty map or slice is written as {} or [].
func (n Node) MarshalJSON() ([]byte, error) {
	type node struct {
		Type     string          `json:"type"`
		Key      string          `json:"key,omitempty"`
		Props    *map[string]any `json:"props,omitempty"`
		Children *[]Node         `json:"children,omitempty"`
	}
	out := node{Type: n.Type, Key: n.Key}
	if n.Props != nil {
		out.Props = &n.Props
	}
	if n.Children != nil {
		out.Children = &n.Children
	}
	return json.Marshal(out)
}

// Element is a single entry of a normalized UITree.
type Element struct {
	Key       string
	Type      string
	Props     map[string]any
	ParentKey *string
	Children  []string
}

// IsRoot reports whether the element has no parent.
func (e Element) IsRoot() bool { return e.ParentKey == nil }

// MarshalJSON writes parentKey as null for the root and keeps empty props
// and children distinct from absent ones.
func (e Element) MarshalJSON() ([]byte, error) {
	type element struct {
		Key       string          `json:"key"`
		Type      string          `json:"type"`
		Props     *map[string]any `json:"props,omitempty"`
		ParentKey *string         `json:"parentKey"`
		Children  *[]string       `json:"children,omitempty"`
	}
	out := element{Key: e.Key, Type: e.Type, ParentKey: e.ParentKey}
	if e.Props != nil {
		out.Props = &e.Props
	}
	if e.Children != nil {
		out.Children = &e.Children
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the children-present distinction.
func (e *Element) UnmarshalJSON(data []byte) error {
	var in struct {
		Key       string          `json:"key"`
		Type      string          `json:"type"`
		Props     map[string]any  `json:"props"`
		ParentKey *string         `json:"parentKey"`
		Children  json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Element{Key: in.Key, Type: in.Type, Props: in.Props, ParentKey: in.ParentKey}
	if len(in.Children) > 0 && string(in.Children) != "null" {
		e.Children = []string{}
		if err := json.Unmarshal(in.Children, &e.Children); err != nil {
			return err
		}
	}
	return nil
}

// UITree is the flat, keyed form of a Node hierarchy.
type UITree struct {
	Root     string             `json:"root"`
	Elements map[string]Element `json:"elements"`
}

var autoKeys atomic.Uint64

// nextAutoKey returns the next counter key not already in taken.
func nextAutoKey(taken map[string]bool) string {
	for {
		key := "auto-" + strconv.FormatUint(autoKeys.Add(1), 10)
		if !taken[key] {
			taken[key] = true
			return key
		}
	}
}

// Normalize walks root depth-first and returns its flattened form. Nodes
// without a key receive a process-unique "auto-N" key that never collides
// with a key supplied in the same tree. Props are passed through as-is and
// sibling order is preserved.
func Normalize(root Node) UITree {
	taken := make(map[string]bool)
	collectKeys(root, taken)

	t := UITree{Elements: make(map[string]Element)}
	t.Root = walk(root, nil, t.Elements, taken)
	return t
}

func collectKeys(n Node, taken map[string]bool) {
	if n.Key != "" {
		taken[n.Key] = true
	}
	for _, child := range n.Children {
		collectKeys(child, taken)
	}
}

func walk(n Node, parent *string, out map[string]Element, taken map[string]bool) string {
	key := n.Key
	if key == "" {
		key = nextAutoKey(taken)
	}
	el := Element{
		Key:       key,
		Type:      n.Type,
		Props:     n.Props,
		ParentKey: parent,
	}
	if n.Children != nil {
		el.Children = make([]string, 0, len(n.Children))
	}
	out[key] = el

	self := key
	for _, child := range n.Children {
		el.Children = append(el.Children, walk(child, &self, out, taken))
	}
	out[key] = el
	return key
}

// Validate checks the structural invariants of a normalized tree: a single
// root matching t.Root, every child reference resolvable, and every element
// reachable from the root exactly once.
func (t UITree) Validate() error {
	root, ok := t.Elements[t.Root]
	if !ok {
		return fmt.Errorf("root %q not in elements", t.Root)
	}
	if !root.IsRoot() {
		return fmt.Errorf("root %q has parent %q", t.Root, *root.ParentKey)
	}

	seen := make(map[string]bool, len(t.Elements))
	stack := []string{t.Root}
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[key] {
			return fmt.Errorf("element %q reached more than once", key)
		}
		seen[key] = true

		el := t.Elements[key]
		for i := len(el.Children) - 1; i >= 0; i-- {
			ck := el.Children[i]
			child, ok := t.Elements[ck]
			if !ok {
				return fmt.Errorf("element %q references missing child %q", key, ck)
			}
			if child.ParentKey == nil || *child.ParentKey != key {
				return fmt.Errorf("element %q parentKey does not match %q", ck, key)
			}
			stack = append(stack, ck)
		}
	}
	if len(seen) != len(t.Elements) {
		return fmt.Errorf("%d elements unreachable from root", len(t.Elements)-len(seen))
	}
	return nil
}
