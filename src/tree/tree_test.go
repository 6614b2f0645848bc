package tree

import (
	"encoding/json"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var autoKeyPattern = regexp.MustCompile(`^auto-\d+$`)

func decode(t *testing.T, src string) Node {
	t.Helper()
	var n Node
	require.NoError(t, json.Unmarshal([]byte(src), &n))
	return n
}

func TestNormalizeStackWithText(t *testing.T) {
	n := decode(t, `{"type":"Stack","key":"s1","props":{},"children":[{"type":"Text","key":"t1","props":{"content":"Hi"}}]}`)

	ut := Normalize(n)
	require.NoError(t, ut.Validate())

	assert.Equal(t, "s1", ut.Root)
	require.Len(t, ut.Elements, 2)

	s1 := ut.Elements["s1"]
	assert.Equal(t, "Stack", s1.Type)
	assert.Nil(t, s1.ParentKey)
	assert.Equal(t, []string{"t1"}, s1.Children)

	t1 := ut.Elements["t1"]
	assert.Equal(t, "Text", t1.Type)
	require.NotNil(t, t1.ParentKey)
	assert.Equal(t, "s1", *t1.ParentKey)
	assert.Nil(t, t1.Children)
	assert.Equal(t, "Hi", t1.Props["content"])
}

func TestNormalizeAutoKey(t *testing.T) {
	ut := Normalize(Node{Type: "Card"})
	assert.Regexp(t, autoKeyPattern, ut.Root)
}

func TestNormalizeAutoKeysUniqueAcrossCalls(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ut := Normalize(Node{Type: "Text"})
		assert.Regexp(t, autoKeyPattern, ut.Root)
		assert.False(t, seen[ut.Root], "auto key %s repeated", ut.Root)
		seen[ut.Root] = true
	}
}

func TestNormalizeChildrenPresence(t *testing.T) {
	n := decode(t, `{"type":"Stack","key":"root","children":[
		{"type":"Stack","key":"empty","children":[]},
		{"type":"Text","key":"leaf"}
	]}`)

	ut := Normalize(n)
	require.NoError(t, ut.Validate())

	empty := ut.Elements["empty"]
	require.NotNil(t, empty.Children)
	assert.Empty(t, empty.Children)
	assert.Nil(t, ut.Elements["leaf"].Children)

	data, err := json.Marshal(ut.Elements["empty"])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"children":[]`)

	data, err = json.Marshal(ut.Elements["leaf"])
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"children"`)
}

func TestNormalizeMissingPropsStaysNil(t *testing.T) {
	ut := Normalize(Node{Type: "Divider", Key: "d"})
	assert.Nil(t, ut.Elements["d"].Props)
}

func TestNormalizeKeepsEmptyProps(t *testing.T) {
	n := decode(t, `{"type":"Stack","key":"s1","props":{},"children":[{"type":"Text","key":"t1"}]}`)
	ut := Normalize(n)

	require.NotNil(t, ut.Elements["s1"].Props)
	data, err := json.Marshal(ut.Elements["s1"])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"props":{}`)

	data, err = json.Marshal(ut.Elements["t1"])
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"props"`)

	var back Element
	require.NoError(t, json.Unmarshal([]byte(`{"key":"s1","type":"Stack","props":{},"parentKey":null}`), &back))
	assert.NotNil(t, back.Props)
}

func TestNormalizeAutoKeySkipsSuppliedKeys(t *testing.T) {
	next := "auto-" + strconv.FormatUint(autoKeys.Load()+1, 10)
	n := Node{Type: "Stack", Key: "s1", Children: []Node{
		{Type: "Text", Key: next},
		{Type: "Text"},
	}}

	ut := Normalize(n)
	require.NoError(t, ut.Validate())
	require.Len(t, ut.Elements, 3)

	children := ut.Elements["s1"].Children
	require.Len(t, children, 2)
	assert.Equal(t, next, children[0])
	assert.NotEqual(t, next, children[1])
	assert.Regexp(t, autoKeyPattern, children[1])
}

func TestNormalizePreservesSiblingOrderAndProps(t *testing.T) {
	props := map[string]any{"label": "Go", "count": 3}
	n := Node{Type: "Row", Key: "row", Children: []Node{
		{Type: "Button", Key: "b3", Props: props},
		{Type: "Button", Key: "b1"},
		{Type: "Button", Key: "b2"},
	}}

	ut := Normalize(n)
	assert.Equal(t, []string{"b3", "b1", "b2"}, ut.Elements["row"].Children)
	assert.Equal(t, props, ut.Elements["b3"].Props)
}

func TestNormalizeShape(t *testing.T) {
	n := Node{Type: "Stack", Children: []Node{
		{Type: "Card", Children: []Node{
			{Type: "Text"},
			{Type: "Text", Key: "named"},
		}},
		{Type: "Stack", Children: []Node{}},
		{Type: "Image"},
	}}

	ut := Normalize(n)
	require.NoError(t, ut.Validate())
	assert.Len(t, ut.Elements, 1+count(n.Children))

	roots := 0
	for _, el := range ut.Elements {
		if el.IsRoot() {
			roots++
		}
	}
	assert.Equal(t, 1, roots)

	card := ut.Elements[ut.Elements[ut.Root].Children[0]]
	for _, ck := range card.Children {
		assert.Equal(t, card.Key, *ut.Elements[ck].ParentKey)
	}
}

func count(nodes []Node) int {
	total := len(nodes)
	for _, n := range nodes {
		total += count(n.Children)
	}
	return total
}

func TestElementJSONRoundTrip(t *testing.T) {
	ut := Normalize(Node{Type: "Stack", Key: "s", Children: []Node{{Type: "Text", Key: "t"}}})

	data, err := json.Marshal(ut)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parentKey":null`)

	var out UITree
	require.NoError(t, json.Unmarshal(data, &out))
	require.NoError(t, out.Validate())
	assert.Equal(t, []string{"t"}, out.Elements["s"].Children)
	assert.Nil(t, out.Elements["t"].Children)
}

func TestValidateRejectsBrokenTrees(t *testing.T) {
	parent := "a"
	cases := map[string]UITree{
		"missing root": {Root: "x", Elements: map[string]Element{}},
		"missing child": {Root: "a", Elements: map[string]Element{
			"a": {Key: "a", Children: []string{"b"}},
		}},
		"unreachable": {Root: "a", Elements: map[string]Element{
			"a": {Key: "a"},
			"b": {Key: "b", ParentKey: &parent},
		}},
		"shared child": {Root: "a", Elements: map[string]Element{
			"a": {Key: "a", Children: []string{"b", "b"}},
			"b": {Key: "b", ParentKey: &parent},
		}},
	}
	for name, ut := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ut.Validate())
		})
	}
}
