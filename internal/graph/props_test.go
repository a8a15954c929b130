package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNative_WidensJSONNumbers(t *testing.T) {
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"n": 42, "list": ["a", "b"], "opt": null}`), &decoded))

	n, err := FromNative(decoded["n"])
	require.NoError(t, err)
	got, ok := n.AsInt()
	require.True(t, ok, "float64 42 should widen to an integer")
	assert.Equal(t, int64(42), got)

	l, err := FromNative(decoded["list"])
	require.NoError(t, err)
	items, ok := l.AsStrings()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, items)

	opt, err := FromNative(decoded["opt"])
	require.NoError(t, err)
	assert.True(t, opt.IsNone())
}

func TestFromNative_RejectsFractions(t *testing.T) {
	_, err := FromNative(1.5)
	assert.Error(t, err)

	_, err = FromNative([]any{"a", 1})
	assert.Error(t, err)
}

func TestProps_TaggedJSONKeepsKinds(t *testing.T) {
	in := Props{
		PropName:       String("42"),
		PropOrder:      Int(42),
		PropIsExternal: Bool(false),
		PropOverlays:   Strings("x", "y"),
	}
	data, err := MarshalProps(in)
	require.NoError(t, err)

	out, err := UnmarshalProps(data)
	require.NoError(t, err)
	assert.True(t, in.Equal(out), "string %q and int 42 must not collapse", "42")
	assert.Equal(t, KindString, out.Get(PropName).Kind())
	assert.Equal(t, KindInt, out.Get(PropOrder).Kind())
}

func TestProps_EqualIgnoresNone(t *testing.T) {
	a := Props{PropName: String("x"), PropCode: None()}
	b := Props{PropName: String("x")}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Props{PropName: String("y")}))
}

func TestProps_NativeMapOmitsNone(t *testing.T) {
	p := Props{PropName: String("x"), PropCode: None(), PropOrder: Int(1)}
	m := p.NativeMap()
	assert.Equal(t, map[string]any{PropName: "x", PropOrder: int64(1)}, m)
}
