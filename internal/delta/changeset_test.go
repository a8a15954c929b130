package delta

import (
	"context"
	"errors"
	"testing"

	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeSet_AddEdgeAddsEndpoints(t *testing.T) {
	m := graph.NewVertex(graph.LabelMethod, nil)
	p := graph.NewVertex(graph.LabelMethodParameterIn, nil)

	muts := New().AddEdge(m, p, graph.EdgeAST).Build()

	require.Len(t, muts, 3)
	assert.Equal(t, VertexAdd{Vertex: m}, muts[0])
	assert.Equal(t, VertexAdd{Vertex: p}, muts[1])
	assert.Equal(t, EdgeAdd{Src: m, Dst: p, Label: graph.EdgeAST}, muts[2])
}

func TestChangeSet_MergePreservesOrder(t *testing.T) {
	head := New().AddVertex(graph.NewVertex(graph.LabelMethod, nil))
	body := New().AddVertexDelete(7, graph.LabelLocal)

	merged := head.Merge(body)

	require.Equal(t, 2, merged.Len())
	muts := merged.Build()
	assert.IsType(t, VertexAdd{}, muts[0])
	assert.Equal(t, VertexDelete{ID: 7, Label: graph.LabelLocal}, muts[1])

	// Inputs are left untouched.
	assert.Equal(t, 1, head.Len())
	assert.Equal(t, 1, body.Len())
}

func TestChangeSet_MergeNil(t *testing.T) {
	var c *ChangeSet
	merged := c.Merge(New().AddVertexDelete(1, graph.LabelCall))
	assert.Equal(t, 1, merged.Len())
	assert.True(t, c.IsEmpty())
	assert.Nil(t, c.Build())
}

func TestChangeSet_BuildReturnsCopy(t *testing.T) {
	c := New().AddVertexDelete(1, graph.LabelCall)
	muts := c.Build()
	muts[0] = VertexDelete{ID: 99}
	assert.Equal(t, VertexDelete{ID: 1, Label: graph.LabelCall}, c.Build()[0])
}

func TestChangeSet_VerticesDeduplicates(t *testing.T) {
	a := graph.NewVertex(graph.LabelBlock, nil)
	b := graph.NewVertex(graph.LabelCall, nil)
	c := New().AddEdge(a, b, graph.EdgeAST).AddVertex(a)

	assert.Equal(t, []*graph.Vertex{a, b}, c.Vertices())
}

// recordingApplier records the calls made by Apply.
type recordingApplier struct {
	calls []string
	fail  string
}

func (r *recordingApplier) record(call string) error {
	r.calls = append(r.calls, call)
	if call == r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingApplier) AddVertex(_ context.Context, v *graph.Vertex) error {
	return r.record("addVertex:" + string(v.Label))
}

func (r *recordingApplier) AddEdge(_ context.Context, _, _ *graph.Vertex, l graph.EdgeLabel) error {
	return r.record("addEdge:" + string(l))
}

func (r *recordingApplier) DeleteVertex(_ context.Context, _ int64, l graph.VertexLabel) error {
	return r.record("deleteVertex:" + string(l))
}

func (r *recordingApplier) DeleteEdge(_ context.Context, _, _ *graph.Vertex, l graph.EdgeLabel) error {
	return r.record("deleteEdge:" + string(l))
}

func TestChangeSet_Apply(t *testing.T) {
	m := graph.NewVertex(graph.LabelMethod, nil)
	r := graph.NewVertex(graph.LabelMethodReturn, nil)
	c := New().
		AddEdge(m, r, graph.EdgeAST).
		AddEdgeDelete(m, r, graph.EdgeCFG).
		AddVertexDelete(3, graph.LabelLocal)

	rec := &recordingApplier{}
	require.NoError(t, c.Apply(context.Background(), rec))
	assert.Equal(t, []string{
		"addVertex:METHOD",
		"addVertex:METHOD_RETURN",
		"addEdge:AST",
		"deleteEdge:CFG",
		"deleteVertex:LOCAL",
	}, rec.calls)
}

func TestChangeSet_ApplyStopsOnError(t *testing.T) {
	c := New().
		AddVertex(graph.NewVertex(graph.LabelMethod, nil)).
		AddVertexDelete(3, graph.LabelLocal).
		AddVertexDelete(4, graph.LabelLocal)

	rec := &recordingApplier{fail: "deleteVertex:LOCAL"}
	err := c.Apply(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply mutation 1")
	assert.Len(t, rec.calls, 2)
}
