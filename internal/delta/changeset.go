// Package delta holds the ChangeSet, the backend-agnostic batch of graph
// mutations that workers produce and the consumer applies.
package delta

import (
	"github.com/dusk-indust/cpgraph/internal/graph"
)

// Mutation is one of VertexAdd, EdgeAdd, VertexDelete or EdgeDelete.
type Mutation interface {
	mutation()
}

// VertexAdd creates Vertex unless it already exists.
type VertexAdd struct {
	Vertex *graph.Vertex
}

// EdgeAdd creates Src -[Label]-> Dst unless the edge already exists.
type EdgeAdd struct {
	Src, Dst *graph.Vertex
	Label    graph.EdgeLabel
}

// VertexDelete removes the vertex with the given identifier and its edges.
type VertexDelete struct {
	ID    int64
	Label graph.VertexLabel
}

// EdgeDelete removes Src -[Label]-> Dst.
type EdgeDelete struct {
	Src, Dst *graph.Vertex
	Label    graph.EdgeLabel
}

func (VertexAdd) mutation()    {}
func (EdgeAdd) mutation()      {}
func (VertexDelete) mutation() {}
func (EdgeDelete) mutation()   {}

// ChangeSet is an ordered, append-only batch of mutations. It performs no
// I/O and no validation, so workers can build ChangeSets concurrently without
// coordination. A ChangeSet must not be shared between goroutines while it
// is being built.
type ChangeSet struct {
	muts []Mutation
}

// New returns an empty ChangeSet.
func New() *ChangeSet {
	return &ChangeSet{}
}

// AddVertex appends a VertexAdd.
func (c *ChangeSet) AddVertex(v *graph.Vertex) *ChangeSet {
	c.muts = append(c.muts, VertexAdd{Vertex: v})
	return c
}

// AddEdge appends VertexAdds for both endpoints followed by the EdgeAdd, so
// the endpoints are always created no later than the edge.
func (c *ChangeSet) AddEdge(src, dst *graph.Vertex, label graph.EdgeLabel) *ChangeSet {
	c.muts = append(c.muts,
		VertexAdd{Vertex: src},
		VertexAdd{Vertex: dst},
		EdgeAdd{Src: src, Dst: dst, Label: label},
	)
	return c
}

// AddVertexDelete appends a VertexDelete.
func (c *ChangeSet) AddVertexDelete(id int64, label graph.VertexLabel) *ChangeSet {
	c.muts = append(c.muts, VertexDelete{ID: id, Label: label})
	return c
}

// AddEdgeDelete appends an EdgeDelete.
func (c *ChangeSet) AddEdgeDelete(src, dst *graph.Vertex, label graph.EdgeLabel) *ChangeSet {
	c.muts = append(c.muts, EdgeDelete{Src: src, Dst: dst, Label: label})
	return c
}

// Merge returns a new ChangeSet holding c's mutations followed by other's.
// Either side may be nil.
func (c *ChangeSet) Merge(other *ChangeSet) *ChangeSet {
	out := &ChangeSet{}
	if c != nil {
		out.muts = append(out.muts, c.muts...)
	}
	if other != nil {
		out.muts = append(out.muts, other.muts...)
	}
	return out
}

// Build returns the mutations in the order they were added.
func (c *ChangeSet) Build() []Mutation {
	if c == nil {
		return nil
	}
	out := make([]Mutation, len(c.muts))
	copy(out, c.muts)
	return out
}

// Len returns the number of mutations.
func (c *ChangeSet) Len() int {
	if c == nil {
		return 0
	}
	return len(c.muts)
}

// IsEmpty reports whether the ChangeSet holds no mutations.
func (c *ChangeSet) IsEmpty() bool { return c.Len() == 0 }

// Vertices returns the distinct VertexAdd targets in first-seen order.
func (c *ChangeSet) Vertices() []*graph.Vertex {
	if c == nil {
		return nil
	}
	seen := make(map[*graph.Vertex]struct{})
	var out []*graph.Vertex
	for _, m := range c.muts {
		va, ok := m.(VertexAdd)
		if !ok || va.Vertex == nil {
			continue
		}
		if _, dup := seen[va.Vertex]; dup {
			continue
		}
		seen[va.Vertex] = struct{}{}
		out = append(out, va.Vertex)
	}
	return out
}
