package graph

import "sort"

// Subgraph is a self-contained snapshot returned by driver read paths.
// Every edge's endpoints are present in Vertices.
type Subgraph struct {
	Vertices map[int64]*Vertex `json:"vertices"`
	Edges    []Edge            `json:"edges"`

	edgeSet map[Edge]struct{}
}

// NewSubgraph returns an empty snapshot.
func NewSubgraph() *Subgraph {
	return &Subgraph{
		Vertices: make(map[int64]*Vertex),
		edgeSet:  make(map[Edge]struct{}),
	}
}

// AddVertex inserts v, replacing any vertex with the same ID.
func (g *Subgraph) AddVertex(v *Vertex) {
	g.Vertices[v.ID] = v
}

// AddEdge inserts e once. Edges whose endpoints are missing are dropped so
// the snapshot stays self-contained.
func (g *Subgraph) AddEdge(e Edge) {
	if g.edgeSet == nil {
		g.edgeSet = make(map[Edge]struct{}, len(g.Edges))
		for _, x := range g.Edges {
			g.edgeSet[x] = struct{}{}
		}
	}
	if _, ok := g.Vertices[e.Src]; !ok {
		return
	}
	if _, ok := g.Vertices[e.Dst]; !ok {
		return
	}
	if _, dup := g.edgeSet[e]; dup {
		return
	}
	g.edgeSet[e] = struct{}{}
	g.Edges = append(g.Edges, e)
}

// HasEdge reports whether e is in the snapshot.
func (g *Subgraph) HasEdge(e Edge) bool {
	for _, x := range g.Edges {
		if x == e {
			return true
		}
	}
	return false
}

// VertexList returns the vertices ordered by ID.
func (g *Subgraph) VertexList() []*Vertex {
	out := make([]*Vertex, 0, len(g.Vertices))
	for _, v := range g.Vertices {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nodes returns the vertices with the given label ordered by ID.
func (g *Subgraph) Nodes(label VertexLabel) []*Vertex {
	var out []*Vertex
	for _, v := range g.VertexList() {
		if v.Label == label {
			out = append(out, v)
		}
	}
	return out
}

// SortEdges orders edges by source, label, then destination.
func (g *Subgraph) SortEdges() {
	sort.Slice(g.Edges, func(i, j int) bool {
		a, b := g.Edges[i], g.Edges[j]
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.Dst < b.Dst
	})
}

// Stats counts vertices and edges.
func (g *Subgraph) Stats() GraphStats {
	st := GraphStats{
		VertexCount: len(g.Vertices),
		EdgeCount:   len(g.Edges),
		ByLabel:     make(map[VertexLabel]int),
	}
	for _, v := range g.Vertices {
		st.ByLabel[v.Label]++
	}
	return st
}
