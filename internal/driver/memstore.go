package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/dusk-indust/cpgraph/internal/graph"
)

// Compile-time assertion: *MemBackend satisfies Backend.
var _ Backend = (*MemBackend)(nil)

// MemBackend implements Backend using Go maps. Thread-safe via sync.RWMutex.
// Vertices are stored and returned as copies so callers never alias the
// stored state.
type MemBackend struct {
	mu       sync.RWMutex
	vertices map[int64]*graph.Vertex
	out      map[int64]map[graph.Edge]struct{}
	in       map[int64]map[graph.Edge]struct{}
	byName   map[string]map[int64]struct{} // key: "LABEL\x00FULL_NAME"
	nextID   int64
}

// NewMemBackend returns an initialized MemBackend ready for use.
func NewMemBackend() *MemBackend {
	m := &MemBackend{}
	m.reset()
	return m
}

// NewMemDriver returns a Driver over a fresh MemBackend.
func NewMemDriver(opts ...Option) *Core {
	return NewCore("memory", NewMemBackend(), opts...)
}

func (m *MemBackend) reset() {
	m.vertices = make(map[int64]*graph.Vertex)
	m.out = make(map[int64]map[graph.Edge]struct{})
	m.in = make(map[int64]map[graph.Edge]struct{})
	m.byName = make(map[string]map[int64]struct{})
}

// nameKey builds the composite lookup key for a FULL_NAME index entry.
func nameKey(label graph.VertexLabel, fullName string) string {
	return string(label) + "\x00" + fullName
}

// Open is a no-op for the in-memory store.
func (m *MemBackend) Open(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemBackend) Close() error { return nil }

func (m *MemBackend) HasVertex(_ context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.vertices[id]
	return ok, nil
}

func (m *MemBackend) HasEdge(_ context.Context, e graph.Edge) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.out[e.Src][e]
	return ok, nil
}

// CreateVertices stores copies of vs, assigning sequential identifiers to
// vertices that have none.
func (m *MemBackend) CreateVertices(_ context.Context, vs []*graph.Vertex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vs {
		if v.ID != 0 {
			if _, taken := m.vertices[v.ID]; taken {
				return fmt.Errorf("memory: vertex %d already exists: %w", v.ID, graph.ErrTransactionFailure)
			}
		}
	}
	for _, v := range vs {
		if v.ID == 0 {
			m.nextID++
			v.ID = m.nextID
		} else if v.ID > m.nextID {
			m.nextID = v.ID
		}
		stored := v.Clone()
		m.vertices[v.ID] = stored
		m.index(stored)
	}
	return nil
}

func (m *MemBackend) index(v *graph.Vertex) {
	name := v.FullName()
	if name == "" {
		return
	}
	k := nameKey(v.Label, name)
	if m.byName[k] == nil {
		m.byName[k] = make(map[int64]struct{})
	}
	m.byName[k][v.ID] = struct{}{}
}

func (m *MemBackend) unindex(v *graph.Vertex) {
	name := v.FullName()
	if name == "" {
		return
	}
	k := nameKey(v.Label, name)
	delete(m.byName[k], v.ID)
	if len(m.byName[k]) == 0 {
		delete(m.byName, k)
	}
}

func (m *MemBackend) CreateEdges(_ context.Context, es []graph.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range es {
		if _, ok := m.vertices[e.Src]; !ok {
			return fmt.Errorf("memory: edge source %d missing: %w", e.Src, graph.ErrTransactionFailure)
		}
		if _, ok := m.vertices[e.Dst]; !ok {
			return fmt.Errorf("memory: edge target %d missing: %w", e.Dst, graph.ErrTransactionFailure)
		}
	}
	for _, e := range es {
		if m.out[e.Src] == nil {
			m.out[e.Src] = make(map[graph.Edge]struct{})
		}
		if m.in[e.Dst] == nil {
			m.in[e.Dst] = make(map[graph.Edge]struct{})
		}
		m.out[e.Src][e] = struct{}{}
		m.in[e.Dst][e] = struct{}{}
	}
	return nil
}

func (m *MemBackend) DropVertex(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vertices[id]
	if !ok {
		return nil
	}
	for e := range m.out[id] {
		delete(m.in[e.Dst], e)
	}
	for e := range m.in[id] {
		delete(m.out[e.Src], e)
	}
	delete(m.out, id)
	delete(m.in, id)
	m.unindex(v)
	delete(m.vertices, id)
	return nil
}

func (m *MemBackend) DropEdge(_ context.Context, e graph.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.out[e.Src], e)
	delete(m.in[e.Dst], e)
	return nil
}

func (m *MemBackend) SetProperty(_ context.Context, id int64, key string, value graph.PropValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vertices[id]
	if !ok {
		return nil
	}
	m.unindex(v)
	if value.IsNone() {
		delete(v.Props, key)
	} else {
		v.Props[key] = value
	}
	m.index(v)
	return nil
}

func (m *MemBackend) Vertices(_ context.Context, ids []int64) ([]*graph.Vertex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*graph.Vertex, 0, len(ids))
	for _, id := range ids {
		if v, ok := m.vertices[id]; ok {
			out = append(out, v.Clone())
		}
	}
	return out, nil
}

func (m *MemBackend) FindVertices(_ context.Context, label graph.VertexLabel, fullName string) ([]*graph.Vertex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*graph.Vertex
	if fullName != "" {
		for id := range m.byName[nameKey(label, fullName)] {
			out = append(out, m.vertices[id].Clone())
		}
		return out, nil
	}
	for _, v := range m.vertices {
		if v.Label == label {
			out = append(out, v.Clone())
		}
	}
	return out, nil
}

func (m *MemBackend) Edges(_ context.Context, ids []int64, dir graph.Direction, labels ...graph.EdgeLabel) ([]graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keep := labelFilter(labels)
	seen := make(map[graph.Edge]struct{})
	var out []graph.Edge
	add := func(set map[graph.Edge]struct{}) {
		for e := range set {
			if !keep(e.Label) {
				continue
			}
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	for _, id := range ids {
		if dir == graph.DirectionOut || dir == graph.DirectionBoth {
			add(m.out[id])
		}
		if dir == graph.DirectionIn || dir == graph.DirectionBoth {
			add(m.in[id])
		}
	}
	return out, nil
}

func (m *MemBackend) Scan(_ context.Context) (*graph.Subgraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g := graph.NewSubgraph()
	for _, v := range m.vertices {
		g.AddVertex(v.Clone())
	}
	for _, set := range m.out {
		for e := range set {
			g.AddEdge(e)
		}
	}
	g.SortEdges()
	return g, nil
}

func (m *MemBackend) MaxVertexID(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var maxID int64
	for id := range m.vertices {
		maxID = max(maxID, id)
	}
	return maxID, nil
}

// Truncate removes all data. Identifiers keep increasing afterwards.
func (m *MemBackend) Truncate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

// labelFilter returns a predicate accepting the given labels, or every label
// when none are given.
func labelFilter(labels []graph.EdgeLabel) func(graph.EdgeLabel) bool {
	if len(labels) == 0 {
		return func(graph.EdgeLabel) bool { return true }
	}
	set := make(map[graph.EdgeLabel]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return func(l graph.EdgeLabel) bool {
		_, ok := set[l]
		return ok
	}
}
