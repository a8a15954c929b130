// Package cache holds the run-scoped caches shared by the staleness
// detector and the build pipeline. Every cache is cleared at the end of a
// run.
package cache

import (
	"sync"

	"github.com/dusk-indust/cpgraph/internal/graph"
)

type nameKey struct {
	label    graph.VertexLabel
	fullName string
}

// Identity maps program entities to the vertices materialised for them
// during the current run. The pipeline consumer is its only writer;
// workers of later phases read it.
type Identity struct {
	mu       sync.RWMutex
	byName   map[nameKey]*graph.Vertex
	units    map[string][]*graph.Vertex
	calls    []*graph.Vertex
	callSeen map[*graph.Vertex]struct{}
}

// NewIdentity returns an empty identity cache.
func NewIdentity() *Identity {
	c := &Identity{}
	c.Clear()
	return c
}

// Put records v under its label and FULL_NAME. CALL vertices are also
// remembered for the call-graph phase.
func (c *Identity) Put(vs ...*graph.Vertex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range vs {
		if v == nil {
			continue
		}
		if name := v.FullName(); name != "" {
			c.byName[nameKey{v.Label, name}] = v
		}
		if v.Label == graph.LabelCall {
			if _, dup := c.callSeen[v]; !dup {
				c.callSeen[v] = struct{}{}
				c.calls = append(c.calls, v)
			}
		}
	}
}

// Lookup returns the vertex recorded for (label, fullName), or nil.
func (c *Identity) Lookup(label graph.VertexLabel, fullName string) *graph.Vertex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byName[nameKey{label, fullName}]
}

// AddUnit appends vertices to the list produced for the unit key.
func (c *Identity) AddUnit(key string, vs ...*graph.Vertex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units[key] = append(c.units[key], vs...)
}

// Unit returns the vertices produced for the unit key, in order.
func (c *Identity) Unit(key string) []*graph.Vertex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*graph.Vertex(nil), c.units[key]...)
}

// Calls returns the CALL vertices recorded this run, in order.
func (c *Identity) Calls() []*graph.Vertex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*graph.Vertex(nil), c.calls...)
}

// Forget drops the entry for (label, fullName).
func (c *Identity) Forget(label graph.VertexLabel, fullName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byName, nameKey{label, fullName})
}

// Clear empties the cache.
func (c *Identity) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName = make(map[nameKey]*graph.Vertex)
	c.units = make(map[string][]*graph.Vertex)
	c.calls = nil
	c.callSeen = make(map[*graph.Vertex]struct{})
}
