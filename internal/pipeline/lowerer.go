package pipeline

import (
	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/program"
)

// Resolver is the read-only view of the identity cache handed to lowering.
// Vertices it returns may still be unwritten; edges to them are valid
// endpoints in a ChangeSet.
type Resolver interface {
	// Lookup returns the vertex recorded for (label, fullName), or nil.
	Lookup(label graph.VertexLabel, fullName string) *graph.Vertex

	// Unit returns the vertices produced for a unit key so far, in order.
	Unit(key string) []*graph.Vertex
}

// Lowerer turns program units into ChangeSets. Implementations must be safe
// for concurrent use and must never touch a driver: every edge endpoint is
// either created in the returned ChangeSet or obtained from the Resolver.
// Returning an error excludes the unit from the run.
type Lowerer interface {
	// LowerStructure emits the TYPE_DECL of a class or the MEMBER of a field.
	LowerStructure(u program.Unit, r Resolver) (*delta.ChangeSet, error)

	// LowerHead emits a method's signature: METHOD, parameters, return and
	// modifiers.
	LowerHead(u program.Unit, r Resolver) (*delta.ChangeSet, error)

	// LowerBody emits a method's body below the METHOD vertex produced by
	// LowerHead.
	LowerBody(u program.Unit, r Resolver) (*delta.ChangeSet, error)
}
