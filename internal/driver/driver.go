// Package driver defines the storage contract for code property graphs and
// the generic core that implements it on top of primitive backends.
package driver

import (
	"context"
	"io"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
)

// Driver is the storage contract every backend satisfies.
// Implementations: Core composed with MemBackend, BadgerBackend, KuzuBackend,
// Neo4jBackend, RESTBackend or GremlinBackend.
// Every operation returns graph.ErrNotConnected before Connect succeeds.
type Driver interface {
	io.Closer

	// Connect opens the backend and prepares its schema.
	Connect(ctx context.Context) error

	// Existence checks.
	VertexExists(ctx context.Context, v *graph.Vertex) (bool, error)
	EdgeExists(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) (bool, error)

	// Single-mutation path. Both are no-ops when the target exists.
	AddVertex(ctx context.Context, v *graph.Vertex) error
	AddEdge(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) error

	// BulkTransaction applies a ChangeSet with deduplication, existence
	// filtering and chunked writes.
	BulkTransaction(ctx context.Context, cs *delta.ChangeSet) error

	// Read paths.
	GetWholeGraph(ctx context.Context) (*graph.Subgraph, error)
	GetMethod(ctx context.Context, fullName string, includeBody bool) (*graph.Subgraph, error)
	GetProgramStructure(ctx context.Context) (*graph.Subgraph, error)
	GetNeighbours(ctx context.Context, v *graph.Vertex) (*graph.Subgraph, error)
	GetVertex(ctx context.Context, label graph.VertexLabel, fullName string) (*graph.Vertex, error)
	GetVertices(ctx context.Context, label graph.VertexLabel) ([]*graph.Vertex, error)
	GetMetaData(ctx context.Context) (*graph.Vertex, error)

	// Deletes.
	DeleteVertex(ctx context.Context, id int64, label graph.VertexLabel) error
	DeleteEdge(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) error
	DeleteMethod(ctx context.Context, fullName string) error
	DeleteTypeDecl(ctx context.Context, fullName string) error

	// UpdateVertexProperty patches one property; no-op if the vertex is absent.
	UpdateVertexProperty(ctx context.Context, id int64, label graph.VertexLabel, key string, value graph.PropValue) error

	// ClearGraph removes every vertex and edge.
	ClearGraph(ctx context.Context) error
}

// Compile-time check that a Driver can replay ChangeSets.
var _ delta.Applier = Driver(nil)

// Backend is the primitive storage surface a Core composes. Backends do not
// validate schema or filter duplicates; Core does both.
type Backend interface {
	io.Closer

	// Open establishes the session and creates schema objects if needed.
	Open(ctx context.Context) error

	HasVertex(ctx context.Context, id int64) (bool, error)
	HasEdge(ctx context.Context, e graph.Edge) (bool, error)

	// CreateVertices writes vs in one request where the backend allows it.
	// Vertices with ID 0 receive a backend-assigned identifier; vertices with
	// a preassigned ID are written under that key.
	CreateVertices(ctx context.Context, vs []*graph.Vertex) error
	CreateEdges(ctx context.Context, es []graph.Edge) error

	// DropVertex removes the vertex and every incident edge.
	DropVertex(ctx context.Context, id int64) error
	DropEdge(ctx context.Context, e graph.Edge) error
	SetProperty(ctx context.Context, id int64, key string, value graph.PropValue) error

	// Vertices returns the vertices that exist among ids, in any order.
	Vertices(ctx context.Context, ids []int64) ([]*graph.Vertex, error)

	// FindVertices returns vertices with the label, restricted to FULL_NAME
	// when fullName is non-empty.
	FindVertices(ctx context.Context, label graph.VertexLabel, fullName string) ([]*graph.Vertex, error)

	// Edges returns edges incident to ids in the given direction, restricted
	// to labels when any are given.
	Edges(ctx context.Context, ids []int64, dir graph.Direction, labels ...graph.EdgeLabel) ([]graph.Edge, error)

	Scan(ctx context.Context) (*graph.Subgraph, error)
	MaxVertexID(ctx context.Context) (int64, error)
	Truncate(ctx context.Context) error
}

// SubtreeTraverser is implemented by backends that can compute the closure
// of a vertex over one edge label natively. The root is not included.
type SubtreeTraverser interface {
	Subtree(ctx context.Context, root int64, label graph.EdgeLabel) ([]int64, error)
}
