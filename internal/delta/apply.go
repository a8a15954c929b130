package delta

import (
	"context"
	"fmt"

	"github.com/dusk-indust/cpgraph/internal/graph"
)

// Applier is the single-mutation half of a storage driver.
type Applier interface {
	AddVertex(ctx context.Context, v *graph.Vertex) error
	AddEdge(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) error
	DeleteVertex(ctx context.Context, id int64, label graph.VertexLabel) error
	DeleteEdge(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) error
}

// Apply replays the mutations one at a time, stopping at the first error.
// It is the unbatched counterpart of a driver's bulk transaction.
func (c *ChangeSet) Apply(ctx context.Context, a Applier) error {
	for i, m := range c.Build() {
		var err error
		switch m := m.(type) {
		case VertexAdd:
			err = a.AddVertex(ctx, m.Vertex)
		case EdgeAdd:
			err = a.AddEdge(ctx, m.Src, m.Dst, m.Label)
		case VertexDelete:
			err = a.DeleteVertex(ctx, m.ID, m.Label)
		case EdgeDelete:
			err = a.DeleteEdge(ctx, m.Src, m.Dst, m.Label)
		}
		if err != nil {
			return fmt.Errorf("apply mutation %d: %w", i, err)
		}
	}
	return nil
}
