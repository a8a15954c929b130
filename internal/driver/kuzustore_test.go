//go:build cgo

package driver

import (
	"context"
	"testing"

	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKuzuDriver_Contract(t *testing.T) {
	runDriverContract(t, func(t *testing.T) Driver {
		return NewCore("kuzu", NewKuzuBackend(""))
	})
}

func TestKuzuBackend_OpenIsIdempotent(t *testing.T) {
	b := NewKuzuBackend("")
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	require.NoError(t, b.Open(ctx))
	require.NoError(t, b.Open(ctx))
}

func TestKuzuBackend_IdentifiersAreNonZero(t *testing.T) {
	b := NewKuzuBackend("")
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()
	require.NoError(t, b.Open(ctx))

	v := graph.NewVertex(graph.LabelMetaData, nil)
	require.NoError(t, b.CreateVertices(ctx, []*graph.Vertex{v}))

	assert.Equal(t, int64(1), v.ID)
	ok, err := b.HasVertex(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
