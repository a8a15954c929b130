package driver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driverFactory returns a fresh, unconnected driver over an empty store.
type driverFactory func(t *testing.T) Driver

// connected returns a fresh driver that has been connected and cleared.
func connected(t *testing.T, newDriver driverFactory) Driver {
	t.Helper()
	d := newDriver(t)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))
	require.NoError(t, d.ClearGraph(ctx))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// methodFixture is a small method body:
//
//	func <name>(x) { y = x }
type methodFixture struct {
	file, ns, method, param, ret, block, local, call, idY, idX *graph.Vertex
}

func newMethodFixture(name string) *methodFixture {
	return &methodFixture{
		file: graph.NewVertex(graph.LabelFile, graph.Props{
			graph.PropName: graph.String("a.go"),
			graph.PropHash: graph.String("h1"),
		}),
		ns: graph.NewVertex(graph.LabelNamespaceBlock, graph.Props{
			graph.PropName:     graph.String("<global>"),
			graph.PropFullName: graph.String("a.go:<global>"),
		}),
		method: graph.NewVertex(graph.LabelMethod, graph.Props{
			graph.PropName:      graph.String(name),
			graph.PropFullName:  graph.String(name),
			graph.PropSignature: graph.String("void(int)"),
			graph.PropHash:      graph.String("m1"),
		}),
		param: graph.NewVertex(graph.LabelMethodParameterIn, graph.Props{
			graph.PropName:  graph.String("x"),
			graph.PropOrder: graph.Int(1),
		}),
		ret:   graph.NewVertex(graph.LabelMethodReturn, graph.Props{graph.PropTypeFullName: graph.String("void")}),
		block: graph.NewVertex(graph.LabelBlock, graph.Props{graph.PropOrder: graph.Int(2)}),
		local: graph.NewVertex(graph.LabelLocal, graph.Props{graph.PropName: graph.String("y")}),
		call: graph.NewVertex(graph.LabelCall, graph.Props{
			graph.PropName:           graph.String("<operator>.assignment"),
			graph.PropMethodFullName: graph.String("<operator>.assignment"),
			graph.PropCode:           graph.String("y = x"),
		}),
		idY: graph.NewVertex(graph.LabelIdentifier, graph.Props{
			graph.PropName:          graph.String("y"),
			graph.PropArgumentIndex: graph.Int(1),
		}),
		idX: graph.NewVertex(graph.LabelIdentifier, graph.Props{
			graph.PropName:          graph.String("x"),
			graph.PropArgumentIndex: graph.Int(2),
		}),
	}
}

func (f *methodFixture) changeSet() *delta.ChangeSet {
	return delta.New().
		AddEdge(f.file, f.ns, graph.EdgeAST).
		AddEdge(f.ns, f.method, graph.EdgeAST).
		AddEdge(f.method, f.file, graph.EdgeSourceFile).
		AddEdge(f.method, f.param, graph.EdgeAST).
		AddEdge(f.method, f.ret, graph.EdgeAST).
		AddEdge(f.method, f.block, graph.EdgeAST).
		AddEdge(f.block, f.local, graph.EdgeAST).
		AddEdge(f.block, f.call, graph.EdgeAST).
		AddEdge(f.call, f.idY, graph.EdgeAST).
		AddEdge(f.call, f.idX, graph.EdgeAST).
		AddEdge(f.call, f.idY, graph.EdgeArgument).
		AddEdge(f.call, f.idX, graph.EdgeArgument).
		AddEdge(f.idY, f.local, graph.EdgeRef).
		AddEdge(f.idX, f.param, graph.EdgeRef).
		AddEdge(f.method, f.call, graph.EdgeCFG).
		AddEdge(f.call, f.ret, graph.EdgeCFG)
}

// canonical renders a subgraph independent of identifiers: each vertex is
// named by its label and sorted properties.
func canonical(g *graph.Subgraph) (vertices, edges []string) {
	key := func(v *graph.Vertex) string {
		var b strings.Builder
		b.WriteString(string(v.Label))
		for _, k := range v.Props.Keys() {
			fmt.Fprintf(&b, " %s=%s", k, v.Props[k])
		}
		return b.String()
	}
	for _, v := range g.Vertices {
		vertices = append(vertices, key(v))
	}
	for _, e := range g.Edges {
		edges = append(edges, fmt.Sprintf("%s -%s-> %s", key(g.Vertices[e.Src]), e.Label, key(g.Vertices[e.Dst])))
	}
	sort.Strings(vertices)
	sort.Strings(edges)
	return vertices, edges
}

func wholeGraph(t *testing.T, d Driver) *graph.Subgraph {
	t.Helper()
	g, err := d.GetWholeGraph(context.Background())
	require.NoError(t, err)
	return g
}

// runDriverContract exercises the behaviour every backend must share.
func runDriverContract(t *testing.T, newDriver driverFactory) {
	t.Run("NotConnected", func(t *testing.T) {
		d := newDriver(t)
		t.Cleanup(func() { _ = d.Close() })
		err := d.AddVertex(context.Background(), graph.NewVertex(graph.LabelMethod, nil))
		require.ErrorIs(t, err, graph.ErrNotConnected)
	})

	t.Run("AddVertexIsIdempotent", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		v := graph.NewVertex(graph.LabelMetaData, graph.Props{graph.PropLanguage: graph.String("GO")})

		require.NoError(t, d.AddVertex(ctx, v))
		require.True(t, v.Written())
		id := v.ID
		require.NoError(t, d.AddVertex(ctx, v))

		assert.Equal(t, id, v.ID)
		assert.Len(t, wholeGraph(t, d).Vertices, 1)
		ok, err := d.VertexExists(ctx, v)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("UnwrittenVertexDoesNotExist", func(t *testing.T) {
		d := connected(t, newDriver)
		ok, err := d.VertexExists(context.Background(), graph.NewVertex(graph.LabelMethod, nil))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("AddEdgeCreatesEndpointsOnce", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		m := graph.NewVertex(graph.LabelMethod, graph.Props{graph.PropFullName: graph.String("pkg.f")})
		p := graph.NewVertex(graph.LabelMethodParameterIn, graph.Props{graph.PropName: graph.String("x")})

		require.NoError(t, d.AddEdge(ctx, m, p, graph.EdgeAST))
		require.NoError(t, d.AddEdge(ctx, m, p, graph.EdgeAST))

		g := wholeGraph(t, d)
		assert.Len(t, g.Vertices, 2)
		assert.Equal(t, []graph.Edge{{Src: m.ID, Dst: p.ID, Label: graph.EdgeAST}}, g.Edges)
		ok, err := d.EdgeExists(ctx, m, p, graph.EdgeAST)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("SchemaViolationLeavesGraphUntouched", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		m := graph.NewVertex(graph.LabelMethod, nil)
		f := graph.NewVertex(graph.LabelFile, nil)

		err := d.AddEdge(ctx, m, f, graph.EdgeAST)
		require.ErrorIs(t, err, graph.ErrSchemaViolation)

		err = d.BulkTransaction(ctx, delta.New().
			AddEdge(f, graph.NewVertex(graph.LabelNamespaceBlock, nil), graph.EdgeAST).
			AddEdge(m, f, graph.EdgeAST))
		require.ErrorIs(t, err, graph.ErrSchemaViolation)

		assert.Empty(t, wholeGraph(t, d).Vertices)
		assert.False(t, m.Written())
	})

	t.Run("BulkMatchesSequentialApply", func(t *testing.T) {
		bulk := connected(t, newDriver)
		ctx := context.Background()
		require.NoError(t, bulk.BulkTransaction(ctx, newMethodFixture("pkg.f").changeSet()))

		seq := connected(t, newDriver)
		require.NoError(t, newMethodFixture("pkg.f").changeSet().Apply(ctx, seq))

		bv, be := canonical(wholeGraph(t, bulk))
		sv, se := canonical(wholeGraph(t, seq))
		assert.Len(t, bv, 10)
		assert.Len(t, be, 16)
		if diff := cmp.Diff(sv, bv); diff != "" {
			t.Errorf("vertices differ (-sequential +bulk):\n%s", diff)
		}
		if diff := cmp.Diff(se, be); diff != "" {
			t.Errorf("edges differ (-sequential +bulk):\n%s", diff)
		}
	})

	t.Run("BulkMatchesSequentialApplyInOrder", func(t *testing.T) {
		tests := []struct {
			name   string
			then   func(f *methodFixture) *delta.ChangeSet
			verify func(t *testing.T, g *graph.Subgraph)
		}{
			{
				name: "add then delete edge",
				then: func(f *methodFixture) *delta.ChangeSet {
					return delta.New().
						AddEdge(f.block, f.idX, graph.EdgeAST).
						AddEdgeDelete(f.block, f.idX, graph.EdgeAST)
				},
				verify: func(t *testing.T, g *graph.Subgraph) {
					assert.Len(t, g.Edges, 16)
				},
			},
			{
				name: "delete then add edge",
				then: func(f *methodFixture) *delta.ChangeSet {
					return delta.New().
						AddEdgeDelete(f.method, f.call, graph.EdgeCFG).
						AddEdge(f.method, f.call, graph.EdgeCFG)
				},
				verify: func(t *testing.T, g *graph.Subgraph) {
					assert.Len(t, g.Edges, 16)
				},
			},
			{
				name: "delete then add vertex",
				then: func(f *methodFixture) *delta.ChangeSet {
					return delta.New().
						AddVertexDelete(f.method.ID, f.method.Label).
						AddVertex(f.method)
				},
				verify: func(t *testing.T, g *graph.Subgraph) {
					assert.Len(t, g.Nodes(graph.LabelMethod), 1)
					assert.Len(t, g.Vertices, 10)
				},
			},
			{
				name: "delete vertex then add its edge",
				then: func(f *methodFixture) *delta.ChangeSet {
					return delta.New().
						AddVertexDelete(f.idX.ID, f.idX.Label).
						AddEdge(f.call, f.idX, graph.EdgeArgument)
				},
				verify: func(t *testing.T, g *graph.Subgraph) {
					assert.Len(t, g.Vertices, 10)
					assert.Len(t, g.Edges, 14)
				},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				ctx := context.Background()
				bf, sf := newMethodFixture("pkg.f"), newMethodFixture("pkg.f")
				bulk, seq := connected(t, newDriver), connected(t, newDriver)
				require.NoError(t, bulk.BulkTransaction(ctx, bf.changeSet()))
				require.NoError(t, seq.BulkTransaction(ctx, sf.changeSet()))

				require.NoError(t, bulk.BulkTransaction(ctx, tt.then(bf)))
				require.NoError(t, tt.then(sf).Apply(ctx, seq))

				bg := wholeGraph(t, bulk)
				tt.verify(t, bg)
				bv, be := canonical(bg)
				sv, se := canonical(wholeGraph(t, seq))
				if diff := cmp.Diff(sv, bv); diff != "" {
					t.Errorf("vertices differ (-sequential +bulk):\n%s", diff)
				}
				if diff := cmp.Diff(se, be); diff != "" {
					t.Errorf("edges differ (-sequential +bulk):\n%s", diff)
				}
			})
		}
	})

	t.Run("BulkIsIdempotent", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		f := newMethodFixture("pkg.f")
		cs := f.changeSet()
		require.NoError(t, d.BulkTransaction(ctx, cs))
		before := wholeGraph(t, d).Stats()

		require.NoError(t, d.BulkTransaction(ctx, cs))
		after := wholeGraph(t, d).Stats()

		assert.Equal(t, before.VertexCount, after.VertexCount)
		assert.Equal(t, before.EdgeCount, after.EdgeCount)
	})

	t.Run("BulkDeletes", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		f := newMethodFixture("pkg.f")
		require.NoError(t, d.BulkTransaction(ctx, f.changeSet()))

		err := d.BulkTransaction(ctx, delta.New().
			AddEdgeDelete(f.method, f.call, graph.EdgeCFG).
			AddEdgeDelete(f.method, f.call, graph.EdgeCFG).
			AddVertexDelete(f.idX.ID, f.idX.Label).
			AddVertexDelete(f.idX.ID, f.idX.Label))
		require.NoError(t, err)

		g := wholeGraph(t, d)
		assert.Len(t, g.Vertices, 9)
		assert.False(t, g.HasEdge(graph.Edge{Src: f.method.ID, Dst: f.call.ID, Label: graph.EdgeCFG}))
		for _, e := range g.Edges {
			assert.NotEqual(t, f.idX.ID, e.Src)
			assert.NotEqual(t, f.idX.ID, e.Dst)
		}
	})

	t.Run("GetMethodHeadAndBody", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		f := newMethodFixture("pkg.f")
		require.NoError(t, d.BulkTransaction(ctx, f.changeSet()))

		head, err := d.GetMethod(ctx, "pkg.f", false)
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]int64{f.method.ID, f.param.ID, f.ret.ID, f.block.ID, f.local.ID},
			keys(head.Vertices))
		assert.Len(t, head.Edges, 4)

		body, err := d.GetMethod(ctx, "pkg.f", true)
		require.NoError(t, err)
		assert.Len(t, body.Vertices, 8)
		assert.NotContains(t, body.Vertices, f.file.ID)
		assert.True(t, body.HasEdge(graph.Edge{Src: f.call.ID, Dst: f.ret.ID, Label: graph.EdgeCFG}))

		missing, err := d.GetMethod(ctx, "pkg.nope", true)
		require.NoError(t, err)
		assert.Empty(t, missing.Vertices)
	})

	t.Run("DeleteMethodCascades", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		callee := newMethodFixture("pkg.callee")
		caller := newMethodFixture("pkg.caller")
		caller.file, caller.ns = callee.file, callee.ns
		require.NoError(t, d.BulkTransaction(ctx, callee.changeSet().
			Merge(caller.changeSet()).
			AddEdge(caller.call, callee.method, graph.EdgeCall)))
		require.Len(t, wholeGraph(t, d).Vertices, 18)

		require.NoError(t, d.DeleteMethod(ctx, "pkg.callee"))

		g := wholeGraph(t, d)
		assert.Len(t, g.Vertices, 10)
		for _, v := range []*graph.Vertex{callee.method, callee.param, callee.block, callee.call, callee.idX} {
			assert.NotContains(t, g.Vertices, v.ID)
		}
		assert.Contains(t, g.Vertices, caller.call.ID)
		for _, e := range g.Edges {
			assert.Contains(t, g.Vertices, e.Src)
			assert.Contains(t, g.Vertices, e.Dst)
		}

		require.NoError(t, d.DeleteMethod(ctx, "pkg.callee"))
		require.NoError(t, d.DeleteMethod(ctx, "pkg.never"))
		assert.Len(t, wholeGraph(t, d).Vertices, 10)
	})

	t.Run("DeleteTypeDeclCascades", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		td := graph.NewVertex(graph.LabelTypeDecl, graph.Props{graph.PropFullName: graph.String("pkg.T")})
		member := graph.NewVertex(graph.LabelMember, graph.Props{graph.PropName: graph.String("x")})
		mod := graph.NewVertex(graph.LabelModifier, graph.Props{graph.PropModifierType: graph.String("PUBLIC")})
		other := graph.NewVertex(graph.LabelTypeDecl, graph.Props{graph.PropFullName: graph.String("pkg.U")})
		require.NoError(t, d.BulkTransaction(ctx, delta.New().
			AddEdge(td, member, graph.EdgeAST).
			AddEdge(member, mod, graph.EdgeAST).
			AddVertex(other)))

		require.NoError(t, d.DeleteTypeDecl(ctx, "pkg.T"))

		g := wholeGraph(t, d)
		assert.Equal(t, []int64{other.ID}, keys(g.Vertices))
		assert.Empty(t, g.Edges)
	})

	t.Run("DeleteVertexAndEdge", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		f := newMethodFixture("pkg.f")
		require.NoError(t, d.BulkTransaction(ctx, f.changeSet()))

		require.NoError(t, d.DeleteEdge(ctx, f.idY, f.local, graph.EdgeRef))
		require.NoError(t, d.DeleteEdge(ctx, f.idY, f.local, graph.EdgeRef))
		ok, err := d.EdgeExists(ctx, f.idY, f.local, graph.EdgeRef)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, d.DeleteVertex(ctx, f.local.ID, f.local.Label))
		require.NoError(t, d.DeleteVertex(ctx, f.local.ID, f.local.Label))
		ok, err = d.VertexExists(ctx, f.local)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, wholeGraph(t, d).HasEdge(graph.Edge{Src: f.block.ID, Dst: f.local.ID, Label: graph.EdgeAST}))
	})

	t.Run("MetaDataAndPropertyPatch", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()

		meta, err := d.GetMetaData(ctx)
		require.NoError(t, err)
		assert.Nil(t, meta)

		v := graph.NewVertex(graph.LabelMetaData, graph.Props{
			graph.PropLanguage: graph.String("GO"),
			graph.PropVersion:  graph.String("1.0"),
			graph.PropHash:     graph.String("old"),
		})
		require.NoError(t, d.AddVertex(ctx, v))
		require.NoError(t, d.UpdateVertexProperty(ctx, v.ID, v.Label, graph.PropHash, graph.String("new")))
		require.NoError(t, d.UpdateVertexProperty(ctx, v.ID+1000, v.Label, graph.PropHash, graph.String("x")))

		meta, err = d.GetMetaData(ctx)
		require.NoError(t, err)
		require.NotNil(t, meta)
		assert.Equal(t, v.ID, meta.ID)
		assert.Equal(t, "new", meta.Props.String(graph.PropHash))
		assert.Equal(t, "GO", meta.Props.String(graph.PropLanguage))
	})

	t.Run("PropertyPatchMovesFullNameIndex", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		v := graph.NewVertex(graph.LabelTypeDecl, graph.Props{graph.PropFullName: graph.String("pkg.Old")})
		require.NoError(t, d.AddVertex(ctx, v))

		require.NoError(t, d.UpdateVertexProperty(ctx, v.ID, v.Label, graph.PropFullName, graph.String("pkg.New")))

		got, err := d.GetVertex(ctx, graph.LabelTypeDecl, "pkg.New")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, v.ID, got.ID)
		gone, err := d.GetVertex(ctx, graph.LabelTypeDecl, "pkg.Old")
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("ProgramStructureAndNeighbours", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		f := newMethodFixture("pkg.f")
		td := graph.NewVertex(graph.LabelTypeDecl, graph.Props{graph.PropFullName: graph.String("pkg.T")})
		require.NoError(t, d.BulkTransaction(ctx, f.changeSet().AddEdge(f.ns, td, graph.EdgeAST)))

		st, err := d.GetProgramStructure(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{f.file.ID, f.ns.ID, td.ID}, keys(st.Vertices))
		assert.ElementsMatch(t, []graph.Edge{
			{Src: f.file.ID, Dst: f.ns.ID, Label: graph.EdgeAST},
			{Src: f.ns.ID, Dst: td.ID, Label: graph.EdgeAST},
		}, st.Edges)

		nb, err := d.GetNeighbours(ctx, f.call)
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]int64{f.call.ID, f.block.ID, f.method.ID, f.idX.ID, f.idY.ID, f.ret.ID},
			keys(nb.Vertices))
		assert.Len(t, nb.Edges, 7)
	})

	t.Run("GetVerticesByLabel", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		require.NoError(t, d.BulkTransaction(ctx, newMethodFixture("pkg.f").changeSet()))

		ids, err := d.GetVertices(ctx, graph.LabelIdentifier)
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.Less(t, ids[0].ID, ids[1].ID)

		m, err := d.GetVertex(ctx, graph.LabelMethod, "pkg.f")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "void(int)", m.Props.String(graph.PropSignature))
	})

	t.Run("ClearGraph", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		require.NoError(t, d.BulkTransaction(ctx, newMethodFixture("pkg.f").changeSet()))

		require.NoError(t, d.ClearGraph(ctx))

		g := wholeGraph(t, d)
		assert.Empty(t, g.Vertices)
		assert.Empty(t, g.Edges)
	})

	t.Run("ConcurrentAddsGetDistinctIDs", func(t *testing.T) {
		d := connected(t, newDriver)
		ctx := context.Background()
		const n = 16
		vs := make([]*graph.Vertex, n)
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range vs {
			vs[i] = graph.NewVertex(graph.LabelLocal, graph.Props{graph.PropName: graph.String(fmt.Sprintf("v%d", i))})
			wg.Add(1)
			go func(v *graph.Vertex) {
				defer wg.Done()
				errs <- d.AddVertex(ctx, v)
			}(vs[i])
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		seen := make(map[int64]bool)
		for _, v := range vs {
			require.True(t, v.Written())
			assert.False(t, seen[v.ID], "duplicate id %d", v.ID)
			seen[v.ID] = true
		}
		assert.Len(t, wholeGraph(t, d).Vertices, n)
	})
}

func keys(m map[int64]*graph.Vertex) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
