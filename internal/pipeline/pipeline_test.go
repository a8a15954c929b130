package pipeline

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/driver"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/program"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyDriver counts mutating and reading calls that reach the driver.
type spyDriver struct {
	driver.Driver
	mutations atomic.Int64
	reads     atomic.Int64
	failBulk  atomic.Bool
}

func (s *spyDriver) AddVertex(ctx context.Context, v *graph.Vertex) error {
	s.mutations.Add(1)
	return s.Driver.AddVertex(ctx, v)
}

func (s *spyDriver) AddEdge(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) error {
	s.mutations.Add(1)
	return s.Driver.AddEdge(ctx, src, dst, label)
}

func (s *spyDriver) BulkTransaction(ctx context.Context, cs *delta.ChangeSet) error {
	s.mutations.Add(1)
	if s.failBulk.Load() {
		return graph.ErrBackendUnavailable
	}
	return s.Driver.BulkTransaction(ctx, cs)
}

func (s *spyDriver) DeleteVertex(ctx context.Context, id int64, label graph.VertexLabel) error {
	s.mutations.Add(1)
	return s.Driver.DeleteVertex(ctx, id, label)
}

func (s *spyDriver) DeleteMethod(ctx context.Context, fullName string) error {
	s.mutations.Add(1)
	return s.Driver.DeleteMethod(ctx, fullName)
}

func (s *spyDriver) DeleteTypeDecl(ctx context.Context, fullName string) error {
	s.mutations.Add(1)
	return s.Driver.DeleteTypeDecl(ctx, fullName)
}

func (s *spyDriver) UpdateVertexProperty(ctx context.Context, id int64, label graph.VertexLabel, key string, value graph.PropValue) error {
	s.mutations.Add(1)
	return s.Driver.UpdateVertexProperty(ctx, id, label, key, value)
}

func (s *spyDriver) GetMetaData(ctx context.Context) (*graph.Vertex, error) {
	s.reads.Add(1)
	return s.Driver.GetMetaData(ctx)
}

func (s *spyDriver) GetVertex(ctx context.Context, label graph.VertexLabel, fullName string) (*graph.Vertex, error) {
	s.reads.Add(1)
	return s.Driver.GetVertex(ctx, label, fullName)
}

func (s *spyDriver) GetVertices(ctx context.Context, label graph.VertexLabel) ([]*graph.Vertex, error) {
	s.reads.Add(1)
	return s.Driver.GetVertices(ctx, label)
}

func (s *spyDriver) GetMethod(ctx context.Context, fullName string, includeBody bool) (*graph.Subgraph, error) {
	s.reads.Add(1)
	return s.Driver.GetMethod(ctx, fullName, includeBody)
}

func (s *spyDriver) GetNeighbours(ctx context.Context, v *graph.Vertex) (*graph.Subgraph, error) {
	s.reads.Add(1)
	return s.Driver.GetNeighbours(ctx, v)
}

func (s *spyDriver) reset() {
	s.mutations.Store(0)
	s.reads.Store(0)
}

func newTestPipeline(t *testing.T, opts Options) (*Pipeline, *spyDriver) {
	t.Helper()
	d := driver.NewMemDriver()
	require.NoError(t, d.Connect(context.Background()))
	spy := &spyDriver{Driver: d}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 1
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = 4
	}
	p, err := New(spy, stubLowerer{}, opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, spy
}

// sample is `type T struct{ x int }`, `func (T) add(a, b int) { x = a + b }`
// and `func main() { T{}.add(1, 2) }`.
func sample(addHash string) *program.Program {
	return &program.Program{
		Language: "go",
		Version:  "1.25",
		Units: []program.Unit{
			{Kind: program.KindClass, FullName: "pkg.T", Name: "T", File: "a.go", Namespace: "pkg", Hash: "t1"},
			{Kind: program.KindField, FullName: "pkg.T.x", Name: "x", Parent: "pkg.T", File: "a.go", Namespace: "pkg", Hash: "x1"},
			{
				Kind: program.KindMethod, FullName: "pkg.T.add", Name: "add", Parent: "pkg.T",
				File: "a.go", Namespace: "pkg", Hash: addHash,
				Params: []program.Param{{Name: "a"}, {Name: "b"}},
				Source: []byte("x = a + b"),
			},
			{
				Kind: program.KindMethod, FullName: "pkg.main", Name: "main",
				File: "main.go", Namespace: "pkg", Hash: "m1",
				Source: []byte("calls:pkg.T.add,fmt.Println"),
			},
		},
	}
}

func wholeGraph(t *testing.T, d driver.Driver) *graph.Subgraph {
	t.Helper()
	g, err := d.GetWholeGraph(context.Background())
	require.NoError(t, err)
	return g
}

func callEdgesInto(g *graph.Subgraph, method *graph.Vertex) int {
	n := 0
	for _, e := range g.Edges {
		if e.Label == graph.EdgeCall && e.Dst == method.ID {
			n++
		}
	}
	return n
}

func TestProject_ThreeRuns(t *testing.T) {
	p, spy := newTestPipeline(t, Options{})
	ctx := context.Background()

	// Run 1: fresh graph.
	res, err := p.Project(ctx, sample("a1"))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 4, res.New)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, res.UnresolvedCalls, "fmt.Println has no METHOD")

	first := wholeGraph(t, spy)
	add, err := spy.GetVertex(ctx, graph.LabelMethod, "pkg.T.add")
	require.NoError(t, err)
	require.NotNil(t, add)
	assert.Equal(t, 1, callEdgesInto(first, add))
	stats := first.Stats()
	assert.Equal(t, 1, stats.ByLabel[graph.LabelMetaData])
	assert.Equal(t, 2, stats.ByLabel[graph.LabelFile])
	assert.Equal(t, 2, stats.ByLabel[graph.LabelNamespaceBlock])
	assert.Equal(t, 2, stats.ByLabel[graph.LabelMethod])

	// Run 2: nothing changed, so nothing is written and one read is made.
	spy.reset()
	res, err = p.Project(ctx, sample("a1"))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Zero(t, spy.mutations.Load())
	assert.Equal(t, int64(1), spy.reads.Load())

	// Run 3: only add changed.
	res, err = p.Project(ctx, sample("a2"))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 3, res.Skipped)
	assert.Zero(t, res.New)
	assert.Zero(t, res.Removed)

	third := wholeGraph(t, spy)
	assert.Equal(t, len(first.Vertices), len(third.Vertices))
	assert.Equal(t, len(first.Edges), len(third.Edges))

	methods, err := spy.GetVertices(ctx, graph.LabelMethod)
	require.NoError(t, err)
	assert.Len(t, methods, 2)

	rebuilt, err := spy.GetVertex(ctx, graph.LabelMethod, "pkg.T.add")
	require.NoError(t, err)
	require.NotNil(t, rebuilt)
	assert.NotEqual(t, add.ID, rebuilt.ID)
	assert.Equal(t, "a2", rebuilt.Props.String(graph.PropHash))
	assert.Equal(t, 1, callEdgesInto(third, rebuilt), "saved caller is reconnected")

	body, err := spy.GetMethod(ctx, "pkg.T.add", true)
	require.NoError(t, err)
	assert.Len(t, body.Nodes(graph.LabelIdentifier), 3)
	assert.Len(t, body.Nodes(graph.LabelMethodParameterIn), 2)
}

func TestProject_CountsOnlyCreatedVertices(t *testing.T) {
	p, spy := newTestPipeline(t, Options{})
	ctx := context.Background()

	_, err := p.Project(ctx, sample("a1"))
	require.NoError(t, err)
	before := wholeGraph(t, spy)

	res, err := p.Project(ctx, sample("a2"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)

	created := 0
	for id := range wholeGraph(t, spy).Vertices {
		if _, ok := before.Vertices[id]; !ok {
			created++
		}
	}
	assert.Positive(t, created)
	assert.Equal(t, created, res.Vertices, "stored parents and files are not counted")
}

// addCallers counts the CALL edges into pkg.T.add.
func addCallers(t *testing.T, d driver.Driver) int {
	t.Helper()
	add, err := d.GetVertex(context.Background(), graph.LabelMethod, "pkg.T.add")
	require.NoError(t, err)
	require.NotNil(t, add)
	return callEdgesInto(wholeGraph(t, d), add)
}

func TestProject_FailedUpdateRestoresCallers(t *testing.T) {
	p, spy := newTestPipeline(t, Options{})
	ctx := context.Background()

	_, err := p.Project(ctx, sample("a1"))
	require.NoError(t, err)

	broken := sample("a2")
	broken.Units[2].Source = []byte("fail")
	res, err := p.Project(ctx, broken)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	res, err = p.Project(ctx, sample("a3"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 1, addCallers(t, spy), "pkg.main is linked to the rebuilt method")

	fresh, freshSpy := newTestPipeline(t, Options{})
	_, err = fresh.Project(ctx, sample("a3"))
	require.NoError(t, err)
	assert.Equal(t, addCallers(t, freshSpy), addCallers(t, spy))
}

func TestProject_RestoredMethodRegainsCallers(t *testing.T) {
	p, spy := newTestPipeline(t, Options{})
	ctx := context.Background()

	_, err := p.Project(ctx, sample("a1"))
	require.NoError(t, err)

	without := sample("a1")
	without.Units = append(without.Units[:2:2], without.Units[3])
	res, err := p.Project(ctx, without)
	require.NoError(t, err)
	require.Equal(t, 1, res.Removed)

	res, err = p.Project(ctx, sample("a1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 1, addCallers(t, spy))

	// A second link pass must not duplicate the edge.
	_, err = p.Project(ctx, sample("a4"))
	require.NoError(t, err)
	assert.Equal(t, 1, addCallers(t, spy))
}

func TestProject_ClassificationScenario(t *testing.T) {
	p, spy := newTestPipeline(t, Options{})
	ctx := context.Background()
	unit := func(name, hash string) program.Unit {
		return program.Unit{Kind: program.KindMethod, FullName: name, Name: name, File: "a.go", Hash: hash}
	}

	_, err := p.Project(ctx, &program.Program{Units: []program.Unit{unit("A", "h1"), unit("B", "h2")}})
	require.NoError(t, err)

	res, err := p.Project(ctx, &program.Program{Units: []program.Unit{unit("A", "h1"), unit("C", "h3")}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.New)

	for name, want := range map[string]bool{"A": true, "B": false, "C": true} {
		v, err := spy.GetVertex(ctx, graph.LabelMethod, name)
		require.NoError(t, err)
		assert.Equal(t, want, v != nil, name)
	}
}

func TestProject_LoweringFailureKeepsUnitStale(t *testing.T) {
	p, spy := newTestPipeline(t, Options{})
	ctx := context.Background()
	prog := func() *program.Program {
		return &program.Program{Units: []program.Unit{
			{Kind: program.KindMethod, FullName: "ok", Name: "ok", File: "a.go", Hash: "1"},
			{Kind: program.KindMethod, FullName: "bad", Name: "bad", File: "a.go", Hash: "2", Source: []byte("fail")},
		}}
	}

	res, err := p.Project(ctx, prog())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	meta, err := spy.GetMetaData(ctx)
	require.NoError(t, err)
	assert.Empty(t, meta.Props.String(graph.PropHash))

	bad, err := spy.GetVertex(ctx, graph.LabelMethod, "bad")
	require.NoError(t, err)
	assert.Nil(t, bad)

	res, err = p.Project(ctx, prog())
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
}

func TestProject_ConsumerErrorStopsRun(t *testing.T) {
	p, spy := newTestPipeline(t, Options{ChannelCapacity: 1})
	ctx := context.Background()

	// Create the metadata and structure, then fail the first unit write.
	prog := &program.Program{}
	for i := range 32 {
		name := "m" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		prog.Units = append(prog.Units, program.Unit{Kind: program.KindMethod, FullName: name, Name: name, File: "a.go", Hash: name})
	}
	_, err := p.Project(ctx, &program.Program{Units: prog.Units[:1]})
	require.NoError(t, err)

	spy.failBulk.Store(true)
	_, err = p.Project(ctx, prog)
	require.ErrorIs(t, err, graph.ErrBackendUnavailable)

	spy.failBulk.Store(false)
	meta, err := spy.GetMetaData(ctx)
	require.NoError(t, err)
	assert.Empty(t, meta.Props.String(graph.PropHash), "a failed run leaves the graph stale")
}

func TestProject_ReportsProgress(t *testing.T) {
	progress := NewProgressReporter()
	p, _ := newTestPipeline(t, Options{Progress: progress})

	_, err := p.Project(context.Background(), sample("a1"))
	require.NoError(t, err)

	var completed []string
	for done := false; !done; {
		select {
		case ev := <-progress.Subscribe():
			if ev.Status == PhaseCompleted {
				completed = append(completed, ev.Phase)
			}
		default:
			done = true
		}
	}
	assert.Equal(t, []string{"types", "members", "heads", "bodies", "calls"}, completed)
}

func TestWorkers(t *testing.T) {
	p := &Pipeline{opts: Options{ChunkSize: 200}}
	assert.Equal(t, 1, p.workers(10))
	assert.Equal(t, min(50, runtime.GOMAXPROCS(0)), p.workers(10_000))

	p.opts.MaxWorkers = 1
	assert.Equal(t, 1, p.workers(10_000))
}

func TestFormatProgress(t *testing.T) {
	assert.Contains(t, FormatProgress(ProgressEvent{Phase: "heads", Status: PhaseStarted, Units: 3}), "heads (3 units)")
	assert.Contains(t, FormatProgress(ProgressEvent{Phase: "bodies", Status: PhaseFailed, Message: "boom"}), "boom")
}
