package driver

import (
	"context"
	"fmt"
	"sort"

	gremlingo "github.com/apache/tinkerpop/gremlin-go/v3/driver"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"go.uber.org/zap"
)

// Compile-time checks that GremlinBackend satisfies Backend and traverses
// subtrees natively.
var (
	_ Backend          = (*GremlinBackend)(nil)
	_ SubtreeTraverser = (*GremlinBackend)(nil)
)

const (
	gremlinFullName = "full_name"
	gremlinProps    = "props"
)

// GremlinOptions configures a GremlinBackend.
type GremlinOptions struct {
	URL      string // e.g. ws://localhost:8182/gremlin
	Username string
	Password string
	Logger   *zap.Logger
}

// GremlinBackend stores the graph on a Gremlin server through the
// traversal API. Identifiers are allocated client-side and written as T.id.
type GremlinBackend struct {
	opts GremlinOptions
	conn *gremlingo.DriverRemoteConnection
	g    *gremlingo.GraphTraversalSource
	log  *zap.Logger
}

// NewGremlinBackend returns an unopened backend.
func NewGremlinBackend(opts GremlinOptions) *GremlinBackend {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &GremlinBackend{opts: opts, log: log.Named("gremlin")}
}

// NewGremlinDriver composes a Gremlin backend with a restartable counter.
func NewGremlinDriver(opts GremlinOptions, coreOpts ...Option) *Core {
	coreOpts = append([]Option{WithIDStrategy(NewCounterIDs()), WithLogger(opts.Logger)}, coreOpts...)
	return NewCore("gremlin", NewGremlinBackend(opts), coreOpts...)
}

// Open connects to the server and checks it answers a traversal.
func (b *GremlinBackend) Open(_ context.Context) error {
	if b.conn != nil {
		return nil
	}
	conn, err := gremlingo.NewDriverRemoteConnection(b.opts.URL,
		func(s *gremlingo.DriverRemoteConnectionSettings) {
			s.TraversalSource = "g"
			s.LogVerbosity = gremlingo.Warning
			if b.opts.Username != "" {
				s.AuthInfo = gremlingo.BasicAuthInfo(b.opts.Username, b.opts.Password)
			}
		})
	if err != nil {
		return fmt.Errorf("gremlin: connect: %w: %w", graph.ErrBackendUnavailable, err)
	}
	g := gremlingo.Traversal_().WithRemote(conn)
	if _, err := g.V().Limit(1).Count().ToList(); err != nil {
		conn.Close()
		return fmt.Errorf("gremlin: probe: %w: %w", graph.ErrBackendUnavailable, err)
	}
	b.conn, b.g = conn, g
	return nil
}

// Close closes the remote connection.
func (b *GremlinBackend) Close() error {
	if b.conn != nil {
		b.conn.Close()
		b.conn, b.g = nil, nil
	}
	return nil
}

func (b *GremlinBackend) source() (*gremlingo.GraphTraversalSource, error) {
	if b.g == nil {
		return nil, fmt.Errorf("gremlin: %w", graph.ErrNotConnected)
	}
	return b.g, nil
}

// ---------- Decoding ----------

// gremlinInt widens the numeric types GraphBinary may return.
func gremlinInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func resultMap(r *gremlingo.Result) (map[any]any, error) {
	m, ok := r.GetInterface().(map[any]any)
	if !ok {
		return nil, fmt.Errorf("gremlin: unexpected result %T", r.GetInterface())
	}
	return m, nil
}

func resultVertex(r *gremlingo.Result) (*graph.Vertex, error) {
	m, err := resultMap(r)
	if err != nil {
		return nil, err
	}
	blob, _ := m[gremlinProps].(string)
	props, err := graph.UnmarshalProps([]byte(blob))
	if err != nil {
		return nil, fmt.Errorf("gremlin: decode props: %w", err)
	}
	label, _ := m["label"].(string)
	return &graph.Vertex{ID: gremlinInt(m["id"]), Label: graph.VertexLabel(label), Props: props}, nil
}

func resultEdge(r *gremlingo.Result) (graph.Edge, error) {
	m, err := resultMap(r)
	if err != nil {
		return graph.Edge{}, err
	}
	label, _ := m["label"].(string)
	return graph.Edge{Src: gremlinInt(m["src"]), Dst: gremlinInt(m["dst"]), Label: graph.EdgeLabel(label)}, nil
}

// projectVertex appends the id/label/props projection.
func projectVertex(t *gremlingo.GraphTraversal) *gremlingo.GraphTraversal {
	return t.Project("id", "label", gremlinProps).
		By(gremlingo.T.Id).
		By(gremlingo.T.Label).
		By(gremlingo.T__.Values(gremlinProps))
}

func projectEdge(t *gremlingo.GraphTraversal) *gremlingo.GraphTraversal {
	return t.Project("src", "dst", "label").
		By(gremlingo.T__.OutV().Id()).
		By(gremlingo.T__.InV().Id()).
		By(gremlingo.T.Label)
}

func collectVertices(t *gremlingo.GraphTraversal) ([]*graph.Vertex, error) {
	results, err := projectVertex(t).ToList()
	if err != nil {
		return nil, fmt.Errorf("gremlin: read vertices: %w", err)
	}
	out := make([]*graph.Vertex, 0, len(results))
	for _, r := range results {
		v, err := resultVertex(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func collectEdges(t *gremlingo.GraphTraversal) ([]graph.Edge, error) {
	results, err := projectEdge(t).ToList()
	if err != nil {
		return nil, fmt.Errorf("gremlin: read edges: %w", err)
	}
	out := make([]graph.Edge, 0, len(results))
	for _, r := range results {
		e, err := resultEdge(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func anyIDs(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func anyLabels(labels []graph.EdgeLabel) []any {
	out := make([]any, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

func allVertexLabels() []any {
	out := make([]any, len(graph.AllVertexLabels))
	for i, l := range graph.AllVertexLabels {
		out[i] = string(l)
	}
	return out
}

// ---------- Backend ----------

func (b *GremlinBackend) HasVertex(_ context.Context, id int64) (bool, error) {
	g, err := b.source()
	if err != nil {
		return false, err
	}
	return g.V(id).HasNext()
}

func (b *GremlinBackend) HasEdge(_ context.Context, e graph.Edge) (bool, error) {
	g, err := b.source()
	if err != nil {
		return false, err
	}
	return g.V(e.Src).OutE(string(e.Label)).Where(gremlingo.T__.InV().HasId(e.Dst)).HasNext()
}

// CreateVertices chains one addV per vertex into a single traversal.
// Identifiers must be preassigned.
func (b *GremlinBackend) CreateVertices(_ context.Context, vs []*graph.Vertex) error {
	g, err := b.source()
	if err != nil {
		return err
	}
	if len(vs) == 0 {
		return nil
	}
	var t *gremlingo.GraphTraversal
	for _, v := range vs {
		if v.ID == 0 {
			return fmt.Errorf("gremlin: vertex %s has no identifier: %w", v.Label, graph.ErrTransactionFailure)
		}
		blob, err := graph.MarshalProps(v.Props)
		if err != nil {
			return fmt.Errorf("gremlin: encode props: %w", err)
		}
		if t == nil {
			t = g.AddV(string(v.Label))
		} else {
			t = t.AddV(string(v.Label))
		}
		t = t.Property(gremlingo.T.Id, v.ID).
			Property(gremlinFullName, v.FullName()).
			Property(gremlinProps, string(blob))
	}
	if err := <-t.Iterate(); err != nil {
		return fmt.Errorf("gremlin: add vertices: %w: %w", graph.ErrTransactionFailure, err)
	}
	return nil
}

// CreateEdges chains one addE per edge into a single traversal.
func (b *GremlinBackend) CreateEdges(_ context.Context, es []graph.Edge) error {
	g, err := b.source()
	if err != nil {
		return err
	}
	if len(es) == 0 {
		return nil
	}
	var t *gremlingo.GraphTraversal
	for _, e := range es {
		if t == nil {
			t = g.V(e.Src)
		} else {
			t = t.V(e.Src)
		}
		t = t.AddE(string(e.Label)).To(gremlingo.T__.V(e.Dst))
	}
	if err := <-t.Iterate(); err != nil {
		return fmt.Errorf("gremlin: add edges: %w: %w", graph.ErrTransactionFailure, err)
	}
	return nil
}

func (b *GremlinBackend) DropVertex(_ context.Context, id int64) error {
	g, err := b.source()
	if err != nil {
		return err
	}
	if err := <-g.V(id).Drop().Iterate(); err != nil {
		return fmt.Errorf("gremlin: drop vertex %d: %w", id, err)
	}
	return nil
}

func (b *GremlinBackend) DropEdge(_ context.Context, e graph.Edge) error {
	g, err := b.source()
	if err != nil {
		return err
	}
	t := g.V(e.Src).OutE(string(e.Label)).Where(gremlingo.T__.InV().HasId(e.Dst)).Drop()
	if err := <-t.Iterate(); err != nil {
		return fmt.Errorf("gremlin: drop edge: %w", err)
	}
	return nil
}

// SetProperty rewrites the property blob, keeping full_name in sync.
func (b *GremlinBackend) SetProperty(ctx context.Context, id int64, key string, value graph.PropValue) error {
	g, err := b.source()
	if err != nil {
		return err
	}
	vs, err := b.Vertices(ctx, []int64{id})
	if err != nil || len(vs) == 0 {
		return err
	}
	v := vs[0]
	if value.IsNone() {
		delete(v.Props, key)
	} else {
		v.Props[key] = value
	}
	blob, err := graph.MarshalProps(v.Props)
	if err != nil {
		return fmt.Errorf("gremlin: encode props: %w", err)
	}
	t := g.V(id).
		Property(gremlingo.Cardinality.Single, gremlinProps, string(blob)).
		Property(gremlingo.Cardinality.Single, gremlinFullName, v.FullName())
	if err := <-t.Iterate(); err != nil {
		return fmt.Errorf("gremlin: set property: %w", err)
	}
	return nil
}

func (b *GremlinBackend) Vertices(_ context.Context, ids []int64) ([]*graph.Vertex, error) {
	g, err := b.source()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return collectVertices(g.V(anyIDs(ids)...))
}

func (b *GremlinBackend) FindVertices(_ context.Context, label graph.VertexLabel, fullName string) ([]*graph.Vertex, error) {
	g, err := b.source()
	if err != nil {
		return nil, err
	}
	t := g.V().HasLabel(string(label))
	if fullName != "" {
		t = t.Has(gremlinFullName, fullName)
	}
	return collectVertices(t)
}

func (b *GremlinBackend) Edges(_ context.Context, ids []int64, dir graph.Direction, labels ...graph.EdgeLabel) ([]graph.Edge, error) {
	g, err := b.source()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var out []graph.Edge
	seen := make(map[graph.Edge]struct{})
	add := func(t *gremlingo.GraphTraversal) error {
		es, err := collectEdges(t)
		if err != nil {
			return err
		}
		for _, e := range es {
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
		return nil
	}
	if dir == graph.DirectionOut || dir == graph.DirectionBoth {
		if err := add(g.V(anyIDs(ids)...).OutE(anyLabels(labels)...)); err != nil {
			return nil, err
		}
	}
	if dir == graph.DirectionIn || dir == graph.DirectionBoth {
		if err := add(g.V(anyIDs(ids)...).InE(anyLabels(labels)...)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Subtree uses repeat(out(label)).emit() to collect the closure server-side.
func (b *GremlinBackend) Subtree(_ context.Context, root int64, label graph.EdgeLabel) ([]int64, error) {
	g, err := b.source()
	if err != nil {
		return nil, err
	}
	results, err := g.V(root).Repeat(gremlingo.T__.Out(string(label))).Emit().Dedup().Id().ToList()
	if err != nil {
		return nil, fmt.Errorf("gremlin: subtree: %w", err)
	}
	out := make([]int64, 0, len(results))
	for _, r := range results {
		if id := gremlinInt(r.GetInterface()); id != root {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (b *GremlinBackend) Scan(_ context.Context) (*graph.Subgraph, error) {
	g, err := b.source()
	if err != nil {
		return nil, err
	}
	vs, err := collectVertices(g.V().HasLabel(allVertexLabels()...))
	if err != nil {
		return nil, err
	}
	sg := graph.NewSubgraph()
	for _, v := range vs {
		sg.AddVertex(v)
	}
	es, err := collectEdges(g.E())
	if err != nil {
		return nil, err
	}
	for _, e := range es {
		sg.AddEdge(e)
	}
	sg.SortEdges()
	return sg, nil
}

func (b *GremlinBackend) MaxVertexID(_ context.Context) (int64, error) {
	g, err := b.source()
	if err != nil {
		return 0, err
	}
	results, err := g.V().HasLabel(allVertexLabels()...).Id().Max().ToList()
	if err != nil {
		return 0, fmt.Errorf("gremlin: max id: %w", err)
	}
	if len(results) == 0 || results[0].GetInterface() == nil {
		return 0, nil
	}
	return gremlinInt(results[0].GetInterface()), nil
}

func (b *GremlinBackend) Truncate(_ context.Context) error {
	g, err := b.source()
	if err != nil {
		return err
	}
	if err := <-g.V().HasLabel(allVertexLabels()...).Drop().Iterate(); err != nil {
		return fmt.Errorf("gremlin: truncate: %w", err)
	}
	return nil
}
