package driver

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultChunkSize is the number of vertices or edges written per backend
// request by BulkTransaction.
const DefaultChunkSize = 50

// Compile-time check that Core satisfies Driver.
var _ Driver = (*Core)(nil)

// Core implements Driver on top of a primitive Backend. Identifier
// allocation and traversal are strategies chosen at construction.
type Core struct {
	name      string
	backend   Backend
	ids       IDStrategy
	chunkSize int
	log       *zap.Logger
	connected atomic.Bool
}

// Option configures a Core.
type Option func(*Core)

// WithIDStrategy overrides the default NativeIDs strategy.
func WithIDStrategy(s IDStrategy) Option {
	return func(c *Core) { c.ids = s }
}

// WithChunkSize sets the bulk chunk size. Values below 1 are ignored.
func WithChunkSize(n int) Option {
	return func(c *Core) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Core) { c.log = logging.OrNop(l) }
}

// NewCore composes a Driver from a backend. name labels metrics and logs.
func NewCore(name string, b Backend, opts ...Option) *Core {
	c := &Core{
		name:      name,
		backend:   b,
		ids:       NativeIDs{},
		chunkSize: DefaultChunkSize,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("backend", name))
	return c
}

// Name returns the backend name.
func (c *Core) Name() string { return c.name }

// Backend returns the composed backend.
func (c *Core) Backend() Backend { return c.backend }

// Connect opens the backend and, for allocating strategies, restarts the
// identifier counter from the largest identifier already stored.
func (c *Core) Connect(ctx context.Context) error {
	if err := c.backend.Open(ctx); err != nil {
		return fmt.Errorf("%s: connect: %w", c.name, err)
	}
	if _, native := c.ids.(NativeIDs); !native {
		maxID, err := c.backend.MaxVertexID(ctx)
		if err != nil {
			return fmt.Errorf("%s: scan max id: %w", c.name, err)
		}
		c.ids.Restart(maxID)
		c.log.Debug("identifier counter restarted", zap.Int64("max_id", maxID))
	}
	c.connected.Store(true)
	return nil
}

// Close releases the backend.
func (c *Core) Close() error {
	c.connected.Store(false)
	return c.backend.Close()
}

func (c *Core) ready() error {
	if !c.connected.Load() {
		return fmt.Errorf("%s: %w", c.name, graph.ErrNotConnected)
	}
	return nil
}

// ---------- Existence ----------

// VertexExists reports whether v has been written and is still present.
func (c *Core) VertexExists(ctx context.Context, v *graph.Vertex) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	if !v.Written() {
		return false, nil
	}
	defer observe(c.name, "vertex_exists", time.Now())
	return c.backend.HasVertex(ctx, v.ID)
}

// EdgeExists reports whether src -[label]-> dst is present.
func (c *Core) EdgeExists(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	if !src.Written() || !dst.Written() {
		return false, nil
	}
	defer observe(c.name, "edge_exists", time.Now())
	return c.backend.HasEdge(ctx, graph.Edge{Src: src.ID, Dst: dst.ID, Label: label})
}

// ---------- Single-mutation path ----------

// AddVertex writes v unless it already exists. A failed existence check is
// treated as "absent".
func (c *Core) AddVertex(ctx context.Context, v *graph.Vertex) error {
	if err := c.ready(); err != nil {
		return err
	}
	exists, err := c.VertexExists(ctx, v)
	if err != nil {
		c.log.Debug("existence check failed, treating vertex as absent", zap.Error(err))
	}
	if exists {
		return nil
	}
	defer observe(c.name, "add_vertex", time.Now())
	if err := c.createVertices(ctx, []*graph.Vertex{v}); err != nil {
		return err
	}
	mutationsTotal.WithLabelValues(c.name, "vertex_add").Inc()
	return nil
}

// AddEdge validates the edge against the schema, creates missing endpoints,
// then writes the edge unless it already exists. A schema violation leaves
// the graph untouched.
func (c *Core) AddEdge(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := graph.CheckSchemaConstraints(src.Label, dst.Label, label); err != nil {
		return err
	}
	if err := c.AddVertex(ctx, src); err != nil {
		return err
	}
	if err := c.AddVertex(ctx, dst); err != nil {
		return err
	}
	exists, err := c.EdgeExists(ctx, src, dst, label)
	if err != nil {
		c.log.Debug("existence check failed, treating edge as absent", zap.Error(err))
	}
	if exists {
		return nil
	}
	defer observe(c.name, "add_edge", time.Now())
	if err := c.backend.CreateEdges(ctx, []graph.Edge{{Src: src.ID, Dst: dst.ID, Label: label}}); err != nil {
		return fmt.Errorf("%s: add edge: %w", c.name, err)
	}
	mutationsTotal.WithLabelValues(c.name, "edge_add").Inc()
	return nil
}

// createVertices allocates identifiers when the strategy requires it and
// writes vs. On failure, allocated identifiers are cleared so the vertices
// still read as unwritten.
func (c *Core) createVertices(ctx context.Context, vs []*graph.Vertex) error {
	var allocated []*graph.Vertex
	for _, v := range vs {
		if id, ok := c.ids.Allocate(); ok {
			v.ID = id
			allocated = append(allocated, v)
		} else {
			v.ID = 0
		}
	}
	if err := c.backend.CreateVertices(ctx, vs); err != nil {
		for _, v := range allocated {
			v.ID = 0
		}
		return fmt.Errorf("%s: create vertices: %w", c.name, err)
	}
	for _, v := range vs {
		if v.ID == 0 {
			return fmt.Errorf("%s: create vertices: no identifier returned for %s: %w",
				c.name, v.Label, graph.ErrTransactionFailure)
		}
	}
	return nil
}

// ---------- Bulk path ----------

// bulkVertexKey names an endpoint within one bulk transaction: stored vertices
// by identifier, vertices the transaction creates by pointer.
type bulkVertexKey struct {
	id  int64
	ptr *graph.Vertex
}

type edgeKey struct {
	src, dst bulkVertexKey
	label    graph.EdgeLabel
}

// edgeState is the net effect of a transaction's mutations on one edge.
type edgeState struct {
	add     delta.EdgeAdd
	present bool
	stored  bool
}

// bulkPlan is a ChangeSet after partitioning, deduplication and existence
// filtering.
type bulkPlan struct {
	vertices      []*graph.Vertex
	edges         []delta.EdgeAdd
	edgeDeletes   []graph.Edge
	vertexDeletes []int64
}

// BulkTransaction applies cs: reconcile the mutations in order, filter by
// existence, write vertices then edges in chunks, then apply deletes. The
// result matches applying cs one mutation at a time. Schema and
// existence-check errors abort before anything is written; a failing chunk
// aborts the rest without rolling back earlier chunks.
func (c *Core) BulkTransaction(ctx context.Context, cs *delta.ChangeSet) (err error) {
	if err := c.ready(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "driver.BulkTransaction", trace.WithAttributes(
		attribute.String("backend", c.name),
		attribute.Int("mutations", cs.Len()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer observe(c.name, "bulk_transaction", time.Now())

	plan, err := c.planBulk(ctx, cs)
	if err != nil {
		return err
	}
	if err := c.writeVertices(ctx, plan.vertices); err != nil {
		return err
	}
	if err := c.writeEdges(ctx, plan.edges); err != nil {
		return err
	}
	for _, e := range plan.edgeDeletes {
		if err := c.backend.DropEdge(ctx, e); err != nil {
			return fmt.Errorf("%s: bulk: delete edge: %w", c.name, err)
		}
	}
	for _, id := range plan.vertexDeletes {
		if err := c.backend.DropVertex(ctx, id); err != nil {
			return fmt.Errorf("%s: bulk: delete vertex %d: %w", c.name, id, err)
		}
	}
	mutationsTotal.WithLabelValues(c.name, "edge_delete").Add(float64(len(plan.edgeDeletes)))
	mutationsTotal.WithLabelValues(c.name, "vertex_delete").Add(float64(len(plan.vertexDeletes)))

	c.log.Debug("bulk transaction applied",
		zap.Int("vertices", len(plan.vertices)),
		zap.Int("edges", len(plan.edges)),
		zap.Int("edge_deletes", len(plan.edgeDeletes)),
		zap.Int("vertex_deletes", len(plan.vertexDeletes)),
	)
	return nil
}

func (c *Core) planBulk(ctx context.Context, cs *delta.ChangeSet) (*bulkPlan, error) {
	muts := cs.Build()
	for _, m := range muts {
		e, ok := m.(delta.EdgeAdd)
		if !ok {
			continue
		}
		if e.Src == nil || e.Dst == nil {
			return nil, fmt.Errorf("%s: bulk: edge %s has a nil endpoint: %w", c.name, e.Label, graph.ErrTransactionFailure)
		}
		if err := graph.CheckSchemaConstraints(e.Src.Label, e.Dst.Label, e.Label); err != nil {
			return nil, err
		}
	}

	p := &bulkPlanner{
		c:       c,
		plan:    &bulkPlan{},
		pending: make(map[*graph.Vertex]struct{}),
		dropped: make(map[int64]struct{}),
		edges:   make(map[edgeKey]*edgeState),
	}
	for _, m := range muts {
		var err error
		switch m := m.(type) {
		case delta.VertexAdd:
			err = p.addVertex(ctx, m.Vertex)
		case delta.EdgeAdd:
			err = p.addEdge(ctx, m)
		case delta.VertexDelete:
			err = p.deleteVertex(ctx, m.ID)
		case delta.EdgeDelete:
			err = p.deleteEdge(ctx, m)
		}
		if err != nil {
			return nil, err
		}
	}
	return p.finish(), nil
}

// bulkPlanner folds a ChangeSet into a bulkPlan. Vertex writes and deletes
// are decided as mutations arrive; edges keep only their net state, resolved
// in finish.
type bulkPlanner struct {
	c       *Core
	plan    *bulkPlan
	pending map[*graph.Vertex]struct{}
	dropped map[int64]struct{}
	edges   map[edgeKey]*edgeState
	order   []edgeKey
}

func (p *bulkPlanner) addVertex(ctx context.Context, v *graph.Vertex) error {
	if v == nil {
		return nil
	}
	if _, dup := p.pending[v]; dup {
		return nil
	}
	if _, gone := p.dropped[v.ID]; v.Written() && !gone {
		exists, err := p.c.backend.HasVertex(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("%s: bulk: vertex existence check: %w", p.c.name, err)
		}
		if exists {
			return nil
		}
	}
	p.pending[v] = struct{}{}
	p.plan.vertices = append(p.plan.vertices, v)
	return nil
}

// deleteVertex drops a stored vertex. Its edges go with it, so any edge
// state keyed by id is settled; a later add of the same vertex re-creates
// it under a new identifier.
func (p *bulkPlanner) deleteVertex(ctx context.Context, id int64) error {
	if id == 0 {
		return nil
	}
	if _, gone := p.dropped[id]; gone {
		return nil
	}
	p.dropped[id] = struct{}{}
	exists, err := p.c.backend.HasVertex(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: bulk: vertex existence check: %w", p.c.name, err)
	}
	if exists {
		p.plan.vertexDeletes = append(p.plan.vertexDeletes, id)
	}
	return nil
}

func (p *bulkPlanner) addEdge(ctx context.Context, e delta.EdgeAdd) error {
	if err := p.addVertex(ctx, e.Src); err != nil {
		return err
	}
	if err := p.addVertex(ctx, e.Dst); err != nil {
		return err
	}
	st, err := p.edge(ctx, e.Src, e.Dst, e.Label)
	if err != nil {
		return err
	}
	st.add, st.present = e, true
	return nil
}

func (p *bulkPlanner) deleteEdge(ctx context.Context, e delta.EdgeDelete) error {
	if e.Src == nil || e.Dst == nil {
		return nil
	}
	st, err := p.edge(ctx, e.Src, e.Dst, e.Label)
	if err != nil {
		return err
	}
	st.present = false
	return nil
}

func (p *bulkPlanner) key(v *graph.Vertex) bulkVertexKey {
	if _, ok := p.pending[v]; ok || !v.Written() {
		return bulkVertexKey{ptr: v}
	}
	return bulkVertexKey{id: v.ID}
}

// edge returns the state of src -[label]-> dst, checking the store the first
// time an edge between two stored vertices is seen.
func (p *bulkPlanner) edge(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) (*edgeState, error) {
	k := edgeKey{p.key(src), p.key(dst), label}
	if st, ok := p.edges[k]; ok {
		return st, nil
	}
	st := &edgeState{}
	if k.src.ptr == nil && k.dst.ptr == nil && !p.settled(k) {
		exists, err := p.c.backend.HasEdge(ctx, graph.Edge{Src: k.src.id, Dst: k.dst.id, Label: label})
		if err != nil {
			return nil, fmt.Errorf("%s: bulk: edge existence check: %w", p.c.name, err)
		}
		st.stored = exists
	}
	p.edges[k] = st
	p.order = append(p.order, k)
	return st, nil
}

// settled reports whether an endpoint of k is a stored vertex this
// transaction deletes.
func (p *bulkPlanner) settled(k edgeKey) bool {
	for _, v := range []bulkVertexKey{k.src, k.dst} {
		if v.ptr != nil {
			continue
		}
		if _, gone := p.dropped[v.id]; gone {
			return true
		}
	}
	return false
}

func (p *bulkPlanner) finish() *bulkPlan {
	for _, k := range p.order {
		st := p.edges[k]
		switch {
		case p.settled(k):
		case st.present && !st.stored:
			p.plan.edges = append(p.plan.edges, st.add)
		case !st.present && st.stored:
			p.plan.edgeDeletes = append(p.plan.edgeDeletes, graph.Edge{Src: k.src.id, Dst: k.dst.id, Label: k.label})
		}
	}
	return p.plan
}

func (c *Core) writeVertices(ctx context.Context, vs []*graph.Vertex) error {
	chunks := chunk(vs, c.chunkSize)
	for i, part := range chunks {
		if err := c.createVertices(ctx, part); err != nil {
			return fmt.Errorf("bulk: vertex chunk %d/%d: %w", i+1, len(chunks), err)
		}
		bulkChunksTotal.WithLabelValues(c.name, "vertex").Inc()
		mutationsTotal.WithLabelValues(c.name, "vertex_add").Add(float64(len(part)))
	}
	return nil
}

func (c *Core) writeEdges(ctx context.Context, adds []delta.EdgeAdd) error {
	es := make([]graph.Edge, 0, len(adds))
	for _, a := range adds {
		if !a.Src.Written() || !a.Dst.Written() {
			return fmt.Errorf("%s: bulk: edge %s has an unwritten endpoint: %w", c.name, a.Label, graph.ErrTransactionFailure)
		}
		es = append(es, graph.Edge{Src: a.Src.ID, Dst: a.Dst.ID, Label: a.Label})
	}
	// Group by source so each request touches as few distinct vertices as
	// possible.
	sort.SliceStable(es, func(i, j int) bool { return es[i].Src < es[j].Src })

	chunks := chunk(es, c.chunkSize)
	for i, part := range chunks {
		if err := c.backend.CreateEdges(ctx, part); err != nil {
			return fmt.Errorf("%s: bulk: edge chunk %d/%d: %w", c.name, i+1, len(chunks), err)
		}
		bulkChunksTotal.WithLabelValues(c.name, "edge").Inc()
		mutationsTotal.WithLabelValues(c.name, "edge_add").Add(float64(len(part)))
	}
	return nil
}

func chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// ---------- Read operations ----------

// GetWholeGraph returns every vertex and edge.
func (c *Core) GetWholeGraph(ctx context.Context) (*graph.Subgraph, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	defer observe(c.name, "whole_graph", time.Now())
	return c.backend.Scan(ctx)
}

// GetVertex returns the vertex with the label and FULL_NAME, or nil.
func (c *Core) GetVertex(ctx context.Context, label graph.VertexLabel, fullName string) (*graph.Vertex, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if fullName == "" {
		return nil, nil
	}
	defer observe(c.name, "get_vertex", time.Now())
	vs, err := c.backend.FindVertices(ctx, label, fullName)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, nil
	}
	sortByID(vs)
	return vs[0], nil
}

// GetVertices returns every vertex with the label, ordered by ID.
func (c *Core) GetVertices(ctx context.Context, label graph.VertexLabel) ([]*graph.Vertex, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	defer observe(c.name, "get_vertices", time.Now())
	vs, err := c.backend.FindVertices(ctx, label, "")
	if err != nil {
		return nil, err
	}
	sortByID(vs)
	return vs, nil
}

// GetMetaData returns the metadata singleton, or nil if none was written.
func (c *Core) GetMetaData(ctx context.Context) (*graph.Vertex, error) {
	vs, err := c.GetVertices(ctx, graph.LabelMetaData)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, nil
	}
	return vs[0], nil
}

// GetNeighbours returns v, every adjacent vertex, and the connecting edges.
func (c *Core) GetNeighbours(ctx context.Context, v *graph.Vertex) (*graph.Subgraph, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if !v.Written() {
		return graph.NewSubgraph(), nil
	}
	defer observe(c.name, "neighbours", time.Now())
	edges, err := c.backend.Edges(ctx, []int64{v.ID}, graph.DirectionBoth)
	if err != nil {
		return nil, err
	}
	ids := []int64{v.ID}
	for _, e := range edges {
		ids = append(ids, e.Src, e.Dst)
	}
	return c.subgraphOf(ctx, ids, edges)
}

// GetMethod returns the method's head, or its whole body when includeBody
// is set. An unknown method yields an empty subgraph.
func (c *Core) GetMethod(ctx context.Context, fullName string, includeBody bool) (*graph.Subgraph, error) {
	root, err := c.GetVertex(ctx, graph.LabelMethod, fullName)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return graph.NewSubgraph(), nil
	}
	defer observe(c.name, "get_method", time.Now())

	var ids []int64
	if includeBody {
		ids, err = c.subtree(ctx, root.ID, graph.EdgeAST)
		if err != nil {
			return nil, err
		}
	} else {
		ids, err = c.methodHead(ctx, root.ID)
		if err != nil {
			return nil, err
		}
	}
	ids = append(ids, root.ID)
	edges, err := c.backend.Edges(ctx, ids, graph.DirectionOut)
	if err != nil {
		return nil, err
	}
	return c.subgraphOf(ctx, ids, edges)
}

// methodHead returns the direct AST children of a method plus the LOCAL
// declarations of its top-level blocks.
func (c *Core) methodHead(ctx context.Context, root int64) ([]int64, error) {
	children, err := c.backend.Edges(ctx, []int64{root}, graph.DirectionOut, graph.EdgeAST)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, e := range children {
		ids = append(ids, e.Dst)
	}
	vs, err := c.backend.Vertices(ctx, ids)
	if err != nil {
		return nil, err
	}
	var blocks []int64
	for _, v := range vs {
		if v.Label == graph.LabelBlock {
			blocks = append(blocks, v.ID)
		}
	}
	if len(blocks) == 0 {
		return ids, nil
	}
	inner, err := c.backend.Edges(ctx, blocks, graph.DirectionOut, graph.EdgeAST)
	if err != nil {
		return nil, err
	}
	var innerIDs []int64
	for _, e := range inner {
		innerIDs = append(innerIDs, e.Dst)
	}
	locals, err := c.backend.Vertices(ctx, innerIDs)
	if err != nil {
		return nil, err
	}
	for _, v := range locals {
		if v.Label == graph.LabelLocal {
			ids = append(ids, v.ID)
		}
	}
	return ids, nil
}

// GetProgramStructure returns FILE, NAMESPACE_BLOCK and TYPE_DECL vertices
// and the edges among them.
func (c *Core) GetProgramStructure(ctx context.Context) (*graph.Subgraph, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	defer observe(c.name, "program_structure", time.Now())
	var ids []int64
	for _, label := range []graph.VertexLabel{graph.LabelFile, graph.LabelNamespaceBlock, graph.LabelTypeDecl} {
		vs, err := c.backend.FindVertices(ctx, label, "")
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			ids = append(ids, v.ID)
		}
	}
	edges, err := c.backend.Edges(ctx, ids, graph.DirectionOut)
	if err != nil {
		return nil, err
	}
	return c.subgraphOf(ctx, ids, edges)
}

// subgraphOf loads the vertices among ids and keeps the edges whose
// endpoints were both loaded.
func (c *Core) subgraphOf(ctx context.Context, ids []int64, edges []graph.Edge) (*graph.Subgraph, error) {
	vs, err := c.backend.Vertices(ctx, dedupIDs(ids))
	if err != nil {
		return nil, err
	}
	g := graph.NewSubgraph()
	for _, v := range vs {
		g.AddVertex(v)
	}
	for _, e := range edges {
		g.AddEdge(e)
	}
	g.SortEdges()
	return g, nil
}

// subtree returns every vertex reachable from root over label, excluding
// root. Backends that traverse natively are asked directly.
func (c *Core) subtree(ctx context.Context, root int64, label graph.EdgeLabel) ([]int64, error) {
	if t, ok := c.backend.(SubtreeTraverser); ok {
		return t.Subtree(ctx, root, label)
	}
	visited := map[int64]struct{}{root: {}}
	var out []int64
	frontier := []int64{root}
	for len(frontier) > 0 {
		edges, err := c.backend.Edges(ctx, frontier, graph.DirectionOut, label)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0:0]
		for _, e := range edges {
			if _, seen := visited[e.Dst]; seen {
				continue
			}
			visited[e.Dst] = struct{}{}
			out = append(out, e.Dst)
			frontier = append(frontier, e.Dst)
		}
	}
	return out, nil
}

// ---------- Delete operations ----------

// DeleteVertex removes a vertex and its edges; no-op if it is absent.
func (c *Core) DeleteVertex(ctx context.Context, id int64, label graph.VertexLabel) error {
	if err := c.ready(); err != nil {
		return err
	}
	exists, err := c.backend.HasVertex(ctx, id)
	if err != nil {
		c.log.Debug("existence check failed, treating vertex as absent", zap.Int64("id", id), zap.Error(err))
	}
	if !exists {
		return nil
	}
	defer observe(c.name, "delete_vertex", time.Now())
	if err := c.backend.DropVertex(ctx, id); err != nil {
		return fmt.Errorf("%s: delete %s %d: %w", c.name, label, id, err)
	}
	mutationsTotal.WithLabelValues(c.name, "vertex_delete").Inc()
	return nil
}

// DeleteEdge removes src -[label]-> dst; no-op if it is absent.
func (c *Core) DeleteEdge(ctx context.Context, src, dst *graph.Vertex, label graph.EdgeLabel) error {
	if err := c.ready(); err != nil {
		return err
	}
	exists, err := c.EdgeExists(ctx, src, dst, label)
	if err != nil {
		c.log.Debug("existence check failed, treating edge as absent", zap.Error(err))
	}
	if !exists {
		return nil
	}
	defer observe(c.name, "delete_edge", time.Now())
	if err := c.backend.DropEdge(ctx, graph.Edge{Src: src.ID, Dst: dst.ID, Label: label}); err != nil {
		return fmt.Errorf("%s: delete edge: %w", c.name, err)
	}
	mutationsTotal.WithLabelValues(c.name, "edge_delete").Inc()
	return nil
}

// DeleteMethod removes the method and everything reachable from it over
// AST edges. Deleting an absent method is a no-op.
func (c *Core) DeleteMethod(ctx context.Context, fullName string) error {
	return c.deleteTree(ctx, graph.LabelMethod, fullName)
}

// DeleteTypeDecl removes the type declaration and its AST closure,
// including its members and methods.
func (c *Core) DeleteTypeDecl(ctx context.Context, fullName string) error {
	return c.deleteTree(ctx, graph.LabelTypeDecl, fullName)
}

func (c *Core) deleteTree(ctx context.Context, label graph.VertexLabel, fullName string) error {
	if err := c.ready(); err != nil {
		return err
	}
	roots, err := c.backend.FindVertices(ctx, label, fullName)
	if err != nil {
		return fmt.Errorf("%s: delete %s %s: %w", c.name, label, fullName, err)
	}
	defer observe(c.name, "delete_tree", time.Now())
	for _, root := range roots {
		ids, err := c.subtree(ctx, root.ID, graph.EdgeAST)
		if err != nil {
			return fmt.Errorf("%s: delete %s %s: traverse: %w", c.name, label, fullName, err)
		}
		ids = append(ids, root.ID)
		// Children first, so a failure never leaves an orphaned subtree
		// without its root.
		for i := len(ids) - 1; i >= 0; i-- {
			if err := c.backend.DropVertex(ctx, ids[i]); err != nil {
				return fmt.Errorf("%s: delete %s %s: %w", c.name, label, fullName, err)
			}
		}
		mutationsTotal.WithLabelValues(c.name, "vertex_delete").Add(float64(len(ids)))
		c.log.Debug("deleted subtree",
			zap.String("label", string(label)),
			zap.String("full_name", fullName),
			zap.Int("vertices", len(ids)),
		)
	}
	return nil
}

// ---------- Property patch and clear ----------

// UpdateVertexProperty sets key on the vertex; no-op if it is absent.
func (c *Core) UpdateVertexProperty(ctx context.Context, id int64, label graph.VertexLabel, key string, value graph.PropValue) error {
	if err := c.ready(); err != nil {
		return err
	}
	exists, err := c.backend.HasVertex(ctx, id)
	if err != nil {
		c.log.Debug("existence check failed, treating vertex as absent", zap.Int64("id", id), zap.Error(err))
	}
	if !exists {
		return nil
	}
	defer observe(c.name, "update_property", time.Now())
	if err := c.backend.SetProperty(ctx, id, key, value); err != nil {
		return fmt.Errorf("%s: update %s %d %s: %w", c.name, label, id, key, err)
	}
	return nil
}

// ClearGraph removes every vertex and edge.
func (c *Core) ClearGraph(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	defer observe(c.name, "clear", time.Now())
	if err := c.backend.Truncate(ctx); err != nil {
		return fmt.Errorf("%s: clear: %w", c.name, err)
	}
	return nil
}

// ---------- Helpers ----------

func sortByID(vs []*graph.Vertex) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
}

func dedupIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
