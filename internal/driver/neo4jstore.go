package driver

import (
	"context"
	"fmt"
	"sort"

	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Compile-time checks that Neo4jBackend satisfies Backend and traverses
// subtrees natively.
var (
	_ Backend          = (*Neo4jBackend)(nil)
	_ SubtreeTraverser = (*Neo4jBackend)(nil)
)

// cpgLabel tags every node written by the backend so scans and truncation
// never touch foreign data in a shared database.
const cpgLabel = "CPG"

// Neo4jOptions configures a Neo4jBackend.
type Neo4jOptions struct {
	URI      string
	Username string
	Password string
	Database string // empty selects the server default
	Logger   *zap.Logger
}

// Neo4jBackend stores the graph in a Bolt-speaking server. Nodes carry the
// CPG label plus their vertex label; properties are stored natively.
// Identifiers are the server's id(n) shifted by one.
type Neo4jBackend struct {
	opts   Neo4jOptions
	driver neo4j.DriverWithContext
	log    *zap.Logger
}

// NewNeo4jBackend returns an unopened backend.
func NewNeo4jBackend(opts Neo4jOptions) *Neo4jBackend {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Neo4jBackend{opts: opts, log: log.Named("neo4j")}
}

// Open creates the driver and verifies connectivity.
func (n *Neo4jBackend) Open(ctx context.Context) error {
	if n.driver != nil {
		return nil
	}
	auth := neo4j.NoAuth()
	if n.opts.Username != "" {
		auth = neo4j.BasicAuth(n.opts.Username, n.opts.Password, "")
	}
	d, err := neo4j.NewDriverWithContext(n.opts.URI, auth)
	if err != nil {
		return fmt.Errorf("neo4j: create driver: %w", err)
	}
	if err := d.VerifyConnectivity(ctx); err != nil {
		_ = d.Close(ctx)
		return fmt.Errorf("neo4j: verify connectivity: %w: %w", graph.ErrBackendUnavailable, err)
	}
	n.driver = d
	return nil
}

// Close closes the driver and its connection pool.
func (n *Neo4jBackend) Close() error {
	if n.driver == nil {
		return nil
	}
	err := n.driver.Close(context.Background())
	n.driver = nil
	return err
}

// ---------- Cypher helpers ----------

func (n *Neo4jBackend) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	if n.driver == nil {
		return nil, fmt.Errorf("neo4j: %w", graph.ErrNotConnected)
	}
	res, err := neo4j.ExecuteQuery(ctx, n.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.opts.Database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j: query: %w", err)
	}
	return res.Records, nil
}

// write runs fn in one managed write transaction.
func (n *Neo4jBackend) write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) error) error {
	if n.driver == nil {
		return fmt.Errorf("neo4j: %w", graph.ErrNotConnected)
	}
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: n.opts.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	if err != nil {
		return fmt.Errorf("neo4j: write: %w: %w", graph.ErrTransactionFailure, err)
	}
	return nil
}

func runCollect(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

func recordInt(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	n, _ := v.(int64)
	return n
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

// checkVertexLabel guards label interpolation into Cypher text.
func checkVertexLabel(l graph.VertexLabel) error {
	if !l.Valid() {
		return fmt.Errorf("neo4j: unknown vertex label %q: %w", l, graph.ErrTransactionFailure)
	}
	return nil
}

func checkEdgeLabel(l graph.EdgeLabel) error {
	for _, known := range graph.AllEdgeLabels {
		if l == known {
			return nil
		}
	}
	return fmt.Errorf("neo4j: unknown edge label %q: %w", l, graph.ErrTransactionFailure)
}

func shiftIDs(ids []int64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = toZeroBased(id)
	}
	return out
}

// recordVertex decodes a row with id, labels and props columns.
func recordVertex(rec *neo4j.Record) (*graph.Vertex, error) {
	id := recordInt(rec, "id")
	var label graph.VertexLabel
	if raw, ok := rec.Get("labels"); ok {
		if ls, ok := raw.([]any); ok {
			for _, l := range ls {
				if s, _ := l.(string); s != cpgLabel && s != "" {
					label = graph.VertexLabel(s)
				}
			}
		}
	}
	raw, _ := rec.Get("props")
	native, _ := raw.(map[string]any)
	props, err := graph.PropsFromNative(native)
	if err != nil {
		return nil, fmt.Errorf("neo4j: vertex %d: %w", id, err)
	}
	return &graph.Vertex{ID: fromZeroBased(id), Label: label, Props: props}, nil
}

func recordsToVertices(recs []*neo4j.Record) ([]*graph.Vertex, error) {
	out := make([]*graph.Vertex, 0, len(recs))
	for _, rec := range recs {
		v, err := recordVertex(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func recordEdge(rec *neo4j.Record) graph.Edge {
	return graph.Edge{
		Src:   fromZeroBased(recordInt(rec, "src")),
		Dst:   fromZeroBased(recordInt(rec, "dst")),
		Label: graph.EdgeLabel(recordString(rec, "label")),
	}
}

const vertexColumns = "id(n) AS id, labels(n) AS labels, properties(n) AS props"

// ---------- Backend ----------

func (n *Neo4jBackend) HasVertex(ctx context.Context, id int64) (bool, error) {
	recs, err := n.read(ctx, "MATCH (n:CPG) WHERE id(n) = $id RETURN count(n) AS c",
		map[string]any{"id": toZeroBased(id)})
	if err != nil {
		return false, err
	}
	return len(recs) > 0 && recordInt(recs[0], "c") > 0, nil
}

func (n *Neo4jBackend) HasEdge(ctx context.Context, e graph.Edge) (bool, error) {
	recs, err := n.read(ctx,
		`MATCH (a:CPG)-[r]->(b:CPG)
		 WHERE id(a) = $src AND id(b) = $dst AND type(r) = $label
		 RETURN count(r) AS c`,
		map[string]any{"src": toZeroBased(e.Src), "dst": toZeroBased(e.Dst), "label": string(e.Label)})
	if err != nil {
		return false, err
	}
	return len(recs) > 0 && recordInt(recs[0], "c") > 0, nil
}

// CreateVertices writes vs in one transaction, one UNWIND per label, and
// reads back id(n) by row index.
func (n *Neo4jBackend) CreateVertices(ctx context.Context, vs []*graph.Vertex) error {
	byLabel := make(map[graph.VertexLabel][]int)
	for i, v := range vs {
		if v.ID != 0 {
			return fmt.Errorf("neo4j: vertex %d: preassigned identifiers are not supported: %w", v.ID, graph.ErrTransactionFailure)
		}
		if err := checkVertexLabel(v.Label); err != nil {
			return err
		}
		byLabel[v.Label] = append(byLabel[v.Label], i)
	}
	ids := make([]int64, len(vs))
	err := n.write(ctx, func(tx neo4j.ManagedTransaction) error {
		for label, idx := range byLabel {
			rows := make([]any, len(idx))
			for j, i := range idx {
				rows[j] = vs[i].Props.NativeMap()
			}
			cypher := fmt.Sprintf(
				`UNWIND range(0, size($rows) - 1) AS i
				 CREATE (n:%s:%s)
				 SET n = $rows[i]
				 RETURN i, id(n) AS id`, cpgLabel, label)
			recs, err := runCollect(ctx, tx, cypher, map[string]any{"rows": rows})
			if err != nil {
				return err
			}
			if len(recs) != len(idx) {
				return fmt.Errorf("created %d of %d %s vertices", len(recs), len(idx), label)
			}
			for _, rec := range recs {
				ids[idx[recordInt(rec, "i")]] = fromZeroBased(recordInt(rec, "id"))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, v := range vs {
		v.ID = ids[i]
	}
	return nil
}

// CreateEdges writes es in one transaction, one UNWIND per edge label.
func (n *Neo4jBackend) CreateEdges(ctx context.Context, es []graph.Edge) error {
	byLabel := make(map[graph.EdgeLabel][]any)
	for _, e := range es {
		if err := checkEdgeLabel(e.Label); err != nil {
			return err
		}
		byLabel[e.Label] = append(byLabel[e.Label], map[string]any{
			"src": toZeroBased(e.Src),
			"dst": toZeroBased(e.Dst),
		})
	}
	return n.write(ctx, func(tx neo4j.ManagedTransaction) error {
		for label, rows := range byLabel {
			cypher := fmt.Sprintf(
				`UNWIND $rows AS row
				 MATCH (a:CPG), (b:CPG) WHERE id(a) = row.src AND id(b) = row.dst
				 CREATE (a)-[:%s]->(b)
				 RETURN count(*) AS c`, label)
			recs, err := runCollect(ctx, tx, cypher, map[string]any{"rows": rows})
			if err != nil {
				return err
			}
			if len(recs) == 0 || recordInt(recs[0], "c") != int64(len(rows)) {
				return fmt.Errorf("%s edge endpoint missing", label)
			}
		}
		return nil
	})
}

func (n *Neo4jBackend) DropVertex(ctx context.Context, id int64) error {
	return n.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := runCollect(ctx, tx, "MATCH (n:CPG) WHERE id(n) = $id DETACH DELETE n",
			map[string]any{"id": toZeroBased(id)})
		return err
	})
}

func (n *Neo4jBackend) DropEdge(ctx context.Context, e graph.Edge) error {
	return n.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := runCollect(ctx, tx,
			`MATCH (a:CPG)-[r]->(b:CPG)
			 WHERE id(a) = $src AND id(b) = $dst AND type(r) = $label
			 DELETE r`,
			map[string]any{"src": toZeroBased(e.Src), "dst": toZeroBased(e.Dst), "label": string(e.Label)})
		return err
	})
}

// SetProperty merges one key; a None value removes it.
func (n *Neo4jBackend) SetProperty(ctx context.Context, id int64, key string, value graph.PropValue) error {
	return n.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := runCollect(ctx, tx, "MATCH (n:CPG) WHERE id(n) = $id SET n += $patch",
			map[string]any{"id": toZeroBased(id), "patch": map[string]any{key: value.Native()}})
		return err
	})
}

func (n *Neo4jBackend) Vertices(ctx context.Context, ids []int64) ([]*graph.Vertex, error) {
	recs, err := n.read(ctx, "MATCH (n:CPG) WHERE id(n) IN $ids RETURN "+vertexColumns,
		map[string]any{"ids": shiftIDs(ids)})
	if err != nil {
		return nil, err
	}
	return recordsToVertices(recs)
}

func (n *Neo4jBackend) FindVertices(ctx context.Context, label graph.VertexLabel, fullName string) ([]*graph.Vertex, error) {
	if err := checkVertexLabel(label); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf("MATCH (n:%s:%s) RETURN %s", cpgLabel, label, vertexColumns)
	params := map[string]any{}
	if fullName != "" {
		cypher = fmt.Sprintf("MATCH (n:%s:%s) WHERE n.%s = $fn RETURN %s", cpgLabel, label, graph.PropFullName, vertexColumns)
		params["fn"] = fullName
	}
	recs, err := n.read(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return recordsToVertices(recs)
}

func (n *Neo4jBackend) Edges(ctx context.Context, ids []int64, dir graph.Direction, labels ...graph.EdgeLabel) ([]graph.Edge, error) {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = string(l)
	}
	params := map[string]any{"ids": shiftIDs(ids), "labels": names}
	var clauses []string
	if dir == graph.DirectionOut || dir == graph.DirectionBoth {
		clauses = append(clauses, "id(a) IN $ids")
	}
	if dir == graph.DirectionIn || dir == graph.DirectionBoth {
		clauses = append(clauses, "id(b) IN $ids")
	}
	seen := make(map[graph.Edge]struct{})
	var out []graph.Edge
	for _, where := range clauses {
		recs, err := n.read(ctx,
			`MATCH (a:CPG)-[r]->(b:CPG)
			 WHERE `+where+` AND (size($labels) = 0 OR type(r) IN $labels)
			 RETURN id(a) AS src, id(b) AS dst, type(r) AS label`, params)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			e := recordEdge(rec)
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out, nil
}

// Subtree expands root over label with a variable-length match.
func (n *Neo4jBackend) Subtree(ctx context.Context, root int64, label graph.EdgeLabel) ([]int64, error) {
	if err := checkEdgeLabel(label); err != nil {
		return nil, err
	}
	recs, err := n.read(ctx, fmt.Sprintf(
		`MATCH (r:CPG)-[:%s*1..]->(c:CPG) WHERE id(r) = $id
		 RETURN DISTINCT id(c) AS id`, label),
		map[string]any{"id": toZeroBased(root)})
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(recs))
	for _, rec := range recs {
		if id := fromZeroBased(recordInt(rec, "id")); id != root {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (n *Neo4jBackend) Scan(ctx context.Context) (*graph.Subgraph, error) {
	recs, err := n.read(ctx, "MATCH (n:CPG) RETURN "+vertexColumns, nil)
	if err != nil {
		return nil, err
	}
	vs, err := recordsToVertices(recs)
	if err != nil {
		return nil, err
	}
	g := graph.NewSubgraph()
	for _, v := range vs {
		g.AddVertex(v)
	}
	recs, err = n.read(ctx,
		"MATCH (a:CPG)-[r]->(b:CPG) RETURN id(a) AS src, id(b) AS dst, type(r) AS label", nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		g.AddEdge(recordEdge(rec))
	}
	g.SortEdges()
	return g, nil
}

func (n *Neo4jBackend) MaxVertexID(ctx context.Context) (int64, error) {
	recs, err := n.read(ctx, "MATCH (n:CPG) RETURN max(id(n)) AS m", nil)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	if raw, _ := recs[0].Get("m"); raw == nil {
		return 0, nil
	}
	return fromZeroBased(recordInt(recs[0], "m")), nil
}

func (n *Neo4jBackend) Truncate(ctx context.Context) error {
	return n.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := runCollect(ctx, tx, "MATCH (n:CPG) DETACH DELETE n", nil)
		return err
	})
}
