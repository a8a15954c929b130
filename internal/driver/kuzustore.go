//go:build cgo

package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dusk-indust/cpgraph/internal/graph"
	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuBackend implements Backend using KuzuDB. It requires CGO because the
// go-kuzu driver wraps KuzuDB's C library.
//
// Every vertex lives in one node table keyed by a SERIAL column. SERIAL
// starts at 0, so identifiers handed out are the serial value plus one.
type KuzuBackend struct {
	path string

	mu   sync.Mutex // serializes use of conn, including manual transactions
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuBackend satisfies Backend.
var _ Backend = (*KuzuBackend)(nil)

// NewKuzuBackend returns an unopened backend. An empty path opens an
// in-memory database.
func NewKuzuBackend(path string) *KuzuBackend {
	return &KuzuBackend{path: path}
}

func newKuzuBackend(path string) (Backend, error) {
	return NewKuzuBackend(path), nil
}

// Open creates the database, connection and schema.
func (s *KuzuBackend) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	dbPath := ":memory:"
	if s.path != "" {
		// KuzuDB creates the leaf directory itself.
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("kuzu: create parent directory: %w", err)
		}
		dbPath = s.path
	}
	db, err := kuzu.OpenDatabase(dbPath, kuzu.DefaultSystemConfig())
	if err != nil {
		return fmt.Errorf("kuzu: open database: %w: %w", graph.ErrBackendUnavailable, err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return fmt.Errorf("kuzu: open connection: %w", err)
	}
	s.db, s.conn = db, conn
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements defines the Cypher DDL executed by Open.
// Order matters: node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Vertex(
		id SERIAL,
		label STRING,
		full_name STRING,
		props STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS Edge(FROM Vertex TO Vertex, label STRING)`,
}

// ---------- Write operations ----------

// CreateVertices inserts vs inside one transaction and reads back the
// assigned identifiers.
func (s *KuzuBackend) CreateVertices(_ context.Context, vs []*graph.Vertex) error {
	for _, v := range vs {
		if v.ID != 0 {
			return fmt.Errorf("kuzu: vertex %d: preassigned identifiers are not supported: %w", v.ID, graph.ErrTransactionFailure)
		}
	}
	ids := make([]int64, len(vs))
	err := s.inTx(func() error {
		for i, v := range vs {
			blob, err := graph.MarshalProps(v.Props)
			if err != nil {
				return fmt.Errorf("kuzu: encode props: %w", err)
			}
			rows, err := s.query(
				"CREATE (v:Vertex {label: $label, full_name: $fn, props: $props}) RETURN v.id",
				map[string]any{
					"label": string(v.Label),
					"fn":    v.FullName(),
					"props": string(blob),
				},
			)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("kuzu: create returned no id: %w", graph.ErrTransactionFailure)
			}
			ids[i] = fromZeroBased(toInt64(rows[0][0]))
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

// CreateEdges inserts es inside one transaction.
func (s *KuzuBackend) CreateEdges(_ context.Context, es []graph.Edge) error {
	return s.inTx(func() error {
		for _, e := range es {
			rows, err := s.query(
				`MATCH (a:Vertex), (b:Vertex) WHERE a.id = $src AND b.id = $dst
				 CREATE (a)-[:Edge {label: $label}]->(b) RETURN a.id`,
				map[string]any{
					"src":   toZeroBased(e.Src),
					"dst":   toZeroBased(e.Dst),
					"label": string(e.Label),
				},
			)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("kuzu: edge %d -[%s]-> %d: endpoint missing: %w", e.Src, e.Label, e.Dst, graph.ErrTransactionFailure)
			}
		}
		return nil
	})
}

func (s *KuzuBackend) DropVertex(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec("MATCH (v:Vertex) WHERE v.id = $id DETACH DELETE v", map[string]any{"id": toZeroBased(id)})
}

func (s *KuzuBackend) DropEdge(_ context.Context, e graph.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(
		`MATCH (a:Vertex)-[r:Edge]->(b:Vertex)
		 WHERE a.id = $src AND b.id = $dst AND r.label = $label DELETE r`,
		map[string]any{"src": toZeroBased(e.Src), "dst": toZeroBased(e.Dst), "label": string(e.Label)},
	)
}

// SetProperty rewrites the property blob, keeping full_name in sync.
func (s *KuzuBackend) SetProperty(ctx context.Context, id int64, key string, value graph.PropValue) error {
	vs, err := s.Vertices(ctx, []int64{id})
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
		return fmt.Errorf("kuzu: encode props: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(
		"MATCH (v:Vertex) WHERE v.id = $id SET v.props = $props, v.full_name = $fn",
		map[string]any{"id": toZeroBased(id), "props": string(blob), "fn": v.FullName()},
	)
}

// Truncate removes every vertex and, with them, every edge.
func (s *KuzuBackend) Truncate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec("MATCH (v:Vertex) DETACH DELETE v", nil)
}

// ---------- Read operations ----------

func (s *KuzuBackend) HasVertex(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query("MATCH (v:Vertex) WHERE v.id = $id RETURN v.id", map[string]any{"id": toZeroBased(id)})
	return len(rows) > 0, err
}

func (s *KuzuBackend) HasEdge(_ context.Context, e graph.Edge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(
		`MATCH (a:Vertex)-[r:Edge]->(b:Vertex)
		 WHERE a.id = $src AND b.id = $dst AND r.label = $label RETURN count(r)`,
		map[string]any{"src": toZeroBased(e.Src), "dst": toZeroBased(e.Dst), "label": string(e.Label)},
	)
	if err != nil {
		return false, err
	}
	return len(rows) > 0 && toInt64(rows[0][0]) > 0, nil
}

func (s *KuzuBackend) Vertices(_ context.Context, ids []int64) ([]*graph.Vertex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*graph.Vertex, 0, len(ids))
	for _, id := range ids {
		rows, err := s.query(
			"MATCH (v:Vertex) WHERE v.id = $id RETURN v.id, v.label, v.props",
			map[string]any{"id": toZeroBased(id)},
		)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			v, err := rowToVertex(r)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *KuzuBackend) FindVertices(_ context.Context, label graph.VertexLabel, fullName string) ([]*graph.Vertex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cypher := "MATCH (v:Vertex) WHERE v.label = $label RETURN v.id, v.label, v.props"
	params := map[string]any{"label": string(label)}
	if fullName != "" {
		cypher = "MATCH (v:Vertex) WHERE v.label = $label AND v.full_name = $fn RETURN v.id, v.label, v.props"
		params["fn"] = fullName
	}
	rows, err := s.query(cypher, params)
	if err != nil {
		return nil, err
	}
	return rowsToVertices(rows)
}

func (s *KuzuBackend) Edges(_ context.Context, ids []int64, dir graph.Direction, labels ...graph.EdgeLabel) ([]graph.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := labelFilter(labels)
	var cyphers []string
	if dir == graph.DirectionOut || dir == graph.DirectionBoth {
		cyphers = append(cyphers, "MATCH (a:Vertex)-[r:Edge]->(b:Vertex) WHERE a.id = $id RETURN a.id, b.id, r.label")
	}
	if dir == graph.DirectionIn || dir == graph.DirectionBoth {
		cyphers = append(cyphers, "MATCH (a:Vertex)-[r:Edge]->(b:Vertex) WHERE b.id = $id RETURN a.id, b.id, r.label")
	}
	seen := make(map[graph.Edge]struct{})
	var out []graph.Edge
	for _, id := range ids {
		for _, cypher := range cyphers {
			rows, err := s.query(cypher, map[string]any{"id": toZeroBased(id)})
			if err != nil {
				return nil, err
			}
			for _, r := range rows {
				e := rowToEdge(r)
				if !keep(e.Label) {
					continue
				}
				if _, dup := seen[e]; dup {
					continue
				}
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *KuzuBackend) Scan(_ context.Context) (*graph.Subgraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query("MATCH (v:Vertex) RETURN v.id, v.label, v.props", nil)
	if err != nil {
		return nil, err
	}
	vs, err := rowsToVertices(rows)
	if err != nil {
		return nil, err
	}
	g := graph.NewSubgraph()
	for _, v := range vs {
		g.AddVertex(v)
	}
	rows, err = s.query("MATCH (a:Vertex)-[r:Edge]->(b:Vertex) RETURN a.id, b.id, r.label", nil)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		g.AddEdge(rowToEdge(r))
	}
	g.SortEdges()
	return g, nil
}

func (s *KuzuBackend) MaxVertexID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query("MATCH (v:Vertex) RETURN max(v.id)", nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 || rows[0][0] == nil {
		return 0, nil
	}
	return fromZeroBased(toInt64(rows[0][0])), nil
}

// ---------- Internal helpers ----------

// inTx runs fn inside a manual transaction, rolling back on error.
func (s *KuzuBackend) inTx(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("kuzu: %w", graph.ErrNotConnected)
	}
	if err := s.exec("BEGIN TRANSACTION", nil); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rbErr := s.exec("ROLLBACK", nil); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return fmt.Errorf("%w: %w", graph.ErrTransactionFailure, err)
	}
	return s.exec("COMMIT", nil)
}

// exec runs a Cypher statement that produces no result rows. The caller
// holds s.mu.
func (s *KuzuBackend) exec(cypher string, params map[string]any) error {
	_, err := s.query(cypher, params)
	return err
}

// query runs a Cypher statement and collects all result rows. Each row is a
// []any slice with values in column order. The caller holds s.mu.
func (s *KuzuBackend) query(cypher string, params map[string]any) ([][]any, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("kuzu: %w", graph.ErrNotConnected)
	}
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// rowToVertex converts an (id, label, props) row.
func rowToVertex(r []any) (*graph.Vertex, error) {
	props, err := graph.UnmarshalProps([]byte(toString(r[2])))
	if err != nil {
		return nil, fmt.Errorf("kuzu: decode props: %w", err)
	}
	return &graph.Vertex{
		ID:    fromZeroBased(toInt64(r[0])),
		Label: graph.VertexLabel(toString(r[1])),
		Props: props,
	}, nil
}

func rowsToVertices(rows [][]any) ([]*graph.Vertex, error) {
	out := make([]*graph.Vertex, 0, len(rows))
	for _, r := range rows {
		v, err := rowToVertex(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// rowToEdge converts a (src, dst, label) row.
func rowToEdge(r []any) graph.Edge {
	return graph.Edge{
		Src:   fromZeroBased(toInt64(r[0])),
		Dst:   fromZeroBased(toInt64(r[1])),
		Label: graph.EdgeLabel(toString(r[2])),
	}
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, uint64, string). These helpers
// coerce any -> concrete type.

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
