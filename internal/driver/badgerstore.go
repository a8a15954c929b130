package driver

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"go.uber.org/zap"
)

// Compile-time assertion: *BadgerBackend satisfies Backend.
var _ Backend = (*BadgerBackend)(nil)

// Key layout. Identifiers are 8-byte big-endian so prefix scans come back in
// identifier order.
//
//	v:<id>                            vertex record (JSON)
//	o:<src><label>\x00<dst>           outgoing edge
//	i:<dst><label>\x00<src>           incoming edge
//	n:<label>\x00<full_name>\x00<id>  FULL_NAME index
//	l:<label>\x00<id>                 label index
//	s:vertex                          identifier sequence
var (
	prefixVertex = []byte("v:")
	prefixOut    = []byte("o:")
	prefixIn     = []byte("i:")
	prefixName   = []byte("n:")
	prefixLabel  = []byte("l:")
	keySequence  = []byte("s:vertex")
)

const sequenceBandwidth = 100

// BadgerOptions configures a BadgerBackend.
type BadgerOptions struct {
	// Path is the database directory. Empty opens an in-memory database.
	Path string

	// SyncWrites enables synchronous writes. Ignored in memory.
	SyncWrites bool

	Logger *zap.Logger
}

// BadgerBackend stores the graph in an embedded BadgerDB key-value store.
// Identifiers come from a badger sequence and survive restarts.
type BadgerBackend struct {
	opts BadgerOptions
	log  *zap.Logger

	mu  sync.Mutex // guards db and seq across Open/Close
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerBackend returns an unopened backend.
func NewBadgerBackend(opts BadgerOptions) *BadgerBackend {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &BadgerBackend{opts: opts, log: log}
}

// badgerLogger adapts zap to badger's Logger interface.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.s.Debugf(format, args...) }

// Open opens the database and leases the identifier sequence.
func (b *BadgerBackend) Open(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}

	var opts badger.Options
	if b.opts.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(b.opts.Path, 0o750); err != nil {
			return fmt.Errorf("badger: create directory %s: %w", b.opts.Path, err)
		}
		opts = badger.DefaultOptions(b.opts.Path).WithSyncWrites(b.opts.SyncWrites)
	}
	opts = opts.WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{s: b.log.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("badger: open: %w: %w", graph.ErrBackendUnavailable, err)
	}
	seq, err := db.GetSequence(keySequence, sequenceBandwidth)
	if err != nil {
		db.Close()
		return fmt.Errorf("badger: lease sequence: %w", err)
	}
	b.db, b.seq = db, seq
	return nil
}

// Close releases the unused part of the sequence lease and closes the
// database. Closing an unopened backend is a no-op.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	var errs []error
	if err := b.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("badger: release sequence: %w", err))
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("badger: close: %w", err))
	}
	b.db, b.seq = nil, nil
	return errors.Join(errs...)
}

// ---------- Keys ----------

func putID(buf []byte, id int64) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

func readID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func vertexKey(id int64) []byte {
	return putID(append([]byte{}, prefixVertex...), id)
}

func outKey(e graph.Edge) []byte {
	k := putID(append([]byte{}, prefixOut...), e.Src)
	k = append(k, string(e.Label)...)
	k = append(k, 0)
	return putID(k, e.Dst)
}

func inKey(e graph.Edge) []byte {
	k := putID(append([]byte{}, prefixIn...), e.Dst)
	k = append(k, string(e.Label)...)
	k = append(k, 0)
	return putID(k, e.Src)
}

// edgeFromKey decodes an o: or i: key.
func edgeFromKey(k []byte) (graph.Edge, error) {
	if len(k) < len(prefixOut)+8+1+8 {
		return graph.Edge{}, fmt.Errorf("badger: short edge key %q", k)
	}
	near := readID(k[2:10])
	rest := k[10:]
	sep := bytes.IndexByte(rest, 0)
	if sep < 0 || len(rest) != sep+1+8 {
		return graph.Edge{}, fmt.Errorf("badger: malformed edge key %q", k)
	}
	label := graph.EdgeLabel(rest[:sep])
	far := readID(rest[sep+1:])
	if bytes.HasPrefix(k, prefixOut) {
		return graph.Edge{Src: near, Dst: far, Label: label}, nil
	}
	return graph.Edge{Src: far, Dst: near, Label: label}, nil
}

func namePrefix(label graph.VertexLabel, fullName string) []byte {
	k := append([]byte{}, prefixName...)
	k = append(k, string(label)...)
	k = append(k, 0)
	k = append(k, fullName...)
	return append(k, 0)
}

func labelPrefix(label graph.VertexLabel) []byte {
	k := append([]byte{}, prefixLabel...)
	k = append(k, string(label)...)
	return append(k, 0)
}

func adjacencyPrefix(prefix []byte, id int64, label graph.EdgeLabel) []byte {
	k := putID(append([]byte{}, prefix...), id)
	if label != "" {
		k = append(k, string(label)...)
		k = append(k, 0)
	}
	return k
}

// ---------- Transaction helpers ----------

func (b *BadgerBackend) handle() (*badger.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, fmt.Errorf("badger: %w", graph.ErrNotConnected)
	}
	return b.db, nil
}

func (b *BadgerBackend) view(fn func(txn *badger.Txn) error) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	return db.View(fn)
}

func (b *BadgerBackend) update(fn func(txn *badger.Txn) error) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if err := db.Update(fn); err != nil {
		return fmt.Errorf("badger: %w: %w", graph.ErrTransactionFailure, err)
	}
	return nil
}

func getVertex(txn *badger.Txn, id int64) (*graph.Vertex, error) {
	item, err := txn.Get(vertexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v graph.Vertex
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	})
	if err != nil {
		return nil, fmt.Errorf("badger: decode vertex %d: %w", id, err)
	}
	if v.Props == nil {
		v.Props = graph.Props{}
	}
	return &v, nil
}

func putVertex(txn *badger.Txn, v *graph.Vertex) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("badger: encode vertex %d: %w", v.ID, err)
	}
	if err := txn.Set(vertexKey(v.ID), data); err != nil {
		return err
	}
	if err := txn.Set(putID(labelPrefix(v.Label), v.ID), nil); err != nil {
		return err
	}
	if name := v.FullName(); name != "" {
		return txn.Set(putID(namePrefix(v.Label, name), v.ID), nil)
	}
	return nil
}

func keyExists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// keysWithPrefix returns copies of every key under prefix.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// ---------- Backend ----------

func (b *BadgerBackend) HasVertex(_ context.Context, id int64) (bool, error) {
	var ok bool
	err := b.view(func(txn *badger.Txn) error {
		var err error
		ok, err = keyExists(txn, vertexKey(id))
		return err
	})
	return ok, err
}

func (b *BadgerBackend) HasEdge(_ context.Context, e graph.Edge) (bool, error) {
	var ok bool
	err := b.view(func(txn *badger.Txn) error {
		var err error
		ok, err = keyExists(txn, outKey(e))
		return err
	})
	return ok, err
}

// CreateVertices writes vs in one transaction. Identifiers assigned here are
// cleared again if the transaction fails.
func (b *BadgerBackend) CreateVertices(_ context.Context, vs []*graph.Vertex) error {
	if _, err := b.handle(); err != nil {
		return err
	}
	var assigned []*graph.Vertex
	for _, v := range vs {
		if v.ID != 0 {
			continue
		}
		n, err := b.seq.Next()
		if err != nil {
			return fmt.Errorf("badger: next id: %w", err)
		}
		v.ID = int64(n) + 1
		assigned = append(assigned, v)
	}
	err := b.update(func(txn *badger.Txn) error {
		for _, v := range vs {
			if err := putVertex(txn, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, v := range assigned {
			v.ID = 0
		}
		return err
	}
	return nil
}

func (b *BadgerBackend) CreateEdges(_ context.Context, es []graph.Edge) error {
	return b.update(func(txn *badger.Txn) error {
		for _, e := range es {
			for _, id := range []int64{e.Src, e.Dst} {
				ok, err := keyExists(txn, vertexKey(id))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("edge endpoint %d missing", id)
				}
			}
			if err := txn.Set(outKey(e), nil); err != nil {
				return err
			}
			if err := txn.Set(inKey(e), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// DropVertex deletes the record, its index entries and both sides of every
// incident edge.
func (b *BadgerBackend) DropVertex(_ context.Context, id int64) error {
	return b.update(func(txn *badger.Txn) error {
		v, err := getVertex(txn, id)
		if err != nil || v == nil {
			return err
		}
		var doomed [][]byte
		for _, k := range keysWithPrefix(txn, adjacencyPrefix(prefixOut, id, "")) {
			e, err := edgeFromKey(k)
			if err != nil {
				return err
			}
			doomed = append(doomed, k, inKey(e))
		}
		for _, k := range keysWithPrefix(txn, adjacencyPrefix(prefixIn, id, "")) {
			e, err := edgeFromKey(k)
			if err != nil {
				return err
			}
			doomed = append(doomed, k, outKey(e))
		}
		doomed = append(doomed, vertexKey(id), putID(labelPrefix(v.Label), id))
		if name := v.FullName(); name != "" {
			doomed = append(doomed, putID(namePrefix(v.Label, name), id))
		}
		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerBackend) DropEdge(_ context.Context, e graph.Edge) error {
	return b.update(func(txn *badger.Txn) error {
		if err := txn.Delete(outKey(e)); err != nil {
			return err
		}
		return txn.Delete(inKey(e))
	})
}

func (b *BadgerBackend) SetProperty(_ context.Context, id int64, key string, value graph.PropValue) error {
	return b.update(func(txn *badger.Txn) error {
		v, err := getVertex(txn, id)
		if err != nil || v == nil {
			return err
		}
		if name := v.FullName(); name != "" {
			if err := txn.Delete(putID(namePrefix(v.Label, name), id)); err != nil {
				return err
			}
		}
		if value.IsNone() {
			delete(v.Props, key)
		} else {
			v.Props[key] = value
		}
		return putVertex(txn, v)
	})
}

func (b *BadgerBackend) Vertices(_ context.Context, ids []int64) ([]*graph.Vertex, error) {
	out := make([]*graph.Vertex, 0, len(ids))
	err := b.view(func(txn *badger.Txn) error {
		for _, id := range ids {
			v, err := getVertex(txn, id)
			if err != nil {
				return err
			}
			if v != nil {
				out = append(out, v)
			}
		}
		return nil
	})
	return out, err
}

func (b *BadgerBackend) FindVertices(_ context.Context, label graph.VertexLabel, fullName string) ([]*graph.Vertex, error) {
	prefix := labelPrefix(label)
	if fullName != "" {
		prefix = namePrefix(label, fullName)
	}
	var out []*graph.Vertex
	err := b.view(func(txn *badger.Txn) error {
		for _, k := range keysWithPrefix(txn, prefix) {
			v, err := getVertex(txn, readID(k[len(k)-8:]))
			if err != nil {
				return err
			}
			if v != nil {
				out = append(out, v)
			}
		}
		return nil
	})
	return out, err
}

func (b *BadgerBackend) Edges(_ context.Context, ids []int64, dir graph.Direction, labels ...graph.EdgeLabel) ([]graph.Edge, error) {
	var prefixes [][]byte
	for _, id := range ids {
		for _, p := range [][]byte{prefixOut, prefixIn} {
			if bytes.Equal(p, prefixOut) && dir == graph.DirectionIn {
				continue
			}
			if bytes.Equal(p, prefixIn) && dir == graph.DirectionOut {
				continue
			}
			if len(labels) == 0 {
				prefixes = append(prefixes, adjacencyPrefix(p, id, ""))
				continue
			}
			for _, l := range labels {
				prefixes = append(prefixes, adjacencyPrefix(p, id, l))
			}
		}
	}
	seen := make(map[graph.Edge]struct{})
	var out []graph.Edge
	err := b.view(func(txn *badger.Txn) error {
		for _, p := range prefixes {
			for _, k := range keysWithPrefix(txn, p) {
				e, err := edgeFromKey(k)
				if err != nil {
					return err
				}
				if _, dup := seen[e]; dup {
					continue
				}
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (b *BadgerBackend) Scan(_ context.Context) (*graph.Subgraph, error) {
	g := graph.NewSubgraph()
	err := b.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixVertex
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefixVertex); it.ValidForPrefix(prefixVertex); it.Next() {
			var v graph.Vertex
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("badger: decode vertex: %w", err)
			}
			if v.Props == nil {
				v.Props = graph.Props{}
			}
			g.AddVertex(&v)
		}
		for _, k := range keysWithPrefix(txn, prefixOut) {
			e, err := edgeFromKey(k)
			if err != nil {
				return err
			}
			g.AddEdge(e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.SortEdges()
	return g, nil
}

// MaxVertexID seeks to the last vertex key.
func (b *BadgerBackend) MaxVertexID(_ context.Context) (int64, error) {
	var maxID int64
	err := b.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefixVertex
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append(append([]byte{}, prefixVertex...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if it.ValidForPrefix(prefixVertex) {
			maxID = readID(it.Item().Key()[len(prefixVertex):])
		}
		return nil
	})
	return maxID, err
}

// Truncate drops every graph key. The identifier sequence is kept so
// identifiers are never reused.
func (b *BadgerBackend) Truncate(_ context.Context) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if err := db.DropPrefix(prefixVertex, prefixOut, prefixIn, prefixName, prefixLabel); err != nil {
		return fmt.Errorf("badger: truncate: %w", err)
	}
	return nil
}
