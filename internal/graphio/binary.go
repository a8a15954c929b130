package graphio

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/klauspost/compress/zstd"
)

// binaryVersion is bumped whenever snapshot changes shape.
const binaryVersion = 1

type snapshot struct {
	Version  int
	Vertices []binVertex
	Edges    []graph.Edge
}

type binVertex struct {
	ID    int64
	Label string
	Props []binProp
}

type binProp struct {
	Key  string
	Kind uint8
	Int  int64
	Str  string
	Bool bool
	List []string
}

func toBinProp(key string, v graph.PropValue) binProp {
	p := binProp{Key: key, Kind: uint8(v.Kind())}
	switch v.Kind() {
	case graph.KindInt:
		p.Int, _ = v.AsInt()
	case graph.KindString:
		p.Str, _ = v.AsString()
	case graph.KindBool:
		p.Bool, _ = v.AsBool()
	case graph.KindStrings:
		p.List, _ = v.AsStrings()
	}
	return p
}

func (p binProp) value() (graph.PropValue, error) {
	switch graph.PropKind(p.Kind) {
	case graph.KindNone:
		return graph.None(), nil
	case graph.KindInt:
		return graph.Int(p.Int), nil
	case graph.KindString:
		return graph.String(p.Str), nil
	case graph.KindBool:
		return graph.Bool(p.Bool), nil
	case graph.KindStrings:
		return graph.Strings(p.List...), nil
	}
	return graph.None(), fmt.Errorf("unknown property kind %d", p.Kind)
}

func writeBinary(w io.Writer, g *graph.Subgraph) error {
	snap := snapshot{Version: binaryVersion, Edges: sortedEdges(g)}
	for _, v := range g.VertexList() {
		bv := binVertex{ID: v.ID, Label: string(v.Label)}
		for _, key := range v.Props.Keys() {
			bv.Props = append(bv.Props, toBinProp(key, v.Props[key]))
		}
		snap.Vertices = append(snap.Vertices, bv)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("graphio: binary: creating zstd encoder: %w", err)
	}
	if err := gob.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		return fmt.Errorf("graphio: binary: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("graphio: binary: closing encoder: %w", err)
	}
	return nil
}

func readBinary(r io.Reader) (*graph.Subgraph, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("graphio: binary: creating zstd decoder: %w", err)
	}
	defer dec.Close()

	var snap snapshot
	if err := gob.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, fmt.Errorf("graphio: binary: %w", err)
	}
	if snap.Version != binaryVersion {
		return nil, fmt.Errorf("graphio: binary: unsupported version %d", snap.Version)
	}

	g := graph.NewSubgraph()
	for _, bv := range snap.Vertices {
		v := &graph.Vertex{ID: bv.ID, Label: graph.VertexLabel(bv.Label), Props: make(graph.Props, len(bv.Props))}
		for _, p := range bv.Props {
			val, err := p.value()
			if err != nil {
				return nil, fmt.Errorf("graphio: binary: vertex %d %s: %w", bv.ID, p.Key, err)
			}
			v.Props[p.Key] = val
		}
		g.AddVertex(v)
	}
	for _, e := range snap.Edges {
		if err := addEdge(g, e); err != nil {
			return nil, fmt.Errorf("graphio: binary: %w", err)
		}
	}
	return g, nil
}
