package graphio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dusk-indust/cpgraph/internal/graph"
)

// GraphSON 3 adjacency format: one vertex per line with its out edges.

const maxGraphSONLine = 64 << 20

type gsTyped struct {
	Type  string          `json:"@type"`
	Value json.RawMessage `json:"@value"`
}

type gsVertex struct {
	ID         gsTyped                 `json:"id"`
	Label      string                  `json:"label"`
	OutE       map[string][]gsEdge     `json:"outE,omitempty"`
	Properties map[string][]gsProperty `json:"properties,omitempty"`
}

type gsEdge struct {
	ID  gsTyped `json:"id"`
	InV gsTyped `json:"inV"`
}

type gsProperty struct {
	ID    gsTyped         `json:"id"`
	Value json.RawMessage `json:"value"`
}

func int64Value(n int64) gsTyped {
	return gsTyped{Type: "g:Int64", Value: json.RawMessage(fmt.Sprintf("%d", n))}
}

func (t gsTyped) int64() (int64, error) {
	if t.Type != "g:Int64" && t.Type != "g:Int32" {
		return 0, fmt.Errorf("expected g:Int64, got %q", t.Type)
	}
	var n int64
	err := json.Unmarshal(t.Value, &n)
	return n, err
}

func encodeGraphSONValue(v graph.PropValue) (json.RawMessage, error) {
	switch v.Kind() {
	case graph.KindInt:
		n, _ := v.AsInt()
		return json.Marshal(int64Value(n))
	case graph.KindStrings:
		l, _ := v.AsStrings()
		items, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		return json.Marshal(gsTyped{Type: "g:List", Value: items})
	}
	return json.Marshal(v.Native())
}

func decodeGraphSONValue(raw json.RawMessage) (graph.PropValue, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var t gsTyped
		if err := json.Unmarshal(raw, &t); err != nil {
			return graph.None(), err
		}
		switch t.Type {
		case "g:Int64", "g:Int32":
			n, err := t.int64()
			if err != nil {
				return graph.None(), err
			}
			return graph.Int(n), nil
		case "g:List":
			var l []string
			if err := json.Unmarshal(t.Value, &l); err != nil {
				return graph.None(), err
			}
			return graph.Strings(l...), nil
		}
		return graph.None(), fmt.Errorf("unsupported GraphSON type %q", t.Type)
	}
	var native any
	if err := json.Unmarshal(raw, &native); err != nil {
		return graph.None(), err
	}
	return graph.FromNative(native)
}

func writeGraphSON(w io.Writer, g *graph.Subgraph) error {
	out := make(map[int64][]graph.Edge)
	for _, e := range sortedEdges(g) {
		out[e.Src] = append(out[e.Src], e)
	}
	enc := json.NewEncoder(w)
	var edgeID, propID int64
	for _, v := range g.VertexList() {
		line := gsVertex{ID: int64Value(v.ID), Label: string(v.Label)}
		for _, e := range out[v.ID] {
			if line.OutE == nil {
				line.OutE = make(map[string][]gsEdge)
			}
			line.OutE[string(e.Label)] = append(line.OutE[string(e.Label)], gsEdge{ID: int64Value(edgeID), InV: int64Value(e.Dst)})
			edgeID++
		}
		for _, key := range v.Props.Keys() {
			val := v.Props[key]
			if val.IsNone() {
				continue
			}
			raw, err := encodeGraphSONValue(val)
			if err != nil {
				return fmt.Errorf("graphio: graphson: vertex %d %s: %w", v.ID, key, err)
			}
			if line.Properties == nil {
				line.Properties = make(map[string][]gsProperty)
			}
			line.Properties[key] = []gsProperty{{ID: int64Value(propID), Value: raw}}
			propID++
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("graphio: graphson: %w", err)
		}
	}
	return nil
}

func readGraphSON(r io.Reader) (*graph.Subgraph, error) {
	g := graph.NewSubgraph()
	var edges []graph.Edge

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxGraphSONLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var line gsVertex
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("graphio: graphson: line %d: %w", lineNo, err)
		}
		id, err := line.ID.int64()
		if err != nil {
			return nil, fmt.Errorf("graphio: graphson: line %d: id: %w", lineNo, err)
		}
		v := &graph.Vertex{ID: id, Label: graph.VertexLabel(line.Label), Props: graph.Props{}}
		for key, values := range line.Properties {
			if len(values) == 0 {
				continue
			}
			val, err := decodeGraphSONValue(values[0].Value)
			if err != nil {
				return nil, fmt.Errorf("graphio: graphson: line %d: %s: %w", lineNo, key, err)
			}
			v.Props[key] = val
		}
		g.AddVertex(v)
		for label, es := range line.OutE {
			for _, e := range es {
				dst, err := e.InV.int64()
				if err != nil {
					return nil, fmt.Errorf("graphio: graphson: line %d: inV: %w", lineNo, err)
				}
				edges = append(edges, graph.Edge{Src: id, Dst: dst, Label: graph.EdgeLabel(label)})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("graphio: graphson: %w", err)
	}
	for _, e := range edges {
		if err := addEdge(g, e); err != nil {
			return nil, fmt.Errorf("graphio: graphson: %w", err)
		}
	}
	return g, nil
}
