package graphio

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/dusk-indust/cpgraph/internal/graph"
)

const (
	graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"
	keyLabelV        = "labelV"
	keyLabelE        = "labelE"
)

type xmlGraphML struct {
	XMLName xml.Name `xml:"graphml"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Keys    []xmlKey `xml:"key"`
	Graph   xmlGraph `xml:"graph"`
}

// xmlKey declares a data attribute. GraphML has no list type, so lists are
// JSON-encoded strings marked with attr.list.
type xmlKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
	List string `xml:"attr.list,attr,omitempty"`
}

type xmlGraph struct {
	ID          string    `xml:"id,attr"`
	EdgeDefault string    `xml:"edgedefault,attr"`
	Nodes       []xmlNode `xml:"node"`
	Edges       []xmlEdge `xml:"edge"`
}

type xmlNode struct {
	ID   string    `xml:"id,attr"`
	Data []xmlData `xml:"data"`
}

type xmlEdge struct {
	ID     string    `xml:"id,attr"`
	Source string    `xml:"source,attr"`
	Target string    `xml:"target,attr"`
	Data   []xmlData `xml:"data"`
}

type xmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func graphMLType(k graph.PropKind) string {
	switch k {
	case graph.KindInt:
		return "long"
	case graph.KindBool:
		return "boolean"
	}
	return "string"
}

type keySpec struct {
	name string
	kind graph.PropKind
}

func writeGraphML(w io.Writer, g *graph.Subgraph) error {
	vertices := g.VertexList()

	specs := make(map[keySpec]struct{})
	for _, v := range vertices {
		for key, val := range v.Props {
			if !val.IsNone() {
				specs[keySpec{key, val.Kind()}] = struct{}{}
			}
		}
	}
	ordered := make([]keySpec, 0, len(specs))
	for s := range specs {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].name != ordered[j].name {
			return ordered[i].name < ordered[j].name
		}
		return ordered[i].kind < ordered[j].kind
	})

	doc := xmlGraphML{
		Xmlns: graphMLNamespace,
		Keys: []xmlKey{
			{ID: keyLabelV, For: "node", Name: keyLabelV, Type: "string"},
			{ID: keyLabelE, For: "edge", Name: keyLabelE, Type: "string"},
		},
		Graph: xmlGraph{ID: "cpg", EdgeDefault: "directed"},
	}
	ids := make(map[keySpec]string, len(ordered))
	for i, s := range ordered {
		id := "k" + strconv.Itoa(i)
		ids[s] = id
		k := xmlKey{ID: id, For: "node", Name: s.name, Type: graphMLType(s.kind)}
		if s.kind == graph.KindStrings {
			k.List = "string"
		}
		doc.Keys = append(doc.Keys, k)
	}

	for _, v := range vertices {
		n := xmlNode{ID: strconv.FormatInt(v.ID, 10), Data: []xmlData{{Key: keyLabelV, Value: string(v.Label)}}}
		for _, key := range v.Props.Keys() {
			val := v.Props[key]
			if val.IsNone() {
				continue
			}
			text, err := graphMLText(val)
			if err != nil {
				return fmt.Errorf("graphio: graphml: vertex %d %s: %w", v.ID, key, err)
			}
			n.Data = append(n.Data, xmlData{Key: ids[keySpec{key, val.Kind()}], Value: text})
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, n)
	}
	for i, e := range sortedEdges(g) {
		doc.Graph.Edges = append(doc.Graph.Edges, xmlEdge{
			ID:     "e" + strconv.Itoa(i),
			Source: strconv.FormatInt(e.Src, 10),
			Target: strconv.FormatInt(e.Dst, 10),
			Data:   []xmlData{{Key: keyLabelE, Value: string(e.Label)}},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("graphio: graphml: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("graphio: graphml: %w", err)
	}
	return nil
}

func graphMLText(v graph.PropValue) (string, error) {
	switch v.Kind() {
	case graph.KindInt:
		n, _ := v.AsInt()
		return strconv.FormatInt(n, 10), nil
	case graph.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b), nil
	case graph.KindStrings:
		l, _ := v.AsStrings()
		data, err := json.Marshal(l)
		return string(data), err
	}
	s, _ := v.AsString()
	return s, nil
}

func readGraphML(r io.Reader) (*graph.Subgraph, error) {
	var doc xmlGraphML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("graphio: graphml: %w", err)
	}
	keys := make(map[string]xmlKey, len(doc.Keys))
	for _, k := range doc.Keys {
		keys[k.ID] = k
	}

	g := graph.NewSubgraph()
	for _, n := range doc.Graph.Nodes {
		id, err := strconv.ParseInt(n.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("graphio: graphml: node id %q: %w", n.ID, err)
		}
		v := &graph.Vertex{ID: id, Props: graph.Props{}}
		for _, d := range n.Data {
			if d.Key == keyLabelV {
				v.Label = graph.VertexLabel(d.Value)
				continue
			}
			k, ok := keys[d.Key]
			if !ok {
				return nil, fmt.Errorf("graphio: graphml: node %s: undeclared key %q", n.ID, d.Key)
			}
			val, err := parseGraphMLValue(k, d.Value)
			if err != nil {
				return nil, fmt.Errorf("graphio: graphml: node %s %s: %w", n.ID, k.Name, err)
			}
			v.Props[k.Name] = val
		}
		g.AddVertex(v)
	}
	for _, e := range doc.Graph.Edges {
		src, err := strconv.ParseInt(e.Source, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("graphio: graphml: edge source %q: %w", e.Source, err)
		}
		dst, err := strconv.ParseInt(e.Target, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("graphio: graphml: edge target %q: %w", e.Target, err)
		}
		var label graph.EdgeLabel
		for _, d := range e.Data {
			if d.Key == keyLabelE {
				label = graph.EdgeLabel(d.Value)
			}
		}
		if err := addEdge(g, graph.Edge{Src: src, Dst: dst, Label: label}); err != nil {
			return nil, fmt.Errorf("graphio: graphml: %w", err)
		}
	}
	return g, nil
}

func parseGraphMLValue(k xmlKey, s string) (graph.PropValue, error) {
	if k.List != "" {
		var l []string
		if err := json.Unmarshal([]byte(s), &l); err != nil {
			return graph.None(), err
		}
		return graph.Strings(l...), nil
	}
	switch k.Type {
	case "long", "int":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return graph.None(), err
		}
		return graph.Int(n), nil
	case "boolean":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return graph.None(), err
		}
		return graph.Bool(b), nil
	}
	return graph.String(s), nil
}

// sortedEdges returns g's edges ordered by source, label and destination
// without reordering g.
func sortedEdges(g *graph.Subgraph) []graph.Edge {
	out := append([]graph.Edge(nil), g.Edges...)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.Dst < b.Dst
	})
	return out
}

// addEdge adds e to g, rejecting edges whose endpoints were not read.
func addEdge(g *graph.Subgraph, e graph.Edge) error {
	if _, ok := g.Vertices[e.Src]; !ok {
		return fmt.Errorf("edge %d -[%s]-> %d: unknown source", e.Src, e.Label, e.Dst)
	}
	if _, ok := g.Vertices[e.Dst]; !ok {
		return fmt.Errorf("edge %d -[%s]-> %d: unknown target", e.Src, e.Label, e.Dst)
	}
	g.AddEdge(e)
	return nil
}
