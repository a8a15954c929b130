package graphio

import (
	"fmt"
	"io"
	"strings"

	"github.com/dusk-indust/cpgraph/internal/graph"
)

// writeMermaid renders g as a Mermaid graph TD diagram. Vertices are grouped
// into one subgraph per label; every edge becomes a labelled arrow.
func writeMermaid(w io.Writer, g *graph.Subgraph) error {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	byLabel := make(map[graph.VertexLabel][]*graph.Vertex)
	for _, v := range g.VertexList() {
		byLabel[v.Label] = append(byLabel[v.Label], v)
	}
	for _, label := range graph.AllVertexLabels {
		vs := byLabel[label]
		if len(vs) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("  subgraph %s[\"%s\"]\n", label, label))
		for _, v := range vs {
			sb.WriteString(fmt.Sprintf("    N%d[\"%s\"]\n", v.ID, mermaidText(v)))
		}
		sb.WriteString("  end\n")
	}
	for _, e := range sortedEdges(g) {
		sb.WriteString(fmt.Sprintf("  N%d -->|%s| N%d\n", e.Src, e.Label, e.Dst))
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("graphio: mermaid: %w", err)
	}
	return nil
}

// mermaidText is a short, quote-free caption for v.
func mermaidText(v *graph.Vertex) string {
	text := shortName(v.FullName())
	if text == "" {
		text = v.Props.String(graph.PropName)
	}
	if text == "" {
		text = v.Props.String(graph.PropCode)
	}
	text = strings.NewReplacer(`"`, "'", "\n", " ").Replace(text)
	if len(text) > 40 {
		text = text[:40]
	}
	return fmt.Sprintf("%s %s", v.Label, text)
}

// shortName returns the last two dotted segments of a full name.
func shortName(fullName string) string {
	parts := strings.Split(fullName, ".")
	if len(parts) <= 2 {
		return fullName
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
