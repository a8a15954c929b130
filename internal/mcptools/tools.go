package mcptools

import (
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/pipeline"
)

// --- MCP Tool Input Types ---
// The MCP Go SDK derives each tool's JSON schema from these struct tags.

// ProjectInput is the input for the project MCP tool.
type ProjectInput struct {
	RepoPath    string   `json:"repoPath" jsonschema:"the absolute path to the directory to load and project"`
	Languages   []string `json:"languages,omitempty" jsonschema:"languages to load (default: configured languages). Values: go, python, typescript, rust"`
	ExcludeDirs []string `json:"excludeDirs,omitempty" jsonschema:"extra doublestar patterns to exclude, relative to repoPath (e.g. gen/**)"`
	ExportPath  string   `json:"exportPath,omitempty" jsonschema:"optional file to export the whole graph to after projecting; the extension picks the format"`
}

// ProjectOutput is the result of the project MCP tool.
type ProjectOutput struct {
	Result pipeline.RunResult `json:"result"`
	Units  int                `json:"units"`
}

// GetMetadataInput is the input for the get_metadata MCP tool.
type GetMetadataInput struct{}

// GetMetadataOutput is the result of the get_metadata MCP tool.
type GetMetadataOutput struct {
	Found    bool   `json:"found"`
	Language string `json:"language,omitempty"`
	Version  string `json:"version,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// GetMethodInput is the input for the get_method MCP tool.
type GetMethodInput struct {
	FullName    string `json:"fullName" jsonschema:"the method's FULL_NAME, e.g. calc.Adder.Add"`
	IncludeBody bool   `json:"includeBody,omitempty" jsonschema:"return the whole AST subtree instead of the head only"`
}

// GetProgramStructureInput is the input for the get_program_structure MCP tool.
type GetProgramStructureInput struct{}

// GetNeighboursInput is the input for the get_neighbours MCP tool. Either ID
// or Label and FullName select the vertex.
type GetNeighboursInput struct {
	ID       int64  `json:"id,omitempty" jsonschema:"vertex identifier"`
	Label    string `json:"label,omitempty" jsonschema:"vertex label, e.g. METHOD or TYPE_DECL"`
	FullName string `json:"fullName,omitempty" jsonschema:"FULL_NAME of the vertex"`
}

// GraphStatsInput is the input for the graph_stats MCP tool.
type GraphStatsInput struct{}

// GraphStatsOutput is the result of the graph_stats MCP tool.
type GraphStatsOutput struct {
	VertexCount int            `json:"vertexCount"`
	EdgeCount   int            `json:"edgeCount"`
	ByLabel     map[string]int `json:"byLabel"`
}

// --- Graph views ---

// VertexView is a vertex with its properties as plain JSON values.
type VertexView struct {
	ID    int64          `json:"id"`
	Label string         `json:"label"`
	Props map[string]any `json:"props,omitempty"`
}

// EdgeView is one directed, labelled edge.
type EdgeView struct {
	Src   int64  `json:"src"`
	Dst   int64  `json:"dst"`
	Label string `json:"label"`
}

// SubgraphOutput is the result of every tool returning a subgraph.
type SubgraphOutput struct {
	Vertices []VertexView `json:"vertices"`
	Edges    []EdgeView   `json:"edges"`
}

func subgraphOutput(g *graph.Subgraph) SubgraphOutput {
	out := SubgraphOutput{Vertices: []VertexView{}, Edges: []EdgeView{}}
	if g == nil {
		return out
	}
	for _, v := range g.VertexList() {
		out.Vertices = append(out.Vertices, VertexView{ID: v.ID, Label: string(v.Label), Props: v.Props.NativeMap()})
	}
	g.SortEdges()
	for _, e := range g.Edges {
		out.Edges = append(out.Edges, EdgeView{Src: e.Src, Dst: e.Dst, Label: string(e.Label)})
	}
	return out
}

func statsOutput(s graph.GraphStats) GraphStatsOutput {
	out := GraphStatsOutput{VertexCount: s.VertexCount, EdgeCount: s.EdgeCount, ByLabel: make(map[string]int, len(s.ByLabel))}
	for l, n := range s.ByLabel {
		out.ByLabel[string(l)] = n
	}
	return out
}
