//go:build cgo

package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/dusk-indust/cpgraph/internal/driver"
	"github.com/dusk-indust/cpgraph/internal/frontend"
	"github.com/dusk-indust/cpgraph/internal/graphio"
	"github.com/dusk-indust/cpgraph/internal/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureAbsPath returns the absolute path to the front end's mixed-language
// fixture project.
func fixtureAbsPath(t *testing.T) string {
	t.Helper()
	abs, err := filepath.Abs("../frontend/testdata/project")
	require.NoError(t, err)
	return abs
}

// setupServerClient wires an MCP server over a connected memory driver to a
// client using in-memory transports.
func setupServerClient(t *testing.T) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	d := driver.NewMemDriver()
	require.NoError(t, d.Connect(ctx))
	t.Cleanup(func() { d.Close() })

	p, err := pipeline.New(d, frontend.Lowerer{}, pipeline.Options{ChunkSize: 16})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	svc := NewGraphService(d, p, Options{ExcludeDirs: []string{"gen/**"}, Version: "test"})
	server := NewServer(svc)

	st, ct := mcp.NewInMemoryTransports()
	_, err = server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session
}

// callTool invokes a tool and decodes its structured output into out.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args, out any) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, result.IsError, "%s returned an error: %+v", name, result.Content)
	require.NotNil(t, result.StructuredContent, "expected structured content from %s", name)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func callToolError(t *testing.T, session *mcp.ClientSession, name string, args any) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return
	}
	require.NotNil(t, result)
	assert.True(t, result.IsError, "%s should fail", name)
}

func project(t *testing.T, session *mcp.ClientSession) ProjectOutput {
	t.Helper()
	var out ProjectOutput
	callTool(t, session, "project", ProjectInput{RepoPath: fixtureAbsPath(t)}, &out)
	return out
}

func TestMCPListTools(t *testing.T) {
	session := setupServerClient(t)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	require.Len(t, result.Tools, 6)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"get_metadata",
		"get_method",
		"get_neighbours",
		"get_program_structure",
		"graph_stats",
		"project",
	}, names)
}

func TestMCPProject(t *testing.T) {
	session := setupServerClient(t)

	out := project(t, session)
	assert.True(t, out.Result.Changed)
	assert.Equal(t, out.Units, out.Result.New)
	assert.Zero(t, out.Result.Failed)

	again := project(t, session)
	assert.False(t, again.Result.Changed, "unchanged tree is a no-op")

	var meta GetMetadataOutput
	callTool(t, session, "get_metadata", GetMetadataInput{}, &meta)
	assert.True(t, meta.Found)
	assert.Equal(t, "test", meta.Version)
	assert.NotEmpty(t, meta.Hash)
	assert.NotEmpty(t, meta.Language)
}

func TestMCPProject_Export(t *testing.T) {
	session := setupServerClient(t)
	path := filepath.Join(t.TempDir(), "cpg.json")

	var out ProjectOutput
	callTool(t, session, "project", ProjectInput{RepoPath: fixtureAbsPath(t), ExportPath: path}, &out)

	assert.True(t, out.Result.Changed)

	g, err := graphio.Import(path)
	require.NoError(t, err)
	var stats GraphStatsOutput
	callTool(t, session, "graph_stats", GraphStatsInput{}, &stats)
	assert.Equal(t, stats.VertexCount, len(g.Vertices))
	assert.Equal(t, stats.EdgeCount, len(g.Edges))
}

func TestMCPProject_BadInput(t *testing.T) {
	session := setupServerClient(t)

	callToolError(t, session, "project", ProjectInput{})
	callToolError(t, session, "project", ProjectInput{RepoPath: filepath.Join(t.TempDir(), "missing")})

	file := filepath.Join(t.TempDir(), "file.go")
	require.NoError(t, os.WriteFile(file, []byte("package x\n"), 0o644))
	callToolError(t, session, "project", ProjectInput{RepoPath: file})
	callToolError(t, session, "project", ProjectInput{RepoPath: fixtureAbsPath(t), Languages: []string{"cobol"}})
}

func TestMCPGetMetadata_Empty(t *testing.T) {
	session := setupServerClient(t)

	var meta GetMetadataOutput
	callTool(t, session, "get_metadata", GetMetadataInput{}, &meta)
	assert.False(t, meta.Found)
}

func TestMCPGetMethod(t *testing.T) {
	session := setupServerClient(t)
	project(t, session)

	var head SubgraphOutput
	callTool(t, session, "get_method", GetMethodInput{FullName: "calc.Adder.Add"}, &head)
	labels := map[string]int{}
	for _, v := range head.Vertices {
		labels[v.Label]++
	}
	assert.Equal(t, 1, labels["METHOD"])
	assert.Equal(t, 1, labels["METHOD_RETURN"])
	assert.Equal(t, 3, labels["METHOD_PARAMETER_IN"], "receiver, x and y")
	assert.Zero(t, labels["CALL"], "head only")

	var body SubgraphOutput
	callTool(t, session, "get_method", GetMethodInput{FullName: "calc.Adder.Add", IncludeBody: true}, &body)
	assert.Greater(t, len(body.Vertices), len(head.Vertices))
	var calls int
	for _, v := range body.Vertices {
		if v.Label == "CALL" {
			calls++
		}
	}
	assert.NotZero(t, calls)

	callToolError(t, session, "get_method", GetMethodInput{FullName: "calc.Missing"})
	callToolError(t, session, "get_method", GetMethodInput{})
}

func TestMCPGetProgramStructure(t *testing.T) {
	session := setupServerClient(t)
	project(t, session)

	var out SubgraphOutput
	callTool(t, session, "get_program_structure", GetProgramStructureInput{}, &out)

	files := map[string]bool{}
	for _, v := range out.Vertices {
		assert.Contains(t, []string{"FILE", "NAMESPACE_BLOCK", "TYPE_DECL"}, v.Label)
		if v.Label == "FILE" {
			files[v.Props["FULL_NAME"].(string)] = true
		}
	}
	assert.True(t, files["calc/adder.go"])
	assert.True(t, files["pkg/counter.py"])
	assert.False(t, files["gen/generated.go"], "excluded")
	assert.NotEmpty(t, out.Edges)
}

func TestMCPGetNeighbours(t *testing.T) {
	session := setupServerClient(t)
	project(t, session)

	var byName SubgraphOutput
	callTool(t, session, "get_neighbours", GetNeighboursInput{Label: "METHOD", FullName: "calc.Adder.offset"}, &byName)
	require.NotEmpty(t, byName.Vertices)

	var root VertexView
	for _, v := range byName.Vertices {
		if v.Label == "METHOD" && v.Props["FULL_NAME"] == "calc.Adder.offset" {
			root = v
		}
	}
	require.NotZero(t, root.ID)

	var calledBy int
	for _, e := range byName.Edges {
		if e.Label == "CALL" && e.Dst == root.ID {
			calledBy++
		}
	}
	assert.Equal(t, 1, calledBy)

	var byID SubgraphOutput
	callTool(t, session, "get_neighbours", GetNeighboursInput{ID: root.ID}, &byID)
	assert.Equal(t, byName, byID)

	callToolError(t, session, "get_neighbours", GetNeighboursInput{})
	callToolError(t, session, "get_neighbours", GetNeighboursInput{Label: "NOPE", FullName: "x"})
	callToolError(t, session, "get_neighbours", GetNeighboursInput{Label: "METHOD", FullName: "calc.Missing"})
}

func TestMCPGraphStats(t *testing.T) {
	session := setupServerClient(t)

	var empty GraphStatsOutput
	callTool(t, session, "graph_stats", GraphStatsInput{}, &empty)
	assert.Zero(t, empty.VertexCount)

	project(t, session)

	var stats GraphStatsOutput
	callTool(t, session, "graph_stats", GraphStatsInput{}, &stats)
	assert.Greater(t, stats.EdgeCount, 0)
	var sum int
	for _, n := range stats.ByLabel {
		sum += n
	}
	assert.Equal(t, stats.VertexCount, sum)
	assert.Equal(t, 13, stats.ByLabel["METHOD"])
	assert.Equal(t, 1, stats.ByLabel["META_DATA"])
}

func TestMCPCallUnknownTool(t *testing.T) {
	session := setupServerClient(t)
	callToolError(t, session, "nonexistent_tool", map[string]any{})
}
