//go:build cgo

package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/dusk-indust/cpgraph/internal/config"
	"github.com/dusk-indust/cpgraph/internal/graphio"
	"github.com/dusk-indust/cpgraph/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args against a fresh set of flag
// values and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configDir, backendKind, backendPath, backendURI, verbose = ".", "", "", "", false
	projectLanguages, projectExcludes, projectExport, projectJSON = nil, nil, "", false
	exportMethod = ""

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func fixture(t *testing.T) string {
	t.Helper()
	abs, err := filepath.Abs("../../internal/frontend/testdata/project")
	require.NoError(t, err)
	return abs
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "cpgraph", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"project", "export", "import", "clear", "serve-mcp", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestProjectExportImport_Badger(t *testing.T) {
	db := filepath.Join(t.TempDir(), "db")
	backend := []string{"--backend", "badger", "--backend-path", db}

	out, err := execute(t, append([]string{"project", fixture(t), "--exclude", "gen/**", "--json"}, backend...)...)
	require.NoError(t, err)
	var first pipeline.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.True(t, first.Changed)
	assert.Zero(t, first.Failed)
	assert.Positive(t, first.New)

	// The database outlives the process, so a second run is a no-op.
	out, err = execute(t, append([]string{"project", fixture(t), "--exclude", "gen/**"}, backend...)...)
	require.NoError(t, err)
	assert.Equal(t, "No changes.\n", out)

	dump := filepath.Join(t.TempDir(), "cpg.bin")
	_, err = execute(t, append([]string{"export", dump}, backend...)...)
	require.NoError(t, err)
	exported, err := graphio.Import(dump)
	require.NoError(t, err)

	_, err = execute(t, append([]string{"import", dump}, backend...)...)
	require.Error(t, err, "import refuses a non-empty backend")

	_, err = execute(t, append([]string{"clear"}, backend...)...)
	require.NoError(t, err)

	out, err = execute(t, append([]string{"import", dump}, backend...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "imported")

	again := filepath.Join(t.TempDir(), "again.bin")
	_, err = execute(t, append([]string{"export", again}, backend...)...)
	require.NoError(t, err)
	reimported, err := graphio.Import(again)
	require.NoError(t, err)
	assert.Equal(t, exported.Stats(), reimported.Stats())
}

func TestExportMethod_Mermaid(t *testing.T) {
	db := filepath.Join(t.TempDir(), "db")
	backend := []string{"--backend", "badger", "--backend-path", db}

	_, err := execute(t, append([]string{"project", fixture(t), "--language", "go", "--json"}, backend...)...)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "add.mmd")
	out, err := execute(t, append([]string{"export", path, "--method", "calc.Adder.Add"}, backend...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "exported")

	_, err = execute(t, append([]string{"export", path, "--method", "calc.Missing"}, backend...)...)
	assert.Error(t, err)
}

func TestCommandErrors(t *testing.T) {
	_, err := execute(t, "export", "graph.dot")
	assert.ErrorIs(t, err, graphio.ErrUnsupportedFormat)

	_, err = execute(t, "import", filepath.Join(t.TempDir(), "graph.mmd"))
	assert.ErrorIs(t, err, graphio.ErrUnsupportedFormat)

	_, err = execute(t, "project", fixture(t), "--backend", "oracle")
	assert.Error(t, err)

	_, err = execute(t, "project")
	assert.Error(t, err, "missing <dir>")
}

func TestRequireEmbedded(t *testing.T) {
	for kind, ok := range map[string]bool{
		config.BackendMemory:  true,
		config.BackendBadger:  true,
		config.BackendKuzu:    true,
		config.BackendNeo4j:   false,
		config.BackendREST:    false,
		config.BackendGremlin: false,
	} {
		a := &app{cfg: config.Default()}
		a.cfg.Backend.Kind = kind
		if ok {
			assert.NoError(t, a.requireEmbedded(), kind)
		} else {
			assert.Error(t, a.requireEmbedded(), kind)
		}
	}
}
