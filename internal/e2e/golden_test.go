//go:build e2e && cgo

package e2e

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dusk-indust/cpgraph/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var update = flag.Bool("update", false, "update golden files")

// goldenDir returns the path to the testdata/golden directory.
func goldenDir() string {
	return filepath.Join("..", "..", "testdata", "golden")
}

// goldenViews maps each golden file to the canonical view it records.
var goldenViews = []struct {
	golden string
	view   func(t *testing.T, d driver.Driver) []string
}{
	{"program_structure.txt", func(t *testing.T, d driver.Driver) []string {
		g, err := d.GetProgramStructure(context.Background())
		require.NoError(t, err)
		return canonical(g)
	}},
	{"method_calc_adder_add.txt", func(t *testing.T, d driver.Driver) []string {
		g, err := d.GetMethod(context.Background(), "calc.Adder.Add", true)
		require.NoError(t, err)
		return canonical(g)
	}},
}

func projectForGolden(t *testing.T) driver.Driver {
	t.Helper()
	p := newProjector(t, driver.NewMemDriver())
	p.project(fixtureRoot)
	return p.drv
}

// TestGolden compares canonical graph views against golden files. If golden
// files do not exist, the test is skipped with a message to run with -update.
func TestGolden(t *testing.T) {
	d := projectForGolden(t)

	for _, gv := range goldenViews {
		t.Run(gv.golden, func(t *testing.T) {
			golden, err := os.ReadFile(filepath.Join(goldenDir(), gv.golden))
			if os.IsNotExist(err) {
				t.Skipf("golden file %s not found; run with -update to generate", gv.golden)
				return
			}
			require.NoError(t, err)

			actual := strings.Join(gv.view(t, d), "\n") + "\n"
			assert.Equal(t, string(golden), actual, "view does not match golden file %s", gv.golden)
		})
	}
}

// TestUpdateGolden regenerates golden files from the current projection.
// Run with: go test -tags e2e -run TestUpdateGolden ./internal/e2e/ -update
func TestUpdateGolden(t *testing.T) {
	if !*update {
		t.Skip("skipping golden file update; run with -update flag")
	}

	d := projectForGolden(t)
	require.NoError(t, os.MkdirAll(goldenDir(), 0o755))

	for _, gv := range goldenViews {
		data := strings.Join(gv.view(t, d), "\n") + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(goldenDir(), gv.golden), []byte(data), 0o644))
		t.Logf("updated %s", gv.golden)
	}
}
