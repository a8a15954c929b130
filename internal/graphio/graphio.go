// Package graphio exports and imports code property graphs. The format is
// chosen from the file extension.
package graphio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
)

// ErrUnsupportedFormat is returned for unknown extensions, and for imports
// of export-only formats.
var ErrUnsupportedFormat = errors.New("graphio: unsupported format")

// Format is a serialization format.
type Format string

const (
	FormatGraphML  Format = "graphml"
	FormatGraphSON Format = "graphson"
	FormatBinary   Format = "binary"
	FormatMermaid  Format = "mermaid" // export only
)

var byExtension = map[string]Format{
	".xml":      FormatGraphML,
	".graphml":  FormatGraphML,
	".json":     FormatGraphSON,
	".graphson": FormatGraphSON,
	".kryo":     FormatBinary,
	".bin":      FormatBinary,
	".cpg":      FormatBinary,
	".mmd":      FormatMermaid,
}

// FormatFor returns the format for a path's extension.
func FormatFor(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	f, ok := byExtension[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return f, nil
}

// Export writes g to path in the format implied by its extension.
func Export(path string, g *graph.Subgraph) (err error) {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("graphio: export: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("graphio: export: %w", cerr)
		}
	}()
	w := bufio.NewWriter(f)
	if err := Write(w, format, g); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("graphio: export: %w", err)
	}
	return nil
}

// Import reads a subgraph from path in the format implied by its extension.
func Import(path string) (*graph.Subgraph, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	if format == FormatMermaid {
		return nil, fmt.Errorf("%w: %s is export only", ErrUnsupportedFormat, format)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("graphio: import: %w", err)
	}
	defer f.Close()
	return Read(bufio.NewReader(f), format)
}

// Write encodes g to w.
func Write(w io.Writer, format Format, g *graph.Subgraph) error {
	switch format {
	case FormatGraphML:
		return writeGraphML(w, g)
	case FormatGraphSON:
		return writeGraphSON(w, g)
	case FormatBinary:
		return writeBinary(w, g)
	case FormatMermaid:
		return writeMermaid(w, g)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Read decodes a subgraph from r.
func Read(r io.Reader, format Format) (*graph.Subgraph, error) {
	switch format {
	case FormatGraphML:
		return readGraphML(r)
	case FormatGraphSON:
		return readGraphSON(r)
	case FormatBinary:
		return readBinary(r)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// BulkWriter applies ChangeSets; every driver.Driver is one.
type BulkWriter interface {
	BulkTransaction(ctx context.Context, cs *delta.ChangeSet) error
}

// Load replays g into a driver as one ChangeSet. Identifiers in g are not
// kept: the driver assigns new ones. The target should be empty, since the
// imported META_DATA is written alongside any existing one.
func Load(ctx context.Context, d BulkWriter, g *graph.Subgraph) (int, error) {
	fresh := make(map[int64]*graph.Vertex, len(g.Vertices))
	for _, v := range g.VertexList() {
		fresh[v.ID] = graph.NewVertex(v.Label, v.Props.Clone())
	}
	cs := delta.New()
	linked := make(map[int64]bool, len(fresh))
	for _, e := range g.Edges {
		src, dst := fresh[e.Src], fresh[e.Dst]
		if src == nil || dst == nil {
			return 0, fmt.Errorf("graphio: load: edge %d -[%s]-> %d has a missing endpoint", e.Src, e.Label, e.Dst)
		}
		cs.AddEdge(src, dst, e.Label)
		linked[e.Src], linked[e.Dst] = true, true
	}
	for _, v := range g.VertexList() {
		if !linked[v.ID] {
			cs.AddVertex(fresh[v.ID])
		}
	}
	if err := d.BulkTransaction(ctx, cs); err != nil {
		return 0, fmt.Errorf("graphio: load: %w", err)
	}
	return len(fresh), nil
}
