package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/program"
	"go.uber.org/zap"
)

// loadStructure puts the FILE and NAMESPACE_BLOCK vertices of prog into the
// identity cache, creating missing ones in a single bulk transaction and
// patching FILE hashes that changed.
func (p *Pipeline) loadStructure(ctx context.Context, prog *program.Program, res *RunResult) error {
	hashes := prog.FileHashes()
	namespaces := make(map[string]map[string]struct{})
	for _, u := range prog.Units {
		if namespaces[u.File] == nil {
			namespaces[u.File] = make(map[string]struct{})
		}
		namespaces[u.File][u.Namespace] = struct{}{}
	}

	cs := delta.New()
	for _, file := range prog.Files() {
		hash := hashes[file]
		p.run.FileHashes.Set(file, hash)

		f, err := p.run.Driver.TryGetFile(ctx, file)
		if err != nil {
			return fmt.Errorf("pipeline: structure: %w", err)
		}
		switch {
		case f == nil:
			f = graph.NewVertex(graph.LabelFile, graph.Props{
				graph.PropName:     graph.String(file),
				graph.PropFullName: graph.String(file),
				graph.PropHash:     graph.String(hash),
			})
			cs.AddVertex(f)
		case f.Props.String(graph.PropHash) != hash:
			if err := p.drv.UpdateVertexProperty(ctx, f.ID, graph.LabelFile, graph.PropHash, graph.String(hash)); err != nil {
				return fmt.Errorf("pipeline: structure: patch %s hash: %w", file, err)
			}
			f.Props[graph.PropHash] = graph.String(hash)
			p.log.Debug("file hash patched", zap.String("file", file))
		}
		p.run.Identity.Put(f)

		names := make([]string, 0, len(namespaces[file]))
		for ns := range namespaces[file] {
			names = append(names, ns)
		}
		sort.Strings(names)
		for _, ns := range names {
			full := program.NamespaceFullName(file, ns)
			nb, err := p.run.Driver.TryGetNamespaceBlock(ctx, full)
			if err != nil {
				return fmt.Errorf("pipeline: structure: %w", err)
			}
			if nb == nil {
				name := ns
				if name == "" {
					name = program.GlobalNamespace
				}
				nb = graph.NewVertex(graph.LabelNamespaceBlock, graph.Props{
					graph.PropName:     graph.String(name),
					graph.PropFullName: graph.String(full),
					graph.PropFilename: graph.String(file),
				})
				cs.AddEdge(f, nb, graph.EdgeAST)
			}
			p.run.Identity.Put(nb)
		}
	}
	if cs.IsEmpty() {
		return nil
	}
	t := tallyOf(cs)
	if err := p.drv.BulkTransaction(ctx, cs); err != nil {
		return fmt.Errorf("pipeline: structure: %w", err)
	}
	res.Vertices += t.created()
	res.Edges += t.edges
	return nil
}
