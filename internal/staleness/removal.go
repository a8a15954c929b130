package staleness

import (
	"context"
	"fmt"

	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/program"
	"go.uber.org/zap"
)

// ApplyRemovals deletes what the plan removes, then prepares UPDATE units
// for rebuild: methods and fields are removed, classes are patched in place.
func (d *Detector) ApplyRemovals(ctx context.Context, plan *Plan) error {
	ctx, span := tracer.Start(ctx, "staleness.ApplyRemovals")
	defer span.End()

	// Methods first: their incoming calls must be saved before a class
	// cascade would take them.
	for _, kind := range rootKinds {
		for _, s := range plan.Remove {
			if s.Kind != kind {
				continue
			}
			if err := d.remove(ctx, s); err != nil {
				return err
			}
		}
	}
	for _, s := range plan.Update {
		var err error
		if s.Kind == program.KindClass {
			err = d.markClass(ctx, s)
		} else {
			err = d.remove(ctx, s)
		}
		if err != nil {
			return err
		}
	}
	for _, f := range plan.RemovedFiles {
		if err := d.removeFile(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (d *Detector) remove(ctx context.Context, s Stale) error {
	label := RootLabel(s.Kind)
	var err error
	switch s.Kind {
	case program.KindMethod:
		if err = d.saveCallEdges(ctx, s); err != nil {
			return err
		}
		err = d.drv.DeleteMethod(ctx, s.FullName)
	case program.KindClass:
		err = d.drv.DeleteTypeDecl(ctx, s.FullName)
	default:
		err = d.drv.DeleteVertex(ctx, s.Root.ID, label)
	}
	if err != nil {
		return fmt.Errorf("staleness: remove %s: %w", program.Key(s.Kind, s.FullName), err)
	}
	d.run.Driver.Forget(label, s.FullName)
	d.run.Identity.Forget(label, s.FullName)
	d.log.Debug("removed unit", zap.String("kind", string(s.Kind)), zap.String("full_name", s.FullName))
	return nil
}

// saveCallEdges remembers the CALL vertices that call the method so the
// call-graph phase can reconnect them to its rebuilt root.
func (d *Detector) saveCallEdges(ctx context.Context, s Stale) error {
	nb, err := d.drv.GetNeighbours(ctx, s.Root)
	if err != nil {
		return fmt.Errorf("staleness: save call edges of %s: %w", s.FullName, err)
	}
	for _, e := range nb.Edges {
		if e.Label != graph.EdgeCall || e.Dst != s.Root.ID {
			continue
		}
		if caller, ok := nb.Vertices[e.Src]; ok {
			d.run.CallEdges.Save(s.FullName, caller)
		}
	}
	return nil
}

// markClass patches the stored TYPE_DECL of an updated class: the new HASH
// is written and its MODIFIER children are dropped so lowering can emit
// them again. Members and methods are kept.
func (d *Detector) markClass(ctx context.Context, s Stale) error {
	td := s.Root
	if err := d.drv.UpdateVertexProperty(ctx, td.ID, graph.LabelTypeDecl, graph.PropHash, graph.String(s.Unit.Hash)); err != nil {
		return fmt.Errorf("staleness: patch %s hash: %w", s.FullName, err)
	}
	nb, err := d.drv.GetNeighbours(ctx, td)
	if err != nil {
		return fmt.Errorf("staleness: read %s: %w", s.FullName, err)
	}
	for _, e := range nb.Edges {
		if e.Src != td.ID || e.Label != graph.EdgeAST {
			continue
		}
		if child, ok := nb.Vertices[e.Dst]; ok && child.Label == graph.LabelModifier {
			if err := d.drv.DeleteVertex(ctx, child.ID, child.Label); err != nil {
				return fmt.Errorf("staleness: drop modifier of %s: %w", s.FullName, err)
			}
		}
	}
	td.Props[graph.PropHash] = graph.String(s.Unit.Hash)
	d.run.Identity.Put(td)
	d.run.Identity.AddUnit(s.Unit.Key(), td)
	return nil
}

// removeFile deletes a FILE vertex whose file left the compilation,
// together with its NAMESPACE_BLOCKs.
func (d *Detector) removeFile(ctx context.Context, f *graph.Vertex) error {
	nb, err := d.drv.GetNeighbours(ctx, f)
	if err != nil {
		return fmt.Errorf("staleness: read file %s: %w", f.FullName(), err)
	}
	for _, e := range nb.Edges {
		if e.Src != f.ID || e.Label != graph.EdgeAST {
			continue
		}
		if ns, ok := nb.Vertices[e.Dst]; ok && ns.Label == graph.LabelNamespaceBlock {
			if err := d.drv.DeleteVertex(ctx, ns.ID, ns.Label); err != nil {
				return fmt.Errorf("staleness: remove namespace %s: %w", ns.FullName(), err)
			}
			d.run.Driver.Forget(ns.Label, ns.FullName())
			d.run.Identity.Forget(ns.Label, ns.FullName())
		}
	}
	if err := d.drv.DeleteVertex(ctx, f.ID, graph.LabelFile); err != nil {
		return fmt.Errorf("staleness: remove file %s: %w", f.FullName(), err)
	}
	d.run.Driver.Forget(graph.LabelFile, f.FullName())
	d.run.Identity.Forget(graph.LabelFile, f.FullName())
	d.log.Debug("removed file", zap.String("file", f.FullName()))
	return nil
}
