package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/program"
	"go.uber.org/zap"
)

// operatorPrefix marks calls to built-in operators, which have no METHOD.
const operatorPrefix = "<operator>"

// linkCalls runs single-threaded after the bodies phase. Every CALL of this
// run is connected to its target METHOD, and stored callers of a rebuilt
// method are reconnected to its new root.
func (p *Pipeline) linkCalls(ctx context.Context, rebuilt []program.Unit, st *runState) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.phase.calls")
	defer span.End()
	defer func() {
		phaseDuration.WithLabelValues("calls").Observe(time.Since(start).Seconds())
		ev := ProgressEvent{RunID: st.res.RunID, Phase: "calls", Status: PhaseCompleted}
		if err != nil {
			ev.Status, ev.Message = PhaseFailed, err.Error()
		}
		p.opts.Progress.Emit(ev)
	}()
	p.opts.Progress.Emit(ProgressEvent{RunID: st.res.RunID, Phase: "calls", Status: PhaseStarted, Units: len(rebuilt)})

	cs := delta.New()
	linked := make(map[graph.Edge]struct{})
	link := func(call, target *graph.Vertex) {
		e := graph.Edge{Src: call.ID, Dst: target.ID, Label: graph.EdgeCall}
		if _, dup := linked[e]; dup {
			return
		}
		linked[e] = struct{}{}
		cs.AddEdge(call, target, graph.EdgeCall)
	}

	for _, call := range p.run.Identity.Calls() {
		if !call.Written() {
			continue
		}
		name := call.Props.String(graph.PropMethodFullName)
		if name == "" || strings.HasPrefix(name, operatorPrefix) {
			continue
		}
		target, err := p.resolveMethod(ctx, name)
		if err != nil {
			return err
		}
		if target == nil {
			st.res.UnresolvedCalls++
			st.log.Debug("unresolved call target", zap.String("method_full_name", name))
			continue
		}
		link(call, target)
	}

	for _, u := range rebuilt {
		callers := p.run.CallEdges.Take(u.FullName)
		if len(callers) == 0 {
			continue
		}
		target, err := p.resolveMethod(ctx, u.FullName)
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		for _, c := range callers {
			// A caller inside another rebuilt method was removed with it; its
			// replacement CALL was linked above.
			ok, err := p.drv.VertexExists(ctx, c)
			if err != nil {
				return fmt.Errorf("pipeline: calls: %w", err)
			}
			if ok {
				link(c, target)
			}
		}
	}

	if err := p.relinkStoredCallers(ctx, rebuilt, link); err != nil {
		return err
	}

	if cs.IsEmpty() {
		return nil
	}
	if err := p.drv.BulkTransaction(ctx, cs); err != nil {
		return fmt.Errorf("pipeline: calls: %w", err)
	}
	st.res.Edges += tallyOf(cs).edges
	return nil
}

// relinkStoredCallers connects every stored CALL naming a rebuilt method to
// it. This covers callers whose edges were dropped in an earlier run: the
// method's rebuild failed, or the method was removed and has come back.
func (p *Pipeline) relinkStoredCallers(ctx context.Context, rebuilt []program.Unit, link func(call, target *graph.Vertex)) error {
	if len(rebuilt) == 0 {
		return nil
	}
	names := make(map[string]struct{}, len(rebuilt))
	for _, u := range rebuilt {
		names[u.FullName] = struct{}{}
	}
	calls, err := p.drv.GetVertices(ctx, graph.LabelCall)
	if err != nil {
		return fmt.Errorf("pipeline: calls: %w", err)
	}
	for _, call := range calls {
		name := call.Props.String(graph.PropMethodFullName)
		if _, ok := names[name]; !ok {
			continue
		}
		target, err := p.resolveMethod(ctx, name)
		if err != nil {
			return err
		}
		if target != nil {
			link(call, target)
		}
	}
	return nil
}

// resolveMethod finds a written METHOD by full name in the identity cache,
// then through the driver cache.
func (p *Pipeline) resolveMethod(ctx context.Context, fullName string) (*graph.Vertex, error) {
	if v := p.run.Identity.Lookup(graph.LabelMethod, fullName); v.Written() {
		return v, nil
	}
	v, err := p.run.Driver.TryGetMethod(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("pipeline: calls: %w", err)
	}
	return v, nil
}
