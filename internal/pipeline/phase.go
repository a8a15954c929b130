package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/program"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// phase is one parallel lowering stage. Non-final phases buffer their
// ChangeSets until a later phase completes the unit.
type phase struct {
	name  string
	lower func(program.Unit, Resolver) (*delta.ChangeSet, error)
	final bool
}

// message is what a worker sends per unit: a ChangeSet or a lowering
// failure, never both.
type message struct {
	key string
	cs  *delta.ChangeSet
	err error
}

// runState is owned by the consumer goroutine.
type runState struct {
	res    *RunResult
	log    *zap.Logger
	buffer map[string]*delta.ChangeSet
	failed map[string]struct{}
}

func newRunState(res *RunResult, log *zap.Logger) *runState {
	return &runState{
		res:    res,
		log:    log,
		buffer: make(map[string]*delta.ChangeSet),
		failed: make(map[string]struct{}),
	}
}

// pending drops units that failed in an earlier phase.
func (st *runState) pending(units []program.Unit) []program.Unit {
	out := make([]program.Unit, 0, len(units))
	for _, u := range units {
		if _, bad := st.failed[u.Key()]; !bad {
			out = append(out, u)
		}
	}
	return out
}

// workers returns min(max(1, units/chunkSize), GOMAXPROCS), capped by
// MaxWorkers when set.
func (p *Pipeline) workers(units int) int {
	n := min(max(1, units/p.opts.ChunkSize), runtime.GOMAXPROCS(0))
	if p.opts.MaxWorkers > 0 {
		n = min(n, p.opts.MaxWorkers)
	}
	return n
}

// runPhase lowers units on a bounded worker pool and applies the results
// from the calling goroutine, which receives exactly len(units) messages.
// A consumer error cancels the producers.
func (p *Pipeline) runPhase(ctx context.Context, ph phase, units []program.Unit, st *runState) (err error) {
	if len(units) == 0 {
		return nil
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.phase."+ph.name, trace.WithAttributes(
		attribute.Int("units", len(units)),
	))
	defer span.End()
	defer func() {
		phaseDuration.WithLabelValues(ph.name).Observe(time.Since(start).Seconds())
		ev := ProgressEvent{RunID: st.res.RunID, Phase: ph.name, Status: PhaseCompleted, Units: len(units)}
		if err != nil {
			ev.Status, ev.Message = PhaseFailed, err.Error()
		}
		p.opts.Progress.Emit(ev)
	}()
	p.opts.Progress.Emit(ProgressEvent{RunID: st.res.RunID, Phase: ph.name, Status: PhaseStarted, Units: len(units)})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers(len(units)))
	ch := make(chan message, p.opts.ChannelCapacity)

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for _, part := range chunk(units, p.opts.ChunkSize) {
			if gctx.Err() != nil {
				return
			}
			g.Go(func() error {
				for _, u := range part {
					cs, err := ph.lower(u, p.run.Identity)
					select {
					case ch <- message{key: u.Key(), cs: cs, err: err}:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}
	}()

	stop := func(err error) error {
		cancel()
		<-dispatched
		_ = g.Wait()
		return err
	}

	for range units {
		var m message
		select {
		case m = <-ch:
		case <-gctx.Done():
			return stop(fmt.Errorf("pipeline: %s: %w", ph.name, context.Cause(gctx)))
		}
		if err := p.consume(ctx, ph, m, st); err != nil {
			return stop(err)
		}
	}
	<-dispatched
	return g.Wait()
}

// consume merges m with the unit's buffered ChangeSet, records its vertices
// in the identity cache and, for final phases, applies the merged set.
func (p *Pipeline) consume(ctx context.Context, ph phase, m message, st *runState) error {
	if m.err != nil {
		delete(st.buffer, m.key)
		if _, seen := st.failed[m.key]; !seen {
			st.failed[m.key] = struct{}{}
			st.res.Failed++
		}
		unitOutcomes.WithLabelValues(ph.name, "skipped").Inc()
		st.log.Warn("lowering skipped",
			zap.String("phase", ph.name),
			zap.String("unit", m.key),
			zap.Error(fmt.Errorf("%w: %w", graph.ErrLoweringSkip, m.err)),
		)
		return nil
	}

	merged := m.cs
	if prev, ok := st.buffer[m.key]; ok {
		merged = prev.Merge(m.cs)
		delete(st.buffer, m.key)
	}
	vs := m.cs.Vertices()
	p.run.Identity.Put(vs...)
	p.run.Identity.AddUnit(m.key, vs...)

	if !ph.final {
		st.buffer[m.key] = merged
		unitOutcomes.WithLabelValues(ph.name, "buffered").Inc()
		return nil
	}
	if merged.IsEmpty() {
		return nil
	}
	t := tallyOf(merged)
	if err := p.drv.BulkTransaction(ctx, merged); err != nil {
		return fmt.Errorf("pipeline: %s: apply %s: %w", ph.name, m.key, err)
	}
	st.res.Vertices += t.created()
	st.res.Edges += t.edges
	unitOutcomes.WithLabelValues(ph.name, "applied").Inc()
	return nil
}

// tally records what a ChangeSet adds. Taken before the transaction, it
// lets created count only the vertices the transaction wrote, not endpoints
// that were already stored.
type tally struct {
	fresh []*graph.Vertex
	edges int
}

func tallyOf(cs *delta.ChangeSet) tally {
	var t tally
	for _, v := range cs.Vertices() {
		if !v.Written() {
			t.fresh = append(t.fresh, v)
		}
	}
	for _, m := range cs.Build() {
		if _, ok := m.(delta.EdgeAdd); ok {
			t.edges++
		}
	}
	return t
}

func (t tally) created() int {
	n := 0
	for _, v := range t.fresh {
		if v.Written() {
			n++
		}
	}
	return n
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
