// Package pipeline builds a program's code property graph incrementally:
// staleness detection picks the work list, worker pools lower units into
// ChangeSets, and a single consumer applies them through the driver.
package pipeline

import (
	"context"
	"fmt"

	"github.com/dusk-indust/cpgraph/internal/cache"
	"github.com/dusk-indust/cpgraph/internal/config"
	"github.com/dusk-indust/cpgraph/internal/driver"
	"github.com/dusk-indust/cpgraph/internal/logging"
	"github.com/dusk-indust/cpgraph/internal/program"
	"github.com/dusk-indust/cpgraph/internal/staleness"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize       = 200
	DefaultChannelCapacity = 64
)

// Options sizes a Pipeline. Zero values select the defaults.
type Options struct {
	ChunkSize       int
	MaxWorkers      int // 0 means GOMAXPROCS
	ChannelCapacity int
	CacheSize       int64
	Logger          *zap.Logger
	Progress        *ProgressReporter
}

// OptionsFromConfig maps project configuration onto Options.
func OptionsFromConfig(cfg *config.ProjectConfig, log *zap.Logger) Options {
	return Options{
		ChunkSize:       cfg.Pipeline.ChunkSize,
		MaxWorkers:      cfg.Pipeline.MaxWorkers,
		ChannelCapacity: cfg.Pipeline.ChannelCapacity,
		CacheSize:       cfg.Cache.Size,
		Logger:          log,
	}
}

// RunResult summarizes one Project call.
type RunResult struct {
	RunID           string `json:"runId"`
	Changed         bool   `json:"changed"`
	New             int    `json:"new"`
	Updated         int    `json:"updated"`
	Removed         int    `json:"removed"`
	Skipped         int    `json:"skipped"`
	Failed          int    `json:"failed"`
	UnresolvedCalls int    `json:"unresolvedCalls"`
	Vertices        int    `json:"vertices"`
	Edges           int    `json:"edges"`
}

// Pipeline projects programs into a driver. Project calls must not overlap:
// the caches are scoped to one run.
type Pipeline struct {
	drv   driver.Driver
	lower Lowerer
	run   *cache.Run
	opts  Options
	log   *zap.Logger
}

// New returns a pipeline writing to drv, which must be connected.
func New(drv driver.Driver, lower Lowerer, opts Options) (*Pipeline, error) {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChannelCapacity < 1 {
		opts.ChannelCapacity = DefaultChannelCapacity
	}
	run, err := cache.NewRun(drv, opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &Pipeline{
		drv:   drv,
		lower: lower,
		run:   run,
		opts:  opts,
		log:   logging.OrNop(opts.Logger),
	}, nil
}

// Close releases the run caches.
func (p *Pipeline) Close() {
	p.run.Close()
}

// Project brings the stored graph in line with prog. An unchanged program
// costs one backend read and returns Changed=false. If any unit fails to
// lower, or the run stops on an error, the stored artifact hash is cleared
// so the next run classifies every unit again.
func (p *Pipeline) Project(ctx context.Context, prog *program.Program) (_ *RunResult, err error) {
	prog.EnsureHashes()
	res := &RunResult{RunID: uuid.NewString()}
	log := p.log.With(zap.String("run_id", res.RunID))

	ctx, span := tracer.Start(ctx, "pipeline.Project", trace.WithAttributes(
		attribute.String("run_id", res.RunID),
		attribute.Int("units", len(prog.Units)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer p.run.Clear()

	det := staleness.New(p.drv, p.run, log)
	verdict, err := det.Check(ctx, prog)
	if err != nil {
		return nil, err
	}
	if verdict == staleness.NoChange {
		log.Info("program unchanged", zap.Int("units", len(prog.Units)))
		return res, nil
	}
	res.Changed = true
	defer func() {
		if err == nil && res.Failed == 0 {
			return
		}
		if mErr := det.MarkFailed(context.WithoutCancel(ctx)); mErr != nil {
			log.Warn("could not clear artifact hash", zap.Error(mErr))
		}
	}()

	if err := p.loadStructure(ctx, prog, res); err != nil {
		return nil, err
	}

	plan, err := det.Classify(ctx, prog, verdict)
	if err != nil {
		return nil, err
	}
	if err := det.ApplyRemovals(ctx, plan); err != nil {
		return nil, err
	}
	res.New = len(plan.New)
	res.Updated = len(plan.Update)
	res.Removed = len(plan.Remove)
	res.Skipped = len(plan.Skip)

	st := newRunState(res, log)
	work := plan.Rebuild()
	classes := byKind(work, program.KindClass)
	fields := byKind(work, program.KindField)
	methods := byKind(work, program.KindMethod)

	for _, ph := range []struct {
		phase
		units []program.Unit
	}{
		{phase{name: "types", lower: p.lower.LowerStructure, final: true}, classes},
		{phase{name: "members", lower: p.lower.LowerStructure, final: true}, fields},
		{phase{name: "heads", lower: p.lower.LowerHead}, methods},
		{phase{name: "bodies", lower: p.lower.LowerBody, final: true}, methods},
	} {
		if err := p.runPhase(ctx, ph.phase, st.pending(ph.units), st); err != nil {
			return nil, err
		}
	}

	if err := p.linkCalls(ctx, st.pending(methods), st); err != nil {
		return nil, err
	}

	log.Info("run complete",
		zap.Int("new", res.New),
		zap.Int("updated", res.Updated),
		zap.Int("removed", res.Removed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("unresolved_calls", res.UnresolvedCalls),
		zap.Int("vertices", res.Vertices),
		zap.Int("edges", res.Edges),
	)
	return res, nil
}

func byKind(units []program.Unit, kind program.Kind) []program.Unit {
	var out []program.Unit
	for _, u := range units {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}
