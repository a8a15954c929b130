// Package staleness decides, from content hashes, which program units are
// rebuilt, removed or left untouched, and applies the removals.
package staleness

import (
	"context"
	"fmt"

	"github.com/dusk-indust/cpgraph/internal/cache"
	"github.com/dusk-indust/cpgraph/internal/driver"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/logging"
	"github.com/dusk-indust/cpgraph/internal/program"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("cpgraph.staleness")

var unitsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cpgraph_staleness_units_total",
	Help: "Program units classified by the staleness detector",
}, []string{"class"})

// Verdict is the outcome of comparing the artifact hash with the stored one.
type Verdict int

const (
	// NoChange means the stored hash matches; the run stops here.
	NoChange Verdict = iota
	// Fresh means the graph had no metadata; every unit is new.
	Fresh
	// Changed means the stored hash was patched and units must be classified.
	Changed
)

func (v Verdict) String() string {
	switch v {
	case NoChange:
		return "no-change"
	case Fresh:
		return "fresh"
	case Changed:
		return "changed"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Class is the classification of one program unit.
type Class string

const (
	ClassNew    Class = "new"
	ClassUpdate Class = "update"
	ClassSkip   Class = "skip"
	ClassRemove Class = "remove"
)

// Stale is a unit whose stored root vertex must be removed or rebuilt.
type Stale struct {
	Kind     program.Kind
	FullName string
	Root     *graph.Vertex
	Unit     program.Unit // zero for removals
}

// Plan is the classified work list of one run.
type Plan struct {
	New          []program.Unit
	Update       []Stale
	Skip         []program.Unit
	Remove       []Stale
	RemovedFiles []*graph.Vertex
}

// Rebuild returns the units to lower this run: updates first, then new
// units.
func (p *Plan) Rebuild() []program.Unit {
	out := make([]program.Unit, 0, len(p.Update)+len(p.New))
	for _, s := range p.Update {
		out = append(out, s.Unit)
	}
	return append(out, p.New...)
}

// RootLabel is the label of the vertex that stores a unit's HASH.
func RootLabel(k program.Kind) graph.VertexLabel {
	switch k {
	case program.KindClass:
		return graph.LabelTypeDecl
	case program.KindField:
		return graph.LabelMember
	default:
		return graph.LabelMethod
	}
}

var rootKinds = []program.Kind{program.KindMethod, program.KindField, program.KindClass}

// Detector classifies program units against the stored graph.
type Detector struct {
	drv driver.Driver
	run *cache.Run
	log *zap.Logger
}

// New returns a detector reading drv and filling the caches of run.
func New(drv driver.Driver, run *cache.Run, log *zap.Logger) *Detector {
	return &Detector{drv: drv, run: run, log: logging.OrNop(log)}
}

// Check compares the artifact hash of prog with the metadata singleton.
// A missing singleton is created; a differing hash is patched before any
// unit is read.
func (d *Detector) Check(ctx context.Context, prog *program.Program) (Verdict, error) {
	hash := prog.ArtifactHash()
	meta, err := d.drv.GetMetaData(ctx)
	if err != nil {
		return NoChange, fmt.Errorf("staleness: read metadata: %w", err)
	}
	if meta == nil {
		meta = graph.NewVertex(graph.LabelMetaData, graph.Props{
			graph.PropLanguage: graph.String(prog.Language),
			graph.PropVersion:  graph.String(prog.Version),
			graph.PropHash:     graph.String(hash),
		})
		if err := d.drv.AddVertex(ctx, meta); err != nil {
			return NoChange, fmt.Errorf("staleness: create metadata: %w", err)
		}
		d.log.Debug("metadata created", zap.String("hash", hash))
		return Fresh, nil
	}
	if meta.Props.String(graph.PropHash) == hash {
		return NoChange, nil
	}

	patch := graph.Props{graph.PropHash: graph.String(hash)}
	if prog.Language != "" && meta.Props.String(graph.PropLanguage) != prog.Language {
		patch[graph.PropLanguage] = graph.String(prog.Language)
	}
	if prog.Version != "" && meta.Props.String(graph.PropVersion) != prog.Version {
		patch[graph.PropVersion] = graph.String(prog.Version)
	}
	for _, key := range []string{graph.PropHash, graph.PropLanguage, graph.PropVersion} {
		if _, ok := patch[key]; !ok {
			continue
		}
		if err := d.drv.UpdateVertexProperty(ctx, meta.ID, graph.LabelMetaData, key, patch[key]); err != nil {
			return NoChange, fmt.Errorf("staleness: patch metadata %s: %w", key, err)
		}
	}
	d.log.Debug("artifact hash changed",
		zap.String("old", meta.Props.String(graph.PropHash)),
		zap.String("new", hash),
	)
	return Changed, nil
}

// MarkFailed clears the stored artifact hash so the next run classifies
// every unit again.
func (d *Detector) MarkFailed(ctx context.Context) error {
	meta, err := d.drv.GetMetaData(ctx)
	if err != nil {
		return fmt.Errorf("staleness: read metadata: %w", err)
	}
	if meta == nil {
		return nil
	}
	if err := d.drv.UpdateVertexProperty(ctx, meta.ID, graph.LabelMetaData, graph.PropHash, graph.String("")); err != nil {
		return fmt.Errorf("staleness: clear metadata hash: %w", err)
	}
	return nil
}

// Classify sorts every unit of prog into NEW, UPDATE, SKIP or REMOVE. SKIP
// units are loaded into the identity cache. When verdict is Fresh every
// unit is NEW and nothing is read.
func (d *Detector) Classify(ctx context.Context, prog *program.Program, verdict Verdict) (*Plan, error) {
	ctx, span := tracer.Start(ctx, "staleness.Classify", trace.WithAttributes(
		attribute.Int("units", len(prog.Units)),
		attribute.String("verdict", verdict.String()),
	))
	defer span.End()

	plan := &Plan{}
	if verdict == Fresh {
		plan.New = append(plan.New, prog.Units...)
		d.count(plan)
		return plan, nil
	}

	present := make(map[string]struct{}, len(prog.Units))
	for _, u := range prog.Units {
		present[u.Key()] = struct{}{}
		root, err := d.run.Driver.TryGet(ctx, RootLabel(u.Kind), u.FullName)
		if err != nil {
			return nil, fmt.Errorf("staleness: classify %s: %w", u.Key(), err)
		}
		switch {
		case root == nil:
			plan.New = append(plan.New, u)
		case root.Props.String(graph.PropHash) != u.Hash:
			plan.Update = append(plan.Update, Stale{Kind: u.Kind, FullName: u.FullName, Root: root, Unit: u})
		default:
			plan.Skip = append(plan.Skip, u)
			if err := d.load(ctx, u, root); err != nil {
				return nil, err
			}
		}
	}

	for _, kind := range rootKinds {
		stored, err := d.drv.GetVertices(ctx, RootLabel(kind))
		if err != nil {
			return nil, fmt.Errorf("staleness: list %s: %w", RootLabel(kind), err)
		}
		for _, v := range stored {
			// Vertices without a hash are not unit roots, e.g. external stubs.
			if v.Props.String(graph.PropHash) == "" {
				continue
			}
			if _, ok := present[program.Key(kind, v.FullName())]; ok {
				continue
			}
			plan.Remove = append(plan.Remove, Stale{Kind: kind, FullName: v.FullName(), Root: v})
		}
	}

	files := make(map[string]struct{})
	for _, f := range prog.Files() {
		files[f] = struct{}{}
	}
	storedFiles, err := d.drv.GetVertices(ctx, graph.LabelFile)
	if err != nil {
		return nil, fmt.Errorf("staleness: list files: %w", err)
	}
	for _, f := range storedFiles {
		if _, ok := files[f.FullName()]; !ok {
			plan.RemovedFiles = append(plan.RemovedFiles, f)
		}
	}

	d.count(plan)
	d.log.Debug("units classified",
		zap.Int("new", len(plan.New)),
		zap.Int("update", len(plan.Update)),
		zap.Int("skip", len(plan.Skip)),
		zap.Int("remove", len(plan.Remove)),
		zap.Int("removed_files", len(plan.RemovedFiles)),
	)
	return plan, nil
}

// load puts the stored vertices of an unchanged unit into the identity
// cache: the TYPE_DECL of a class, the head of a method, the MEMBER of a
// field.
func (d *Detector) load(ctx context.Context, u program.Unit, root *graph.Vertex) error {
	vs := []*graph.Vertex{root}
	if u.Kind == program.KindMethod {
		head, err := d.drv.GetMethod(ctx, u.FullName, false)
		if err != nil {
			return fmt.Errorf("staleness: load %s: %w", u.Key(), err)
		}
		for _, v := range head.VertexList() {
			if v.ID != root.ID {
				vs = append(vs, v)
			}
		}
	}
	d.run.Identity.Put(vs...)
	d.run.Identity.AddUnit(u.Key(), vs...)
	return nil
}

func (d *Detector) count(p *Plan) {
	unitsClassified.WithLabelValues(string(ClassNew)).Add(float64(len(p.New)))
	unitsClassified.WithLabelValues(string(ClassUpdate)).Add(float64(len(p.Update)))
	unitsClassified.WithLabelValues(string(ClassSkip)).Add(float64(len(p.Skip)))
	unitsClassified.WithLabelValues(string(ClassRemove)).Add(float64(len(p.Remove)))
}
