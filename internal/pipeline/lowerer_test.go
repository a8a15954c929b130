package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/program"
)

// stubLowerer lowers units without parsing. A method's Source is either
// "fail", "calls:<full name>,..." for a body of plain calls, or anything
// else for the body of `x = a + b`.
type stubLowerer struct{}

var _ Lowerer = stubLowerer{}

func prop(s string) graph.PropValue { return graph.String(s) }

func (stubLowerer) LowerStructure(u program.Unit, r Resolver) (*delta.ChangeSet, error) {
	cs := delta.New()
	switch u.Kind {
	case program.KindClass:
		if td := r.Lookup(graph.LabelTypeDecl, u.FullName); td != nil {
			return cs, nil
		}
		nb := r.Lookup(graph.LabelNamespaceBlock, program.NamespaceFullName(u.File, u.Namespace))
		if nb == nil {
			return nil, errors.New("namespace block not loaded")
		}
		td := graph.NewVertex(graph.LabelTypeDecl, graph.Props{
			graph.PropName:     prop(u.Name),
			graph.PropFullName: prop(u.FullName),
			graph.PropHash:     prop(u.Hash),
		})
		return cs.AddEdge(nb, td, graph.EdgeAST), nil
	case program.KindField:
		td := r.Lookup(graph.LabelTypeDecl, u.Parent)
		if td == nil {
			return nil, fmt.Errorf("parent %s not loaded", u.Parent)
		}
		m := graph.NewVertex(graph.LabelMember, graph.Props{
			graph.PropName:     prop(u.Name),
			graph.PropFullName: prop(u.FullName),
			graph.PropHash:     prop(u.Hash),
		})
		return cs.AddEdge(td, m, graph.EdgeAST), nil
	}
	return nil, fmt.Errorf("unexpected %s", u.Kind)
}

func (stubLowerer) LowerHead(u program.Unit, r Resolver) (*delta.ChangeSet, error) {
	if string(u.Source) == "fail" {
		return nil, errors.New("unsupported syntax")
	}
	parent := r.Lookup(graph.LabelNamespaceBlock, program.NamespaceFullName(u.File, u.Namespace))
	if u.Parent != "" {
		parent = r.Lookup(graph.LabelTypeDecl, u.Parent)
	}
	file := r.Lookup(graph.LabelFile, u.File)
	if parent == nil || file == nil {
		return nil, errors.New("parent not loaded")
	}
	m := graph.NewVertex(graph.LabelMethod, graph.Props{
		graph.PropName:     prop(u.Name),
		graph.PropFullName: prop(u.FullName),
		graph.PropHash:     prop(u.Hash),
	})
	cs := delta.New().
		AddEdge(parent, m, graph.EdgeAST).
		AddEdge(m, file, graph.EdgeSourceFile)
	for i, p := range u.Params {
		cs.AddEdge(m, graph.NewVertex(graph.LabelMethodParameterIn, graph.Props{
			graph.PropName:  prop(p.Name),
			graph.PropOrder: graph.Int(int64(i + 1)),
		}), graph.EdgeAST)
	}
	cs.AddEdge(m, graph.NewVertex(graph.LabelMethodReturn, nil), graph.EdgeAST)
	return cs, nil
}

func (stubLowerer) LowerBody(u program.Unit, r Resolver) (*delta.ChangeSet, error) {
	m := r.Lookup(graph.LabelMethod, u.FullName)
	if m == nil {
		return nil, errors.New("method head missing")
	}
	params := make(map[string]*graph.Vertex)
	var ret *graph.Vertex
	for _, v := range r.Unit(u.Key()) {
		switch v.Label {
		case graph.LabelMethodParameterIn:
			params[v.Props.String(graph.PropName)] = v
		case graph.LabelMethodReturn:
			ret = v
		}
	}
	if ret == nil {
		return nil, errors.New("method return missing")
	}

	cs := delta.New()
	block := graph.NewVertex(graph.LabelBlock, nil)
	cs.AddEdge(m, block, graph.EdgeAST)

	if callees, ok := strings.CutPrefix(string(u.Source), "calls:"); ok {
		prev := m
		for _, callee := range strings.Split(callees, ",") {
			c := graph.NewVertex(graph.LabelCall, graph.Props{
				graph.PropName:           prop(callee),
				graph.PropMethodFullName: prop(callee),
			})
			cs.AddEdge(block, c, graph.EdgeAST).AddEdge(prev, c, graph.EdgeCFG)
			prev = c
		}
		return cs.AddEdge(prev, ret, graph.EdgeCFG), nil
	}

	// x = a + b
	local := graph.NewVertex(graph.LabelLocal, graph.Props{graph.PropName: prop("x")})
	assign := graph.NewVertex(graph.LabelCall, graph.Props{graph.PropMethodFullName: prop("<operator>.assignment")})
	add := graph.NewVertex(graph.LabelCall, graph.Props{graph.PropMethodFullName: prop("<operator>.addition")})
	x := graph.NewVertex(graph.LabelIdentifier, graph.Props{graph.PropName: prop("x")})
	a := graph.NewVertex(graph.LabelIdentifier, graph.Props{graph.PropName: prop("a")})
	b := graph.NewVertex(graph.LabelIdentifier, graph.Props{graph.PropName: prop("b")})
	cs.AddEdge(block, local, graph.EdgeAST).
		AddEdge(block, assign, graph.EdgeAST).
		AddEdge(assign, x, graph.EdgeAST).
		AddEdge(assign, add, graph.EdgeAST).
		AddEdge(assign, x, graph.EdgeArgument).
		AddEdge(assign, add, graph.EdgeArgument).
		AddEdge(add, a, graph.EdgeAST).
		AddEdge(add, b, graph.EdgeAST).
		AddEdge(add, a, graph.EdgeArgument).
		AddEdge(add, b, graph.EdgeArgument).
		AddEdge(x, local, graph.EdgeRef).
		AddEdge(m, a, graph.EdgeCFG).
		AddEdge(a, b, graph.EdgeCFG).
		AddEdge(b, add, graph.EdgeCFG).
		AddEdge(add, x, graph.EdgeCFG).
		AddEdge(x, assign, graph.EdgeCFG).
		AddEdge(assign, ret, graph.EdgeCFG)
	if p := params["a"]; p != nil {
		cs.AddEdge(a, p, graph.EdgeRef)
	}
	if p := params["b"]; p != nil {
		cs.AddEdge(b, p, graph.EdgeRef)
	}
	return cs, nil
}
