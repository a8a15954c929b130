package frontend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dusk-indust/cpgraph/internal/delta"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/pipeline"
	"github.com/dusk-indust/cpgraph/internal/program"
)

const (
	anyType       = "ANY"
	byValue       = "BY_VALUE"
	staticDisp    = "STATIC_DISPATCH"
	dynamicDisp   = "DYNAMIC_DISPATCH"
	parentNSBlock = "NAMESPACE_BLOCK"
	parentType    = "TYPE_DECL"
)

// ErrNoBody is returned when a method unit carries no parsed body.
var ErrNoBody = errors.New("frontend: method has no parsed body")

// Lowerer lowers units produced by Loader. It holds no state.
type Lowerer struct{}

var _ pipeline.Lowerer = Lowerer{}

func str(s string) graph.PropValue { return graph.String(s) }
func num(n int) graph.PropValue    { return graph.Int(int64(n)) }

func typeOr(t string) string {
	if t == "" {
		return anyType
	}
	return t
}

func firstLine(src []byte) string {
	s := strings.TrimSpace(string(src))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

func modifiers(cs *delta.ChangeSet, owner *graph.Vertex, mods []string) {
	for i, m := range mods {
		cs.AddEdge(owner, graph.NewVertex(graph.LabelModifier, graph.Props{
			graph.PropModifierType: str(m),
			graph.PropCode:         str(strings.ToLower(m)),
			graph.PropOrder:        num(i + 1),
		}), graph.EdgeAST)
	}
}

// LowerStructure emits a TYPE_DECL for a class and a MEMBER for a field. A
// class whose TYPE_DECL survived from an earlier run only gets its
// modifiers back.
func (Lowerer) LowerStructure(u program.Unit, r pipeline.Resolver) (*delta.ChangeSet, error) {
	cs := delta.New()
	switch u.Kind {
	case program.KindClass:
		if td := r.Lookup(graph.LabelTypeDecl, u.FullName); td != nil {
			modifiers(cs, td, u.Modifiers)
			return cs, nil
		}
		nbName := program.NamespaceFullName(u.File, u.Namespace)
		nb := r.Lookup(graph.LabelNamespaceBlock, nbName)
		file := r.Lookup(graph.LabelFile, u.File)
		if nb == nil || file == nil {
			return nil, fmt.Errorf("frontend: class %s: namespace block %s not loaded", u.FullName, nbName)
		}
		td := graph.NewVertex(graph.LabelTypeDecl, graph.Props{
			graph.PropName:              str(u.Name),
			graph.PropFullName:          str(u.FullName),
			graph.PropHash:              str(u.Hash),
			graph.PropFilename:          str(u.File),
			graph.PropLineNumber:        num(u.Line),
			graph.PropCode:              str(firstLine(u.Source)),
			graph.PropIsExternal:        graph.Bool(false),
			graph.PropASTParentType:     str(parentNSBlock),
			graph.PropASTParentFullName: str(nbName),
		})
		cs.AddEdge(nb, td, graph.EdgeAST).AddEdge(td, file, graph.EdgeSourceFile)
		modifiers(cs, td, u.Modifiers)
		return cs, nil

	case program.KindField:
		td := r.Lookup(graph.LabelTypeDecl, u.Parent)
		if td == nil {
			return nil, fmt.Errorf("frontend: field %s: type %s not loaded", u.FullName, u.Parent)
		}
		m := graph.NewVertex(graph.LabelMember, graph.Props{
			graph.PropName:         str(u.Name),
			graph.PropFullName:     str(u.FullName),
			graph.PropHash:         str(u.Hash),
			graph.PropTypeFullName: str(typeOr(u.TypeName)),
			graph.PropCode:         str(firstLine(u.Source)),
			graph.PropLineNumber:   num(u.Line),
		})
		cs.AddEdge(td, m, graph.EdgeAST)
		modifiers(cs, m, u.Modifiers)
		return cs, nil
	}
	return nil, fmt.Errorf("frontend: cannot lower %s as structure", u.Kind)
}

// LowerHead emits METHOD with its parameters, return and modifiers.
func (Lowerer) LowerHead(u program.Unit, r pipeline.Resolver) (*delta.ChangeSet, error) {
	parentKind := parentNSBlock
	parentName := program.NamespaceFullName(u.File, u.Namespace)
	parent := r.Lookup(graph.LabelNamespaceBlock, parentName)
	if u.Parent != "" {
		parentKind, parentName = parentType, u.Parent
		parent = r.Lookup(graph.LabelTypeDecl, u.Parent)
	}
	if parent == nil {
		return nil, fmt.Errorf("frontend: method %s: parent %s not loaded", u.FullName, parentName)
	}
	file := r.Lookup(graph.LabelFile, u.File)
	if file == nil {
		return nil, fmt.Errorf("frontend: method %s: file %s not loaded", u.FullName, u.File)
	}

	m := graph.NewVertex(graph.LabelMethod, graph.Props{
		graph.PropName:              str(u.Name),
		graph.PropFullName:          str(u.FullName),
		graph.PropSignature:         str(u.Signature),
		graph.PropHash:              str(u.Hash),
		graph.PropFilename:          str(u.File),
		graph.PropLineNumber:        num(u.Line),
		graph.PropCode:              str(firstLine(u.Source)),
		graph.PropIsExternal:        graph.Bool(false),
		graph.PropASTParentType:     str(parentKind),
		graph.PropASTParentFullName: str(parentName),
	})
	cs := delta.New().
		AddEdge(parent, m, graph.EdgeAST).
		AddEdge(m, file, graph.EdgeSourceFile)
	for i, p := range u.Params {
		code := strings.TrimSpace(p.Name + " " + p.TypeName)
		cs.AddEdge(m, graph.NewVertex(graph.LabelMethodParameterIn, graph.Props{
			graph.PropName:               str(p.Name),
			graph.PropCode:               str(code),
			graph.PropOrder:              num(i + 1),
			graph.PropTypeFullName:       str(typeOr(p.TypeName)),
			graph.PropEvaluationStrategy: str(byValue),
			graph.PropLineNumber:         num(u.Line),
		}), graph.EdgeAST)
	}
	cs.AddEdge(m, graph.NewVertex(graph.LabelMethodReturn, graph.Props{
		graph.PropCode:               str("RET"),
		graph.PropTypeFullName:       str(typeOr(u.TypeName)),
		graph.PropEvaluationStrategy: str(byValue),
		graph.PropLineNumber:         num(u.Line),
	}), graph.EdgeAST)
	modifiers(cs, m, u.Modifiers)
	return cs, nil
}

// LowerBody emits the method body under the METHOD from LowerHead, with a
// linear CFG in evaluation order from METHOD to METHOD_RETURN.
func (Lowerer) LowerBody(u program.Unit, r pipeline.Resolver) (*delta.ChangeSet, error) {
	body, ok := u.Node.(*Body)
	if !ok || body == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoBody, u.FullName)
	}
	m := r.Lookup(graph.LabelMethod, u.FullName)
	if m == nil {
		return nil, fmt.Errorf("frontend: method %s: head not lowered", u.FullName)
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
		return nil, fmt.Errorf("frontend: method %s: METHOD_RETURN not lowered", u.FullName)
	}

	w := &bodyWriter{cs: delta.New(), prev: m, scopes: []map[string]*graph.Vertex{params}}
	block := w.block(m, 1, u.Line)
	w.stmts(block, body.stmts)
	w.cs.AddEdge(w.prev, ret, graph.EdgeCFG)
	return w.cs, nil
}

// bodyWriter accumulates body vertices. prev is the tail of the CFG chain.
type bodyWriter struct {
	cs     *delta.ChangeSet
	prev   *graph.Vertex
	scopes []map[string]*graph.Vertex
}

func (w *bodyWriter) lookup(name string) *graph.Vertex {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if v, ok := w.scopes[i][name]; ok {
			return v
		}
	}
	return nil
}

func (w *bodyWriter) flow(v *graph.Vertex) {
	w.cs.AddEdge(w.prev, v, graph.EdgeCFG)
	w.prev = v
}

func (w *bodyWriter) block(parent *graph.Vertex, order, line int) *graph.Vertex {
	b := graph.NewVertex(graph.LabelBlock, graph.Props{
		graph.PropCode:         str("{"),
		graph.PropOrder:        num(order),
		graph.PropLineNumber:   num(line),
		graph.PropTypeFullName: str("void"),
	})
	w.cs.AddEdge(parent, b, graph.EdgeAST)
	return b
}

// scoped lowers stmts in a fresh BLOCK with its own local scope.
func (w *bodyWriter) scoped(parent *graph.Vertex, order, line int, stmts []*stmt) {
	b := w.block(parent, order, line)
	w.scopes = append(w.scopes, map[string]*graph.Vertex{})
	w.stmts(b, stmts)
	w.scopes = w.scopes[:len(w.scopes)-1]
}

func (w *bodyWriter) stmts(block *graph.Vertex, stmts []*stmt) {
	for i, s := range stmts {
		w.stmt(block, s, i+1)
	}
}

func (w *bodyWriter) stmt(block *graph.Vertex, s *stmt, order int) {
	switch s.kind {
	case stmtLocal:
		local := graph.NewVertex(graph.LabelLocal, graph.Props{
			graph.PropName:         str(s.name),
			graph.PropCode:         str(s.name),
			graph.PropTypeFullName: str(anyType),
			graph.PropLineNumber:   num(s.line),
			graph.PropOrder:        num(order),
		})
		w.cs.AddEdge(block, local, graph.EdgeAST)
		w.scopes[len(w.scopes)-1][s.name] = local
		if s.expr != nil {
			assign := &expr{
				kind:   exprCall,
				line:   s.line,
				code:   s.code,
				name:   "<operator>.assignment",
				target: "<operator>.assignment",
				args:   []*expr{{kind: exprIdent, line: s.line, code: s.name, name: s.name}, s.expr},
			}
			w.expr(block, assign, order, 0)
		}

	case stmtExpr:
		if s.expr != nil {
			w.expr(block, s.expr, order, 0)
		}

	case stmtReturn:
		ret := graph.NewVertex(graph.LabelReturn, graph.Props{
			graph.PropCode:       str(s.code),
			graph.PropLineNumber: num(s.line),
			graph.PropOrder:      num(order),
		})
		w.cs.AddEdge(block, ret, graph.EdgeAST)
		if s.expr != nil {
			arg := w.expr(ret, s.expr, 1, 1)
			w.cs.AddEdge(ret, arg, graph.EdgeArgument)
		}
		w.flow(ret)

	case stmtControl:
		cs := graph.NewVertex(graph.LabelControlStructure, graph.Props{
			graph.PropControlStructureType: str(s.control),
			graph.PropCode:                 str(s.code),
			graph.PropLineNumber:           num(s.line),
			graph.PropOrder:                num(order),
		})
		w.cs.AddEdge(block, cs, graph.EdgeAST)
		if s.cond != nil {
			cond := w.expr(cs, s.cond, 1, 0)
			w.cs.AddEdge(cs, cond, graph.EdgeCondition)
		}
		w.flow(cs)
		w.scoped(cs, 2, s.line, s.body)
		if len(s.orElse) > 0 {
			w.scoped(cs, 3, s.line, s.orElse)
		}

	case stmtBlock:
		w.scoped(block, order, s.line, s.body)
	}
}

// expr lowers e below parent, arguments first, and appends it to the CFG.
func (w *bodyWriter) expr(parent *graph.Vertex, e *expr, order, argIndex int) *graph.Vertex {
	props := graph.Props{
		graph.PropCode:       str(e.code),
		graph.PropLineNumber: num(e.line),
		graph.PropOrder:      num(order),
	}
	if argIndex > 0 {
		props[graph.PropArgumentIndex] = num(argIndex)
	}

	var v *graph.Vertex
	switch e.kind {
	case exprIdent:
		props[graph.PropName] = str(e.name)
		props[graph.PropTypeFullName] = str(anyType)
		v = graph.NewVertex(graph.LabelIdentifier, props)
		w.cs.AddEdge(parent, v, graph.EdgeAST)
		if decl := w.lookup(e.name); decl != nil {
			w.cs.AddEdge(v, decl, graph.EdgeRef)
		}

	case exprLiteral:
		props[graph.PropTypeFullName] = str(typeOr(e.typeName))
		v = graph.NewVertex(graph.LabelLiteral, props)
		w.cs.AddEdge(parent, v, graph.EdgeAST)

	case exprField:
		props[graph.PropName] = str(e.name)
		v = graph.NewVertex(graph.LabelFieldIdentifier, props)
		w.cs.AddEdge(parent, v, graph.EdgeAST)

	case exprCall:
		dispatch := staticDisp
		if e.recv != nil {
			dispatch = dynamicDisp
		}
		props[graph.PropName] = str(e.name)
		props[graph.PropMethodFullName] = str(e.target)
		props[graph.PropDispatchType] = str(dispatch)
		props[graph.PropTypeFullName] = str(anyType)
		v = graph.NewVertex(graph.LabelCall, props)
		w.cs.AddEdge(parent, v, graph.EdgeAST)
		if e.recv != nil {
			recv := w.expr(v, e.recv, 0, 0)
			w.cs.AddEdge(v, recv, graph.EdgeReceiver)
		}
		for i, a := range e.args {
			arg := w.expr(v, a, i+1, i+1)
			w.cs.AddEdge(v, arg, graph.EdgeArgument)
		}

	default:
		props[graph.PropTypeFullName] = str(anyType)
		v = graph.NewVertex(graph.LabelUnknown, props)
		w.cs.AddEdge(parent, v, graph.EdgeAST)
	}
	w.flow(v)
	return v
}
