package graph

import "fmt"

// labelSet is an unordered set of vertex labels.
type labelSet map[VertexLabel]struct{}

func setOf(labels ...VertexLabel) labelSet {
	s := make(labelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

func union(sets ...labelSet) labelSet {
	out := labelSet{}
	for _, s := range sets {
		for l := range s {
			out[l] = struct{}{}
		}
	}
	return out
}

var (
	// expressions are the vertices that may appear in statement position.
	expressions = setOf(
		LabelCall, LabelIdentifier, LabelFieldIdentifier, LabelLiteral, LabelMethodRef,
		LabelReturn, LabelControlStructure, LabelBlock, LabelUnknown, LabelJumpTarget,
	)
	cfgTargets = union(expressions, setOf(LabelMethodReturn))
	typed      = setOf(LabelType)
)

// validOutEdges maps source label -> edge label -> allowed target labels.
var validOutEdges = map[VertexLabel]map[EdgeLabel]labelSet{
	LabelFile: {
		EdgeAST:      setOf(LabelNamespaceBlock),
		EdgeContains: setOf(LabelTypeDecl, LabelMethod),
	},
	LabelNamespaceBlock: {
		EdgeAST:        setOf(LabelTypeDecl, LabelMethod),
		EdgeSourceFile: setOf(LabelFile),
	},
	LabelTypeDecl: {
		EdgeAST:          setOf(LabelTypeParameter, LabelMember, LabelModifier, LabelMethod, LabelTypeDecl),
		EdgeBinds:        setOf(LabelBinding),
		EdgeSourceFile:   setOf(LabelFile),
		EdgeInheritsFrom: typed,
	},
	LabelType: {
		EdgeRef: setOf(LabelTypeDecl),
	},
	LabelBinding: {
		EdgeRef: setOf(LabelMethod),
	},
	LabelMember: {
		EdgeAST:      setOf(LabelModifier),
		EdgeEvalType: typed,
	},
	LabelMethod: {
		EdgeAST: setOf(
			LabelMethodParameterIn, LabelMethodReturn, LabelModifier, LabelBlock, LabelTypeParameter,
		),
		EdgeCFG:        cfgTargets,
		EdgeSourceFile: setOf(LabelFile),
		EdgeContains:   expressions,
	},
	LabelMethodParameterIn: {
		EdgeEvalType: typed,
	},
	LabelMethodReturn: {
		EdgeEvalType: typed,
	},
	LabelLocal: {
		EdgeEvalType: typed,
	},
	LabelBlock: {
		EdgeAST:      union(expressions, setOf(LabelLocal)),
		EdgeCFG:      cfgTargets,
		EdgeEvalType: typed,
	},
	LabelCall: {
		EdgeAST:      expressions,
		EdgeArgument: expressions,
		EdgeReceiver: expressions,
		EdgeCFG:      cfgTargets,
		EdgeCall:     setOf(LabelMethod),
		EdgeEvalType: typed,
	},
	LabelIdentifier: {
		EdgeRef:      setOf(LabelLocal, LabelMethodParameterIn),
		EdgeCFG:      cfgTargets,
		EdgeEvalType: typed,
	},
	LabelFieldIdentifier: {
		EdgeCFG: cfgTargets,
	},
	LabelLiteral: {
		EdgeCFG:      cfgTargets,
		EdgeEvalType: typed,
	},
	LabelMethodRef: {
		EdgeRef:      setOf(LabelMethod),
		EdgeCFG:      cfgTargets,
		EdgeEvalType: typed,
	},
	LabelReturn: {
		EdgeAST:      expressions,
		EdgeArgument: expressions,
		EdgeCFG:      cfgTargets,
	},
	LabelControlStructure: {
		EdgeAST:       expressions,
		EdgeCondition: expressions,
		EdgeCFG:       cfgTargets,
	},
	LabelJumpTarget: {
		EdgeCFG: cfgTargets,
	},
	LabelUnknown: {
		EdgeAST:      expressions,
		EdgeCFG:      cfgTargets,
		EdgeEvalType: typed,
	},
}

// CheckSchemaConstraints reports whether an edge with the given label may
// connect a src vertex to a dst vertex. It returns a *SchemaViolationError
// when the source label has no table entry, the edge label is not allowed
// from that source, or the target label is not an allowed destination.
func CheckSchemaConstraints(src, dst VertexLabel, edge EdgeLabel) error {
	out, ok := validOutEdges[src]
	if !ok {
		return &SchemaViolationError{Src: src, Edge: edge, Dst: dst, Reason: "source label has no outgoing edges"}
	}
	targets, ok := out[edge]
	if !ok {
		return &SchemaViolationError{Src: src, Edge: edge, Dst: dst, Reason: "edge label not allowed from source"}
	}
	if _, ok := targets[dst]; !ok {
		return &SchemaViolationError{Src: src, Edge: edge, Dst: dst, Reason: "target label not allowed"}
	}
	return nil
}

// SchemaViolationError is returned when an edge is not in the compatibility
// table. It matches ErrSchemaViolation under errors.Is.
type SchemaViolationError struct {
	Src    VertexLabel
	Edge   EdgeLabel
	Dst    VertexLabel
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation: %s -[%s]-> %s: %s", e.Src, e.Edge, e.Dst, e.Reason)
}

func (e *SchemaViolationError) Is(target error) bool {
	return target == ErrSchemaViolation
}
