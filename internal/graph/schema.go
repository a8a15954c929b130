package graph

// --- Enums ---

// VertexLabel classifies vertices in the code property graph. The set is
// closed: backends may reject labels outside of AllVertexLabels.
type VertexLabel string

const (
	LabelMetaData          VertexLabel = "META_DATA"
	LabelFile              VertexLabel = "FILE"
	LabelNamespaceBlock    VertexLabel = "NAMESPACE_BLOCK"
	LabelTypeDecl          VertexLabel = "TYPE_DECL"
	LabelType              VertexLabel = "TYPE"
	LabelTypeParameter     VertexLabel = "TYPE_PARAMETER"
	LabelBinding           VertexLabel = "BINDING"
	LabelMember            VertexLabel = "MEMBER"
	LabelModifier          VertexLabel = "MODIFIER"
	LabelMethod            VertexLabel = "METHOD"
	LabelMethodParameterIn VertexLabel = "METHOD_PARAMETER_IN"
	LabelMethodReturn      VertexLabel = "METHOD_RETURN"
	LabelBlock             VertexLabel = "BLOCK"
	LabelLocal             VertexLabel = "LOCAL"
	LabelCall              VertexLabel = "CALL"
	LabelIdentifier        VertexLabel = "IDENTIFIER"
	LabelFieldIdentifier   VertexLabel = "FIELD_IDENTIFIER"
	LabelLiteral           VertexLabel = "LITERAL"
	LabelReturn            VertexLabel = "RETURN"
	LabelControlStructure  VertexLabel = "CONTROL_STRUCTURE"
	LabelJumpTarget        VertexLabel = "JUMP_TARGET"
	LabelMethodRef         VertexLabel = "METHOD_REF"
	LabelUnknown           VertexLabel = "UNKNOWN"
)

// AllVertexLabels lists every vertex label in declaration order.
var AllVertexLabels = []VertexLabel{
	LabelMetaData, LabelFile, LabelNamespaceBlock, LabelTypeDecl, LabelType,
	LabelTypeParameter, LabelBinding, LabelMember, LabelModifier, LabelMethod,
	LabelMethodParameterIn, LabelMethodReturn, LabelBlock, LabelLocal, LabelCall,
	LabelIdentifier, LabelFieldIdentifier, LabelLiteral, LabelReturn,
	LabelControlStructure, LabelJumpTarget, LabelMethodRef, LabelUnknown,
}

// Valid reports whether l is a member of the closed label set.
func (l VertexLabel) Valid() bool {
	for _, known := range AllVertexLabels {
		if l == known {
			return true
		}
	}
	return false
}

// EdgeLabel classifies directed relationships between vertices.
type EdgeLabel string

const (
	EdgeAST          EdgeLabel = "AST"
	EdgeCFG          EdgeLabel = "CFG"
	EdgeArgument     EdgeLabel = "ARGUMENT"
	EdgeReceiver     EdgeLabel = "RECEIVER"
	EdgeCondition    EdgeLabel = "CONDITION"
	EdgeRef          EdgeLabel = "REF"
	EdgeCall         EdgeLabel = "CALL"
	EdgeEvalType     EdgeLabel = "EVAL_TYPE"
	EdgeSourceFile   EdgeLabel = "SOURCE_FILE"
	EdgeBinds        EdgeLabel = "BINDS"
	EdgeContains     EdgeLabel = "CONTAINS"
	EdgeInheritsFrom EdgeLabel = "INHERITS_FROM"
)

// AllEdgeLabels lists every edge label in declaration order.
var AllEdgeLabels = []EdgeLabel{
	EdgeAST, EdgeCFG, EdgeArgument, EdgeReceiver, EdgeCondition, EdgeRef,
	EdgeCall, EdgeEvalType, EdgeSourceFile, EdgeBinds, EdgeContains, EdgeInheritsFrom,
}

// Property keys shared by the core and the front end.
const (
	PropName                    = "NAME"
	PropFullName                = "FULL_NAME"
	PropSignature               = "SIGNATURE"
	PropCode                    = "CODE"
	PropHash                    = "HASH"
	PropLineNumber              = "LINE_NUMBER"
	PropColumnNumber            = "COLUMN_NUMBER"
	PropOrder                   = "ORDER"
	PropArgumentIndex           = "ARGUMENT_INDEX"
	PropLanguage                = "LANGUAGE"
	PropVersion                 = "VERSION"
	PropFilename                = "FILENAME"
	PropTypeFullName            = "TYPE_FULL_NAME"
	PropMethodFullName          = "METHOD_FULL_NAME"
	PropDispatchType            = "DISPATCH_TYPE"
	PropModifierType            = "MODIFIER_TYPE"
	PropControlStructureType    = "CONTROL_STRUCTURE_TYPE"
	PropEvaluationStrategy      = "EVALUATION_STRATEGY"
	PropIsExternal              = "IS_EXTERNAL"
	PropASTParentType           = "AST_PARENT_TYPE"
	PropASTParentFullName       = "AST_PARENT_FULL_NAME"
	PropDynamicTypeHintFullName = "DYNAMIC_TYPE_HINT_FULL_NAME"
	PropOverlays                = "OVERLAYS"
)

// --- Models ---

// Vertex is a typed record in the graph. ID is zero until the vertex has
// been written; after a successful write it holds the backend identifier.
type Vertex struct {
	ID    int64       `json:"id"`
	Label VertexLabel `json:"label"`
	Props Props       `json:"props"`
}

// NewVertex returns an unwritten vertex with the given label and properties.
func NewVertex(label VertexLabel, props Props) *Vertex {
	if props == nil {
		props = Props{}
	}
	return &Vertex{Label: label, Props: props}
}

// Written reports whether the vertex has been assigned a backend identifier.
func (v *Vertex) Written() bool { return v != nil && v.ID != 0 }

// FullName returns the FULL_NAME property, or "" when unset.
func (v *Vertex) FullName() string { return v.Props.String(PropFullName) }

// Clone returns a deep copy of v.
func (v *Vertex) Clone() *Vertex {
	return &Vertex{ID: v.ID, Label: v.Label, Props: v.Props.Clone()}
}

// Edge is a directed, labelled relation between two written vertices.
// Edges have no identity of their own.
type Edge struct {
	Src   int64     `json:"src"`
	Dst   int64     `json:"dst"`
	Label EdgeLabel `json:"label"`
}

// Direction selects incident edges relative to a vertex.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// GraphStats summarizes a subgraph.
type GraphStats struct {
	VertexCount int                 `json:"vertexCount"`
	EdgeCount   int                 `json:"edgeCount"`
	ByLabel     map[VertexLabel]int `json:"byLabel"`
}
