package frontend

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Body is the language-neutral form of a method body. The loader builds it
// while the syntax tree is alive, so lowering never touches tree-sitter and
// the tree can be released right after loading.
type Body struct {
	receiver string // Go receiver variable
	stmts    []*stmt
	calls    []*expr // non-operator calls, resolved after loading
}

type stmtKind uint8

const (
	stmtExpr stmtKind = iota
	stmtLocal
	stmtReturn
	stmtControl
	stmtBlock
)

type stmt struct {
	kind    stmtKind
	line    int
	code    string
	name    string // stmtLocal: declared name
	control string // stmtControl: CONTROL_STRUCTURE_TYPE
	expr    *expr  // expression, local initializer or return value; may be nil
	cond    *expr
	body    []*stmt
	orElse  []*stmt
}

type exprKind uint8

const (
	exprIdent exprKind = iota
	exprLiteral
	exprField
	exprCall
	exprUnknown
)

type expr struct {
	kind     exprKind
	line     int
	code     string
	name     string // identifier, field or call name; operator name for operator calls
	typeName string // literals
	recv     *expr
	args     []*expr
	callee   callee
	target   string // resolved METHOD_FULL_NAME
}

// callee is a call target as written: recv.name, or name alone.
type callee struct {
	recv string
	name string
	text string
}

// bodyBuilder converts one method body into statements.
type bodyBuilder struct {
	g        *grammar
	src      []byte
	declared map[string]bool
	calls    []*expr
}

func newBodyBuilder(g *grammar, src []byte, params []string) *bodyBuilder {
	b := &bodyBuilder{g: g, src: src, declared: make(map[string]bool)}
	for _, p := range params {
		b.declared[p] = true
	}
	return b
}

func (b *bodyBuilder) text(n *tree_sitter.Node) string {
	return n.Utf8Text(b.src)
}

// code returns the first line of a node's text.
func (b *bodyBuilder) code(n *tree_sitter.Node) string {
	s := strings.TrimSpace(b.text(n))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

// build converts a function body node, which may be a block or a bare
// expression (arrow functions, Rust expression bodies).
func (b *bodyBuilder) build(body *tree_sitter.Node) []*stmt {
	if body == nil {
		return nil
	}
	if b.g.blocks.has(body.Kind()) {
		return b.stmts(body)
	}
	return b.stmt(body)
}

func (b *bodyBuilder) stmts(block *tree_sitter.Node) []*stmt {
	var out []*stmt
	for _, c := range namedChildren(block) {
		k := c.Kind()
		switch {
		case b.g.skip.has(k):
		case b.g.inline.has(k):
			out = append(out, b.stmts(c)...)
		default:
			out = append(out, b.stmt(c)...)
		}
	}
	return out
}

func (b *bodyBuilder) stmt(n *tree_sitter.Node) []*stmt {
	k := n.Kind()
	if b.g.skip.has(k) {
		return nil
	}
	if b.g.declare != nil {
		if decls, ok := b.g.declare(n, b.src); ok {
			out := make([]*stmt, 0, len(decls))
			for _, d := range decls {
				b.declared[d.name] = true
				out = append(out, &stmt{kind: stmtLocal, line: line(n), code: b.code(n), name: d.name, expr: b.expr(d.value)})
			}
			return out
		}
	}
	if local := b.pyLocal(n); local != nil {
		return []*stmt{local}
	}

	switch {
	case b.g.blocks.has(k):
		return []*stmt{{kind: stmtBlock, line: line(n), body: b.stmts(n)}}
	case b.g.inline.has(k):
		return b.stmts(n)
	case b.g.exprStmts.has(k):
		var out []*stmt
		for _, c := range namedChildren(n) {
			out = append(out, b.stmt(c)...)
		}
		return out
	case b.g.returns.has(k):
		return []*stmt{{kind: stmtReturn, line: line(n), code: b.code(n), expr: b.exprList(firstNamed(n, b.g.skip))}}
	case b.g.ifs.has(k) || k == "elif_clause":
		return b.ifStmt(n)
	}
	if ctype, ok := b.g.loops[k]; ok {
		return []*stmt{b.loop(n, ctype)}
	}
	return []*stmt{{kind: stmtExpr, line: line(n), code: b.code(n), expr: b.expr(n)}}
}

// pyLocal turns the first assignment to a plain name into a declaration.
func (b *bodyBuilder) pyLocal(n *tree_sitter.Node) *stmt {
	if b.g.lang != LangPython || n.Kind() != "assignment" {
		return nil
	}
	left := n.ChildByFieldName("left")
	if left == nil || left.Kind() != "identifier" {
		return nil
	}
	name := b.text(left)
	if b.declared[name] {
		return nil
	}
	b.declared[name] = true
	return &stmt{kind: stmtLocal, line: line(n), code: b.code(n), name: name, expr: b.expr(n.ChildByFieldName("right"))}
}

func (b *bodyBuilder) ifStmt(n *tree_sitter.Node) []*stmt {
	var out []*stmt
	if init := n.ChildByFieldName("initializer"); init != nil {
		out = append(out, b.stmt(init)...)
	}
	s := &stmt{
		kind:    stmtControl,
		line:    line(n),
		code:    b.code(n),
		control: "IF",
		cond:    b.expr(n.ChildByFieldName("condition")),
		body:    b.branch(n.ChildByFieldName("consequence")),
		orElse:  b.branch(n.ChildByFieldName("alternative")),
	}
	return append(out, s)
}

// branch converts an if consequence or alternative.
func (b *bodyBuilder) branch(n *tree_sitter.Node) []*stmt {
	if n == nil {
		return nil
	}
	switch k := n.Kind(); {
	case b.g.blocks.has(k):
		return b.stmts(n)
	case k == "else_clause":
		var out []*stmt
		for _, c := range namedChildren(n) {
			out = append(out, b.branch(c)...)
		}
		return out
	}
	return b.stmt(n)
}

func (b *bodyBuilder) loop(n *tree_sitter.Node, ctype string) *stmt {
	cond := n.ChildByFieldName("condition")
	if cond == nil {
		for _, c := range namedChildren(n) {
			if c.Kind() == "for_clause" {
				cond = c.ChildByFieldName("condition")
			}
		}
	}
	for _, field := range []string{"right", "value"} {
		if cond == nil {
			cond = n.ChildByFieldName(field)
		}
	}
	if cond != nil && b.g.exprStmts.has(cond.Kind()) {
		cond = firstNamed(cond, b.g.skip)
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		body = lastNamed(n)
	}
	return &stmt{
		kind:    stmtControl,
		line:    line(n),
		code:    b.code(n),
		control: ctype,
		cond:    b.expr(cond),
		body:    b.build(body),
	}
}

// exprList converts a possibly multi-valued expression, keeping the first
// value of a list.
func (b *bodyBuilder) exprList(n *tree_sitter.Node) *expr {
	if n == nil {
		return nil
	}
	if n.Kind() == "expression_list" {
		return b.expr(firstNamed(n, b.g.skip))
	}
	return b.expr(n)
}

func (b *bodyBuilder) expr(n *tree_sitter.Node) *expr {
	if n == nil {
		return nil
	}
	k := n.Kind()
	base := expr{line: line(n), code: b.code(n)}
	switch {
	case b.g.parens.has(k):
		if inner := firstNamed(n, b.g.skip); inner != nil {
			return b.expr(inner)
		}
	case b.g.idents.has(k) || contains(b.g.selfNames, k) || k == "this":
		base.kind = exprIdent
		base.name = b.text(n)
		return &base
	case b.g.literals[k] != "":
		base.kind = exprLiteral
		base.typeName = b.g.literals[k]
		return &base
	case b.g.calls.has(k):
		return b.call(n, base)
	case b.g.binaries.has(k):
		left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
		if left == nil || right == nil {
			cs := namedChildren(n)
			if len(cs) < 2 {
				break
			}
			left, right = cs[0], cs[len(cs)-1]
		}
		return b.operator(base, binaryOperator(operatorOf(n)), b.expr(left), b.expr(right))
	case b.g.unaries.has(k):
		operand := fieldOr(n, "operand", "argument", "value")
		if operand == nil {
			operand = lastNamed(n)
		}
		op := operatorOf(n)
		if k == "reference_expression" {
			op = "&"
		}
		return b.operator(base, unaryOperator(op), b.expr(operand))
	case b.g.assigns.has(k) || b.g.augments.has(k):
		left := b.exprList(n.ChildByFieldName("left"))
		right := b.exprList(n.ChildByFieldName("right"))
		name := "<operator>.assignment"
		if op := operatorOf(n); op != "" && op != "=" {
			name = assignOperator(op)
		}
		return b.operator(base, name, left, right)
	case b.g.members.has(k):
		obj := n.ChildByFieldName(b.g.memberObject)
		prop := n.ChildByFieldName(b.g.memberProperty)
		if obj == nil || prop == nil {
			break
		}
		field := &expr{kind: exprField, line: line(prop), code: b.text(prop), name: b.text(prop)}
		return b.operator(base, "<operator>.fieldAccess", b.expr(obj), field)
	}
	base.kind = exprUnknown
	return &base
}

func (b *bodyBuilder) operator(base expr, name string, args ...*expr) *expr {
	base.kind = exprCall
	base.name = name
	base.target = name
	for _, a := range args {
		if a != nil {
			base.args = append(base.args, a)
		}
	}
	return &base
}

func (b *bodyBuilder) call(n *tree_sitter.Node, base expr) *expr {
	base.kind = exprCall
	fn := n.ChildByFieldName("function")
	if fn == nil {
		base.kind = exprUnknown
		return &base
	}
	c := callee{text: b.text(fn)}
	switch k := fn.Kind(); {
	case b.g.members.has(k):
		obj := fn.ChildByFieldName(b.g.memberObject)
		prop := fn.ChildByFieldName(b.g.memberProperty)
		if prop != nil {
			c.name = b.text(prop)
		}
		if obj != nil {
			c.recv = b.text(obj)
			// Go package selectors are static calls, not receivers.
			if b.g.lang != LangGo || obj.Kind() != "identifier" || b.declared[c.recv] {
				base.recv = b.expr(obj)
			}
		}
	case k == "scoped_identifier":
		if path := fn.ChildByFieldName("path"); path != nil {
			c.recv = b.text(path)
		}
		if name := fn.ChildByFieldName("name"); name != nil {
			c.name = b.text(name)
		}
	case k == "generic_function":
		if inner := fn.ChildByFieldName("function"); inner != nil {
			c.name = b.text(inner)
		}
	default:
		c.name = c.text
	}
	if c.name == "" {
		c.name = c.text
	}
	base.name = c.name
	base.callee = c
	base.target = c.text

	for _, a := range namedChildren(n.ChildByFieldName("arguments")) {
		if b.g.skip.has(a.Kind()) {
			continue
		}
		if a.Kind() == "keyword_argument" {
			a = a.ChildByFieldName("value")
		}
		if e := b.expr(a); e != nil {
			base.args = append(base.args, e)
		}
	}
	e := &base
	b.calls = append(b.calls, e)
	return e
}

// operatorOf returns the operator token of n: its operator field, or the
// first anonymous child.
func operatorOf(n *tree_sitter.Node) string {
	for _, field := range []string{"operator", "operators"} {
		if op := n.ChildByFieldName(field); op != nil {
			return op.Kind()
		}
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if c != nil && !c.IsNamed() {
			return c.Kind()
		}
	}
	return ""
}

var binaryOperators = map[string]string{
	"+": "addition", "-": "subtraction", "*": "multiplication", "/": "division", "%": "modulo",
	"==": "equals", "===": "equals", "!=": "notEquals", "!==": "notEquals",
	"<": "lessThan", ">": "greaterThan", "<=": "lessEqualsThan", ">=": "greaterEqualsThan",
	"&&": "logicalAnd", "and": "logicalAnd", "||": "logicalOr", "or": "logicalOr",
	"&": "and", "|": "or", "^": "xor", "<<": "shiftLeft", ">>": "arithmeticShiftRight",
	"in": "in", "is": "is", "not in": "notIn", "**": "exponentiation", "//": "floorDivision",
}

func binaryOperator(op string) string {
	if name, ok := binaryOperators[op]; ok {
		return "<operator>." + name
	}
	return "<operator>.binary"
}

func unaryOperator(op string) string {
	switch op {
	case "-":
		return "<operator>.minus"
	case "+":
		return "<operator>.plus"
	case "!", "not":
		return "<operator>.logicalNot"
	case "&":
		return "<operator>.addressOf"
	case "*":
		return "<operator>.indirection"
	case "^", "~":
		return "<operator>.not"
	}
	return "<operator>.unary"
}

func assignOperator(op string) string {
	switch op {
	case "+=":
		return "<operator>.assignmentPlus"
	case "-=":
		return "<operator>.assignmentMinus"
	case "*=":
		return "<operator>.assignmentMultiplication"
	case "/=":
		return "<operator>.assignmentDivision"
	}
	return "<operator>.assignment"
}

func firstNamed(n *tree_sitter.Node, skip kindSet) *tree_sitter.Node {
	for _, c := range namedChildren(n) {
		if !skip.has(c.Kind()) {
			return c
		}
	}
	return nil
}

func fieldOr(n *tree_sitter.Node, fields ...string) *tree_sitter.Node {
	for _, f := range fields {
		if c := n.ChildByFieldName(f); c != nil {
			return c
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
