package frontend

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/cpgraph/internal/program"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Modifier values.
const (
	ModPublic    = "PUBLIC"
	ModPrivate   = "PRIVATE"
	ModProtected = "PROTECTED"
	ModStatic    = "STATIC"
	ModAbstract  = "ABSTRACT"
)

// fileParse accumulates the units of one source file.
type fileParse struct {
	g     *grammar
	src   []byte
	file  string
	ns    string
	units []program.Unit
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (f *fileParse) text(n *tree_sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Utf8Text(f.src)
}

// slice returns the source between the start of from and the start of to,
// or all of from when to is nil.
func (f *fileParse) slice(from, to *tree_sitter.Node) []byte {
	end := from.EndByte()
	if to != nil {
		end = to.StartByte()
	}
	return []byte(strings.TrimSpace(string(f.src[from.StartByte():end])))
}

func (f *fileParse) class(n *tree_sitter.Node, name string, header []byte, mods []string) string {
	full := qualify(f.ns, name)
	f.units = append(f.units, program.Unit{
		Kind:      program.KindClass,
		FullName:  full,
		Name:      name,
		File:      f.file,
		Namespace: f.ns,
		Language:  string(f.g.lang),
		Modifiers: mods,
		Line:      line(n),
		Hash:      program.HashSource(header),
		Source:    header,
	})
	return full
}

func (f *fileParse) field(n *tree_sitter.Node, class, name, typeName string, mods []string) {
	src := []byte(f.text(n))
	f.units = append(f.units, program.Unit{
		Kind:      program.KindField,
		FullName:  class + "." + name,
		Name:      name,
		Parent:    class,
		File:      f.file,
		Namespace: f.ns,
		Language:  string(f.g.lang),
		TypeName:  typeName,
		Modifiers: mods,
		Line:      line(n),
		Hash:      program.HashSource(src),
		Source:    src,
	})
}

// methodDecl is a function or method found in a file. receiver is the Go
// receiver variable, "" elsewhere.
type methodDecl struct {
	node      *tree_sitter.Node
	name      string
	parent    string
	receiver  string
	params    []program.Param
	returns   string
	modifiers []string
	body      *tree_sitter.Node
}

func (f *fileParse) method(m methodDecl) {
	names := make([]string, 0, len(m.params))
	types := make([]string, 0, len(m.params))
	for _, p := range m.params {
		names = append(names, p.Name)
		types = append(types, p.TypeName)
	}
	b := newBodyBuilder(f.g, f.src, names)
	stmts := b.build(m.body)

	prefix := m.parent
	if prefix == "" {
		prefix = f.ns
	}
	src := []byte(f.text(m.node))
	f.units = append(f.units, program.Unit{
		Kind:      program.KindMethod,
		FullName:  qualify(prefix, m.name),
		Name:      m.name,
		Signature: fmt.Sprintf("%s(%s)", m.returns, strings.Join(types, ",")),
		Parent:    m.parent,
		File:      f.file,
		Namespace: f.ns,
		Language:  string(f.g.lang),
		TypeName:  m.returns,
		Params:    m.params,
		Modifiers: m.modifiers,
		Line:      line(m.node),
		Hash:      program.HashSource(src),
		Source:    src,
		Node:      &Body{receiver: m.receiver, stmts: stmts, calls: b.calls},
	})
}

// typeText strips a leading type annotation colon.
func typeText(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), ":"))
}

// baseType strips pointers, references and generic arguments from a type.
func baseType(s string) string {
	s = strings.TrimLeft(strings.TrimSpace(s), "*&")
	s = strings.TrimPrefix(s, "mut ")
	if i := strings.IndexAny(s, "[<"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// hasToken reports whether n has an anonymous child token of the given kind.
func hasToken(n *tree_sitter.Node, kind string) bool {
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil && !c.IsNamed() && c.Kind() == kind {
			return true
		}
	}
	return false
}

func childOfKind(n *tree_sitter.Node, kind string) *tree_sitter.Node {
	for _, c := range namedChildren(n) {
		if c.Kind() == kind {
			return c
		}
	}
	return nil
}
