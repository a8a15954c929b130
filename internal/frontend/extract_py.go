package frontend

import (
	"path"
	"strings"

	"github.com/dusk-indust/cpgraph/internal/program"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// pyNamespace is the dotted module path of a file.
func pyNamespace(file string) string {
	mod := strings.TrimSuffix(file, path.Ext(file))
	mod = strings.TrimSuffix(mod, "/__init__")
	return strings.ReplaceAll(mod, "/", ".")
}

// pyVisibility treats a leading underscore as private, except dunder names.
func pyVisibility(name string) []string {
	if strings.HasPrefix(name, "_") && !strings.HasSuffix(name, "__") {
		return []string{ModPrivate}
	}
	return []string{ModPublic}
}

func extractPython(f *fileParse, root *tree_sitter.Node) {
	f.ns = pyNamespace(f.file)
	for _, c := range namedChildren(root) {
		f.pyDef(c, "")
	}
}

func (f *fileParse) pyDef(n *tree_sitter.Node, class string) {
	var extra []string
	if n.Kind() == "decorated_definition" {
		for _, d := range namedChildren(n) {
			if d.Kind() != "decorator" {
				continue
			}
			switch strings.TrimPrefix(f.text(d), "@") {
			case "staticmethod", "classmethod":
				extra = append(extra, ModStatic)
			case "abstractmethod", "abc.abstractmethod":
				extra = append(extra, ModAbstract)
			}
		}
		n = n.ChildByFieldName("definition")
		if n == nil {
			return
		}
	}
	switch n.Kind() {
	case "function_definition":
		name := f.text(n.ChildByFieldName("name"))
		if name == "" {
			return
		}
		f.method(methodDecl{
			node:      n,
			name:      name,
			parent:    class,
			params:    f.pyParams(n.ChildByFieldName("parameters")),
			returns:   f.text(n.ChildByFieldName("return_type")),
			modifiers: append(pyVisibility(name), extra...),
			body:      n.ChildByFieldName("body"),
		})
	case "class_definition":
		if class == "" {
			f.pyClass(n)
		}
	}
}

func (f *fileParse) pyClass(n *tree_sitter.Node) {
	name := f.text(n.ChildByFieldName("name"))
	body := n.ChildByFieldName("body")
	if name == "" || body == nil {
		return
	}
	class := f.class(n, name, f.slice(n, body), pyVisibility(name))

	seen := make(map[string]bool)
	addField := func(at *tree_sitter.Node, fname, typ string) {
		if seen[fname] {
			return
		}
		seen[fname] = true
		f.field(at, class, fname, typ, pyVisibility(fname))
	}
	for _, c := range namedChildren(body) {
		switch c.Kind() {
		case "expression_statement":
			a := firstNamed(c, nil)
			if a == nil || a.Kind() != "assignment" {
				continue
			}
			if left := a.ChildByFieldName("left"); left != nil && left.Kind() == "identifier" {
				addField(a, f.text(left), f.text(a.ChildByFieldName("type")))
			}
		case "function_definition", "decorated_definition":
			f.pyDef(c, class)
			def := c
			if c.Kind() == "decorated_definition" {
				def = c.ChildByFieldName("definition")
			}
			if def != nil && f.text(def.ChildByFieldName("name")) == "__init__" {
				f.pySelfFields(def.ChildByFieldName("body"), addField)
			}
		}
	}
}

// pySelfFields finds `self.x = ...` assignments directly in __init__.
func (f *fileParse) pySelfFields(body *tree_sitter.Node, add func(*tree_sitter.Node, string, string)) {
	for _, c := range namedChildren(body) {
		if c.Kind() != "expression_statement" {
			continue
		}
		a := firstNamed(c, nil)
		if a == nil || a.Kind() != "assignment" {
			continue
		}
		left := a.ChildByFieldName("left")
		if left == nil || left.Kind() != "attribute" {
			continue
		}
		if f.text(left.ChildByFieldName("object")) == "self" {
			add(a, f.text(left.ChildByFieldName("attribute")), f.text(a.ChildByFieldName("type")))
		}
	}
}

func (f *fileParse) pyParams(list *tree_sitter.Node) []program.Param {
	var out []program.Param
	for _, p := range namedChildren(list) {
		switch p.Kind() {
		case "identifier":
			out = append(out, program.Param{Name: f.text(p)})
		case "typed_parameter":
			name := firstNamed(p, nil)
			out = append(out, program.Param{Name: strings.TrimLeft(f.text(name), "*"), TypeName: f.text(p.ChildByFieldName("type"))})
		case "default_parameter", "typed_default_parameter":
			out = append(out, program.Param{Name: f.text(p.ChildByFieldName("name")), TypeName: f.text(p.ChildByFieldName("type"))})
		case "list_splat_pattern", "dictionary_splat_pattern":
			out = append(out, program.Param{Name: f.text(firstNamed(p, nil))})
		}
	}
	return out
}
