package frontend

import (
	"path"
	"strings"

	"github.com/dusk-indust/cpgraph/internal/program"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func tsNamespace(file string) string {
	return strings.TrimSuffix(file, path.Ext(file))
}

// tsModifiers reads accessibility, static and abstract markers of a class
// member. Members default to public.
func (f *fileParse) tsModifiers(n *tree_sitter.Node) []string {
	var mods []string
	if acc := childOfKind(n, "accessibility_modifier"); acc != nil {
		mods = append(mods, strings.ToUpper(f.text(acc)))
	} else {
		mods = append(mods, ModPublic)
	}
	if hasToken(n, "static") {
		mods = append(mods, ModStatic)
	}
	if hasToken(n, "abstract") {
		mods = append(mods, ModAbstract)
	}
	return mods
}

func extractTypeScript(f *fileParse, root *tree_sitter.Node) {
	f.ns = tsNamespace(f.file)
	for _, c := range namedChildren(root) {
		f.tsDecl(c)
	}
}

func (f *fileParse) tsDecl(n *tree_sitter.Node) {
	switch n.Kind() {
	case "export_statement":
		if d := n.ChildByFieldName("declaration"); d != nil {
			f.tsDecl(d)
		}
	case "function_declaration":
		f.tsFunc(n, n.ChildByFieldName("name"), "", []string{ModPublic})
	case "lexical_declaration":
		// const f = (...) => ...
		for _, d := range namedChildren(n) {
			if d.Kind() != "variable_declarator" {
				continue
			}
			if v := d.ChildByFieldName("value"); v != nil && (v.Kind() == "arrow_function" || v.Kind() == "function_expression") {
				f.method(methodDecl{
					node:      d,
					name:      f.text(d.ChildByFieldName("name")),
					params:    f.tsParams(v.ChildByFieldName("parameters")),
					returns:   typeText(f.text(v.ChildByFieldName("return_type"))),
					modifiers: []string{ModPublic},
					body:      v.ChildByFieldName("body"),
				})
			}
		}
	case "class_declaration", "abstract_class_declaration":
		f.tsClass(n)
	case "interface_declaration":
		f.tsInterface(n)
	}
}

func (f *fileParse) tsFunc(n, nameNode *tree_sitter.Node, class string, mods []string) {
	name := f.text(nameNode)
	if name == "" {
		return
	}
	f.method(methodDecl{
		node:      n,
		name:      name,
		parent:    class,
		params:    f.tsParams(n.ChildByFieldName("parameters")),
		returns:   typeText(f.text(n.ChildByFieldName("return_type"))),
		modifiers: mods,
		body:      n.ChildByFieldName("body"),
	})
}

func (f *fileParse) tsClass(n *tree_sitter.Node) {
	name := f.text(n.ChildByFieldName("name"))
	body := n.ChildByFieldName("body")
	if name == "" || body == nil {
		return
	}
	mods := []string{ModPublic}
	if n.Kind() == "abstract_class_declaration" {
		mods = append(mods, ModAbstract)
	}
	class := f.class(n, name, f.slice(n, body), mods)
	for _, m := range namedChildren(body) {
		switch m.Kind() {
		case "method_definition":
			f.tsFunc(m, m.ChildByFieldName("name"), class, f.tsModifiers(m))
		case "public_field_definition":
			f.field(m, class, f.text(m.ChildByFieldName("name")), typeText(f.text(m.ChildByFieldName("type"))), f.tsModifiers(m))
		}
	}
}

func (f *fileParse) tsInterface(n *tree_sitter.Node) {
	name := f.text(n.ChildByFieldName("name"))
	body := n.ChildByFieldName("body")
	if name == "" || body == nil {
		return
	}
	class := f.class(n, name, []byte(f.text(n)), []string{ModPublic, ModAbstract})
	for _, m := range namedChildren(body) {
		if m.Kind() == "property_signature" {
			f.field(m, class, f.text(m.ChildByFieldName("name")), typeText(f.text(m.ChildByFieldName("type"))), []string{ModPublic})
		}
	}
}

func (f *fileParse) tsParams(list *tree_sitter.Node) []program.Param {
	var out []program.Param
	for _, p := range namedChildren(list) {
		switch p.Kind() {
		case "required_parameter", "optional_parameter":
			out = append(out, program.Param{
				Name:     f.text(p.ChildByFieldName("pattern")),
				TypeName: typeText(f.text(p.ChildByFieldName("type"))),
			})
		case "identifier":
			out = append(out, program.Param{Name: f.text(p)})
		}
	}
	return out
}
