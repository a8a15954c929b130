package frontend

import (
	"path"
	"strings"

	"github.com/dusk-indust/cpgraph/internal/program"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func rsNamespace(file string) string {
	return strings.ReplaceAll(strings.TrimSuffix(file, path.Ext(file)), "/", "::")
}

func rsVisibility(n *tree_sitter.Node) []string {
	if childOfKind(n, "visibility_modifier") != nil {
		return []string{ModPublic}
	}
	return []string{ModPrivate}
}

func extractRust(f *fileParse, root *tree_sitter.Node) {
	f.ns = rsNamespace(f.file)
	f.rsItems(root, f.ns)
}

func (f *fileParse) rsItems(list *tree_sitter.Node, ns string) {
	for _, c := range namedChildren(list) {
		switch c.Kind() {
		case "function_item":
			f.rsFunc(c, "")
		case "struct_item":
			f.rsStruct(c)
		case "enum_item", "union_item", "type_item":
			if name := f.text(c.ChildByFieldName("name")); name != "" {
				f.class(c, name, []byte(f.text(c)), rsVisibility(c))
			}
		case "trait_item":
			name := f.text(c.ChildByFieldName("name"))
			body := c.ChildByFieldName("body")
			if name == "" || body == nil {
				continue
			}
			class := f.class(c, name, f.slice(c, body), append(rsVisibility(c), ModAbstract))
			for _, m := range namedChildren(body) {
				if m.Kind() == "function_item" {
					f.rsFunc(m, class)
				}
			}
		case "impl_item":
			typ := baseType(f.text(c.ChildByFieldName("type")))
			body := c.ChildByFieldName("body")
			if typ == "" || body == nil {
				continue
			}
			class := qualify(f.ns, typ)
			for _, m := range namedChildren(body) {
				if m.Kind() == "function_item" {
					f.rsFunc(m, class)
				}
			}
		case "mod_item":
			name := f.text(c.ChildByFieldName("name"))
			if body := c.ChildByFieldName("body"); name != "" && body != nil {
				outer := f.ns
				f.ns = ns + "::" + name
				f.rsItems(body, f.ns)
				f.ns = outer
			}
		}
	}
}

func (f *fileParse) rsFunc(n *tree_sitter.Node, class string) {
	name := f.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	mods := rsVisibility(n)
	params := f.rsParams(n.ChildByFieldName("parameters"))
	if class != "" && (len(params) == 0 || params[0].Name != "self") {
		mods = append(mods, ModStatic)
	}
	f.method(methodDecl{
		node:      n,
		name:      name,
		parent:    class,
		params:    params,
		returns:   f.text(n.ChildByFieldName("return_type")),
		modifiers: mods,
		body:      n.ChildByFieldName("body"),
	})
}

func (f *fileParse) rsStruct(n *tree_sitter.Node) {
	name := f.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	class := f.class(n, name, []byte(f.text(n)), rsVisibility(n))
	body := n.ChildByFieldName("body")
	if body == nil || body.Kind() != "field_declaration_list" {
		return
	}
	for _, fd := range namedChildren(body) {
		if fd.Kind() != "field_declaration" {
			continue
		}
		f.field(fd, class, f.text(fd.ChildByFieldName("name")), f.text(fd.ChildByFieldName("type")), rsVisibility(fd))
	}
}

func (f *fileParse) rsParams(list *tree_sitter.Node) []program.Param {
	var out []program.Param
	for _, p := range namedChildren(list) {
		switch p.Kind() {
		case "self_parameter":
			out = append(out, program.Param{Name: "self", TypeName: "Self"})
		case "parameter":
			out = append(out, program.Param{
				Name:     strings.TrimPrefix(f.text(p.ChildByFieldName("pattern")), "mut "),
				TypeName: f.text(p.ChildByFieldName("type")),
			})
		}
	}
	return out
}
