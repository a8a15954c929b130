package frontend

import (
	"path"
	"unicode"
	"unicode/utf8"

	"github.com/dusk-indust/cpgraph/internal/program"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// goNamespace qualifies a package by its directory, so package main in two
// commands stays distinct.
func goNamespace(file, pkg string) string {
	dir := path.Dir(file)
	switch {
	case dir == ".":
		return pkg
	case path.Base(dir) == pkg:
		return dir
	}
	return dir + "/" + pkg
}

func goVisibility(name string) []string {
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return []string{ModPublic}
	}
	return []string{ModPrivate}
}

func extractGo(f *fileParse, root *tree_sitter.Node) {
	for _, c := range namedChildren(root) {
		if c.Kind() == "package_clause" {
			f.ns = goNamespace(f.file, f.text(firstNamed(c, nil)))
		}
	}
	for _, c := range namedChildren(root) {
		switch c.Kind() {
		case "function_declaration":
			f.goFunc(c, "", "", nil)
		case "method_declaration":
			recvName, recvType := f.goReceiver(c)
			var recv []program.Param
			if recvName != "" {
				recv = []program.Param{{Name: recvName, TypeName: recvType}}
			}
			f.goFunc(c, qualify(f.ns, baseType(recvType)), recvName, recv)
		case "type_declaration":
			for _, spec := range namedChildren(c) {
				if spec.Kind() == "type_spec" || spec.Kind() == "type_alias" {
					f.goType(spec)
				}
			}
		}
	}
}

func (f *fileParse) goFunc(n *tree_sitter.Node, parent, receiver string, params []program.Param) {
	name := f.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	f.method(methodDecl{
		node:      n,
		name:      name,
		parent:    parent,
		receiver:  receiver,
		params:    append(params, f.goParams(n.ChildByFieldName("parameters"))...),
		returns:   f.text(n.ChildByFieldName("result")),
		modifiers: goVisibility(name),
		body:      n.ChildByFieldName("body"),
	})
}

func (f *fileParse) goReceiver(n *tree_sitter.Node) (name, typ string) {
	list := n.ChildByFieldName("receiver")
	decl := firstNamed(list, nil)
	if decl == nil {
		return "", ""
	}
	return f.text(decl.ChildByFieldName("name")), f.text(decl.ChildByFieldName("type"))
}

func (f *fileParse) goParams(list *tree_sitter.Node) []program.Param {
	var out []program.Param
	for _, d := range namedChildren(list) {
		if d.Kind() != "parameter_declaration" && d.Kind() != "variadic_parameter_declaration" {
			continue
		}
		typ := f.text(d.ChildByFieldName("type"))
		if d.Kind() == "variadic_parameter_declaration" {
			typ = "..." + typ
		}
		named := false
		for _, c := range namedChildren(d) {
			if c.Kind() == "identifier" {
				out = append(out, program.Param{Name: f.text(c), TypeName: typ})
				named = true
			}
		}
		if !named {
			out = append(out, program.Param{Name: "_", TypeName: typ})
		}
	}
	return out
}

func (f *fileParse) goType(spec *tree_sitter.Node) {
	name := f.text(spec.ChildByFieldName("name"))
	if name == "" {
		return
	}
	class := f.class(spec, name, []byte(f.text(spec)), goVisibility(name))

	st := spec.ChildByFieldName("type")
	if st == nil || st.Kind() != "struct_type" {
		return
	}
	for _, fd := range namedChildren(childOfKind(st, "field_declaration_list")) {
		if fd.Kind() != "field_declaration" {
			continue
		}
		typ := f.text(fd.ChildByFieldName("type"))
		named := false
		for _, c := range namedChildren(fd) {
			if c.Kind() == "field_identifier" {
				f.field(fd, class, f.text(c), typ, goVisibility(f.text(c)))
				named = true
			}
		}
		if !named && typ != "" {
			// embedded
			emb := baseType(typ)
			f.field(fd, class, emb, typ, goVisibility(emb))
		}
	}
}
