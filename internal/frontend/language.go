// Package frontend parses source trees with tree-sitter into program units
// and lowers those units into code property graph ChangeSets.
package frontend

import (
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// Language identifies a supported source language.
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangRust       Language = "rust"
)

// META_DATA LANGUAGE values, following the names used by other CPG front ends.
var metaLanguage = map[Language]string{
	LangGo:         "GOLANG",
	LangPython:     "PYTHONSRC",
	LangTypeScript: "JSSRC",
	LangRust:       "RUST",
}

// MetaName returns the META_DATA LANGUAGE value for l.
func (l Language) MetaName() string {
	if name, ok := metaLanguage[l]; ok {
		return name
	}
	return strings.ToUpper(string(l))
}

type kindSet map[string]struct{}

func kinds(names ...string) kindSet {
	s := make(kindSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s kindSet) has(kind string) bool {
	_, ok := s[kind]
	return ok
}

// grammar tells the generic body walker which node kinds of a tree-sitter
// grammar play which role. Field names are the grammar's own.
type grammar struct {
	lang Language
	ts   func() *tree_sitter.Language

	blocks    kindSet // statement containers
	inline    kindSet // statement lists spliced into their parent block
	exprStmts kindSet // wrappers holding a single expression
	returns   kindSet
	ifs       kindSet // fields: condition, consequence, alternative
	loops     map[string]string
	calls     kindSet // fields: function, arguments
	binaries  kindSet // fields: left, operator, right
	unaries   kindSet // fields: operator, operand|argument
	assigns   kindSet // fields: left, right
	augments  kindSet // fields: left, operator, right
	members   kindSet // member access
	idents    kindSet
	literals  map[string]string // node kind -> TYPE_FULL_NAME
	parens    kindSet
	skip      kindSet // punctuation and comments

	memberObject   string
	memberProperty string
	selfNames      []string

	// declare returns the names and initial values declared by a local
	// declaration statement, or ok=false when node is not one.
	declare func(node *tree_sitter.Node, src []byte) (decls []decl, ok bool)
}

// decl is one declared local.
type decl struct {
	name  string
	value *tree_sitter.Node
}

var grammars = map[Language]*grammar{
	LangGo: {
		lang:      LangGo,
		ts:        func() *tree_sitter.Language { return tree_sitter.NewLanguage(tree_sitter_go.Language()) },
		blocks:    kinds("block"),
		inline:    kinds("statement_list"),
		exprStmts: kinds("expression_statement", "go_statement", "defer_statement"),
		returns:   kinds("return_statement"),
		ifs:       kinds("if_statement"),
		loops:     map[string]string{"for_statement": "FOR"},
		calls:     kinds("call_expression"),
		binaries:  kinds("binary_expression"),
		unaries:   kinds("unary_expression"),
		assigns:   kinds("assignment_statement"),
		members:   kinds("selector_expression"),
		idents:    kinds("identifier"),
		literals: map[string]string{
			"int_literal": "int", "float_literal": "float64", "rune_literal": "rune",
			"interpreted_string_literal": "string", "raw_string_literal": "string",
			"true": "bool", "false": "bool", "nil": "nil",
		},
		parens:         kinds("parenthesized_expression"),
		skip:           kinds("comment", "{", "}", ";", "\n", "empty_statement"),
		memberObject:   "operand",
		memberProperty: "field",
		declare:        goDeclare,
	},
	LangPython: {
		lang:      LangPython,
		ts:        func() *tree_sitter.Language { return tree_sitter.NewLanguage(tree_sitter_python.Language()) },
		blocks:    kinds("block"),
		exprStmts: kinds("expression_statement"),
		returns:   kinds("return_statement"),
		ifs:       kinds("if_statement"),
		loops:     map[string]string{"while_statement": "WHILE", "for_statement": "FOR"},
		calls:     kinds("call"),
		binaries:  kinds("binary_operator", "boolean_operator", "comparison_operator"),
		unaries:   kinds("unary_operator", "not_operator"),
		assigns:   kinds("assignment"),
		augments:  kinds("augmented_assignment"),
		members:   kinds("attribute"),
		idents:    kinds("identifier"),
		literals: map[string]string{
			"integer": "int", "float": "float", "string": "str",
			"true": "bool", "false": "bool", "none": "None",
		},
		parens:         kinds("parenthesized_expression"),
		skip:           kinds("comment", "pass_statement", ":"),
		memberObject:   "object",
		memberProperty: "attribute",
		selfNames:      []string{"self", "cls"},
	},
	LangTypeScript: {
		lang: LangTypeScript,
		ts: func() *tree_sitter.Language {
			return tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
		},
		blocks:    kinds("statement_block"),
		exprStmts: kinds("expression_statement"),
		returns:   kinds("return_statement"),
		ifs:       kinds("if_statement"),
		loops:     map[string]string{"while_statement": "WHILE", "for_statement": "FOR", "for_in_statement": "FOR", "do_statement": "DO"},
		calls:     kinds("call_expression"),
		binaries:  kinds("binary_expression"),
		unaries:   kinds("unary_expression"),
		assigns:   kinds("assignment_expression"),
		augments:  kinds("augmented_assignment_expression"),
		members:   kinds("member_expression"),
		idents:    kinds("identifier"),
		literals: map[string]string{
			"number": "number", "string": "string", "template_string": "string",
			"true": "boolean", "false": "boolean", "null": "null", "undefined": "undefined",
		},
		parens:         kinds("parenthesized_expression"),
		skip:           kinds("comment", "{", "}", ";", "empty_statement"),
		memberObject:   "object",
		memberProperty: "property",
		selfNames:      []string{"this"},
		declare:        tsDeclare,
	},
	LangRust: {
		lang:      LangRust,
		ts:        func() *tree_sitter.Language { return tree_sitter.NewLanguage(tree_sitter_rust.Language()) },
		blocks:    kinds("block"),
		exprStmts: kinds("expression_statement"),
		returns:   kinds("return_expression"),
		ifs:       kinds("if_expression"),
		loops:     map[string]string{"while_expression": "WHILE", "for_expression": "FOR", "loop_expression": "WHILE"},
		calls:     kinds("call_expression"),
		binaries:  kinds("binary_expression"),
		unaries:   kinds("unary_expression", "reference_expression"),
		assigns:   kinds("assignment_expression"),
		augments:  kinds("compound_assignment_expr"),
		members:   kinds("field_expression"),
		idents:    kinds("identifier", "self"),
		literals: map[string]string{
			"integer_literal": "i64", "float_literal": "f64", "string_literal": "&str",
			"char_literal": "char", "boolean_literal": "bool",
		},
		parens:         kinds("parenthesized_expression"),
		skip:           kinds("line_comment", "block_comment", "{", "}", ";"),
		memberObject:   "value",
		memberProperty: "field",
		selfNames:      []string{"self", "Self"},
		declare:        rsDeclare,
	},
}

var extensions = map[string]Language{
	".go": LangGo,
	".py": LangPython,
	".ts": LangTypeScript,
	".rs": LangRust,
}

// LanguageForPath returns the language of a source file by extension.
func LanguageForPath(path string) (Language, bool) {
	l, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// ParseLanguage maps a configured language name to a Language.
func ParseLanguage(name string) (Language, bool) {
	switch strings.ToLower(name) {
	case "go", "golang":
		return LangGo, true
	case "python", "py":
		return LangPython, true
	case "typescript", "ts":
		return LangTypeScript, true
	case "rust", "rs":
		return LangRust, true
	}
	return "", false
}

func goDeclare(node *tree_sitter.Node, src []byte) ([]decl, bool) {
	switch node.Kind() {
	case "short_var_declaration":
		return pairLists(node.ChildByFieldName("left"), node.ChildByFieldName("right"), src), true
	case "var_declaration":
		var out []decl
		for _, spec := range namedChildren(node) {
			if spec.Kind() != "var_spec" {
				continue
			}
			var names []string
			for _, c := range namedChildren(spec) {
				if c.Kind() == "identifier" {
					names = append(names, c.Utf8Text(src))
				}
			}
			values := namedChildren(spec.ChildByFieldName("value"))
			for i, n := range names {
				d := decl{name: n}
				if i < len(values) {
					d.value = values[i]
				}
				out = append(out, d)
			}
		}
		return out, true
	}
	return nil, false
}

func tsDeclare(node *tree_sitter.Node, src []byte) ([]decl, bool) {
	switch node.Kind() {
	case "lexical_declaration", "variable_declaration":
		var out []decl
		for _, c := range namedChildren(node) {
			if c.Kind() != "variable_declarator" {
				continue
			}
			name := c.ChildByFieldName("name")
			if name == nil {
				continue
			}
			out = append(out, decl{name: name.Utf8Text(src), value: c.ChildByFieldName("value")})
		}
		return out, true
	}
	return nil, false
}

func rsDeclare(node *tree_sitter.Node, src []byte) ([]decl, bool) {
	if node.Kind() != "let_declaration" {
		return nil, false
	}
	pattern := node.ChildByFieldName("pattern")
	if pattern == nil {
		return nil, true
	}
	name := pattern.Utf8Text(src)
	if pattern.Kind() == "mut_pattern" {
		if inner := lastNamed(pattern); inner != nil {
			name = inner.Utf8Text(src)
		}
	}
	return []decl{{name: name, value: node.ChildByFieldName("value")}}, true
}

// pairLists zips an expression_list of names with one of values.
func pairLists(left, right *tree_sitter.Node, src []byte) []decl {
	names := namedChildren(left)
	values := namedChildren(right)
	out := make([]decl, 0, len(names))
	for i, n := range names {
		d := decl{name: n.Utf8Text(src)}
		if i < len(values) {
			d.value = values[i]
		}
		out = append(out, d)
	}
	return out
}

// namedChildren returns the named children of node; nil yields nothing.
func namedChildren(node *tree_sitter.Node) []*tree_sitter.Node {
	if node == nil {
		return nil
	}
	n := node.NamedChildCount()
	out := make([]*tree_sitter.Node, 0, n)
	for i := uint(0); i < n; i++ {
		if c := node.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func lastNamed(node *tree_sitter.Node) *tree_sitter.Node {
	cs := namedChildren(node)
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func line(node *tree_sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}
