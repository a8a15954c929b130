// Package program describes the compiled artifact handed to the pipeline:
// a set of program units (classes, methods, fields) with content hashes.
package program

import (
	"encoding/hex"
	"sort"

	"lukechampine.com/blake3"
)

// Kind classifies a program unit.
type Kind string

const (
	KindClass  Kind = "class"
	KindMethod Kind = "method"
	KindField  Kind = "field"
)

// Unit is a class, method or field from the compiled artifact.
type Unit struct {
	Kind      Kind     `json:"kind"`
	FullName  string   `json:"fullName"`
	Name      string   `json:"name"`
	Signature string   `json:"signature,omitempty"`
	Parent    string   `json:"parent,omitempty"` // full name of the owning class, "" for top-level
	File      string   `json:"file"`
	Namespace string   `json:"namespace,omitempty"`
	Language  string   `json:"language,omitempty"`
	TypeName  string   `json:"typeName,omitempty"` // field type or method return type
	Params    []Param  `json:"params,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
	Line      int      `json:"line"`
	Hash      string   `json:"hash"`
	Source    []byte   `json:"-"`

	// Node is the front end's native handle for the unit, e.g. its syntax
	// tree node. The core never inspects it.
	Node any `json:"-"`
}

// Param is a method parameter.
type Param struct {
	Name     string `json:"name"`
	TypeName string `json:"typeName,omitempty"`
}

// Key identifies the unit across runs.
func (u Unit) Key() string {
	return Key(u.Kind, u.FullName)
}

// GlobalNamespace names the namespace of units declared outside any
// package or module.
const GlobalNamespace = "<global>"

// NamespaceFullName is the FULL_NAME of the NAMESPACE_BLOCK holding ns in
// file. An empty ns means GlobalNamespace.
func NamespaceFullName(file, ns string) string {
	if ns == "" {
		ns = GlobalNamespace
	}
	return file + ":" + ns
}

// Key builds a unit key from its parts.
func Key(kind Kind, fullName string) string {
	return string(kind) + ":" + fullName
}

// Program is the compiled artifact: every unit of one analysis run.
type Program struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Units    []Unit `json:"units"`
}

// ByKind returns the units of the given kind in declaration order.
func (p *Program) ByKind(kind Kind) []Unit {
	var out []Unit
	for _, u := range p.Units {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

// Files returns the distinct file names of all units, sorted.
func (p *Program) Files() []string {
	seen := make(map[string]struct{})
	for _, u := range p.Units {
		seen[u.File] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// HashSource returns the hex BLAKE3-256 digest of src.
func HashSource(src []byte) string {
	sum := blake3.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// EnsureHashes fills in Hash for every unit that lacks one.
func (p *Program) EnsureHashes() {
	for i := range p.Units {
		if p.Units[i].Hash == "" {
			p.Units[i].Hash = HashSource(p.Units[i].Source)
		}
	}
}

// ArtifactHash is the order-independent content hash of the whole program:
// BLAKE3 over the sorted (key, unit hash) pairs. Units must carry hashes.
func (p *Program) ArtifactHash() string {
	lines := make([]string, 0, len(p.Units))
	for _, u := range p.Units {
		lines = append(lines, u.Key()+"\x00"+u.Hash)
	}
	return digestLines(lines)
}

// digestLines hashes lines in sorted order.
func digestLines(lines []string) string {
	sort.Strings(lines)
	h := blake3.New(32, nil)
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileHashes returns, per file, BLAKE3 over the sorted hashes of the units
// declared in it. Units must carry hashes.
func (p *Program) FileHashes() map[string]string {
	byFile := make(map[string][]string)
	for _, u := range p.Units {
		byFile[u.File] = append(byFile[u.File], u.Key()+"\x00"+u.Hash)
	}
	out := make(map[string]string, len(byFile))
	for file, lines := range byFile {
		out[file] = digestLines(lines)
	}
	return out
}
