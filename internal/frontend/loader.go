package frontend

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dusk-indust/cpgraph/internal/program"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultExcludes are skipped in every walk.
var DefaultExcludes = []string{
	"**/.git", "**/vendor", "**/node_modules", "**/target",
	"**/__pycache__", "**/.venv", "**/testdata",
}

var extractors = map[Language]func(*fileParse, *tree_sitter.Node){
	LangGo:         extractGo,
	LangPython:     extractPython,
	LangTypeScript: extractTypeScript,
	LangRust:       extractRust,
}

// Loader walks a source tree and turns it into a program.
type Loader struct {
	excludes  []string
	languages map[Language]*tree_sitter.Language
	version   string
	log       *zap.Logger
}

// NewLoader creates a Loader for the given languages; none means all. The
// exclude globs are matched against slash-separated paths relative to the
// walked root.
func NewLoader(languages []string, excludes []string, version string, log *zap.Logger) (*Loader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loader{
		excludes:  append(append([]string(nil), DefaultExcludes...), excludes...),
		languages: make(map[Language]*tree_sitter.Language),
		version:   version,
		log:       log.Named("frontend"),
	}
	for _, pattern := range l.excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("frontend: invalid exclude pattern %q", pattern)
		}
	}
	if len(languages) == 0 {
		for lang, g := range grammars {
			l.languages[lang] = g.ts()
		}
		return l, nil
	}
	for _, name := range languages {
		lang, ok := ParseLanguage(name)
		if !ok {
			return nil, fmt.Errorf("frontend: unsupported language %q", name)
		}
		l.languages[lang] = grammars[lang].ts()
	}
	return l, nil
}

func (l *Loader) excluded(rel string) bool {
	for _, pattern := range l.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

type sourceFile struct {
	rel  string
	lang Language
}

// Load parses every supported file under root. Files are parsed in parallel;
// units are returned in path order.
func (l *Loader) Load(ctx context.Context, root string) (*program.Program, error) {
	var files []sourceFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if l.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		lang, ok := LanguageForPath(rel)
		if !ok {
			return nil
		}
		if _, enabled := l.languages[lang]; !enabled {
			return nil
		}
		files = append(files, sourceFile{rel: rel, lang: lang})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("frontend: walk %s: %w", root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })

	results := make([][]program.Unit, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, sf := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(sf.rel)))
			if err != nil {
				return fmt.Errorf("frontend: read %s: %w", sf.rel, err)
			}
			units, err := l.parse(sf.rel, sf.lang, src)
			if err != nil {
				return err
			}
			results[i] = units
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var units []program.Unit
	for _, rs := range results {
		units = append(units, rs...)
	}
	prog := l.link(units)
	l.log.Info("loaded source tree",
		zap.String("root", root),
		zap.Int("files", len(files)),
		zap.Int("units", len(prog.Units)),
		zap.String("language", prog.Language),
	)
	return prog, nil
}

// ParseSource parses a single in-memory file into a linked program.
func (l *Loader) ParseSource(path string, src []byte) (*program.Program, error) {
	lang, ok := LanguageForPath(path)
	if !ok {
		return nil, fmt.Errorf("frontend: no language for %s", path)
	}
	if _, enabled := l.languages[lang]; !enabled {
		return nil, fmt.Errorf("frontend: language %s not enabled", lang)
	}
	units, err := l.parse(filepath.ToSlash(path), lang, src)
	if err != nil {
		return nil, err
	}
	return l.link(units), nil
}

func (l *Loader) parse(rel string, lang Language, src []byte) ([]program.Unit, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(l.languages[lang]); err != nil {
		return nil, fmt.Errorf("frontend: set language %s: %w", lang, err)
	}
	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, fmt.Errorf("frontend: tree-sitter returned nil tree for %s", rel)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		l.log.Debug("syntax errors in file", zap.String("file", rel))
	}
	f := &fileParse{g: grammars[lang], src: src, file: rel}
	extractors[lang](f, root)
	return f.units, nil
}

// link drops duplicate and orphaned units, resolves call targets and picks
// the program language.
func (l *Loader) link(units []program.Unit) *program.Program {
	seen := make(map[string]bool, len(units))
	classes := make(map[string]bool)
	kept := units[:0]
	for _, u := range units {
		if seen[u.Key()] {
			l.log.Warn("duplicate unit dropped", zap.String("unit", u.Key()), zap.String("file", u.File))
			continue
		}
		seen[u.Key()] = true
		if u.Kind == program.KindClass {
			classes[u.FullName] = true
		}
		kept = append(kept, u)
	}

	ix := methodIndex{full: make(map[string]bool), byName: make(map[string][]string)}
	out := kept[:0]
	for _, u := range kept {
		if u.Parent != "" && !classes[u.Parent] {
			if u.Kind == program.KindField {
				continue
			}
			// method on a type declared elsewhere
			u.Parent = ""
		}
		if u.Kind == program.KindMethod {
			ix.full[u.FullName] = true
			if u.Parent != "" {
				ix.byName[u.Name] = append(ix.byName[u.Name], u.FullName)
			}
		}
		out = append(out, u)
	}

	counts := make(map[Language]int)
	for _, u := range out {
		counts[Language(u.Language)]++
		body, ok := u.Node.(*Body)
		if !ok {
			continue
		}
		selfNames := grammars[Language(u.Language)].selfNames
		for _, c := range body.calls {
			c.target = ix.resolve(u, body.receiver, selfNames, c.callee)
		}
	}

	prog := &program.Program{Version: l.version, Units: out}
	best := 0
	for lang, n := range counts {
		if n > best || (n == best && string(lang) < prog.Language) {
			best = n
			prog.Language = string(lang)
		}
	}
	if lang := Language(prog.Language); lang != "" {
		prog.Language = lang.MetaName()
	}
	return prog
}

// methodIndex resolves call targets against the loaded methods.
type methodIndex struct {
	full   map[string]bool
	byName map[string][]string // member methods by short name
}

func (ix methodIndex) resolve(u program.Unit, receiver string, selfNames []string, c callee) string {
	try := func(candidates ...string) string {
		for _, cand := range candidates {
			if ix.full[cand] {
				return cand
			}
		}
		return ""
	}
	switch {
	case c.recv == "":
		if t := try(qualify(u.Namespace, c.name)); t != "" {
			return t
		}
		return c.text
	case (receiver != "" && c.recv == receiver) || contains(selfNames, c.recv):
		if u.Parent != "" {
			if t := try(u.Parent + "." + c.name); t != "" {
				return t
			}
		}
	default:
		recv := strings.TrimPrefix(c.recv, "crate::")
		if t := try(qualify(u.Namespace, recv+"."+c.name)); t != "" {
			return t
		}
	}
	if cands := ix.byName[c.name]; len(cands) == 1 {
		return cands[0]
	}
	return c.text
}
