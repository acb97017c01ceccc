// Package discovery finds the source files of a workspace root with glob
// include and ignore patterns.
package discovery

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	logging "github.com/op/go-logging"

	"github.com/mvp-joe/cortex-lsp/internal/lang"
)

var log = logging.MustGetLogger("discovery")

// alwaysIgnored are directories never walked.
var alwaysIgnored = []string{".git", ".cortex-lsp", "node_modules", "__pycache__"}

// compiledPattern holds both the pattern string and compiled glob
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Discovery matches workspace-relative paths against include and ignore
// patterns. A path is a source file when it matches an include pattern and
// no ignore pattern, and no directory on its way matches one.
type Discovery struct {
	root    string
	include []compiledPattern
	ignore  []compiledPattern
}

// DefaultInclude returns one "**/*<ext>" pattern per registered extension.
func DefaultInclude() []string {
	exts := lang.Extensions()
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		out = append(out, "**/*"+ext)
	}
	return out
}

// New compiles patterns for root. An empty include list means DefaultInclude.
func New(root string, include, ignore []string) (*Discovery, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if len(include) == 0 {
		include = DefaultInclude()
	}
	d := &Discovery{root: abs}
	if d.include, err = compile(include); err != nil {
		return nil, err
	}
	if d.ignore, err = compile(ignore); err != nil {
		return nil, err
	}
	return d, nil
}

func compile(patterns []string) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		out = append(out, compiledPattern{pattern: pattern, glob: g})
	}
	return out, nil
}

// Root returns the absolute root directory.
func (d *Discovery) Root() string { return d.root }

// Discover walks the root and returns the absolute paths of source files,
// sorted. Ignored directories are not descended into.
func (d *Discovery) Discover() ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == d.root {
				return err
			}
			log.Warningf("skipping %s: %v", path, err)
			return nil
		}
		rel, err := d.rel(path)
		if err != nil || rel == "." {
			return err
		}
		if entry.IsDir() {
			if d.ignoredDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.matchRel(rel) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// Match reports whether an absolute path under the root is a source file.
func (d *Discovery) Match(path string) bool {
	rel, err := d.rel(path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	dir := rel
	for {
		i := strings.LastIndexByte(dir, '/')
		if i < 0 {
			break
		}
		dir = dir[:i]
		if d.ignoredDir(dir) {
			return false
		}
	}
	return d.matchRel(rel)
}

// MatchDir reports whether a directory under the root is walked.
func (d *Discovery) MatchDir(path string) bool {
	rel, err := d.rel(path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	for dir := rel; dir != "." && dir != ""; {
		if d.ignoredDir(dir) {
			return false
		}
		i := strings.LastIndexByte(dir, '/')
		if i < 0 {
			break
		}
		dir = dir[:i]
	}
	return true
}

func (d *Discovery) rel(path string) (string, error) {
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (d *Discovery) matchRel(rel string) bool {
	return matchesAnyPattern(rel, d.include) && !matchesAnyPattern(rel, d.ignore)
}

// ignoredDir reports whether a directory is excluded. "node_modules/**"
// excludes the directory node_modules itself.
func (d *Discovery) ignoredDir(rel string) bool {
	base := rel[strings.LastIndexByte(rel, '/')+1:]
	for _, name := range alwaysIgnored {
		if base == name {
			return true
		}
	}
	return matchesAnyPattern(rel, d.ignore) || matchesAnyPattern(rel+"/**", d.ignore)
}

// matchesAnyPattern checks if a path matches any of the given patterns.
// A root-level path also matches patterns with their leading "**/"
// removed, so "**/*.py" matches "setup.py".
func matchesAnyPattern(path string, patterns []compiledPattern) bool {
	for _, cp := range patterns {
		if cp.glob.Match(path) {
			return true
		}
	}
	if strings.Contains(path, "/") {
		return false
	}
	for _, cp := range patterns {
		simplified, ok := strings.CutPrefix(cp.pattern, "**/")
		if !ok {
			continue
		}
		if g, err := glob.Compile(simplified, '/'); err == nil && g.Match(path) {
			return true
		}
	}
	return false
}
