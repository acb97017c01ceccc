// Package lang describes languages as data: a tree-sitter grammar plus rule
// tables that tell the Ast translator which syntax nodes declare names, open
// scopes, import modules or reference names.
package lang

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

var (
	// ErrUnknownLanguage indicates a language name with no registered descriptor.
	ErrUnknownLanguage = errors.New("unknown language")
)

// Role tells the translator what a syntax node contributes.
type Role int

const (
	// RoleNone nodes are walked for nested names and references.
	RoleNone Role = iota
	// RoleFunction declares its Name field and opens a function scope.
	RoleFunction
	// RoleClass declares its Name field and opens a class scope.
	RoleClass
	// RoleAssignment declares the names found in its Targets field.
	RoleAssignment
	// RoleParameter declares the names found in its Name field as parameters.
	RoleParameter
	// RoleScope opens an anonymous block scope.
	RoleScope
	// RoleImport is handed to the language's import hook.
	RoleImport
	// RoleSkip subtrees contribute nothing.
	RoleSkip
)

// Rule is the translation rule for one syntax node kind.
type Rule struct {
	Role Role
	// Name is the field holding the declared name. Declarator chains (as in C)
	// are followed through their "declarator" fields.
	Name string
	// Params is the field holding the parameter list of a function.
	Params string
	// Targets is the field holding assignment targets.
	Targets string
	// Outer lists fields walked in the enclosing scope, such as base classes.
	Outer []string
	// Skip lists fields whose identifiers are not references, such as the
	// attribute name in `obj.attr`.
	Skip []string
}

// ExportRule decides which top-level declarations other files can import.
type ExportRule int

const (
	// ExportNone means the language has no modeled cross-file imports.
	ExportNone ExportRule = iota
	// ExportTopLevel exports every top-level declaration.
	ExportTopLevel
	// ExportMarked exports declarations wrapped in an export marker node.
	ExportMarked
)

// ImportedName is one name pulled in by an import.
type ImportedName struct {
	Name      string
	Alias     string
	NameStart uint
	NameEnd   uint
}

// Binding returns the local name the import introduces.
func (n ImportedName) Binding() string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Name
}

// Import is one import extracted from a syntax node.
//
// Namespace imports bind the module itself (`import a.b`, `import * as ns`)
// under Alias. Wildcard imports bind every visible export of the module.
type Import struct {
	Module    string
	Names     []ImportedName
	Wildcard  bool
	Namespace bool
	Alias     string
	Start     uint
	End       uint
	NameStart uint
	NameEnd   uint
}

// Language is a registered language descriptor.
type Language struct {
	Name       string
	Extensions []string

	// Grammar returns the raw tree-sitter language pointer.
	Grammar func() *sitter.Language

	Rules          map[string]Rule
	Identifiers    map[string]bool
	Patterns       map[string]bool
	StatementLists map[string]bool
	ExportMarkers  map[string]bool
	Exports        ExportRule
	Builtins       map[string]bool

	// OpaqueClassScope hides class-body names from nested functions.
	OpaqueClassScope bool
	// ReportUnresolved enables undefined-name diagnostics.
	ReportUnresolved bool

	// ExtractImports turns a RoleImport node into imports. Nil disables imports.
	ExtractImports func(n *sitter.Node, src []byte) []Import
	// ModuleCandidates maps an import spec to candidate file paths. Absolute
	// candidates start with "/"; others match any workspace path suffix.
	ModuleCandidates func(spec, fromPath string) []string
	// WildcardVisible reports whether an export is pulled in by a wildcard import.
	WildcardVisible func(name string) bool
}

// Rule returns the rule for a node kind.
func (l *Language) Rule(kind string) (Rule, bool) {
	r, ok := l.Rules[kind]
	return r, ok
}

// IsIdentifier reports whether kind is a name node.
func (l *Language) IsIdentifier(kind string) bool {
	return l.Identifiers[kind]
}

// IsBuiltin reports whether name is predefined by the language.
func (l *Language) IsBuiltin(name string) bool {
	return l.Builtins[name]
}

// Binding returns the local binding name of a namespace import.
func (l *Language) Binding(imp Import) string {
	if imp.Alias != "" {
		return imp.Alias
	}
	return imp.Module
}

// Visible reports whether a wildcard import pulls in name.
func (l *Language) Visible(name string) bool {
	if l.WildcardVisible == nil {
		return true
	}
	return l.WildcardVisible(name)
}

// Candidates returns candidate paths for an import spec, or nil.
func (l *Language) Candidates(spec, fromPath string) []string {
	if l.ModuleCandidates == nil {
		return nil
	}
	return l.ModuleCandidates(spec, fromPath)
}

var (
	languageMu sync.Mutex
	languages  = map[string]*Language{}
	grammars   = map[string]*sitter.Language{}
)

// Register adds a language descriptor. Registering the same name twice replaces it.
func Register(l *Language) {
	languageMu.Lock()
	defer languageMu.Unlock()
	languages[l.Name] = l
	delete(grammars, l.Name)
}

// Get returns the descriptor for a language name.
func Get(name string) (*Language, error) {
	languageMu.Lock()
	defer languageMu.Unlock()
	l, ok := languages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, name)
	}
	return l, nil
}

// Grammar returns the tree-sitter language for a descriptor, built once.
func Grammar(l *Language) *sitter.Language {
	languageMu.Lock()
	defer languageMu.Unlock()
	if g, ok := grammars[l.Name]; ok {
		return g
	}
	g := l.Grammar()
	grammars[l.Name] = g
	return g
}

// Names returns the registered language names in sorted order.
func Names() []string {
	languageMu.Lock()
	defer languageMu.Unlock()
	return sortedNames()
}

// Detect returns the language registered for a file path's extension, or
// fallback when none matches.
func Detect(filePath, fallback string) string {
	ext := strings.ToLower(path.Ext(filePath))
	languageMu.Lock()
	defer languageMu.Unlock()
	for _, name := range sortedNames() {
		for _, e := range languages[name].Extensions {
			if e == ext {
				return name
			}
		}
	}
	return fallback
}

// Extensions returns every registered extension.
func Extensions() []string {
	languageMu.Lock()
	defer languageMu.Unlock()
	var exts []string
	for _, name := range sortedNames() {
		exts = append(exts, languages[name].Extensions...)
	}
	return exts
}

func sortedNames() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

// nodeText extracts the source text of a node.
func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}
