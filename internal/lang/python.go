package lang

import (
	"path"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// Python is the Python descriptor.
var Python = &Language{
	Name:       "python",
	Extensions: []string{".py", ".pyi"},
	Grammar: func() *sitter.Language {
		return sitter.NewLanguage(python.Language())
	},
	Rules: map[string]Rule{
		"function_definition":      {Role: RoleFunction, Name: "name", Params: "parameters"},
		"lambda":                   {Role: RoleFunction, Params: "parameters"},
		"class_definition":         {Role: RoleClass, Name: "name", Outer: []string{"superclasses"}},
		"assignment":               {Role: RoleAssignment, Targets: "left"},
		"for_statement":            {Role: RoleAssignment, Targets: "left"},
		"for_in_clause":            {Role: RoleAssignment, Targets: "left"},
		"as_pattern":               {Role: RoleAssignment, Targets: "alias"},
		"named_expression":         {Role: RoleAssignment, Targets: "name"},
		"typed_parameter":          {Role: RoleParameter},
		"default_parameter":        {Role: RoleParameter, Name: "name"},
		"typed_default_parameter":  {Role: RoleParameter, Name: "name"},
		"list_splat_pattern":       {Role: RoleParameter},
		"dictionary_splat_pattern": {Role: RoleParameter},
		"import_statement":         {Role: RoleImport},
		"import_from_statement":    {Role: RoleImport},
		"future_import_statement":  {Role: RoleSkip},
		"global_statement":         {Role: RoleSkip},
		"nonlocal_statement":       {Role: RoleSkip},
		"attribute":                {Skip: []string{"attribute"}},
		"keyword_argument":         {Skip: []string{"name"}},
	},
	Identifiers:    set("identifier"),
	Patterns:       set("pattern_list", "tuple_pattern", "list_pattern", "as_pattern_target", "parenthesized_expression", "list_splat_pattern"),
	StatementLists: set("module", "block"),
	Exports:        ExportTopLevel,
	Builtins: set(
		"abs", "all", "any", "ascii", "bin", "bool", "breakpoint", "bytearray", "bytes",
		"callable", "chr", "classmethod", "compile", "complex", "delattr", "dict", "dir",
		"divmod", "enumerate", "eval", "exec", "filter", "float", "format", "frozenset",
		"getattr", "globals", "hasattr", "hash", "help", "hex", "id", "input", "int",
		"isinstance", "issubclass", "iter", "len", "list", "locals", "map", "max",
		"memoryview", "min", "next", "object", "oct", "open", "ord", "pow", "print",
		"property", "range", "repr", "reversed", "round", "set", "setattr", "slice",
		"sorted", "staticmethod", "str", "sum", "super", "tuple", "type", "vars", "zip",
		"__import__", "__name__", "__file__", "__doc__", "__package__", "__spec__",
		"__builtins__", "__debug__", "self", "cls", "NotImplemented", "Ellipsis",
		"BaseException", "Exception", "ArithmeticError", "AssertionError", "AttributeError",
		"EOFError", "ImportError", "ModuleNotFoundError", "IndexError", "KeyError",
		"KeyboardInterrupt", "LookupError", "MemoryError", "NameError", "NotImplementedError",
		"OSError", "OverflowError", "RecursionError", "RuntimeError", "StopIteration",
		"StopAsyncIteration", "SyntaxError", "SystemExit", "TypeError", "ValueError",
		"ZeroDivisionError", "FileNotFoundError", "PermissionError", "TimeoutError",
		"UnicodeError", "Warning", "DeprecationWarning", "UserWarning",
	),
	OpaqueClassScope: true,
	ReportUnresolved: true,
	ExtractImports:   pythonImports,
	ModuleCandidates: pythonModuleCandidates,
	WildcardVisible: func(name string) bool {
		return !strings.HasPrefix(name, "_")
	},
}

func init() {
	Register(Python)
}

// pythonImports handles `import a.b as c` and `from m import x as y`.
func pythonImports(n *sitter.Node, src []byte) []Import {
	switch n.Kind() {
	case "import_statement":
		var imports []Import
		for i := uint(0); i < n.ChildCount(); i++ {
			child := n.Child(i)
			switch child.Kind() {
			case "dotted_name":
				// `import a.b` binds the top-level package a.
				name := nodeText(child, src)
				first := child.Child(0)
				imports = append(imports, Import{
					Module:    strings.SplitN(name, ".", 2)[0],
					Namespace: true,
					Start:     n.StartByte(),
					End:       n.EndByte(),
					NameStart: first.StartByte(),
					NameEnd:   first.EndByte(),
				})
			case "aliased_import":
				alias := child.ChildByFieldName("alias")
				imports = append(imports, Import{
					Module:    nodeText(child.ChildByFieldName("name"), src),
					Namespace: true,
					Alias:     nodeText(alias, src),
					Start:     n.StartByte(),
					End:       n.EndByte(),
					NameStart: alias.StartByte(),
					NameEnd:   alias.EndByte(),
				})
			}
		}
		return imports

	case "import_from_statement":
		moduleNode := n.ChildByFieldName("module_name")
		if moduleNode == nil {
			return nil
		}
		imp := Import{
			Module:    nodeText(moduleNode, src),
			Start:     n.StartByte(),
			End:       n.EndByte(),
			NameStart: moduleNode.StartByte(),
			NameEnd:   moduleNode.EndByte(),
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			child := n.Child(i)
			if child.StartByte() == moduleNode.StartByte() {
				continue
			}
			switch child.Kind() {
			case "wildcard_import":
				imp.Wildcard = true
			case "dotted_name":
				imp.Names = append(imp.Names, ImportedName{
					Name:      nodeText(child, src),
					NameStart: child.StartByte(),
					NameEnd:   child.EndByte(),
				})
			case "aliased_import":
				alias := child.ChildByFieldName("alias")
				imp.Names = append(imp.Names, ImportedName{
					Name:      nodeText(child.ChildByFieldName("name"), src),
					Alias:     nodeText(alias, src),
					NameStart: alias.StartByte(),
					NameEnd:   alias.EndByte(),
				})
			}
		}
		return []Import{imp}
	}
	return nil
}

// pythonModuleCandidates maps `a.b` to a/b.py or a/b/__init__.py, resolving
// leading dots against the importing file's package.
func pythonModuleCandidates(spec, fromPath string) []string {
	trimmed := strings.TrimLeft(spec, ".")
	dots := len(spec) - len(trimmed)
	rest := strings.ReplaceAll(trimmed, ".", "/")

	if dots == 0 {
		if rest == "" {
			return nil
		}
		return []string{rest + ".py", rest + ".pyi", path.Join(rest, "__init__.py")}
	}

	dir := path.Dir(fromPath)
	for i := 1; i < dots; i++ {
		dir = path.Dir(dir)
	}
	if rest == "" {
		return []string{path.Join(dir, "__init__.py")}
	}
	return []string{
		path.Join(dir, rest+".py"),
		path.Join(dir, rest+".pyi"),
		path.Join(dir, rest, "__init__.py"),
	}
}
