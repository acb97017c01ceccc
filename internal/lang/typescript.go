package lang

import (
	"path"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

var typescriptRules = map[string]Rule{
	"function_declaration":           {Role: RoleFunction, Name: "name", Params: "parameters"},
	"generator_function_declaration": {Role: RoleFunction, Name: "name", Params: "parameters"},
	"function_expression":            {Role: RoleFunction, Params: "parameters"},
	"arrow_function":                 {Role: RoleFunction, Params: "parameters"},
	"method_definition":              {Role: RoleFunction, Params: "parameters", Skip: []string{"name"}},
	"class_declaration":              {Role: RoleClass, Name: "name", Outer: []string{"heritage"}},
	"interface_declaration":          {Role: RoleClass, Name: "name"},
	"type_alias_declaration":         {Role: RoleAssignment, Targets: "name"},
	"enum_declaration":               {Role: RoleAssignment, Targets: "name"},
	"variable_declarator":            {Role: RoleAssignment, Targets: "name"},
	"required_parameter":             {Role: RoleParameter, Name: "pattern"},
	"optional_parameter":             {Role: RoleParameter, Name: "pattern"},
	"statement_block":                {Role: RoleScope},
	"import_statement":               {Role: RoleImport},
	"member_expression":              {Skip: []string{"property"}},
	"pair":                           {Skip: []string{"key"}},
	"pair_pattern":                   {Skip: []string{"key"}},
	"public_field_definition":        {Skip: []string{"name"}},
	"property_signature":             {Skip: []string{"name"}},
}

// TypeScript is the TypeScript descriptor.
var TypeScript = &Language{
	Name:       "typescript",
	Extensions: []string{".ts", ".mts", ".cts"},
	Grammar: func() *sitter.Language {
		return sitter.NewLanguage(typescript.LanguageTypescript())
	},
	Rules:            typescriptRules,
	Identifiers:      set("identifier", "type_identifier", "shorthand_property_identifier", "shorthand_property_identifier_pattern"),
	Patterns:         set("object_pattern", "array_pattern", "rest_pattern", "assignment_pattern", "pair_pattern"),
	StatementLists:   set("program", "statement_block", "class_body"),
	ExportMarkers:    set("export_statement"),
	Exports:          ExportMarked,
	Builtins:         set("undefined", "NaN", "Infinity", "globalThis", "console", "window", "document", "Promise", "Array", "Object", "String", "Number", "Boolean", "Error", "Map", "Set", "JSON", "Math", "Date", "RegExp", "Symbol", "require", "module", "exports", "this", "any", "unknown", "never", "string", "number", "boolean", "void"),
	ExtractImports:   scriptImports,
	ModuleCandidates: scriptModuleCandidates,
}

// TSX is TypeScript with JSX.
var TSX = tsxVariant("typescriptreact", ".tsx")

// JavaScript uses the TSX grammar, which accepts JSX and plain JavaScript.
var JavaScript = tsxVariant("javascript", ".js", ".jsx", ".mjs", ".cjs")

func tsxVariant(name string, extensions ...string) *Language {
	return &Language{
		Name:       name,
		Extensions: extensions,
		Grammar: func() *sitter.Language {
			return sitter.NewLanguage(typescript.LanguageTSX())
		},
		Rules:            typescriptRules,
		Identifiers:      TypeScript.Identifiers,
		Patterns:         TypeScript.Patterns,
		StatementLists:   TypeScript.StatementLists,
		ExportMarkers:    TypeScript.ExportMarkers,
		Exports:          ExportMarked,
		Builtins:         TypeScript.Builtins,
		ExtractImports:   scriptImports,
		ModuleCandidates: scriptModuleCandidates,
	}
}

func init() {
	Register(TypeScript)
	Register(TSX)
	Register(JavaScript)
}

// scriptImports handles default, named and namespace imports.
func scriptImports(n *sitter.Node, src []byte) []Import {
	source := n.ChildByFieldName("source")
	if source == nil {
		return nil
	}
	base := Import{
		Module:    strings.Trim(nodeText(source, src), "'\"`"),
		Start:     n.StartByte(),
		End:       n.EndByte(),
		NameStart: source.StartByte(),
		NameEnd:   source.EndByte(),
	}

	var clause *sitter.Node
	for i := uint(0); i < n.ChildCount(); i++ {
		if child := n.Child(i); child.Kind() == "import_clause" {
			clause = child
			break
		}
	}
	if clause == nil {
		// Side-effect import: `import './setup'`.
		return []Import{base}
	}

	named := base
	var imports []Import
	for i := uint(0); i < clause.ChildCount(); i++ {
		child := clause.Child(i)
		switch child.Kind() {
		case "identifier":
			named.Names = append(named.Names, ImportedName{
				Name:      "default",
				Alias:     nodeText(child, src),
				NameStart: child.StartByte(),
				NameEnd:   child.EndByte(),
			})
		case "namespace_import":
			for j := uint(0); j < child.ChildCount(); j++ {
				if id := child.Child(j); id.Kind() == "identifier" {
					ns := base
					ns.Namespace = true
					ns.Alias = nodeText(id, src)
					ns.NameStart = id.StartByte()
					ns.NameEnd = id.EndByte()
					imports = append(imports, ns)
				}
			}
		case "named_imports":
			for j := uint(0); j < child.ChildCount(); j++ {
				spec := child.Child(j)
				if spec.Kind() != "import_specifier" {
					continue
				}
				name := spec.ChildByFieldName("name")
				binding := name
				imported := ImportedName{Name: nodeText(name, src)}
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					imported.Alias = nodeText(alias, src)
					binding = alias
				}
				imported.NameStart = binding.StartByte()
				imported.NameEnd = binding.EndByte()
				named.Names = append(named.Names, imported)
			}
		}
	}
	if len(named.Names) > 0 {
		imports = append([]Import{named}, imports...)
	}
	return imports
}

var scriptExtensions = []string{".ts", ".tsx", ".d.ts", ".js", ".jsx", ".mjs"}

// scriptModuleCandidates resolves relative specifiers only; bare specifiers
// name packages outside the workspace.
func scriptModuleCandidates(spec, fromPath string) []string {
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
		return nil
	}
	target := path.Join(path.Dir(fromPath), spec)
	candidates := []string{}
	if path.Ext(target) != "" {
		candidates = append(candidates, target)
	}
	for _, ext := range scriptExtensions {
		candidates = append(candidates, target+ext)
	}
	for _, ext := range scriptExtensions {
		candidates = append(candidates, path.Join(target, "index"+ext))
	}
	return candidates
}
