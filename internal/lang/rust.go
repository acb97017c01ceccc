package lang

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
)

// Rust is the Rust descriptor. `use` paths are not modeled as imports.
var Rust = &Language{
	Name:       "rust",
	Extensions: []string{".rs"},
	Grammar: func() *sitter.Language {
		return sitter.NewLanguage(rust.Language())
	},
	Rules: map[string]Rule{
		"function_item":          {Role: RoleFunction, Name: "name", Params: "parameters"},
		"closure_expression":     {Role: RoleFunction, Params: "parameters"},
		"struct_item":            {Role: RoleClass, Name: "name"},
		"enum_item":              {Role: RoleClass, Name: "name"},
		"union_item":             {Role: RoleClass, Name: "name"},
		"trait_item":             {Role: RoleClass, Name: "name"},
		"mod_item":               {Role: RoleClass, Name: "name"},
		"type_item":              {Role: RoleAssignment, Targets: "name"},
		"const_item":             {Role: RoleAssignment, Targets: "name"},
		"static_item":            {Role: RoleAssignment, Targets: "name"},
		"let_declaration":        {Role: RoleAssignment, Targets: "pattern"},
		"for_expression":         {Role: RoleAssignment, Targets: "pattern"},
		"parameter":              {Role: RoleParameter, Name: "pattern"},
		"impl_item":              {Role: RoleScope},
		"block":                  {Role: RoleScope},
		"use_declaration":        {Role: RoleSkip},
		"attribute_item":         {Role: RoleSkip},
		"macro_definition":       {Role: RoleSkip},
		"scoped_identifier":      {Skip: []string{"name"}},
		"scoped_type_identifier": {Skip: []string{"name"}},
		"field_expression":       {Skip: []string{"field"}},
	},
	Identifiers:    set("identifier", "type_identifier"),
	Patterns:       set("tuple_pattern", "reference_pattern", "mut_pattern", "slice_pattern"),
	StatementLists: set("source_file", "block", "declaration_list"),
	Builtins:       set("Some", "None", "Ok", "Err", "Self", "self", "String", "Vec", "Box", "Option", "Result"),
}

func init() {
	Register(Rust)
}
