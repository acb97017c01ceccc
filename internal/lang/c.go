package lang

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	c "github.com/tree-sitter/tree-sitter-c/bindings/go"
)

// C is the C descriptor. Includes are not modeled as imports.
var C = &Language{
	Name:       "c",
	Extensions: []string{".c", ".h"},
	Grammar: func() *sitter.Language {
		return sitter.NewLanguage(c.Language())
	},
	Rules: map[string]Rule{
		"function_definition":   {Role: RoleFunction, Name: "declarator", Params: "parameters"},
		"preproc_function_def":  {Role: RoleFunction, Name: "name", Params: "parameters"},
		"struct_specifier":      {Role: RoleClass, Name: "name"},
		"union_specifier":       {Role: RoleClass, Name: "name"},
		"enum_specifier":        {Role: RoleClass, Name: "name"},
		"declaration":           {Role: RoleAssignment, Targets: "declarator"},
		"init_declarator":       {Role: RoleAssignment, Targets: "declarator"},
		"type_definition":       {Role: RoleAssignment, Targets: "declarator"},
		"preproc_def":           {Role: RoleAssignment, Targets: "name"},
		"parameter_declaration": {Role: RoleParameter, Name: "declarator"},
		"parameter_list":        {Role: RoleSkip},
		"compound_statement":    {Role: RoleScope},
		"preproc_include":       {Role: RoleSkip},
		"field_expression":      {Skip: []string{"field"}},
	},
	Identifiers:    set("identifier", "type_identifier"),
	Patterns:       set("pointer_declarator", "array_declarator", "parenthesized_declarator", "function_declarator"),
	StatementLists: set("translation_unit", "compound_statement"),
	Builtins:       set("NULL", "printf", "malloc", "free", "sizeof", "size_t", "stdin", "stdout", "stderr"),
}

func init() {
	Register(C)
}
