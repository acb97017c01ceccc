package lang

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	java "github.com/tree-sitter/tree-sitter-java/bindings/go"
)

// Java is the Java descriptor. Package imports are not modeled.
var Java = &Language{
	Name:       "java",
	Extensions: []string{".java"},
	Grammar: func() *sitter.Language {
		return sitter.NewLanguage(java.Language())
	},
	Rules: map[string]Rule{
		"class_declaration":       {Role: RoleClass, Name: "name", Outer: []string{"superclass", "interfaces"}},
		"interface_declaration":   {Role: RoleClass, Name: "name"},
		"enum_declaration":        {Role: RoleClass, Name: "name", Outer: []string{"interfaces"}},
		"record_declaration":      {Role: RoleClass, Name: "name", Params: "parameters"},
		"method_declaration":      {Role: RoleFunction, Name: "name", Params: "parameters"},
		"constructor_declaration": {Role: RoleFunction, Name: "name", Params: "parameters"},
		"lambda_expression":       {Role: RoleFunction, Params: "parameters"},
		"formal_parameter":        {Role: RoleParameter, Name: "name"},
		"catch_formal_parameter":  {Role: RoleParameter, Name: "name"},
		"variable_declarator":     {Role: RoleAssignment, Targets: "name"},
		"enhanced_for_statement":  {Role: RoleAssignment, Targets: "name"},
		"block":                   {Role: RoleScope},
		"import_declaration":      {Role: RoleSkip},
		"package_declaration":     {Role: RoleSkip},
		"field_access":            {Skip: []string{"field"}},
		"method_invocation":       {Skip: []string{"name"}},
	},
	Identifiers:    set("identifier", "type_identifier"),
	StatementLists: set("program", "block", "class_body", "interface_body", "enum_body", "constructor_body"),
	Builtins:       set("String", "Object", "System", "Integer", "Long", "Boolean", "Double", "Math", "Exception", "RuntimeException", "this", "super"),
}

func init() {
	Register(Java)
}
