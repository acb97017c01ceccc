package lang

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	php "github.com/tree-sitter/tree-sitter-php/bindings/go"
)

// PHP is the PHP descriptor. Variables are the only referenced names.
var PHP = &Language{
	Name:       "php",
	Extensions: []string{".php"},
	Grammar: func() *sitter.Language {
		return sitter.NewLanguage(php.LanguagePHP())
	},
	Rules: map[string]Rule{
		"function_definition":          {Role: RoleFunction, Name: "name", Params: "parameters"},
		"method_declaration":           {Role: RoleFunction, Name: "name", Params: "parameters"},
		"anonymous_function":           {Role: RoleFunction, Params: "parameters"},
		"arrow_function":               {Role: RoleFunction, Params: "parameters"},
		"class_declaration":            {Role: RoleClass, Name: "name"},
		"interface_declaration":        {Role: RoleClass, Name: "name"},
		"trait_declaration":            {Role: RoleClass, Name: "name"},
		"simple_parameter":             {Role: RoleParameter, Name: "name"},
		"variadic_parameter":           {Role: RoleParameter, Name: "name"},
		"property_promotion_parameter": {Role: RoleParameter, Name: "name"},
		"assignment_expression":        {Role: RoleAssignment, Targets: "left"},
		"namespace_use_declaration":    {Role: RoleSkip},
		"member_access_expression":     {Skip: []string{"name"}},
	},
	Identifiers:    set("variable_name"),
	StatementLists: set("program", "compound_statement", "declaration_list"),
	Builtins:       set("$this", "$GLOBALS", "$_GET", "$_POST", "$_SERVER", "$_SESSION", "$_COOKIE", "$_FILES", "$_ENV", "$_REQUEST"),
}

func init() {
	Register(PHP)
}
