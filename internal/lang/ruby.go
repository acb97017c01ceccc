package lang

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	ruby "github.com/tree-sitter/tree-sitter-ruby/bindings/go"
)

// Ruby is the Ruby descriptor. `require` is not modeled as an import.
var Ruby = &Language{
	Name:       "ruby",
	Extensions: []string{".rb"},
	Grammar: func() *sitter.Language {
		return sitter.NewLanguage(ruby.Language())
	},
	Rules: map[string]Rule{
		"method":               {Role: RoleFunction, Name: "name", Params: "parameters"},
		"singleton_method":     {Role: RoleFunction, Name: "name", Params: "parameters", Skip: []string{"object"}},
		"lambda":               {Role: RoleFunction, Params: "parameters"},
		"block":                {Role: RoleFunction, Params: "parameters"},
		"do_block":             {Role: RoleFunction, Params: "parameters"},
		"class":                {Role: RoleClass, Name: "name", Outer: []string{"superclass"}},
		"module":               {Role: RoleClass, Name: "name"},
		"assignment":           {Role: RoleAssignment, Targets: "left"},
		"optional_parameter":   {Role: RoleParameter, Name: "name"},
		"keyword_parameter":    {Role: RoleParameter, Name: "name"},
		"splat_parameter":      {Role: RoleParameter, Name: "name"},
		"hash_splat_parameter": {Role: RoleParameter, Name: "name"},
		"block_parameter":      {Role: RoleParameter, Name: "name"},
		"call":                 {Skip: []string{"method"}},
	},
	Identifiers:    set("identifier", "constant"),
	Patterns:       set("left_assignment_list", "destructured_left_assignment", "rest_assignment"),
	StatementLists: set("program", "body_statement", "then", "else", "do"),
	Builtins:       set("self", "nil", "puts", "print", "require", "require_relative", "attr_accessor", "attr_reader", "attr_writer", "raise", "Object", "String", "Integer", "Array", "Hash", "Kernel"),
}

func init() {
	Register(Ruby)
}
