package formula

import "slices"

// Keywords of the expression grammar.
var Keywords = []string{"for", "in", "if", "true", "false", "null"}

// SpecialForms are call names the compiler handles itself.
var SpecialForms = []string{"fn", "throw", "try", "await"}

// Builtins resolve through the host at run time but never count as
// dependencies.
var Builtins = []string{"require", "self", "each", "count"}

// ReservedWords returns every name a node may not take, not counting library
// names.
func ReservedWords() []string {
	words := slices.Concat(Keywords, SpecialForms, Builtins)
	slices.Sort(words)
	return words
}

// IsReserved reports whether name is a keyword, special form or builtin.
func IsReserved(name string) bool {
	return slices.Contains(Keywords, name) ||
		slices.Contains(SpecialForms, name) ||
		slices.Contains(Builtins, name)
}
