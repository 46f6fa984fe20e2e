// Package registry provides the central "glue" between host Go code and
// formulas.
//
// Host modules register their exports under a module specifier. Formulas reach
// them with require(specifier), or through a sheet's bundle: a module whose
// exports are merged from the modules the sheet imports, so its names resolve
// as plain identifiers.
//
// Exports are built on first use by a Loader and cached for its lifetime. A
// lazy module loads on its own goroutine and require returns a future until
// the load settles.
//
// During application startup the registry is populated and then validated, so
// every declared export name is usable from a formula.
package registry
