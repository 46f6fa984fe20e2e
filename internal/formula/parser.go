// Package formula compiles cell formulas into progressive evaluators.
//
// A formula is an HCL native-syntax expression. Parsing walks the expression
// once to classify every identifier (bound, builtin or external dependency),
// mark the operators, calls and traversals that are JIT sites, and split the
// tree into standalone roots: the formula itself, every fn body, every for
// body and the first argument of try and await. Each root compiles lazily
// into a closure tree and recompiles alone when one of its sites specializes.
package formula

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/transpile"
	"github.com/zclconf/go-cty/cty"
)

// Resolver looks up an identifier that is not bound inside the formula.
type Resolver func(name string) (cty.Value, error)

// Parser compiles formulas against one operator layer and library.
type Parser struct {
	ops     *transpile.Ops
	logger  *slog.Logger
	library map[string]struct{}
}

// NewParser creates a parser. libraryNames resolve like builtins: they are
// looked up at run time but are never dependencies.
func NewParser(ctx context.Context, ops *transpile.Ops, libraryNames ...string) *Parser {
	lib := make(map[string]struct{}, len(libraryNames))
	for _, name := range libraryNames {
		lib[name] = struct{}{}
	}
	return &Parser{ops: ops, logger: ctxlog.FromContext(ctx), library: lib}
}

// Reserved reports whether name is reserved, library names included.
func (p *Parser) Reserved(name string) bool {
	_, ok := p.library[name]
	return ok || IsReserved(name)
}

// Parse compiles text. resolve answers the formula's external reads when it
// is evaluated.
func (p *Parser) Parse(text string, resolve Resolver) (*Evaluator, error) {
	src := []byte(text)
	expr, diags := hclsyntax.ParseExpression(src, "", hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return nil, &SyntaxError{Formula: text, Diags: diags}
	}

	ev := &Evaluator{
		parser:  p,
		resolve: resolve,
		src:     src,
		input:   text,
		rootOf:  make(map[hclsyntax.Expression]*root),
		sites:   make(map[hclsyntax.Expression]*transpile.Site),
		refs:    make(map[hclsyntax.Expression]refKind),
		params:  make(map[*hclsyntax.FunctionCallExpr][]string),
		renamed: make(map[string]string),
	}

	w := &walker{p: p, ev: ev}
	if err := w.nested(expr, nil); err != nil {
		return nil, err
	}
	slices.SortFunc(ev.occurrences, func(a, b occurrence) int { return a.start - b.start })
	ev.root = ev.roots[0]
	return ev, nil
}

type refKind int

const (
	refExternal refKind = iota
	refBound
	refBuiltin
	refThrow
)

// occurrence is a span of the formula text naming an external or bound
// identifier. Renames rewrite occurrences.
type occurrence struct {
	start, end int
	name       string
}

type scope struct {
	names  []string
	parent *scope
}

func (s *scope) with(names ...string) *scope {
	return &scope{names: names, parent: s}
}

func (s *scope) binds(name string) bool {
	for ; s != nil; s = s.parent {
		if slices.Contains(s.names, name) {
			return true
		}
	}
	return false
}

type walker struct {
	p     *Parser
	ev    *Evaluator
	root  *root
	scope *scope
}

// nested starts a standalone root at expr.
func (w *walker) nested(expr hclsyntax.Expression, sc *scope) error {
	r := &root{id: len(w.ev.roots), expr: expr, parent: w.root, ev: w.ev}
	w.ev.roots = append(w.ev.roots, r)
	w.ev.rootOf[expr] = r

	inner := &walker{p: w.p, ev: w.ev, root: r, scope: sc}
	return inner.walk(expr)
}

func (w *walker) in(sc *scope) *walker {
	return &walker{p: w.p, ev: w.ev, root: w.root, scope: sc}
}

func (w *walker) walkAll(exprs ...hclsyntax.Expression) error {
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if err := w.walk(e); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) walk(expr hclsyntax.Expression) error {
	switch e := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		if err := w.reference(e, e.Traversal.RootName(), e.Traversal[0].SourceRange()); err != nil {
			return err
		}
		if len(e.Traversal) > 1 {
			w.site(e, transpile.NewCallSite)
		}
		return nil

	case *hclsyntax.FunctionCallExpr:
		return w.call(e)

	case *hclsyntax.ForExpr:
		return w.forExpr(e)

	case *hclsyntax.BinaryOpExpr, *hclsyntax.UnaryOpExpr:
		w.site(e, transpile.NewOperatorSite)

	case *hclsyntax.IndexExpr, *hclsyntax.RelativeTraversalExpr:
		w.site(e, transpile.NewCallSite)

	case *hclsyntax.ObjectConsKeyExpr:
		if literalKey(e) != "" {
			return nil
		}
	}
	return w.walkAll(children(expr)...)
}

// reference classifies one identifier.
func (w *walker) reference(expr hclsyntax.Expression, name string, rng hcl.Range) error {
	switch {
	case w.scope.binds(name):
		w.ev.refs[expr] = refBound
		w.ev.occur(name, rng)
	case name == "throw":
		w.ev.refs[expr] = refThrow
	case IsReserved(name) && !slices.Contains(Builtins, name):
		return fmt.Errorf("Cannot refer to a reserved word %s as a dependency", name)
	case w.p.Reserved(name):
		w.ev.refs[expr] = refBuiltin
	default:
		w.ev.refs[expr] = refExternal
		w.ev.occur(name, rng)
		if !slices.Contains(w.ev.deps, name) {
			w.ev.deps = append(w.ev.deps, name)
		}
	}
	return nil
}

// bind declares a parameter.
func (w *walker) bind(name string, rng hcl.Range) error {
	if w.p.Reserved(name) {
		return fmt.Errorf("Cannot use a reserved word %s as a parameter name", name)
	}
	w.ev.occur(name, rng)
	return nil
}

func (w *walker) site(expr hclsyntax.Expression, build func(onNative func()) *transpile.Site) {
	r := w.root
	w.ev.sites[expr] = build(func() {
		w.p.logger.Debug("JIT site specialized.", "formula", w.ev.input, "root", r.id)
		r.invalidate()
	})
}

func (w *walker) call(e *hclsyntax.FunctionCallExpr) error {
	switch e.Name {
	case "fn":
		return w.lambda(e)

	case "try", "await":
		if len(e.Args) == 0 {
			return fmt.Errorf("Empty %s expression", e.Name)
		}
		if err := w.nested(e.Args[0], w.scope); err != nil {
			return err
		}
		return w.walkAll(e.Args[1:]...)

	case "throw":
		return w.walkAll(e.Args...)
	}

	if err := w.reference(e, e.Name, e.NameRange); err != nil {
		return err
	}
	w.site(e, transpile.NewCallSite)
	return w.walkAll(e.Args...)
}

// lambda handles fn(params..., body).
func (w *walker) lambda(e *hclsyntax.FunctionCallExpr) error {
	if len(e.Args) == 0 {
		return errors.New("fn expects a body")
	}
	if e.ExpandFinal {
		return errors.New("fn body cannot be expanded")
	}

	params := e.Args[:len(e.Args)-1]
	names := make([]string, 0, len(params))
	for _, a := range params {
		t, ok := a.(*hclsyntax.ScopeTraversalExpr)
		if !ok || len(t.Traversal) != 1 {
			return fmt.Errorf("fn parameters must be bare identifiers, got %q", w.ev.text(a.Range()))
		}
		name := t.Traversal.RootName()
		if err := w.bind(name, t.Traversal[0].SourceRange()); err != nil {
			return err
		}
		w.ev.refs[t] = refBound
		names = append(names, name)
	}
	w.ev.params[e] = names
	return w.nested(e.Args[len(e.Args)-1], w.scope.with(names...))
}

func (w *walker) forExpr(e *hclsyntax.ForExpr) error {
	if err := w.walk(e.CollExpr); err != nil {
		return err
	}

	ranges := w.forVarRanges(e)
	var names []string
	for _, name := range []string{e.KeyVar, e.ValVar} {
		if name == "" {
			continue
		}
		if w.p.Reserved(name) {
			return fmt.Errorf("Cannot use a reserved word %s as a parameter name", name)
		}
		if rng, ok := ranges[name]; ok {
			w.ev.occur(name, rng)
		}
		names = append(names, name)
	}

	inner := w.scope.with(names...)
	if err := w.in(inner).walkAll(e.KeyExpr, e.CondExpr); err != nil {
		return err
	}
	return w.nested(e.ValExpr, inner)
}

// forVarRanges locates the variable names between "for" and "in", which the
// syntax tree records without positions.
func (w *walker) forVarRanges(e *hclsyntax.ForExpr) map[string]hcl.Range {
	start, end := e.OpenRange.End.Byte, e.CollExpr.Range().Start.Byte
	if start >= end || end > len(w.ev.src) {
		return nil
	}
	tokens, _ := hclsyntax.LexExpression(w.ev.src[start:end], "", hcl.Pos{Line: 1, Column: 1, Byte: start})

	ranges := make(map[string]hcl.Range, 2)
	for _, tok := range tokens {
		if tok.Type != hclsyntax.TokenIdent {
			continue
		}
		switch name := string(tok.Bytes); name {
		case "for":
		case "in":
			return ranges
		default:
			ranges[name] = tok.Range
		}
	}
	return ranges
}

// literalKey returns the attribute name of an object key written as a bare
// word, or "".
func literalKey(k *hclsyntax.ObjectConsKeyExpr) string {
	if k.ForceNonLiteral {
		return ""
	}
	return hcl.ExprAsKeyword(k.Wrapped)
}

// children lists the direct subexpressions of expr in source order.
func children(expr hclsyntax.Expression) []hclsyntax.Expression {
	var out []hclsyntax.Expression
	switch e := expr.(type) {
	case *hclsyntax.ParenthesesExpr:
		out = append(out, e.Expression)
	case *hclsyntax.BinaryOpExpr:
		out = append(out, e.LHS, e.RHS)
	case *hclsyntax.UnaryOpExpr:
		out = append(out, e.Val)
	case *hclsyntax.ConditionalExpr:
		out = append(out, e.Condition, e.TrueResult, e.FalseResult)
	case *hclsyntax.FunctionCallExpr:
		out = append(out, e.Args...)
	case *hclsyntax.IndexExpr:
		out = append(out, e.Collection, e.Key)
	case *hclsyntax.RelativeTraversalExpr:
		out = append(out, e.Source)
	case *hclsyntax.TupleConsExpr:
		out = append(out, e.Exprs...)
	case *hclsyntax.ObjectConsExpr:
		for _, item := range e.Items {
			out = append(out, item.KeyExpr, item.ValueExpr)
		}
	case *hclsyntax.ObjectConsKeyExpr:
		out = append(out, e.Wrapped)
	case *hclsyntax.ForExpr:
		out = append(out, e.CollExpr, e.KeyExpr, e.ValExpr, e.CondExpr)
	case *hclsyntax.SplatExpr:
		out = append(out, e.Source, e.Each)
	case *hclsyntax.TemplateExpr:
		out = append(out, e.Parts...)
	case *hclsyntax.TemplateWrapExpr:
		out = append(out, e.Wrapped)
	case *hclsyntax.TemplateJoinExpr:
		out = append(out, e.Tuple)
	}
	return slices.DeleteFunc(out, func(c hclsyntax.Expression) bool { return c == nil })
}
