package formula

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/gridcalc/internal/transpile"
)

// Signature renders the compiled shape of the formula: the source text with
// external reads shown as $ext(name), sites still on the generic path as
// $op[...](...), $call[...](...) or $get(...), and nested roots as
// $eval[N]. It changes exactly when a site specializes.
func (ev *Evaluator) Signature() string {
	return ev.render(ev.root.expr, ev.root)
}

// Signatures renders every root, the formula itself first. Entry N is the
// root shown elsewhere as $eval[N].
func (ev *Evaluator) Signatures() []string {
	out := make([]string, len(ev.roots))
	for i, r := range ev.roots {
		out[i] = ev.render(r.expr, r)
	}
	return out
}

func (ev *Evaluator) generic(expr hclsyntax.Expression) bool {
	site, ok := ev.sites[expr]
	return ok && site.Mode() != transpile.Native
}

func (ev *Evaluator) reference(expr hclsyntax.Expression, name string) string {
	if ev.refs[expr] == refExternal {
		return "$ext(" + name + ")"
	}
	return name
}

func (ev *Evaluator) slice(start, end int) string {
	if start < 0 || end > len(ev.src) || start > end {
		return ""
	}
	return string(ev.src[start:end])
}

func (ev *Evaluator) render(expr hclsyntax.Expression, r *root) string {
	if nested, ok := ev.rootOf[expr]; ok && nested != r {
		return fmt.Sprintf("$eval[%d]", nested.id)
	}

	switch e := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		text := ev.reference(e, e.Traversal.RootName()) +
			ev.slice(e.Traversal[0].SourceRange().End.Byte, e.SrcRange.End.Byte)
		if len(e.Traversal) > 1 && ev.generic(e) {
			return "$get(" + text + ")"
		}
		return text

	case *hclsyntax.FunctionCallExpr:
		if slices.Contains(SpecialForms, e.Name) {
			break
		}
		inner := ev.stitch(e.OpenParenRange.End.Byte, e.CloseParenRange.Start.Byte, e.Args, r)
		callee := ev.reference(e, e.Name)
		if ev.generic(e) {
			return "$call[" + callee + "](" + inner + ")"
		}
		return callee + "(" + inner + ")"

	case *hclsyntax.BinaryOpExpr:
		if ev.generic(e) {
			return fmt.Sprintf("$op[%s](%s, %s)", operatorSymbols[e.Op], ev.render(e.LHS, r), ev.render(e.RHS, r))
		}

	case *hclsyntax.UnaryOpExpr:
		if ev.generic(e) {
			return fmt.Sprintf("$op[%s](%s)", operatorSymbols[e.Op], ev.render(e.Val, r))
		}

	case *hclsyntax.IndexExpr, *hclsyntax.RelativeTraversalExpr:
		rng := expr.Range()
		text := ev.stitch(rng.Start.Byte, rng.End.Byte, children(expr), r)
		if ev.generic(expr) {
			return "$get(" + text + ")"
		}
		return text

	case *hclsyntax.ObjectConsKeyExpr:
		if literalKey(e) != "" {
			return ev.text(e.Range())
		}
	}

	rng := expr.Range()
	return ev.stitch(rng.Start.Byte, rng.End.Byte, children(expr), r)
}

// stitch renders src[start:end] with each child replaced by its rendering.
// Children outside the span or overlapping an earlier child are left as
// source text.
func (ev *Evaluator) stitch(start, end int, kids []hclsyntax.Expression, r *root) string {
	kids = slices.Clone(kids)
	slices.SortStableFunc(kids, func(a, b hclsyntax.Expression) int {
		return a.Range().Start.Byte - b.Range().Start.Byte
	})

	var b strings.Builder
	pos := start
	for _, k := range kids {
		kr := k.Range()
		if kr.Start.Byte < pos || kr.End.Byte > end {
			continue
		}
		b.WriteString(ev.slice(pos, kr.Start.Byte))
		b.WriteString(ev.render(k, r))
		pos = kr.End.Byte
	}
	b.WriteString(ev.slice(pos, end))
	return b.String()
}
