package formula

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/gridcalc/internal/transpile"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

type evalFn func(f *frame) (cty.Value, error)

// frame holds the bound names visible to a running closure.
type frame struct {
	names  map[string]cty.Value
	anon   *hclsyntax.AnonSymbolExpr
	item   cty.Value
	parent *frame
}

func (f *frame) lookup(name string) (cty.Value, bool) {
	for ; f != nil; f = f.parent {
		if v, ok := f.names[name]; ok {
			return v, true
		}
	}
	return cty.NilVal, false
}

func (f *frame) symbol(sym *hclsyntax.AnonSymbolExpr) (cty.Value, bool) {
	for ; f != nil; f = f.parent {
		if f.anon == sym {
			return f.item, true
		}
	}
	return cty.NilVal, false
}

var operatorSymbols = map[*hclsyntax.Operation]string{
	hclsyntax.OpAdd:                "+",
	hclsyntax.OpSubtract:           "-",
	hclsyntax.OpMultiply:           "*",
	hclsyntax.OpDivide:             "/",
	hclsyntax.OpModulo:             "%",
	hclsyntax.OpEqual:              "==",
	hclsyntax.OpNotEqual:           "!=",
	hclsyntax.OpLessThan:           "<",
	hclsyntax.OpLessThanOrEqual:    "<=",
	hclsyntax.OpGreaterThan:        ">",
	hclsyntax.OpGreaterThanOrEqual: ">=",
	hclsyntax.OpLogicalAnd:         "&&",
	hclsyntax.OpLogicalOr:          "||",
	hclsyntax.OpNegate:             "-",
	hclsyntax.OpLogicalNot:         "!",
}

type compiler struct {
	ev   *Evaluator
	root *root
}

func constant(v cty.Value) evalFn {
	return func(*frame) (cty.Value, error) { return v, nil }
}

func (c *compiler) all(exprs []hclsyntax.Expression) []evalFn {
	fns := make([]evalFn, len(exprs))
	for i, e := range exprs {
		fns[i] = c.expr(e)
	}
	return fns
}

func evalAll(f *frame, fns []evalFn) ([]cty.Value, error) {
	vals := make([]cty.Value, len(fns))
	for i, fn := range fns {
		v, err := fn(f)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (c *compiler) expr(expr hclsyntax.Expression) evalFn {
	if r, ok := c.ev.rootOf[expr]; ok && r != c.root {
		return r.eval
	}

	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		return constant(e.Val)
	case *hclsyntax.ParenthesesExpr:
		return c.expr(e.Expression)
	case *hclsyntax.ScopeTraversalExpr:
		return c.scopeTraversal(e)
	case *hclsyntax.RelativeTraversalExpr:
		return c.traversal(e, c.expr(e.Source), e.Traversal)
	case *hclsyntax.IndexExpr:
		return c.index(e)
	case *hclsyntax.FunctionCallExpr:
		return c.call(e)
	case *hclsyntax.BinaryOpExpr:
		return c.binary(e)
	case *hclsyntax.UnaryOpExpr:
		return c.unary(e)
	case *hclsyntax.ConditionalExpr:
		return c.conditional(e)
	case *hclsyntax.TupleConsExpr:
		return c.tuple(e)
	case *hclsyntax.ObjectConsExpr:
		return c.object(e)
	case *hclsyntax.ForExpr:
		return c.forExpr(e)
	case *hclsyntax.SplatExpr:
		return c.splat(e)
	case *hclsyntax.AnonSymbolExpr:
		return func(f *frame) (cty.Value, error) {
			if v, ok := f.symbol(e); ok {
				return v, nil
			}
			return cty.NilVal, errors.New("splat item used outside its splat")
		}
	case *hclsyntax.TemplateExpr:
		return c.template(e)
	case *hclsyntax.TemplateWrapExpr:
		return c.expr(e.Wrapped)
	case *hclsyntax.TemplateJoinExpr:
		return c.templateJoin(e)
	}

	text := c.ev.text(expr.Range())
	return func(*frame) (cty.Value, error) {
		return cty.NilVal, fmt.Errorf("unsupported expression %q", text)
	}
}

// reader returns the closure reading identifier name as classified by the
// walk.
func (c *compiler) reader(expr hclsyntax.Expression, name string) evalFn {
	switch c.ev.refs[expr] {
	case refBound:
		return func(f *frame) (cty.Value, error) {
			if v, ok := f.lookup(name); ok {
				return v, nil
			}
			return cty.NilVal, fmt.Errorf("%s not defined", name)
		}
	case refThrow:
		return constant(throwFunc)
	case refBuiltin:
		return func(*frame) (cty.Value, error) { return c.ev.builtin(name) }
	}
	return func(*frame) (cty.Value, error) { return c.ev.external(name) }
}

func (c *compiler) scopeTraversal(e *hclsyntax.ScopeTraversalExpr) evalFn {
	read := c.reader(e, e.Traversal.RootName())
	if len(e.Traversal) == 1 {
		return read
	}
	return c.traversal(e, read, e.Traversal[1:])
}

func traverse(steps hcl.Traversal, v cty.Value) (cty.Value, error) {
	out, diags := steps.TraverseRel(v)
	if err := diagnosticsError(diags); err != nil {
		return cty.NilVal, err
	}
	return out, nil
}

// traversal applies attribute and index steps to the value of source.
func (c *compiler) traversal(e hclsyntax.Expression, source evalFn, steps hcl.Traversal) evalFn {
	site := c.ev.sites[e]
	native := func(v cty.Value) (cty.Value, error) { return traverse(steps, v) }
	if site.Mode() == transpile.Native {
		return func(f *frame) (cty.Value, error) {
			v, err := source(f)
			if err != nil {
				return cty.NilVal, err
			}
			return native(v)
		}
	}

	generic := c.ev.parser.ops.Transpile("get", func(args []cty.Value) (cty.Value, error) {
		return native(args[0])
	})
	return func(f *frame) (cty.Value, error) {
		v, err := source(f)
		if err != nil {
			return cty.NilVal, err
		}
		if site.Observe(v) == transpile.Native {
			return native(v)
		}
		return generic([]cty.Value{v})
	}
}

func (c *compiler) index(e *hclsyntax.IndexExpr) evalFn {
	coll, key := c.expr(e.Collection), c.expr(e.Key)
	site := c.ev.sites[e]
	native := func(args []cty.Value) (cty.Value, error) {
		v, diags := hcl.Index(args[0], args[1], nil)
		if err := diagnosticsError(diags); err != nil {
			return cty.NilVal, err
		}
		return v, nil
	}
	generic := c.ev.parser.ops.Transpile("index", native)

	return func(f *frame) (cty.Value, error) {
		args, err := evalAll(f, []evalFn{coll, key})
		if err != nil {
			return cty.NilVal, err
		}
		if site.Observe(args...) == transpile.Native {
			return native(args)
		}
		return generic(args)
	}
}

func (c *compiler) call(e *hclsyntax.FunctionCallExpr) evalFn {
	switch e.Name {
	case "fn":
		return c.lambda(e)
	case "throw":
		return c.throw(e)
	case "try":
		return c.try(e)
	case "await":
		return c.await(e)
	}

	name := e.Name
	operands := append([]evalFn{c.reader(e, name)}, c.all(e.Args)...)
	expand := e.ExpandFinal
	site := c.ev.sites[e]

	invoke := func(vals []cty.Value) (cty.Value, error) {
		fn, ok := value.AsFunc(vals[0])
		if !ok {
			return cty.NilVal, fmt.Errorf("%s is not a function", name)
		}
		rest := vals[1:]
		if expand && len(rest) > 0 {
			var err error
			if rest, err = spread(rest); err != nil {
				return cty.NilVal, err
			}
		}
		return fn.Call(rest...)
	}

	if site.Mode() == transpile.Native {
		return func(f *frame) (cty.Value, error) {
			vals, err := evalAll(f, operands)
			if err != nil {
				return cty.NilVal, err
			}
			return invoke(vals)
		}
	}

	generic := c.ev.parser.ops.Transpile(name, invoke)
	return func(f *frame) (cty.Value, error) {
		vals, err := evalAll(f, operands)
		if err != nil {
			return cty.NilVal, err
		}
		if site.Observe(vals...) == transpile.Native {
			return invoke(vals)
		}
		return generic(vals)
	}
}

// spread expands the final argument of f(xs...).
func spread(args []cty.Value) ([]cty.Value, error) {
	last := args[len(args)-1]
	ty := last.Type()
	if last.IsNull() || !(ty.IsTupleType() || ty.IsListType() || ty.IsSetType()) {
		return nil, fmt.Errorf("cannot expand %s arguments", ty.FriendlyName())
	}
	out := append([]cty.Value{}, args[:len(args)-1]...)
	for it := last.ElementIterator(); it.Next(); {
		_, v := it.Element()
		out = append(out, v)
	}
	return out, nil
}

func (c *compiler) binary(e *hclsyntax.BinaryOpExpr) evalFn {
	sym := operatorSymbols[e.Op]
	lhs, rhs := c.expr(e.LHS), c.expr(e.RHS)
	site := c.ev.sites[e]
	native := func(l, r cty.Value) (cty.Value, error) { return transpile.NativeBinary(sym, l, r) }

	if site.Mode() == transpile.Native {
		return func(f *frame) (cty.Value, error) {
			l, err := lhs(f)
			if err != nil {
				return cty.NilVal, err
			}
			r, err := rhs(f)
			if err != nil {
				return cty.NilVal, err
			}
			return native(l, r)
		}
	}

	generic := c.ev.parser.ops.BinaryOp(sym)
	return func(f *frame) (cty.Value, error) {
		l, err := lhs(f)
		if err != nil {
			return cty.NilVal, err
		}
		r, err := rhs(f)
		if err != nil {
			return cty.NilVal, err
		}
		if site.Observe(l, r) == transpile.Native {
			return native(l, r)
		}
		return generic(l, r)
	}
}

func (c *compiler) unary(e *hclsyntax.UnaryOpExpr) evalFn {
	sym := operatorSymbols[e.Op]
	operand := c.expr(e.Val)
	site := c.ev.sites[e]
	native := func(v cty.Value) (cty.Value, error) { return transpile.NativeUnary(sym, v) }

	if site.Mode() == transpile.Native {
		return func(f *frame) (cty.Value, error) {
			v, err := operand(f)
			if err != nil {
				return cty.NilVal, err
			}
			return native(v)
		}
	}

	generic := c.ev.parser.ops.UnaryOp(sym)
	return func(f *frame) (cty.Value, error) {
		v, err := operand(f)
		if err != nil {
			return cty.NilVal, err
		}
		if site.Observe(v) == transpile.Native {
			return native(v)
		}
		return generic(v)
	}
}

func truthy(v cty.Value) (bool, error) {
	if v.IsNull() {
		return false, errors.New("condition must not be null")
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition must be a bool: %w", err)
	}
	return b.True(), nil
}

// conditional evaluates only the chosen branch.
func (c *compiler) conditional(e *hclsyntax.ConditionalExpr) evalFn {
	cond, yes, no := c.expr(e.Condition), c.expr(e.TrueResult), c.expr(e.FalseResult)

	var choose func(f *frame, v cty.Value) (cty.Value, error)
	choose = func(f *frame, v cty.Value) (cty.Value, error) {
		if value.IsDeferred(v) {
			deferred := c.ev.parser.ops.Transpile("if", func(args []cty.Value) (cty.Value, error) {
				return choose(f, args[0])
			})
			return deferred([]cty.Value{v})
		}
		if value.IsStale(v) {
			return value.Stale, nil
		}
		ok, err := truthy(v)
		if err != nil {
			return cty.NilVal, err
		}
		if ok {
			return yes(f)
		}
		return no(f)
	}

	return func(f *frame) (cty.Value, error) {
		v, err := cond(f)
		if err != nil {
			return cty.NilVal, err
		}
		return choose(f, v)
	}
}

func (c *compiler) tuple(e *hclsyntax.TupleConsExpr) evalFn {
	elems := c.all(e.Exprs)
	return func(f *frame) (cty.Value, error) {
		vals, err := evalAll(f, elems)
		if err != nil {
			return cty.NilVal, err
		}
		if len(vals) == 0 {
			return cty.EmptyTupleVal, nil
		}
		return cty.TupleVal(vals), nil
	}
}

func (c *compiler) object(e *hclsyntax.ObjectConsExpr) evalFn {
	type item struct {
		key, val evalFn
	}
	items := make([]item, len(e.Items))
	for i, it := range e.Items {
		var key evalFn
		if k, ok := it.KeyExpr.(*hclsyntax.ObjectConsKeyExpr); ok {
			if name := literalKey(k); name != "" {
				key = constant(cty.StringVal(name))
			} else {
				key = c.expr(k.Wrapped)
			}
		} else {
			key = c.expr(it.KeyExpr)
		}
		items[i] = item{key: key, val: c.expr(it.ValueExpr)}
	}

	return func(f *frame) (cty.Value, error) {
		attrs := make(map[string]cty.Value, len(items))
		for _, it := range items {
			k, err := it.key(f)
			if err != nil {
				return cty.NilVal, err
			}
			if value.IsStale(k) {
				return value.Stale, nil
			}
			name, err := keyString(k)
			if err != nil {
				return cty.NilVal, err
			}
			if attrs[name], err = it.val(f); err != nil {
				return cty.NilVal, err
			}
		}
		if len(attrs) == 0 {
			return cty.EmptyObjectVal, nil
		}
		return cty.ObjectVal(attrs), nil
	}
}

func keyString(k cty.Value) (string, error) {
	if k.IsNull() {
		return "", errors.New("object key must not be null")
	}
	s, err := convert.Convert(k, cty.String)
	if err != nil {
		return "", fmt.Errorf("object key must be a string: %w", err)
	}
	return s.AsString(), nil
}

// iterate runs each over the elements of a collection, deferring on futures
// and streams.
func (c *compiler) iterate(name string, coll evalFn, each func(f *frame, v cty.Value) (cty.Value, error)) evalFn {
	deferred := func(f *frame) transpile.Func {
		return c.ev.parser.ops.Transpile(name, func(args []cty.Value) (cty.Value, error) {
			return each(f, args[0])
		})
	}
	return func(f *frame) (cty.Value, error) {
		v, err := coll(f)
		if err != nil {
			return cty.NilVal, err
		}
		if value.IsDeferred(v) {
			return deferred(f)([]cty.Value{v})
		}
		if value.IsStale(v) {
			return value.Stale, nil
		}
		return each(f, v)
	}
}

func (c *compiler) forExpr(e *hclsyntax.ForExpr) evalFn {
	keyVar, valVar := e.KeyVar, e.ValVar
	body := c.expr(e.ValExpr)
	var key, cond evalFn
	if e.KeyExpr != nil {
		key = c.expr(e.KeyExpr)
	}
	if e.CondExpr != nil {
		cond = c.expr(e.CondExpr)
	}
	group := e.Group

	return c.iterate("for", c.expr(e.CollExpr), func(f *frame, coll cty.Value) (cty.Value, error) {
		if coll.IsNull() {
			return cty.NilVal, errors.New("cannot iterate over null")
		}
		if !coll.CanIterateElements() {
			return cty.NilVal, fmt.Errorf("cannot iterate over %s", coll.Type().FriendlyName())
		}

		var list []cty.Value
		attrs := map[string]cty.Value{}
		groups := map[string][]cty.Value{}

		for it := coll.ElementIterator(); it.Next(); {
			k, v := it.Element()
			names := map[string]cty.Value{valVar: v}
			if keyVar != "" {
				names[keyVar] = k
			}
			inner := &frame{names: names, parent: f}

			if cond != nil {
				cv, err := cond(inner)
				if err != nil {
					return cty.NilVal, err
				}
				if value.IsStale(cv) {
					return value.Stale, nil
				}
				ok, err := truthy(cv)
				if err != nil {
					return cty.NilVal, err
				}
				if !ok {
					continue
				}
			}

			val, err := body(inner)
			if err != nil {
				return cty.NilVal, err
			}
			if key == nil {
				list = append(list, val)
				continue
			}

			kv, err := key(inner)
			if err != nil {
				return cty.NilVal, err
			}
			if value.IsStale(kv) {
				return value.Stale, nil
			}
			name, err := keyString(kv)
			if err != nil {
				return cty.NilVal, err
			}
			switch {
			case group:
				groups[name] = append(groups[name], val)
			case hasKey(attrs, name):
				return cty.NilVal, fmt.Errorf("duplicate object key %q", name)
			default:
				attrs[name] = val
			}
		}

		switch {
		case key == nil && len(list) == 0:
			return cty.EmptyTupleVal, nil
		case key == nil:
			return cty.TupleVal(list), nil
		case group:
			for name, vals := range groups {
				attrs[name] = cty.TupleVal(vals)
			}
		}
		if len(attrs) == 0 {
			return cty.EmptyObjectVal, nil
		}
		return cty.ObjectVal(attrs), nil
	})
}

func hasKey(m map[string]cty.Value, k string) bool {
	_, ok := m[k]
	return ok
}

func (c *compiler) splat(e *hclsyntax.SplatExpr) evalFn {
	each := c.expr(e.Each)
	sym := e.Item

	return c.iterate("splat", c.expr(e.Source), func(f *frame, src cty.Value) (cty.Value, error) {
		if src.IsNull() {
			return cty.EmptyTupleVal, nil
		}
		ty := src.Type()
		if !(ty.IsTupleType() || ty.IsListType() || ty.IsSetType()) {
			v, err := each(&frame{anon: sym, item: src, parent: f})
			if err != nil {
				return cty.NilVal, err
			}
			return cty.TupleVal([]cty.Value{v}), nil
		}

		var out []cty.Value
		for it := src.ElementIterator(); it.Next(); {
			_, item := it.Element()
			v, err := each(&frame{anon: sym, item: item, parent: f})
			if err != nil {
				return cty.NilVal, err
			}
			out = append(out, v)
		}
		if len(out) == 0 {
			return cty.EmptyTupleVal, nil
		}
		return cty.TupleVal(out), nil
	})
}

func templateString(v cty.Value) (string, error) {
	if v.IsNull() {
		return "", errors.New("cannot include a null value in a string template")
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", fmt.Errorf("cannot include %s in a string template", v.Type().FriendlyName())
	}
	return s.AsString(), nil
}

func (c *compiler) template(e *hclsyntax.TemplateExpr) evalFn {
	if e.IsStringLiteral() {
		return c.expr(e.Parts[0])
	}
	parts := c.all(e.Parts)
	join := c.ev.parser.ops.Transpile("template", func(args []cty.Value) (cty.Value, error) {
		var b strings.Builder
		for _, a := range args {
			s, err := templateString(a)
			if err != nil {
				return cty.NilVal, err
			}
			b.WriteString(s)
		}
		return cty.StringVal(b.String()), nil
	})

	return func(f *frame) (cty.Value, error) {
		vals, err := evalAll(f, parts)
		if err != nil {
			return cty.NilVal, err
		}
		return join(vals)
	}
}

func (c *compiler) templateJoin(e *hclsyntax.TemplateJoinExpr) evalFn {
	tuple := c.expr(e.Tuple)
	join := c.ev.parser.ops.Transpile("template", func(args []cty.Value) (cty.Value, error) {
		t := args[0]
		if t.IsNull() || !t.CanIterateElements() {
			return cty.NilVal, errors.New("template loop must produce a sequence")
		}
		var b strings.Builder
		for it := t.ElementIterator(); it.Next(); {
			_, v := it.Element()
			s, err := templateString(v)
			if err != nil {
				return cty.NilVal, err
			}
			b.WriteString(s)
		}
		return cty.StringVal(b.String()), nil
	})

	return func(f *frame) (cty.Value, error) {
		v, err := tuple(f)
		if err != nil {
			return cty.NilVal, err
		}
		return join([]cty.Value{v})
	}
}
