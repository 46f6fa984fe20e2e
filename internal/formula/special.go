package formula

import (
	"errors"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// raise turns a thrown value into the error it stands for.
func raise(args []cty.Value) (cty.Value, error) {
	v := cty.NullVal(cty.DynamicPseudoType)
	if len(args) > 0 {
		v = args[0]
	}
	if err, ok := value.AsError(v); ok {
		return cty.NilVal, err
	}
	if v.IsKnown() && !v.IsNull() && v.Type().Equals(cty.String) {
		return cty.NilVal, errors.New(v.AsString())
	}
	return cty.NilVal, &ThrownError{Value: v}
}

// throwFunc is the value of a bare throw reference.
var throwFunc = value.NewFunc("throw", raise)

func (c *compiler) lambda(e *hclsyntax.FunctionCallExpr) evalFn {
	params := c.ev.params[e]
	body := c.ev.rootOf[e.Args[len(e.Args)-1]]

	return func(f *frame) (cty.Value, error) {
		return value.NewFunc("fn", func(args []cty.Value) (cty.Value, error) {
			names := make(map[string]cty.Value, len(params))
			for i, p := range params {
				if i < len(args) {
					names[p] = args[i]
					continue
				}
				names[p] = cty.NullVal(cty.DynamicPseudoType)
			}
			return body.eval(&frame{names: names, parent: f})
		}), nil
	}
}

func (c *compiler) throw(e *hclsyntax.FunctionCallExpr) evalFn {
	args := c.all(e.Args)
	deferred := c.ev.parser.ops.Transpile("throw", raise)

	return func(f *frame) (cty.Value, error) {
		vals, err := evalAll(f, args)
		if err != nil {
			return cty.NilVal, err
		}
		if len(vals) > 0 && (value.IsDeferred(vals[0]) || value.IsStale(vals[0])) {
			return deferred(vals)
		}
		return raise(vals)
	}
}

// try evaluates its first argument under its own root and falls back to the
// catch clause on error. Pending reads are not errors and propagate.
func (c *compiler) try(e *hclsyntax.FunctionCallExpr) evalFn {
	guarded := c.ev.rootOf[e.Args[0]]
	var catch evalFn
	if len(e.Args) > 1 {
		catch = c.expr(e.Args[1])
	}

	return func(f *frame) (cty.Value, error) {
		v, err := guarded.eval(f)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, value.ErrStale) {
			return cty.NilVal, err
		}
		if catch == nil {
			return cty.NullVal(cty.DynamicPseudoType), nil
		}

		handler, cerr := catch(f)
		if cerr != nil {
			return cty.NilVal, cerr
		}
		if fn, ok := value.AsFunc(handler); ok {
			return fn.Call(value.ErrorVal(err))
		}
		return handler, nil
	}
}

// await turns its first argument into a stream of distilled values. While
// the argument is pending the stream emits the stale clause, if any.
func (c *compiler) await(e *hclsyntax.FunctionCallExpr) evalFn {
	awaited := c.ev.rootOf[e.Args[0]]
	var onStale evalFn
	if len(e.Args) > 1 {
		onStale = c.expr(e.Args[1])
	}

	return func(f *frame) (cty.Value, error) {
		var staleClause cty.Value
		if onStale != nil {
			v, err := onStale(f)
			if err != nil {
				return cty.NilVal, err
			}
			staleClause = v
		}

		src := value.Join(awaited.eval(f))
		return value.StreamVal(value.SubscribeFunc(func(cb func(cty.Value)) func() {
			return reactive.Pull(src, func(v cty.Value) {
				if value.IsStale(v) && onStale != nil {
					v = staleValue(staleClause)
				}
				cb(v)
			})
		})), nil
	}
}

func staleValue(clause cty.Value) cty.Value {
	fn, ok := value.AsFunc(clause)
	if !ok {
		return clause
	}
	return value.Join(fn.Call())
}
