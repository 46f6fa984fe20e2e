package transpile

import (
	"fmt"
	"strconv"

	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// UnaryOperators lists the unary operators routed through the layer.
var UnaryOperators = []string{"-", "!"}

// BinaryOperators lists the binary operators routed through the layer.
var BinaryOperators = []string{"+", "-", "*", "/", "%", "==", "!=", "<", "<=", ">", ">=", "&&", "||"}

var unaryNative = map[string]function.Function{
	"-": stdlib.NegateFunc,
	"!": stdlib.NotFunc,
}

var binaryNative = map[string]function.Function{
	"+":  stdlib.AddFunc,
	"-":  stdlib.SubtractFunc,
	"*":  stdlib.MultiplyFunc,
	"/":  stdlib.DivideFunc,
	"%":  stdlib.ModuloFunc,
	"==": stdlib.EqualFunc,
	"!=": stdlib.NotEqualFunc,
	"<":  stdlib.LessThanFunc,
	"<=": stdlib.LessThanOrEqualToFunc,
	">":  stdlib.GreaterThanFunc,
	">=": stdlib.GreaterThanOrEqualToFunc,
	"&&": stdlib.AndFunc,
	"||": stdlib.OrFunc,
}

// NativeUnary applies the scalar cty operator.
func NativeUnary(op string, v cty.Value) (cty.Value, error) {
	fn, ok := unaryNative[op]
	if !ok {
		return cty.NilVal, fmt.Errorf("unsupported unary operator %q", op)
	}
	return fn.Call([]cty.Value{v})
}

// NativeBinary applies the scalar cty operator. "+" concatenates when either
// side is a string.
func NativeBinary(op string, l, r cty.Value) (cty.Value, error) {
	if op == "+" && (isString(l) || isString(r)) {
		return concat(l, r)
	}
	fn, ok := binaryNative[op]
	if !ok {
		return cty.NilVal, fmt.Errorf("unsupported binary operator %q", op)
	}
	return fn.Call([]cty.Value{l, r})
}

func isString(v cty.Value) bool {
	return v != cty.NilVal && v.Type() == cty.String
}

func concat(l, r cty.Value) (cty.Value, error) {
	if !l.IsKnown() || !r.IsKnown() {
		return cty.UnknownVal(cty.String), nil
	}
	ls, err := asString(l)
	if err != nil {
		return cty.NilVal, err
	}
	rs, err := asString(r)
	if err != nil {
		return cty.NilVal, err
	}
	return cty.StringVal(ls + rs), nil
}

func asString(v cty.Value) (string, error) {
	if v.IsNull() {
		return "", fmt.Errorf("cannot concatenate null")
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", fmt.Errorf("cannot concatenate %s: %w", v.Type().FriendlyName(), err)
	}
	return s.AsString(), nil
}

// NeedsGenericOperand reports whether an operator site seeing v must keep the
// generic path: deferred values, capsules and collections.
func NeedsGenericOperand(v cty.Value) bool {
	if v == cty.NilVal || !v.IsKnown() || v.IsNull() {
		return false
	}
	return value.IsDeferred(v) || v.Type().IsCapsuleType() || isCollection(v)
}

// NeedsGenericArgument reports whether a call or traversal site seeing v must
// keep the deferred path.
func NeedsGenericArgument(v cty.Value) bool {
	return value.IsDeferred(v)
}

func isCollection(v cty.Value) bool {
	if v == cty.NilVal || !v.IsKnown() || v.IsNull() {
		return false
	}
	ty := v.Type()
	return ty.IsTupleType() || ty.IsListType() || ty.IsSetType() || ty.IsObjectType() || ty.IsMapType()
}

func isKeyed(v cty.Value) bool {
	ty := v.Type()
	return ty.IsObjectType() || ty.IsMapType()
}

type element struct {
	key string
	val cty.Value
}

// elements lists a collection's elements keyed by attribute name or by
// decimal index.
func elements(v cty.Value) []element {
	out := make([]element, 0, v.LengthInt())
	i := 0
	for it := v.ElementIterator(); it.Next(); i++ {
		k, e := it.Element()
		key := strconv.Itoa(i)
		if isKeyed(v) {
			key = k.AsString()
		}
		out = append(out, element{key: key, val: e})
	}
	return out
}

func build(keyed bool, results []element) cty.Value {
	if keyed {
		if len(results) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(results))
		for _, r := range results {
			attrs[r.key] = r.val
		}
		return cty.ObjectVal(attrs)
	}
	if len(results) == 0 {
		return cty.EmptyTupleVal
	}
	vals := make([]cty.Value, len(results))
	for i, r := range results {
		vals[i] = r.val
	}
	return cty.TupleVal(vals)
}

func mapElements(v cty.Value, fn func(cty.Value) (cty.Value, error)) (cty.Value, error) {
	elems := elements(v)
	for i, e := range elems {
		res, err := fn(e.val)
		if err != nil {
			return cty.NilVal, fmt.Errorf("[%s]: %w", e.key, err)
		}
		elems[i].val = res
	}
	return build(isKeyed(v), elems), nil
}

// zipElements applies fn to the keys both collections have, in l's order.
func zipElements(l, r cty.Value, fn value.BinaryFunc) (cty.Value, error) {
	right := make(map[string]cty.Value)
	for _, e := range elements(r) {
		right[e.key] = e.val
	}

	var out []element
	for _, e := range elements(l) {
		rv, ok := right[e.key]
		if !ok {
			continue
		}
		res, err := fn(e.val, rv)
		if err != nil {
			return cty.NilVal, fmt.Errorf("[%s]: %w", e.key, err)
		}
		out = append(out, element{key: e.key, val: res})
	}
	return build(isKeyed(l), out), nil
}
