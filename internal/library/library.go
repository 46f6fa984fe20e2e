// Package library is the built-in function library of formulas. Library names
// resolve ahead of nodes and modules and are reserved as node names.
package library

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/transpile"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Library maps names to function values.
type Library map[string]cty.Value

// Names returns the library names in sorted order.
func (l Library) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the function registered as name.
func (l Library) Lookup(name string) (cty.Value, bool) {
	v, ok := l[name]
	return v, ok
}

var stdFunctions = map[string]function.Function{
	"abs":        stdlib.AbsoluteFunc,
	"ceil":       stdlib.CeilFunc,
	"floor":      stdlib.FloorFunc,
	"min":        stdlib.MinFunc,
	"max":        stdlib.MaxFunc,
	"pow":        stdlib.PowFunc,
	"signum":     stdlib.SignumFunc,
	"parseint":   stdlib.ParseIntFunc,
	"upper":      stdlib.UpperFunc,
	"lower":      stdlib.LowerFunc,
	"trimspace":  stdlib.TrimSpaceFunc,
	"substr":     stdlib.SubstrFunc,
	"replace":    stdlib.ReplaceFunc,
	"join":       stdlib.JoinFunc,
	"split":      stdlib.SplitFunc,
	"format":     stdlib.FormatFunc,
	"length":     stdlib.LengthFunc,
	"keys":       stdlib.KeysFunc,
	"values":     stdlib.ValuesFunc,
	"lookup":     stdlib.LookupFunc,
	"merge":      stdlib.MergeFunc,
	"concat":     stdlib.ConcatFunc,
	"reverse":    stdlib.ReverseListFunc,
	"flatten":    stdlib.FlattenFunc,
	"distinct":   stdlib.DistinctFunc,
	"contains":   stdlib.ContainsFunc,
	"element":    stdlib.ElementFunc,
	"slice":      stdlib.SliceFunc,
	"sort":       stdlib.SortFunc,
	"zipmap":     stdlib.ZipmapFunc,
	"coalesce":   stdlib.CoalesceFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
	"jsondecode": stdlib.JSONDecodeFunc,
}

// New builds the library. Functions are transpiled through ops, so deferred
// arguments are awaited or followed before the function runs.
func New(ops *transpile.Ops) Library {
	lib := make(Library, len(stdFunctions)+5)

	for name, fn := range stdFunctions {
		lib[name] = value.NewFunc(name, ops.Transpile(name, fn.Call))
	}

	plus := ops.BinaryOp("+")
	exec := ops.Executor()

	lib["range"] = value.NewFunc("range", ops.Transpile("range", rangeFunc))
	lib["sum"] = value.NewFunc("sum", ops.Transpile("sum", func(args []cty.Value) (cty.Value, error) {
		return sum(plus, args)
	}))
	lib["race"] = value.NewFunc("race", ops.Transpile("race", func(args []cty.Value) (cty.Value, error) {
		return race(exec, args)
	}))
	lib["delayed"] = value.NewFunc("delayed", func(args []cty.Value) (cty.Value, error) {
		return delayed(exec, args)
	})
	lib["call"] = value.NewFunc("call", ops.Transpile("call", call))
	return lib
}

func toInt(v cty.Value, what string) (int, error) {
	n, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", what, err)
	}
	var i int
	if err := gocty.FromCtyValue(n, &i); err != nil {
		return 0, fmt.Errorf("%s must be a whole number: %w", what, err)
	}
	return i, nil
}

// rangeFunc implements range(end), range(start, end) and
// range(start, end, step).
func rangeFunc(args []cty.Value) (cty.Value, error) {
	if len(args) == 0 || len(args) > 3 {
		return cty.NilVal, fmt.Errorf("range expects 1 to 3 arguments, got %d", len(args))
	}

	bounds := make([]int, len(args))
	for i, a := range args {
		n, err := toInt(a, "range argument")
		if err != nil {
			return cty.NilVal, err
		}
		bounds[i] = n
	}

	start, end, step := 0, bounds[0], 1
	if len(bounds) > 1 {
		start, end = bounds[0], bounds[1]
	}
	if len(bounds) > 2 {
		step = bounds[2]
	}
	if step == 0 {
		return cty.NilVal, errors.New("range step must not be zero")
	}

	var vals []cty.Value
	for i := start; (step > 0 && i < end) || (step < 0 && i > end); i += step {
		vals = append(vals, cty.NumberIntVal(int64(i)))
	}
	if len(vals) == 0 {
		return cty.EmptyTupleVal, nil
	}
	return cty.TupleVal(vals), nil
}

func iterable(v cty.Value, fn string) ([]cty.Value, error) {
	if v.IsNull() || !v.CanIterateElements() || v.Type().IsObjectType() || v.Type().IsMapType() {
		return nil, fmt.Errorf("Argument to %s must resolve to an iterable", fn)
	}
	var out []cty.Value
	for it := v.ElementIterator(); it.Next(); {
		_, e := it.Element()
		out = append(out, e)
	}
	return out, nil
}

// sum reduces a collection with the generic "+" operator, so overloaded and
// element-wise values sum too.
func sum(plus value.BinaryFunc, args []cty.Value) (cty.Value, error) {
	if len(args) != 1 {
		return cty.NilVal, fmt.Errorf("sum expects 1 argument, got %d", len(args))
	}
	elems, err := iterable(args[0], "sum")
	if err != nil {
		return cty.NilVal, err
	}
	if len(elems) == 0 {
		return cty.Zero, nil
	}

	acc := elems[0]
	for _, e := range elems[1:] {
		if acc, err = plus(acc, e); err != nil {
			return cty.NilVal, err
		}
	}
	return acc, nil
}

// race settles with the first of its elements to settle. Plain elements
// count as settled.
func race(exec task.Executor, args []cty.Value) (cty.Value, error) {
	if len(args) != 1 {
		return cty.NilVal, fmt.Errorf("race expects 1 argument, got %d", len(args))
	}
	elems, err := iterable(args[0], "race")
	if err != nil {
		return cty.NilVal, err
	}

	futures := make([]*task.Future, len(elems))
	for i, e := range elems {
		if f, ok := value.AsFuture(e); ok {
			futures[i] = f
			continue
		}
		futures[i] = task.Resolved(e)
	}
	return value.FutureVal(task.Race(exec, futures...)), nil
}

// delayed yields value after ms milliseconds.
func delayed(exec task.Executor, args []cty.Value) (cty.Value, error) {
	if len(args) != 2 {
		return cty.NilVal, fmt.Errorf("delayed expects 2 arguments, got %d", len(args))
	}
	ms, err := toInt(args[0], "delay")
	if err != nil {
		return cty.NilVal, err
	}
	return value.FutureVal(task.After(exec, time.Duration(ms)*time.Millisecond, args[1])), nil
}

// call invokes a function value with the remaining arguments.
func call(args []cty.Value) (cty.Value, error) {
	if len(args) == 0 {
		return cty.NilVal, errors.New("call expects a function")
	}
	f, ok := value.AsFunc(args[0])
	if !ok {
		return cty.NilVal, fmt.Errorf("%s is not a function", args[0].Type().FriendlyName())
	}
	return f.Call(args[1:]...)
}
