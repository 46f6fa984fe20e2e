// Package transpile implements the engine's operator semantics on top of cty.
//
// Every whitelisted operator, call and traversal of a formula goes through one
// of the functions built here. In priority order an operation
//
//  1. defers when an operand is a future (the result is a future of the
//     operation over the settled operands) or a stream (the result is a stream
//     recomputing on every emission),
//  2. dispatches to an overload published by an operand's capsule type,
//  3. applies element-wise over tuples, lists, sets, objects and maps,
//  4. falls back to the native cty operator.
//
// Sites decide once, from the first real operands they see, whether they can
// skip all of this and call the native operator directly (see Site).
package transpile

import (
	"context"
	"log/slog"

	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Func is the calling convention of transpiled functions.
type Func func(args []cty.Value) (cty.Value, error)

// Ops builds operator functions bound to one reactive runtime and executor.
type Ops struct {
	rt     *reactive.Runtime
	exec   task.Executor
	logger *slog.Logger

	streams map[any]*streamEntry
	// pending holds entries looked up in the current generation that no
	// adapter has subscribed to yet.
	pending    map[any]*streamEntry
	pendingGen uint64
}

// New creates the operator layer.
func New(ctx context.Context, rt *reactive.Runtime, exec task.Executor) *Ops {
	if exec == nil {
		exec = task.Inline{}
	}
	return &Ops{
		rt:      rt,
		exec:    exec,
		logger:  ctxlog.FromContext(ctx),
		streams: make(map[any]*streamEntry),
	}
}

// Runtime returns the reactive runtime the layer was built for.
func (o *Ops) Runtime() *reactive.Runtime { return o.rt }

// Executor returns the executor settling deferred results.
func (o *Ops) Executor() task.Executor { return o.exec }

// Transpile wraps fn with the deferred rule: futures among the arguments are
// awaited, streams are followed, a stale argument makes the result stale.
func (o *Ops) Transpile(name string, fn Func) Func {
	var self Func
	self = func(args []cty.Value) (cty.Value, error) {
		if v, ok := o.deferred(name, self, args); ok {
			return v, nil
		}
		if anyStale(args) {
			return value.Stale, nil
		}
		return fn(args)
	}
	return self
}

// UnaryOp returns the generic implementation of a unary operator.
func (o *Ops) UnaryOp(op string) value.UnaryFunc {
	var self value.UnaryFunc
	generic := func(args []cty.Value) (cty.Value, error) { return self(args[0]) }

	self = func(v cty.Value) (cty.Value, error) {
		if res, ok := o.deferred(op, generic, []cty.Value{v}); ok {
			return res, nil
		}
		if value.IsStale(v) {
			return value.Stale, nil
		}
		if f := value.UnaryOverload(v, op); f != nil {
			return f(v)
		}
		if isCollection(v) {
			return mapElements(v, self)
		}
		return NativeUnary(op, v)
	}
	return self
}

// BinaryOp returns the generic implementation of a binary operator.
func (o *Ops) BinaryOp(op string) value.BinaryFunc {
	var self value.BinaryFunc
	generic := func(args []cty.Value) (cty.Value, error) { return self(args[0], args[1]) }

	self = func(l, r cty.Value) (cty.Value, error) {
		if res, ok := o.deferred(op, generic, []cty.Value{l, r}); ok {
			return res, nil
		}
		if value.IsStale(l) || value.IsStale(r) {
			return value.Stale, nil
		}
		if f := value.BinaryOverload(l, op); f != nil {
			return f(l, r)
		}
		if f := value.BinaryOverload(r, op); f != nil {
			return f(l, r)
		}

		switch lc, rc := isCollection(l), isCollection(r); {
		case lc && rc:
			return zipElements(l, r, self)
		case lc:
			return mapElements(l, func(e cty.Value) (cty.Value, error) { return self(e, r) })
		case rc:
			return mapElements(r, func(e cty.Value) (cty.Value, error) { return self(l, e) })
		}
		return NativeBinary(op, l, r)
	}
	return self
}

// deferred applies rule 1. It reports false when no argument is deferred.
func (o *Ops) deferred(name string, self Func, args []cty.Value) (cty.Value, bool) {
	hasStream := false
	for _, a := range args {
		switch value.KindOf(a) {
		case value.KindFuture:
			return value.FutureVal(o.invoke(self, args)), true
		case value.KindStream:
			hasStream = true
		}
	}
	if hasStream {
		return value.StreamVal(o.invokeSubs(name, self, args)), true
	}
	return cty.NilVal, false
}

// invoke awaits every future argument and applies self to the outcomes.
func (o *Ops) invoke(self Func, args []cty.Value) *task.Future {
	futures := make([]*task.Future, len(args))
	for i, a := range args {
		if f, ok := value.AsFuture(a); ok {
			futures[i] = f
			continue
		}
		futures[i] = task.Resolved(a)
	}
	return task.Then(o.exec, task.All(o.exec, futures...), func(all cty.Value) (cty.Value, error) {
		return self(all.AsValueSlice())
	})
}

func anyStale(args []cty.Value) bool {
	for _, a := range args {
		if value.IsStale(a) {
			return true
		}
	}
	return false
}
