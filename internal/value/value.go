// Package value defines how the engine's non-plain values live inside the cty
// type system: the stale sentinel, deferred computations, subscribable streams,
// callable functions, error values and interactive components.
//
// Everything the engine passes around is a cty.Value. Engine-specific values
// are capsules, so they flow through tuples, objects and cty functions like any
// other value and are told apart with the predicates in this package.
package value

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/vk/gridcalc/internal/task"
	"github.com/zclconf/go-cty/cty"
)

// Stale marks a computation that is in flight and not yet settled.
var Stale = cty.DynamicVal

// ErrStale is raised by reads that hit a stale value during evaluation. It is
// pending state, not a failure.
var ErrStale = errors.New("value is stale")

// IsStale reports whether v is the stale sentinel.
func IsStale(v cty.Value) bool {
	return v != cty.NilVal && !v.IsKnown()
}

// Kind classifies a value for distillation.
type Kind int

const (
	KindPlain Kind = iota
	KindFuture
	KindStream
)

// KindOf returns whether v is a deferred computation, a stream or neither.
func KindOf(v cty.Value) Kind {
	switch {
	case IsFuture(v):
		return KindFuture
	case IsStream(v):
		return KindStream
	}
	return KindPlain
}

// IsDeferred reports whether v is a future or a stream.
func IsDeferred(v cty.Value) bool {
	return KindOf(v) != KindPlain
}

// encapsulated returns the capsule payload when v is a known, non-null value
// of type ty.
func encapsulated(v cty.Value, ty cty.Type) (any, bool) {
	if v == cty.NilVal || !v.IsKnown() || v.IsNull() || !v.Type().Equals(ty) {
		return nil, false
	}
	return v.EncapsulatedValue(), true
}

// identical compares two interface payloads without panicking on
// non-comparable dynamic types.
func identical(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// --- futures ---

var futureType = cty.CapsuleWithOps("future", reflect.TypeOf((*task.Future)(nil)).Elem(), &cty.CapsuleOps{
	GoString: func(val any) string {
		return fmt.Sprintf("value.FutureVal(%s)", val.(*task.Future).State())
	},
	TypeGoString: func(reflect.Type) string { return "value.FutureType" },
})

// FutureType is the capsule type of deferred computations.
var FutureType = futureType

// FutureVal wraps f.
func FutureVal(f *task.Future) cty.Value {
	return cty.CapsuleVal(futureType, f)
}

// AsFuture unwraps a future value.
func AsFuture(v cty.Value) (*task.Future, bool) {
	p, ok := encapsulated(v, futureType)
	if !ok {
		return nil, false
	}
	return p.(*task.Future), true
}

// IsFuture reports whether v is a deferred computation.
func IsFuture(v cty.Value) bool {
	_, ok := AsFuture(v)
	return ok
}

// --- streams ---

// Subscribable is an externally driven stream of values. Subscribe delivers
// values on the engine goroutine and returns the unsubscribe function.
type Subscribable interface {
	Subscribe(func(cty.Value)) (unsubscribe func())
}

// Getter is implemented by streams that can report a current value without a
// subscription.
type Getter interface {
	Get() cty.Value
}

// SubscribeFunc adapts a function to Subscribable.
type SubscribeFunc func(func(cty.Value)) func()

// Subscribe implements Subscribable.
func (f SubscribeFunc) Subscribe(cb func(cty.Value)) func() { return f(cb) }

var streamType = cty.CapsuleWithOps("stream", reflect.TypeOf((*Subscribable)(nil)).Elem(), &cty.CapsuleOps{
	RawEquals: func(a, b any) bool {
		return identical(*a.(*Subscribable), *b.(*Subscribable))
	},
	TypeGoString: func(reflect.Type) string { return "value.StreamType" },
})

// StreamType is the capsule type of subscribable streams.
var StreamType = streamType

// StreamVal wraps s.
func StreamVal(s Subscribable) cty.Value {
	return cty.CapsuleVal(streamType, &s)
}

// AsStream unwraps a stream value.
func AsStream(v cty.Value) (Subscribable, bool) {
	p, ok := encapsulated(v, streamType)
	if !ok {
		return nil, false
	}
	return *p.(*Subscribable), true
}

// IsStream reports whether v is a subscribable stream.
func IsStream(v cty.Value) bool {
	_, ok := AsStream(v)
	return ok
}

// StreamKey returns a map key identifying the stream held by v: the stream
// itself when comparable, otherwise the capsule's storage.
func StreamKey(v cty.Value) any {
	p, ok := encapsulated(v, streamType)
	if !ok {
		return nil
	}
	s := *p.(*Subscribable)
	if reflect.TypeOf(s).Comparable() {
		return s
	}
	return p
}

// --- functions ---

// Func is a callable value: library built-ins, `fn` lambdas and functions
// exported by host modules.
type Func struct {
	Name string
	Impl func(args []cty.Value) (cty.Value, error)
}

// Call invokes the function.
func (f *Func) Call(args ...cty.Value) (cty.Value, error) {
	return f.Impl(args)
}

var funcType = cty.CapsuleWithOps("function", reflect.TypeOf((*Func)(nil)).Elem(), &cty.CapsuleOps{
	GoString: func(val any) string {
		return fmt.Sprintf("value.FuncVal(%q)", val.(*Func).Name)
	},
	TypeGoString: func(reflect.Type) string { return "value.FuncType" },
})

// FuncType is the capsule type of callable values.
var FuncType = funcType

// FuncVal wraps f.
func FuncVal(f *Func) cty.Value {
	return cty.CapsuleVal(funcType, f)
}

// NewFunc builds a named function value.
func NewFunc(name string, impl func(args []cty.Value) (cty.Value, error)) cty.Value {
	return FuncVal(&Func{Name: name, Impl: impl})
}

// AsFunc unwraps a function value.
func AsFunc(v cty.Value) (*Func, bool) {
	p, ok := encapsulated(v, funcType)
	if !ok {
		return nil, false
	}
	return p.(*Func), true
}

// --- errors ---

var errorType = cty.CapsuleWithOps("error", reflect.TypeOf((*error)(nil)).Elem(), &cty.CapsuleOps{
	GoString: func(val any) string {
		return fmt.Sprintf("value.ErrorVal(%q)", (*val.(*error)).Error())
	},
	RawEquals: func(a, b any) bool {
		return identical(*a.(*error), *b.(*error))
	},
	TypeGoString: func(reflect.Type) string { return "value.ErrorType" },
})

// ErrorType is the capsule type of error values.
var ErrorType = errorType

// ErrorVal wraps err as a value.
func ErrorVal(err error) cty.Value {
	return cty.CapsuleVal(errorType, &err)
}

// AsError unwraps an error value.
func AsError(v cty.Value) (error, bool) {
	p, ok := encapsulated(v, errorType)
	if !ok {
		return nil, false
	}
	return *p.(*error), true
}

// IsError reports whether v is an error value.
func IsError(v cty.Value) bool {
	_, ok := AsError(v)
	return ok
}

// Split turns the engine's in-band representation into Go's: error values
// become errors and the stale sentinel becomes ErrStale.
func Split(v cty.Value) (cty.Value, error) {
	if err, ok := AsError(v); ok {
		return cty.NilVal, err
	}
	if IsStale(v) {
		return cty.NilVal, ErrStale
	}
	return v, nil
}

// Join is the inverse of Split.
func Join(v cty.Value, err error) cty.Value {
	switch {
	case errors.Is(err, ErrStale):
		return Stale
	case err != nil:
		return ErrorVal(err)
	}
	return v
}
