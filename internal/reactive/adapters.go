package reactive

import (
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Observable is anything whose current value can be read reactively.
type Observable interface {
	Get() cty.Value
}

// ObservableFunc adapts a function to Observable.
type ObservableFunc func() cty.Value

// Get implements Observable.
func (f ObservableFunc) Get() cty.Value { return f() }

// Const is an Observable that never changes.
type Const struct{ V cty.Value }

// Get implements Observable.
func (c Const) Get() cty.Value { return c.V }

type observableStream struct {
	rt   *Runtime
	name string
	obs  Observable
}

// FromObservable exposes obs as a subscribable stream: each subscription is a
// reaction delivering the current value and every change after it.
func FromObservable(rt *Runtime, name string, obs Observable) value.Subscribable {
	return &observableStream{rt: rt, name: name, obs: obs}
}

func (s *observableStream) Subscribe(cb func(cty.Value)) func() {
	r := s.rt.Autorun(s.name, func() {
		v := s.obs.Get()
		s.rt.Untracked(func() { cb(v) })
	})
	return r.Dispose
}

func (s *observableStream) Get() cty.Value {
	return s.obs.Get()
}

// StreamObservable is the Observable side of an external stream.
type StreamObservable struct {
	rt     *Runtime
	atom   *Atom
	stream value.Subscribable
	value  cty.Value
}

// ToObservable bridges an external stream into the reactive substrate. The
// stream is subscribed while the observable has observers.
func ToObservable(rt *Runtime, name string, s value.Subscribable) *StreamObservable {
	o := &StreamObservable{rt: rt, stream: s}
	o.atom = rt.NewAtom(name, o.start)
	return o
}

func (o *StreamObservable) start() func() {
	var unsubscribe func()
	o.rt.Untracked(func() {
		unsubscribe = o.stream.Subscribe(func(v cty.Value) {
			o.value = v
			o.atom.ReportChanged()
		})
	})
	return func() {
		if unsubscribe != nil {
			unsubscribe()
		}
	}
}

// Get returns the latest emitted value. Unobserved reads fall back to the
// stream's own Get, or value.Stale.
func (o *StreamObservable) Get() cty.Value {
	if !o.atom.ReportObserved() {
		if g, ok := o.stream.(value.Getter); ok {
			return g.Get()
		}
		return value.Stale
	}
	if o.value == cty.NilVal {
		return value.Stale
	}
	return o.value
}

// Atom exposes the underlying subject.
func (o *StreamObservable) Atom() *Atom {
	return o.atom
}
