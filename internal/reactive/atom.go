package reactive

import "github.com/zclconf/go-cty/cty"

// Atom is a subject: the unit of change notification.
type Atom struct {
	rt        *Runtime
	name      string
	ver       uint64
	observers map[*derivation]struct{}

	onObserved func() (stop func())
	stop       func()
	started    bool

	owner *derivation
}

// NewAtom creates an atom. onObserved, when non-nil, is called when the atom
// gains its first observer; the function it returns is called when the last
// observer leaves.
func (rt *Runtime) NewAtom(name string, onObserved func() (stop func())) *Atom {
	return &Atom{
		rt:         rt,
		name:       name,
		observers:  make(map[*derivation]struct{}),
		onObserved: onObserved,
	}
}

// Name returns the debug name.
func (a *Atom) Name() string { return a.name }

// OwnedBy declares r as the reaction writing this atom. Readers of the atom
// are then scheduled after r within a flush.
func (a *Atom) OwnedBy(r *Reaction) {
	if r == nil {
		a.owner = nil
		return
	}
	a.owner = &r.d
}

// ReportObserved records a read by the running derivation. It returns false
// outside a reactive context.
func (a *Atom) ReportObserved() bool {
	d := a.rt.tracking
	if d == nil {
		return false
	}
	a.start()
	d.record(a)
	return true
}

// ReportChanged notifies every observer within one batch.
func (a *Atom) ReportChanged() {
	a.ver++
	if len(a.observers) == 0 {
		return
	}
	a.rt.Batch(func() {
		for _, d := range a.snapshot() {
			d.markStale(true)
		}
	})
}

// Observed reports whether any derivation currently depends on the atom.
func (a *Atom) Observed() bool {
	return len(a.observers) > 0
}

func (a *Atom) snapshot() []*derivation {
	out := make([]*derivation, 0, len(a.observers))
	for d := range a.observers {
		out = append(out, d)
	}
	return out
}

func (a *Atom) start() {
	if a.started {
		return
	}
	a.started = true
	if a.onObserved != nil {
		a.stop = a.onObserved()
	}
}

func (a *Atom) version() uint64 { return a.ver }

func (a *Atom) refresh() {}

func (a *Atom) level() int {
	if a.owner != nil {
		return a.owner.height
	}
	return 0
}

func (a *Atom) addObserver(d *derivation) {
	a.start()
	a.observers[d] = struct{}{}
}

func (a *Atom) removeObserver(d *derivation) {
	delete(a.observers, d)
	if len(a.observers) > 0 || !a.started {
		return
	}
	a.started = false
	if stop := a.stop; stop != nil {
		a.stop = nil
		stop()
	}
}

// Box is an observable value.
type Box[T any] struct {
	atom   *Atom
	v      T
	equals func(a, b T) bool
}

// NewBox creates a box. With a nil equals every Set notifies.
func NewBox[T any](rt *Runtime, name string, initial T, equals func(a, b T) bool) *Box[T] {
	return &Box[T]{atom: rt.NewAtom(name, nil), v: initial, equals: equals}
}

// Get returns the value and records the read.
func (b *Box[T]) Get() T {
	b.atom.ReportObserved()
	return b.v
}

// Peek returns the value without recording the read.
func (b *Box[T]) Peek() T {
	return b.v
}

// Set stores v, notifying observers unless it equals the current value.
func (b *Box[T]) Set(v T) {
	if b.equals != nil && b.equals(b.v, v) {
		return
	}
	b.v = v
	b.atom.ReportChanged()
}

// Atom exposes the underlying subject.
func (b *Box[T]) Atom() *Atom {
	return b.atom
}

// ValueEquals compares cty values for boxes and maps of engine values.
func ValueEquals(a, b cty.Value) bool {
	if a == cty.NilVal || b == cty.NilVal {
		return a == cty.NilVal && b == cty.NilVal
	}
	return a.RawEquals(b)
}
