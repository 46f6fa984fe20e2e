package reactive

// Reaction re-runs a side-effecting function whenever a source it read
// during its last run changes.
type Reaction struct {
	d        derivation
	fn       func()
	queued   bool
	disposed bool
}

// Autorun creates a reaction and runs it immediately.
func (rt *Runtime) Autorun(name string, fn func()) *Reaction {
	r := &Reaction{fn: fn}
	r.d = derivation{rt: rt, name: name}
	r.d.onStale = func() { rt.enqueue(r) }
	rt.Batch(r.run)
	return r
}

func (r *Reaction) run() {
	if r.disposed {
		return
	}
	r.d.track(r.fn)
}

// Dispose stops the reaction and releases its sources. It is idempotent.
func (r *Reaction) Dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	r.d.unbind()
}

// Disposed reports whether Dispose was called.
func (r *Reaction) Disposed() bool {
	return r.disposed
}

// Computed is a lazily evaluated, memoized derivation. Readers are notified
// only when its value actually changes.
type Computed[T any] struct {
	d      derivation
	atom   *Atom
	fn     func() T
	equals func(a, b T) bool

	value    T
	valid    bool
	disposed bool
}

// NewComputed creates a computed value. With a nil equals every
// recomputation counts as a change.
func NewComputed[T any](rt *Runtime, name string, fn func() T, equals func(a, b T) bool) *Computed[T] {
	c := &Computed[T]{fn: fn, equals: equals}
	c.atom = rt.NewAtom(name, nil)
	c.d = derivation{rt: rt, name: name}
	c.d.onStale = func() {
		for _, obs := range c.atom.snapshot() {
			obs.markStale(false)
		}
	}
	return c
}

// Get returns the current value, recomputing if a source changed, and
// records the read.
func (c *Computed[T]) Get() T {
	c.refresh()
	if d := c.d.rt.tracking; d != nil {
		d.record(c)
	}
	return c.value
}

// Dispose releases the sources. Later reads recompute untracked.
func (c *Computed[T]) Dispose() {
	c.disposed = true
	c.valid = false
	c.d.unbind()
}

func (c *Computed[T]) refresh() {
	if c.disposed {
		var v T
		c.d.rt.Untracked(func() { v = c.fn() })
		c.value = v
		return
	}
	if c.valid {
		switch c.d.state {
		case upToDate:
			return
		case possiblyStale:
			if !c.d.sourcesChanged() {
				c.d.state = upToDate
				return
			}
		}
	}

	var next T
	c.d.track(func() { next = c.fn() })

	if !c.valid || c.equals == nil || !c.equals(c.value, next) {
		c.atom.ver++
	}
	c.value = next
	c.valid = true
}

func (c *Computed[T]) version() uint64 { return c.atom.ver }

func (c *Computed[T]) level() int { return c.d.height }

func (c *Computed[T]) addObserver(d *derivation) {
	c.atom.observers[d] = struct{}{}
}

// removeObserver suspends the computed when its last reader leaves, so the
// sources it holds are released too.
func (c *Computed[T]) removeObserver(d *derivation) {
	delete(c.atom.observers, d)
	if len(c.atom.observers) > 0 || c.disposed {
		return
	}
	c.d.unbind()
	c.valid = false
}
