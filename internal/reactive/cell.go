package reactive

import (
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Cell is an observable wrapper around a recomputable, possibly deferred,
// function. It starts computing when first observed and stops when the last
// observer leaves.
type Cell struct {
	rt       *Runtime
	name     string
	atom     *Atom
	evaluate func() (cty.Value, error)

	value    cty.Value
	reaction *Reaction
	cancel   func()
}

// NewCell creates a reactive cell around evaluate. Errors become error
// values; value.ErrStale and pending results read as value.Stale.
func NewCell(rt *Runtime, name string, evaluate func() (cty.Value, error)) *Cell {
	c := &Cell{rt: rt, name: name, evaluate: evaluate, value: value.Stale}
	c.atom = rt.NewAtom(name, c.start)
	return c
}

// Get returns the distilled value, value.Stale while pending or unobserved.
func (c *Cell) Get() cty.Value {
	c.atom.ReportObserved()
	return c.value
}

func (c *Cell) start() func() {
	c.reaction = c.rt.Autorun(c.name, c.compute)
	c.atom.OwnedBy(c.reaction)

	return func() {
		c.reaction.Dispose()
		c.atom.OwnedBy(nil)
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.value = value.Stale
	}
}

func (c *Cell) compute() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	v, err := c.evaluate()
	result := value.Join(v, err)

	// Distillation callbacks arrive outside this run; they must not be
	// recorded as reads of the reaction.
	c.rt.Untracked(func() {
		c.cancel = Pull(result, c.set)
	})
}

func (c *Cell) set(v cty.Value) {
	if ValueEquals(c.value, v) {
		return
	}
	c.value = v
	c.atom.ReportChanged()
}

// PendingError is returned by AsyncCell to non-reactive callers while the
// future is in flight.
type PendingError struct {
	Future *task.Future
}

func (e *PendingError) Error() string {
	return "value is pending"
}

// Is makes a pending read match value.ErrStale.
func (e *PendingError) Is(target error) bool {
	return target == value.ErrStale
}

// AsyncCell reads a single future. A settled future returns its outcome.
// Otherwise the read is registered so the running derivation re-runs on
// settlement and value.Stale is returned; outside a reactive context the
// caller receives a *PendingError carrying the future and holds no
// registration on it.
func AsyncCell(rt *Runtime, f *task.Future) (cty.Value, error) {
	if rt.tracking == nil {
		if v, err, ok := f.Settled(); ok && f.State() != task.StateCancelled {
			return v, err
		}
		return cty.NilVal, &PendingError{Future: f}
	}

	var atom *Atom
	settled := false

	release := f.Conclude(func(cty.Value, error) {
		settled = true
		if atom != nil {
			atom.ReportChanged()
		}
	})
	if settled {
		v, err, _ := f.Settled()
		return v, err
	}

	atom = rt.NewAtom("asyncCell", func() func() { return release })
	atom.ReportObserved()
	return value.Stale, nil
}
