package reactive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/zclconf/go-cty/cty"
)

func newRuntime() *reactive.Runtime {
	return reactive.NewRuntime(ctxlog.Discard())
}

func intEq(a, b int) bool { return a == b }

func TestAutorun_RerunsOnChange(t *testing.T) {
	rt := newRuntime()
	box := reactive.NewBox(rt, "box", 1, intEq)

	var seen []int
	r := rt.Autorun("watch", func() { seen = append(seen, box.Get()) })

	box.Set(2)
	box.Set(2)
	box.Set(3)
	r.Dispose()
	box.Set(4)

	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.True(t, r.Disposed())
	assert.False(t, box.Atom().Observed())
}

func TestBatch_DefersReactions(t *testing.T) {
	rt := newRuntime()
	a := reactive.NewBox(rt, "a", 1, intEq)
	b := reactive.NewBox(rt, "b", 1, intEq)

	runs := 0
	var sum int
	rt.Autorun("sum", func() {
		runs++
		sum = a.Get() + b.Get()
	})

	rt.Batch(func() {
		a.Set(10)
		b.Set(20)
		assert.Equal(t, 2, sum, "reactions must not run inside the batch")
	})

	assert.Equal(t, 30, sum)
	assert.Equal(t, 2, runs)
}

func TestUntracked_DoesNotSubscribe(t *testing.T) {
	rt := newRuntime()
	box := reactive.NewBox(rt, "box", 1, intEq)

	runs := 0
	rt.Autorun("peek", func() {
		runs++
		rt.Untracked(func() { box.Get() })
	})
	box.Set(2)

	assert.Equal(t, 1, runs)
	assert.False(t, rt.Tracking())
}

func TestComputed_SkipsReadersWhenUnchanged(t *testing.T) {
	rt := newRuntime()
	n := reactive.NewBox(rt, "n", 1, intEq)

	computes := 0
	parity := reactive.NewComputed(rt, "parity", func() int {
		computes++
		return n.Get() % 2
	}, intEq)

	var seen []int
	rt.Autorun("reader", func() { seen = append(seen, parity.Get()) })

	n.Set(3)
	n.Set(4)

	assert.Equal(t, []int{1, 0}, seen)
	assert.Equal(t, 3, computes)
}

func TestComputed_LazyOutsideReaction(t *testing.T) {
	rt := newRuntime()
	n := reactive.NewBox(rt, "n", 2, intEq)
	double := reactive.NewComputed(rt, "double", func() int { return n.Get() * 2 }, intEq)

	assert.Equal(t, 4, double.Get())
	n.Set(5)
	assert.Equal(t, 10, double.Get())
}

func TestFlush_RunsInHeightOrder(t *testing.T) {
	rt := newRuntime()
	src := reactive.NewBox(rt, "src", 1, intEq)
	mid := reactive.NewBox(rt, "mid", 1, intEq)

	var order []string
	writer := rt.Autorun("writer", func() {
		v := src.Get()
		order = append(order, "writer")
		rt.Untracked(func() { mid.Set(v * 10) })
	})
	mid.Atom().OwnedBy(writer)

	rt.Autorun("reader", func() {
		src.Get()
		mid.Get()
		order = append(order, "reader")
	})

	order = nil
	src.Set(2)

	// The reader sees the writer's output in a single run.
	assert.Equal(t, []string{"writer", "reader"}, order)
	assert.Equal(t, 20, mid.Peek())
}

func TestFlush_StopsRunawayCycle(t *testing.T) {
	rt := newRuntime()
	rt.MaxIterations = 10
	box := reactive.NewBox(rt, "box", 0, intEq)

	runs := 0
	rt.Autorun("loop", func() {
		runs++
		v := box.Get()
		box.Set(v + 1)
	})

	assert.LessOrEqual(t, runs, 11)
}

func TestAtom_ObservedHooks(t *testing.T) {
	rt := newRuntime()
	started, stopped := 0, 0
	atom := rt.NewAtom("hooked", func() func() {
		started++
		return func() { stopped++ }
	})

	assert.False(t, atom.ReportObserved(), "reads outside reactions are not tracked")
	assert.Equal(t, 0, started)

	r1 := rt.Autorun("one", func() { atom.ReportObserved() })
	r2 := rt.Autorun("two", func() { atom.ReportObserved() })
	assert.Equal(t, 1, started)

	r1.Dispose()
	assert.Equal(t, 0, stopped)
	r2.Dispose()
	assert.Equal(t, 1, stopped)
}

func TestSequence_AdvancesPerRun(t *testing.T) {
	rt := newRuntime()
	box := reactive.NewBox(rt, "box", 0, intEq)

	var seqs []uint64
	rt.Autorun("seq", func() {
		box.Get()
		seqs = append(seqs, rt.Sequence())
	})
	box.Set(1)

	require.Len(t, seqs, 2)
	assert.Greater(t, seqs[1], seqs[0])
}

func TestValueEquals(t *testing.T) {
	assert.True(t, reactive.ValueEquals(cty.NilVal, cty.NilVal))
	assert.False(t, reactive.ValueEquals(cty.NilVal, cty.NullVal(cty.DynamicPseudoType)))
	assert.True(t, reactive.ValueEquals(cty.NumberIntVal(1), cty.NumberIntVal(1)))
	assert.False(t, reactive.ValueEquals(cty.NumberIntVal(1), cty.StringVal("1")))
}
