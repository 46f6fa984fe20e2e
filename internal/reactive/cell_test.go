package reactive_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

func TestCell_StaleUntilFutureSettles(t *testing.T) {
	rt := newRuntime()
	f, settle := task.NewPromise(task.Inline{})
	cell := reactive.NewCell(rt, "cell", func() (cty.Value, error) {
		return value.FutureVal(f), nil
	})

	var seen []cty.Value
	r := rt.Autorun("reader", func() { seen = append(seen, cell.Get()) })

	settle(cty.NumberIntVal(42), nil)

	require.Len(t, seen, 2)
	assert.True(t, value.IsStale(seen[0]))
	assert.True(t, seen[1].RawEquals(cty.NumberIntVal(42)))

	r.Dispose()
	assert.True(t, value.IsStale(cell.Get()), "an unobserved cell resets")
}

func TestCell_RecomputesWhenSourceChanges(t *testing.T) {
	rt := newRuntime()
	box := reactive.NewBox(rt, "n", cty.NumberIntVal(1), reactive.ValueEquals)

	evaluations := 0
	cell := reactive.NewCell(rt, "double", func() (cty.Value, error) {
		evaluations++
		n := box.Get()
		return n.Multiply(cty.NumberIntVal(2)), nil
	})

	var seen []int64
	rt.Autorun("reader", func() {
		v := cell.Get()
		i, _ := v.AsBigFloat().Int64()
		seen = append(seen, i)
	})

	box.Set(cty.NumberIntVal(5))

	assert.Equal(t, []int64{2, 10}, seen)
	assert.Equal(t, 2, evaluations)
}

func TestCell_ErrorsBecomeValues(t *testing.T) {
	rt := newRuntime()
	boom := errors.New("boom")
	cell := reactive.NewCell(rt, "failing", func() (cty.Value, error) {
		return cty.NilVal, boom
	})

	var got cty.Value
	rt.Autorun("reader", func() { got = cell.Get() })

	err, ok := value.AsError(got)
	require.True(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestCell_CancelsPendingRunOnRecompute(t *testing.T) {
	rt := newRuntime()
	first, _ := task.NewPromise(task.Inline{})
	second, settleSecond := task.NewPromise(task.Inline{})
	which := reactive.NewBox(rt, "which", 0, intEq)

	cell := reactive.NewCell(rt, "switch", func() (cty.Value, error) {
		if which.Get() == 0 {
			return value.FutureVal(first), nil
		}
		return value.FutureVal(second), nil
	})

	var got cty.Value
	rt.Autorun("reader", func() { got = cell.Get() })
	require.True(t, value.IsStale(got))

	which.Set(1)
	assert.Equal(t, task.StateCancelled, first.State())

	settleSecond(cty.StringVal("done"), nil)
	assert.True(t, got.RawEquals(cty.StringVal("done")))
}

func TestAsyncCell(t *testing.T) {
	t.Run("settled future returns its outcome", func(t *testing.T) {
		rt := newRuntime()
		v, err := reactive.AsyncCell(rt, task.Resolved(cty.True))
		require.NoError(t, err)
		assert.True(t, v.RawEquals(cty.True))
	})

	t.Run("pending future outside a reaction reports pending", func(t *testing.T) {
		rt := newRuntime()
		f, _ := task.NewPromise(task.Inline{})
		_, err := reactive.AsyncCell(rt, f)

		var pending *reactive.PendingError
		require.ErrorAs(t, err, &pending)
		assert.Same(t, f, pending.Future)
		assert.ErrorIs(t, err, value.ErrStale)
	})

	t.Run("pending read outside a reaction holds no registration", func(t *testing.T) {
		rt := newRuntime()
		f, _ := task.NewPromise(task.Inline{})
		_, err := reactive.AsyncCell(rt, f)
		require.Error(t, err)
		assert.Equal(t, task.StatePending, f.State())

		release := f.Conclude(func(cty.Value, error) {})
		release()

		assert.Equal(t, task.StateCancelled, f.State(), "the last holder's release cancels the future")
	})

	t.Run("pending future inside a reaction re-runs on settlement", func(t *testing.T) {
		rt := newRuntime()
		f, settle := task.NewPromise(task.Inline{})

		var seen []cty.Value
		rt.Autorun("reader", func() {
			v, err := reactive.AsyncCell(rt, f)
			require.NoError(t, err)
			seen = append(seen, v)
		})
		settle(cty.NumberIntVal(3), nil)

		require.Len(t, seen, 2)
		assert.True(t, value.IsStale(seen[0]))
		assert.True(t, seen[1].RawEquals(cty.NumberIntVal(3)))
	})
}

func TestPull(t *testing.T) {
	t.Run("plain value is delivered once synchronously", func(t *testing.T) {
		calls := 0
		reactive.Pull(cty.NumberIntVal(1), func(cty.Value) { calls++ })
		assert.Equal(t, 1, calls)
	})

	t.Run("future of a future distills to the inner result", func(t *testing.T) {
		inner, settleInner := task.NewPromise(task.Inline{})
		outer, settleOuter := task.NewPromise(task.Inline{})

		var seen []cty.Value
		reactive.Pull(value.FutureVal(outer), func(v cty.Value) { seen = append(seen, v) })
		settleOuter(value.FutureVal(inner), nil)
		settleInner(cty.StringVal("x"), nil)

		require.Len(t, seen, 3)
		assert.True(t, value.IsStale(seen[0]))
		assert.True(t, value.IsStale(seen[1]))
		assert.True(t, seen[2].RawEquals(cty.StringVal("x")))
	})

	t.Run("rejection becomes an error value", func(t *testing.T) {
		boom := errors.New("boom")
		var got cty.Value
		reactive.Pull(value.FutureVal(task.Rejected(boom)), func(v cty.Value) { got = v })

		err, ok := value.AsError(got)
		require.True(t, ok)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("stream emissions replace the previous inner value", func(t *testing.T) {
		var emit func(cty.Value)
		stream := value.SubscribeFunc(func(cb func(cty.Value)) func() {
			emit = cb
			return func() { emit = nil }
		})

		first, _ := task.NewPromise(task.Inline{})
		var seen []cty.Value
		cancel := reactive.Pull(value.StreamVal(stream), func(v cty.Value) { seen = append(seen, v) })

		emit(value.FutureVal(first))
		emit(cty.NumberIntVal(9))
		assert.Equal(t, task.StateCancelled, first.State())

		cancel()
		assert.Nil(t, emit)

		require.Len(t, seen, 2)
		assert.True(t, value.IsStale(seen[0]))
		assert.True(t, seen[1].RawEquals(cty.NumberIntVal(9)))
	})
}
