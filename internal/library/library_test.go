package library_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/library"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/testutil"
	"github.com/vk/gridcalc/internal/transpile"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

func newLibrary(exec task.Executor) library.Library {
	ctx := ctxlog.Discard()
	return library.New(transpile.New(ctx, reactive.NewRuntime(ctx), exec))
}

func callFn(t *testing.T, lib library.Library, name string, args ...cty.Value) (cty.Value, error) {
	t.Helper()
	fv, ok := lib.Lookup(name)
	require.True(t, ok, "library has no %s", name)
	fn, ok := value.AsFunc(fv)
	require.True(t, ok)
	return fn.Call(args...)
}

func TestRange(t *testing.T) {
	lib := newLibrary(task.Inline{})

	testCases := []struct {
		name string
		args []cty.Value
		want cty.Value
	}{
		{"end only", []cty.Value{cty.NumberIntVal(3)}, testutil.Numbers(0, 1, 2)},
		{"start and end", []cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(3)}, testutil.Numbers(1, 2)},
		{"negative step", []cty.Value{cty.NumberIntVal(3), cty.NumberIntVal(0), cty.NumberIntVal(-1)}, testutil.Numbers(3, 2, 1)},
		{"empty", []cty.Value{cty.NumberIntVal(2), cty.NumberIntVal(2)}, cty.EmptyTupleVal},
		{"numeric strings", []cty.Value{cty.StringVal("2")}, testutil.Numbers(0, 1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := callFn(t, lib, "range", tc.args...)
			require.NoError(t, err)
			testutil.RequireValue(t, tc.want, got)
		})
	}

	_, err := callFn(t, lib, "range", cty.NumberIntVal(0), cty.NumberIntVal(3), cty.NumberIntVal(0))
	require.ErrorContains(t, err, "step must not be zero")
}

func TestSum(t *testing.T) {
	lib := newLibrary(task.Inline{})

	got, err := callFn(t, lib, "sum", testutil.Numbers(1, 2, 3))
	require.NoError(t, err)
	testutil.RequireValue(t, cty.NumberIntVal(6), got)

	got, err = callFn(t, lib, "sum", cty.TupleVal([]cty.Value{testutil.ComplexVal(1, 1), testutil.ComplexVal(2, -3)}))
	require.NoError(t, err)
	testutil.RequireValue(t, testutil.ComplexVal(3, -2), got)

	got, err = callFn(t, lib, "sum", cty.TupleVal([]cty.Value{testutil.Numbers(1, 2), testutil.Numbers(10, 20)}))
	require.NoError(t, err)
	testutil.RequireValue(t, testutil.Numbers(11, 22), got)

	_, err = callFn(t, lib, "sum", cty.NumberIntVal(1))
	require.EqualError(t, err, "Argument to sum must resolve to an iterable")
}

func TestStdlibFunctions(t *testing.T) {
	lib := newLibrary(task.Inline{})

	got, err := callFn(t, lib, "upper", cty.StringVal("abc"))
	require.NoError(t, err)
	testutil.RequireValue(t, cty.StringVal("ABC"), got)

	got, err = callFn(t, lib, "max", cty.NumberIntVal(3), cty.NumberIntVal(9))
	require.NoError(t, err)
	testutil.RequireValue(t, cty.NumberIntVal(9), got)

	got, err = callFn(t, lib, "upper", value.Stale)
	require.NoError(t, err)
	assert.True(t, value.IsStale(got))

	assert.Contains(t, lib.Names(), "jsonencode")
	assert.IsIncreasing(t, lib.Names())
}

func TestDelayedAndRace(t *testing.T) {
	loop := task.NewLoop()
	lib := newLibrary(loop)

	slow, err := callFn(t, lib, "delayed", cty.NumberIntVal(200), cty.StringVal("slow"))
	require.NoError(t, err)
	fast, err := callFn(t, lib, "delayed", cty.NumberIntVal(1), cty.StringVal("fast"))
	require.NoError(t, err)

	got, err := callFn(t, lib, "race", cty.TupleVal([]cty.Value{slow, fast}))
	require.NoError(t, err)
	winner, ok := value.AsFuture(got)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, loop.RunUntil(ctx, func() bool { return !winner.InProgress() }))

	v, err, _ := winner.Settled()
	require.NoError(t, err)
	testutil.RequireValue(t, cty.StringVal("fast"), v)

	slowFuture, _ := value.AsFuture(slow)
	assert.Equal(t, task.StateCancelled, slowFuture.State(), "the loser is released")
}

func TestCall(t *testing.T) {
	lib := newLibrary(task.Inline{})
	double := value.NewFunc("double", func(args []cty.Value) (cty.Value, error) {
		return args[0].Multiply(cty.NumberIntVal(2)), nil
	})

	got, err := callFn(t, lib, "call", double, cty.NumberIntVal(21))
	require.NoError(t, err)
	testutil.RequireValue(t, cty.NumberIntVal(42), got)

	_, err = callFn(t, lib, "call", cty.NumberIntVal(1))
	require.ErrorContains(t, err, "is not a function")
}
