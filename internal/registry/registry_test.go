package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/testutil"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// countingModule registers name with exports built by a loader that counts
// its calls.
func countingModule(r *registry.Registry, name string, exports map[string]cty.Value, lazy bool) *int {
	calls := 0
	names := make([]string, 0, len(exports))
	for k := range exports {
		names = append(names, k)
	}
	r.RegisterModule(name, &registry.RegisteredModule{
		Exports: names,
		Lazy:    lazy,
		Load: func(context.Context, *registry.Loader) (cty.Value, error) {
			calls++
			return cty.ObjectVal(exports), nil
		},
	})
	return &calls
}

func settle(t *testing.T, loop *task.Loop, f *task.Future) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, loop.RunUntil(ctx, func() bool { return f.State() != task.StatePending }))
}

func TestRegisterModule_PanicsOnDuplicate(t *testing.T) {
	r := registry.New()
	r.RegisterValue("m", cty.EmptyObjectVal)

	assert.PanicsWithValue(t, "module with name 'm' already registered", func() {
		r.RegisterValue("m", cty.EmptyObjectVal)
	})
	assert.Equal(t, []string{"m"}, r.Names())
	assert.True(t, r.Has("m"))
}

func TestLoader_RequireCachesExports(t *testing.T) {
	r := registry.New()
	calls := countingModule(r, "math", map[string]cty.Value{"pi": cty.NumberFloatVal(3.14)}, false)
	l := r.NewLoader(ctxlog.Discard(), task.Inline{})

	first, err := l.Require("math")
	require.NoError(t, err)
	second, err := l.Require("math")
	require.NoError(t, err)

	assert.Equal(t, 1, *calls)
	assert.True(t, first.RawEquals(second))
	assert.Equal(t, []string{"math"}, l.Loaded())
}

func TestLoader_UnknownModule(t *testing.T) {
	l := registry.New().NewLoader(ctxlog.Discard(), task.Inline{})

	_, err := l.Require("nope")

	assert.ErrorIs(t, err, calc.ErrModuleNotFound)
	assert.EqualError(t, err, "module not found: nope")
}

func TestLoader_LoadErrorsAreNotCached(t *testing.T) {
	r := registry.New()
	fail := true
	r.RegisterModule("flaky", &registry.RegisteredModule{
		Load: func(context.Context, *registry.Loader) (cty.Value, error) {
			if fail {
				return cty.NilVal, errors.New("not yet")
			}
			return cty.EmptyObjectVal, nil
		},
	})
	l := r.NewLoader(ctxlog.Discard(), task.Inline{})

	_, err := l.Require("flaky")
	require.EqualError(t, err, "not yet")

	fail = false
	v, err := l.Require("flaky")
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.EmptyObjectVal))
}

func TestLoader_SelfRequire(t *testing.T) {
	r := registry.New()
	r.RegisterModule("loop", &registry.RegisteredModule{
		Load: func(_ context.Context, l *registry.Loader) (cty.Value, error) {
			return l.Require("loop")
		},
	})

	_, err := r.NewLoader(ctxlog.Discard(), task.Inline{}).Require("loop")

	assert.EqualError(t, err, "module loop requires itself")
}

func TestLoader_DeclaredExportsMustBeProvided(t *testing.T) {
	r := registry.New()
	r.RegisterModule("liar", &registry.RegisteredModule{
		Exports: []string{"a", "b"},
		Load: func(context.Context, *registry.Loader) (cty.Value, error) {
			return cty.ObjectVal(map[string]cty.Value{"a": cty.True}), nil
		},
	})

	_, err := r.NewLoader(ctxlog.Discard(), task.Inline{}).Require("liar")

	assert.EqualError(t, err, "module liar declares exports [b] which it does not provide")
}

func TestLoader_LazyModule(t *testing.T) {
	r := registry.New()
	calls := countingModule(r, "remote", map[string]cty.Value{"answer": cty.NumberIntVal(42)}, true)
	loop := task.NewLoop()
	l := r.NewLoader(ctxlog.Discard(), loop)
	t.Cleanup(l.Close)

	v, err := l.Require("remote")
	require.NoError(t, err)
	f, ok := value.AsFuture(v)
	require.True(t, ok, "a lazy module is required as a future")

	// A reader cancelling its interest leaves the shared load running.
	f.Conclude(func(cty.Value, error) {})()
	settle(t, loop, f)

	got, err, ok := f.Settled()
	require.True(t, ok)
	require.NoError(t, err)
	testutil.RequireValue(t, cty.ObjectVal(map[string]cty.Value{"answer": cty.NumberIntVal(42)}), got)
	assert.Equal(t, 1, *calls)
}

func TestBundle(t *testing.T) {
	r := registry.New()
	countingModule(r, "a", map[string]cty.Value{"x": cty.NumberIntVal(1), "y": cty.NumberIntVal(1)}, false)
	r.RegisterValue("b", cty.MapVal(map[string]cty.Value{"y": cty.NumberIntVal(2)}))
	r.RegisterBundle("file:///sheet", "a", "b")
	l := r.NewLoader(ctxlog.Discard(), task.Inline{})

	v, err := l.Require("file:///sheet")
	require.NoError(t, err)

	testutil.RequireValue(t, cty.ObjectVal(map[string]cty.Value{
		"x": cty.NumberIntVal(1),
		"y": cty.NumberIntVal(2),
	}), v)
}

func TestBundle_Errors(t *testing.T) {
	r := registry.New()
	r.RegisterValue("scalar", cty.True)
	r.RegisterBundle("missing", "nope")
	r.RegisterBundle("bad", "scalar")
	l := r.NewLoader(ctxlog.Discard(), task.Inline{})

	_, err := l.Require("missing")
	assert.ErrorIs(t, err, calc.ErrModuleNotFound)

	_, err = l.Require("bad")
	assert.EqualError(t, err, "module scalar exports bool, not an object")
}

func TestBundle_WithLazyMember(t *testing.T) {
	r := registry.New()
	countingModule(r, "remote", map[string]cty.Value{"answer": cty.NumberIntVal(42)}, true)
	r.RegisterValue("local", cty.ObjectVal(map[string]cty.Value{"one": cty.NumberIntVal(1)}))
	r.RegisterBundle("file:///sheet", "local", "remote")
	loop := task.NewLoop()
	l := r.NewLoader(ctxlog.Discard(), loop)
	t.Cleanup(l.Close)

	v, err := l.Require("file:///sheet")
	require.NoError(t, err)
	f, ok := value.AsFuture(v)
	require.True(t, ok)
	settle(t, loop, f)

	got, err, _ := f.Settled()
	require.NoError(t, err)
	testutil.RequireValue(t, cty.ObjectVal(map[string]cty.Value{
		"answer": cty.NumberIntVal(42),
		"one":    cty.NumberIntVal(1),
	}), got)
}

func TestLoader_ServesGraphBundle(t *testing.T) {
	r := registry.New()
	r.RegisterValue("math", cty.ObjectVal(map[string]cty.Value{
		"double": value.NewFunc("double", func(args []cty.Value) (cty.Value, error) {
			return args[0].Multiply(cty.NumberIntVal(2)), nil
		}),
	}))
	r.RegisterBundle("file:///sheet", "math")
	l := r.NewLoader(ctxlog.Discard(), task.Inline{})
	g := calc.New(ctxlog.Discard(), "file:///sheet.yaml", calc.WithRequire(l.Require))
	t.Cleanup(g.Dispose)
	g.SetAutoCalc(true)

	n, err := g.Insert("n", "double(21)")
	require.NoError(t, err)
	m, err := g.Insert("m", `call(require("math").double, 2)`)
	require.NoError(t, err)

	testutil.RequireValue(t, cty.NumberIntVal(42), n.Value())
	testutil.RequireValue(t, cty.NumberIntVal(4), m.Value())
}
