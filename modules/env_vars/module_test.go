package env_vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/testutil"
	"github.com/zclconf/go-cty/cty"
)

func TestVariables(t *testing.T) {
	got := Variables([]string{"A=1", "B=x=y", "broken"})

	assert.Equal(t, map[string]string{"A": "1", "B": "x=y"}, got)
}

func TestGetenv(t *testing.T) {
	vars := map[string]string{"HOME": "/root"}

	testCases := []struct {
		name    string
		args    []cty.Value
		want    cty.Value
		wantErr string
	}{
		{name: "present", args: []cty.Value{cty.StringVal("HOME")}, want: cty.StringVal("/root")},
		{name: "missing", args: []cty.Value{cty.StringVal("NOPE")}, want: cty.NullVal(cty.String)},
		{name: "default", args: []cty.Value{cty.StringVal("NOPE"), cty.StringVal("d")}, want: cty.StringVal("d")},
		{name: "no arguments", wantErr: "getenv expects a name and an optional default, got 0 arguments"},
		{name: "bad name", args: []cty.Value{cty.True}, wantErr: "getenv: name: string value is required"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Getenv(vars, tc.args)
			if tc.wantErr != "" {
				require.EqualError(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			testutil.RequireValue(t, tc.want, got)
		})
	}
}

func TestModule_FromFormula(t *testing.T) {
	r := registry.New()
	(&Module{Environ: func() []string { return []string{"GREETING=hello"} }}).Register(r)
	r.RegisterBundle("file:///sheet", "env")
	l := r.NewLoader(ctxlog.Discard(), task.Inline{})
	g := calc.New(ctxlog.Discard(), "file:///sheet.yaml", calc.WithRequire(l.Require))
	t.Cleanup(g.Dispose)
	g.SetAutoCalc(true)

	a, err := g.Insert("a", `env["GREETING"]`)
	require.NoError(t, err)
	b, err := g.Insert("b", `getenv("MISSING", "fallback")`)
	require.NoError(t, err)

	testutil.RequireValue(t, cty.StringVal("hello"), a.Value())
	testutil.RequireValue(t, cty.StringVal("fallback"), b.Value())
}
