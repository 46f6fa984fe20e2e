package print

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

func TestPrint(t *testing.T) {
	var out bytes.Buffer

	got, err := Print(ctxlog.Discard(), &out, []cty.Value{
		cty.StringVal("total"),
		cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(1)}),
		value.ErrorVal(errors.New("boom")),
	})

	require.NoError(t, err)
	assert.True(t, value.IsError(got), "returns its last argument")
	assert.Equal(t, "      total {\"a\":1} #ERROR: boom\n", out.String())
}

func TestPrint_NoArguments(t *testing.T) {
	var out bytes.Buffer

	got, err := Print(ctxlog.Discard(), &out, nil)

	require.NoError(t, err)
	assert.True(t, got.IsNull())
	assert.Equal(t, "      (null)\n", out.String())
}

func TestModule_Register(t *testing.T) {
	var out bytes.Buffer
	r := registry.New()
	(&Module{Out: &out}).Register(r)
	require.NoError(t, r.ValidateRegistry(ctxlog.Discard()))

	exports, err := r.NewLoader(ctxlog.Discard(), task.Inline{}).Require("print")
	require.NoError(t, err)
	fn, ok := value.AsFunc(exports.GetAttr("print"))
	require.True(t, ok)

	got, err := fn.Call(cty.NumberIntVal(3))
	require.NoError(t, err)
	assert.True(t, got.RawEquals(cty.NumberIntVal(3)))
	assert.Equal(t, "      3\n", out.String())
}
