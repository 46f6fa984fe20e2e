package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zclconf/go-cty/cty"
)

// RequireValue fails the test unless got is exactly want.
func RequireValue(t *testing.T, want, got cty.Value) {
	t.Helper()
	if got == cty.NilVal || !want.RawEquals(got) {
		t.Fatalf("unexpected value (-want +got):\n%s", cmp.Diff(want.GoString(), goString(got)))
	}
}

func goString(v cty.Value) string {
	if v == cty.NilVal {
		return "cty.NilVal"
	}
	return v.GoString()
}

// Numbers builds a tuple of numbers.
func Numbers(ns ...int64) cty.Value {
	if len(ns) == 0 {
		return cty.EmptyTupleVal
	}
	vals := make([]cty.Value, len(ns))
	for i, n := range ns {
		vals[i] = cty.NumberIntVal(n)
	}
	return cty.TupleVal(vals)
}
