// Package testutil holds test doubles shared by the engine's packages: an
// overloaded numeric capsule, a recording component kind and a writable stream.
package testutil

import (
	"fmt"
	"reflect"

	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Complex is a complex number carrying its own operator overloads.
type Complex struct {
	Re, Im float64
}

var complexOps *value.Operators

// ComplexType is the capsule type of Complex values.
var ComplexType = cty.CapsuleWithOps("complex", reflect.TypeOf(Complex{}), &cty.CapsuleOps{
	GoString: func(v any) string {
		c := v.(*Complex)
		return fmt.Sprintf("testutil.ComplexVal(%g, %g)", c.Re, c.Im)
	},
	RawEquals: func(a, b any) bool {
		return *a.(*Complex) == *b.(*Complex)
	},
	ExtensionData: func(key any) any {
		if key == value.OperatorsKey {
			return complexOps
		}
		return nil
	},
})

func init() {
	complexOps = &value.Operators{
		Unary: map[string]value.UnaryFunc{
			"-": func(v cty.Value) (cty.Value, error) {
				c := AsComplex(v)
				return ComplexVal(c.Re, -c.Im), nil
			},
		},
		Binary: map[string]value.BinaryFunc{
			"+": func(l, r cty.Value) (cty.Value, error) {
				a, b := AsComplex(l), AsComplex(r)
				return ComplexVal(a.Re+b.Re, a.Im+b.Im), nil
			},
			"*": func(l, r cty.Value) (cty.Value, error) {
				a, b := AsComplex(l), AsComplex(r)
				return ComplexVal(a.Re*b.Re-a.Im*b.Im, a.Re*b.Im+a.Im*b.Re), nil
			},
		},
	}
}

// ComplexVal builds a complex value.
func ComplexVal(re, im float64) cty.Value {
	return cty.CapsuleVal(ComplexType, &Complex{Re: re, Im: im})
}

// AsComplex unwraps v. Numbers are promoted to real complex values.
func AsComplex(v cty.Value) Complex {
	if v.Type() == cty.Number {
		var re float64
		_ = gocty.FromCtyValue(v, &re)
		return Complex{Re: re}
	}
	return *v.EncapsulatedValue().(*Complex)
}

// Math is a module-like object exposing complex(re, im).
func Math() cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"complex": value.NewFunc("complex", func(args []cty.Value) (cty.Value, error) {
			if len(args) != 2 {
				return cty.NilVal, fmt.Errorf("complex expects 2 arguments, got %d", len(args))
			}
			var re, im float64
			if err := gocty.FromCtyValue(args[0], &re); err != nil {
				return cty.NilVal, err
			}
			if err := gocty.FromCtyValue(args[1], &im); err != nil {
				return cty.NilVal, err
			}
			return ComplexVal(re, im), nil
		}),
	})
}
