package value

import "github.com/zclconf/go-cty/cty"

type operatorsKey struct{}
type componentKey struct{}

// OperatorsKey is the capsule extension-data key under which a capsule type
// publishes its operator overloads (*Operators).
var OperatorsKey = operatorsKey{}

// ComponentKey is the capsule extension-data key under which a capsule type
// publishes its ComponentFactory.
var ComponentKey = componentKey{}

// UnaryFunc implements a unary operator overload.
type UnaryFunc func(v cty.Value) (cty.Value, error)

// BinaryFunc implements a binary operator overload.
type BinaryFunc func(l, r cty.Value) (cty.Value, error)

// Operators is the per-type operator table consulted before element-wise and
// native semantics.
type Operators struct {
	Unary  map[string]UnaryFunc
	Binary map[string]BinaryFunc
}

func extension(v cty.Value, key any) any {
	if v == cty.NilVal || !v.IsKnown() || v.IsNull() || !v.Type().IsCapsuleType() {
		return nil
	}
	return v.Type().CapsuleExtensionData(key)
}

// OperatorsOf returns the operator table of v's type, if any.
func OperatorsOf(v cty.Value) *Operators {
	ops, _ := extension(v, OperatorsKey).(*Operators)
	return ops
}

// UnaryOverload returns v's overload of op.
func UnaryOverload(v cty.Value, op string) UnaryFunc {
	if ops := OperatorsOf(v); ops != nil && ops.Unary != nil {
		return ops.Unary[op]
	}
	return nil
}

// BinaryOverload returns v's overload of op.
func BinaryOverload(v cty.Value, op string) BinaryFunc {
	if ops := OperatorsOf(v); ops != nil && ops.Binary != nil {
		return ops.Binary[op]
	}
	return nil
}

// Component is an interactive object hosted by a node in place of a plain
// value.
type Component interface {
	// Update receives a new value produced by the same factory.
	Update(props cty.Value)
	// Stale is called when the node's formula is pending.
	Stale()
	// Dispose releases the component. It is called once.
	Dispose()
}

// ComponentOptions is passed to a factory when a node instantiates a
// component.
type ComponentOptions struct {
	// InitState is the node's last settled value, or cty.NilVal.
	InitState cty.Value
	// Output overrides the node's value.
	Output func(cty.Value)
}

// ComponentFactory builds components. Factories are compared by identity, so
// implementations should be pointers.
type ComponentFactory interface {
	NewComponent(props cty.Value, opts ComponentOptions) Component
}

// ComponentOf returns the factory published by v's type, if any.
func ComponentOf(v cty.Value) ComponentFactory {
	f, _ := extension(v, ComponentKey).(ComponentFactory)
	return f
}
