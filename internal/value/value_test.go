package value_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

func TestStale(t *testing.T) {
	assert.True(t, value.IsStale(value.Stale))
	assert.False(t, value.IsStale(cty.NumberIntVal(1)))
	assert.False(t, value.IsStale(cty.NilVal))
	assert.False(t, value.IsStale(cty.NullVal(cty.String)))
}

func TestKindOf(t *testing.T) {
	stream := value.StreamVal(value.SubscribeFunc(func(func(cty.Value)) func() { return func() {} }))

	assert.Equal(t, value.KindFuture, value.KindOf(value.FutureVal(task.Resolved(cty.True))))
	assert.Equal(t, value.KindStream, value.KindOf(stream))
	assert.Equal(t, value.KindPlain, value.KindOf(cty.StringVal("x")))
	assert.Equal(t, value.KindPlain, value.KindOf(value.Stale))
	assert.True(t, value.IsDeferred(stream))
	assert.False(t, value.IsDeferred(cty.EmptyObjectVal))
}

func TestErrorVal(t *testing.T) {
	boom := errors.New("boom")
	v := value.ErrorVal(boom)

	got, ok := value.AsError(v)
	require.True(t, ok)
	require.Same(t, boom, got)
	require.True(t, v.RawEquals(value.ErrorVal(boom)))
	require.False(t, v.RawEquals(value.ErrorVal(errors.New("boom"))))

	_, ok = value.AsError(cty.StringVal("boom"))
	require.False(t, ok)
}

func TestSplitJoin(t *testing.T) {
	boom := errors.New("boom")

	_, err := value.Split(value.ErrorVal(boom))
	require.Same(t, boom, err)

	_, err = value.Split(value.Stale)
	require.ErrorIs(t, err, value.ErrStale)

	v, err := value.Split(cty.NumberIntVal(3))
	require.NoError(t, err)
	require.True(t, v.RawEquals(cty.NumberIntVal(3)))

	require.True(t, value.IsStale(value.Join(cty.NilVal, value.ErrStale)))
	require.True(t, value.IsError(value.Join(cty.NilVal, boom)))
	require.True(t, value.Join(cty.True, nil).True())
}

func TestFuncVal(t *testing.T) {
	double := value.NewFunc("double", func(args []cty.Value) (cty.Value, error) {
		return args[0].Multiply(cty.NumberIntVal(2)), nil
	})

	fn, ok := value.AsFunc(double)
	require.True(t, ok)
	require.Equal(t, "double", fn.Name)

	got, err := fn.Call(cty.NumberIntVal(21))
	require.NoError(t, err)
	require.True(t, got.RawEquals(cty.NumberIntVal(42)))
}

type counterStream struct{ n int }

func (c *counterStream) Subscribe(cb func(cty.Value)) func() {
	c.n++
	cb(cty.NumberIntVal(int64(c.n)))
	return func() {}
}

func TestStreamKey_IdentifiesStream(t *testing.T) {
	s := &counterStream{}
	a, b := value.StreamVal(s), value.StreamVal(s)

	require.True(t, value.StreamKey(a) == value.StreamKey(b))
	require.True(t, a.RawEquals(b))
	require.False(t, value.StreamKey(a) == value.StreamKey(value.StreamVal(&counterStream{})))

	// Function-backed streams are not comparable; their key is the capsule.
	f := value.StreamVal(value.SubscribeFunc(func(func(cty.Value)) func() { return func() {} }))
	require.NotNil(t, value.StreamKey(f))
	require.Nil(t, value.StreamKey(cty.True))
}

type unit struct{ name string }

type unitFactory struct{ built int }

func (f *unitFactory) NewComponent(props cty.Value, opts value.ComponentOptions) value.Component {
	f.built++
	return nil
}

func TestOperatorsAndComponentLookup(t *testing.T) {
	neg := func(v cty.Value) (cty.Value, error) { return v, nil }
	factory := &unitFactory{}

	ty := cty.CapsuleWithOps("unit", reflect.TypeOf(unit{}), &cty.CapsuleOps{
		ExtensionData: func(key any) any {
			switch key {
			case value.OperatorsKey:
				return &value.Operators{Unary: map[string]value.UnaryFunc{"-": neg}}
			case value.ComponentKey:
				return factory
			}
			return nil
		},
	})
	v := cty.CapsuleVal(ty, &unit{name: "m"})

	require.NotNil(t, value.UnaryOverload(v, "-"))
	require.Nil(t, value.UnaryOverload(v, "!"))
	require.Nil(t, value.BinaryOverload(v, "+"))
	require.Same(t, factory, value.ComponentOf(v))

	require.Nil(t, value.OperatorsOf(cty.NumberIntVal(1)))
	require.Nil(t, value.ComponentOf(value.Stale))
}
