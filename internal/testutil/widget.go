package testutil

import (
	"reflect"

	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// WidgetKind is a component factory with its own capsule type. Values built
// with Props make a node host a Widget.
type WidgetKind struct {
	Type    cty.Type
	Created []*Widget
}

// NewWidgetKind creates a fresh kind. Every kind has a distinct capsule type.
func NewWidgetKind(name string) *WidgetKind {
	k := &WidgetKind{}
	k.Type = cty.CapsuleWithOps(name, reflect.TypeOf(cty.NilVal), &cty.CapsuleOps{
		RawEquals: func(a, b any) bool {
			return a.(*cty.Value).RawEquals(*b.(*cty.Value))
		},
		ExtensionData: func(key any) any {
			if key == value.ComponentKey {
				return k
			}
			return nil
		},
	})
	return k
}

// Props wraps v as the props of a widget of this kind.
func (k *WidgetKind) Props(v cty.Value) cty.Value {
	return cty.CapsuleVal(k.Type, &v)
}

// NewComponent implements value.ComponentFactory.
func (k *WidgetKind) NewComponent(props cty.Value, opts value.ComponentOptions) value.Component {
	w := &Widget{Props: []cty.Value{props}, InitState: opts.InitState, output: opts.Output}
	k.Created = append(k.Created, w)
	return w
}

// Widget records what its node did to it.
type Widget struct {
	Props     []cty.Value
	InitState cty.Value
	Stales    int
	Disposed  int

	output func(cty.Value)
}

// Update implements value.Component.
func (w *Widget) Update(props cty.Value) { w.Props = append(w.Props, props) }

// Stale implements value.Component.
func (w *Widget) Stale() { w.Stales++ }

// Dispose implements value.Component.
func (w *Widget) Dispose() { w.Disposed++ }

// Emit sends v through the node's output callback.
func (w *Widget) Emit(v cty.Value) { w.output(v) }
