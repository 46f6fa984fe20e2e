package calc

import (
	"errors"

	"github.com/vk/gridcalc/internal/formula"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Node binds one compiled formula to a live current value.
type Node struct {
	graph *Graph
	name  string

	// A nil evaluator marks a removed node.
	evaluator *reactive.Box[*formula.Evaluator]
	current   *reactive.Box[cty.Value]
	circular  *reactive.Computed[bool]
	lastValue cty.Value

	reaction *reactive.Reaction
	cancel   func()

	component value.Component
	factory   value.ComponentFactory
	override  bool

	listeners []listener
	marker    *marker
	disposed  bool
}

// marker identifies one dependsOn traversal.
type marker struct{ _ byte }

func newNode(g *Graph, name string) *Node {
	n := &Node{graph: g, name: name, lastValue: cty.NilVal}
	n.evaluator = reactive.NewBox(g.rt, "["+name+"]:evaluator", (*formula.Evaluator)(nil), func(a, b *formula.Evaluator) bool { return a == b })
	n.current = reactive.NewBox(g.rt, "["+name+"]:currentValue", value.Stale, reactive.ValueEquals)
	n.circular = reactive.NewComputed(g.rt, "["+name+"]:circular", func() bool {
		if n.evaluator.Get() == nil {
			return false
		}
		return n.dependsOn(n, &marker{})
	}, func(a, b bool) bool { return a == b })
	return n
}

// Name returns the node's current name.
func (n *Node) Name() string { return n.name }

// Value returns the current value and records the read: a settled value, an
// error value or value.Stale.
func (n *Node) Value() cty.Value { return n.current.Get() }

// Result is Value split into Go's convention. A pending node returns
// value.ErrStale.
func (n *Node) Result() (cty.Value, error) { return value.Split(n.Value()) }

// LastValue returns the last settled value, or cty.NilVal.
func (n *Node) LastValue() cty.Value { return n.lastValue }

// Formula returns the display text of the formula, reflecting renames.
func (n *Node) Formula() string {
	if ev := n.evaluator.Peek(); ev != nil {
		return ev.Input()
	}
	return ""
}

// Dependencies returns the names the formula reads.
func (n *Node) Dependencies() []string {
	if ev := n.evaluator.Peek(); ev != nil {
		return ev.Dependencies()
	}
	return nil
}

// Signature renders the compiled shape of the formula.
func (n *Node) Signature() string {
	if ev := n.evaluator.Peek(); ev != nil {
		return ev.Signature()
	}
	return ""
}

// Component returns the hosted component, if any.
func (n *Node) Component() value.Component { return n.component }

// initialize parses text and, in one batch, takes the new name and
// evaluator. A given init value is published without computing; value.Stale
// computes at once unless the recompute reaction will. A parse failure
// leaves the node untouched.
func (n *Node) initialize(name, text string, init cty.Value) error {
	ev, err := n.graph.parser.Parse(text, n.read)
	if err != nil {
		return err
	}

	n.graph.rt.Batch(func() {
		n.name = name
		n.evaluator.Set(ev)
		n.emit(Update{Kind: FormulaChanged, Formula: ev.Input()})

		switch {
		case init == cty.NilVal:
		case value.IsStale(init):
			if n.reaction == nil || !n.graph.autoCalc.Peek() {
				n.compute()
			}
		default:
			n.setCurrentValue(init)
		}
	})
	return nil
}

// read answers the formula's external reads.
func (n *Node) read(name string) (cty.Value, error) {
	if name == "self" {
		if n.lastValue == cty.NilVal {
			return cty.NullVal(cty.DynamicPseudoType), nil
		}
		return n.lastValue, nil
	}

	res, err := n.graph.Resolve(name, true)
	if err != nil {
		return cty.NilVal, err
	}
	if res.Node == nil {
		return value.Split(res.Value)
	}
	return value.Split(res.Node.current.Get())
}

// dependsOn reports whether target is reachable over declared dependencies,
// resolved statically. m marks the nodes already visited by this traversal.
func (n *Node) dependsOn(target *Node, m *marker) bool {
	n.marker = m

	ev := n.evaluator.Get()
	if ev == nil {
		return false
	}
	for _, dep := range ev.Dependencies() {
		res, _ := n.graph.Resolve(dep, false)
		other := res.Node
		if other == nil {
			continue
		}
		if other == target {
			return true
		}
		if other.marker != m && other.dependsOn(target, m) {
			return true
		}
	}
	return false
}

// compute evaluates the formula and publishes the outcome. Reads during
// evaluation are tracked by the running reaction; publishing is not.
func (n *Node) compute() {
	rt := n.graph.rt

	if n.circular.Get() {
		rt.Untracked(func() { n.fail(ErrCircular) })
		return
	}

	result, err := n.evaluate()
	rt.Untracked(func() {
		if err != nil {
			n.fail(err)
			return
		}
		n.publish(result)
	})
}

func (n *Node) evaluate() (cty.Value, error) {
	ev := n.evaluator.Get()
	if ev == nil {
		return cty.NilVal, ErrRemoved
	}
	v, err := ev.Evaluate()
	if errors.Is(err, value.ErrStale) {
		return value.Stale, nil
	}
	return v, err
}

func (n *Node) publish(result cty.Value) {
	switch factory := value.ComponentOf(result); {
	case factory != nil:
		if n.component != nil && n.factory == factory {
			n.component.Update(result)
		} else {
			n.host(factory, result)
		}
	case value.IsStale(result) && n.component != nil:
		n.component.Stale()
	default:
		n.setComponent(nil, nil, false)
	}

	if !n.override {
		n.set(result)
	}
}

// host instantiates a component for result. Output from a component that
// has since been replaced is ignored.
func (n *Node) host(factory value.ComponentFactory, props cty.Value) {
	var c value.Component
	constructed, overridden := false, false

	opts := value.ComponentOptions{
		InitState: n.lastValue,
		Output: func(v cty.Value) {
			if constructed && n.component != c {
				return
			}
			overridden = true
			if constructed {
				n.override = true
			}
			n.set(v)
		},
	}

	c = factory.NewComponent(props, opts)
	constructed = true
	n.setComponent(c, factory, overridden)
}

func (n *Node) setComponent(c value.Component, factory value.ComponentFactory, override bool) {
	if n.component == c {
		return
	}
	if n.component != nil {
		n.graph.logger.Debug("Disposing component.", "node", n.name)
		n.component.Dispose()
	}
	n.component = c
	n.factory = factory
	n.override = override

	n.emit(Update{Kind: ComponentChanged, Component: c})
}

func (n *Node) fail(err error) {
	n.setComponent(nil, nil, false)
	n.set(value.ErrorVal(err))
}

// set distills result into the current value. At most one distillation is
// live per node.
func (n *Node) set(result cty.Value) {
	if n.cancel != nil {
		n.cancel()
	}
	n.cancel = reactive.Pull(result, n.setCurrentValue)
}

func (n *Node) setCurrentValue(v cty.Value) {
	n.emit(Update{Kind: ValueChanged, Value: v})

	n.current.Set(v)

	if !value.IsError(v) && !value.IsStale(v) {
		n.lastValue = v
	}
}

// dispose cancels distillation, disposes the component and stops the
// recompute reaction. It is idempotent.
func (n *Node) dispose() {
	if n.disposed {
		return
	}
	n.disposed = true

	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	n.setComponent(nil, nil, false)
	if n.reaction != nil {
		n.reaction.Dispose()
		n.current.Atom().OwnedBy(nil)
	}
	n.circular.Dispose()
}
