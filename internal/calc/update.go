package calc

import (
	"slices"

	"github.com/google/uuid"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// UpdateKind tells which field of an Update is set.
type UpdateKind int

const (
	// Snapshot is delivered once, on subscription, with every field set.
	Snapshot UpdateKind = iota
	// ValueChanged carries Value.
	ValueChanged
	// FormulaChanged carries Formula.
	FormulaChanged
	// ComponentChanged carries Component, nil when the component was
	// dropped.
	ComponentChanged
)

func (k UpdateKind) String() string {
	switch k {
	case Snapshot:
		return "snapshot"
	case ValueChanged:
		return "value"
	case FormulaChanged:
		return "formula"
	case ComponentChanged:
		return "component"
	}
	return "unknown"
}

// Update is a node event. Apart from the snapshot, events are incremental:
// only the field named by Kind is meaningful.
type Update struct {
	Kind      UpdateKind
	Node      string
	Value     cty.Value
	Formula   string
	Component value.Component
}

type listener struct {
	id uuid.UUID
	fn func(Update)
}

// OnUpdate subscribes fn to the node's events. fn receives a snapshot
// immediately, then every event synchronously in emit order.
func (n *Node) OnUpdate(fn func(Update)) (unsubscribe func()) {
	id := uuid.New()
	n.listeners = append(n.listeners, listener{id: id, fn: fn})

	fn(Update{
		Kind:      Snapshot,
		Node:      n.name,
		Value:     n.current.Peek(),
		Formula:   n.Formula(),
		Component: n.component,
	})

	return func() {
		n.listeners = slices.DeleteFunc(n.listeners, func(l listener) bool { return l.id == id })
	}
}

func (n *Node) emit(u Update) {
	for _, l := range slices.Clone(n.listeners) {
		l.fn(u)
	}
}
