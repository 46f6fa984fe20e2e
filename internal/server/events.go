package server

import (
	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Event names.
const (
	EventSnapshot = "snapshot"
	EventUpdate   = "update"
	EventRejected = "rejected"

	EventInsert = "insert"
	EventEdit   = "update"
	EventRename = "rename"
	EventRemove = "remove"
)

// Update kinds beyond calc's.
const (
	KindInserted = "inserted"
	KindRenamed  = "renamed"
	KindRemoved  = "removed"
)

// NodeState is a node as sent to clients.
type NodeState struct {
	Name    string `json:"name"`
	Formula string `json:"formula"`
	Value   any    `json:"value"`
	Display string `json:"display"`
}

// UpdateMessage is the payload of an update event.
type UpdateMessage struct {
	Kind    string `json:"kind"`
	Node    string `json:"node"`
	From    string `json:"from,omitempty"`
	Formula string `json:"formula,omitempty"`
	Value   any    `json:"value,omitempty"`
	Display string `json:"display,omitempty"`
}

// Edit is the payload clients send to change the graph. Rename uses From as
// the current name and Name as the new one.
type Edit struct {
	Name    string `json:"name"`
	From    string `json:"from,omitempty"`
	Formula string `json:"formula"`
}

// Rejection reports an edit that failed.
type Rejection struct {
	Op    string `json:"op"`
	Node  string `json:"node"`
	Error string `json:"error"`
}

func plain(v cty.Value) any {
	out, err := value.ToGo(v)
	if err != nil {
		return value.Format(v)
	}
	return out
}

func stateOf(n *calc.Node) NodeState {
	v := n.Value()
	return NodeState{Name: n.Name(), Formula: n.Formula(), Value: plain(v), Display: value.Format(v)}
}

func messageOf(name string, u calc.Update) UpdateMessage {
	msg := UpdateMessage{Kind: u.Kind.String(), Node: name}
	switch u.Kind {
	case calc.ValueChanged:
		msg.Value = plain(u.Value)
		msg.Display = value.Format(u.Value)
	case calc.FormulaChanged:
		msg.Formula = u.Formula
	}
	return msg
}
