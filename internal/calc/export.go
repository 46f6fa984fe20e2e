package calc

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Export exposes the node values of a graph to other graphs and host code.
// Lookups go through getGraph on every call, so an export outlives a graph
// being replaced under the same id.
type Export struct {
	id       string
	getGraph func(id string) *Graph
}

// NewExport creates the export of the graph registered as id.
func NewExport(id string, getGraph func(id string) *Graph) *Export {
	return &Export{id: id, getGraph: getGraph}
}

func (e *Export) node(name string) (*Node, error) {
	g := e.getGraph(e.id)
	if g == nil {
		return nil, fmt.Errorf("%s not found in %s", name, e.id)
	}
	n := g.Node(name)
	if n == nil {
		return nil, fmt.Errorf("%s not found in %s", name, e.id)
	}
	return n, nil
}

// Get returns a stream of the node's values. Every call returns a fresh
// stream.
func (e *Export) Get(name string) (cty.Value, error) {
	n, err := e.node(name)
	if err != nil {
		return cty.NilVal, err
	}
	nodeID := e.id + ":" + name
	stream := reactive.FromObservable(n.graph.rt, "Export node: "+nodeID+" @"+uuid.NewString(), reactive.ObservableFunc(n.Value))
	return value.StreamVal(stream), nil
}

// Has reports whether the graph has a node named name.
func (e *Export) Has(name string) bool {
	_, err := e.node(name)
	return err == nil
}

// Names returns the node names of the graph.
func (e *Export) Names() []string {
	g := e.getGraph(e.id)
	if g == nil {
		return nil
	}
	return g.Names()
}

// Value returns the graph as an object of node streams, for use as module
// exports.
func (e *Export) Value() cty.Value {
	names := e.Names()
	if len(names) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(names))
	for _, name := range names {
		if v, err := e.Get(name); err == nil {
			attrs[name] = v
		}
	}
	return cty.ObjectVal(attrs)
}
