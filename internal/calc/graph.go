// Package calc is the calculation graph: named nodes holding formulas whose
// values recompute when what they read changes.
//
// Every node owns a recompute reaction gated by the graph's autoCalc flag.
// Formulas read other nodes through Graph.Resolve. A runtime lookup that
// finds a node is read untracked, so renames and unrelated inserts never wake
// the reader; only a miss subscribes to the name's slot in the node table, so
// a later insert under that name does. Cycle detection uses the static
// resolution mode, which tracks the table and therefore re-checks after
// renames.
package calc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/formula"
	"github.com/vk/gridcalc/internal/library"
	"github.com/vk/gridcalc/internal/reactive"
	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/transpile"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	"golang.org/x/text/unicode/norm"
)

// AutoPrefix starts the names the graph assigns to unnamed nodes.
const AutoPrefix = "_"

var autoName = regexp.MustCompile(`^_([0-9]+)$`)

// siblingKinds is the lookup order of sibling graphs sharing a namespace.
var siblingKinds = []string{".html", ".md", ".yaml"}

// RequireFunc loads a module by specifier. Modules may export a future.
type RequireFunc func(specifier string) (cty.Value, error)

// SiblingResolver returns the graph registered under an id, or nil.
type SiblingResolver func(id string) *Graph

// HostEnvironment answers names no node, sibling or module defines.
type HostEnvironment interface {
	Lookup(name string) (cty.Value, bool)
}

// Environment is a fixed HostEnvironment.
type Environment map[string]cty.Value

// Lookup implements HostEnvironment.
func (e Environment) Lookup(name string) (cty.Value, bool) {
	v, ok := e[name]
	return v, ok
}

// Option configures a Graph.
type Option func(*Graph)

// WithRuntime shares a reactive runtime between graphs.
func WithRuntime(rt *reactive.Runtime) Option {
	return func(g *Graph) { g.rt = rt }
}

// WithExecutor sets the executor deferred values settle through.
func WithExecutor(exec task.Executor) Option {
	return func(g *Graph) { g.exec = exec }
}

// WithRequire sets the module loader behind the require builtin and the
// bundle lookup.
func WithRequire(require RequireFunc) Option {
	return func(g *Graph) { g.require = require }
}

// WithSiblings sets the resolver of graphs sharing this graph's namespace.
func WithSiblings(siblings SiblingResolver) Option {
	return func(g *Graph) { g.siblings = siblings }
}

// WithHostEnvironment sets the fallback for names nothing else defines.
func WithHostEnvironment(env HostEnvironment) Option {
	return func(g *Graph) { g.host = env }
}

// WithLibrary adds functions to the built-in library.
func WithLibrary(extra library.Library) Option {
	return func(g *Graph) { g.extra = extra }
}

// Graph is a table of named nodes. It is not safe for concurrent use: all
// calls happen on the engine goroutine, and deferred values settle through
// the executor.
type Graph struct {
	id        string
	namespace string
	kind      string

	logger   *slog.Logger
	rt       *reactive.Runtime
	exec     task.Executor
	ops      *transpile.Ops
	lib      library.Library
	extra    library.Library
	parser   *formula.Parser
	require  RequireFunc
	siblings SiblingResolver
	host     HostEnvironment

	nodes     *reactive.Map[string, *Node]
	autoCalc  *reactive.Box[bool]
	maxAutoID int

	requireVal cty.Value
}

// New creates an empty graph. id is split at its last dot into a namespace
// and a kind: "file:///budget.yaml" has namespace "file:///budget" and kind
// ".yaml". Automatic recomputation starts off; see SetAutoCalc.
func New(ctx context.Context, id string, opts ...Option) *Graph {
	g := &Graph{id: id, namespace: id, logger: ctxlog.FromContext(ctx)}
	if i := strings.LastIndex(id, "."); i > 0 && !strings.Contains(id[i:], "/") {
		g.namespace, g.kind = id[:i], id[i:]
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.rt == nil {
		g.rt = reactive.NewRuntime(ctx)
	}
	if g.exec == nil {
		g.exec = task.Inline{}
	}
	g.ops = transpile.New(ctx, g.rt, g.exec)
	g.lib = library.New(g.ops)
	for name, fn := range g.extra {
		g.lib[name] = fn
	}
	g.parser = formula.NewParser(ctx, g.ops, g.lib.Names()...)

	g.nodes = reactive.NewMap[string, *Node](g.rt, "NodesMap", func(a, b *Node) bool { return a == b })
	g.autoCalc = reactive.NewBox(g.rt, "autoCalc", false, func(a, b bool) bool { return a == b })
	g.requireVal = value.NewFunc("require", g.requireModule)
	return g
}

// ID returns the graph id.
func (g *Graph) ID() string { return g.id }

// Runtime returns the graph's reactive runtime.
func (g *Graph) Runtime() *reactive.Runtime { return g.rt }

// Executor returns the executor deferred values settle through.
func (g *Graph) Executor() task.Executor { return g.exec }

// Library returns the functions formulas of this graph can call.
func (g *Graph) Library() library.Library { return g.lib }

func (g *Graph) requireModule(args []cty.Value) (cty.Value, error) {
	if len(args) != 1 || !args[0].IsKnown() || args[0].IsNull() || !args[0].Type().Equals(cty.String) {
		return cty.NilVal, fmt.Errorf("require expects a module specifier string")
	}
	spec := args[0].AsString()
	if g.require == nil {
		return cty.NilVal, fmt.Errorf("no support for require: %s", spec)
	}
	return g.require(spec)
}

// Resolved is what an identifier stands for: a node of this or a sibling
// graph, or a plain value.
type Resolved struct {
	Node  *Node
	Value cty.Value
}

// lookup finds a local node. At run time a hit is read untracked and only a
// miss subscribes to the name's slot.
func (g *Graph) lookup(name string, runTime bool) *Node {
	if runTime {
		var n *Node
		g.rt.Untracked(func() { n, _ = g.nodes.Get(name) })
		if n != nil {
			return n
		}
	}
	n, _ := g.nodes.Get(name)
	return n
}

// Resolve finds what identifier stands for. Library names win, then local
// nodes, then nodes of sibling graphs. In static mode (runTime false) an
// unknown name resolves to nothing without error. At run time the host
// environment, the require builtin and the bundle module's exports are
// consulted before failing with "<identifier> not defined".
func (g *Graph) Resolve(identifier string, runTime bool) (Resolved, error) {
	if fn, ok := g.lib.Lookup(identifier); ok {
		return Resolved{Value: fn}, nil
	}

	if n := g.lookup(identifier, runTime); n != nil {
		return Resolved{Node: n}, nil
	}

	if g.siblings != nil {
		for _, kind := range siblingKinds {
			if kind == g.kind {
				continue
			}
			sibling := g.siblings(g.namespace + kind)
			if sibling == nil || sibling == g {
				continue
			}
			if n := sibling.lookup(identifier, runTime); n != nil {
				return Resolved{Node: n}, nil
			}
		}
	}

	if !runTime {
		return Resolved{}, nil
	}

	if g.host != nil {
		if v, ok := g.host.Lookup(identifier); ok {
			return Resolved{Value: v}, nil
		}
	}

	if identifier == "require" {
		return Resolved{Value: g.requireVal}, nil
	}

	if v, ok, err := g.fromBundle(identifier); err != nil {
		return Resolved{}, err
	} else if ok {
		return Resolved{Value: v}, nil
	}

	return Resolved{}, notDefined(identifier)
}

// fromBundle reads identifier from the module named after the graph's
// namespace. While the module is loading the read is stale.
func (g *Graph) fromBundle(identifier string) (cty.Value, bool, error) {
	if g.require == nil {
		return cty.NilVal, false, nil
	}

	bundle, err := g.require(g.namespace)
	if errors.Is(err, ErrModuleNotFound) {
		return cty.NilVal, false, nil
	}
	if err != nil {
		return cty.NilVal, false, err
	}

	if f, ok := value.AsFuture(bundle); ok {
		bundle, err = reactive.AsyncCell(g.rt, f)
		if err != nil {
			return cty.NilVal, false, err
		}
		if value.IsStale(bundle) {
			return value.Stale, true, nil
		}
	}

	if !bundle.IsKnown() || bundle.IsNull() {
		return cty.NilVal, false, nil
	}
	ty := bundle.Type()
	switch {
	case ty.IsObjectType() && ty.HasAttribute(identifier):
		return bundle.GetAttr(identifier), true, nil
	case ty.IsMapType() && bundle.HasIndex(cty.StringVal(identifier)).True():
		return bundle.Index(cty.StringVal(identifier)), true, nil
	}
	return cty.NilVal, false, nil
}

// Validate normalizes identifier to NFC, assigning the next automatic name
// when it is empty. It rejects duplicates, reserved words and names a
// formula could not refer to. The automatic name counter only advances
// for an accepted name.
func (g *Graph) Validate(identifier string) (string, error) {
	next := g.maxAutoID
	if identifier == "" {
		next++
		identifier = AutoPrefix + strconv.Itoa(next)
	} else {
		identifier = norm.NFC.String(identifier)
		next = g.autoIDOf(identifier)
	}

	var taken bool
	g.rt.Untracked(func() { taken = g.nodes.Has(identifier) })
	switch {
	case taken:
		return "", &GraphError{Op: "validate", Node: identifier, Err: ErrDuplicateNode}
	case g.parser.Reserved(identifier):
		return "", &GraphError{Op: "validate", Node: identifier, Err: ErrReservedWord}
	case !hclsyntax.ValidIdentifier(identifier):
		return "", &GraphError{Op: "validate", Node: identifier, Err: ErrInvalidName}
	}
	g.maxAutoID = next
	return identifier, nil
}

// autoIDOf returns the automatic name counter raised to cover name.
func (g *Graph) autoIDOf(name string) int {
	if m := autoName.FindStringSubmatch(name); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil && idx > g.maxAutoID {
			return idx
		}
	}
	return g.maxAutoID
}

// MaxAutoID returns the highest automatic name number seen.
func (g *Graph) MaxAutoID() int { return g.maxAutoID }

// InsertOption configures Insert.
type InsertOption func(*insertOptions)

type insertOptions struct {
	init cty.Value
}

// WithInitValue publishes v as the node's value without computing it.
// value.Stale instead computes the node at once, even with autoCalc off.
func WithInitValue(v cty.Value) InsertOption {
	return func(o *insertOptions) { o.init = v }
}

// Insert adds a node. An empty name gets the next automatic name. Nodes
// already reading name recompute.
func (g *Graph) Insert(name, text string, opts ...InsertOption) (*Node, error) {
	o := insertOptions{init: cty.NilVal}
	for _, opt := range opts {
		opt(&o)
	}

	prev := g.maxAutoID
	name, err := g.Validate(name)
	if err != nil {
		return nil, withOp(err, "insert")
	}

	n := newNode(g, name)
	if err := n.initialize(name, text, o.init); err != nil {
		g.maxAutoID = prev
		return nil, &GraphError{Op: "insert", Node: name, Err: err}
	}

	g.rt.Batch(func() {
		g.nodes.Set(name, n)
		g.wire(n)
	})
	g.logger.Debug("Node inserted.", "graph", g.id, "node", name)
	return n, nil
}

// wire starts the node's recompute reaction.
func (g *Graph) wire(n *Node) {
	n.reaction = g.rt.Autorun("["+n.name+"]:compute", func() {
		if g.autoCalc.Get() {
			n.compute()
		}
	})
	n.current.Atom().OwnedBy(n.reaction)
}

// Update replaces a node's formula in place. Subscribers stay attached.
func (g *Graph) Update(name, text string) (*Node, error) {
	n := g.Node(name)
	if n == nil {
		return nil, &GraphError{Op: "update", Node: name, Err: ErrNodeNotFound}
	}
	if err := n.initialize(name, text, cty.NilVal); err != nil {
		return nil, &GraphError{Op: "update", Node: name, Err: err}
	}
	g.logger.Debug("Node updated.", "graph", g.id, "node", name)
	return n, nil
}

// Remove deletes a node. Its value becomes an error, so dependents move on
// to resolving the name through the table and wake on a later insert.
func (g *Graph) Remove(name string) error {
	n := g.Node(name)
	if n == nil {
		return &GraphError{Op: "remove", Node: name, Err: ErrNodeNotFound}
	}

	g.rt.Batch(func() {
		g.nodes.Delete(name)
		n.evaluator.Set(nil)
		n.set(value.ErrorVal(ErrRemoved))
	})
	n.dispose()
	g.logger.Debug("Node removed.", "graph", g.id, "node", name)
	return nil
}

// Rename moves a node to newName with newFormula and rewrites every other
// formula reading oldName. Dependents are not recomputed by the textual
// change. It returns the new display formulas of the rewritten nodes.
func (g *Graph) Rename(oldName, newName, newFormula string) (map[string]string, error) {
	n := g.Node(oldName)
	if n == nil {
		return nil, &GraphError{Op: "rename", Node: oldName, Err: ErrNodeNotFound}
	}
	prev := g.maxAutoID
	newName, err := g.Validate(newName)
	if err != nil {
		return nil, withOp(err, "rename")
	}
	ev, err := g.parser.Parse(newFormula, n.read)
	if err != nil {
		g.maxAutoID = prev
		return nil, &GraphError{Op: "rename", Node: newName, Err: err}
	}

	renamed := make(map[string]string)
	g.rt.Batch(func() {
		n.name = newName
		n.evaluator.Set(ev)
		n.emit(Update{Kind: FormulaChanged, Formula: ev.Input()})

		for _, other := range g.Nodes() {
			if other == n {
				continue
			}
			oev := other.evaluator.Peek()
			if oev == nil || !oev.DependsOn(oldName) {
				continue
			}
			oev.Rename(oldName, newName)
			renamed[other.name] = oev.Input()
			other.emit(Update{Kind: FormulaChanged, Formula: oev.Input()})
		}

		g.nodes.Delete(oldName)
		g.nodes.Set(newName, n)
	})
	g.logger.Debug("Node renamed.", "graph", g.id, "from", oldName, "to", newName, "dependents", len(renamed))
	return renamed, nil
}

// Entry is one node of a Merge.
type Entry struct {
	Name      string
	Formula   string
	InitValue cty.Value
}

// Merge inserts entries as a unit. Names that collide are replaced with
// automatic names and references between entries are rewritten to follow.
// Nothing is inserted if any formula fails to parse. The returned map is
// keyed by the entries' original names.
func (g *Graph) Merge(entries []Entry) (_ map[string]*Node, err error) {
	prev := g.maxAutoID
	defer func() {
		if err != nil {
			g.maxAutoID = prev
		}
	}()
	for _, e := range entries {
		g.maxAutoID = g.autoIDOf(e.Name)
	}

	fresh := make(map[string]*Node, len(entries))
	order := make([]*Node, 0, len(entries))
	assigned := make(map[string]bool, len(entries))
	for _, e := range entries {
		name := e.Name
		var taken bool
		g.rt.Untracked(func() { taken = g.nodes.Has(name) })
		if taken || assigned[name] {
			name = ""
		}
		name, err := g.Validate(name)
		if err != nil {
			return nil, withOp(err, "merge")
		}
		assigned[name] = true

		n := newNode(g, name)
		ev, err := g.parser.Parse(e.Formula, n.read)
		if err != nil {
			return nil, &GraphError{Op: "merge", Node: e.Name, Err: err}
		}
		n.evaluator.Set(ev)
		if e.Name != "" {
			fresh[e.Name] = n
		}
		order = append(order, n)
	}

	visited := make(map[*Node]bool, len(order))
	var rewire func(n *Node)
	rewire = func(n *Node) {
		if visited[n] {
			return
		}
		visited[n] = true

		ev := n.evaluator.Peek()
		for _, dep := range ev.Dependencies() {
			depNode, ok := fresh[dep]
			if !ok {
				continue
			}
			rewire(depNode)
			if dep != depNode.name {
				ev.Rename(dep, depNode.name)
			}
		}
	}

	for _, n := range order {
		rewire(n)
	}

	g.rt.Batch(func() {
		for _, n := range order {
			g.nodes.Set(n.name, n)
		}
		for i, n := range order {
			switch init := entries[i].InitValue; {
			case init == cty.NilVal:
			case value.IsStale(init):
				if !g.autoCalc.Peek() {
					n.compute()
				}
			default:
				n.setCurrentValue(init)
			}
			g.wire(n)
		}
	})
	g.logger.Debug("Nodes merged.", "graph", g.id, "count", len(order))
	return fresh, nil
}

// Dispose disposes every node, empties the table and resets the automatic
// name counter and autoCalc. It is safe to call twice.
func (g *Graph) Dispose() {
	g.rt.Batch(func() {
		for _, n := range g.Nodes() {
			n.dispose()
		}
		g.nodes.Clear()
		g.maxAutoID = 0
		g.autoCalc.Set(false)
	})
	g.logger.Debug("Graph disposed.", "graph", g.id)
}

// SetAutoCalc turns automatic recomputation on or off. Turning it on
// computes every node.
func (g *Graph) SetAutoCalc(on bool) {
	g.rt.Batch(func() { g.autoCalc.Set(on) })
}

// AutoCalc reports whether automatic recomputation is on.
func (g *Graph) AutoCalc() bool { return g.autoCalc.Peek() }

// Node returns the node named name, or nil. Inside a reaction the read is
// tracked.
func (g *Graph) Node(name string) *Node {
	n, _ := g.nodes.Get(name)
	return n
}

// Names returns node names in insertion order.
func (g *Graph) Names() []string {
	return g.nodes.Keys()
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	return g.nodes.Values()
}

func withOp(err error, op string) error {
	var ge *GraphError
	if errors.As(err, &ge) {
		return &GraphError{Op: op, Node: ge.Node, Err: ge.Err}
	}
	return err
}
