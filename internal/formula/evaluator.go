package formula

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/gridcalc/internal/transpile"
	"github.com/zclconf/go-cty/cty"
)

// Evaluator is a compiled formula.
type Evaluator struct {
	parser  *Parser
	resolve Resolver
	src     []byte
	input   string

	root   *root
	roots  []*root
	rootOf map[hclsyntax.Expression]*root
	sites  map[hclsyntax.Expression]*transpile.Site
	refs   map[hclsyntax.Expression]refKind
	params map[*hclsyntax.FunctionCallExpr][]string

	deps        []string
	occurrences []occurrence
	// renamed maps both ways between an original dependency name and the
	// name it is displayed and resolved as.
	renamed map[string]string
}

// root is a standalone evaluator: a subtree compiled into its own closure.
type root struct {
	id       int
	expr     hclsyntax.Expression
	parent   *root
	ev       *Evaluator
	compiled evalFn
}

func (r *root) invalidate() {
	r.compiled = nil
}

func (r *root) eval(f *frame) (cty.Value, error) {
	if r.compiled == nil {
		r.ev.parser.logger.Debug("Compiling formula root.", "formula", r.ev.input, "root", r.id)
		c := &compiler{ev: r.ev, root: r}
		r.compiled = c.expr(r.expr)
	}
	return r.compiled(f)
}

// Evaluate runs the formula. Reads of pending values may surface as
// value.ErrStale.
func (ev *Evaluator) Evaluate() (cty.Value, error) {
	return ev.root.eval(nil)
}

// Input returns the display text, reflecting renames.
func (ev *Evaluator) Input() string {
	return ev.input
}

// Dependencies returns the external names the formula reads, as currently
// named.
func (ev *Evaluator) Dependencies() []string {
	out := make([]string, len(ev.deps))
	for i, name := range ev.deps {
		out[i] = ev.alias(name)
	}
	return out
}

// DependsOn reports whether name is among the dependencies.
func (ev *Evaluator) DependsOn(name string) bool {
	for _, dep := range ev.deps {
		if ev.alias(dep) == name {
			return true
		}
	}
	return false
}

// Rename makes the formula read newName wherever it read oldName. Compiled
// code is untouched: reads resolve through the alias table and the display
// text is rebuilt. Bound names equal to newName are renamed to oldName so
// they do not capture the new reference.
func (ev *Evaluator) Rename(oldName, newName string) {
	if !ev.DependsOn(oldName) {
		return
	}
	if original, ok := ev.renamed[oldName]; ok {
		delete(ev.renamed, oldName)
		oldName = original
	}
	if oldName == newName {
		delete(ev.renamed, oldName)
	} else {
		ev.renamed[oldName] = newName
		ev.renamed[newName] = oldName
	}
	ev.input = ev.display()
}

func (ev *Evaluator) alias(name string) string {
	if to, ok := ev.renamed[name]; ok {
		return to
	}
	return name
}

func (ev *Evaluator) occur(name string, rng hcl.Range) {
	ev.occurrences = append(ev.occurrences, occurrence{start: rng.Start.Byte, end: rng.End.Byte, name: name})
}

func (ev *Evaluator) display() string {
	var b strings.Builder
	pos := 0
	for _, o := range ev.occurrences {
		to, ok := ev.renamed[o.name]
		if !ok || o.start < pos {
			continue
		}
		b.Write(ev.src[pos:o.start])
		b.WriteString(to)
		pos = o.end
	}
	b.Write(ev.src[pos:])
	return b.String()
}

func (ev *Evaluator) text(rng hcl.Range) string {
	return string(rng.SliceBytes(ev.src))
}

func (ev *Evaluator) external(name string) (cty.Value, error) {
	name = ev.alias(name)
	if ev.resolve == nil {
		return cty.NilVal, fmt.Errorf("%s not defined", name)
	}
	return ev.resolve(name)
}

func (ev *Evaluator) builtin(name string) (cty.Value, error) {
	if ev.resolve == nil {
		return cty.NilVal, fmt.Errorf("%s not defined", name)
	}
	return ev.resolve(name)
}
