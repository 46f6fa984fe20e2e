package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/vk/gridcalc/internal/task"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Module is the interface that all host modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// LoadFunc builds a module's exports. The loader gives access to the
// executor settlements must be posted through and to other modules.
type LoadFunc func(ctx context.Context, l *Loader) (cty.Value, error)

// RegisteredModule holds the compiled Go parts of a host module.
type RegisteredModule struct {
	// Exports declares the attribute names of the export object. Bundles
	// leave it empty: their names depend on their members.
	Exports []string
	Load    LoadFunc
	// Lazy modules load on a goroutine of their own.
	Lazy bool
}

// Registry holds the host modules of a single application instance.
type Registry struct {
	modules map[string]*RegisteredModule
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{modules: make(map[string]*RegisteredModule)}
}

// RegisterModule registers a module under the specifier name.
func (r *Registry) RegisterModule(name string, m *RegisteredModule) {
	if _, exists := r.modules[name]; exists {
		panic(fmt.Sprintf("module with name '%s' already registered", name))
	}
	slog.Debug("Registering module.", "name", name, "exports", m.Exports, "lazy", m.Lazy)
	r.modules[name] = m
}

// RegisterValue registers a module whose exports are v.
func (r *Registry) RegisterValue(name string, v cty.Value) {
	r.RegisterModule(name, &RegisteredModule{
		Load: func(context.Context, *Loader) (cty.Value, error) { return v, nil },
	})
}

// RegisterBundle registers name as the union of the exports of members. Later
// members win on name clashes. A bundle with a pending member is itself a
// future.
func (r *Registry) RegisterBundle(name string, members ...string) {
	members = slices.Clone(members)
	r.RegisterModule(name, &RegisteredModule{
		Load: func(ctx context.Context, l *Loader) (cty.Value, error) {
			parts := make([]cty.Value, len(members))
			var pending []*task.Future
			var at []int
			for i, member := range members {
				v, err := l.Require(member)
				if err != nil {
					return cty.NilVal, fmt.Errorf("bundle %s: %w", name, err)
				}
				if f, ok := value.AsFuture(v); ok {
					pending = append(pending, f)
					at = append(at, i)
					continue
				}
				parts[i] = v
			}
			if len(pending) == 0 {
				return mergeExports(members, parts)
			}
			all := task.All(l.Executor(), pending...)
			return value.FutureVal(task.Then(l.Executor(), all, func(settled cty.Value) (cty.Value, error) {
				for j, i := range at {
					parts[i] = settled.Index(cty.NumberIntVal(int64(j)))
				}
				return mergeExports(members, parts)
			})), nil
		},
	})
}

func mergeExports(members []string, parts []cty.Value) (cty.Value, error) {
	attrs := make(map[string]cty.Value)
	for i, part := range parts {
		if part.IsNull() || !part.IsKnown() {
			continue
		}
		ty := part.Type()
		if !ty.IsObjectType() && !ty.IsMapType() {
			return cty.NilVal, fmt.Errorf("module %s exports %s, not an object", members[i], ty.FriendlyName())
		}
		for it := part.ElementIterator(); it.Next(); {
			k, v := it.Element()
			attrs[k.AsString()] = v
		}
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal, nil
	}
	return cty.ObjectVal(attrs), nil
}

// Has reports whether a module is registered as name.
func (r *Registry) Has(name string) bool {
	_, ok := r.modules[name]
	return ok
}

// Names returns the registered specifiers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
