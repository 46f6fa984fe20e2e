package app

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/sheet"
	"github.com/zclconf/go-cty/cty"
)

// Load opens the configured sheet, along with every sheet it imports, and
// applies the --set assignments to it.
func (a *App) Load() (*calc.Graph, error) {
	g, err := a.openSheet(a.config.SheetPath, nil)
	if err != nil {
		return nil, err
	}
	a.mainID = g.ID()

	assignments, err := a.config.Assignments()
	if err != nil {
		return nil, err
	}
	for _, set := range assignments {
		if g.Node(set.Name) != nil {
			_, err = g.Update(set.Name, set.Formula)
		} else {
			_, err = g.Insert(set.Name, set.Formula)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to apply --set %s: %w", set.Name, err)
		}
		a.logger.Debug("Assignment applied.", "node", set.Name)
	}
	return g, nil
}

// openSheet loads the sheet at path into a graph of its own. Sheets listed
// in its modules load first and join its bundle as modules exporting their
// nodes. stack holds the ids being opened, outermost first.
func (a *App) openSheet(path string, stack []string) (*calc.Graph, error) {
	id, err := sheet.ID(path)
	if err != nil {
		return nil, err
	}
	if g, ok := a.graphs[id]; ok {
		return g, nil
	}
	if slices.Contains(stack, id) {
		return nil, fmt.Errorf("sheet import cycle: %s", strings.Join(append(stack, id), " -> "))
	}
	logger := a.logger.With("sheet", id)

	s, err := sheet.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	members := make([]string, 0, len(s.Modules))
	for _, spec := range s.Modules {
		if !sheet.IsSheet(spec) {
			if !a.registry.Has(spec) {
				return nil, fmt.Errorf("%s: %w: %s", path, calc.ErrModuleNotFound, spec)
			}
			members = append(members, spec)
			continue
		}
		dep := spec
		if !filepath.IsAbs(dep) {
			dep = filepath.Join(filepath.Dir(path), dep)
		}
		imported, err := a.openSheet(dep, append(stack, id))
		if err != nil {
			return nil, err
		}
		a.exportSheet(imported.ID())
		members = append(members, imported.ID())
	}
	ns := sheet.Namespace(id)
	if len(members) > 0 && !a.registry.Has(ns) {
		a.registry.RegisterBundle(ns, members...)
	}

	g := calc.New(a.ctx, id,
		calc.WithRuntime(a.rt),
		calc.WithExecutor(a.loop),
		calc.WithRequire(a.modules.Require),
		calc.WithSiblings(a.Graph),
		calc.WithHostEnvironment(calc.Environment{
			"sheet": cty.ObjectVal(map[string]cty.Value{
				"name": cty.StringVal(s.Name),
				"id":   cty.StringVal(id),
			}),
		}),
	)
	a.graphs[id] = g
	a.sheets[id] = s

	if _, err := s.Apply(g); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	g.SetAutoCalc(true)
	logger.Debug("Sheet loaded.", "nodes", len(s.Nodes), "modules", s.Modules)
	return g, nil
}

// exportSheet registers the graph under id as a module whose exports are
// its nodes.
func (a *App) exportSheet(id string) {
	if a.registry.Has(id) {
		return
	}
	export := calc.NewExport(id, a.Graph)
	a.registry.RegisterModule(id, &registry.RegisteredModule{
		Load: func(context.Context, *registry.Loader) (cty.Value, error) {
			return export.Value(), nil
		},
	})
}

// Sheet returns the sheet the graph under id was loaded from, or nil.
func (a *App) Sheet(id string) *sheet.Sheet {
	return a.sheets[id]
}
