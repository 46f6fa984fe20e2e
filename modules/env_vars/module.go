package env_vars

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Environ lists the variables as KEY=value pairs. Nil means os.Environ.
	Environ func() []string
}

// Variables reads the environment into a map.
func Variables(environ []string) map[string]string {
	envMap := make(map[string]string, len(environ))
	for _, e := range environ {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) == 2 {
			envMap[pair[0]] = pair[1]
		}
	}
	return envMap
}

// Getenv looks up a variable, falling back to an optional default.
func Getenv(vars map[string]string, args []cty.Value) (cty.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return cty.NilVal, fmt.Errorf("getenv expects a name and an optional default, got %d arguments", len(args))
	}
	var name string
	if err := gocty.FromCtyValue(args[0], &name); err != nil {
		return cty.NilVal, fmt.Errorf("getenv: name: %w", err)
	}
	if v, ok := vars[name]; ok {
		return cty.StringVal(v), nil
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return cty.NullVal(cty.String), nil
}

// Register registers the module with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterModule("env", &registry.RegisteredModule{
		Exports: []string{"env", "getenv"},
		Load: func(context.Context, *registry.Loader) (cty.Value, error) {
			environ := m.Environ
			if environ == nil {
				environ = os.Environ
			}
			vars := Variables(environ())

			all, err := gocty.ToCtyValue(vars, cty.Map(cty.String))
			if err != nil {
				return cty.NilVal, fmt.Errorf("env: %w", err)
			}
			return cty.ObjectVal(map[string]cty.Value{
				"env": all,
				"getenv": value.NewFunc("getenv", func(args []cty.Value) (cty.Value, error) {
					return Getenv(vars, args)
				}),
			}), nil
		},
	})
}
