package print

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Out receives printed lines. Nil means standard output.
	Out io.Writer
}

// Print writes its arguments on one line and returns the last of them, so a
// formula can print a value and still use it.
func Print(ctx context.Context, out io.Writer, args []cty.Value) (cty.Value, error) {
	if len(args) == 0 {
		fmt.Fprintln(out, "      (null)")
		return cty.NullVal(cty.DynamicPseudoType), nil
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = value.Format(arg)
	}
	line := strings.Join(parts, " ")
	ctxlog.FromContext(ctx).Debug("Printing value.", "line", line)

	if _, err := fmt.Fprintf(out, "      %s\n", line); err != nil {
		return cty.NilVal, fmt.Errorf("print: %w", err)
	}
	return args[len(args)-1], nil
}

// Register registers the module with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterModule("print", &registry.RegisteredModule{
		Exports: []string{"print"},
		Load: func(ctx context.Context, _ *registry.Loader) (cty.Value, error) {
			out := m.Out
			if out == nil {
				out = os.Stdout
			}
			return cty.ObjectVal(map[string]cty.Value{
				"print": value.NewFunc("print", func(args []cty.Value) (cty.Value, error) {
					return Print(ctx, out, args)
				}),
			}), nil
		},
	})
}
