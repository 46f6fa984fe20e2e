package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/gridcalc/internal/ctxlog"
	"github.com/vk/gridcalc/internal/formula"
)

// ValidateRegistry checks that every module can be loaded and that its
// declared exports are names a formula can refer to.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, name := range r.Names() {
		m := r.modules[name]
		if strings.TrimSpace(name) == "" {
			errs = append(errs, "module registered with an empty name")
		}
		if m.Load == nil {
			errs = append(errs, fmt.Sprintf("module '%s': no loader", name))
		}

		seen := make(map[string]bool, len(m.Exports))
		for _, export := range m.Exports {
			switch {
			case seen[export]:
				errs = append(errs, fmt.Sprintf("module '%s': export '%s' declared twice", name, export))
			case !hclsyntax.ValidIdentifier(export):
				errs = append(errs, fmt.Sprintf("module '%s': export '%s' is not a valid identifier", name, export))
			case formula.IsReserved(export):
				errs = append(errs, fmt.Sprintf("module '%s': export '%s' is a reserved word", name, export))
			}
			seen[export] = true
		}
		if len(m.Exports) == 0 {
			logger.Debug("Module declares no exports, skipping export checks.", "module", name)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}
