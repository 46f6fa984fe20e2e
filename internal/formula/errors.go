package formula

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// SyntaxError reports a formula the grammar rejects.
type SyntaxError struct {
	Formula string
	Diags   hcl.Diagnostics
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error in %q: %s", e.Formula, summarize(e.Diags))
}

// Unwrap exposes the underlying diagnostics.
func (e *SyntaxError) Unwrap() error {
	return e.Diags
}

// ThrownError is raised by throw with a value that is neither a string nor an
// error.
type ThrownError struct {
	Value cty.Value
}

func (e *ThrownError) Error() string {
	return "thrown " + e.Value.GoString()
}

// summarize renders error diagnostics without source positions, which are
// meaningless to users typing a one-line formula.
func summarize(diags hcl.Diagnostics) string {
	var parts []string
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		if d.Detail == "" {
			parts = append(parts, d.Summary)
			continue
		}
		parts = append(parts, d.Summary+": "+d.Detail)
	}
	return strings.Join(parts, "; ")
}

// diagnosticsError turns the errors among diags into a Go error, or nil.
func diagnosticsError(diags hcl.Diagnostics) error {
	if !diags.HasErrors() {
		return nil
	}
	return fmt.Errorf("%s", summarize(diags))
}
