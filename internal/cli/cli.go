package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vk/gridcalc/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// usageError wraps a parse or validation failure with exit code 2.
func usageError(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return &ExitError{Code: 2, Message: err.Error()}
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	var (
		opts   app.Config
		sheet  string
		parsed *app.Config
	)
	cmd := &cobra.Command{
		Use:   "gridcalc [flags] SHEET_PATH",
		Short: "gridcalc - a reactive formula engine",
		Long: `gridcalc computes a sheet of named formulas. Every node recomputes when a
node it reads changes; values that arrive later (HTTP responses, socket.io
events) flow through the sheet as they settle.

Without --listen the sheet is computed once and its nodes are printed.
With --listen the live sheet is served over socket.io, and clients can edit it.

Example:
  gridcalc budget.yaml
  gridcalc --set rate=0.2 --output json budget.yaml
  gridcalc --listen :8080 budget.yaml`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := sheet
			if path == "" && len(args) > 0 {
				path = args[0]
			}
			slog.Debug("Sheet path determined.", "path", path)
			if path == "" {
				slog.Debug("No sheet path provided, printing usage and exiting.")
				return cmd.Help()
			}

			opts.SheetPath = path
			opts.LogFormat = strings.ToLower(opts.LogFormat)
			opts.LogLevel = strings.ToLower(opts.LogLevel)
			config, err := app.NewConfig(opts)
			if err != nil {
				return usageError(err)
			}
			parsed = config
			return nil
		},
	}
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(output)
	cmd.SetErr(output)

	flags := cmd.Flags()
	flags.StringVarP(&sheet, "sheet", "s", "", "Path to the sheet file.")
	flags.StringArrayVar(&opts.Sets, "set", nil, "Set a node's formula before computing, as name=formula. Repeatable.")
	flags.StringVarP(&opts.OutputFormat, "output", "o", "text", "Result format. Options: 'text' or 'json'.")
	flags.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "How long to wait for pending values.")
	flags.StringVar(&opts.ListenAddr, "listen", "", "Serve the live sheet over socket.io on this address instead of exiting.")
	flags.StringVar(&opts.SavePath, "save", "", "Write the computed sheet, with last values, to this path.")
	flags.IntVar(&opts.HealthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	flags.StringVar(&opts.LogLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := cmd.Execute(); err != nil {
		return nil, false, usageError(err)
	}
	if parsed == nil {
		return nil, true, nil
	}

	slog.Debug("CLI parser finished successfully.", "config", fmt.Sprintf("%+v", *parsed))
	return parsed, false, nil
}
