// Package cli turns command-line arguments into an app.Config. It owns the
// cobra command definition, flag defaults and the exit codes of usage errors.
package cli
