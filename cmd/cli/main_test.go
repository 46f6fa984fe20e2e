package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/cli"
)

func TestRun_Golden(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "budget_text", args: []string{"testdata/budget.yaml"}},
		{name: "budget_json", args: []string{"--output", "json", "testdata/budget.yaml"}},
		{name: "budget_set", args: []string{"--set", "qty=10", "testdata/budget.yaml"}},
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out, logs bytes.Buffer

			err := run(context.Background(), &out, &logs, tc.args)

			require.NoError(t, err, logs.String())
			g.Assert(t, tc.name, out.Bytes())
		})
	}
}

func TestRun_LoadError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	invalidYAML := "name: broken\nnodes:\n  - name: a\n    formula: [unclosed\n"
	filePath := filepath.Join(t.TempDir(), "main.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidYAML), 0o600), "failed to set up test file")
	var out, logs bytes.Buffer

	// --- Act ---
	runErr := run(context.Background(), &out, &logs, []string{filePath})

	// --- Assert ---
	require.Error(t, runErr)
	require.Contains(t, runErr.Error(), "failed to load sheet")
	require.Contains(t, runErr.Error(), "failed to parse YAML")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	var out, logs bytes.Buffer

	// --- Act ---
	err := run(context.Background(), &out, &logs, []string{"-h"})

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	var out, logs bytes.Buffer

	// --- Act ---
	err := run(context.Background(), &out, &logs, []string{"--this-is-not-a-valid-flag"})

	// --- Assert ---
	require.Error(t, err, "run() should return an error when argument parsing fails")
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, err.Error(), "unknown flag: --this-is-not-a-valid-flag")
}
