package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridcalc/internal/app"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want app.Config
	}{
		{
			name: "positional path with defaults",
			args: []string{"budget.yaml"},
			want: app.Config{
				SheetPath:    "budget.yaml",
				LogFormat:    "text",
				LogLevel:     "info",
				OutputFormat: "text",
				Timeout:      10 * time.Second,
			},
		},
		{
			name: "sheet flag wins over positional",
			args: []string{"-s", "flag.yaml", "arg.yaml"},
			want: app.Config{
				SheetPath:    "flag.yaml",
				LogFormat:    "text",
				LogLevel:     "info",
				OutputFormat: "text",
				Timeout:      10 * time.Second,
			},
		},
		{
			name: "every flag",
			args: []string{
				"--set", "a=1", "--set", "b=a + 1",
				"-o", "json", "--timeout", "2s", "--listen", ":8080", "--save", "out.yaml",
				"--healthcheck-port", "9090", "--log-format", "JSON", "--log-level", "Debug",
				"budget.yaml",
			},
			want: app.Config{
				SheetPath:       "budget.yaml",
				Sets:            []string{"a=1", "b=a + 1"},
				LogFormat:       "json",
				LogLevel:        "debug",
				OutputFormat:    "json",
				Timeout:         2 * time.Second,
				ListenAddr:      ":8080",
				HealthcheckPort: 9090,
				SavePath:        "out.yaml",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer

			got, shouldExit, err := Parse(tc.args, &out)

			require.NoError(t, err)
			assert.False(t, shouldExit)
			require.NotNil(t, got)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestParse_ExitsCleanly(t *testing.T) {
	for _, args := range [][]string{{}, {"-h"}, {"--help"}} {
		var out bytes.Buffer

		got, shouldExit, err := Parse(args, &out)

		require.NoError(t, err)
		assert.True(t, shouldExit)
		assert.Nil(t, got)
		assert.Contains(t, out.String(), "Usage:")
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown flag", args: []string{"--bogus"}, wantErr: "unknown flag: --bogus"},
		{name: "too many args", args: []string{"a.yaml", "b.yaml"}, wantErr: "accepts at most 1 arg(s), received 2"},
		{name: "bad log level", args: []string{"--log-level", "loud", "a.yaml"}, wantErr: `invalid log level "loud"`},
		{name: "bad output", args: []string{"-o", "csv", "a.yaml"}, wantErr: `invalid output format "csv"`},
		{name: "bad set", args: []string{"--set", "novalue", "a.yaml"}, wantErr: `invalid assignment "novalue"`},
		{name: "bad duration", args: []string{"--timeout", "soon", "a.yaml"}, wantErr: "invalid argument"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer

			_, _, err := Parse(tc.args, &out)

			require.Error(t, err)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.wantErr)
		})
	}
}
