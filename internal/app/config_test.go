package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name    string
		in      Config
		want    Config
		wantErr string
	}{
		{
			name: "defaults",
			in:   Config{SheetPath: "a.yaml"},
			want: Config{SheetPath: "a.yaml", LogFormat: "text", LogLevel: "info", OutputFormat: "text", Timeout: 10 * time.Second},
		},
		{
			name: "normalizes case",
			in:   Config{SheetPath: "a.yaml", LogFormat: "JSON", LogLevel: "Debug", OutputFormat: "json", Timeout: time.Second},
			want: Config{SheetPath: "a.yaml", LogFormat: "json", LogLevel: "debug", OutputFormat: "json", Timeout: time.Second},
		},
		{name: "missing sheet", in: Config{}, wantErr: "SheetPath is a required configuration field"},
		{name: "bad log format", in: Config{SheetPath: "a.yaml", LogFormat: "xml"}, wantErr: `invalid log format "xml"`},
		{name: "bad log level", in: Config{SheetPath: "a.yaml", LogLevel: "loud"}, wantErr: `invalid log level "loud"`},
		{name: "bad output", in: Config{SheetPath: "a.yaml", OutputFormat: "csv"}, wantErr: `invalid output format "csv"`},
		{name: "bad port", in: Config{SheetPath: "a.yaml", HealthcheckPort: -1}, wantErr: "invalid healthcheck port -1"},
		{name: "bad assignment", in: Config{SheetPath: "a.yaml", Sets: []string{"a"}}, wantErr: `invalid assignment "a"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewConfig(tc.in)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestConfig_Assignments(t *testing.T) {
	cfg := Config{Sets: []string{"a=1", " total = a + b ", "s=x == y"}}

	got, err := cfg.Assignments()

	require.NoError(t, err)
	assert.Equal(t, []Assignment{
		{Name: "a", Formula: "1"},
		{Name: "total", Formula: "a + b"},
		{Name: "s", Formula: "x == y"},
	}, got)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("WARN").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}
