package app

import (
	"os"
	"testing"

	"github.com/vk/gridcalc/internal/registry"
	"github.com/vk/gridcalc/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. It returns the
// buffers receiving results and logs.
func SetupAppTest(t *testing.T, cfg Config, modules ...registry.Module) (*App, *testutil.SafeBuffer, *testutil.SafeBuffer) {
	t.Helper()

	cfg.LogLevel = "debug"
	appConfig, err := NewConfig(cfg)
	if err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	out, logs := &testutil.SafeBuffer{}, &testutil.SafeBuffer{}
	testApp := NewApp(out, logs, appConfig, modules...)

	t.Cleanup(func() {
		testApp.Close()
		if os.Getenv("GRIDCALC_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})

	return testApp, out, logs
}
