// Package integrationtests drives the whole application over throwaway
// projects, with shell stand-ins for the package installer, the test suite
// and the application server.
package integrationtests

import (
	"context"
	"testing"

	"github.com/specialistvlad/stagegate/internal/app"
	"github.com/specialistvlad/stagegate/internal/testutil"
	"github.com/stretchr/testify/require"
)

// harness is one application instance over one project.
type harness struct {
	App    *app.App
	Config *app.Config
	Output *testutil.SafeBuffer
	Port   int
}

// newHarness writes a project (ProjectFiles overlaid with overrides) and a
// shell-driven pipeline definition, then creates the App. mutate may adjust
// the raw configuration before validation.
func newHarness(t *testing.T, overrides map[string]string, mutate func(*app.Config)) *harness {
	t.Helper()
	out := &testutil.SafeBuffer{}
	t.Cleanup(func() { testutil.DumpLogs(t, out) })

	port := testutil.FreePort(t)
	raw := app.Config{
		ContextDir: testutil.NewProject(t, overrides),
		Files:      []string{testutil.WriteDefinition(t, port)},
		StateDir:   t.TempDir(),
		LogLevel:   "debug",
	}
	if mutate != nil {
		mutate(&raw)
	}
	cfg, err := app.NewConfig(raw)
	require.NoError(t, err)
	a, err := app.NewApp(out, cfg)
	require.NoError(t, err)

	return &harness{App: a, Config: cfg, Output: out, Port: port}
}

// reopen creates a second App over the same project and state, e.g. with a
// different policy.
func (h *harness) reopen(t *testing.T, mutate func(*app.Config)) *harness {
	t.Helper()
	raw := *h.Config
	if mutate != nil {
		mutate(&raw)
	}
	cfg, err := app.NewConfig(raw)
	require.NoError(t, err)
	a, err := app.NewApp(h.Output, cfg)
	require.NoError(t, err)
	return &harness{App: a, Config: cfg, Output: h.Output, Port: h.Port}
}

func (h *harness) build(t *testing.T, targets ...string) (*app.BuildResult, error) {
	t.Helper()
	return h.App.Build(context.Background(), targets)
}
