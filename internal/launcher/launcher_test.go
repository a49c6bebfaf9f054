package launcher

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/layer"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func TestResolve_FallsBackToMockKey(t *testing.T) {
	// --- Arrange ---
	cfg := DefaultConfig()

	// --- Act ---
	r := cfg.Resolve(noEnv)

	// --- Assert ---
	assert.Equal(t, map[string]string{"OPENAI_API_KEY": "mock_key"}, r.Env)
	assert.Equal(t, []string{"OPENAI_API_KEY"}, r.Defaulted)
}

func TestResolve_UsesProvidedAndTreatsEmptyAsUnset(t *testing.T) {
	cfg := Config{Vars: []Var{
		{Name: "OPENAI_API_KEY", Fallback: "mock_key", Sensitive: true},
		{Name: "DATABASE_URL", Fallback: "sqlite:///./telemetry_ai.db"},
	}}
	env := map[string]string{"OPENAI_API_KEY": "sk-live", "DATABASE_URL": ""}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	r := cfg.Resolve(lookup)

	assert.Equal(t, "sk-live", r.Env["OPENAI_API_KEY"])
	assert.Equal(t, "sqlite:///./telemetry_ai.db", r.Env["DATABASE_URL"])
	assert.Equal(t, []string{"DATABASE_URL"}, r.Defaulted)
	assert.Equal(t, "***", cfg.Redacted(r.Env)["OPENAI_API_KEY"])
	assert.Equal(t, "sqlite:///./telemetry_ai.db", cfg.Redacted(r.Env)["DATABASE_URL"])
}

func TestDefaultConfig_ServesOnAllInterfaces(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:8000", cfg.Address())
	assert.Equal(t, "app.main:app", cfg.EntryPoint)
}

func TestCheckEntryPoint(t *testing.T) {
	testCases := []struct {
		name    string
		files   map[string]string
		ep      string
		wantErr string
	}{
		{name: "assignment", files: map[string]string{"app/main.py": "from fastapi import FastAPI\napp = FastAPI()\n"}, ep: "app.main:app"},
		{name: "annotated", files: map[string]string{"app/main.py": "app: FastAPI = make()\n"}, ep: "app.main:app"},
		{name: "package", files: map[string]string{"app/main/__init__.py": "def app(scope, receive, send):\n    pass\n"}, ep: "app.main:app"},
		{name: "async def", files: map[string]string{"svc.py": "async def app(scope, receive, send):\n    pass\n"}, ep: "svc:app"},
		{name: "class", files: map[string]string{"svc.py": "class app:\n    pass\n"}, ep: "svc:app"},
		{name: "import as", files: map[string]string{"svc.py": "from .factory import build as app\n"}, ep: "svc:app"},
		{name: "from import", files: map[string]string{"svc.py": "from .factory import router, app\n"}, ep: "svc:app"},
		{name: "missing module", files: map[string]string{}, ep: "app.main:app", wantErr: "module app.main not found"},
		{name: "missing attribute", files: map[string]string{"app/main.py": "application = 1\n"}, ep: "app.main:app", wantErr: `does not define "app"`},
		{name: "nested only", files: map[string]string{"app/main.py": "def make():\n    app = 1\n"}, ep: "app.main:app", wantErr: `does not define "app"`},
		{name: "comparison", files: map[string]string{"app/main.py": "app == 1\n"}, ep: "app.main:app", wantErr: `does not define "app"`},
		{name: "malformed", files: map[string]string{}, ep: "app/main.py", wantErr: "module.path:attribute"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			dir := t.TempDir()
			for rel, content := range tc.files {
				path := filepath.Join(dir, filepath.FromSlash(rel))
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
				require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			}

			// --- Act ---
			err := CheckEntryPoint(dir, tc.ep)

			// --- Assert ---
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, failure.LaunchFailure, failure.KindOf(err))
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.True(t, strings.HasPrefix(err.Error(), "launch failed:"))
		})
	}
}

func TestCheckPort_BusyPortFails(t *testing.T) {
	// --- Arrange ---
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	// --- Act ---
	err = CheckPort("127.0.0.1", port)

	// --- Assert ---
	require.Error(t, err)
	assert.Equal(t, failure.LaunchFailure, failure.KindOf(err))
	assert.Contains(t, err.Error(), "unavailable")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func readyLayer(t *testing.T, mainPy string) *layer.Layer {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{
		"requirements.txt": "",
		".env":             "OPENAI_API_KEY=from-file\n",
		"app/__init__.py":  "",
		"app/main.py":      mainPy,
	} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	def := &model.Layer{Name: "base"}
	def.ApplyDefaults()
	ctx := context.Background()
	bc, err := layer.Capture(ctx, root, def)
	require.NoError(t, err)
	l, err := layer.NewMaterializer(t.TempDir()).Materialize(ctx, "b1", bc, def, secrets.NewFileProvider(bc.SecretsPath()))
	require.NoError(t, err)
	require.NoError(t, l.Seal(nil, nil))
	return l
}

func TestLaunch_RunsWithResolvedEnv(t *testing.T) {
	// --- Arrange ---
	l := readyLayer(t, "app = object()\n")
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.Command = []string{"sh", "-c", `echo "serving {entrypoint} on {host}:{port} key=$OPENAI_API_KEY deps=$DEPS"`}
	cfg.Env = map[string]string{"DEPS": "{deps}"}
	var out bytes.Buffer
	ln := New(cfg, &out)
	ln.Lookup = noEnv

	// --- Act ---
	code, err := ln.Launch(context.Background(), l)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "serving app.main:app on 127.0.0.1:")
	assert.Contains(t, out.String(), "key=mock_key")
	assert.Contains(t, out.String(), "deps="+l.DepsDir)
}

func TestLaunch_InheritsEnvironmentUnderExplicitKeys(t *testing.T) {
	// --- Arrange ---
	t.Setenv("STAGEGATE_INHERITED", "from-parent")
	t.Setenv("OPENAI_API_KEY", "sk-ambient")
	l := readyLayer(t, "app = object()\n")
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.Command = []string{"sh", "-c", `echo "inherited=$STAGEGATE_INHERITED key=$OPENAI_API_KEY"`}
	var out bytes.Buffer
	ln := New(cfg, &out)
	ln.Lookup = noEnv

	// --- Act ---
	_, err := ln.Launch(context.Background(), l)

	// --- Assert ---
	require.NoError(t, err)
	assert.Contains(t, out.String(), "inherited=from-parent", "the launching environment is inherited")
	assert.Contains(t, out.String(), "key=mock_key", "declared vars are resolved through Lookup and override it")
}

func TestLaunch_MissingEntryPointFails(t *testing.T) {
	l := readyLayer(t, "handler = object()\n")
	cfg := DefaultConfig()
	cfg.Port = freePort(t)
	cfg.Host = "127.0.0.1"

	_, err := New(cfg, &bytes.Buffer{}).Launch(context.Background(), l)

	require.Error(t, err)
	assert.Equal(t, 5, failure.ExitCode(err))
}

func TestLaunch_NonZeroExitFails(t *testing.T) {
	l := readyLayer(t, "app = object()\n")
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.Command = []string{"sh", "-c", "exit 7"}

	code, err := New(cfg, &bytes.Buffer{}).Launch(context.Background(), l)

	assert.Equal(t, 7, code)
	assert.True(t, failure.Is(err, failure.LaunchFailure))
}

func TestLaunch_CancellationStopsProcess(t *testing.T) {
	// --- Arrange ---
	l := readyLayer(t, "app = object()\n")
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.Command = []string{"sleep", "30"}
	cfg.GracePeriod = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ln := New(cfg, &bytes.Buffer{})
	ln.OnStart = func(int) { cancel() }

	// --- Act ---
	start := time.Now()
	_, err := ln.Launch(ctx, l)

	// --- Assert ---
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLaunch_UnreadyLayer(t *testing.T) {
	_, err := New(DefaultConfig(), nil).Launch(context.Background(), &layer.Layer{BuildID: "x"})
	assert.ErrorIs(t, err, layer.ErrNotReady)
}
