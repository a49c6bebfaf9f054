package integrationtests

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/specialistvlad/stagegate/internal/app"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunch_FallsBackToMockCredential(t *testing.T) {
	// --- Arrange ---
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
	h := newHarness(t, nil, nil)
	res, err := h.build(t)
	require.NoError(t, err)

	// --- Act ---
	code, err := h.App.Launch(context.Background(), "", res.BuildID)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	out := h.Output.String()
	assert.Contains(t, out, fmt.Sprintf("serving app.main:app --host 127.0.0.1 --port %d", h.Port))
	assert.Contains(t, out, "OPENAI_API_KEY=mock_key")
	assert.Contains(t, out, "DATABASE_URL=sqlite:///./telemetry_ai.db")
	assert.NotContains(t, out, "sk-from-file", "the secrets file is not the runtime credential source")
	assert.Equal(t, stage.Launched, h.App.Tracker().State("prod"))
}

func TestLaunch_UsesProvidedCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-live")
	h := newHarness(t, nil, nil)
	_, err := h.build(t)
	require.NoError(t, err)

	_, err = h.App.Launch(context.Background(), "prod", "")

	require.NoError(t, err)
	assert.Contains(t, h.Output.String(), "OPENAI_API_KEY=sk-live")
}

func TestLaunch_MissingEntryPointIsLaunchFailure(t *testing.T) {
	// --- Arrange ---
	h := newHarness(t, map[string]string{"app/main.py": "from fastapi import FastAPI\n\napplication = FastAPI()\n"}, nil)
	_, err := h.build(t)
	require.NoError(t, err)

	// --- Act ---
	_, err = h.App.Launch(context.Background(), "", "")

	// --- Assert ---
	require.Error(t, err)
	assert.Equal(t, 5, failure.ExitCode(err))
	assert.Contains(t, err.Error(), `does not define "app"`)
	assert.NotContains(t, h.Output.String(), "serving")
}

func TestLaunch_OccupiedPortIsLaunchFailure(t *testing.T) {
	// --- Arrange ---
	h := newHarness(t, nil, nil)
	_, err := h.build(t)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", h.Port))
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	// --- Act ---
	_, err = h.App.Launch(context.Background(), "", "")

	// --- Assert ---
	require.Error(t, err)
	assert.Equal(t, 5, failure.ExitCode(err))
	assert.Contains(t, err.Error(), fmt.Sprintf("port %d", h.Port))
}

func TestLaunch_StrictPolicyRequiresVerifiedLayer(t *testing.T) {
	h := newHarness(t, map[string]string{"app/tests/test_ok.sh": failingSuite}, nil)
	_, err := h.build(t)
	require.Error(t, err)

	strict := h.reopen(t, func(c *app.Config) { c.Policy = "strict" })
	_, err = strict.App.Launch(context.Background(), "", "")

	require.Error(t, err)
	assert.Equal(t, 6, failure.ExitCode(err))
}

func TestPromote_PublishesLayerWithoutSecrets(t *testing.T) {
	// --- Arrange ---
	var (
		mu    sync.Mutex
		names []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		tr := tar.NewReader(gz)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			names = append(names, hdr.Name)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, nil, func(c *app.Config) { c.PublishURL = srv.URL + "/upload?sig=abc" })
	_, err := h.build(t)
	require.NoError(t, err)

	// --- Act ---
	p, err := h.App.Promote(context.Background(), "", "")

	// --- Assert ---
	require.NoError(t, err)
	require.NotNil(t, p.Receipt)
	assert.Equal(t, "200 OK", p.Receipt.Status)
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, names, "app/app/main.py")
	assert.Contains(t, names, "layer.lock.yaml")
	assert.NotContains(t, names, "app/.env")
}

func TestPromote_UploadRejectionIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	h := newHarness(t, nil, func(c *app.Config) { c.PublishURL = srv.URL })
	_, err := h.build(t)
	require.NoError(t, err)

	_, err = h.App.Promote(context.Background(), "", "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
