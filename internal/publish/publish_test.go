package publish

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/specialistvlad/stagegate/internal/layer"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/secrets"
	"github.com/specialistvlad/stagegate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSealedLayer(t *testing.T) *layer.Layer {
	t.Helper()
	root := testutil.NewProject(t, nil)
	def := &model.Layer{Name: "base"}
	def.ApplyDefaults()

	bc, err := layer.Capture(context.Background(), root, def)
	require.NoError(t, err)
	l, err := layer.NewMaterializer(t.TempDir()).Materialize(context.Background(), "b1", bc, def, secrets.NewFileProvider(bc.SecretsPath()))
	require.NoError(t, err)
	require.NoError(t, l.Seal([]string{"fastapi==0.110.0"}, []string{"fastapi==0.110.0"}))
	return l
}

func entries(t *testing.T, data []byte) []string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	sort.Strings(names)
	return names
}

func TestArchive_SkipsExcludedPaths(t *testing.T) {
	// Arrange
	l := newSealedLayer(t)
	var buf bytes.Buffer

	// Act
	files, err := Archive(context.Background(), l.Dir, &buf, "app/.env")

	// Assert
	require.NoError(t, err)
	names := entries(t, buf.Bytes())
	assert.Contains(t, names, "app/app/main.py", "the context is copied into the workdir")
	assert.Contains(t, names, "app/requirements.txt")
	assert.Contains(t, names, "deps/")
	assert.Contains(t, names, layer.LockFileName)
	assert.NotContains(t, names, "app/.env")
	regular := 0
	for _, n := range names {
		if n[len(n)-1] != '/' {
			regular++
		}
	}
	assert.Equal(t, regular, files)
}

func TestUploader_Layer(t *testing.T) {
	// Arrange
	var (
		mu       sync.Mutex
		gotType  string
		gotBody  []byte
		gotPaths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		gotPaths = append(gotPaths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	l := newSealedLayer(t)
	u := NewUploader(0)
	t.Cleanup(func() { u.Close() })

	// Act
	r, err := u.Layer(context.Background(), l, srv.URL+"/artifacts/base.tar.gz", "app/.env")

	// Assert
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ContentType, gotType)
	assert.Equal(t, []string{"/artifacts/base.tar.gz"}, gotPaths)
	assert.EqualValues(t, len(gotBody), r.Size)
	assert.Equal(t, l.Digest(), r.Digest)
	assert.Len(t, r.SHA256, 64)
	assert.NotContains(t, entries(t, gotBody), "app/.env")
}

func TestUploader_RejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	u := NewUploader(0)
	t.Cleanup(func() { u.Close() })

	_, err := u.Upload(context.Background(), srv.URL, []byte("x"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestUploader_RefusesUnsealedLayer(t *testing.T) {
	u := NewUploader(0)
	t.Cleanup(func() { u.Close() })

	_, err := u.Layer(context.Background(), &layer.Layer{BuildID: "b1"}, "http://127.0.0.1:1/")

	require.ErrorIs(t, err, layer.ErrNotReady)
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "base-b1.tar.gz", ArchiveName(&layer.Layer{Name: "base", BuildID: "b1"}))
}
