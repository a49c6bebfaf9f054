package layer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "requirements.txt", "fastapi==0.110.0\nuvicorn\n")
	writeFile(t, root, ".env", "OPENAI_API_KEY=sk-test\n")
	writeFile(t, root, "app/__init__.py", "")
	writeFile(t, root, "app/main.py", "app = object()\n")
	writeFile(t, root, "app/__pycache__/main.cpython-312.pyc", "junk")
	writeFile(t, root, ".stagegate/layers/old/layer.lock.yaml", "ready: true\n")
	return root
}

func defaultLayer() *model.Layer {
	l := &model.Layer{Name: "base"}
	l.ApplyDefaults()
	return l
}

func TestCapture_ListsSourcesAndSkipsIgnored(t *testing.T) {
	// --- Arrange ---
	root := newProject(t)

	// --- Act ---
	bc, err := Capture(context.Background(), root, defaultLayer(), filepath.Join(root, ".stagegate"))

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"app/__init__.py", "app/main.py", "requirements.txt"}, bc.Paths())
	assert.Equal(t, "requirements.txt", bc.Manifest)
	assert.Equal(t, ".env", bc.Secrets)
	assert.Len(t, bc.Digest, 64)
}

func TestCapture_IsDeterministic(t *testing.T) {
	root := newProject(t)
	def := defaultLayer()

	a, err := Capture(context.Background(), root, def)
	require.NoError(t, err)
	b, err := Capture(context.Background(), root, def)
	require.NoError(t, err)
	assert.Equal(t, a.Digest, b.Digest)

	writeFile(t, root, "app/main.py", "app = None\n")
	c, err := Capture(context.Background(), root, def)
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest, c.Digest)
}

func TestCapture_MissingInputs(t *testing.T) {
	testCases := []struct {
		name   string
		remove string
		want   string
	}{
		{name: "manifest", remove: "requirements.txt", want: "dependency manifest"},
		{name: "secrets", remove: ".env", want: "secrets file"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			root := newProject(t)
			require.NoError(t, os.Remove(filepath.Join(root, tc.remove)))

			// --- Act ---
			_, err := Capture(context.Background(), root, defaultLayer())

			// --- Assert ---
			require.Error(t, err)
			assert.Equal(t, failure.MissingInput, failure.KindOf(err))
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := Capture(context.Background(), filepath.Join(t.TempDir(), "nope"), defaultLayer())
	assert.True(t, failure.Is(err, failure.MissingInput))
}

func TestMaterialize_BuildsLayer(t *testing.T) {
	// --- Arrange ---
	root := newProject(t)
	state := t.TempDir()
	def := defaultLayer()
	ctx := context.Background()
	bc, err := Capture(ctx, root, def)
	require.NoError(t, err)

	// --- Act ---
	l, err := NewMaterializer(state).Materialize(ctx, "b1", bc, def, secrets.NewFileProvider(bc.SecretsPath()))

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(state, "layers", "b1", "base", "app"), l.Workdir)
	assert.FileExists(t, filepath.Join(l.Workdir, "app", "main.py"))
	assert.FileExists(t, filepath.Join(l.Workdir, "requirements.txt"))
	assert.DirExists(t, l.DepsDir)

	info, err := os.Stat(filepath.Join(l.Workdir, ".env"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())
	assert.Equal(t, os.FileMode(0o444), l.Secrets.Mode)

	assert.False(t, l.Ready())
	lock, err := ReadLock(l.Dir)
	require.NoError(t, err)
	assert.False(t, lock.Ready)
	assert.Equal(t, "0444", lock.SecretsMode)

	_, err = Open(state, "b1", "base")
	assert.ErrorIs(t, err, ErrNotReady)
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }
func (failingProvider) Read(context.Context) ([]byte, error) {
	return nil, errors.New("vault unavailable")
}

func TestMaterialize_RemovesPartialLayerOnFailure(t *testing.T) {
	root := newProject(t)
	state := t.TempDir()
	def := defaultLayer()
	bc, err := Capture(context.Background(), root, def)
	require.NoError(t, err)

	_, err = NewMaterializer(state).Materialize(context.Background(), "b1", bc, def, failingProvider{})

	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(state, "layers", "b1", "base"))
}

func TestSeal_MarksReadyAndDigestIsStable(t *testing.T) {
	// --- Arrange ---
	root := newProject(t)
	state := t.TempDir()
	def := defaultLayer()
	ctx := context.Background()
	m := NewMaterializer(state)
	inventory := []string{"fastapi==0.110.0", "uvicorn==0.29.0"}

	build := func(id string) *Layer {
		bc, err := Capture(ctx, root, def)
		require.NoError(t, err)
		l, err := m.Materialize(ctx, id, bc, def, secrets.NewFileProvider(bc.SecretsPath()))
		require.NoError(t, err)
		require.NoError(t, l.Seal([]string{"fastapi==0.110.0", "uvicorn"}, inventory))
		return l
	}

	// --- Act ---
	first := build("b1")
	second := build("b2")

	// --- Assert ---
	assert.True(t, first.Ready())
	assert.Equal(t, first.Digest(), second.Digest())
	assert.Error(t, first.Seal(nil, nil), "a sealed layer is immutable")

	opened, err := Open(state, "b1", "base")
	require.NoError(t, err)
	assert.Equal(t, first.Digest(), opened.Digest())
	assert.Equal(t, inventory, opened.Lock.Inventory)
	assert.Equal(t, first.Workdir, opened.Workdir)
}

func TestScratch_CopiesLayerWithoutLock(t *testing.T) {
	// --- Arrange ---
	root := newProject(t)
	state := t.TempDir()
	def := defaultLayer()
	ctx := context.Background()
	bc, err := Capture(ctx, root, def)
	require.NoError(t, err)
	l, err := NewMaterializer(state).Materialize(ctx, "b1", bc, def, secrets.NewFileProvider(bc.SecretsPath()))
	require.NoError(t, err)
	require.NoError(t, l.Seal(nil, nil))

	// --- Act ---
	s, err := l.Scratch("test")

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(state, "layers", "b1", ".base.test"), s.Dir)
	assert.Equal(t, l.Digest(), s.Digest())
	assert.FileExists(t, filepath.Join(s.Workdir, "app", "main.py"))
	assert.NoFileExists(t, filepath.Join(s.Dir, LockFileName))

	info, err := os.Stat(filepath.Join(s.Workdir, ".env"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	require.NoError(t, os.WriteFile(filepath.Join(s.Workdir, "telemetry_ai.db"), []byte("rows"), 0o644))
	assert.NoFileExists(t, filepath.Join(l.Workdir, "telemetry_ai.db"))

	locks, err := List(state, "")
	require.NoError(t, err)
	assert.Len(t, locks, 1, "the scratch copy is not a layer")

	require.NoError(t, s.Remove())
	assert.NoDirExists(t, s.Dir)
	assert.DirExists(t, l.Dir)
}

func TestScratch_RequiresReadyLayer(t *testing.T) {
	_, err := (&Layer{Name: "base"}).Scratch("test")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestLatest_PicksNewestReadyLayer(t *testing.T) {
	root := newProject(t)
	state := t.TempDir()
	def := defaultLayer()
	ctx := context.Background()
	m := NewMaterializer(state)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	for _, id := range []string{"old", "new"} {
		bc, err := Capture(ctx, root, def)
		require.NoError(t, err)
		l, err := m.Materialize(ctx, id, bc, def, secrets.NewFileProvider(bc.SecretsPath()))
		require.NoError(t, err)
		require.NoError(t, l.Seal(nil, nil))
	}
	bc, err := Capture(ctx, root, def)
	require.NoError(t, err)
	_, err = m.Materialize(ctx, "unsealed", bc, def, secrets.NewFileProvider(bc.SecretsPath()))
	require.NoError(t, err)

	latest, err := Latest(state, "base")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.BuildID)

	locks, err := List(state, "")
	require.NoError(t, err)
	require.Len(t, locks, 2)
	assert.Equal(t, "old", locks[1].BuildID)

	_, err = Latest(t.TempDir(), "base")
	assert.Error(t, err)
}

func TestDigest_DependsOnInventory(t *testing.T) {
	a := Digest("ctx", "sec", []string{"a==1"})
	b := Digest("ctx", "sec", []string{"a==2"})
	c := Digest("ctx", "sec", []string{"a==1"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
	assert.NotEqual(t, Digest("ab", "c", nil), Digest("a", "bc", nil))
}
