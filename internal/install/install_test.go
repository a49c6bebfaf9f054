package install

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/layer"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	// --- Arrange ---
	src := strings.Join([]string{
		"# web stack",
		"fastapi==0.110.0",
		"",
		"uvicorn[standard]>=0.29  # server",
		"Pydantic_Settings",
		"   ",
		"-r other.txt",
	}, "\n")

	// --- Act ---
	reqs, err := ParseManifest(strings.NewReader(src))

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"fastapi==0.110.0", "uvicorn[standard]>=0.29", "Pydantic_Settings", "-r other.txt"}, Specs(reqs))
	assert.Equal(t, "uvicorn", reqs[1].Name)
	assert.Equal(t, "pydantic-settings", reqs[2].Name)
	assert.Equal(t, 4, reqs[1].Line)
}

func TestParseManifest_RejectsDuplicates(t *testing.T) {
	_, err := ParseManifest(strings.NewReader("requests==2.31.0\nRequests>=2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

// fakeInstaller writes a small sh script that "installs" a requirement by
// touching a file in the deps dir and fails for any requirement named
// nonexistent-package.
func fakeInstallScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "install.sh")
	script := `#!/bin/sh
case "$1" in
  nonexistent-package*) echo "ERROR: No matching distribution found for $1" >&2; exit 1 ;;
esac
echo "$1" > "$2/$(echo "$1" | tr -c 'a-zA-Z0-9\n' '_')"
echo "installed $1 $3"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newLayer(t *testing.T, manifest string) (*layer.Layer, *model.Layer) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "requirements.txt"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("A=1\n"), 0o644))

	def := &model.Layer{Name: "base", Install: &model.Install{
		Command:     []string{"sh", fakeInstallScript(t), "{requirement}", "{deps}"},
		NoCacheArgs: []string{"no-cache"},
		CacheArgs:   []string{"cache={cache_dir}"},
	}}
	def.ApplyDefaults()

	ctx := context.Background()
	bc, err := layer.Capture(ctx, root, def)
	require.NoError(t, err)
	l, err := layer.NewMaterializer(t.TempDir()).Materialize(ctx, "b1", bc, def, secrets.NewFileProvider(bc.SecretsPath()))
	require.NoError(t, err)
	return l, def
}

func TestCommandInstaller_InstallsInOrder(t *testing.T) {
	// --- Arrange ---
	l, def := newLayer(t, "zeta==1.0\nalpha>=2\n")
	var out bytes.Buffer
	inst := NewCommandInstaller(def, "", &out)

	// --- Act ---
	res, err := Apply(context.Background(), inst, l)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta==1.0", "alpha>=2"}, res.Requirements)
	assert.Equal(t, []string{"alpha>=2", "zeta==1.0"}, res.Inventory)
	assert.FileExists(t, filepath.Join(l.DepsDir, "zeta__1_0"))
	assert.Less(t, strings.Index(out.String(), "installed zeta"), strings.Index(out.String(), "installed alpha"))
	assert.Contains(t, out.String(), "no-cache")
	assert.True(t, l.Ready())
}

func TestCommandInstaller_UsesCacheArgs(t *testing.T) {
	l, def := newLayer(t, "alpha\n")
	var out bytes.Buffer
	inst := NewCommandInstaller(def, "/var/cache/pip", &out)

	_, err := inst.Install(context.Background(), l)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "cache=/var/cache/pip")
}

func TestApply_FailureRemovesLayer(t *testing.T) {
	// --- Arrange ---
	l, def := newLayer(t, "alpha\nnonexistent-package==9.9\nomega\n")
	var out bytes.Buffer
	inst := NewCommandInstaller(def, "", &out)

	// --- Act ---
	res, err := Apply(context.Background(), inst, l)

	// --- Assert ---
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, failure.InstallFailure, failure.KindOf(err))
	assert.Contains(t, err.Error(), "install failed: install nonexistent-package==9.9")
	assert.Contains(t, err.Error(), "No matching distribution")
	assert.NotContains(t, out.String(), "installed omega", "installation is fail-fast")
	assert.NoDirExists(t, l.Dir)
}

func TestCommandInstaller_InventoryCommand(t *testing.T) {
	l, def := newLayer(t, "alpha\n")
	def.Install.Inventory = []string{"sh", "-c", "printf 'zz==1\\n\\naa==2\\n'"}
	inst := NewCommandInstaller(def, "", nil)

	res, err := inst.Install(context.Background(), l)

	require.NoError(t, err)
	assert.Equal(t, []string{"aa==2", "zz==1"}, res.Inventory)
}

func TestInstall_IsDeterministic(t *testing.T) {
	l1, def := newLayer(t, "b\na\n")
	l2, _ := newLayer(t, "b\na\n")
	inst := NewCommandInstaller(def, "", nil)

	r1, err := Apply(context.Background(), inst, l1)
	require.NoError(t, err)
	r2, err := Apply(context.Background(), inst, l2)
	require.NoError(t, err)

	assert.Equal(t, r1.Inventory, r2.Inventory)
	assert.Equal(t, l1.Digest(), l2.Digest())
}
