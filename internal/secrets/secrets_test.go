package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProvider records whether the destination already existed when the
// secrets were requested, i.e. whether anything touched it before the write.
type recordingProvider struct {
	dst           string
	calls         int
	existedAtRead bool
	data          []byte
}

func (r *recordingProvider) Name() string { return "recording" }

func (r *recordingProvider) Read(context.Context) ([]byte, error) {
	r.calls++
	_, err := os.Stat(r.dst)
	r.existedAtRead = err == nil
	return r.data, nil
}

func TestPlace_WritesThenAppliesMode(t *testing.T) {
	// --- Arrange ---
	dst := filepath.Join(t.TempDir(), "app", ".env")
	p := &recordingProvider{dst: dst, data: []byte("OPENAI_API_KEY=sk-test\nDEBUG=1\n")}

	// --- Act ---
	a, err := Place(context.Background(), p, dst, 0o444)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)
	assert.False(t, p.existedAtRead, "nothing may be applied to the path before it is written")
	assert.Equal(t, os.FileMode(0o444), a.Mode)
	assert.Equal(t, []string{"DEBUG", "OPENAI_API_KEY"}, a.Keys)
	assert.Len(t, a.Digest, 64)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, p.data, content)
}

func TestPlace_ReplacesReadOnlyFile(t *testing.T) {
	// --- Arrange ---
	dst := filepath.Join(t.TempDir(), ".env")
	ctx := context.Background()
	_, err := Place(ctx, &StaticProvider{Data: []byte("A=1\n")}, dst, 0o444)
	require.NoError(t, err)

	// --- Act ---
	a, err := Place(ctx, &StaticProvider{Data: []byte("A=2\n")}, dst, 0o444)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, a.Keys)
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "A=2\n", string(content))
}

func TestFileProvider_MissingFileIsMissingInput(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), ".env"))

	_, err := p.Read(context.Background())

	require.Error(t, err)
	assert.Equal(t, failure.MissingInput, failure.KindOf(err))
	assert.Contains(t, err.Error(), "missing input:")
}

func TestPlace_SameContentSameDigest(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	p := &StaticProvider{Data: []byte("K=V\n")}

	a1, err := Place(ctx, p, filepath.Join(dir, "one", ".env"), 0o444)
	require.NoError(t, err)
	a2, err := Place(ctx, p, filepath.Join(dir, "two", ".env"), 0o444)
	require.NoError(t, err)

	assert.Equal(t, a1.Digest, a2.Digest)
}

func TestParse_EmptyDocument(t *testing.T) {
	keys, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
