// Package layer materializes the base layer of a pipeline run: a directory
// holding a copy of the captured build context, the placed secrets file and
// the install target for dependencies, described by a lock file.
package layer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/fsutil"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/secrets"
)

// DepsDirName is the install target inside a layer.
const DepsDirName = "deps"

// Layer is a materialized base layer.
type Layer struct {
	BuildID string
	Name    string
	Dir     string
	// Workdir holds the source copy; commands run here.
	Workdir string
	DepsDir string
	Secrets *secrets.Artifact
	Lock    *Lock
}

func fromLock(dir string, l *Lock) *Layer {
	return &Layer{
		BuildID: l.BuildID,
		Name:    l.Layer,
		Dir:     dir,
		Workdir: filepath.Join(dir, l.Workdir),
		DepsDir: filepath.Join(dir, DepsDirName),
		Lock:    l,
	}
}

// Ready reports whether the layer completed installation.
func (l *Layer) Ready() bool {
	return l != nil && l.Lock != nil && l.Lock.Ready
}

// Digest is the content digest, empty until the layer is sealed.
func (l *Layer) Digest() string {
	if l == nil || l.Lock == nil {
		return ""
	}
	return l.Lock.Digest
}

// Seal records the installed set, computes the digest and marks the layer
// ready. A sealed layer is never modified again.
func (l *Layer) Seal(requirements, inventory []string) error {
	if l.Ready() {
		return fmt.Errorf("layer %s is already sealed", l.BuildID)
	}
	l.Lock.Requirements = requirements
	l.Lock.Inventory = inventory
	l.Lock.Digest = Digest(l.Lock.ContextDigest, l.Lock.SecretsDigest, inventory)
	l.Lock.Ready = true
	if err := writeLock(l.Dir, l.Lock); err != nil {
		l.Lock.Ready = false
		return fmt.Errorf("failed to write lock for layer %s: %w", l.BuildID, err)
	}
	return nil
}

// Scratch copies the layer into a hidden sibling directory that commands may
// write to freely. The lock file is left out, so the copy is never listed or
// opened as a layer. The caller removes the copy when done.
func (l *Layer) Scratch(name string) (*Layer, error) {
	if !l.Ready() {
		return nil, ErrNotReady
	}
	dir := filepath.Join(filepath.Dir(l.Dir), "."+l.Name+"."+name)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear scratch copy of layer %s: %w", l.Name, err)
	}
	if err := fsutil.CopyTree(l.Dir, dir, LockFileName); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to copy layer %s: %w", l.Name, err)
	}
	s := *l
	s.Dir = dir
	s.Workdir = filepath.Join(dir, l.Lock.Workdir)
	s.DepsDir = filepath.Join(dir, DepsDirName)
	s.Secrets = nil
	return &s, nil
}

// Remove deletes the layer directory.
func (l *Layer) Remove() error {
	return os.RemoveAll(l.Dir)
}

// Materializer creates layers inside a state directory.
type Materializer struct {
	StateDir string
	now      func() time.Time
}

// NewMaterializer creates a materializer rooted at stateDir.
func NewMaterializer(stateDir string) *Materializer {
	return &Materializer{StateDir: stateDir, now: time.Now}
}

// Materialize copies the build context into a fresh layer directory
// (<state>/layers/<build-id>/<layer>), places
// the secrets through provider and prepares the install target. On failure
// the partial directory is removed.
func (m *Materializer) Materialize(ctx context.Context, buildID string, bc *BuildContext, def *model.Layer, provider secrets.Provider) (_ *Layer, err error) {
	logger := ctxlog.FromContext(ctx).With("layer", def.Name, "build_id", buildID)

	dir := filepath.Join(LayersDir(m.StateDir), buildID, def.Name)
	if _, statErr := os.Stat(dir); statErr == nil {
		return nil, fmt.Errorf("layer directory %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create layer directory: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	l := &Layer{
		BuildID: buildID,
		Name:    def.Name,
		Dir:     dir,
		Workdir: filepath.Join(dir, def.Workdir),
		DepsDir: filepath.Join(dir, DepsDirName),
	}

	if err := fsutil.CopyFiles(bc.Root, l.Workdir, bc.Paths()); err != nil {
		return nil, fmt.Errorf("failed to copy build context: %w", err)
	}
	for _, f := range bc.Files {
		sum, err := hashFile(filepath.Join(l.Workdir, filepath.FromSlash(f.Path)))
		if err != nil {
			return nil, err
		}
		if sum != f.Digest {
			return nil, fmt.Errorf("build context changed during materialization: %s", f.Path)
		}
	}
	if err := fsutil.CopyFile(bc.ManifestPath(), filepath.Join(l.Workdir, filepath.FromSlash(bc.Manifest)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to copy manifest: %w", err)
	}
	if err := os.MkdirAll(l.DepsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create deps directory: %w", err)
	}

	artifact, err := secrets.Place(ctx, provider, filepath.Join(l.Workdir, filepath.FromSlash(def.Secrets.Path)), def.Secrets.Mode)
	if err != nil {
		return nil, err
	}
	l.Secrets = artifact

	l.Lock = &Lock{
		BuildID:       buildID,
		Layer:         def.Name,
		Workdir:       def.Workdir,
		ContextDigest: bc.Digest,
		SecretsDigest: artifact.Digest,
		SecretsMode:   fmt.Sprintf("%04o", artifact.Mode),
		CreatedAt:     m.now().UTC(),
	}
	if err := writeLock(dir, l.Lock); err != nil {
		return nil, fmt.Errorf("failed to write lock: %w", err)
	}

	logger.Info("📦 Layer materialized.", "dir", dir, "files", len(bc.Files), "secrets_mode", l.Lock.SecretsMode)
	return l, nil
}
