package layer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/fsutil"
	"github.com/specialistvlad/stagegate/internal/model"
)

// File is one captured source file.
type File struct {
	Path       string
	Digest     string
	Executable bool
}

// BuildContext is the captured set of inputs of a layer. It is never mutated
// after Capture returns.
type BuildContext struct {
	Root  string
	Files []File
	// Manifest and Secrets are paths relative to Root.
	Manifest string
	Secrets  string
	// Digest covers every file path, content and executable bit.
	Digest string
}

// ManifestPath is the absolute path of the dependency manifest.
func (bc *BuildContext) ManifestPath() string {
	return filepath.Join(bc.Root, filepath.FromSlash(bc.Manifest))
}

// SecretsPath is the absolute path of the secrets source file.
func (bc *BuildContext) SecretsPath() string {
	return filepath.Join(bc.Root, filepath.FromSlash(bc.Secrets))
}

// Paths lists the captured relative paths in order.
func (bc *BuildContext) Paths() []string {
	out := make([]string, len(bc.Files))
	for i, f := range bc.Files {
		out[i] = f.Path
	}
	return out
}

// Capture snapshots the build context rooted at root for the given layer.
// Paths in exclude (absolute, e.g. the state directory) are skipped when they
// lie inside root. A missing root, manifest or secrets file is a MissingInput
// failure.
func Capture(ctx context.Context, root string, def *model.Layer, exclude ...string) (*BuildContext, error) {
	logger := ctxlog.FromContext(ctx).With("layer", def.Name)

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve build context: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, failure.Newf(failure.MissingInput, "capture", "build context %s is not a directory", root)
	}

	bc := &BuildContext{
		Root:     root,
		Manifest: filepath.ToSlash(filepath.Clean(def.Manifest)),
		Secrets:  filepath.ToSlash(filepath.Clean(def.Secrets.Source)),
	}
	if err := requireFile(bc.ManifestPath(), "dependency manifest"); err != nil {
		return nil, err
	}
	if err := requireFile(bc.SecretsPath(), "secrets file"); err != nil {
		return nil, err
	}

	skip := append([]string{}, def.Ignore...)
	skip = append(skip, bc.Secrets)
	for _, ex := range exclude {
		abs, err := filepath.Abs(ex)
		if err != nil || !fsutil.Within(root, abs) {
			continue
		}
		if rel, err := filepath.Rel(root, abs); err == nil && rel != "." {
			skip = append(skip, rel)
		}
	}

	paths, err := fsutil.Walk(root, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to walk build context: %w", err)
	}

	d := newDigester()
	d.field("stagegate/context/v1")
	for _, rel := range paths {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		sum, err := hashFile(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		st, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		f := File{Path: rel, Digest: sum, Executable: st.Mode()&0o111 != 0}
		bc.Files = append(bc.Files, f)

		exec := "0"
		if f.Executable {
			exec = "1"
		}
		d.field(f.Path)
		d.field(f.Digest)
		d.field(exec)
	}
	bc.Digest = d.sum()

	logger.Debug("Build context captured.", "root", root, "files", len(bc.Files), "digest", bc.Digest)
	return bc, nil
}

func requireFile(path, what string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return failure.Newf(failure.MissingInput, "capture", "%s %s does not exist", what, path)
	}
	if err != nil {
		return failure.New(failure.MissingInput, "capture", err)
	}
	if !info.Mode().IsRegular() {
		return failure.Newf(failure.MissingInput, "capture", "%s %s is not a regular file", what, path)
	}
	return nil
}
