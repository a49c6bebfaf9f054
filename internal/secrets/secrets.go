// Package secrets places the secrets file into a base layer.
//
// The source of the secrets is injected through Provider so that the layer
// does not depend on an ambient file. Placement always writes the file first
// and applies the permission bits afterwards; the returned Artifact reports
// the mode observed on disk after the chmod. Secrets are baked into the
// layer, so rotating a secret requires rebuilding the layer.
package secrets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/subosito/gotenv"
)

// Provider supplies the raw contents of a secrets file.
type Provider interface {
	// Name identifies the source in logs and errors. It never contains secret values.
	Name() string
	// Read returns the secrets file contents.
	Read(ctx context.Context) ([]byte, error)
}

// FileProvider reads secrets from a file, typically inside the build context.
type FileProvider struct {
	Path string
}

// NewFileProvider creates a provider reading path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

func (p *FileProvider) Name() string {
	return p.Path
}

func (p *FileProvider) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, failure.Newf(failure.MissingInput, "read secrets", "secrets file %s does not exist", p.Path)
	}
	if err != nil {
		return nil, failure.New(failure.MissingInput, "read secrets", err)
	}
	return data, nil
}

// StaticProvider serves secrets held in memory.
type StaticProvider struct {
	Label string
	Data  []byte
}

func (p *StaticProvider) Name() string {
	if p.Label == "" {
		return "<static>"
	}
	return p.Label
}

func (p *StaticProvider) Read(context.Context) ([]byte, error) {
	return append([]byte(nil), p.Data...), nil
}

// Artifact describes a placed secrets file.
type Artifact struct {
	Path string
	// Mode is the permission observed after placement.
	Mode os.FileMode
	// Keys lists the declared keys in sorted order.
	Keys []string
	// Digest is the hex sha256 of the file contents.
	Digest string
}

// Parse returns the sorted keys declared in a dotenv document.
func Parse(data []byte) ([]string, error) {
	env, err := gotenv.StrictParse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Place writes the provider's secrets to dst and then applies mode.
func Place(ctx context.Context, p Provider, dst string, mode os.FileMode) (*Artifact, error) {
	logger := ctxlog.FromContext(ctx).With("source", p.Name(), "path", dst)

	data, err := p.Read(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := Parse(data)
	if err != nil {
		return nil, failure.New(failure.InvalidConfig, "parse secrets "+p.Name(), err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}
	// A previous placement may have left a read-only file behind.
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to replace secrets file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write secrets file: %w", err)
	}
	if err := os.Chmod(dst, mode); err != nil {
		return nil, fmt.Errorf("failed to set secrets file mode: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}

	sum := sha256.Sum256(data)
	a := &Artifact{
		Path:   dst,
		Mode:   info.Mode().Perm(),
		Keys:   keys,
		Digest: hex.EncodeToString(sum[:]),
	}
	logger.Debug("Secrets placed.", "mode", fmt.Sprintf("%04o", a.Mode), "keys", len(keys))
	return a, nil
}
