package layer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// LockFileName is the name of the lock file at the root of a layer directory.
const LockFileName = "layer.lock.yaml"

// ErrNotReady is returned for a layer whose lock does not mark it ready.
var ErrNotReady = errors.New("layer is not ready")

// Lock is the persisted record of a layer. A layer is usable only once its
// lock has Ready set, which happens after a successful install.
type Lock struct {
	BuildID       string    `yaml:"build_id"`
	Layer         string    `yaml:"layer"`
	Workdir       string    `yaml:"workdir"`
	ContextDigest string    `yaml:"context_digest"`
	SecretsDigest string    `yaml:"secrets_digest"`
	SecretsMode   string    `yaml:"secrets_mode"`
	Requirements  []string  `yaml:"requirements"`
	Inventory     []string  `yaml:"inventory"`
	Digest        string    `yaml:"digest,omitempty"`
	Ready         bool      `yaml:"ready"`
	CreatedAt     time.Time `yaml:"created_at"`
}

// ReadLock reads the lock file of the layer at dir.
func ReadLock(dir string) (*Lock, error) {
	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, err
	}
	var l Lock
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("invalid lock file in %s: %w", dir, err)
	}
	return &l, nil
}

func writeLock(dir string, l *Lock) error {
	data, err := yaml.Marshal(l)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, LockFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, LockFileName))
}

// LayersDir is where layers live inside a state directory.
func LayersDir(stateDir string) string {
	return filepath.Join(stateDir, "layers")
}

// Open loads a ready layer by build id and layer name.
func Open(stateDir, buildID, name string) (*Layer, error) {
	dir := filepath.Join(LayersDir(stateDir), buildID, name)
	lock, err := ReadLock(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("layer %s of build %s does not exist", name, buildID)
	}
	if err != nil {
		return nil, err
	}
	if !lock.Ready {
		return nil, fmt.Errorf("layer %s of build %s: %w", name, buildID, ErrNotReady)
	}
	return fromLock(dir, lock), nil
}

// List returns the locks of all ready layers with the given name, newest
// first. An empty name lists every layer.
func List(stateDir, name string) ([]*Lock, error) {
	builds, err := os.ReadDir(LayersDir(stateDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var locks []*Lock
	for _, b := range builds {
		if !b.IsDir() {
			continue
		}
		layers, err := os.ReadDir(filepath.Join(LayersDir(stateDir), b.Name()))
		if err != nil {
			return nil, err
		}
		for _, l := range layers {
			if !l.IsDir() || (name != "" && l.Name() != name) {
				continue
			}
			lock, err := ReadLock(filepath.Join(LayersDir(stateDir), b.Name(), l.Name()))
			if err != nil || !lock.Ready {
				continue
			}
			locks = append(locks, lock)
		}
	}
	sort.Slice(locks, func(i, j int) bool {
		if !locks[i].CreatedAt.Equal(locks[j].CreatedAt) {
			return locks[i].CreatedAt.After(locks[j].CreatedAt)
		}
		if locks[i].BuildID != locks[j].BuildID {
			return locks[i].BuildID > locks[j].BuildID
		}
		return locks[i].Layer < locks[j].Layer
	})
	return locks, nil
}

// Latest opens the newest ready layer with the given name.
func Latest(stateDir, name string) (*Layer, error) {
	locks, err := List(stateDir, name)
	if err != nil {
		return nil, err
	}
	if len(locks) == 0 {
		return nil, fmt.Errorf("no ready layer %q in %s", name, LayersDir(stateDir))
	}
	return Open(stateDir, locks[0].BuildID, locks[0].Layer)
}
