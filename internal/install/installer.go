// Package install installs the requirements of a dependency manifest into a
// base layer. Installation is sequential and fail-fast: the first requirement
// that fails aborts the stage and the partial layer is discarded.
package install

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/layer"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/runner"
)

// Result describes a completed install.
type Result struct {
	Requirements []string
	// Inventory is the sorted installed set.
	Inventory []string
}

// Installer installs a layer's dependencies.
type Installer interface {
	Install(ctx context.Context, l *layer.Layer) (*Result, error)
}

// CommandInstaller runs a configured command once per requirement.
type CommandInstaller struct {
	Def *model.Install
	// Manifest is the manifest path relative to the layer workdir.
	Manifest string
	// CacheDir is the shared package cache; empty disables caching.
	CacheDir string
	// Output receives the installer's combined output.
	Output io.Writer
}

// NewCommandInstaller creates an installer for the given layer definition.
func NewCommandInstaller(def *model.Layer, cacheDir string, output io.Writer) *CommandInstaller {
	return &CommandInstaller{
		Def:      def.Install,
		Manifest: def.Manifest,
		CacheDir: cacheDir,
		Output:   output,
	}
}

func (i *CommandInstaller) vars(l *layer.Layer, requirement string) runner.Vars {
	return runner.Vars{
		"requirement": requirement,
		"deps":        l.DepsDir,
		"workdir":     l.Workdir,
		"cache_dir":   i.CacheDir,
	}
}

// Install installs every requirement in manifest order.
func (i *CommandInstaller) Install(ctx context.Context, l *layer.Layer) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("build_id", l.BuildID)

	f, err := os.Open(filepath.Join(l.Workdir, filepath.FromSlash(i.Manifest)))
	if err != nil {
		return nil, failure.New(failure.MissingInput, "read manifest", err)
	}
	reqs, err := ParseManifest(f)
	f.Close()
	if err != nil {
		return nil, failure.New(failure.InstallFailure, "parse manifest "+i.Manifest, err)
	}

	extra := i.Def.NoCacheArgs
	if i.CacheDir != "" {
		extra = i.Def.CacheArgs
	}

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, failure.New(failure.InstallFailure, "install "+req.Spec, err)
		}
		vars := i.vars(l, req.Spec)
		argv := append(vars.ExpandAll(i.Def.Command), vars.ExpandAll(extra)...)

		logger.Info("⬇️ Installing requirement.", "requirement", req.Spec)
		res, err := runner.Run(ctx, runner.Spec{
			Argv:    argv,
			Dir:     l.Workdir,
			Env:     vars.ExpandMap(i.Def.Env),
			Output:  i.Output,
			Timeout: i.Def.Timeout,
		})
		if err != nil {
			return nil, failure.New(failure.InstallFailure, "install "+req.Spec, err)
		}
		if !res.Success() {
			return nil, failure.Newf(failure.InstallFailure, "install "+req.Spec, "installer exited with status %d: %s", res.ExitCode, lastLine(res.Output))
		}
	}

	inventory := normalizedSpecs(reqs)
	if len(i.Def.Inventory) > 0 {
		inventory, err = i.inventory(ctx, l)
		if err != nil {
			return nil, failure.New(failure.InstallFailure, "inventory", err)
		}
	}

	logger.Info("✅ Dependencies installed.", "requirements", len(reqs), "installed", len(inventory))
	return &Result{Requirements: Specs(reqs), Inventory: inventory}, nil
}

func (i *CommandInstaller) inventory(ctx context.Context, l *layer.Layer) ([]string, error) {
	vars := i.vars(l, "")
	res, err := runner.Run(ctx, runner.Spec{
		Argv:    vars.ExpandAll(i.Def.Inventory),
		Dir:     l.Workdir,
		Env:     vars.ExpandMap(i.Def.Env),
		Timeout: i.Def.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("inventory command exited with status %d", res.ExitCode)
	}
	return SortedLines(res.Output), nil
}

// SortedLines returns the sorted, trimmed, non-empty lines of out.
func SortedLines(out []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	sort.Strings(lines)
	return lines
}

func normalizedSpecs(reqs []Requirement) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = strings.Join(strings.Fields(r.Spec), "")
	}
	sort.Strings(out)
	return out
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// Apply installs into l and seals it. When installation fails the layer
// directory is removed so the partial layer can never be promoted.
func Apply(ctx context.Context, inst Installer, l *layer.Layer) (*Result, error) {
	res, err := inst.Install(ctx, l)
	if err == nil {
		err = l.Seal(res.Requirements, res.Inventory)
	}
	if err != nil {
		if rmErr := l.Remove(); rmErr != nil {
			ctxlog.FromContext(ctx).Warn("Failed to remove unusable layer.", "dir", l.Dir, "error", rmErr)
		}
		return nil, err
	}
	return res, nil
}
