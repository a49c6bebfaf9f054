// Package hcl_adapter loads pipeline definitions written in HCL into the
// format-agnostic model.
package hcl_adapter

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/fsutil"
	"github.com/specialistvlad/stagegate/internal/model"
)

// DefaultFileName is the pseudo file name of the built-in definition.
const DefaultFileName = "<default>"

//go:embed default.hcl
var defaultPipeline []byte

// DefaultSource returns the built-in pipeline definition.
func DefaultSource() []byte {
	return append([]byte(nil), defaultPipeline...)
}

// Loader parses HCL pipeline definitions.
type Loader struct {
	evalCtx *hcl.EvalContext
}

// NewLoader creates a loader evaluating expressions in evalCtx. A nil context
// disables variables and functions.
func NewLoader(evalCtx *hcl.EvalContext) *Loader {
	return &Loader{
		evalCtx: evalCtx,
	}
}

// Load parses every .hcl file under the given paths and merges them into one
// pipeline. When no file is found the built-in definition is used.
func (l *Loader) Load(ctx context.Context, paths ...string) (*model.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	if len(files) == 0 {
		logger.Debug("No pipeline definition found, using the built-in one.")
		return l.LoadSource(ctx, DefaultFileName, defaultPipeline)
	}

	parser := hclparse.NewParser()
	p := model.NewPipeline()
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read HCL file %s: %w", file, err)
		}
		if err := l.merge(ctx, parser, p, file, src); err != nil {
			return nil, err
		}
	}
	return l.finish(ctx, p)
}

// LoadSource parses a single in-memory definition.
func (l *Loader) LoadSource(ctx context.Context, filename string, src []byte) (*model.Pipeline, error) {
	p := model.NewPipeline()
	if err := l.merge(ctx, hclparse.NewParser(), p, filename, src); err != nil {
		return nil, err
	}
	return l.finish(ctx, p)
}

func (l *Loader) merge(ctx context.Context, parser *hclparse.Parser, p *model.Pipeline, filename string, src []byte) error {
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, l.evalCtx, &root)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	for _, lb := range root.Layers {
		if prev, ok := p.Layers[lb.Name]; ok {
			return fmt.Errorf("layer %q in %s is already defined in %s", lb.Name, filename, prev.FSInformation)
		}
		layer, err := l.translateLayer(ctx, lb, filename)
		if err != nil {
			return err
		}
		p.Layers[layer.Name] = layer
	}
	for _, sb := range root.Stages {
		if prev, ok := p.Stages[sb.Name]; ok {
			return fmt.Errorf("stage %q in %s is already defined in %s", sb.Name, filename, prev.FSInformation)
		}
		stage, err := l.translateStage(ctx, sb, filename)
		if err != nil {
			return err
		}
		p.Stages[stage.Name] = stage
	}
	return nil
}

func (l *Loader) finish(ctx context.Context, p *model.Pipeline) (*model.Pipeline, error) {
	if diags := p.Validate(); diags.HasErrors() {
		return nil, fmt.Errorf("invalid pipeline definition: %w", diags)
	}
	ctxlog.FromContext(ctx).Debug("HCL loading complete.", "layers", len(p.Layers), "stages", len(p.Stages))
	return p, nil
}

// findAllHCLFiles walks all given paths and returns a flat, de-duplicated list
// of .hcl files. Paths that do not exist are not an error.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})

	for _, path := range paths {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		var found []string
		if info.IsDir() {
			found, err = fsutil.FindFilesByExtension(path, ".hcl")
			if err != nil {
				return nil, err
			}
		} else if filepath.Ext(path) == ".hcl" {
			found = []string{path}
		}

		for _, f := range found {
			if _, wasSeen := seen[f]; !wasSeen {
				allFiles = append(allFiles, f)
				seen[f] = struct{}{}
			}
		}
	}
	return allFiles, nil
}
