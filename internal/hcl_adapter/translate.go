// This file contains the logic for translating HCL schema structs into the
// format-agnostic pipeline model, applying defaults along the way.

package hcl_adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/hclutil"
	"github.com/specialistvlad/stagegate/internal/model"
)

func (l *Loader) translateLayer(ctx context.Context, b *layerBlock, filename string) (*model.Layer, error) {
	ctxlog.FromContext(ctx).Debug("Translating HCL layer to internal model.", "layer", b.Name, "file", filename)

	layer := &model.Layer{
		Name:          b.Name,
		FSInformation: model.NewFSInfo(filename),
		Context:       deref(b.Context),
		Manifest:      deref(b.Manifest),
		Workdir:       deref(b.Workdir),
		Ignore:        b.Ignore,
	}
	if layer.Context != "" && !filepath.IsAbs(layer.Context) && filename != DefaultFileName {
		layer.Context = filepath.Join(filepath.Dir(filename), layer.Context)
	}

	if s := b.Secrets; s != nil {
		layer.Secrets = &model.Secrets{
			Source: deref(s.Source),
			Path:   deref(s.Path),
		}
		if s.Mode != nil {
			mode, err := parseMode(*s.Mode)
			if err != nil {
				return nil, fmt.Errorf("layer %q in %s: %w", b.Name, filename, err)
			}
			layer.Secrets.Mode = mode
		}
	}

	if in := b.Install; in != nil {
		timeout, err := parseDuration(in.Timeout, "timeout")
		if err != nil {
			return nil, fmt.Errorf("layer %q in %s: %w", b.Name, filename, err)
		}
		layer.Install = &model.Install{
			Command:     in.Command,
			CacheArgs:   in.CacheArgs,
			NoCacheArgs: in.NoCacheArgs,
			Inventory:   in.Inventory,
			Env:         in.Env,
			Timeout:     timeout,
		}
	}

	layer.ApplyDefaults()
	return layer, nil
}

func (l *Loader) translateStage(ctx context.Context, b *stageBlock, filename string) (*model.Stage, error) {
	ctxlog.FromContext(ctx).Debug("Translating HCL stage to internal model.", "stage", b.Name, "file", filename)

	stage := &model.Stage{
		Name:          b.Name,
		FSInformation: model.NewFSInfo(filename),
		Layer:         b.Layer,
		Require:       deref(b.Require),
	}

	content, diags := b.Body.Content(stageBodySchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("stage %q in %s: %w", b.Name, filename, diags)
	}

	gateHCL, diags := hclutil.FindUniqueBlock(content.Blocks, "gate")
	if diags.HasErrors() {
		return nil, fmt.Errorf("stage %q in %s: %w", b.Name, filename, diags)
	}
	launchHCL, diags := hclutil.FindUniqueBlock(content.Blocks, "launch")
	if diags.HasErrors() {
		return nil, fmt.Errorf("stage %q in %s: %w", b.Name, filename, diags)
	}

	if gateHCL != nil {
		gate, err := l.decodeGate(gateHCL)
		if err != nil {
			return nil, fmt.Errorf("stage %q in %s: %w", b.Name, filename, err)
		}
		stage.Gate = gate
	}
	if launchHCL != nil {
		launch, err := l.decodeLaunch(launchHCL)
		if err != nil {
			return nil, fmt.Errorf("stage %q in %s: %w", b.Name, filename, err)
		}
		stage.Launch = launch
	}

	stage.ApplyDefaults()
	return stage, nil
}

func (l *Loader) decodeGate(block *hcl.Block) (*model.Gate, error) {
	var gb gateBlock
	if diags := gohcl.DecodeBody(block.Body, l.evalCtx, &gb); diags.HasErrors() {
		return nil, diags
	}
	timeout, err := parseDuration(gb.Timeout, "timeout")
	if err != nil {
		return nil, err
	}
	return &model.Gate{
		Command: gb.Command,
		Env:     gb.Env,
		Marker:  deref(gb.Marker),
		Timeout: timeout,
		Vars:    translateVars(gb.Vars),
	}, nil
}

func (l *Loader) decodeLaunch(block *hcl.Block) (*model.Launch, error) {
	var lb launchBlock
	if diags := gohcl.DecodeBody(block.Body, l.evalCtx, &lb); diags.HasErrors() {
		return nil, diags
	}
	grace, err := parseDuration(lb.GracePeriod, "grace_period")
	if err != nil {
		return nil, err
	}

	launch := &model.Launch{
		Command:     lb.Command,
		EntryPoint:  deref(lb.EntryPoint),
		Host:        deref(lb.Host),
		Env:         lb.Env,
		GracePeriod: grace,
	}
	if lb.Port != nil {
		launch.Port = *lb.Port
	}
	launch.Vars = translateVars(lb.Vars)
	return launch, nil
}

// translateVars returns nil for no blocks so that defaults still apply.
func translateVars(blocks []*varBlock) []*model.Var {
	if len(blocks) == 0 {
		return nil
	}
	vars := make([]*model.Var, 0, len(blocks))
	for _, v := range blocks {
		mv := &model.Var{Name: v.Name, Fallback: deref(v.Fallback)}
		if v.Sensitive != nil {
			mv.Sensitive = *v.Sensitive
		}
		vars = append(vars, mv)
	}
	return vars
}

// parseMode reads an octal permission string such as "0444".
func parseMode(raw string) (os.FileMode, error) {
	v, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: must be octal, e.g. \"0444\"", raw)
	}
	return os.FileMode(v), nil
}

func parseDuration(raw *string, attr string) (time.Duration, error) {
	if raw == nil || *raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", attr, *raw, err)
	}
	return d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
