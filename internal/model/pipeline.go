// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Pipeline structure, the root container for everything
// loaded from the user's .hcl definition files.
//
// A pipeline consists of layers (what gets materialized and installed) and
// stages (what is derived from a layer: a test gate or a production launch).
// Every stage names exactly one layer; several stages deriving from the same
// layer share one materialization per run, which is what guarantees that the
// tested artifact and the shipped artifact are the same bytes.
package model

import (
	"fmt"
	"sort"
)

// Pipeline is the validated, format-agnostic pipeline definition.
type Pipeline struct {
	Layers map[string]*Layer
	Stages map[string]*Stage
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		Layers: map[string]*Layer{},
		Stages: map[string]*Stage{},
	}
}

// Layer returns the layer a stage derives from.
func (p *Pipeline) Layer(name string) (*Layer, error) {
	l, ok := p.Layers[name]
	if !ok {
		return nil, fmt.Errorf("layer %q is not defined", name)
	}
	return l, nil
}

// Stage returns a stage by name.
func (p *Pipeline) Stage(name string) (*Stage, error) {
	s, ok := p.Stages[name]
	if !ok {
		return nil, fmt.Errorf("stage %q is not defined (have: %v)", name, p.StageNames())
	}
	return s, nil
}

// StageNames lists stage names in sorted order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, 0, len(p.Stages))
	for n := range p.Stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StagesOfKind lists stages of one kind in name order.
func (p *Pipeline) StagesOfKind(kind StageKind) []*Stage {
	var out []*Stage
	for _, n := range p.StageNames() {
		if s := p.Stages[n]; s.Kind() == kind {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
