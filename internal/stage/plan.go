// Package stage selects which stage branches of a pipeline are built in a run
// and turns them into an executable graph.
//
// Every selected stage shares the nodes of its layer: one `layer.<name>` node
// materializes the base layer and one `install.<name>` node installs its
// dependencies. A test stage adds a `gate.<name>` node, a production stage a
// `stage.<name>` node. Both hang off the same install node, so the tested
// layer and the shipped layer are the same directory.
package stage

import (
	"context"
	"fmt"
	"sort"

	"github.com/specialistvlad/stagegate/internal/graph"
	"github.com/specialistvlad/stagegate/internal/inmemorystore"
	"github.com/specialistvlad/stagegate/internal/inmemorytopology"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
)

// TargetAll selects every stage of the pipeline.
const TargetAll = "all"

// Plan is the graph of one run.
type Plan struct {
	Pipeline *model.Pipeline
	Policy   Policy
	// Stages lists the selected stage names, sorted.
	Stages []string
	// Layers lists the layers those stages derive from, sorted.
	Layers []string
	Graph  graph.Graph
}

// NodeFor returns the address of the node that completes a stage.
func NodeFor(s *model.Stage) nodeid.Address {
	if s.Kind() == model.TestStage {
		return nodeid.New(nodeid.KindGate, s.Name)
	}
	return nodeid.New(nodeid.KindStage, s.Name)
}

// New plans the given targets. An empty target list or "all" selects every
// stage. Under the Strict policy the test stage required by a selected
// production stage is planned as well.
func New(ctx context.Context, p *model.Pipeline, targets []string, policy Policy) (*Plan, error) {
	selected, err := selectStages(p, targets)
	if err != nil {
		return nil, err
	}
	if policy == Strict {
		for _, name := range sortedSet(selected) {
			if req := p.Stages[name].Require; req != "" {
				selected[req] = struct{}{}
			}
		}
	}

	g := graph.New(inmemorytopology.New(), inmemorystore.New())
	plan := &Plan{Pipeline: p, Policy: policy, Graph: g}

	layers := map[string]struct{}{}
	for _, name := range sortedSet(selected) {
		s := p.Stages[name]
		l, err := p.Layer(s.Layer)
		if err != nil {
			return nil, err
		}

		layerID := nodeid.New(nodeid.KindLayer, l.Name)
		installID := nodeid.New(nodeid.KindInstall, l.Name)
		if _, seen := layers[l.Name]; !seen {
			layers[l.Name] = struct{}{}
			if err := g.AddNode(ctx, node.New(layerID, l.Name, l)); err != nil {
				return nil, err
			}
			if err := g.AddNode(ctx, node.New(installID, l.Name, l)); err != nil {
				return nil, err
			}
			if err := g.AddDependency(ctx, layerID, installID); err != nil {
				return nil, err
			}
		}

		id := NodeFor(s)
		if err := g.AddNode(ctx, node.New(id, s.Name, s)); err != nil {
			return nil, err
		}
		if err := g.AddDependency(ctx, installID, id); err != nil {
			return nil, err
		}
		plan.Stages = append(plan.Stages, s.Name)
	}

	if policy == Strict {
		for _, name := range plan.Stages {
			s := p.Stages[name]
			if s.Kind() != model.ProdStage || s.Require == "" {
				continue
			}
			if err := g.AddDependency(ctx, NodeFor(p.Stages[s.Require]), NodeFor(s)); err != nil {
				return nil, err
			}
		}
	}

	plan.Layers = sortedSet(layers)
	return plan, nil
}

func selectStages(p *model.Pipeline, targets []string) (map[string]struct{}, error) {
	selected := map[string]struct{}{}
	if len(targets) == 0 {
		targets = []string{TargetAll}
	}
	for _, t := range targets {
		if t == TargetAll {
			for _, name := range p.StageNames() {
				selected[name] = struct{}{}
			}
			continue
		}
		if _, ok := p.Stages[t]; !ok {
			return nil, fmt.Errorf("unknown target %q (have: %v)", t, p.StageNames())
		}
		selected[t] = struct{}{}
	}
	return selected, nil
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
