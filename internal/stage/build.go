package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/executor"
	"github.com/specialistvlad/stagegate/internal/gate"
	"github.com/specialistvlad/stagegate/internal/handlers"
	"github.com/specialistvlad/stagegate/internal/install"
	"github.com/specialistvlad/stagegate/internal/launcher"
	"github.com/specialistvlad/stagegate/internal/layer"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
	"github.com/specialistvlad/stagegate/internal/scheduler"
	"github.com/specialistvlad/stagegate/internal/secrets"
	"github.com/specialistvlad/stagegate/internal/task"
)

// Artifact is a production stage staged for launch.
type Artifact struct {
	Stage  string
	Layer  *layer.Layer
	Launch launcher.Config
	// Gate is the result this artifact waited for under the strict policy.
	Gate *gate.Result
}

// Outcome collects what a run produced.
type Outcome struct {
	BuildID   string
	Report    *executor.Report
	Layers    map[string]*layer.Layer
	Results   map[string]*gate.Result
	Artifacts map[string]*Artifact

	mu sync.Mutex
}

func newOutcome(buildID string) *Outcome {
	return &Outcome{
		BuildID:   buildID,
		Layers:    map[string]*layer.Layer{},
		Results:   map[string]*gate.Result{},
		Artifacts: map[string]*Artifact{},
	}
}

func (o *Outcome) put(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

// Builder executes plans.
type Builder struct {
	// ContextDir is the build context used by layers that do not set one.
	ContextDir   string
	StateDir     string
	CacheDir     string
	Materializer *layer.Materializer
	// Secrets returns the provider for a layer. Nil reads the secrets file
	// from the captured build context.
	Secrets func(bc *layer.BuildContext, def *model.Layer) secrets.Provider
	// Installer returns the installer for a layer. Nil runs the layer's
	// install command.
	Installer func(def *model.Layer) install.Installer
	// Lookup resolves the vars of test stages. Nil reads the process
	// environment.
	Lookup func(key string) (string, bool)
	// Output receives installer and suite output.
	Output  io.Writer
	Workers int
}

// NewBuilder creates a builder with the default collaborators.
func NewBuilder(contextDir, stateDir, cacheDir string, output io.Writer, workers int) *Builder {
	if output == nil {
		output = io.Discard
	}
	return &Builder{
		ContextDir:   contextDir,
		StateDir:     stateDir,
		CacheDir:     cacheDir,
		Materializer: layer.NewMaterializer(stateDir),
		Output:       output,
		Workers:      workers,
	}
}

func (b *Builder) provider(bc *layer.BuildContext, def *model.Layer) secrets.Provider {
	if b.Secrets != nil {
		return b.Secrets(bc, def)
	}
	return secrets.NewFileProvider(bc.SecretsPath())
}

func (b *Builder) installer(def *model.Layer) install.Installer {
	if b.Installer != nil {
		return b.Installer(def)
	}
	return install.NewCommandInstaller(def, b.CacheDir, b.Output)
}

// Execute runs the plan. The tracker must have been created for buildID; nil
// creates a fresh one. The returned error joins the failures of all branches;
// the outcome is returned even when some branches failed.
func (b *Builder) Execute(ctx context.Context, plan *Plan, buildID string, tracker *Tracker) (*Outcome, error) {
	ctx = ctxlog.With(ctx, "build_id", buildID)
	logger := ctxlog.FromContext(ctx)

	if tracker == nil {
		tracker = NewTracker(buildID)
	}
	for _, name := range plan.Stages {
		s := plan.Pipeline.Stages[name]
		tracker.Track(name, s.Layer, s.Kind().String())
	}

	out := newOutcome(buildID)
	h := handlers.New()
	b.register(h, buildID, tracker, out)

	logger.Info("🏗️ Build started.", "stages", plan.Stages, "policy", plan.Policy)
	exec := executor.New(plan.Graph, scheduler.New(plan.Graph), h, b.Workers)
	report, err := exec.Execute(ctx)
	out.Report = report
	if report == nil {
		return out, err
	}

	for _, name := range plan.Stages {
		id := NodeFor(plan.Pipeline.Stages[name])
		if report.Status(id) == node.StatusSkipped {
			_ = tracker.Advance(name, Skipped)
		}
	}
	if err != nil {
		logger.Error("Build finished with failures.", "failed", report.Failed())
	} else {
		logger.Info("🎉 Build finished.")
	}
	return out, err
}

func (b *Builder) register(h *handlers.Handlers, buildID string, tracker *Tracker, out *Outcome) {
	h.Register(nodeid.KindLayer, func(ctx context.Context, t *task.Task) (any, error) {
		def := t.Node.Config.(*model.Layer)
		root := def.Context
		if root == "" {
			root = b.ContextDir
		}

		bc, err := layer.Capture(ctx, root, def, b.StateDir)
		if err != nil {
			_ = tracker.AdvanceLayer(def.Name, Failed)
			return nil, err
		}
		lay, err := b.Materializer.Materialize(ctx, buildID, bc, def, b.provider(bc, def))
		if err != nil {
			_ = tracker.AdvanceLayer(def.Name, Failed)
			return nil, err
		}
		out.put(func() { out.Layers[def.Name] = lay })
		return lay, tracker.AdvanceLayer(def.Name, Materialized)
	})

	h.Register(nodeid.KindInstall, func(ctx context.Context, t *task.Task) (any, error) {
		def := t.Node.Config.(*model.Layer)
		lay, err := inputLayer(t, nodeid.KindLayer)
		if err != nil {
			return nil, err
		}
		if _, err := install.Apply(ctx, b.installer(def), lay); err != nil {
			_ = tracker.AdvanceLayer(def.Name, Failed)
			return nil, err
		}
		return lay, tracker.AdvanceLayer(def.Name, DependenciesInstalled)
	})

	h.Register(nodeid.KindGate, func(ctx context.Context, t *task.Task) (any, error) {
		s := t.Node.Config.(*model.Stage)
		lay, err := inputLayer(t, nodeid.KindInstall)
		if err != nil {
			return nil, err
		}

		g := gate.New(s, b.Output)
		if b.Lookup != nil {
			g.Lookup = b.Lookup
		}
		res, err := g.Run(ctx, lay)
		if res != nil {
			out.put(func() { out.Results[s.Name] = res })
		}
		var rejected *gate.RejectedError
		switch {
		case err == nil:
			_ = tracker.Advance(s.Name, TestedVerified)
		case errors.As(err, &rejected):
			_ = tracker.Advance(s.Name, TestedRejected)
		default:
			_ = tracker.Advance(s.Name, Failed)
		}
		return res, err
	})

	h.Register(nodeid.KindStage, func(ctx context.Context, t *task.Task) (any, error) {
		s := t.Node.Config.(*model.Stage)
		lay, err := inputLayer(t, nodeid.KindInstall)
		if err != nil {
			return nil, err
		}

		art := &Artifact{Stage: s.Name, Layer: lay, Launch: launcher.FromStage(s)}
		if in, ok := t.InputOfKind(nodeid.KindGate); ok {
			art.Gate, _ = in.(*gate.Result)
		}
		out.put(func() { out.Artifacts[s.Name] = art })

		ctxlog.FromContext(ctx).Info("📌 Production stage staged.", "stage", s.Name, "digest", lay.Digest(), "gated", art.Gate != nil)
		return art, tracker.Advance(s.Name, StagedForProd)
	})
}

func inputLayer(t *task.Task, kind nodeid.Kind) (*layer.Layer, error) {
	in, ok := t.InputOfKind(kind)
	if !ok {
		return nil, fmt.Errorf("node %s has no %s input", t.Node.ID, kind)
	}
	lay, ok := in.(*layer.Layer)
	if !ok || lay == nil {
		return nil, fmt.Errorf("node %s: %s input is %T, not a layer", t.Node.ID, kind, in)
	}
	return lay, nil
}
