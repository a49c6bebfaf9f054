package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/launcher"
	"github.com/specialistvlad/stagegate/internal/layer"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/notify"
	"github.com/specialistvlad/stagegate/internal/stage"
	"github.com/specialistvlad/stagegate/internal/verdict"
)

// Launch runs a production stage from a stored layer and blocks until the
// process exits or ctx is cancelled. An empty stage name picks the only
// production stage; an empty build id picks the newest ready layer. Under the
// strict policy the layer must pass the promotion check first.
func (a *App) Launch(ctx context.Context, stageName, buildID string) (int, error) {
	ctx = a.withLogger(ctx)

	s, err := a.prodStage(stageName)
	if err != nil {
		return -1, err
	}
	lay, err := a.openLayer(s, buildID)
	if err != nil {
		return -1, err
	}
	ctx = ctxlog.With(ctx, "stage", s.Name, "build_id", lay.BuildID)
	logger := ctxlog.FromContext(ctx)

	if stage.Policy(a.config.Policy) == stage.Strict && s.Require != "" {
		if _, err := a.checkPromotion(ctx, s, lay); err != nil {
			return -1, err
		}
	}

	tracker := stage.NewTracker(lay.BuildID)
	tracker.Resume(s.Name, s.Layer, s.Kind().String(), stage.StagedForProd)
	a.setTracker(tracker)

	emitter := a.openEmitter(ctx)
	defer emitter.Close()
	tracker.OnTransition(notify.Forward[stage.Transition](ctx, emitter, notify.TransitionEvent))

	if err := a.startHealthCheckServer(ctx); err != nil {
		return -1, err
	}
	defer a.closeHealthCheckServer()

	l := launcher.New(launcher.FromStage(s), a.outW)
	l.Lookup = a.lookup
	l.OnStart = func(pid int) {
		logger.Debug("Process started.", "pid", pid)
		if err := tracker.Advance(s.Name, stage.Launched); err != nil {
			logger.Warn("Failed to record launch.", "error", err)
		}
	}

	code, err := l.Launch(ctx, lay)
	if err != nil {
		if terr := tracker.Advance(s.Name, stage.Failed); terr != nil {
			logger.Warn("Failed to record launch failure.", "error", terr)
		}
	}
	return code, err
}

func (a *App) prodStage(name string) (*model.Stage, error) {
	if name == "" {
		prods := a.pipeline.StagesOfKind(model.ProdStage)
		switch len(prods) {
		case 0:
			return nil, failure.Newf(failure.InvalidConfig, "select stage", "pipeline defines no production stage")
		case 1:
			return prods[0], nil
		}
		return nil, failure.Newf(failure.InvalidConfig, "select stage", "pipeline defines %d production stages; name one", len(prods))
	}
	s, err := a.pipeline.Stage(name)
	if err != nil {
		return nil, failure.New(failure.InvalidConfig, "select stage", err)
	}
	if s.Kind() != model.ProdStage {
		return nil, failure.Newf(failure.InvalidConfig, "select stage", "stage %q is a %s stage", name, s.Kind())
	}
	return s, nil
}

func (a *App) openLayer(s *model.Stage, buildID string) (*layer.Layer, error) {
	var (
		lay *layer.Layer
		err error
	)
	if buildID == "" {
		lay, err = layer.Latest(a.config.StateDir, s.Layer)
	} else {
		lay, err = layer.Open(a.config.StateDir, buildID, s.Layer)
	}
	if err != nil {
		return nil, failure.New(failure.MissingInput, "open layer", err)
	}
	return lay, nil
}

func (a *App) checkPromotion(ctx context.Context, s *model.Stage, lay *layer.Layer) (*verdict.Record, error) {
	store, err := verdict.Open(ctx, a.config.verdictsPath())
	if err != nil {
		return nil, err
	}
	defer store.Close()

	rec, err := store.CheckPromotion(ctx, s.Require, lay.Digest())
	if err != nil {
		return rec, err
	}
	ctxlog.FromContext(ctx).Info("✅ Promotion check passed.", "required", s.Require, "verified_in", rec.BuildID)
	return rec, nil
}

// secretsPath is the placed secrets file relative to the layer directory.
func (a *App) secretsPath(s *model.Stage, lay *layer.Layer) (string, error) {
	def, err := a.pipeline.Layer(s.Layer)
	if err != nil {
		return "", err
	}
	if def.Secrets == nil {
		return "", fmt.Errorf("layer %q has no secrets file", def.Name)
	}
	return filepath.ToSlash(filepath.Join(lay.Lock.Workdir, def.Secrets.Path)), nil
}
