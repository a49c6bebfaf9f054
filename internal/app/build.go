package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/notify"
	"github.com/specialistvlad/stagegate/internal/stage"
	"github.com/specialistvlad/stagegate/internal/verdict"
	"golang.org/x/sync/errgroup"
)

// ResultEvent is emitted once per recorded stage result.
const ResultEvent = "stage_result"

// BuildResult is what a build produced.
type BuildResult struct {
	BuildID  string
	Outcome  *stage.Outcome
	Verdicts []verdict.Record
}

// Build plans and executes the given targets. Every gate result is recorded
// in the verdict store, including rejections. The returned error joins the
// failures of all branches; the result is returned even when some failed.
func (a *App) Build(ctx context.Context, targets []string) (*BuildResult, error) {
	ctx = a.withLogger(ctx)
	logger := ctxlog.FromContext(ctx)

	plan, err := stage.New(ctx, a.pipeline, targets, stage.Policy(a.config.Policy))
	if err != nil {
		return nil, failure.New(failure.InvalidConfig, "plan", err)
	}

	buildID := uuid.NewString()
	tracker := stage.NewTracker(buildID)
	a.setTracker(tracker)

	emitter := a.openEmitter(ctx)
	defer emitter.Close()
	tracker.OnTransition(notify.Forward[stage.Transition](ctx, emitter, notify.TransitionEvent))

	if err := a.startHealthCheckServer(ctx); err != nil {
		return nil, err
	}
	defer a.closeHealthCheckServer()

	store, err := verdict.Open(ctx, a.config.verdictsPath())
	if err != nil {
		return nil, err
	}
	defer store.Close()

	logger.Debug("Build planned.", "build_id", buildID, "stages", plan.Stages, "layers", plan.Layers)
	b := stage.NewBuilder(a.config.ContextDir, a.config.StateDir, a.config.CacheDir, a.outW, a.config.WorkerCount)
	b.Lookup = a.lookup
	out, buildErr := b.Execute(ctx, plan, buildID, tracker)

	res := &BuildResult{BuildID: buildID, Outcome: out}
	if out != nil {
		recs, err := settle(ctx, store, emitter, out)
		res.Verdicts = recs
		if err != nil {
			buildErr = errors.Join(buildErr, err)
		}
	}
	return res, buildErr
}

// settle persists and announces every gate result concurrently.
func settle(ctx context.Context, store *verdict.Store, emitter notify.Emitter, out *stage.Outcome) ([]verdict.Record, error) {
	logger := ctxlog.FromContext(ctx)

	names := make([]string, 0, len(out.Results))
	for name := range out.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	records := make([]verdict.Record, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		res := out.Results[name]
		g.Go(func() error {
			rec, err := store.Record(gctx, verdict.FromResult(res))
			if err != nil {
				return fmt.Errorf("failed to record verdict of %s: %w", name, err)
			}
			records[i] = rec
			if err := emitter.Emit(gctx, ResultEvent, rec); err != nil {
				logger.Warn("Failed to emit notification.", "event", ResultEvent, "error", err)
			}
			logger.Info("🗳️ Verdict recorded.", "stage", name, "verdict", rec.Verdict)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// openEmitter connects to the notify listener. An unreachable listener only
// costs the notifications.
func (a *App) openEmitter(ctx context.Context) notify.Emitter {
	e, err := notify.Open(ctx, notify.Options{URL: a.config.NotifyURL})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Notifications disabled.", "error", err)
		return notify.Nop{}
	}
	return e
}

// Verdicts lists recorded stage results, newest first.
func (a *App) Verdicts(ctx context.Context, limit int) ([]verdict.Record, error) {
	ctx = a.withLogger(ctx)
	store, err := verdict.Open(ctx, a.config.verdictsPath())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(ctx, limit)
}
