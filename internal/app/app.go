package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/hcl_adapter"
	"github.com/specialistvlad/stagegate/internal/hclutil"
	"github.com/specialistvlad/stagegate/internal/launcher"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/stage"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	ctx      context.Context
	config   *Config
	pipeline *model.Pipeline
	lookup   launcher.LookupFunc

	mu         sync.Mutex
	tracker    *stage.Tracker
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It configures an
// isolated logger and loads the pipeline definition. Definition problems are
// configuration failures.
func NewApp(outW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	loader := hcl_adapter.NewLoader(hclutil.ProcessEvalContext())
	pipeline, err := loader.Load(ctx, cfg.Files...)
	if err != nil {
		return nil, failure.New(failure.InvalidConfig, "load pipeline", err)
	}
	logger.Debug("Pipeline loaded.", "layers", len(pipeline.Layers), "stages", pipeline.StageNames())

	return &App{
		outW:     outW,
		logger:   logger,
		ctx:      ctx,
		config:   cfg,
		pipeline: pipeline,
		lookup:   os.LookupEnv,
	}, nil
}

// Pipeline returns the loaded pipeline definition.
func (a *App) Pipeline() *model.Pipeline {
	return a.pipeline
}

// Tracker returns the tracker of the current or last operation, or nil.
func (a *App) Tracker() *stage.Tracker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracker
}

func (a *App) setTracker(t *stage.Tracker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracker = t
}

// withLogger attaches the app logger to a caller context.
func (a *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}
