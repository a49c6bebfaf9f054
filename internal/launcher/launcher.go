// Package launcher starts the production process from a sealed base layer
// with an explicit runtime configuration.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/layer"
	"github.com/specialistvlad/stagegate/internal/runner"
)

// Launcher runs a production stage.
type Launcher struct {
	Config Config
	Lookup LookupFunc
	Output io.Writer
	// OnStart is called once the process is running.
	OnStart func(pid int)
}

// New creates a launcher reading vars from the process environment.
func New(cfg Config, output io.Writer) *Launcher {
	if output == nil {
		output = os.Stdout
	}
	return &Launcher{Config: cfg, Lookup: os.LookupEnv, Output: output}
}

// Prepare runs the pre-launch checks and returns the process spec.
func (l *Launcher) Prepare(ctx context.Context, lay *layer.Layer) (runner.Spec, Resolved, error) {
	if !lay.Ready() {
		return runner.Spec{}, Resolved{}, failure.New(failure.LaunchFailure, l.Config.Stage, layer.ErrNotReady)
	}
	if err := CheckEntryPoint(lay.Workdir, l.Config.EntryPoint); err != nil {
		return runner.Spec{}, Resolved{}, err
	}
	if err := CheckPort(l.Config.Host, l.Config.Port); err != nil {
		return runner.Spec{}, Resolved{}, err
	}

	resolved := l.Config.Resolve(l.Lookup)
	vars := runner.Vars(l.Config.placeholders())
	vars["deps"] = lay.DepsDir
	vars["workdir"] = lay.Workdir

	env := vars.ExpandMap(l.Config.Env)
	if env == nil {
		env = map[string]string{}
	}
	for k, v := range resolved.Env {
		env[k] = v
	}

	if len(resolved.Defaulted) > 0 {
		ctxlog.FromContext(ctx).Warn("Runtime configuration fell back to defaults.", "vars", resolved.Defaulted)
	}

	return runner.Spec{
		Argv:        vars.ExpandAll(l.Config.Command),
		Dir:         lay.Workdir,
		Env:         env,
		Output:      l.Output,
		Discard:     true,
		GracePeriod: l.Config.GracePeriod,
		OnStart:     l.OnStart,
	}, resolved, nil
}

// Launch starts the process and blocks until it exits. Cancelling ctx sends
// SIGTERM and, after the grace period, SIGKILL; a process stopped that way is
// not a failure.
func (l *Launcher) Launch(ctx context.Context, lay *layer.Layer) (int, error) {
	logger := ctxlog.FromContext(ctx).With("stage", l.Config.Stage, "build_id", lay.BuildID)

	spec, resolved, err := l.Prepare(ctx, lay)
	if err != nil {
		return -1, err
	}

	logger.Info("🚀 Launching.", "address", l.Config.Address(), "entrypoint", l.Config.EntryPoint, "env", l.Config.Redacted(resolved.Env))
	res, err := runner.Run(ctx, spec)
	switch {
	case res == nil:
		return -1, failure.New(failure.LaunchFailure, l.Config.Stage, err)
	case errors.Is(err, context.Canceled):
		logger.Info("🛑 Process stopped.", "exit_code", res.ExitCode)
		return res.ExitCode, nil
	case err != nil:
		return res.ExitCode, failure.New(failure.LaunchFailure, l.Config.Stage, err)
	case !res.Success():
		return res.ExitCode, failure.New(failure.LaunchFailure, l.Config.Stage, fmt.Errorf("process exited with status %d", res.ExitCode))
	}
	logger.Info("Process exited.", "exit_code", res.ExitCode)
	return 0, nil
}
