// Package gate runs a test suite against a base layer and turns its exit
// status into a verdict.
package gate

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/layer"
	"github.com/specialistvlad/stagegate/internal/model"
	"github.com/specialistvlad/stagegate/internal/runner"
)

// Verdict is the outcome of a gate.
type Verdict string

const (
	Verified Verdict = "verified"
	Rejected Verdict = "rejected"
)

// Result is the stage result of one gate run.
type Result struct {
	Stage       string
	BuildID     string
	LayerDigest string
	Verdict     Verdict
	ExitCode    int
	Output      []byte
	Duration    time.Duration
}

// Gate runs one test stage.
type Gate struct {
	Stage string
	Def   *model.Gate
	// Output receives the suite output and, on failure, the marker line.
	Output io.Writer
	// Lookup resolves the gate's vars. It reads the process environment by
	// default.
	Lookup func(key string) (string, bool)
}

// New creates a gate for a test stage.
func New(stage *model.Stage, output io.Writer) *Gate {
	if output == nil {
		output = io.Discard
	}
	return &Gate{Stage: stage.Name, Def: stage.Gate, Output: output, Lookup: os.LookupEnv}
}

// Run executes the suite in a scratch copy of the layer, so nothing the suite
// writes reaches the layer that production ships. A passing suite yields a
// verified result and a nil error. A failing suite yields a rejected result,
// writes the marker and returns a TestFailure. Only a ready layer is tested.
func (g *Gate) Run(ctx context.Context, l *layer.Layer) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("stage", g.Stage, "build_id", l.BuildID)

	if !l.Ready() {
		return nil, failure.Newf(failure.TestFailure, g.Stage, "layer %s is not ready", l.BuildID)
	}

	scratch, err := l.Scratch(g.Stage)
	if err != nil {
		return nil, fmt.Errorf("gate %s: %w", g.Stage, err)
	}
	defer func() {
		if err := scratch.Remove(); err != nil {
			logger.Warn("Failed to remove gate workspace.", "dir", scratch.Dir, "error", err)
		}
	}()

	vars := runner.Vars{"deps": scratch.DepsDir, "workdir": scratch.Workdir}
	env := vars.ExpandMap(g.Def.Env)
	if env == nil {
		env = map[string]string{}
	}
	resolved, defaulted := model.ResolveVars(g.Def.Vars, g.Lookup)
	for k, v := range resolved {
		env[k] = v
	}
	if len(defaulted) > 0 {
		logger.Warn("Test environment fell back to defaults.", "vars", defaulted)
	}

	logger.Info("🧪 Running test gate.", "argv", g.Def.Command)
	res, err := runner.Run(ctx, runner.Spec{
		Argv:    vars.ExpandAll(g.Def.Command),
		Dir:     scratch.Workdir,
		Env:     env,
		Output:  g.Output,
		Timeout: g.Def.Timeout,
	})

	result := &Result{
		Stage:       g.Stage,
		BuildID:     l.BuildID,
		LayerDigest: l.Digest(),
		Verdict:     Rejected,
		ExitCode:    -1,
	}
	if res != nil {
		result.ExitCode = res.ExitCode
		result.Output = res.Output
		result.Duration = res.Duration
	}

	if err == nil && res.Success() {
		result.Verdict = Verified
		logger.Info("✅ Test gate verified.", "duration", result.Duration)
		return result, nil
	}

	fmt.Fprintln(g.Output, g.Def.Marker)
	if err == nil {
		err = fmt.Errorf("suite exited with status %d", result.ExitCode)
	}
	logger.Error("❌ Test gate rejected.", "exit_code", result.ExitCode, "error", err)
	return result, &RejectedError{Result: result, Err: failure.New(failure.TestFailure, g.Stage, err)}
}

// RejectedError carries the rejected result alongside the TestFailure.
type RejectedError struct {
	Result *Result
	Err    error
}

func (e *RejectedError) Error() string {
	return e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}
