// Package runner executes the external commands of a pipeline: installers,
// test suites and the launched application. It captures combined output,
// reports exit codes as results rather than errors and turns cancellation
// into SIGTERM followed by SIGKILL after a grace period.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
)

// DefaultGracePeriod is used when a Spec does not set one.
const DefaultGracePeriod = 5 * time.Second

// Spec describes one process invocation.
type Spec struct {
	Argv []string
	Dir  string
	// BaseEnv is the inherited environment; nil means os.Environ().
	BaseEnv []string
	// Env is layered on top of BaseEnv.
	Env map[string]string
	// Output additionally receives the combined stdout and stderr.
	Output io.Writer
	// Timeout bounds the run; zero means no limit.
	Timeout time.Duration
	// GracePeriod is the time between SIGTERM and SIGKILL on cancellation.
	GracePeriod time.Duration
	// Discard disables output capture, for long running processes.
	Discard bool
	// OnStart is called with the pid once the process has started.
	OnStart func(pid int)
}

// Result is the outcome of a process that was started.
type Result struct {
	ExitCode int
	Output   []byte
	Duration time.Duration
}

// Success reports whether the process exited with status 0.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Run starts the process and waits for it. A non-zero exit is reported in the
// Result with a nil error; an error means the process could not be started or
// was cancelled.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("command is required")
	}
	logger := ctxlog.FromContext(ctx)

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(spec.BaseEnv, spec.Env)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = spec.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	var captured lockedBuffer
	var sinks []io.Writer
	if !spec.Discard {
		sinks = append(sinks, &captured)
	}
	if spec.Output != nil {
		sinks = append(sinks, spec.Output)
	}
	if len(sinks) > 0 {
		w := io.MultiWriter(sinks...)
		cmd.Stdout = w
		cmd.Stderr = w
	}

	logger.Debug("Starting process.", "argv", spec.Argv, "dir", spec.Dir)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Argv[0], err)
	}
	if spec.OnStart != nil {
		spec.OnStart(cmd.Process.Pid)
	}
	err := cmd.Wait()
	res := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Output:   captured.Bytes(),
		Duration: time.Since(start),
	}
	logger.Debug("Process exited.", "argv0", spec.Argv[0], "exit_code", res.ExitCode, "duration", res.Duration)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s interrupted: %w", spec.Argv[0], ctxErr)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("%s failed: %w", spec.Argv[0], err)
	}
	return res, nil
}

// MergeEnv layers overrides onto base (os.Environ() when nil). Later keys win;
// overrides are applied in sorted order so the result is deterministic.
func MergeEnv(base []string, overrides map[string]string) []string {
	if base == nil {
		base = os.Environ()
	}
	out := make([]string, 0, len(base)+len(overrides))
	out = append(out, base...)

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
