package cli

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/specialistvlad/stagegate/internal/app"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that mirror the flags, e.g.
// STAGEGATE_STATE_DIR for --state-dir.
const EnvPrefix = "STAGEGATE"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// exitError classifies err into the process exit code of its failure kind.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExitError{Code: failure.ExitCode(err), Message: err.Error()}
}

// usageError is an invalid invocation.
func usageError(err error) error {
	return &ExitError{Code: failure.InvalidConfig.ExitCode(), Message: err.Error()}
}

// Run executes the command line. Help and successful commands return nil;
// everything else returns an *ExitError.
func Run(ctx context.Context, args []string, out, errOut io.Writer) error {
	root := newRootCommand(out)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee
	}
	// Cobra's own errors: unknown commands, flags or arguments.
	return usageError(err)
}

// settings binds the persistent flags to viper so every flag can also be
// set through the environment.
type settings struct {
	v *viper.Viper
}

func newSettings(flags *pflag.FlagSet) *settings {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
	return &settings{v: v}
}

// config validates the bound values into an app.Config.
func (s *settings) config() (*app.Config, error) {
	v := s.v
	cfg, err := app.NewConfig(app.Config{
		ContextDir:      v.GetString("context"),
		Files:           v.GetStringSlice("file"),
		StateDir:        v.GetString("state-dir"),
		CacheDir:        v.GetString("cache-dir"),
		LogFormat:       strings.ToLower(v.GetString("log-format")),
		LogLevel:        strings.ToLower(v.GetString("log-level")),
		HealthcheckPort: v.GetInt("healthcheck-port"),
		WorkerCount:     v.GetInt("workers"),
		Policy:          strings.ToLower(v.GetString("policy")),
		NotifyURL:       v.GetString("notify-url"),
		PublishURL:      v.GetString("publish-url"),
	})
	if err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

// newApp builds the App for one command. Log lines and child process output
// go to out.
func (s *settings) newApp(out io.Writer) (*app.App, error) {
	cfg, err := s.config()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(out, cfg)
	if err != nil {
		return nil, exitError(err)
	}
	return a, nil
}

func newRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "stagegate",
		Short: "Build, test-gate and launch a Python web service",
		Long: `stagegate turns a Python service checkout into a runnable artifact in
stages: it materializes a base layer with the build context and secrets,
installs the pinned dependencies, runs the test suite as a gate and
launches the production stage from the very same layer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.String("context", ".", "Build context directory.")
	pf.StringSlice("file", nil, "Pipeline definition file or directory (repeatable). Defaults to the built-in pipeline.")
	pf.String("state-dir", "", "Directory for layers and verdicts (default <context>/.stagegate).")
	pf.String("cache-dir", "", "Package download cache shared between builds. Empty disables caching.")
	pf.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.Int("workers", 2, "Number of concurrent workers for the executor.")
	pf.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	pf.String("policy", "independent", "Gate policy. Options: 'independent' or 'strict'.")
	pf.String("notify-url", "", "socket.io endpoint that receives stage transitions.")
	pf.String("publish-url", "", "Pre-signed URL the promoted layer is uploaded to.")

	s := newSettings(pf)
	root.AddCommand(
		newBuildCommand(s, out),
		newLaunchCommand(s, out),
		newRunCommand(s, out),
		newPromoteCommand(s, out),
		newVerdictsCommand(s, out),
	)
	return root
}
