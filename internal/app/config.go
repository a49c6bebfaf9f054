package app

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/specialistvlad/stagegate/internal/stage"
)

// DefaultStateDirName is created inside the build context when no state
// directory is configured.
const DefaultStateDirName = ".stagegate"

// VerdictsFileName is the verdict database inside the state directory.
const VerdictsFileName = "verdicts.db"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ContextDir string   // build context
	Files      []string // pipeline definitions; empty uses the built-in one
	StateDir   string
	CacheDir   string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	WorkerCount     int
	Policy          string

	NotifyURL  string
	PublishURL string
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ContextDir == "" {
		return nil, errors.New("ContextDir is a required configuration field and cannot be empty")
	}
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(cfg.ContextDir, DefaultStateDirName)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	policy, err := stage.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	cfg.Policy = string(policy)
	return &cfg, nil
}

func (c *Config) verdictsPath() string {
	return filepath.Join(c.StateDir, VerdictsFileName)
}
