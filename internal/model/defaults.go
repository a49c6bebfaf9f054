// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import "time"

// Built-in defaults. They reproduce the container build the pipeline replaces:
// requirements.txt installed without cache, .env placed read-only, pytest as
// the gate and uvicorn serving app.main:app on 0.0.0.0:8000.
const (
	DefaultManifest     = "requirements.txt"
	DefaultWorkdir      = "app"
	DefaultSecretsFile  = ".env"
	DefaultSecretsMode  = 0o444
	DefaultMarker       = "Tests failed!"
	DefaultEntryPoint   = "app.main:app"
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8000
	DefaultGracePeriod  = 10 * time.Second
	DefaultCredential   = "OPENAI_API_KEY"
	DefaultCredentialFB = "mock_key"
)

// DefaultIgnore lists paths never captured into the build context.
func DefaultIgnore() []string {
	return []string{".git", ".stagegate", "__pycache__", ".pytest_cache", ".venv"}
}

// DefaultInstallCommand installs one requirement into the layer's deps dir.
func DefaultInstallCommand() []string {
	return []string{"python", "-m", "pip", "install", "--disable-pip-version-check", "--target", "{deps}", "{requirement}"}
}

// DefaultGateCommand runs the suite verbosely with warnings suppressed.
func DefaultGateCommand() []string {
	return []string{"python", "-m", "pytest", "-v", "-p", "no:warnings"}
}

// DefaultLaunchCommand serves the entry point.
func DefaultLaunchCommand() []string {
	return []string{"python", "-m", "uvicorn", "{entrypoint}", "--host", "{host}", "--port", "{port}"}
}

// DefaultVars is the runtime configuration recognized when a launch block
// declares none.
func DefaultVars() []*Var {
	return []*Var{
		{Name: DefaultCredential, Fallback: DefaultCredentialFB, Sensitive: true},
	}
}

// ApplyDefaults fills every unset field of the layer.
func (l *Layer) ApplyDefaults() {
	if l.Manifest == "" {
		l.Manifest = DefaultManifest
	}
	if l.Workdir == "" {
		l.Workdir = DefaultWorkdir
	}
	if l.Ignore == nil {
		l.Ignore = DefaultIgnore()
	}
	if l.Secrets == nil {
		l.Secrets = &Secrets{}
	}
	if l.Secrets.Source == "" {
		l.Secrets.Source = DefaultSecretsFile
	}
	if l.Secrets.Path == "" {
		l.Secrets.Path = l.Secrets.Source
	}
	if l.Secrets.Mode == 0 {
		l.Secrets.Mode = DefaultSecretsMode
	}
	if l.Install == nil {
		l.Install = &Install{}
	}
	if len(l.Install.Command) == 0 {
		l.Install.Command = DefaultInstallCommand()
	}
	if l.Install.NoCacheArgs == nil && l.Install.CacheArgs == nil {
		l.Install.NoCacheArgs = []string{"--no-cache-dir"}
		l.Install.CacheArgs = []string{"--cache-dir", "{cache_dir}"}
	}
}

// ApplyDefaults fills every unset field of the stage's gate or launch block.
func (s *Stage) ApplyDefaults() {
	if g := s.Gate; g != nil {
		if len(g.Command) == 0 {
			g.Command = DefaultGateCommand()
		}
		if g.Marker == "" {
			g.Marker = DefaultMarker
		}
		if g.Vars == nil {
			g.Vars = DefaultVars()
		}
	}
	if l := s.Launch; l != nil {
		if len(l.Command) == 0 {
			l.Command = DefaultLaunchCommand()
		}
		if l.EntryPoint == "" {
			l.EntryPoint = DefaultEntryPoint
		}
		if l.Host == "" {
			l.Host = DefaultHost
		}
		if l.Port == 0 {
			l.Port = DefaultPort
		}
		if l.GracePeriod == 0 {
			l.GracePeriod = DefaultGracePeriod
		}
		if l.Vars == nil {
			l.Vars = DefaultVars()
		}
	}
}
