// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Stage block. A stage is an independently buildable
// branch derived from a layer: a test stage carries a gate, a production stage
// carries a launch configuration. Nothing else distinguishes them.
package model

import (
	"os"
	"sort"
	"time"
)

// StageKind distinguishes test stages from production stages.
type StageKind int

const (
	// TestStage runs the gate and is discarded afterwards.
	TestStage StageKind = iota
	// ProdStage carries only runtime launch configuration.
	ProdStage
)

func (k StageKind) String() string {
	if k == TestStage {
		return "test"
	}
	return "prod"
}

// Stage is one branch of the pipeline.
type Stage struct {
	Name          string
	FSInformation *FSInfo

	// Layer names the layer this stage derives from.
	Layer string
	// Require names the test stage that must verify this stage's layer under
	// the strict gate policy and at promotion time.
	Require string

	Gate   *Gate
	Launch *Launch
}

// Kind reports whether this is a test or a production stage.
func (s *Stage) Kind() StageKind {
	if s.Gate != nil {
		return TestStage
	}
	return ProdStage
}

// Gate configures the test suite run.
type Gate struct {
	Command []string
	Env     map[string]string
	// Marker is printed when the suite fails.
	Marker  string
	Timeout time.Duration
	// Vars are resolved into the suite environment the same way a launch
	// block resolves them, so the suite sees what production will see.
	Vars []*Var
}

// Launch configures the production process.
type Launch struct {
	Command []string
	// EntryPoint is "module.path:attribute".
	EntryPoint  string
	Host        string
	Port        int
	Env         map[string]string
	Vars        []*Var
	GracePeriod time.Duration
}

// Var is a recognized runtime configuration key with its fallback value.
type Var struct {
	Name      string
	Fallback  string
	Sensitive bool
}

// ResolveVars looks every var up and takes its fallback when the value is
// unset or empty. It returns the resolved environment and the sorted names
// that fell back. A nil lookup reads the process environment.
func ResolveVars(vars []*Var, lookup func(string) (string, bool)) (map[string]string, []string) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := make(map[string]string, len(vars))
	var defaulted []string
	for _, v := range vars {
		val, ok := lookup(v.Name)
		if !ok || val == "" {
			val = v.Fallback
			defaulted = append(defaulted, v.Name)
		}
		env[v.Name] = val
	}
	sort.Strings(defaulted)
	return env, defaulted
}
