// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Layer block: the build context capture rules, the
// secrets placement policy and the dependency installation command.
package model

import (
	"os"
	"time"
)

// Layer describes how the base layer is materialized and installed.
type Layer struct {
	Name          string
	FSInformation *FSInfo

	// Context is the build context root, relative to the directory holding
	// the definition file unless absolute. Empty means the invocation's context.
	Context string
	// Manifest is the dependency manifest path relative to Context.
	Manifest string
	// Workdir is the directory name inside the layer that receives the source.
	Workdir string
	// Ignore lists paths (or directory base names) excluded from the capture.
	Ignore []string

	Secrets *Secrets
	Install *Install
}

// Secrets is the secrets placement policy.
type Secrets struct {
	// Source is the secrets file relative to the build context.
	Source string
	// Path is the placement path relative to the layer workdir.
	Path string
	// Mode is applied after placement.
	Mode os.FileMode
}

// Install describes how each manifest requirement is installed.
type Install struct {
	// Command is run once per requirement. Placeholders: {requirement},
	// {deps}, {workdir}, {cache_dir}.
	Command []string
	// CacheArgs are appended when a cache dir is configured.
	CacheArgs []string
	// NoCacheArgs are appended when no cache dir is configured.
	NoCacheArgs []string
	// Inventory, when set, lists the installed set one entry per line.
	Inventory []string
	Env       map[string]string
	Timeout   time.Duration
}
