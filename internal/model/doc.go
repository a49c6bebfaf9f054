// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model provides the Go struct representation of a stagegate pipeline
// definition. Its core purpose is to create a strongly-typed, in-memory model
// of the user's definitions, independent of the HCL files they came from.
//
// # Core Concepts
//
//   - Pipeline: The root container. It aggregates all layers and stages parsed
//     from one or more .hcl files (or the built-in default definition).
//
//   - Layer: The shared base. It declares how the build context is captured,
//     where the secrets file is placed and with which permission bits, and how
//     each requirement in the dependency manifest is installed.
//
//   - Stage: A branch derived from a layer. A stage with a `gate` block runs
//     the test suite; a stage with a `launch` block carries only the runtime
//     launch configuration of the production artifact.
//
//   - FSInfo: Metadata that links every block back to its source file, used
//     for clear validation errors.
//
// Validation happens on the model rather than on raw HCL so the planner and
// the handlers downstream can assume a well-formed pipeline: every stage
// references a defined layer, carries exactly one of gate or launch, and
// every launch has a valid entry point and port.
package model
