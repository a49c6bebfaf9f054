// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/stagegate/internal/hclutil"
)

var (
	entryModuleRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	identRe       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	envKeyRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// SplitEntryPoint splits "module.path:attribute" into its two halves.
func SplitEntryPoint(ep string) (module, attr string, err error) {
	module, attr, ok := strings.Cut(ep, ":")
	if !ok || !entryModuleRe.MatchString(module) || !identRe.MatchString(attr) {
		return "", "", fmt.Errorf("entry point %q must have the form module.path:attribute", ep)
	}
	return module, attr, nil
}

// Validate performs the static checks on the whole pipeline. All problems are
// reported at once. Defaults must have been applied first.
func (p *Pipeline) Validate() hcl.Diagnostics {
	var diags hcl.Diagnostics

	if len(p.Stages) == 0 {
		diags = append(diags, hclutil.Errorf("", "No stages defined", "A pipeline needs at least one stage block."))
	}

	for _, name := range sortedKeys(p.Layers) {
		diags = append(diags, p.Layers[name].validate()...)
	}

	for _, name := range p.StageNames() {
		s := p.Stages[name]
		file := s.FSInformation.String()
		where := fmt.Sprintf("stage %q", name)

		if _, ok := p.Layers[s.Layer]; !ok {
			diags = append(diags, hclutil.Errorf(file, "Unknown layer", fmt.Sprintf("%s derives from layer %q, which is not defined.", where, s.Layer)))
		}

		switch {
		case s.Gate != nil && s.Launch != nil:
			diags = append(diags, hclutil.Errorf(file, "Ambiguous stage", where+" declares both a gate and a launch block; a stage is either a test stage or a production stage."))
		case s.Gate == nil && s.Launch == nil:
			diags = append(diags, hclutil.Errorf(file, "Empty stage", where+" declares neither a gate nor a launch block."))
		}

		if s.Require != "" {
			req, ok := p.Stages[s.Require]
			switch {
			case !ok:
				diags = append(diags, hclutil.Errorf(file, "Unknown required stage", fmt.Sprintf("%s requires stage %q, which is not defined.", where, s.Require)))
			case req.Gate == nil:
				diags = append(diags, hclutil.Errorf(file, "Invalid required stage", fmt.Sprintf("%s requires stage %q, which is not a test stage.", where, s.Require)))
			case req.Layer != s.Layer:
				diags = append(diags, hclutil.Errorf(file, "Lineage mismatch", fmt.Sprintf("%s requires stage %q, which derives from a different layer.", where, s.Require)))
			}
		}

		if g := s.Gate; g != nil {
			if len(g.Command) == 0 {
				diags = append(diags, hclutil.Errorf(file, "Missing gate command", where+" has an empty gate command."))
			}
			diags = append(diags, validateEnv(file, where, g.Env)...)
			diags = append(diags, validateVars(file, where, g.Vars)...)
		}

		if l := s.Launch; l != nil {
			if len(l.Command) == 0 {
				diags = append(diags, hclutil.Errorf(file, "Missing launch command", where+" has an empty launch command."))
			}
			if _, _, err := SplitEntryPoint(l.EntryPoint); err != nil {
				diags = append(diags, hclutil.Errorf(file, "Invalid entry point", err.Error()))
			}
			if l.Port < 1 || l.Port > 65535 {
				diags = append(diags, hclutil.Errorf(file, "Invalid port", fmt.Sprintf("%s: port %d is out of range.", where, l.Port)))
			}
			if l.GracePeriod < 0 {
				diags = append(diags, hclutil.Errorf(file, "Invalid grace period", where+": grace_period must not be negative."))
			}
			diags = append(diags, validateVars(file, where, l.Vars)...)
			diags = append(diags, validateEnv(file, where, l.Env)...)
		}
	}

	return diags
}

func (l *Layer) validate() hcl.Diagnostics {
	var diags hcl.Diagnostics
	file := l.FSInformation.String()
	where := fmt.Sprintf("layer %q", l.Name)

	for _, rel := range []string{l.Manifest, l.Workdir, l.Secrets.Source, l.Secrets.Path} {
		if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(filepath.Clean(rel), "..") {
			diags = append(diags, hclutil.Errorf(file, "Invalid path", fmt.Sprintf("%s: path %q must be relative and stay inside the layer.", where, rel)))
		}
	}
	if strings.ContainsRune(filepath.Clean(l.Workdir), filepath.Separator) {
		diags = append(diags, hclutil.Errorf(file, "Invalid workdir", fmt.Sprintf("%s: workdir %q must be a single directory name.", where, l.Workdir)))
	}
	if l.Workdir == "deps" {
		diags = append(diags, hclutil.Errorf(file, "Invalid workdir", where+": workdir \"deps\" is reserved for installed dependencies."))
	}
	if l.Secrets.Mode&^0o777 != 0 {
		diags = append(diags, hclutil.Errorf(file, "Invalid secrets mode", fmt.Sprintf("%s: mode %o has bits outside 0777.", where, l.Secrets.Mode)))
	}
	if len(l.Install.Command) == 0 {
		diags = append(diags, hclutil.Errorf(file, "Missing install command", where+" has an empty install command."))
	} else if !containsPlaceholder(l.Install.Command, "{requirement}") {
		diags = append(diags, hclutil.Errorf(file, "Invalid install command", where+": the install command must reference {requirement}."))
	}
	if l.Install.Timeout < 0 {
		diags = append(diags, hclutil.Errorf(file, "Invalid timeout", where+": install timeout must not be negative."))
	}
	diags = append(diags, validateEnv(file, where, l.Install.Env)...)
	return diags
}

func validateEnv(file, where string, env map[string]string) hcl.Diagnostics {
	var diags hcl.Diagnostics
	for _, k := range sortedKeys(env) {
		if !envKeyRe.MatchString(k) {
			diags = append(diags, hclutil.Errorf(file, "Invalid environment key", fmt.Sprintf("%s: %q is not a valid environment variable name.", where, k)))
		}
	}
	return diags
}

func containsPlaceholder(argv []string, ph string) bool {
	for _, a := range argv {
		if strings.Contains(a, ph) {
			return true
		}
	}
	return false
}

func validateVars(file, where string, vars []*Var) hcl.Diagnostics {
	var diags hcl.Diagnostics
	seen := map[string]bool{}
	for _, v := range vars {
		if !envKeyRe.MatchString(v.Name) {
			diags = append(diags, hclutil.Errorf(file, "Invalid variable name", fmt.Sprintf("%s: %q is not a valid environment variable name.", where, v.Name)))
		}
		if seen[v.Name] {
			diags = append(diags, hclutil.Errorf(file, "Duplicate variable", fmt.Sprintf("%s declares var %q more than once.", where, v.Name)))
		}
		seen[v.Name] = true
	}
	return diags
}
