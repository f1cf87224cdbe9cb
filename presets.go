// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package recon3d

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Solver presets are operator-tunable starting points shipped as data:
// a YAML document maps preset names to partial Options, and hosts look
// them up by name instead of hard-coding iteration budgets. The three
// built-in presets cover the common cases; LoadPresets merges a
// deployment's own file over them.

// presetDoc is the YAML shape of one preset; zero fields fall back to
// DefaultOptions at resolve time.
type presetDoc struct {
	MaxIterations        int     `yaml:"maxIterations"`
	Tolerance            float64 `yaml:"tolerance"`
	Damping              float64 `yaml:"damping"`
	Backend              string  `yaml:"backend"`
	OptimizePose         *bool   `yaml:"optimizePose"`
	OptimizeIntrinsics   *bool   `yaml:"optimizeIntrinsics"`
	ReprojectionWeight   float64 `yaml:"reprojectionWeight"`
	RegularizationWeight float64 `yaml:"regularizationWeight"`
	TrialSolveIterations int     `yaml:"trialSolveIterations"`
}

var builtinPresets = map[string]presetDoc{
	// fast trades convergence tightness for latency; interactive drags.
	"fast": {MaxIterations: 40, Tolerance: 1e-6},
	// accurate is the final-pass preset.
	"accurate": {MaxIterations: 500, Tolerance: 1e-12, TrialSolveIterations: 500},
	// vp-only refines focal length alongside pose, for scenes
	// initialized purely from vanishing points.
	"vp-only": {MaxIterations: 300, Tolerance: 1e-10, OptimizeIntrinsics: boolPtr(true)},
}

func boolPtr(b bool) *bool { return &b }

// Preset resolves a built-in preset name over DefaultOptions. ok is
// false for an unknown name.
func Preset(name string) (Options, bool) {
	doc, ok := builtinPresets[name]
	if !ok {
		return Options{}, false
	}
	return doc.apply(DefaultOptions()), true
}

// LoadPresets parses a YAML preset file ("name: {maxIterations: ...}")
// and returns every preset resolved over DefaultOptions. File entries
// shadow built-in presets of the same name.
func LoadPresets(data []byte) (map[string]Options, error) {
	var docs map[string]presetDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse solver presets: %w", err)
	}
	out := make(map[string]Options, len(builtinPresets)+len(docs))
	for name, doc := range builtinPresets {
		out[name] = doc.apply(DefaultOptions())
	}
	for name, doc := range docs {
		out[name] = doc.apply(DefaultOptions())
	}
	return out, nil
}

func (d presetDoc) apply(base Options) Options {
	if d.MaxIterations > 0 {
		base.MaxIterations = d.MaxIterations
	}
	if d.Tolerance > 0 {
		base.Tolerance = d.Tolerance
	}
	if d.Damping > 0 {
		base.Damping = d.Damping
	}
	if d.Backend != "" {
		base.Backend = Backend(d.Backend)
	}
	if d.OptimizePose != nil {
		base.OptimizePose = *d.OptimizePose
	}
	if d.OptimizeIntrinsics != nil {
		base.OptimizeIntrinsics = *d.OptimizeIntrinsics
	}
	if d.ReprojectionWeight > 0 {
		base.ReprojectionWeight = d.ReprojectionWeight
	}
	if d.RegularizationWeight > 0 {
		base.RegularizationWeight = d.RegularizationWeight
	}
	if d.TrialSolveIterations > 0 {
		base.TrialSolveIterations = d.TrialSolveIterations
	}
	return base
}
