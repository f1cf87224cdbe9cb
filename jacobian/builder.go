// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package jacobian

import "github.com/trailmark/recon3d/model"

// BuildOptions configures which providers BuildProviders emits.
type BuildOptions struct {
	ReprojectionWeight   float64
	RegularizationWeight float64
	OptimizePose         bool
}

// BuildProviders constructs one Provider per constraint instance (or
// per extra operand, for collinear/coplanar), one per ImagePoint, one
// per line-level assertion (length, axis direction, coincident point),
// and one quaternion-norm regularizer per optimized camera
// (spec.md §4.4's provider list). Provider ids are assigned from
// layout's monotonic generator, which the caller must have just reset
// by constructing a fresh VariableLayout for this solve.
// BuildProviders returns the provider list alongside a parallel slice
// naming, for each provider, the stored Constraint it was derived from
// (nil for line-level, reprojection, and regularization providers,
// which have no backing Constraint entity) so callers can snapshot
// Constraint.LastResidual the way the autodiff back end does.
func BuildProviders(proj *model.Project, layout *VariableLayout, opts BuildOptions) ([]Provider, []*model.Constraint) {
	if opts.ReprojectionWeight == 0 {
		opts.ReprojectionWeight = 1
	}
	if opts.RegularizationWeight == 0 {
		opts.RegularizationWeight = 1
	}
	var providers []Provider
	var owners []*model.Constraint

	for _, c := range proj.Constraints() {
		if !c.Enabled {
			continue
		}
		for _, pr := range constraintProviders(proj, layout, c) {
			providers = append(providers, pr)
			owners = append(owners, c)
		}
	}

	for _, l := range proj.Lines() {
		if l.TargetLength != nil {
			providers = append(providers, newLineLengthProvider(layout, layout.NextProviderID(), l.PointA, l.PointB, *l.TargetLength))
			owners = append(owners, nil)
		}
		if l.HasAxisTag() {
			providers = append(providers, newLineAxisProvider(layout, layout.NextProviderID(), l.PointA, l.PointB, l.Direction))
			owners = append(owners, nil)
		}
		for _, cp := range l.CoincidentPoints() {
			providers = append(providers, newCoincidentProvider(layout, layout.NextProviderID(), l.PointA, l.PointB, cp))
			owners = append(owners, nil)
		}
	}

	for _, ip := range proj.ImagePoints() {
		providers = append(providers, newReprojectionProvider(layout, layout.NextProviderID(), proj, ip.WorldPoint, ip.Viewpoint, ip.U, ip.V, opts.ReprojectionWeight))
		owners = append(owners, nil)
	}

	if opts.OptimizePose {
		for _, vp := range proj.Viewpoints() {
			if _, _, optimized := layout.CameraPoseIndices(vp.ID()); optimized {
				providers = append(providers, newQuaternionNormProvider(layout, layout.NextProviderID(), vp.ID(), opts.RegularizationWeight))
				owners = append(owners, nil)
			}
		}
	}

	return providers, owners
}

func constraintProviders(proj *model.Project, layout *VariableLayout, c *model.Constraint) []Provider {
	switch c.Kind {
	case model.DistancePointPoint:
		return []Provider{newDistanceProvider(layout, layout.NextProviderID(), c.Points[0], c.Points[1], c.TargetDistance)}
	case model.AnglePointPointPoint:
		return []Provider{newAngleProvider(layout, layout.NextProviderID(), c.Points[0], c.Points[1], c.Points[2], c.TargetAngleDeg)}
	case model.FixedPoint:
		return []Provider{newFixedPointProvider(layout, layout.NextProviderID(), c.Points[0], c.TargetXYZ)}
	case model.CollinearPoints:
		var out []Provider
		for i := 2; i < len(c.Points); i++ {
			out = append(out, newCollinearProvider(layout, layout.NextProviderID(), c.Points[0], c.Points[1], c.Points[i]))
		}
		return out
	case model.CoplanarPoints:
		var out []Provider
		for i := 3; i < len(c.Points); i++ {
			out = append(out, newCoplanarProvider(layout, layout.NextProviderID(), c.Points[0], c.Points[1], c.Points[2], c.Points[i]))
		}
		return out
	case model.ParallelLines:
		return []Provider{newParallelProvider(layout, layout.NextProviderID(), proj, c.Lines[0], c.Lines[1])}
	case model.PerpendicularLines:
		return []Provider{newPerpendicularProvider(layout, layout.NextProviderID(), proj, c.Lines[0], c.Lines[1])}
	case model.EqualDistances:
		return []Provider{newEqualDistancesProvider(layout, layout.NextProviderID(), c.PointPairs)}
	case model.EqualAngles:
		return []Provider{newEqualAnglesProvider(layout, layout.NextProviderID(), c.PointTriplets)}
	default:
		return nil
	}
}
