// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package model

import (
	"fmt"

	"github.com/trailmark/recon3d/internal/geom"
)

// Project owns every entity in a reconstruction: world points, lines,
// viewpoints, image observations, and constraints, each in its own
// arena indexed by the entity kind's id pool. Deleting an entity
// cascades per spec.md's lifecycle rules: an image observation dies
// with whichever of its viewpoint or world point is removed first; a
// line dies when either endpoint is removed; a constraint whose
// operand count would drop below its kind's minimum is removed rather
// than left dangling.
type Project struct {
	wpPool  idPool
	wpStore []*WorldPoint

	linePool  idPool
	lineStore []*Line

	vpPool  idPool
	vpStore []*Viewpoint

	ipPool  idPool
	ipStore []*ImagePoint

	cPool  idPool
	cStore []*Constraint

	warnings []*ValidationError
}

// NewProject returns an empty project.
func NewProject() *Project { return &Project{} }

// Warnings returns the advisory ValidationErrors accumulated by prior
// mutating calls (e.g. a constraint silently orphaned by a point
// deletion). It does not include errors raised directly as return
// values.
func (p *Project) Warnings() []*ValidationError { return p.warnings }

func (p *Project) warn(code, msg string) {
	p.warnings = append(p.warnings, &ValidationError{Code: code, Severity: SeverityWarning, Message: msg})
}

// --- WorldPoint ---

// AddWorldPoint creates a new world point with every axis free.
func (p *Project) AddWorldPoint(name string) *WorldPoint {
	id := WorldPointID(p.wpPool.create())
	wp := newWorldPoint(id, name)
	idx := rawID(id).index()
	if idx >= uint32(len(p.wpStore)) {
		grown := make([]*WorldPoint, idx+1)
		copy(grown, p.wpStore)
		p.wpStore = grown
	}
	p.wpStore[idx] = wp
	return wp
}

// WorldPoint returns the point with id, or nil if it does not exist.
func (p *Project) WorldPoint(id WorldPointID) *WorldPoint {
	if !p.wpPool.valid(rawID(id)) {
		return nil
	}
	return p.wpStore[rawID(id).index()]
}

// WorldPoints returns every live world point, in creation order.
func (p *Project) WorldPoints() []*WorldPoint {
	out := make([]*WorldPoint, 0, len(p.wpStore))
	for _, wp := range p.wpStore {
		if wp != nil {
			out = append(out, wp)
		}
	}
	return out
}

// RemoveWorldPoint deletes the point and cascades: every image point
// observing it is removed, every line naming it as an endpoint is
// removed, and every constraint naming it has the operand stripped --
// shrinking if the remainder still meets the kind's minimum operand
// count, or being removed entirely (and warned about) otherwise.
func (p *Project) RemoveWorldPoint(id WorldPointID) {
	wp := p.WorldPoint(id)
	if wp == nil {
		return
	}
	for _, ipID := range wp.ImagePoints() {
		p.RemoveImagePoint(ipID)
	}
	for _, l := range p.Lines() {
		if l.PointA == id || l.PointB == id {
			p.RemoveLine(l.ID())
		}
	}
	p.shrinkOrOrphanConstraints(id)

	p.wpPool.dispose(rawID(id))
	p.wpStore[rawID(id).index()] = nil
}

// shrinkOrOrphanConstraints removes wp from every constraint that
// names it, deleting the constraint entirely if doing so would leave
// it below its kind's minimum operand count.
func (p *Project) shrinkOrOrphanConstraints(wp WorldPointID) {
	for _, c := range p.Constraints() {
		if !containsWorldPoint(c.Operands(), wp) {
			continue
		}
		switch c.Kind {
		case EqualDistances:
			c.PointPairs = filterPairs(c.PointPairs, wp)
		case EqualAngles:
			c.PointTriplets = filterTriplets(c.PointTriplets, wp)
		default:
			c.Points = filterPoints(c.Points, wp)
		}
		n := len(c.Operands())
		switch c.Kind {
		case EqualDistances:
			n = len(c.PointPairs)
		case EqualAngles:
			n = len(c.PointTriplets)
		}
		if n < c.Kind.MinOperands() {
			p.warn(OrphanedConstraint, fmt.Sprintf("constraint %q orphaned by removal of a world point", c.Name))
			p.RemoveConstraint(c.ID())
		}
	}
}

func containsWorldPoint(ids []WorldPointID, target WorldPointID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func filterPoints(points []WorldPointID, drop WorldPointID) []WorldPointID {
	out := points[:0]
	for _, id := range points {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func filterPairs(pairs [][2]WorldPointID, drop WorldPointID) [][2]WorldPointID {
	out := pairs[:0]
	for _, pr := range pairs {
		if pr[0] != drop && pr[1] != drop {
			out = append(out, pr)
		}
	}
	return out
}

func filterTriplets(triplets [][3]WorldPointID, drop WorldPointID) [][3]WorldPointID {
	out := triplets[:0]
	for _, tr := range triplets {
		if tr[0] != drop && tr[1] != drop && tr[2] != drop {
			out = append(out, tr)
		}
	}
	return out
}

// --- Line ---

// AddLine creates a line between two existing world points.
func (p *Project) AddLine(name string, a, b WorldPointID) (*Line, error) {
	if p.WorldPoint(a) == nil || p.WorldPoint(b) == nil {
		return nil, &ValidationError{Code: DanglingReference, Severity: SeverityError, Message: "line endpoint does not exist"}
	}
	id := LineID(p.linePool.create())
	l := newLine(id, name, a, b)
	idx := rawID(id).index()
	if idx >= uint32(len(p.lineStore)) {
		grown := make([]*Line, idx+1)
		copy(grown, p.lineStore)
		p.lineStore = grown
	}
	p.lineStore[idx] = l
	return l, nil
}

// Line returns the line with id, or nil if it does not exist.
func (p *Project) Line(id LineID) *Line {
	if !p.linePool.valid(rawID(id)) {
		return nil
	}
	return p.lineStore[rawID(id).index()]
}

// Lines returns every live line, in creation order.
func (p *Project) Lines() []*Line {
	out := make([]*Line, 0, len(p.lineStore))
	for _, l := range p.lineStore {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// RemoveLine deletes the line and any parallel/perpendicular
// constraint naming it, since those constraints always operate on
// exactly two lines and cannot be shrunk.
func (p *Project) RemoveLine(id LineID) {
	l := p.Line(id)
	if l == nil {
		return
	}
	for _, c := range p.Constraints() {
		if (c.Kind == ParallelLines || c.Kind == PerpendicularLines) && (c.Lines[0] == id || c.Lines[1] == id) {
			p.warn(OrphanedConstraint, fmt.Sprintf("constraint %q orphaned by removal of a line", c.Name))
			p.RemoveConstraint(c.ID())
		}
	}
	p.linePool.dispose(rawID(id))
	p.lineStore[rawID(id).index()] = nil
}

// --- Viewpoint ---

// AddViewpoint creates a new camera viewpoint with identity pose and
// default intrinsics.
func (p *Project) AddViewpoint(name string, width, height int) *Viewpoint {
	id := ViewpointID(p.vpPool.create())
	v := newViewpoint(id, name, width, height)
	idx := rawID(id).index()
	if idx >= uint32(len(p.vpStore)) {
		grown := make([]*Viewpoint, idx+1)
		copy(grown, p.vpStore)
		p.vpStore = grown
	}
	p.vpStore[idx] = v
	return v
}

// Viewpoint returns the viewpoint with id, or nil if it does not exist.
func (p *Project) Viewpoint(id ViewpointID) *Viewpoint {
	if !p.vpPool.valid(rawID(id)) {
		return nil
	}
	return p.vpStore[rawID(id).index()]
}

// Viewpoints returns every live viewpoint, in creation order.
func (p *Project) Viewpoints() []*Viewpoint {
	out := make([]*Viewpoint, 0, len(p.vpStore))
	for _, v := range p.vpStore {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// RemoveViewpoint deletes the viewpoint and every image point it
// observes.
func (p *Project) RemoveViewpoint(id ViewpointID) {
	v := p.Viewpoint(id)
	if v == nil {
		return
	}
	for _, ipID := range v.ImagePoints() {
		p.RemoveImagePoint(ipID)
	}
	p.vpPool.dispose(rawID(id))
	p.vpStore[rawID(id).index()] = nil
}

// --- ImagePoint ---

// AddImagePoint creates an observation of wp in vp at pixel (u, v).
func (p *Project) AddImagePoint(wp WorldPointID, vp ViewpointID, u, v float64) (*ImagePoint, error) {
	w := p.WorldPoint(wp)
	vpt := p.Viewpoint(vp)
	if w == nil || vpt == nil {
		return nil, &ValidationError{Code: DanglingReference, Severity: SeverityError, Message: "image point names a nonexistent world point or viewpoint"}
	}
	id := ImagePointID(p.ipPool.create())
	ip := newImagePoint(id, wp, vp, u, v)
	idx := rawID(id).index()
	if idx >= uint32(len(p.ipStore)) {
		grown := make([]*ImagePoint, idx+1)
		copy(grown, p.ipStore)
		p.ipStore = grown
	}
	p.ipStore[idx] = ip
	w.attachImagePoint(id)
	vpt.attachImagePoint(id)
	return ip, nil
}

// ImagePoint returns the image point with id, or nil if it does not exist.
func (p *Project) ImagePoint(id ImagePointID) *ImagePoint {
	if !p.ipPool.valid(rawID(id)) {
		return nil
	}
	return p.ipStore[rawID(id).index()]
}

// ImagePoints returns every live image point, in creation order.
func (p *Project) ImagePoints() []*ImagePoint {
	out := make([]*ImagePoint, 0, len(p.ipStore))
	for _, ip := range p.ipStore {
		if ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

// RemoveImagePoint deletes the observation and detaches it from its
// world point and viewpoint.
func (p *Project) RemoveImagePoint(id ImagePointID) {
	ip := p.ImagePoint(id)
	if ip == nil {
		return
	}
	if w := p.WorldPoint(ip.WorldPoint); w != nil {
		w.detachImagePoint(id)
	}
	if v := p.Viewpoint(ip.Viewpoint); v != nil {
		v.detachImagePoint(id)
	}
	p.ipPool.dispose(rawID(id))
	p.ipStore[rawID(id).index()] = nil
}

// --- Constraint ---

// Constraint returns the constraint with id, or nil if it does not exist.
func (p *Project) Constraint(id ConstraintID) *Constraint {
	if !p.cPool.valid(rawID(id)) {
		return nil
	}
	return p.cStore[rawID(id).index()]
}

// Constraints returns every live constraint, in creation order.
func (p *Project) Constraints() []*Constraint {
	out := make([]*Constraint, 0, len(p.cStore))
	for _, c := range p.cStore {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// RemoveConstraint deletes the constraint and detaches it from every
// world point it named.
func (p *Project) RemoveConstraint(id ConstraintID) {
	c := p.Constraint(id)
	if c == nil {
		return
	}
	for _, wp := range c.Operands() {
		if w := p.WorldPoint(wp); w != nil {
			w.detachConstraint(id)
		}
	}
	p.cPool.dispose(rawID(id))
	p.cStore[rawID(id).index()] = nil
}

func (p *Project) newConstraint(name string, kind Kind, tolerance float64) *Constraint {
	id := ConstraintID(p.cPool.create())
	c := &Constraint{id: id, Name: name, Kind: kind, Tolerance: tolerance, Enabled: true}
	idx := rawID(id).index()
	if idx >= uint32(len(p.cStore)) {
		grown := make([]*Constraint, idx+1)
		copy(grown, p.cStore)
		p.cStore = grown
	}
	p.cStore[idx] = c
	return c
}

func (p *Project) attachOperands(c *Constraint) {
	for _, wp := range c.Operands() {
		p.WorldPoint(wp).attachConstraint(c.ID())
	}
}

func (p *Project) requireWorldPoints(ids ...WorldPointID) error {
	for _, id := range ids {
		if p.WorldPoint(id) == nil {
			return &ValidationError{Code: DanglingReference, Severity: SeverityError, Message: "constraint names a nonexistent world point"}
		}
	}
	return nil
}

// AddDistancePointPoint constrains the distance between a and b.
func (p *Project) AddDistancePointPoint(name string, a, b WorldPointID, target, tolerance float64) (*Constraint, error) {
	if a == b {
		return nil, &ValidationError{Code: DuplicatePoints, Severity: SeverityError, Message: "distance constraint needs two distinct points"}
	}
	if err := p.requireWorldPoints(a, b); err != nil {
		return nil, err
	}
	if target < 0 {
		return nil, &ValidationError{Code: InvalidTargetDistance, Severity: SeverityError, Message: "target distance must be non-negative"}
	}
	c := p.newConstraint(name, DistancePointPoint, tolerance)
	c.Points = []WorldPointID{a, b}
	c.TargetDistance = target
	p.attachOperands(c)
	return c, nil
}

// AddAnglePointPointPoint constrains the angle at vertex formed by a-vertex-c.
func (p *Project) AddAnglePointPointPoint(name string, a, vertex, c WorldPointID, targetDeg, tolerance float64) (*Constraint, error) {
	if a == vertex || c == vertex || a == c {
		return nil, &ValidationError{Code: DuplicatePoints, Severity: SeverityError, Message: "angle constraint needs three distinct points"}
	}
	if err := p.requireWorldPoints(a, vertex, c); err != nil {
		return nil, err
	}
	if targetDeg < 0 || targetDeg > 360 {
		p.warn(InvalidAngleValue, "target angle outside [0, 360] degrees")
	}
	cons := p.newConstraint(name, AnglePointPointPoint, tolerance)
	cons.Points = []WorldPointID{a, vertex, c}
	cons.TargetAngleDeg = targetDeg
	p.attachOperands(cons)
	return cons, nil
}

// AddFixedPoint pins point to an absolute world position.
func (p *Project) AddFixedPoint(name string, point WorldPointID, target geom.Vec3, tolerance float64) (*Constraint, error) {
	if err := p.requireWorldPoints(point); err != nil {
		return nil, err
	}
	if !target.IsFinite() {
		return nil, &ValidationError{Code: InvalidTargetXYZ, Severity: SeverityError, Message: "fixed point target must be finite"}
	}
	c := p.newConstraint(name, FixedPoint, tolerance)
	c.Points = []WorldPointID{point}
	c.TargetXYZ = target
	p.attachOperands(c)
	return c, nil
}

// AddCollinearPoints constrains three or more points to lie on one line.
func (p *Project) AddCollinearPoints(name string, points []WorldPointID, tolerance float64) (*Constraint, error) {
	if len(points) < CollinearPoints.MinOperands() {
		return nil, &ValidationError{Code: InsufficientPoints, Severity: SeverityError, Message: "collinear constraint needs at least 3 points"}
	}
	if err := p.requireWorldPoints(points...); err != nil {
		return nil, err
	}
	c := p.newConstraint(name, CollinearPoints, tolerance)
	c.Points = append([]WorldPointID(nil), points...)
	p.attachOperands(c)
	return c, nil
}

// AddCoplanarPoints constrains four or more points to lie on one plane.
func (p *Project) AddCoplanarPoints(name string, points []WorldPointID, tolerance float64) (*Constraint, error) {
	if len(points) < CoplanarPoints.MinOperands() {
		return nil, &ValidationError{Code: InsufficientPoints, Severity: SeverityError, Message: "coplanar constraint needs at least 4 points"}
	}
	if err := p.requireWorldPoints(points...); err != nil {
		return nil, err
	}
	c := p.newConstraint(name, CoplanarPoints, tolerance)
	c.Points = append([]WorldPointID(nil), points...)
	p.attachOperands(c)
	return c, nil
}

func (p *Project) requireLines(ids ...LineID) error {
	for _, id := range ids {
		if p.Line(id) == nil {
			return &ValidationError{Code: DanglingReference, Severity: SeverityError, Message: "constraint names a nonexistent line"}
		}
	}
	return nil
}

// AddParallelLines constrains two lines to share direction.
func (p *Project) AddParallelLines(name string, a, b LineID, tolerance float64) (*Constraint, error) {
	if a == b {
		return nil, &ValidationError{Code: DuplicatePoints, Severity: SeverityError, Message: "parallel constraint needs two distinct lines"}
	}
	if err := p.requireLines(a, b); err != nil {
		return nil, err
	}
	c := p.newConstraint(name, ParallelLines, tolerance)
	c.Lines = [2]LineID{a, b}
	return c, nil
}

// AddPerpendicularLines constrains two lines to meet at a right angle.
func (p *Project) AddPerpendicularLines(name string, a, b LineID, tolerance float64) (*Constraint, error) {
	if a == b {
		return nil, &ValidationError{Code: DuplicatePoints, Severity: SeverityError, Message: "perpendicular constraint needs two distinct lines"}
	}
	if err := p.requireLines(a, b); err != nil {
		return nil, err
	}
	c := p.newConstraint(name, PerpendicularLines, tolerance)
	c.Lines = [2]LineID{a, b}
	return c, nil
}

// AddEqualDistances constrains two or more point-pair distances to be equal.
func (p *Project) AddEqualDistances(name string, pairs [][2]WorldPointID, tolerance float64) (*Constraint, error) {
	if len(pairs) < EqualDistances.MinOperands() {
		return nil, &ValidationError{Code: InsufficientPoints, Severity: SeverityError, Message: "equal-distances constraint needs at least 2 pairs"}
	}
	for _, pr := range pairs {
		if err := p.requireWorldPoints(pr[0], pr[1]); err != nil {
			return nil, err
		}
	}
	c := p.newConstraint(name, EqualDistances, tolerance)
	c.PointPairs = append([][2]WorldPointID(nil), pairs...)
	p.attachOperands(c)
	return c, nil
}

// AddEqualAngles constrains two or more (a, vertex, c) angles to be equal.
func (p *Project) AddEqualAngles(name string, triplets [][3]WorldPointID, tolerance float64) (*Constraint, error) {
	if len(triplets) < EqualAngles.MinOperands() {
		return nil, &ValidationError{Code: InsufficientPoints, Severity: SeverityError, Message: "equal-angles constraint needs at least 2 triplets"}
	}
	for _, tr := range triplets {
		if err := p.requireWorldPoints(tr[0], tr[1], tr[2]); err != nil {
			return nil, err
		}
	}
	c := p.newConstraint(name, EqualAngles, tolerance)
	c.PointTriplets = append([][3]WorldPointID(nil), triplets...)
	p.attachOperands(c)
	return c, nil
}
