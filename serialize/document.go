// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package serialize

import "encoding/json"

// Document is the on-disk shape of a project (spec.md §6): entity
// blocks in dependency order, cross-referenced by stable string ids.
// Forward references are illegal; Load processes the blocks strictly
// in this order and rejects any reference it has not yet seen.
type Document struct {
	Version     int              `json:"version"`
	Viewpoints  []viewpointDoc   `json:"viewpoints"`
	WorldPoints []worldPointDoc  `json:"worldPoints"`
	Lines       []lineDoc        `json:"lines"`
	ImagePoints []imagePointDoc  `json:"imagePoints"`
	Constraints []constraintDoc  `json:"constraints"`
}

// documentVersion is bumped only when the format changes incompatibly.
const documentVersion = 1

type worldPointDoc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// LockedXyz holds the user-locked value per axis, null where the
	// axis is not locked.
	LockedXyz [3]*float64 `json:"lockedXyz"`
	// InferredXyz holds derived per-axis values, null where the axis
	// is free or locked. Omitted entirely when no axis is inferred.
	InferredXyz  *[3]*float64 `json:"inferredXyz,omitempty"`
	OptimizedXyz *[3]float64  `json:"optimizedXyz,omitempty"`
	Color        string       `json:"color"`
}

type viewpointDoc struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	ImageWidth     int                `json:"imageWidth"`
	ImageHeight    int                `json:"imageHeight"`
	Position       [3]float64         `json:"position"`
	Rotation       [4]float64         `json:"rotation"` // w, x, y, z
	FocalLength    float64            `json:"focalLength"`
	AspectRatio    float64            `json:"aspectRatio"`
	PrincipalPoint [2]float64         `json:"principalPoint"`
	Skew           float64            `json:"skew"`
	Radial         [3]float64         `json:"radial"`
	Tangential     [2]float64         `json:"tangential"`
	IsZReflected   bool               `json:"isZReflected"`
	VanishingLines []vanishingLineDoc `json:"vanishingLines"`
}

type vanishingLineDoc struct {
	Axis string  `json:"axis"`
	U0   float64 `json:"u0"`
	V0   float64 `json:"v0"`
	U1   float64 `json:"u1"`
	V1   float64 `json:"v1"`
}

type imagePointDoc struct {
	ID           string  `json:"id"`
	WorldPointID string  `json:"worldPointId"`
	ViewpointID  string  `json:"viewpointId"`
	U            float64 `json:"u"`
	V            float64 `json:"v"`
}

type lineDoc struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	PointAID          string   `json:"pointAId"`
	PointBID          string   `json:"pointBId"`
	Direction         string   `json:"direction"`
	TargetLength      *float64 `json:"targetLength,omitempty"`
	CoincidentPointIDs []string `json:"coincidentPointIds"`
}

// constraintDoc is the tagged-union encoding of one constraint: the
// Type discriminator selects which of the optional operand fields are
// meaningful, mirroring the registry idiom used for scene-object
// documents elsewhere in this codebase's lineage.
type constraintDoc struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Name      string  `json:"name"`
	Tolerance float64 `json:"tolerance"`
	Enabled   bool    `json:"enabled"`

	PointIDs        []string    `json:"pointIds,omitempty"`
	LineIDs         []string    `json:"lineIds,omitempty"`
	PointPairIDs    [][2]string `json:"pointPairIds,omitempty"`
	PointTripletIDs [][3]string `json:"pointTripletIds,omitempty"`

	TargetDistance  *float64    `json:"targetDistance,omitempty"`
	TargetAngleDeg  *float64    `json:"targetAngleDegrees,omitempty"`
	TargetXyz       *[3]float64 `json:"targetXyz,omitempty"`
}

// Marshal renders the document with stable formatting; the byte output
// for a given document is deterministic.
func (d *Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
