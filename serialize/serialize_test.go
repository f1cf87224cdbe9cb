// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package serialize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// fullProject builds a project exercising every entity kind and every
// constraint variant.
func fullProject(t *testing.T) *model.Project {
	t.Helper()
	proj := model.NewProject()

	cam1 := proj.AddViewpoint("front", 1920, 1080)
	cam1.Pose.Loc = geom.V3(0, 0, -10)
	cam1.Intrinsics.FocalLength = 1200
	cam1.VanishingLines = []model.VanishingLine{
		{Axis: model.AxisX, U0: 10, V0: 20, U1: 500, V1: 40},
		{Axis: model.AxisX, U0: 15, V0: 700, U1: 510, V1: 650},
	}
	cam2 := proj.AddViewpoint("side", 1920, 1080)
	cam2.IsZReflected = true

	var pts []*model.WorldPoint
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		pts = append(pts, proj.AddWorldPoint(name))
	}
	pts[0].X = model.Locked(0)
	pts[0].Y = model.Locked(0)
	pts[0].Z = model.Locked(0)
	pts[1].X = model.Inferred(5)
	opt := geom.V3(1, 2, 3)
	pts[2].OptimizedXYZ = &opt

	l1, err := proj.AddLine("l1", pts[0].ID(), pts[1].ID())
	require.NoError(t, err)
	l1.Direction = model.AxisX
	length := 12.5
	l1.TargetLength = &length
	l1.AddCoincident(pts[2].ID())
	l2, err := proj.AddLine("l2", pts[2].ID(), pts[3].ID())
	require.NoError(t, err)

	_, err = proj.AddDistancePointPoint("dist", pts[0].ID(), pts[1].ID(), 10, 1e-4)
	require.NoError(t, err)
	_, err = proj.AddAnglePointPointPoint("ang", pts[0].ID(), pts[1].ID(), pts[2].ID(), 60, 1e-4)
	require.NoError(t, err)
	_, err = proj.AddFixedPoint("fix", pts[3].ID(), geom.V3(1, 2, 3), 1e-4)
	require.NoError(t, err)
	_, err = proj.AddCollinearPoints("col", []model.WorldPointID{pts[0].ID(), pts[1].ID(), pts[2].ID()}, 1e-4)
	require.NoError(t, err)
	_, err = proj.AddCoplanarPoints("cop", []model.WorldPointID{pts[0].ID(), pts[1].ID(), pts[2].ID(), pts[3].ID()}, 1e-4)
	require.NoError(t, err)
	_, err = proj.AddParallelLines("par", l1.ID(), l2.ID(), 1e-4)
	require.NoError(t, err)
	_, err = proj.AddPerpendicularLines("perp", l1.ID(), l2.ID(), 1e-4)
	require.NoError(t, err)
	_, err = proj.AddEqualDistances("eqd", [][2]model.WorldPointID{
		{pts[0].ID(), pts[1].ID()}, {pts[1].ID(), pts[2].ID()},
	}, 1e-4)
	require.NoError(t, err)
	_, err = proj.AddEqualAngles("eqa", [][3]model.WorldPointID{
		{pts[0].ID(), pts[1].ID(), pts[2].ID()}, {pts[3].ID(), pts[4].ID(), pts[5].ID()},
	}, 1e-4)
	require.NoError(t, err)

	_, err = proj.AddImagePoint(pts[0].ID(), cam1.ID(), 960, 540)
	require.NoError(t, err)
	_, err = proj.AddImagePoint(pts[0].ID(), cam2.ID(), 400, 300)
	require.NoError(t, err)
	return proj
}

func TestRoundTripByteStable(t *testing.T) {
	proj := fullProject(t)
	first, err := Save(proj)
	require.NoError(t, err)

	loaded, err := Load(first)
	require.NoError(t, err)

	second, err := Save(loaded)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second), "load-then-save must be byte stable")
}

func TestRoundTripPreservesEntities(t *testing.T) {
	proj := fullProject(t)
	data, err := Save(proj)
	require.NoError(t, err)
	loaded, err := Load(data)
	require.NoError(t, err)

	require.Len(t, loaded.WorldPoints(), 6)
	require.Len(t, loaded.Viewpoints(), 2)
	require.Len(t, loaded.Lines(), 2)
	require.Len(t, loaded.ImagePoints(), 2)
	require.Len(t, loaded.Constraints(), 9)

	wp := loaded.WorldPoints()[0]
	assert.Equal(t, "a", wp.Name)
	locked, ok := wp.LockedXYZ()
	require.True(t, ok)
	assert.Equal(t, geom.V3(0, 0, 0), locked)

	assert.Equal(t, model.AxisInferred, loaded.WorldPoints()[1].X.State)
	require.NotNil(t, loaded.WorldPoints()[2].OptimizedXYZ)
	assert.Equal(t, geom.V3(1, 2, 3), *loaded.WorldPoints()[2].OptimizedXYZ)

	vp := loaded.Viewpoints()[0]
	assert.Equal(t, 1200.0, vp.Intrinsics.FocalLength)
	assert.Len(t, vp.VanishingLines, 2)
	assert.True(t, loaded.Viewpoints()[1].IsZReflected)

	l := loaded.Lines()[0]
	assert.Equal(t, model.AxisX, l.Direction)
	require.NotNil(t, l.TargetLength)
	assert.Equal(t, 12.5, *l.TargetLength)
	assert.Len(t, l.CoincidentPoints(), 1)
}

func TestUnknownConstraintTag(t *testing.T) {
	doc := []byte(`{
	  "version": 1,
	  "viewpoints": [],
	  "worldPoints": [{"id": "WorldPoint_1", "name": "a", "lockedXyz": [null, null, null], "color": "#fff"}],
	  "lines": [],
	  "imagePoints": [],
	  "constraints": [{"id": "Constraint_2", "type": "banana", "name": "x", "tolerance": 0.1, "enabled": true}]
	}`)
	_, err := Load(doc)
	var serr *model.SerializationError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, UnknownConstraintTag, serr.Code)
}

func TestForwardReferenceRejected(t *testing.T) {
	doc := []byte(`{
	  "version": 1,
	  "viewpoints": [],
	  "worldPoints": [{"id": "WorldPoint_1", "name": "a", "lockedXyz": [null, null, null], "color": "#fff"}],
	  "lines": [{"id": "Line_2", "name": "l", "pointAId": "WorldPoint_1", "pointBId": "WorldPoint_99", "direction": "free", "coincidentPointIds": []}],
	  "imagePoints": [],
	  "constraints": []
	}`)
	_, err := Load(doc)
	var serr *model.SerializationError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, ForwardReference, serr.Code)
}

func TestDuplicateIDRejected(t *testing.T) {
	doc := []byte(`{
	  "version": 1,
	  "viewpoints": [],
	  "worldPoints": [
	    {"id": "WorldPoint_1", "name": "a", "lockedXyz": [null, null, null], "color": "#fff"},
	    {"id": "WorldPoint_1", "name": "b", "lockedXyz": [null, null, null], "color": "#fff"}
	  ],
	  "lines": [],
	  "imagePoints": [],
	  "constraints": []
	}`)
	_, err := Load(doc)
	var serr *model.SerializationError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, DuplicateDocumentID, serr.Code)
}

func TestMalformedDocument(t *testing.T) {
	_, err := Load([]byte("{not json"))
	var serr *model.SerializationError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, MalformedDocument, serr.Code)
}

func TestSaveInvalidProjectFails(t *testing.T) {
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	b := proj.AddWorldPoint("b")
	l, err := proj.AddLine("ab", a.ID(), b.ID())
	require.NoError(t, err)
	l.AddCoincident(a.ID()) // endpoint coincident with its own line.
	_, err = Save(proj)
	var serr *model.SerializationError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, ValidationFailed, serr.Code)
}
