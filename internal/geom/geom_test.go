// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package geom

import (
	"math"
	"testing"
)

func TestVec3Cross(t *testing.T) {
	x, y := V3(1, 0, 0), V3(0, 1, 0)
	want := V3(0, 0, 1)
	if got := x.Cross(y); !got.Aeq(want) {
		t.Errorf("x cross y = %v, want %v", got, want)
	}
}

func TestVec3Ang(t *testing.T) {
	a, b := V3(1, 0, 0), V3(0, 1, 0)
	if got := a.Ang(b); !Aeq(got, math.Pi/2) {
		t.Errorf("angle = %v, want pi/2", got)
	}
}

func TestVec3Unit(t *testing.T) {
	v := V3(3, 4, 0)
	u := v.Unit()
	if !Aeq(u.Len(), 1) {
		t.Errorf("unit length = %v, want 1", u.Len())
	}
}

func TestQuatRotateIdentity(t *testing.T) {
	v := V3(1, 2, 3)
	if got := QI.Rotate(v); !got.Aeq(v) {
		t.Errorf("identity rotation changed vector: %v -> %v", v, got)
	}
}

func TestQuatRotateAxisAngle(t *testing.T) {
	q := FromAxisAngle(V3(0, 0, 1), math.Pi/2)
	got := q.Rotate(V3(1, 0, 0))
	want := V3(0, 1, 0)
	if !got.Aeq(want) {
		t.Errorf("rotate by 90deg about z: got %v, want %v", got, want)
	}
}

func TestQuatRotateInverseRoundTrip(t *testing.T) {
	q := FromAxisAngle(V3(1, 1, 0), 0.7)
	v := V3(2, -1, 5)
	rotated := q.Rotate(v)
	back := q.RotateInverse(rotated)
	if !back.Aeq(v) {
		t.Errorf("rotate then inverse-rotate = %v, want %v", back, v)
	}
}

func TestMat3QuatRoundTrip(t *testing.T) {
	q := FromAxisAngle(V3(0.3, 0.7, -0.2), 1.1).Unit()
	m := q.ToMat3()
	q2 := m.ToQuat()
	v := V3(1, 2, 3)
	if !q.Rotate(v).Aeq(q2.Rotate(v)) {
		t.Errorf("quat->mat3->quat round trip changed rotation")
	}
}

func TestTransformToWorldToLocal(t *testing.T) {
	tr := Transform{Loc: V3(1, 2, 3), Rot: FromAxisAngle(V3(0, 1, 0), 0.5)}
	p := V3(4, 5, 6)
	world := tr.ToWorld(p)
	back := tr.ToLocal(world)
	if !back.Aeq(p) {
		t.Errorf("ToLocal(ToWorld(p)) = %v, want %v", back, p)
	}
}
