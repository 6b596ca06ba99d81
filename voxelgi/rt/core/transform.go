package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Transform places an instance: scale, then rotation, then translation.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransform() Transform {
	return Transform{Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}}
}

// At is the identity transform moved to p.
func At(p mgl32.Vec3) Transform {
	t := NewTransform()
	t.Position = p
	return t
}

func (t Transform) ObjectToWorld() mgl32.Mat4 {
	p, s := t.Position, t.Scale
	return mgl32.Translate3D(p[0], p[1], p[2]).Mul4(t.Rotation.Mat4()).Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
}

// WorldToObject inverts each factor instead of the whole matrix; Rotation must be a unit quaternion.
func (t Transform) WorldToObject() mgl32.Mat4 {
	p, s := t.Position, t.Scale
	return mgl32.Scale3D(1/s[0], 1/s[1], 1/s[2]).Mul4(t.Rotation.Conjugate().Mat4()).Mul4(mgl32.Translate3D(-p[0], -p[1], -p[2]))
}

// NormalMatrix is the inverse transpose of the upper 3x3 of ObjectToWorld.
func (t Transform) NormalMatrix() mgl32.Mat3 {
	return t.WorldToObject().Mat3().Transpose()
}

// TransformAABB returns the world AABB of the eight transformed corners of an object-space box.
func TransformAABB(m mgl32.Mat4, minB, maxB mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	corners := [8]mgl32.Vec3{
		{minB.X(), minB.Y(), minB.Z()},
		{maxB.X(), minB.Y(), minB.Z()},
		{minB.X(), maxB.Y(), minB.Z()},
		{maxB.X(), maxB.Y(), minB.Z()},
		{minB.X(), minB.Y(), maxB.Z()},
		{maxB.X(), minB.Y(), maxB.Z()},
		{minB.X(), maxB.Y(), maxB.Z()},
		{maxB.X(), maxB.Y(), maxB.Z()},
	}
	inf := float32(1e30)
	wMin := mgl32.Vec3{inf, inf, inf}
	wMax := mgl32.Vec3{-inf, -inf, -inf}
	for _, c := range corners {
		wc := m.Mul4x1(c.Vec4(1.0)).Vec3()
		for k := 0; k < 3; k++ {
			wMin[k] = min(wMin[k], wc[k])
			wMax[k] = max(wMax[k], wc[k])
		}
	}
	return wMin, wMax
}
