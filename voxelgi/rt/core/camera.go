package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera is a Z-up yaw/pitch camera with a perspective projection.
type Camera struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	FovY        float32 // degrees
	Near        float32
	Far         float32
	Speed       float32
	Sensitivity float32
}

func NewCamera() *Camera {
	return &Camera{
		Position:    mgl32.Vec3{0, -6, 2},
		FovY:        50,
		Near:        0.05,
		Far:         200,
		Speed:       4.0,
		Sensitivity: 0.003,
	}
}

func (c *Camera) Forward() mgl32.Vec3 {
	// Z-up: Forward in XY plane, Z for pitch. Yaw 0 looks along +Y.
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
	}
}

func (c *Camera) Right() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Yaw))),
		float32(-math.Sin(float64(c.Yaw))),
		0,
	}
}

// LookAt points the camera at target.
func (c *Camera) LookAt(target mgl32.Vec3) {
	d := target.Sub(c.Position)
	if d.Len() == 0 {
		return
	}
	d = d.Normalize()
	c.Yaw = float32(math.Atan2(float64(d.X()), float64(d.Y())))
	c.Pitch = float32(math.Asin(float64(mgl32.Clamp(d.Z(), -1, 1))))
}

func (c *Camera) ViewMatrix() mgl32.Mat4 {
	eye := c.Position
	target := eye.Add(c.Forward())
	up := mgl32.Vec3{0, 0, 1} // Z-up
	return mgl32.LookAtV(eye, target, up)
}

func (c *Camera) ProjectionMatrix(aspect float32) mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FovY), aspect, c.Near, c.Far)
}

// CameraPose is the comparable part of a camera. The tracer resets accumulation whenever it changes.
type CameraPose struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32
	FovY     float32
}

func (c *Camera) Pose() CameraPose {
	return CameraPose{Position: c.Position, Yaw: c.Yaw, Pitch: c.Pitch, FovY: c.FovY}
}
