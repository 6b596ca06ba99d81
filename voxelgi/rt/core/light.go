package core

import "github.com/go-gl/mathgl/mgl32"

type LightType uint32

const (
	LightPoint LightType = iota
	LightDirectional
)

// MaxLights is the fixed light capacity of SceneInfo.
const MaxLights = 16

type Light struct {
	Type      LightType
	Position  mgl32.Vec3
	Direction mgl32.Vec3 // direction the light travels, directional lights only
	Color     mgl32.Vec3
	Intensity float32
	Motion    Motion

	origin mgl32.Vec3
}

func (l *Light) Dynamic() bool { return l.Motion.Dynamic() }

// Radiance is the emitted colour scaled by intensity.
func (l *Light) Radiance() mgl32.Vec3 { return l.Color.Mul(l.Intensity) }

func (l *Light) update(t float32) {
	if !l.Dynamic() {
		return
	}
	l.Position = l.origin.Add(l.Motion.Offset(t))
}
