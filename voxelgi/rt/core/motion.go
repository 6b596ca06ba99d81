package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"pgregory.net/rand"
)

type MotionType int

const (
	MotionStatic MotionType = iota
	MotionPeriod
	MotionRandom
)

var motionNames = map[string]MotionType{
	"static": MotionStatic,
	"period": MotionPeriod,
	"random": MotionRandom,
}

// RandomMotionStep is how long a random-motion instance holds one jitter offset, in seconds.
const RandomMotionStep = 0.25

// Motion animates a position. Period motion oscillates along Axis; random motion jumps to a new
// offset inside a cube of half-size Amplitude every RandomMotionStep seconds.
type Motion struct {
	Type      MotionType
	Axis      mgl32.Vec3
	Period    float32
	Amplitude float32
	Seed      uint64
}

func (m Motion) Dynamic() bool { return m.Type != MotionStatic }

func (m Motion) Offset(t float32) mgl32.Vec3 {
	switch m.Type {
	case MotionPeriod:
		if m.Period <= 0 {
			return mgl32.Vec3{}
		}
		phase := 2 * math.Pi * float64(t) / float64(m.Period)
		return m.Axis.Mul(float32(math.Sin(phase)))
	case MotionRandom:
		step := uint64(math.Floor(float64(t) / RandomMotionStep))
		r := rand.New(m.Seed, step)
		return mgl32.Vec3{
			(r.Float32()*2 - 1) * m.Amplitude,
			(r.Float32()*2 - 1) * m.Amplitude,
			(r.Float32()*2 - 1) * m.Amplitude,
		}
	}
	return mgl32.Vec3{}
}

// MaxExtent bounds |Offset(t)| per axis for any t.
func (m Motion) MaxExtent() mgl32.Vec3 {
	switch m.Type {
	case MotionPeriod:
		return mgl32.Vec3{abs32(m.Axis[0]), abs32(m.Axis[1]), abs32(m.Axis[2])}
	case MotionRandom:
		return mgl32.Vec3{m.Amplitude, m.Amplitude, m.Amplitude}
	}
	return mgl32.Vec3{}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
