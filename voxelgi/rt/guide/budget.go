package guide

import "github.com/gekko3d/svopg/voxelgi/rt/core"

// Budget decides whether a frame is traced and which accumulation slot it fills. Accumulation
// restarts whenever the camera moves; scenes with moving instances or dynamic lights never
// accumulate.
type Budget struct {
	max     int
	counter int
	pose    core.CameraPose
	seen    bool
}

func NewBudget(maxFrames int) *Budget {
	return &Budget{max: max(maxFrames, 1)}
}

func (b *Budget) SetMax(maxFrames int) {
	b.max = max(maxFrames, 1)
	b.counter = 0
}

// ShouldTrace reports whether the frame needs tracing. Once the counter reaches max-1 with max > 1
// the image is considered converged and tracing is skipped until the camera changes.
func (b *Budget) ShouldTrace(pose core.CameraPose, dynamic bool) bool {
	if !b.seen || pose != b.pose {
		b.counter = 0
		b.pose = pose
		b.seen = true
	}
	if dynamic || b.max == 1 {
		// Single-frame budget: every frame is traced and overwrites the accumulator.
		b.counter = 0
		return true
	}
	return b.counter < b.max-1
}

// Frame is the accumulation index of the next traced frame; 0 overwrites the accumulator.
func (b *Budget) Frame() int { return b.counter }

// Advance records that a frame was traced.
func (b *Budget) Advance() { b.counter++ }

// Reset restarts accumulation, for scene edits the camera pose does not capture.
func (b *Budget) Reset() { b.counter = 0 }
