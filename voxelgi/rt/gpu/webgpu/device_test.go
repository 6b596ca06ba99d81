package webgpu

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

func TestCapabilitiesCarryByteLimits(t *testing.T) {
	limits := wgpu.DefaultLimits()
	limits.MaxStorageBufferBindingSize = 2 << 30
	limits.MaxBufferSize = 1 << 30
	caps := capabilities(limits, false)
	assert.Equal(t, uint64(2<<30), caps.MaxStorageBufferBindingSize)
	assert.Equal(t, uint64(1<<30), caps.MaxBufferSize)
	assert.Equal(t, limits.MaxStorageBuffersPerShaderStage, caps.MaxStorageBuffersPerStage)
	assert.False(t, caps.TimestampQuery)
}

// With default limits a 256^3 grid of 96-byte cells does not fit one binding.
func TestDefaultLimitsRejectLargeGrid(t *testing.T) {
	dev := gpu.NewHostDevice(gpu.WithCapabilities(capabilities(wgpu.DefaultLimits(), true)))
	const cells = 256 * 256 * 256
	assert.ErrorIs(t, gpu.RequireStorageSize(dev, "voxel grid", cells*96), gpu.ErrTooLarge)
	assert.NoError(t, gpu.RequireStorageSize(dev, "voxel grid", 64*64*64*96))
}
