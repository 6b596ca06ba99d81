package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKernel(name string) *Kernel {
	return &Kernel{Name: name, WorkgroupSize: 64, Host: func([]byte, []HostResource) func(uint32) {
		return func(uint32) {}
	}}
}

func TestGroups1D(t *testing.T) {
	assert.Equal(t, Groups{}, Groups1D(0, 256))
	assert.Equal(t, Groups{X: 1, Y: 1}, Groups1D(1, 256))
	assert.Equal(t, Groups{X: 4, Y: 1}, Groups1D(1024, 256))
	assert.Equal(t, Groups{X: 5, Y: 1}, Groups1D(1025, 256))

	g := Groups1D(256*256*256, 256)
	assert.LessOrEqual(t, g.X, uint32(MaxGroupsPerDimension))
	assert.GreaterOrEqual(t, g.Total()*256, uint32(256*256*256))
}

func TestValidateReportsMissingBarrier(t *testing.T) {
	buf := &Buffer{Label: "vgb"}
	l := NewCommandList("frame")
	l.Dispatch(testKernel("clear"), StageComputeShader, Groups{1, 1}, nil, Write(buf))
	l.Dispatch(testKernel("inject"), StageRayTracingShader, Groups{1, 1}, nil, Read(buf))

	err := l.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHazard)
	var h Hazard
	require.ErrorAs(t, err, &h)
	assert.Equal(t, 1, h.Command)
	assert.Equal(t, "vgb", h.Resource)
	assert.Equal(t, StageComputeShader, h.Prior)
}

func TestValidateBarrierMakesWriteVisible(t *testing.T) {
	buf := &Buffer{Label: "vgb"}
	l := NewCommandList("frame")
	l.Dispatch(testKernel("clear"), StageComputeShader, Groups{1, 1}, nil, Write(buf))
	l.Barrier(StageComputeShader, StageRayTracingShader)
	l.Dispatch(testKernel("inject"), StageRayTracingShader, Groups{1, 1}, nil, Read(buf))
	assert.NoError(t, l.Validate())
}

func TestValidateWrongDestinationStage(t *testing.T) {
	buf := &Buffer{Label: "tree"}
	l := NewCommandList("frame")
	l.Dispatch(testKernel("build"), StageComputeShader, Groups{1, 1}, nil, Write(buf))
	l.Barrier(StageComputeShader, StageFragmentShader)
	l.Dispatch(testKernel("trace"), StageRayTracingShader, Groups{1, 1}, nil, Read(buf))
	assert.ErrorIs(t, l.Validate(), ErrHazard)
}

func TestValidateSameStageAtomicsNeedNoBarrier(t *testing.T) {
	buf := &Buffer{Label: "vgb"}
	l := NewCommandList("frame")
	l.Dispatch(testKernel("a"), StageComputeShader, Groups{1, 1}, nil, AtomicAdd(buf))
	l.Dispatch(testKernel("b"), StageComputeShader, Groups{1, 1}, nil, AtomicAdd(buf))
	assert.NoError(t, l.Validate())

	l.Dispatch(testKernel("c"), StageComputeShader, Groups{1, 1}, nil, Read(buf))
	assert.ErrorIs(t, l.Validate(), ErrHazard)
}

func TestValidateWriteAfterRead(t *testing.T) {
	buf := &Buffer{Label: "accum"}
	l := NewCommandList("frame")
	l.Dispatch(testKernel("tonemap"), StageComputeShader, Groups{1, 1}, nil, Read(buf))
	l.Dispatch(testKernel("trace"), StageRayTracingShader, Groups{1, 1}, nil, ReadWrite(buf))
	assert.ErrorIs(t, l.Validate(), ErrHazard)

	l = NewCommandList("frame")
	l.Dispatch(testKernel("tonemap"), StageComputeShader, Groups{1, 1}, nil, Read(buf))
	l.Barrier(StageComputeShader, StageRayTracingShader)
	l.Dispatch(testKernel("trace"), StageRayTracingShader, Groups{1, 1}, nil, ReadWrite(buf))
	assert.NoError(t, l.Validate())
}

func TestValidateEmptyBarrier(t *testing.T) {
	l := NewCommandList("frame")
	l.Barrier(0, StageComputeShader)
	assert.Error(t, l.Validate())
}

func TestBarriersInOrder(t *testing.T) {
	l := NewCommandList("frame")
	l.Barrier(StageComputeShader, StageFragmentShader)
	l.Dispatch(testKernel("k"), StageComputeShader, Groups{1, 1}, nil)
	l.Barrier(StageRayTracingShader, StageComputeShader)
	assert.Equal(t, []BarrierCmd{
		{Src: StageComputeShader, Dst: StageFragmentShader},
		{Src: StageRayTracingShader, Dst: StageComputeShader},
	}, l.Barriers())
	assert.Equal(t, "fragment|color-output", (StageFragmentShader | StageColorAttachmentOutput).String())
}

func TestEmptyDispatchIsDropped(t *testing.T) {
	l := NewCommandList("frame")
	l.Dispatch(testKernel("k"), StageComputeShader, Groups1D(0, 64), nil)
	assert.Equal(t, 0, l.Len())
}
