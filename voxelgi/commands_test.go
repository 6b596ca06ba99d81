package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	saved := logger
	logger = svopg.NewWriterLogger("voxelgi", false, &out, &out)
	t.Cleanup(func() { logger = saved })
	return &out
}

func smallConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "small.yaml")
	data := []byte(`
voxel:
  count: 16
octree:
  clustering_level: 2
inject:
  samples: 2
trace:
  max_depth: 2
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

var touchKernel = &gpu.Kernel{Name: "touch", WorkgroupSize: 64, Host: func([]byte, []gpu.HostResource) func(uint32) {
	return func(uint32) {}
}}

func TestHostDeviceRejectsHazardsByDefault(t *testing.T) {
	cfg := svopg.DefaultConfig()
	require.False(t, cfg.Debug.ValidateBarriers)

	dev, release, err := openDevice(cfg, false)
	require.NoError(t, err)
	defer release()

	buf, err := dev.CreateBuffer(gpu.BufferDesc{Label: "shared", Size: 16})
	require.NoError(t, err)
	l := gpu.NewCommandList("unsynchronized")
	l.Dispatch(touchKernel, gpu.StageComputeShader, gpu.Groups{1, 1}, nil, gpu.Write(buf))
	l.Dispatch(touchKernel, gpu.StageRayTracingShader, gpu.Groups{1, 1}, nil, gpu.Read(buf))
	assert.ErrorIs(t, dev.Submit(l), gpu.ErrHazard)
}

func TestHeadlessLogsBadDisplay(t *testing.T) {
	out := captureLog(t)
	err := newApp().Run([]string{"voxelgi", "headless", "--display", "sideways"})
	require.Error(t, err)
	assert.Contains(t, out.String(), "ERROR")
	assert.Contains(t, out.String(), "sideways")
}

func TestHeadlessLogsUnwritableOutput(t *testing.T) {
	out := captureLog(t)
	path := filepath.Join(t.TempDir(), "missing", "frame.png")
	err := newApp().Run([]string{"voxelgi", "--config", smallConfig(t), "--scene", "cube", "headless",
		"--frames", "1", "--width", "8", "--height", "8", "--out", path})
	require.Error(t, err)
	assert.Contains(t, out.String(), "ERROR")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestHeadlessWritesPNGWithExposure(t *testing.T) {
	captureLog(t)
	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, newApp().Run([]string{"voxelgi", "--config", smallConfig(t), "--scene", "cube", "headless",
		"--frames", "1", "--width", "8", "--height", "8", "--exposure", "2", "--out", path}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}
