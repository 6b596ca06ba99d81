package gpu

import (
	"fmt"

	"github.com/gekko3d/svopg/voxelgi/rt/core"
)

// SceneBuffers owns the per-scene uniform and material buffers every stage reads.
type SceneBuffers struct {
	dev Device

	Info      *Buffer
	Materials *Buffer
}

func NewSceneBuffers(dev Device) *SceneBuffers {
	return &SceneBuffers{dev: dev}
}

// ensureBuffer grows buf to fit data, releasing the old buffer, then uploads data. It reports
// whether the buffer was recreated, in which case callers must rebind it.
func (s *SceneBuffers) ensureBuffer(name string, buf **Buffer, data []byte, usage BufferUsage) (bool, error) {
	needed := uint64(len(data))
	if needed%4 != 0 {
		needed += 4 - needed%4
	}
	needed = max(needed, 16)

	recreated := false
	if *buf == nil || (*buf).Size < needed {
		if *buf != nil {
			s.dev.DestroyBuffer(*buf)
		}
		b, err := s.dev.CreateBuffer(BufferDesc{Label: name, Size: needed, Usage: usage | BufferUsageCopyDst})
		if err != nil {
			return false, fmt.Errorf("scene buffer %s: %w", name, err)
		}
		*buf = b
		recreated = true
	}
	if len(data) > 0 {
		if err := s.dev.WriteBuffer(*buf, 0, data); err != nil {
			return recreated, fmt.Errorf("scene buffer %s: %w", name, err)
		}
	}
	return recreated, nil
}

// UpdateMaterials uploads the scene's material table.
func (s *SceneBuffers) UpdateMaterials(scene *core.Scene) (bool, error) {
	return s.ensureBuffer("Materials", &s.Materials, core.PackMaterials(scene.Materials), BufferUsageStorage)
}

// UpdateInfo uploads the per-frame SceneInfo uniform.
func (s *SceneBuffers) UpdateInfo(scene *core.Scene, p core.FrameParams) (bool, error) {
	return s.ensureBuffer("SceneInfo", &s.Info, core.PackSceneInfo(scene, p), BufferUsageUniform)
}

// Update refreshes both buffers.
func (s *SceneBuffers) Update(scene *core.Scene, p core.FrameParams) error {
	if _, err := s.UpdateMaterials(scene); err != nil {
		return err
	}
	_, err := s.UpdateInfo(scene, p)
	return err
}

func (s *SceneBuffers) Destroy() {
	s.dev.DestroyBuffer(s.Info)
	s.dev.DestroyBuffer(s.Materials)
	s.Info, s.Materials = nil, nil
}
