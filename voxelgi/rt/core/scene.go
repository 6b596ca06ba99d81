package core

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type Scene struct {
	Meshes     []*Mesh
	Materials  []Material
	Instances  []*Instance
	Lights     []*Light
	Camera     *Camera
	Background mgl32.Vec3
	Time       float32
}

func NewScene() *Scene {
	return &Scene{
		Materials: []Material{DefaultMaterial()},
		Camera:    NewCamera(),
	}
}

func (s *Scene) AddMesh(m *Mesh) int {
	s.Meshes = append(s.Meshes, m)
	return len(s.Meshes) - 1
}

func (s *Scene) AddMaterial(m Material) int {
	s.Materials = append(s.Materials, m)
	return len(s.Materials) - 1
}

func (s *Scene) AddInstance(inst *Instance) {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	inst.origin = inst.Transform.Position
	s.Instances = append(s.Instances, inst)
}

func (s *Scene) AddLight(l *Light) error {
	if len(s.Lights) >= MaxLights {
		return fmt.Errorf("scene supports at most %d lights", MaxLights)
	}
	l.origin = l.Position
	s.Lights = append(s.Lights, l)
	return nil
}

// StaticInstances and DynamicInstances partition Instances in their original order.
func (s *Scene) StaticInstances() []*Instance {
	var out []*Instance
	for _, inst := range s.Instances {
		if !inst.Dynamic() {
			out = append(out, inst)
		}
	}
	return out
}

func (s *Scene) DynamicInstances() []*Instance {
	var out []*Instance
	for _, inst := range s.Instances {
		if inst.Dynamic() {
			out = append(out, inst)
		}
	}
	return out
}

func (s *Scene) HasDynamicLights() bool {
	for _, l := range s.Lights {
		if l.Dynamic() {
			return true
		}
	}
	return false
}

// HasDynamicContent reports whether the scene changes on its own from frame to frame.
func (s *Scene) HasDynamicContent() bool {
	return len(s.DynamicInstances()) > 0 || s.HasDynamicLights()
}

// Update advances animated instances and lights to time t.
func (s *Scene) Update(t float32) {
	s.Time = t
	for _, inst := range s.Instances {
		inst.update(t)
	}
	for _, l := range s.Lights {
		l.update(t)
	}
}

// Bounds is the union of every instance's swept world AABB. An empty scene yields the unit cube.
func (s *Scene) Bounds() (mgl32.Vec3, mgl32.Vec3) {
	inf := float32(math.MaxFloat32)
	minB := mgl32.Vec3{inf, inf, inf}
	maxB := mgl32.Vec3{-inf, -inf, -inf}
	for _, inst := range s.Instances {
		b := inst.SweptAABB(s.Meshes[inst.Mesh])
		for k := 0; k < 3; k++ {
			minB[k] = min(minB[k], b[0][k])
			maxB[k] = max(maxB[k], b[1][k])
		}
	}
	if minB.X() > maxB.X() {
		return mgl32.Vec3{-0.5, -0.5, -0.5}, mgl32.Vec3{0.5, 0.5, 0.5}
	}
	return minB, maxB
}

// Validate checks the index references the GPU records rely on.
func (s *Scene) Validate() error {
	if len(s.Materials) == 0 {
		return fmt.Errorf("scene has no materials")
	}
	for _, inst := range s.Instances {
		if inst.Mesh < 0 || inst.Mesh >= len(s.Meshes) {
			return fmt.Errorf("instance %s references mesh %d of %d", inst.Name, inst.Mesh, len(s.Meshes))
		}
		if inst.Material < 0 || inst.Material >= len(s.Materials) {
			return fmt.Errorf("instance %s references material %d of %d", inst.Name, inst.Material, len(s.Materials))
		}
	}
	return nil
}
