package core

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Instance places a mesh with a material in the world.
type Instance struct {
	ID        uuid.UUID
	Name      string
	Mesh      int
	Material  int
	Transform Transform
	Motion    Motion

	origin mgl32.Vec3
}

func NewInstance(name string, mesh, material int, t Transform) *Instance {
	return &Instance{
		ID:        uuid.New(),
		Name:      name,
		Mesh:      mesh,
		Material:  material,
		Transform: t,
		origin:    t.Position,
	}
}

func (i *Instance) Dynamic() bool { return i.Motion.Dynamic() }

func (i *Instance) update(t float32) {
	if !i.Dynamic() {
		return
	}
	i.Transform.Position = i.origin.Add(i.Motion.Offset(t))
}

// WorldAABB bounds the instance at its current transform.
func (i *Instance) WorldAABB(m *Mesh) [2]mgl32.Vec3 {
	minB, maxB := m.Bounds()
	wMin, wMax := TransformAABB(i.Transform.ObjectToWorld(), minB, maxB)
	return [2]mgl32.Vec3{wMin, wMax}
}

// SweptAABB bounds the instance over its whole motion range.
func (i *Instance) SweptAABB(m *Mesh) [2]mgl32.Vec3 {
	t := i.Transform
	t.Position = i.origin
	minB, maxB := m.Bounds()
	wMin, wMax := TransformAABB(t.ObjectToWorld(), minB, maxB)
	ext := i.Motion.MaxExtent()
	return [2]mgl32.Vec3{wMin.Sub(ext), wMax.Add(ext)}
}
