package voxelize

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

// VGB cell layout, CellWords 32-bit words per voxel. Voxelization accumulates the first four
// vec4s with atomics; light injection owns the last two.
//
//	0  normal sum (xyz), fragment count (u32)
//	4  position sum (xyz), pad
//	8  albedo sum (rgb), pad
//	12 emission sum (rgb), pad
//	16 irradiance (rgb), injected samples (u32)
//	20 outgoing radiance (rgb), flags (u32)
const (
	CellWords = 24
	CellSize  = CellWords * 4

	CellNormal     = 0
	CellCount      = 3
	CellPosition   = 4
	CellAlbedo     = 8
	CellEmission   = 12
	CellIrradiance = 16
	CellSamples    = 19
	CellRadiance   = 20
	CellFlags      = 23
)

// Cell flags written by light injection.
const (
	CellFlagLit uint32 = 1 << iota
)

// Cell is a decoded VGB entry with its sums turned into means.
type Cell struct {
	Count      uint32
	Normal     mgl32.Vec3
	Position   mgl32.Vec3
	Albedo     mgl32.Vec3
	Emission   mgl32.Vec3
	Irradiance mgl32.Vec3
	Radiance   mgl32.Vec3
	Samples    uint32
	Flags      uint32
}

func (c Cell) Empty() bool { return c.Count == 0 }

// LoadCell decodes cell i of a bound VGB.
func LoadCell(r gpu.HostResource, i uint32) Cell {
	base := i * CellWords
	c := Cell{
		Count:      r.U32(base + CellCount),
		Irradiance: r.Vec3(base + CellIrradiance),
		Samples:    r.U32(base + CellSamples),
		Radiance:   r.Vec3(base + CellRadiance),
		Flags:      r.U32(base + CellFlags),
	}
	if c.Count == 0 {
		return c
	}
	inv := 1 / float32(c.Count)
	c.Normal = r.Vec3(base + CellNormal)
	if l := c.Normal.Len(); l > 0 {
		c.Normal = c.Normal.Mul(1 / l)
	}
	c.Position = r.Vec3(base + CellPosition).Mul(inv)
	c.Albedo = r.Vec3(base + CellAlbedo).Mul(inv)
	c.Emission = r.Vec3(base + CellEmission).Mul(inv)
	return c
}

// DecodeCells decodes a whole VGB read back from the device.
func DecodeCells(raw []byte) []Cell {
	r := gpu.HostResource{Words: gpu.BytesToWords(raw)}
	out := make([]Cell, r.Len()/CellWords)
	for i := range out {
		out[i] = LoadCell(r, uint32(i))
	}
	return out
}
