package accel

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/svopg/voxelgi/rt/core"
)

// The acceleration buffer packs every structure the ray-tracing kernels traverse into one storage
// buffer. All offsets in the header are in 32-bit words from the start of the buffer.
//
//	header        HeaderWords
//	tlas nodes    bvh.NodeWords each
//	tlas prims    1 word each (record index)
//	instances     RecordWords each, the instance records
//	inverses      InverseWords each, world-to-object 3x4 row-major
//	infos         InfoWords each: material, mesh, first index, vertex offset
//	blas nodes    bvh.NodeWords each, all meshes back to back
//	blas prims    1 word each, triangle index local to its mesh
const (
	HeaderWords  = 16
	RecordSize   = 64
	RecordWords  = RecordSize / 4
	InverseWords = 12
	InfoWords    = 4
)

// Header word indices.
const (
	HdrTLASNodes = iota
	HdrTLASNodeCount
	HdrTLASPrims
	HdrInstances
	HdrInstanceCount
	HdrInverses
	HdrInfos
	HdrBLASNodes
	HdrBLASPrims
	HdrStaticCount
	HdrBLASCount
)

// Instance record flags, matching the ray-tracing API's instance flag bits.
const (
	InstanceFlagTriangleCullDisable uint32 = 0x1
)

// DefaultMask makes every instance visible to every ray.
const DefaultMask = 0xFF

// BLASRef is the "device address" of one mesh's BLAS: the global index of its root node and of
// its first primitive id.
type BLASRef struct {
	NodeBase uint32
	PrimBase uint32
}

func (r BLASRef) Address() uint64 { return uint64(r.PrimBase)<<32 | uint64(r.NodeBase) }

func RefFromAddress(a uint64) BLASRef {
	return BLASRef{NodeBase: uint32(a), PrimBase: uint32(a >> 32)}
}

// Record is one top-level instance: a row-major 3x4 object-to-world transform, a 24-bit custom
// index (the mesh index) with an 8-bit mask, a 24-bit shader binding table offset with 8 flag
// bits, and the BLAS address.
type Record struct {
	Transform   [12]float32
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       uint8
	BLAS        uint64
}

// RowMajor3x4 converts a column-major matrix to the top three rows of its row-major form.
func RowMajor3x4(m mgl32.Mat4) [12]float32 {
	var out [12]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m.At(r, c)
		}
	}
	return out
}

func NewRecord(inst *core.Instance, ref BLASRef) Record {
	return Record{
		Transform:   RowMajor3x4(inst.Transform.ObjectToWorld()),
		CustomIndex: uint32(inst.Mesh),
		Mask:        DefaultMask,
		SBTOffset:   0,
		Flags:       uint8(InstanceFlagTriangleCullDisable),
		BLAS:        ref.Address(),
	}
}

func (r Record) AppendTo(w *core.Writer) {
	for _, f := range r.Transform {
		w.F32(f)
	}
	w.U32(r.CustomIndex&0xFFFFFF | uint32(r.Mask)<<24)
	w.U32(r.SBTOffset&0xFFFFFF | uint32(r.Flags)<<24)
	w.U32(uint32(r.BLAS))
	w.U32(uint32(r.BLAS >> 32))
}

func (r Record) Bytes() []byte {
	w := core.NewWriter(RecordSize)
	r.AppendTo(w)
	return w.Bytes()
}

// DecodeRecord is the inverse of Record.Bytes.
func DecodeRecord(words []uint32) Record {
	var r Record
	for i := range r.Transform {
		r.Transform[i] = f32frombits(words[i])
	}
	r.CustomIndex = words[12] & 0xFFFFFF
	r.Mask = uint8(words[12] >> 24)
	r.SBTOffset = words[13] & 0xFFFFFF
	r.Flags = uint8(words[13] >> 24)
	r.BLAS = uint64(words[15])<<32 | uint64(words[14])
	return r
}
