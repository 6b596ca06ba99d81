package gpu

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// HostResource is a bound buffer or storage image as seen by a host kernel. Every access is atomic
// so concurrently running invocations never race.
type HostResource struct {
	Words  []uint32
	Width  uint32
	Height uint32
}

func (r HostResource) Len() uint32 { return uint32(len(r.Words)) }

func (r HostResource) U32(i uint32) uint32 { return atomic.LoadUint32(&r.Words[i]) }

func (r HostResource) F32(i uint32) float32 { return math.Float32frombits(r.U32(i)) }

func (r HostResource) Vec3(i uint32) mgl32.Vec3 {
	return mgl32.Vec3{r.F32(i), r.F32(i + 1), r.F32(i + 2)}
}

func (r HostResource) Vec4(i uint32) mgl32.Vec4 {
	return mgl32.Vec4{r.F32(i), r.F32(i + 1), r.F32(i + 2), r.F32(i + 3)}
}

func (r HostResource) StoreU32(i, v uint32) { atomic.StoreUint32(&r.Words[i], v) }

func (r HostResource) StoreF32(i uint32, v float32) { r.StoreU32(i, math.Float32bits(v)) }

func (r HostResource) StoreVec3(i uint32, v mgl32.Vec3) {
	r.StoreF32(i, v[0])
	r.StoreF32(i+1, v[1])
	r.StoreF32(i+2, v[2])
}

func (r HostResource) StoreVec4(i uint32, v mgl32.Vec4) {
	for k := uint32(0); k < 4; k++ {
		r.StoreF32(i+k, v[k])
	}
}

func (r HostResource) AddU32(i, delta uint32) uint32 { return atomic.AddUint32(&r.Words[i], delta) }

// AddF32 is a compare-and-swap float add, the same loop the WGSL kernels run on atomic<u32>.
func (r HostResource) AddF32(i uint32, delta float32) {
	for {
		old := atomic.LoadUint32(&r.Words[i])
		next := math.Float32bits(math.Float32frombits(old) + delta)
		if atomic.CompareAndSwapUint32(&r.Words[i], old, next) {
			return
		}
	}
}

func (r HostResource) AddVec3(i uint32, v mgl32.Vec3) {
	r.AddF32(i, v[0])
	r.AddF32(i+1, v[1])
	r.AddF32(i+2, v[2])
}

// PushBuilder packs push constants with std140-compatible little-endian layout.
type PushBuilder struct {
	buf []byte
}

func NewPush() *PushBuilder { return &PushBuilder{buf: make([]byte, 0, 64)} }

func (p *PushBuilder) U32(v uint32) *PushBuilder {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
	return p
}

func (p *PushBuilder) I32(v int32) *PushBuilder { return p.U32(uint32(v)) }

func (p *PushBuilder) F32(v float32) *PushBuilder { return p.U32(math.Float32bits(v)) }

// Vec3 writes three floats and a trailing pad word.
func (p *PushBuilder) Vec3(v mgl32.Vec3, pad float32) *PushBuilder {
	return p.F32(v[0]).F32(v[1]).F32(v[2]).F32(pad)
}

func (p *PushBuilder) Mat4(m mgl32.Mat4) *PushBuilder {
	for _, f := range m {
		p.F32(f)
	}
	return p
}

// Bytes pads the constants to a 16-byte multiple.
func (p *PushBuilder) Bytes() []byte {
	for len(p.buf)%16 != 0 {
		p.buf = append(p.buf, 0)
	}
	return p.buf
}

// PushReader decodes push constants on the host side, in the order they were written.
type PushReader struct {
	buf []byte
	off int
}

func NewPushReader(b []byte) *PushReader { return &PushReader{buf: b} }

func (p *PushReader) U32() uint32 {
	if p.off+4 > len(p.buf) {
		p.off += 4
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.off:])
	p.off += 4
	return v
}

func (p *PushReader) I32() int32 { return int32(p.U32()) }

func (p *PushReader) F32() float32 { return math.Float32frombits(p.U32()) }

func (p *PushReader) Vec3() mgl32.Vec3 {
	v := mgl32.Vec3{p.F32(), p.F32(), p.F32()}
	p.F32()
	return v
}

func (p *PushReader) Mat4() mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = p.F32()
	}
	return m
}

// BytesToWords converts little-endian bytes to words, zero-padding a partial trailing word.
func BytesToWords(b []byte) []uint32 {
	out := make([]uint32, (len(b)+3)/4)
	for i := range out {
		var w [4]byte
		copy(w[:], b[i*4:])
		out[i] = binary.LittleEndian.Uint32(w[:])
	}
	return out
}

func WordsToBytes(w []uint32) []byte {
	out := make([]byte, len(w)*4)
	for i, v := range w {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}
