package core

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Writer packs little-endian GPU records.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer { return &Writer{buf: make([]byte, 0, capacity)} }

func (w *Writer) U32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) F32(v float32) *Writer { return w.U32(math.Float32bits(v)) }

func (w *Writer) Vec4(v mgl32.Vec3, last float32) *Writer {
	return w.F32(v[0]).F32(v[1]).F32(v[2]).F32(last)
}

// Vec4U writes a vec3 followed by a u32 in the fourth lane.
func (w *Writer) Vec4U(v mgl32.Vec3, last uint32) *Writer {
	return w.F32(v[0]).F32(v[1]).F32(v[2]).U32(last)
}

func (w *Writer) Mat4(m mgl32.Mat4) *Writer {
	for _, f := range m {
		w.F32(f)
	}
	return w
}

// Pad appends zero bytes until the length is n.
func (w *Writer) Pad(n int) *Writer {
	for len(w.buf) < n {
		w.buf = append(w.buf, 0)
	}
	return w
}

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Bytes() []byte { return w.buf }

// Raw appends already packed bytes.
func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}
