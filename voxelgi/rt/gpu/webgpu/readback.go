package webgpu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

var errMapFailed = errors.New("buffer map failed")

// mapRead copies size bytes from src into a staging buffer, waits for the copy and maps it.
func (d *Device) mapRead(label string, size uint64, copyIn func(enc *wgpu.CommandEncoder, dst *wgpu.Buffer)) ([]byte, error) {
	staging, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + " readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	enc, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	copyIn(enc, staging)
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, err
	}
	d.Queue.Submit(cmd)
	cmd.Release()

	var status wgpu.BufferMapAsyncStatus
	done := false
	err = staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	if err != nil {
		return nil, err
	}
	for !done {
		d.Device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("%w: %v", errMapFailed, status)
	}
	out := make([]byte, size)
	copy(out, staging.GetMappedRange(0, uint(size)))
	staging.Unmap()
	return out, nil
}

// ReadBuffer blocks until the queue drained and returns a copy of the buffer contents.
func (d *Device) ReadBuffer(buf *gpu.Buffer) ([]byte, error) {
	nb := native(buf)
	if nb == nil {
		return nil, fmt.Errorf("read %q: %w", buf.Label, gpu.ErrReleased)
	}
	size := nb.GetSize()
	raw, err := d.mapRead(buf.Label, size, func(enc *wgpu.CommandEncoder, dst *wgpu.Buffer) {
		enc.CopyBufferToBuffer(nb, 0, dst, 0, size)
	})
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", buf.Label, err)
	}
	return raw[:buf.Size], nil
}

// ReadImage returns RGBA8 images as one packed word per pixel, R in the low byte.
func (d *Device) ReadImage(img *gpu.Image) ([]uint32, error) {
	ni := nativeImage(img)
	if ni == nil {
		return nil, fmt.Errorf("read %q: %w", img.Label, gpu.ErrReleased)
	}
	texel := uint32(4)
	if img.Format == gpu.ImageFormatR8Unorm {
		texel = 1
	}
	bytesPerRow := (img.Width*texel + 255) &^ 255
	raw, err := d.mapRead(img.Label, uint64(bytesPerRow*img.Height), func(enc *wgpu.CommandEncoder, dst *wgpu.Buffer) {
		enc.CopyTextureToBuffer(
			&wgpu.ImageCopyTexture{Texture: ni.texture, MipLevel: 0, Origin: wgpu.Origin3D{}},
			&wgpu.ImageCopyBuffer{
				Buffer: dst,
				Layout: wgpu.TextureDataLayout{BytesPerRow: bytesPerRow, RowsPerImage: img.Height},
			},
			&wgpu.Extent3D{Width: img.Width, Height: img.Height, DepthOrArrayLayers: 1},
		)
	})
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", img.Label, err)
	}
	out := make([]uint32, img.Width*img.Height)
	for y := uint32(0); y < img.Height; y++ {
		row := raw[y*bytesPerRow:]
		for x := uint32(0); x < img.Width; x++ {
			if texel == 1 {
				out[y*img.Width+x] = uint32(row[x])
				continue
			}
			out[y*img.Width+x] = binary.LittleEndian.Uint32(row[x*4:])
		}
	}
	return out, nil
}
