// Package webgpu executes command lists on a WebGPU adapter.
package webgpu

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

// Device adapts a wgpu device to gpu.Device. Pipelines are created lazily on first use and cached
// per kernel; push constants are written into a uniform ring bound at @group(0).
type Device struct {
	Adapter *wgpu.Adapter
	Device  *wgpu.Device
	Queue   *wgpu.Queue

	log      svopg.Logger
	caps     gpu.Capabilities
	validate bool

	mu      sync.Mutex
	kernels map[*gpu.Kernel]*computePipeline
	raster  map[*gpu.RasterPipeline]*renderPipeline
	ring    *pushRing
}

type Option func(*Device)

func WithLogger(l svopg.Logger) Option { return func(d *Device) { d.log = l } }

// WithValidation runs the barrier hazard check on every submitted list.
func WithValidation(on bool) Option { return func(d *Device) { d.validate = on } }

// Open requests a high-performance adapter without a surface, for headless rendering.
func Open(opts ...Option) (*Device, error) {
	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}
	device, err := RequestDevice(adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to request device: %w", err)
	}
	return Wrap(adapter, device, opts...), nil
}

// RequestDevice asks for a device with the adapter's full limits; the defaults cap storage bindings
// at 128 MiB, too small for the larger voxel grids.
func RequestDevice(adapter *wgpu.Adapter) (*wgpu.Device, error) {
	var features []wgpu.FeatureName
	if adapter.HasFeature(wgpu.FeatureNameTimestampQuery) {
		features = append(features, wgpu.FeatureNameTimestampQuery)
	}
	return adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:            "voxelgi",
		RequiredFeatures: features,
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: adapter.GetLimits().Limits,
		},
	})
}

// Wrap adopts an adapter and device created elsewhere, e.g. by the interactive app for its surface.
func Wrap(adapter *wgpu.Adapter, device *wgpu.Device, opts ...Option) *Device {
	d := &Device{
		Adapter: adapter,
		Device:  device,
		Queue:   device.GetQueue(),
		kernels: make(map[*gpu.Kernel]*computePipeline),
		raster:  make(map[*gpu.RasterPipeline]*renderPipeline),
	}
	for _, o := range opts {
		o(d)
	}
	d.log = svopg.OrNop(d.log)

	d.caps = capabilities(device.GetLimits().Limits, device.HasFeature(wgpu.FeatureNameTimestampQuery))
	d.ring = newPushRing(d)
	info := adapter.GetInfo()
	d.log.Infof("webgpu adapter %q (%v), %d storage buffers per stage, %d MiB per storage binding",
		info.Name, info.BackendType, d.caps.MaxStorageBuffersPerStage, d.caps.MaxStorageBufferBindingSize>>20)
	return d
}

// capabilities reports what the device was granted, which may be less than the adapter offers.
func capabilities(limits wgpu.Limits, timestamps bool) gpu.Capabilities {
	return gpu.Capabilities{
		MaxStorageBuffersPerStage:   limits.MaxStorageBuffersPerShaderStage,
		MaxComputeInvocations:       limits.MaxComputeInvocationsPerWorkgroup,
		MaxStorageBufferBindingSize: limits.MaxStorageBufferBindingSize,
		MaxBufferSize:               limits.MaxBufferSize,
		TimestampQuery:              timestamps,
	}
}

func (d *Device) Name() string { return "webgpu" }

func (d *Device) Capabilities() gpu.Capabilities { return d.caps }

func bufferUsage(u gpu.BufferUsage) wgpu.BufferUsage {
	out := wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	if u&gpu.BufferUsageStorage != 0 || u == 0 {
		out |= wgpu.BufferUsageStorage
	}
	if u&gpu.BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if u&gpu.BufferUsageVertex != 0 {
		out |= wgpu.BufferUsageVertex
	}
	if u&gpu.BufferUsageIndex != 0 {
		out |= wgpu.BufferUsageIndex
	}
	return out
}

func native(b *gpu.Buffer) *wgpu.Buffer {
	if b == nil {
		return nil
	}
	nb, _ := b.Native.(*wgpu.Buffer)
	return nb
}

type image struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

func nativeImage(i *gpu.Image) *image {
	if i == nil {
		return nil
	}
	ni, _ := i.Native.(*image)
	return ni
}

func textureFormat(f gpu.ImageFormat) wgpu.TextureFormat {
	if f == gpu.ImageFormatR8Unorm {
		return wgpu.TextureFormatR8Unorm
	}
	return wgpu.TextureFormatRGBA8Unorm
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (*gpu.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q: zero size", desc.Label)
	}
	size := (desc.Size + 3) &^ 3
	nb, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("buffer %q: %w", desc.Label, err)
	}
	return &gpu.Buffer{Label: desc.Label, Size: desc.Size, Usage: desc.Usage, Native: nb}, nil
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (*gpu.Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("image %q: empty extent", desc.Label)
	}
	usage := wgpu.TextureUsageCopySrc
	if desc.Attachment {
		usage |= wgpu.TextureUsageRenderAttachment
	} else {
		usage |= wgpu.TextureUsageStorageBinding | wgpu.TextureUsageTextureBinding
	}
	tex, err := d.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        textureFormat(desc.Format),
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", desc.Label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("image %q view: %w", desc.Label, err)
	}
	return &gpu.Image{
		Label:  desc.Label,
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
		Native: &image{texture: tex, view: view},
	}, nil
}

// View exposes the texture view of an image, e.g. for the presentation blit.
func View(img *gpu.Image) *wgpu.TextureView {
	if ni := nativeImage(img); ni != nil {
		return ni.view
	}
	return nil
}

func (d *Device) WriteBuffer(buf *gpu.Buffer, offset uint64, data []byte) error {
	nb := native(buf)
	if nb == nil {
		return fmt.Errorf("write %q: %w", buf.Label, gpu.ErrReleased)
	}
	if offset%4 != 0 {
		return fmt.Errorf("write %q: offset %d not word aligned", buf.Label, offset)
	}
	if offset+uint64(len(data)) > buf.Size {
		return fmt.Errorf("write %q: %d bytes at %d overflow size %d", buf.Label, len(data), offset, buf.Size)
	}
	if rem := len(data) % 4; rem != 0 {
		data = append(append([]byte(nil), data...), make([]byte, 4-rem)...)
	}
	return d.Queue.WriteBuffer(nb, offset, data)
}

func (d *Device) DestroyBuffer(buf *gpu.Buffer) {
	if nb := native(buf); nb != nil {
		nb.Release()
		buf.Native = nil
	}
}

func (d *Device) DestroyImage(img *gpu.Image) {
	if ni := nativeImage(img); ni != nil {
		ni.view.Release()
		ni.texture.Release()
		img.Native = nil
	}
}

// WaitIdle polls the device until every submitted command buffer completed.
func (d *Device) WaitIdle() error {
	d.Device.Poll(true, nil)
	return nil
}

// Release drops cached pipelines and the push ring. Buffers and images stay owned by their stages.
func (d *Device) Release() {
	_ = d.WaitIdle()
	for _, p := range d.kernels {
		p.release()
	}
	for _, p := range d.raster {
		p.release()
	}
	d.ring.release()
	d.Device.Release()
}
