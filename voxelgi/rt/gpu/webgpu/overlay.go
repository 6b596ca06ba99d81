package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/shaders"
)

// Box is one wireframe cube of the debug overlay.
type Box struct {
	Min, Max mgl32.Vec3
	Color    [4]float32
}

// boxInstance matches the per-instance attributes of gizmo.wgsl: model matrix, then colour.
const boxInstanceSize = 16*4 + 4*4

// Overlay presents the tonemapped image on a surface and draws octree boxes and text over it.
type Overlay struct {
	d      *Device
	format wgpu.TextureFormat

	sampler   *wgpu.Sampler
	blit      *wgpu.RenderPipeline
	blitBG    *wgpu.BindGroup
	blitImage *gpu.Image

	gizmo       *wgpu.RenderPipeline
	cameraBuf   *wgpu.Buffer
	cameraBG    *wgpu.BindGroup
	cubeVB      *wgpu.Buffer
	cubeVerts   uint32
	instanceBuf *wgpu.Buffer
	boxCount    uint32

	atlas     *core.TextAtlas
	text      *wgpu.RenderPipeline
	textBG    *wgpu.BindGroup
	textVB    *wgpu.Buffer
	textVerts uint32
}

func blend() *wgpu.BlendState {
	return &wgpu.BlendState{
		Color: wgpu.BlendComponent{
			Operation: wgpu.BlendOperationAdd,
			SrcFactor: wgpu.BlendFactorSrcAlpha,
			DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		},
		Alpha: wgpu.BlendComponent{
			Operation: wgpu.BlendOperationAdd,
			SrcFactor: wgpu.BlendFactorOne,
			DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		},
	}
}

// NewOverlay builds the presentation pipelines for a surface of the given format. atlas may be nil,
// in which case text is not drawn.
func NewOverlay(d *Device, format wgpu.TextureFormat, atlas *core.TextAtlas) (*Overlay, error) {
	o := &Overlay{d: d, format: format, atlas: atlas}
	var err error
	o.sampler, err = d.Device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("overlay sampler: %w", err)
	}
	if err := o.initBlit(); err != nil {
		return nil, err
	}
	if err := o.initGizmo(); err != nil {
		return nil, err
	}
	if atlas != nil {
		if err := o.initText(); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Overlay) initBlit() error {
	mod, err := o.d.shaderModule("fullscreen", shaders.FullscreenWGSL)
	if err != nil {
		return err
	}
	defer mod.Release()
	o.blit, err = o.d.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Blit Pipeline",
		Vertex: wgpu.VertexState{Module: mod, EntryPoint: "vs_main"},
		Fragment: &wgpu.FragmentState{
			Module:     mod,
			EntryPoint: "fs_main",
			Targets:    []wgpu.ColorTargetState{{Format: o.format, WriteMask: wgpu.ColorWriteMaskAll}},
		},
		Primitive:   wgpu.PrimitiveState{Topology: wgpu.PrimitiveTopologyTriangleList},
		Multisample: wgpu.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("blit pipeline: %w", err)
	}
	return nil
}

// unitCube is the line list of a cube spanning [0,1]^3.
func unitCube() []mgl32.Vec3 {
	var lines []mgl32.Vec3
	corner := func(i int) mgl32.Vec3 {
		return mgl32.Vec3{float32(i & 1), float32(i >> 1 & 1), float32(i >> 2 & 1)}
	}
	for a := 0; a < 8; a++ {
		for _, bit := range []int{1, 2, 4} {
			if a&bit == 0 {
				lines = append(lines, corner(a), corner(a|bit))
			}
		}
	}
	return lines
}

func (o *Overlay) initGizmo() error {
	mod, err := o.d.shaderModule("gizmo", shaders.GizmoWGSL)
	if err != nil {
		return err
	}
	defer mod.Release()

	instanceAttrs := make([]wgpu.VertexAttribute, 5)
	for i := range instanceAttrs {
		instanceAttrs[i] = wgpu.VertexAttribute{
			Format:         wgpu.VertexFormatFloat32x4,
			Offset:         uint64(16 * i),
			ShaderLocation: uint32(2 + i),
		}
	}
	o.gizmo, err = o.d.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "GizmoPipeline",
		Vertex: wgpu.VertexState{
			Module:     mod,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: 12,
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes:  []wgpu.VertexAttribute{{Format: wgpu.VertexFormatFloat32x3, ShaderLocation: 0}},
				},
				{
					ArrayStride: boxInstanceSize,
					StepMode:    wgpu.VertexStepModeInstance,
					Attributes:  instanceAttrs,
				},
			},
		},
		Fragment: &wgpu.FragmentState{
			Module:     mod,
			EntryPoint: "fs_main",
			Targets:    []wgpu.ColorTargetState{{Format: o.format, WriteMask: wgpu.ColorWriteMaskAll, Blend: blend()}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyLineList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("gizmo pipeline: %w", err)
	}

	lines := unitCube()
	verts := make([]byte, 0, len(lines)*12)
	for _, p := range lines {
		for _, c := range p {
			verts = binary.LittleEndian.AppendUint32(verts, math.Float32bits(c))
		}
	}
	o.cubeVerts = uint32(len(lines))
	o.cubeVB, err = o.d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "GizmoUnitCube",
		Size:  uint64(len(verts)),
		Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gizmo vertices: %w", err)
	}
	if err := o.d.Queue.WriteBuffer(o.cubeVB, 0, verts); err != nil {
		return err
	}

	o.cameraBuf, err = o.d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "GizmoCamera",
		Size:  64,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gizmo camera: %w", err)
	}
	o.cameraBG, err = o.d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "GizmoCameraBG",
		Layout:  o.gizmo.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: o.cameraBuf, Size: 64}},
	})
	if err != nil {
		return fmt.Errorf("gizmo camera group: %w", err)
	}
	return nil
}

func (o *Overlay) initText() error {
	mod, err := o.d.shaderModule("text", shaders.TextWGSL)
	if err != nil {
		return err
	}
	defer mod.Release()
	o.text, err = o.d.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Text Pipeline",
		Vertex: wgpu.VertexState{
			Module:     mod,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: 32,
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes: []wgpu.VertexAttribute{
					{Format: wgpu.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
					{Format: wgpu.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
					{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 2},
				},
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     mod,
			EntryPoint: "fs_main",
			Targets:    []wgpu.ColorTargetState{{Format: o.format, WriteMask: wgpu.ColorWriteMaskAll, Blend: blend()}},
		},
		Primitive:   wgpu.PrimitiveState{Topology: wgpu.PrimitiveTopologyTriangleList},
		Multisample: wgpu.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("text pipeline: %w", err)
	}

	img := o.atlas.Image
	size := img.Bounds().Size()
	tex, err := o.d.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Text Atlas",
		Size:          wgpu.Extent3D{Width: uint32(size.X), Height: uint32(size.Y), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatR8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("text atlas: %w", err)
	}
	if err := o.d.Queue.WriteTexture(tex.AsImageCopy(), img.Pix, &wgpu.TextureDataLayout{
		BytesPerRow:  uint32(img.Stride),
		RowsPerImage: uint32(size.Y),
	}, &wgpu.Extent3D{Width: uint32(size.X), Height: uint32(size.Y), DepthOrArrayLayers: 1}); err != nil {
		return fmt.Errorf("text atlas upload: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		return fmt.Errorf("text atlas view: %w", err)
	}
	o.textBG, err = o.d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Text BG",
		Layout: o.text.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: view},
			{Binding: 1, Sampler: o.sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("text bind group: %w", err)
	}
	return nil
}

// ensureVertexBuffer grows buf like the scene buffers do and uploads data.
func (o *Overlay) ensureVertexBuffer(label string, buf **wgpu.Buffer, data []byte) {
	needed := uint64(len(data))
	if *buf == nil || (*buf).GetSize() < needed {
		if *buf != nil {
			(*buf).Release()
		}
		nb, err := o.d.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: label,
			Size:  needed + 4096,
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			panic(err)
		}
		*buf = nb
	}
	_ = o.d.Queue.WriteBuffer(*buf, 0, data)
}

// SetBoxes replaces the wireframe boxes drawn with the given view-projection.
func (o *Overlay) SetBoxes(boxes []Box, viewProj mgl32.Mat4) {
	o.boxCount = uint32(len(boxes))
	if len(boxes) == 0 {
		return
	}
	cam := make([]byte, 0, 64)
	for _, v := range gpu.ClipToNDC.Mul4(viewProj) {
		cam = binary.LittleEndian.AppendUint32(cam, math.Float32bits(v))
	}
	_ = o.d.Queue.WriteBuffer(o.cameraBuf, 0, cam)

	data := make([]byte, 0, len(boxes)*boxInstanceSize)
	for _, b := range boxes {
		ext := b.Max.Sub(b.Min)
		model := mgl32.Translate3D(b.Min.X(), b.Min.Y(), b.Min.Z()).Mul4(mgl32.Scale3D(ext.X(), ext.Y(), ext.Z()))
		for _, v := range model {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
		for _, c := range b.Color {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(c))
		}
	}
	o.ensureVertexBuffer("GizmoInstanceBuffer", &o.instanceBuf, data)
}

// SetText lays out the overlay text for a w x h surface.
func (o *Overlay) SetText(items []core.TextItem, w, h int) {
	o.textVerts = 0
	if o.atlas == nil || len(items) == 0 {
		return
	}
	verts := o.atlas.BuildVertices(items, w, h)
	if len(verts) == 0 {
		return
	}
	data := make([]byte, 0, len(verts)*32)
	for _, v := range verts {
		for _, f := range [8]float32{v.Pos[0], v.Pos[1], v.UV[0], v.UV[1], v.Color[0], v.Color[1], v.Color[2], v.Color[3]} {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(f))
		}
	}
	o.ensureVertexBuffer("Text VB", &o.textVB, data)
	o.textVerts = uint32(len(verts))
}

func (o *Overlay) bindOutput(output *gpu.Image) error {
	if o.blitImage == output && o.blitBG != nil {
		return nil
	}
	if o.blitBG != nil {
		o.blitBG.Release()
	}
	view := View(output)
	if view == nil {
		return fmt.Errorf("present %q: %w", output.Label, gpu.ErrReleased)
	}
	bg, err := o.d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Blit BG",
		Layout: o.blit.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: view},
			{Binding: 1, Sampler: o.sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("blit bind group: %w", err)
	}
	o.blitBG, o.blitImage = bg, output
	return nil
}

// Present blits output onto target and draws the boxes and text on top in one render pass.
func (o *Overlay) Present(target *wgpu.TextureView, output *gpu.Image) error {
	if err := o.bindOutput(output); err != nil {
		return err
	}
	enc, err := o.d.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer enc.Release()
	pass := enc.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    target,
			LoadOp:  wgpu.LoadOpClear,
			StoreOp: wgpu.StoreOpStore,
		}},
	})
	pass.SetPipeline(o.blit)
	pass.SetBindGroup(0, o.blitBG, nil)
	pass.Draw(3, 1, 0, 0)

	if o.boxCount > 0 && o.instanceBuf != nil {
		pass.SetPipeline(o.gizmo)
		pass.SetBindGroup(0, o.cameraBG, nil)
		pass.SetVertexBuffer(0, o.cubeVB, 0, wgpu.WholeSize)
		pass.SetVertexBuffer(1, o.instanceBuf, 0, wgpu.WholeSize)
		pass.Draw(o.cubeVerts, o.boxCount, 0, 0)
	}
	if o.textVerts > 0 && o.text != nil {
		pass.SetPipeline(o.text)
		pass.SetBindGroup(0, o.textBG, nil)
		pass.SetVertexBuffer(0, o.textVB, 0, wgpu.WholeSize)
		pass.Draw(o.textVerts, 1, 0, 0)
	}
	pass.End()
	pass.Release()

	cmd, err := enc.Finish(nil)
	if err != nil {
		return err
	}
	defer cmd.Release()
	o.d.Queue.Submit(cmd)
	return nil
}

func (o *Overlay) Release() {
	for _, b := range []*wgpu.Buffer{o.cubeVB, o.instanceBuf, o.cameraBuf, o.textVB} {
		if b != nil {
			b.Release()
		}
	}
	if o.blitBG != nil {
		o.blitBG.Release()
	}
	o.blit.Release()
	o.gizmo.Release()
	if o.text != nil {
		o.text.Release()
	}
	o.sampler.Release()
}
