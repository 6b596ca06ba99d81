package webgpu

import (
	"fmt"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

// Layouts are explicit rather than "auto": an entry point that ignores a declared binding would
// drop it from an auto layout and reject the bind group built from the command's bindings.
type layouts struct {
	push     *wgpu.BindGroupLayout
	bindings *wgpu.BindGroupLayout
	pipeline *wgpu.PipelineLayout
}

func (l *layouts) release() {
	l.pipeline.Release()
	l.bindings.Release()
	l.push.Release()
}

// signature identifies the binding kinds of a command; pipelines are compiled once per signature.
func signature(bindings []gpu.Binding) string {
	var sb strings.Builder
	for _, b := range bindings {
		switch {
		case b.Image != nil:
			sb.WriteByte('i')
		case b.Uniform:
			sb.WriteByte('u')
		case b.Access == gpu.AccessRead:
			sb.WriteByte('r')
		default:
			sb.WriteByte('w')
		}
	}
	return sb.String()
}

func (d *Device) createLayouts(label string, bindings []gpu.Binding, vis wgpu.ShaderStage) (*layouts, error) {
	push, err := d.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: label + " push",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: vis,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
		}},
	})
	if err != nil {
		return nil, err
	}
	entries := make([]wgpu.BindGroupLayoutEntry, len(bindings))
	for i, b := range bindings {
		e := wgpu.BindGroupLayoutEntry{Binding: uint32(i), Visibility: vis}
		switch {
		case b.Image != nil:
			e.StorageTexture = wgpu.StorageTextureBindingLayout{
				Access:        wgpu.StorageTextureAccessWriteOnly,
				Format:        textureFormat(b.Image.Format),
				ViewDimension: wgpu.TextureViewDimension2D,
			}
		case b.Uniform:
			e.Buffer = wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}
		case b.Access == gpu.AccessRead:
			e.Buffer = wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}
		default:
			e.Buffer = wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}
		}
		entries[i] = e
	}
	group, err := d.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{Label: label + " bindings", Entries: entries})
	if err != nil {
		push.Release()
		return nil, err
	}
	pl, err := d.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: []*wgpu.BindGroupLayout{push, group},
	})
	if err != nil {
		group.Release()
		push.Release()
		return nil, err
	}
	return &layouts{push: push, bindings: group, pipeline: pl}, nil
}

type compiledCompute struct {
	layouts  *layouts
	pipeline *wgpu.ComputePipeline
}

type computePipeline struct {
	module *wgpu.ShaderModule
	bySig  map[string]*compiledCompute
}

func (p *computePipeline) release() {
	for _, c := range p.bySig {
		c.pipeline.Release()
		c.layouts.release()
	}
	p.module.Release()
}

func (d *Device) shaderModule(label, code string) (*wgpu.ShaderModule, error) {
	mod, err := d.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		d.log.Errorf("shader module %s: %v", label, err)
		return nil, fmt.Errorf("shader module %s: %w", label, err)
	}
	return mod, nil
}

func (d *Device) computeFor(cmd *gpu.DispatchCmd) (*compiledCompute, error) {
	k := cmd.Kernel
	p, ok := d.kernels[k]
	if !ok {
		mod, err := d.shaderModule(k.Name, k.WGSL)
		if err != nil {
			return nil, err
		}
		p = &computePipeline{module: mod, bySig: make(map[string]*compiledCompute)}
		d.kernels[k] = p
	}
	sig := signature(cmd.Bindings)
	if c, ok := p.bySig[sig]; ok {
		return c, nil
	}
	lay, err := d.createLayouts(k.Name, cmd.Bindings, wgpu.ShaderStageCompute)
	if err != nil {
		return nil, fmt.Errorf("kernel %s layout: %w", k.Name, err)
	}
	entry := k.Entry
	if entry == "" {
		entry = "main"
	}
	pipe, err := d.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  k.Name,
		Layout: lay.pipeline,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     p.module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		lay.release()
		d.log.Errorf("compute pipeline %s: %v", k.Name, err)
		return nil, fmt.Errorf("compute pipeline %s: %w", k.Name, err)
	}
	c := &compiledCompute{layouts: lay, pipeline: pipe}
	p.bySig[sig] = c
	d.log.Debugf("compiled kernel %s [%s]", k.Name, sig)
	return c, nil
}

type compiledRender struct {
	layouts  *layouts
	pipeline *wgpu.RenderPipeline
}

type renderPipeline struct {
	module *wgpu.ShaderModule
	bySig  map[string]*compiledRender
}

func (p *renderPipeline) release() {
	for _, c := range p.bySig {
		c.pipeline.Release()
		c.layouts.release()
	}
	p.module.Release()
}

// Pooled vertices are vec4 position followed by vec4 normal.
var vertexLayout = wgpu.VertexBufferLayout{
	ArrayStride: gpu.VertexWords * 4,
	StepMode:    wgpu.VertexStepModeVertex,
	Attributes: []wgpu.VertexAttribute{
		{Format: wgpu.VertexFormatFloat32x4, Offset: 0, ShaderLocation: 0},
		{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 1},
	},
}

func (d *Device) renderFor(cmd *gpu.DrawCmd) (*compiledRender, error) {
	rp := cmd.Pipeline
	p, ok := d.raster[rp]
	if !ok {
		mod, err := d.shaderModule(rp.Name, rp.WGSL)
		if err != nil {
			return nil, err
		}
		p = &renderPipeline{module: mod, bySig: make(map[string]*compiledRender)}
		d.raster[rp] = p
	}
	sig := signature(cmd.Bindings)
	if c, ok := p.bySig[sig]; ok {
		return c, nil
	}
	lay, err := d.createLayouts(rp.Name, cmd.Bindings, wgpu.ShaderStageVertex|wgpu.ShaderStageFragment)
	if err != nil {
		return nil, fmt.Errorf("raster %s layout: %w", rp.Name, err)
	}
	pipe, err := d.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  rp.Name,
		Layout: lay.pipeline,
		Vertex: wgpu.VertexState{
			Module:     p.module,
			EntryPoint: rp.VertexEntry,
			Buffers:    []wgpu.VertexBufferLayout{vertexLayout},
		},
		Fragment: &wgpu.FragmentState{
			Module:     p.module,
			EntryPoint: rp.FragmentEntry,
			Targets: []wgpu.ColorTargetState{{
				Format:    textureFormat(rp.TargetFormat),
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		lay.release()
		d.log.Errorf("render pipeline %s: %v", rp.Name, err)
		return nil, fmt.Errorf("render pipeline %s: %w", rp.Name, err)
	}
	c := &compiledRender{layouts: lay, pipeline: pipe}
	p.bySig[sig] = c
	d.log.Debugf("compiled raster pipeline %s [%s]", rp.Name, sig)
	return c, nil
}

func (d *Device) bindGroup(label string, layout *wgpu.BindGroupLayout, bindings []gpu.Binding) (*wgpu.BindGroup, error) {
	entries := make([]wgpu.BindGroupEntry, len(bindings))
	for i, b := range bindings {
		e := wgpu.BindGroupEntry{Binding: uint32(i)}
		if b.Image != nil {
			ni := nativeImage(b.Image)
			if ni == nil {
				return nil, fmt.Errorf("binding %d %q: %w", i, b.Image.Label, gpu.ErrReleased)
			}
			e.TextureView = ni.view
		} else {
			nb := native(b.Buffer)
			if nb == nil {
				return nil, fmt.Errorf("binding %d %q: %w", i, b.Buffer.Label, gpu.ErrReleased)
			}
			e.Buffer = nb
			e.Size = wgpu.WholeSize
		}
		entries[i] = e
	}
	return d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{Label: label, Layout: layout, Entries: entries})
}
