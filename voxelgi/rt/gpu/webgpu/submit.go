package webgpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

// pushAlign is minUniformBufferOffsetAlignment on every adapter WebGPU targets.
const pushAlign = 256

// pushRing stages every push block of a submission into one uniform buffer. Queue writes are
// ordered with submissions, so the ring is rewritten from offset zero for every list.
type pushRing struct {
	d    *Device
	buf  *wgpu.Buffer
	data []byte
}

func newPushRing(d *Device) *pushRing { return &pushRing{d: d} }

// add reserves an aligned slot and returns its offset and binding size.
func (r *pushRing) add(push []byte) (uint64, uint64) {
	off := uint64(len(r.data))
	size := max(uint64(len(push)+15)&^15, 16)
	r.data = append(r.data, push...)
	r.data = append(r.data, make([]byte, int(size)-len(push))...)
	if pad := (pushAlign - len(r.data)%pushAlign) % pushAlign; pad != 0 {
		r.data = append(r.data, make([]byte, pad)...)
	}
	return off, size
}

func (r *pushRing) flush() error {
	needed := uint64(max(len(r.data), pushAlign))
	if r.buf == nil || r.buf.GetSize() < needed {
		if r.buf != nil {
			r.buf.Release()
		}
		buf, err := r.d.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "PushRing",
			Size:  needed * 2,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			panic(err)
		}
		r.buf = buf
	}
	if len(r.data) == 0 {
		return nil
	}
	return r.d.Queue.WriteBuffer(r.buf, 0, r.data)
}

func (r *pushRing) reset() { r.data = r.data[:0] }

func (r *pushRing) release() {
	if r.buf != nil {
		r.buf.Release()
		r.buf = nil
	}
}

type slot struct{ offset, size uint64 }

// Submit encodes the list into one command buffer. Consecutive dispatches share a compute pass;
// each barrier closes the open pass, which is where WebGPU synchronizes storage accesses. Every
// draw gets its own render pass over its target.
func (d *Device) Submit(list *gpu.CommandList) error {
	if d.validate {
		if err := list.Validate(); err != nil {
			return fmt.Errorf("submit %q: %w", list.Name, err)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	cmds := list.Commands()
	d.ring.reset()
	slots := make([]slot, len(cmds))
	for i, c := range cmds {
		switch cmd := c.(type) {
		case *gpu.DispatchCmd:
			slots[i].offset, slots[i].size = d.ring.add(cmd.Push)
		case *gpu.DrawCmd:
			slots[i].offset, slots[i].size = d.ring.add(cmd.Push)
		}
	}
	if err := d.ring.flush(); err != nil {
		return fmt.Errorf("submit %q: push upload: %w", list.Name, err)
	}

	encoder, err := d.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: list.Name})
	if err != nil {
		return fmt.Errorf("submit %q: %w", list.Name, err)
	}
	defer encoder.Release()

	var groups []*wgpu.BindGroup
	defer func() {
		for _, g := range groups {
			g.Release()
		}
	}()
	bind := func(label string, lay *layouts, s slot, bindings []gpu.Binding) (*wgpu.BindGroup, *wgpu.BindGroup, error) {
		pg, err := d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   label + " push",
			Layout:  lay.push,
			Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: d.ring.buf, Offset: s.offset, Size: s.size}},
		})
		if err != nil {
			return nil, nil, err
		}
		groups = append(groups, pg)
		bg, err := d.bindGroup(label, lay.bindings, bindings)
		if err != nil {
			return nil, nil, err
		}
		groups = append(groups, bg)
		return pg, bg, nil
	}

	var pass *wgpu.ComputePassEncoder
	endPass := func() {
		if pass != nil {
			pass.End()
			pass.Release()
			pass = nil
		}
	}

	for i, c := range cmds {
		switch cmd := c.(type) {
		case *gpu.DispatchCmd:
			cp, err := d.computeFor(cmd)
			if err != nil {
				endPass()
				return fmt.Errorf("submit %q command %d: %w", list.Name, i, err)
			}
			pg, bg, err := bind(cmd.Kernel.Name, cp.layouts, slots[i], cmd.Bindings)
			if err != nil {
				endPass()
				return fmt.Errorf("submit %q command %d (%s): %w", list.Name, i, cmd.Kernel.Name, err)
			}
			if pass == nil {
				pass = encoder.BeginComputePass(nil)
			}
			pass.SetPipeline(cp.pipeline)
			pass.SetBindGroup(0, pg, nil)
			pass.SetBindGroup(1, bg, nil)
			pass.DispatchWorkgroups(cmd.Groups.X, cmd.Groups.Y, 1)

		case *gpu.DrawCmd:
			endPass()
			if err := d.encodeDraw(encoder, cmd, slots[i], bind); err != nil {
				return fmt.Errorf("submit %q command %d (%s): %w", list.Name, i, cmd.Pipeline.Name, err)
			}

		case *gpu.BarrierCmd:
			endPass()
		}
	}
	endPass()

	cmdBuf, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("submit %q: %w", list.Name, err)
	}
	defer cmdBuf.Release()
	d.Queue.Submit(cmdBuf)
	return nil
}

type binder func(label string, lay *layouts, s slot, bindings []gpu.Binding) (*wgpu.BindGroup, *wgpu.BindGroup, error)

func (d *Device) encodeDraw(encoder *wgpu.CommandEncoder, cmd *gpu.DrawCmd, s slot, bind binder) error {
	target := nativeImage(cmd.Target)
	vb, ib := native(cmd.Vertices), native(cmd.Indices)
	if target == nil || vb == nil || ib == nil {
		return fmt.Errorf("draw %s: target, vertices and indices are required", cmd.Pipeline.Name)
	}
	rp, err := d.renderFor(cmd)
	if err != nil {
		return err
	}
	pg, bg, err := bind(cmd.Pipeline.Name, rp.layouts, s, cmd.Bindings)
	if err != nil {
		return err
	}
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: cmd.Pipeline.Name,
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    target.view,
			LoadOp:  wgpu.LoadOpClear,
			StoreOp: wgpu.StoreOpDiscard,
		}},
	})
	defer pass.Release()
	pass.SetPipeline(rp.pipeline)
	pass.SetBindGroup(0, pg, nil)
	pass.SetBindGroup(1, bg, nil)
	pass.SetVertexBuffer(0, vb, 0, wgpu.WholeSize)
	pass.SetIndexBuffer(ib, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	pass.DrawIndexed(cmd.IndexCount, 1, cmd.FirstIndex, int32(cmd.BaseVertex), 0)
	pass.End()
	return nil
}
