package gpucmd

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/passrec"
)

// ComputePass records dispatches.
//
// Read-write resources are fixed when the pass begins and cannot also be
// bound read-only in the same pass. Like render passes, compute passes are
// encoded when End is called.
type ComputePass struct {
	passBase

	usage passUsage
	rec   passrec.ComputeRecording

	pipeline *ComputePipeline
	binder   groupBinder
	readOnly *stageBindings
	rw       *stageBindings
	rwCounts [2]uint32
}

// BeginComputePass opens a compute pass. rwTextures and rwBuffers are
// bound to the read-write slots of every pipeline used in the pass.
//
// BeginComputePass never returns nil. On misuse the returned pass is invalid.
func (cb *CommandBuffer) BeginComputePass(rwTextures []StorageTextureReadWriteBinding, rwBuffers []StorageBufferReadWriteBinding) *ComputePass {
	const op = "CommandBuffer.BeginComputePass"
	if !cb.beginPass(op) {
		return &ComputePass{}
	}
	lim := cb.device.caps.Limits
	if uint32(len(rwTextures)) > lim.MaxStorageTexturesPerShaderStage {
		cb.misuse(op, "too many read-write storage textures", "count", len(rwTextures))
		return &ComputePass{}
	}
	if uint32(len(rwBuffers)) > lim.MaxStorageBuffersPerShaderStage {
		cb.misuse(op, "too many read-write storage buffers", "count", len(rwBuffers))
		return &ComputePass{}
	}

	p := &ComputePass{
		passBase: passBase{cb: cb, kind: "compute pass"},
		readOnly: newStageBindings(),
		rw:       newStageBindings(),
		rwCounts: [2]uint32{uint32(len(rwTextures)), uint32(len(rwBuffers))},
	}
	for i, b := range rwTextures {
		if !p.bindReadWriteTexture(op, uint32(i), b) {
			return &ComputePass{}
		}
	}
	for i, b := range rwBuffers {
		if !p.bindReadWriteBuffer(op, uint32(i), b) {
			return &ComputePass{}
		}
	}
	p.state = PassStateRecording
	cb.open = p
	return p
}

func (p *ComputePass) bindReadWriteTexture(op string, slot uint32, b StorageTextureReadWriteBinding) bool {
	cb := p.cb
	t := b.Texture
	switch {
	case !t.IsValid():
		cb.misuse(op, "read-write texture is invalid", "slot", slot)
		return false
	case t.info.Usage&(TextureUsageComputeStorageWrite|TextureUsageComputeStorageSimultaneousReadWrite) == 0:
		cb.misuse(op, "texture lacks compute storage write usage", "slot", slot, "texture", t.h.label())
		return false
	case b.MipLevel >= t.info.NumLevels || (t.info.Type != TextureType3D && b.Layer >= t.layers()):
		cb.misuse(op, "read-write texture subresource out of range", "slot", slot, "texture", t.h.label())
		return false
	}
	a, ok := cb.useTexture(op, t, b.Cycle)
	if !ok {
		return false
	}
	if p.usage.isWritten(&a.allocation) {
		cb.misuse(op, "texture bound read-write twice", "slot", slot, "texture", t.h.label())
		return false
	}
	p.usage.texture(a, gputypes.TextureUsageStorageBinding)
	p.usage.markWritten(&a.allocation)
	view, err := t.subresourceView(a, b.MipLevel, b.Layer)
	if err != nil {
		cb.misuse(op, "texture view creation failed", "err", err)
		return false
	}
	p.rw.setStorageTexture(slot, view)
	return true
}

func (p *ComputePass) bindReadWriteBuffer(op string, slot uint32, b StorageBufferReadWriteBinding) bool {
	cb := p.cb
	if !b.Buffer.IsValid() {
		cb.misuse(op, "read-write buffer is invalid", "slot", slot)
		return false
	}
	if b.Buffer.usage&BufferUsageComputeStorageWrite == 0 {
		cb.misuse(op, "buffer lacks compute storage write usage", "slot", slot, "buffer", b.Buffer.h.label())
		return false
	}
	a, ok := cb.useBuffer(op, b.Buffer, b.Cycle)
	if !ok {
		return false
	}
	if p.usage.isWritten(&a.allocation) {
		cb.misuse(op, "buffer bound read-write twice", "slot", slot, "buffer", b.Buffer.h.label())
		return false
	}
	p.usage.buffer(a, gputypes.BufferUsageStorage)
	p.usage.markWritten(&a.allocation)
	p.rw.setBuffer(slot, boundBuffer{buf: a.buf, size: b.Buffer.size})
	return true
}

// BindComputePipeline binds a pipeline. Its read-write slot counts must
// match the resources the pass was begun with.
func (p *ComputePass) BindComputePipeline(pipeline *ComputePipeline) {
	const op = "ComputePass.BindComputePipeline"
	if !p.active(op) {
		return
	}
	cb := p.cb
	if !pipeline.IsValid() || pipeline.h.owner() != cb.device {
		cb.misuse(op, "pipeline is invalid")
		return
	}
	if pipeline.rwStorageTextures > p.rwCounts[0] || pipeline.rwStorageBuffers > p.rwCounts[1] {
		cb.misuse(op, "pipeline needs more read-write resources than the pass binds",
			"pipeline", pipeline.h.label(),
			"textures", pipeline.rwStorageTextures, "buffers", pipeline.rwStorageBuffers)
		return
	}
	a, ok := pipeline.current()
	if !ok {
		cb.misuse(op, "pipeline is invalid")
		return
	}
	cb.use(&a.allocation)
	p.pipeline = pipeline
	p.binder.reset(a.bindings, []*stageBindings{p.readOnly, p.rw, cb.uniforms[uniformCompute]})
	p.rec.Record(passrec.SetComputePipeline{Pipeline: a.compute})
}

// BindSamplers binds texture-sampler pairs to sampler slots.
func (p *ComputePass) BindSamplers(firstSlot uint32, bindings []TextureSamplerBinding) {
	const op = "ComputePass.BindSamplers"
	if p.active(op) {
		p.cb.bindSamplers(op, p.readOnly, &p.usage, firstSlot, bindings)
	}
}

// BindStorageTextures binds read-only storage textures.
func (p *ComputePass) BindStorageTextures(firstSlot uint32, textures []*Texture) {
	const op = "ComputePass.BindStorageTextures"
	if p.active(op) {
		p.cb.bindStorageTextures(op, p.readOnly, &p.usage, firstSlot, textures, TextureUsageComputeStorageRead)
	}
}

// BindStorageBuffers binds read-only storage buffers.
func (p *ComputePass) BindStorageBuffers(firstSlot uint32, buffers []*Buffer) {
	const op = "ComputePass.BindStorageBuffers"
	if p.active(op) {
		p.cb.bindStorageBuffers(op, p.readOnly, &p.usage, firstSlot, buffers, BufferUsageComputeStorageRead)
	}
}

func (p *ComputePass) prepareDispatch(op string) bool {
	if !p.active(op) {
		return false
	}
	cb := p.cb
	if p.pipeline == nil {
		cb.misuse(op, "no pipeline bound")
		return false
	}
	err := p.binder.flush(cb, func(index uint32, group hal.BindGroup) {
		p.rec.Record(passrec.SetBindGroup{Index: index, Group: group})
	})
	if err != nil {
		cb.misuse(op, "bindings incomplete", "err", err)
		return false
	}
	return true
}

// Dispatch runs x*y*z workgroups.
func (p *ComputePass) Dispatch(x, y, z uint32) {
	const op = "ComputePass.Dispatch"
	if !p.prepareDispatch(op) {
		return
	}
	if limit := p.cb.device.caps.Limits.MaxComputeWorkgroupsPerDimension; limit > 0 && (x > limit || y > limit || z > limit) {
		p.cb.misuse(op, "workgroup count exceeds limit", "groups", [3]uint32{x, y, z}, "max", limit)
		return
	}
	p.rec.Record(passrec.Dispatch{X: x, Y: y, Z: z})
}

// DispatchIndirect runs a dispatch whose three uint32 workgroup counts are
// read from buffer at offset.
func (p *ComputePass) DispatchIndirect(buffer *Buffer, offset uint64) {
	const op = "ComputePass.DispatchIndirect"
	if !p.prepareDispatch(op) {
		return
	}
	cb := p.cb
	if !buffer.IsValid() || buffer.usage&BufferUsageIndirect == 0 {
		cb.misuse(op, "buffer is invalid or lacks indirect usage")
		return
	}
	if offset%4 != 0 || offset > buffer.size || dispatchIndirectSize > buffer.size-offset {
		cb.misuse(op, "indirect arguments out of range", "offset", offset, "size", buffer.size)
		return
	}
	a, ok := cb.useBuffer(op, buffer, false)
	if !ok {
		return
	}
	if p.usage.isWritten(&a.allocation) {
		cb.misuse(op, "indirect buffer is bound read-write in this pass", "buffer", buffer.h.label())
		return
	}
	p.usage.buffer(a, gputypes.BufferUsageIndirect)
	p.rec.Record(passrec.DispatchIndirect{Buffer: a.buf, Offset: offset})
}

// End closes the pass and encodes it.
func (p *ComputePass) End() {
	if !p.active("ComputePass.End") {
		return
	}
	cb := p.cb
	p.usage.apply(cb.encoder)
	enc := cb.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "gpucmd.compute"})
	p.rec.Playback(enc)
	enc.End()

	Logger().Debug("gpucmd: compute pass encoded",
		"commands", p.rec.Len(),
		"dispatches", p.rec.Count(passrec.CmdDispatch)+p.rec.Count(passrec.CmdDispatchIndirect))
	p.state = PassStateEnded
	p.rec.Reset()
	cb.open = nil
}

func (p *ComputePass) abort() {
	p.state = PassStateEnded
	p.rec.Reset()
}
