package gpucmd

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/format"
	"github.com/gogpu/gpucmd/internal/passrec"
)

// RenderPass records draws into a set of render targets.
//
// Commands are recorded and encoded when End is called, after the barriers
// for every resource the pass used. Bindings made inside a pass persist
// across pipeline changes until the pass ends.
//
// A RenderPass returned for an invalid BeginRenderPass call is in the
// Invalid state; every method on it is a no-op.
type RenderPass struct {
	passBase

	desc  hal.RenderPassDescriptor
	usage passUsage
	rec   passrec.RenderRecording

	colorFormats []gputypes.TextureFormat
	depthFormat  gputypes.TextureFormat
	sampleCount  uint32
	width        uint32
	height       uint32

	pipeline      *GraphicsPipeline
	binder        groupBinder
	vertexRes     *stageBindings
	fragmentRes   *stageBindings
	vertexBuffers map[uint32]bool
	indexBound    bool

	// targets holds the subresources attached so far.
	targets map[targetKey]bool
}

type targetKey struct {
	tex          *Texture
	level, layer uint32
}

// BeginRenderPass opens a render pass on the given targets. At least one
// color target or a depth-stencil target is required, and every target
// must have the same size and sample count.
//
// BeginRenderPass never returns nil. On misuse the returned pass is invalid.
func (cb *CommandBuffer) BeginRenderPass(colorTargets []ColorTargetInfo, depthStencil *DepthStencilTargetInfo) *RenderPass {
	const op = "CommandBuffer.BeginRenderPass"
	if !cb.beginPass(op) {
		return &RenderPass{}
	}
	lim := cb.device.caps.Limits
	if len(colorTargets) == 0 && depthStencil == nil {
		cb.misuse(op, "no render targets")
		return &RenderPass{}
	}
	if uint32(len(colorTargets)) > lim.MaxColorAttachments {
		cb.misuse(op, "too many color targets", "count", len(colorTargets), "max", lim.MaxColorAttachments)
		return &RenderPass{}
	}

	p := &RenderPass{
		passBase:      passBase{cb: cb, kind: "render pass"},
		desc:          hal.RenderPassDescriptor{Label: "gpucmd.render"},
		vertexRes:     newStageBindings(),
		fragmentRes:   newStageBindings(),
		vertexBuffers: make(map[uint32]bool),
	}
	for i := range colorTargets {
		if !p.addColorTarget(op, &colorTargets[i]) {
			return &RenderPass{}
		}
	}
	if depthStencil != nil && !p.addDepthTarget(op, depthStencil) {
		return &RenderPass{}
	}

	p.rec.Record(passrec.SetViewport{Width: float32(p.width), Height: float32(p.height), MaxDepth: 1})
	p.rec.Record(passrec.SetScissor{Width: p.width, Height: p.height})
	p.state = PassStateRecording
	cb.open = p
	return p
}

// targetSize checks that a target matches the size and sample count of the
// targets added before it.
func (p *RenderPass) targetSize(op string, t *Texture, level uint32) bool {
	w := format.MipExtent(t.info.Width, level)
	h := format.MipExtent(t.info.Height, level)
	if p.width == 0 {
		p.width, p.height, p.sampleCount = w, h, t.info.SampleCount
		return true
	}
	if w != p.width || h != p.height {
		p.cb.misuse(op, "render target sizes differ", "texture", t.h.label(),
			"size", [2]uint32{w, h}, "want", [2]uint32{p.width, p.height})
		return false
	}
	if t.info.SampleCount != p.sampleCount {
		p.cb.misuse(op, "render target sample counts differ", "texture", t.h.label())
		return false
	}
	return true
}

// subresourceInRange checks a level and layer (or 3D depth plane) of t.
func subresourceInRange(t *Texture, level, layer uint32) bool {
	if level >= t.info.NumLevels {
		return false
	}
	if t.info.Type == TextureType3D {
		// Views cannot select a single depth plane, so only plane 0 can be
		// rendered to.
		return layer == 0
	}
	return layer < t.layers()
}

func (p *RenderPass) addColorTarget(op string, ct *ColorTargetInfo) bool {
	cb := p.cb
	t := ct.Texture
	if !t.IsValid() {
		cb.misuse(op, "color target texture is invalid")
		return false
	}
	if t.info.Usage&TextureUsageColorTarget == 0 {
		cb.misuse(op, "texture lacks color target usage", "texture", t.h.label())
		return false
	}
	if !subresourceInRange(t, ct.MipLevel, ct.LayerOrDepthPlane) {
		cb.misuse(op, "color target subresource out of range",
			"texture", t.h.label(), "level", ct.MipLevel, "layer", ct.LayerOrDepthPlane)
		return false
	}
	if !p.targetSize(op, t, ct.MipLevel) {
		return false
	}

	cycle := ct.Cycle
	if cycle && ct.LoadOp == LoadOpLoad {
		Logger().Debug("gpucmd: cycle ignored for a loaded color target", "texture", t.h.label())
		cycle = false
	}
	a, ok := cb.useTexture(op, t, cycle)
	if !ok {
		return false
	}
	if !p.attach(op, t, a, ct.MipLevel, ct.LayerOrDepthPlane) {
		return false
	}
	view, err := t.subresourceView(a, ct.MipLevel, ct.LayerOrDepthPlane)
	if err != nil {
		cb.misuse(op, "texture view creation failed", "err", err)
		return false
	}

	att := hal.RenderPassColorAttachment{
		View:       view,
		LoadOp:     loadOpToHAL(ct.LoadOp),
		StoreOp:    storeOpToHAL(ct.StoreOp),
		ClearValue: ct.ClearColor,
	}
	if ct.StoreOp.resolves() {
		rv, ok := p.resolveTarget(op, ct)
		if !ok {
			return false
		}
		att.ResolveTarget = rv
	}
	p.desc.ColorAttachments = append(p.desc.ColorAttachments, att)
	p.colorFormats = append(p.colorFormats, t.info.Format)
	return true
}

// attach marks one subresource of t as a target of the pass. A subresource
// can be attached once.
func (p *RenderPass) attach(op string, t *Texture, a *textureAlloc, level, layer uint32) bool {
	key := targetKey{tex: t, level: level, layer: layer}
	if p.targets[key] {
		p.cb.misuse(op, "subresource bound twice as a target",
			"texture", t.h.label(), "level", level, "layer", layer)
		return false
	}
	if !p.usage.texture(a, gputypes.TextureUsageRenderAttachment) {
		p.cb.misuse(op, "target texture already used for another purpose", "texture", t.h.label())
		return false
	}
	if p.targets == nil {
		p.targets = make(map[targetKey]bool)
	}
	p.targets[key] = true
	return true
}

func (p *RenderPass) resolveTarget(op string, ct *ColorTargetInfo) (hal.TextureView, bool) {
	cb := p.cb
	t, r := ct.Texture, ct.ResolveTexture
	switch {
	case t.info.SampleCount == 1:
		cb.misuse(op, "resolve store op on a single-sampled target", "texture", t.h.label())
		return nil, false
	case !r.IsValid():
		cb.misuse(op, "resolve texture is invalid", "texture", t.h.label())
		return nil, false
	case r.info.SampleCount != 1:
		cb.misuse(op, "resolve texture is multisampled", "texture", r.h.label())
		return nil, false
	case r.info.Format != t.info.Format:
		cb.misuse(op, "resolve texture format differs", "texture", r.h.label())
		return nil, false
	case r.info.Usage&TextureUsageColorTarget == 0:
		cb.misuse(op, "resolve texture lacks color target usage", "texture", r.h.label())
		return nil, false
	case !subresourceInRange(r, ct.ResolveMipLevel, ct.ResolveLayer):
		cb.misuse(op, "resolve subresource out of range", "texture", r.h.label())
		return nil, false
	case format.MipExtent(r.info.Width, ct.ResolveMipLevel) != p.width ||
		format.MipExtent(r.info.Height, ct.ResolveMipLevel) != p.height:
		cb.misuse(op, "resolve texture size differs", "texture", r.h.label())
		return nil, false
	}
	a, ok := cb.useTexture(op, r, ct.CycleResolveTexture)
	if !ok {
		return nil, false
	}
	if !p.attach(op, r, a, ct.ResolveMipLevel, ct.ResolveLayer) {
		return nil, false
	}
	view, err := r.subresourceView(a, ct.ResolveMipLevel, ct.ResolveLayer)
	if err != nil {
		cb.misuse(op, "texture view creation failed", "err", err)
		return nil, false
	}
	return view, true
}

func (p *RenderPass) addDepthTarget(op string, ds *DepthStencilTargetInfo) bool {
	cb := p.cb
	t := ds.Texture
	switch {
	case !t.IsValid():
		cb.misuse(op, "depth-stencil texture is invalid")
		return false
	case t.info.Usage&TextureUsageDepthStencilTarget == 0:
		cb.misuse(op, "texture lacks depth-stencil target usage", "texture", t.h.label())
		return false
	case ds.StoreOp.resolves() || ds.StencilStoreOp.resolves():
		cb.misuse(op, "depth-stencil targets cannot resolve", "texture", t.h.label())
		return false
	}
	if !p.targetSize(op, t, 0) {
		return false
	}
	cycle := ds.Cycle
	if cycle && (ds.LoadOp == LoadOpLoad || (ds.StencilLoadOp == LoadOpLoad && t.info.Format.HasStencil())) {
		Logger().Debug("gpucmd: cycle ignored for a loaded depth target", "texture", t.h.label())
		cycle = false
	}
	a, ok := cb.useTexture(op, t, cycle)
	if !ok {
		return false
	}
	if !p.attach(op, t, a, 0, 0) {
		return false
	}
	view, err := t.subresourceView(a, 0, 0)
	if err != nil {
		cb.misuse(op, "texture view creation failed", "err", err)
		return false
	}
	att := &hal.RenderPassDepthStencilAttachment{
		View:            view,
		DepthLoadOp:     loadOpToHAL(ds.LoadOp),
		DepthStoreOp:    storeOpToHAL(ds.StoreOp),
		DepthClearValue: ds.ClearDepth,
	}
	if t.info.Format.HasStencil() {
		att.StencilLoadOp = loadOpToHAL(ds.StencilLoadOp)
		att.StencilStoreOp = storeOpToHAL(ds.StencilStoreOp)
		att.StencilClearValue = uint32(ds.ClearStencil)
	}
	p.desc.DepthStencilAttachment = att
	p.depthFormat = t.info.Format
	return true
}

// BindGraphicsPipeline binds a pipeline. Its target formats and sample
// count must match the pass.
func (p *RenderPass) BindGraphicsPipeline(pipeline *GraphicsPipeline) {
	const op = "RenderPass.BindGraphicsPipeline"
	if !p.active(op) {
		return
	}
	cb := p.cb
	if !pipeline.IsValid() || pipeline.h.owner() != cb.device {
		cb.misuse(op, "pipeline is invalid")
		return
	}
	if !p.compatible(pipeline) {
		cb.misuse(op, "pipeline targets do not match the pass", "pipeline", pipeline.h.label())
		return
	}
	a, ok := pipeline.current()
	if !ok {
		cb.misuse(op, "pipeline is invalid")
		return
	}
	cb.use(&a.allocation)
	p.pipeline = pipeline
	p.binder.reset(a.bindings, []*stageBindings{
		p.vertexRes, cb.uniforms[uniformVertex], p.fragmentRes, cb.uniforms[uniformFragment],
	})
	p.rec.Record(passrec.SetRenderPipeline{Pipeline: a.render})
}

func (p *RenderPass) compatible(pipeline *GraphicsPipeline) bool {
	if len(pipeline.colorFormats) != len(p.colorFormats) {
		return false
	}
	for i, f := range pipeline.colorFormats {
		if f != p.colorFormats[i] {
			return false
		}
	}
	return pipeline.depthFormat == p.depthFormat && pipeline.sampleCount == p.sampleCount
}

// SetViewport sets the viewport for subsequent draws.
func (p *RenderPass) SetViewport(v Viewport) {
	const op = "RenderPass.SetViewport"
	if !p.active(op) {
		return
	}
	if v.W <= 0 || v.H <= 0 || v.MinDepth < 0 || v.MaxDepth > 1 || v.MinDepth > v.MaxDepth {
		p.cb.misuse(op, "invalid viewport", "viewport", v)
		return
	}
	p.rec.Record(passrec.SetViewport{
		X: v.X, Y: v.Y, Width: v.W, Height: v.H,
		MinDepth: v.MinDepth, MaxDepth: v.MaxDepth,
	})
}

// SetScissor sets the scissor rectangle. It is clamped to the targets.
func (p *RenderPass) SetScissor(r Rect) {
	const op = "RenderPass.SetScissor"
	if !p.active(op) {
		return
	}
	x, y := min(r.X, p.width), min(r.Y, p.height)
	w, h := min(r.W, p.width-x), min(r.H, p.height-y)
	p.rec.Record(passrec.SetScissor{X: x, Y: y, Width: w, Height: h})
}

// SetBlendConstants sets the color used by constant blend factors.
func (p *RenderPass) SetBlendConstants(c gputypes.Color) {
	if !p.active("RenderPass.SetBlendConstants") {
		return
	}
	p.rec.Record(passrec.SetBlendConstant{Color: c})
}

// SetStencilReference sets the stencil reference value.
func (p *RenderPass) SetStencilReference(ref uint8) {
	if !p.active("RenderPass.SetStencilReference") {
		return
	}
	p.rec.Record(passrec.SetStencilReference{Reference: uint32(ref)})
}

// BindVertexBuffers binds buffers to consecutive vertex slots starting at
// firstSlot.
func (p *RenderPass) BindVertexBuffers(firstSlot uint32, bindings []BufferBinding) {
	const op = "RenderPass.BindVertexBuffers"
	if !p.active(op) {
		return
	}
	cb := p.cb
	limit := cb.device.caps.Limits.MaxVertexBuffers
	for i, b := range bindings {
		slot := firstSlot + uint32(i)
		if slot >= limit {
			cb.misuse(op, "vertex slot out of range", "slot", slot, "max", limit)
			return
		}
		if !p.checkBuffer(op, b.Buffer, BufferUsageVertex, b.Offset, 1) {
			continue
		}
		a, ok := cb.useBuffer(op, b.Buffer, false)
		if !ok {
			continue
		}
		p.usage.buffer(a, gputypes.BufferUsageVertex)
		p.vertexBuffers[slot] = true
		p.rec.Record(passrec.SetVertexBuffer{Slot: slot, Buffer: a.buf, Offset: b.Offset})
	}
}

// BindIndexBuffer binds the index buffer for indexed draws.
func (p *RenderPass) BindIndexBuffer(b BufferBinding, size IndexElementSize) {
	const op = "RenderPass.BindIndexBuffer"
	if !p.active(op) {
		return
	}
	if size > IndexElementSize32Bit {
		p.cb.misuse(op, "invalid index size", "size", size)
		return
	}
	if !p.checkBuffer(op, b.Buffer, BufferUsageIndex, b.Offset, indexSize(size)) {
		return
	}
	a, ok := p.cb.useBuffer(op, b.Buffer, false)
	if !ok {
		return
	}
	p.usage.buffer(a, gputypes.BufferUsageIndex)
	p.indexBound = true
	p.rec.Record(passrec.SetIndexBuffer{Buffer: a.buf, Format: indexFormat(size), Offset: b.Offset})
}

// checkBuffer validates usage and offset alignment of a buffer binding.
func (p *RenderPass) checkBuffer(op string, b *Buffer, need BufferUsage, offset, align uint64) bool {
	if !b.IsValid() {
		p.cb.misuse(op, "buffer is invalid")
		return false
	}
	if b.usage&need == 0 {
		p.cb.misuse(op, "buffer lacks the required usage", "buffer", b.h.label(), "need", need)
		return false
	}
	if offset >= b.size || offset%align != 0 {
		p.cb.misuse(op, "invalid buffer offset", "buffer", b.h.label(), "offset", offset)
		return false
	}
	return true
}

// BindVertexSamplers binds texture-sampler pairs to vertex sampler slots.
func (p *RenderPass) BindVertexSamplers(firstSlot uint32, bindings []TextureSamplerBinding) {
	const op = "RenderPass.BindVertexSamplers"
	if p.active(op) {
		p.cb.bindSamplers(op, p.vertexRes, &p.usage, firstSlot, bindings)
	}
}

// BindFragmentSamplers binds texture-sampler pairs to fragment sampler slots.
func (p *RenderPass) BindFragmentSamplers(firstSlot uint32, bindings []TextureSamplerBinding) {
	const op = "RenderPass.BindFragmentSamplers"
	if p.active(op) {
		p.cb.bindSamplers(op, p.fragmentRes, &p.usage, firstSlot, bindings)
	}
}

// BindVertexStorageTextures binds read-only storage textures to the vertex stage.
func (p *RenderPass) BindVertexStorageTextures(firstSlot uint32, textures []*Texture) {
	const op = "RenderPass.BindVertexStorageTextures"
	if p.active(op) {
		p.cb.bindStorageTextures(op, p.vertexRes, &p.usage, firstSlot, textures, TextureUsageGraphicsStorageRead)
	}
}

// BindFragmentStorageTextures binds read-only storage textures to the fragment stage.
func (p *RenderPass) BindFragmentStorageTextures(firstSlot uint32, textures []*Texture) {
	const op = "RenderPass.BindFragmentStorageTextures"
	if p.active(op) {
		p.cb.bindStorageTextures(op, p.fragmentRes, &p.usage, firstSlot, textures, TextureUsageGraphicsStorageRead)
	}
}

// BindVertexStorageBuffers binds read-only storage buffers to the vertex stage.
func (p *RenderPass) BindVertexStorageBuffers(firstSlot uint32, buffers []*Buffer) {
	const op = "RenderPass.BindVertexStorageBuffers"
	if p.active(op) {
		p.cb.bindStorageBuffers(op, p.vertexRes, &p.usage, firstSlot, buffers, BufferUsageGraphicsStorageRead)
	}
}

// BindFragmentStorageBuffers binds read-only storage buffers to the fragment stage.
func (p *RenderPass) BindFragmentStorageBuffers(firstSlot uint32, buffers []*Buffer) {
	const op = "RenderPass.BindFragmentStorageBuffers"
	if p.active(op) {
		p.cb.bindStorageBuffers(op, p.fragmentRes, &p.usage, firstSlot, buffers, BufferUsageGraphicsStorageRead)
	}
}

// prepareDraw checks the draw state and flushes changed bind groups.
func (p *RenderPass) prepareDraw(op string, indexed bool) bool {
	if !p.active(op) {
		return false
	}
	cb := p.cb
	if p.pipeline == nil {
		cb.misuse(op, "no pipeline bound")
		return false
	}
	for _, slot := range p.pipeline.vertexSlots {
		if !p.vertexBuffers[slot] {
			cb.misuse(op, "vertex buffer slot unbound", "slot", slot)
			return false
		}
	}
	if indexed && !p.indexBound {
		cb.misuse(op, "no index buffer bound")
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

// DrawPrimitives draws non-indexed primitives.
func (p *RenderPass) DrawPrimitives(numVertices, numInstances, firstVertex, firstInstance uint32) {
	if !p.prepareDraw("RenderPass.DrawPrimitives", false) {
		return
	}
	p.rec.Record(passrec.Draw{
		VertexCount:   numVertices,
		InstanceCount: numInstances,
		FirstVertex:   firstVertex,
		FirstInstance: firstInstance,
	})
}

// DrawIndexedPrimitives draws indexed primitives.
func (p *RenderPass) DrawIndexedPrimitives(numIndices, numInstances, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !p.prepareDraw("RenderPass.DrawIndexedPrimitives", true) {
		return
	}
	p.rec.Record(passrec.DrawIndexed{
		IndexCount:    numIndices,
		InstanceCount: numInstances,
		FirstIndex:    firstIndex,
		BaseVertex:    vertexOffset,
		FirstInstance: firstInstance,
	})
}

// Indirect argument sizes in bytes.
const (
	drawIndirectSize        = 16
	drawIndexedIndirectSize = 20
	dispatchIndirectSize    = 12
)

// DrawPrimitivesIndirect draws drawCount times with arguments read from
// buffer. Each argument block is four uint32 values: vertex count,
// instance count, first vertex, first instance.
func (p *RenderPass) DrawPrimitivesIndirect(buffer *Buffer, offset uint64, drawCount uint32) {
	p.drawIndirect("RenderPass.DrawPrimitivesIndirect", buffer, offset, drawCount, false)
}

// DrawIndexedPrimitivesIndirect is the indexed form of DrawPrimitivesIndirect.
// Each argument block is five values: index count, instance count, first
// index, vertex offset, first instance.
func (p *RenderPass) DrawIndexedPrimitivesIndirect(buffer *Buffer, offset uint64, drawCount uint32) {
	p.drawIndirect("RenderPass.DrawIndexedPrimitivesIndirect", buffer, offset, drawCount, true)
}

func (p *RenderPass) drawIndirect(op string, buffer *Buffer, offset uint64, drawCount uint32, indexed bool) {
	if !p.prepareDraw(op, indexed) {
		return
	}
	cb := p.cb
	stride := uint64(drawIndirectSize)
	if indexed {
		stride = drawIndexedIndirectSize
	}
	if !buffer.IsValid() || buffer.usage&BufferUsageIndirect == 0 {
		cb.misuse(op, "buffer is invalid or lacks indirect usage")
		return
	}
	if offset%4 != 0 || offset > buffer.size || stride*uint64(drawCount) > buffer.size-offset {
		cb.misuse(op, "indirect arguments out of range", "offset", offset, "count", drawCount, "size", buffer.size)
		return
	}
	a, ok := cb.useBuffer(op, buffer, false)
	if !ok {
		return
	}
	p.usage.buffer(a, gputypes.BufferUsageIndirect)
	for i := range uint64(drawCount) {
		p.rec.Record(passrec.DrawIndirect{Buffer: a.buf, Offset: offset + i*stride, Indexed: indexed})
	}
}

// End closes the pass: barriers are recorded, then the native render pass
// with every recorded command.
func (p *RenderPass) End() {
	if !p.active("RenderPass.End") {
		return
	}
	cb := p.cb
	p.usage.apply(cb.encoder)
	enc := cb.encoder.BeginRenderPass(&p.desc)
	p.rec.Playback(enc)
	enc.End()

	Logger().Debug("gpucmd: render pass encoded",
		"targets", len(p.desc.ColorAttachments),
		"depth", p.desc.DepthStencilAttachment != nil,
		"commands", p.rec.Len(),
		"draws", p.rec.Count(passrec.CmdDraw)+p.rec.Count(passrec.CmdDrawIndexed))
	p.finish()
}

func (p *RenderPass) finish() {
	p.state = PassStateEnded
	p.rec.Reset()
	p.cb.open = nil
}

// abort drops the recording without encoding it.
func (p *RenderPass) abort() {
	p.state = PassStateEnded
	p.rec.Reset()
}
