package gpucmd

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/shaderinfo"
)

// pipelineAlloc owns a native pipeline and its layouts.
type pipelineAlloc struct {
	allocation
	render   hal.RenderPipeline
	compute  hal.ComputePipeline
	bindings *pipelineBindings
}

// stageSlots are the slot counts of one shader stage.
type stageSlots struct {
	samplers        uint32
	storageTextures uint32
	storageBuffers  uint32
	uniforms        uint32
}

// GraphicsPipeline is a complete vertex + fragment pipeline.
type GraphicsPipeline struct {
	h handle[*pipelineAlloc]

	vertexSlots  []uint32
	vertex       stageSlots
	fragment     stageSlots
	colorFormats []gputypes.TextureFormat
	depthFormat  gputypes.TextureFormat
	sampleCount  uint32
}

// CreateGraphicsPipeline creates a graphics pipeline. On error no native
// object survives.
func (d *Device) CreateGraphicsPipeline(info *GraphicsPipelineCreateInfo) (*GraphicsPipeline, error) {
	if !d.IsValid() {
		return nil, ErrDeviceInvalid
	}
	if info == nil {
		return nil, fmt.Errorf("%w: nil GraphicsPipelineCreateInfo", ErrInvalidDescriptor)
	}
	vs, vok := info.VertexShader.current()
	fs, fok := info.FragmentShader.current()
	switch {
	case !vok:
		return nil, fmt.Errorf("%w: vertex shader missing or released", ErrInvalidPipeline)
	case !fok:
		return nil, fmt.Errorf("%w: fragment shader missing or released", ErrInvalidPipeline)
	case info.VertexShader.stage != ShaderStageVertex:
		return nil, fmt.Errorf("%w: vertex shader has stage %v", ErrInvalidPipeline, info.VertexShader.stage)
	case info.FragmentShader.stage != ShaderStageFragment:
		return nil, fmt.Errorf("%w: fragment shader has stage %v", ErrInvalidPipeline, info.FragmentShader.stage)
	case info.VertexShader.h.owner() != d || info.FragmentShader.h.owner() != d:
		return nil, fmt.Errorf("%w: shader belongs to another device", ErrInvalidPipeline)
	}
	if err := d.validateGraphicsPipeline(info); err != nil {
		return nil, err
	}

	v, f := info.VertexShader, info.FragmentShader
	groups := []groupLayout{
		newGroupLayout(gputypes.ShaderStageVertex, v.numSamplers, v.numStorageTextures, v.numStorageBuffers,
			gputypes.StorageTextureAccessReadOnly, gputypes.BufferBindingTypeReadOnlyStorage),
		uniformGroup(gputypes.ShaderStageVertex, v.numUniformBuffers),
		newGroupLayout(gputypes.ShaderStageFragment, f.numSamplers, f.numStorageTextures, f.numStorageBuffers,
			gputypes.StorageTextureAccessReadOnly, gputypes.BufferBindingTypeReadOnlyStorage),
		uniformGroup(gputypes.ShaderStageFragment, f.numUniformBuffers),
	}
	for _, s := range []*Shader{v, f} {
		if s.reflection == nil {
			continue
		}
		for i := range groups {
			groups[i].reflect(s.reflection.Group(uint32(i)))
		}
	}

	pb, err := d.createPipelineBindings(info.Name, groups)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}

	targets := make([]gputypes.ColorTargetState, 0, len(info.TargetInfo.ColorTargetDescriptions))
	for _, ct := range info.TargetInfo.ColorTargetDescriptions {
		targets = append(targets, colorTargetState(ct))
	}
	rp, err := d.dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  info.Name,
		Layout: pb.layout,
		Vertex: hal.VertexState{
			Module:     vs.module,
			EntryPoint: v.entryPoint,
			Buffers:    vertexBufferLayouts(info.VertexInputState),
		},
		Primitive:    primitiveState(info),
		DepthStencil: depthStencilState(info),
		Multisample:  multisampleState(info.MultisampleState),
		Fragment: &hal.FragmentState{
			Module:     fs.module,
			EntryPoint: f.entryPoint,
			Targets:    targets,
		},
	})
	if err != nil {
		pb.destroy(d)
		return nil, fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}

	a := &pipelineAlloc{render: rp, bindings: pb}
	a.device = d
	a.destroyFn = func() {
		d.dev.DestroyRenderPipeline(rp)
		pb.destroy(d)
	}

	p := &GraphicsPipeline{
		vertex:      stageSlots{v.numSamplers, v.numStorageTextures, v.numStorageBuffers, v.numUniformBuffers},
		fragment:    stageSlots{f.numSamplers, f.numStorageTextures, f.numStorageBuffers, f.numUniformBuffers},
		sampleCount: multisampleState(info.MultisampleState).Count,
	}
	for _, vb := range info.VertexInputState.VertexBufferDescriptions {
		p.vertexSlots = append(p.vertexSlots, vb.Slot)
	}
	for _, ct := range info.TargetInfo.ColorTargetDescriptions {
		p.colorFormats = append(p.colorFormats, ct.Format)
	}
	if info.TargetInfo.HasDepthStencilTarget {
		p.depthFormat = info.TargetInfo.DepthStencilFormat
	}
	p.h.init(d, a, info.Name)
	if err := d.track(p); err != nil {
		a.destroy()
		return nil, err
	}
	Logger().Debug("gpucmd: graphics pipeline created", "name", info.Name,
		"targets", len(p.colorFormats), "samples", p.sampleCount)
	return p, nil
}

func (d *Device) validateGraphicsPipeline(info *GraphicsPipelineCreateInfo) error {
	lim := d.caps.Limits
	if info.RasterizerState.FillMode == FillModeLine {
		return fmt.Errorf("%w: line fill mode is not supported", ErrInvalidPipeline)
	}
	if info.PrimitiveType > PrimitiveTypePointList {
		return fmt.Errorf("%w: primitive type %d", ErrInvalidPipeline, info.PrimitiveType)
	}

	vis := info.VertexInputState
	if uint32(len(vis.VertexBufferDescriptions)) > lim.MaxVertexBuffers {
		return fmt.Errorf("%w: %d vertex buffers > %d", ErrInvalidPipeline, len(vis.VertexBufferDescriptions), lim.MaxVertexBuffers)
	}
	if uint32(len(vis.VertexAttributes)) > lim.MaxVertexAttributes {
		return fmt.Errorf("%w: %d vertex attributes > %d", ErrInvalidPipeline, len(vis.VertexAttributes), lim.MaxVertexAttributes)
	}
	slots := make(map[uint32]bool, len(vis.VertexBufferDescriptions))
	for _, vb := range vis.VertexBufferDescriptions {
		if slots[vb.Slot] {
			return fmt.Errorf("%w: vertex buffer slot %d declared twice", ErrInvalidPipeline, vb.Slot)
		}
		if vb.Slot >= lim.MaxVertexBuffers {
			return fmt.Errorf("%w: vertex buffer slot %d >= %d", ErrInvalidPipeline, vb.Slot, lim.MaxVertexBuffers)
		}
		if vb.Pitch > lim.MaxVertexBufferArrayStride {
			return fmt.Errorf("%w: vertex pitch %d > %d", ErrInvalidPipeline, vb.Pitch, lim.MaxVertexBufferArrayStride)
		}
		slots[vb.Slot] = true
	}
	locations := make(map[uint32]bool, len(vis.VertexAttributes))
	for _, attr := range vis.VertexAttributes {
		if !slots[attr.BufferSlot] {
			return fmt.Errorf("%w: attribute %d reads undeclared slot %d", ErrInvalidPipeline, attr.Location, attr.BufferSlot)
		}
		if locations[attr.Location] {
			return fmt.Errorf("%w: attribute location %d declared twice", ErrInvalidPipeline, attr.Location)
		}
		locations[attr.Location] = true
	}

	ti := info.TargetInfo
	if len(ti.ColorTargetDescriptions) == 0 && !ti.HasDepthStencilTarget {
		return fmt.Errorf("%w: pipeline has no render targets", ErrInvalidPipeline)
	}
	if uint32(len(ti.ColorTargetDescriptions)) > lim.MaxColorAttachments {
		return fmt.Errorf("%w: %d color targets > %d", ErrInvalidPipeline, len(ti.ColorTargetDescriptions), lim.MaxColorAttachments)
	}
	samples := multisampleState(info.MultisampleState).Count
	switch samples {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("%w: sample count %d", ErrInvalidPipeline, samples)
	}
	for i, ct := range ti.ColorTargetDescriptions {
		if ct.Format.IsDepthStencil() || ct.Format == gputypes.TextureFormatUndefined {
			return fmt.Errorf("%w: color target %d has format %v", ErrInvalidPipeline, i, ct.Format)
		}
		flags := d.adapter.TextureFormatCapabilities(ct.Format).Flags
		if flags&hal.TextureFormatCapabilityRenderAttachment == 0 {
			return fmt.Errorf("%w: color target %d format %v is not renderable", ErrInvalidPipeline, i, ct.Format)
		}
		if ct.BlendState.EnableBlend && flags&hal.TextureFormatCapabilityBlendable == 0 {
			return fmt.Errorf("%w: color target %d format %v is not blendable", ErrInvalidPipeline, i, ct.Format)
		}
		if samples > 1 && !d.TextureSupportsSampleCount(ct.Format, samples) {
			return fmt.Errorf("%w: %v does not support %d samples", ErrInvalidPipeline, ct.Format, samples)
		}
	}
	if ti.HasDepthStencilTarget {
		if !ti.DepthStencilFormat.IsDepthStencil() {
			return fmt.Errorf("%w: depth target format %v is not a depth format", ErrInvalidPipeline, ti.DepthStencilFormat)
		}
		if samples > 1 && !d.TextureSupportsSampleCount(ti.DepthStencilFormat, samples) {
			return fmt.Errorf("%w: %v does not support %d samples", ErrInvalidPipeline, ti.DepthStencilFormat, samples)
		}
		if info.DepthStencilState.EnableStencilTest && !ti.DepthStencilFormat.HasStencil() {
			return fmt.Errorf("%w: stencil test on %v without stencil", ErrInvalidPipeline, ti.DepthStencilFormat)
		}
	}
	return nil
}

// hasVertexSlot reports whether the pipeline reads vertex buffer slot.
func (p *GraphicsPipeline) hasVertexSlot(slot uint32) bool {
	for _, s := range p.vertexSlots {
		if s == slot {
			return true
		}
	}
	return false
}

func (p *GraphicsPipeline) current() (*pipelineAlloc, bool) {
	if p == nil {
		return nil, false
	}
	return p.h.load()
}

// IsValid reports whether the pipeline is live.
func (p *GraphicsPipeline) IsValid() bool {
	return p != nil && p.h.valid()
}

// SetName sets the debug name.
func (p *GraphicsPipeline) SetName(name string) {
	if p == nil || !p.h.setName(name) {
		logMisuse("GraphicsPipeline.SetName", "pipeline is invalid")
	}
}

// Release releases the pipeline. Release is idempotent.
func (p *GraphicsPipeline) Release() {
	if p == nil {
		return
	}
	a, ok := p.h.take()
	if !ok {
		return
	}
	a.device.untrack(p)
	a.device.retire(&a.allocation)
}

func (p *GraphicsPipeline) kindName() string { return "GraphicsPipeline" }
func (p *GraphicsPipeline) label() string    { return p.h.label() }

// ComputePipeline is a compiled compute shader with its resource layout.
type ComputePipeline struct {
	h handle[*pipelineAlloc]

	samplers          uint32
	roStorageTextures uint32
	roStorageBuffers  uint32
	rwStorageTextures uint32
	rwStorageBuffers  uint32
	uniforms          uint32
	threads           [3]uint32
}

// CreateComputePipeline compiles info.Code and creates a compute pipeline.
// For WGSL the declared workgroup size must equal the thread counts.
func (d *Device) CreateComputePipeline(info *ComputePipelineCreateInfo) (*ComputePipeline, error) {
	if !d.IsValid() {
		return nil, ErrDeviceInvalid
	}
	if info == nil {
		return nil, fmt.Errorf("%w: nil ComputePipelineCreateInfo", ErrInvalidDescriptor)
	}
	if err := d.validateComputePipeline(info); err != nil {
		return nil, err
	}

	vis := gputypes.ShaderStageCompute
	groups := []groupLayout{
		newGroupLayout(vis, info.NumSamplers, info.NumReadonlyStorageTextures, info.NumReadonlyStorageBuffers,
			gputypes.StorageTextureAccessReadOnly, gputypes.BufferBindingTypeReadOnlyStorage),
		newGroupLayout(vis, 0, info.NumReadWriteStorageTextures, info.NumReadWriteStorageBuffers,
			gputypes.StorageTextureAccessWriteOnly, gputypes.BufferBindingTypeStorage),
		uniformGroup(vis, info.NumUniformBuffers),
	}
	byIndex := map[uint32]groupLayout{
		groupComputeReadOnly:  groups[0],
		groupComputeReadWrite: groups[1],
		groupComputeUniforms:  groups[2],
	}

	src, refl, err := d.shaderSource(info.Code, info.Format, info.EntryPoint, shaderinfo.StageCompute, byIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}
	if refl != nil {
		ep, _ := refl.EntryPoint(info.EntryPoint)
		want := [3]uint32{info.ThreadCountX, info.ThreadCountY, info.ThreadCountZ}
		if ep.Workgroup != want {
			return nil, fmt.Errorf("%w: workgroup size %v does not match thread counts %v", ErrInvalidPipeline, ep.Workgroup, want)
		}
		for i := range groups {
			groups[i].reflect(refl.Group(uint32(i)))
		}
	}

	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: info.Name, Source: src})
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrInvalidPipeline, ErrInvalidShader, err)
	}
	defer d.dev.DestroyShaderModule(module)

	pb, err := d.createPipelineBindings(info.Name, groups)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}
	cp, err := d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   info.Name,
		Layout:  pb.layout,
		Compute: hal.ComputeState{Module: module, EntryPoint: info.EntryPoint},
	})
	if err != nil {
		pb.destroy(d)
		return nil, fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}

	a := &pipelineAlloc{compute: cp, bindings: pb}
	a.device = d
	a.destroyFn = func() {
		d.dev.DestroyComputePipeline(cp)
		pb.destroy(d)
	}
	p := &ComputePipeline{
		samplers:          info.NumSamplers,
		roStorageTextures: info.NumReadonlyStorageTextures,
		roStorageBuffers:  info.NumReadonlyStorageBuffers,
		rwStorageTextures: info.NumReadWriteStorageTextures,
		rwStorageBuffers:  info.NumReadWriteStorageBuffers,
		uniforms:          info.NumUniformBuffers,
		threads:           [3]uint32{info.ThreadCountX, info.ThreadCountY, info.ThreadCountZ},
	}
	p.h.init(d, a, info.Name)
	if err := d.track(p); err != nil {
		a.destroy()
		return nil, err
	}
	Logger().Debug("gpucmd: compute pipeline created", "name", info.Name, "threads", p.threads)
	return p, nil
}

func (d *Device) validateComputePipeline(info *ComputePipelineCreateInfo) error {
	lim := d.caps.Limits
	x, y, z := info.ThreadCountX, info.ThreadCountY, info.ThreadCountZ
	if x == 0 || y == 0 || z == 0 {
		return fmt.Errorf("%w: thread counts %dx%dx%d must be non-zero", ErrInvalidPipeline, x, y, z)
	}
	if x > lim.MaxComputeWorkgroupSizeX || y > lim.MaxComputeWorkgroupSizeY || z > lim.MaxComputeWorkgroupSizeZ {
		return fmt.Errorf("%w: thread counts %dx%dx%d exceed %dx%dx%d", ErrExceedsLimits, x, y, z,
			lim.MaxComputeWorkgroupSizeX, lim.MaxComputeWorkgroupSizeY, lim.MaxComputeWorkgroupSizeZ)
	}
	if uint64(x)*uint64(y)*uint64(z) > uint64(lim.MaxComputeInvocationsPerWorkgroup) {
		return fmt.Errorf("%w: %d invocations per workgroup > %d", ErrExceedsLimits,
			uint64(x)*uint64(y)*uint64(z), lim.MaxComputeInvocationsPerWorkgroup)
	}
	return checkStageLimits(lim, info.NumSamplers,
		info.NumReadonlyStorageTextures+info.NumReadWriteStorageTextures,
		info.NumReadonlyStorageBuffers+info.NumReadWriteStorageBuffers,
		info.NumUniformBuffers)
}

func (p *ComputePipeline) current() (*pipelineAlloc, bool) {
	if p == nil {
		return nil, false
	}
	return p.h.load()
}

// IsValid reports whether the pipeline is live.
func (p *ComputePipeline) IsValid() bool {
	return p != nil && p.h.valid()
}

// SetName sets the debug name.
func (p *ComputePipeline) SetName(name string) {
	if p == nil || !p.h.setName(name) {
		logMisuse("ComputePipeline.SetName", "pipeline is invalid")
	}
}

// Release releases the pipeline. Release is idempotent.
func (p *ComputePipeline) Release() {
	if p == nil {
		return
	}
	a, ok := p.h.take()
	if !ok {
		return
	}
	a.device.untrack(p)
	a.device.retire(&a.allocation)
}

func (p *ComputePipeline) kindName() string { return "ComputePipeline" }
func (p *ComputePipeline) label() string    { return p.h.label() }
