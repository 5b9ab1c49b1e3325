package gpucmd

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Descriptor mapping. These functions translate gpucmd values into hal and
// gputypes values and never touch handle state.

func bufferUsageToHAL(u BufferUsage) gputypes.BufferUsage {
	out := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if u&BufferUsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&BufferUsageIndex != 0 {
		out |= gputypes.BufferUsageIndex
	}
	if u&BufferUsageIndirect != 0 {
		out |= gputypes.BufferUsageIndirect
	}
	if u&(BufferUsageGraphicsStorageRead|BufferUsageComputeStorageRead|BufferUsageComputeStorageWrite) != 0 {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

func transferUsageToHAL(u TransferBufferUsage) gputypes.BufferUsage {
	if u == TransferBufferUsageDownload {
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	return gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
}

func textureUsageToHAL(u TextureUsage) gputypes.TextureUsage {
	out := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if u&TextureUsageSampler != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&(TextureUsageColorTarget|TextureUsageDepthStencilTarget) != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	if u&(TextureUsageGraphicsStorageRead|TextureUsageComputeStorageRead|
		TextureUsageComputeStorageWrite|TextureUsageComputeStorageSimultaneousReadWrite) != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	return out
}

func textureDimension(t TextureType) gputypes.TextureDimension {
	if t == TextureType3D {
		return gputypes.TextureDimension3D
	}
	return gputypes.TextureDimension2D
}

func viewDimension(t TextureType) gputypes.TextureViewDimension {
	switch t {
	case TextureType2DArray:
		return gputypes.TextureViewDimension2DArray
	case TextureType3D:
		return gputypes.TextureViewDimension3D
	case TextureTypeCube:
		return gputypes.TextureViewDimensionCube
	case TextureTypeCubeArray:
		return gputypes.TextureViewDimensionCubeArray
	default:
		return gputypes.TextureViewDimension2D
	}
}

// loadOpToHAL maps a load op. DontCare has no hal equivalent; clearing lets
// the backend skip loading the previous contents.
func loadOpToHAL(op LoadOp) gputypes.LoadOp {
	if op == LoadOpLoad {
		return gputypes.LoadOpLoad
	}
	return gputypes.LoadOpClear
}

func storeOpToHAL(op StoreOp) gputypes.StoreOp {
	switch op {
	case StoreOpStore, StoreOpResolveAndStore:
		return gputypes.StoreOpStore
	default:
		return gputypes.StoreOpDiscard
	}
}

func indexFormat(s IndexElementSize) gputypes.IndexFormat {
	if s == IndexElementSize32Bit {
		return gputypes.IndexFormatUint32
	}
	return gputypes.IndexFormatUint16
}

func indexSize(s IndexElementSize) uint64 {
	if s == IndexElementSize32Bit {
		return 4
	}
	return 2
}

func primitiveTopology(p PrimitiveType) gputypes.PrimitiveTopology {
	switch p {
	case PrimitiveTypeTriangleStrip:
		return gputypes.PrimitiveTopologyTriangleStrip
	case PrimitiveTypeLineList:
		return gputypes.PrimitiveTopologyLineList
	case PrimitiveTypeLineStrip:
		return gputypes.PrimitiveTopologyLineStrip
	case PrimitiveTypePointList:
		return gputypes.PrimitiveTopologyPointList
	default:
		return gputypes.PrimitiveTopologyTriangleList
	}
}

func vertexStepMode(r VertexInputRate) gputypes.VertexStepMode {
	if r == VertexInputRateInstance {
		return gputypes.VertexStepModeInstance
	}
	return gputypes.VertexStepModeVertex
}

// stencilOpToHAL maps a gputypes stencil operation onto the hal enum,
// which has no Undefined value. Undefined maps to Keep.
func stencilOpToHAL(op gputypes.StencilOperation) hal.StencilOperation {
	switch op {
	case gputypes.StencilOperationZero:
		return hal.StencilOperationZero
	case gputypes.StencilOperationReplace:
		return hal.StencilOperationReplace
	case gputypes.StencilOperationInvert:
		return hal.StencilOperationInvert
	case gputypes.StencilOperationIncrementClamp:
		return hal.StencilOperationIncrementClamp
	case gputypes.StencilOperationDecrementClamp:
		return hal.StencilOperationDecrementClamp
	case gputypes.StencilOperationIncrementWrap:
		return hal.StencilOperationIncrementWrap
	case gputypes.StencilOperationDecrementWrap:
		return hal.StencilOperationDecrementWrap
	default:
		return hal.StencilOperationKeep
	}
}

func compareOrAlways(f gputypes.CompareFunction) gputypes.CompareFunction {
	if f == gputypes.CompareFunctionUndefined {
		return gputypes.CompareFunctionAlways
	}
	return f
}

func stencilFace(s StencilOpState) hal.StencilFaceState {
	return hal.StencilFaceState{
		Compare:     compareOrAlways(s.CompareOp),
		FailOp:      stencilOpToHAL(s.FailOp),
		DepthFailOp: stencilOpToHAL(s.DepthFailOp),
		PassOp:      stencilOpToHAL(s.PassOp),
	}
}

func blendFactorOr(f, def gputypes.BlendFactor) gputypes.BlendFactor {
	if f == gputypes.BlendFactorUndefined {
		return def
	}
	return f
}

func blendOpOr(op gputypes.BlendOperation) gputypes.BlendOperation {
	if op == gputypes.BlendOperationUndefined {
		return gputypes.BlendOperationAdd
	}
	return op
}

func colorTargetState(desc ColorTargetDescription) gputypes.ColorTargetState {
	bs := desc.BlendState
	state := gputypes.ColorTargetState{
		Format:    desc.Format,
		WriteMask: gputypes.ColorWriteMaskAll,
	}
	if bs.EnableColorWriteMask {
		state.WriteMask = bs.ColorWriteMask
	}
	if bs.EnableBlend {
		state.Blend = &gputypes.BlendState{
			Color: gputypes.BlendComponent{
				SrcFactor: blendFactorOr(bs.SrcColorBlendFactor, gputypes.BlendFactorOne),
				DstFactor: blendFactorOr(bs.DstColorBlendFactor, gputypes.BlendFactorZero),
				Operation: blendOpOr(bs.ColorBlendOp),
			},
			Alpha: gputypes.BlendComponent{
				SrcFactor: blendFactorOr(bs.SrcAlphaBlendFactor, gputypes.BlendFactorOne),
				DstFactor: blendFactorOr(bs.DstAlphaBlendFactor, gputypes.BlendFactorZero),
				Operation: blendOpOr(bs.AlphaBlendOp),
			},
		}
	}
	return state
}

func primitiveState(info *GraphicsPipelineCreateInfo) gputypes.PrimitiveState {
	return gputypes.PrimitiveState{
		Topology:       primitiveTopology(info.PrimitiveType),
		FrontFace:      info.RasterizerState.FrontFace,
		CullMode:       info.RasterizerState.CullMode,
		UnclippedDepth: info.RasterizerState.UnclippedDepth,
	}
}

func multisampleState(ms MultisampleState) gputypes.MultisampleState {
	count := ms.SampleCount
	if count == 0 {
		count = 1
	}
	mask := uint64(0xFFFFFFFF)
	if ms.EnableMask {
		mask = uint64(ms.SampleMask)
	}
	return gputypes.MultisampleState{Count: count, Mask: mask}
}

func depthStencilState(info *GraphicsPipelineCreateInfo) *hal.DepthStencilState {
	if !info.TargetInfo.HasDepthStencilTarget {
		return nil
	}
	ds := info.DepthStencilState
	rs := info.RasterizerState
	out := &hal.DepthStencilState{
		Format:            info.TargetInfo.DepthStencilFormat,
		DepthWriteEnabled: ds.EnableDepthTest && ds.EnableDepthWrite,
		DepthCompare:      gputypes.CompareFunctionAlways,
		StencilFront:      hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways},
		StencilBack:       hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways},
	}
	if ds.EnableDepthTest {
		out.DepthCompare = compareOrAlways(ds.CompareOp)
	}
	if ds.EnableStencilTest {
		out.StencilFront = stencilFace(ds.FrontStencilState)
		out.StencilBack = stencilFace(ds.BackStencilState)
		out.StencilReadMask = uint32(ds.CompareMask)
		out.StencilWriteMask = uint32(ds.WriteMask)
	}
	if rs.EnableDepthBias {
		out.DepthBias = int32(rs.DepthBiasConstantFactor)
		out.DepthBiasSlopeScale = rs.DepthBiasSlopeFactor
		out.DepthBiasClamp = rs.DepthBiasClamp
	}
	return out
}

func vertexBufferLayouts(vis VertexInputState) []gputypes.VertexBufferLayout {
	layouts := make([]gputypes.VertexBufferLayout, 0, len(vis.VertexBufferDescriptions))
	for _, vb := range vis.VertexBufferDescriptions {
		layout := gputypes.VertexBufferLayout{
			ArrayStride: uint64(vb.Pitch),
			StepMode:    vertexStepMode(vb.InputRate),
		}
		for _, attr := range vis.VertexAttributes {
			if attr.BufferSlot != vb.Slot {
				continue
			}
			layout.Attributes = append(layout.Attributes, gputypes.VertexAttribute{
				Format:         attr.Format,
				Offset:         uint64(attr.Offset),
				ShaderLocation: attr.Location,
			})
		}
		layouts = append(layouts, layout)
	}
	return layouts
}

// maxAnisotropy clamps the requested anisotropy to the range hal accepts.
func maxAnisotropy(info *SamplerCreateInfo) uint16 {
	if !info.EnableAnisotropy || info.MaxAnisotropy < 1 {
		return 1
	}
	if info.MaxAnisotropy > 16 {
		return 16
	}
	return uint16(info.MaxAnisotropy)
}

func filterOr(f gputypes.FilterMode) gputypes.FilterMode {
	if f == gputypes.FilterModeUndefined {
		return gputypes.FilterModeNearest
	}
	return f
}

func addressOr(m gputypes.AddressMode) gputypes.AddressMode {
	if m == gputypes.AddressModeUndefined {
		return gputypes.AddressModeClampToEdge
	}
	return m
}

func samplerDescriptor(info *SamplerCreateInfo) *hal.SamplerDescriptor {
	desc := &hal.SamplerDescriptor{
		Label:        info.Name,
		AddressModeU: addressOr(info.AddressModeU),
		AddressModeV: addressOr(info.AddressModeV),
		AddressModeW: addressOr(info.AddressModeW),
		MagFilter:    filterOr(info.MagFilter),
		MinFilter:    filterOr(info.MinFilter),
		MipmapFilter: filterOr(info.MipmapMode),
		LodMinClamp:  info.MinLOD,
		LodMaxClamp:  info.MaxLOD,
		Anisotropy:   maxAnisotropy(info),
	}
	if desc.LodMaxClamp == 0 && desc.LodMinClamp == 0 {
		desc.LodMaxClamp = 32
	}
	if info.EnableCompare {
		desc.Compare = compareOrAlways(info.CompareOp)
	}
	return desc
}

func fullRange() hal.TextureRange {
	return hal.TextureRange{Aspect: gputypes.TextureAspectAll}
}
