package gpucmd

import "github.com/gogpu/gputypes"

// Descriptors are plain values. Nothing in them is retained after the call
// that consumes them returns.

// BufferCreateInfo describes a GPU buffer.
type BufferCreateInfo struct {
	Usage BufferUsage
	// Size in bytes. Must be a non-zero multiple of 4.
	Size uint64
	Name string
}

// TransferBufferCreateInfo describes a CPU-visible staging buffer.
type TransferBufferCreateInfo struct {
	Usage TransferBufferUsage
	Size  uint64
	Name  string
}

// TextureCreateInfo describes a texture.
type TextureCreateInfo struct {
	Type   TextureType
	Format gputypes.TextureFormat
	Usage  TextureUsage
	Width  uint32
	Height uint32
	// LayerCountOrDepth is the depth of a 3D texture or the layer count of
	// the other types. Cube textures count six layers per cube.
	LayerCountOrDepth uint32
	NumLevels         uint32
	// SampleCount is 1, 2, 4 or 8. Zero means 1.
	SampleCount uint32
	Name        string
}

// SamplerCreateInfo describes a sampler.
type SamplerCreateInfo struct {
	MinFilter    gputypes.FilterMode
	MagFilter    gputypes.FilterMode
	MipmapMode   gputypes.FilterMode
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	MipLODBias   float32
	// MaxAnisotropy is used when EnableAnisotropy is set.
	MaxAnisotropy float32
	// CompareOp is used when EnableCompare is set.
	CompareOp        gputypes.CompareFunction
	MinLOD           float32
	MaxLOD           float32
	EnableAnisotropy bool
	EnableCompare    bool
	Name             string
}

// ShaderCreateInfo describes one shader stage.
type ShaderCreateInfo struct {
	Code       []byte
	EntryPoint string
	Format     ShaderFormat
	Stage      ShaderStage

	NumSamplers        uint32
	NumStorageTextures uint32
	NumStorageBuffers  uint32
	NumUniformBuffers  uint32

	Name string
}

// ComputePipelineCreateInfo describes a compute pipeline. Compute shaders
// are not created separately; the code is compiled with the pipeline.
type ComputePipelineCreateInfo struct {
	Code       []byte
	EntryPoint string
	Format     ShaderFormat

	NumSamplers                 uint32
	NumReadonlyStorageTextures  uint32
	NumReadonlyStorageBuffers   uint32
	NumReadWriteStorageTextures uint32
	NumReadWriteStorageBuffers  uint32
	NumUniformBuffers           uint32

	ThreadCountX uint32
	ThreadCountY uint32
	ThreadCountZ uint32

	Name string
}

// VertexBufferDescription describes one bound vertex buffer slot.
type VertexBufferDescription struct {
	Slot      uint32
	Pitch     uint32
	InputRate VertexInputRate
}

// VertexAttribute describes one vertex shader input.
type VertexAttribute struct {
	Location   uint32
	BufferSlot uint32
	Format     gputypes.VertexFormat
	Offset     uint32
}

// VertexInputState describes the vertex buffers and attributes of a pipeline.
type VertexInputState struct {
	VertexBufferDescriptions []VertexBufferDescription
	VertexAttributes         []VertexAttribute
}

// StencilOpState describes stencil operations for one face.
type StencilOpState struct {
	FailOp      gputypes.StencilOperation
	PassOp      gputypes.StencilOperation
	DepthFailOp gputypes.StencilOperation
	CompareOp   gputypes.CompareFunction
}

// ColorTargetBlendState describes blending for one color target.
type ColorTargetBlendState struct {
	SrcColorBlendFactor gputypes.BlendFactor
	DstColorBlendFactor gputypes.BlendFactor
	ColorBlendOp        gputypes.BlendOperation
	SrcAlphaBlendFactor gputypes.BlendFactor
	DstAlphaBlendFactor gputypes.BlendFactor
	AlphaBlendOp        gputypes.BlendOperation
	// ColorWriteMask is used when EnableColorWriteMask is set; otherwise
	// all channels are written.
	ColorWriteMask       gputypes.ColorWriteMask
	EnableBlend          bool
	EnableColorWriteMask bool
}

// RasterizerState describes rasterization.
type RasterizerState struct {
	FillMode                FillMode
	CullMode                gputypes.CullMode
	FrontFace               gputypes.FrontFace
	DepthBiasConstantFactor float32
	DepthBiasClamp          float32
	DepthBiasSlopeFactor    float32
	EnableDepthBias         bool
	// UnclippedDepth disables depth clipping.
	UnclippedDepth bool
}

// MultisampleState describes multisampling.
type MultisampleState struct {
	// SampleCount is 1, 2, 4 or 8. Zero means 1.
	SampleCount uint32
	SampleMask  uint32
	EnableMask  bool
}

// DepthStencilState describes depth and stencil testing.
type DepthStencilState struct {
	CompareOp         gputypes.CompareFunction
	BackStencilState  StencilOpState
	FrontStencilState StencilOpState
	CompareMask       uint8
	WriteMask         uint8
	EnableDepthTest   bool
	EnableDepthWrite  bool
	EnableStencilTest bool
}

// ColorTargetDescription describes one color target of a pipeline.
type ColorTargetDescription struct {
	Format     gputypes.TextureFormat
	BlendState ColorTargetBlendState
}

// GraphicsPipelineTargetInfo describes the render targets of a pipeline.
type GraphicsPipelineTargetInfo struct {
	ColorTargetDescriptions []ColorTargetDescription
	DepthStencilFormat      gputypes.TextureFormat
	HasDepthStencilTarget   bool
}

// GraphicsPipelineCreateInfo describes a graphics pipeline. The shaders are
// not retained and may be released once the pipeline exists.
type GraphicsPipelineCreateInfo struct {
	VertexShader      *Shader
	FragmentShader    *Shader
	VertexInputState  VertexInputState
	PrimitiveType     PrimitiveType
	RasterizerState   RasterizerState
	MultisampleState  MultisampleState
	DepthStencilState DepthStencilState
	TargetInfo        GraphicsPipelineTargetInfo
	Name              string
}

// ColorTargetInfo describes one color attachment of a render pass.
type ColorTargetInfo struct {
	Texture           *Texture
	MipLevel          uint32
	LayerOrDepthPlane uint32
	ClearColor        gputypes.Color
	LoadOp            LoadOp
	StoreOp           StoreOp
	// ResolveTexture receives the resolved samples when StoreOp resolves.
	ResolveTexture  *Texture
	ResolveMipLevel uint32
	ResolveLayer    uint32
	// Cycle replaces Texture's allocation if GPU work still uses it.
	Cycle bool
	// CycleResolveTexture does the same for ResolveTexture.
	CycleResolveTexture bool
}

// DepthStencilTargetInfo describes the depth/stencil attachment of a render pass.
type DepthStencilTargetInfo struct {
	Texture        *Texture
	ClearDepth     float32
	LoadOp         LoadOp
	StoreOp        StoreOp
	StencilLoadOp  LoadOp
	StencilStoreOp StoreOp
	Cycle          bool
	ClearStencil   uint8
}

// Viewport is the render pass viewport in pixels.
type Viewport struct {
	X, Y, W, H         float32
	MinDepth, MaxDepth float32
}

// BufferBinding binds a buffer at an offset.
type BufferBinding struct {
	Buffer *Buffer
	Offset uint64
}

// TextureSamplerBinding binds a texture together with the sampler that reads it.
type TextureSamplerBinding struct {
	Texture *Texture
	Sampler *Sampler
}

// StorageTextureReadWriteBinding binds one subresource for compute writes.
type StorageTextureReadWriteBinding struct {
	Texture  *Texture
	MipLevel uint32
	Layer    uint32
	Cycle    bool
}

// StorageBufferReadWriteBinding binds a buffer for compute writes.
type StorageBufferReadWriteBinding struct {
	Buffer *Buffer
	Cycle  bool
}

// TextureTransferInfo locates image data inside a transfer buffer.
type TextureTransferInfo struct {
	TransferBuffer *TransferBuffer
	Offset         uint64
	// PixelsPerRow is the row length in texels. Zero means tightly packed.
	PixelsPerRow uint32
	// RowsPerLayer is the image height in rows. Zero means tightly packed.
	RowsPerLayer uint32
}

// TransferBufferLocation is a byte offset inside a transfer buffer.
type TransferBufferLocation struct {
	TransferBuffer *TransferBuffer
	Offset         uint64
}

// TextureRegion is a box inside one mip level of a texture. For 3D
// textures Z and D address depth slices; otherwise Layer picks the layer.
type TextureRegion struct {
	Texture  *Texture
	MipLevel uint32
	Layer    uint32
	X, Y, Z  uint32
	W, H, D  uint32
}

// TextureLocation is a texel position inside one mip level of a texture.
type TextureLocation struct {
	Texture  *Texture
	MipLevel uint32
	Layer    uint32
	X, Y, Z  uint32
}

// BufferRegion is a byte range of a buffer.
type BufferRegion struct {
	Buffer *Buffer
	Offset uint64
	Size   uint64
}

// BufferLocation is a byte offset inside a buffer.
type BufferLocation struct {
	Buffer *Buffer
	Offset uint64
}
