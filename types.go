package gpucmd

import (
	"fmt"
	"strings"
)

// ShaderFormat is a set of shader bytecode formats.
type ShaderFormat uint32

// Shader formats. The set is closed; a device accepts a subset of it
// depending on its backend.
const (
	ShaderFormatInvalid ShaderFormat = 0
	ShaderFormatSPIRV   ShaderFormat = 1 << (iota - 1)
	ShaderFormatDXBC
	ShaderFormatDXIL
	ShaderFormatMSL
	ShaderFormatMetalLib
	ShaderFormatWGSL
)

var shaderFormatNames = [...]struct {
	f    ShaderFormat
	name string
}{
	{ShaderFormatSPIRV, "SPIRV"},
	{ShaderFormatDXBC, "DXBC"},
	{ShaderFormatDXIL, "DXIL"},
	{ShaderFormatMSL, "MSL"},
	{ShaderFormatMetalLib, "MetalLib"},
	{ShaderFormatWGSL, "WGSL"},
}

// Has reports whether all formats in o are in f.
func (f ShaderFormat) Has(o ShaderFormat) bool { return o != 0 && f&o == o }

// String returns the format names joined with "|".
func (f ShaderFormat) String() string {
	if f == 0 {
		return "Invalid"
	}
	var parts []string
	for _, n := range shaderFormatNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
			f &^= n.f
		}
	}
	if f != 0 {
		parts = append(parts, fmt.Sprintf("Unknown(%#x)", uint32(f)))
	}
	return strings.Join(parts, "|")
}

// ShaderStage is the pipeline stage a shader runs in.
type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageFragment
)

// String returns the stage name.
func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "Vertex"
	case ShaderStageFragment:
		return "Fragment"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// TextureType is the shape of a texture.
type TextureType uint8

const (
	TextureType2D TextureType = iota
	TextureType2DArray
	TextureType3D
	TextureTypeCube
	TextureTypeCubeArray
)

// String returns the texture type name.
func (t TextureType) String() string {
	switch t {
	case TextureType2D:
		return "2D"
	case TextureType2DArray:
		return "2DArray"
	case TextureType3D:
		return "3D"
	case TextureTypeCube:
		return "Cube"
	case TextureTypeCubeArray:
		return "CubeArray"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// TextureUsage is a set of ways a texture may be used.
type TextureUsage uint32

const (
	TextureUsageSampler TextureUsage = 1 << iota
	TextureUsageColorTarget
	TextureUsageDepthStencilTarget
	TextureUsageGraphicsStorageRead
	TextureUsageComputeStorageRead
	TextureUsageComputeStorageWrite
	TextureUsageComputeStorageSimultaneousReadWrite
)

// BufferUsage is a set of ways a buffer may be used.
type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageIndirect
	BufferUsageGraphicsStorageRead
	BufferUsageComputeStorageRead
	BufferUsageComputeStorageWrite
)

// TransferBufferUsage is the direction of a transfer buffer.
type TransferBufferUsage uint8

const (
	TransferBufferUsageUpload TransferBufferUsage = iota
	TransferBufferUsageDownload
)

// String returns the usage name.
func (u TransferBufferUsage) String() string {
	switch u {
	case TransferBufferUsageUpload:
		return "Upload"
	case TransferBufferUsageDownload:
		return "Download"
	default:
		return fmt.Sprintf("Unknown(%d)", u)
	}
}

// LoadOp says what happens to a target's contents when a render pass begins.
type LoadOp uint8

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

// StoreOp says what happens to a target's contents when a render pass ends.
type StoreOp uint8

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
	// StoreOpResolve resolves a multisampled target into its resolve
	// texture and discards the multisampled contents.
	StoreOpResolve
	// StoreOpResolveAndStore resolves and also keeps the multisampled contents.
	StoreOpResolveAndStore
)

func (op StoreOp) resolves() bool { return op == StoreOpResolve || op == StoreOpResolveAndStore }

// IndexElementSize is the width of one index.
type IndexElementSize uint8

const (
	IndexElementSize16Bit IndexElementSize = iota
	IndexElementSize32Bit
)

// FillMode selects how primitives are rasterized.
type FillMode uint8

const (
	FillModeFill FillMode = iota
	FillModeLine
)

// PrimitiveType is the topology of the vertex stream.
type PrimitiveType uint8

const (
	PrimitiveTypeTriangleList PrimitiveType = iota
	PrimitiveTypeTriangleStrip
	PrimitiveTypeLineList
	PrimitiveTypeLineStrip
	PrimitiveTypePointList
)

// VertexInputRate says whether a vertex buffer advances per vertex or per instance.
type VertexInputRate uint8

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)
