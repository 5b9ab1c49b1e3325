// Package shaderinfo extracts the resource interface of shader modules.
//
// WGSL sources are parsed, lowered and validated with naga; the resulting IR
// is reduced to the entry points and the @group/@binding resources the
// module declares. SPIR-V inputs are only checked for framing: length, word
// alignment and the magic number.
package shaderinfo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

// Errors returned by the reflection helpers.
var (
	// ErrEmptySource is returned for an empty shader source.
	ErrEmptySource = errors.New("shaderinfo: empty shader source")

	// ErrInvalidSPIRV is returned when SPIR-V bytes are malformed.
	ErrInvalidSPIRV = errors.New("shaderinfo: invalid SPIR-V")

	// ErrValidation is returned when the WGSL module fails IR validation.
	ErrValidation = errors.New("shaderinfo: validation failed")
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// Stage is a shader pipeline stage.
type Stage uint8

// Stage values.
const (
	StageVertex Stage = iota
	StageFragment
	StageCompute
	StageOther
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	case StageOther:
		return "other"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Kind classifies a bound resource.
type Kind uint8

// Kind values.
const (
	KindUniformBuffer Kind = iota
	KindStorageBufferRead
	KindStorageBufferReadWrite
	KindSampler
	KindComparisonSampler
	KindSampledTexture
	KindDepthTexture
	KindStorageTextureRead
	KindStorageTextureReadWrite
	KindOther
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUniformBuffer:
		return "uniform buffer"
	case KindStorageBufferRead:
		return "read-only storage buffer"
	case KindStorageBufferReadWrite:
		return "read-write storage buffer"
	case KindSampler:
		return "sampler"
	case KindComparisonSampler:
		return "comparison sampler"
	case KindSampledTexture:
		return "sampled texture"
	case KindDepthTexture:
		return "depth texture"
	case KindStorageTextureRead:
		return "read-only storage texture"
	case KindStorageTextureReadWrite:
		return "read-write storage texture"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// IsSampler reports whether k is any sampler kind.
func (k Kind) IsSampler() bool { return k == KindSampler || k == KindComparisonSampler }

// IsTexture reports whether k is a sampled (non-storage) texture.
func (k Kind) IsTexture() bool { return k == KindSampledTexture || k == KindDepthTexture }

// IsStorageTexture reports whether k is a storage texture.
func (k Kind) IsStorageTexture() bool {
	return k == KindStorageTextureRead || k == KindStorageTextureReadWrite
}

// IsStorageBuffer reports whether k is a storage buffer.
func (k Kind) IsStorageBuffer() bool {
	return k == KindStorageBufferRead || k == KindStorageBufferReadWrite
}

// EntryPoint describes one shader entry point.
type EntryPoint struct {
	Name      string
	Stage     Stage
	Workgroup [3]uint32
}

// Binding describes one resource declared with @group/@binding.
type Binding struct {
	Group   uint32
	Binding uint32
	Name    string
	Kind    Kind

	// Texture details; zero for buffers and samplers.
	ViewDimension gputypes.TextureViewDimension
	SampleType    gputypes.TextureSampleType
	StorageFormat gputypes.TextureFormat
	StorageAccess gputypes.StorageTextureAccess
	Multisampled  bool
}

// Module is the reflected interface of a shader module.
type Module struct {
	EntryPoints []EntryPoint
	// Bindings are sorted by group, then binding.
	Bindings []Binding
}

// EntryPoint returns the entry point with the given name.
func (m *Module) EntryPoint(name string) (EntryPoint, bool) {
	for _, ep := range m.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// Group returns the bindings of one bind group.
func (m *Module) Group(group uint32) []Binding {
	var out []Binding
	for _, b := range m.Bindings {
		if b.Group == group {
			out = append(out, b)
		}
	}
	return out
}

// ReflectWGSL parses, lowers and validates WGSL source and returns its
// resource interface.
func ReflectWGSL(source string) (*Module, error) {
	if source == "" {
		return nil, ErrEmptySource
	}

	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("shaderinfo: %w", err)
	}
	irModule, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("shaderinfo: %w", err)
	}
	verrs, err := naga.Validate(irModule)
	if err != nil {
		return nil, fmt.Errorf("shaderinfo: %w", err)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidation, verrs[0].Error())
	}

	return fromIR(irModule), nil
}

// fromIR reduces an IR module to entry points and bindings.
func fromIR(m *ir.Module) *Module {
	out := &Module{}
	for _, ep := range m.EntryPoints {
		out.EntryPoints = append(out.EntryPoints, EntryPoint{
			Name:      ep.Name,
			Stage:     stageOf(ep.Stage),
			Workgroup: ep.Workgroup,
		})
	}

	for _, gv := range m.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		b := Binding{
			Group:   gv.Binding.Group,
			Binding: gv.Binding.Binding,
			Name:    gv.Name,
			Kind:    kindOf(m, gv),
		}
		if img, ok := imageOf(m, gv.Type); ok && gv.Space == ir.SpaceHandle {
			b.ViewDimension = viewDimension(img)
			b.SampleType = sampleType(img)
			b.StorageFormat = storageFormats[img.StorageFormat]
			b.StorageAccess = storageAccess(img)
			b.Multisampled = img.Multisampled
		}
		out.Bindings = append(out.Bindings, b)
	}
	sort.Slice(out.Bindings, func(i, j int) bool {
		a, b := out.Bindings[i], out.Bindings[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Binding < b.Binding
	})
	return out
}

func stageOf(s ir.ShaderStage) Stage {
	switch s {
	case ir.StageVertex:
		return StageVertex
	case ir.StageFragment:
		return StageFragment
	case ir.StageCompute:
		return StageCompute
	default:
		return StageOther
	}
}

func kindOf(m *ir.Module, gv ir.GlobalVariable) Kind {
	switch gv.Space {
	case ir.SpaceUniform:
		return KindUniformBuffer
	case ir.SpaceStorage:
		if gv.Access == ir.StorageRead {
			return KindStorageBufferRead
		}
		return KindStorageBufferReadWrite
	case ir.SpaceHandle:
		return handleKind(m, gv.Type)
	default:
		return KindOther
	}
}

func handleKind(m *ir.Module, th ir.TypeHandle) Kind {
	// Binding arrays resolve to their element type; the depth bound guards
	// against malformed self-referencing arenas.
	for range 8 {
		if int(th) >= len(m.Types) {
			return KindOther
		}
		switch t := m.Types[th].Inner.(type) {
		case ir.SamplerType:
			if t.Comparison {
				return KindComparisonSampler
			}
			return KindSampler
		case ir.ImageType:
			switch t.Class {
			case ir.ImageClassDepth:
				return KindDepthTexture
			case ir.ImageClassStorage:
				if t.StorageAccess == ir.StorageAccessRead {
					return KindStorageTextureRead
				}
				return KindStorageTextureReadWrite
			default:
				return KindSampledTexture
			}
		case ir.BindingArrayType:
			th = t.Base
		default:
			return KindOther
		}
	}
	return KindOther
}

// imageOf resolves a handle type to its image type, looking through
// binding arrays.
func imageOf(m *ir.Module, th ir.TypeHandle) (ir.ImageType, bool) {
	for range 8 {
		if int(th) >= len(m.Types) {
			return ir.ImageType{}, false
		}
		switch t := m.Types[th].Inner.(type) {
		case ir.ImageType:
			return t, true
		case ir.BindingArrayType:
			th = t.Base
		default:
			return ir.ImageType{}, false
		}
	}
	return ir.ImageType{}, false
}

func viewDimension(img ir.ImageType) gputypes.TextureViewDimension {
	switch img.Dim {
	case ir.Dim1D:
		return gputypes.TextureViewDimension1D
	case ir.Dim3D:
		return gputypes.TextureViewDimension3D
	case ir.DimCube:
		if img.Arrayed {
			return gputypes.TextureViewDimensionCubeArray
		}
		return gputypes.TextureViewDimensionCube
	default:
		if img.Arrayed {
			return gputypes.TextureViewDimension2DArray
		}
		return gputypes.TextureViewDimension2D
	}
}

func sampleType(img ir.ImageType) gputypes.TextureSampleType {
	switch img.Class {
	case ir.ImageClassDepth:
		return gputypes.TextureSampleTypeDepth
	case ir.ImageClassSampled:
		switch img.SampledKind {
		case ir.ScalarSint:
			return gputypes.TextureSampleTypeSint
		case ir.ScalarUint:
			return gputypes.TextureSampleTypeUint
		}
		if img.Multisampled {
			return gputypes.TextureSampleTypeUnfilterableFloat
		}
		return gputypes.TextureSampleTypeFloat
	default:
		return gputypes.TextureSampleTypeUndefined
	}
}

func storageAccess(img ir.ImageType) gputypes.StorageTextureAccess {
	if img.Class != ir.ImageClassStorage {
		return gputypes.StorageTextureAccessUndefined
	}
	switch img.StorageAccess {
	case ir.StorageAccessRead:
		return gputypes.StorageTextureAccessReadOnly
	case ir.StorageAccessWrite:
		return gputypes.StorageTextureAccessWriteOnly
	default:
		return gputypes.StorageTextureAccessReadWrite
	}
}

// storageFormats maps WGSL storage texel formats to texture formats.
// Formats without a texture equivalent map to Undefined.
var storageFormats = map[ir.StorageFormat]gputypes.TextureFormat{
	ir.StorageFormatR8Unorm:       gputypes.TextureFormatR8Unorm,
	ir.StorageFormatR8Snorm:       gputypes.TextureFormatR8Snorm,
	ir.StorageFormatR8Uint:        gputypes.TextureFormatR8Uint,
	ir.StorageFormatR8Sint:        gputypes.TextureFormatR8Sint,
	ir.StorageFormatR16Uint:       gputypes.TextureFormatR16Uint,
	ir.StorageFormatR16Sint:       gputypes.TextureFormatR16Sint,
	ir.StorageFormatR16Float:      gputypes.TextureFormatR16Float,
	ir.StorageFormatRg8Unorm:      gputypes.TextureFormatRG8Unorm,
	ir.StorageFormatRg8Snorm:      gputypes.TextureFormatRG8Snorm,
	ir.StorageFormatRg8Uint:       gputypes.TextureFormatRG8Uint,
	ir.StorageFormatRg8Sint:       gputypes.TextureFormatRG8Sint,
	ir.StorageFormatR32Uint:       gputypes.TextureFormatR32Uint,
	ir.StorageFormatR32Sint:       gputypes.TextureFormatR32Sint,
	ir.StorageFormatR32Float:      gputypes.TextureFormatR32Float,
	ir.StorageFormatRg16Uint:      gputypes.TextureFormatRG16Uint,
	ir.StorageFormatRg16Sint:      gputypes.TextureFormatRG16Sint,
	ir.StorageFormatRg16Float:     gputypes.TextureFormatRG16Float,
	ir.StorageFormatRgba8Unorm:    gputypes.TextureFormatRGBA8Unorm,
	ir.StorageFormatRgba8Snorm:    gputypes.TextureFormatRGBA8Snorm,
	ir.StorageFormatRgba8Uint:     gputypes.TextureFormatRGBA8Uint,
	ir.StorageFormatRgba8Sint:     gputypes.TextureFormatRGBA8Sint,
	ir.StorageFormatBgra8Unorm:    gputypes.TextureFormatBGRA8Unorm,
	ir.StorageFormatRgb10a2Uint:   gputypes.TextureFormatRGB10A2Uint,
	ir.StorageFormatRgb10a2Unorm:  gputypes.TextureFormatRGB10A2Unorm,
	ir.StorageFormatRg11b10Ufloat: gputypes.TextureFormatRG11B10Ufloat,
	ir.StorageFormatRg32Uint:      gputypes.TextureFormatRG32Uint,
	ir.StorageFormatRg32Sint:      gputypes.TextureFormatRG32Sint,
	ir.StorageFormatRg32Float:     gputypes.TextureFormatRG32Float,
	ir.StorageFormatRgba16Uint:    gputypes.TextureFormatRGBA16Uint,
	ir.StorageFormatRgba16Sint:    gputypes.TextureFormatRGBA16Sint,
	ir.StorageFormatRgba16Float:   gputypes.TextureFormatRGBA16Float,
	ir.StorageFormatRgba32Uint:    gputypes.TextureFormatRGBA32Uint,
	ir.StorageFormatRgba32Sint:    gputypes.TextureFormatRGBA32Sint,
	ir.StorageFormatRgba32Float:   gputypes.TextureFormatRGBA32Float,
	ir.StorageFormatR16Unorm:      gputypes.TextureFormatR16Unorm,
	ir.StorageFormatR16Snorm:      gputypes.TextureFormatR16Snorm,
	ir.StorageFormatRg16Unorm:     gputypes.TextureFormatRG16Unorm,
	ir.StorageFormatRg16Snorm:     gputypes.TextureFormatRG16Snorm,
	ir.StorageFormatRgba16Unorm:   gputypes.TextureFormatRGBA16Unorm,
	ir.StorageFormatRgba16Snorm:   gputypes.TextureFormatRGBA16Snorm,
}

// SPIRVWords converts SPIR-V bytes to little-endian 32-bit words and checks
// the module header.
func SPIRVWords(code []byte) ([]uint32, error) {
	if len(code) == 0 {
		return nil, ErrEmptySource
	}
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrInvalidSPIRV, len(code))
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = uint32(code[i*4]) |
			uint32(code[i*4+1])<<8 |
			uint32(code[i*4+2])<<16 |
			uint32(code[i*4+3])<<24
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrInvalidSPIRV, words[0])
	}
	return words, nil
}

// CompileSPIRV compiles WGSL source to SPIR-V words.
func CompileSPIRV(source string) ([]uint32, error) {
	if source == "" {
		return nil, ErrEmptySource
	}
	b, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("shaderinfo: compile: %w", err)
	}
	return SPIRVWords(b)
}
