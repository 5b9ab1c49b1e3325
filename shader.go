package gpucmd

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/shaderinfo"
)

type shaderAlloc struct {
	allocation
	module hal.ShaderModule
}

// Shader is one compiled vertex or fragment stage.
//
// Pipelines do not keep a reference to their shaders; a Shader may be
// released as soon as the pipelines that use it are created.
type Shader struct {
	h          handle[*shaderAlloc]
	stage      ShaderStage
	format     ShaderFormat
	entryPoint string

	numSamplers        uint32
	numStorageTextures uint32
	numStorageBuffers  uint32
	numUniformBuffers  uint32

	// reflection is nil for formats that are not reflected.
	reflection *shaderinfo.Module
}

// CreateShader compiles a vertex or fragment shader.
//
// WGSL sources are parsed and validated; the entry point must exist with the
// requested stage and every resource the shader declares must fit the slot
// counts in info. SPIR-V is checked for framing only.
func (d *Device) CreateShader(info *ShaderCreateInfo) (*Shader, error) {
	if !d.IsValid() {
		return nil, ErrDeviceInvalid
	}
	if info == nil {
		return nil, fmt.Errorf("%w: nil ShaderCreateInfo", ErrInvalidDescriptor)
	}
	if info.Stage != ShaderStageVertex && info.Stage != ShaderStageFragment {
		return nil, fmt.Errorf("%w: shader stage %v", ErrInvalidShader, info.Stage)
	}
	if err := checkStageLimits(d.caps.Limits, info.NumSamplers, info.NumStorageTextures,
		info.NumStorageBuffers, info.NumUniformBuffers); err != nil {
		return nil, err
	}

	res, uni := uint32(groupVertexResources), uint32(groupVertexUniforms)
	want := shaderinfo.StageVertex
	vis := gputypes.ShaderStageVertex
	// One WGSL module often carries both stages; the groups of the other
	// stage are checked when that stage is created.
	other := []uint32{groupFragmentResources, groupFragmentUniforms}
	if info.Stage == ShaderStageFragment {
		res, uni = groupFragmentResources, groupFragmentUniforms
		want = shaderinfo.StageFragment
		vis = gputypes.ShaderStageFragment
		other = []uint32{groupVertexResources, groupVertexUniforms}
	}
	groups := map[uint32]groupLayout{
		res: newGroupLayout(vis, info.NumSamplers, info.NumStorageTextures, info.NumStorageBuffers,
			gputypes.StorageTextureAccessReadOnly, gputypes.BufferBindingTypeReadOnlyStorage),
		uni: uniformGroup(vis, info.NumUniformBuffers),
	}

	src, refl, err := d.shaderSource(info.Code, info.Format, info.EntryPoint, want, groups, other...)
	if err != nil {
		return nil, err
	}

	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: info.Name, Source: src})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidShader, err)
	}
	a := &shaderAlloc{module: module}
	a.device = d
	a.destroyFn = func() { d.dev.DestroyShaderModule(module) }

	s := &Shader{
		stage:              info.Stage,
		format:             info.Format,
		entryPoint:         info.EntryPoint,
		numSamplers:        info.NumSamplers,
		numStorageTextures: info.NumStorageTextures,
		numStorageBuffers:  info.NumStorageBuffers,
		numUniformBuffers:  info.NumUniformBuffers,
		reflection:         refl,
	}
	s.h.init(d, a, info.Name)
	if err := d.track(s); err != nil {
		a.destroy()
		return nil, err
	}
	Logger().Debug("gpucmd: shader created", "name", info.Name, "stage", info.Stage, "format", info.Format)
	return s, nil
}

// shaderSource validates code against the device formats and, for WGSL,
// against the entry point and the slot layout of groups. Bindings in the
// skip groups are not checked.
func (d *Device) shaderSource(code []byte, f ShaderFormat, entry string, stage shaderinfo.Stage,
	groups map[uint32]groupLayout, skip ...uint32) (hal.ShaderSource, *shaderinfo.Module, error) {
	if f == ShaderFormatInvalid || f&(f-1) != 0 {
		return hal.ShaderSource{}, nil, fmt.Errorf("%w: format %v is not a single format", ErrInvalidShader, f)
	}
	if !d.formats.Has(f) {
		return hal.ShaderSource{}, nil, fmt.Errorf("%w: %v (device accepts %v)", ErrUnsupportedShaderFormat, f, d.formats)
	}
	if entry == "" {
		return hal.ShaderSource{}, nil, fmt.Errorf("%w: empty entry point", ErrInvalidShader)
	}

	switch f {
	case ShaderFormatWGSL:
		mod, err := shaderinfo.ReflectWGSL(string(code))
		if err != nil {
			return hal.ShaderSource{}, nil, fmt.Errorf("%w: %w", ErrInvalidShader, err)
		}
		ep, ok := mod.EntryPoint(entry)
		if !ok {
			return hal.ShaderSource{}, nil, fmt.Errorf("%w: entry point %q not found", ErrInvalidShader, entry)
		}
		if ep.Stage != stage {
			return hal.ShaderSource{}, nil, fmt.Errorf("%w: entry point %q is a %v shader, want %v",
				ErrInvalidShader, entry, ep.Stage, stage)
		}
		if err := checkBindings(mod, groups, skip); err != nil {
			return hal.ShaderSource{}, nil, fmt.Errorf("%w: %w", ErrInvalidShader, err)
		}
		return hal.ShaderSource{WGSL: string(code)}, mod, nil
	case ShaderFormatSPIRV:
		words, err := shaderinfo.SPIRVWords(code)
		if err != nil {
			return hal.ShaderSource{}, nil, fmt.Errorf("%w: %w", ErrInvalidShader, err)
		}
		return hal.ShaderSource{SPIRV: words}, nil, nil
	default:
		return hal.ShaderSource{}, nil, fmt.Errorf("%w: %v", ErrUnsupportedShaderFormat, f)
	}
}

// checkBindings verifies that every resource a module declares lands on a
// slot of the matching kind.
func checkBindings(mod *shaderinfo.Module, groups map[uint32]groupLayout, skip []uint32) error {
	for _, b := range mod.Bindings {
		if slices.Contains(skip, b.Group) {
			continue
		}
		g, ok := groups[b.Group]
		if !ok {
			return fmt.Errorf("%s at @group(%d) is outside this stage's groups", b.Name, b.Group)
		}
		if err := g.accepts(b); err != nil {
			return fmt.Errorf("%s at @group(%d) @binding(%d): %w", b.Name, b.Group, b.Binding, err)
		}
	}
	return nil
}

// accepts reports whether b fits one of the group's slots.
func (g *groupLayout) accepts(b shaderinfo.Binding) error {
	ns := uint32(len(g.samplers))
	switch {
	case b.Binding < 2*ns && b.Binding%2 == 0:
		if !b.Kind.IsTexture() {
			return fmt.Errorf("%v in a sampled texture slot", b.Kind)
		}
	case b.Binding < 2*ns:
		if !b.Kind.IsSampler() {
			return fmt.Errorf("%v in a sampler slot", b.Kind)
		}
	case b.Binding < g.bufferBinding(0):
		s := g.storageTextures[b.Binding-2*ns]
		want := shaderinfo.KindStorageTextureReadWrite
		if s.access == gputypes.StorageTextureAccessReadOnly {
			want = shaderinfo.KindStorageTextureRead
		}
		if b.Kind != want {
			return fmt.Errorf("%v in a %v slot", b.Kind, want)
		}
	case b.Binding < g.bufferBinding(uint32(len(g.buffers))):
		var want shaderinfo.Kind
		switch g.buffers[b.Binding-g.bufferBinding(0)] {
		case gputypes.BufferBindingTypeUniform:
			want = shaderinfo.KindUniformBuffer
		case gputypes.BufferBindingTypeReadOnlyStorage:
			want = shaderinfo.KindStorageBufferRead
		default:
			want = shaderinfo.KindStorageBufferReadWrite
		}
		if b.Kind != want {
			return fmt.Errorf("%v in a %v slot", b.Kind, want)
		}
	default:
		return fmt.Errorf("binding exceeds the declared slot counts")
	}
	return nil
}

func checkStageLimits(lim gputypes.Limits, samplers, storageTextures, storageBuffers, uniforms uint32) error {
	checks := []struct {
		what  string
		n     uint32
		limit uint32
	}{
		{"samplers", samplers, lim.MaxSamplersPerShaderStage},
		{"sampled textures", samplers, lim.MaxSampledTexturesPerShaderStage},
		{"storage textures", storageTextures, lim.MaxStorageTexturesPerShaderStage},
		{"storage buffers", storageBuffers, lim.MaxStorageBuffersPerShaderStage},
		{"uniform buffers", uniforms, lim.MaxUniformBuffersPerShaderStage},
	}
	for _, c := range checks {
		if c.n > c.limit {
			return fmt.Errorf("%w: %d %s > %d", ErrExceedsLimits, c.n, c.what, c.limit)
		}
	}
	return nil
}

func (s *Shader) current() (*shaderAlloc, bool) {
	if s == nil {
		return nil, false
	}
	return s.h.load()
}

// Stage returns the shader stage.
func (s *Shader) Stage() ShaderStage {
	if s == nil {
		return 0
	}
	return s.stage
}

// EntryPoint returns the entry point name.
func (s *Shader) EntryPoint() string {
	if s == nil {
		return ""
	}
	return s.entryPoint
}

// IsValid reports whether the shader is live.
func (s *Shader) IsValid() bool {
	return s != nil && s.h.valid()
}

// SetName sets the debug name.
func (s *Shader) SetName(name string) {
	if s == nil || !s.h.setName(name) {
		logMisuse("Shader.SetName", "shader is invalid")
	}
}

// Release releases the shader. Release is idempotent.
func (s *Shader) Release() {
	if s == nil {
		return
	}
	a, ok := s.h.take()
	if !ok {
		return
	}
	a.device.untrack(s)
	a.device.retire(&a.allocation)
}

func (s *Shader) kindName() string { return "Shader" }
func (s *Shader) label() string    { return s.h.label() }
