package gpucmd

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/shaderinfo"
)

// Slot-based bindings are mapped onto hal bind groups.
//
// Graphics pipelines use four groups:
//
//	0: vertex samplers, storage textures, storage buffers
//	1: vertex uniform buffers
//	2: fragment samplers, storage textures, storage buffers
//	3: fragment uniform buffers
//
// Compute pipelines use three:
//
//	0: samplers, read-only storage textures, read-only storage buffers
//	1: read-write storage textures, read-write storage buffers
//	2: uniform buffers
//
// Inside a group, sampler slot i occupies binding 2i (texture) and 2i+1
// (sampler); storage textures follow, then buffers.

// Bind group indices.
const (
	groupVertexResources   = 0
	groupVertexUniforms    = 1
	groupFragmentResources = 2
	groupFragmentUniforms  = 3

	groupComputeReadOnly  = 0
	groupComputeReadWrite = 1
	groupComputeUniforms  = 2
)

// textureSlot is the layout of one texture binding.
type textureSlot struct {
	sampleType   gputypes.TextureSampleType
	dim          gputypes.TextureViewDimension
	multisampled bool
	sampler      gputypes.SamplerBindingType

	format gputypes.TextureFormat
	access gputypes.StorageTextureAccess
}

// groupLayout is the resource shape of one bind group.
type groupLayout struct {
	visibility      gputypes.ShaderStages
	samplers        []textureSlot
	storageTextures []textureSlot
	buffers         []gputypes.BufferBindingType
}

func newGroupLayout(vis gputypes.ShaderStages, samplers, textures, buffers uint32,
	access gputypes.StorageTextureAccess, bufType gputypes.BufferBindingType) groupLayout {
	g := groupLayout{visibility: vis}
	for range samplers {
		g.samplers = append(g.samplers, textureSlot{
			sampleType: gputypes.TextureSampleTypeFloat,
			dim:        gputypes.TextureViewDimension2D,
			sampler:    gputypes.SamplerBindingTypeFiltering,
		})
	}
	for range textures {
		g.storageTextures = append(g.storageTextures, textureSlot{
			format: gputypes.TextureFormatRGBA8Unorm,
			dim:    gputypes.TextureViewDimension2D,
			access: access,
		})
	}
	for range buffers {
		g.buffers = append(g.buffers, bufType)
	}
	return g
}

// uniformGroup is a group holding n uniform buffers.
func uniformGroup(vis gputypes.ShaderStages, n uint32) groupLayout {
	return newGroupLayout(vis, 0, 0, n, gputypes.StorageTextureAccessUndefined, gputypes.BufferBindingTypeUniform)
}

func (g *groupLayout) empty() bool {
	return len(g.samplers) == 0 && len(g.storageTextures) == 0 && len(g.buffers) == 0
}

func (g *groupLayout) textureBinding(i uint32) uint32 { return 2 * i }
func (g *groupLayout) samplerBinding(i uint32) uint32 { return 2*i + 1 }

func (g *groupLayout) storageTextureBinding(i uint32) uint32 {
	return 2*uint32(len(g.samplers)) + i
}

func (g *groupLayout) bufferBinding(i uint32) uint32 {
	return 2*uint32(len(g.samplers)) + uint32(len(g.storageTextures)) + i
}

// reflect refines slot details from the bindings a WGSL module declares in
// this group. Bindings outside the slot ranges are ignored; the shader
// validator rejects them earlier.
func (g *groupLayout) reflect(bindings []shaderinfo.Binding) {
	nsTex := uint32(len(g.samplers))
	for _, b := range bindings {
		switch {
		case b.Binding < 2*nsTex && b.Binding%2 == 0:
			s := &g.samplers[b.Binding/2]
			s.dim = b.ViewDimension
			s.sampleType = b.SampleType
			s.multisampled = b.Multisampled
			switch b.SampleType {
			case gputypes.TextureSampleTypeDepth:
				if s.sampler == gputypes.SamplerBindingTypeFiltering {
					s.sampler = gputypes.SamplerBindingTypeNonFiltering
				}
			case gputypes.TextureSampleTypeSint, gputypes.TextureSampleTypeUint,
				gputypes.TextureSampleTypeUnfilterableFloat:
				s.sampler = gputypes.SamplerBindingTypeNonFiltering
			}
		case b.Binding < 2*nsTex:
			if b.Kind == shaderinfo.KindComparisonSampler {
				g.samplers[b.Binding/2].sampler = gputypes.SamplerBindingTypeComparison
			}
		case b.Binding < g.bufferBinding(0):
			s := &g.storageTextures[b.Binding-2*nsTex]
			if b.StorageFormat != gputypes.TextureFormatUndefined {
				s.format = b.StorageFormat
			}
			s.dim = b.ViewDimension
			if b.StorageAccess != gputypes.StorageTextureAccessUndefined {
				s.access = b.StorageAccess
			}
		}
	}
}

func (g *groupLayout) entries() []gputypes.BindGroupLayoutEntry {
	out := make([]gputypes.BindGroupLayoutEntry, 0, 2*len(g.samplers)+len(g.storageTextures)+len(g.buffers))
	for i, s := range g.samplers {
		out = append(out,
			gputypes.BindGroupLayoutEntry{
				Binding:    g.textureBinding(uint32(i)),
				Visibility: g.visibility,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    s.sampleType,
					ViewDimension: s.dim,
					Multisampled:  s.multisampled,
				},
			},
			gputypes.BindGroupLayoutEntry{
				Binding:    g.samplerBinding(uint32(i)),
				Visibility: g.visibility,
				Sampler:    &gputypes.SamplerBindingLayout{Type: s.sampler},
			})
	}
	for i, s := range g.storageTextures {
		out = append(out, gputypes.BindGroupLayoutEntry{
			Binding:    g.storageTextureBinding(uint32(i)),
			Visibility: g.visibility,
			StorageTexture: &gputypes.StorageTextureBindingLayout{
				Access:        s.access,
				Format:        s.format,
				ViewDimension: s.dim,
			},
		})
	}
	for i, t := range g.buffers {
		out = append(out, gputypes.BindGroupLayoutEntry{
			Binding:    g.bufferBinding(uint32(i)),
			Visibility: g.visibility,
			Buffer:     &gputypes.BufferBindingLayout{Type: t},
		})
	}
	return out
}

// pipelineBindings is the hal layout side of a pipeline.
type pipelineBindings struct {
	groups  []groupLayout
	layouts []hal.BindGroupLayout
	layout  hal.PipelineLayout
}

// createPipelineBindings creates the bind group layouts and the pipeline
// layout for groups. Empty groups share the device's empty layout.
func (d *Device) createPipelineBindings(label string, groups []groupLayout) (*pipelineBindings, error) {
	pb := &pipelineBindings{groups: groups}
	for i := range groups {
		if groups[i].empty() {
			pb.layouts = append(pb.layouts, d.emptyLayout)
			continue
		}
		l, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s.group%d", label, i),
			Entries: groups[i].entries(),
		})
		if err != nil {
			pb.destroy(d)
			return nil, fmt.Errorf("bind group layout %d: %w", i, err)
		}
		pb.layouts = append(pb.layouts, l)
	}
	layout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: pb.layouts,
	})
	if err != nil {
		pb.destroy(d)
		return nil, fmt.Errorf("pipeline layout: %w", err)
	}
	pb.layout = layout
	return pb, nil
}

func (pb *pipelineBindings) destroy(d *Device) {
	if pb.layout != nil {
		d.dev.DestroyPipelineLayout(pb.layout)
		pb.layout = nil
	}
	for _, l := range pb.layouts {
		if l != d.emptyLayout {
			d.dev.DestroyBindGroupLayout(l)
		}
	}
	pb.layouts = nil
}

// boundBuffer is a buffer range bound to a slot.
type boundBuffer struct {
	buf    hal.Buffer
	offset uint64
	size   uint64
}

type boundSampler struct {
	view    hal.TextureView
	sampler hal.Sampler
}

// stageBindings holds what has been bound to the slots of one group.
// Slots survive pipeline changes within a pass.
type stageBindings struct {
	samplers        map[uint32]boundSampler
	storageTextures map[uint32]hal.TextureView
	buffers         map[uint32]boundBuffer
	dirty           bool
}

func newStageBindings() *stageBindings {
	return &stageBindings{
		samplers:        make(map[uint32]boundSampler),
		storageTextures: make(map[uint32]hal.TextureView),
		buffers:         make(map[uint32]boundBuffer),
	}
}

func (s *stageBindings) setSampler(slot uint32, view hal.TextureView, smp hal.Sampler) {
	s.samplers[slot] = boundSampler{view: view, sampler: smp}
	s.dirty = true
}

func (s *stageBindings) setStorageTexture(slot uint32, view hal.TextureView) {
	s.storageTextures[slot] = view
	s.dirty = true
}

func (s *stageBindings) setBuffer(slot uint32, b boundBuffer) {
	s.buffers[slot] = b
	s.dirty = true
}

// groupEntries builds the bind group entries for g from s. It reports the
// first slot that has nothing bound.
func groupEntries(g *groupLayout, s *stageBindings) ([]gputypes.BindGroupEntry, error) {
	out := make([]gputypes.BindGroupEntry, 0, 2*len(g.samplers)+len(g.storageTextures)+len(g.buffers))
	for i := range g.samplers {
		b, ok := s.samplers[uint32(i)]
		if !ok {
			return nil, fmt.Errorf("sampler slot %d unbound", i)
		}
		out = append(out,
			gputypes.BindGroupEntry{
				Binding:  g.textureBinding(uint32(i)),
				Resource: gputypes.TextureViewBinding{TextureView: b.view.NativeHandle()},
			},
			gputypes.BindGroupEntry{
				Binding:  g.samplerBinding(uint32(i)),
				Resource: gputypes.SamplerBinding{Sampler: b.sampler.NativeHandle()},
			})
	}
	for i := range g.storageTextures {
		v, ok := s.storageTextures[uint32(i)]
		if !ok {
			return nil, fmt.Errorf("storage texture slot %d unbound", i)
		}
		out = append(out, gputypes.BindGroupEntry{
			Binding:  g.storageTextureBinding(uint32(i)),
			Resource: gputypes.TextureViewBinding{TextureView: v.NativeHandle()},
		})
	}
	for i := range g.buffers {
		b, ok := s.buffers[uint32(i)]
		if !ok {
			return nil, fmt.Errorf("buffer slot %d unbound", i)
		}
		out = append(out, gputypes.BindGroupEntry{
			Binding:  g.bufferBinding(uint32(i)),
			Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: b.offset, Size: b.size},
		})
	}
	return out, nil
}

// groupBinder flushes dirty groups before a draw or dispatch.
type groupBinder struct {
	pipeline *pipelineBindings
	sources  []*stageBindings
	bound    []bool
}

// reset points the binder at a new pipeline; every group is rebound.
func (gb *groupBinder) reset(pb *pipelineBindings, sources []*stageBindings) {
	gb.pipeline = pb
	gb.sources = sources
	gb.bound = make([]bool, len(pb.groups))
}

// flush creates and binds the groups that changed since the last flush.
func (gb *groupBinder) flush(cb *CommandBuffer, set func(index uint32, group hal.BindGroup)) error {
	d := cb.device
	for i := range gb.pipeline.groups {
		g := &gb.pipeline.groups[i]
		src := gb.sources[i]
		if g.empty() {
			if !gb.bound[i] {
				set(uint32(i), d.emptyGroup)
				gb.bound[i] = true
			}
			continue
		}
		if gb.bound[i] && !src.dirty {
			continue
		}
		entries, err := groupEntries(g, src)
		if err != nil {
			return fmt.Errorf("group %d: %w", i, err)
		}
		group, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
			Layout:  gb.pipeline.layouts[i],
			Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("group %d: %w", i, err)
		}
		cb.transient(func() { d.dev.DestroyBindGroup(group) })
		set(uint32(i), group)
		gb.bound[i] = true
	}
	for _, src := range gb.sources {
		src.dirty = false
	}
	return nil
}
