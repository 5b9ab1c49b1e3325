package gpucmd

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/format"
	"github.com/gogpu/gpucmd/internal/shaderinfo"
)

//go:embed shaders/blit.wgsl
var blitShaderSource string

// blitter owns the objects mipmap generation draws with. Render pipelines
// are created per target format on first use.
type blitter struct {
	shader  hal.ShaderModule
	group   hal.BindGroupLayout
	layout  hal.PipelineLayout
	sampler hal.Sampler

	mu        sync.Mutex
	pipelines map[gputypes.TextureFormat]hal.RenderPipeline
}

func newBlitter(d *Device) (*blitter, error) {
	if _, err := shaderinfo.ReflectWGSL(blitShaderSource); err != nil {
		return nil, fmt.Errorf("gpucmd: blit shader: %w", err)
	}
	b := &blitter{pipelines: make(map[gputypes.TextureFormat]hal.RenderPipeline)}

	var err error
	b.shader, err = d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gpucmd.blit",
		Source: hal.ShaderSource{WGSL: blitShaderSource},
	})
	if err != nil {
		return nil, fmt.Errorf("gpucmd: blit shader module: %w", err)
	}
	b.group, err = d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gpucmd.blit",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		b.destroy(d)
		return nil, fmt.Errorf("gpucmd: blit bind group layout: %w", err)
	}
	b.layout, err = d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpucmd.blit",
		BindGroupLayouts: []hal.BindGroupLayout{b.group},
	})
	if err != nil {
		b.destroy(d)
		return nil, fmt.Errorf("gpucmd: blit pipeline layout: %w", err)
	}
	b.sampler, err = d.dev.CreateSampler(&hal.SamplerDescriptor{
		Label:        "gpucmd.blit",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeNearest,
		LodMaxClamp:  32,
	})
	if err != nil {
		b.destroy(d)
		return nil, fmt.Errorf("gpucmd: blit sampler: %w", err)
	}
	Logger().Debug("gpucmd: blitter created")
	return b, nil
}

// pipeline returns the blit pipeline rendering into format f.
func (b *blitter) pipeline(d *Device, f gputypes.TextureFormat) (hal.RenderPipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pipelines[f]; ok {
		return p, nil
	}
	p, err := d.dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "gpucmd.blit." + f.String(),
		Layout: b.layout,
		Vertex: hal.VertexState{
			Module:     b.shader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     b.shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    f,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gpucmd: blit pipeline %v: %w", f, err)
	}
	b.pipelines[f] = p
	return p, nil
}

func (b *blitter) destroy(d *Device) {
	b.mu.Lock()
	for f, p := range b.pipelines {
		d.dev.DestroyRenderPipeline(p)
		delete(b.pipelines, f)
	}
	b.mu.Unlock()
	if b.sampler != nil {
		d.dev.DestroySampler(b.sampler)
	}
	if b.layout != nil {
		d.dev.DestroyPipelineLayout(b.layout)
	}
	if b.group != nil {
		d.dev.DestroyBindGroupLayout(b.group)
	}
	if b.shader != nil {
		d.dev.DestroyShaderModule(b.shader)
	}
}

// blitter returns the device blitter, creating it on first use.
func (d *Device) blitter() (*blitter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDeviceInvalid
	}
	if d.blit == nil {
		b, err := newBlitter(d)
		if err != nil {
			return nil, err
		}
		d.blit = b
	}
	return d.blit, nil
}

// blitStep renders one level of one layer from the level above it.
type blitStep struct {
	level  uint32
	dst    hal.TextureView
	group  hal.BindGroup
	width  uint32
	height uint32
}

// GenerateMipmaps fills levels 1..n-1 of tex by repeatedly downsampling
// level 0 with a linear filter. The texture needs sampler and color
// target usage, more than one level, and a filterable color format. 3D
// textures are not supported.
//
// Mipmap generation is recorded outside any pass; afterwards the texture
// is ready to be sampled.
func (cb *CommandBuffer) GenerateMipmaps(tex *Texture) {
	const op = "CommandBuffer.GenerateMipmaps"
	if !cb.recording(op) {
		return
	}
	const need = TextureUsageSampler | TextureUsageColorTarget
	switch {
	case !tex.IsValid():
		cb.misuse(op, "texture is invalid")
		return
	case tex.info.NumLevels < 2:
		cb.misuse(op, "texture has a single mip level", "texture", tex.h.label())
		return
	case tex.info.Usage&need != need:
		cb.misuse(op, "texture needs sampler and color target usage", "texture", tex.h.label())
		return
	case tex.info.Type == TextureType3D:
		cb.misuse(op, "3D textures are not supported", "texture", tex.h.label())
		return
	case tex.info.Format.IsDepthStencil() || format.IsInteger(tex.info.Format):
		cb.misuse(op, "format cannot be filtered", "format", tex.info.Format)
		return
	}

	d := cb.device
	blit, err := d.blitter()
	if err != nil {
		cb.misuse(op, "blitter unavailable", "err", err)
		return
	}
	pipeline, err := blit.pipeline(d, tex.info.Format)
	if err != nil {
		cb.misuse(op, "blit pipeline unavailable", "err", err)
		return
	}
	a, ok := cb.useTexture(op, tex, false)
	if !ok {
		return
	}

	// Every view and bind group is created before any barrier is recorded,
	// so a failure leaves the texture state untouched.
	var steps []blitStep
	for level := uint32(1); level < tex.info.NumLevels; level++ {
		for layer := range tex.layers() {
			src, err := tex.subresourceView(a, level-1, layer)
			if err != nil {
				cb.misuse(op, "texture view creation failed", "err", err)
				return
			}
			dst, err := tex.subresourceView(a, level, layer)
			if err != nil {
				cb.misuse(op, "texture view creation failed", "err", err)
				return
			}
			group, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
				Label:  "gpucmd.mipmap",
				Layout: blit.group,
				Entries: []gputypes.BindGroupEntry{
					{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: src.NativeHandle()}},
					{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: blit.sampler.NativeHandle()}},
				},
			})
			if err != nil {
				cb.misuse(op, "bind group creation failed", "err", err)
				return
			}
			cb.transient(func() { d.dev.DestroyBindGroup(group) })
			steps = append(steps, blitStep{
				level:  level,
				dst:    dst,
				group:  group,
				width:  format.MipExtent(tex.info.Width, level),
				height: format.MipExtent(tex.info.Height, level),
			})
		}
	}

	enc := cb.encoder
	a.transition(enc, gputypes.TextureUsageRenderAttachment)
	levelDone := func(level uint32) {
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: a.tex,
			Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll, BaseMipLevel: level, MipLevelCount: 1},
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageRenderAttachment,
				NewUsage: gputypes.TextureUsageTextureBinding,
			},
		}})
	}
	for i, s := range steps {
		if i == 0 || steps[i-1].level != s.level {
			levelDone(s.level - 1)
		}
		rp := enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "gpucmd.mipmap",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:    s.dst,
				LoadOp:  gputypes.LoadOpClear,
				StoreOp: gputypes.StoreOpStore,
			}},
		})
		rp.SetPipeline(pipeline)
		rp.SetBindGroup(0, s.group, nil)
		rp.SetViewport(0, 0, float32(s.width), float32(s.height), 0, 1)
		rp.Draw(3, 1, 0, 0)
		rp.End()
	}
	levelDone(tex.info.NumLevels - 1)
	a.state.Store(uint64(gputypes.TextureUsageTextureBinding))

	Logger().Debug("gpucmd: mipmaps generated",
		"texture", tex.h.label(), "levels", tex.info.NumLevels, "layers", tex.layers())
}
