package gpucmd

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/format"
	"github.com/gogpu/gpucmd/internal/memory"
)

// viewKey identifies a texture view by the subresources it covers.
type viewKey struct {
	dim        gputypes.TextureViewDimension
	baseMip    uint32
	mipCount   uint32
	baseLayer  uint32
	layerCount uint32
	aspect     gputypes.TextureAspect
}

// textureAlloc is one native texture and the views created on it.
type textureAlloc struct {
	allocation
	tex    hal.Texture
	format gputypes.TextureFormat
	// state is the gputypes.TextureUsage the texture was last used as.
	state atomic.Uint64
	// external textures (swapchain images) are transitioned by the backend.
	external bool

	mu    sync.Mutex
	views map[viewKey]hal.TextureView
}

// view returns the cached view for key, creating it on first use.
func (a *textureAlloc) view(key viewKey) (hal.TextureView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.views[key]; ok {
		return v, nil
	}
	v, err := a.device.dev.CreateTextureView(a.tex, &hal.TextureViewDescriptor{
		Format:          a.format,
		Dimension:       key.dim,
		Aspect:          key.aspect,
		BaseMipLevel:    key.baseMip,
		MipLevelCount:   key.mipCount,
		BaseArrayLayer:  key.baseLayer,
		ArrayLayerCount: key.layerCount,
	})
	if err != nil {
		return nil, err
	}
	if a.views == nil {
		a.views = make(map[viewKey]hal.TextureView)
	}
	a.views[key] = v
	return v, nil
}

func (a *textureAlloc) destroyViews() {
	a.mu.Lock()
	views := a.views
	a.views = nil
	a.mu.Unlock()
	for _, v := range views {
		a.device.dev.DestroyTextureView(v)
	}
}

// transition records a texture barrier when the texture changes usage.
// Depth/stencil textures and swapchain images only track state: hal maps
// RenderAttachment onto color layouts, and swapchain images are handled by
// the backend's present path.
func (a *textureAlloc) transition(enc hal.CommandEncoder, to gputypes.TextureUsage) {
	from := gputypes.TextureUsage(a.state.Swap(uint64(to)))
	if from == to || a.external || a.format.IsDepthStencil() {
		return
	}
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: a.tex,
		Range:   fullRange(),
		Usage:   hal.TextureUsageTransition{OldUsage: from, NewUsage: to},
	}})
}

// Texture is a 2D, 2D array, 3D, cube or cube array image.
//
// A zero Texture is invalid; every method on it is a no-op.
type Texture struct {
	h        handle[*textureAlloc]
	info     TextureCreateInfo
	halUsage gputypes.TextureUsage
	bytes    uint64
	// swapchain textures are owned by a command buffer, not by the caller.
	swapchain bool
}

// CreateTexture creates a texture. The contents are undefined until written.
func (d *Device) CreateTexture(info *TextureCreateInfo) (*Texture, error) {
	if !d.IsValid() {
		return nil, ErrDeviceInvalid
	}
	if info == nil {
		return nil, fmt.Errorf("%w: nil TextureCreateInfo", ErrInvalidDescriptor)
	}
	ti := *info
	if ti.LayerCountOrDepth == 0 {
		ti.LayerCountOrDepth = 1
	}
	if ti.NumLevels == 0 {
		ti.NumLevels = 1
	}
	if ti.SampleCount == 0 {
		ti.SampleCount = 1
	}
	if err := d.validateTexture(&ti); err != nil {
		return nil, err
	}

	depth := uint32(1)
	layers := ti.LayerCountOrDepth
	if ti.Type == TextureType3D {
		depth, layers = ti.LayerCountOrDepth, 1
	}
	bytes := format.TextureSize(ti.Format, ti.Width, ti.Height, depth, layers, ti.NumLevels, ti.SampleCount)

	t := &Texture{info: ti, halUsage: textureUsageToHAL(ti.Usage), bytes: bytes}
	a := &textureAlloc{format: ti.Format}
	if err := a.reserve(d, memory.KindTexture, bytes); err != nil {
		return nil, wrapCreateErr("texture", err)
	}
	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label: ti.Name,
		Size: hal.Extent3D{
			Width:              ti.Width,
			Height:             ti.Height,
			DepthOrArrayLayers: ti.LayerCountOrDepth,
		},
		MipLevelCount: ti.NumLevels,
		SampleCount:   ti.SampleCount,
		Dimension:     textureDimension(ti.Type),
		Format:        ti.Format,
		Usage:         t.halUsage,
	})
	if err != nil {
		d.mem.Release(memory.KindTexture, bytes)
		return nil, wrapCreateErr("texture", err)
	}
	a.tex = tex
	a.destroyFn = func() {
		a.destroyViews()
		d.dev.DestroyTexture(tex)
	}
	t.h.init(d, a, ti.Name)
	if err := d.track(t); err != nil {
		a.destroy()
		return nil, err
	}
	Logger().Debug("gpucmd: texture created",
		"name", ti.Name, "type", ti.Type, "format", ti.Format,
		"size", fmt.Sprintf("%dx%dx%d", ti.Width, ti.Height, ti.LayerCountOrDepth),
		"levels", ti.NumLevels)
	return t, nil
}

func (d *Device) validateTexture(ti *TextureCreateInfo) error {
	lim := d.caps.Limits
	if ti.Format == gputypes.TextureFormatUndefined {
		return fmt.Errorf("%w: texture format undefined", ErrInvalidDescriptor)
	}
	// Packed depth formats have no copy layout but can still be rendered to.
	if _, ok := format.BlockInfo(ti.Format); !ok && !ti.Format.IsDepthStencil() {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, ti.Format)
	}
	if ti.Width == 0 || ti.Height == 0 {
		return fmt.Errorf("%w: texture size %dx%d", ErrInvalidDescriptor, ti.Width, ti.Height)
	}

	maxDim := lim.MaxTextureDimension2D
	switch ti.Type {
	case TextureType2D:
		if ti.LayerCountOrDepth != 1 {
			return fmt.Errorf("%w: 2D texture with %d layers", ErrInvalidDescriptor, ti.LayerCountOrDepth)
		}
	case TextureType2DArray:
		if ti.LayerCountOrDepth > lim.MaxTextureArrayLayers {
			return fmt.Errorf("%w: %d layers > %d", ErrExceedsLimits, ti.LayerCountOrDepth, lim.MaxTextureArrayLayers)
		}
	case TextureTypeCube, TextureTypeCubeArray:
		if ti.Width != ti.Height {
			return fmt.Errorf("%w: cube texture %dx%d is not square", ErrInvalidDescriptor, ti.Width, ti.Height)
		}
		if ti.Type == TextureTypeCube && ti.LayerCountOrDepth != 6 {
			return fmt.Errorf("%w: cube texture needs 6 layers, got %d", ErrInvalidDescriptor, ti.LayerCountOrDepth)
		}
		if ti.LayerCountOrDepth%6 != 0 {
			return fmt.Errorf("%w: cube array layers %d not a multiple of 6", ErrInvalidDescriptor, ti.LayerCountOrDepth)
		}
		if ti.LayerCountOrDepth > lim.MaxTextureArrayLayers {
			return fmt.Errorf("%w: %d layers > %d", ErrExceedsLimits, ti.LayerCountOrDepth, lim.MaxTextureArrayLayers)
		}
	case TextureType3D:
		maxDim = lim.MaxTextureDimension3D
		if ti.LayerCountOrDepth > maxDim {
			return fmt.Errorf("%w: depth %d > %d", ErrExceedsLimits, ti.LayerCountOrDepth, maxDim)
		}
		if ti.Format.IsDepthStencil() {
			return fmt.Errorf("%w: 3D depth/stencil texture", ErrUnsupportedFormat)
		}
	default:
		return fmt.Errorf("%w: texture type %v", ErrInvalidDescriptor, ti.Type)
	}
	if maxDim > 0 && (ti.Width > maxDim || ti.Height > maxDim) {
		return fmt.Errorf("%w: texture size %dx%d > %d", ErrExceedsLimits, ti.Width, ti.Height, maxDim)
	}

	depth := uint32(1)
	if ti.Type == TextureType3D {
		depth = ti.LayerCountOrDepth
	}
	if maxLevels := format.MaxMipLevels(ti.Width, ti.Height, depth); ti.NumLevels > maxLevels {
		return fmt.Errorf("%w: %d mip levels > %d", ErrInvalidDescriptor, ti.NumLevels, maxLevels)
	}

	switch ti.SampleCount {
	case 1:
	case 2, 4, 8:
		if ti.Type != TextureType2D || ti.NumLevels != 1 {
			return fmt.Errorf("%w: multisampled textures must be single-level 2D", ErrInvalidDescriptor)
		}
		if ti.Usage&(TextureUsageColorTarget|TextureUsageDepthStencilTarget) == 0 {
			return fmt.Errorf("%w: multisampled texture must be a render target", ErrInvalidDescriptor)
		}
		if ti.Usage&^(TextureUsageColorTarget|TextureUsageDepthStencilTarget) != 0 {
			return fmt.Errorf("%w: multisampled texture can only be a render target", ErrInvalidDescriptor)
		}
		if !d.TextureSupportsSampleCount(ti.Format, ti.SampleCount) {
			return fmt.Errorf("%w: %v with %d samples", ErrUnsupportedFormat, ti.Format, ti.SampleCount)
		}
	default:
		return fmt.Errorf("%w: sample count %d", ErrInvalidDescriptor, ti.SampleCount)
	}

	if format.IsCompressed(ti.Format) &&
		ti.Usage&^(TextureUsageSampler|TextureUsageGraphicsStorageRead|TextureUsageComputeStorageRead) != 0 {
		return fmt.Errorf("%w: compressed %v cannot be written by the GPU", ErrUnsupportedFormat, ti.Format)
	}
	if ti.Usage != 0 && !d.TextureSupportsFormat(ti.Format, ti.Type, ti.Usage) {
		return fmt.Errorf("%w: %v does not support the requested usage", ErrUnsupportedFormat, ti.Format)
	}
	return nil
}

func (t *Texture) current() (*textureAlloc, bool) {
	if t == nil {
		return nil, false
	}
	return t.h.load()
}

// cycle replaces the allocation when GPU work still references it.
// Swapchain textures never cycle.
func (t *Texture) cycle() {
	a, ok := t.h.load()
	if !ok || t.swapchain {
		return
	}
	d := a.device
	if !a.busy(d.pollCompleted()) {
		return
	}
	fresh := &textureAlloc{format: t.info.Format}
	if err := fresh.reserve(d, memory.KindTexture, t.bytes); err != nil {
		Logger().Warn("gpucmd: texture cycle failed, reusing allocation", "name", t.h.label(), "err", err)
		return
	}
	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         t.h.label(),
		Size:          hal.Extent3D{Width: t.info.Width, Height: t.info.Height, DepthOrArrayLayers: t.info.LayerCountOrDepth},
		MipLevelCount: t.info.NumLevels,
		SampleCount:   t.info.SampleCount,
		Dimension:     textureDimension(t.info.Type),
		Format:        t.info.Format,
		Usage:         t.halUsage,
	})
	if err != nil {
		d.mem.Release(memory.KindTexture, t.bytes)
		Logger().Warn("gpucmd: texture cycle failed, reusing allocation", "name", t.h.label(), "err", err)
		return
	}
	fresh.tex = tex
	fresh.destroyFn = func() {
		fresh.destroyViews()
		d.dev.DestroyTexture(tex)
	}
	old, ok := t.h.swap(fresh)
	if !ok {
		fresh.destroy()
		return
	}
	d.retire(&old.allocation)
}

// depthAt returns the extent of the texture along its third axis at a mip level.
func (t *Texture) depthAt(level uint32) uint32 {
	if t.info.Type == TextureType3D {
		return format.MipExtent(t.info.LayerCountOrDepth, level)
	}
	return 1
}

func (t *Texture) layers() uint32 {
	if t.info.Type == TextureType3D {
		return 1
	}
	return t.info.LayerCountOrDepth
}

// sampleAspect is the aspect shaders read. Combined depth/stencil formats
// are sampled through their depth aspect.
func (t *Texture) sampleAspect() gputypes.TextureAspect {
	if t.info.Format.HasDepth() && t.info.Format.HasStencil() {
		return gputypes.TextureAspectDepthOnly
	}
	return gputypes.TextureAspectAll
}

// sampledView is the view bound to sampler slots: every level and layer.
func (t *Texture) sampledView(a *textureAlloc) (hal.TextureView, error) {
	return a.view(viewKey{
		dim:        viewDimension(t.info.Type),
		mipCount:   t.info.NumLevels,
		layerCount: t.layers(),
		aspect:     t.sampleAspect(),
	})
}

// storageView is the view bound to read-only storage slots: level 0 and
// every layer.
func (t *Texture) storageView(a *textureAlloc) (hal.TextureView, error) {
	dim := viewDimension(t.info.Type)
	if dim == gputypes.TextureViewDimensionCube || dim == gputypes.TextureViewDimensionCubeArray {
		dim = gputypes.TextureViewDimension2DArray
	}
	return a.view(viewKey{dim: dim, mipCount: 1, layerCount: t.layers(), aspect: gputypes.TextureAspectAll})
}

// subresourceView is a single level and layer, as used by render targets
// and read-write storage bindings.
func (t *Texture) subresourceView(a *textureAlloc, level, layer uint32) (hal.TextureView, error) {
	if t.info.Type == TextureType3D {
		return a.view(viewKey{dim: gputypes.TextureViewDimension3D, baseMip: level, mipCount: 1, layerCount: 1, aspect: gputypes.TextureAspectAll})
	}
	return a.view(viewKey{
		dim:        gputypes.TextureViewDimension2D,
		baseMip:    level,
		mipCount:   1,
		baseLayer:  layer,
		layerCount: 1,
		aspect:     gputypes.TextureAspectAll,
	})
}

// Type returns the texture type.
func (t *Texture) Type() TextureType {
	if t == nil {
		return 0
	}
	return t.info.Type
}

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat {
	if t == nil {
		return gputypes.TextureFormatUndefined
	}
	return t.info.Format
}

// Usage returns the usage the texture was created with.
func (t *Texture) Usage() TextureUsage {
	if t == nil {
		return 0
	}
	return t.info.Usage
}

// Width returns the width of mip level 0 in texels.
func (t *Texture) Width() int {
	if !t.IsValid() {
		return 0
	}
	return int(t.info.Width)
}

// Height returns the height of mip level 0 in texels.
func (t *Texture) Height() int {
	if !t.IsValid() {
		return 0
	}
	return int(t.info.Height)
}

// LayerCountOrDepth returns the depth of a 3D texture or the layer count.
func (t *Texture) LayerCountOrDepth() uint32 {
	if !t.IsValid() {
		return 0
	}
	return t.info.LayerCountOrDepth
}

// NumLevels returns the number of mip levels.
func (t *Texture) NumLevels() uint32 {
	if !t.IsValid() {
		return 0
	}
	return t.info.NumLevels
}

// SampleCount returns the number of samples per texel.
func (t *Texture) SampleCount() uint32 {
	if !t.IsValid() {
		return 0
	}
	return t.info.SampleCount
}

// IsValid reports whether the texture holds a live allocation.
func (t *Texture) IsValid() bool {
	return t != nil && t.h.valid()
}

// SetName sets the debug name.
func (t *Texture) SetName(name string) {
	if t == nil || !t.h.setName(name) {
		logMisuse("Texture.SetName", "texture is invalid")
	}
}

// Release releases the texture. Release is idempotent. Swapchain textures
// belong to their command buffer and ignore Release.
func (t *Texture) Release() {
	if t == nil || t.swapchain {
		return
	}
	a, ok := t.h.take()
	if !ok {
		return
	}
	a.device.untrack(t)
	a.device.retire(&a.allocation)
}

func (t *Texture) kindName() string { return "Texture" }
func (t *Texture) label() string    { return t.h.label() }
