package gpucmd

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Window is a native window a device can present to.
//
// Size and ScaleFactor come from gpucontext.WindowProvider; the swapchain
// is sized in physical pixels (Size multiplied by ScaleFactor).
type Window interface {
	gpucontext.WindowProvider

	// NativeHandles returns the platform display and window handles, for
	// example (HINSTANCE, HWND) on Windows or (Display*, Window) on X11.
	NativeHandles() (display, window uintptr)
}

// windowKey identifies a native window across devices.
type windowKey struct {
	display uintptr
	window  uintptr
}

func keyOf(w Window) windowKey {
	display, window := w.NativeHandles()
	return windowKey{display: display, window: window}
}

// windowClaims records which device owns each native window. A window can
// have one swapchain process-wide.
var windowClaims = struct {
	sync.Mutex
	owners map[windowKey]*Device
}{owners: make(map[windowKey]*Device)}

// swapchain is the configured surface of one claimed window.
type swapchain struct {
	key     windowKey
	window  Window
	surface hal.Surface
	caps    *hal.SurfaceCapabilities

	mu         sync.Mutex
	config     hal.SurfaceConfiguration
	configured bool
	// held is set while a command buffer owns an acquired image.
	held bool
	// stale requests reconfiguration before the next acquire.
	stale bool
}

// swapchainFrame is an image acquired by a command buffer. It is presented
// when the buffer is submitted and discarded when it is cancelled.
type swapchainFrame struct {
	sc      *swapchain
	image   hal.SurfaceTexture
	texture *Texture
}

// physicalSize returns the window size in pixels.
func physicalSize(w Window) (uint32, uint32) {
	width, height := w.Size()
	scale := w.ScaleFactor()
	if scale <= 0 {
		scale = 1
	}
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	return uint32(math.Round(float64(width) * scale)), uint32(math.Round(float64(height) * scale))
}

// preferredSurfaceFormats are tried in order; otherwise the first reported
// format is used.
var preferredSurfaceFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatRGBA8Unorm,
}

func pickSurfaceFormat(formats []gputypes.TextureFormat) gputypes.TextureFormat {
	for _, f := range preferredSurfaceFormats {
		if slices.Contains(formats, f) {
			return f
		}
	}
	return formats[0]
}

func pickAlphaMode(modes []gputypes.CompositeAlphaMode) gputypes.CompositeAlphaMode {
	if len(modes) == 0 || slices.Contains(modes, gputypes.CompositeAlphaModeOpaque) {
		return gputypes.CompositeAlphaModeOpaque
	}
	return modes[0]
}

// configure applies the current configuration at the given size.
func (sc *swapchain) configure(d *Device, width, height uint32) error {
	if sc.configured {
		// Images of the old configuration may still be in flight.
		if err := d.dev.WaitIdle(); err != nil {
			return fmt.Errorf("gpucmd: reconfigure swapchain: %w", err)
		}
	}
	cfg := sc.config
	cfg.Width, cfg.Height = width, height
	if err := sc.surface.Configure(d.dev, &cfg); err != nil {
		return fmt.Errorf("gpucmd: configure swapchain: %w", err)
	}
	sc.config = cfg
	sc.configured = true
	sc.stale = false
	Logger().Debug("gpucmd: swapchain configured",
		"size", fmt.Sprintf("%dx%d", width, height),
		"format", cfg.Format, "presentMode", cfg.PresentMode)
	return nil
}

// ClaimWindow creates a swapchain for w. A window can be claimed by one
// device at a time; claiming it again fails with ErrWindowClaimed.
func (d *Device) ClaimWindow(w Window) error {
	if !d.IsValid() {
		return ErrDeviceInvalid
	}
	if w == nil {
		return fmt.Errorf("%w: nil window", ErrInvalidDescriptor)
	}
	key := keyOf(w)

	windowClaims.Lock()
	defer windowClaims.Unlock()
	if _, ok := windowClaims.owners[key]; ok {
		return ErrWindowClaimed
	}

	surface, err := d.instance.CreateSurface(key.display, key.window)
	if err != nil {
		return fmt.Errorf("gpucmd: claim window: create surface: %w", err)
	}
	caps := d.adapter.SurfaceCapabilities(surface)
	if caps == nil || len(caps.Formats) == 0 {
		surface.Destroy()
		return fmt.Errorf("gpucmd: claim window: %w: adapter cannot present to this surface", ErrUnsupportedFormat)
	}
	sc := &swapchain{
		key:     key,
		window:  w,
		surface: surface,
		caps:    caps,
		config: hal.SurfaceConfiguration{
			Format:      pickSurfaceFormat(caps.Formats),
			Usage:       gputypes.TextureUsageRenderAttachment,
			PresentMode: gputypes.PresentModeFifo,
			AlphaMode:   pickAlphaMode(caps.AlphaModes),
		},
	}
	// A minimized window is configured on its first acquire.
	if width, height := physicalSize(w); width > 0 && height > 0 {
		if err := sc.configure(d, width, height); err != nil {
			surface.Destroy()
			return err
		}
	} else {
		sc.stale = true
	}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		if sc.configured {
			surface.Unconfigure(d.dev)
		}
		surface.Destroy()
		return ErrDeviceInvalid
	}
	d.swapchains[key] = sc
	d.mu.Unlock()
	windowClaims.owners[key] = d

	Logger().Info("gpucmd: window claimed",
		"format", sc.config.Format,
		"size", fmt.Sprintf("%dx%d", sc.config.Width, sc.config.Height))
	return nil
}

// lookupSwapchain returns the swapchain of a window claimed by d.
func (d *Device) lookupSwapchain(w Window) (*swapchain, error) {
	if !d.IsValid() {
		return nil, ErrDeviceInvalid
	}
	if w == nil {
		return nil, ErrWindowNotClaimed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains[keyOf(w)]
	if !ok {
		return nil, ErrWindowNotClaimed
	}
	return sc, nil
}

// ReleaseWindow destroys the swapchain of w. The window can then be
// claimed again. Releasing a window whose image is held by an unsubmitted
// command buffer is refused.
func (d *Device) ReleaseWindow(w Window) {
	sc, err := d.lookupSwapchain(w)
	if err != nil {
		logMisuse("Device.ReleaseWindow", err.Error())
		return
	}
	sc.mu.Lock()
	held := sc.held
	sc.mu.Unlock()
	if held {
		logMisuse("Device.ReleaseWindow", "swapchain image is held by an unsubmitted command buffer")
		return
	}
	d.releaseSwapchain(sc)
}

// releaseSwapchain waits for the GPU, then destroys the surface.
func (d *Device) releaseSwapchain(sc *swapchain) {
	d.mu.Lock()
	delete(d.swapchains, sc.key)
	d.mu.Unlock()

	windowClaims.Lock()
	if windowClaims.owners[sc.key] == d {
		delete(windowClaims.owners, sc.key)
	}
	windowClaims.Unlock()

	if err := d.dev.WaitIdle(); err != nil && !errors.Is(err, hal.ErrDeviceLost) {
		Logger().Error("gpucmd: wait idle before releasing swapchain", "err", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.configured {
		sc.surface.Unconfigure(d.dev)
		sc.configured = false
	}
	sc.surface.Destroy()
	Logger().Debug("gpucmd: window released")
}

// SwapchainTextureFormat returns the format of the textures acquired for
// w, or TextureFormatUndefined when w is not claimed by d.
func (d *Device) SwapchainTextureFormat(w Window) gputypes.TextureFormat {
	sc, err := d.lookupSwapchain(w)
	if err != nil {
		return gputypes.TextureFormatUndefined
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.config.Format
}

// WindowSupportsPresentMode reports whether the swapchain of w can use mode.
func (d *Device) WindowSupportsPresentMode(w Window, mode gputypes.PresentMode) bool {
	sc, err := d.lookupSwapchain(w)
	if err != nil {
		return false
	}
	return slices.Contains(sc.caps.PresentModes, mode)
}

// SetSwapchainParameters changes the present mode of the swapchain of w.
// The swapchain is reconfigured after the GPU is idle.
func (d *Device) SetSwapchainParameters(w Window, mode gputypes.PresentMode) error {
	sc, err := d.lookupSwapchain(w)
	if err != nil {
		return err
	}
	if !slices.Contains(sc.caps.PresentModes, mode) {
		return fmt.Errorf("%w: present mode %v", ErrInvalidDescriptor, mode)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.held {
		return fmt.Errorf("%w: image held by an unsubmitted command buffer", ErrSwapchainUnavailable)
	}
	if sc.config.PresentMode == mode {
		return nil
	}
	sc.config.PresentMode = mode
	if !sc.configured {
		return nil
	}
	return sc.configure(d, sc.config.Width, sc.config.Height)
}

// AcquireSwapchainTexture acquires the next image of w. The texture is valid
// until the command buffer is submitted, when it is presented, or cancelled,
// when it is discarded. It must not be released.
//
// ErrSwapchainUnavailable is returned when there is nothing to render to
// this frame: the window has zero size, the backend timed out, or an image
// of w is already held by an unsubmitted command buffer.
func (cb *CommandBuffer) AcquireSwapchainTexture(w Window) (*Texture, error) {
	if cb == nil {
		return nil, ErrCommandBufferInvalid
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CommandBufferRecording {
		return nil, fmt.Errorf("%w: %v", ErrCommandBufferInvalid, cb.state)
	}
	if cb.open != nil {
		return nil, ErrPassOpen
	}
	d := cb.device
	sc, err := d.lookupSwapchain(w)
	if err != nil {
		return nil, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.held {
		return nil, fmt.Errorf("%w: previous image not submitted", ErrSwapchainUnavailable)
	}
	width, height := physicalSize(w)
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: window has zero area", ErrSwapchainUnavailable)
	}
	if sc.stale || !sc.configured || width != sc.config.Width || height != sc.config.Height {
		if err := sc.configure(d, width, height); err != nil {
			return nil, err
		}
	}

	acquired, err := sc.surface.AcquireTexture(nil)
	if errors.Is(err, hal.ErrSurfaceOutdated) {
		if err := sc.configure(d, width, height); err != nil {
			return nil, err
		}
		acquired, err = sc.surface.AcquireTexture(nil)
	}
	switch {
	case errors.Is(err, hal.ErrTimeout), errors.Is(err, hal.ErrNotReady), errors.Is(err, hal.ErrSurfaceOutdated):
		return nil, fmt.Errorf("%w: %w", ErrSwapchainUnavailable, err)
	case err != nil:
		return nil, fmt.Errorf("gpucmd: acquire swapchain texture: %w", err)
	}
	if acquired.Suboptimal {
		sc.stale = true
	}

	a := &textureAlloc{format: sc.config.Format, tex: acquired.Texture, external: true}
	a.device = d
	a.destroyFn = a.destroyViews
	t := &Texture{
		info: TextureCreateInfo{
			Type:              TextureType2D,
			Format:            sc.config.Format,
			Usage:             TextureUsageColorTarget,
			Width:             sc.config.Width,
			Height:            sc.config.Height,
			LayerCountOrDepth: 1,
			NumLevels:         1,
			SampleCount:       1,
			Name:              "swapchain",
		},
		halUsage:  sc.config.Usage,
		swapchain: true,
	}
	t.h.init(d, a, "swapchain")
	sc.held = true
	cb.frames = append(cb.frames, &swapchainFrame{sc: sc, image: acquired.Texture, texture: t})
	return t, nil
}

// presentFrames presents every acquired image after submission index.
// Called with cb.mu held.
func (cb *CommandBuffer) presentFrames(index uint64) {
	d := cb.device
	for _, f := range cb.frames {
		d.queueMu.Lock()
		err := d.queue.Present(f.sc.surface, f.image, nil)
		d.queueMu.Unlock()

		f.sc.mu.Lock()
		f.sc.held = false
		if err != nil {
			if errors.Is(err, hal.ErrSurfaceOutdated) || errors.Is(err, hal.ErrSurfaceLost) {
				f.sc.stale = true
			}
			Logger().Warn("gpucmd: present failed", "err", err)
		}
		f.sc.mu.Unlock()
		f.retire(index)
	}
	cb.frames = nil
}

// discardFrames returns every acquired image without presenting it.
func (cb *CommandBuffer) discardFrames() {
	for _, f := range cb.frames {
		f.sc.surface.DiscardTexture(f.image)
		f.sc.mu.Lock()
		f.sc.held = false
		f.sc.mu.Unlock()
		f.retire(0)
	}
	cb.frames = nil
}

// retire invalidates the texture handle and destroys its views once
// submission index has completed.
func (f *swapchainFrame) retire(index uint64) {
	a, ok := f.texture.h.take()
	if !ok {
		return
	}
	if index > 0 {
		a.markUsed(index)
	}
	a.device.retire(&a.allocation)
}
