package gpucmd

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/backend"
	"github.com/gogpu/gpucmd/internal/memory"
)

// MemoryStats reports device memory accounting.
type MemoryStats = memory.Stats

// resource is implemented by every kind of GPU object the device tracks.
type resource interface {
	Release()
	kindName() string
	label() string
}

// Device owns one HAL device and its queue and creates every other object.
//
// The Device must outlive the resources and command buffers it creates.
// Destroy force-releases whatever is still alive.
//
// Thread Safety: Device methods are safe for concurrent use. Recording into
// a single command buffer is not.
type Device struct {
	backendName string
	debug       bool
	formats     ShaderFormat
	opts        deviceOptions

	instance hal.Instance
	adapter  hal.Adapter
	info     gputypes.AdapterInfo
	caps     hal.Capabilities
	dev      hal.Device
	queue    hal.Queue

	// queueMu serializes queue access; hal queues are not required to be
	// safe for concurrent use.
	queueMu sync.Mutex

	mem *memory.Tracker

	retiredMu sync.Mutex
	retired   []*allocation

	mu             sync.Mutex
	destroyed      bool
	live           map[resource]struct{}
	commandBuffers map[*CommandBuffer]struct{}
	swapchains     map[windowKey]*swapchain
	emptyLayout    hal.BindGroupLayout
	emptyGroup     hal.BindGroup
	blit           *blitter
}

// backendShaderFormats returns the shader formats a backend consumes.
func backendShaderFormats(name string) ShaderFormat {
	switch name {
	case backend.Vulkan, backend.Software, backend.Noop:
		return ShaderFormatSPIRV | ShaderFormatWGSL
	default:
		return ShaderFormatWGSL
	}
}

// CreateDevice opens a device on the selected backend. formats lists the
// shader formats the caller can provide; the device keeps the subset its
// backend accepts.
func CreateDevice(formats ShaderFormat, opts ...DeviceOption) (*Device, error) {
	if formats == 0 {
		return nil, ErrNoShaderFormats
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	name, b, err := backend.Select(o.backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotFound, o.backend)
	}

	supported := backendShaderFormats(name) & formats
	if supported == 0 {
		return nil, fmt.Errorf("%w: %s accepts %s, requested %s",
			ErrUnsupportedShaderFormat, name, backendShaderFormats(name), formats)
	}

	flags := gputypes.InstanceFlagsNone
	if o.debug {
		flags = gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.BackendsAll,
		Flags:    flags,
	})
	if err != nil {
		return nil, fmt.Errorf("gpucmd: create instance (%s): %w", name, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	if o.adapterIndex < 0 || o.adapterIndex >= len(adapters) {
		instance.Destroy()
		return nil, fmt.Errorf("%w: adapter index %d out of %d", ErrNoAdapter, o.adapterIndex, len(adapters))
	}
	exposed := adapters[o.adapterIndex]

	open, err := exposed.Adapter.Open(0, exposed.Capabilities.Limits)
	if err != nil {
		exposed.Adapter.Destroy()
		instance.Destroy()
		return nil, fmt.Errorf("gpucmd: open device: %w", err)
	}

	d := &Device{
		backendName:    name,
		debug:          o.debug,
		formats:        supported,
		opts:           o,
		instance:       instance,
		adapter:        exposed.Adapter,
		info:           exposed.Info,
		caps:           exposed.Capabilities,
		dev:            open.Device,
		queue:          open.Queue,
		mem:            memory.NewTracker(memory.Config{BudgetMB: o.memoryBudgetMB}),
		live:           make(map[resource]struct{}),
		commandBuffers: make(map[*CommandBuffer]struct{}),
		swapchains:     make(map[windowKey]*swapchain),
	}

	if err := d.createEmptyGroup(); err != nil {
		d.dev.Destroy()
		d.adapter.Destroy()
		d.instance.Destroy()
		return nil, err
	}

	Logger().Info("gpucmd: device created",
		"backend", name,
		"adapter", d.info.Name,
		"type", d.info.DeviceType,
		"formats", supported,
		"debug", o.debug)
	return d, nil
}

// createEmptyGroup creates the bind group bound to pipeline slots that
// declare no resources.
func (d *Device) createEmptyGroup() error {
	layout, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: "gpucmd.empty"})
	if err != nil {
		return fmt.Errorf("gpucmd: create empty bind group layout: %w", err)
	}
	group, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{Label: "gpucmd.empty", Layout: layout})
	if err != nil {
		d.dev.DestroyBindGroupLayout(layout)
		return fmt.Errorf("gpucmd: create empty bind group: %w", err)
	}
	d.emptyLayout = layout
	d.emptyGroup = group
	return nil
}

// IsValid reports whether the device can still create and submit work.
func (d *Device) IsValid() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.destroyed
}

// ShaderFormats returns the shader formats this device accepts.
func (d *Device) ShaderFormats() ShaderFormat {
	if d == nil {
		return 0
	}
	return d.formats
}

// Driver returns the backend name, such as "vulkan" or "software".
func (d *Device) Driver() string {
	if d == nil {
		return ""
	}
	return d.backendName
}

// DebugMode reports whether the device was created in debug mode.
func (d *Device) DebugMode() bool {
	return d != nil && d.debug
}

// AdapterInfo describes the adapter in gpucontext terms.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	if d == nil {
		return gpucontext.AdapterInfo{Type: gpucontext.AdapterTypeUnknown}
	}
	info := gpucontext.AdapterInfo{Name: d.info.Name}
	switch d.info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		info.Type = gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		info.Type = gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		info.Type = gpucontext.AdapterTypeSoftware
	default:
		info.Type = gpucontext.AdapterTypeUnknown
	}
	return info
}

// HALAdapterInfo returns the full adapter description reported by the backend.
func (d *Device) HALAdapterInfo() gputypes.AdapterInfo {
	if d == nil {
		return gputypes.AdapterInfo{}
	}
	return d.info
}

// Limits returns the limits the device was opened with.
func (d *Device) Limits() gputypes.Limits {
	if d == nil {
		return gputypes.Limits{}
	}
	return d.caps.Limits
}

// MemoryStats returns the current memory accounting.
func (d *Device) MemoryStats() MemoryStats {
	if d == nil {
		return MemoryStats{}
	}
	return d.mem.Stats()
}

// SetMemoryBudget changes the memory budget. The budget never drops below
// the memory currently in use.
func (d *Device) SetMemoryBudget(mb int) error {
	if !d.IsValid() {
		return ErrDeviceInvalid
	}
	return d.mem.SetBudget(mb)
}

// LiveResources returns the number of resources created by this device
// that have not been released.
func (d *Device) LiveResources() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// TextureSupportsFormat reports whether textures of the given format, type
// and usage can be created on this device.
func (d *Device) TextureSupportsFormat(format gputypes.TextureFormat, typ TextureType, usage TextureUsage) bool {
	if !d.IsValid() || format == gputypes.TextureFormatUndefined {
		return false
	}
	if format.IsDepthStencil() && typ == TextureType3D {
		return false
	}
	if usage&TextureUsageDepthStencilTarget != 0 && !format.IsDepthStencil() {
		return false
	}
	if usage&TextureUsageColorTarget != 0 && format.IsDepthStencil() {
		return false
	}
	flags := d.adapter.TextureFormatCapabilities(format).Flags
	need := requiredFormatCaps(usage)
	return flags&need == need
}

// requiredFormatCaps maps texture usage to the adapter capabilities it needs.
func requiredFormatCaps(usage TextureUsage) hal.TextureFormatCapabilityFlags {
	var need hal.TextureFormatCapabilityFlags
	if usage&TextureUsageSampler != 0 {
		need |= hal.TextureFormatCapabilitySampled
	}
	if usage&(TextureUsageColorTarget|TextureUsageDepthStencilTarget) != 0 {
		need |= hal.TextureFormatCapabilityRenderAttachment
	}
	if usage&(TextureUsageGraphicsStorageRead|TextureUsageComputeStorageRead|TextureUsageComputeStorageWrite) != 0 {
		need |= hal.TextureFormatCapabilityStorage
	}
	if usage&TextureUsageComputeStorageSimultaneousReadWrite != 0 {
		need |= hal.TextureFormatCapabilityStorageReadWrite
	}
	return need
}

// TextureSupportsSampleCount reports whether a format can be multisampled
// with the given sample count.
func (d *Device) TextureSupportsSampleCount(format gputypes.TextureFormat, count uint32) bool {
	if !d.IsValid() {
		return false
	}
	switch count {
	case 1:
		return format != gputypes.TextureFormatUndefined
	case 2, 4, 8:
		flags := d.adapter.TextureFormatCapabilities(format).Flags
		return flags&hal.TextureFormatCapabilityMultisample != 0
	default:
		return false
	}
}

// WaitIdle blocks until the GPU has finished all submitted work, then
// destroys retired allocations.
func (d *Device) WaitIdle() error {
	if !d.IsValid() {
		return ErrDeviceInvalid
	}
	if err := d.dev.WaitIdle(); err != nil {
		return fmt.Errorf("gpucmd: wait idle: %w", err)
	}
	d.collect()
	return nil
}

// Destroy cancels unsubmitted command buffers, releases swapchains and any
// resources still alive, waits for the GPU and closes the device.
// Calling Destroy more than once is safe.
func (d *Device) Destroy() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	cbs := make([]*CommandBuffer, 0, len(d.commandBuffers))
	for cb := range d.commandBuffers {
		cbs = append(cbs, cb)
	}
	scs := make([]*swapchain, 0, len(d.swapchains))
	for _, sc := range d.swapchains {
		scs = append(scs, sc)
	}
	d.mu.Unlock()

	for _, cb := range cbs {
		Logger().Warn("gpucmd: cancelling unsubmitted command buffer at device teardown")
		cb.Cancel()
	}
	for _, sc := range scs {
		d.releaseSwapchain(sc)
	}

	d.mu.Lock()
	live := make([]resource, 0, len(d.live))
	for r := range d.live {
		live = append(live, r)
	}
	d.mu.Unlock()
	for _, r := range live {
		Logger().Warn("gpucmd: releasing leaked resource at device teardown",
			"kind", r.kindName(), "name", r.label())
		r.Release()
	}

	d.mu.Lock()
	d.destroyed = true
	blit := d.blit
	d.blit = nil
	d.mu.Unlock()

	if err := d.dev.WaitIdle(); err != nil && !errors.Is(err, hal.ErrDeviceLost) {
		Logger().Error("gpucmd: wait idle during destroy", "err", err)
	}
	if blit != nil {
		blit.destroy(d)
	}
	d.destroyRetired()

	d.dev.DestroyBindGroup(d.emptyGroup)
	d.dev.DestroyBindGroupLayout(d.emptyLayout)
	d.mem.Close()
	d.dev.Destroy()
	d.adapter.Destroy()
	d.instance.Destroy()
	Logger().Info("gpucmd: device destroyed", "backend", d.backendName)
}

// track registers a live resource. It fails once the device is destroyed.
func (d *Device) track(r resource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDeviceInvalid
	}
	d.live[r] = struct{}{}
	return nil
}

func (d *Device) untrack(r resource) {
	d.mu.Lock()
	delete(d.live, r)
	d.mu.Unlock()
}

// pollCompleted returns the newest completed submission index.
func (d *Device) pollCompleted() uint64 {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return d.queue.PollCompleted()
}

// submit hands one encoded command buffer to the queue.
func (d *Device) submit(cmd hal.CommandBuffer) (uint64, error) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return d.queue.Submit([]hal.CommandBuffer{cmd})
}

// writeBuffer performs a queue write.
func (d *Device) writeBuffer(buf hal.Buffer, offset uint64, data []byte) error {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return d.queue.WriteBuffer(buf, offset, data)
}

// copyPitchAlignment is the required row pitch alignment of buffer/texture copies.
func (d *Device) copyPitchAlignment() uint64 {
	if a := d.caps.AlignmentsMask.BufferCopyPitch; a > 0 {
		return a
	}
	return 1
}

// copyOffsetAlignment is the required offset alignment of buffer copies.
func (d *Device) copyOffsetAlignment() uint64 {
	if a := d.caps.AlignmentsMask.BufferCopyOffset; a > 0 {
		return a
	}
	return 1
}

// wrapCreateErr maps backend allocation failures onto package errors.
func wrapCreateErr(what string, err error) error {
	if errors.Is(err, hal.ErrDeviceOutOfMemory) {
		return fmt.Errorf("gpucmd: create %s: %w: %w", what, ErrOutOfMemory, err)
	}
	if errors.Is(err, memory.ErrBudgetExceeded) {
		return fmt.Errorf("gpucmd: create %s: %w: %w", what, ErrOutOfMemory, err)
	}
	return fmt.Errorf("gpucmd: create %s: %w", what, err)
}
