package gpucmd

import (
	"time"

	"github.com/gogpu/gpucmd/internal/memory"
)

// Defaults applied by CreateDevice.
const (
	// DefaultFenceTimeout bounds Fence.Wait and blocking transfer buffer maps.
	DefaultFenceTimeout = 5 * time.Second

	// DefaultUniformArenaSize is the size of one uniform arena block.
	DefaultUniformArenaSize = 64 * 1024
)

// DeviceOption configures a Device during creation.
//
// Example:
//
//	dev, err := gpucmd.CreateDevice(gpucmd.ShaderFormatWGSL,
//	    gpucmd.WithBackend("vulkan"),
//	    gpucmd.WithDebugMode(true))
type DeviceOption func(*deviceOptions)

// deviceOptions holds optional configuration for Device creation.
type deviceOptions struct {
	backend          string
	debug            bool
	memoryBudgetMB   int
	fenceTimeout     time.Duration
	adapterIndex     int
	uniformArenaSize uint64
}

// defaultOptions returns the default device options.
func defaultOptions() deviceOptions {
	return deviceOptions{
		backend:          "", // highest priority registered backend
		memoryBudgetMB:   memory.DefaultBudgetMB,
		fenceTimeout:     DefaultFenceTimeout,
		uniformArenaSize: DefaultUniformArenaSize,
	}
}

// WithBackend selects a backend by name ("vulkan", "metal", "dx12", "gl",
// "software", "noop"). An empty name picks the highest priority backend
// that is registered.
func WithBackend(name string) DeviceOption {
	return func(o *deviceOptions) {
		o.backend = name
	}
}

// WithDebugMode enables backend validation layers and makes Submit report
// dropped recording calls as ErrRecordingMisuse.
func WithDebugMode(enabled bool) DeviceOption {
	return func(o *deviceOptions) {
		o.debug = enabled
	}
}

// WithMemoryBudget sets the budget in megabytes for buffers, transfer
// buffers and textures. Values below memory.MinBudgetMB select the default.
func WithMemoryBudget(mb int) DeviceOption {
	return func(o *deviceOptions) {
		o.memoryBudgetMB = mb
	}
}

// WithFenceTimeout sets how long Fence.Wait blocks before giving up.
// Non-positive values keep the default.
func WithFenceTimeout(d time.Duration) DeviceOption {
	return func(o *deviceOptions) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithAdapterIndex picks an adapter by its position in the backend's
// enumeration order. The default is the first adapter.
func WithAdapterIndex(i int) DeviceOption {
	return func(o *deviceOptions) {
		o.adapterIndex = i
	}
}

// WithUniformArenaSize sets the block size of the per command buffer
// uniform arena. Sizes smaller than one uniform slot are raised to it.
func WithUniformArenaSize(bytes uint64) DeviceOption {
	return func(o *deviceOptions) {
		o.uniformArenaSize = bytes
	}
}
