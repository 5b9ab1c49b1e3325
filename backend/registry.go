package backend

import (
	"slices"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
)

// Factory creates a backend instance.
type Factory func() hal.Backend

// registry holds registered backends.
// Priority order for backend selection (first available wins).
var registry = gpucontext.NewRegistry[hal.Backend](
	gpucontext.WithPriority(Vulkan, Metal, DX12, GL, Software, Noop),
)

func init() {
	Register(Noop, func() hal.Backend { return noop.API{} })
	Register(Software, func() hal.Backend { return software.API{} })
}

// Register registers a backend factory with the given name.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registry.Register(normalize(name), factory)
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(normalize(name))
}

// syncHAL registers platform backends linked into the hal registry that are
// not registered by name yet. BackendEmpty is skipped: noop and software
// share it and are registered explicitly.
func syncHAL() {
	for _, variant := range hal.AvailableBackends() {
		name := NameOf(variant)
		if name == "" || registry.Has(name) {
			continue
		}
		b, ok := hal.GetBackend(variant)
		if !ok {
			continue
		}
		registry.Register(name, func() hal.Backend { return b })
	}
}

// Available returns the sorted list of registered backend names.
func Available() []string {
	syncHAL()
	names := registry.Available()
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	syncHAL()
	return registry.Has(normalize(name))
}

// Get returns a backend instance by name.
// Returns nil if the backend is not registered.
func Get(name string) hal.Backend {
	syncHAL()
	return registry.Get(normalize(name))
}

// Default returns the best available backend and its name.
// Returns ("", nil) if no backends are registered.
func Default() (string, hal.Backend) {
	syncHAL()
	name := registry.BestName()
	if name == "" {
		return "", nil
	}
	return name, registry.Get(name)
}

// Select resolves a backend by name, or the default backend when name is
// empty.
func Select(name string) (string, hal.Backend, error) {
	if name == "" {
		n, b := Default()
		if b == nil {
			return "", nil, ErrBackendNotAvailable
		}
		return n, b, nil
	}
	name = normalize(name)
	b := Get(name)
	if b == nil {
		return "", nil, ErrBackendNotAvailable
	}
	return name, b, nil
}
