// Package backend provides the named registry of native GPU backends.
//
// Backends are hal.Backend implementations from github.com/gogpu/wgpu/hal.
// The noop and software backends are always registered. Platform backends
// (Vulkan, Metal, DX12, GL) become available once their hal packages are
// linked, typically through a blank import:
//
//	import _ "github.com/gogpu/wgpu/hal/allbackends"
//
// # Backend Selection
//
// Use Default to get the best available backend, or Get to request a
// specific backend by name:
//
//	name, b := backend.Default()
//
//	b := backend.Get("software")
//
// Selection priority is vulkan > metal > dx12 > gl > software > noop.
//
// # Available Backends
//
//   - "vulkan", "metal", "dx12", "gl": platform backends (when linked)
//   - "software": CPU rasterizer, executes clears and copies on the CPU
//   - "noop": records nothing, for tests and headless validation
package backend
