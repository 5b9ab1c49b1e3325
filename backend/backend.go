package backend

import (
	"errors"
	"strings"

	"github.com/gogpu/gputypes"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Backend names.
const (
	Vulkan   = "vulkan"
	Metal    = "metal"
	DX12     = "dx12"
	GL       = "gl"
	Software = "software"
	Noop     = "noop"
)

// NameOf returns the registry name of a hal backend variant.
// BackendEmpty is shared by the noop and software backends and maps to "".
func NameOf(variant gputypes.Backend) string {
	switch variant {
	case gputypes.BackendVulkan:
		return Vulkan
	case gputypes.BackendMetal:
		return Metal
	case gputypes.BackendDX12:
		return DX12
	case gputypes.BackendGL:
		return GL
	case gputypes.BackendEmpty:
		return ""
	default:
		return strings.ToLower(variant.String())
	}
}

// normalize lowercases and trims a user-supplied backend name.
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "opengl", "gles":
		return GL
	case "d3d12":
		return DX12
	case "cpu":
		return Software
	}
	return name
}
