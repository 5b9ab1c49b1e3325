package gpucmd

import "errors"

// Initialization errors.
var (
	// ErrNoShaderFormats is returned by CreateDevice when no shader format is requested.
	ErrNoShaderFormats = errors.New("gpucmd: no shader formats requested")

	// ErrUnsupportedShaderFormat is returned when the backend accepts none of the requested formats.
	ErrUnsupportedShaderFormat = errors.New("gpucmd: backend supports none of the requested shader formats")

	// ErrBackendNotFound is returned when the named backend is not registered.
	ErrBackendNotFound = errors.New("gpucmd: backend not found")

	// ErrNoAdapter is returned when the backend exposes no usable adapter.
	ErrNoAdapter = errors.New("gpucmd: no adapter available")

	// ErrWindowClaimed is returned by ClaimWindow when the window already has a swapchain.
	ErrWindowClaimed = errors.New("gpucmd: window already claimed")

	// ErrWindowNotClaimed is returned for swapchain operations on a window that was never claimed.
	ErrWindowNotClaimed = errors.New("gpucmd: window not claimed by this device")

	// ErrSwapchainUnavailable is returned by AcquireSwapchainTexture when no
	// image can be acquired this frame, for example while the window is
	// minimized or its previous image has not been submitted yet.
	ErrSwapchainUnavailable = errors.New("gpucmd: swapchain image unavailable")
)

// Resource creation errors.
var (
	ErrInvalidDescriptor = errors.New("gpucmd: invalid descriptor")
	ErrUnsupportedFormat = errors.New("gpucmd: unsupported format")
	ErrExceedsLimits     = errors.New("gpucmd: exceeds device limits")
	ErrOutOfMemory       = errors.New("gpucmd: out of memory")
	ErrInvalidShader     = errors.New("gpucmd: invalid shader")
	ErrInvalidPipeline   = errors.New("gpucmd: invalid pipeline")

	// ErrDeviceInvalid is returned when the device was destroyed or never created.
	ErrDeviceInvalid = errors.New("gpucmd: device is invalid")
)

// Submission errors.
var (
	// ErrCommandBufferInvalid is returned when a command buffer was already
	// submitted, cancelled, or never acquired.
	ErrCommandBufferInvalid = errors.New("gpucmd: command buffer is invalid")

	// ErrPassOpen is returned by Submit while a pass is still open.
	// The command buffer stays usable.
	ErrPassOpen = errors.New("gpucmd: a pass is still open")

	// ErrRecordingMisuse is returned by Submit in debug mode when a recording
	// call was dropped. It wraps the first misuse.
	ErrRecordingMisuse = errors.New("gpucmd: recording misuse")
)

// Synchronization errors.
var (
	ErrFenceReleased = errors.New("gpucmd: fence released")
	ErrFenceTimeout  = errors.New("gpucmd: fence wait timed out")
)

// Transfer errors.
var (
	// ErrMapFailed is returned when a transfer buffer cannot be mapped.
	ErrMapFailed = errors.New("gpucmd: transfer buffer map failed")
)
