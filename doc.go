// Package gpucmd provides an explicit-mode GPU command submission layer for Go.
//
// # Overview
//
// gpucmd sits on top of the gogpu/wgpu HAL and exposes the model used by modern
// explicit graphics APIs: a Device hands out typed resources (buffers, transfer
// buffers, textures, samplers, shaders, pipelines), and work is recorded into
// single-use command buffers through render, compute and copy passes, then
// submitted to the queue. Submission can return a Fence that reports when the
// GPU has finished the work.
//
// # Quick Start
//
//	dev, err := gpucmd.CreateDevice(gpucmd.ShaderFormatWGSL,
//	    gpucmd.WithBackend("software"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	tex, _ := dev.CreateTexture(&gpucmd.TextureCreateInfo{
//	    Type: gpucmd.TextureType2D, Format: gputypes.TextureFormatRGBA8Unorm,
//	    Usage: gpucmd.TextureUsageColorTarget, Width: 64, Height: 64,
//	    LayerCountOrDepth: 1, NumLevels: 1,
//	})
//	defer tex.Release()
//
//	cb, _ := dev.AcquireCommandBuffer()
//	pass := cb.BeginRenderPass([]gpucmd.ColorTargetInfo{{
//	    Texture: tex, LoadOp: gpucmd.LoadOpClear, StoreOp: gpucmd.StoreOpStore,
//	    ClearColor: gputypes.Color{R: 1, A: 1},
//	}}, nil)
//	pass.End()
//	fence, _ := cb.SubmitAndAcquireFence()
//	fence.Wait()
//	fence.Release()
//
// # State Machines
//
// A command buffer is Recording from acquisition until Submit or Cancel, after
// which it is permanently invalid. At most one pass is open at a time; a pass
// is usable from its Begin call until End. Recording misuse (binding on an
// ended pass, opening a second pass, copying out of range) never panics: the
// call is dropped and logged at Warn. In debug mode the first misuse is also
// reported by Submit as ErrRecordingMisuse.
//
// # Resource Lifetime
//
// Every resource wraps exactly one native allocation and releases it at most
// once. Release may be called at any time, including while submitted work
// still references the resource: the native object is retired and destroyed
// once the GPU has finished with it. The Device must outlive its resources;
// Device.Destroy force-releases anything still alive and logs each one.
//
// # Backends
//
// Backends are looked up by name in the backend package. The pure Go
// "software" and "noop" backends are always registered; import
// github.com/gogpu/wgpu/hal/allbackends to add Vulkan, Metal, DX12 and GL.
package gpucmd
