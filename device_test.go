package gpucmd

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

// newTestDevice opens a device on the noop backend and destroys it when
// the test ends.
func newTestDevice(t *testing.T, opts ...DeviceOption) *Device {
	t.Helper()
	return newDeviceOn(t, "noop", opts...)
}

func newDeviceOn(t *testing.T, backendName string, opts ...DeviceOption) *Device {
	t.Helper()
	opts = append([]DeviceOption{WithBackend(backendName)}, opts...)
	d, err := CreateDevice(ShaderFormatWGSL|ShaderFormatSPIRV, opts...)
	if err != nil {
		t.Fatalf("CreateDevice(%s): %v", backendName, err)
	}
	t.Cleanup(d.Destroy)
	return d
}

func TestCreateDeviceErrors(t *testing.T) {
	tests := []struct {
		name    string
		formats ShaderFormat
		opts    []DeviceOption
		wantErr error
	}{
		{"no formats", 0, []DeviceOption{WithBackend("noop")}, ErrNoShaderFormats},
		{"unknown backend", ShaderFormatWGSL, []DeviceOption{WithBackend("glide")}, ErrBackendNotFound},
		{"unsupported formats", ShaderFormatDXIL | ShaderFormatMSL, []DeviceOption{WithBackend("noop")}, ErrUnsupportedShaderFormat},
		{"adapter index", ShaderFormatWGSL, []DeviceOption{WithBackend("noop"), WithAdapterIndex(3)}, ErrNoAdapter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := CreateDevice(tt.formats, tt.opts...)
			if !errors.Is(err, tt.wantErr) {
				if d != nil {
					d.Destroy()
				}
				t.Fatalf("CreateDevice() error = %v, want %v", err, tt.wantErr)
			}
			if d != nil {
				t.Error("CreateDevice() returned a device with an error")
			}
		})
	}
}

func TestCreateDeviceKeepsSupportedFormats(t *testing.T) {
	d, err := CreateDevice(ShaderFormatWGSL|ShaderFormatMSL, WithBackend("NOOP"), WithDebugMode(true))
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	t.Cleanup(d.Destroy)

	if got := d.ShaderFormats(); got != ShaderFormatWGSL {
		t.Errorf("ShaderFormats() = %v, want WGSL", got)
	}
	if got := d.Driver(); got != "noop" {
		t.Errorf("Driver() = %q, want noop", got)
	}
	if !d.DebugMode() {
		t.Error("DebugMode() = false, want true")
	}
	if !d.IsValid() {
		t.Error("IsValid() = false for a new device")
	}
	if d.Limits().MaxTextureDimension2D == 0 {
		t.Error("Limits() reports no 2D texture dimension")
	}
}

func TestDeviceDestroyReleasesEverything(t *testing.T) {
	d, err := CreateDevice(ShaderFormatWGSL, WithBackend("noop"))
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	buf, err := d.CreateBuffer(&BufferCreateInfo{Usage: BufferUsageVertex, Size: 64})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	tex, err := d.CreateTexture(&TextureCreateInfo{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageSampler,
		Width:  4, Height: 4,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	cb, err := d.AcquireCommandBuffer()
	if err != nil {
		t.Fatalf("AcquireCommandBuffer: %v", err)
	}
	if got := d.LiveResources(); got != 2 {
		t.Errorf("LiveResources() = %d, want 2", got)
	}

	d.Destroy()
	d.Destroy()

	if d.IsValid() {
		t.Error("device still valid after Destroy")
	}
	if buf.IsValid() || tex.IsValid() {
		t.Error("resources still valid after Destroy")
	}
	if got := cb.State(); got != CommandBufferCancelled {
		t.Errorf("command buffer state = %v, want Cancelled", got)
	}
	if _, err := d.CreateBuffer(&BufferCreateInfo{Usage: BufferUsageVertex, Size: 64}); !errors.Is(err, ErrDeviceInvalid) {
		t.Errorf("CreateBuffer after Destroy = %v, want ErrDeviceInvalid", err)
	}
	if _, err := d.AcquireCommandBuffer(); !errors.Is(err, ErrDeviceInvalid) {
		t.Errorf("AcquireCommandBuffer after Destroy = %v, want ErrDeviceInvalid", err)
	}
	if err := d.WaitIdle(); !errors.Is(err, ErrDeviceInvalid) {
		t.Errorf("WaitIdle after Destroy = %v, want ErrDeviceInvalid", err)
	}
}

func TestNilDevice(t *testing.T) {
	var d *Device
	if d.IsValid() {
		t.Error("nil device is valid")
	}
	if _, err := AcquireCommandBuffer(d); !errors.Is(err, ErrDeviceInvalid) {
		t.Errorf("AcquireCommandBuffer(nil) = %v, want ErrDeviceInvalid", err)
	}
	if got := d.Driver(); got != "" {
		t.Errorf("Driver() = %q, want empty", got)
	}
	d.Destroy()
}

func TestTextureSupportsFormat(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name   string
		format gputypes.TextureFormat
		typ    TextureType
		usage  TextureUsage
		want   bool
	}{
		{"rgba8 sampled", gputypes.TextureFormatRGBA8Unorm, TextureType2D, TextureUsageSampler, true},
		{"rgba8 target", gputypes.TextureFormatRGBA8Unorm, TextureType2D, TextureUsageColorTarget, true},
		{"rgba8 as depth", gputypes.TextureFormatRGBA8Unorm, TextureType2D, TextureUsageDepthStencilTarget, false},
		{"depth as color", gputypes.TextureFormatDepth32Float, TextureType2D, TextureUsageColorTarget, false},
		{"depth target", gputypes.TextureFormatDepth32Float, TextureType2D, TextureUsageDepthStencilTarget, true},
		{"3D depth", gputypes.TextureFormatDepth24PlusStencil8, TextureType3D, TextureUsageSampler, false},
		{"undefined", gputypes.TextureFormatUndefined, TextureType2D, TextureUsageSampler, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.TextureSupportsFormat(tt.format, tt.typ, tt.usage); got != tt.want {
				t.Errorf("TextureSupportsFormat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTextureSupportsSampleCount(t *testing.T) {
	d := newTestDevice(t)
	for _, tt := range []struct {
		count uint32
		want  bool
	}{{1, true}, {2, true}, {4, true}, {8, true}, {3, false}, {16, false}} {
		if got := d.TextureSupportsSampleCount(gputypes.TextureFormatRGBA8Unorm, tt.count); got != tt.want {
			t.Errorf("TextureSupportsSampleCount(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestMemoryBudget(t *testing.T) {
	d := newTestDevice(t, WithMemoryBudget(16))

	stats := d.MemoryStats()
	if stats.TotalBytes != 16*1024*1024 {
		t.Fatalf("TotalBytes = %d, want 16 MiB", stats.TotalBytes)
	}

	_, err := d.CreateTexture(&TextureCreateInfo{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageSampler,
		Width:  4096, Height: 4096,
	})
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("CreateTexture over budget = %v, want ErrOutOfMemory", err)
	}

	buf, err := d.CreateBuffer(&BufferCreateInfo{Usage: BufferUsageVertex, Size: 1024})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	stats = d.MemoryStats()
	if stats.Buffers != 1 || stats.UsedBytes < 1024 {
		t.Errorf("after CreateBuffer: Buffers = %d, UsedBytes = %d", stats.Buffers, stats.UsedBytes)
	}
	buf.Release()
	if got := d.MemoryStats().Buffers; got != 0 {
		t.Errorf("after Release: Buffers = %d, want 0", got)
	}
}

func TestAdapterInfo(t *testing.T) {
	d := newTestDevice(t)
	info := d.AdapterInfo()
	if info.Name != d.HALAdapterInfo().Name {
		t.Errorf("AdapterInfo().Name = %q, HAL reports %q", info.Name, d.HALAdapterInfo().Name)
	}
}
