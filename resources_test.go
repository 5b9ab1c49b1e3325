package gpucmd

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestCreateBufferValidation(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name    string
		info    *BufferCreateInfo
		wantErr error
	}{
		{"nil info", nil, ErrInvalidDescriptor},
		{"zero size", &BufferCreateInfo{Usage: BufferUsageVertex}, ErrInvalidDescriptor},
		{"unaligned size", &BufferCreateInfo{Usage: BufferUsageVertex, Size: 6}, ErrInvalidDescriptor},
		{"unknown usage", &BufferCreateInfo{Usage: 1 << 20, Size: 16}, ErrInvalidDescriptor},
		{"over limit", &BufferCreateInfo{Usage: BufferUsageVertex, Size: 1 << 30}, ErrExceedsLimits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := d.CreateBuffer(tt.info)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateBuffer() error = %v, want %v", err, tt.wantErr)
			}
			if b != nil {
				t.Error("CreateBuffer() returned a buffer with an error")
			}
		})
	}
}

func TestBufferLifecycle(t *testing.T) {
	d := newTestDevice(t)
	b, err := d.CreateBuffer(&BufferCreateInfo{
		Usage: BufferUsageVertex | BufferUsageIndex,
		Size:  256,
		Name:  "mesh",
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if got := b.Size(); got != 256 {
		t.Errorf("Size() = %d, want 256", got)
	}
	if got := b.Usage(); got != BufferUsageVertex|BufferUsageIndex {
		t.Errorf("Usage() = %v", got)
	}
	b.SetName("renamed")
	if got := b.label(); got != "renamed" {
		t.Errorf("label() = %q, want renamed", got)
	}

	b.Release()
	b.Release()
	if b.IsValid() {
		t.Error("buffer valid after Release")
	}
	if got := b.Size(); got != 0 {
		t.Errorf("Size() after Release = %d, want 0", got)
	}
	if got := d.LiveResources(); got != 0 {
		t.Errorf("LiveResources() = %d, want 0", got)
	}
	// Methods on a released buffer are no-ops.
	b.SetName("ignored")
}

func TestZeroValueResources(t *testing.T) {
	var (
		b  Buffer
		tb TransferBuffer
		tx Texture
		s  Sampler
		sh Shader
		gp GraphicsPipeline
		cp ComputePipeline
	)
	for name, valid := range map[string]bool{
		"Buffer":           b.IsValid(),
		"TransferBuffer":   tb.IsValid(),
		"Texture":          tx.IsValid(),
		"Sampler":          s.IsValid(),
		"Shader":           sh.IsValid(),
		"GraphicsPipeline": gp.IsValid(),
		"ComputePipeline":  cp.IsValid(),
	} {
		if valid {
			t.Errorf("zero %s is valid", name)
		}
	}
	b.Release()
	tx.Release()
	if tb.Map(false) != nil {
		t.Error("Map on a zero transfer buffer returned memory")
	}
}

func TestCreateTransferBufferValidation(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name    string
		info    *TransferBufferCreateInfo
		wantErr error
	}{
		{"nil info", nil, ErrInvalidDescriptor},
		{"zero size", &TransferBufferCreateInfo{Usage: TransferBufferUsageUpload}, ErrInvalidDescriptor},
		{"bad usage", &TransferBufferCreateInfo{Usage: 7, Size: 16}, ErrInvalidDescriptor},
		{"over limit", &TransferBufferCreateInfo{Usage: TransferBufferUsageDownload, Size: 1 << 30}, ErrExceedsLimits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.CreateTransferBuffer(tt.info); !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateTransferBuffer() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransferBufferMap(t *testing.T) {
	d := newTestDevice(t)
	tb, err := d.CreateTransferBuffer(&TransferBufferCreateInfo{Usage: TransferBufferUsageUpload, Size: 64})
	if err != nil {
		t.Fatalf("CreateTransferBuffer: %v", err)
	}

	data := tb.Map(false)
	if len(data) != 64 {
		t.Fatalf("Map() returned %d bytes, want 64", len(data))
	}
	if !tb.IsMapped() {
		t.Error("IsMapped() = false while mapped")
	}
	if again := tb.Map(false); again != nil {
		t.Error("second Map() succeeded while mapped")
	}
	data[0] = 0xAB
	tb.Unmap()
	if tb.IsMapped() {
		t.Error("IsMapped() = true after Unmap")
	}

	// Nothing references the buffer, so cycling keeps the allocation.
	data = tb.Map(true)
	if data == nil {
		t.Fatal("Map(true) returned nil")
	}
	if data[0] != 0xAB {
		t.Errorf("data[0] = %#x after remap, want 0xab", data[0])
	}
	tb.Release()
	if tb.IsMapped() {
		t.Error("Release left the buffer mapped")
	}
}

func TestTransferBufferCyclesWhileReferenced(t *testing.T) {
	d := newTestDevice(t)
	tb, err := d.CreateTransferBuffer(&TransferBufferCreateInfo{Usage: TransferBufferUsageUpload, Size: 64})
	if err != nil {
		t.Fatalf("CreateTransferBuffer: %v", err)
	}
	buf, err := d.CreateBuffer(&BufferCreateInfo{Usage: BufferUsageVertex, Size: 64})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	first, _ := tb.current()

	cb, _ := d.AcquireCommandBuffer()
	cp := cb.BeginCopyPass()
	cp.UploadToBuffer(TransferBufferLocation{TransferBuffer: tb}, BufferRegion{Buffer: buf, Size: 64}, false)
	cp.End()

	if tb.Map(true) == nil {
		t.Fatal("Map(true) returned nil")
	}
	tb.Unmap()
	second, _ := tb.current()
	if first == second {
		t.Error("Map(true) reused an allocation referenced by an unsubmitted command buffer")
	}
	if err := cb.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestCreateTextureValidation(t *testing.T) {
	d := newTestDevice(t)
	rgba := gputypes.TextureFormatRGBA8Unorm
	tests := []struct {
		name    string
		info    TextureCreateInfo
		wantErr error
	}{
		{"undefined format", TextureCreateInfo{Width: 4, Height: 4}, ErrInvalidDescriptor},
		{"zero width", TextureCreateInfo{Format: rgba, Height: 4}, ErrInvalidDescriptor},
		{"2D with layers", TextureCreateInfo{Format: rgba, Width: 4, Height: 4, LayerCountOrDepth: 2}, ErrInvalidDescriptor},
		{"cube not square", TextureCreateInfo{Type: TextureTypeCube, Format: rgba, Width: 4, Height: 8, LayerCountOrDepth: 6}, ErrInvalidDescriptor},
		{"cube layers", TextureCreateInfo{Type: TextureTypeCube, Format: rgba, Width: 4, Height: 4, LayerCountOrDepth: 5}, ErrInvalidDescriptor},
		{"cube array layers", TextureCreateInfo{Type: TextureTypeCubeArray, Format: rgba, Width: 4, Height: 4, LayerCountOrDepth: 8}, ErrInvalidDescriptor},
		{"too wide", TextureCreateInfo{Format: rgba, Width: 1 << 14, Height: 4}, ErrExceedsLimits},
		{"too many layers", TextureCreateInfo{Type: TextureType2DArray, Format: rgba, Width: 4, Height: 4, LayerCountOrDepth: 1 << 12}, ErrExceedsLimits},
		{"too many levels", TextureCreateInfo{Format: rgba, Width: 8, Height: 8, NumLevels: 5}, ErrInvalidDescriptor},
		{"bad sample count", TextureCreateInfo{Format: rgba, Usage: TextureUsageColorTarget, Width: 4, Height: 4, SampleCount: 3}, ErrInvalidDescriptor},
		{"sampled msaa", TextureCreateInfo{Format: rgba, Usage: TextureUsageColorTarget | TextureUsageSampler, Width: 4, Height: 4, SampleCount: 4}, ErrInvalidDescriptor},
		{"msaa levels", TextureCreateInfo{Format: rgba, Usage: TextureUsageColorTarget, Width: 4, Height: 4, NumLevels: 2, SampleCount: 4}, ErrInvalidDescriptor},
		{"3D depth", TextureCreateInfo{Type: TextureType3D, Format: gputypes.TextureFormatDepth32Float, Width: 4, Height: 4, LayerCountOrDepth: 4}, ErrUnsupportedFormat},
		{"compressed target", TextureCreateInfo{Format: gputypes.TextureFormatBC1RGBAUnorm, Usage: TextureUsageColorTarget, Width: 8, Height: 8}, ErrUnsupportedFormat},
		{"depth as color", TextureCreateInfo{Format: gputypes.TextureFormatDepth32Float, Usage: TextureUsageColorTarget, Width: 4, Height: 4}, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.info
			tex, err := d.CreateTexture(&info)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateTexture() error = %v, want %v", err, tt.wantErr)
			}
			if tex != nil {
				t.Error("CreateTexture() returned a texture with an error")
			}
		})
	}
}

func TestCreateTextureDefaults(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name       string
		info       TextureCreateInfo
		wantLayers uint32
	}{
		{"2D", TextureCreateInfo{Format: gputypes.TextureFormatRGBA8Unorm, Usage: TextureUsageSampler, Width: 16, Height: 8}, 1},
		{"cube", TextureCreateInfo{Type: TextureTypeCube, Format: gputypes.TextureFormatRGBA8Unorm, Usage: TextureUsageSampler, Width: 16, Height: 16, LayerCountOrDepth: 6}, 6},
		{"3D", TextureCreateInfo{Type: TextureType3D, Format: gputypes.TextureFormatR32Float, Usage: TextureUsageComputeStorageWrite, Width: 8, Height: 8, LayerCountOrDepth: 8}, 8},
		{"packed depth", TextureCreateInfo{Format: gputypes.TextureFormatDepth24PlusStencil8, Usage: TextureUsageDepthStencilTarget, Width: 16, Height: 8}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.info
			tex, err := d.CreateTexture(&info)
			if err != nil {
				t.Fatalf("CreateTexture: %v", err)
			}
			t.Cleanup(tex.Release)
			if got := tex.NumLevels(); got != 1 {
				t.Errorf("NumLevels() = %d, want 1", got)
			}
			if got := tex.SampleCount(); got != 1 {
				t.Errorf("SampleCount() = %d, want 1", got)
			}
			if got := tex.LayerCountOrDepth(); got != tt.wantLayers {
				t.Errorf("LayerCountOrDepth() = %d, want %d", got, tt.wantLayers)
			}
			if tex.Width() != int(tt.info.Width) || tex.Height() != int(tt.info.Height) {
				t.Errorf("size = %dx%d, want %dx%d", tex.Width(), tex.Height(), tt.info.Width, tt.info.Height)
			}
			if tex.Type() != tt.info.Type || tex.Format() != tt.info.Format {
				t.Errorf("Type/Format = %v/%v", tex.Type(), tex.Format())
			}
		})
	}
}

func TestCreateSampler(t *testing.T) {
	d := newTestDevice(t)
	if _, err := d.CreateSampler(nil); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("CreateSampler(nil) = %v, want ErrInvalidDescriptor", err)
	}
	if _, err := d.CreateSampler(&SamplerCreateInfo{MinLOD: 4, MaxLOD: 2}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("CreateSampler(max < min) = %v, want ErrInvalidDescriptor", err)
	}

	s, err := d.CreateSampler(&SamplerCreateInfo{
		MinFilter:        gputypes.FilterModeLinear,
		MagFilter:        gputypes.FilterModeLinear,
		MipmapMode:       gputypes.FilterModeLinear,
		AddressModeU:     gputypes.AddressModeRepeat,
		AddressModeV:     gputypes.AddressModeRepeat,
		AddressModeW:     gputypes.AddressModeRepeat,
		MipLODBias:       0.5,
		MaxAnisotropy:    8,
		EnableAnisotropy: true,
		MaxLOD:           1000,
		Name:             "linear",
	})
	if err != nil {
		t.Fatalf("CreateSampler: %v", err)
	}
	if !s.IsValid() {
		t.Fatal("sampler is invalid")
	}
	s.Release()
	s.Release()
	if s.IsValid() {
		t.Error("sampler valid after Release")
	}
}
