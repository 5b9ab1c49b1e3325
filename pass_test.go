package gpucmd

import (
	"errors"
	"math"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucmd/internal/passrec"
)

func newTexture(t *testing.T, d *Device, info TextureCreateInfo) *Texture {
	t.Helper()
	if info.Format == gputypes.TextureFormatUndefined {
		info.Format = gputypes.TextureFormatRGBA8Unorm
	}
	tex, err := d.CreateTexture(&info)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	t.Cleanup(tex.Release)
	return tex
}

func newBuffer(t *testing.T, d *Device, usage BufferUsage, size uint64) *Buffer {
	t.Helper()
	buf, err := d.CreateBuffer(&BufferCreateInfo{Usage: usage, Size: size})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	t.Cleanup(buf.Release)
	return buf
}

func newTransferBuffer(t *testing.T, d *Device, usage TransferBufferUsage, size uint64) *TransferBuffer {
	t.Helper()
	tb, err := d.CreateTransferBuffer(&TransferBufferCreateInfo{Usage: usage, Size: size})
	if err != nil {
		t.Fatalf("CreateTransferBuffer: %v", err)
	}
	t.Cleanup(tb.Release)
	return tb
}

func newColorTarget(t *testing.T, d *Device, w, h uint32) *Texture {
	t.Helper()
	return newTexture(t, d, TextureCreateInfo{Usage: TextureUsageColorTarget | TextureUsageSampler, Width: w, Height: h})
}

func clearTarget(tex *Texture) []ColorTargetInfo {
	return []ColorTargetInfo{{
		Texture:    tex,
		LoadOp:     LoadOpClear,
		StoreOp:    StoreOpStore,
		ClearColor: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
	}}
}

// wantMisuse submits cb on a debug device and expects the dropped call to
// be reported.
func wantMisuse(t *testing.T, cb *CommandBuffer) {
	t.Helper()
	if err := cb.Submit(); !errors.Is(err, ErrRecordingMisuse) {
		t.Fatalf("Submit() = %v, want ErrRecordingMisuse", err)
	}
}

func TestRenderPassDraw(t *testing.T) {
	d := newTestDevice(t, WithDebugMode(true))
	target := newColorTarget(t, d, 64, 32)
	pipeline := createTrianglePipeline(t, d, gputypes.TextureFormatRGBA8Unorm)

	cb := acquire(t, d)
	p := cb.BeginRenderPass(clearTarget(target), nil)
	if !p.IsValid() {
		t.Fatal("BeginRenderPass returned an invalid pass")
	}
	if got := p.rec.Len(); got != 2 {
		t.Fatalf("initial commands = %d, want viewport and scissor", got)
	}

	p.BindGraphicsPipeline(pipeline)
	p.SetViewport(Viewport{W: 32, H: 32, MaxDepth: 1})
	p.SetBlendConstants(gputypes.Color{R: 1, A: 1})
	p.SetScissor(Rect{X: 60, Y: 0, W: 100, H: 10})
	cmds := p.rec.Commands()
	sc, ok := cmds[len(cmds)-1].(passrec.SetScissor)
	if !ok || sc.X != 60 || sc.Width != 4 || sc.Height != 10 {
		t.Errorf("clamped scissor = %+v, want x=60 w=4 h=10", cmds[len(cmds)-1])
	}
	p.DrawPrimitives(3, 1, 0, 0)
	p.DrawPrimitives(6, 2, 0, 0)
	if got := p.rec.Count(passrec.CmdDraw); got != 2 {
		t.Errorf("draws = %d, want 2", got)
	}

	p.End()
	if p.State() != PassStateEnded {
		t.Errorf("State() = %v, want Ended", p.State())
	}
	p.DrawPrimitives(3, 1, 0, 0)
	// The draw after End is a misuse; everything before it was fine.
	wantMisuse(t, cb)
}

func TestRenderPassIndirectDraws(t *testing.T) {
	d := newTestDevice(t)
	target := newColorTarget(t, d, 16, 16)
	pipeline := createTrianglePipeline(t, d, gputypes.TextureFormatRGBA8Unorm)
	args := newBuffer(t, d, BufferUsageIndirect, 64)
	index := newBuffer(t, d, BufferUsageIndex, 64)

	cb := acquire(t, d)
	p := cb.BeginRenderPass(clearTarget(target), nil)
	p.BindGraphicsPipeline(pipeline)
	p.DrawPrimitivesIndirect(args, 0, 4)
	p.DrawPrimitivesIndirect(args, 16, 4) // past the end
	p.BindIndexBuffer(BufferBinding{Buffer: index}, IndexElementSize16Bit)
	p.DrawIndexedPrimitivesIndirect(args, 4, 3)
	p.DrawIndexedPrimitives(6, 1, 0, 0, 0)

	if got := p.rec.Count(passrec.CmdDrawIndirect); got != 4 {
		t.Errorf("indirect draws = %d, want 4", got)
	}
	if got := p.rec.Count(passrec.CmdDrawIndexedIndirect); got != 3 {
		t.Errorf("indexed indirect draws = %d, want 3", got)
	}
	if got := p.rec.Count(passrec.CmdDrawIndexed); got != 1 {
		t.Errorf("indexed draws = %d, want 1", got)
	}
	p.End()
	if err := cb.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestRenderPassTexturedDraw(t *testing.T) {
	d := newTestDevice(t, WithDebugMode(true))
	target := newColorTarget(t, d, 16, 16)
	src := newTexture(t, d, TextureCreateInfo{Usage: TextureUsageSampler, Width: 8, Height: 8})
	smp, err := d.CreateSampler(&SamplerCreateInfo{
		MinFilter: gputypes.FilterModeLinear,
		MagFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		t.Fatalf("CreateSampler: %v", err)
	}
	t.Cleanup(smp.Release)
	pipeline := createTexturedPipeline(t, d)

	cb := acquire(t, d)
	cb.PushFragmentUniformData(0, make([]byte, 16))
	p := cb.BeginRenderPass(clearTarget(target), nil)
	p.BindGraphicsPipeline(pipeline)
	p.BindFragmentSamplers(0, []TextureSamplerBinding{{Texture: src, Sampler: smp}})
	p.DrawPrimitives(4, 1, 0, 0)
	p.DrawPrimitives(4, 1, 0, 0)

	if got := p.rec.Count(passrec.CmdDraw); got != 2 {
		t.Fatalf("draws = %d, want 2", got)
	}
	if got := p.rec.Count(passrec.CmdSetBindGroup); got == 0 {
		t.Error("no bind groups recorded before the first draw")
	}
	p.End()
	if err := cb.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestRenderPassMisuse(t *testing.T) {
	tests := []struct {
		name   string
		record func(t *testing.T, d *Device, cb *CommandBuffer)
	}{
		{"no targets", func(t *testing.T, d *Device, cb *CommandBuffer) {
			if p := cb.BeginRenderPass(nil, nil); p.IsValid() {
				t.Error("pass without targets is valid")
			}
		}},
		{"target lacks usage", func(t *testing.T, d *Device, cb *CommandBuffer) {
			tex := newTexture(t, d, TextureCreateInfo{Usage: TextureUsageSampler, Width: 8, Height: 8})
			cb.BeginRenderPass(clearTarget(tex), nil)
		}},
		{"target sizes differ", func(t *testing.T, d *Device, cb *CommandBuffer) {
			a, b := newColorTarget(t, d, 8, 8), newColorTarget(t, d, 16, 8)
			cb.BeginRenderPass(append(clearTarget(a), clearTarget(b)...), nil)
		}},
		{"same target twice", func(t *testing.T, d *Device, cb *CommandBuffer) {
			tex := newColorTarget(t, d, 8, 8)
			if p := cb.BeginRenderPass(append(clearTarget(tex), clearTarget(tex)...), nil); p.IsValid() {
				t.Error("pass with a duplicated target is valid")
			}
		}},
		{"resolve single sampled", func(t *testing.T, d *Device, cb *CommandBuffer) {
			a, b := newColorTarget(t, d, 8, 8), newColorTarget(t, d, 8, 8)
			cb.BeginRenderPass([]ColorTargetInfo{{Texture: a, StoreOp: StoreOpResolve, ResolveTexture: b}}, nil)
		}},
		{"depth target without depth usage", func(t *testing.T, d *Device, cb *CommandBuffer) {
			color := newColorTarget(t, d, 8, 8)
			cb.BeginRenderPass(clearTarget(color), &DepthStencilTargetInfo{Texture: newColorTarget(t, d, 8, 8)})
		}},
		{"draw without pipeline", func(t *testing.T, d *Device, cb *CommandBuffer) {
			p := cb.BeginRenderPass(clearTarget(newColorTarget(t, d, 8, 8)), nil)
			p.DrawPrimitives(3, 1, 0, 0)
			p.End()
		}},
		{"pipeline format mismatch", func(t *testing.T, d *Device, cb *CommandBuffer) {
			pipeline := createTrianglePipeline(t, d, gputypes.TextureFormatBGRA8Unorm)
			p := cb.BeginRenderPass(clearTarget(newColorTarget(t, d, 8, 8)), nil)
			p.BindGraphicsPipeline(pipeline)
			p.End()
		}},
		{"indexed draw without index buffer", func(t *testing.T, d *Device, cb *CommandBuffer) {
			pipeline := createTrianglePipeline(t, d, gputypes.TextureFormatRGBA8Unorm)
			p := cb.BeginRenderPass(clearTarget(newColorTarget(t, d, 8, 8)), nil)
			p.BindGraphicsPipeline(pipeline)
			p.DrawIndexedPrimitives(3, 1, 0, 0, 0)
			p.End()
		}},
		{"empty viewport", func(t *testing.T, d *Device, cb *CommandBuffer) {
			p := cb.BeginRenderPass(clearTarget(newColorTarget(t, d, 8, 8)), nil)
			p.SetViewport(Viewport{W: 0, H: 8, MaxDepth: 1})
			p.End()
		}},
		{"vertex buffer without usage", func(t *testing.T, d *Device, cb *CommandBuffer) {
			buf := newBuffer(t, d, BufferUsageIndex, 64)
			p := cb.BeginRenderPass(clearTarget(newColorTarget(t, d, 8, 8)), nil)
			p.BindVertexBuffers(0, []BufferBinding{{Buffer: buf}})
			p.End()
		}},
		{"misaligned index offset", func(t *testing.T, d *Device, cb *CommandBuffer) {
			buf := newBuffer(t, d, BufferUsageIndex, 64)
			p := cb.BeginRenderPass(clearTarget(newColorTarget(t, d, 8, 8)), nil)
			p.BindIndexBuffer(BufferBinding{Buffer: buf, Offset: 2}, IndexElementSize32Bit)
			p.End()
		}},
		{"unbound sampler", func(t *testing.T, d *Device, cb *CommandBuffer) {
			pipeline := createTexturedPipeline(t, d)
			cb.PushFragmentUniformData(0, make([]byte, 16))
			p := cb.BeginRenderPass(clearTarget(newColorTarget(t, d, 8, 8)), nil)
			p.BindGraphicsPipeline(pipeline)
			p.DrawPrimitives(4, 1, 0, 0)
			p.End()
		}},
		{"sampling the render target", func(t *testing.T, d *Device, cb *CommandBuffer) {
			smp, err := d.CreateSampler(&SamplerCreateInfo{})
			if err != nil {
				t.Fatalf("CreateSampler: %v", err)
			}
			t.Cleanup(smp.Release)
			target := newColorTarget(t, d, 8, 8)
			p := cb.BeginRenderPass(clearTarget(target), nil)
			p.BindFragmentSamplers(0, []TextureSamplerBinding{{Texture: target, Sampler: smp}})
			p.End()
		}},
		{"indirect offset wraps", func(t *testing.T, d *Device, cb *CommandBuffer) {
			pipeline := createTrianglePipeline(t, d, gputypes.TextureFormatRGBA8Unorm)
			args := newBuffer(t, d, BufferUsageIndirect, 64)
			p := cb.BeginRenderPass(clearTarget(newColorTarget(t, d, 8, 8)), nil)
			p.BindGraphicsPipeline(pipeline)
			p.DrawPrimitivesIndirect(args, math.MaxUint64-7, 1)
			if got := p.rec.Count(passrec.CmdDrawIndirect); got != 0 {
				t.Errorf("indirect draws = %d, want 0", got)
			}
			p.End()
		}},
		{"released buffer", func(t *testing.T, d *Device, cb *CommandBuffer) {
			buf := newBuffer(t, d, BufferUsageVertex, 64)
			buf.Release()
			p := cb.BeginRenderPass(clearTarget(newColorTarget(t, d, 8, 8)), nil)
			p.BindVertexBuffers(0, []BufferBinding{{Buffer: buf}})
			p.End()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice(t, WithDebugMode(true))
			cb := acquire(t, d)
			tt.record(t, d, cb)
			wantMisuse(t, cb)
		})
	}
}

func TestRenderPassVertexBuffers(t *testing.T) {
	d := newTestDevice(t, WithDebugMode(true))
	vs := createShader(t, d, triangleWGSL, ShaderStageVertex, "vs_main", 0, 0)
	fs := createShader(t, d, triangleWGSL, ShaderStageFragment, "fs_main", 0, 0)
	pipeline, err := d.CreateGraphicsPipeline(&GraphicsPipelineCreateInfo{
		VertexShader:   vs,
		FragmentShader: fs,
		VertexInputState: VertexInputState{
			VertexBufferDescriptions: []VertexBufferDescription{{Slot: 1, Pitch: 8}},
			VertexAttributes:         []VertexAttribute{{Location: 0, BufferSlot: 1, Format: gputypes.VertexFormatFloat32x2}},
		},
		TargetInfo: GraphicsPipelineTargetInfo{
			ColorTargetDescriptions: []ColorTargetDescription{{Format: gputypes.TextureFormatRGBA8Unorm}},
		},
	})
	if err != nil {
		t.Fatalf("CreateGraphicsPipeline: %v", err)
	}
	t.Cleanup(pipeline.Release)
	verts := newBuffer(t, d, BufferUsageVertex, 48)
	target := newColorTarget(t, d, 8, 8)

	t.Run("bound", func(t *testing.T) {
		cb := acquire(t, d)
		p := cb.BeginRenderPass(clearTarget(target), nil)
		p.BindGraphicsPipeline(pipeline)
		p.BindVertexBuffers(1, []BufferBinding{{Buffer: verts}})
		p.DrawPrimitives(6, 1, 0, 0)
		if got := p.rec.Count(passrec.CmdDraw); got != 1 {
			t.Errorf("draws = %d, want 1", got)
		}
		p.End()
		if err := cb.Submit(); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	})
	t.Run("wrong slot", func(t *testing.T) {
		cb := acquire(t, d)
		p := cb.BeginRenderPass(clearTarget(target), nil)
		p.BindGraphicsPipeline(pipeline)
		p.BindVertexBuffers(0, []BufferBinding{{Buffer: verts}})
		p.DrawPrimitives(6, 1, 0, 0)
		p.End()
		wantMisuse(t, cb)
	})
}

func TestRenderPassDepthTarget(t *testing.T) {
	d := newTestDevice(t)
	color := newColorTarget(t, d, 32, 32)
	depth := newTexture(t, d, TextureCreateInfo{
		Format: gputypes.TextureFormatDepth24PlusStencil8,
		Usage:  TextureUsageDepthStencilTarget,
		Width:  32, Height: 32,
	})

	cb := acquire(t, d)
	p := cb.BeginRenderPass(clearTarget(color), &DepthStencilTargetInfo{
		Texture:       depth,
		ClearDepth:    1,
		LoadOp:        LoadOpClear,
		StoreOp:       StoreOpDontCare,
		StencilLoadOp: LoadOpClear,
		Cycle:         true,
	})
	if !p.IsValid() {
		t.Fatal("BeginRenderPass with depth target returned an invalid pass")
	}
	if p.depthFormat != gputypes.TextureFormatDepth24PlusStencil8 {
		t.Errorf("depthFormat = %v", p.depthFormat)
	}
	p.SetStencilReference(3)
	p.End()
	if err := cb.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestComputePassDispatch(t *testing.T) {
	d := newTestDevice(t, WithDebugMode(true))
	pipeline := createDoublePipeline(t, d)
	in := newBuffer(t, d, BufferUsageComputeStorageRead, 256)
	out := newBuffer(t, d, BufferUsageComputeStorageWrite, 256)
	args := newBuffer(t, d, BufferUsageIndirect, 16)

	cb := acquire(t, d)
	p := cb.BeginComputePass(nil, []StorageBufferReadWriteBinding{{Buffer: out, Cycle: true}})
	if !p.IsValid() {
		t.Fatal("BeginComputePass returned an invalid pass")
	}
	p.BindComputePipeline(pipeline)
	p.BindStorageBuffers(0, []*Buffer{in})
	p.Dispatch(1, 1, 1)
	p.DispatchIndirect(args, 4)

	if got := p.rec.Count(passrec.CmdDispatch); got != 1 {
		t.Errorf("dispatches = %d, want 1", got)
	}
	if got := p.rec.Count(passrec.CmdDispatchIndirect); got != 1 {
		t.Errorf("indirect dispatches = %d, want 1", got)
	}
	p.End()
	if err := cb.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestComputePassMisuse(t *testing.T) {
	tests := []struct {
		name   string
		record func(t *testing.T, d *Device, cb *CommandBuffer)
	}{
		{"read-write buffer lacks usage", func(t *testing.T, d *Device, cb *CommandBuffer) {
			buf := newBuffer(t, d, BufferUsageComputeStorageRead, 64)
			cb.BeginComputePass(nil, []StorageBufferReadWriteBinding{{Buffer: buf}})
		}},
		{"buffer bound read-write twice", func(t *testing.T, d *Device, cb *CommandBuffer) {
			buf := newBuffer(t, d, BufferUsageComputeStorageWrite, 64)
			cb.BeginComputePass(nil, []StorageBufferReadWriteBinding{{Buffer: buf}, {Buffer: buf}})
		}},
		{"read-write buffer bound read-only", func(t *testing.T, d *Device, cb *CommandBuffer) {
			buf := newBuffer(t, d, BufferUsageComputeStorageWrite|BufferUsageComputeStorageRead, 64)
			p := cb.BeginComputePass(nil, []StorageBufferReadWriteBinding{{Buffer: buf}})
			p.BindStorageBuffers(0, []*Buffer{buf})
			p.End()
		}},
		{"dispatch without pipeline", func(t *testing.T, d *Device, cb *CommandBuffer) {
			p := cb.BeginComputePass(nil, nil)
			p.Dispatch(1, 1, 1)
			p.End()
		}},
		{"pipeline needs more read-write buffers", func(t *testing.T, d *Device, cb *CommandBuffer) {
			pipeline := createDoublePipeline(t, d)
			p := cb.BeginComputePass(nil, nil)
			p.BindComputePipeline(pipeline)
			p.End()
		}},
		{"too many workgroups", func(t *testing.T, d *Device, cb *CommandBuffer) {
			pipeline := createDoublePipeline(t, d)
			in := newBuffer(t, d, BufferUsageComputeStorageRead, 64)
			out := newBuffer(t, d, BufferUsageComputeStorageWrite, 64)
			p := cb.BeginComputePass(nil, []StorageBufferReadWriteBinding{{Buffer: out}})
			p.BindComputePipeline(pipeline)
			p.BindStorageBuffers(0, []*Buffer{in})
			p.Dispatch(1<<20, 1, 1)
			p.End()
		}},
		{"indirect arguments out of range", func(t *testing.T, d *Device, cb *CommandBuffer) {
			pipeline := createDoublePipeline(t, d)
			in := newBuffer(t, d, BufferUsageComputeStorageRead, 64)
			out := newBuffer(t, d, BufferUsageComputeStorageWrite, 64)
			args := newBuffer(t, d, BufferUsageIndirect, 16)
			p := cb.BeginComputePass(nil, []StorageBufferReadWriteBinding{{Buffer: out}})
			p.BindComputePipeline(pipeline)
			p.BindStorageBuffers(0, []*Buffer{in})
			p.DispatchIndirect(args, 8)
			p.End()
		}},
		{"indirect offset wraps", func(t *testing.T, d *Device, cb *CommandBuffer) {
			pipeline := createDoublePipeline(t, d)
			in := newBuffer(t, d, BufferUsageComputeStorageRead, 64)
			out := newBuffer(t, d, BufferUsageComputeStorageWrite, 64)
			args := newBuffer(t, d, BufferUsageIndirect, 16)
			p := cb.BeginComputePass(nil, []StorageBufferReadWriteBinding{{Buffer: out}})
			p.BindComputePipeline(pipeline)
			p.BindStorageBuffers(0, []*Buffer{in})
			p.DispatchIndirect(args, math.MaxUint64-3)
			if got := p.rec.Count(passrec.CmdDispatchIndirect); got != 0 {
				t.Errorf("indirect dispatches = %d, want 0", got)
			}
			p.End()
		}},
		{"missing read-only buffer", func(t *testing.T, d *Device, cb *CommandBuffer) {
			pipeline := createDoublePipeline(t, d)
			out := newBuffer(t, d, BufferUsageComputeStorageWrite, 64)
			p := cb.BeginComputePass(nil, []StorageBufferReadWriteBinding{{Buffer: out}})
			p.BindComputePipeline(pipeline)
			p.Dispatch(1, 1, 1)
			p.End()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice(t, WithDebugMode(true))
			cb := acquire(t, d)
			tt.record(t, d, cb)
			wantMisuse(t, cb)
		})
	}
}

func TestCopyPassTransfers(t *testing.T) {
	d := newTestDevice(t, WithDebugMode(true))
	tex := newTexture(t, d, TextureCreateInfo{Type: TextureType2DArray, Usage: TextureUsageSampler, Width: 16, Height: 16, LayerCountOrDepth: 2})
	dstTex := newTexture(t, d, TextureCreateInfo{Usage: TextureUsageSampler, Width: 16, Height: 16})
	buf := newBuffer(t, d, BufferUsageVertex, 1024)
	up := newTransferBuffer(t, d, TransferBufferUsageUpload, 16*16*4)
	down := newTransferBuffer(t, d, TransferBufferUsageDownload, 16*16*4)

	cb := acquire(t, d)
	p := cb.BeginCopyPass()
	p.UploadToTexture(TextureTransferInfo{TransferBuffer: up}, TextureRegion{Texture: tex, Layer: 1, W: 16, H: 16}, false)
	// 5 pixel rows are not pitch aligned and are split per row.
	p.UploadToTexture(TextureTransferInfo{TransferBuffer: up}, TextureRegion{Texture: tex, X: 2, Y: 3, W: 5, H: 4}, true)
	p.DownloadFromTexture(TextureRegion{Texture: tex, Layer: 1, W: 16, H: 16}, TextureTransferInfo{TransferBuffer: down})
	p.UploadToBuffer(TransferBufferLocation{TransferBuffer: up}, BufferRegion{Buffer: buf, Offset: 256, Size: 512}, false)
	p.DownloadFromBuffer(BufferRegion{Buffer: buf, Size: 256}, TransferBufferLocation{TransferBuffer: down})
	p.CopyBufferToBuffer(BufferLocation{Buffer: buf}, BufferLocation{Buffer: buf, Offset: 512}, 256, true)
	p.CopyTextureToTexture(TextureLocation{Texture: tex, Layer: 1}, TextureLocation{Texture: dstTex}, 16, 16, 1, false)
	if p.copies != 7 {
		t.Errorf("copies = %d, want 7", p.copies)
	}
	p.End()
	if err := cb.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestCopyPassMisuse(t *testing.T) {
	tests := []struct {
		name   string
		record func(p *CopyPass, f copyFixture)
	}{
		{"upload from download buffer", func(p *CopyPass, f copyFixture) {
			p.UploadToBuffer(TransferBufferLocation{TransferBuffer: f.down}, BufferRegion{Buffer: f.buf, Size: 64}, false)
		}},
		{"download into upload buffer", func(p *CopyPass, f copyFixture) {
			p.DownloadFromTexture(TextureRegion{Texture: f.tex, W: 4, H: 4}, TextureTransferInfo{TransferBuffer: f.up})
		}},
		{"region exceeds mip level", func(p *CopyPass, f copyFixture) {
			p.UploadToTexture(TextureTransferInfo{TransferBuffer: f.up}, TextureRegion{Texture: f.tex, MipLevel: 1, W: 16, H: 16}, false)
		}},
		{"layer out of range", func(p *CopyPass, f copyFixture) {
			p.UploadToTexture(TextureTransferInfo{TransferBuffer: f.up}, TextureRegion{Texture: f.tex, Layer: 1, W: 4, H: 4}, false)
		}},
		{"transfer buffer too small", func(p *CopyPass, f copyFixture) {
			p.UploadToTexture(TextureTransferInfo{TransferBuffer: f.up, Offset: 1024}, TextureRegion{Texture: f.tex, W: 16, H: 16}, false)
		}},
		{"upload offset wraps", func(p *CopyPass, f copyFixture) {
			p.UploadToTexture(TextureTransferInfo{TransferBuffer: f.up, Offset: math.MaxUint64 - 3}, TextureRegion{Texture: f.tex, W: 4, H: 4}, false)
		}},
		{"download offset wraps", func(p *CopyPass, f copyFixture) {
			p.DownloadFromTexture(TextureRegion{Texture: f.tex, W: 4, H: 4}, TextureTransferInfo{TransferBuffer: f.down, Offset: math.MaxUint64 - 3})
		}},
		{"buffer copy offset wraps", func(p *CopyPass, f copyFixture) {
			p.UploadToBuffer(TransferBufferLocation{TransferBuffer: f.up, Offset: math.MaxUint64 - 3}, BufferRegion{Buffer: f.buf, Size: 64}, false)
		}},
		{"same texture", func(p *CopyPass, f copyFixture) {
			p.CopyTextureToTexture(TextureLocation{Texture: f.tex}, TextureLocation{Texture: f.tex, X: 8}, 4, 4, 1, false)
		}},
		{"formats differ", func(p *CopyPass, f copyFixture) {
			p.CopyTextureToTexture(TextureLocation{Texture: f.tex}, TextureLocation{Texture: f.float}, 4, 4, 1, false)
		}},
		{"overlapping buffer copy", func(p *CopyPass, f copyFixture) {
			p.CopyBufferToBuffer(BufferLocation{Buffer: f.buf}, BufferLocation{Buffer: f.buf, Offset: 256}, 512, false)
		}},
		{"buffer copy out of range", func(p *CopyPass, f copyFixture) {
			p.DownloadFromBuffer(BufferRegion{Buffer: f.buf, Offset: 768, Size: 512}, TransferBufferLocation{TransferBuffer: f.down})
		}},
		{"zero sized copy", func(p *CopyPass, f copyFixture) {
			p.CopyBufferToBuffer(BufferLocation{Buffer: f.buf}, BufferLocation{Buffer: f.buf, Offset: 512}, 0, false)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice(t, WithDebugMode(true))
			f := copyFixture{
				tex:   newTexture(t, d, TextureCreateInfo{Usage: TextureUsageSampler, Width: 16, Height: 16, NumLevels: 2}),
				float: newTexture(t, d, TextureCreateInfo{Format: gputypes.TextureFormatR32Float, Usage: TextureUsageSampler, Width: 16, Height: 16}),
				buf:   newBuffer(t, d, BufferUsageVertex, 1024),
				up:    newTransferBuffer(t, d, TransferBufferUsageUpload, 1024),
				down:  newTransferBuffer(t, d, TransferBufferUsageDownload, 1024),
			}
			cb := acquire(t, d)
			p := cb.BeginCopyPass()
			tt.record(p, f)
			if p.copies != 0 {
				t.Errorf("copies = %d, want 0", p.copies)
			}
			p.End()
			wantMisuse(t, cb)
		})
	}
}

type copyFixture struct {
	tex, float *Texture
	buf        *Buffer
	up, down   *TransferBuffer
}
