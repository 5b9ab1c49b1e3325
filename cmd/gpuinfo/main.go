// Command gpuinfo lists the available GPU backends, describes the adapter a
// device opens on, and runs a short upload, clear and download round trip.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/gpucmd"
	"github.com/gogpu/gpucmd/backend"
)

var probedFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb,
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatRGBA16Float,
	gputypes.TextureFormatRGBA32Float,
	gputypes.TextureFormatR32Uint,
	gputypes.TextureFormatR32Float,
	gputypes.TextureFormatDepth32Float,
	gputypes.TextureFormatDepth24PlusStencil8,
}

var probedUsages = []struct {
	name  string
	usage gpucmd.TextureUsage
}{
	{"sample", gpucmd.TextureUsageSampler},
	{"color", gpucmd.TextureUsageColorTarget},
	{"depth", gpucmd.TextureUsageDepthStencilTarget},
	{"storage", gpucmd.TextureUsageComputeStorageWrite},
}

func main() {
	var (
		backendName = flag.String("backend", "", "backend to open (default: best available)")
		list        = flag.Bool("list", false, "list registered backends and exit")
		adapter     = flag.Int("adapter", 0, "adapter index on the backend")
		debug       = flag.Bool("debug", false, "enable debug mode")
		smoke       = flag.Bool("smoke", true, "run a smoke submission")
		verbose     = flag.Bool("v", false, "log device activity to stderr")
		lang        = flag.String("lang", "en", "language used to format numbers")
	)
	flag.Parse()

	if *verbose {
		gpucmd.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	p := message.NewPrinter(language.Make(*lang))

	if *list {
		for _, name := range backend.Available() {
			p.Println(name)
		}
		return
	}

	d, err := gpucmd.CreateDevice(gpucmd.ShaderFormatWGSL|gpucmd.ShaderFormatSPIRV,
		gpucmd.WithBackend(*backendName),
		gpucmd.WithAdapterIndex(*adapter),
		gpucmd.WithDebugMode(*debug),
	)
	if err != nil {
		log.Fatalf("Failed to create device: %v", err)
	}
	defer d.Destroy()

	printAdapter(p, d)
	printLimits(p, d.Limits())
	printFormats(p, d)

	if *smoke {
		start := time.Now()
		if err := smokeTest(d); err != nil {
			log.Fatalf("Smoke submission failed: %v", err)
		}
		p.Printf("\nsmoke submission passed in %v\n", time.Since(start).Round(time.Microsecond))
	}
}

func printAdapter(p *message.Printer, d *gpucmd.Device) {
	info := d.HALAdapterInfo()
	p.Printf("backend:        %s\n", d.Driver())
	p.Printf("adapter:        %s (%s)\n", info.Name, d.AdapterInfo().Type)
	if info.Vendor != "" {
		p.Printf("vendor:         %s [%#04x:%#04x]\n", info.Vendor, info.VendorID, info.DeviceID)
	}
	if info.Driver != "" {
		p.Printf("driver:         %s %s\n", info.Driver, info.DriverInfo)
	}
	p.Printf("device type:    %s\n", info.DeviceType)
	p.Printf("shader formats: %s\n", d.ShaderFormats())

	mem := d.MemoryStats()
	p.Printf("memory budget:  %d bytes\n", mem.TotalBytes)
}

func printLimits(p *message.Printer, l gputypes.Limits) {
	rows := []struct {
		name  string
		value uint64
	}{
		{"max texture dimension 2D", uint64(l.MaxTextureDimension2D)},
		{"max texture dimension 3D", uint64(l.MaxTextureDimension3D)},
		{"max texture array layers", uint64(l.MaxTextureArrayLayers)},
		{"max bind groups", uint64(l.MaxBindGroups)},
		{"max samplers per stage", uint64(l.MaxSamplersPerShaderStage)},
		{"max uniform buffers per stage", uint64(l.MaxUniformBuffersPerShaderStage)},
		{"max uniform binding size", uint64(l.MaxUniformBufferBindingSize)},
		{"max storage binding size", l.MaxStorageBufferBindingSize},
		{"max vertex buffers", uint64(l.MaxVertexBuffers)},
		{"max buffer size", l.MaxBufferSize},
		{"max color attachments", uint64(l.MaxColorAttachments)},
		{"max compute invocations", uint64(l.MaxComputeInvocationsPerWorkgroup)},
		{"max workgroups per dimension", uint64(l.MaxComputeWorkgroupsPerDimension)},
	}
	p.Println("\nlimits:")
	for _, r := range rows {
		p.Printf("  %-30s %d\n", r.name, r.value)
	}
}

func printFormats(p *message.Printer, d *gpucmd.Device) {
	p.Printf("\n  %-24s", "format")
	for _, u := range probedUsages {
		p.Printf(" %-8s", u.name)
	}
	p.Println()
	for _, f := range probedFormats {
		p.Printf("  %-24s", f)
		for _, u := range probedUsages {
			mark := "-"
			if d.TextureSupportsFormat(f, gpucmd.TextureType2D, u.usage) {
				mark = "yes"
			}
			p.Printf(" %-8s", mark)
		}
		p.Println()
	}
}

// smokeTest round-trips a buffer through the GPU and clears a texture,
// then checks what comes back.
func smokeTest(d *gpucmd.Device) error {
	const size = 256
	// 64 RGBA8 texels fill one 256-byte copy row, so the readback has no padding.
	const texSize = 64

	buf, err := d.CreateBuffer(&gpucmd.BufferCreateInfo{Usage: gpucmd.BufferUsageComputeStorageRead, Size: size, Name: "smoke"})
	if err != nil {
		return err
	}
	defer buf.Release()
	tex, err := d.CreateTexture(&gpucmd.TextureCreateInfo{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gpucmd.TextureUsageColorTarget,
		Width:  texSize,
		Height: texSize,
		Name:   "smoke",
	})
	if err != nil {
		return err
	}
	defer tex.Release()

	pitch := d.ImagePitch(texSize)
	up, err := d.CreateTransferBuffer(&gpucmd.TransferBufferCreateInfo{Usage: gpucmd.TransferBufferUsageUpload, Size: size})
	if err != nil {
		return err
	}
	defer up.Release()
	down, err := d.CreateTransferBuffer(&gpucmd.TransferBufferCreateInfo{
		Usage: gpucmd.TransferBufferUsageDownload,
		Size:  size + pitch*texSize,
	})
	if err != nil {
		return err
	}
	defer down.Release()

	want := make([]byte, size)
	for i := range want {
		want[i] = byte(i)
	}
	data := up.Map(false)
	if data == nil {
		return errors.New("map upload buffer")
	}
	copy(data, want)
	up.Unmap()

	cb, err := d.AcquireCommandBuffer()
	if err != nil {
		return err
	}
	cb.PushDebugGroup("smoke")
	cp := cb.BeginCopyPass()
	cp.UploadToBuffer(gpucmd.TransferBufferLocation{TransferBuffer: up}, gpucmd.BufferRegion{Buffer: buf, Size: size}, false)
	cp.End()
	rp := cb.BeginRenderPass([]gpucmd.ColorTargetInfo{{
		Texture:    tex,
		LoadOp:     gpucmd.LoadOpClear,
		StoreOp:    gpucmd.StoreOpStore,
		ClearColor: gputypes.Color{R: 0, G: 1, B: 0, A: 1},
	}}, nil)
	rp.End()
	cp = cb.BeginCopyPass()
	cp.DownloadFromBuffer(gpucmd.BufferRegion{Buffer: buf, Size: size}, gpucmd.TransferBufferLocation{TransferBuffer: down})
	cp.DownloadFromTexture(
		gpucmd.TextureRegion{Texture: tex, W: texSize, H: texSize},
		gpucmd.TextureTransferInfo{TransferBuffer: down, Offset: size, PixelsPerRow: uint32(pitch / 4)},
	)
	cp.End()
	cb.PopDebugGroup()

	fence, err := cb.SubmitAndAcquireFence()
	if err != nil {
		return err
	}
	defer fence.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fence.WaitContext(ctx); err != nil {
		return err
	}

	// The noop backend executes nothing, so only backends that run
	// commands are checked.
	if d.Driver() == backend.Noop {
		return nil
	}
	got := down.Map(false)
	if got == nil {
		return errors.New("map download buffer")
	}
	bufOK := bytes.Equal(got[:size], want)
	down.Unmap()
	if !bufOK {
		return errors.New("buffer round trip mismatch")
	}
	img, err := gpucmd.ReadImage(down, size, texSize, texSize, pitch)
	if err != nil {
		return err
	}
	if c := img.RGBAAt(texSize/2, texSize/2); c.G != 255 || c.R != 0 || c.A != 255 {
		return fmt.Errorf("cleared texel = %v, want opaque green", c)
	}
	return nil
}
