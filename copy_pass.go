package gpucmd

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/format"
)

// CopyPass records transfers between transfer buffers, buffers and textures.
// Copies are encoded immediately, each preceded by the barriers it needs.
type CopyPass struct {
	passBase
	copies int
}

// BeginCopyPass opens a copy pass.
//
// BeginCopyPass never returns nil. On misuse the returned pass is invalid.
func (cb *CommandBuffer) BeginCopyPass() *CopyPass {
	if !cb.beginPass("CommandBuffer.BeginCopyPass") {
		return &CopyPass{}
	}
	p := &CopyPass{passBase: passBase{cb: cb, state: PassStateRecording, kind: "copy pass"}}
	cb.open = p
	return p
}

// textureBox is a validated texture region.
type textureBox struct {
	t        *Texture
	level    uint32
	origin   hal.Origin3D
	size     hal.Extent3D
	depth    uint32 // depth slices (3D) or 1
	blockW   uint32
	blockH   uint32
	blockLen uint32
}

// checkBox validates a region of t and returns it in hal terms. Layers of
// 2D arrays and cubes are addressed through the Z origin.
func (p *CopyPass) checkBox(op string, t *Texture, level, layer, x, y, z, w, h, d uint32) (textureBox, bool) {
	cb := p.cb
	if !t.IsValid() {
		cb.misuse(op, "texture is invalid")
		return textureBox{}, false
	}
	if t.info.SampleCount > 1 {
		cb.misuse(op, "multisampled textures cannot be copied", "texture", t.h.label())
		return textureBox{}, false
	}
	if d == 0 {
		d = 1
	}
	if level >= t.info.NumLevels || w == 0 || h == 0 {
		cb.misuse(op, "empty or out of range region", "texture", t.h.label(), "level", level)
		return textureBox{}, false
	}
	mw := format.MipExtent(t.info.Width, level)
	mh := format.MipExtent(t.info.Height, level)
	if uint64(x)+uint64(w) > uint64(mw) || uint64(y)+uint64(h) > uint64(mh) {
		cb.misuse(op, "region exceeds mip level", "texture", t.h.label(),
			"region", [4]uint32{x, y, w, h}, "mip", [2]uint32{mw, mh})
		return textureBox{}, false
	}
	originZ := layer
	if t.info.Type == TextureType3D {
		if uint64(z)+uint64(d) > uint64(t.depthAt(level)) {
			cb.misuse(op, "region exceeds texture depth", "texture", t.h.label())
			return textureBox{}, false
		}
		originZ = z
	} else if d != 1 || layer >= t.layers() {
		cb.misuse(op, "layer out of range", "texture", t.h.label(), "layer", layer)
		return textureBox{}, false
	}

	blk, ok := format.BlockInfo(t.info.Format)
	if !ok {
		cb.misuse(op, "format has no copy layout", "texture", t.h.label(), "format", t.info.Format)
		return textureBox{}, false
	}
	bw, bh := max(blk.Width, 1), max(blk.Height, 1)
	if x%bw != 0 || y%bh != 0 || (w%bw != 0 && x+w != mw) || (h%bh != 0 && y+h != mh) {
		cb.misuse(op, "region not aligned to compressed blocks", "texture", t.h.label())
		return textureBox{}, false
	}
	return textureBox{
		t:        t,
		level:    level,
		origin:   hal.Origin3D{X: x, Y: y, Z: originZ},
		size:     hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: d},
		depth:    d,
		blockW:   bw,
		blockH:   bh,
		blockLen: blk.Bytes,
	}, true
}

// bufferCopies splits a texture transfer into hal regions. Backends need
// row pitches aligned to the device's copy pitch alignment; other pitches
// are copied one block row at a time.
func (p *CopyPass) bufferCopies(box textureBox, offset uint64, pixelsPerRow, rowsPerLayer uint32) []hal.BufferTextureCopy {
	f := box.t.info.Format
	pitch := format.RowPitch(f, pixelsPerRow)
	aspect := box.t.sampleAspect()
	base := hal.ImageCopyTexture{MipLevel: box.level, Origin: box.origin, Aspect: aspect}

	if pitch%p.cb.device.copyPitchAlignment() == 0 {
		return []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: offset, BytesPerRow: uint32(pitch), RowsPerImage: rowsPerLayer},
			TextureBase:  base,
			Size:         box.size,
		}}
	}

	rows := format.BlockRows(f, box.size.Height)
	layerRows := format.BlockRows(f, rowsPerLayer)
	out := make([]hal.BufferTextureCopy, 0, uint64(rows)*uint64(box.depth))
	for z := range box.depth {
		for r := range rows {
			tb := base
			tb.Origin.Y = box.origin.Y + r*box.blockH
			tb.Origin.Z = box.origin.Z + z
			h := min(box.blockH, box.size.Height-r*box.blockH)
			out = append(out, hal.BufferTextureCopy{
				BufferLayout: hal.ImageDataLayout{
					Offset:      offset + (uint64(z)*uint64(layerRows)+uint64(r))*pitch,
					BytesPerRow: uint32(pitch),
				},
				TextureBase: tb,
				Size:        hal.Extent3D{Width: box.size.Width, Height: h, DepthOrArrayLayers: 1},
			})
		}
	}
	return out
}

// transferLayout resolves the buffer side of a texture transfer and checks
// that it fits in the transfer buffer.
func (p *CopyPass) transferLayout(op string, info TextureTransferInfo, box textureBox) (uint32, uint32, bool) {
	ppr, rpl := info.PixelsPerRow, info.RowsPerLayer
	if ppr == 0 {
		ppr = box.size.Width
	}
	if rpl == 0 {
		rpl = box.size.Height
	}
	if ppr < box.size.Width || rpl < box.size.Height {
		p.cb.misuse(op, "transfer layout smaller than region", "pixelsPerRow", ppr, "rowsPerLayer", rpl)
		return 0, 0, false
	}
	if info.Offset%uint64(max(box.blockLen, 1)) != 0 {
		p.cb.misuse(op, "transfer offset not aligned to the texel block", "offset", info.Offset)
		return 0, 0, false
	}
	pitch := format.RowPitch(box.t.info.Format, ppr)
	need := format.ImageSize(box.t.info.Format, box.size.Width, box.size.Height, box.depth, pitch, rpl)
	if size := info.TransferBuffer.size; info.Offset > size || need > size-info.Offset {
		p.cb.misuse(op, "transfer buffer too small", "offset", info.Offset, "need", need, "size", size)
		return 0, 0, false
	}
	return ppr, rpl, true
}

func (p *CopyPass) checkTransfer(op string, tb *TransferBuffer, want TransferBufferUsage) bool {
	if !tb.IsValid() {
		p.cb.misuse(op, "transfer buffer is invalid")
		return false
	}
	if tb.usage != want {
		p.cb.misuse(op, "transfer buffer has the wrong direction", "usage", tb.usage, "want", want)
		return false
	}
	return true
}

// UploadToTexture copies data from an upload transfer buffer into a
// texture region. With cycle set, a texture still in use by the GPU gets a
// fresh allocation first.
func (p *CopyPass) UploadToTexture(src TextureTransferInfo, dst TextureRegion, cycle bool) {
	const op = "CopyPass.UploadToTexture"
	if !p.active(op) || !p.checkTransfer(op, src.TransferBuffer, TransferBufferUsageUpload) {
		return
	}
	box, ok := p.checkBox(op, dst.Texture, dst.MipLevel, dst.Layer, dst.X, dst.Y, dst.Z, dst.W, dst.H, dst.D)
	if !ok {
		return
	}
	ppr, rpl, ok := p.transferLayout(op, src, box)
	if !ok {
		return
	}
	cb := p.cb
	sa, ok := cb.useTransferBuffer(op, src.TransferBuffer)
	if !ok {
		return
	}
	da, ok := cb.useTexture(op, dst.Texture, cycle)
	if !ok {
		return
	}
	sa.transition(cb.encoder, src.TransferBuffer.halState())
	da.transition(cb.encoder, gputypes.TextureUsageCopyDst)
	cb.encoder.CopyBufferToTexture(sa.buf, da.tex, p.bufferCopies(box, src.Offset, ppr, rpl))
	p.copies++
}

// DownloadFromTexture copies a texture region into a download transfer buffer.
func (p *CopyPass) DownloadFromTexture(src TextureRegion, dst TextureTransferInfo) {
	const op = "CopyPass.DownloadFromTexture"
	if !p.active(op) || !p.checkTransfer(op, dst.TransferBuffer, TransferBufferUsageDownload) {
		return
	}
	box, ok := p.checkBox(op, src.Texture, src.MipLevel, src.Layer, src.X, src.Y, src.Z, src.W, src.H, src.D)
	if !ok {
		return
	}
	ppr, rpl, ok := p.transferLayout(op, dst, box)
	if !ok {
		return
	}
	cb := p.cb
	sa, ok := cb.useTexture(op, src.Texture, false)
	if !ok {
		return
	}
	da, ok := cb.useTransferBuffer(op, dst.TransferBuffer)
	if !ok {
		return
	}
	sa.transition(cb.encoder, gputypes.TextureUsageCopySrc)
	da.transition(cb.encoder, dst.TransferBuffer.halState())
	cb.encoder.CopyTextureToBuffer(sa.tex, da.buf, p.bufferCopies(box, dst.Offset, ppr, rpl))
	p.copies++
}

// checkRange validates a byte range for buffer copies.
func (p *CopyPass) checkRange(op string, offset, size, limit uint64) bool {
	align := p.cb.device.copyOffsetAlignment()
	switch {
	case size == 0:
		p.cb.misuse(op, "zero-sized copy")
		return false
	case offset%align != 0 || size%4 != 0:
		p.cb.misuse(op, "copy offset or size misaligned", "offset", offset, "size", size, "align", align)
		return false
	case offset > limit || size > limit-offset:
		p.cb.misuse(op, "copy out of range", "offset", offset, "size", size, "limit", limit)
		return false
	}
	return true
}

// UploadToBuffer copies data from an upload transfer buffer into a buffer.
func (p *CopyPass) UploadToBuffer(src TransferBufferLocation, dst BufferRegion, cycle bool) {
	const op = "CopyPass.UploadToBuffer"
	if !p.active(op) || !p.checkTransfer(op, src.TransferBuffer, TransferBufferUsageUpload) {
		return
	}
	if !dst.Buffer.IsValid() {
		p.cb.misuse(op, "buffer is invalid")
		return
	}
	if !p.checkRange(op, src.Offset, dst.Size, src.TransferBuffer.size) ||
		!p.checkRange(op, dst.Offset, dst.Size, dst.Buffer.size) {
		return
	}
	cb := p.cb
	sa, ok := cb.useTransferBuffer(op, src.TransferBuffer)
	if !ok {
		return
	}
	da, ok := cb.useBuffer(op, dst.Buffer, cycle)
	if !ok {
		return
	}
	sa.transition(cb.encoder, src.TransferBuffer.halState())
	da.transition(cb.encoder, gputypes.BufferUsageCopyDst)
	cb.encoder.CopyBufferToBuffer(sa.buf, da.buf, []hal.BufferCopy{{
		SrcOffset: src.Offset, DstOffset: dst.Offset, Size: dst.Size,
	}})
	p.copies++
}

// DownloadFromBuffer copies a buffer range into a download transfer buffer.
func (p *CopyPass) DownloadFromBuffer(src BufferRegion, dst TransferBufferLocation) {
	const op = "CopyPass.DownloadFromBuffer"
	if !p.active(op) || !p.checkTransfer(op, dst.TransferBuffer, TransferBufferUsageDownload) {
		return
	}
	if !src.Buffer.IsValid() {
		p.cb.misuse(op, "buffer is invalid")
		return
	}
	if !p.checkRange(op, src.Offset, src.Size, src.Buffer.size) ||
		!p.checkRange(op, dst.Offset, src.Size, dst.TransferBuffer.size) {
		return
	}
	cb := p.cb
	sa, ok := cb.useBuffer(op, src.Buffer, false)
	if !ok {
		return
	}
	da, ok := cb.useTransferBuffer(op, dst.TransferBuffer)
	if !ok {
		return
	}
	sa.transition(cb.encoder, gputypes.BufferUsageCopySrc)
	da.transition(cb.encoder, dst.TransferBuffer.halState())
	cb.encoder.CopyBufferToBuffer(sa.buf, da.buf, []hal.BufferCopy{{
		SrcOffset: src.Offset, DstOffset: dst.Offset, Size: src.Size,
	}})
	p.copies++
}

// CopyTextureToTexture copies a w×h×d box between textures of the same
// format. Copies within one texture are not supported.
func (p *CopyPass) CopyTextureToTexture(src, dst TextureLocation, w, h, d uint32, cycle bool) {
	const op = "CopyPass.CopyTextureToTexture"
	if !p.active(op) {
		return
	}
	cb := p.cb
	if src.Texture == dst.Texture {
		cb.misuse(op, "source and destination are the same texture")
		return
	}
	sbox, ok := p.checkBox(op, src.Texture, src.MipLevel, src.Layer, src.X, src.Y, src.Z, w, h, d)
	if !ok {
		return
	}
	dbox, ok := p.checkBox(op, dst.Texture, dst.MipLevel, dst.Layer, dst.X, dst.Y, dst.Z, w, h, d)
	if !ok {
		return
	}
	if src.Texture.info.Format != dst.Texture.info.Format {
		cb.misuse(op, "texture formats differ", "src", src.Texture.info.Format, "dst", dst.Texture.info.Format)
		return
	}
	sa, ok := cb.useTexture(op, src.Texture, false)
	if !ok {
		return
	}
	da, ok := cb.useTexture(op, dst.Texture, cycle)
	if !ok {
		return
	}
	sa.transition(cb.encoder, gputypes.TextureUsageCopySrc)
	da.transition(cb.encoder, gputypes.TextureUsageCopyDst)
	aspect := src.Texture.sampleAspect()
	if src.Texture.info.Format.IsDepthStencil() {
		aspect = gputypes.TextureAspectAll
	}
	cb.encoder.CopyTextureToTexture(sa.tex, da.tex, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{MipLevel: sbox.level, Origin: sbox.origin, Aspect: aspect},
		DstBase: hal.ImageCopyTexture{MipLevel: dbox.level, Origin: dbox.origin, Aspect: aspect},
		Size:    sbox.size,
	}})
	p.copies++
}

// CopyBufferToBuffer copies size bytes between buffers. Within one buffer
// the ranges must not overlap.
func (p *CopyPass) CopyBufferToBuffer(src, dst BufferLocation, size uint64, cycle bool) {
	const op = "CopyPass.CopyBufferToBuffer"
	if !p.active(op) {
		return
	}
	cb := p.cb
	if !src.Buffer.IsValid() || !dst.Buffer.IsValid() {
		cb.misuse(op, "buffer is invalid")
		return
	}
	if !p.checkRange(op, src.Offset, size, src.Buffer.size) || !p.checkRange(op, dst.Offset, size, dst.Buffer.size) {
		return
	}
	same := src.Buffer == dst.Buffer
	if same && src.Offset < dst.Offset+size && dst.Offset < src.Offset+size {
		cb.misuse(op, "overlapping copy within one buffer", "src", src.Offset, "dst", dst.Offset, "size", size)
		return
	}
	// Cycling would drop the source contents when both ends share a buffer.
	da, ok := cb.useBuffer(op, dst.Buffer, cycle && !same)
	if !ok {
		return
	}
	sa, ok := cb.useBuffer(op, src.Buffer, false)
	if !ok {
		return
	}
	if same {
		sa.transition(cb.encoder, gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	} else {
		sa.transition(cb.encoder, gputypes.BufferUsageCopySrc)
		da.transition(cb.encoder, gputypes.BufferUsageCopyDst)
	}
	cb.encoder.CopyBufferToBuffer(sa.buf, da.buf, []hal.BufferCopy{{
		SrcOffset: src.Offset, DstOffset: dst.Offset, Size: size,
	}})
	p.copies++
}

// End closes the pass.
func (p *CopyPass) End() {
	if !p.active("CopyPass.End") {
		return
	}
	Logger().Debug("gpucmd: copy pass ended", "copies", p.copies)
	p.state = PassStateEnded
	p.cb.open = nil
}

func (p *CopyPass) abort() {
	p.state = PassStateEnded
}
