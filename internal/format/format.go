// Package format provides texel block arithmetic for texture formats:
// block sizes, copy pitches, and mip chain extents.
package format

import (
	"github.com/gogpu/gputypes"
)

// Block describes the storage block of a texture format.
// Uncompressed formats use 1x1 blocks.
type Block struct {
	Width  uint32
	Height uint32
	Bytes  uint32
}

// BlockInfo returns the block layout of format.
// The second result is false for formats without a defined copy layout
// (Undefined, packed depth formats).
func BlockInfo(f gputypes.TextureFormat) (Block, bool) {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return Block{1, 1, 1}, true

	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatDepth16Unorm:
		return Block{1, 1, 2}, true

	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG16Unorm, gputypes.TextureFormatRG16Snorm,
		gputypes.TextureFormatRG16Uint, gputypes.TextureFormatRG16Sint,
		gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRGB10A2Uint, gputypes.TextureFormatRGB10A2Unorm,
		gputypes.TextureFormatRG11B10Ufloat, gputypes.TextureFormatRGB9E5Ufloat,
		gputypes.TextureFormatDepth32Float:
		return Block{1, 1, 4}, true

	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Float:
		return Block{1, 1, 8}, true

	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return Block{1, 1, 16}, true

	case gputypes.TextureFormatBC1RGBAUnorm, gputypes.TextureFormatBC1RGBAUnormSrgb,
		gputypes.TextureFormatBC4RUnorm, gputypes.TextureFormatBC4RSnorm,
		gputypes.TextureFormatETC2RGB8Unorm, gputypes.TextureFormatETC2RGB8UnormSrgb,
		gputypes.TextureFormatETC2RGB8A1Unorm, gputypes.TextureFormatETC2RGB8A1UnormSrgb,
		gputypes.TextureFormatEACR11Unorm, gputypes.TextureFormatEACR11Snorm:
		return Block{4, 4, 8}, true

	case gputypes.TextureFormatBC2RGBAUnorm, gputypes.TextureFormatBC2RGBAUnormSrgb,
		gputypes.TextureFormatBC3RGBAUnorm, gputypes.TextureFormatBC3RGBAUnormSrgb,
		gputypes.TextureFormatBC5RGUnorm, gputypes.TextureFormatBC5RGSnorm,
		gputypes.TextureFormatBC6HRGBUfloat, gputypes.TextureFormatBC6HRGBFloat,
		gputypes.TextureFormatBC7RGBAUnorm, gputypes.TextureFormatBC7RGBAUnormSrgb,
		gputypes.TextureFormatETC2RGBA8Unorm, gputypes.TextureFormatETC2RGBA8UnormSrgb,
		gputypes.TextureFormatEACRG11Unorm, gputypes.TextureFormatEACRG11Snorm:
		return Block{4, 4, 16}, true
	}

	if w, h, ok := astcBlock(f); ok {
		return Block{w, h, 16}, true
	}
	return Block{}, false
}

// astcBlock returns the footprint of an ASTC format. ASTC formats come in
// Unorm/UnormSrgb pairs ordered by footprint.
func astcBlock(f gputypes.TextureFormat) (w, h uint32, ok bool) {
	footprints := [...][2]uint32{
		{4, 4}, {5, 4}, {5, 5}, {6, 5}, {6, 6}, {8, 5}, {8, 6}, {8, 8},
		{10, 5}, {10, 6}, {10, 8}, {10, 10}, {12, 10}, {12, 12},
	}
	if f < gputypes.TextureFormatASTC4x4Unorm || f > gputypes.TextureFormatASTC12x12UnormSrgb {
		return 0, 0, false
	}
	fp := footprints[(f-gputypes.TextureFormatASTC4x4Unorm)/2]
	return fp[0], fp[1], true
}

// IsCompressed reports whether the format uses blocks larger than one texel.
func IsCompressed(f gputypes.TextureFormat) bool {
	b, ok := BlockInfo(f)
	return ok && (b.Width > 1 || b.Height > 1)
}

// IsInteger reports whether texels are read as integers. Integer formats
// cannot be filtered.
func IsInteger(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatR32Uint, gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG16Uint, gputypes.TextureFormatRG16Sint,
		gputypes.TextureFormatRGBA8Uint, gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatRGB10A2Uint,
		gputypes.TextureFormatRG32Uint, gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA32Uint, gputypes.TextureFormatRGBA32Sint:
		return true
	}
	return false
}

// RowPitch returns the tightly packed byte size of one row of blocks
// covering width texels.
func RowPitch(f gputypes.TextureFormat, width uint32) uint64 {
	b, ok := BlockInfo(f)
	if !ok {
		return 0
	}
	blocks := (width + b.Width - 1) / b.Width
	return uint64(blocks) * uint64(b.Bytes)
}

// BlockRows returns the number of block rows covering height texels.
func BlockRows(f gputypes.TextureFormat, height uint32) uint32 {
	b, ok := BlockInfo(f)
	if !ok {
		return 0
	}
	return (height + b.Height - 1) / b.Height
}

// AlignUp rounds v up to the next multiple of align. align must be a power
// of two or zero.
func AlignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// ImageSize returns the byte size of a width x height x depth region laid
// out with the given row pitch (in bytes) and rows per image (in texels).
// A zero pitch or zero rowsPerImage selects the tightly packed value.
func ImageSize(f gputypes.TextureFormat, width, height, depth uint32, pitch uint64, rowsPerImage uint32) uint64 {
	if width == 0 || height == 0 || depth == 0 {
		return 0
	}
	tight := RowPitch(f, width)
	if pitch == 0 {
		pitch = tight
	}
	rows := BlockRows(f, height)
	imageRows := rows
	if rowsPerImage != 0 {
		imageRows = BlockRows(f, rowsPerImage)
	}
	// The final row of the final image only needs its tight size.
	return uint64(depth-1)*uint64(imageRows)*pitch + uint64(rows-1)*pitch + tight
}

// MipExtent returns the size of a dimension at the given mip level.
func MipExtent(size, level uint32) uint32 {
	s := size >> level
	if s == 0 {
		return 1
	}
	return s
}

// MaxMipLevels returns the length of a full mip chain for the given extent.
func MaxMipLevels(width, height, depth uint32) uint32 {
	m := max(width, height, depth)
	levels := uint32(1)
	for m > 1 {
		m >>= 1
		levels++
	}
	return levels
}

// TextureSize returns an estimate of the memory a texture occupies,
// summing all mip levels and layers.
func TextureSize(f gputypes.TextureFormat, width, height, depth, layers, levels, samples uint32) uint64 {
	b, ok := BlockInfo(f)
	if !ok {
		// Packed depth formats and unknowns are costed at 4 bytes per texel.
		b = Block{1, 1, 4}
	}
	if samples == 0 {
		samples = 1
	}
	var total uint64
	for l := uint32(0); l < levels; l++ {
		w := (MipExtent(width, l) + b.Width - 1) / b.Width
		h := (MipExtent(height, l) + b.Height - 1) / b.Height
		d := MipExtent(depth, l)
		total += uint64(w) * uint64(h) * uint64(d) * uint64(b.Bytes)
	}
	return total * uint64(max(layers, 1)) * uint64(samples)
}
