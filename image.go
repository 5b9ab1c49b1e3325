package gpucmd

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/gpucmd/internal/format"
)

// ImageLayout locates RGBA8 pixels written to or read from a transfer
// buffer. Rows are PixelsPerRow texels apart, which satisfies the device's
// copy pitch alignment.
type ImageLayout struct {
	Offset       uint64
	Width        uint32
	Height       uint32
	PixelsPerRow uint32
}

// Pitch returns the distance between rows in bytes.
func (l ImageLayout) Pitch() uint64 { return uint64(l.PixelsPerRow) * 4 }

// Size returns the bytes the image occupies.
func (l ImageLayout) Size() uint64 {
	if l.Height == 0 {
		return 0
	}
	return l.Pitch()*uint64(l.Height-1) + uint64(l.Width)*4
}

// TransferInfo returns the copy source or destination for the image.
func (l ImageLayout) TransferInfo(tb *TransferBuffer) TextureTransferInfo {
	return TextureTransferInfo{
		TransferBuffer: tb,
		Offset:         l.Offset,
		PixelsPerRow:   l.PixelsPerRow,
		RowsPerLayer:   l.Height,
	}
}

// ImagePitch returns the row pitch in bytes the device copies RGBA8 rows
// of width texels with.
func (d *Device) ImagePitch(width uint32) uint64 {
	if d == nil {
		return uint64(width) * 4
	}
	return format.AlignUp(uint64(width)*4, d.copyPitchAlignment())
}

// WriteImage converts img to RGBA8 with premultiplied alpha and writes it
// into an upload transfer buffer at offset. It waits for GPU work still
// reading the buffer.
func WriteImage(tb *TransferBuffer, offset uint64, img image.Image) (ImageLayout, error) {
	if img == nil {
		return ImageLayout{}, fmt.Errorf("%w: nil image", ErrInvalidDescriptor)
	}
	b := img.Bounds()
	return writeImage(tb, offset, b.Dx(), b.Dy(), func(dst *image.RGBA) {
		xdraw.Draw(dst, dst.Rect, img, b.Min, xdraw.Src)
	})
}

// WriteImageScaled resamples img to width x height with a Catmull-Rom
// filter and writes it like WriteImage. It is useful for seeding mip
// levels from a single source image.
func WriteImageScaled(tb *TransferBuffer, offset uint64, img image.Image, width, height int) (ImageLayout, error) {
	if img == nil {
		return ImageLayout{}, fmt.Errorf("%w: nil image", ErrInvalidDescriptor)
	}
	return writeImage(tb, offset, width, height, func(dst *image.RGBA) {
		xdraw.CatmullRom.Scale(dst, dst.Rect, img, img.Bounds(), xdraw.Src, nil)
	})
}

func writeImage(tb *TransferBuffer, offset uint64, width, height int, fill func(dst *image.RGBA)) (ImageLayout, error) {
	d, err := transferOwner(tb, TransferBufferUsageUpload)
	if err != nil {
		return ImageLayout{}, err
	}
	if width <= 0 || height <= 0 {
		return ImageLayout{}, fmt.Errorf("%w: image size %dx%d", ErrInvalidDescriptor, width, height)
	}
	l := ImageLayout{
		Offset:       offset,
		Width:        uint32(width),
		Height:       uint32(height),
		PixelsPerRow: uint32(d.ImagePitch(uint32(width)) / 4),
	}
	if offset > tb.size || l.Size() > tb.size-offset {
		return ImageLayout{}, fmt.Errorf("%w: image needs %d bytes at offset %d, buffer has %d",
			ErrInvalidDescriptor, l.Size(), offset, tb.size)
	}

	mapped := tb.Map(false)
	if mapped == nil {
		return ImageLayout{}, fmt.Errorf("%w: %q", ErrMapFailed, tb.h.label())
	}
	defer tb.Unmap()

	dst := &image.RGBA{
		Pix:    mapped[offset : offset+l.Size()],
		Stride: int(l.Pitch()),
		Rect:   image.Rect(0, 0, width, height),
	}
	fill(dst)
	return l, nil
}

// ReadImage copies width x height RGBA8 pixels out of a download transfer
// buffer. pitch is the row pitch in bytes; zero means the device's image
// pitch for width. It waits for GPU work still writing the buffer.
func ReadImage(tb *TransferBuffer, offset uint64, width, height int, pitch uint64) (*image.RGBA, error) {
	d, err := transferOwner(tb, TransferBufferUsageDownload)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrInvalidDescriptor, width, height)
	}
	row := uint64(width) * 4
	if pitch == 0 {
		pitch = d.ImagePitch(uint32(width))
	}
	if pitch < row {
		return nil, fmt.Errorf("%w: pitch %d < row size %d", ErrInvalidDescriptor, pitch, row)
	}
	size := pitch*uint64(height-1) + row
	if offset > tb.size || size > tb.size-offset {
		return nil, fmt.Errorf("%w: image needs %d bytes at offset %d, buffer has %d",
			ErrInvalidDescriptor, size, offset, tb.size)
	}

	mapped := tb.Map(false)
	if mapped == nil {
		return nil, fmt.Errorf("%w: %q", ErrMapFailed, tb.h.label())
	}
	defer tb.Unmap()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		src := offset + uint64(y)*pitch
		copy(img.Pix[y*img.Stride:y*img.Stride+int(row)], mapped[src:src+row])
	}
	return img, nil
}

// transferOwner returns the device of a valid transfer buffer with the
// given direction.
func transferOwner(tb *TransferBuffer, usage TransferBufferUsage) (*Device, error) {
	if !tb.IsValid() {
		return nil, fmt.Errorf("%w: transfer buffer is invalid", ErrInvalidDescriptor)
	}
	if tb.usage != usage {
		return nil, fmt.Errorf("%w: transfer buffer is %v, want %v", ErrInvalidDescriptor, tb.usage, usage)
	}
	d := tb.h.owner()
	if d == nil {
		return nil, fmt.Errorf("%w: transfer buffer is invalid", ErrInvalidDescriptor)
	}
	return d, nil
}
