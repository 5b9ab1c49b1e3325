package gpucmd

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucmd/internal/memory"
)

// TransferBuffer is CPU-visible staging memory for uploads to and
// downloads from buffers and textures.
//
// Map returns a view of the whole buffer. The view is valid until Unmap.
type TransferBuffer struct {
	h     handle[*bufferAlloc]
	usage TransferBufferUsage
	size  uint64

	mapMu  sync.Mutex
	mapped *bufferAlloc
}

// CreateTransferBuffer creates a transfer buffer.
func (d *Device) CreateTransferBuffer(info *TransferBufferCreateInfo) (*TransferBuffer, error) {
	if !d.IsValid() {
		return nil, ErrDeviceInvalid
	}
	if info == nil {
		return nil, fmt.Errorf("%w: nil TransferBufferCreateInfo", ErrInvalidDescriptor)
	}
	if info.Size == 0 {
		return nil, fmt.Errorf("%w: transfer buffer size is zero", ErrInvalidDescriptor)
	}
	if info.Usage != TransferBufferUsageUpload && info.Usage != TransferBufferUsageDownload {
		return nil, fmt.Errorf("%w: transfer buffer usage %v", ErrInvalidDescriptor, info.Usage)
	}
	if limit := d.caps.Limits.MaxBufferSize; limit > 0 && info.Size > limit {
		return nil, fmt.Errorf("%w: transfer buffer size %d > %d", ErrExceedsLimits, info.Size, limit)
	}

	tb := &TransferBuffer{usage: info.Usage, size: info.Size}
	a, err := newBufferAlloc(d, memory.KindTransferBuffer, transferUsageToHAL(info.Usage), info.Size, info.Name)
	if err != nil {
		return nil, wrapCreateErr("transfer buffer", err)
	}
	tb.h.init(d, a, info.Name)
	if err := d.track(tb); err != nil {
		a.destroy()
		return nil, err
	}
	Logger().Debug("gpucmd: transfer buffer created", "name", info.Name, "usage", info.Usage, "size", info.Size)
	return tb, nil
}

// Map returns a CPU view of the buffer, or nil when the buffer is invalid,
// already mapped, or cannot be mapped.
//
// If GPU work still uses the buffer, cycle=true maps a fresh allocation and
// leaves the old one to that work; cycle=false waits for the work to
// finish, bounded by the device fence timeout. Commands recorded but not yet
// submitted read the buffer when they execute, so writes made now are seen
// by them.
func (tb *TransferBuffer) Map(cycle bool) []byte {
	if tb == nil {
		return nil
	}
	a, ok := tb.h.load()
	if !ok {
		logMisuse("TransferBuffer.Map", "transfer buffer is invalid")
		return nil
	}
	d := a.device

	tb.mapMu.Lock()
	defer tb.mapMu.Unlock()
	if tb.mapped != nil {
		logMisuse("TransferBuffer.Map", "already mapped", "name", tb.h.label())
		return nil
	}

	completed := d.pollCompleted()
	switch {
	case cycle && a.busy(completed):
		fresh, err := newBufferAlloc(d, memory.KindTransferBuffer, transferUsageToHAL(tb.usage), tb.size, tb.h.label())
		if err != nil {
			Logger().Warn("gpucmd: transfer buffer cycle failed", "name", tb.h.label(), "err", err)
			return nil
		}
		old, ok := tb.h.swap(fresh)
		if !ok {
			fresh.destroy()
			return nil
		}
		d.retire(&old.allocation)
		a = fresh
	case a.lastUse.Load() > completed:
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.fenceTimeout)
		err := d.waitSubmission(ctx, a.lastUse.Load())
		cancel()
		if err != nil {
			Logger().Warn("gpucmd: transfer buffer still in use", "name", tb.h.label(), "err", err)
			return nil
		}
	}

	mapping, err := d.dev.MapBuffer(a.buf, 0, tb.size)
	if err != nil || mapping.Ptr == nil {
		Logger().Error("gpucmd: map transfer buffer", "name", tb.h.label(), "err", err)
		return nil
	}
	tb.mapped = a
	return unsafe.Slice((*byte)(mapping.Ptr), tb.size)
}

// Unmap ends the mapping started by Map. Slices returned by Map must not
// be used afterwards.
func (tb *TransferBuffer) Unmap() {
	if tb == nil {
		return
	}
	tb.mapMu.Lock()
	defer tb.mapMu.Unlock()
	if tb.mapped == nil {
		logMisuse("TransferBuffer.Unmap", "not mapped", "name", tb.h.label())
		return
	}
	tb.unmapLocked()
}

func (tb *TransferBuffer) unmapLocked() {
	a := tb.mapped
	tb.mapped = nil
	if err := a.device.dev.UnmapBuffer(a.buf); err != nil {
		Logger().Error("gpucmd: unmap transfer buffer", "name", tb.h.label(), "err", err)
	}
}

// IsMapped reports whether the buffer is currently mapped.
func (tb *TransferBuffer) IsMapped() bool {
	if tb == nil {
		return false
	}
	tb.mapMu.Lock()
	defer tb.mapMu.Unlock()
	return tb.mapped != nil
}

func (tb *TransferBuffer) current() (*bufferAlloc, bool) {
	if tb == nil {
		return nil, false
	}
	return tb.h.load()
}

// Size returns the buffer size in bytes.
func (tb *TransferBuffer) Size() uint64 {
	if !tb.IsValid() {
		return 0
	}
	return tb.size
}

// Usage returns the transfer direction.
func (tb *TransferBuffer) Usage() TransferBufferUsage {
	if tb == nil {
		return 0
	}
	return tb.usage
}

// IsValid reports whether the transfer buffer holds a live allocation.
func (tb *TransferBuffer) IsValid() bool {
	return tb != nil && tb.h.valid()
}

// SetName sets the debug name.
func (tb *TransferBuffer) SetName(name string) {
	if tb == nil || !tb.h.setName(name) {
		logMisuse("TransferBuffer.SetName", "transfer buffer is invalid")
	}
}

// Release unmaps and releases the transfer buffer. Release is idempotent.
func (tb *TransferBuffer) Release() {
	if tb == nil {
		return
	}
	a, ok := tb.h.take()
	if !ok {
		return
	}
	tb.mapMu.Lock()
	if tb.mapped != nil {
		tb.unmapLocked()
	}
	tb.mapMu.Unlock()
	a.device.untrack(tb)
	a.device.retire(&a.allocation)
}

func (tb *TransferBuffer) kindName() string { return "TransferBuffer" }
func (tb *TransferBuffer) label() string    { return tb.h.label() }

// halState returns the buffer usage a transfer buffer is in while copying.
func (tb *TransferBuffer) halState() gputypes.BufferUsage {
	if tb.usage == TransferBufferUsageDownload {
		return gputypes.BufferUsageCopyDst
	}
	return gputypes.BufferUsageCopySrc
}
