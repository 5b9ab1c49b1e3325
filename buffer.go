package gpucmd

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/memory"
)

// bufferAlloc is one native buffer.
type bufferAlloc struct {
	allocation
	buf hal.Buffer
	// state is the gputypes.BufferUsage the buffer was last used as.
	state atomic.Uint64
}

func newBufferAlloc(d *Device, kind memory.Kind, usage gputypes.BufferUsage, size uint64, label string) (*bufferAlloc, error) {
	a := &bufferAlloc{}
	if err := a.reserve(d, kind, size); err != nil {
		return nil, err
	}
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		d.mem.Release(kind, size)
		return nil, err
	}
	a.buf = buf
	a.destroyFn = func() { d.dev.DestroyBuffer(buf) }
	return a, nil
}

// transition records a buffer barrier when the buffer changes usage.
func (a *bufferAlloc) transition(enc hal.CommandEncoder, to gputypes.BufferUsage) {
	from := gputypes.BufferUsage(a.state.Swap(uint64(to)))
	if from == to || from == gputypes.BufferUsageNone {
		return
	}
	enc.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: a.buf,
		Usage:  hal.BufferUsageTransition{OldUsage: from, NewUsage: to},
	}})
}

// Buffer is GPU memory for vertices, indices, indirect arguments or storage.
//
// A zero Buffer is invalid; every method on it is a no-op.
type Buffer struct {
	h        handle[*bufferAlloc]
	usage    BufferUsage
	size     uint64
	halUsage gputypes.BufferUsage
}

// CreateBuffer creates a buffer. The contents are undefined until written
// through a copy pass.
func (d *Device) CreateBuffer(info *BufferCreateInfo) (*Buffer, error) {
	if !d.IsValid() {
		return nil, ErrDeviceInvalid
	}
	if info == nil {
		return nil, fmt.Errorf("%w: nil BufferCreateInfo", ErrInvalidDescriptor)
	}
	if info.Size == 0 || info.Size%4 != 0 {
		return nil, fmt.Errorf("%w: buffer size %d must be a non-zero multiple of 4", ErrInvalidDescriptor, info.Size)
	}
	if limit := d.caps.Limits.MaxBufferSize; limit > 0 && info.Size > limit {
		return nil, fmt.Errorf("%w: buffer size %d > %d", ErrExceedsLimits, info.Size, limit)
	}
	if info.Usage&^(BufferUsageVertex|BufferUsageIndex|BufferUsageIndirect|
		BufferUsageGraphicsStorageRead|BufferUsageComputeStorageRead|BufferUsageComputeStorageWrite) != 0 {
		return nil, fmt.Errorf("%w: unknown buffer usage bits %#x", ErrInvalidDescriptor, uint32(info.Usage))
	}

	b := &Buffer{usage: info.Usage, size: info.Size, halUsage: bufferUsageToHAL(info.Usage)}
	a, err := newBufferAlloc(d, memory.KindBuffer, b.halUsage, info.Size, info.Name)
	if err != nil {
		return nil, wrapCreateErr("buffer", err)
	}
	b.h.init(d, a, info.Name)
	if err := d.track(b); err != nil {
		a.destroy()
		return nil, err
	}
	Logger().Debug("gpucmd: buffer created", "name", info.Name, "size", info.Size)
	return b, nil
}

// cycle replaces the allocation when GPU work still references it.
func (b *Buffer) cycle() {
	a, ok := b.h.load()
	if !ok {
		return
	}
	d := a.device
	if !a.busy(d.pollCompleted()) {
		return
	}
	fresh, err := newBufferAlloc(d, memory.KindBuffer, b.halUsage, b.size, b.h.label())
	if err != nil {
		Logger().Warn("gpucmd: buffer cycle failed, reusing allocation", "name", b.h.label(), "err", err)
		return
	}
	old, ok := b.h.swap(fresh)
	if !ok {
		fresh.destroy()
		return
	}
	d.retire(&old.allocation)
}

func (b *Buffer) current() (*bufferAlloc, bool) {
	if b == nil {
		return nil, false
	}
	return b.h.load()
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 {
	if !b.IsValid() {
		return 0
	}
	return b.size
}

// Usage returns the usage the buffer was created with.
func (b *Buffer) Usage() BufferUsage {
	if b == nil {
		return 0
	}
	return b.usage
}

// IsValid reports whether the buffer holds a live allocation.
func (b *Buffer) IsValid() bool {
	return b != nil && b.h.valid()
}

// SetName sets the debug name. Names are only reported in logs.
func (b *Buffer) SetName(name string) {
	if b == nil || !b.h.setName(name) {
		logMisuse("Buffer.SetName", "buffer is invalid")
	}
}

// Release releases the buffer. GPU work that still uses it completes
// normally. Release is idempotent.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	a, ok := b.h.take()
	if !ok {
		return
	}
	a.device.untrack(b)
	a.device.retire(&a.allocation)
}

func (b *Buffer) kindName() string { return "Buffer" }
func (b *Buffer) label() string    { return b.h.label() }
