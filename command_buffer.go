package gpucmd

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucmd/internal/memory"
)

// CommandBufferState is the lifecycle state of a command buffer.
type CommandBufferState int

const (
	// CommandBufferRecording means commands can be recorded.
	CommandBufferRecording CommandBufferState = iota

	// CommandBufferSubmitted means the buffer was handed to the queue.
	CommandBufferSubmitted

	// CommandBufferCancelled means the recorded work was discarded.
	CommandBufferCancelled
)

// String returns the string representation of CommandBufferState.
func (s CommandBufferState) String() string {
	switch s {
	case CommandBufferRecording:
		return "Recording"
	case CommandBufferSubmitted:
		return "Submitted"
	case CommandBufferCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// uniformStage indexes the per-stage uniform slots of a command buffer.
type uniformStage int

const (
	uniformVertex uniformStage = iota
	uniformFragment
	uniformCompute
	uniformStageCount
)

// openPass is implemented by the pass kinds. abort closes a pass that is
// still open when its command buffer is cancelled.
type openPass interface {
	abort()
}

// CommandBuffer records work for one queue submission.
//
// State machine:
//
//	Recording -> Submit / SubmitAndAcquireFence -> Submitted
//	Recording -> Cancel                         -> Cancelled
//
// Inside Recording at most one pass is open. Submitted and Cancelled are
// terminal; every method on a terminal command buffer is a no-op or returns
// ErrCommandBufferInvalid.
//
// CommandBuffer is NOT safe for concurrent use. Each command buffer should be
// recorded from a single goroutine.
type CommandBuffer struct {
	mu sync.Mutex

	device  *Device
	state   CommandBufferState
	encoder hal.CommandEncoder
	open    openPass

	// used holds the allocations this buffer references; each one has its
	// pending count raised once until submission or cancellation.
	used       map[*allocation]struct{}
	transients []func()
	frames     []*swapchainFrame

	debugGroups []string
	firstMisuse error

	uniforms [uniformStageCount]*stageBindings
	arena    uniformArena
}

// AcquireCommandBuffer acquires a command buffer from d.
func AcquireCommandBuffer(d *Device) (*CommandBuffer, error) {
	if d == nil {
		return nil, ErrDeviceInvalid
	}
	return d.AcquireCommandBuffer()
}

// AcquireCommandBuffer returns a command buffer in the Recording state.
func (d *Device) AcquireCommandBuffer() (*CommandBuffer, error) {
	if !d.IsValid() {
		return nil, ErrDeviceInvalid
	}
	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpucmd.commands"})
	if err != nil {
		return nil, fmt.Errorf("gpucmd: acquire command buffer: %w", err)
	}
	if err := enc.BeginEncoding("gpucmd.commands"); err != nil {
		enc.Destroy()
		return nil, fmt.Errorf("gpucmd: acquire command buffer: %w", err)
	}

	cb := &CommandBuffer{
		device:  d,
		encoder: enc,
		used:    make(map[*allocation]struct{}),
	}
	for i := range cb.uniforms {
		cb.uniforms[i] = newStageBindings()
	}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		enc.DiscardEncoding()
		enc.Destroy()
		return nil, ErrDeviceInvalid
	}
	d.commandBuffers[cb] = struct{}{}
	d.mu.Unlock()
	return cb, nil
}

// State returns the lifecycle state.
func (cb *CommandBuffer) State() CommandBufferState {
	if cb == nil {
		return CommandBufferCancelled
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsValid reports whether the buffer is still recording.
func (cb *CommandBuffer) IsValid() bool {
	return cb.State() == CommandBufferRecording
}

// misuse logs a dropped recording call. In debug mode the first one is
// reported again by Submit.
func (cb *CommandBuffer) misuse(op, reason string, args ...any) {
	logMisuse(op, reason, args...)
	if cb != nil && cb.device != nil && cb.device.debug && cb.firstMisuse == nil {
		cb.firstMisuse = fmt.Errorf("%s: %s", op, reason)
	}
}

// recording reports whether commands can be recorded outside a pass.
func (cb *CommandBuffer) recording(op string) bool {
	if cb == nil {
		logMisuse(op, "command buffer is nil")
		return false
	}
	if cb.state != CommandBufferRecording {
		cb.misuse(op, "command buffer is "+cb.state.String())
		return false
	}
	if cb.open != nil {
		cb.misuse(op, "a pass is open")
		return false
	}
	return true
}

// use marks an allocation as referenced by this buffer.
func (cb *CommandBuffer) use(a *allocation) {
	if _, ok := cb.used[a]; ok {
		return
	}
	cb.used[a] = struct{}{}
	a.pending.Add(1)
}

// transient registers a destructor that runs once the buffer's work is done.
func (cb *CommandBuffer) transient(fn func()) {
	cb.transients = append(cb.transients, fn)
}

// useTexture resolves t for recording, cycling it first when asked.
func (cb *CommandBuffer) useTexture(op string, t *Texture, cycle bool) (*textureAlloc, bool) {
	if !t.IsValid() {
		cb.misuse(op, "texture is invalid")
		return nil, false
	}
	if t.h.owner() != cb.device {
		cb.misuse(op, "texture belongs to another device")
		return nil, false
	}
	if cycle {
		t.cycle()
	}
	a, ok := t.current()
	if !ok {
		cb.misuse(op, "texture is invalid")
		return nil, false
	}
	cb.use(&a.allocation)
	return a, true
}

// useBuffer resolves b for recording, cycling it first when asked.
func (cb *CommandBuffer) useBuffer(op string, b *Buffer, cycle bool) (*bufferAlloc, bool) {
	if !b.IsValid() {
		cb.misuse(op, "buffer is invalid")
		return nil, false
	}
	if b.h.owner() != cb.device {
		cb.misuse(op, "buffer belongs to another device")
		return nil, false
	}
	if cycle {
		b.cycle()
	}
	a, ok := b.current()
	if !ok {
		cb.misuse(op, "buffer is invalid")
		return nil, false
	}
	cb.use(&a.allocation)
	return a, true
}

// useTransferBuffer resolves a transfer buffer for recording.
func (cb *CommandBuffer) useTransferBuffer(op string, tb *TransferBuffer) (*bufferAlloc, bool) {
	if !tb.IsValid() {
		cb.misuse(op, "transfer buffer is invalid")
		return nil, false
	}
	if tb.h.owner() != cb.device {
		cb.misuse(op, "transfer buffer belongs to another device")
		return nil, false
	}
	a, ok := tb.current()
	if !ok {
		cb.misuse(op, "transfer buffer is invalid")
		return nil, false
	}
	cb.use(&a.allocation)
	return a, true
}

// Submit hands the recorded work to the queue. The command buffer becomes
// invalid whether or not submission succeeds, except when ErrPassOpen is
// returned: then the pass can be ended and Submit retried.
func (cb *CommandBuffer) Submit() error {
	_, err := cb.submit(false)
	return err
}

// SubmitAndAcquireFence submits like Submit and returns a fence that
// signals when the GPU has finished the work.
func (cb *CommandBuffer) SubmitAndAcquireFence() (*Fence, error) {
	return cb.submit(true)
}

func (cb *CommandBuffer) submit(withFence bool) (*Fence, error) {
	if cb == nil {
		return nil, ErrCommandBufferInvalid
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CommandBufferRecording {
		return nil, fmt.Errorf("%w: %v", ErrCommandBufferInvalid, cb.state)
	}
	if cb.open != nil {
		return nil, ErrPassOpen
	}
	if cb.firstMisuse != nil {
		err := cb.firstMisuse
		cb.cancelLocked()
		return nil, fmt.Errorf("%w: %w", ErrRecordingMisuse, err)
	}
	if len(cb.debugGroups) > 0 {
		Logger().Debug("gpucmd: debug groups left open at submit", "groups", cb.debugGroups)
	}

	d := cb.device
	cmd, err := cb.encoder.EndEncoding()
	if err != nil {
		cb.cancelLocked()
		return nil, fmt.Errorf("gpucmd: submit: end encoding: %w", err)
	}
	index, err := d.submit(cmd)
	if err != nil {
		d.dev.FreeCommandBuffer(cmd)
		cb.release(0, nil)
		cb.discardFrames()
		cb.finishLocked(CommandBufferCancelled)
		return nil, fmt.Errorf("gpucmd: submit: %w", err)
	}

	cb.release(index, cmd)
	cb.presentFrames(index)
	cb.finishLocked(CommandBufferSubmitted)
	d.collect()

	if !withFence {
		return nil, nil
	}
	f, err := d.newFence(index)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Cancel discards everything recorded and invalidates the buffer. An open
// pass is closed first. Cancel on a submitted or cancelled buffer is a no-op.
func (cb *CommandBuffer) Cancel() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cancelLocked()
}

func (cb *CommandBuffer) cancelLocked() {
	if cb.state != CommandBufferRecording {
		return
	}
	if cb.open != nil {
		cb.open.abort()
		cb.open = nil
	}
	cb.encoder.DiscardEncoding()
	cb.release(0, nil)
	cb.discardFrames()
	cb.finishLocked(CommandBufferCancelled)
	Logger().Debug("gpucmd: command buffer cancelled")
}

// release drops the buffer's references and retires its transient objects
// and encoder behind submission index.
func (cb *CommandBuffer) release(index uint64, cmd hal.CommandBuffer) {
	for a := range cb.used {
		if index > 0 {
			a.markUsed(index)
		}
		a.pending.Add(-1)
	}
	cb.used = nil

	d := cb.device
	enc := cb.encoder
	transients := cb.transients
	cb.transients = nil
	cb.arena = uniformArena{}

	done := &allocation{device: d}
	done.destroyFn = func() {
		for i := len(transients) - 1; i >= 0; i-- {
			transients[i]()
		}
		if cmd != nil {
			d.dev.FreeCommandBuffer(cmd)
		}
		enc.Destroy()
	}
	done.markUsed(index)
	d.retire(done)
}

func (cb *CommandBuffer) finishLocked(state CommandBufferState) {
	cb.state = state
	cb.encoder = nil
	d := cb.device
	d.mu.Lock()
	delete(d.commandBuffers, cb)
	d.mu.Unlock()
}

// PushDebugGroup opens a named debug group. hal exposes no debug markers, so
// groups and labels are reported through the logger at Debug.
func (cb *CommandBuffer) PushDebugGroup(name string) {
	if !cb.recording("CommandBuffer.PushDebugGroup") {
		return
	}
	cb.debugGroups = append(cb.debugGroups, name)
	Logger().Debug("gpucmd: debug group", "name", name, "depth", len(cb.debugGroups))
}

// PopDebugGroup closes the innermost debug group.
func (cb *CommandBuffer) PopDebugGroup() {
	if !cb.recording("CommandBuffer.PopDebugGroup") {
		return
	}
	if len(cb.debugGroups) == 0 {
		cb.misuse("CommandBuffer.PopDebugGroup", "no debug group is open")
		return
	}
	cb.debugGroups = cb.debugGroups[:len(cb.debugGroups)-1]
}

// InsertDebugLabel records a debug label.
func (cb *CommandBuffer) InsertDebugLabel(text string) {
	if !cb.recording("CommandBuffer.InsertDebugLabel") {
		return
	}
	Logger().Debug("gpucmd: debug label", "text", text, "groups", cb.debugGroups)
}

// PushVertexUniformData sets the contents of vertex uniform slot for
// subsequent draws. The data is copied.
func (cb *CommandBuffer) PushVertexUniformData(slot uint32, data []byte) {
	cb.pushUniform("CommandBuffer.PushVertexUniformData", uniformVertex, slot, data)
}

// PushFragmentUniformData sets the contents of fragment uniform slot for
// subsequent draws. The data is copied.
func (cb *CommandBuffer) PushFragmentUniformData(slot uint32, data []byte) {
	cb.pushUniform("CommandBuffer.PushFragmentUniformData", uniformFragment, slot, data)
}

// PushComputeUniformData sets the contents of compute uniform slot for
// subsequent dispatches. The data is copied.
func (cb *CommandBuffer) PushComputeUniformData(slot uint32, data []byte) {
	cb.pushUniform("CommandBuffer.PushComputeUniformData", uniformCompute, slot, data)
}

func (cb *CommandBuffer) pushUniform(op string, stage uniformStage, slot uint32, data []byte) {
	if cb == nil {
		logMisuse(op, "command buffer is nil")
		return
	}
	if cb.state != CommandBufferRecording {
		cb.misuse(op, "command buffer is "+cb.state.String())
		return
	}
	lim := cb.device.caps.Limits
	switch {
	case slot >= lim.MaxUniformBuffersPerShaderStage:
		cb.misuse(op, "uniform slot out of range", "slot", slot, "max", lim.MaxUniformBuffersPerShaderStage)
		return
	case len(data) == 0:
		cb.misuse(op, "empty uniform data", "slot", slot)
		return
	case uint64(len(data)) > lim.MaxUniformBufferBindingSize:
		cb.misuse(op, "uniform data too large", "slot", slot, "size", len(data))
		return
	}

	size := alignUp(uint64(len(data)), 4)
	buf, offset, err := cb.arena.alloc(cb, size)
	if err != nil {
		cb.misuse(op, "uniform arena allocation failed", "err", err)
		return
	}
	payload := data
	if size != uint64(len(data)) {
		payload = make([]byte, size)
		copy(payload, data)
	}
	if err := cb.device.writeBuffer(buf.buf, offset, payload); err != nil {
		cb.misuse(op, "uniform write failed", "err", err)
		return
	}
	cb.uniforms[stage].setBuffer(slot, boundBuffer{buf: buf.buf, offset: offset, size: size})
}

// uniformArena sub-allocates uniform data for one command buffer. Blocks
// are destroyed with the buffer's other transient objects, so offsets are
// never reused while recorded draws may still read them.
type uniformArena struct {
	block  *bufferAlloc
	size   uint64
	offset uint64
}

func (u *uniformArena) alloc(cb *CommandBuffer, size uint64) (*bufferAlloc, uint64, error) {
	d := cb.device
	align := uint64(d.caps.Limits.MinUniformBufferOffsetAlignment)
	if align == 0 {
		align = 256
	}
	offset := alignUp(u.offset, align)
	if u.block == nil || offset+size > u.size {
		blockSize := max(d.opts.uniformArenaSize, alignUp(size, align))
		block, err := newBufferAlloc(d, memory.KindBuffer,
			gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst, blockSize, "gpucmd.uniforms")
		if err != nil {
			return nil, 0, err
		}
		cb.transient(block.destroy)
		u.block, u.size, offset = block, blockSize, 0
	}
	u.offset = offset + size
	return u.block, offset, nil
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}
