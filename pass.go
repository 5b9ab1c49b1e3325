package gpucmd

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// PassState is the lifecycle state of a render, compute or copy pass.
type PassState int

const (
	// PassStateInvalid means the pass was never opened; every call is a no-op.
	PassStateInvalid PassState = iota

	// PassStateRecording means the pass accepts commands.
	PassStateRecording

	// PassStateEnded means End was called.
	PassStateEnded
)

// String returns the string representation of PassState.
func (s PassState) String() string {
	switch s {
	case PassStateInvalid:
		return "Invalid"
	case PassStateRecording:
		return "Recording"
	case PassStateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Rect is a rectangle in pixels.
type Rect struct {
	X, Y, W, H uint32
}

// passBase is the state shared by every pass kind.
type passBase struct {
	cb    *CommandBuffer
	state PassState
	kind  string
}

// active reports whether the pass accepts commands and logs misuse otherwise.
func (p *passBase) active(op string) bool {
	if p == nil || p.cb == nil {
		logMisuse(op, "pass is invalid")
		return false
	}
	if p.state != PassStateRecording {
		p.cb.misuse(op, p.kind+" is "+p.state.String())
		return false
	}
	if p.cb.state != CommandBufferRecording {
		p.cb.misuse(op, "command buffer is "+p.cb.state.String())
		return false
	}
	return true
}

// State returns the lifecycle state of the pass.
func (p *passBase) State() PassState {
	if p == nil {
		return PassStateInvalid
	}
	return p.state
}

// IsValid reports whether the pass accepts commands.
func (p *passBase) IsValid() bool {
	return p != nil && p.cb != nil && p.state == PassStateRecording
}

// beginPass checks that cb can open a pass.
func (cb *CommandBuffer) beginPass(op string) bool {
	if cb == nil {
		logMisuse(op, "command buffer is nil")
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CommandBufferRecording {
		cb.misuse(op, "command buffer is "+cb.state.String())
		return false
	}
	if cb.open != nil {
		cb.misuse(op, "another pass is open")
		return false
	}
	return true
}

// passUsage collects the state every resource must be in when a pass
// begins. Barriers cannot be recorded inside a native render pass, so they
// are all emitted before it.
type passUsage struct {
	textures map[*textureAlloc]gputypes.TextureUsage
	buffers  map[*bufferAlloc]gputypes.BufferUsage
	order    []any
	// written holds the resources bound read-write for the whole pass.
	written map[*allocation]struct{}
}

func (u *passUsage) markWritten(a *allocation) {
	if u.written == nil {
		u.written = make(map[*allocation]struct{})
	}
	u.written[a] = struct{}{}
}

func (u *passUsage) isWritten(a *allocation) bool {
	_, ok := u.written[a]
	return ok
}

// texture requests usage for a. A texture can be in one state per pass;
// a conflicting request is refused.
func (u *passUsage) texture(a *textureAlloc, usage gputypes.TextureUsage) bool {
	if u.textures == nil {
		u.textures = make(map[*textureAlloc]gputypes.TextureUsage)
	}
	prev, ok := u.textures[a]
	if ok {
		return prev == usage
	}
	u.textures[a] = usage
	u.order = append(u.order, a)
	return true
}

// buffer requests usage for a. Read usages combine.
func (u *passUsage) buffer(a *bufferAlloc, usage gputypes.BufferUsage) {
	if u.buffers == nil {
		u.buffers = make(map[*bufferAlloc]gputypes.BufferUsage)
	}
	prev, ok := u.buffers[a]
	if !ok {
		u.order = append(u.order, a)
	}
	u.buffers[a] = prev | usage
}

// apply records the barriers in request order.
func (u *passUsage) apply(enc hal.CommandEncoder) {
	for _, r := range u.order {
		switch a := r.(type) {
		case *textureAlloc:
			a.transition(enc, u.textures[a])
		case *bufferAlloc:
			a.transition(enc, u.buffers[a])
		}
	}
}

// bindSamplers validates texture-sampler pairs and stores them in dst.
func (cb *CommandBuffer) bindSamplers(op string, dst *stageBindings, usage *passUsage, first uint32, bindings []TextureSamplerBinding) {
	limit := cb.device.caps.Limits.MaxSamplersPerShaderStage
	for i, b := range bindings {
		slot := first + uint32(i)
		if slot >= limit {
			cb.misuse(op, "sampler slot out of range", "slot", slot, "max", limit)
			return
		}
		if b.Texture.IsValid() && b.Texture.info.Usage&TextureUsageSampler == 0 {
			cb.misuse(op, "texture lacks sampler usage", "slot", slot, "texture", b.Texture.h.label())
			continue
		}
		if !b.Sampler.IsValid() || b.Sampler.h.owner() != cb.device {
			cb.misuse(op, "sampler is invalid", "slot", slot)
			continue
		}
		ta, ok := cb.useTexture(op, b.Texture, false)
		if !ok {
			continue
		}
		if usage.isWritten(&ta.allocation) {
			cb.misuse(op, "texture is bound read-write in this pass", "slot", slot, "texture", b.Texture.h.label())
			continue
		}
		sa, ok := b.Sampler.current()
		if !ok {
			cb.misuse(op, "sampler is invalid", "slot", slot)
			continue
		}
		if !usage.texture(ta, gputypes.TextureUsageTextureBinding) {
			cb.misuse(op, "texture is used another way in this pass", "slot", slot, "texture", b.Texture.h.label())
			continue
		}
		view, err := b.Texture.sampledView(ta)
		if err != nil {
			cb.misuse(op, "texture view creation failed", "slot", slot, "err", err)
			continue
		}
		cb.use(&sa.allocation)
		dst.setSampler(slot, view, sa.sampler)
	}
}

// bindStorageTextures binds read-only storage textures.
func (cb *CommandBuffer) bindStorageTextures(op string, dst *stageBindings, usage *passUsage, first uint32,
	textures []*Texture, need TextureUsage) {
	limit := cb.device.caps.Limits.MaxStorageTexturesPerShaderStage
	for i, t := range textures {
		slot := first + uint32(i)
		if slot >= limit {
			cb.misuse(op, "storage texture slot out of range", "slot", slot, "max", limit)
			return
		}
		if t.IsValid() && t.info.Usage&need == 0 {
			cb.misuse(op, "texture lacks storage read usage", "slot", slot, "texture", t.h.label())
			continue
		}
		a, ok := cb.useTexture(op, t, false)
		if !ok {
			continue
		}
		if usage.isWritten(&a.allocation) {
			cb.misuse(op, "texture is bound read-write in this pass", "slot", slot, "texture", t.h.label())
			continue
		}
		if !usage.texture(a, gputypes.TextureUsageStorageBinding) {
			cb.misuse(op, "texture is used another way in this pass", "slot", slot, "texture", t.h.label())
			continue
		}
		view, err := t.storageView(a)
		if err != nil {
			cb.misuse(op, "texture view creation failed", "slot", slot, "err", err)
			continue
		}
		dst.setStorageTexture(slot, view)
	}
}

// bindStorageBuffers binds read-only storage buffers.
func (cb *CommandBuffer) bindStorageBuffers(op string, dst *stageBindings, usage *passUsage, first uint32,
	buffers []*Buffer, need BufferUsage) {
	limit := cb.device.caps.Limits.MaxStorageBuffersPerShaderStage
	for i, b := range buffers {
		slot := first + uint32(i)
		if slot >= limit {
			cb.misuse(op, "storage buffer slot out of range", "slot", slot, "max", limit)
			return
		}
		if b.IsValid() && b.usage&need == 0 {
			cb.misuse(op, "buffer lacks storage read usage", "slot", slot, "buffer", b.h.label())
			continue
		}
		a, ok := cb.useBuffer(op, b, false)
		if !ok {
			continue
		}
		if usage.isWritten(&a.allocation) {
			cb.misuse(op, "buffer is bound read-write in this pass", "slot", slot, "buffer", b.h.label())
			continue
		}
		usage.buffer(a, gputypes.BufferUsageStorage)
		dst.setBuffer(slot, boundBuffer{buf: a.buf, size: b.size})
	}
}
