// Package passrec records render and compute pass commands for later
// playback onto a hal pass encoder.
//
// Passes are recorded before they are encoded so that every resource the
// pass touches is known when the pass begins. The command buffer emits the
// resource barriers, begins the native pass and plays the recording back.
//
// Commands are typed structs, which keeps a recording inspectable in tests
// and in debug logs.
package passrec

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// CommandType identifies the type of a command.
type CommandType uint8

const (
	CmdSetPipeline CommandType = iota
	CmdSetBindGroup
	CmdSetVertexBuffer
	CmdSetIndexBuffer
	CmdSetViewport
	CmdSetScissor
	CmdSetBlendConstant
	CmdSetStencilReference
	CmdDraw
	CmdDrawIndexed
	CmdDrawIndirect
	CmdDrawIndexedIndirect
	CmdDispatch
	CmdDispatchIndirect
)

var commandTypeNames = [...]string{
	CmdSetPipeline:         "SetPipeline",
	CmdSetBindGroup:        "SetBindGroup",
	CmdSetVertexBuffer:     "SetVertexBuffer",
	CmdSetIndexBuffer:      "SetIndexBuffer",
	CmdSetViewport:         "SetViewport",
	CmdSetScissor:          "SetScissor",
	CmdSetBlendConstant:    "SetBlendConstant",
	CmdSetStencilReference: "SetStencilReference",
	CmdDraw:                "Draw",
	CmdDrawIndexed:         "DrawIndexed",
	CmdDrawIndirect:        "DrawIndirect",
	CmdDrawIndexedIndirect: "DrawIndexedIndirect",
	CmdDispatch:            "Dispatch",
	CmdDispatchIndirect:    "DispatchIndirect",
}

// String returns the string representation of a CommandType.
func (c CommandType) String() string {
	if int(c) < len(commandTypeNames) {
		return commandTypeNames[c]
	}
	return "Unknown"
}

// RenderCommand is a command that can be played onto a render pass.
type RenderCommand interface {
	Type() CommandType
	playRender(enc hal.RenderPassEncoder)
}

// ComputeCommand is a command that can be played onto a compute pass.
type ComputeCommand interface {
	Type() CommandType
	playCompute(enc hal.ComputePassEncoder)
}

// SetRenderPipeline binds a render pipeline.
type SetRenderPipeline struct {
	Pipeline hal.RenderPipeline
}

// SetComputePipeline binds a compute pipeline.
type SetComputePipeline struct {
	Pipeline hal.ComputePipeline
}

// SetBindGroup binds a bind group at an index. It plays onto both pass kinds.
type SetBindGroup struct {
	Index uint32
	Group hal.BindGroup
}

// SetVertexBuffer binds a vertex buffer to a slot.
type SetVertexBuffer struct {
	Slot   uint32
	Buffer hal.Buffer
	Offset uint64
}

// SetIndexBuffer binds the index buffer.
type SetIndexBuffer struct {
	Buffer hal.Buffer
	Format gputypes.IndexFormat
	Offset uint64
}

// SetViewport sets the viewport.
type SetViewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// SetScissor sets the scissor rectangle.
type SetScissor struct {
	X, Y, Width, Height uint32
}

// SetBlendConstant sets the blend constant color.
type SetBlendConstant struct {
	Color gputypes.Color
}

// SetStencilReference sets the stencil reference value.
type SetStencilReference struct {
	Reference uint32
}

// Draw draws non-indexed primitives.
type Draw struct {
	VertexCount, InstanceCount, FirstVertex, FirstInstance uint32
}

// DrawIndexed draws indexed primitives.
type DrawIndexed struct {
	IndexCount, InstanceCount, FirstIndex uint32
	BaseVertex                            int32
	FirstInstance                         uint32
}

// DrawIndirect draws with arguments read from a buffer.
type DrawIndirect struct {
	Buffer  hal.Buffer
	Offset  uint64
	Indexed bool
}

// Dispatch dispatches compute workgroups.
type Dispatch struct {
	X, Y, Z uint32
}

// DispatchIndirect dispatches with arguments read from a buffer.
type DispatchIndirect struct {
	Buffer hal.Buffer
	Offset uint64
}

func (SetRenderPipeline) Type() CommandType   { return CmdSetPipeline }
func (SetComputePipeline) Type() CommandType  { return CmdSetPipeline }
func (SetBindGroup) Type() CommandType        { return CmdSetBindGroup }
func (SetVertexBuffer) Type() CommandType     { return CmdSetVertexBuffer }
func (SetIndexBuffer) Type() CommandType      { return CmdSetIndexBuffer }
func (SetViewport) Type() CommandType         { return CmdSetViewport }
func (SetScissor) Type() CommandType          { return CmdSetScissor }
func (SetBlendConstant) Type() CommandType    { return CmdSetBlendConstant }
func (SetStencilReference) Type() CommandType { return CmdSetStencilReference }
func (Draw) Type() CommandType                { return CmdDraw }
func (DrawIndexed) Type() CommandType         { return CmdDrawIndexed }
func (Dispatch) Type() CommandType            { return CmdDispatch }
func (DispatchIndirect) Type() CommandType    { return CmdDispatchIndirect }

// Type returns CmdDrawIndexedIndirect for indexed draws and CmdDrawIndirect
// otherwise.
func (c DrawIndirect) Type() CommandType {
	if c.Indexed {
		return CmdDrawIndexedIndirect
	}
	return CmdDrawIndirect
}

func (c SetRenderPipeline) playRender(enc hal.RenderPassEncoder) { enc.SetPipeline(c.Pipeline) }
func (c SetBindGroup) playRender(enc hal.RenderPassEncoder)      { enc.SetBindGroup(c.Index, c.Group, nil) }
func (c SetVertexBuffer) playRender(enc hal.RenderPassEncoder) {
	enc.SetVertexBuffer(c.Slot, c.Buffer, c.Offset)
}
func (c SetIndexBuffer) playRender(enc hal.RenderPassEncoder) {
	enc.SetIndexBuffer(c.Buffer, c.Format, c.Offset)
}
func (c SetViewport) playRender(enc hal.RenderPassEncoder) {
	enc.SetViewport(c.X, c.Y, c.Width, c.Height, c.MinDepth, c.MaxDepth)
}
func (c SetScissor) playRender(enc hal.RenderPassEncoder) {
	enc.SetScissorRect(c.X, c.Y, c.Width, c.Height)
}
func (c SetBlendConstant) playRender(enc hal.RenderPassEncoder) {
	color := c.Color
	enc.SetBlendConstant(&color)
}
func (c SetStencilReference) playRender(enc hal.RenderPassEncoder) {
	enc.SetStencilReference(c.Reference)
}
func (c Draw) playRender(enc hal.RenderPassEncoder) {
	enc.Draw(c.VertexCount, c.InstanceCount, c.FirstVertex, c.FirstInstance)
}
func (c DrawIndexed) playRender(enc hal.RenderPassEncoder) {
	enc.DrawIndexed(c.IndexCount, c.InstanceCount, c.FirstIndex, c.BaseVertex, c.FirstInstance)
}
func (c DrawIndirect) playRender(enc hal.RenderPassEncoder) {
	if c.Indexed {
		enc.DrawIndexedIndirect(c.Buffer, c.Offset)
		return
	}
	enc.DrawIndirect(c.Buffer, c.Offset)
}

func (c SetComputePipeline) playCompute(enc hal.ComputePassEncoder) { enc.SetPipeline(c.Pipeline) }
func (c SetBindGroup) playCompute(enc hal.ComputePassEncoder) {
	enc.SetBindGroup(c.Index, c.Group, nil)
}
func (c Dispatch) playCompute(enc hal.ComputePassEncoder) { enc.Dispatch(c.X, c.Y, c.Z) }
func (c DispatchIndirect) playCompute(enc hal.ComputePassEncoder) {
	enc.DispatchIndirect(c.Buffer, c.Offset)
}
