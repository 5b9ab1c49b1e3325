package passrec

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// logEncoder records the calls it receives. Methods not used by playback
// fall through to the nil embedded interface.
type logEncoder struct {
	hal.RenderPassEncoder
	calls []string
}

func (e *logEncoder) log(format string, args ...any) {
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
}

func (e *logEncoder) SetPipeline(hal.RenderPipeline)                { e.log("SetPipeline") }
func (e *logEncoder) SetBindGroup(i uint32, _ hal.BindGroup, _ []uint32) { e.log("SetBindGroup %d", i) }
func (e *logEncoder) SetVertexBuffer(s uint32, _ hal.Buffer, off uint64) {
	e.log("SetVertexBuffer %d %d", s, off)
}
func (e *logEncoder) SetIndexBuffer(_ hal.Buffer, f gputypes.IndexFormat, off uint64) {
	e.log("SetIndexBuffer %v %d", f, off)
}
func (e *logEncoder) SetViewport(x, y, w, h, _, _ float32) { e.log("SetViewport %v %v %v %v", x, y, w, h) }
func (e *logEncoder) SetScissorRect(x, y, w, h uint32)     { e.log("SetScissorRect %d %d %d %d", x, y, w, h) }
func (e *logEncoder) SetBlendConstant(c *gputypes.Color)   { e.log("SetBlendConstant %v", c.R) }
func (e *logEncoder) SetStencilReference(r uint32)         { e.log("SetStencilReference %d", r) }
func (e *logEncoder) Draw(v, i, fv, fi uint32)             { e.log("Draw %d %d %d %d", v, i, fv, fi) }
func (e *logEncoder) DrawIndexed(ic, inst, fi uint32, bv int32, finst uint32) {
	e.log("DrawIndexed %d %d %d %d %d", ic, inst, fi, bv, finst)
}
func (e *logEncoder) DrawIndirect(_ hal.Buffer, off uint64)        { e.log("DrawIndirect %d", off) }
func (e *logEncoder) DrawIndexedIndirect(_ hal.Buffer, off uint64) { e.log("DrawIndexedIndirect %d", off) }

type logComputeEncoder struct {
	hal.ComputePassEncoder
	calls []string
}

func (e *logComputeEncoder) SetPipeline(hal.ComputePipeline) {
	e.calls = append(e.calls, "SetPipeline")
}
func (e *logComputeEncoder) SetBindGroup(i uint32, _ hal.BindGroup, _ []uint32) {
	e.calls = append(e.calls, fmt.Sprintf("SetBindGroup %d", i))
}
func (e *logComputeEncoder) Dispatch(x, y, z uint32) {
	e.calls = append(e.calls, fmt.Sprintf("Dispatch %d %d %d", x, y, z))
}
func (e *logComputeEncoder) DispatchIndirect(_ hal.Buffer, off uint64) {
	e.calls = append(e.calls, fmt.Sprintf("DispatchIndirect %d", off))
}

func TestCommandType_String(t *testing.T) {
	tests := []struct {
		ct   CommandType
		want string
	}{
		{CmdSetPipeline, "SetPipeline"},
		{CmdSetBindGroup, "SetBindGroup"},
		{CmdSetVertexBuffer, "SetVertexBuffer"},
		{CmdSetIndexBuffer, "SetIndexBuffer"},
		{CmdSetViewport, "SetViewport"},
		{CmdSetScissor, "SetScissor"},
		{CmdSetBlendConstant, "SetBlendConstant"},
		{CmdSetStencilReference, "SetStencilReference"},
		{CmdDraw, "Draw"},
		{CmdDrawIndexed, "DrawIndexed"},
		{CmdDrawIndirect, "DrawIndirect"},
		{CmdDrawIndexedIndirect, "DrawIndexedIndirect"},
		{CmdDispatch, "Dispatch"},
		{CmdDispatchIndirect, "DispatchIndirect"},
		{CommandType(254), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.ct.String(); got != tt.want {
				t.Errorf("CommandType.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderPlaybackOrder(t *testing.T) {
	var r RenderRecording
	r.Record(SetRenderPipeline{})
	r.Record(SetViewport{X: 1, Y: 2, Width: 30, Height: 40, MaxDepth: 1})
	r.Record(SetScissor{X: 0, Y: 0, Width: 8, Height: 8})
	r.Record(SetBindGroup{Index: 2})
	r.Record(SetVertexBuffer{Slot: 1, Offset: 64})
	r.Record(SetIndexBuffer{Format: gputypes.IndexFormatUint32, Offset: 16})
	r.Record(SetBlendConstant{Color: gputypes.Color{R: 0.5}})
	r.Record(SetStencilReference{Reference: 7})
	r.Record(Draw{VertexCount: 3, InstanceCount: 1})
	r.Record(DrawIndexed{IndexCount: 6, InstanceCount: 2, FirstIndex: 1, BaseVertex: -1})
	r.Record(DrawIndirect{Offset: 32})
	r.Record(DrawIndirect{Offset: 48, Indexed: true})

	enc := &logEncoder{}
	r.Playback(enc)

	want := []string{
		"SetPipeline",
		"SetViewport 1 2 30 40",
		"SetScissorRect 0 0 8 8",
		"SetBindGroup 2",
		"SetVertexBuffer 1 64",
		fmt.Sprintf("SetIndexBuffer %v 16", gputypes.IndexFormatUint32),
		"SetBlendConstant 0.5",
		"SetStencilReference 7",
		"Draw 3 1 0 0",
		"DrawIndexed 6 2 1 -1 0",
		"DrawIndirect 32",
		"DrawIndexedIndirect 48",
	}
	if !reflect.DeepEqual(enc.calls, want) {
		t.Errorf("playback calls:\n got %q\nwant %q", enc.calls, want)
	}
}

func TestRenderRecordingCount(t *testing.T) {
	var r RenderRecording
	r.Record(Draw{VertexCount: 3})
	r.Record(SetBindGroup{})
	r.Record(Draw{VertexCount: 6})
	r.Record(DrawIndirect{Indexed: true})

	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
	if got := r.Count(CmdDraw); got != 2 {
		t.Errorf("Count(Draw) = %d, want 2", got)
	}
	if got := r.Count(CmdDrawIndexedIndirect); got != 1 {
		t.Errorf("Count(DrawIndexedIndirect) = %d, want 1", got)
	}
	if got := r.Count(CmdDrawIndirect); got != 0 {
		t.Errorf("Count(DrawIndirect) = %d, want 0", got)
	}

	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", r.Len())
	}
	enc := &logEncoder{}
	r.Playback(enc)
	if len(enc.calls) != 0 {
		t.Errorf("empty recording played %d calls", len(enc.calls))
	}
}

func TestComputePlayback(t *testing.T) {
	var r ComputeRecording
	r.Record(SetComputePipeline{})
	r.Record(SetBindGroup{Index: 1})
	r.Record(Dispatch{X: 4, Y: 2, Z: 1})
	r.Record(DispatchIndirect{Offset: 12})

	enc := &logComputeEncoder{}
	r.Playback(enc)

	want := []string{"SetPipeline", "SetBindGroup 1", "Dispatch 4 2 1", "DispatchIndirect 12"}
	if !reflect.DeepEqual(enc.calls, want) {
		t.Errorf("playback calls = %q, want %q", enc.calls, want)
	}
	if got := r.Count(CmdDispatch); got != 1 {
		t.Errorf("Count(Dispatch) = %d, want 1", got)
	}
}
