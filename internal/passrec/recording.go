package passrec

import "github.com/gogpu/wgpu/hal"

// RenderRecording is an ordered list of render pass commands.
type RenderRecording struct {
	cmds []RenderCommand
}

// Record appends a command.
func (r *RenderRecording) Record(c RenderCommand) {
	r.cmds = append(r.cmds, c)
}

// Commands returns the recorded commands. The slice must not be modified.
func (r *RenderRecording) Commands() []RenderCommand {
	return r.cmds
}

// Len returns the number of recorded commands.
func (r *RenderRecording) Len() int {
	return len(r.cmds)
}

// Count returns how many commands of type t were recorded.
func (r *RenderRecording) Count(t CommandType) int {
	n := 0
	for _, c := range r.cmds {
		if c.Type() == t {
			n++
		}
	}
	return n
}

// Playback replays every command onto enc in recording order. It does not
// end the pass.
func (r *RenderRecording) Playback(enc hal.RenderPassEncoder) {
	for _, c := range r.cmds {
		c.playRender(enc)
	}
}

// Reset drops all recorded commands.
func (r *RenderRecording) Reset() {
	clear(r.cmds)
	r.cmds = r.cmds[:0]
}

// ComputeRecording is an ordered list of compute pass commands.
type ComputeRecording struct {
	cmds []ComputeCommand
}

// Record appends a command.
func (r *ComputeRecording) Record(c ComputeCommand) {
	r.cmds = append(r.cmds, c)
}

// Commands returns the recorded commands. The slice must not be modified.
func (r *ComputeRecording) Commands() []ComputeCommand {
	return r.cmds
}

// Len returns the number of recorded commands.
func (r *ComputeRecording) Len() int {
	return len(r.cmds)
}

// Count returns how many commands of type t were recorded.
func (r *ComputeRecording) Count(t CommandType) int {
	n := 0
	for _, c := range r.cmds {
		if c.Type() == t {
			n++
		}
	}
	return n
}

// Playback replays every command onto enc in recording order.
func (r *ComputeRecording) Playback(enc hal.ComputePassEncoder) {
	for _, c := range r.cmds {
		c.playCompute(enc)
	}
}

// Reset drops all recorded commands.
func (r *ComputeRecording) Reset() {
	clear(r.cmds)
	r.cmds = r.cmds[:0]
}
