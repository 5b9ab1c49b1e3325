package gpucmd

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

const triangleWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    let x = f32(idx & 1u) * 2.0 - 1.0;
    let y = f32(idx >> 1u) * 2.0 - 1.0;
    return vec4<f32>(x, y, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

const texturedWGSL = `
@group(2) @binding(0) var tex: texture_2d<f32>;
@group(2) @binding(1) var samp: sampler;
@group(3) @binding(0) var<uniform> tint: vec4<f32>;

struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> VertexOutput {
    var out: VertexOutput;
    let x = f32(idx & 1u);
    let y = f32(idx >> 1u);
    out.position = vec4<f32>(x * 2.0 - 1.0, y * 2.0 - 1.0, 0.0, 1.0);
    out.uv = vec2<f32>(x, y);
    return out;
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(tex, samp, in.uv) * tint;
}
`

const doubleWGSL = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(1) @binding(0) var<storage, read_write> output: array<f32>;

@compute @workgroup_size(64, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    output[id.x] = input[id.x] * 2.0;
}
`

func createShader(t *testing.T, d *Device, src string, stage ShaderStage, entry string, samplers, uniforms uint32) *Shader {
	t.Helper()
	s, err := d.CreateShader(&ShaderCreateInfo{
		Code:              []byte(src),
		EntryPoint:        entry,
		Format:            ShaderFormatWGSL,
		Stage:             stage,
		NumSamplers:       samplers,
		NumUniformBuffers: uniforms,
	})
	if err != nil {
		t.Fatalf("CreateShader(%s): %v", entry, err)
	}
	t.Cleanup(s.Release)
	return s
}

// createTrianglePipeline returns a pipeline drawing into one color target
// of format f without any bindings.
func createTrianglePipeline(t *testing.T, d *Device, f gputypes.TextureFormat) *GraphicsPipeline {
	t.Helper()
	p, err := d.CreateGraphicsPipeline(&GraphicsPipelineCreateInfo{
		VertexShader:   createShader(t, d, triangleWGSL, ShaderStageVertex, "vs_main", 0, 0),
		FragmentShader: createShader(t, d, triangleWGSL, ShaderStageFragment, "fs_main", 0, 0),
		TargetInfo: GraphicsPipelineTargetInfo{
			ColorTargetDescriptions: []ColorTargetDescription{{Format: f}},
		},
		Name: "triangle",
	})
	if err != nil {
		t.Fatalf("CreateGraphicsPipeline: %v", err)
	}
	t.Cleanup(p.Release)
	return p
}

// createTexturedPipeline returns a pipeline with one fragment sampler and
// one fragment uniform buffer.
func createTexturedPipeline(t *testing.T, d *Device) *GraphicsPipeline {
	t.Helper()
	p, err := d.CreateGraphicsPipeline(&GraphicsPipelineCreateInfo{
		VertexShader:   createShader(t, d, texturedWGSL, ShaderStageVertex, "vs_main", 0, 0),
		FragmentShader: createShader(t, d, texturedWGSL, ShaderStageFragment, "fs_main", 1, 1),
		TargetInfo: GraphicsPipelineTargetInfo{
			ColorTargetDescriptions: []ColorTargetDescription{{Format: gputypes.TextureFormatRGBA8Unorm}},
		},
		Name: "textured",
	})
	if err != nil {
		t.Fatalf("CreateGraphicsPipeline: %v", err)
	}
	t.Cleanup(p.Release)
	return p
}

func createDoublePipeline(t *testing.T, d *Device) *ComputePipeline {
	t.Helper()
	p, err := d.CreateComputePipeline(&ComputePipelineCreateInfo{
		Code:                       []byte(doubleWGSL),
		EntryPoint:                 "main",
		Format:                     ShaderFormatWGSL,
		NumReadonlyStorageBuffers:  1,
		NumReadWriteStorageBuffers: 1,
		ThreadCountX:               64,
		ThreadCountY:               1,
		ThreadCountZ:               1,
		Name:                       "double",
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}
	t.Cleanup(p.Release)
	return p
}

func TestCreateShaderValidation(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name    string
		info    ShaderCreateInfo
		wantErr error
	}{
		{"bad stage", ShaderCreateInfo{Code: []byte(triangleWGSL), EntryPoint: "vs_main", Format: ShaderFormatWGSL, Stage: 9}, ErrInvalidShader},
		{"missing entry point", ShaderCreateInfo{Code: []byte(triangleWGSL), EntryPoint: "main", Format: ShaderFormatWGSL}, ErrInvalidShader},
		{"empty entry point", ShaderCreateInfo{Code: []byte(triangleWGSL), Format: ShaderFormatWGSL}, ErrInvalidShader},
		{"stage mismatch", ShaderCreateInfo{Code: []byte(triangleWGSL), EntryPoint: "vs_main", Format: ShaderFormatWGSL, Stage: ShaderStageFragment}, ErrInvalidShader},
		{"undeclared slots", ShaderCreateInfo{Code: []byte(texturedWGSL), EntryPoint: "fs_main", Format: ShaderFormatWGSL, Stage: ShaderStageFragment}, ErrInvalidShader},
		{"malformed", ShaderCreateInfo{Code: []byte("fn broken( {"), EntryPoint: "vs_main", Format: ShaderFormatWGSL}, ErrInvalidShader},
		{"two formats", ShaderCreateInfo{Code: []byte(triangleWGSL), EntryPoint: "vs_main", Format: ShaderFormatWGSL | ShaderFormatSPIRV}, ErrInvalidShader},
		{"unaccepted format", ShaderCreateInfo{Code: []byte("x"), EntryPoint: "main", Format: ShaderFormatMSL}, ErrUnsupportedShaderFormat},
		{"bad spirv", ShaderCreateInfo{Code: []byte{1, 2, 3, 4}, EntryPoint: "main", Format: ShaderFormatSPIRV}, ErrInvalidShader},
		{"too many samplers", ShaderCreateInfo{Code: []byte(triangleWGSL), EntryPoint: "vs_main", Format: ShaderFormatWGSL, NumSamplers: 64}, ErrExceedsLimits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.info
			s, err := d.CreateShader(&info)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateShader() error = %v, want %v", err, tt.wantErr)
			}
			if s != nil {
				t.Error("CreateShader() returned a shader with an error")
			}
		})
	}
}

func TestCreateShaderSharedModule(t *testing.T) {
	d := newTestDevice(t)
	// The vertex stage ignores the fragment groups of a combined module.
	vs := createShader(t, d, texturedWGSL, ShaderStageVertex, "vs_main", 0, 0)
	fs := createShader(t, d, texturedWGSL, ShaderStageFragment, "fs_main", 1, 1)
	if vs.Stage() != ShaderStageVertex || fs.Stage() != ShaderStageFragment {
		t.Errorf("stages = %v, %v", vs.Stage(), fs.Stage())
	}
	if fs.EntryPoint() != "fs_main" {
		t.Errorf("EntryPoint() = %q, want fs_main", fs.EntryPoint())
	}
}

func TestCreateGraphicsPipelineValidation(t *testing.T) {
	d := newTestDevice(t)
	vs := createShader(t, d, triangleWGSL, ShaderStageVertex, "vs_main", 0, 0)
	fs := createShader(t, d, triangleWGSL, ShaderStageFragment, "fs_main", 0, 0)
	color := GraphicsPipelineTargetInfo{
		ColorTargetDescriptions: []ColorTargetDescription{{Format: gputypes.TextureFormatRGBA8Unorm}},
	}

	tests := []struct {
		name   string
		modify func(*GraphicsPipelineCreateInfo)
	}{
		{"missing vertex shader", func(i *GraphicsPipelineCreateInfo) { i.VertexShader = nil }},
		{"swapped stages", func(i *GraphicsPipelineCreateInfo) { i.VertexShader, i.FragmentShader = fs, vs }},
		{"line fill", func(i *GraphicsPipelineCreateInfo) { i.RasterizerState.FillMode = FillModeLine }},
		{"no targets", func(i *GraphicsPipelineCreateInfo) { i.TargetInfo = GraphicsPipelineTargetInfo{} }},
		{"bad sample count", func(i *GraphicsPipelineCreateInfo) { i.MultisampleState.SampleCount = 3 }},
		{"depth color target", func(i *GraphicsPipelineCreateInfo) {
			i.TargetInfo.ColorTargetDescriptions = []ColorTargetDescription{{Format: gputypes.TextureFormatDepth32Float}}
		}},
		{"color depth target", func(i *GraphicsPipelineCreateInfo) {
			i.TargetInfo.HasDepthStencilTarget = true
			i.TargetInfo.DepthStencilFormat = gputypes.TextureFormatRGBA8Unorm
		}},
		{"stencil without stencil", func(i *GraphicsPipelineCreateInfo) {
			i.TargetInfo.HasDepthStencilTarget = true
			i.TargetInfo.DepthStencilFormat = gputypes.TextureFormatDepth32Float
			i.DepthStencilState.EnableStencilTest = true
		}},
		{"attribute without buffer", func(i *GraphicsPipelineCreateInfo) {
			i.VertexInputState.VertexAttributes = []VertexAttribute{{Location: 0, BufferSlot: 1, Format: gputypes.VertexFormatFloat32x2}}
		}},
		{"duplicate vertex slot", func(i *GraphicsPipelineCreateInfo) {
			i.VertexInputState.VertexBufferDescriptions = []VertexBufferDescription{{Slot: 0, Pitch: 8}, {Slot: 0, Pitch: 8}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := GraphicsPipelineCreateInfo{VertexShader: vs, FragmentShader: fs, TargetInfo: color}
			tt.modify(&info)
			p, err := d.CreateGraphicsPipeline(&info)
			if !errors.Is(err, ErrInvalidPipeline) {
				t.Fatalf("CreateGraphicsPipeline() error = %v, want ErrInvalidPipeline", err)
			}
			if p != nil {
				t.Error("CreateGraphicsPipeline() returned a pipeline with an error")
			}
		})
	}
}

func TestGraphicsPipelineOutlivesShaders(t *testing.T) {
	d := newTestDevice(t)
	vs := createShader(t, d, triangleWGSL, ShaderStageVertex, "vs_main", 0, 0)
	fs := createShader(t, d, triangleWGSL, ShaderStageFragment, "fs_main", 0, 0)
	p, err := d.CreateGraphicsPipeline(&GraphicsPipelineCreateInfo{
		VertexShader:   vs,
		FragmentShader: fs,
		VertexInputState: VertexInputState{
			VertexBufferDescriptions: []VertexBufferDescription{{Slot: 0, Pitch: 8}},
			VertexAttributes:         []VertexAttribute{{Location: 0, BufferSlot: 0, Format: gputypes.VertexFormatFloat32x2}},
		},
		TargetInfo: GraphicsPipelineTargetInfo{
			ColorTargetDescriptions: []ColorTargetDescription{{
				Format: gputypes.TextureFormatRGBA8Unorm,
				BlendState: ColorTargetBlendState{
					EnableBlend:         true,
					SrcColorBlendFactor: gputypes.BlendFactorSrcAlpha,
					DstColorBlendFactor: gputypes.BlendFactorOneMinusSrcAlpha,
					ColorBlendOp:        gputypes.BlendOperationAdd,
					SrcAlphaBlendFactor: gputypes.BlendFactorOne,
					DstAlphaBlendFactor: gputypes.BlendFactorOneMinusSrcAlpha,
					AlphaBlendOp:        gputypes.BlendOperationAdd,
				},
			}},
			HasDepthStencilTarget: true,
			DepthStencilFormat:    gputypes.TextureFormatDepth24PlusStencil8,
		},
		DepthStencilState: DepthStencilState{
			EnableDepthTest:  true,
			EnableDepthWrite: true,
			CompareOp:        gputypes.CompareFunctionLess,
		},
	})
	if err != nil {
		t.Fatalf("CreateGraphicsPipeline: %v", err)
	}
	vs.Release()
	fs.Release()
	if !p.IsValid() {
		t.Error("pipeline invalid after its shaders were released")
	}
	if !p.hasVertexSlot(0) || p.hasVertexSlot(1) {
		t.Error("vertex slots not recorded")
	}
	p.Release()
	p.Release()
	if p.IsValid() {
		t.Error("pipeline valid after Release")
	}
}

func TestCreateComputePipeline(t *testing.T) {
	d := newTestDevice(t)
	p := createDoublePipeline(t, d)
	if p.threads != [3]uint32{64, 1, 1} {
		t.Errorf("threads = %v", p.threads)
	}

	tests := []struct {
		name    string
		modify  func(*ComputePipelineCreateInfo)
		wantErr error
	}{
		{"threads mismatch", func(i *ComputePipelineCreateInfo) { i.ThreadCountX = 32 }, ErrInvalidPipeline},
		{"zero threads", func(i *ComputePipelineCreateInfo) { i.ThreadCountY = 0 }, ErrInvalidPipeline},
		{"threads over limit", func(i *ComputePipelineCreateInfo) { i.ThreadCountX = 1024 }, ErrExceedsLimits},
		{"missing read-write slot", func(i *ComputePipelineCreateInfo) { i.NumReadWriteStorageBuffers = 0 }, ErrInvalidShader},
		{"wrong entry point", func(i *ComputePipelineCreateInfo) { i.EntryPoint = "fs_main" }, ErrInvalidShader},
		{"nil code", func(i *ComputePipelineCreateInfo) { i.Code = nil }, ErrInvalidPipeline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ComputePipelineCreateInfo{
				Code:                       []byte(doubleWGSL),
				EntryPoint:                 "main",
				Format:                     ShaderFormatWGSL,
				NumReadonlyStorageBuffers:  1,
				NumReadWriteStorageBuffers: 1,
				ThreadCountX:               64,
				ThreadCountY:               1,
				ThreadCountZ:               1,
			}
			tt.modify(&info)
			if _, err := d.CreateComputePipeline(&info); !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateComputePipeline() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
