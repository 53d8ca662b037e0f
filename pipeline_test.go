package gpuflow

import (
	"errors"
	"testing"

	"github.com/gogpu/gpuflow/internal/kernels"
	"github.com/gogpu/gputypes"
)

func loadShader(t *testing.T, d *Device, label, code string, stage Stage) *ShaderModule {
	t.Helper()
	m, err := d.LoadShader(ShaderSource{Label: label, Code: code, Stage: stage})
	if err != nil {
		t.Fatalf("LoadShader(%q): %v", label, err)
	}
	t.Cleanup(func() { release(t, m) })
	return m
}

// computePipeline builds the named kernel and releases it on cleanup.
func computePipeline(t *testing.T, d *Device, label, code string) (*ComputePipeline, *PipelineLayout) {
	t.Helper()
	m := loadShader(t, d, label, code, StageCompute)
	p, layout, err := d.BuildComputePipeline(m, "main")
	if err != nil {
		t.Fatalf("BuildComputePipeline(%q): %v", label, err)
	}
	t.Cleanup(func() { release(t, p) })
	return p, layout
}

func TestLoadShaderErrors(t *testing.T) {
	d := openSoftware(t)

	tests := []struct {
		name    string
		src     ShaderSource
		wantErr error
	}{
		{"syntax error", ShaderSource{Label: "broken", Code: "fn main( {", Stage: StageCompute}, ErrShaderCompilation},
		{"no entry of stage", ShaderSource{Label: "multiply", Code: kernels.Multiply, Stage: StageVertex}, ErrEntryPointNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.LoadShader(tt.src); !errors.Is(err, tt.wantErr) {
				t.Errorf("LoadShader error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildComputePipeline(t *testing.T) {
	d := openSoftware(t)
	p, layout := computePipeline(t, d, "multiply", kernels.Multiply)

	if p.Workgroup() != [3]uint32{64, 1, 1} {
		t.Errorf("Workgroup = %v, want [64 1 1]", p.Workgroup())
	}
	if p.Label() != "multiply:main" || p.BindPoint() != BindPointCompute || p.Layout() != layout {
		t.Errorf("pipeline = %q %s", p.Label(), p.BindPoint())
	}
	if layout.SetCount() != 1 {
		t.Fatalf("SetCount = %d, want 1", layout.SetCount())
	}
	set := layout.Set(0)
	if len(set) != 1 || set[0].Slot != 0 || set[0].Kind != KindStorageBuffer {
		t.Errorf("set 0 = %+v, want one storage buffer at slot 0", set)
	}
	if set[0].Visibility != gputypes.ShaderStageCompute {
		t.Errorf("visibility = %v, want compute", set[0].Visibility)
	}
	if layout.Set(1) != nil {
		t.Error("Set(1) should be nil")
	}
}

const twoEntries = `
@group(0) @binding(0) var<storage, read_write> a: array<u32>;
@group(0) @binding(1) var<storage, read_write> b: array<u32>;

@compute @workgroup_size(64, 1, 1)
fn first(@builtin(global_invocation_id) gid: vec3<u32>) {
    a[gid.x] = a[gid.x] * 2u;
}

@compute @workgroup_size(64, 1, 1)
fn second(@builtin(global_invocation_id) gid: vec3<u32>) {
    b[gid.x] = b[gid.x] + 1u;
}
`

func TestComputeLayoutPerEntryPoint(t *testing.T) {
	d := openSoftware(t)
	m := loadShader(t, d, "two entries", twoEntries, StageCompute)
	data := mustBuffer[uint32](t, d, "data", 64, BufferStorage)

	tests := []struct {
		entry string
		slot  uint32
	}{
		{"first", 0},
		{"second", 1},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			p, layout, err := d.BuildComputePipeline(m, tt.entry)
			if err != nil {
				t.Fatalf("BuildComputePipeline: %v", err)
			}
			defer release(t, p)

			set := layout.Set(0)
			if len(set) != 1 || set[0].Slot != tt.slot {
				t.Fatalf("set 0 = %+v, want only slot %d", set, tt.slot)
			}
			ds, err := d.BindDescriptors(layout, 0, []SlotResource{Slot(tt.slot, data)})
			if err != nil {
				t.Fatalf("BindDescriptors: %v", err)
			}
			release(t, ds)
		})
	}
}

func TestPipelineLayoutSharing(t *testing.T) {
	d := openSoftware(t)
	_, a := computePipeline(t, d, "multiply a", kernels.Multiply)
	_, b := computePipeline(t, d, "multiply b", kernels.Multiply)
	_, c := computePipeline(t, d, "fractal", kernels.FractalBuffer)

	if a != b {
		t.Error("structurally equal derivations returned different layouts")
	}
	if a == c || a.Key() == c.Key() {
		t.Error("different binding shapes share a layout")
	}
	if got := d.layouts.len(); got != 2 {
		t.Errorf("cached layouts = %d, want 2", got)
	}
}

func TestBuildComputePipelineErrors(t *testing.T) {
	d := openSoftware(t)
	m := loadShader(t, d, "multiply", kernels.Multiply, StageCompute)
	if _, _, err := d.BuildComputePipeline(m, "missing"); !errors.Is(err, ErrEntryPointNotFound) {
		t.Errorf("missing entry error = %v, want ErrEntryPointNotFound", err)
	}

	vs := loadShader(t, d, "triangle", kernels.Triangle, StageVertex)
	if _, _, err := d.BuildComputePipeline(vs, ""); !errors.Is(err, ErrEntryPointNotFound) {
		t.Errorf("vertex module error = %v, want ErrEntryPointNotFound", err)
	}
}

type position struct {
	XY [2]float32 `gpu:"location=0"`
}

func TestBuildGraphicsPipeline(t *testing.T) {
	d := openSoftware(t)
	vs := loadShader(t, d, "triangle vs", kernels.Triangle, StageVertex)
	fs := loadShader(t, d, "triangle fs", kernels.Triangle, StageFragment)
	cs := loadShader(t, d, "multiply", kernels.Multiply, StageCompute)

	input, err := VertexInputOf[position]()
	if err != nil {
		t.Fatalf("VertexInputOf: %v", err)
	}
	desc := GraphicsPipelineDesc{
		Label:         "triangle",
		Vertex:        vs,
		VertexEntry:   "vs_main",
		Fragment:      fs,
		FragmentEntry: "fs_main",
		VertexInput:   input,
		TargetFormat:  gputypes.TextureFormatRGBA8Unorm,
	}

	t.Run("valid", func(t *testing.T) {
		p, layout, err := d.BuildGraphicsPipeline(desc)
		if err != nil {
			t.Fatalf("BuildGraphicsPipeline: %v", err)
		}
		defer release(t, p)
		if p.BindPoint() != BindPointGraphics || p.TargetFormat() != gputypes.TextureFormatRGBA8Unorm {
			t.Errorf("pipeline = %s %s", p.BindPoint(), p.TargetFormat())
		}
		if layout.SetCount() != 0 {
			t.Errorf("SetCount = %d, want 0", layout.SetCount())
		}
	})

	tests := []struct {
		name    string
		mutate  func(*GraphicsPipelineDesc)
		wantErr error
	}{
		{"wrong format", func(g *GraphicsPipelineDesc) {
			g.VertexInput = VertexInput{Stride: 12, Attributes: []gputypes.VertexAttribute{{Format: gputypes.VertexFormatFloat32x3}}}
		}, ErrVertexInputMismatch},
		{"missing input", func(g *GraphicsPipelineDesc) { g.VertexInput = VertexInput{} }, ErrVertexInputMismatch},
		{"compute module as vertex", func(g *GraphicsPipelineDesc) { g.Vertex = cs }, ErrEntryPointNotFound},
		{"nil fragment", func(g *GraphicsPipelineDesc) { g.Fragment = nil }, ErrEntryPointNotFound},
		{"unknown entry", func(g *GraphicsPipelineDesc) { g.FragmentEntry = "main" }, ErrEntryPointNotFound},
		{"unsupported target", func(g *GraphicsPipelineDesc) { g.TargetFormat = gputypes.TextureFormatDepth32Float }, ErrResourceCreationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := desc
			tt.mutate(&g)
			if _, _, err := d.BuildGraphicsPipeline(g); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
