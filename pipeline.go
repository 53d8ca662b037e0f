package gpuflow

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// BindPoint selects the pipeline type a descriptor set is bound for.
type BindPoint uint8

const (
	BindPointCompute BindPoint = iota
	BindPointGraphics
)

// String returns the bind point name.
func (b BindPoint) String() string {
	switch b {
	case BindPointCompute:
		return "compute"
	case BindPointGraphics:
		return "graphics"
	default:
		return fmt.Sprintf("BindPoint(%d)", int(b))
	}
}

// Pipeline is satisfied by *ComputePipeline and *GraphicsPipeline.
type Pipeline interface {
	Label() string
	BindPoint() BindPoint
	Layout() *PipelineLayout
	res() *resource
}

// ComputePipeline is an executable compute stage bound to one layout.
// It is immutable once built.
type ComputePipeline struct {
	resource

	hal    hal.ComputePipeline
	layout *PipelineLayout
	entry  EntryPoint
}

var (
	_ Pipeline = (*ComputePipeline)(nil)
	_ Pipeline = (*GraphicsPipeline)(nil)
)

// BuildComputePipeline locates entry in m (an empty name selects the only
// compute entry point), derives the pipeline layout from the bindings that
// entry point uses and builds a single-stage compute pipeline on it.
func (d *Device) BuildComputePipeline(m *ShaderModule, entry string) (*ComputePipeline, *PipelineLayout, error) {
	if err := d.checkOpen(); err != nil {
		return nil, nil, err
	}
	if m.stage != StageCompute {
		return nil, nil, fmt.Errorf("%w: %q was loaded as a %s shader", ErrEntryPointNotFound, m.label, m.stage)
	}
	ep, err := m.EntryPoint(entry)
	if err != nil {
		return nil, nil, err
	}

	layout, err := d.deriveLayout(m.label, stageBindings{stage: StageCompute, bindings: ep.Bindings})
	if err != nil {
		return nil, nil, err
	}

	hp, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  m.label,
		Layout: layout.hal,
		Compute: hal.ComputeState{
			Module:     m.hal,
			EntryPoint: ep.Name,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: compute pipeline %q: %v", ErrResourceCreationFailed, m.label, err)
	}

	p := &ComputePipeline{hal: hp, layout: layout, entry: ep}
	if err := d.track(&p.resource, "compute pipeline", m.label+":"+ep.Name); err != nil {
		d.device.DestroyComputePipeline(hp)
		return nil, nil, err
	}
	Logger().Debug("gpuflow: compute pipeline built",
		"entry", ep.Name, "workgroup", ep.Workgroup, "sets", layout.SetCount())
	return p, layout, nil
}

func (p *ComputePipeline) res() *resource { return &p.resource }

// Label returns "module:entry".
func (p *ComputePipeline) Label() string { return p.label }

// BindPoint returns BindPointCompute.
func (p *ComputePipeline) BindPoint() BindPoint { return BindPointCompute }

// Layout returns the pipeline's layout.
func (p *ComputePipeline) Layout() *PipelineLayout { return p.layout }

// Workgroup returns the local size the kernel declares.
func (p *ComputePipeline) Workgroup() [3]uint32 { return p.entry.Workgroup }

// Release destroys the pipeline.
func (p *ComputePipeline) Release() error {
	return p.release(func() { p.dev.device.DestroyComputePipeline(p.hal) })
}

// GraphicsPipelineDesc describes a vertex plus fragment pipeline drawing
// triangle lists into one color target.
type GraphicsPipelineDesc struct {
	Label         string
	Vertex        *ShaderModule
	VertexEntry   string
	Fragment      *ShaderModule
	FragmentEntry string
	VertexInput   VertexInput
	TargetFormat  gputypes.TextureFormat
}

// GraphicsPipeline is an executable vertex and fragment pipeline. It is
// immutable once built.
type GraphicsPipeline struct {
	resource

	hal    hal.RenderPipeline
	layout *PipelineLayout
	input  VertexInput
	target gputypes.TextureFormat
}

// BuildGraphicsPipeline builds a two-stage pipeline. The vertex input must
// agree byte for byte with the attributes the vertex entry point declares,
// or the build fails with ErrVertexInputMismatch.
func (d *Device) BuildGraphicsPipeline(desc GraphicsPipelineDesc) (*GraphicsPipeline, *PipelineLayout, error) {
	if err := d.checkOpen(); err != nil {
		return nil, nil, err
	}
	if desc.Vertex == nil || desc.Fragment == nil {
		return nil, nil, fmt.Errorf("%w: graphics pipeline %q needs vertex and fragment modules", ErrEntryPointNotFound, desc.Label)
	}
	if desc.Vertex.stage != StageVertex || desc.Fragment.stage != StageFragment {
		return nil, nil, fmt.Errorf("%w: graphics pipeline %q: modules loaded as %s and %s",
			ErrEntryPointNotFound, desc.Label, desc.Vertex.stage, desc.Fragment.stage)
	}
	if BytesPerPixel(desc.TargetFormat) == 0 {
		return nil, nil, fmt.Errorf("%w: graphics pipeline %q: unsupported target format %s",
			ErrResourceCreationFailed, desc.Label, desc.TargetFormat)
	}
	vs, err := desc.Vertex.EntryPoint(desc.VertexEntry)
	if err != nil {
		return nil, nil, err
	}
	fs, err := desc.Fragment.EntryPoint(desc.FragmentEntry)
	if err != nil {
		return nil, nil, err
	}
	if err := desc.VertexInput.Match(vs.Inputs); err != nil {
		return nil, nil, fmt.Errorf("graphics pipeline %q: %w", desc.Label, err)
	}

	layout, err := d.deriveLayout(desc.Label,
		stageBindings{stage: StageVertex, bindings: vs.Bindings},
		stageBindings{stage: StageFragment, bindings: fs.Bindings},
	)
	if err != nil {
		return nil, nil, err
	}

	var buffers []gputypes.VertexBufferLayout
	if len(desc.VertexInput.Attributes) > 0 {
		buffers = []gputypes.VertexBufferLayout{desc.VertexInput.layout()}
	}
	hp, err := d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.hal,
		Vertex: hal.VertexState{
			Module:     desc.Vertex.hal,
			EntryPoint: vs.Name,
			Buffers:    buffers,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  gputypes.PrimitiveTopologyTriangleList,
			FrontFace: gputypes.FrontFaceCCW,
			CullMode:  gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: ^uint64(0)},
		Fragment: &hal.FragmentState{
			Module:     desc.Fragment.hal,
			EntryPoint: fs.Name,
			Targets: []gputypes.ColorTargetState{{
				Format:    desc.TargetFormat,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: graphics pipeline %q: %v", ErrResourceCreationFailed, desc.Label, err)
	}

	p := &GraphicsPipeline{hal: hp, layout: layout, input: desc.VertexInput, target: desc.TargetFormat}
	if err := d.track(&p.resource, "graphics pipeline", desc.Label); err != nil {
		d.device.DestroyRenderPipeline(hp)
		return nil, nil, err
	}
	Logger().Debug("gpuflow: graphics pipeline built",
		"label", desc.Label, "attributes", len(desc.VertexInput.Attributes), "target", desc.TargetFormat)
	return p, layout, nil
}

func (p *GraphicsPipeline) res() *resource { return &p.resource }

// Label returns the pipeline's label.
func (p *GraphicsPipeline) Label() string { return p.label }

// BindPoint returns BindPointGraphics.
func (p *GraphicsPipeline) BindPoint() BindPoint { return BindPointGraphics }

// Layout returns the pipeline's layout.
func (p *GraphicsPipeline) Layout() *PipelineLayout { return p.layout }

// VertexInput returns the validated vertex input description.
func (p *GraphicsPipeline) VertexInput() VertexInput { return p.input }

// TargetFormat returns the color target format.
func (p *GraphicsPipeline) TargetFormat() gputypes.TextureFormat { return p.target }

// Release destroys the pipeline.
func (p *GraphicsPipeline) Release() error {
	return p.release(func() { p.dev.device.DestroyRenderPipeline(p.hal) })
}
