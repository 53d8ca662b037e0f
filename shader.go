package gpuflow

import (
	"fmt"

	"github.com/gogpu/gpuflow/internal/shader"
	"github.com/gogpu/wgpu/hal"
)

// Stage is a shader pipeline stage.
type Stage = shader.Stage

const (
	StageCompute  = shader.StageCompute
	StageVertex   = shader.StageVertex
	StageFragment = shader.StageFragment
)

// ResourceKind tags what a binding slot holds.
type ResourceKind = shader.ResourceKind

const (
	KindUniformBuffer = shader.KindUniformBuffer
	KindStorageBuffer = shader.KindStorageBuffer
	KindSampledImage  = shader.KindSampledImage
	KindStorageImage  = shader.KindStorageImage
	KindSampler       = shader.KindSampler
)

// Access describes how a shader touches a storage resource.
type Access = shader.Access

const (
	AccessReadWrite = shader.AccessReadWrite
	AccessReadOnly  = shader.AccessReadOnly
	AccessWriteOnly = shader.AccessWriteOnly
)

// Binding is one reflected resource slot of a shader.
type Binding = shader.Binding

// ShaderVertexAttribute is one @location input of a vertex entry point.
type ShaderVertexAttribute = shader.VertexAttribute

// EntryPoint is a reflected shader entry point.
type EntryPoint = shader.EntryPoint

// ShaderSource is WGSL text plus the stage it is loaded for.
type ShaderSource struct {
	Label string
	Code  string
	Stage Stage
}

// ShaderModule is a compiled shader with its reflected bindings. It is
// immutable once loaded.
type ShaderModule struct {
	resource

	hal    hal.ShaderModule
	stage  Stage
	module *shader.Module
}

// LoadShader compiles src and creates the backend shader module. A
// rejected source fails with ErrShaderCompilation carrying the compiler
// diagnostic unmodified. The module must declare at least one entry point
// of src.Stage.
func (d *Device) LoadShader(src ShaderSource) (*ShaderModule, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	mod, err := shader.Compile(src.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrShaderCompilation, src.Label, err)
	}
	if !hasStage(mod, src.Stage) {
		return nil, fmt.Errorf("%w: %q declares no %s entry point", ErrEntryPointNotFound, src.Label, src.Stage)
	}

	hm, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  src.Label,
		Source: hal.ShaderSource{SPIRV: mod.SPIRV},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %q: backend rejected module: %v", ErrShaderCompilation, src.Label, err)
	}

	sm := &ShaderModule{hal: hm, stage: src.Stage, module: mod}
	if err := d.track(&sm.resource, "shader", src.Label); err != nil {
		d.device.DestroyShaderModule(hm)
		return nil, err
	}
	Logger().Debug("gpuflow: shader loaded",
		"label", src.Label, "stage", src.Stage, "words", len(mod.SPIRV), "bindings", len(mod.Bindings))
	return sm, nil
}

func hasStage(m *shader.Module, s Stage) bool {
	for _, ep := range m.EntryPoints {
		if ep.Stage == s {
			return true
		}
	}
	return false
}

// Label returns the module's label.
func (m *ShaderModule) Label() string { return m.label }

// Stage returns the stage the module was loaded for.
func (m *ShaderModule) Stage() Stage { return m.stage }

// Bindings returns the reflected bindings, ordered by set then slot.
func (m *ShaderModule) Bindings() []Binding { return append([]Binding(nil), m.module.Bindings...) }

// EntryPoint returns the entry point of the module's stage with the given
// name. An empty name selects the only entry point of that stage.
func (m *ShaderModule) EntryPoint(name string) (EntryPoint, error) {
	ep, ok := m.module.EntryPoint(name, m.stage)
	if !ok {
		return EntryPoint{}, fmt.Errorf("%w: %s entry %q in %q", ErrEntryPointNotFound, m.stage, name, m.label)
	}
	return ep, nil
}

// Release destroys the backend module. Pipelines built from it keep
// working.
func (m *ShaderModule) Release() error {
	return m.release(func() { m.dev.device.DestroyShaderModule(m.hal) })
}
