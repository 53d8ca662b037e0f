// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package shader

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga/ir"
)

// Stage is a shader pipeline stage.
type Stage uint8

const (
	StageCompute Stage = iota
	StageVertex
	StageFragment
)

// String returns the WGSL attribute name of the stage.
func (s Stage) String() string {
	switch s {
	case StageCompute:
		return "compute"
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Visibility returns the gputypes stage flag for s.
func (s Stage) Visibility() gputypes.ShaderStages {
	switch s {
	case StageVertex:
		return gputypes.ShaderStageVertex
	case StageFragment:
		return gputypes.ShaderStageFragment
	default:
		return gputypes.ShaderStageCompute
	}
}

// ResourceKind tags what a binding slot holds. Layout derivation and
// descriptor binding both switch on it.
type ResourceKind uint8

const (
	KindUniformBuffer ResourceKind = iota
	KindStorageBuffer
	KindSampledImage
	KindStorageImage
	KindSampler
)

// String returns a readable kind name.
func (k ResourceKind) String() string {
	switch k {
	case KindUniformBuffer:
		return "UniformBuffer"
	case KindStorageBuffer:
		return "StorageBuffer"
	case KindSampledImage:
		return "SampledImage"
	case KindStorageImage:
		return "StorageImage"
	case KindSampler:
		return "Sampler"
	default:
		return fmt.Sprintf("ResourceKind(%d)", int(k))
	}
}

// IsBuffer reports whether the kind is backed by a buffer.
func (k ResourceKind) IsBuffer() bool {
	return k == KindUniformBuffer || k == KindStorageBuffer
}

// Access describes how a shader touches a storage resource.
type Access uint8

const (
	AccessReadWrite Access = iota
	AccessReadOnly
	AccessWriteOnly
)

// Binding is one reflected resource slot.
type Binding struct {
	Set     uint32
	Slot    uint32
	Name    string
	Kind    ResourceKind
	Access  Access
	Format  gputypes.TextureFormat
	MinSize uint64
}

// VertexAttribute is one @location input of a vertex entry point.
type VertexAttribute struct {
	Location uint32
	Name     string
	Format   gputypes.VertexFormat
}

// EntryPoint is a reflected shader entry point. Bindings lists only the
// resources the entry point's call graph references.
type EntryPoint struct {
	Name      string
	Stage     Stage
	Workgroup [3]uint32
	Inputs    []VertexAttribute
	Bindings  []Binding
}

func reflectBindings(mod *ir.Module) ([]Binding, error) {
	var out []Binding
	for _, gv := range mod.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		b := Binding{Set: gv.Binding.Group, Slot: gv.Binding.Binding, Name: gv.Name}
		inner := typeInner(mod, gv.Type)

		switch gv.Space {
		case ir.SpaceUniform:
			b.Kind = KindUniformBuffer
			b.Access = AccessReadOnly
			b.MinSize = typeSize(mod, gv.Type)
		case ir.SpaceStorage:
			b.Kind = KindStorageBuffer
			if gv.Access == ir.StorageRead {
				b.Access = AccessReadOnly
			}
			b.MinSize = typeSize(mod, gv.Type)
		case ir.SpaceHandle:
			switch t := inner.(type) {
			case ir.SamplerType:
				b.Kind = KindSampler
			case ir.ImageType:
				if t.Class == ir.ImageClassStorage {
					b.Kind = KindStorageImage
					b.Access = storageAccess(t.StorageAccess)
					b.Format = storageFormat(t.StorageFormat)
				} else {
					b.Kind = KindSampledImage
					b.Access = AccessReadOnly
				}
			default:
				return nil, &CompileError{
					Phase:      "reflect",
					Diagnostic: fmt.Sprintf("binding %q (@group(%d) @binding(%d)) has unsupported handle type %T", gv.Name, b.Set, b.Slot, inner),
				}
			}
		default:
			continue
		}
		out = append(out, b)
	}

	slices.SortFunc(out, func(a, b Binding) int {
		if c := cmp.Compare(a.Set, b.Set); c != 0 {
			return c
		}
		return cmp.Compare(a.Slot, b.Slot)
	})
	return out, nil
}

func reflectEntryPoints(mod *ir.Module, bindings []Binding) ([]EntryPoint, error) {
	eps := make([]EntryPoint, 0, len(mod.EntryPoints))
	for i := range mod.EntryPoints {
		ep := &mod.EntryPoints[i]
		var stage Stage
		switch ep.Stage {
		case ir.StageCompute:
			stage = StageCompute
		case ir.StageVertex:
			stage = StageVertex
		case ir.StageFragment:
			stage = StageFragment
		default:
			continue
		}
		e := EntryPoint{
			Name:      ep.Name,
			Stage:     stage,
			Workgroup: ep.Workgroup,
			Bindings:  usedBindings(mod, &ep.Function, bindings),
		}
		if stage == StageVertex {
			inputs, err := vertexInputs(mod, ep.Function.Arguments)
			if err != nil {
				return nil, err
			}
			e.Inputs = inputs
		}
		eps = append(eps, e)
	}
	return eps, nil
}

// usedBindings returns the subset of bindings whose globals f or any
// function it calls references, in the order of bindings.
func usedBindings(mod *ir.Module, f *ir.Function, bindings []Binding) []Binding {
	globals := make([]bool, len(mod.GlobalVariables))
	calls := make([]bool, len(mod.Functions))
	var trace func(f *ir.Function)
	var walk func(block ir.Block)
	trace = func(f *ir.Function) {
		for _, e := range f.Expressions {
			if gv, ok := e.Kind.(ir.ExprGlobalVariable); ok && int(gv.Variable) < len(globals) {
				globals[gv.Variable] = true
			}
		}
		walk(f.Body)
	}
	walk = func(block ir.Block) {
		for _, st := range block {
			switch k := st.Kind.(type) {
			case ir.StmtCall:
				if h := int(k.Function); h < len(calls) && !calls[h] {
					calls[h] = true
					trace(&mod.Functions[h])
				}
			case ir.StmtBlock:
				walk(k.Block)
			case ir.StmtIf:
				walk(k.Accept)
				walk(k.Reject)
			case ir.StmtSwitch:
				for _, c := range k.Cases {
					walk(c.Body)
				}
			case ir.StmtLoop:
				walk(k.Body)
				walk(k.Continuing)
			}
		}
	}
	trace(f)

	type slot struct{ set, binding uint32 }
	used := make(map[slot]bool)
	for h, hit := range globals {
		if gv := mod.GlobalVariables[h]; hit && gv.Binding != nil {
			used[slot{gv.Binding.Group, gv.Binding.Binding}] = true
		}
	}
	out := make([]Binding, 0, len(used))
	for _, b := range bindings {
		if used[slot{b.Set, b.Slot}] {
			out = append(out, b)
		}
	}
	return out
}

// vertexInputs collects @location arguments, flattening struct arguments,
// ordered by location.
func vertexInputs(mod *ir.Module, args []ir.FunctionArgument) ([]VertexAttribute, error) {
	var out []VertexAttribute
	add := func(name string, th ir.TypeHandle, binding *ir.Binding) error {
		if binding == nil {
			return nil
		}
		loc, ok := (*binding).(ir.LocationBinding)
		if !ok {
			return nil
		}
		f, ok := vertexFormat(typeInner(mod, th))
		if !ok {
			return &CompileError{
				Phase:      "reflect",
				Diagnostic: fmt.Sprintf("vertex input %q at location %d has no vertex format", name, loc.Location),
			}
		}
		out = append(out, VertexAttribute{Location: loc.Location, Name: name, Format: f})
		return nil
	}

	for _, arg := range args {
		if st, ok := typeInner(mod, arg.Type).(ir.StructType); ok && arg.Binding == nil {
			for _, m := range st.Members {
				if err := add(m.Name, m.Type, m.Binding); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := add(arg.Name, arg.Type, arg.Binding); err != nil {
			return nil, err
		}
	}
	slices.SortFunc(out, func(a, b VertexAttribute) int { return cmp.Compare(a.Location, b.Location) })
	return out, nil
}

func vertexFormat(inner ir.TypeInner) (gputypes.VertexFormat, bool) {
	var scalar ir.ScalarType
	size := 1
	switch t := inner.(type) {
	case ir.ScalarType:
		scalar = t
	case ir.VectorType:
		scalar = t.Scalar
		size = int(t.Size)
	default:
		return 0, false
	}
	if scalar.Width != 4 {
		return 0, false
	}
	table := map[ir.ScalarKind][4]gputypes.VertexFormat{
		ir.ScalarFloat: {gputypes.VertexFormatFloat32, gputypes.VertexFormatFloat32x2, gputypes.VertexFormatFloat32x3, gputypes.VertexFormatFloat32x4},
		ir.ScalarUint:  {gputypes.VertexFormatUint32, gputypes.VertexFormatUint32x2, gputypes.VertexFormatUint32x3, gputypes.VertexFormatUint32x4},
		ir.ScalarSint:  {gputypes.VertexFormatSint32, gputypes.VertexFormatSint32x2, gputypes.VertexFormatSint32x3, gputypes.VertexFormatSint32x4},
	}
	row, ok := table[scalar.Kind]
	if !ok {
		return 0, false
	}
	return row[size-1], true
}

func storageAccess(a ir.StorageAccess) Access {
	switch a {
	case ir.StorageAccessRead:
		return AccessReadOnly
	case ir.StorageAccessWrite:
		return AccessWriteOnly
	default:
		return AccessReadWrite
	}
}

func storageFormat(f ir.StorageFormat) gputypes.TextureFormat {
	switch f {
	case ir.StorageFormatRgba8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case ir.StorageFormatRgba32Float:
		return gputypes.TextureFormatRGBA32Float
	case ir.StorageFormatR32Float:
		return gputypes.TextureFormatR32Float
	case ir.StorageFormatR32Uint:
		return gputypes.TextureFormatR32Uint
	case ir.StorageFormatRgba16Float:
		return gputypes.TextureFormatRGBA16Float
	default:
		return gputypes.TextureFormatUndefined
	}
}

// typeSize returns the byte size of fixed-size types, or the size of the
// fixed prefix for structs ending in a runtime array. Zero means unknown.
func typeSize(mod *ir.Module, h ir.TypeHandle) uint64 {
	switch t := typeInner(mod, h).(type) {
	case ir.ScalarType:
		return uint64(t.Width)
	case ir.VectorType:
		return uint64(t.Scalar.Width) * uint64(t.Size)
	case ir.StructType:
		return uint64(t.Span)
	case ir.ArrayType:
		if t.Size.Constant == nil {
			return 0
		}
		return uint64(*t.Size.Constant) * uint64(t.Stride)
	default:
		return 0
	}
}
