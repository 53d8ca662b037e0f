// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package shader is the shader compiler and loader boundary.
//
// It turns WGSL source into SPIR-V words using naga and reflects the
// compiled IR into the metadata pipeline construction needs: entry points
// with their stage and workgroup size, resource bindings tagged by kind,
// and the per-vertex attribute layout of vertex entry points.
package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/gpuflow/internal/cache"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
)

// ErrCompile is the sentinel matched by every *CompileError.
var ErrCompile = errors.New("shader: compilation failed")

// CompileError carries the compiler diagnostic for a rejected source.
// Diagnostic is naga's message, unmodified.
type CompileError struct {
	Phase      string
	Diagnostic string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("shader: %s: %s", e.Phase, e.Diagnostic)
}

// Unwrap makes compile errors match ErrCompile.
func (e *CompileError) Unwrap() error { return ErrCompile }

// Module is a compiled shader with its reflected interface.
type Module struct {
	SPIRV       []uint32
	EntryPoints []EntryPoint
	Bindings    []Binding
}

// EntryPoint returns the entry point with the given name and stage.
// An empty name selects the only entry point of that stage.
func (m *Module) EntryPoint(name string, stage Stage) (EntryPoint, bool) {
	var found []EntryPoint
	for _, ep := range m.EntryPoints {
		if ep.Stage != stage {
			continue
		}
		if ep.Name == name {
			return ep, true
		}
		found = append(found, ep)
	}
	if name == "" && len(found) == 1 {
		return found[0], true
	}
	return EntryPoint{}, false
}

// compiled holds modules by source text. Modules are immutable, so
// identical sources share one.
var compiled = cache.New[string, *Module](64)

// Compile compiles WGSL source and reflects its interface. Repeated
// sources return the same *Module; callers must not modify it.
func Compile(source string) (*Module, error) {
	return compiled.GetOrCreate(source, func() (*Module, error) { return compile(source) })
}

func compile(source string) (*Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, &CompileError{Phase: "parse", Diagnostic: err.Error()}
	}
	mod, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, &CompileError{Phase: "lower", Diagnostic: err.Error()}
	}
	verrs, err := naga.Validate(mod)
	if err != nil {
		return nil, &CompileError{Phase: "validate", Diagnostic: err.Error()}
	}
	if len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i := range verrs {
			msgs[i] = verrs[i].Error()
		}
		return nil, &CompileError{Phase: "validate", Diagnostic: strings.Join(msgs, "; ")}
	}

	code, err := naga.GenerateSPIRV(mod, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return nil, &CompileError{Phase: "spirv", Diagnostic: err.Error()}
	}
	if len(code)%4 != 0 {
		return nil, &CompileError{Phase: "spirv", Diagnostic: fmt.Sprintf("output is %d bytes, not word aligned", len(code))}
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	bindings, err := reflectBindings(mod)
	if err != nil {
		return nil, err
	}
	eps, err := reflectEntryPoints(mod, bindings)
	if err != nil {
		return nil, err
	}
	return &Module{SPIRV: words, EntryPoints: eps, Bindings: bindings}, nil
}

// module-level helper for type lookups that tolerates bad handles.
func typeInner(mod *ir.Module, h ir.TypeHandle) ir.TypeInner {
	if int(h) >= len(mod.Types) {
		return nil
	}
	return mod.Types[h].Inner
}
