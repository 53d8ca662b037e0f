package backend

import (
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
	"github.com/gogpu/wgpu/hal/vulkan"
)

// Backend name constants.
const (
	// Vulkan is the name of the Vulkan backend.
	Vulkan = "vulkan"
	// Software is the name of the CPU backend. It executes compute
	// kernels and draws with an interpreter, so it is always available.
	Software = "software"
	// Noop is the name of the validation-only backend. It accepts every
	// call and executes nothing.
	Noop = "noop"
	// Auto selects the first hardware backend with a GPU adapter at
	// resolve time.
	Auto = "auto"
)

// init registers the built-in backends on package import.
func init() {
	Register(Vulkan, func() hal.Backend { return vulkan.Backend{} })
	Register(Software, func() hal.Backend { return software.API{} })
	Register(Noop, func() hal.Backend { return noop.API{} })
}

// Names returns every name Resolve accepts, Auto first.
func Names() []string {
	return append([]string{Auto}, Available()...)
}
