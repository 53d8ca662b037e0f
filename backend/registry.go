package backend

import (
	"fmt"
	"slices"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"
)

// backends holds the registered HAL backends in priority order.
var backends = gpucontext.NewRegistry[hal.Backend](
	gpucontext.WithPriority(Vulkan, Software),
)

// autoOrder is the order Resolve tries backends in for Auto. Only
// hardware backends are listed; software and noop are opt-in by name.
var autoOrder = []string{Vulkan}

// Register registers a backend factory under name. A factory already
// registered under that name is replaced.
func Register(name string, factory func() hal.Backend) {
	backends.Register(name, factory)
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	backends.Unregister(name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	names := backends.Available()
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return backends.Has(name)
}

// Get returns the backend registered under name.
func Get(name string) (hal.Backend, error) {
	if !backends.Has(name) {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Available())
	}
	return backends.Get(name), nil
}

// Default returns the highest-priority registered backend without
// probing it, or nil if none is registered.
func Default() hal.Backend {
	return backends.Best()
}

// Resolve maps a configured backend name to a backend. Auto returns the
// first hardware backend that exposes a non-CPU adapter and fails when
// there is none; it never falls back to the software backend. Any other
// name is looked up directly and is not probed.
func Resolve(name string) (hal.Backend, error) {
	if name != Auto {
		return Get(name)
	}
	var errs []error
	for _, n := range autoOrder {
		if !backends.Has(n) {
			continue
		}
		b := backends.Get(n)
		count, err := ProbeHardware(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if count > 0 {
			return b, nil
		}
		errs = append(errs, fmt.Errorf("%w: %s exposes no hardware adapters", ErrBackendNotAvailable, n))
	}
	return nil, fmt.Errorf("%w: no usable backend for %q: %v", ErrBackendNotAvailable, Auto, errs)
}
