package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or exposes no adapters.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownBackend is returned for a name no factory is registered under.
	ErrUnknownBackend = errors.New("backend: unknown backend")
)

// Probe reports how many adapters b exposes. An instance that cannot be
// created counts as zero adapters and its error is returned.
func Probe(b hal.Backend) (int, error) {
	inst, err := b.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrBackendNotAvailable, b.Variant(), err)
	}
	defer inst.Destroy()
	return len(inst.EnumerateAdapters(nil)), nil
}

// ProbeHardware is like Probe but does not count CPU adapters.
func ProbeHardware(b hal.Backend) (int, error) {
	inst, err := b.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrBackendNotAvailable, b.Variant(), err)
	}
	defer inst.Destroy()
	n := 0
	for _, a := range inst.EnumerateAdapters(nil) {
		if a.Info.DeviceType != gputypes.DeviceTypeCPU {
			n++
		}
	}
	return n, nil
}
