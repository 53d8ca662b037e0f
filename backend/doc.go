// Package backend registers the HAL backends gpuflow can open devices on.
//
// The built-in backends are registered on import:
//
//   - "vulkan": hardware GPUs through the Vulkan loader
//   - "software": a CPU implementation that runs SPIR-V kernels in an
//     interpreter, always available
//   - "noop": accepts every call and executes nothing
//
// # Backend Selection
//
// Use Get for a specific backend or Resolve with "auto" to pick the first
// backend that exposes an adapter:
//
//	b, err := backend.Resolve(backend.Auto)
//	if err != nil {
//		log.Fatal(err)
//	}
//	dev, err := gpuflow.Open(b, gpuflow.DeviceOptions{})
package backend
