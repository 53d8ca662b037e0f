// Package gpuflow drives offline GPU work through an explicit graphics
// API: it selects a device, allocates memory, builds pipelines from WGSL,
// records and submits commands, and reads results back on the host.
//
// # Overview
//
// One run is one dispatch-and-readback cycle:
//
//	d, err := gpuflow.Open(software.API{}, gpuflow.DeviceOptions{})
//	...
//	data, _ := gpuflow.NewBufferFromSeq(d, gpuflow.BufferDesc{
//		Label:  "data",
//		Count:  n,
//		Usage:  gpuflow.BufferStorage,
//		Memory: gpuflow.HostRandomAccess,
//	}, gpuflow.Counting[uint32](n))
//	mod, _ := d.LoadShader(gpuflow.ShaderSource{Label: "multiply", Code: src, Stage: gpuflow.StageCompute})
//	pipe, layout, _ := d.BuildComputePipeline(mod, "")
//	set, _ := d.BindDescriptors(layout, 0, []gpuflow.SlotResource{gpuflow.Slot(0, data)})
//
//	cb, err := d.Record(gpuflow.RecordOptions{Label: "multiply"}).
//		BindPipeline(pipe).
//		BindDescriptorSet(gpuflow.BindPointCompute, layout, 0, set).
//		Dispatch(gpuflow.GroupCount([3]uint32{n, 1, 1}, pipe.Workgroup())).
//		Build()
//	tok, _ := d.Submit(cb)
//	done, _ := tok.Wait(gpuflow.WaitForever)
//	view, _ := gpuflow.ReadHostVisible(done, data)
//	out, _ := gpuflow.Decode[uint32](view)
//
// # Lifetimes
//
// Every resource registers with the Device that created it. Descriptor
// sets and command buffers hold references on what they use; releasing a
// referenced resource fails with ErrResourceInUse, and Device.Close fails
// with ErrLiveResources until everything is released.
//
// # Synchronization
//
// One submission is in flight at a time. Readback takes the Completion a
// successful Wait returns, so results cannot be read before the GPU has
// finished writing them.
//
// # Backends
//
// Open takes any hal.Backend. The backend package registers the Vulkan,
// software and noop backends by name.
package gpuflow

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
