package gpuflow

import (
	"errors"
	"fmt"
	"strings"
)

// Setup errors. All of them are fatal to a run; none is retried.
var (
	// ErrNoDeviceFound is returned when the backend exposes no adapters.
	ErrNoDeviceFound = errors.New("gpuflow: no GPU device found")

	// ErrNoCapableQueueFamily is returned when no adapter exposes a queue
	// family with the requested capabilities.
	ErrNoCapableQueueFamily = errors.New("gpuflow: no capable queue family")

	// ErrNoSuitableMemoryType is returned when no memory type satisfies a usage filter.
	ErrNoSuitableMemoryType = errors.New("gpuflow: no suitable memory type")

	// ErrResourceCreationFailed covers usage-flag and size violations and
	// backend failures while creating buffers, images and views.
	ErrResourceCreationFailed = errors.New("gpuflow: resource creation failed")

	// ErrSizeMismatch is returned when a streaming constructor's sequence
	// does not produce exactly the declared element count.
	ErrSizeMismatch = errors.New("gpuflow: sequence length does not match element count")

	// ErrMemoryBudgetExceeded is returned when an allocation would exceed the budget.
	ErrMemoryBudgetExceeded = fmt.Errorf("%w: memory budget exceeded", ErrResourceCreationFailed)

	// ErrShaderCompilation is returned when the shader compiler rejects a source.
	ErrShaderCompilation = errors.New("gpuflow: shader compilation failed")

	// ErrEntryPointNotFound is returned when a shader has no matching entry point.
	ErrEntryPointNotFound = errors.New("gpuflow: entry point not found")

	// ErrBindingSetMismatch is returned when descriptor resources do not
	// structurally match the layout they are bound against.
	ErrBindingSetMismatch = errors.New("gpuflow: binding set mismatch")

	// ErrVertexInputMismatch is returned when a vertex input description
	// disagrees with the attributes a vertex shader declares.
	ErrVertexInputMismatch = errors.New("gpuflow: vertex input does not match shader")
)

// Execution errors.
var (
	// ErrRecorderAlreadyBuilt is returned by any recorder call after Build.
	ErrRecorderAlreadyBuilt = errors.New("gpuflow: command recorder already built")

	// ErrSubmissionFailed is returned when the queue rejects a submission.
	ErrSubmissionFailed = errors.New("gpuflow: submission failed")

	// ErrTimeout is returned by Wait when the timeout elapses first.
	// It is the only condition worth retrying, with a longer timeout.
	ErrTimeout = errors.New("gpuflow: timed out waiting for completion")

	// ErrTokenConsumed is returned when waiting on an already signaled token.
	ErrTokenConsumed = errors.New("gpuflow: completion token already consumed")

	// ErrReadbackNotSynchronized is returned when reading a buffer that the
	// completed submission did not reference.
	ErrReadbackNotSynchronized = errors.New("gpuflow: buffer not written by completed submission")

	// ErrNotHostVisible is returned when reading back device-local memory.
	ErrNotHostVisible = errors.New("gpuflow: buffer memory is not host-visible")
)

// Lifetime errors.
var (
	// ErrDeviceClosed is returned when using a closed device.
	ErrDeviceClosed = errors.New("gpuflow: device closed")

	// ErrLiveResources is returned by Device.Close while resources are alive.
	ErrLiveResources = errors.New("gpuflow: device has live resources")

	// ErrResourceInUse is returned when releasing a resource that a
	// descriptor set or command buffer still references.
	ErrResourceInUse = errors.New("gpuflow: resource still in use")

	// ErrResourceReleased is returned when using a released resource.
	ErrResourceReleased = errors.New("gpuflow: resource already released")
)

// UsageError reports an operation that needs a usage flag the resource
// did not declare at creation.
type UsageError struct {
	Resource string
	Op       string
	Required string
	Declared string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("gpuflow: %s: %q requires usage %s, declared %s",
		e.Op, e.Resource, e.Required, e.Declared)
}

// Unwrap makes usage violations match ErrResourceCreationFailed.
func (e *UsageError) Unwrap() error { return ErrResourceCreationFailed }

// BindingError describes a descriptor set that does not match its layout.
type BindingError struct {
	Set      uint32
	Expected []uint32
	Actual   []uint32
	Detail   string
}

func (e *BindingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gpuflow: binding set mismatch at set %d", e.Set)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Expected != nil || e.Actual != nil {
		fmt.Fprintf(&b, " (layout slots %v, supplied %v)", e.Expected, e.Actual)
	}
	return b.String()
}

// Unwrap makes binding errors match ErrBindingSetMismatch.
func (e *BindingError) Unwrap() error { return ErrBindingSetMismatch }
