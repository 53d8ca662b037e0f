package gpuflow

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// HostView is a host copy of a buffer's content taken after its
// submission completed.
type HostView struct {
	label string
	data  []byte
}

// ReadHostVisible copies buf to host memory. buf must live in host-visible
// memory and be referenced by the submission done proves complete.
func ReadHostVisible(done Completion, buf AnyBuffer) (*HostView, error) {
	b := buf.raw()
	if err := b.alive(); err != nil {
		return nil, err
	}
	if !b.HostVisible() {
		return nil, fmt.Errorf("%w: %q is in %s memory", ErrNotHostVisible, b.label, b.region.Type.Properties)
	}
	if !done.buffers[b] {
		return nil, fmt.Errorf("%w: %q", ErrReadbackNotSynchronized, b.label)
	}

	d := b.dev
	m, err := d.device.MapBuffer(b.hal, 0, b.size)
	if err != nil {
		return nil, fmt.Errorf("gpuflow: map %q for readback: %w", b.label, err)
	}
	data := make([]byte, b.size)
	copy(data, unsafe.Slice((*byte)(m.Ptr), int(b.size))) //nolint:gosec // G115: size fits the allocation
	if err := d.device.UnmapBuffer(b.hal); err != nil {
		Logger().Warn("gpuflow: unmap after readback", "label", b.label, "err", err)
	}
	Logger().Debug("gpuflow: read back", "label", b.label, "bytes", b.size)
	return &HostView{label: b.label, data: data}, nil
}

// Len returns the byte length, equal to the buffer's size.
func (v *HostView) Len() int { return len(v.data) }

// Bytes returns a copy of the content.
func (v *HostView) Bytes() []byte { return append([]byte(nil), v.data...) }

// Decode interprets the view as little-endian elements of T. A trailing
// partial element is an error.
func Decode[T any](v *HostView) ([]T, error) {
	var zero T
	size := binary.Size(zero)
	if size <= 0 {
		return nil, fmt.Errorf("gpuflow: decode %q: %T has no fixed size", v.label, zero)
	}
	if len(v.data)%size != 0 {
		return nil, fmt.Errorf("gpuflow: decode %q: %d bytes is not a whole number of %d-byte elements",
			v.label, len(v.data), size)
	}
	out := make([]T, len(v.data)/size)
	if _, err := binary.Decode(v.data, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("gpuflow: decode %q: %w", v.label, err)
	}
	return out, nil
}
