package gpuflow

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math/bits"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// BufferUsage declares every way a buffer will be used.
type BufferUsage uint8

const (
	BufferTransferSrc BufferUsage = 1 << iota
	BufferTransferDst
	BufferStorage
	BufferUniform
	BufferVertex
)

// String lists the set flags joined with "|".
func (u BufferUsage) String() string {
	return joinFlags(uint8(u), "TransferSrc", "TransferDst", "Storage", "Uniform", "Vertex")
}

func (u BufferUsage) hal() gputypes.BufferUsage {
	var h gputypes.BufferUsage
	if u&BufferTransferSrc != 0 {
		h |= gputypes.BufferUsageCopySrc
	}
	if u&BufferTransferDst != 0 {
		h |= gputypes.BufferUsageCopyDst
	}
	if u&BufferStorage != 0 {
		h |= gputypes.BufferUsageStorage
	}
	if u&BufferUniform != 0 {
		h |= gputypes.BufferUsageUniform
	}
	if u&BufferVertex != 0 {
		h |= gputypes.BufferUsageVertex
	}
	return h
}

// BufferDesc describes a buffer of Count elements.
type BufferDesc struct {
	Label  string
	Count  int
	Usage  BufferUsage
	Memory MemoryUsage
}

// buffer is the element-type independent part of every Buffer.
type buffer struct {
	resource

	hal      hal.Buffer
	size     uint64
	count    int
	elemSize int
	usage    BufferUsage
	memory   MemoryUsage
	halUsage gputypes.BufferUsage
	region   *MemoryRegion
}

func (b *buffer) raw() *buffer { return b }

// Label returns the buffer's label.
func (b *buffer) Label() string { return b.label }

// Len returns the element count.
func (b *buffer) Len() int { return b.count }

// Size returns the byte size.
func (b *buffer) Size() uint64 { return b.size }

// Usage returns the declared usage.
func (b *buffer) Usage() BufferUsage { return b.usage }

// Memory returns the placement the buffer was allocated with.
func (b *buffer) Memory() MemoryType { return b.region.Type }

// HostVisible reports whether the host can map the buffer for readback.
func (b *buffer) HostVisible() bool {
	return b.region.HostVisible() && b.halUsage&(gputypes.BufferUsageMapRead|gputypes.BufferUsageMapWrite) != 0
}

// Require returns a *UsageError unless the buffer declared every flag in need.
func (b *buffer) Require(op string, need BufferUsage) error {
	if b.usage&need == need {
		return nil
	}
	return &UsageError{Resource: b.label, Op: op, Required: need.String(), Declared: b.usage.String()}
}

// Release destroys the buffer and returns its memory to the allocator.
// It fails with ErrResourceInUse while a descriptor set or command buffer
// references the buffer.
func (b *buffer) Release() error {
	return b.release(func() {
		b.dev.device.DestroyBuffer(b.hal)
		b.dev.memory.Free(b.region)
	})
}

// AnyBuffer is satisfied by every *Buffer[T].
type AnyBuffer interface {
	Label() string
	Size() uint64
	Usage() BufferUsage
	raw() *buffer
}

// Buffer is a GPU buffer of Len elements of T. The byte layout of T is the
// fixed little-endian layout of encoding/binary.
type Buffer[T any] struct {
	buffer
}

var _ AnyBuffer = (*Buffer[uint32])(nil)

// elemSize returns the encoded size of T, or an error if T has no fixed size.
func elemSize[T any]() (int, error) {
	var zero T
	n := binary.Size(zero)
	if n <= 0 {
		return 0, fmt.Errorf("%w: element type %T has no fixed size", ErrResourceCreationFailed, zero)
	}
	return n, nil
}

// NewBuffer creates a buffer of desc.Count elements. Its contents are
// undefined until a command or a streaming constructor writes them.
func NewBuffer[T any](d *Device, desc BufferDesc) (*Buffer[T], error) {
	return newBuffer[T](d, desc, false)
}

func newBuffer[T any](d *Device, desc BufferDesc, initialized bool) (*Buffer[T], error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	es, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	if desc.Count <= 0 {
		return nil, fmt.Errorf("%w: buffer %q has element count %d", ErrResourceCreationFailed, desc.Label, desc.Count)
	}
	hi, size := bits.Mul64(uint64(es), uint64(desc.Count)) //nolint:gosec // G115: both positive
	if hi != 0 {
		return nil, fmt.Errorf("%w: buffer %q: %d elements of %d bytes overflow", ErrResourceCreationFailed, desc.Label, desc.Count, es)
	}

	region, err := d.memory.Allocate(size, desc.Memory)
	if err != nil {
		return nil, fmt.Errorf("buffer %q: %w", desc.Label, err)
	}

	halUsage := desc.Usage.hal() | halBufferUsage(desc.Memory, region.Type)
	if initialized && halUsage&gputypes.BufferUsageMapWrite == 0 {
		// Staged through Queue.WriteBuffer.
		halUsage |= gputypes.BufferUsageCopyDst
	}
	hb, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: halUsage,
	})
	if err != nil {
		d.memory.Free(region)
		return nil, fmt.Errorf("%w: buffer %q: %v", ErrResourceCreationFailed, desc.Label, err)
	}

	b := &Buffer[T]{buffer{
		hal:      hb,
		size:     size,
		count:    desc.Count,
		elemSize: es,
		usage:    desc.Usage,
		memory:   desc.Memory,
		halUsage: halUsage,
		region:   region,
	}}
	if err := d.track(&b.resource, "buffer", desc.Label); err != nil {
		d.device.DestroyBuffer(hb)
		d.memory.Free(region)
		return nil, err
	}

	Logger().Debug("gpuflow: buffer created",
		"label", desc.Label, "bytes", size, "usage", desc.Usage, "memory", region.Type.Properties)
	return b, nil
}

// NewBufferFromSeq creates a buffer and streams exactly desc.Count
// elements of seq into it. A sequence that ends early or yields more than
// desc.Count elements fails with ErrSizeMismatch and no buffer is kept.
func NewBufferFromSeq[T any](d *Device, desc BufferDesc, seq iter.Seq[T]) (*Buffer[T], error) {
	b, err := newBuffer[T](d, desc, true)
	if err != nil {
		return nil, err
	}
	if err := b.fill(seq); err != nil {
		if rerr := b.Release(); rerr != nil {
			Logger().Warn("gpuflow: release after failed fill", "label", desc.Label, "err", rerr)
		}
		return nil, err
	}
	return b, nil
}

func (b *Buffer[T]) fill(seq iter.Seq[T]) error {
	return b.write(func(dst []byte) error {
		n := 0
		var encErr error
		extra := false
		for v := range seq {
			if n == b.count {
				extra = true
				break
			}
			if _, err := binary.Encode(dst[n*b.elemSize:], binary.LittleEndian, v); err != nil {
				encErr = err
				break
			}
			n++
		}
		switch {
		case encErr != nil:
			return fmt.Errorf("%w: buffer %q element %d: %v", ErrResourceCreationFailed, b.label, n, encErr)
		case extra:
			return fmt.Errorf("%w: buffer %q: sequence yields more than %d elements", ErrSizeMismatch, b.label, b.count)
		case n < b.count:
			return fmt.Errorf("%w: buffer %q: sequence ended after %d of %d elements", ErrSizeMismatch, b.label, n, b.count)
		}
		return nil
	})
}

// write hands fn the buffer's bytes: a live mapping for mappable memory,
// a staging slice uploaded through the queue otherwise.
func (b *buffer) write(fn func(dst []byte) error) error {
	d := b.dev
	if b.halUsage&gputypes.BufferUsageMapWrite != 0 {
		m, err := d.device.MapBuffer(b.hal, 0, b.size)
		if err != nil {
			return fmt.Errorf("%w: map %q: %v", ErrResourceCreationFailed, b.label, err)
		}
		dst := unsafe.Slice((*byte)(m.Ptr), int(b.size)) //nolint:gosec // G115: size fits the allocation
		ferr := fn(dst)
		if err := d.device.UnmapBuffer(b.hal); err != nil && ferr == nil {
			ferr = fmt.Errorf("%w: unmap %q: %v", ErrResourceCreationFailed, b.label, err)
		}
		return ferr
	}

	staging := make([]byte, b.size)
	if err := fn(staging); err != nil {
		return err
	}
	if err := d.queue.WriteBuffer(b.hal, 0, staging); err != nil {
		return fmt.Errorf("%w: upload %q: %v", ErrResourceCreationFailed, b.label, err)
	}
	return nil
}

// Number is the set of fixed-size numeric element types.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Counting yields 0, 1, ..., n-1.
func Counting[T Number](n int) iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := range n {
			if !yield(T(i)) {
				return
			}
		}
	}
}

// Repeat yields v n times. Repeat(T(0), n) is a zero fill.
func Repeat[T any](v T, n int) iter.Seq[T] {
	return func(yield func(T) bool) {
		for range n {
			if !yield(v) {
				return
			}
		}
	}
}
