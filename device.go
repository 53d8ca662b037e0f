package gpuflow

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// QueueFlags describes what a queue family can execute.
type QueueFlags uint8

const (
	QueueGraphics QueueFlags = 1 << iota
	QueueCompute
	QueueTransfer
)

// Contains reports whether every flag in other is set in f.
func (f QueueFlags) Contains(other QueueFlags) bool { return f&other == other }

// String returns the flags joined with "|".
func (f QueueFlags) String() string {
	var parts []string
	if f&QueueGraphics != 0 {
		parts = append(parts, "graphics")
	}
	if f&QueueCompute != 0 {
		parts = append(parts, "compute")
	}
	if f&QueueTransfer != 0 {
		parts = append(parts, "transfer")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// QueueFamily is the single queue family a HAL adapter exposes.
type QueueFamily struct {
	Index uint32
	Flags QueueFlags
}

// AdapterDesc describes one enumerated adapter.
type AdapterDesc struct {
	Index  int
	Info   gputypes.AdapterInfo
	Family QueueFamily
}

// DeviceOptions controls adapter selection.
type DeviceOptions struct {
	// QueueFlags lists capabilities the queue family must have.
	// Zero accepts any family with graphics or compute.
	QueueFlags QueueFlags

	// AdapterName restricts selection to adapters whose name contains
	// this substring, case-insensitively.
	AdapterName string

	// Memory configures the device's allocator.
	Memory MemoryAllocatorConfig
}

func queueFamilyOf(a *hal.ExposedAdapter) QueueFamily {
	flags := QueueTransfer
	caps := a.Capabilities.DownlevelCapabilities
	if caps.Flags&hal.DownlevelFlagsComputeShaders != 0 {
		flags |= QueueCompute
	}
	if caps.ShaderModel > 0 || a.Info.DeviceType == gputypes.DeviceTypeCPU {
		flags |= QueueGraphics
	}
	return QueueFamily{Index: 0, Flags: flags}
}

func (o DeviceOptions) accepts(f QueueFamily) bool {
	if o.QueueFlags == 0 {
		return f.Flags&(QueueGraphics|QueueCompute) != 0
	}
	return f.Flags.Contains(o.QueueFlags)
}

// Adapters lists the adapters a backend exposes.
func Adapters(b hal.Backend) ([]AdapterDesc, error) {
	inst, err := b.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("gpuflow: create instance: %w", err)
	}
	defer inst.Destroy()
	return describe(inst.EnumerateAdapters(nil)), nil
}

func describe(exposed []hal.ExposedAdapter) []AdapterDesc {
	out := make([]AdapterDesc, len(exposed))
	for i := range exposed {
		out[i] = AdapterDesc{Index: i, Info: exposed[i].Info, Family: queueFamilyOf(&exposed[i])}
	}
	return out
}

// Device is an open logical device with exactly one queue.
//
// Every buffer, image, pipeline, descriptor set and command buffer is
// registered with the Device that created it. Close refuses to destroy a
// device while any of them is still alive.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	adapter  hal.Adapter
	desc     AdapterDesc
	device   hal.Device
	queue    hal.Queue

	memory  *MemoryAllocator
	layouts *layoutCache

	live     map[uint64]*resource
	nextID   uint64
	inFlight *CompletionToken
	closed   bool
}

var _ gpucontext.DeviceProvider = (*Device)(nil)

// Open selects the first adapter of b with a capable queue family and
// opens a device with one queue on it. There is no fallback: if the
// backend cannot provide a capable device, Open fails.
func Open(b hal.Backend, opts DeviceOptions) (*Device, error) {
	inst, err := b.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %v", ErrNoDeviceFound, err)
	}

	exposed := inst.EnumerateAdapters(nil)
	if len(exposed) == 0 {
		inst.Destroy()
		return nil, fmt.Errorf("%w: backend %s exposes no adapters", ErrNoDeviceFound, b.Variant())
	}

	descs := describe(exposed)
	idx := slices.IndexFunc(descs, func(d AdapterDesc) bool {
		if opts.AdapterName != "" &&
			!strings.Contains(strings.ToLower(d.Info.Name), strings.ToLower(opts.AdapterName)) {
			return false
		}
		return opts.accepts(d.Family)
	})
	if idx < 0 {
		inst.Destroy()
		return nil, fmt.Errorf("%w: %d adapter(s), none with queue flags %s", ErrNoCapableQueueFamily, len(descs), wantFlags(opts))
	}

	selected := exposed[idx]
	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		inst.Destroy()
		return nil, fmt.Errorf("%w: open %q: %v", ErrNoDeviceFound, selected.Info.Name, err)
	}

	d := &Device{
		instance: inst,
		adapter:  selected.Adapter,
		desc:     descs[idx],
		device:   open.Device,
		queue:    open.Queue,
		live:     make(map[uint64]*resource),
	}
	d.memory = newMemoryAllocator(selected.Info.DeviceType, opts.Memory)
	d.layouts = newLayoutCache(open.Device)

	Logger().Info("gpuflow: device opened",
		"adapter", selected.Info.Name,
		"type", selected.Info.DeviceType,
		"backend", selected.Info.Backend,
		"queue", d.desc.Family.Flags)
	return d, nil
}

func wantFlags(o DeviceOptions) string {
	if o.QueueFlags == 0 {
		return "graphics-or-compute"
	}
	return o.QueueFlags.String()
}

// Adapter returns the HAL adapter the device was opened on.
func (d *Device) Adapter() gpucontext.Adapter { return d.adapter }

// Device returns the underlying HAL device.
func (d *Device) Device() gpucontext.Device { return d.device }

// Queue returns the underlying HAL queue.
func (d *Device) Queue() gpucontext.Queue { return d.queue }

// SurfaceFormat returns TextureFormatUndefined; gpuflow never presents.
func (d *Device) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }

// AdapterInfo reports the selected adapter in gpucontext terms.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	t := gpucontext.AdapterTypeUnknown
	switch d.desc.Info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		t = gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		t = gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		t = gpucontext.AdapterTypeSoftware
	}
	return gpucontext.AdapterInfo{Name: d.desc.Info.Name, Type: t}
}

// Desc returns the selected adapter's description.
func (d *Device) Desc() AdapterDesc { return d.desc }

// QueueFamily returns the family of the device's only queue.
func (d *Device) QueueFamily() QueueFamily { return d.desc.Family }

// Memory returns the device's memory allocator.
func (d *Device) Memory() *MemoryAllocator { return d.memory }

// LiveResources returns "kind \"label\"" descriptions of every live resource.
func (d *Device) LiveResources() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveLocked()
}

func (d *Device) liveLocked() []string {
	out := make([]string, 0, len(d.live))
	for _, r := range d.live {
		out = append(out, r.String())
	}
	slices.Sort(out)
	return out
}

// Close destroys the device. It fails with ErrLiveResources, leaving the
// device open, while any resource created from it is still alive.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if err := d.device.WaitIdle(); err != nil {
		Logger().Warn("gpuflow: wait idle before close", "err", err)
	}
	if len(d.live) > 0 {
		return fmt.Errorf("%w: %s", ErrLiveResources, strings.Join(d.liveLocked(), ", "))
	}

	d.layouts.destroy()
	d.memory.close()
	d.device.Destroy()
	d.instance.Destroy()
	d.closed = true
	Logger().Info("gpuflow: device closed", "adapter", d.desc.Info.Name)
	return nil
}

// checkOpen returns ErrDeviceClosed after Close.
func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	return nil
}

// resource is the lifetime record shared by every device child.
type resource struct {
	dev      *Device
	id       uint64
	kind     string
	label    string
	refs     int
	released bool
}

func (r *resource) String() string { return fmt.Sprintf("%s %q", r.kind, r.label) }

// track registers r with d.
func (d *Device) track(r *resource, kind, label string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	d.nextID++
	r.dev, r.id, r.kind, r.label = d, d.nextID, kind, label
	d.live[r.id] = r
	return nil
}

func (r *resource) retain() {
	r.dev.mu.Lock()
	r.refs++
	r.dev.mu.Unlock()
}

func (r *resource) drop() {
	r.dev.mu.Lock()
	if r.refs > 0 {
		r.refs--
	}
	r.dev.mu.Unlock()
}

// release unregisters r and runs destroy. It refuses while dependents
// still reference r.
func (r *resource) release(destroy func()) error {
	d := r.dev
	d.mu.Lock()
	if r.released {
		d.mu.Unlock()
		return nil
	}
	if r.refs > 0 {
		n := r.refs
		d.mu.Unlock()
		return fmt.Errorf("%w: %s referenced by %d dependent(s)", ErrResourceInUse, r, n)
	}
	r.released = true
	delete(d.live, r.id)
	d.mu.Unlock()

	destroy()
	Logger().Debug("gpuflow: released", "kind", r.kind, "label", r.label)
	return nil
}

func (r *resource) alive() error {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()
	if r.released {
		return fmt.Errorf("%w: %s", ErrResourceReleased, r)
	}
	return nil
}
