package gpuflow

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Bindable is a resource that can fill a descriptor slot: any *Buffer[T]
// or *Image.
type Bindable interface {
	Label() string
	res() *resource
}

func (b *buffer) res() *resource { return &b.resource }

func (i *Image) res() *resource { return &i.resource }

// SlotResource places a resource at one binding slot.
type SlotResource struct {
	Slot     uint32
	Resource Bindable
}

// Slot is shorthand for SlotResource{n, r}.
func Slot(n uint32, r Bindable) SlotResource { return SlotResource{Slot: n, Resource: r} }

// DescriptorSet holds the concrete resources for one set of a pipeline
// layout. It is immutable and keeps its resources alive until released.
type DescriptorSet struct {
	resource

	hal     hal.BindGroup
	layout  *PipelineLayout
	index   uint32
	members []Bindable
	buffers []*buffer
}

// BindDescriptors checks resources against set index of layout and
// creates the descriptor set. Every slot of the set must be supplied
// exactly once with a resource of the slot's kind whose usage allows that
// kind. Violations fail with a *BindingError.
func (d *Device) BindDescriptors(layout *PipelineLayout, index uint32, resources []SlotResource) (*DescriptorSet, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if int(index) >= layout.SetCount() {
		return nil, &BindingError{Set: index, Detail: fmt.Sprintf("layout has %d set(s)", layout.SetCount())}
	}
	slots := layout.sets[index]

	expected := make([]uint32, len(slots))
	for i, lb := range slots {
		expected[i] = lb.Slot
	}
	supplied := slices.Clone(resources)
	slices.SortStableFunc(supplied, func(a, b SlotResource) int { return cmp.Compare(a.Slot, b.Slot) })
	actual := make([]uint32, len(supplied))
	for i, sr := range supplied {
		actual[i] = sr.Slot
	}

	for i := 1; i < len(actual); i++ {
		if actual[i] == actual[i-1] {
			return nil, &BindingError{Set: index, Expected: expected, Actual: actual,
				Detail: fmt.Sprintf("slot %d supplied twice", actual[i])}
		}
	}
	if !slices.Equal(expected, actual) {
		return nil, &BindingError{Set: index, Expected: expected, Actual: actual, Detail: slotDiff(expected, actual)}
	}

	entries := make([]gputypes.BindGroupEntry, len(slots))
	set := &DescriptorSet{layout: layout, index: index}
	for i, lb := range slots {
		r := supplied[i].Resource
		if r == nil {
			return nil, &BindingError{Set: index, Detail: fmt.Sprintf("slot %d: nil resource", lb.Slot)}
		}
		if err := r.res().alive(); err != nil {
			return nil, fmt.Errorf("descriptor set %d slot %d: %w", index, lb.Slot, err)
		}
		br, err := bindingResource(lb, r)
		if err != nil {
			return nil, &BindingError{Set: index, Detail: fmt.Sprintf("slot %d (%s %q): %v", lb.Slot, lb.Kind, lb.Name, err)}
		}
		entries[i] = gputypes.BindGroupEntry{Binding: lb.Slot, Resource: br}
		set.members = append(set.members, r)
		if ab, ok := r.(AnyBuffer); ok {
			set.buffers = append(set.buffers, ab.raw())
		}
	}

	label := fmt.Sprintf("set %d", index)
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label,
		Layout:  layout.groups[index],
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: descriptor set %d: %v", ErrResourceCreationFailed, index, err)
	}
	set.hal = bg
	if err := d.track(&set.resource, "descriptor set", label); err != nil {
		d.device.DestroyBindGroup(bg)
		return nil, err
	}
	for _, m := range set.members {
		m.res().retain()
	}
	Logger().Debug("gpuflow: descriptor set bound", "set", index, "slots", len(entries))
	return set, nil
}

func slotDiff(expected, actual []uint32) string {
	var missing, extra []uint32
	for _, s := range expected {
		if !slices.Contains(actual, s) {
			missing = append(missing, s)
		}
	}
	for _, s := range actual {
		if !slices.Contains(expected, s) {
			extra = append(extra, s)
		}
	}
	switch {
	case len(missing) > 0 && len(extra) > 0:
		return fmt.Sprintf("slots %v not supplied, slots %v not in layout", missing, extra)
	case len(missing) > 0:
		return fmt.Sprintf("slots %v not supplied", missing)
	default:
		return fmt.Sprintf("slots %v not in layout", extra)
	}
}

// bindingResource checks r against the slot and returns its HAL binding.
func bindingResource(lb LayoutBinding, r Bindable) (gputypes.BindingResource, error) {
	switch lb.Kind {
	case KindUniformBuffer, KindStorageBuffer:
		ab, ok := r.(AnyBuffer)
		if !ok {
			return nil, fmt.Errorf("needs a buffer, got %T", r)
		}
		b := ab.raw()
		need := BufferStorage
		if lb.Kind == KindUniformBuffer {
			need = BufferUniform
		}
		if err := b.Require("bind "+lb.Kind.String(), need); err != nil {
			return nil, err
		}
		if b.size < lb.MinSize {
			return nil, fmt.Errorf("buffer %q is %d bytes, shader needs at least %d", b.label, b.size, lb.MinSize)
		}
		return gputypes.BufferBinding{Buffer: b.hal.NativeHandle(), Size: b.size}, nil

	case KindSampledImage, KindStorageImage:
		img, ok := r.(*Image)
		if !ok {
			return nil, fmt.Errorf("needs an image, got %T", r)
		}
		need := ImageSampled
		if lb.Kind == KindStorageImage {
			need = ImageStorage
			if lb.Format != gputypes.TextureFormatUndefined && lb.Format != img.format {
				return nil, fmt.Errorf("image %q is %s, shader declares %s", img.label, img.format, lb.Format)
			}
		}
		if err := img.Require("bind "+lb.Kind.String(), need); err != nil {
			return nil, err
		}
		return gputypes.TextureViewBinding{TextureView: img.view.NativeHandle()}, nil

	default:
		return nil, fmt.Errorf("%s slots cannot be bound", lb.Kind)
	}
}

// Layout returns the layout the set was checked against.
func (s *DescriptorSet) Layout() *PipelineLayout { return s.layout }

// Index returns the set number within the layout.
func (s *DescriptorSet) Index() uint32 { return s.index }

// Release destroys the set and drops its references on its resources.
func (s *DescriptorSet) Release() error {
	return s.release(func() {
		s.dev.device.DestroyBindGroup(s.hal)
		for _, m := range s.members {
			m.res().drop()
		}
	})
}
