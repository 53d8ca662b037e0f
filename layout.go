package gpuflow

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/gogpu/gpuflow/internal/cache"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// LayoutBinding is one slot of a pipeline layout: a reflected binding
// plus the stages that use it.
type LayoutBinding struct {
	Binding
	Visibility gputypes.ShaderStages
}

// PipelineLayout is the descriptor set shape a pipeline expects, derived
// from reflected shader bindings. Sets are numbered contiguously from 0;
// a set no shader uses is empty.
//
// Layouts with identical structure derived on one Device are the same
// *PipelineLayout. They are owned by the Device and destroyed by Close.
type PipelineLayout struct {
	key    string
	sets   [][]LayoutBinding
	groups []hal.BindGroupLayout
	hal    hal.PipelineLayout
}

// Key returns the structural key the layout is shared under.
func (l *PipelineLayout) Key() string { return l.key }

// SetCount returns the number of descriptor sets.
func (l *PipelineLayout) SetCount() int { return len(l.sets) }

// Set returns the slots of one set ordered by slot number, or nil if the
// layout has no such set.
func (l *PipelineLayout) Set(index uint32) []LayoutBinding {
	if int(index) >= len(l.sets) {
		return nil
	}
	return append([]LayoutBinding(nil), l.sets[index]...)
}

// stageBindings is the reflected interface of one pipeline stage.
type stageBindings struct {
	stage    Stage
	bindings []Binding
}

// mergeBindings folds the bindings of every stage into per-set slot lists.
// A slot used by several stages must have the same kind in all of them.
func mergeBindings(stages []stageBindings) ([][]LayoutBinding, error) {
	bySlot := map[[2]uint32]*LayoutBinding{}
	var order [][2]uint32
	for _, s := range stages {
		for _, b := range s.bindings {
			k := [2]uint32{b.Set, b.Slot}
			if have, ok := bySlot[k]; ok {
				if have.Kind != b.Kind {
					return nil, fmt.Errorf("%w: set %d slot %d is %s in one stage and %s in %s",
						ErrBindingSetMismatch, b.Set, b.Slot, have.Kind, b.Kind, s.stage)
				}
				have.Visibility |= s.stage.Visibility()
				continue
			}
			bySlot[k] = &LayoutBinding{Binding: b, Visibility: s.stage.Visibility()}
			order = append(order, k)
		}
	}

	var sets [][]LayoutBinding
	for _, k := range order {
		for uint32(len(sets)) <= k[0] {
			sets = append(sets, nil)
		}
		sets[k[0]] = append(sets[k[0]], *bySlot[k])
	}
	for _, set := range sets {
		slices.SortFunc(set, func(a, b LayoutBinding) int { return cmp.Compare(a.Slot, b.Slot) })
	}
	return sets, nil
}

// layoutKey renders sets into a string that is equal for structurally
// equal layouts.
func layoutKey(sets [][]LayoutBinding) string {
	var b strings.Builder
	for i, set := range sets {
		if i > 0 {
			b.WriteByte('|')
		}
		for _, lb := range set {
			fmt.Fprintf(&b, "%d:%d:%d:%d:%d:%d;", lb.Slot, lb.Kind, lb.Access, lb.Format, lb.Visibility, lb.MinSize)
		}
	}
	return b.String()
}

func layoutEntry(lb LayoutBinding) gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{Binding: lb.Slot, Visibility: lb.Visibility}
	switch lb.Kind {
	case KindUniformBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case KindStorageBuffer:
		t := gputypes.BufferBindingTypeStorage
		if lb.Access == AccessReadOnly {
			t = gputypes.BufferBindingTypeReadOnlyStorage
		}
		e.Buffer = &gputypes.BufferBindingLayout{Type: t}
	case KindSampledImage:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case KindStorageImage:
		access := gputypes.StorageTextureAccessReadWrite
		switch lb.Access {
		case AccessWriteOnly:
			access = gputypes.StorageTextureAccessWriteOnly
		case AccessReadOnly:
			access = gputypes.StorageTextureAccessReadOnly
		}
		e.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        access,
			Format:        lb.Format,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case KindSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	}
	return e
}

// layoutCache shares HAL layouts between structurally equal derivations.
type layoutCache struct {
	c *cache.Cache[string, *PipelineLayout]
}

func newLayoutCache(dev hal.Device) *layoutCache {
	return &layoutCache{c: cache.New(0, cache.WithOnEvict(func(_ string, l *PipelineLayout) {
		dev.DestroyPipelineLayout(l.hal)
		for _, g := range l.groups {
			dev.DestroyBindGroupLayout(g)
		}
	}))}
}

func (lc *layoutCache) len() int { return lc.c.Len() }

func (lc *layoutCache) destroy() { lc.c.Clear() }

// deriveLayout returns the layout for the given stages, creating the HAL
// objects the first time a structure is seen.
func (d *Device) deriveLayout(label string, stages ...stageBindings) (*PipelineLayout, error) {
	sets, err := mergeBindings(stages)
	if err != nil {
		return nil, err
	}
	key := layoutKey(sets)

	return d.layouts.c.GetOrCreate(key, func() (*PipelineLayout, error) {
		l := &PipelineLayout{key: key, sets: sets}
		for i, set := range sets {
			entries := make([]gputypes.BindGroupLayoutEntry, len(set))
			for j, lb := range set {
				entries[j] = layoutEntry(lb)
			}
			g, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
				Label:   fmt.Sprintf("%s set %d", label, i),
				Entries: entries,
			})
			if err != nil {
				d.destroyLayout(l)
				return nil, fmt.Errorf("%w: bind group layout %d for %q: %v", ErrResourceCreationFailed, i, label, err)
			}
			l.groups = append(l.groups, g)
		}

		pl, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            label + " layout",
			BindGroupLayouts: l.groups,
		})
		if err != nil {
			d.destroyLayout(l)
			return nil, fmt.Errorf("%w: pipeline layout for %q: %v", ErrResourceCreationFailed, label, err)
		}
		l.hal = pl
		Logger().Debug("gpuflow: pipeline layout derived", "label", label, "sets", len(sets), "key", key)
		return l, nil
	})
}

func (d *Device) destroyLayout(l *PipelineLayout) {
	for _, g := range l.groups {
		d.device.DestroyBindGroupLayout(g)
	}
}
