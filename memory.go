package gpuflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"
)

// Default memory limits.
const (
	// DefaultMaxMemoryMB is the default allocation budget (256 MB).
	DefaultMaxMemoryMB = 256

	// MinMemoryMB is the smallest budget accepted (16 MB).
	MinMemoryMB = 16
)

// MemoryUsage is the placement filter every allocation declares. Flags
// combine: HostVisible|HostRandomAccess is the usual readback request.
type MemoryUsage uint8

const (
	// DeviceLocal asks for the memory the device reads fastest. Alone,
	// it prefers memory the host cannot map. The zero filter means
	// DeviceLocal.
	DeviceLocal MemoryUsage = 1 << iota

	// HostVisible asks for memory the host can map.
	HostVisible

	// HostSequentialWrite asks for mappable memory the host fills once,
	// front to back. Uncached types are preferred.
	HostSequentialWrite

	// HostRandomAccess asks for mappable memory the host reads after the
	// device writes it. Cached types are preferred.
	HostRandomAccess
)

// String lists the set filters joined with "|".
func (u MemoryUsage) String() string {
	if u == 0 {
		return "DeviceLocal"
	}
	return joinFlags(uint8(u), "DeviceLocal", "HostVisible", "HostSequentialWrite", "HostRandomAccess")
}

func (u MemoryUsage) hostAccess() bool {
	return u&(HostVisible|HostSequentialWrite|HostRandomAccess) != 0
}

// MemoryProperty flags describe a memory type.
type MemoryProperty uint8

const (
	PropertyDeviceLocal MemoryProperty = 1 << iota
	PropertyHostVisible
	PropertyHostCoherent
	PropertyHostCached
)

// String lists the set properties joined with "|".
func (p MemoryProperty) String() string {
	return joinFlags(uint8(p), "DeviceLocal", "HostVisible", "HostCoherent", "HostCached")
}

func joinFlags(v uint8, names ...string) string {
	var parts []string
	for i, n := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// MemoryType is one memory type the allocator can place into.
type MemoryType struct {
	Index      uint32
	Properties MemoryProperty
}

// MemoryStats contains allocator usage statistics.
type MemoryStats struct {
	TotalBytes     uint64
	UsedBytes      uint64
	AvailableBytes uint64
	Allocations    int
	Utilization    float64
}

// String returns a human-readable form of the stats.
func (s MemoryStats) String() string {
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d KB, %d allocations]",
		s.Utilization*100,
		s.UsedBytes/1024,
		s.TotalBytes/1024,
		s.Allocations)
}

// MemoryAllocatorConfig configures a device's allocator.
type MemoryAllocatorConfig struct {
	// MaxMemoryMB is the budget in megabytes. Values below MinMemoryMB
	// select DefaultMaxMemoryMB.
	MaxMemoryMB int

	// Types overrides the memory types derived from the adapter.
	Types []MemoryType
}

// MemoryRegion is one budgeted allocation.
type MemoryRegion struct {
	Type MemoryType
	Size uint64

	id    uint64
	freed bool
}

// HostVisible reports whether the host can map the region.
func (r *MemoryRegion) HostVisible() bool { return r.Type.Properties&PropertyHostVisible != 0 }

// MemoryAllocator selects a memory type for each allocation and enforces
// the device's budget.
//
// MemoryAllocator is safe for concurrent use.
type MemoryAllocator struct {
	mu sync.Mutex

	types       []MemoryType
	budgetBytes uint64
	usedBytes   uint64
	regions     map[uint64]*MemoryRegion
	nextID      uint64
	closed      bool
}

func newMemoryAllocator(class gputypes.DeviceType, cfg MemoryAllocatorConfig) *MemoryAllocator {
	maxMB := cfg.MaxMemoryMB
	if maxMB < MinMemoryMB {
		maxMB = DefaultMaxMemoryMB
	}
	types := cfg.Types
	if len(types) == 0 {
		types = memoryTypesFor(class)
	}

	//nolint:gosec // G115: maxMB is bounded below by MinMemoryMB
	return &MemoryAllocator{
		types:       types,
		budgetBytes: uint64(maxMB) * 1024 * 1024,
		regions:     make(map[uint64]*MemoryRegion),
	}
}

// memoryTypesFor models the memory heaps of an adapter class. Discrete
// adapters keep device memory apart from host memory; integrated and
// software adapters share one unified heap.
func memoryTypesFor(t gputypes.DeviceType) []MemoryType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeVirtualGPU:
		return []MemoryType{
			{Index: 0, Properties: PropertyDeviceLocal},
			{Index: 1, Properties: PropertyHostVisible | PropertyHostCoherent},
			{Index: 2, Properties: PropertyHostVisible | PropertyHostCoherent | PropertyHostCached},
		}
	default:
		return []MemoryType{
			{Index: 0, Properties: PropertyDeviceLocal | PropertyHostVisible | PropertyHostCoherent},
			{Index: 1, Properties: PropertyDeviceLocal | PropertyHostVisible | PropertyHostCoherent | PropertyHostCached},
		}
	}
}

// Types returns the memory types the allocator selects from.
func (m *MemoryAllocator) Types() []MemoryType {
	return append([]MemoryType(nil), m.types...)
}

// SelectType picks the memory type for a filter. DeviceLocal needs a
// device-local type and any host filter needs a host-visible one. Random
// access prefers cached types, sequential write prefers uncached ones, and
// a plain DeviceLocal request prefers types the host cannot map. Remaining
// ties go to the lowest index.
func (m *MemoryAllocator) SelectType(usage MemoryUsage) (MemoryType, error) {
	if usage == 0 {
		usage = DeviceLocal
	}
	best, bestScore := -1, -1
	for i, t := range m.types {
		if usage&DeviceLocal != 0 && t.Properties&PropertyDeviceLocal == 0 {
			continue
		}
		if usage.hostAccess() && t.Properties&PropertyHostVisible == 0 {
			continue
		}

		score := 0
		cached := t.Properties&PropertyHostCached != 0
		switch {
		case usage&HostRandomAccess != 0 && cached:
			score = 2
		case usage&HostSequentialWrite != 0 && !cached:
			score = 2
		case usage == DeviceLocal && t.Properties&PropertyHostVisible == 0:
			score = 1
		}
		if score > bestScore || (score == bestScore && t.Index < m.types[best].Index) {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return MemoryType{}, fmt.Errorf("%w: no type satisfies %s among %d types", ErrNoSuitableMemoryType, usage, len(m.types))
	}
	return m.types[best], nil
}

// Allocate reserves size bytes of budget in the type selected for usage.
func (m *MemoryAllocator) Allocate(size uint64, usage MemoryUsage) (*MemoryRegion, error) {
	t, err := m.SelectType(usage)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDeviceClosed
	}
	if size > m.budgetBytes-m.usedBytes {
		return nil, fmt.Errorf("%w: need %d bytes, have %d bytes available",
			ErrMemoryBudgetExceeded, size, m.budgetBytes-m.usedBytes)
	}

	m.nextID++
	r := &MemoryRegion{Type: t, Size: size, id: m.nextID}
	m.regions[r.id] = r
	m.usedBytes += size
	return r, nil
}

// Free returns a region's bytes to the budget. Freeing twice is a no-op.
func (m *MemoryAllocator) Free(r *MemoryRegion) {
	if r == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.freed {
		return
	}
	r.freed = true
	if _, ok := m.regions[r.id]; ok {
		delete(m.regions, r.id)
		m.usedBytes -= r.Size
	}
}

// Stats returns current usage statistics.
func (m *MemoryAllocator) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var utilization float64
	if m.budgetBytes > 0 {
		utilization = float64(m.usedBytes) / float64(m.budgetBytes)
	}
	return MemoryStats{
		TotalBytes:     m.budgetBytes,
		UsedBytes:      m.usedBytes,
		AvailableBytes: m.budgetBytes - m.usedBytes,
		Allocations:    len(m.regions),
		Utilization:    utilization,
	}
}

func (m *MemoryAllocator) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = nil
	m.usedBytes = 0
	m.closed = true
}

// halBufferUsage returns the HAL map flag a placement needs, if any.
func halBufferUsage(usage MemoryUsage, t MemoryType) gputypes.BufferUsage {
	if t.Properties&PropertyHostVisible == 0 || !usage.hostAccess() {
		return 0
	}
	if usage&HostSequentialWrite != 0 && usage&HostRandomAccess == 0 {
		return gputypes.BufferUsageMapWrite
	}
	return gputypes.BufferUsageMapRead
}
