package gpuflow

import "testing"

func TestGroupCount(t *testing.T) {
	tests := []struct {
		name          string
		domain, local [3]uint32
		want          [3]uint32
	}{
		{"exact", [3]uint32{256, 1, 1}, [3]uint32{64, 1, 1}, [3]uint32{4, 1, 1}},
		{"rounds up", [3]uint32{257, 1, 1}, [3]uint32{64, 1, 1}, [3]uint32{5, 1, 1}},
		{"2d", [3]uint32{100, 30, 1}, [3]uint32{8, 8, 1}, [3]uint32{13, 4, 1}},
		{"smaller than a group", [3]uint32{3, 3, 1}, [3]uint32{8, 8, 1}, [3]uint32{1, 1, 1}},
		{"empty domain", [3]uint32{0, 5, 1}, [3]uint32{8, 8, 1}, [3]uint32{0, 1, 1}},
		{"zero local treated as one", [3]uint32{7, 2, 3}, [3]uint32{0, 0, 0}, [3]uint32{7, 2, 3}},
		{"no overflow near max", [3]uint32{^uint32(0), 1, 1}, [3]uint32{64, 1, 1}, [3]uint32{1 << 26, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GroupCount(tt.domain, tt.local); got != tt.want {
				t.Errorf("GroupCount(%v, %v) = %v, want %v", tt.domain, tt.local, got, tt.want)
			}
		})
	}
}
