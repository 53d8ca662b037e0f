package gpuflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
)

// openDevice opens a device on b and checks on cleanup that the test
// released everything it created.
func openDevice(t *testing.T, b hal.Backend, opts DeviceOptions) *Device {
	t.Helper()
	d, err := Open(b, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return d
}

func openSoftware(t *testing.T) *Device {
	t.Helper()
	return openDevice(t, software.API{}, DeviceOptions{})
}

func openNoop(t *testing.T) *Device {
	t.Helper()
	return openDevice(t, noop.API{}, DeviceOptions{QueueFlags: QueueTransfer})
}

func release(t *testing.T, rs ...interface{ Release() error }) {
	t.Helper()
	for _, r := range rs {
		if err := r.Release(); err != nil {
			t.Errorf("Release: %v", err)
		}
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		backend hal.Backend
		opts    DeviceOptions
		wantErr error
		flags   QueueFlags
	}{
		{"software", software.API{}, DeviceOptions{}, nil, QueueGraphics | QueueCompute | QueueTransfer},
		{"software compute", software.API{}, DeviceOptions{QueueFlags: QueueCompute}, nil, QueueGraphics | QueueCompute | QueueTransfer},
		{"noop has no compute", noop.API{}, DeviceOptions{}, ErrNoCapableQueueFamily, 0},
		{"noop transfer", noop.API{}, DeviceOptions{QueueFlags: QueueTransfer}, nil, QueueTransfer},
		{"adapter name filter", software.API{}, DeviceOptions{AdapterName: "nvidia"}, ErrNoCapableQueueFamily, 0},
		{"adapter name case", software.API{}, DeviceOptions{AdapterName: "SOFTWARE"}, nil, QueueGraphics | QueueCompute | QueueTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Open(tt.backend, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer d.Close()
			if got := d.QueueFamily().Flags; got != tt.flags {
				t.Errorf("queue flags = %s, want %s", got, tt.flags)
			}
		})
	}
}

func TestAdapters(t *testing.T) {
	descs, err := Adapters(software.API{})
	if err != nil {
		t.Fatalf("Adapters: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("len = %d, want 1", len(descs))
	}
	a := descs[0]
	if a.Index != 0 || a.Info.DeviceType != gputypes.DeviceTypeCPU {
		t.Errorf("adapter = %+v, want index 0 of type CPU", a)
	}
	if !a.Family.Flags.Contains(QueueCompute | QueueTransfer) {
		t.Errorf("family = %s, want compute and transfer", a.Family.Flags)
	}
}

func TestQueueFlags(t *testing.T) {
	tests := []struct {
		flags QueueFlags
		want  string
	}{
		{0, "none"},
		{QueueCompute, "compute"},
		{QueueGraphics | QueueTransfer, "graphics|transfer"},
		{QueueGraphics | QueueCompute | QueueTransfer, "graphics|compute|transfer"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("QueueFlags(%d).String() = %q, want %q", tt.flags, got, tt.want)
		}
	}
	if !(QueueCompute | QueueTransfer).Contains(QueueTransfer) {
		t.Error("compute|transfer should contain transfer")
	}
	if QueueTransfer.Contains(QueueCompute | QueueTransfer) {
		t.Error("transfer should not contain compute|transfer")
	}
}

func TestDeviceProvider(t *testing.T) {
	d := openSoftware(t)
	var p gpucontext.DeviceProvider = d
	if p.SurfaceFormat() != gputypes.TextureFormatUndefined {
		t.Errorf("SurfaceFormat = %v, want undefined", p.SurfaceFormat())
	}
	info := d.AdapterInfo()
	if info.Type != gpucontext.AdapterTypeSoftware || info.Name != d.Desc().Info.Name {
		t.Errorf("AdapterInfo = %+v", info)
	}
}

func TestCloseWithLiveResources(t *testing.T) {
	d, err := Open(software.API{}, DeviceOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, err := NewBuffer[uint32](d, BufferDesc{Label: "leak", Count: 16, Usage: BufferStorage})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	err = d.Close()
	if !errors.Is(err, ErrLiveResources) {
		t.Fatalf("Close() error = %v, want ErrLiveResources", err)
	}
	if !strings.Contains(err.Error(), `buffer "leak"`) {
		t.Errorf("error %q does not name the buffer", err)
	}
	if got := d.LiveResources(); len(got) != 1 {
		t.Errorf("LiveResources = %v, want one", got)
	}

	release(t, b)
	if err := d.Close(); err != nil {
		t.Fatalf("Close after release: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := NewBuffer[uint32](d, BufferDesc{Label: "late", Count: 1}); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("NewBuffer after Close error = %v, want ErrDeviceClosed", err)
	}
}
