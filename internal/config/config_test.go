package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// isolate points HOME at an empty directory and runs the test from
// another one so that no real config file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("backend", "auto", "")
	fs.Duration("timeout", 10*time.Second, "")
	fs.String("log-level", "info", "")
	fs.Int("width", 256, "")
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg.Device.Backend != want.Device.Backend || cfg.Run.Timeout != want.Run.Timeout ||
		cfg.Workload.MultiplyCount != 65536 || cfg.Logging.Level != "info" {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
	if cfg.ClearColor() != [4]float64{0, 0, 1, 1} {
		t.Errorf("ClearColor() = %v", cfg.ClearColor())
	}
}

func TestLoadLayers(t *testing.T) {
	const file = `
device:
  backend: software
  max_memory_mb: 64
run:
  timeout: 3s
workload:
  width: 32
logging:
  level: debug
`
	tests := []struct {
		name        string
		env         map[string]string
		args        []string
		wantBackend string
		wantTimeout time.Duration
		wantWidth   int
	}{
		{"file only", nil, nil, "software", 3 * time.Second, 32},
		{"env over file", map[string]string{"GPUFLOW_DEVICE_BACKEND": "noop", "GPUFLOW_RUN_TIMEOUT": "5s"}, nil, "noop", 5 * time.Second, 32},
		{"flag over env", map[string]string{"GPUFLOW_DEVICE_BACKEND": "noop"}, []string{"--backend=vulkan", "--width=48"}, "vulkan", 3 * time.Second, 48},
		{"unset flag keeps file", nil, []string{"--log-level=warn"}, "software", 3 * time.Second, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "custom.yaml")
			writeFile(t, path, file)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(path, testFlags(t, tt.args...))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Device.Backend != tt.wantBackend {
				t.Errorf("backend = %q, want %q", cfg.Device.Backend, tt.wantBackend)
			}
			if cfg.Run.Timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", cfg.Run.Timeout, tt.wantTimeout)
			}
			if cfg.Workload.Width != tt.wantWidth {
				t.Errorf("width = %d, want %d", cfg.Workload.Width, tt.wantWidth)
			}
			if cfg.Device.MaxMemoryMB != 64 {
				t.Errorf("max_memory_mb = %d, want 64", cfg.Device.MaxMemoryMB)
			}
		})
	}
}

func TestLoadSearchPaths(t *testing.T) {
	t.Run("working directory", func(t *testing.T) {
		dir := isolate(t)
		writeFile(t, filepath.Join(dir, "gpuflow.yaml"), "device:\n  backend: noop\n")
		cfg, err := Load("", nil)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Device.Backend != "noop" {
			t.Errorf("backend = %q, want noop", cfg.Device.Backend)
		}
	})

	t.Run("home directory", func(t *testing.T) {
		isolate(t)
		home := t.TempDir()
		t.Setenv("HOME", home)
		writeFile(t, filepath.Join(home, ".gpuflow", "config.yaml"), "logging:\n  level: error\n")
		cfg, err := Load("", nil)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Logging.Level != "error" {
			t.Errorf("level = %q, want error", cfg.Logging.Level)
		}
	})
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		missing bool
		want    string
	}{
		{"missing explicit file", "", true, "reading config"},
		{"malformed yaml", "device: [backend\n", false, "reading config"},
		{"invalid value", "device:\n  backend: metal\n", false, "device.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "cfg.yaml")
			if !tt.missing {
				writeFile(t, path, tt.body)
			}
			_, err := Load(path, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"backend", func(c *Config) { c.Device.Backend = "dx12" }, "device.backend"},
		{"memory", func(c *Config) { c.Device.MaxMemoryMB = 8 }, "max_memory_mb"},
		{"timeout", func(c *Config) { c.Run.Timeout = -time.Second }, "run.timeout"},
		{"workers", func(c *Config) { c.Run.Workers = -1 }, "run.workers"},
		{"count", func(c *Config) { c.Workload.MultiplyCount = 0 }, "multiply_count"},
		{"width", func(c *Config) { c.Workload.Width = 0 }, "workload.width"},
		{"height", func(c *Config) { c.Workload.Height = 10000 }, "workload.width"},
		{"color length", func(c *Config) { c.Workload.ClearColor = []float64{1, 0} }, "4 components"},
		{"color range", func(c *Config) { c.Workload.ClearColor = []float64{0, 0, 2, 1} }, "between 0.0 and 1.0"},
		{"level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GPUFLOW_TEST_DIR", "/data")

	tests := []struct{ in, want string }{
		{"~/out", filepath.Join(home, "out")},
		{"$GPUFLOW_TEST_DIR/img", "/data/img"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
