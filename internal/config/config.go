// Package config loads gpuflow settings from defaults, an optional YAML
// file, GPUFLOW_ environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable Load reads.
// GPUFLOW_DEVICE_BACKEND sets device.backend.
const EnvPrefix = "GPUFLOW"

// Config is the full gpuflow configuration.
type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Run      RunConfig      `mapstructure:"run"`
	Workload WorkloadConfig `mapstructure:"workload"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DeviceConfig selects the backend and adapter and sizes the allocator.
type DeviceConfig struct {
	Backend     string `mapstructure:"backend"`
	Adapter     string `mapstructure:"adapter"`
	MaxMemoryMB int    `mapstructure:"max_memory_mb"`
}

// RunConfig bounds a single dispatch-and-readback cycle.
type RunConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	OutputDir string        `mapstructure:"output_dir"`
	Workers   int           `mapstructure:"workers"`
}

// WorkloadConfig holds the sizes of the built-in workloads.
type WorkloadConfig struct {
	MultiplyCount int       `mapstructure:"multiply_count"`
	Width         int       `mapstructure:"width"`
	Height        int       `mapstructure:"height"`
	ClearColor    []float64 `mapstructure:"clear_color"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var (
	validBackends = []string{"auto", "vulkan", "software", "noop"}
	validLevels   = []string{"debug", "info", "warn", "error"}
	validFormats  = []string{"text", "json"}
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"backend":   "device.backend",
	"adapter":   "device.adapter",
	"timeout":   "run.timeout",
	"output":    "run.output_dir",
	"log-level": "logging.level",
	"count":     "workload.multiply_count",
	"width":     "workload.width",
	"height":    "workload.height",
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Backend:     "auto",
			MaxMemoryMB: 256,
		},
		Run: RunConfig{
			Timeout:   10 * time.Second,
			OutputDir: ".",
		},
		Workload: WorkloadConfig{
			MultiplyCount: 65536,
			Width:         256,
			Height:        256,
			ClearColor:    []float64{0, 0, 1, 1},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load layers configuration from defaults, the config file, environment
// and flags. An empty cfgFile searches ./gpuflow.yaml and then
// $HOME/.gpuflow/config.yaml; finding neither is not an error. flags may
// be nil; only flags the user actually set override lower layers.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if path := findConfig(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Run.OutputDir = expandPath(cfg.Run.OutputDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// findConfig returns the first existing default config file, or "".
func findConfig() string {
	candidates := []string{"gpuflow.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".gpuflow", "config.yaml"))
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c
		}
	}
	return ""
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !slices.Contains(validBackends, c.Device.Backend) {
		return fmt.Errorf("device.backend must be one of: %v", validBackends)
	}
	if c.Device.MaxMemoryMB < 16 {
		return errors.New("device.max_memory_mb must be at least 16")
	}
	if c.Run.Timeout < 0 {
		return errors.New("run.timeout must not be negative")
	}
	if c.Run.Workers < 0 {
		return errors.New("run.workers must not be negative")
	}
	if c.Workload.MultiplyCount <= 0 {
		return errors.New("workload.multiply_count must be positive")
	}
	if c.Workload.Width <= 0 || c.Workload.Height <= 0 || c.Workload.Width > 8192 || c.Workload.Height > 8192 {
		return errors.New("workload.width and workload.height must be between 1 and 8192")
	}
	if len(c.Workload.ClearColor) != 4 {
		return fmt.Errorf("workload.clear_color must have 4 components, has %d", len(c.Workload.ClearColor))
	}
	for _, ch := range c.Workload.ClearColor {
		if ch < 0 || ch > 1 {
			return errors.New("workload.clear_color components must be between 0.0 and 1.0")
		}
	}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	if !slices.Contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validFormats)
	}
	return nil
}

// ClearColor returns the configured clear color as an array.
func (c *Config) ClearColor() [4]float64 {
	var out [4]float64
	copy(out[:], c.Workload.ClearColor)
	return out
}

// expandPath expands a leading ~/ and environment variables.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("device.backend", cfg.Device.Backend)
	v.SetDefault("device.adapter", cfg.Device.Adapter)
	v.SetDefault("device.max_memory_mb", cfg.Device.MaxMemoryMB)

	v.SetDefault("run.timeout", cfg.Run.Timeout)
	v.SetDefault("run.output_dir", cfg.Run.OutputDir)
	v.SetDefault("run.workers", cfg.Run.Workers)

	v.SetDefault("workload.multiply_count", cfg.Workload.MultiplyCount)
	v.SetDefault("workload.width", cfg.Workload.Width)
	v.SetDefault("workload.height", cfg.Workload.Height)
	v.SetDefault("workload.clear_color", cfg.Workload.ClearColor)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}
