package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/backend"
	"github.com/gogpu/gpuflow/internal/config"
	"github.com/gogpu/gpuflow/internal/parallel"
	"github.com/gogpu/gpuflow/internal/workload"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "gpuflow",
		Short: "Run compute and graphics workloads on a GPU",
		Long: `gpuflow selects a GPU device, builds pipelines from WGSL kernels,
records and submits one command buffer per workload and reads the result
back on the host.

Settings come from defaults, a YAML config file, GPUFLOW_* environment
variables and flags, each overriding the one before.`,
		Version:       gpuflow.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./gpuflow.yaml or $HOME/.gpuflow/config.yaml)")
	pf.String("backend", backend.Auto, "HAL backend, auto picks a hardware GPU: "+strings.Join(backend.Names(), ", "))
	pf.String("adapter", "", "only use adapters whose name contains this text")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Duration("timeout", 10*time.Second, "how long to wait for the GPU, 0 waits forever")
	pf.StringP("output", "o", ".", "directory images are written to")

	root.AddCommand(
		newDevicesCmd(&cfgFile),
		newMultiplyCmd(&cfgFile),
		newFractalCmd(&cfgFile),
		newClearCmd(&cfgFile),
		newTriangleCmd(&cfgFile),
	)
	return root
}

// session is the per-command state of a workload run.
type session struct {
	cfg    *config.Config
	dev    *gpuflow.Device
	pool   *parallel.WorkerPool
	runner *workload.Runner
	out    *message.Printer
	w      io.Writer
}

func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cmd.ErrOrStderr(), cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openSession loads the configuration and opens a device on the
// configured backend.
func openSession(cmd *cobra.Command, cfgFile string) (*session, error) {
	cfg, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return nil, err
	}
	b, err := backend.Resolve(cfg.Device.Backend)
	if err != nil {
		return nil, err
	}
	dev, err := gpuflow.Open(b, gpuflow.DeviceOptions{
		AdapterName: cfg.Device.Adapter,
		Memory:      gpuflow.MemoryAllocatorConfig{MaxMemoryMB: cfg.Device.MaxMemoryMB},
	})
	if err != nil {
		return nil, err
	}
	pool := parallel.NewWorkerPool(cfg.Run.Workers)
	return &session{
		cfg:    cfg,
		dev:    dev,
		pool:   pool,
		runner: workload.New(dev, pool, cfg.Run.Timeout),
		out:    newPrinter(),
		w:      cmd.OutOrStdout(),
	}, nil
}

// close shuts the pool down and closes the device, reporting leaks.
func (s *session) close(errp *error) {
	s.pool.Close()
	if err := s.dev.Close(); err != nil && *errp == nil {
		*errp = err
	}
}

func (s *session) printf(format string, args ...any) {
	s.out.Fprintf(s.w, format, args...)
}

func setupLogging(w io.Writer, cfg config.LoggingConfig) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	gpuflow.SetLogger(slog.New(h))
	return nil
}

// newPrinter formats numbers for the locale in $LC_ALL or $LANG,
// falling back to English.
func newPrinter() *message.Printer {
	tag := language.English
	for _, env := range []string{"LC_ALL", "LANG"} {
		v, _, _ := strings.Cut(os.Getenv(env), ".")
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if t, err := language.Parse(strings.ReplaceAll(v, "_", "-")); err == nil {
			tag = t
			break
		}
	}
	return message.NewPrinter(tag)
}
