package main

import (
	"github.com/spf13/cobra"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/backend"
)

func newDevicesCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the adapters each backend exposes",
		Long: `List the adapters each backend exposes with the queue capabilities
gpuflow derives for them. With --backend auto every registered backend
is listed; a backend that cannot be initialized is reported and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}
			names := []string{cfg.Device.Backend}
			if cfg.Device.Backend == backend.Auto {
				names = backend.Available()
			}

			p := newPrinter()
			w := cmd.OutOrStdout()
			for _, name := range names {
				b, err := backend.Get(name)
				if err != nil {
					return err
				}
				adapters, err := gpuflow.Adapters(b)
				if err != nil {
					p.Fprintf(w, "%s: unavailable (%v)\n", name, err)
					continue
				}
				p.Fprintf(w, "%s: %d adapter(s)\n", name, len(adapters))
				for _, a := range adapters {
					p.Fprintf(w, "  [%d] %-24s %-12s queue %s\n", a.Index, a.Info.Name, a.Info.DeviceType, a.Family.Flags)
				}
			}
			return nil
		},
	}
}
