package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/netops/pkg/config"
	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/operations"
)

func newUpdateCommand(version string) *cobra.Command {
	var (
		targets  []string
		all      bool
		image    string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Install a software image and wait for the device to come back",
		Long: `Run "install all nxos <image> non-interruptive" on each device, follow the
install progress, wait for the device to become unreachable and reachable
again, then let it settle.

Every delay and attempt count comes from the update section of the
configuration.`,
		Example: `  # Update one device from bootflash
  netops update --target leaf-1 --image bootflash:nxos.9.3.10.bin

  # Update two devices one after the other
  netops update -t leaf-1 -t leaf-2 --image bootflash:nxos.9.3.10.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if strings.TrimSpace(image) == "" {
				return fmt.Errorf("--image is required")
			}

			cfg, err := loadConfig(ctx, version)
			if err != nil {
				return err
			}
			devices, err := selectDevices(cfg, targets, all)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			opts, err := cfg.UpdateOptions()
			if err != nil {
				return err
			}
			ctrl, err := operations.NewUpdateController(a.deps(), opts)
			if err != nil {
				return err
			}

			log.Info().
				Int("devices", len(devices)).
				Str("image", image).
				Msg("Starting updates")

			ops, runErr := runAll(ctx, devices, parallel, func(ctx context.Context, d config.DeviceConfig) (*engine.Operation, error) {
				return ctrl.Run(ctx, operations.UpdateRequest{TargetID: d.ID, Image: image})
			})

			if err := printOperations(cmd.OutOrStdout(), ops); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "device id to update (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "update every configured device")
	cmd.Flags().StringVarP(&image, "image", "i", "", "image location, e.g. bootflash:nxos.9.3.10.bin")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "maximum concurrent operations")

	return cmd
}
