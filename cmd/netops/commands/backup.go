package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/netops/pkg/config"
	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/operations"
)

func newBackupCommand(version string) *cobra.Command {
	var (
		targets  []string
		all      bool
		kind     string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up device configurations to the TFTP server",
		Long: `Copy the running or startup configuration of each device to the configured
TFTP server and wait until the copy is confirmed.

Files land under {base_folder}{device}/{device}-{timestamp}-{kind}.cfg. With
backup.probe enabled the file is also confirmed on the file server over SFTP.`,
		Example: `  # Back up the running configuration of one device
  netops backup --target leaf-1

  # Back up the startup configuration of every device, four at a time
  netops backup --all --kind startup --parallel 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			configKind, err := operations.ParseConfigurationKind(kind)
			if err != nil {
				return err
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

			opts, err := cfg.BackupOptions()
			if err != nil {
				return err
			}
			if a.probe != nil {
				opts.Probe = a.probe
			}

			ctrl, err := operations.NewBackupController(a.deps(), opts)
			if err != nil {
				return err
			}

			log.Info().
				Int("devices", len(devices)).
				Str("kind", string(configKind)).
				Msg("Starting backups")

			ops, runErr := runAll(ctx, devices, parallel, func(ctx context.Context, d config.DeviceConfig) (*engine.Operation, error) {
				name := d.Name
				if name == "" {
					name = d.ID
				}
				return ctrl.Run(ctx, operations.BackupRequest{
					TargetID:   d.ID,
					DeviceName: name,
					Kind:       configKind,
				})
			})

			if err := printOperations(cmd.OutOrStdout(), ops); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "device id to back up (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "back up every configured device")
	cmd.Flags().StringVarP(&kind, "kind", "k", string(operations.ConfigurationRunning), "configuration to copy: running or startup")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "maximum concurrent operations")

	return cmd
}
