package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/netops/pkg/policy"
)

func newValidateCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and policies",
		Long: `Validate the configuration file without contacting any device.

This command checks:
  - YAML syntax and unknown keys
  - Field constraints and the embedded CUE schema
  - Durations, issue policies and SSH settings
  - That every Rego policy in policy.dir compiles, when policies are enabled`,
		Example: `  netops validate --config /etc/netops/netops.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx, version)
			if err != nil {
				return err
			}

			policies := 0
			if cfg.Policy.Enabled {
				eng, err := policy.NewEngine(zerolog.Nop())
				if err != nil {
					return err
				}
				if err := eng.LoadPolicies(ctx, []string{cfg.Policy.Dir}); err != nil {
					return err
				}
				policies = len(eng.ListPolicies())
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"config":   resolveConfigPath(),
					"valid":    true,
					"devices":  len(cfg.Devices),
					"policies": policies,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s is valid\n", resolveConfigPath())
			fmt.Fprintf(w, "  devices:  %d\n", len(cfg.Devices))
			fmt.Fprintf(w, "  archive:  %v\n", cfg.Archive.Enabled)
			fmt.Fprintf(w, "  probe:    %v\n", cfg.Backup.Probe.Enabled)
			if cfg.Policy.Enabled {
				fmt.Fprintf(w, "  policies: %d\n", policies)
			}
			return nil
		},
	}

	return cmd
}
