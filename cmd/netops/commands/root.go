package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	logLevel    string
	metricsAddr string
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "netops",
		Short: "netops - confirmed configuration backups and software updates for NX-OS",
		Long: `netops drives Cisco NX-OS devices over SSH and confirms every operation
by polling until the expected state is observed or a budget runs out.

Features:
  - Configuration backups to a TFTP server, optionally confirmed over SFTP
  - Software updates with install progress and reachability tracking
  - Rego admission policies checked before any command is sent
  - SQLite archive of every operation and its phase log
  - Prometheus metrics and OpenTelemetry traces`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $NETOPS_CONFIG or netops.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override telemetry.logging.level")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newBackupCommand(version))
	rootCmd.AddCommand(newUpdateCommand(version))
	rootCmd.AddCommand(newHistoryCommand(version))
	rootCmd.AddCommand(newValidateCommand(version))
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version":    version,
					"commit":     commit,
					"build_date": buildDate,
				})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "netops %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return err
		},
	}
}
