package commands

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/stores"
)

func newHistoryCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived operations",
		Long: `List and show operations recorded in the SQLite archive.

The archive is written when archive.enabled is set in the configuration.`,
	}

	cmd.AddCommand(newHistoryListCommand(version))
	cmd.AddCommand(newHistoryShowCommand(version))
	cmd.AddCommand(newHistoryPruneCommand(version))

	return cmd
}

// withStore opens the archive named by the configuration for fn.
func withStore(ctx context.Context, version string, fn func(*stores.SQLiteStore) error) error {
	cfg, err := loadConfig(ctx, version)
	if err != nil {
		return err
	}
	if !cfg.Archive.Enabled {
		return fmt.Errorf("archive is disabled in the configuration")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store)
}

func newHistoryListCommand(version string) *cobra.Command {
	var (
		target string
		kind   string
		status string
		since  time.Duration
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived operations, newest first",
		Example: `  # Last 20 operations on leaf-1
  netops history list --target leaf-1 --limit 20

  # Failed updates of the last day
  netops history list --kind update --status failed --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filter := stores.ListFilter{
				TargetID: target,
				Kind:     engine.OperationKind(kind),
				Status:   engine.OperationStatus(status),
				Limit:    limit,
				Offset:   offset,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			return withStore(ctx, version, func(store *stores.SQLiteStore) error {
				records, err := store.ListOperations(ctx, filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), records)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "OPERATION\tKIND\tTARGET\tSTATUS\tSTARTED\tDURATION\tREASON")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						r.ID, r.Kind, r.TargetID, r.Status,
						r.StartedAt.Local().Format(time.DateTime),
						r.Duration().Round(time.Millisecond),
						deref(r.Reason))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "only operations on this device")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "only backup or update operations")
	cmd.Flags().StringVarP(&status, "status", "s", "", "only operations with this status")
	cmd.Flags().DurationVar(&since, "since", 0, "only operations started within this period")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of operations")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many operations")

	return cmd
}

func newHistoryShowCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <operation-id>",
		Short: "Show an archived operation with its phase log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			return withStore(ctx, version, func(store *stores.SQLiteStore) error {
				rec, err := store.GetOperation(ctx, args[0])
				if errors.Is(err, stores.ErrNotFound) {
					return engine.NewConfigurationError(fmt.Sprintf("operation %s is not archived", args[0]), err).
						WithCode(engine.ErrCodeNotFound)
				}
				if err != nil {
					return err
				}
				phases, err := store.ListPhases(ctx, rec.ID)
				if err != nil {
					return err
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), struct {
						*stores.OperationRecord
						Phases []*stores.PhaseRecord `json:"phases"`
					}{rec, phases})
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Operation:  %s\n", rec.ID)
				fmt.Fprintf(w, "Kind:       %s\n", rec.Kind)
				fmt.Fprintf(w, "Target:     %s\n", rec.TargetID)
				fmt.Fprintf(w, "Command:    %s\n", rec.Command)
				fmt.Fprintf(w, "Status:     %s\n", rec.Status)
				if rec.Reason != nil {
					fmt.Fprintf(w, "Reason:     %s\n", *rec.Reason)
				}
				if rec.ErrorClass != nil {
					fmt.Fprintf(w, "Error:      %s %s\n", *rec.ErrorClass, deref(rec.ErrorCode))
				}
				if rec.Artifact != nil {
					fmt.Fprintf(w, "Artifact:   %s\n", *rec.Artifact)
				}
				fmt.Fprintf(w, "Started:    %s\n", rec.StartedAt.Local().Format(time.RFC3339))
				fmt.Fprintf(w, "Duration:   %s\n\n", rec.Duration().Round(time.Millisecond))

				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "#\tPHASE\tSTATUS\tATTEMPTS\tBUDGET\tELAPSED\tREASON")
				for _, p := range phases {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
						p.Seq, p.Name, p.Status,
						len(p.Attempts), p.Budget.MaxAttempts, p.Budget.MaxDuration,
						p.Elapsed.Round(time.Millisecond), deref(p.Reason))
				}
				return tw.Flush()
			})
		},
	}
}

func newHistoryPruneCommand(version string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete archived operations older than a period",
		Example: `  netops history prune --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			return withStore(ctx, version, func(store *stores.SQLiteStore) error {
				n, err := store.Prune(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d operations\n", n)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age of the oldest operation to keep")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
