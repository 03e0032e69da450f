package commands

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/netops/pkg/config"
	"github.com/openfroyo/netops/pkg/engine"
)

// selectDevices resolves --target and --all against the configuration.
func selectDevices(cfg *config.Config, ids []string, all bool) ([]config.DeviceConfig, error) {
	if all {
		if len(ids) > 0 {
			return nil, fmt.Errorf("--all and --target are mutually exclusive")
		}
		return cfg.Devices, nil
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one --target or --all is required")
	}

	devices := make([]config.DeviceConfig, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		d, ok := cfg.Device(id)
		if !ok {
			return nil, engine.NewConfigurationError(fmt.Sprintf("unknown device %s", id), nil).
				WithCode(engine.ErrCodeNotFound).
				WithTarget(id)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// runFunc runs one operation against one device.
type runFunc func(ctx context.Context, d config.DeviceConfig) (*engine.Operation, error)

// runAll runs fn for every device, at most parallel at a time, and returns
// the finished operations in device order.
func runAll(ctx context.Context, devices []config.DeviceConfig, parallel int, fn runFunc) ([]*engine.Operation, error) {
	ops := make([]*engine.Operation, len(devices))
	var mu sync.Mutex
	failed := 0

	// One device failing must not cancel the others, so the group carries
	// no context.
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, d := range devices {
		g.Go(func() error {
			op, err := fn(ctx, d)
			mu.Lock()
			defer mu.Unlock()
			ops[i] = op
			if err != nil {
				failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if failed > 0 {
		return ops, fmt.Errorf("%d of %d operations failed", failed, len(devices))
	}
	return ops, nil
}

// printOperations writes a summary of ops.
func printOperations(w io.Writer, ops []*engine.Operation) error {
	if jsonOutput {
		return printJSON(w, ops)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tKIND\tTARGET\tSTATUS\tDURATION\tDETAIL")
	for _, op := range ops {
		if op == nil {
			continue
		}
		detail := op.Reason
		if op.Status == engine.OperationStatusSucceeded && op.Artifact != nil {
			detail = fmt.Sprintf("%v", op.Artifact)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			op.ID, op.Kind, op.TargetID, op.Status, op.Duration().Round(time.Millisecond), detail)
	}
	return tw.Flush()
}
