package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/netops/pkg/config"
	"github.com/openfroyo/netops/pkg/notify"
	"github.com/openfroyo/netops/pkg/operations"
	"github.com/openfroyo/netops/pkg/policy"
	"github.com/openfroyo/netops/pkg/stores"
	"github.com/openfroyo/netops/pkg/telemetry"
	"github.com/openfroyo/netops/pkg/transports/ssh"
)

const defaultConfigPath = "netops.yaml"

// resolveConfigPath applies --config, then $NETOPS_CONFIG, then the default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("NETOPS_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig(ctx context.Context, version string) (*config.Config, error) {
	cfg, err := config.NewLoader().Load(ctx, resolveConfigPath())
	if err != nil {
		return nil, err
	}

	cfg.Telemetry.ServiceVersion = version
	if logLevel != "" {
		cfg.Telemetry.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Telemetry.Metrics.Enabled = true
		cfg.Telemetry.Metrics.ListenAddress = metricsAddr
	}
	return cfg, nil
}

// app holds everything a command needs to run operations.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	logger   *zerolog.Logger
	device   *ssh.Device
	probe    *ssh.SFTPProbe
	store    *stores.SQLiteStore
	policy   *policy.Engine
	notifier notify.Multi
}

// newApp wires telemetry, the device layer, the archive, policies and the
// notifier from cfg. The caller must call close.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
		}
	}()

	if a.tel, err = telemetry.NewTelemetry(&cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.logger = a.tel.Logger.Zerolog()
	a.tel.Metrics.Serve(ctx, *a.logger)

	targets, err := cfg.Targets()
	if err != nil {
		return nil, err
	}
	if a.device, err = ssh.NewDevice(targets, cfg.TableIDs()); err != nil {
		return nil, fmt.Errorf("failed to create device layer: %w", err)
	}

	if sc, root, ok := cfg.ProbeConfig(); ok {
		if a.probe, err = ssh.NewSFTPProbe(sc, root); err != nil {
			return nil, fmt.Errorf("failed to create artifact probe: %w", err)
		}
	}

	if cfg.Archive.Enabled {
		if a.store, err = openStore(ctx, cfg); err != nil {
			return nil, err
		}
		a.prune(ctx)
	}

	if cfg.Policy.Enabled {
		if a.policy, err = a.newPolicyEngine(ctx); err != nil {
			return nil, err
		}
	}

	if a.notifier, err = notify.OpenAll(cfg.Notify.Outputs()); err != nil {
		return nil, err
	}

	return a, nil
}

// openStore opens and migrates the operation archive.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Archive.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	return store, nil
}

// prune drops archived operations older than the retention period.
func (a *app) prune(ctx context.Context) {
	retention, err := a.cfg.RetentionPeriod()
	if err != nil || retention == 0 {
		return
	}
	n, err := a.store.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to prune archive")
		return
	}
	if n > 0 {
		a.logger.Info().Int64("pruned", n).Dur("retention", retention).Msg("Pruned archived operations")
	}
}

func (a *app) newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(*a.logger)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(a.cfg.Devices))
	for _, d := range a.cfg.Devices {
		ids = append(ids, d.ID)
	}
	if err := eng.SetDevices(ctx, ids); err != nil {
		return nil, err
	}

	dirs := []string{a.cfg.Policy.Dir}
	if err := eng.LoadPolicies(ctx, dirs); err != nil {
		return nil, err
	}
	if a.cfg.Policy.Watch {
		if _, err := eng.Watch(ctx, dirs); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// deps assembles controller dependencies. Optional collaborators are only
// set when present so that no typed nil reaches an interface.
func (a *app) deps() operations.Deps {
	deps := operations.Deps{
		Device:   a.device,
		Notifier: a.notifier,
		Observer: a.tel.Observer(),
		Logger:   a.logger,
	}
	if a.store != nil {
		deps.Archiver = a.store
	}
	if a.policy != nil {
		deps.Admitter = a.policy
	}
	return deps
}

// close releases every resource, flushing traces last.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.device != nil {
		errs = append(errs, a.device.Close())
	}
	if a.probe != nil {
		errs = append(errs, a.probe.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	if a.tel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errs = append(errs, a.tel.Shutdown(shutdownCtx))
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn().Err(err).Msg("Failed to release resources")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
