package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/operations"
	"github.com/openfroyo/netops/pkg/telemetry"
)

// DefaultConfig returns a configuration with every default applied. It has
// no devices and no backup server, so it does not validate on its own.
func DefaultConfig() *Config {
	backup := operations.DefaultBackupOptions("")
	update := operations.DefaultUpdateOptions()

	return &Config{
		Backup: BackupConfig{
			BaseFolder:   backup.BaseFolder,
			VRF:          backup.VRF,
			PollInterval: backup.PollInterval.String(),
			Timeout:      backup.Timeout.String(),
			IssuePolicy:  backup.IssuePolicy.String(),
			Probe: ProbeConfig{
				Port: 22,
				Auth: "key",
			},
		},
		Update: UpdateConfig{
			ResponseTable:      update.ResponseTableID,
			OutputTable:        update.ProgressTableID,
			InstallAttempts:    update.InstallAttempts,
			ProgressQueryDelay: update.ProgressQueryDelay.String(),
			ProgressReadDelay:  update.ProgressReadDelay.String(),
			ReachableAttempts:  update.ReachableAttempts,
			ReachableInterval:  update.ReachableInterval.String(),
			SettleDelay:        update.SettleDelay.String(),
			IssuePolicy:        update.IssuePolicy.String(),
		},
		Notify: NotifyConfig{
			Output: "stdout",
		},
		Archive: ArchiveConfig{
			Path: "netops.db",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Loader reads and validates configuration files.
type Loader struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{
		schemas:  NewSchemaRegistry(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Load reads path and returns the validated configuration.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read configuration", err).
			WithCode(engine.ErrCodeValidation).
			WithDetail("path", path)
	}
	return l.Parse(ctx, data)
}

// Parse decodes YAML over DefaultConfig and validates the result.
func (l *Loader) Parse(ctx context.Context, data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, engine.NewConfigurationError("failed to parse configuration", err).
			WithCode(engine.ErrCodeValidation)
	}

	if err := l.Validate(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags, then the CUE schema, then every value that is
// only meaningful once parsed (durations, policies, ssh settings).
func (l *Loader) Validate(ctx context.Context, cfg *Config) error {
	invalid := func(msg string, err error) error {
		return engine.NewConfigurationError(msg, err).WithCode(engine.ErrCodeValidation)
	}

	if err := l.validate.Struct(cfg); err != nil {
		return invalid("invalid configuration", describeValidation(err))
	}

	if err := l.schemas.ValidateAgainstSchema(ctx, "#Config", cfg); err != nil {
		return invalid("configuration does not match schema", err)
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		return invalid("invalid telemetry configuration", err)
	}

	if _, err := cfg.BackupOptions(); err != nil {
		return err
	}
	if _, err := cfg.UpdateOptions(); err != nil {
		return err
	}
	if _, err := cfg.Targets(); err != nil {
		return err
	}
	if _, err := cfg.RetentionPeriod(); err != nil {
		return err
	}

	return nil
}

// describeValidation flattens validator errors into one readable error.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, engine.NewConfigurationError(fmt.Sprintf("invalid duration for %s", field), err).
			WithCode(engine.ErrCodeValidation).
			WithDetail("value", value)
	}
	if d < 0 {
		return 0, engine.NewConfigurationError(fmt.Sprintf("%s must not be negative", field), nil).
			WithCode(engine.ErrCodeValidation)
	}
	return d, nil
}

// optionalDuration parses value, returning fallback when it is empty.
func optionalDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return parseDuration(field, value)
}
