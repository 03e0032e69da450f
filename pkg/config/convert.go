package config

import (
	"fmt"
	"time"

	"github.com/openfroyo/netops/pkg/engine"
	"github.com/openfroyo/netops/pkg/operations"
	"github.com/openfroyo/netops/pkg/transports/ssh"
)

// BackupOptions converts the backup section. The artifact probe is left unset.
func (c *Config) BackupOptions() (operations.BackupOptions, error) {
	opts := operations.DefaultBackupOptions(c.Backup.Server)
	opts.BaseFolder = c.Backup.BaseFolder
	opts.VRF = c.Backup.VRF

	var err error
	if opts.PollInterval, err = parseDuration("backup.poll_interval", c.Backup.PollInterval); err != nil {
		return opts, err
	}
	if opts.Timeout, err = parseDuration("backup.timeout", c.Backup.Timeout); err != nil {
		return opts, err
	}
	if opts.Timeout <= 0 {
		return opts, engine.NewConfigurationError("backup.timeout must be positive", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if opts.IssuePolicy, err = operations.ParseIssuePolicy(c.Backup.IssuePolicy); err != nil {
		return opts, err
	}
	return opts, nil
}

// UpdateOptions converts the update section.
func (c *Config) UpdateOptions() (operations.UpdateOptions, error) {
	opts := operations.DefaultUpdateOptions()
	u := c.Update
	opts.ResponseTableID = u.ResponseTable
	opts.ProgressTableID = u.OutputTable
	opts.InstallAttempts = u.InstallAttempts
	opts.ReachableAttempts = u.ReachableAttempts

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"update.progress_query_delay", u.ProgressQueryDelay, &opts.ProgressQueryDelay},
		{"update.progress_read_delay", u.ProgressReadDelay, &opts.ProgressReadDelay},
		{"update.reachable_interval", u.ReachableInterval, &opts.ReachableInterval},
		{"update.settle_delay", u.SettleDelay, &opts.SettleDelay},
	}
	for _, d := range durations {
		v, err := parseDuration(d.field, d.value)
		if err != nil {
			return opts, err
		}
		*d.dst = v
	}

	var err error
	if opts.IssuePolicy, err = operations.ParseIssuePolicy(u.IssuePolicy); err != nil {
		return opts, err
	}
	return opts, nil
}

// TableIDs returns the device command tables named by the update section.
func (c *Config) TableIDs() ssh.TableIDs {
	return ssh.TableIDs{Responses: c.Update.ResponseTable, Output: c.Update.OutputTable}
}

// Targets converts the devices section into SSH targets.
func (c *Config) Targets() ([]ssh.Target, error) {
	targets := make([]ssh.Target, 0, len(c.Devices))
	for _, d := range c.Devices {
		sc, err := d.sshConfig()
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("device %s", d.ID), err).
				WithCode(engine.ErrCodeValidation).
				WithTarget(d.ID)
		}

		name := d.Name
		if name == "" {
			name = d.ID
		}
		targets = append(targets, ssh.Target{ID: d.ID, Name: name, Config: sc})
	}
	return targets, nil
}

// Device returns the device with the given id.
func (c *Config) Device(id string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

func (d DeviceConfig) sshConfig() (*ssh.Config, error) {
	sc := ssh.DefaultConfig(d.Host, d.User)
	if d.Port != 0 {
		sc.Port = d.Port
	}
	sc.AuthMethod = ssh.AuthMethod(d.Auth)
	sc.Password = d.Password
	sc.PrivateKeyPath = d.PrivateKey
	sc.PrivateKeyPassphrase = d.PrivateKeyPassphrase
	if d.KnownHosts != "" {
		sc.KnownHostsPath = d.KnownHosts
	}
	sc.StrictHostKeyChecking = !d.InsecureIgnoreHostKey
	if d.HealthCheckCommand != "" {
		sc.HealthCheckCommand = d.HealthCheckCommand
	}

	var err error
	if sc.ConnectionTimeout, err = optionalDuration("connect_timeout", d.ConnectTimeout, sc.ConnectionTimeout); err != nil {
		return nil, err
	}
	if sc.CommandTimeout, err = optionalDuration("command_timeout", d.CommandTimeout, sc.CommandTimeout); err != nil {
		return nil, err
	}
	if sc.ReachabilityTimeout, err = optionalDuration("reachability_timeout", d.ReachabilityTimeout, sc.ReachabilityTimeout); err != nil {
		return nil, err
	}

	if p := d.Proxy; p != nil {
		sc.ProxyHost = p.Host
		if p.Port != 0 {
			sc.ProxyPort = p.Port
		}
		sc.ProxyUser = p.User
		sc.ProxyAuthMethod = ssh.AuthMethod(p.Auth)
		sc.ProxyPassword = p.Password
		sc.ProxyPrivateKeyPath = p.PrivateKey
	}

	// Key files and agent sockets are checked when connecting, not here.
	if sc.Host == "" || sc.User == "" {
		return nil, fmt.Errorf("host and user are required")
	}
	return sc, nil
}

// ProbeConfig returns the SSH configuration of the file server and the TFTP
// root to stat backups under. ok is false when the probe is disabled.
func (c *Config) ProbeConfig() (sc *ssh.Config, root string, ok bool) {
	p := c.Backup.Probe
	if !p.Enabled {
		return nil, "", false
	}

	sc = ssh.DefaultConfig(p.Host, p.User)
	if p.Port != 0 {
		sc.Port = p.Port
	}
	if p.Auth != "" {
		sc.AuthMethod = ssh.AuthMethod(p.Auth)
	}
	sc.Password = p.Password
	sc.PrivateKeyPath = p.PrivateKey
	if p.KnownHosts != "" {
		sc.KnownHostsPath = p.KnownHosts
	}
	sc.StrictHostKeyChecking = !p.InsecureIgnoreHostKey
	return sc, p.Root, true
}

// RetentionPeriod parses archive.retention. Zero means keep everything.
func (c *Config) RetentionPeriod() (time.Duration, error) {
	return optionalDuration("archive.retention", c.Archive.Retention, 0)
}
