package config

import (
	"github.com/openfroyo/netops/pkg/telemetry"
)

// Config is the netops configuration file.
type Config struct {
	// Devices lists the managed network elements.
	Devices []DeviceConfig `yaml:"devices" json:"devices" validate:"required,min=1,unique=ID,dive"`

	Backup  BackupConfig  `yaml:"backup" json:"backup"`
	Update  UpdateConfig  `yaml:"update" json:"update"`
	Notify  NotifyConfig  `yaml:"notify" json:"notify"`
	Archive ArchiveConfig `yaml:"archive" json:"archive"`
	Policy  PolicyConfig  `yaml:"policy" json:"policy"`

	// Telemetry is checked by telemetry.Config.Validate.
	Telemetry telemetry.Config `yaml:"telemetry" json:"-" validate:"-"`
}

// DeviceConfig describes how to reach one device over SSH.
type DeviceConfig struct {
	// ID is the identifier operations refer to the device by.
	ID string `yaml:"id" json:"id" validate:"required"`

	// Name is used in backup folder and file names. Defaults to ID.
	Name string `yaml:"name" json:"name"`

	Host string `yaml:"host" json:"host" validate:"required,hostname_rfc1123|ip"`
	Port int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	User string `yaml:"user" json:"user" validate:"required"`

	// Auth is one of password, key or agent.
	Auth                 string `yaml:"auth" json:"auth" validate:"required,oneof=password key agent"`
	Password             string `yaml:"password" json:"password" validate:"required_if=Auth password"`
	PrivateKey           string `yaml:"private_key" json:"private_key" validate:"required_if=Auth key"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase" json:"private_key_passphrase"`

	KnownHosts            string `yaml:"known_hosts" json:"known_hosts"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key" json:"insecure_ignore_host_key"`

	// HealthCheckCommand decides reachability. NX-OS accepts "show clock".
	HealthCheckCommand  string `yaml:"health_check_command" json:"health_check_command"`
	ConnectTimeout      string `yaml:"connect_timeout" json:"connect_timeout"`
	CommandTimeout      string `yaml:"command_timeout" json:"command_timeout"`
	ReachabilityTimeout string `yaml:"reachability_timeout" json:"reachability_timeout"`

	// Proxy is an optional jump host.
	Proxy *ProxyConfig `yaml:"proxy" json:"proxy,omitempty" validate:"omitempty"`
}

// ProxyConfig is an SSH jump host.
type ProxyConfig struct {
	Host       string `yaml:"host" json:"host" validate:"required,hostname_rfc1123|ip"`
	Port       int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	User       string `yaml:"user" json:"user" validate:"required"`
	Auth       string `yaml:"auth" json:"auth" validate:"required,oneof=password key agent"`
	Password   string `yaml:"password" json:"password" validate:"required_if=Auth password"`
	PrivateKey string `yaml:"private_key" json:"private_key" validate:"required_if=Auth key"`
}

// BackupConfig configures configuration backups.
type BackupConfig struct {
	// Server is the TFTP server the device copies to.
	Server     string `yaml:"server" json:"server" validate:"required,hostname_rfc1123|ip"`
	BaseFolder string `yaml:"base_folder" json:"base_folder"`
	VRF        string `yaml:"vrf" json:"vrf"`

	PollInterval string `yaml:"poll_interval" json:"poll_interval" validate:"required"`
	Timeout      string `yaml:"timeout" json:"timeout" validate:"required"`

	IssuePolicy string `yaml:"issue_policy" json:"issue_policy" validate:"oneof=log-and-continue fatal"`

	Probe ProbeConfig `yaml:"probe" json:"probe"`
}

// ProbeConfig points at the TFTP root over SFTP so backups can be confirmed.
type ProbeConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	Host       string `yaml:"host" json:"host" validate:"required_if=Enabled true"`
	Port       int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	User       string `yaml:"user" json:"user" validate:"required_if=Enabled true"`
	Auth       string `yaml:"auth" json:"auth" validate:"omitempty,oneof=password key agent"`
	Password   string `yaml:"password" json:"password"`
	PrivateKey string `yaml:"private_key" json:"private_key"`
	KnownHosts string `yaml:"known_hosts" json:"known_hosts"`

	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key" json:"insecure_ignore_host_key"`

	// Root is the TFTP root directory on the file server.
	Root string `yaml:"root" json:"root" validate:"required_if=Enabled true"`
}

// UpdateConfig configures software updates.
type UpdateConfig struct {
	ResponseTable string `yaml:"response_table" json:"response_table" validate:"required"`
	OutputTable   string `yaml:"output_table" json:"output_table" validate:"required"`

	InstallAttempts    int    `yaml:"install_attempts" json:"install_attempts" validate:"min=1"`
	ProgressQueryDelay string `yaml:"progress_query_delay" json:"progress_query_delay" validate:"required"`
	ProgressReadDelay  string `yaml:"progress_read_delay" json:"progress_read_delay" validate:"required"`

	ReachableAttempts int    `yaml:"reachable_attempts" json:"reachable_attempts" validate:"min=1"`
	ReachableInterval string `yaml:"reachable_interval" json:"reachable_interval" validate:"required"`
	SettleDelay       string `yaml:"settle_delay" json:"settle_delay" validate:"required"`

	IssuePolicy string `yaml:"issue_policy" json:"issue_policy" validate:"oneof=log-and-continue fatal"`
}

// NotifyConfig configures where lifecycle notifications go.
type NotifyConfig struct {
	// Output is stdout, stderr or a file path that lines are appended to.
	Output string `yaml:"output" json:"output" validate:"required"`

	// ExtraOutputs receive every event as well, e.g. a file next to stdout.
	ExtraOutputs []string `yaml:"extra_outputs" json:"extra_outputs" validate:"dive,required"`
}

// Outputs returns Output followed by ExtraOutputs, without duplicates.
func (n NotifyConfig) Outputs() []string {
	outputs := make([]string, 0, 1+len(n.ExtraOutputs))
	seen := make(map[string]bool, cap(outputs))
	for _, o := range append([]string{n.Output}, n.ExtraOutputs...) {
		if seen[o] {
			continue
		}
		seen[o] = true
		outputs = append(outputs, o)
	}
	return outputs
}

// ArchiveConfig configures the SQLite operation archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"required_if=Enabled true"`

	// Retention prunes archived operations older than this. Empty keeps everything.
	Retention string `yaml:"retention" json:"retention"`
}

// PolicyConfig configures the rego admission policy.
type PolicyConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir" validate:"required_if=Enabled true"`

	// Watch reloads the policies when files in Dir change.
	Watch bool `yaml:"watch" json:"watch"`
}
